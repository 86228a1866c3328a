package recordbase

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBackupKey_RoundTrip(t *testing.T) {
	at := time.UnixMilli(1700000000123).UTC()

	tests := []struct {
		provider string
	}{
		{"local"},
		{"redis"},
		{"my_remote_store"},
	}
	for _, tt := range tests {
		key := BackupKey(tt.provider, at)
		provider, createdAt, ok := ParseBackupKey(key)
		if !ok {
			t.Fatalf("ParseBackupKey(%q) failed", key)
		}
		if provider != tt.provider || !createdAt.Equal(at) {
			t.Errorf("ParseBackupKey(%q) = %s, %v", key, provider, createdAt)
		}
	}

	if got := BackupKey("local", at); got != "backup_local_1700000000123" {
		t.Errorf("unexpected key format %q", got)
	}

	for _, bad := range []string{"", "local_1", "backup_", "backup_local", "backup__1", "backup_local_x", "backup_local_"} {
		if _, _, ok := ParseBackupKey(bad); ok {
			t.Errorf("ParseBackupKey(%q) should fail", bad)
		}
	}
}

func newTestBackupStore(t *testing.T) (*BackupStore, *FilesystemBackend) {
	t.Helper()
	backend, err := NewFilesystemBackend(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return NewBackupStore(backend), backend
}

func TestBackupStore_SaveLoadList(t *testing.T) {
	ctx := context.Background()
	store, backend := newTestBackupStore(t)

	base := time.UnixMilli(1700000000000).UTC()
	older := NewDataExport("local", []Record{NewRecord("a", "")})
	older.ExportTimestamp = base
	newer := NewDataExport("redis", []Record{NewRecord("b", ""), NewRecord("c", "")})
	newer.ExportTimestamp = base.Add(time.Minute)

	olderKey, err := store.Save(ctx, "local", older)
	if err != nil {
		t.Fatal(err)
	}
	newerKey, err := store.Save(ctx, "redis", newer)
	if err != nil {
		t.Fatal(err)
	}

	// Unrelated objects in the backups directory are ignored.
	if err := backend.Put(ctx, "backups/notes.json", []byte("{}")); err != nil {
		t.Fatal(err)
	}

	infos, err := store.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 2 {
		t.Fatalf("expected 2 backups, got %+v", infos)
	}
	if infos[0].Key != newerKey || infos[1].Key != olderKey {
		t.Errorf("expected newest first, got %s then %s", infos[0].Key, infos[1].Key)
	}
	if infos[0].Provider != "redis" || infos[0].TotalCount != 2 || infos[0].Size == 0 {
		t.Errorf("unexpected info %+v", infos[0])
	}

	loaded, err := store.Load(ctx, olderKey)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Checksum != older.Checksum || loaded.TotalCount != 1 {
		t.Errorf("loaded backup differs: %+v", loaded)
	}
}

func TestBackupStore_KeyCollisionBumpsMillisecond(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestBackupStore(t)

	export := NewDataExport("local", nil)
	export.ExportTimestamp = time.UnixMilli(1700000000000).UTC()

	first, err := store.Save(ctx, "local", export)
	if err != nil {
		t.Fatal(err)
	}
	second, err := store.Save(ctx, "local", export)
	if err != nil {
		t.Fatal(err)
	}
	if first == second {
		t.Fatal("expected distinct keys")
	}
	if second != "backup_local_1700000000001" {
		t.Errorf("expected the next millisecond, got %s", second)
	}
}

func TestBackupStore_Errors(t *testing.T) {
	ctx := context.Background()
	store, backend := newTestBackupStore(t)

	if _, err := store.Load(ctx, "backup_local_1"); !errors.Is(err, ErrBackupNotFound) {
		t.Errorf("expected ErrBackupNotFound, got %v", err)
	}
	if err := store.Delete(ctx, "backup_local_1"); !errors.Is(err, ErrBackupNotFound) {
		t.Errorf("expected ErrBackupNotFound on delete, got %v", err)
	}

	if err := backend.Put(ctx, "backups/backup_local_5.json", []byte("not json")); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Load(ctx, "backup_local_5"); !errors.Is(err, ErrCorruptedData) {
		t.Errorf("expected ErrCorruptedData, got %v", err)
	}
	infos, err := store.List(ctx)
	if err != nil || len(infos) != 1 || infos[0].TotalCount != -1 {
		t.Errorf("unreadable backup should list with unknown count: %+v, %v", infos, err)
	}

	if err := store.Delete(ctx, "backup_local_5"); err != nil {
		t.Errorf("Delete failed: %v", err)
	}
}
