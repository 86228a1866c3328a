package simple

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/adrianmcphee/recordbase"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	t.Setenv("RECORDBASE_REMOTE_URL", "")

	backend, err := recordbase.NewFilesystemBackend(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	db, err := Connect(WithBackend(backend), WithRedis(client))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestConnect_LocalOnly(t *testing.T) {
	db := setupTestDB(t)

	if db.Remote() != nil {
		t.Error("expected no remote provider")
	}
	if got := db.Manager().Current().Name(); got != recordbase.LocalProviderName {
		t.Errorf("expected local provider to be current, got %s", got)
	}
	if db.Lock() == nil {
		t.Error("expected distributed lock when Redis is configured")
	}
}

func TestRecords_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	records := setupTestDB(t).Records()

	created, err := records.Create(ctx, "Groceries", "weekly", "milk", "eggs")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected generated ID")
	}

	got, err := records.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !got.Equal(created) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, created)
	}
}

func TestRecords_GetMissing(t *testing.T) {
	_, err := setupTestDB(t).Records().Get(context.Background(), "missing")
	if !errors.Is(err, recordbase.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRecords_FlagReviewToggle(t *testing.T) {
	ctx := context.Background()
	records := setupTestDB(t).Records()

	rec, err := records.Create(ctx, "Chores", "", "dishes")
	if err != nil {
		t.Fatal(err)
	}

	if err := records.SetFlagged(ctx, rec.ID, true); err != nil {
		t.Fatalf("SetFlagged failed: %v", err)
	}
	if err := records.MarkReviewed(ctx, rec.ID); err != nil {
		t.Fatalf("MarkReviewed failed: %v", err)
	}
	if err := records.ToggleItem(ctx, rec.ID, 0); err != nil {
		t.Fatalf("ToggleItem failed: %v", err)
	}
	if err := records.ToggleItem(ctx, rec.ID, 5); err == nil {
		t.Error("expected out-of-range error")
	}

	got, err := records.Get(ctx, rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Flagged || got.LastReviewed == nil || !got.Items[0].Done {
		t.Errorf("modifications not persisted: %+v", got)
	}

	flagged, err := records.Flagged(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(flagged) != 1 {
		t.Errorf("expected 1 flagged record, got %d", len(flagged))
	}
}

func TestRecords_SearchAndDelete(t *testing.T) {
	ctx := context.Background()
	records := setupTestDB(t).Records()

	a, _ := records.Create(ctx, "Trip to Lisbon", "pack light")
	if _, err := records.Create(ctx, "Groceries", "Lisbon market"); err != nil {
		t.Fatal(err)
	}
	if _, err := records.Create(ctx, "Books", ""); err != nil {
		t.Fatal(err)
	}

	found, err := records.Search(ctx, "lisbon")
	if err != nil {
		t.Fatal(err)
	}
	if len(found) != 2 {
		t.Errorf("expected 2 matches, got %d", len(found))
	}

	if err := records.Delete(ctx, a.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	n, err := records.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("expected 2 records after delete, got %d", n)
	}
}

func TestMigrateTo_SwitchesProvider(t *testing.T) {
	ctx := context.Background()
	t.Setenv("RECORDBASE_REMOTE_URL", "")

	backend, err := recordbase.NewFilesystemBackend(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	mr := miniredis.RunT(t)

	db, err := Connect(
		WithBackend(backend),
		WithRemote(recordbase.RemoteConfig{
			ConnectionString: "redis://" + mr.Addr(),
			DatabaseName:     "app",
			CollectionName:   "records",
		}),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	// Remote is current; seed the local provider directly and make it current.
	if err := db.Manager().SwitchProvider(ctx, recordbase.LocalProviderName); err != nil {
		t.Fatalf("switch to local failed: %v", err)
	}
	for _, title := range []string{"one", "two", "three"} {
		if _, err := db.Records().Create(ctx, title, ""); err != nil {
			t.Fatal(err)
		}
	}

	result, err := MigrateTo(ctx, db, "redis")
	if err != nil {
		t.Fatalf("MigrateTo failed: %v (%+v)", err, result)
	}
	if result.MigratedCount != 3 || result.BackupKey == "" {
		t.Errorf("unexpected result: %+v", result)
	}
	if got := db.Manager().Current().Name(); got != "redis" {
		t.Errorf("expected redis to be current, got %s", got)
	}

	n, err := db.Records().Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("expected 3 records on redis, got %d", n)
	}
}
