package recordbase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

const backupKeyPrefix = "backup_"

// BackupInfo describes a stored backup without its records.
type BackupInfo struct {
	Key        string    `json:"key"`
	Provider   string    `json:"provider"`
	CreatedAt  time.Time `json:"createdAt"`
	TotalCount int       `json:"totalCount"`
	Size       int64     `json:"size"`
}

// BackupKey returns backup_<provider>_<epochMillis>.
func BackupKey(provider string, at time.Time) string {
	return fmt.Sprintf("%s%s_%d", backupKeyPrefix, provider, at.UnixMilli())
}

// ParseBackupKey splits a backup key into provider name and creation time.
// Provider names may themselves contain underscores.
func ParseBackupKey(key string) (provider string, createdAt time.Time, ok bool) {
	rest, found := strings.CutPrefix(key, backupKeyPrefix)
	if !found {
		return "", time.Time{}, false
	}
	i := strings.LastIndex(rest, "_")
	if i <= 0 || i == len(rest)-1 {
		return "", time.Time{}, false
	}
	millis, err := strconv.ParseInt(rest[i+1:], 10, 64)
	if err != nil {
		return "", time.Time{}, false
	}
	return rest[:i], time.UnixMilli(millis).UTC(), true
}

// BackupStore persists DataExports as backups/<key>.json on a Backend.
type BackupStore struct {
	backend Backend
	keys    KeyBuilder
}

// NewBackupStore creates a backup store on backend.
func NewBackupStore(backend Backend) *BackupStore {
	return &BackupStore{
		backend: backend,
		keys:    KeyBuilder{Prefix: "backups", Suffix: ".json"},
	}
}

// Save stores export under a new key derived from provider and the export
// timestamp. If that millisecond is taken the next free one is used, so keys
// stay unique and ordered.
func (s *BackupStore) Save(ctx context.Context, provider string, export *DataExport) (string, error) {
	data, err := json.Marshal(export)
	if err != nil {
		return "", fmt.Errorf("failed to marshal backup: %w", err)
	}

	at := export.ExportTimestamp
	for {
		key := BackupKey(provider, at)
		exists, err := s.backend.Exists(ctx, s.keys.Key(key))
		if err != nil {
			return "", fmt.Errorf("failed to check backup key: %w", err)
		}
		if !exists {
			if err := s.backend.Put(ctx, s.keys.Key(key), data); err != nil {
				return "", fmt.Errorf("failed to write backup: %w", err)
			}
			return key, nil
		}
		at = at.Add(time.Millisecond)
	}
}

// Load reads and verifies a backup.
func (s *BackupStore) Load(ctx context.Context, key string) (*DataExport, error) {
	data, err := s.backend.Get(ctx, s.keys.Key(key))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, WithContext(ErrBackupNotFound, map[string]interface{}{"key": key})
		}
		return nil, fmt.Errorf("failed to read backup: %w", err)
	}

	var export DataExport
	if err := json.Unmarshal(data, &export); err != nil {
		return nil, WithContext(ErrCorruptedData, map[string]interface{}{
			"key":    key,
			"reason": err.Error(),
		})
	}
	return &export, nil
}

// List returns every backup, newest first.
func (s *BackupStore) List(ctx context.Context) ([]BackupInfo, error) {
	objects, err := s.backend.List(ctx, s.keys.Dir())
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}

	infos := make([]BackupInfo, 0, len(objects))
	for _, obj := range objects {
		key, ok := s.keys.ID(obj)
		if !ok {
			continue
		}
		provider, createdAt, ok := ParseBackupKey(key)
		if !ok {
			continue
		}

		info := BackupInfo{Key: key, Provider: provider, CreatedAt: createdAt, TotalCount: -1}
		if data, err := s.backend.Get(ctx, obj); err == nil {
			info.Size = int64(len(data))
			var head struct {
				TotalCount int `json:"totalCount"`
			}
			if json.Unmarshal(data, &head) == nil {
				info.TotalCount = head.TotalCount
			}
		}
		infos = append(infos, info)
	}

	sort.Slice(infos, func(i, j int) bool {
		if !infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].CreatedAt.After(infos[j].CreatedAt)
		}
		return infos[i].Key > infos[j].Key
	})
	return infos, nil
}

// Delete removes one backup.
func (s *BackupStore) Delete(ctx context.Context, key string) error {
	if err := s.backend.Delete(ctx, s.keys.Key(key)); err != nil {
		if errors.Is(err, ErrNotFound) {
			return WithContext(ErrBackupNotFound, map[string]interface{}{"key": key})
		}
		return fmt.Errorf("failed to delete backup: %w", err)
	}
	return nil
}
