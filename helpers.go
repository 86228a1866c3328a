package recordbase

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Now returns the current time (for consistency across the codebase)
var Now = time.Now

// KeyBuilder helps construct consistent storage keys.
//
// Example:
//
//	kb := KeyBuilder{Prefix: "records", Suffix: ".json"}
//	key := kb.Key(id)  // Returns "records/<id>.json"
type KeyBuilder struct {
	// Prefix is the namespace prefix (e.g., "records", "backups")
	Prefix string

	// Suffix is the file extension (e.g., ".json")
	// Optional - defaults to empty string
	Suffix string
}

// Key constructs a storage key from an ID.
func (kb KeyBuilder) Key(id string) string {
	if kb.Suffix != "" {
		return fmt.Sprintf("%s/%s%s", kb.Prefix, id, kb.Suffix)
	}
	return fmt.Sprintf("%s/%s", kb.Prefix, id)
}

// ID is the inverse of Key. ok is false when key doesn't belong to this builder.
func (kb KeyBuilder) ID(key string) (string, bool) {
	rest, found := strings.CutPrefix(key, kb.Prefix+"/")
	if !found {
		return "", false
	}
	if kb.Suffix != "" {
		rest, found = strings.CutSuffix(rest, kb.Suffix)
		if !found {
			return "", false
		}
	}
	if rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	return rest, true
}

// Dir is the listing prefix for every key the builder produces.
func (kb KeyBuilder) Dir() string {
	return kb.Prefix + "/"
}

// chunk splits items into consecutive slices of at most size elements.
func chunk[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = DefaultBatchSize
	}
	var out [][]T
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[start:end])
	}
	return out
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
