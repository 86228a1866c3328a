package simple

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/adrianmcphee/recordbase"
)

// Records is a convenience view over the DB's active provider.
//
// Example:
//
//	records := db.Records()
//	rec, err := records.Create(ctx, "Groceries", "", "milk", "eggs")
type Records struct {
	db *DB
}

// Records returns the record collection.
func (db *DB) Records() *Records {
	return &Records{db: db}
}

// Create stores a new record with a generated ID.
func (c *Records) Create(ctx context.Context, title, body string, items ...string) (recordbase.Record, error) {
	rec := recordbase.NewRecord(title, body, items...)
	if err := c.db.manager.Save(ctx, rec); err != nil {
		return recordbase.Record{}, fmt.Errorf("failed to create: %w", err)
	}
	return rec, nil
}

// All returns every record, sorted by ID.
func (c *Records) All(ctx context.Context) ([]recordbase.Record, error) {
	records, err := c.db.manager.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records, nil
}

// Get retrieves a record by ID.
func (c *Records) Get(ctx context.Context, id string) (recordbase.Record, error) {
	records, err := c.db.manager.GetAll(ctx)
	if err != nil {
		return recordbase.Record{}, err
	}
	for _, rec := range records {
		if rec.ID == id {
			return rec, nil
		}
	}
	return recordbase.Record{}, recordbase.WithContext(recordbase.ErrNotFound, map[string]interface{}{"id": id})
}

// Update replaces an existing record.
func (c *Records) Update(ctx context.Context, rec recordbase.Record) error {
	return c.db.manager.Update(ctx, rec)
}

// Delete removes a record by ID.
func (c *Records) Delete(ctx context.Context, id string) error {
	return c.db.manager.Delete(ctx, id)
}

// Flagged returns the flagged records.
func (c *Records) Flagged(ctx context.Context) ([]recordbase.Record, error) {
	return c.Filter(ctx, func(r recordbase.Record) bool { return r.Flagged })
}

// Search returns records whose title or body contains term, case-insensitively.
func (c *Records) Search(ctx context.Context, term string) ([]recordbase.Record, error) {
	term = strings.ToLower(term)
	return c.Filter(ctx, func(r recordbase.Record) bool {
		return strings.Contains(strings.ToLower(r.Title), term) ||
			strings.Contains(strings.ToLower(r.Body), term)
	})
}

// Filter returns the records matching keep.
func (c *Records) Filter(ctx context.Context, keep func(recordbase.Record) bool) ([]recordbase.Record, error) {
	records, err := c.All(ctx)
	if err != nil {
		return nil, err
	}
	out := records[:0]
	for _, rec := range records {
		if keep(rec) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// SetFlagged flags or unflags a record.
func (c *Records) SetFlagged(ctx context.Context, id string, flagged bool) error {
	return c.modify(ctx, id, func(r *recordbase.Record) { r.Flagged = flagged })
}

// MarkReviewed stamps LastReviewed with the current time.
func (c *Records) MarkReviewed(ctx context.Context, id string) error {
	return c.modify(ctx, id, func(r *recordbase.Record) {
		now := recordbase.Now().UTC()
		r.LastReviewed = &now
	})
}

// ToggleItem flips the Done state of the item at index.
func (c *Records) ToggleItem(ctx context.Context, id string, index int) error {
	var rangeErr error
	err := c.modify(ctx, id, func(r *recordbase.Record) {
		if index < 0 || index >= len(r.Items) {
			rangeErr = fmt.Errorf("item index %d out of range (record has %d items)", index, len(r.Items))
			return
		}
		r.Items[index].Done = !r.Items[index].Done
	})
	if rangeErr != nil {
		return rangeErr
	}
	return err
}

func (c *Records) modify(ctx context.Context, id string, fn func(*recordbase.Record)) error {
	rec, err := c.Get(ctx, id)
	if err != nil {
		return err
	}
	updated := rec.Clone()
	fn(&updated)
	if updated.Equal(rec) {
		return nil
	}
	return c.db.manager.Update(ctx, updated)
}

// Count returns the number of records.
func (c *Records) Count(ctx context.Context) (int, error) {
	records, err := c.db.manager.GetAll(ctx)
	if err != nil {
		return 0, err
	}
	return len(records), nil
}
