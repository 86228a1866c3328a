package recordbase

import (
	"fmt"
	"strings"
	"time"
)

// Record is the unit of data stored by every Provider.
type Record struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Body         string     `json:"body"`
	Flagged      bool       `json:"flagged"`
	CreatedAt    time.Time  `json:"createdAt"`
	LastReviewed *time.Time `json:"lastReviewed,omitempty"`
	Items        []Item     `json:"items"`
}

// Item is an ordered sub-entry of a Record.
type Item struct {
	Text string `json:"text"`
	Done bool   `json:"done"`
}

// Validate checks the fields a provider requires before accepting a record.
func (r Record) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return WithContext(ErrInvalidRecord, map[string]interface{}{
			"field":  "id",
			"reason": "id is required",
		})
	}
	if strings.TrimSpace(r.Title) == "" {
		return WithContext(ErrInvalidRecord, map[string]interface{}{
			"id":     r.ID,
			"field":  "title",
			"reason": "title is required",
		})
	}
	if r.CreatedAt.IsZero() {
		return WithContext(ErrInvalidRecord, map[string]interface{}{
			"id":     r.ID,
			"field":  "createdAt",
			"reason": "createdAt is required",
		})
	}
	for i, item := range r.Items {
		if strings.TrimSpace(item.Text) == "" {
			return WithContext(ErrInvalidRecord, map[string]interface{}{
				"id":     r.ID,
				"field":  fmt.Sprintf("items[%d].text", i),
				"reason": "item text is required",
			})
		}
	}
	return nil
}

// Clone returns a deep copy so callers can't mutate stored state through shared slices.
func (r Record) Clone() Record {
	out := r
	if r.LastReviewed != nil {
		t := *r.LastReviewed
		out.LastReviewed = &t
	}
	if r.Items != nil {
		out.Items = make([]Item, len(r.Items))
		copy(out.Items, r.Items)
	}
	return out
}

// NewRecord builds a record with a fresh time-ordered ID and the current time.
func NewRecord(title, body string, items ...string) Record {
	r := Record{
		ID:        NewID(),
		Title:     title,
		Body:      body,
		CreatedAt: Now().UTC().Truncate(time.Millisecond),
		Items:     make([]Item, 0, len(items)),
	}
	for _, text := range items {
		r.Items = append(r.Items, Item{Text: text})
	}
	return r
}

// Equal reports whether r and o hold the same data. Timestamps are compared
// as instants, so a record survives a round trip through any backend.
func (r Record) Equal(o Record) bool {
	if r.ID != o.ID || r.Title != o.Title || r.Body != o.Body || r.Flagged != o.Flagged {
		return false
	}
	if !r.CreatedAt.Equal(o.CreatedAt) {
		return false
	}
	if (r.LastReviewed == nil) != (o.LastReviewed == nil) {
		return false
	}
	if r.LastReviewed != nil && !r.LastReviewed.Equal(*o.LastReviewed) {
		return false
	}
	if len(r.Items) != len(o.Items) {
		return false
	}
	for i := range r.Items {
		if r.Items[i] != o.Items[i] {
			return false
		}
	}
	return true
}
