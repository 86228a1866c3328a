package recordbase

import (
	"github.com/google/uuid"
)

// NewID generates a UUIDv7 (time-ordered) record identifier.
// Sorting records by ID therefore roughly follows creation order.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// Fall back to UUIDv4 if NewV7 fails (extremely rare)
		id = uuid.New()
	}
	return id.String()
}

// IsValidID reports whether s is a UUID. Providers accept any non-empty ID;
// this only tells generated IDs apart from caller-chosen ones.
func IsValidID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
