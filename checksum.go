package recordbase

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sort"
)

// checksumProjection is the subset of a Record covered by the checksum.
// Timestamps and items are left out so re-serialization by a different
// backend cannot change the digest.
type checksumProjection struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Body    string `json:"body"`
	Flagged bool   `json:"flagged"`
}

// Checksum returns the FNV-1a/64 digest, as 16 hex digits, of records in id
// order. Input order does not matter. It detects accidental corruption only.
func Checksum(records []Record) string {
	proj := make([]checksumProjection, len(records))
	for i, r := range records {
		proj[i] = checksumProjection{ID: r.ID, Title: r.Title, Body: r.Body, Flagged: r.Flagged}
	}
	sort.SliceStable(proj, func(i, j int) bool { return proj[i].ID < proj[j].ID })

	h := fnv.New64a()
	enc := json.NewEncoder(h)
	for _, p := range proj {
		// Encoding a flat struct of strings and a bool into a hash cannot fail.
		_ = enc.Encode(p)
	}
	return fmt.Sprintf("%016x", h.Sum64())
}
