package recordbase

import (
	"fmt"
	"time"
)

// DataExport is the portable snapshot of a provider's dataset. It is also the
// on-disk format of backups.
type DataExport struct {
	FormatVersion      string    `json:"formatVersion"`
	ExportTimestamp    time.Time `json:"exportTimestamp"`
	SourceProviderName string    `json:"sourceProviderName"`
	TotalCount         int       `json:"totalCount"`
	Records            []Record  `json:"records"`
	Checksum           string    `json:"checksum"`
}

// NewDataExport wraps records with a fresh timestamp, count and checksum.
func NewDataExport(source string, records []Record) *DataExport {
	if records == nil {
		records = []Record{}
	}
	return &DataExport{
		FormatVersion:      ExportFormatVersion,
		ExportTimestamp:    Now().UTC(),
		SourceProviderName: source,
		TotalCount:         len(records),
		Records:            records,
		Checksum:           Checksum(records),
	}
}

// Verify checks the count and checksum against the records.
func (e *DataExport) Verify() error {
	if e == nil {
		return WithContext(ErrCorruptedData, map[string]interface{}{"reason": "export is nil"})
	}
	if e.TotalCount != len(e.Records) {
		return WithContext(ErrCountMismatch, map[string]interface{}{
			"declared": e.TotalCount,
			"actual":   len(e.Records),
		})
	}
	if got := Checksum(e.Records); got != e.Checksum {
		return WithContext(ErrChecksumMismatch, map[string]interface{}{
			"declared": e.Checksum,
			"actual":   got,
		})
	}
	return nil
}

// Summary is a one-line description for logs and CLI output.
func (e *DataExport) Summary() string {
	return fmt.Sprintf("%d records from %s at %s (checksum %s)",
		e.TotalCount, e.SourceProviderName, e.ExportTimestamp.Format(time.RFC3339), e.Checksum)
}
