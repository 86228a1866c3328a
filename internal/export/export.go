// Package export reads and writes DataExport files and renders them as
// PostgreSQL scripts that load into the layout the postgres provider uses.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/adrianmcphee/recordbase"
)

// MaxFileSize caps how much ReadFile will load.
const MaxFileSize = 256 << 20

// WriteFile writes e as indented JSON through a temp file and rename.
func WriteFile(path string, e *recordbase.DataExport) error {
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal export: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, recordbase.DefaultDirPermissions); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-export-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, recordbase.DefaultFilePermissions); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

// ReadFile loads an export file. It does not verify the checksum; importing
// does that.
func ReadFile(path string) (*recordbase.DataExport, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}

// Decode reads one export from r, refusing anything over MaxFileSize.
func Decode(r io.Reader) (*recordbase.DataExport, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxFileSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > MaxFileSize {
		return nil, fmt.Errorf("export exceeds %d bytes", MaxFileSize)
	}

	var e recordbase.DataExport
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", recordbase.ErrCorruptedData, err)
	}
	if e.FormatVersion == "" {
		return nil, fmt.Errorf("%w: missing formatVersion", recordbase.ErrCorruptedData)
	}
	return &e, nil
}

// TableToDDL generates the schema and table statements for database.collection.
func TableToDDL(database, collection string) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s;\n", pgx.Identifier{database}.Sanitize()))
	sb.WriteString(fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n", pgx.Identifier{database, collection}.Sanitize()))
	sb.WriteString("  id TEXT PRIMARY KEY,\n")
	sb.WriteString("  doc JSONB NOT NULL\n")
	sb.WriteString(");\n")
	return sb.String()
}

// ExportData generates one INSERT per record.
func ExportData(e *recordbase.DataExport, database, collection string) (string, error) {
	table := pgx.Identifier{database, collection}.Sanitize()

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("-- recordbase data export: %s\n\n", e.Summary()))
	for _, rec := range e.Records {
		doc, err := json.Marshal(rec)
		if err != nil {
			return "", fmt.Errorf("marshal record %q: %w", rec.ID, err)
		}
		sb.WriteString(rowToInsert(table, rec.ID, string(doc)))
	}
	return sb.String(), nil
}

// rowToInsert generates an INSERT statement for a single record
func rowToInsert(table, id, doc string) string {
	return fmt.Sprintf("INSERT INTO %s (id, doc) VALUES (%s, %s::jsonb);\n",
		table, quoteLiteral(id), quoteLiteral(doc))
}

// quoteLiteral escapes single quotes and wraps s in them.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// SQL generates both DDL and data
func SQL(e *recordbase.DataExport, database, collection string) (string, error) {
	data, err := ExportData(e, database, collection)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	sb.WriteString("-- recordbase export to PostgreSQL\n\n")
	sb.WriteString(TableToDDL(database, collection))
	sb.WriteString("\n")
	sb.WriteString(data)
	return sb.String(), nil
}
