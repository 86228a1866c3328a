package simple

import (
	"context"
	"fmt"
	"strings"

	"github.com/adrianmcphee/recordbase"
)

// MigrateTo copies the active provider's data into the provider named to and,
// if that succeeds, makes it the active provider. A backup of the target is
// taken first.
//
// Example:
//
//	result, err := simple.MigrateTo(ctx, db, "redis")
func MigrateTo(ctx context.Context, db *DB, to string) (recordbase.MigrationResult, error) {
	source := db.manager.Current()
	if source == nil {
		return recordbase.MigrationResult{}, fmt.Errorf("no active provider")
	}
	target, ok := db.manager.Provider(to)
	if !ok {
		return recordbase.MigrationResult{}, fmt.Errorf("unknown provider %q", to)
	}

	opts := recordbase.MigrationOptions{
		ImportOptions: recordbase.DefaultImportOptions(),
		CreateBackup:  true,
	}
	opts.OverwriteExisting = true

	result := db.migrations.MigrateData(ctx, source, target, opts)
	if !result.Success {
		return result, fmt.Errorf("migration failed: %s", strings.Join(result.Errors, "; "))
	}
	if err := db.manager.SwitchProvider(ctx, to); err != nil {
		return result, fmt.Errorf("migrated but could not switch: %w", err)
	}
	return result, nil
}
