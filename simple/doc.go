// Package simple provides a batteries-included API for recordbase.
//
// # Philosophy
//
// The simple API is for prototypes, demos and small applications. It provides:
//
//   - Automatic configuration from environment variables
//   - A local provider on the filesystem that doubles as the fallback
//   - An optional remote provider (Redis or PostgreSQL) that becomes active
//   - Backups stored next to the local data
//   - Graceful degradation when Redis is unavailable for the migration lock
//
// # Quick Start
//
//	db := simple.MustConnect()
//	defer db.Close()
//
//	records := db.Records()
//	rec, err := records.Create(ctx, "Groceries", "weekly run", "milk", "eggs")
//
//	flagged, err := records.Flagged(ctx)
//
// # Configuration
//
//   - DATA_PATH: local data and backups (default: "./data")
//   - RECORDBASE_REMOTE_URL: redis://, rediss://, postgres:// or postgresql:// URL
//   - RECORDBASE_REMOTE_DATABASE: remote database name (default: "recordbase")
//   - RECORDBASE_REMOTE_COLLECTION: remote collection name (default: "records")
//   - REDIS_ADDR, REDIS_PASSWORD, REDIS_DB: Redis for the cross-process migration lock
//
// Example .env file:
//
//	DATA_PATH=./data
//	RECORDBASE_REMOTE_URL=redis://localhost:6379/0
//	REDIS_ADDR=localhost:6379
//
// # Migrating
//
// MigrateTo copies the active provider into another registered provider,
// backing up the target first, and switches to it on success:
//
//	result, err := simple.MigrateTo(ctx, db, "redis")
//	fmt.Println(result.MigratedCount, result.BackupKey)
//
// # Dropping Down
//
// Manager() and Migrations() expose the core API for anything the simple
// API does not cover: provider status, reconnects, restores and so on.
package simple
