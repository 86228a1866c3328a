// Package recordbase stores records on interchangeable storage providers and
// keeps working when the active one goes away.
//
// # Overview
//
// A record is a titled note with a body, a flag and a checklist of items.
// Records live in a Provider: the local provider keeps one JSON object per
// record on a blob Backend (filesystem, S3, MinIO or GCS), and the remote
// providers keep them in a Redis hash or a PostgreSQL JSONB table.
//
// The Manager routes every operation to the current provider through an
// Engine that retries transient failures with exponential backoff and jitter,
// and falls back to a secondary provider (by default the local one) when the
// primary is exhausted. The MigrationService copies a whole dataset between
// providers with batching, per-batch retries, checksums, progress reporting,
// cancellation and automatic backups.
//
// # Quick Start
//
//	local, err := recordbase.NewFilesystemProvider("./data")
//	remote, err := recordbase.NewRemoteProvider(recordbase.RemoteConfig{
//	    ConnectionString: "redis://localhost:6379/0",
//	    DatabaseName:     "app",
//	    CollectionName:   "records",
//	})
//
//	engine, _ := recordbase.NewEngine(recordbase.WithCircuitBreaker(5, 30*time.Second))
//	m, err := recordbase.NewManager([]recordbase.Provider{remote, local},
//	    recordbase.WithEngine(engine))
//
//	rec := recordbase.NewRecord("Groceries", "weekly run", "milk", "eggs")
//	err = m.Save(ctx, rec)         // redis, or ./data if redis is down
//	all, err := m.GetAll(ctx)
//
// # Errors
//
// Provider failures are *ProviderError values with one of four kinds:
// ConnectionFailed, OperationFailed, ProviderUnavailable and
// InvalidConfiguration. Match them with errors.Is against the kind sentinels
// (ErrConnectionFailed and friends) or against the data sentinels they wrap
// (ErrNotFound, ErrAlreadyExists, ErrInvalidRecord, ErrCorruptedData).
// IsRetryable decides whether the Engine tries again; data errors are never
// retried and never fall back.
//
// # Migration
//
//	backend, _ := recordbase.NewFilesystemBackend("./data")
//	svc := recordbase.NewMigrationService(recordbase.NewBackupStore(backend))
//	result, err := svc.MigrateData(ctx, local, remote, recordbase.MigrationOptions{
//	    ImportOptions: recordbase.DefaultImportOptions(),
//	    CreateBackup:  true,
//	})
//
// Only one migration runs per service at a time. WithDistributedLock extends
// that across processes with a Redis lock.
//
// # Observability
//
//	logger, _ := recordbase.NewProductionZapLogger()
//	metrics := recordbase.NewPrometheusMetrics(prometheus.NewRegistry())
//	local, _ := recordbase.NewFilesystemProvider("./data",
//	    recordbase.WithLocalLogger(logger), recordbase.WithLocalMetrics(metrics))
//
// Notifications (retrying, fallback used, recovered, ...) are delivered to a
// Notifier; NotificationHub fans them out and LogNotifier writes them to a
// Logger.
package recordbase
