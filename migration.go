package recordbase

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// ImportOptions controls how an export is written into a target provider.
type ImportOptions struct {
	// OverwriteExisting allows importing into a non-empty target. Records whose
	// id already exists are updated; the rest are inserted.
	OverwriteExisting bool

	// ValidateData recomputes the target checksum after the import.
	ValidateData bool

	BatchSize     int           // default 50
	RetryAttempts int           // attempts per batch, default 3
	RetryDelay    time.Duration // first wait between attempts, doubled each time
}

// DefaultImportOptions returns validating, non-overwriting options.
func DefaultImportOptions() ImportOptions {
	return ImportOptions{
		ValidateData:  true,
		BatchSize:     DefaultBatchSize,
		RetryAttempts: DefaultImportRetries,
		RetryDelay:    DefaultImportRetryDelay,
	}
}

// Validate rejects negative sizes and delays.
func (o ImportOptions) Validate() error {
	if o.BatchSize < 0 {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "BatchSize",
			"value":  o.BatchSize,
			"reason": "must not be negative",
		})
	}
	if o.RetryAttempts < 0 {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "RetryAttempts",
			"value":  o.RetryAttempts,
			"reason": "must not be negative",
		})
	}
	if o.RetryDelay < 0 {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "RetryDelay",
			"value":  o.RetryDelay,
			"reason": "must not be negative",
		})
	}
	return nil
}

func (o ImportOptions) withDefaults() ImportOptions {
	if o.BatchSize == 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.RetryAttempts == 0 {
		o.RetryAttempts = DefaultImportRetries
	}
	return o
}

// MigrationOptions extends ImportOptions for MigrateData.
type MigrationOptions struct {
	ImportOptions

	// CreateBackup snapshots the target before anything is written to it.
	CreateBackup bool
}

// ImportStats counts what an import did.
type ImportStats struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	// Skipped records already existed in the target with identical content.
	Skipped int `json:"skipped"`
}

// Written is Inserted+Updated.
func (s ImportStats) Written() int { return s.Inserted + s.Updated }

// MigrationService exports, imports, migrates, backs up and restores whole
// datasets between providers. It works on Providers directly and does not
// go through a Manager.
type MigrationService struct {
	backups *BackupStore
	logger  Logger
	metrics Metrics

	lock    *DistributedLock
	lockKey string
	lockTTL time.Duration

	migrating atomic.Bool
	cancelled atomic.Bool
	progress  *progressTracker
}

// MigrationOption configures a MigrationService.
type MigrationOption func(*MigrationService)

func WithMigrationLogger(logger Logger) MigrationOption {
	return func(s *MigrationService) { s.logger = loggerOrNoop(logger) }
}

func WithMigrationMetrics(metrics Metrics) MigrationOption {
	return func(s *MigrationService) { s.metrics = metricsOrNoop(metrics) }
}

// WithDistributedLock makes migrations, imports and restores exclusive across
// every process sharing the lock's Redis. ttl bounds how long a crashed
// process can block others.
func WithDistributedLock(lock *DistributedLock, key string, ttl time.Duration) MigrationOption {
	return func(s *MigrationService) {
		s.lock = lock
		s.lockKey = key
		s.lockTTL = ttl
	}
}

// NewMigrationService creates a service that keeps backups in backups.
func NewMigrationService(backups *BackupStore, opts ...MigrationOption) *MigrationService {
	s := &MigrationService{
		backups: backups,
		logger:  &NoOpLogger{},
		metrics: &NoOpMetrics{},
		lockKey: "migration",
		lockTTL: 10 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.progress = newProgressTracker(s.metrics)
	return s
}

// AddProgressListener registers fn and returns a function that removes it.
func (s *MigrationService) AddProgressListener(fn ProgressListener) (remove func()) {
	return s.progress.add(fn)
}

// Progress returns a copy of the current progress.
func (s *MigrationService) Progress() MigrationProgress {
	return s.progress.snapshot()
}

// IsMigrating reports whether a migration, import or restore is running.
func (s *MigrationService) IsMigrating() bool {
	return s.migrating.Load()
}

// CancelMigration asks the running migration to stop at its next batch or
// phase boundary. In-flight writes complete. It reports whether anything was
// running.
func (s *MigrationService) CancelMigration() bool {
	if !s.migrating.Load() {
		return false
	}
	s.cancelled.Store(true)
	s.logger.Info("migration cancellation requested")
	return true
}

// begin claims the single migration slot.
func (s *MigrationService) begin(ctx context.Context) (func(), error) {
	if !s.migrating.CompareAndSwap(false, true) {
		return nil, ErrMigrationInProgress
	}
	s.cancelled.Store(false)

	release := func() {}
	if s.lock != nil {
		r, err := s.lock.Lock(ctx, s.lockKey, s.lockTTL)
		if err != nil {
			s.migrating.Store(false)
			if errors.Is(err, ErrLockHeld) {
				return nil, fmt.Errorf("%w: %v", ErrMigrationInProgress, err)
			}
			return nil, err
		}
		release = r
	}

	s.progress.reset()
	return func() {
		release()
		s.migrating.Store(false)
	}, nil
}

func (s *MigrationService) checkCancelled(ctx context.Context) error {
	if s.cancelled.Load() {
		return ErrMigrationCancelled
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrMigrationCancelled, err)
	}
	return nil
}

// ExportData snapshots every record of p.
func (s *MigrationService) ExportData(ctx context.Context, p Provider) (*DataExport, error) {
	records, err := p.GetAll(ctx)
	if err != nil {
		return nil, classify(p.Name(), OperationFailed, "export failed", err)
	}
	export := NewDataExport(p.Name(), records)
	s.logger.Info("exported data", "provider", p.Name(), "records", export.TotalCount, "checksum", export.Checksum)
	return export, nil
}

// ImportData writes export into target. See ImportOptions for the rules.
func (s *MigrationService) ImportData(ctx context.Context, target Provider, export *DataExport, opts ImportOptions) (ImportStats, error) {
	done, err := s.begin(ctx)
	if err != nil {
		return ImportStats{}, NewOperationError(target.Name(), "cannot start import", err)
	}
	defer done()

	stats, err := s.importData(ctx, target, export, opts)
	s.finishPhase(err)
	return stats, err
}

func (s *MigrationService) finishPhase(err error) {
	switch {
	case err == nil:
		s.progress.phase(PhaseCompleted, "completed", nil)
	case errors.Is(err, ErrMigrationCancelled):
		s.progress.phase(PhaseCancelled, "cancelled", err)
	default:
		s.progress.phase(PhaseFailed, err.Error(), err)
	}
}

func (s *MigrationService) importData(ctx context.Context, target Provider, export *DataExport, opts ImportOptions) (ImportStats, error) {
	var stats ImportStats
	name := target.Name()

	if err := opts.Validate(); err != nil {
		return stats, NewConfigError(name, "invalid import options", err)
	}
	opts = opts.withDefaults()

	// Integrity first; nothing is written if the export is damaged.
	if err := export.Verify(); err != nil {
		return stats, NewOperationError(name, "export failed integrity check", err)
	}
	seen := make(map[string]struct{}, len(export.Records))
	for _, rec := range export.Records {
		if err := rec.Validate(); err != nil {
			return stats, NewOperationError(name, "export contains an invalid record", err)
		}
		if _, dup := seen[rec.ID]; dup {
			return stats, NewOperationError(name, fmt.Sprintf("export contains id %q twice", rec.ID), ErrCorruptedData)
		}
		seen[rec.ID] = struct{}{}
	}

	if err := s.checkCancelled(ctx); err != nil {
		return stats, err
	}
	s.progress.phase(PhaseImporting, fmt.Sprintf("importing %d records into %s", export.TotalCount, name), nil)
	s.progress.items(0, export.TotalCount)

	existing, err := target.GetAll(ctx)
	if err != nil {
		return stats, classify(name, OperationFailed, "failed to read target", err)
	}
	if len(existing) > 0 && !opts.OverwriteExisting {
		return stats, NewOperationError(name,
			fmt.Sprintf("target holds %d records and overwrite is disabled", len(existing)), ErrTargetNotEmpty)
	}
	current := make(map[string]Record, len(existing))
	for _, rec := range existing {
		current[rec.ID] = rec
	}

	processed := 0
	for i, batch := range chunk(export.Records, opts.BatchSize) {
		if err := s.checkCancelled(ctx); err != nil {
			s.logger.Info("import cancelled", "provider", name, "processed", processed)
			return stats, err
		}

		b, err := s.writeBatch(ctx, target, batch, current, opts)
		stats.Inserted += b.Inserted
		stats.Updated += b.Updated
		stats.Skipped += b.Skipped
		if err != nil {
			return stats, classify(name, OperationFailed, fmt.Sprintf("batch %d failed", i+1), err)
		}

		processed += len(batch)
		s.progress.items(processed, export.TotalCount)
		s.logger.Debug("imported batch", "provider", name, "batch", i+1, "processed", processed, "total", export.TotalCount)
	}

	if opts.ValidateData {
		if err := s.checkCancelled(ctx); err != nil {
			return stats, err
		}
		s.progress.phase(PhaseValidating, "validating target checksum", nil)
		if err := s.validateTarget(ctx, target, export); err != nil {
			return stats, err
		}
	}

	s.logger.Info("imported data", "provider", name,
		"inserted", stats.Inserted, "updated", stats.Updated, "skipped", stats.Skipped)
	return stats, nil
}

// writeBatch writes one batch with retries. Updates go one by one; inserts go
// through SaveBatch. Work that already succeeded is not repeated on retry.
func (s *MigrationService) writeBatch(ctx context.Context, target Provider, batch []Record, current map[string]Record, opts ImportOptions) (ImportStats, error) {
	var stats ImportStats
	var updates, inserts []Record
	for _, rec := range batch {
		old, exists := current[rec.ID]
		switch {
		case !exists:
			inserts = append(inserts, rec)
		case old.Equal(rec):
			stats.Skipped++
		default:
			updates = append(updates, rec)
		}
	}

	updated := make(map[string]bool, len(updates))
	inserted := len(inserts) == 0
	delay := opts.RetryDelay

	var err error
	for attempt := 1; attempt <= opts.RetryAttempts; attempt++ {
		err = func() error {
			for _, rec := range updates {
				if updated[rec.ID] {
					continue
				}
				if err := target.Update(ctx, rec); err != nil {
					return err
				}
				updated[rec.ID] = true
				stats.Updated++
			}
			if !inserted && attempt > 1 {
				remaining, landed, err := pendingInserts(ctx, target, inserts)
				if err != nil {
					return err
				}
				stats.Inserted += landed
				inserts = remaining
				inserted = len(inserts) == 0
			}
			if !inserted {
				if err := target.SaveBatch(ctx, inserts); err != nil {
					return err
				}
				inserted = true
				stats.Inserted += len(inserts)
			}
			return nil
		}()
		if err == nil {
			return stats, nil
		}
		if isDataError(err) || isInvalidConfig(err) || attempt == opts.RetryAttempts {
			break
		}

		s.logger.Warn("batch write failed, retrying", "provider", target.Name(), "attempt", attempt, "delay", delay, "error", err)
		if sleepErr := sleepContext(ctx, delay); sleepErr != nil {
			return stats, err
		}
		delay *= 2
	}
	return stats, err
}

// pendingInserts drops the records a failed SaveBatch left behind in target,
// for providers whose batches are not atomic. landed counts the dropped ones.
func pendingInserts(ctx context.Context, target Provider, inserts []Record) ([]Record, int, error) {
	stored, err := target.GetAll(ctx)
	if err != nil {
		return nil, 0, err
	}
	byID := make(map[string]Record, len(stored))
	for _, rec := range stored {
		byID[rec.ID] = rec
	}

	remaining := inserts[:0:0]
	for _, rec := range inserts {
		if old, ok := byID[rec.ID]; ok && old.Equal(rec) {
			continue
		}
		remaining = append(remaining, rec)
	}
	return remaining, len(inserts) - len(remaining), nil
}

// validateTarget compares the checksum of the exported ids in target with the
// export's checksum. Extra records already in the target are ignored.
func (s *MigrationService) validateTarget(ctx context.Context, target Provider, export *DataExport) error {
	records, err := target.GetAll(ctx)
	if err != nil {
		return classify(target.Name(), OperationFailed, "failed to read target for validation", err)
	}

	wanted := make(map[string]struct{}, len(export.Records))
	for _, rec := range export.Records {
		wanted[rec.ID] = struct{}{}
	}
	imported := make([]Record, 0, len(export.Records))
	for _, rec := range records {
		if _, ok := wanted[rec.ID]; ok {
			imported = append(imported, rec)
		}
	}

	if len(imported) != export.TotalCount {
		return NewOperationError(target.Name(), "validation failed",
			WithContext(ErrCountMismatch, map[string]interface{}{
				"expected": export.TotalCount,
				"actual":   len(imported),
			}))
	}
	if got := Checksum(imported); got != export.Checksum {
		return NewOperationError(target.Name(), "validation failed",
			WithContext(ErrChecksumMismatch, map[string]interface{}{
				"expected": export.Checksum,
				"actual":   got,
			}))
	}
	if extra := len(records) - len(imported); extra > 0 {
		s.logger.Info("target keeps records that were not part of the import", "provider", target.Name(), "extra", extra)
	}
	return nil
}

// MigrateData copies source's dataset into target. It never returns an
// error; failures are reported in the result. Batches already written are
// not rolled back.
func (s *MigrationService) MigrateData(ctx context.Context, source, target Provider, opts MigrationOptions) MigrationResult {
	start := time.Now()
	result := MigrationResult{Errors: []string{}}

	done, err := s.begin(ctx)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		result.Duration = time.Since(start)
		return result
	}
	defer done()

	s.logger.Info("migration started", "source", source.Name(), "target", target.Name(),
		"overwrite", opts.OverwriteExisting, "backup", opts.CreateBackup)

	stats, backupKey, err := s.migrate(ctx, source, target, opts)
	result.MigratedCount = stats.Written()
	result.SkippedCount = stats.Skipped
	result.BackupKey = backupKey
	result.Duration = time.Since(start)

	outcome := "completed"
	switch {
	case err == nil:
		result.Success = true
	case errors.Is(err, ErrMigrationCancelled):
		outcome = "cancelled"
		result.Errors = append(result.Errors, err.Error())
	default:
		outcome = "failed"
		result.Errors = append(result.Errors, err.Error())
	}
	s.finishPhase(err)

	s.metrics.Increment(MetricMigrationRuns, "outcome", outcome)
	s.metrics.Histogram(MetricMigrationDuration, result.Duration.Seconds(), "outcome", outcome)
	if err != nil {
		s.logger.Error("migration "+outcome, "source", source.Name(), "target", target.Name(),
			"migrated", result.MigratedCount, "error", err)
	} else {
		s.logger.Info("migration completed", "source", source.Name(), "target", target.Name(),
			"migrated", result.MigratedCount, "skipped", result.SkippedCount, "duration", result.Duration)
	}
	return result
}

func (s *MigrationService) migrate(ctx context.Context, source, target Provider, opts MigrationOptions) (ImportStats, string, error) {
	var stats ImportStats

	s.progress.phase(PhasePreparing, fmt.Sprintf("preparing %s → %s", source.Name(), target.Name()), nil)
	if source.Name() == target.Name() {
		return stats, "", NewConfigError(target.Name(), "source and target are the same provider", ErrInvalidConfig)
	}
	if err := opts.ImportOptions.Validate(); err != nil {
		return stats, "", NewConfigError(target.Name(), "invalid migration options", err)
	}
	if err := source.Connect(ctx); err != nil {
		return stats, "", classify(source.Name(), ConnectionFailed, "connect source", err)
	}
	if err := target.Connect(ctx); err != nil {
		return stats, "", classify(target.Name(), ConnectionFailed, "connect target", err)
	}

	var backupKey string
	if opts.CreateBackup {
		if err := s.checkCancelled(ctx); err != nil {
			return stats, "", err
		}
		key, err := s.CreateBackup(ctx, target)
		if err != nil {
			return stats, "", err
		}
		backupKey = key
	}

	if err := s.checkCancelled(ctx); err != nil {
		return stats, backupKey, err
	}
	s.progress.phase(PhaseExporting, fmt.Sprintf("exporting from %s", source.Name()), nil)
	export, err := s.ExportData(ctx, source)
	if err != nil {
		return stats, backupKey, err
	}

	stats, err = s.importData(ctx, target, export, opts.ImportOptions)
	return stats, backupKey, err
}

// CreateBackup exports p and stores it under a new backup key.
func (s *MigrationService) CreateBackup(ctx context.Context, p Provider) (string, error) {
	if s.backups == nil {
		return "", NewConfigError(p.Name(), "no backup store configured", ErrInvalidConfig)
	}
	export, err := s.ExportData(ctx, p)
	if err != nil {
		return "", err
	}
	key, err := s.backups.Save(ctx, p.Name(), export)
	if err != nil {
		return "", NewOperationError(p.Name(), "failed to store backup", err)
	}
	s.metrics.Increment(MetricBackupsCreated, "provider", p.Name())
	s.logger.Info("backup created", "provider", p.Name(), "key", key, "records", export.TotalCount)
	return key, nil
}

// LoadBackup reads a stored backup.
func (s *MigrationService) LoadBackup(ctx context.Context, key string) (*DataExport, error) {
	if s.backups == nil {
		return nil, NewConfigError("", "no backup store configured", ErrInvalidConfig)
	}
	return s.backups.Load(ctx, key)
}

// RestoreFromBackup imports the backup stored under key into p.
func (s *MigrationService) RestoreFromBackup(ctx context.Context, p Provider, key string, opts ImportOptions) (ImportStats, error) {
	export, err := s.LoadBackup(ctx, key)
	if err != nil {
		return ImportStats{}, classify(p.Name(), OperationFailed, "failed to load backup", err)
	}
	s.logger.Info("restoring backup", "provider", p.Name(), "key", key, "records", export.TotalCount)
	return s.ImportData(ctx, p, export, opts)
}

// AvailableBackups lists stored backups, newest first.
func (s *MigrationService) AvailableBackups(ctx context.Context) ([]BackupInfo, error) {
	if s.backups == nil {
		return nil, NewConfigError("", "no backup store configured", ErrInvalidConfig)
	}
	return s.backups.List(ctx)
}

// DeleteBackup removes one backup.
func (s *MigrationService) DeleteBackup(ctx context.Context, key string) error {
	if s.backups == nil {
		return NewConfigError("", "no backup store configured", ErrInvalidConfig)
	}
	if err := s.backups.Delete(ctx, key); err != nil {
		return err
	}
	s.logger.Info("backup deleted", "key", key)
	return nil
}
