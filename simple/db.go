package simple

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/adrianmcphee/recordbase"
)

// DB is the simple API entry point. It wires a local provider, an optional
// remote provider, a Manager and a MigrationService with sensible defaults.
//
// Example:
//
//	db, err := simple.Connect()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
type DB struct {
	backend     recordbase.Backend
	local       *recordbase.LocalProvider
	remote      recordbase.StatusProvider
	remoteCfg   *recordbase.RemoteConfig
	manager     *recordbase.Manager
	migrations  *recordbase.MigrationService
	redisClient *redis.Client
	lock        *recordbase.DistributedLock
	logger      recordbase.Logger
	metrics     recordbase.Metrics
	hub         *recordbase.NotificationHub
}

// Option is a functional option for configuring DB.
type Option func(*DB) error

// Connect creates a new DB with auto-detected configuration.
//
// Environment variables:
//   - DATA_PATH: filesystem path for the local provider and backups (default: "./data")
//   - RECORDBASE_REMOTE_URL: redis:// or postgres:// URL of the remote provider (optional)
//   - RECORDBASE_REMOTE_DATABASE: remote database name (default: "recordbase")
//   - RECORDBASE_REMOTE_COLLECTION: remote collection name (default: "records")
//   - REDIS_ADDR: Redis used for the cross-process migration lock (optional)
//
// When a remote provider is configured it becomes current and the local
// provider is the fallback.
func Connect(opts ...Option) (*DB, error) {
	db := &DB{
		logger:  &recordbase.NoOpLogger{},
		metrics: &recordbase.NoOpMetrics{},
		hub:     recordbase.NewNotificationHub(),
	}

	for _, opt := range opts {
		if err := opt(db); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	if db.backend == nil {
		backend, err := detectBackend()
		if err != nil {
			return nil, fmt.Errorf("failed to detect backend: %w", err)
		}
		db.backend = backend
	}
	if db.remoteCfg == nil {
		db.remoteCfg = detectRemote()
	}

	// Redis is optional; migrations are only locked per process without it.
	if db.redisClient == nil {
		_ = db.setupRedis()
	}

	if err := db.wire(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// MustConnect is like Connect but panics on error.
// Use this for demos, prototypes, and when failure should crash the app.
func MustConnect(opts ...Option) *DB {
	db, err := Connect(opts...)
	if err != nil {
		panic(fmt.Sprintf("simple.MustConnect failed: %v", err))
	}
	return db
}

func (db *DB) wire() error {
	db.local = recordbase.NewLocalProvider(db.backend,
		recordbase.WithLocalLogger(db.logger),
		recordbase.WithLocalMetrics(db.metrics))

	providers := []recordbase.Provider{db.local}
	if db.remoteCfg != nil {
		remote, err := recordbase.NewRemoteProvider(*db.remoteCfg,
			recordbase.WithRemoteLogger(db.logger),
			recordbase.WithRemoteMetrics(db.metrics))
		if err != nil {
			return err
		}
		db.remote = remote
		providers = []recordbase.Provider{remote, db.local}
	}

	manager, err := recordbase.NewManager(providers,
		recordbase.WithFallback(db.local.Name()),
		recordbase.WithManagerLogger(db.logger),
		recordbase.WithManagerMetrics(db.metrics),
		recordbase.WithManagerNotifier(db.hub))
	if err != nil {
		return err
	}
	db.manager = manager

	migOpts := []recordbase.MigrationOption{
		recordbase.WithMigrationLogger(db.logger),
		recordbase.WithMigrationMetrics(db.metrics),
	}
	if db.lock != nil {
		migOpts = append(migOpts, recordbase.WithDistributedLock(db.lock, "migration", 10*time.Minute))
	}
	db.migrations = recordbase.NewMigrationService(recordbase.NewBackupStore(db.backend), migOpts...)
	return nil
}

// Close disconnects providers and releases the backend and Redis client.
func (db *DB) Close() error {
	var errs []error

	if db.manager != nil {
		if err := db.manager.Close(context.Background()); err != nil {
			errs = append(errs, fmt.Errorf("providers close: %w", err))
		}
	}
	if db.backend != nil {
		if err := db.backend.Close(); err != nil {
			errs = append(errs, fmt.Errorf("backend close: %w", err))
		}
	}
	if db.redisClient != nil {
		if err := db.redisClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}

	return errors.Join(errs...)
}

// Manager returns the underlying provider manager.
// Use this to drop down to the core API when needed.
func (db *DB) Manager() *recordbase.Manager {
	return db.manager
}

// Migrations returns the migration and backup service.
func (db *DB) Migrations() *recordbase.MigrationService {
	return db.migrations
}

// Local returns the local provider.
func (db *DB) Local() *recordbase.LocalProvider {
	return db.local
}

// Remote returns the remote provider, or nil when none is configured.
func (db *DB) Remote() recordbase.StatusProvider {
	return db.remote
}

// Lock returns the distributed lock, or nil without Redis.
func (db *DB) Lock() *recordbase.DistributedLock {
	return db.lock
}

// OnNotification subscribes to retry, fallback and recovery notifications.
func (db *DB) OnNotification(fn func(recordbase.Notification)) (remove func()) {
	return db.hub.Subscribe(fn)
}

func (db *DB) setupRedis() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	client := redis.NewClient(recordbase.RedisOptions())
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return fmt.Errorf("redis not available: %w", err)
	}
	db.redisClient = client
	db.lock = recordbase.NewDistributedLock(client, "recordbase")
	return nil
}

// detectBackend auto-detects the appropriate backend from environment.
func detectBackend() (recordbase.Backend, error) {
	dataPath := os.Getenv("DATA_PATH")
	if dataPath == "" {
		dataPath = "./data"
	}
	return recordbase.NewFilesystemBackend(dataPath)
}

func detectRemote() *recordbase.RemoteConfig {
	url := os.Getenv("RECORDBASE_REMOTE_URL")
	if url == "" {
		return nil
	}
	cfg := &recordbase.RemoteConfig{
		ConnectionString: url,
		DatabaseName:     os.Getenv("RECORDBASE_REMOTE_DATABASE"),
		CollectionName:   os.Getenv("RECORDBASE_REMOTE_COLLECTION"),
	}
	if cfg.DatabaseName == "" {
		cfg.DatabaseName = "recordbase"
	}
	if cfg.CollectionName == "" {
		cfg.CollectionName = "records"
	}
	return cfg
}

// Functional options

// WithBackend sets the blob backend for the local provider and backups.
func WithBackend(backend recordbase.Backend) Option {
	return func(db *DB) error {
		db.backend = backend
		return nil
	}
}

// WithRemote configures the remote provider explicitly.
func WithRemote(cfg recordbase.RemoteConfig) Option {
	return func(db *DB) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		db.remoteCfg = &cfg
		return nil
	}
}

// WithRedis sets the Redis client used for the migration lock.
func WithRedis(client *redis.Client) Option {
	return func(db *DB) error {
		db.redisClient = client
		db.lock = recordbase.NewDistributedLock(client, "recordbase")
		return nil
	}
}

// WithLogger sets the logger for every component.
func WithLogger(logger recordbase.Logger) Option {
	return func(db *DB) error {
		if logger != nil {
			db.logger = logger
		}
		return nil
	}
}

// WithMetrics sets the metrics sink for every component.
func WithMetrics(metrics recordbase.Metrics) Option {
	return func(db *DB) error {
		if metrics != nil {
			db.metrics = metrics
		}
		return nil
	}
}
