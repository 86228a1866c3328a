package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/adrianmcphee/recordbase"
)

// app holds the components one command invocation works with.
type app struct {
	cfg        *config
	logger     *recordbase.ZapLogger
	metrics    *recordbase.PrometheusMetrics
	backend    recordbase.Backend
	local      *recordbase.LocalProvider
	manager    *recordbase.Manager
	migrations *recordbase.MigrationService
	hub        *recordbase.NotificationHub
	lock       *recordbase.DistributedLock

	metricsServer *http.Server
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logger, err := recordbase.NewZapLoggerAtLevel(cfg.LogLevel, cfg.LogConsole)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: recordbase.NewPrometheusMetrics(prometheus.NewRegistry()),
		hub:     recordbase.NewNotificationHub(),
	}
	a.hub.Subscribe(recordbase.LogNotifier{Logger: logger.Named("notify")}.Notify)

	if err := a.wire(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg := a.cfg

	backend, err := recordbase.NewBackend(ctx, cfg.Backend)
	if err != nil {
		return fmt.Errorf("failed to create %s backend: %w", cfg.Backend.Type, err)
	}
	a.backend = backend

	a.local = recordbase.NewLocalProvider(backend,
		recordbase.WithLocalLogger(a.logger.Named("local")),
		recordbase.WithLocalMetrics(a.metrics))

	providers := []recordbase.Provider{a.local}
	if cfg.Remote != nil {
		remote, err := recordbase.NewRemoteProvider(*cfg.Remote,
			recordbase.WithRemoteLogger(a.logger.Named("remote")),
			recordbase.WithRemoteMetrics(a.metrics))
		if err != nil {
			return err
		}
		providers = []recordbase.Provider{remote, a.local}
	}

	engine, err := recordbase.NewEngine(
		recordbase.WithRetryConfig(cfg.Retry),
		recordbase.WithEngineLogger(a.logger.Named("engine")),
		recordbase.WithEngineMetrics(a.metrics),
		recordbase.WithNotifier(a.hub),
		recordbase.WithCircuitBreaker(cfg.BreakerFailures, cfg.BreakerReset),
	)
	if err != nil {
		return err
	}

	a.manager, err = recordbase.NewManager(providers,
		recordbase.WithFallback(cfg.Fallback),
		recordbase.WithEngine(engine),
		recordbase.WithManagerLogger(a.logger.Named("manager")),
		recordbase.WithManagerMetrics(a.metrics))
	if err != nil {
		return err
	}
	if cfg.Provider != "" {
		if err := a.manager.SwitchProvider(ctx, cfg.Provider); err != nil {
			return err
		}
	}

	migOpts := []recordbase.MigrationOption{
		recordbase.WithMigrationLogger(a.logger.Named("migration")),
		recordbase.WithMigrationMetrics(a.metrics),
	}
	if cfg.RedisLockURL != "" {
		opts, err := redis.ParseURL(cfg.RedisLockURL)
		if err != nil {
			return fmt.Errorf("invalid lock-redis URL: %w", err)
		}
		a.lock = recordbase.NewDistributedLockWithOwnedClient(redis.NewClient(opts), "recordbase")
		migOpts = append(migOpts, recordbase.WithDistributedLock(a.lock, "migration", 30*time.Minute))
	}
	a.migrations = recordbase.NewMigrationService(recordbase.NewBackupStore(backend), migOpts...)

	if cfg.MetricsAddr != "" {
		a.serveMetrics(cfg.MetricsAddr)
	}
	return nil
}

func (a *app) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.metrics.Registry(), promhttp.HandlerOpts{}))
	a.metricsServer = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server stopped", "addr", addr, "error", err)
		}
	}()
	a.logger.Info("serving metrics", "addr", addr)
}

// provider resolves a provider name; "" means the active one.
func (a *app) provider(name string) (recordbase.Provider, error) {
	if name == "" {
		return a.manager.Current(), nil
	}
	p, ok := a.manager.Provider(name)
	if !ok {
		return nil, recordbase.NewConfigError(name, "unknown provider", recordbase.ErrInvalidConfig)
	}
	return p, nil
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if a.metricsServer != nil {
		_ = a.metricsServer.Shutdown(ctx)
	}
	if a.manager != nil {
		if err := a.manager.Close(ctx); err != nil {
			a.logger.Warn("failed to close providers", "error", err)
		}
	}
	if a.lock != nil {
		_ = a.lock.Close()
	}
	if a.backend != nil {
		_ = a.backend.Close()
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

// withApp runs fn with a wired app and a context bounded by --timeout that is
// also cancelled on SIGINT.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if a.cfg.OperationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.OperationTimeout)
		defer cancel()
	}
	return fn(ctx, a)
}
