package recordbase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// Manager is the registry of named providers. It tracks the active provider,
// routes every CRUD call through the retry/fallback engine and reports
// aggregate health.
//
// The current provider changes only in SwitchProvider.
type Manager struct {
	mu        sync.RWMutex
	order     []string
	providers map[string]Provider
	current   string
	fallback  string

	switchMu sync.Mutex

	engine   *Engine
	logger   Logger
	metrics  Metrics
	notifier Notifier
	statuses *xsync.MapOf[string, StatusInfo]
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithFallback designates the fallback provider by name. Without it the
// first registered *LocalProvider is used.
func WithFallback(name string) ManagerOption {
	return func(m *Manager) { m.fallback = name }
}

// WithEngine sets the engine used for CRUD routing. The default engine
// shares the manager's logger, metrics and notifier.
func WithEngine(e *Engine) ManagerOption {
	return func(m *Manager) { m.engine = e }
}

func WithManagerLogger(logger Logger) ManagerOption {
	return func(m *Manager) { m.logger = loggerOrNoop(logger) }
}

func WithManagerMetrics(metrics Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = metricsOrNoop(metrics) }
}

// WithManagerNotifier sets where the default engine sends notifications.
func WithManagerNotifier(n Notifier) ManagerOption {
	return func(m *Manager) { m.notifier = n }
}

// NewManager creates a manager and registers providers in order. The first
// one becomes current.
func NewManager(providers []Provider, opts ...ManagerOption) (*Manager, error) {
	m := &Manager{
		providers: make(map[string]Provider),
		logger:    &NoOpLogger{},
		metrics:   &NoOpMetrics{},
		statuses:  xsync.NewMapOf[string, StatusInfo](),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.engine == nil {
		e, err := NewEngine(
			WithEngineLogger(m.logger),
			WithEngineMetrics(m.metrics),
			WithNotifier(m.notifier),
		)
		if err != nil {
			return nil, err
		}
		m.engine = e
	}

	for _, p := range providers {
		if err := m.Register(p); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Register adds p. Names must be unique.
func (m *Manager) Register(p Provider) error {
	if p == nil {
		return NewConfigError("", "nil provider", ErrInvalidConfig)
	}
	name := p.Name()
	if name == "" {
		return NewConfigError("", "provider name is required", ErrInvalidConfig)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.providers[name]; exists {
		return NewConfigError(name, "provider already registered", ErrInvalidConfig)
	}
	m.providers[name] = p
	m.order = append(m.order, name)
	if m.current == "" {
		m.current = name
	}
	m.logger.Debug("provider registered", "provider", name)
	return nil
}

// Engine returns the engine used for routing.
func (m *Manager) Engine() *Engine { return m.engine }

// Current returns the active provider, or nil when none is registered.
func (m *Manager) Current() Provider {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.providers[m.current]
}

// Provider looks up a registered provider by name.
func (m *Manager) Provider(name string) (Provider, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.providers[name]
	return p, ok
}

// Providers returns registered names in registration order.
func (m *Manager) Providers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// Fallback returns the designated fallback provider, or nil.
func (m *Manager) Fallback() Provider {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fallbackLocked()
}

func (m *Manager) fallbackLocked() Provider {
	if m.fallback != "" {
		return m.providers[m.fallback]
	}
	for _, name := range m.order {
		if lp, ok := m.providers[name].(*LocalProvider); ok {
			return lp
		}
	}
	return nil
}

func (m *Manager) lookup(name string) (Provider, error) {
	p, ok := m.Provider(name)
	if !ok {
		return nil, NewConfigError(name, fmt.Sprintf("unknown provider %q", name), ErrInvalidConfig)
	}
	return p, nil
}

// SwitchProvider makes name the active provider. The target must be
// available; the previous provider is disconnected best-effort.
func (m *Manager) SwitchProvider(ctx context.Context, name string) error {
	m.switchMu.Lock()
	defer m.switchMu.Unlock()

	next, err := m.lookup(name)
	if err != nil {
		return err
	}
	if !next.IsAvailable(ctx) {
		return NewUnavailableError(name, "provider is not available", nil)
	}

	prev := m.Current()
	if prev != nil && prev.Name() != name {
		if err := prev.Disconnect(ctx); err != nil {
			m.logger.Warn("failed to disconnect previous provider", "provider", prev.Name(), "error", err)
		}
	}
	if err := next.Connect(ctx); err != nil {
		return classify(name, ConnectionFailed, "connect failed", err)
	}

	m.mu.Lock()
	m.current = name
	m.mu.Unlock()

	from := ""
	if prev != nil {
		from = prev.Name()
	}
	m.metrics.Increment(MetricProviderSwitch, "from", from, "to", name)
	m.logger.Info("switched provider", "from", from, "to", name)
	return nil
}

// route returns the current provider and the fallback to pair with it.
func (m *Manager) route() (Provider, Provider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	primary := m.providers[m.current]
	if primary == nil {
		return nil, nil, NewUnavailableError("", "no provider registered", nil)
	}
	fallback := m.fallbackLocked()
	if fallback != nil && fallback.Name() == primary.Name() {
		fallback = nil
	}
	return primary, fallback, nil
}

func run[T any](ctx context.Context, m *Manager, operation string, op Op[T]) (T, error) {
	primary, fallback, err := m.route()
	if err != nil {
		var zero T
		return zero, err
	}

	start := time.Now()
	result, err := RunWithFallback(ctx, m.engine, primary, fallback, op)
	m.metrics.Increment(MetricProviderOps, "provider", primary.Name(), "operation", operation)
	m.metrics.Timing(MetricManagerLatency, time.Since(start), "operation", operation)
	if err != nil {
		m.metrics.Increment(MetricProviderErrors, "provider", primary.Name(), "operation", operation)
	}
	return result, err
}

// GetAll returns every record of the active provider, or of the fallback
// when the active one is down.
func (m *Manager) GetAll(ctx context.Context) ([]Record, error) {
	return run(ctx, m, "get_all", func(ctx context.Context, p Provider) ([]Record, error) {
		return p.GetAll(ctx)
	})
}

func (m *Manager) Save(ctx context.Context, record Record) error {
	_, err := run(ctx, m, "save", func(ctx context.Context, p Provider) (struct{}, error) {
		return struct{}{}, p.Save(ctx, record)
	})
	return err
}

func (m *Manager) Update(ctx context.Context, record Record) error {
	_, err := run(ctx, m, "update", func(ctx context.Context, p Provider) (struct{}, error) {
		return struct{}{}, p.Update(ctx, record)
	})
	return err
}

func (m *Manager) Delete(ctx context.Context, id string) error {
	_, err := run(ctx, m, "delete", func(ctx context.Context, p Provider) (struct{}, error) {
		return struct{}{}, p.Delete(ctx, id)
	})
	return err
}

func (m *Manager) SaveBatch(ctx context.Context, records []Record) error {
	_, err := run(ctx, m, "save_batch", func(ctx context.Context, p Provider) (struct{}, error) {
		return struct{}{}, p.SaveBatch(ctx, records)
	})
	return err
}

// checkStatus reports p's health without ever failing.
func (m *Manager) checkStatus(ctx context.Context, p Provider) (info StatusInfo) {
	name := p.Name()
	defer func() {
		if r := recover(); r != nil {
			info = errorStatus(name, NewOperationError(name, "status check panicked", fmt.Errorf("%v", r)))
		}
		if info.Provider == "" {
			info.Provider = name
		}
		m.statuses.Store(name, info)
		up := 0.0
		if info.Healthy() {
			up = 1
		}
		m.metrics.Gauge(MetricProviderHealth, up, "provider", name)
	}()

	if sp, ok := p.(StatusProvider); ok {
		return sp.Status(ctx)
	}

	start := time.Now()
	if !p.IsAvailable(ctx) {
		return StatusInfo{
			Provider:    name,
			Status:      StatusUnavailable,
			Message:     "provider is not available",
			LastChecked: Now(),
		}
	}
	return StatusInfo{
		Provider:           name,
		Status:             StatusConnected,
		Message:            "available",
		LastChecked:        Now(),
		ConnectionDuration: time.Since(start),
	}
}

// AllProviderStatuses checks every provider in registration order. A failing
// check yields an Error entry instead of an error.
func (m *Manager) AllProviderStatuses(ctx context.Context) []StatusInfo {
	m.mu.RLock()
	ps := make([]Provider, 0, len(m.order))
	for _, name := range m.order {
		ps = append(ps, m.providers[name])
	}
	m.mu.RUnlock()

	out := make([]StatusInfo, 0, len(ps))
	for _, p := range ps {
		out = append(out, m.checkStatus(ctx, p))
	}
	return out
}

// ProviderStatus checks a single provider.
func (m *Manager) ProviderStatus(ctx context.Context, name string) (StatusInfo, error) {
	p, err := m.lookup(name)
	if err != nil {
		return StatusInfo{}, err
	}
	return m.checkStatus(ctx, p), nil
}

// CachedStatus returns the result of the last status check of name, if any.
func (m *Manager) CachedStatus(name string) (StatusInfo, bool) {
	return m.statuses.Load(name)
}

// TestProviderConnection checks reachability without touching the live session
// of providers that support it.
func (m *Manager) TestProviderConnection(ctx context.Context, name string) error {
	p, err := m.lookup(name)
	if err != nil {
		return err
	}
	if sp, ok := p.(StatusProvider); ok {
		return sp.TestConnection(ctx)
	}
	if !p.IsAvailable(ctx) {
		return NewUnavailableError(name, "provider is not available", nil)
	}
	return nil
}

// ReconnectProvider drops and re-establishes name's connection.
func (m *Manager) ReconnectProvider(ctx context.Context, name string) error {
	p, err := m.lookup(name)
	if err != nil {
		return err
	}

	if sp, ok := p.(StatusProvider); ok {
		err = sp.Reconnect(ctx)
	} else {
		if derr := p.Disconnect(ctx); derr != nil {
			m.logger.Warn("disconnect before reconnect failed", "provider", name, "error", derr)
		}
		err = p.Connect(ctx)
	}
	if err != nil {
		m.logger.Error("reconnect failed", "provider", name, "error", err)
		return classify(name, ConnectionFailed, "reconnect failed", err)
	}
	m.logger.Info("provider reconnected", "provider", name)
	return nil
}

// RecoverProvider runs the engine's recovery loop against name.
func (m *Manager) RecoverProvider(ctx context.Context, name string, maxAttempts int) (bool, error) {
	p, err := m.lookup(name)
	if err != nil {
		return false, err
	}
	return m.engine.AttemptRecovery(ctx, p, maxAttempts), nil
}

// Close disconnects every provider.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.RLock()
	ps := make([]Provider, 0, len(m.order))
	for _, name := range m.order {
		ps = append(ps, m.providers[name])
	}
	m.mu.RUnlock()

	var errs []error
	for _, p := range ps {
		if err := p.Disconnect(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
