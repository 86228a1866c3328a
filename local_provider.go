package recordbase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
)

// LocalProviderName is the conventional name of the embedded store.
const LocalProviderName = "local"

// LocalProvider is the embedded store. Each record lives in its own object
// under records/ on a Backend, normally a FilesystemBackend.
type LocalProvider struct {
	name    string
	backend Backend
	keys    KeyBuilder
	locks   *StripedLocks
	conn    *connectGroup
	logger  Logger
	metrics Metrics
}

// LocalOption configures a LocalProvider.
type LocalOption func(*LocalProvider)

// WithLocalName overrides the provider name (default "local").
func WithLocalName(name string) LocalOption {
	return func(p *LocalProvider) { p.name = name }
}

// WithLocalLogger sets the logger.
func WithLocalLogger(logger Logger) LocalOption {
	return func(p *LocalProvider) { p.logger = loggerOrNoop(logger) }
}

// WithLocalMetrics sets the metrics sink.
func WithLocalMetrics(metrics Metrics) LocalOption {
	return func(p *LocalProvider) { p.metrics = metricsOrNoop(metrics) }
}

// NewLocalProvider creates an embedded provider on top of backend.
func NewLocalProvider(backend Backend, opts ...LocalOption) *LocalProvider {
	p := &LocalProvider{
		name:    LocalProviderName,
		backend: backend,
		keys:    KeyBuilder{Prefix: "records", Suffix: ".json"},
		locks:   NewStripedLocks(32),
		logger:  &NoOpLogger{},
		metrics: &NoOpMetrics{},
	}
	for _, opt := range opts {
		opt(p)
	}
	p.conn = newConnectGroup(p.name)
	return p
}

// NewFilesystemProvider is a shortcut for a LocalProvider on a FilesystemBackend at dir.
func NewFilesystemProvider(dir string, opts ...LocalOption) (*LocalProvider, error) {
	backend, err := NewFilesystemBackend(dir)
	if err != nil {
		return nil, NewConfigError(LocalProviderName, "invalid data directory", err)
	}
	return NewLocalProvider(backend, opts...), nil
}

func (p *LocalProvider) Name() string { return p.name }

func (p *LocalProvider) key(id string) string {
	return p.keys.Key(escapeID(id))
}

// escapeID makes id safe as a single object name. A leading dot is encoded so
// no record can collide with hidden or temporary files such as ".tmp-*".
func escapeID(id string) string {
	escaped := url.PathEscape(id)
	if strings.HasPrefix(escaped, ".") {
		escaped = "%2E" + escaped[1:]
	}
	return escaped
}

func (p *LocalProvider) Connect(ctx context.Context) error {
	return p.conn.connect(ctx, func(ctx context.Context) error {
		if err := p.backend.Ping(ctx); err != nil {
			return NewConnectionError(p.name, "backend not reachable", err)
		}
		return nil
	})
}

func (p *LocalProvider) Disconnect(ctx context.Context) error {
	return p.conn.disconnect(nil)
}

func (p *LocalProvider) IsAvailable(ctx context.Context) bool {
	return p.backend.Ping(ctx) == nil
}

// Status pings the backend and reports the result.
func (p *LocalProvider) Status(ctx context.Context) StatusInfo {
	start := time.Now()
	if err := p.backend.Ping(ctx); err != nil {
		perr := NewUnavailableError(p.name, "backend ping failed", err)
		p.conn.markLost(perr)
		info := p.conn.snapshot()
		info.Status = StatusUnavailable
		return info
	}
	info := p.conn.snapshot()
	if !p.conn.isConnected() {
		info.Status = StatusDisconnected
		info.Message = "backend reachable, not connected"
	}
	info.LastChecked = Now()
	if info.ConnectionDuration == 0 && info.Status == StatusConnected {
		info.ConnectionDuration = time.Since(start)
	}
	return info
}

func (p *LocalProvider) TestConnection(ctx context.Context) error {
	if err := p.backend.Ping(ctx); err != nil {
		return NewConnectionError(p.name, "backend not reachable", err)
	}
	return nil
}

func (p *LocalProvider) Reconnect(ctx context.Context) error {
	if err := p.Disconnect(ctx); err != nil {
		p.logger.Warn("disconnect before reconnect failed", "provider", p.name, "error", err)
	}
	return p.Connect(ctx)
}

// ConnectAttempts is the number of underlying connection attempts made so far.
func (p *LocalProvider) ConnectAttempts() int64 { return p.conn.Attempts() }

func (p *LocalProvider) ensureConnected(ctx context.Context) error {
	if p.conn.isConnected() {
		return nil
	}
	return p.Connect(ctx)
}

// GetAll returns every stored record sorted by ID. A corrupted object is
// removed and reported as OperationFailed.
func (p *LocalProvider) GetAll(ctx context.Context) ([]Record, error) {
	start := time.Now()
	defer p.observe("get_all", start)

	if err := p.ensureConnected(ctx); err != nil {
		return nil, err
	}

	keys, err := p.backend.List(ctx, p.keys.Dir())
	if err != nil {
		return nil, p.opError("list records", err)
	}

	records := make([]Record, 0, len(keys))
	for _, key := range keys {
		if _, ok := p.keys.ID(key); !ok {
			continue
		}
		rec, err := p.read(ctx, key)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				// deleted between List and Get
				continue
			}
			return nil, err
		}
		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records, nil
}

// Save stores a new record; an existing ID is rejected.
func (p *LocalProvider) Save(ctx context.Context, record Record) error {
	start := time.Now()
	defer p.observe("save", start)

	if err := record.Validate(); err != nil {
		return NewOperationError(p.name, "invalid record", err)
	}
	if err := p.ensureConnected(ctx); err != nil {
		return err
	}

	key := p.key(record.ID)
	unlock := p.locks.Lock(key)
	defer unlock()

	exists, err := p.backend.Exists(ctx, key)
	if err != nil {
		return p.opError("check record", err)
	}
	if exists {
		return NewOperationError(p.name, fmt.Sprintf("record %q already exists", record.ID), ErrAlreadyExists)
	}
	return p.write(ctx, key, record)
}

// Update replaces an existing record.
func (p *LocalProvider) Update(ctx context.Context, record Record) error {
	start := time.Now()
	defer p.observe("update", start)

	if err := record.Validate(); err != nil {
		return NewOperationError(p.name, "invalid record", err)
	}
	if err := p.ensureConnected(ctx); err != nil {
		return err
	}

	key := p.key(record.ID)
	unlock := p.locks.Lock(key)
	defer unlock()

	exists, err := p.backend.Exists(ctx, key)
	if err != nil {
		return p.opError("check record", err)
	}
	if !exists {
		return NewOperationError(p.name, fmt.Sprintf("record %q not found", record.ID), ErrNotFound)
	}
	return p.write(ctx, key, record)
}

// Delete removes an existing record.
func (p *LocalProvider) Delete(ctx context.Context, id string) error {
	start := time.Now()
	defer p.observe("delete", start)

	if err := p.ensureConnected(ctx); err != nil {
		return err
	}

	key := p.key(id)
	unlock := p.locks.Lock(key)
	defer unlock()

	if err := p.backend.Delete(ctx, key); err != nil {
		if errors.Is(err, ErrNotFound) {
			return NewOperationError(p.name, fmt.Sprintf("record %q not found", id), ErrNotFound)
		}
		return p.opError("delete record", err)
	}
	return nil
}

// SaveBatch validates the whole batch and checks for duplicates before
// writing anything. A failed write removes the records already written.
func (p *LocalProvider) SaveBatch(ctx context.Context, records []Record) error {
	start := time.Now()
	defer p.observe("save_batch", start)

	if len(records) == 0 {
		return nil
	}
	if err := p.ensureConnected(ctx); err != nil {
		return err
	}

	keys := make([]string, len(records))
	seen := make(map[string]struct{}, len(records))
	for i, rec := range records {
		if err := rec.Validate(); err != nil {
			return NewOperationError(p.name, "invalid record in batch", err)
		}
		if _, dup := seen[rec.ID]; dup {
			return NewOperationError(p.name, fmt.Sprintf("record %q appears twice in batch", rec.ID), ErrAlreadyExists)
		}
		seen[rec.ID] = struct{}{}
		keys[i] = p.key(rec.ID)
	}

	unlock := p.locks.LockKeys(keys)
	defer unlock()

	for i, key := range keys {
		exists, err := p.backend.Exists(ctx, key)
		if err != nil {
			return p.opError("check record", err)
		}
		if exists {
			return NewOperationError(p.name, fmt.Sprintf("record %q already exists", records[i].ID), ErrAlreadyExists)
		}
	}
	for i, key := range keys {
		if err := p.write(ctx, key, records[i]); err != nil {
			p.rollback(keys[:i])
			return err
		}
	}
	return nil
}

// rollback removes objects written by a batch that failed part way, so the
// batch leaves nothing behind and can be retried as a whole.
func (p *LocalProvider) rollback(keys []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, key := range keys {
		if err := p.backend.Delete(ctx, key); err != nil && !errors.Is(err, ErrNotFound) {
			p.logger.Error("failed to roll back batch write", "provider", p.name, "key", key, "error", err)
		}
	}
}

func (p *LocalProvider) read(ctx context.Context, key string) (Record, error) {
	data, err := p.backend.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Record{}, ErrNotFound
		}
		return Record{}, p.opError("read record", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, p.dropCorrupted(ctx, key, err)
	}
	if err := rec.Validate(); err != nil {
		return Record{}, p.dropCorrupted(ctx, key, err)
	}
	if id, _ := p.keys.ID(key); escapeID(rec.ID) != id {
		return Record{}, p.dropCorrupted(ctx, key, fmt.Errorf("stored id %q does not match key", rec.ID))
	}
	return rec, nil
}

// dropCorrupted clears an unreadable slot so the next read succeeds.
func (p *LocalProvider) dropCorrupted(ctx context.Context, key string, cause error) error {
	p.logger.Warn("clearing corrupted record", "provider", p.name, "key", key, "error", cause)
	p.metrics.Increment(MetricProviderCorrupted, "provider", p.name)
	if err := p.backend.Delete(ctx, key); err != nil && !errors.Is(err, ErrNotFound) {
		p.logger.Error("failed to clear corrupted record", "provider", p.name, "key", key, "error", err)
	}
	return NewOperationError(p.name, fmt.Sprintf("corrupted data at %s was cleared", key),
		fmt.Errorf("%w: %v", ErrCorruptedData, cause))
}

func (p *LocalProvider) write(ctx context.Context, key string, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return NewOperationError(p.name, "encode record", err)
	}
	if err := p.backend.Put(ctx, key, data); err != nil {
		return p.opError("write record", err)
	}
	return nil
}

// opError classifies backend failures: unreachable storage is ProviderUnavailable,
// anything else OperationFailed.
func (p *LocalProvider) opError(msg string, err error) error {
	p.metrics.Increment(MetricProviderErrors, "provider", p.name, "operation", msg)
	if errors.Is(err, ErrBackendUnavailable) {
		return NewUnavailableError(p.name, msg, err)
	}
	return classify(p.name, OperationFailed, msg, err)
}

func (p *LocalProvider) observe(op string, start time.Time) {
	p.metrics.Timing(MetricProviderLatency, time.Since(start), "provider", p.name, "operation", op)
}
