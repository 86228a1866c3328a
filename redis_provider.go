package recordbase

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisProvider stores records as JSON documents in one Redis hash per
// collection: <database>:<collection> maps id → document. HSETNX on that
// hash is the uniqueness constraint on id.
type RedisProvider struct {
	cfg     RemoteConfig
	opts    *redis.Options
	conn    *connectGroup
	logger  Logger
	metrics Metrics

	mu     sync.RWMutex
	client *redis.Client
}

// updateScript replaces a document only if it exists.
var updateScript = redis.NewScript(`
if redis.call("HEXISTS", KEYS[1], ARGV[1]) == 1 then
	redis.call("HSET", KEYS[1], ARGV[1], ARGV[2])
	return 1
end
return 0
`)

// saveBatchScript inserts id/document pairs atomically. It returns the first
// id that already exists and writes nothing in that case.
var saveBatchScript = redis.NewScript(`
for i = 1, #ARGV, 2 do
	if redis.call("HEXISTS", KEYS[1], ARGV[i]) == 1 then
		return ARGV[i]
	end
end
for i = 1, #ARGV, 2 do
	redis.call("HSET", KEYS[1], ARGV[i], ARGV[i + 1])
end
return ""
`)

// NewRedisProvider validates cfg. The connection is opened lazily.
func NewRedisProvider(cfg RemoteConfig, opts ...RemoteOption) (*RedisProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, NewConfigError(nameOr(cfg.Name, "redis"), "invalid remote configuration", err)
	}
	if cfg.Scheme() != SchemeRedis {
		return nil, NewConfigError(nameOr(cfg.Name, "redis"), "connection string is not a redis URL", ErrInvalidConfig)
	}
	cfg = cfg.withDefaults()

	redisOpts, err := redisOptionsFromConfig(cfg)
	if err != nil {
		return nil, NewConfigError(cfg.Name, "invalid connection string", err)
	}

	o := applyRemoteOptions(opts)
	return &RedisProvider{
		cfg:     cfg,
		opts:    redisOpts,
		conn:    newConnectGroup(cfg.Name),
		logger:  o.logger,
		metrics: o.metrics,
	}, nil
}

func (p *RedisProvider) Name() string { return p.cfg.Name }

func (p *RedisProvider) collectionKey() string {
	return p.cfg.DatabaseName + ":" + p.cfg.CollectionName
}

func (p *RedisProvider) indexKey() string {
	return p.collectionKey() + ":indexes"
}

func (p *RedisProvider) Connect(ctx context.Context) error {
	return p.conn.connect(ctx, func(ctx context.Context) error {
		client := redis.NewClient(p.opts)

		pingCtx, cancel := context.WithTimeout(ctx, p.cfg.ServerSelectionTimeout+p.cfg.ConnectTimeout)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return NewConnectionError(p.Name(), "ping failed", err)
		}
		if err := client.HSet(pingCtx, p.indexKey(), "id", "unique").Err(); err != nil {
			client.Close()
			return NewConnectionError(p.Name(), "ensure id index", err)
		}

		p.mu.Lock()
		old := p.client
		p.client = client
		p.mu.Unlock()
		if old != nil {
			old.Close()
		}

		p.logger.Info("connected to remote provider",
			"provider", p.Name(),
			"target", redactConnectionString(p.cfg.ConnectionString),
			"collection", p.collectionKey())
		return nil
	})
}

func (p *RedisProvider) Disconnect(ctx context.Context) error {
	err := p.conn.disconnect(func() error {
		p.mu.Lock()
		client := p.client
		p.client = nil
		p.mu.Unlock()
		if client == nil {
			return nil
		}
		return client.Close()
	})
	if err != nil {
		return NewConnectionError(p.Name(), "close client", err)
	}
	return nil
}

func (p *RedisProvider) Reconnect(ctx context.Context) error {
	if err := p.Disconnect(ctx); err != nil {
		p.logger.Warn("disconnect before reconnect failed", "provider", p.Name(), "error", err)
	}
	return p.Connect(ctx)
}

// IsAvailable connects if needed and pings.
func (p *RedisProvider) IsAvailable(ctx context.Context) bool {
	client, err := p.live(ctx)
	if err != nil {
		return false
	}
	return client.Ping(ctx).Err() == nil
}

// Status pings the live client and reports the measured round trip.
func (p *RedisProvider) Status(ctx context.Context) StatusInfo {
	p.mu.RLock()
	client := p.client
	p.mu.RUnlock()

	if client == nil || !p.conn.isConnected() {
		return p.conn.snapshot()
	}

	start := time.Now()
	if err := client.Ping(ctx).Err(); err != nil {
		p.conn.markLost(NewConnectionError(p.Name(), "ping failed", err))
		return p.conn.snapshot()
	}
	info := p.conn.snapshot()
	info.LastChecked = Now()
	info.ConnectionDuration = time.Since(start)
	info.Message = fmt.Sprintf("connected to %s", p.collectionKey())
	return info
}

// TestConnection dials a separate client and closes it.
func (p *RedisProvider) TestConnection(ctx context.Context) error {
	client := redis.NewClient(p.opts)
	defer client.Close()

	pingCtx, cancel := context.WithTimeout(ctx, p.cfg.ServerSelectionTimeout+p.cfg.ConnectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return NewConnectionError(p.Name(), "test connection failed", err)
	}
	return nil
}

// ConnectAttempts is the number of underlying connection attempts made so far.
func (p *RedisProvider) ConnectAttempts() int64 { return p.conn.Attempts() }

func (p *RedisProvider) live(ctx context.Context) (*redis.Client, error) {
	if err := p.Connect(ctx); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.client == nil {
		return nil, NewUnavailableError(p.Name(), "client closed", nil)
	}
	return p.client, nil
}

func (p *RedisProvider) GetAll(ctx context.Context) ([]Record, error) {
	defer p.observe("get_all", time.Now())

	client, err := p.live(ctx)
	if err != nil {
		return nil, err
	}

	docs, err := client.HGetAll(ctx, p.collectionKey()).Result()
	if err != nil {
		return nil, p.opError("get all", err)
	}

	records := make([]Record, 0, len(docs))
	for id, doc := range docs {
		var rec Record
		if err := json.Unmarshal([]byte(doc), &rec); err != nil {
			return nil, NewOperationError(p.Name(), fmt.Sprintf("decode document %q", id),
				fmt.Errorf("%w: %v", ErrCorruptedData, err))
		}
		if err := rec.Validate(); err != nil {
			return nil, NewOperationError(p.Name(), fmt.Sprintf("document %q failed validation", id),
				fmt.Errorf("%w: %v", ErrCorruptedData, err))
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records, nil
}

func (p *RedisProvider) Save(ctx context.Context, record Record) error {
	defer p.observe("save", time.Now())

	doc, err := p.encode(record)
	if err != nil {
		return err
	}
	client, err := p.live(ctx)
	if err != nil {
		return err
	}

	created, err := client.HSetNX(ctx, p.collectionKey(), record.ID, doc).Result()
	if err != nil {
		return p.opError("save", err)
	}
	if !created {
		return NewOperationError(p.Name(), fmt.Sprintf("record %q already exists", record.ID), ErrAlreadyExists)
	}
	return nil
}

func (p *RedisProvider) Update(ctx context.Context, record Record) error {
	defer p.observe("update", time.Now())

	doc, err := p.encode(record)
	if err != nil {
		return err
	}
	client, err := p.live(ctx)
	if err != nil {
		return err
	}

	updated, err := updateScript.Run(ctx, client, []string{p.collectionKey()}, record.ID, doc).Int()
	if err != nil {
		return p.opError("update", err)
	}
	if updated == 0 {
		return NewOperationError(p.Name(), fmt.Sprintf("record %q not found", record.ID), ErrNotFound)
	}
	return nil
}

func (p *RedisProvider) Delete(ctx context.Context, id string) error {
	defer p.observe("delete", time.Now())

	client, err := p.live(ctx)
	if err != nil {
		return err
	}

	removed, err := client.HDel(ctx, p.collectionKey(), id).Result()
	if err != nil {
		return p.opError("delete", err)
	}
	if removed == 0 {
		return NewOperationError(p.Name(), fmt.Sprintf("record %q not found", id), ErrNotFound)
	}
	return nil
}

// SaveBatch inserts all records atomically or none of them.
func (p *RedisProvider) SaveBatch(ctx context.Context, records []Record) error {
	defer p.observe("save_batch", time.Now())

	if len(records) == 0 {
		return nil
	}

	args := make([]interface{}, 0, len(records)*2)
	seen := make(map[string]struct{}, len(records))
	for _, rec := range records {
		if _, dup := seen[rec.ID]; dup {
			return NewOperationError(p.Name(), fmt.Sprintf("record %q appears twice in batch", rec.ID), ErrAlreadyExists)
		}
		seen[rec.ID] = struct{}{}
		doc, err := p.encode(rec)
		if err != nil {
			return err
		}
		args = append(args, rec.ID, doc)
	}

	client, err := p.live(ctx)
	if err != nil {
		return err
	}

	dup, err := saveBatchScript.Run(ctx, client, []string{p.collectionKey()}, args...).Text()
	if err != nil {
		return p.opError("save batch", err)
	}
	if dup != "" {
		return NewOperationError(p.Name(), fmt.Sprintf("record %q already exists", dup), ErrAlreadyExists)
	}
	return nil
}

func (p *RedisProvider) encode(record Record) (string, error) {
	if err := record.Validate(); err != nil {
		return "", NewOperationError(p.Name(), "invalid record", err)
	}
	data, err := json.Marshal(record)
	if err != nil {
		return "", NewOperationError(p.Name(), "encode record", err)
	}
	return string(data), nil
}

func (p *RedisProvider) opError(op string, err error) error {
	p.metrics.Increment(MetricProviderErrors, "provider", p.Name(), "operation", op)
	return NewOperationError(p.Name(), op+" failed", err)
}

func (p *RedisProvider) observe(op string, start time.Time) {
	p.metrics.Timing(MetricProviderLatency, time.Since(start), "provider", p.Name(), "operation", op)
}

func nameOr(name, fallback string) string {
	if name != "" {
		return name
	}
	return fallback
}
