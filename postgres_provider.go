package recordbase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgUniqueViolation = "23505"

// PostgresProvider stores records as JSONB documents in
// <database>.<collection>(id text primary key, doc jsonb). The database
// name is used as a schema inside the connection's database.
type PostgresProvider struct {
	cfg     RemoteConfig
	poolCfg *pgxpool.Config
	table   string
	conn    *connectGroup
	logger  Logger
	metrics Metrics

	mu   sync.RWMutex
	pool *pgxpool.Pool
}

// NewPostgresProvider validates cfg. The pool is opened lazily.
func NewPostgresProvider(cfg RemoteConfig, opts ...RemoteOption) (*PostgresProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, NewConfigError(nameOr(cfg.Name, "postgres"), "invalid remote configuration", err)
	}
	if cfg.Scheme() != SchemePostgres {
		return nil, NewConfigError(nameOr(cfg.Name, "postgres"), "connection string is not a postgres URL", ErrInvalidConfig)
	}
	cfg = cfg.withDefaults()

	poolCfg, err := pgxpool.ParseConfig(cfg.ConnectionString)
	if err != nil {
		return nil, NewConfigError(cfg.Name, "invalid connection string", err)
	}
	poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	poolCfg.ConnConfig.RuntimeParams["statement_timeout"] = strconv.FormatInt(cfg.SocketTimeout.Milliseconds(), 10)
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	o := applyRemoteOptions(opts)
	return &PostgresProvider{
		cfg:     cfg,
		poolCfg: poolCfg,
		table:   pgx.Identifier{cfg.DatabaseName, cfg.CollectionName}.Sanitize(),
		conn:    newConnectGroup(cfg.Name),
		logger:  o.logger,
		metrics: o.metrics,
	}, nil
}

func (p *PostgresProvider) Name() string { return p.cfg.Name }

func (p *PostgresProvider) dial(ctx context.Context) (*pgxpool.Pool, error) {
	dialCtx, cancel := context.WithTimeout(ctx, p.cfg.ServerSelectionTimeout+p.cfg.ConnectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(dialCtx, p.poolCfg.Copy())
	if err != nil {
		return nil, NewConnectionError(p.Name(), "open pool", err)
	}
	if err := pool.Ping(dialCtx); err != nil {
		pool.Close()
		return nil, NewConnectionError(p.Name(), "ping failed", err)
	}
	return pool, nil
}

func (p *PostgresProvider) Connect(ctx context.Context) error {
	return p.conn.connect(ctx, func(ctx context.Context) error {
		pool, err := p.dial(ctx)
		if err != nil {
			return err
		}

		schema := pgx.Identifier{p.cfg.DatabaseName}.Sanitize()
		ddl := []string{
			fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema),
			fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (id TEXT PRIMARY KEY, doc JSONB NOT NULL)", p.table),
		}
		for _, stmt := range ddl {
			if _, err := pool.Exec(ctx, stmt); err != nil {
				pool.Close()
				return NewConnectionError(p.Name(), "ensure collection", err)
			}
		}

		p.mu.Lock()
		old := p.pool
		p.pool = pool
		p.mu.Unlock()
		if old != nil {
			old.Close()
		}

		p.logger.Info("connected to remote provider",
			"provider", p.Name(),
			"target", redactConnectionString(p.cfg.ConnectionString),
			"collection", p.table)
		return nil
	})
}

func (p *PostgresProvider) Disconnect(ctx context.Context) error {
	return p.conn.disconnect(func() error {
		p.mu.Lock()
		pool := p.pool
		p.pool = nil
		p.mu.Unlock()
		if pool != nil {
			pool.Close()
		}
		return nil
	})
}

func (p *PostgresProvider) Reconnect(ctx context.Context) error {
	if err := p.Disconnect(ctx); err != nil {
		p.logger.Warn("disconnect before reconnect failed", "provider", p.Name(), "error", err)
	}
	return p.Connect(ctx)
}

func (p *PostgresProvider) IsAvailable(ctx context.Context) bool {
	pool, err := p.live(ctx)
	if err != nil {
		return false
	}
	return pool.Ping(ctx) == nil
}

func (p *PostgresProvider) Status(ctx context.Context) StatusInfo {
	p.mu.RLock()
	pool := p.pool
	p.mu.RUnlock()

	if pool == nil || !p.conn.isConnected() {
		return p.conn.snapshot()
	}

	start := time.Now()
	if err := pool.Ping(ctx); err != nil {
		p.conn.markLost(NewConnectionError(p.Name(), "ping failed", err))
		return p.conn.snapshot()
	}
	info := p.conn.snapshot()
	info.LastChecked = Now()
	info.ConnectionDuration = time.Since(start)
	info.Message = fmt.Sprintf("connected to %s", p.table)
	return info
}

func (p *PostgresProvider) TestConnection(ctx context.Context) error {
	pool, err := p.dial(ctx)
	if err != nil {
		return err
	}
	pool.Close()
	return nil
}

// ConnectAttempts is the number of underlying connection attempts made so far.
func (p *PostgresProvider) ConnectAttempts() int64 { return p.conn.Attempts() }

func (p *PostgresProvider) live(ctx context.Context) (*pgxpool.Pool, error) {
	if err := p.Connect(ctx); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.pool == nil {
		return nil, NewUnavailableError(p.Name(), "pool closed", nil)
	}
	return p.pool, nil
}

func (p *PostgresProvider) GetAll(ctx context.Context) ([]Record, error) {
	defer p.observe("get_all", time.Now())

	pool, err := p.live(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, fmt.Sprintf("SELECT id, doc FROM %s ORDER BY id COLLATE \"C\"", p.table))
	if err != nil {
		return nil, p.opError("get all", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var id string
		var doc []byte
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, p.opError("scan", err)
		}
		var rec Record
		if err := json.Unmarshal(doc, &rec); err != nil {
			return nil, NewOperationError(p.Name(), fmt.Sprintf("decode document %q", id),
				fmt.Errorf("%w: %v", ErrCorruptedData, err))
		}
		if err := rec.Validate(); err != nil {
			return nil, NewOperationError(p.Name(), fmt.Sprintf("document %q failed validation", id),
				fmt.Errorf("%w: %v", ErrCorruptedData, err))
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, p.opError("get all", err)
	}
	if records == nil {
		records = []Record{}
	}
	return records, nil
}

func (p *PostgresProvider) Save(ctx context.Context, record Record) error {
	defer p.observe("save", time.Now())

	doc, err := p.encode(record)
	if err != nil {
		return err
	}
	pool, err := p.live(ctx)
	if err != nil {
		return err
	}

	tag, err := pool.Exec(ctx,
		fmt.Sprintf("INSERT INTO %s (id, doc) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING", p.table),
		record.ID, doc)
	if err != nil {
		return p.opError("save", err)
	}
	if tag.RowsAffected() == 0 {
		return NewOperationError(p.Name(), fmt.Sprintf("record %q already exists", record.ID), ErrAlreadyExists)
	}
	return nil
}

func (p *PostgresProvider) Update(ctx context.Context, record Record) error {
	defer p.observe("update", time.Now())

	doc, err := p.encode(record)
	if err != nil {
		return err
	}
	pool, err := p.live(ctx)
	if err != nil {
		return err
	}

	tag, err := pool.Exec(ctx, fmt.Sprintf("UPDATE %s SET doc = $2 WHERE id = $1", p.table), record.ID, doc)
	if err != nil {
		return p.opError("update", err)
	}
	if tag.RowsAffected() == 0 {
		return NewOperationError(p.Name(), fmt.Sprintf("record %q not found", record.ID), ErrNotFound)
	}
	return nil
}

func (p *PostgresProvider) Delete(ctx context.Context, id string) error {
	defer p.observe("delete", time.Now())

	pool, err := p.live(ctx)
	if err != nil {
		return err
	}

	tag, err := pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = $1", p.table), id)
	if err != nil {
		return p.opError("delete", err)
	}
	if tag.RowsAffected() == 0 {
		return NewOperationError(p.Name(), fmt.Sprintf("record %q not found", id), ErrNotFound)
	}
	return nil
}

// SaveBatch inserts all records in one transaction; a duplicate id rolls it back.
func (p *PostgresProvider) SaveBatch(ctx context.Context, records []Record) error {
	defer p.observe("save_batch", time.Now())

	if len(records) == 0 {
		return nil
	}
	docs := make([][]byte, len(records))
	for i, rec := range records {
		doc, err := p.encode(rec)
		if err != nil {
			return err
		}
		docs[i] = doc
	}

	pool, err := p.live(ctx)
	if err != nil {
		return err
	}

	insert := fmt.Sprintf("INSERT INTO %s (id, doc) VALUES ($1, $2)", p.table)
	err = pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for i, rec := range records {
			batch.Queue(insert, rec.ID, docs[i])
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return NewOperationError(p.Name(), "batch contains an id that already exists",
				fmt.Errorf("%w: %s", ErrAlreadyExists, pgErr.Detail))
		}
		return p.opError("save batch", err)
	}
	return nil
}

func (p *PostgresProvider) encode(record Record) ([]byte, error) {
	if err := record.Validate(); err != nil {
		return nil, NewOperationError(p.Name(), "invalid record", err)
	}
	data, err := json.Marshal(record)
	if err != nil {
		return nil, NewOperationError(p.Name(), "encode record", err)
	}
	return data, nil
}

func (p *PostgresProvider) opError(op string, err error) error {
	p.metrics.Increment(MetricProviderErrors, "provider", p.Name(), "operation", op)
	return NewOperationError(p.Name(), op+" failed", err)
}

func (p *PostgresProvider) observe(op string, start time.Time) {
	p.metrics.Timing(MetricProviderLatency, time.Since(start), "provider", p.Name(), "operation", op)
}
