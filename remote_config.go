package recordbase

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// RemoteConfig configures a remote document-store provider.
type RemoteConfig struct {
	// Name overrides the provider name; defaults to the scheme family ("redis", "postgres").
	Name string

	ConnectionString string
	DatabaseName     string
	CollectionName   string

	// Bounds enforced by the driver. Zero means the package default.
	ServerSelectionTimeout time.Duration
	ConnectTimeout         time.Duration
	SocketTimeout          time.Duration
}

// RemoteScheme identifies the document-store family behind a connection string.
type RemoteScheme string

const (
	SchemeRedis    RemoteScheme = "redis"
	SchemePostgres RemoteScheme = "postgres"
)

var schemePrefixes = []struct {
	prefix string
	scheme RemoteScheme
}{
	{"redis://", SchemeRedis},
	{"rediss://", SchemeRedis},
	{"postgres://", SchemePostgres},
	{"postgresql://", SchemePostgres},
}

// identifier restricts database/collection names so they are safe as key
// prefixes and SQL identifiers.
var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Scheme returns the document-store family, or "" for an unrecognized prefix.
func (c RemoteConfig) Scheme() RemoteScheme {
	for _, sp := range schemePrefixes {
		if strings.HasPrefix(strings.ToLower(c.ConnectionString), sp.prefix) {
			return sp.scheme
		}
	}
	return ""
}

// Validate checks required fields and the connection-string scheme.
func (c RemoteConfig) Validate() error {
	if strings.TrimSpace(c.ConnectionString) == "" {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "ConnectionString",
			"reason": "connection string is required",
		})
	}
	if c.Scheme() == "" {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "ConnectionString",
			"reason": "unrecognized scheme (expected redis://, rediss://, postgres:// or postgresql://)",
		})
	}
	if strings.TrimSpace(c.DatabaseName) == "" {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "DatabaseName",
			"reason": "database name is required",
		})
	}
	if strings.TrimSpace(c.CollectionName) == "" {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "CollectionName",
			"reason": "collection name is required",
		})
	}
	for field, v := range map[string]string{"DatabaseName": c.DatabaseName, "CollectionName": c.CollectionName} {
		if !identifier.MatchString(v) {
			return WithContext(ErrInvalidConfig, map[string]interface{}{
				"field":  field,
				"value":  v,
				"reason": "must start with a letter or underscore and contain only letters, digits and underscores",
			})
		}
	}
	if c.ServerSelectionTimeout < 0 || c.ConnectTimeout < 0 || c.SocketTimeout < 0 {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "timeouts",
			"reason": "timeouts must not be negative",
		})
	}
	return nil
}

// withDefaults fills zero timeouts and the name.
func (c RemoteConfig) withDefaults() RemoteConfig {
	if c.ServerSelectionTimeout == 0 {
		c.ServerSelectionTimeout = DefaultServerSelectionTimeout
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.SocketTimeout == 0 {
		c.SocketTimeout = DefaultSocketTimeout
	}
	if c.Name == "" {
		c.Name = string(c.Scheme())
	}
	return c
}

// RemoteOption configures remote providers.
type RemoteOption func(*remoteOptions)

type remoteOptions struct {
	logger  Logger
	metrics Metrics
}

// WithRemoteLogger sets the logger.
func WithRemoteLogger(logger Logger) RemoteOption {
	return func(o *remoteOptions) { o.logger = loggerOrNoop(logger) }
}

// WithRemoteMetrics sets the metrics sink.
func WithRemoteMetrics(metrics Metrics) RemoteOption {
	return func(o *remoteOptions) { o.metrics = metricsOrNoop(metrics) }
}

func applyRemoteOptions(opts []RemoteOption) remoteOptions {
	o := remoteOptions{logger: &NoOpLogger{}, metrics: &NoOpMetrics{}}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewRemoteProvider validates cfg and returns the variant matching its scheme.
// Nothing is dialed until Connect or the first operation.
func NewRemoteProvider(cfg RemoteConfig, opts ...RemoteOption) (StatusProvider, error) {
	name := cfg.Name
	if name == "" {
		name = "remote"
	}
	if err := cfg.Validate(); err != nil {
		return nil, NewConfigError(name, "invalid remote configuration", err)
	}

	switch cfg.Scheme() {
	case SchemeRedis:
		p, err := NewRedisProvider(cfg, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	case SchemePostgres:
		p, err := NewPostgresProvider(cfg, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, NewConfigError(name, fmt.Sprintf("unsupported scheme in %q", redactConnectionString(cfg.ConnectionString)), ErrInvalidConfig)
	}
}

// redactConnectionString hides credentials for logs and error messages.
func redactConnectionString(s string) string {
	schemeEnd := strings.Index(s, "://")
	at := strings.LastIndex(s, "@")
	if schemeEnd < 0 || at < schemeEnd {
		return s
	}
	return s[:schemeEnd+3] + "***" + s[at:]
}
