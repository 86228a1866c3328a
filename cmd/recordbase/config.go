package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/adrianmcphee/recordbase"
)

// config is everything the CLI reads from flags, RECORDBASE_* variables and .env files.
type config struct {
	Backend recordbase.BackendConfig
	Remote  *recordbase.RemoteConfig

	Provider string
	Fallback string

	Retry            recordbase.RetryConfig
	BreakerFailures  int
	BreakerReset     time.Duration
	OperationTimeout time.Duration

	RedisLockURL string

	LogLevel    string
	LogConsole  bool
	MetricsAddr string
}

func setupFlags(cmd *cobra.Command) {
	f := cmd.PersistentFlags()

	f.String("data", "./data", "data directory (filesystem backend) or bucket name")
	f.String("backend", "filesystem", "blob backend for local records and backups: filesystem, s3, minio, gcs")
	f.String("backend-region", "", "AWS region (s3)")
	f.String("backend-endpoint", "", "S3-compatible endpoint (s3, minio)")
	f.String("backend-access-key", "", "access key id (minio)")
	f.String("backend-secret-key", "", "secret access key (minio)")
	f.Bool("backend-ssl", false, "use TLS for the minio endpoint")
	f.String("gcs-project", "", "GCP project id (gcs)")
	f.String("gcs-credentials", "", "service account credentials file (gcs)")

	f.String("remote-url", "", "remote provider URL: redis://, rediss://, postgres:// or postgresql://")
	f.String("remote-database", "recordbase", "remote database name")
	f.String("remote-collection", "records", "remote collection name")
	f.String("remote-name", "", "remote provider name (default: redis or postgres)")
	f.Duration("server-selection-timeout", recordbase.DefaultServerSelectionTimeout, "remote server selection timeout")
	f.Duration("connect-timeout", recordbase.DefaultConnectTimeout, "remote connect timeout")
	f.Duration("socket-timeout", recordbase.DefaultSocketTimeout, "remote socket timeout")

	f.String("provider", "", "provider to make active (default: remote if configured, else local)")
	f.String("fallback", recordbase.LocalProviderName, "fallback provider")

	f.Int("max-retries", recordbase.DefaultMaxRetries, "retries per provider before falling back")
	f.Duration("initial-delay", recordbase.DefaultInitialDelay, "first retry delay")
	f.Duration("max-delay", recordbase.DefaultMaxDelay, "maximum retry delay")
	f.Int("breaker-failures", 0, "consecutive failures that open a provider's circuit breaker (0 disables)")
	f.Duration("breaker-reset", 30*time.Second, "time an open breaker waits before a trial call")
	f.Duration("timeout", 2*time.Minute, "overall timeout for one command")

	f.String("lock-redis", "", "redis:// URL of a Redis used to lock migrations across processes")

	f.String("log-level", "warn", "log level: debug, info, warn, error")
	f.Bool("log-console", true, "human-readable logs instead of JSON")
	f.String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")

	_ = viper.BindPFlags(f)
}

// initConfig loads .env files and maps RECORDBASE_* variables onto flags.
func initConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("recordbase")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func loadConfig() (*config, error) {
	cfg := &config{
		Backend: recordbase.BackendConfig{
			Type:     viper.GetString("backend"),
			Bucket:   viper.GetString("data"),
			Region:   viper.GetString("backend-region"),
			Endpoint: viper.GetString("backend-endpoint"),
			Options: map[string]string{
				"access_key_id":     viper.GetString("backend-access-key"),
				"secret_access_key": viper.GetString("backend-secret-key"),
				"use_ssl":           fmt.Sprint(viper.GetBool("backend-ssl")),
				"project_id":        viper.GetString("gcs-project"),
				"credentials_file":  viper.GetString("gcs-credentials"),
			},
		},
		Provider: viper.GetString("provider"),
		Fallback: viper.GetString("fallback"),
		Retry: recordbase.RetryConfig{
			MaxRetries:      viper.GetInt("max-retries"),
			InitialDelay:    viper.GetDuration("initial-delay"),
			MaxDelay:        viper.GetDuration("max-delay"),
			BackoffMultiple: recordbase.DefaultBackoffMultiple,
			JitterPercent:   recordbase.DefaultJitterPercent,
		},
		BreakerFailures:  viper.GetInt("breaker-failures"),
		BreakerReset:     viper.GetDuration("breaker-reset"),
		OperationTimeout: viper.GetDuration("timeout"),
		RedisLockURL:     viper.GetString("lock-redis"),
		LogLevel:         viper.GetString("log-level"),
		LogConsole:       viper.GetBool("log-console"),
		MetricsAddr:      viper.GetString("metrics-addr"),
	}

	if url := viper.GetString("remote-url"); url != "" {
		cfg.Remote = &recordbase.RemoteConfig{
			Name:                   viper.GetString("remote-name"),
			ConnectionString:       url,
			DatabaseName:           viper.GetString("remote-database"),
			CollectionName:         viper.GetString("remote-collection"),
			ServerSelectionTimeout: viper.GetDuration("server-selection-timeout"),
			ConnectTimeout:         viper.GetDuration("connect-timeout"),
			SocketTimeout:          viper.GetDuration("socket-timeout"),
		}
		if err := cfg.Remote.Validate(); err != nil {
			return nil, err
		}
	}
	if err := cfg.Backend.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Retry.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
