package recordbase

import (
	"fmt"
	"os"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// RedisOptions builds options for the migration lock's Redis from REDIS_ADDR
// (localhost:6379 when unset), REDIS_PASSWORD and REDIS_DB (0 when unset).
func RedisOptions() *redis.Options {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	return &redis.Options{
		Addr:     addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       getEnvAsInt("REDIS_DB", 0),
	}
}

// redisOptionsFromConfig parses cfg.ConnectionString and applies the provider timeouts:
// server selection maps to the pool wait, connect to the dial, socket to reads and writes.
func redisOptionsFromConfig(cfg RemoteConfig) (*redis.Options, error) {
	opts, err := redis.ParseURL(cfg.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("parse redis connection string: %w", err)
	}

	opts.PoolTimeout = cfg.ServerSelectionTimeout
	opts.DialTimeout = cfg.ConnectTimeout
	opts.ReadTimeout = cfg.SocketTimeout
	opts.WriteTimeout = cfg.SocketTimeout
	// The retry engine owns retries; the driver must fail fast.
	opts.MaxRetries = -1
	return opts, nil
}

// getEnvAsInt reads key as an integer; unset or malformed values yield def.
func getEnvAsInt(key string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return def
}
