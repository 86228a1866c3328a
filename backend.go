package recordbase

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
)

// Backend is the blob store underneath the local provider and the backup store.
// Keys are slash-separated paths; List returns every key under prefix.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]string, error)

	// Health check
	Ping(ctx context.Context) error

	// Resource cleanup
	Close() error
}

// BackendConfig holds configuration for any backend
type BackendConfig struct {
	Type     string            // "filesystem", "s3", "minio", "gcs"
	Bucket   string            // bucket name or base directory
	Region   string            // AWS region (s3 only)
	Endpoint string            // custom endpoint (minio, S3-compatible services)
	Options  map[string]string // backend-specific options
}

// Validate checks if the BackendConfig is valid
func (c BackendConfig) Validate() error {
	if c.Type == "" {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "Type",
			"reason": "backend type is required",
		})
	}
	if c.Bucket == "" {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "Bucket",
			"reason": "bucket/base path is required",
		})
	}

	switch c.Type {
	case "s3":
		if c.Region == "" && c.Endpoint == "" {
			return WithContext(ErrInvalidConfig, map[string]interface{}{
				"field":  "Region/Endpoint",
				"reason": "S3 backend requires either Region or Endpoint",
			})
		}
	case "minio":
		if c.Endpoint == "" {
			return WithContext(ErrInvalidConfig, map[string]interface{}{
				"field":  "Endpoint",
				"reason": "MinIO backend requires an endpoint",
			})
		}
	case "filesystem", "gcs":
	default:
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "Type",
			"value":  c.Type,
			"reason": "unknown backend type",
		})
	}

	return nil
}

// NewBackend builds the backend described by cfg.
//
// Options understood: "access_key_id", "secret_access_key", "use_ssl" (minio),
// "project_id", "credentials_file" (gcs).
func NewBackend(ctx context.Context, cfg BackendConfig) (Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Type {
	case "s3":
		return NewS3BackendFromConfig(ctx, cfg.Bucket, cfg.Region, cfg.Endpoint)
	case "minio":
		useSSL, _ := strconv.ParseBool(cfg.Options["use_ssl"])
		return NewMinIOBackend(MinIOConfig{
			Endpoint:        cfg.Endpoint,
			AccessKeyID:     cfg.Options["access_key_id"],
			SecretAccessKey: cfg.Options["secret_access_key"],
			UseSSL:          useSSL,
			Bucket:          cfg.Bucket,
		})
	case "gcs":
		return NewGCSBackend(ctx, GCSConfig{
			ProjectID:       cfg.Options["project_id"],
			Bucket:          cfg.Bucket,
			CredentialsFile: cfg.Options["credentials_file"],
		})
	default:
		return NewFilesystemBackend(cfg.Bucket)
	}
}

// mapTransportError marks network failures talking to a remote object store
// as ErrBackendUnavailable, keeping the original error in the chain.
func mapTransportError(err error) error {
	if err == nil || errors.Is(err, ErrBackendUnavailable) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
	}
	return err
}
