package recordbase

import "time"

// Configuration constants for recordbase operations
const (
	// Provider retry configuration
	DefaultMaxRetries      = 3
	DefaultInitialDelay    = 100 * time.Millisecond
	DefaultMaxDelay        = 5 * time.Second
	DefaultBackoffMultiple = 2.0
	DefaultJitterPercent   = 0.5 // 50% jitter to avoid thundering herd
	DefaultRecoveryDelay   = 500 * time.Millisecond

	// Remote provider timeouts
	DefaultServerSelectionTimeout = 5 * time.Second
	DefaultConnectTimeout         = 10 * time.Second
	DefaultSocketTimeout          = 30 * time.Second

	// Migration configuration
	DefaultBatchSize        = 50
	DefaultImportRetries    = 3
	DefaultImportRetryDelay = 200 * time.Millisecond
	ExportFormatVersion     = "1.0"

	// File backend configuration
	DefaultFilePermissions   = 0644
	DefaultDirPermissions    = 0755
	DefaultListPaginatedSize = 100
)

// RetryConfig holds configuration for retry operations with exponential backoff
type RetryConfig struct {
	MaxRetries      int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	BackoffMultiple float64
	JitterPercent   float64
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      DefaultMaxRetries,
		InitialDelay:    DefaultInitialDelay,
		MaxDelay:        DefaultMaxDelay,
		BackoffMultiple: DefaultBackoffMultiple,
		JitterPercent:   DefaultJitterPercent,
	}
}

// Validate checks if the RetryConfig is valid
func (c RetryConfig) Validate() error {
	if c.MaxRetries < 0 {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "MaxRetries",
			"value":  c.MaxRetries,
			"reason": "must be non-negative",
		})
	}
	if c.InitialDelay < 0 {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "InitialDelay",
			"value":  c.InitialDelay,
			"reason": "must not be negative",
		})
	}
	if c.MaxDelay < c.InitialDelay {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "MaxDelay",
			"value":  c.MaxDelay,
			"reason": "must be >= InitialDelay",
		})
	}
	if c.BackoffMultiple < 1 {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "BackoffMultiple",
			"value":  c.BackoffMultiple,
			"reason": "must be >= 1",
		})
	}
	if c.JitterPercent < 0 || c.JitterPercent > 1 {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "JitterPercent",
			"value":  c.JitterPercent,
			"reason": "must be between 0 and 1",
		})
	}
	return nil
}

// nextDelay grows delay by the multiplier, adds jitter drawn from rnd in [0,1) and
// caps the result at MaxDelay.
func (c RetryConfig) nextDelay(delay time.Duration, rnd float64) time.Duration {
	jitter := time.Duration(float64(delay) * c.JitterPercent * rnd)
	next := time.Duration(float64(delay)*c.BackoffMultiple) + jitter
	if c.MaxDelay > 0 && next > c.MaxDelay {
		return c.MaxDelay
	}
	return next
}
