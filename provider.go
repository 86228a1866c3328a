package recordbase

import (
	"context"
	"time"
)

// Provider is the record-store contract every backend variant implements.
//
// Errors returned by a Provider are always *ProviderError so the engine can
// classify them without knowing which variant produced them.
type Provider interface {
	// Name identifies the provider in the manager registry, errors and backups.
	Name() string

	GetAll(ctx context.Context) ([]Record, error)
	Save(ctx context.Context, record Record) error
	Update(ctx context.Context, record Record) error
	Delete(ctx context.Context, id string) error
	SaveBatch(ctx context.Context, records []Record) error

	// IsAvailable reports whether the provider can serve requests right now.
	IsAvailable(ctx context.Context) bool

	// Connect is idempotent. Concurrent callers share one in-flight attempt.
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
}

// StatusProvider is implemented by providers that can report detailed health.
type StatusProvider interface {
	Provider

	// Status re-checks liveness instead of trusting cached state.
	Status(ctx context.Context) StatusInfo

	// TestConnection opens a throwaway connection; the live session is untouched.
	TestConnection(ctx context.Context) error

	// Reconnect disconnects and connects again.
	Reconnect(ctx context.Context) error
}

// ProviderStatus is the coarse health state of a provider.
type ProviderStatus string

const (
	StatusConnected    ProviderStatus = "connected"
	StatusDisconnected ProviderStatus = "disconnected"
	StatusConnecting   ProviderStatus = "connecting"
	StatusError        ProviderStatus = "error"
	StatusUnavailable  ProviderStatus = "unavailable"
)

// StatusInfo is a point-in-time health report for one provider.
type StatusInfo struct {
	Provider           string         `json:"provider"`
	Status             ProviderStatus `json:"status"`
	Message            string         `json:"message"`
	LastChecked        time.Time      `json:"lastChecked"`
	ConnectionDuration time.Duration  `json:"connectionDuration,omitempty"`
	Err                error          `json:"-"`
}

// Healthy reports whether the provider was connected at LastChecked.
func (s StatusInfo) Healthy() bool {
	return s.Status == StatusConnected
}

func errorStatus(provider string, err error) StatusInfo {
	return StatusInfo{
		Provider:    provider,
		Status:      StatusError,
		Message:     err.Error(),
		LastChecked: Now(),
		Err:         err,
	}
}
