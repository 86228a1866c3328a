package recordbase

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Sentinel errors for common conditions
var (
	// Data errors
	ErrNotFound      = errors.New("record not found")
	ErrAlreadyExists = errors.New("record already exists")
	ErrInvalidRecord = errors.New("invalid record")
	ErrCorruptedData = errors.New("corrupted stored data")

	// Backend errors
	ErrBackendUnavailable = errors.New("backend unavailable")
	ErrUnauthorized       = errors.New("unauthorized access")
	ErrTimeout            = errors.New("operation timed out")

	// Lock errors
	ErrLockHeld = errors.New("lock already held by another process")

	// Migration errors
	ErrMigrationInProgress = errors.New("migration already in progress")
	ErrMigrationCancelled  = errors.New("migration cancelled")
	ErrChecksumMismatch    = errors.New("checksum mismatch")
	ErrCountMismatch       = errors.New("record count mismatch")
	ErrTargetNotEmpty      = errors.New("target provider is not empty")
	ErrBackupNotFound      = errors.New("backup not found")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
)

// ErrorKind classifies provider failures.
type ErrorKind int

const (
	ConnectionFailed ErrorKind = iota + 1
	OperationFailed
	ProviderUnavailable
	InvalidConfiguration
)

func (k ErrorKind) String() string {
	switch k {
	case ConnectionFailed:
		return "ConnectionFailed"
	case OperationFailed:
		return "OperationFailed"
	case ProviderUnavailable:
		return "ProviderUnavailable"
	case InvalidConfiguration:
		return "InvalidConfiguration"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// Kind sentinels. errors.Is(err, ErrConnectionFailed) matches any ProviderError of that kind.
var (
	ErrConnectionFailed     = &kindSentinel{ConnectionFailed}
	ErrOperationFailed      = &kindSentinel{OperationFailed}
	ErrProviderUnavailable  = &kindSentinel{ProviderUnavailable}
	ErrInvalidConfiguration = &kindSentinel{InvalidConfiguration}
)

type kindSentinel struct{ kind ErrorKind }

func (s *kindSentinel) Error() string { return s.kind.String() }

// ProviderError is the only error type that escapes a Provider boundary.
type ProviderError struct {
	Kind     ErrorKind
	Message  string
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Provider != "" {
		b.WriteString(" [")
		b.WriteString(e.Provider)
		b.WriteString("]")
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Is matches the kind sentinels.
func (e *ProviderError) Is(target error) bool {
	if s, ok := target.(*kindSentinel); ok {
		return s.kind == e.Kind
	}
	return false
}

// NewConnectionError reports a failure to establish or keep a connection.
func NewConnectionError(provider, msg string, cause error) error {
	return &ProviderError{Kind: ConnectionFailed, Provider: provider, Message: msg, Err: cause}
}

// NewOperationError reports a failed CRUD operation.
func NewOperationError(provider, msg string, cause error) error {
	return &ProviderError{Kind: OperationFailed, Provider: provider, Message: msg, Err: cause}
}

// NewUnavailableError reports a provider that can't serve requests right now.
func NewUnavailableError(provider, msg string, cause error) error {
	return &ProviderError{Kind: ProviderUnavailable, Provider: provider, Message: msg, Err: cause}
}

// NewConfigError reports configuration a human has to fix.
func NewConfigError(provider, msg string, cause error) error {
	return &ProviderError{Kind: InvalidConfiguration, Provider: provider, Message: msg, Err: cause}
}

// AsProviderError extracts the ProviderError from err's chain.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// classify converts any error into a ProviderError of the given kind, keeping
// an existing classification intact.
func classify(provider string, kind ErrorKind, msg string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := AsProviderError(err); ok {
		return err
	}
	return &ProviderError{Kind: kind, Provider: provider, Message: msg, Err: err}
}

// ErrorWithContext adds additional context to errors for better debugging and logging
type ErrorWithContext struct {
	Err     error
	Context map[string]interface{}
}

func (e *ErrorWithContext) Error() string {
	if len(e.Context) == 0 {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v (context: %+v)", e.Err, e.Context)
}

func (e *ErrorWithContext) Unwrap() error {
	return e.Err
}

// WithContext adds context to an error
func WithContext(err error, context map[string]interface{}) error {
	if err == nil {
		return nil
	}
	return &ErrorWithContext{
		Err:     err,
		Context: context,
	}
}

// IsNotFound checks if an error is a "not found" error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks for duplicate-id rejections
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// networkMarkers are matched case-insensitively against an OperationFailed cause chain.
var networkMarkers = []string{
	"network",
	"timeout",
	"timed out",
	"connection",
	"econnrefused",
	"econnreset",
	"enotfound",
	"socket",
	"broken pipe",
	"eof",
}

// IsRetryable decides whether an operation may be attempted again against the same provider.
//
// ConnectionFailed and ProviderUnavailable always qualify. OperationFailed qualifies only
// when its cause looks like a transport problem. InvalidConfiguration never does.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	pe, ok := AsProviderError(err)
	if !ok {
		return isNetworkError(err)
	}
	switch pe.Kind {
	case ConnectionFailed, ProviderUnavailable:
		return true
	case OperationFailed:
		if pe.Err == nil || isDataError(pe.Err) {
			return false
		}
		return isNetworkError(pe.Err)
	default:
		return false
	}
}

// IsPermanent checks if an error is permanent (not retryable)
func IsPermanent(err error) bool {
	return err != nil && !IsRetryable(err)
}

func isDataError(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrAlreadyExists) ||
		errors.Is(err, ErrInvalidRecord) ||
		errors.Is(err, ErrCorruptedData)
}

func isNetworkError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrTimeout) || errors.Is(err, ErrBackendUnavailable) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range networkMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
