package recordbase

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// Op is one unit of work against a provider. The engine may call it several
// times and against more than one provider.
type Op[T any] func(ctx context.Context, p Provider) (T, error)

// Engine executes provider operations with retry, exponential backoff and
// fallback to a secondary provider.
type Engine struct {
	cfg           RetryConfig
	recoveryDelay time.Duration
	logger        Logger
	metrics       Metrics
	notifier      Notifier

	sleep  func(ctx context.Context, d time.Duration) error
	random func() float64

	breakerMaxFailures  int
	breakerResetTimeout time.Duration
	breakerMu           sync.Mutex
	breakers            map[string]*CircuitBreaker
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithRetryConfig replaces DefaultRetryConfig.
func WithRetryConfig(cfg RetryConfig) EngineOption {
	return func(e *Engine) { e.cfg = cfg }
}

// WithRecoveryDelay sets the base wait between recovery attempts.
// Attempt n waits n*d.
func WithRecoveryDelay(d time.Duration) EngineOption {
	return func(e *Engine) { e.recoveryDelay = d }
}

func WithEngineLogger(logger Logger) EngineOption {
	return func(e *Engine) { e.logger = loggerOrNoop(logger) }
}

func WithEngineMetrics(metrics Metrics) EngineOption {
	return func(e *Engine) { e.metrics = metricsOrNoop(metrics) }
}

// WithNotifier sets the sink for retry, fallback and recovery notifications.
func WithNotifier(n Notifier) EngineOption {
	return func(e *Engine) {
		if n != nil {
			e.notifier = n
		}
	}
}

// WithCircuitBreaker enables one breaker per provider name. Only retryable
// failures count against a breaker.
func WithCircuitBreaker(maxFailures int, resetTimeout time.Duration) EngineOption {
	return func(e *Engine) {
		e.breakerMaxFailures = maxFailures
		e.breakerResetTimeout = resetTimeout
	}
}

// WithSleep overrides the inter-attempt wait. Tests use it to avoid real delays.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) EngineOption {
	return func(e *Engine) {
		if fn != nil {
			e.sleep = fn
		}
	}
}

// WithRandom overrides the jitter source; fn must return values in [0, 1).
func WithRandom(fn func() float64) EngineOption {
	return func(e *Engine) {
		if fn != nil {
			e.random = fn
		}
	}
}

// NewEngine creates an engine. The retry configuration is validated.
func NewEngine(opts ...EngineOption) (*Engine, error) {
	e := &Engine{
		cfg:           DefaultRetryConfig(),
		recoveryDelay: DefaultRecoveryDelay,
		logger:        &NoOpLogger{},
		metrics:       &NoOpMetrics{},
		notifier:      noopNotifier{},
		sleep:         sleepContext,
		random:        rand.Float64,
		breakers:      make(map[string]*CircuitBreaker),
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.cfg.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// RetryConfig returns the engine's retry configuration.
func (e *Engine) RetryConfig() RetryConfig { return e.cfg }

// Breaker returns the circuit breaker for a provider, or nil when breakers are disabled.
func (e *Engine) Breaker(provider string) *CircuitBreaker {
	if e.breakerMaxFailures <= 0 {
		return nil
	}
	e.breakerMu.Lock()
	defer e.breakerMu.Unlock()

	cb, ok := e.breakers[provider]
	if !ok {
		cb = NewCircuitBreaker(e.breakerMaxFailures, e.breakerResetTimeout).
			WithFailureFilter(IsRetryable).
			WithStateChangeCallback(func(from, to BreakerState) {
				e.logger.Warn("circuit breaker state changed", "provider", provider, "from", string(from), "to", string(to))
			})
		e.breakers[provider] = cb
	}
	return cb
}

// call runs op once. rejected is true when an open breaker short-circuited it.
func call[T any](ctx context.Context, e *Engine, p Provider, op Op[T]) (result T, rejected bool, err error) {
	cb := e.Breaker(p.Name())
	if cb == nil {
		result, err = op(ctx, p)
		return result, false, err
	}

	called := false
	err = cb.Execute(ctx, func() error {
		called = true
		var opErr error
		result, opErr = op(ctx, p)
		return opErr
	})
	if !called {
		return result, true, NewUnavailableError(p.Name(), "circuit breaker open", err)
	}
	return result, false, err
}

// RunWithRetry runs op against p, retrying retryable failures with exponential
// backoff. It makes at most 1+MaxRetries attempts. InvalidConfiguration and
// other non-retryable failures return after the first attempt.
func RunWithRetry[T any](ctx context.Context, e *Engine, p Provider, op Op[T]) (T, error) {
	var zero T
	name := p.Name()
	maxAttempts := 1 + e.cfg.MaxRetries
	delay := e.cfg.InitialDelay

	for attempt := 1; ; attempt++ {
		e.metrics.Increment(MetricRetryAttempts, "provider", name)
		if attempt > 1 {
			e.metrics.Increment(MetricRetryRetries, "provider", name)
		}

		result, rejected, err := call(ctx, e, p, op)
		if err == nil {
			if attempt > 1 {
				e.logger.Info("operation succeeded after retry", "provider", name, "attempts", attempt)
			}
			return result, nil
		}
		err = classify(name, OperationFailed, "operation failed", err)

		if rejected || isInvalidConfig(err) || !IsRetryable(err) {
			return zero, err
		}
		if attempt >= maxAttempts {
			e.metrics.Increment(MetricRetryExhausted, "provider", name)
			e.logger.Warn("retries exhausted", "provider", name, "attempts", attempt, "error", err)
			return zero, err
		}
		if ctx.Err() != nil {
			return zero, err
		}

		e.notifier.Notify(Notification{
			Level:    LevelWarning,
			Kind:     NotifyRetrying,
			Provider: name,
			Attempt:  attempt,
			Delay:    delay,
			Message:  fmt.Sprintf("%s failed, retrying (attempt %d of %d)", name, attempt+1, maxAttempts),
			Err:      err,
			Time:     Now(),
		})
		e.logger.Debug("retrying operation", "provider", name, "attempt", attempt, "delay", delay, "error", err)

		if sleepErr := e.sleep(ctx, delay); sleepErr != nil {
			return zero, err
		}
		delay = e.cfg.nextDelay(delay, e.random())
	}
}

// RunWithFallback runs op on primary and, if that fails, on fallback. When
// both fail the primary's error is returned. Data errors (not found, already
// exists, invalid record) are answers, not outages, and never fall back.
// A nil fallback, or one with the primary's name, disables fallback.
func RunWithFallback[T any](ctx context.Context, e *Engine, primary, fallback Provider, op Op[T]) (T, error) {
	result, err := RunWithRetry(ctx, e, primary, op)
	if err == nil {
		return result, nil
	}
	if fallback == nil || fallback.Name() == primary.Name() || isDataError(err) || ctx.Err() != nil {
		return result, err
	}

	pName, fName := primary.Name(), fallback.Name()
	e.notifier.Notify(Notification{
		Level:    LevelWarning,
		Kind:     NotifyPrimaryFailed,
		Provider: pName,
		Fallback: fName,
		Message:  fmt.Sprintf("%s failed, switching to %s", pName, fName),
		Err:      err,
		Time:     Now(),
	})

	fbResult, fbErr := RunWithRetry(ctx, e, fallback, op)
	if fbErr == nil {
		e.metrics.Increment(MetricFallbackUsed, "primary", pName, "fallback", fName)
		e.notifier.Notify(Notification{
			Level:        LevelWarning,
			Kind:         NotifyFallbackUsed,
			Provider:     pName,
			Fallback:     fName,
			FallbackUsed: true,
			Message:      fmt.Sprintf("served by %s while %s is unavailable", fName, pName),
			Err:          err,
			Time:         Now(),
		})
		return fbResult, nil
	}

	e.metrics.Increment(MetricFallbackFailed, "primary", pName, "fallback", fName)
	e.logger.Error("primary and fallback failed", "primary", pName, "fallback", fName, "error", err, "fallback_error", fbErr)
	e.notifier.Notify(Notification{
		Level:        LevelError,
		Kind:         NotifyAllFailed,
		Provider:     pName,
		Fallback:     fName,
		FallbackUsed: true,
		Message:      fmt.Sprintf("%s and fallback %s both failed", pName, fName),
		Err:          err,
		Time:         Now(),
	})
	var zero T
	return zero, err
}

// AttemptRecovery disconnects p, waits attempt*RecoveryDelay, reconnects and
// checks availability, up to maxAttempts times. It reports whether p recovered.
func (e *Engine) AttemptRecovery(ctx context.Context, p Provider, maxAttempts int) bool {
	name := p.Name()
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := p.Disconnect(ctx); err != nil {
			e.logger.Debug("disconnect during recovery failed", "provider", name, "error", err)
		}
		if err := e.sleep(ctx, time.Duration(attempt)*e.recoveryDelay); err != nil {
			lastErr = err
			break
		}

		err := p.Connect(ctx)
		if err == nil && !p.IsAvailable(ctx) {
			err = NewUnavailableError(name, "not available after reconnect", nil)
		}
		if err == nil {
			e.metrics.Increment(MetricRecovery, "provider", name, "result", "recovered")
			e.notifier.Notify(Notification{
				Level:    LevelInfo,
				Kind:     NotifyRecovered,
				Provider: name,
				Attempt:  attempt,
				Message:  fmt.Sprintf("%s recovered", name),
				Time:     Now(),
			})
			e.logger.Info("provider recovered", "provider", name, "attempt", attempt)
			return true
		}
		lastErr = err
		e.logger.Warn("recovery attempt failed", "provider", name, "attempt", attempt, "error", err)
	}

	e.metrics.Increment(MetricRecovery, "provider", name, "result", "failed")
	e.notifier.Notify(Notification{
		Level:    LevelError,
		Kind:     NotifyRecoveryFailed,
		Provider: name,
		Attempt:  maxAttempts,
		Message:  fmt.Sprintf("%s could not be recovered", name),
		Err:      lastErr,
		Time:     Now(),
	})
	return false
}

// isInvalidConfig reports whether err requires human correction.
func isInvalidConfig(err error) bool {
	return errors.Is(err, ErrInvalidConfiguration)
}
