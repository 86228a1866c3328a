package recordbase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// stubProvider fails its first `failures` operations with err, then succeeds.
// A negative failures count fails forever.
type stubProvider struct {
	name string

	mu          sync.Mutex
	failures    int
	err         error
	calls       int
	connectErrs []error
	connects    int
	disconnects int
	unavailable bool
	records     map[string]Record
}

func newStub(name string, failures int, err error) *stubProvider {
	return &stubProvider{name: name, failures: failures, err: err, records: map[string]Record{}}
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *stubProvider) step() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failures < 0 || s.calls <= s.failures {
		return s.err
	}
	return nil
}

func (s *stubProvider) GetAll(ctx context.Context) ([]Record, error) {
	if err := s.step(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	return out, nil
}

func (s *stubProvider) Save(ctx context.Context, r Record) error {
	if err := s.step(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[r.ID]; ok {
		return NewOperationError(s.name, "duplicate", ErrAlreadyExists)
	}
	s.records[r.ID] = r
	return nil
}

func (s *stubProvider) Update(ctx context.Context, r Record) error {
	if err := s.step(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[r.ID]; !ok {
		return NewOperationError(s.name, "missing", ErrNotFound)
	}
	s.records[r.ID] = r
	return nil
}

func (s *stubProvider) Delete(ctx context.Context, id string) error {
	if err := s.step(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return NewOperationError(s.name, "missing", ErrNotFound)
	}
	delete(s.records, id)
	return nil
}

func (s *stubProvider) SaveBatch(ctx context.Context, records []Record) error {
	if err := s.step(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		s.records[r.ID] = r
	}
	return nil
}

func (s *stubProvider) IsAvailable(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.unavailable
}

func (s *stubProvider) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connects++
	if len(s.connectErrs) > 0 {
		err := s.connectErrs[0]
		s.connectErrs = s.connectErrs[1:]
		return err
	}
	return nil
}

func (s *stubProvider) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnects++
	return nil
}

// recorder collects sleeps and notifications.
type recorder struct {
	mu            sync.Mutex
	sleeps        []time.Duration
	notifications []Notification
}

func (r *recorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.sleeps = append(r.sleeps, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *recorder) Notify(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications = append(r.notifications, n)
}

func (r *recorder) kinds() []NotificationKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]NotificationKind, len(r.notifications))
	for i, n := range r.notifications {
		out[i] = n.Kind
	}
	return out
}

func newTestEngine(t *testing.T, rec *recorder, opts ...EngineOption) *Engine {
	t.Helper()
	base := []EngineOption{
		WithSleep(rec.sleep),
		WithRandom(func() float64 { return 0 }),
		WithNotifier(rec),
		WithRecoveryDelay(10 * time.Millisecond),
	}
	e, err := NewEngine(append(base, opts...)...)
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func getAll(ctx context.Context, p Provider) ([]Record, error) { return p.GetAll(ctx) }

func TestRunWithRetry_SucceedsAfterKFailures(t *testing.T) {
	for k := 0; k <= 3; k++ {
		rec := &recorder{}
		e := newTestEngine(t, rec)
		p := newStub("remote", k, NewConnectionError("remote", "down", nil))

		if _, err := RunWithRetry(context.Background(), e, p, getAll); err != nil {
			t.Fatalf("k=%d: unexpected error %v", k, err)
		}
		if p.Calls() != k+1 {
			t.Errorf("k=%d: expected %d attempts, got %d", k, k+1, p.Calls())
		}
		if len(rec.sleeps) != k {
			t.Errorf("k=%d: expected %d sleeps, got %d", k, k, len(rec.sleeps))
		}
	}
}

func TestRunWithRetry_BackoffDelays(t *testing.T) {
	rec := &recorder{}
	metrics := NewInMemoryMetrics()
	e := newTestEngine(t, rec, WithEngineMetrics(metrics), WithRetryConfig(RetryConfig{
		MaxRetries:      4,
		InitialDelay:    100 * time.Millisecond,
		MaxDelay:        300 * time.Millisecond,
		BackoffMultiple: 2,
		JitterPercent:   0.5,
	}))
	p := newStub("remote", -1, NewUnavailableError("remote", "down", nil))

	_, err := RunWithRetry(context.Background(), e, p, getAll)
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected the provider error, got %v", err)
	}
	if p.Calls() != 5 {
		t.Errorf("expected 5 attempts, got %d", p.Calls())
	}

	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond, 300 * time.Millisecond}
	if len(rec.sleeps) != len(want) {
		t.Fatalf("expected sleeps %v, got %v", want, rec.sleeps)
	}
	for i := range want {
		if rec.sleeps[i] != want[i] {
			t.Errorf("sleep %d: expected %v, got %v", i, want[i], rec.sleeps[i])
		}
	}
	if metrics.Counter(MetricRetryExhausted) != 1 || metrics.Counter(MetricRetryAttempts) != 5 {
		t.Errorf("unexpected retry metrics: exhausted=%d attempts=%d",
			metrics.Counter(MetricRetryExhausted), metrics.Counter(MetricRetryAttempts))
	}
	for _, n := range rec.notifications {
		if n.Kind != NotifyRetrying || n.Level != LevelWarning {
			t.Errorf("unexpected notification %+v", n)
		}
	}
	if len(rec.notifications) != 4 {
		t.Errorf("expected 4 retrying notifications, got %d", len(rec.notifications))
	}
}

func TestRunWithRetry_NonRetryableStopsImmediately(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"invalid configuration", NewConfigError("remote", "bad url", ErrInvalidConfig)},
		{"already exists", NewOperationError("remote", "dup", ErrAlreadyExists)},
		{"plain operation failure", NewOperationError("remote", "rejected", errors.New("syntax error"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			e := newTestEngine(t, rec)
			p := newStub("remote", -1, tt.err)

			_, err := RunWithRetry(context.Background(), e, p, getAll)
			if !errors.Is(err, tt.err) {
				t.Errorf("expected %v, got %v", tt.err, err)
			}
			if p.Calls() != 1 {
				t.Errorf("expected 1 attempt, got %d", p.Calls())
			}
			if len(rec.sleeps) != 0 {
				t.Errorf("expected no sleeps, got %v", rec.sleeps)
			}
		})
	}
}

func TestRunWithRetry_WrapsBareErrors(t *testing.T) {
	rec := &recorder{}
	e := newTestEngine(t, rec, WithRetryConfig(RetryConfig{MaxRetries: 0, BackoffMultiple: 1}))
	p := newStub("remote", -1, errors.New("boom"))

	_, err := RunWithRetry(context.Background(), e, p, getAll)
	pe, ok := AsProviderError(err)
	if !ok || pe.Kind != OperationFailed || pe.Provider != "remote" {
		t.Errorf("expected OperationFailed from remote, got %v", err)
	}
}

func TestRunWithRetry_StopsWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	rec := &recorder{}
	e := newTestEngine(t, rec, WithSleep(func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}))
	p := newStub("remote", -1, NewConnectionError("remote", "down", nil))

	_, err := RunWithRetry(ctx, e, p, getAll)
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("expected the last provider error, got %v", err)
	}
	if p.Calls() != 1 {
		t.Errorf("expected 1 attempt before cancellation, got %d", p.Calls())
	}
}

func TestRunWithFallback_UsesFallback(t *testing.T) {
	rec := &recorder{}
	e := newTestEngine(t, rec)
	primary := newStub("remote", -1, NewConnectionError("remote", "down", nil))
	fallback := newStub("local", 0, nil)
	fallback.records["x"] = NewRecord("x", "")

	records, err := RunWithFallback(context.Background(), e, primary, fallback, getAll)
	if err != nil {
		t.Fatalf("expected fallback success, got %v", err)
	}
	if len(records) != 1 {
		t.Errorf("expected fallback records, got %+v", records)
	}
	if primary.Calls() != 4 || fallback.Calls() != 1 {
		t.Errorf("expected 4 primary and 1 fallback attempts, got %d and %d", primary.Calls(), fallback.Calls())
	}

	want := []NotificationKind{NotifyRetrying, NotifyRetrying, NotifyRetrying, NotifyPrimaryFailed, NotifyFallbackUsed}
	got := rec.kinds()
	if len(got) != len(want) {
		t.Fatalf("expected notifications %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("notification %d: expected %s, got %s", i, want[i], got[i])
		}
	}
	last := rec.notifications[len(rec.notifications)-1]
	if !last.FallbackUsed || last.Fallback != "local" || last.Provider != "remote" {
		t.Errorf("unexpected fallback notification %+v", last)
	}
}

func TestRunWithFallback_InvalidConfigurationStillFallsBack(t *testing.T) {
	rec := &recorder{}
	e := newTestEngine(t, rec)
	primary := newStub("remote", -1, NewConfigError("remote", "bad credentials", ErrInvalidConfig))
	fallback := newStub("local", 0, nil)

	if _, err := RunWithFallback(context.Background(), e, primary, fallback, getAll); err != nil {
		t.Fatalf("expected fallback success, got %v", err)
	}
	if primary.Calls() != 1 {
		t.Errorf("invalid configuration must not be retried, got %d attempts", primary.Calls())
	}
	if fallback.Calls() != 1 {
		t.Errorf("expected fallback to run once, got %d", fallback.Calls())
	}
}

func TestRunWithFallback_DataErrorsDoNotFallBack(t *testing.T) {
	rec := &recorder{}
	e := newTestEngine(t, rec)
	primary := newStub("remote", 0, nil)
	fallback := newStub("local", 0, nil)

	r := NewRecord("one", "")
	primary.records[r.ID] = r
	_, err := RunWithFallback(context.Background(), e, primary, fallback, func(ctx context.Context, p Provider) (struct{}, error) {
		return struct{}{}, p.Save(ctx, r)
	})
	if !IsAlreadyExists(err) {
		t.Errorf("expected already exists, got %v", err)
	}
	if fallback.Calls() != 0 {
		t.Errorf("data errors must not reach the fallback, got %d calls", fallback.Calls())
	}
}

func TestRunWithFallback_BothFailReturnsPrimaryError(t *testing.T) {
	rec := &recorder{}
	e := newTestEngine(t, rec)
	primaryErr := NewConnectionError("remote", "remote down", nil)
	primary := newStub("remote", -1, primaryErr)
	fallback := newStub("local", -1, NewUnavailableError("local", "disk gone", nil))

	_, err := RunWithFallback(context.Background(), e, primary, fallback, getAll)
	if !errors.Is(err, primaryErr) {
		t.Errorf("expected the primary error, got %v", err)
	}
	kinds := rec.kinds()
	if kinds[len(kinds)-1] != NotifyAllFailed {
		t.Errorf("expected all-failed last, got %v", kinds)
	}
	if rec.notifications[len(rec.notifications)-1].Level != LevelError {
		t.Error("all-failed should be an error-level notification")
	}
}

func TestRunWithFallback_NoFallback(t *testing.T) {
	rec := &recorder{}
	e := newTestEngine(t, rec)
	primary := newStub("local", -1, NewUnavailableError("local", "down", nil))

	if _, err := RunWithFallback(context.Background(), e, primary, nil, getAll); err == nil {
		t.Error("expected error without fallback")
	}
	if _, err := RunWithFallback(context.Background(), e, primary, primary, getAll); err == nil {
		t.Error("expected error when fallback is the primary")
	}
	for _, k := range rec.kinds() {
		if k == NotifyPrimaryFailed {
			t.Error("no fallback notification expected")
		}
	}
}

func TestRunWithFallback_OpenBreakerGoesStraightToFallback(t *testing.T) {
	rec := &recorder{}
	e := newTestEngine(t, rec,
		WithRetryConfig(RetryConfig{MaxRetries: 0, BackoffMultiple: 1}),
		WithCircuitBreaker(2, time.Hour))
	primary := newStub("remote", -1, NewConnectionError("remote", "down", nil))
	fallback := newStub("local", 0, nil)

	for i := 0; i < 3; i++ {
		if _, err := RunWithFallback(context.Background(), e, primary, fallback, getAll); err != nil {
			t.Fatalf("call %d: expected fallback success, got %v", i, err)
		}
	}
	if primary.Calls() != 2 {
		t.Errorf("expected the breaker to stop primary calls after 2 failures, got %d", primary.Calls())
	}
	if fallback.Calls() != 3 {
		t.Errorf("expected 3 fallback calls, got %d", fallback.Calls())
	}
	if state := e.Breaker("remote").State(); state != BreakerOpen {
		t.Errorf("expected open breaker, got %s", state)
	}
}

func TestEngine_BreakerIgnoresDataErrors(t *testing.T) {
	rec := &recorder{}
	e := newTestEngine(t, rec, WithCircuitBreaker(1, time.Hour))
	p := newStub("remote", -1, NewOperationError("remote", "missing", ErrNotFound))

	for i := 0; i < 3; i++ {
		_, _ = RunWithRetry(context.Background(), e, p, getAll)
	}
	if p.Calls() != 3 {
		t.Errorf("data errors must not trip the breaker, got %d calls", p.Calls())
	}
	if e.Breaker("other") == nil {
		t.Error("breakers are created per provider on demand")
	}
}

func TestAttemptRecovery(t *testing.T) {
	t.Run("recovers on second attempt", func(t *testing.T) {
		rec := &recorder{}
		e := newTestEngine(t, rec)
		p := newStub("remote", 0, nil)
		p.connectErrs = []error{NewConnectionError("remote", "still down", nil)}

		if !e.AttemptRecovery(context.Background(), p, 3) {
			t.Fatal("expected recovery")
		}
		if p.connects != 2 || p.disconnects != 2 {
			t.Errorf("expected 2 connects and disconnects, got %d and %d", p.connects, p.disconnects)
		}
		want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}
		if len(rec.sleeps) != 2 || rec.sleeps[0] != want[0] || rec.sleeps[1] != want[1] {
			t.Errorf("expected linear recovery delays %v, got %v", want, rec.sleeps)
		}
		if kinds := rec.kinds(); len(kinds) != 1 || kinds[0] != NotifyRecovered {
			t.Errorf("expected one recovered notification, got %v", kinds)
		}
	})

	t.Run("gives up", func(t *testing.T) {
		rec := &recorder{}
		e := newTestEngine(t, rec)
		p := newStub("remote", 0, nil)
		p.unavailable = true

		if e.AttemptRecovery(context.Background(), p, 2) {
			t.Fatal("expected recovery to fail")
		}
		if p.connects != 2 {
			t.Errorf("expected 2 connect attempts, got %d", p.connects)
		}
		kinds := rec.kinds()
		if len(kinds) != 1 || kinds[0] != NotifyRecoveryFailed {
			t.Errorf("expected one recovery-failed notification, got %v", kinds)
		}
		if rec.notifications[0].Err == nil {
			t.Error("recovery-failed should carry the last error")
		}
	})
}

func TestNewEngine_ValidatesRetryConfig(t *testing.T) {
	_, err := NewEngine(WithRetryConfig(RetryConfig{MaxRetries: -1}))
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}

	e, err := NewEngine()
	if err != nil {
		t.Fatal(err)
	}
	if e.RetryConfig() != DefaultRetryConfig() {
		t.Errorf("expected default retry config, got %+v", e.RetryConfig())
	}
	if e.Breaker("remote") != nil {
		t.Error("breakers are disabled by default")
	}
}
