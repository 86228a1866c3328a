package recordbase

import (
	"strings"
	"sync"
	"testing"
	"time"
)

func TestNoOpMetrics(t *testing.T) {
	metrics := &NoOpMetrics{}

	metrics.Increment("test.counter")
	metrics.Gauge("test.gauge", 42.0)
	metrics.Histogram("test.histogram", 100.5)
	metrics.Timing("test.timing", 5*time.Millisecond)

	metrics.Increment("test.counter", "provider", "local")
	metrics.Timing("test.timing", 5*time.Millisecond, "operation", "save")
}

func TestInMemoryMetrics(t *testing.T) {
	metrics := NewInMemoryMetrics()

	metrics.Increment("requests")
	metrics.Increment("requests")
	metrics.Increment("requests", "provider", "local")
	metrics.Increment("errors")

	if got := metrics.Counter("requests"); got != 3 {
		t.Errorf("requests counter = %d, want 3", got)
	}
	if got := metrics.Counter("errors"); got != 1 {
		t.Errorf("errors counter = %d, want 1", got)
	}
	if got := metrics.Counter("missing"); got != 0 {
		t.Errorf("missing counter = %d, want 0", got)
	}

	metrics.Gauge("health", 1)
	metrics.Gauge("health", 0)
	if got := metrics.GaugeValue("health"); got != 0 {
		t.Errorf("health gauge = %f, want 0 (last write wins)", got)
	}

	metrics.Timing("latency", time.Millisecond)
	metrics.Timing("latency", 2*time.Millisecond)
	if got := metrics.TimingCount("latency"); got != 2 {
		t.Errorf("latency timings = %d, want 2", got)
	}
}

func TestInMemoryMetricsConcurrent(t *testing.T) {
	metrics := NewInMemoryMetrics()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			metrics.Increment("ops")
			metrics.Timing("latency", time.Microsecond)
		}()
	}
	wg.Wait()

	if metrics.Counter("ops") != 50 || metrics.TimingCount("latency") != 50 {
		t.Errorf("lost updates: ops=%d timings=%d", metrics.Counter("ops"), metrics.TimingCount("latency"))
	}
}

func TestMetricsInterface(t *testing.T) {
	var _ Metrics = &NoOpMetrics{}
	var _ Metrics = &InMemoryMetrics{}
	var _ Metrics = &PrometheusMetrics{}
}

func TestMetricConstants(t *testing.T) {
	names := []string{
		MetricProviderOps, MetricProviderErrors, MetricProviderLatency, MetricProviderCorrupted,
		MetricRetryAttempts, MetricRetryRetries, MetricRetryExhausted,
		MetricFallbackUsed, MetricFallbackFailed, MetricRecovery,
		MetricProviderSwitch, MetricProviderHealth, MetricManagerLatency,
		MetricMigrationRuns, MetricMigrationRecords, MetricMigrationDuration, MetricMigrationPhase,
		MetricBackupsCreated,
	}

	seen := make(map[string]bool)
	for _, name := range names {
		if !strings.HasPrefix(name, "recordbase.") {
			t.Errorf("metric %q should be namespaced under recordbase.", name)
		}
		if seen[name] {
			t.Errorf("duplicate metric name %q", name)
		}
		seen[name] = true
	}
}

func TestMetricsOrNoop(t *testing.T) {
	if _, ok := metricsOrNoop(nil).(*NoOpMetrics); !ok {
		t.Error("nil metrics should become NoOpMetrics")
	}
}

func BenchmarkInMemoryMetricsIncrement(b *testing.B) {
	metrics := NewInMemoryMetrics()
	for i := 0; i < b.N; i++ {
		metrics.Increment("counter")
	}
}
