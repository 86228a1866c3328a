package recordbase

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewPrometheusMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewPrometheusMetrics(registry)

	if metrics.Registry() != registry {
		t.Error("registry not set correctly")
	}
	if len(metrics.counters) == 0 || len(metrics.gauges) == 0 || len(metrics.histograms) == 0 {
		t.Error("expected default metrics to be registered")
	}
}

func TestNewPrometheusMetricsWithNilRegistry(t *testing.T) {
	metrics := NewPrometheusMetrics(nil)
	if metrics.Registry() == nil {
		t.Fatal("expected a fresh registry")
	}
	if metrics.Registry() == prometheus.DefaultRegisterer {
		t.Error("must not use the global registry")
	}
}

func TestPrometheusMetricsIncrement(t *testing.T) {
	metrics := NewPrometheusMetrics(prometheus.NewRegistry())

	metrics.Increment(MetricProviderOps, "provider", "local", "operation", "save")
	metrics.Increment(MetricProviderOps, "provider", "local", "operation", "save")
	metrics.Increment(MetricProviderOps, "operation", "get_all", "provider", "redis")

	ops := metrics.counters[MetricProviderOps]
	if got := testutil.ToFloat64(ops.WithLabelValues("local", "save")); got != 2 {
		t.Errorf("local/save = %v, want 2", got)
	}
	if got := testutil.ToFloat64(ops.WithLabelValues("redis", "get_all")); got != 1 {
		t.Errorf("redis/get_all = %v, want 1 (label order must not matter)", got)
	}
}

func TestPrometheusMetricsGauge(t *testing.T) {
	metrics := NewPrometheusMetrics(prometheus.NewRegistry())

	metrics.Gauge(MetricProviderHealth, 1, "provider", "redis")
	metrics.Gauge(MetricProviderHealth, 0, "provider", "redis")
	metrics.Gauge(MetricMigrationPhase, 3)

	if got := testutil.ToFloat64(metrics.gauges[MetricProviderHealth].WithLabelValues("redis")); got != 0 {
		t.Errorf("provider_up = %v, want 0", got)
	}
	if got := testutil.ToFloat64(metrics.gauges[MetricMigrationPhase].WithLabelValues()); got != 3 {
		t.Errorf("phase = %v, want 3", got)
	}
}

func TestPrometheusMetricsTiming(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewPrometheusMetrics(registry)

	metrics.Timing(MetricManagerLatency, 15*time.Millisecond, "operation", "save")
	metrics.Timing(MetricManagerLatency, 25*time.Millisecond, "operation", "save")

	if n := testutil.CollectAndCount(metrics.histograms[MetricManagerLatency]); n != 1 {
		t.Errorf("expected one labelled series, got %d", n)
	}

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != "recordbase_manager_operation_duration_seconds" {
			continue
		}
		h := mf.GetMetric()[0].GetHistogram()
		if h.GetSampleCount() != 2 {
			t.Errorf("sample count = %d, want 2", h.GetSampleCount())
		}
		if sum := h.GetSampleSum(); sum < 0.039 || sum > 0.041 {
			t.Errorf("sample sum = %v, want ~0.04s", sum)
		}
		return
	}
	t.Error("manager latency histogram not exported")
}

func TestPrometheusMetricsDynamicNames(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewPrometheusMetrics(registry)

	metrics.Increment("recordbase.custom.events", "kind", "x")
	metrics.Histogram("custom-size", 10)

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	names := map[string]bool{}
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	if !names["recordbase_custom_events"] {
		t.Error("expected recordbase_custom_events")
	}
	if !names["recordbase_custom_size"] {
		t.Error("expected recordbase_custom_size")
	}
}

func TestSanitizeMetricName(t *testing.T) {
	tests := map[string]string{
		"recordbase.provider.ops": "provider_ops",
		"custom-name":             "custom_name",
		"plain":                   "plain",
	}
	for in, want := range tests {
		if got := sanitizeMetricName(in); got != want {
			t.Errorf("sanitizeMetricName(%q) = %q, want %q", in, got, want)
		}
	}
}
