package recordbase

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics implements the Metrics interface using Prometheus
type PrometheusMetrics struct {
	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
	registry   *prometheus.Registry
}

// NewPrometheusMetrics creates a new Prometheus metrics instance.
// If registry is nil a fresh registry is created.
func NewPrometheusMetrics(registry *prometheus.Registry) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	pm := &PrometheusMetrics{
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		registry:   registry,
	}

	pm.registerDefaultMetrics()
	return pm
}

func (p *PrometheusMetrics) counter(name, subsystem, metric, help string, labels ...string) {
	p.counters[name] = promauto.With(p.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recordbase",
			Subsystem: subsystem,
			Name:      metric,
			Help:      help,
		},
		labels,
	)
}

func (p *PrometheusMetrics) gauge(name, subsystem, metric, help string, labels ...string) {
	p.gauges[name] = promauto.With(p.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "recordbase",
			Subsystem: subsystem,
			Name:      metric,
			Help:      help,
		},
		labels,
	)
}

func (p *PrometheusMetrics) histogram(name, subsystem, metric, help string, buckets []float64, labels ...string) {
	p.histograms[name] = promauto.With(p.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "recordbase",
			Subsystem: subsystem,
			Name:      metric,
			Help:      help,
			Buckets:   buckets,
		},
		labels,
	)
}

// registerDefaultMetrics registers all standard recordbase metrics
func (p *PrometheusMetrics) registerDefaultMetrics() {
	p.counter(MetricProviderOps, "provider", "operations_total", "Total number of provider operations", "provider", "operation")
	p.counter(MetricProviderErrors, "provider", "errors_total", "Total number of provider errors", "provider", "operation")
	p.counter(MetricProviderCorrupted, "provider", "corrupted_records_total", "Corrupted records cleared by the local provider", "provider")
	p.histogram(MetricProviderLatency, "provider", "operation_duration_seconds", "Provider operation duration in seconds",
		prometheus.DefBuckets, "provider", "operation")

	p.counter(MetricRetryAttempts, "retry", "attempts_total", "Operation attempts made by the retry engine", "provider")
	p.counter(MetricRetryRetries, "retry", "retries_total", "Attempts that were retries of a failed attempt", "provider")
	p.counter(MetricRetryExhausted, "retry", "exhausted_total", "Operations that failed after all retries", "provider")
	p.counter(MetricFallbackUsed, "fallback", "used_total", "Operations served by the fallback provider", "primary", "fallback")
	p.counter(MetricFallbackFailed, "fallback", "failed_total", "Operations that failed on primary and fallback", "primary", "fallback")
	p.counter(MetricRecovery, "retry", "recoveries_total", "Provider recovery attempts by result", "provider", "result")

	p.counter(MetricProviderSwitch, "manager", "switches_total", "Active provider switches", "from", "to")
	p.gauge(MetricProviderHealth, "manager", "provider_up", "1 if the provider was connected at the last status check", "provider")
	p.histogram(MetricManagerLatency, "manager", "operation_duration_seconds", "Routed operation duration including retries and fallback",
		prometheus.DefBuckets, "operation")

	p.counter(MetricMigrationRuns, "migration", "runs_total", "Migrations by outcome", "outcome")
	p.gauge(MetricMigrationRecords, "migration", "processed_records", "Records processed by the running migration")
	p.gauge(MetricMigrationPhase, "migration", "phase", "Ordinal of the current migration phase")
	p.histogram(MetricMigrationDuration, "migration", "duration_seconds", "Migration duration in seconds",
		[]float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 300}, "outcome")
	p.counter(MetricBackupsCreated, "backup", "created_total", "Backups written", "provider")
}

// Increment increments a Prometheus counter
func (p *PrometheusMetrics) Increment(name string, tags ...string) {
	p.mu.Lock()
	counter, ok := p.counters[name]
	if !ok {
		counter = promauto.With(p.registry).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "recordbase",
				Name:      sanitizeMetricName(name),
				Help:      "Dynamic counter: " + name,
			},
			extractLabels(tags),
		)
		p.counters[name] = counter
	}
	p.mu.Unlock()

	counter.With(extractLabelValues(tags)).Inc()
}

// Gauge sets a Prometheus gauge value
func (p *PrometheusMetrics) Gauge(name string, value float64, tags ...string) {
	p.mu.Lock()
	gauge, ok := p.gauges[name]
	if !ok {
		gauge = promauto.With(p.registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "recordbase",
				Name:      sanitizeMetricName(name),
				Help:      "Dynamic gauge: " + name,
			},
			extractLabels(tags),
		)
		p.gauges[name] = gauge
	}
	p.mu.Unlock()

	gauge.With(extractLabelValues(tags)).Set(value)
}

// Histogram records a value in a Prometheus histogram
func (p *PrometheusMetrics) Histogram(name string, value float64, tags ...string) {
	p.mu.Lock()
	histogram, ok := p.histograms[name]
	if !ok {
		histogram = promauto.With(p.registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "recordbase",
				Name:      sanitizeMetricName(name),
				Help:      "Dynamic histogram: " + name,
				Buckets:   prometheus.DefBuckets,
			},
			extractLabels(tags),
		)
		p.histograms[name] = histogram
	}
	p.mu.Unlock()

	histogram.With(extractLabelValues(tags)).Observe(value)
}

// Timing records a duration in a Prometheus histogram
func (p *PrometheusMetrics) Timing(name string, duration time.Duration, tags ...string) {
	p.Histogram(name, duration.Seconds(), tags...)
}

// Registry returns the underlying Prometheus registry
func (p *PrometheusMetrics) Registry() *prometheus.Registry {
	return p.registry
}

// extractLabels extracts label names from tags (every even index)
func extractLabels(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	labels := make([]string, 0, len(tags)/2)
	for i := 0; i+1 < len(tags); i += 2 {
		labels = append(labels, tags[i])
	}
	return labels
}

// extractLabelValues creates a label map from tags (key-value pairs)
func extractLabelValues(tags []string) prometheus.Labels {
	labels := make(prometheus.Labels, len(tags)/2)
	for i := 0; i+1 < len(tags); i += 2 {
		labels[tags[i]] = tags[i+1]
	}
	return labels
}

func sanitizeMetricName(name string) string {
	name = strings.TrimPrefix(name, "recordbase.")
	return strings.NewReplacer(".", "_", "-", "_").Replace(name)
}
