package recordbase

import (
	"sync"
	"time"
)

// Metrics provides observability for recordbase operations.
// Tags are alternating label name/value pairs.
type Metrics interface {
	// Increment increases a counter by 1
	Increment(name string, tags ...string)

	// Gauge sets an absolute value
	Gauge(name string, value float64, tags ...string)

	// Histogram records a value distribution (latency, size, etc)
	Histogram(name string, value float64, tags ...string)

	// Timing records a duration
	Timing(name string, duration time.Duration, tags ...string)
}

// NoOpMetrics is a metrics collector that does nothing
type NoOpMetrics struct{}

func (m *NoOpMetrics) Increment(name string, tags ...string)                      {}
func (m *NoOpMetrics) Gauge(name string, value float64, tags ...string)           {}
func (m *NoOpMetrics) Histogram(name string, value float64, tags ...string)       {}
func (m *NoOpMetrics) Timing(name string, duration time.Duration, tags ...string) {}

// InMemoryMetrics stores metrics in memory for testing. Tags are ignored.
type InMemoryMetrics struct {
	mu         sync.Mutex
	counters   map[string]int
	gauges     map[string]float64
	histograms map[string][]float64
	timings    map[string][]time.Duration
}

func NewInMemoryMetrics() *InMemoryMetrics {
	return &InMemoryMetrics{
		counters:   make(map[string]int),
		gauges:     make(map[string]float64),
		histograms: make(map[string][]float64),
		timings:    make(map[string][]time.Duration),
	}
}

func (m *InMemoryMetrics) Increment(name string, tags ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[name]++
}

func (m *InMemoryMetrics) Gauge(name string, value float64, tags ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges[name] = value
}

func (m *InMemoryMetrics) Histogram(name string, value float64, tags ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.histograms[name] = append(m.histograms[name], value)
}

func (m *InMemoryMetrics) Timing(name string, duration time.Duration, tags ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timings[name] = append(m.timings[name], duration)
}

// Counter returns the current value of a counter.
func (m *InMemoryMetrics) Counter(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[name]
}

// GaugeValue returns the last value set on a gauge.
func (m *InMemoryMetrics) GaugeValue(name string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gauges[name]
}

// TimingCount returns how many durations were recorded under name.
func (m *InMemoryMetrics) TimingCount(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timings[name])
}

func metricsOrNoop(m Metrics) Metrics {
	if m == nil {
		return &NoOpMetrics{}
	}
	return m
}

// Metric names
const (
	MetricProviderOps       = "recordbase.provider.ops"
	MetricProviderErrors    = "recordbase.provider.errors"
	MetricProviderLatency   = "recordbase.provider.latency"
	MetricProviderCorrupted = "recordbase.provider.corrupted"

	MetricRetryAttempts  = "recordbase.retry.attempts"
	MetricRetryRetries   = "recordbase.retry.retries"
	MetricRetryExhausted = "recordbase.retry.exhausted"
	MetricFallbackUsed   = "recordbase.fallback.used"
	MetricFallbackFailed = "recordbase.fallback.failed"
	MetricRecovery       = "recordbase.recovery"

	MetricProviderSwitch = "recordbase.manager.switch"
	MetricProviderHealth = "recordbase.manager.health"
	MetricManagerLatency = "recordbase.manager.latency"

	MetricMigrationRuns     = "recordbase.migration.runs"
	MetricMigrationRecords  = "recordbase.migration.records"
	MetricMigrationDuration = "recordbase.migration.duration"
	MetricMigrationPhase    = "recordbase.migration.phase"
	MetricBackupsCreated    = "recordbase.backup.created"
)
