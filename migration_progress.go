package recordbase

import (
	"sync"
	"time"
)

// MigrationPhase is a state of the migration state machine:
//
//	Idle → Preparing → Exporting → Importing → Validating → Completed | Failed | Cancelled
type MigrationPhase string

const (
	PhaseIdle       MigrationPhase = "idle"
	PhasePreparing  MigrationPhase = "preparing"
	PhaseExporting  MigrationPhase = "exporting"
	PhaseImporting  MigrationPhase = "importing"
	PhaseValidating MigrationPhase = "validating"
	PhaseCompleted  MigrationPhase = "completed"
	PhaseFailed     MigrationPhase = "failed"
	PhaseCancelled  MigrationPhase = "cancelled"
)

var phaseSteps = map[MigrationPhase]int{
	PhaseIdle:       0,
	PhasePreparing:  1,
	PhaseExporting:  2,
	PhaseImporting:  3,
	PhaseValidating: 4,
	PhaseCompleted:  5,
	PhaseFailed:     5,
	PhaseCancelled:  5,
}

const migrationTotalSteps = 5

// Terminal reports whether no further transitions follow.
func (p MigrationPhase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed || p == PhaseCancelled
}

// MigrationProgress is a snapshot of the running (or last) migration.
type MigrationProgress struct {
	Phase          MigrationPhase `json:"phase"`
	CurrentStep    int            `json:"currentStep"`
	TotalSteps     int            `json:"totalSteps"`
	ProcessedItems int            `json:"processedItems"`
	TotalItems     int            `json:"totalItems"`
	StartedAt      time.Time      `json:"startedAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
	Message        string         `json:"message,omitempty"`
	Err            error          `json:"-"`
}

// Percent is ProcessedItems/TotalItems in [0, 100]; an empty dataset counts as
// done once the import phase is over.
func (p MigrationProgress) Percent() float64 {
	if p.TotalItems == 0 {
		if phaseSteps[p.Phase] > phaseSteps[PhaseImporting] {
			return 100
		}
		return 0
	}
	return float64(p.ProcessedItems) * 100 / float64(p.TotalItems)
}

// MigrationResult is what MigrateData always returns.
type MigrationResult struct {
	Success       bool          `json:"success"`
	MigratedCount int           `json:"migratedCount"`
	SkippedCount  int           `json:"skippedCount"`
	Errors        []string      `json:"errors"`
	Duration      time.Duration `json:"duration"`
	BackupKey     string        `json:"backupKey,omitempty"`
}

// ProgressListener is called synchronously after every phase transition and
// batch. It receives a copy and must not block for long.
type ProgressListener func(MigrationProgress)

type progressTracker struct {
	mu        sync.Mutex
	current   MigrationProgress
	nextID    int
	listeners []progressListenerEntry
	metrics   Metrics
}

type progressListenerEntry struct {
	id int
	fn ProgressListener
}

func newProgressTracker(metrics Metrics) *progressTracker {
	return &progressTracker{
		current: MigrationProgress{Phase: PhaseIdle, TotalSteps: migrationTotalSteps},
		metrics: metrics,
	}
}

func (t *progressTracker) add(fn ProgressListener) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	id := t.nextID
	t.listeners = append(t.listeners, progressListenerEntry{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			for i, l := range t.listeners {
				if l.id == id {
					t.listeners = append(t.listeners[:i:i], t.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

func (t *progressTracker) snapshot() MigrationProgress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// reset starts a new run.
func (t *progressTracker) reset() {
	now := Now()
	t.mu.Lock()
	t.current = MigrationProgress{
		Phase:      PhaseIdle,
		TotalSteps: migrationTotalSteps,
		StartedAt:  now,
		UpdatedAt:  now,
	}
	t.mu.Unlock()
}

// phase moves to p and broadcasts.
func (t *progressTracker) phase(p MigrationPhase, msg string, err error) {
	t.update(func(mp *MigrationProgress) {
		mp.Phase = p
		mp.CurrentStep = phaseSteps[p]
		mp.Message = msg
		mp.Err = err
	})
	t.metrics.Gauge(MetricMigrationPhase, float64(phaseSteps[p]))
}

// items records batch progress and broadcasts.
func (t *progressTracker) items(processed, total int) {
	t.update(func(mp *MigrationProgress) {
		mp.ProcessedItems = processed
		mp.TotalItems = total
	})
	t.metrics.Gauge(MetricMigrationRecords, float64(processed))
}

func (t *progressTracker) update(fn func(*MigrationProgress)) {
	t.mu.Lock()
	fn(&t.current)
	t.current.UpdatedAt = Now()
	snap := t.current
	listeners := make([]progressListenerEntry, len(t.listeners))
	copy(listeners, t.listeners)
	t.mu.Unlock()

	for _, l := range listeners {
		l.fn(snap)
	}
}
