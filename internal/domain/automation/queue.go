package automation

import (
	"time"

	"github.com/google/uuid"
)

// Policy holds the global automation knobs.
type Policy struct {
	AutoStopOnSignificance bool    `json:"auto_stop_on_significance"`
	AutoStopConfidence     float64 `json:"auto_stop_confidence"`
	AutoImplementWinner    bool    `json:"auto_implement_winner"`
	DurationMultiplier     float64 `json:"duration_multiplier"`
	SampleSizeMultiplier   float64 `json:"sample_size_multiplier"`
	// PerformanceDropPercent is the relative drop that counts as a
	// performance concern, in percent.
	PerformanceDropPercent float64 `json:"performance_drop_percent"`
	MaxConcurrentExperiments int   `json:"max_concurrent_experiments"`
}

// DefaultPolicy returns the knobs the engine ships with.
func DefaultPolicy() Policy {
	return Policy{
		AutoStopOnSignificance:   true,
		AutoStopConfidence:       0.95,
		AutoImplementWinner:      false,
		DurationMultiplier:       1.5,
		SampleSizeMultiplier:     1.0,
		PerformanceDropPercent:   30,
		MaxConcurrentExperiments: 5,
	}
}

// QueueEntry is a pending experiment awaiting scheduled or dependency-gated
// start.
type QueueEntry struct {
	ID           uuid.UUID   `json:"id"`
	ExperimentID uuid.UUID   `json:"experiment_id"`
	Priority     int         `json:"priority"`
	ScheduledFor time.Time   `json:"scheduled_for"`
	DependsOn    []uuid.UUID `json:"depends_on,omitempty"`
	AutoStart    bool        `json:"auto_start"`
	EnqueuedAt   time.Time   `json:"enqueued_at"`
}

// Ready reports whether the scheduled time has passed and every dependency
// is in the completed set.
func (q *QueueEntry) Ready(now time.Time, completed map[uuid.UUID]bool) bool {
	if now.Before(q.ScheduledFor) {
		return false
	}
	for _, dep := range q.DependsOn {
		if !completed[dep] {
			return false
		}
	}
	return true
}
