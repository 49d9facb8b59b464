package monitoring

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/draftforge/experiment-platform/internal/domain/alert"
	"github.com/draftforge/experiment-platform/internal/domain/experiment"
	"github.com/draftforge/experiment-platform/internal/domain/health"
)

// Service observes running experiments: it classifies their health, raises
// deduplicated alerts, and aggregates growth reports. It never mutates
// experiment lifecycle; stop decisions belong to the automation engine.
type Service interface {
	// CheckAllExperiments runs one monitoring cycle over every running
	// experiment. Per-experiment failures are logged and do not halt the cycle.
	CheckAllExperiments(ctx context.Context) error
	// CheckExperimentHealth derives a health snapshot from an experiment and
	// its current results.
	CheckExperimentHealth(exp *experiment.Experiment, results *experiment.Results) *health.ExperimentHealth
	// GetHealth returns the latest persisted snapshot for an experiment.
	GetHealth(ctx context.Context, experimentID uuid.UUID) (*health.ExperimentHealth, error)
	// CalculateGrowthMetrics aggregates completed, statistically significant
	// experiments within the window into a growth report.
	CalculateGrowthMetrics(ctx context.Context, from, to time.Time) (*GrowthReport, error)
	// AutoManage stops experiments that meet the default stop thresholds.
	//
	// Deprecated: kept as a legacy entry point. It delegates to the automation
	// engine, which owns stop decisions; schedule the automation engine
	// directly instead.
	AutoManage(ctx context.Context) error
}

// ExperimentReader is the subset of the experiment engine the monitor needs.
type ExperimentReader interface {
	GetRunning(ctx context.Context) ([]*experiment.Experiment, error)
	GetByDateRange(ctx context.Context, from, to time.Time) ([]*experiment.Experiment, error)
}

// ResultsProvider computes (or serves cached) experiment results.
type ResultsProvider interface {
	CalculateResults(ctx context.Context, id uuid.UUID) (*experiment.Results, error)
}

// HealthRepository persists health snapshots and monitoring alerts.
type HealthRepository interface {
	SaveHealth(ctx context.Context, h *health.ExperimentHealth) error
	GetHealth(ctx context.Context, experimentID uuid.UUID) (*health.ExperimentHealth, error)
	Save(ctx context.Context, a *alert.Alert) error
	HasUnacknowledged(ctx context.Context, experimentID uuid.UUID, alertType alert.Type) (bool, error)
}

// AlertSink receives raised alerts for routing to notification channels.
type AlertSink interface {
	ProcessAlert(ctx context.Context, a *alert.Alert, exp *experiment.Experiment, results *experiment.Results) error
}

// AutoManager is the automation engine entry point the deprecated AutoManage
// pass delegates to.
type AutoManager interface {
	RunCycle(ctx context.Context) error
}
