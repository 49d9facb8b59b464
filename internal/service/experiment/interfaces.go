package experiment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/draftforge/experiment-platform/internal/domain/experiment"
)

// Service is the experiment engine: lifecycle transitions, deterministic
// user-to-variant assignment, event ingestion, and statistical results.
type Service interface {
	// CreateExperiment validates the Spec, auto-provisions a backing feature
	// flag when none is supplied, and persists the draft experiment.
	CreateExperiment(ctx context.Context, spec experiment.Spec) (*experiment.Experiment, error)
	// GetExperiment retrieves an experiment by id.
	GetExperiment(ctx context.Context, id uuid.UUID) (*experiment.Experiment, error)
	// ListExperiments returns all experiments.
	ListExperiments(ctx context.Context) ([]*experiment.Experiment, error)
	// StartExperiment transitions draft → running and activates the linked flag.
	StartExperiment(ctx context.Context, id uuid.UUID) error
	// StopExperiment computes final results, transitions to completed, and
	// deactivates the linked flag.
	StopExperiment(ctx context.Context, id uuid.UUID) (*experiment.Results, error)
	// PauseExperiment suspends a running experiment.
	PauseExperiment(ctx context.Context, id uuid.UUID) error
	// ArchiveExperiment retires a completed experiment.
	ArchiveExperiment(ctx context.Context, id uuid.UUID) error
	// AssignUser deterministically assigns a user to a variant. Idempotent:
	// an existing assignment is returned as-is. Returns (nil, nil) when the
	// experiment is not running or the user is outside the target audience.
	AssignUser(ctx context.Context, experimentID uuid.UUID, userID string) (*experiment.Assignment, error)
	// TrackEvent appends an immutable event; conversions are forwarded to the
	// funnel tracker fire-and-forget.
	TrackEvent(ctx context.Context, ev *experiment.Event) error
	// CalculateResults returns cached results when fresh, otherwise recomputes
	// from the event stream and persists the new snapshot.
	CalculateResults(ctx context.Context, id uuid.UUID) (*experiment.Results, error)
}

// ExperimentRepository is the persistence gateway for experiment aggregates.
type ExperimentRepository interface {
	Save(ctx context.Context, exp *experiment.Experiment) error
	Get(ctx context.Context, id uuid.UUID) (*experiment.Experiment, error)
	Update(ctx context.Context, exp *experiment.Experiment) error
	GetAll(ctx context.Context) ([]*experiment.Experiment, error)
	GetRunning(ctx context.Context) ([]*experiment.Experiment, error)
	GetByDateRange(ctx context.Context, from, to time.Time) ([]*experiment.Experiment, error)
}

// EventRepository stores the append-only event stream and user assignments.
type EventRepository interface {
	Append(ctx context.Context, ev *experiment.Event) error
	GetByExperiment(ctx context.Context, experimentID uuid.UUID) ([]*experiment.Event, error)
	GetAssignment(ctx context.Context, experimentID uuid.UUID, userID string) (*experiment.Assignment, error)
	SaveAssignment(ctx context.Context, a *experiment.Assignment) error
}

// ResultsRepository stores computed result snapshots. The production wiring
// fronts it with a redis cache carrying the freshness window.
type ResultsRepository interface {
	SaveResults(ctx context.Context, results *experiment.Results) error
	GetResults(ctx context.Context, experimentID uuid.UUID) (*experiment.Results, error)
}

// FlagService is the outbound feature-flag collaborator. An experiment's
// linked flag mirrors its running state and target percentage.
type FlagService interface {
	CreateFeature(ctx context.Context, key, description string) error
	ToggleFeature(ctx context.Context, key string, enabled bool, actor string) error
	UpdateRollout(ctx context.Context, key string, percentage int) error
	IsEnabled(ctx context.Context, key string, userCtx map[string]string) (bool, error)
}

// FunnelTracker is the fire-and-forget analytics sink for conversion events.
type FunnelTracker interface {
	Track(userID, metric string, eventCtx map[string]string)
}
