package experiment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/draftforge/experiment-platform/internal/domain/errors"
	"github.com/draftforge/experiment-platform/internal/domain/experiment"
)

type service struct {
	experiments ExperimentRepository
	events      EventRepository
	results     ResultsRepository
	flags       FlagService
	funnel      FunnelTracker

	resultsTTL time.Duration
	logger     *zap.Logger
	now        func() time.Time
}

// NewService constructs the experiment engine. resultsTTL bounds how long a
// computed results snapshot is served without recomputation.
func NewService(
	experiments ExperimentRepository,
	events EventRepository,
	results ResultsRepository,
	flags FlagService,
	funnel FunnelTracker,
	resultsTTL time.Duration,
	logger *zap.Logger,
) Service {
	if resultsTTL <= 0 {
		resultsTTL = time.Hour
	}

	return &service{
		experiments: experiments,
		events:      events,
		results:     results,
		flags:       flags,
		funnel:      funnel,
		resultsTTL:  resultsTTL,
		logger:      logger,
		now:         time.Now,
	}
}

func (s *service) CreateExperiment(ctx context.Context, spec experiment.Spec) (*experiment.Experiment, error) {
	exp, err := experiment.NewExperiment(spec)
	if err != nil {
		return nil, err
	}

	if exp.FeatureFlagKey == "" {
		exp.FeatureFlagKey = fmt.Sprintf("experiment-%s", exp.ID)
		if err := s.flags.CreateFeature(ctx, exp.FeatureFlagKey, exp.Name); err != nil {
			// The flag mirror is reconciled on start; creation proceeds.
			s.logger.Warn("failed to provision feature flag",
				zap.String("experiment_id", exp.ID.String()),
				zap.String("flag_key", exp.FeatureFlagKey),
				zap.Error(err))
		}
	}

	if err := s.experiments.Save(ctx, exp); err != nil {
		return nil, fmt.Errorf("saving experiment: %w", err)
	}

	s.logger.Info("experiment created",
		zap.String("experiment_id", exp.ID.String()),
		zap.String("name", exp.Name),
		zap.Int("variants", len(exp.Variants)))

	return exp, nil
}

func (s *service) GetExperiment(ctx context.Context, id uuid.UUID) (*experiment.Experiment, error) {
	return s.experiments.Get(ctx, id)
}

func (s *service) ListExperiments(ctx context.Context) ([]*experiment.Experiment, error) {
	return s.experiments.GetAll(ctx)
}

func (s *service) StartExperiment(ctx context.Context, id uuid.UUID) error {
	exp, err := s.experiments.Get(ctx, id)
	if err != nil {
		return err
	}

	if err := exp.Start(); err != nil {
		return err
	}

	if err := s.experiments.Update(ctx, exp); err != nil {
		return fmt.Errorf("updating experiment: %w", err)
	}

	s.mirrorFlag(ctx, exp, true)

	s.logger.Info("experiment started",
		zap.String("experiment_id", exp.ID.String()),
		zap.String("name", exp.Name))

	return nil
}

func (s *service) StopExperiment(ctx context.Context, id uuid.UUID) (*experiment.Results, error) {
	exp, err := s.experiments.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := exp.Stop(); err != nil {
		return nil, err
	}

	// Final results are computed before the status write so a completed
	// experiment always carries its snapshot.
	events, err := s.events.GetByExperiment(ctx, exp.ID)
	if err != nil {
		return nil, fmt.Errorf("loading events: %w", err)
	}

	results := computeResults(exp, events, s.now())
	if err := s.results.SaveResults(ctx, results); err != nil {
		return nil, fmt.Errorf("saving results: %w", err)
	}

	exp.Results = results
	if err := s.experiments.Update(ctx, exp); err != nil {
		return nil, fmt.Errorf("updating experiment: %w", err)
	}

	s.mirrorFlag(ctx, exp, false)

	s.logger.Info("experiment stopped",
		zap.String("experiment_id", exp.ID.String()),
		zap.String("recommendation", string(results.RecommendedAction)),
		zap.Int("total_samples", results.TotalSamples))

	return results, nil
}

func (s *service) PauseExperiment(ctx context.Context, id uuid.UUID) error {
	exp, err := s.experiments.Get(ctx, id)
	if err != nil {
		return err
	}

	if err := exp.Pause(); err != nil {
		return err
	}

	if err := s.experiments.Update(ctx, exp); err != nil {
		return fmt.Errorf("updating experiment: %w", err)
	}

	s.mirrorFlag(ctx, exp, false)

	s.logger.Info("experiment paused", zap.String("experiment_id", exp.ID.String()))
	return nil
}

func (s *service) ArchiveExperiment(ctx context.Context, id uuid.UUID) error {
	exp, err := s.experiments.Get(ctx, id)
	if err != nil {
		return err
	}

	if err := exp.Archive(); err != nil {
		return err
	}

	if err := s.experiments.Update(ctx, exp); err != nil {
		return fmt.Errorf("updating experiment: %w", err)
	}

	s.logger.Info("experiment archived", zap.String("experiment_id", exp.ID.String()))
	return nil
}

func (s *service) AssignUser(ctx context.Context, experimentID uuid.UUID, userID string) (*experiment.Assignment, error) {
	existing, err := s.events.GetAssignment(ctx, experimentID, userID)
	if err == nil {
		return existing, nil
	}
	if !errors.IsNotFound(err) {
		return nil, fmt.Errorf("looking up assignment: %w", err)
	}

	exp, err := s.experiments.Get(ctx, experimentID)
	if err != nil {
		return nil, err
	}

	// Stopping an experiment takes effect immediately for new assignments.
	if exp.Status != experiment.StatusRunning {
		return nil, nil
	}

	if !eligible(userID, exp.ID.String(), exp.TargetAudience.Percentage) {
		return nil, nil
	}

	variant := pickVariant(userID, exp.ID.String(), exp.Variants)

	assignment := &experiment.Assignment{
		ExperimentID: exp.ID,
		UserID:       userID,
		VariantID:    variant.ID,
		AssignedAt:   s.now(),
	}
	if err := s.events.SaveAssignment(ctx, assignment); err != nil {
		return nil, fmt.Errorf("saving assignment: %w", err)
	}

	ev := experiment.NewEvent(exp.ID, variant.ID, userID, experiment.EventAssignment)
	if err := s.events.Append(ctx, ev); err != nil {
		return nil, fmt.Errorf("recording assignment event: %w", err)
	}

	return assignment, nil
}

func (s *service) TrackEvent(ctx context.Context, ev *experiment.Event) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.now()
	}

	if err := s.events.Append(ctx, ev); err != nil {
		return fmt.Errorf("appending event: %w", err)
	}

	if ev.Type == experiment.EventConversion {
		s.funnel.Track(ev.UserID, ev.MetricName, ev.Metadata)
	}

	return nil
}

func (s *service) CalculateResults(ctx context.Context, id uuid.UUID) (*experiment.Results, error) {
	cached, err := s.results.GetResults(ctx, id)
	if err == nil && cached.Fresh(s.now(), s.resultsTTL) {
		return cached, nil
	}
	if err != nil && !errors.IsNotFound(err) {
		s.logger.Warn("results lookup failed, recomputing",
			zap.String("experiment_id", id.String()), zap.Error(err))
	}

	exp, err := s.experiments.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	events, err := s.events.GetByExperiment(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading events: %w", err)
	}

	results := computeResults(exp, events, s.now())
	if err := s.results.SaveResults(ctx, results); err != nil {
		return nil, fmt.Errorf("saving results: %w", err)
	}

	return results, nil
}

// mirrorFlag keeps the linked feature flag aligned with the experiment's
// running state and target percentage. Flag service failures are logged, not
// propagated: the experiment's own state is authoritative.
func (s *service) mirrorFlag(ctx context.Context, exp *experiment.Experiment, enabled bool) {
	if exp.FeatureFlagKey == "" {
		return
	}

	if err := s.flags.ToggleFeature(ctx, exp.FeatureFlagKey, enabled, exp.Owner); err != nil {
		s.logger.Warn("failed to toggle feature flag",
			zap.String("flag_key", exp.FeatureFlagKey),
			zap.Bool("enabled", enabled),
			zap.Error(err))
		return
	}

	if enabled {
		if err := s.flags.UpdateRollout(ctx, exp.FeatureFlagKey, exp.TargetAudience.Percentage); err != nil {
			s.logger.Warn("failed to update flag rollout",
				zap.String("flag_key", exp.FeatureFlagKey),
				zap.Error(err))
		}
	}
}
