package integration

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/draftforge/experiment-platform/internal/domain/errors"
	"github.com/draftforge/experiment-platform/internal/domain/experiment"
)

// FeatureDecision is the outcome of resolving a feature key for a user:
// whether the feature is on, and any variant config overrides applied by an
// experiment backing the flag.
type FeatureDecision struct {
	Enabled   bool              `json:"enabled"`
	Experiment *uuid.UUID       `json:"experiment_id,omitempty"`
	VariantID string            `json:"variant_id,omitempty"`
	Config    map[string]string `json:"config,omitempty"`
}

// Service bridges feature-flag evaluation and funnel-step tracking into
// experiment assignment. It is glue over the engine's public contract.
type Service interface {
	// ResolveFeature decides a feature key for a user. When a running
	// experiment backs the flag, the user is assigned through the engine and
	// the variant's feature config is applied; otherwise the flag service
	// decides directly.
	ResolveFeature(ctx context.Context, flagKey, userID string, userCtx map[string]string) (*FeatureDecision, error)
	// RecordConversion records a conversion for every running experiment the
	// user is assigned to, tagged with the given metric.
	RecordConversion(ctx context.Context, userID, metric string, value float64, metadata map[string]string) error
}

// Engine is the slice of the experiment engine the integration layer drives.
type Engine interface {
	ListExperiments(ctx context.Context) ([]*experiment.Experiment, error)
	AssignUser(ctx context.Context, experimentID uuid.UUID, userID string) (*experiment.Assignment, error)
	TrackEvent(ctx context.Context, ev *experiment.Event) error
}

// AssignmentReader looks up existing assignments without creating them.
type AssignmentReader interface {
	GetAssignment(ctx context.Context, experimentID uuid.UUID, userID string) (*experiment.Assignment, error)
}

// FlagService decides flags that no experiment backs.
type FlagService interface {
	IsEnabled(ctx context.Context, key string, userCtx map[string]string) (bool, error)
}

type service struct {
	engine      Engine
	assignments AssignmentReader
	flags       FlagService
	logger      *zap.Logger
}

// NewService constructs the integration layer.
func NewService(engine Engine, assignments AssignmentReader, flags FlagService, logger *zap.Logger) Service {
	return &service{
		engine:      engine,
		assignments: assignments,
		flags:       flags,
		logger:      logger,
	}
}

func (s *service) ResolveFeature(ctx context.Context, flagKey, userID string, userCtx map[string]string) (*FeatureDecision, error) {
	exp, err := s.findBackingExperiment(ctx, flagKey)
	if err != nil {
		return nil, err
	}

	if exp == nil {
		enabled, err := s.flags.IsEnabled(ctx, flagKey, userCtx)
		if err != nil {
			return nil, fmt.Errorf("evaluating flag %q: %w", flagKey, err)
		}
		return &FeatureDecision{Enabled: enabled}, nil
	}

	assignment, err := s.engine.AssignUser(ctx, exp.ID, userID)
	if err != nil {
		return nil, fmt.Errorf("assigning user to experiment %s: %w", exp.ID, err)
	}
	if assignment == nil {
		// Outside the target audience: the feature stays off for this user.
		return &FeatureDecision{Experiment: &exp.ID}, nil
	}

	variant, ok := exp.VariantByID(assignment.VariantID)
	if !ok {
		return nil, errors.NewInternalError(
			fmt.Sprintf("assignment references unknown variant %q", assignment.VariantID))
	}

	return &FeatureDecision{
		Enabled:    !variant.IsControl,
		Experiment: &exp.ID,
		VariantID:  variant.ID,
		Config:     variant.FeatureConfig,
	}, nil
}

func (s *service) findBackingExperiment(ctx context.Context, flagKey string) (*experiment.Experiment, error) {
	all, err := s.engine.ListExperiments(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing experiments: %w", err)
	}

	for _, exp := range all {
		if exp.FeatureFlagKey == flagKey && exp.Status == experiment.StatusRunning {
			return exp, nil
		}
	}
	return nil, nil
}

func (s *service) RecordConversion(ctx context.Context, userID, metric string, value float64, metadata map[string]string) error {
	all, err := s.engine.ListExperiments(ctx)
	if err != nil {
		return fmt.Errorf("listing experiments: %w", err)
	}

	for _, exp := range all {
		if exp.Status != experiment.StatusRunning {
			continue
		}

		assignment, err := s.assignments.GetAssignment(ctx, exp.ID, userID)
		if err != nil {
			if errors.IsNotFound(err) {
				continue
			}
			s.logger.Warn("assignment lookup failed",
				zap.String("experiment_id", exp.ID.String()),
				zap.String("user_id", userID),
				zap.Error(err))
			continue
		}

		ev := experiment.NewEvent(exp.ID, assignment.VariantID, userID, experiment.EventConversion)
		ev.MetricName = metric
		ev.Value = value
		ev.Metadata = metadata

		if err := s.engine.TrackEvent(ctx, ev); err != nil {
			s.logger.Warn("failed to record conversion",
				zap.String("experiment_id", exp.ID.String()),
				zap.String("user_id", userID),
				zap.Error(err))
		}
	}

	return nil
}
