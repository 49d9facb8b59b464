package automation

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/draftforge/experiment-platform/internal/domain/alert"
	"github.com/draftforge/experiment-platform/internal/domain/automation"
	"github.com/draftforge/experiment-platform/internal/domain/experiment"
)

func (s *service) executeAction(ctx context.Context, action automation.Action, exp *experiment.Experiment, results *experiment.Results, policy *automation.Policy) error {
	switch action.Kind {
	case automation.ActionStopExperiment:
		return s.stopExperiment(ctx, action.Stop, exp, results)
	case automation.ActionStartExperiment:
		return s.startFromQueue(ctx, action.Start, policy)
	case automation.ActionReallocateTraffic:
		return s.reallocateTraffic(ctx, action.Reallocate, exp, results)
	case automation.ActionCreateFollowup:
		return s.createFollowup(ctx, action.Followup, exp, results)
	case automation.ActionImplementWinner:
		return s.implementWinner(ctx, action.Implement, exp, results, policy)
	default:
		return fmt.Errorf("unknown action kind %q", action.Kind)
	}
}

func (s *service) stopExperiment(ctx context.Context, p *automation.StopParams, exp *experiment.Experiment, results *experiment.Results) error {
	final, err := s.engine.StopExperiment(ctx, exp.ID)
	if err != nil {
		return fmt.Errorf("stopping experiment: %w", err)
	}

	s.logger.Info("automation stopped experiment",
		zap.String("experiment_id", exp.ID.String()),
		zap.String("recommendation", string(final.RecommendedAction)))

	if p.NotifyStakeholders {
		priority := alert.PriorityMedium
		if p.Emergency {
			priority = alert.PriorityCritical
		}
		a := alert.New(exp.ID, alert.TypeExperimentStopped, priority,
			fmt.Sprintf("experiment %q was stopped automatically: %s", exp.Name, final.RecommendedAction))
		a.Data["experiment_name"] = exp.Name
		a.Data["recommendation"] = string(final.RecommendedAction)
		a.Data["confidence"] = final.Confidence
		s.raiseAlert(ctx, a, exp, final)
	}

	return nil
}

// startFromQueue pulls the highest-priority ready entry off the queue,
// respecting the concurrency cap and dependency completion.
func (s *service) startFromQueue(ctx context.Context, p *automation.StartParams, policy *automation.Policy) error {
	maxConcurrent := p.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = policy.MaxConcurrentExperiments
	}

	all, err := s.engine.ListExperiments(ctx)
	if err != nil {
		return fmt.Errorf("listing experiments: %w", err)
	}

	running := 0
	completed := make(map[uuid.UUID]bool)
	for _, exp := range all {
		switch exp.Status {
		case experiment.StatusRunning:
			running++
		case experiment.StatusCompleted, experiment.StatusArchived:
			completed[exp.ID] = true
		}
	}
	if running >= maxConcurrent {
		s.logger.Debug("start skipped, concurrency cap reached",
			zap.Int("running", running), zap.Int("max", maxConcurrent))
		return nil
	}

	queue, err := s.repo.ListQueue(ctx)
	if err != nil {
		return fmt.Errorf("listing queue: %w", err)
	}
	sort.SliceStable(queue, func(i, j int) bool {
		return queue[i].Priority > queue[j].Priority
	})

	now := s.now()
	for _, entry := range queue {
		if !entry.AutoStart || !entry.Ready(now, completed) {
			continue
		}

		if err := s.engine.StartExperiment(ctx, entry.ExperimentID); err != nil {
			return fmt.Errorf("starting queued experiment %s: %w", entry.ExperimentID, err)
		}
		if err := s.repo.Dequeue(ctx, entry.ID); err != nil {
			return fmt.Errorf("dequeuing entry %s: %w", entry.ID, err)
		}

		started, err := s.engine.GetExperiment(ctx, entry.ExperimentID)
		if err == nil {
			a := alert.New(started.ID, alert.TypeExperimentStarted, alert.PriorityLow,
				fmt.Sprintf("experiment %q was started from the queue", started.Name))
			a.Data["experiment_name"] = started.Name
			a.Data["queue_priority"] = entry.Priority
			s.raiseAlert(ctx, a, started, nil)
		}

		return nil
	}

	return nil
}

// reallocateTraffic reports variants performing below the threshold fraction
// of the average rate. The actual traffic-table mutation stays with the
// experiment's configuration; the alert describes the intended change.
func (s *service) reallocateTraffic(ctx context.Context, p *automation.ReallocateParams, exp *experiment.Experiment, results *experiment.Results) error {
	threshold := p.UnderperformThreshold
	if threshold <= 0 {
		threshold = 0.8
	}

	avg, _, ok := rateSpread(results)
	if !ok || avg == 0 {
		return nil
	}

	var underperformers []string
	for _, vr := range results.Variants {
		if vr.SampleSize > 0 && vr.ConversionRate < threshold*avg {
			underperformers = append(underperformers, vr.VariantID)
		}
	}
	if len(underperformers) == 0 {
		return nil
	}
	sort.Strings(underperformers)

	a := alert.New(exp.ID, alert.TypeTrafficReallocation, alert.PriorityHigh,
		fmt.Sprintf("variants %v in %q convert below %.0f%% of the average rate; reallocate their traffic",
			underperformers, exp.Name, threshold*100))
	a.Data["experiment_name"] = exp.Name
	a.Data["underperformers"] = underperformers
	a.Data["average_rate"] = avg
	s.raiseAlert(ctx, a, exp, results)

	return nil
}

// createFollowup derives a deterministic follow-up experiment id from the
// winning variant and enqueues it, scheduled after a delay and gated on the
// current experiment's completion. The entry is a candidate, not a built
// experiment: AutoStart stays false so the queue processor never picks it up,
// and an operator designs the follow-up under the reserved id before it can
// run. The id is deterministic so a rule re-fire upserts the same candidate
// instead of piling up duplicates.
func (s *service) createFollowup(ctx context.Context, p *automation.FollowupParams, exp *experiment.Experiment, results *experiment.Results) error {
	winnerID := results.WinningVariantID
	if winnerID == "" {
		return nil
	}

	followupID := uuid.NewSHA1(exp.ID, []byte("followup-"+winnerID))
	entry := &automation.QueueEntry{
		ID:           uuid.New(),
		ExperimentID: followupID,
		Priority:     p.Priority,
		ScheduledFor: s.now().Add(p.ScheduleDelay),
		DependsOn:    []uuid.UUID{exp.ID},
		EnqueuedAt:   s.now(),
	}

	if err := s.repo.Enqueue(ctx, entry); err != nil {
		return fmt.Errorf("enqueuing followup: %w", err)
	}

	s.logger.Info("followup experiment enqueued",
		zap.String("experiment_id", exp.ID.String()),
		zap.String("followup_id", followupID.String()),
		zap.String("winning_variant", winnerID))

	return nil
}

// implementWinner is gated by the global policy flag because it has
// production impact; it emits an alert rather than performing deployment.
func (s *service) implementWinner(ctx context.Context, p *automation.ImplementParams, exp *experiment.Experiment, results *experiment.Results, policy *automation.Policy) error {
	if !policy.AutoImplementWinner {
		s.logger.Debug("implement_winner skipped, disabled by policy",
			zap.String("experiment_id", exp.ID.String()))
		return nil
	}
	if results.WinningVariantID == "" || results.Confidence < p.RequireConfidence {
		return nil
	}

	a := alert.New(exp.ID, alert.TypeWinnerReady, alert.PriorityHigh,
		fmt.Sprintf("variant %q of %q is ready to implement at %.1f%% confidence",
			results.WinningVariantID, exp.Name, results.Confidence*100))
	a.Data["experiment_name"] = exp.Name
	a.Data["winning_variant"] = results.WinningVariantID
	a.Data["confidence"] = results.Confidence
	s.raiseAlert(ctx, a, exp, results)

	return nil
}

// raiseAlert persists and dispatches; failures on either path are logged, an
// alert must never fail the action that raised it.
func (s *service) raiseAlert(ctx context.Context, a *alert.Alert, exp *experiment.Experiment, results *experiment.Results) {
	if s.alerts != nil {
		if err := s.alerts.Save(ctx, a); err != nil {
			s.logger.Warn("failed to save alert",
				zap.String("alert_id", a.ID.String()), zap.Error(err))
		}
	}
	if s.dispatcher != nil {
		if err := s.dispatcher.ProcessAlert(ctx, a, exp, results); err != nil {
			s.logger.Warn("alert dispatch failed",
				zap.String("alert_id", a.ID.String()), zap.Error(err))
		}
	}
}
