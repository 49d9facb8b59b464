package automation

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/draftforge/experiment-platform/internal/domain/automation"
	"github.com/draftforge/experiment-platform/internal/domain/errors"
	"github.com/draftforge/experiment-platform/internal/domain/experiment"
)

type service struct {
	engine     ExperimentController
	running    RunningLister
	repo       Repository
	alerts     AlertStore
	dispatcher AlertDispatcher

	logger *zap.Logger
	now    func() time.Time
}

// NewService constructs the automation engine.
func NewService(
	engine ExperimentController,
	running RunningLister,
	repo Repository,
	alerts AlertStore,
	dispatcher AlertDispatcher,
	logger *zap.Logger,
) Service {
	return &service{
		engine:     engine,
		running:    running,
		repo:       repo,
		alerts:     alerts,
		dispatcher: dispatcher,
		logger:     logger,
		now:        time.Now,
	}
}

func (s *service) RunCycle(ctx context.Context) error {
	policy, err := s.GetPolicy(ctx)
	if err != nil {
		return err
	}

	rules, err := s.repo.ListRules(ctx)
	if err != nil {
		return fmt.Errorf("listing rules: %w", err)
	}
	if len(rules) == 0 {
		// Without stored rules the engine falls back to the policy's default
		// stop rules; they are persisted on first firing via MarkRuleExecuted.
		rules = defaultStopRules(policy)
	}

	experiments, err := s.running.GetRunning(ctx)
	if err != nil {
		return fmt.Errorf("listing running experiments: %w", err)
	}

	for _, exp := range experiments {
		if err := s.evaluateExperiment(ctx, exp, rules, policy); err != nil {
			s.logger.Error("automation evaluation failed",
				zap.String("experiment_id", exp.ID.String()),
				zap.Error(err))
		}
	}

	return nil
}

func (s *service) evaluateExperiment(ctx context.Context, exp *experiment.Experiment, rules []*automation.Rule, policy *automation.Policy) error {
	results, err := s.engine.CalculateResults(ctx, exp.ID)
	if err != nil {
		return fmt.Errorf("calculating results: %w", err)
	}

	now := s.now()
	for _, rule := range rules {
		if !rule.Eligible(now) {
			continue
		}
		if !triggerFires(rule.Trigger, exp, results, now) {
			continue
		}

		s.logger.Info("automation rule fired",
			zap.String("rule", rule.Name),
			zap.String("experiment_id", exp.ID.String()),
			zap.String("action", string(rule.Action.Kind)))

		if err := s.executeAction(ctx, rule.Action, exp, results, policy); err != nil {
			// A failed action must not poison the rest of the cycle, and the
			// rule stays off cooldown so the next cycle retries.
			s.logger.Error("automation action failed",
				zap.String("rule", rule.Name),
				zap.String("experiment_id", exp.ID.String()),
				zap.Error(err))
			continue
		}

		// The execution timestamp persists together with the action's side
		// effect so a crash-restart cannot double-fire.
		rule.MarkExecuted(now)
		if err := s.repo.MarkRuleExecuted(ctx, rule); err != nil {
			s.logger.Error("failed to persist rule execution",
				zap.String("rule", rule.Name),
				zap.Error(err))
		}
	}

	return nil
}

func (s *service) CreateRule(ctx context.Context, name string, trigger automation.Trigger, action automation.Action, cooldown time.Duration) (*automation.Rule, error) {
	rule, err := automation.NewRule(name, trigger, action, cooldown)
	if err != nil {
		return nil, err
	}

	if err := s.repo.SaveRule(ctx, rule); err != nil {
		return nil, fmt.Errorf("saving rule: %w", err)
	}

	s.logger.Info("automation rule created",
		zap.String("rule", rule.Name),
		zap.String("trigger", string(rule.Trigger.Kind)),
		zap.String("action", string(rule.Action.Kind)))

	return rule, nil
}

func (s *service) ListRules(ctx context.Context) ([]*automation.Rule, error) {
	return s.repo.ListRules(ctx)
}

func (s *service) EnqueueExperiment(ctx context.Context, entry *automation.QueueEntry) error {
	if entry.EnqueuedAt.IsZero() {
		entry.EnqueuedAt = s.now()
	}
	return s.repo.Enqueue(ctx, entry)
}

func (s *service) GetPolicy(ctx context.Context) (*automation.Policy, error) {
	policy, err := s.repo.GetPolicy(ctx)
	if err == nil {
		return policy, nil
	}
	if errors.IsNotFound(err) {
		p := automation.DefaultPolicy()
		return &p, nil
	}
	return nil, fmt.Errorf("loading policy: %w", err)
}

func (s *service) UpdatePolicy(ctx context.Context, policy *automation.Policy) error {
	return s.repo.SavePolicy(ctx, policy)
}

// defaultStopRules synthesizes the stop rules implied by the global policy:
// stop significant experiments with solid confidence, and stop experiments
// that run far past their estimate without reaching significance.
func defaultStopRules(policy *automation.Policy) []*automation.Rule {
	var rules []*automation.Rule

	if policy.AutoStopOnSignificance {
		rule, err := automation.NewRule("auto-stop-significant",
			automation.Trigger{
				Kind: automation.TriggerSignificance,
				Significance: &automation.SignificanceParams{
					MinConfidence:  policy.AutoStopConfidence,
					MinDaysRunning: 1,
				},
			},
			automation.Action{
				Kind: automation.ActionStopExperiment,
				Stop: &automation.StopParams{NotifyStakeholders: true},
			},
			24*time.Hour)
		if err == nil {
			rules = append(rules, rule)
		}
	}

	rule, err := automation.NewRule("auto-stop-overdue",
		automation.Trigger{
			Kind: automation.TriggerTime,
			Time: &automation.TimeParams{
				DurationMultiplier:   policy.DurationMultiplier,
				OnlyIfNotSignificant: true,
			},
		},
		automation.Action{
			Kind: automation.ActionStopExperiment,
			Stop: &automation.StopParams{NotifyStakeholders: true},
		},
		24*time.Hour)
	if err == nil {
		rules = append(rules, rule)
	}

	return rules
}
