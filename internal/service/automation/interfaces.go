package automation

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/draftforge/experiment-platform/internal/domain/alert"
	"github.com/draftforge/experiment-platform/internal/domain/automation"
	"github.com/draftforge/experiment-platform/internal/domain/experiment"
)

// Service is the rule-driven controller: once per cycle it inspects every
// running experiment against the rule set and executes the matching actions.
type Service interface {
	// RunCycle evaluates all eligible rules against all running experiments.
	// Per-experiment and per-action failures are logged, never propagated, so
	// one broken experiment cannot halt the cycle.
	RunCycle(ctx context.Context) error
	// CreateRule validates and persists an automation rule.
	CreateRule(ctx context.Context, name string, trigger automation.Trigger, action automation.Action, cooldown time.Duration) (*automation.Rule, error)
	// ListRules returns all stored rules.
	ListRules(ctx context.Context) ([]*automation.Rule, error)
	// EnqueueExperiment adds a pending experiment to the start queue.
	EnqueueExperiment(ctx context.Context, entry *automation.QueueEntry) error
	// GetPolicy returns the effective global policy.
	GetPolicy(ctx context.Context) (*automation.Policy, error)
	// UpdatePolicy replaces the global policy.
	UpdatePolicy(ctx context.Context, policy *automation.Policy) error
}

// ExperimentController is the slice of the experiment engine the automation
// engine drives.
type ExperimentController interface {
	GetExperiment(ctx context.Context, id uuid.UUID) (*experiment.Experiment, error)
	ListExperiments(ctx context.Context) ([]*experiment.Experiment, error)
	StartExperiment(ctx context.Context, id uuid.UUID) error
	StopExperiment(ctx context.Context, id uuid.UUID) (*experiment.Results, error)
	CalculateResults(ctx context.Context, id uuid.UUID) (*experiment.Results, error)
}

// RunningLister lists currently running experiments.
type RunningLister interface {
	GetRunning(ctx context.Context) ([]*experiment.Experiment, error)
}

// Repository persists rules, the global policy, and the experiment queue.
type Repository interface {
	SaveRule(ctx context.Context, rule *automation.Rule) error
	ListRules(ctx context.Context) ([]*automation.Rule, error)
	MarkRuleExecuted(ctx context.Context, rule *automation.Rule) error
	GetPolicy(ctx context.Context) (*automation.Policy, error)
	SavePolicy(ctx context.Context, policy *automation.Policy) error
	Enqueue(ctx context.Context, entry *automation.QueueEntry) error
	ListQueue(ctx context.Context) ([]*automation.QueueEntry, error)
	Dequeue(ctx context.Context, id uuid.UUID) error
}

// AlertStore persists alerts raised by automation actions.
type AlertStore interface {
	Save(ctx context.Context, a *alert.Alert) error
}

// AlertDispatcher routes raised alerts to notification channels.
type AlertDispatcher interface {
	ProcessAlert(ctx context.Context, a *alert.Alert, exp *experiment.Experiment, results *experiment.Results) error
}
