package automation

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/draftforge/experiment-platform/internal/domain/errors"
)

// TriggerKind identifies the predicate family a rule evaluates.
type TriggerKind string

const (
	TriggerSignificance TriggerKind = "significance_based"
	TriggerTime         TriggerKind = "time_based"
	TriggerPerformance  TriggerKind = "performance_based"
	TriggerSampleSize   TriggerKind = "sample_size_based"
)

// ActionKind identifies the side effect a rule executes when it fires.
type ActionKind string

const (
	ActionStopExperiment    ActionKind = "stop_experiment"
	ActionStartExperiment   ActionKind = "start_experiment"
	ActionReallocateTraffic ActionKind = "reallocate_traffic"
	ActionCreateFollowup    ActionKind = "create_followup"
	ActionImplementWinner   ActionKind = "implement_winner"
)

// Trigger is a tagged union: exactly one parameter struct is set, matching
// Kind. Invalid combinations are rejected at rule construction, not at
// evaluation time.
type Trigger struct {
	Kind         TriggerKind         `json:"kind"`
	Significance *SignificanceParams `json:"significance,omitempty"`
	Time         *TimeParams         `json:"time,omitempty"`
	Performance  *PerformanceParams  `json:"performance,omitempty"`
	SampleSize   *SampleSizeParams   `json:"sample_size,omitempty"`
}

// SignificanceParams gate on a significant result with enough confidence,
// samples, and runtime.
type SignificanceParams struct {
	MinConfidence  float64 `json:"min_confidence"`
	MinSampleSize  int     `json:"min_sample_size"`
	MinDaysRunning float64 `json:"min_days_running"`
}

// TimeParams fire when runtime exceeds the estimated duration scaled by the
// multiplier, optionally only while the result is still not significant.
type TimeParams struct {
	DurationMultiplier   float64 `json:"duration_multiplier"`
	OnlyIfNotSignificant bool    `json:"only_if_not_significant"`
}

// PerformanceParams fire when the worst variant's conversion rate drops too
// far below the cross-variant average.
type PerformanceParams struct {
	// MaxDropPercent is the largest tolerated relative drop, in percent,
	// between the average and the minimum variant rate.
	MaxDropPercent float64 `json:"max_drop_percent"`
	MinSampleSize  int     `json:"min_sample_size"`
}

// SampleSizeParams fire once total samples reach the experiment's minimum
// scaled by the multiplier.
type SampleSizeParams struct {
	Multiplier float64 `json:"multiplier"`
}

// Action is a tagged union mirroring Trigger.
type Action struct {
	Kind       ActionKind        `json:"kind"`
	Stop       *StopParams       `json:"stop,omitempty"`
	Start      *StartParams      `json:"start,omitempty"`
	Reallocate *ReallocateParams `json:"reallocate,omitempty"`
	Followup   *FollowupParams   `json:"followup,omitempty"`
	Implement  *ImplementParams  `json:"implement,omitempty"`
}

// StopParams configure an automated stop.
type StopParams struct {
	NotifyStakeholders bool `json:"notify_stakeholders"`
	Emergency          bool `json:"emergency"`
}

// StartParams pull the next ready queue entry, capped by concurrency.
type StartParams struct {
	MaxConcurrent int `json:"max_concurrent"`
}

// ReallocateParams flag variants performing below the threshold fraction of
// the average rate.
type ReallocateParams struct {
	// UnderperformThreshold is the fraction of the average conversion rate
	// below which a variant is reported for reallocation. Zero means 0.8.
	UnderperformThreshold float64 `json:"underperform_threshold"`
}

// FollowupParams enqueue a derived follow-up experiment.
type FollowupParams struct {
	ScheduleDelay time.Duration `json:"schedule_delay"`
	Priority      int           `json:"priority"`
}

// ImplementParams gate winner implementation on the global policy flag.
type ImplementParams struct {
	RequireConfidence float64 `json:"require_confidence"`
}

// Rule is a cooldown-gated automation rule.
type Rule struct {
	ID           uuid.UUID     `json:"id"`
	Name         string        `json:"name"`
	Trigger      Trigger       `json:"trigger"`
	Action       Action        `json:"action"`
	Enabled      bool          `json:"enabled"`
	Cooldown     time.Duration `json:"cooldown"`
	LastExecuted *time.Time    `json:"last_executed,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// NewRule validates that the trigger and action carry exactly the parameter
// struct their kind requires.
func NewRule(name string, trigger Trigger, action Action, cooldown time.Duration) (*Rule, error) {
	if name == "" {
		return nil, errors.NewValidationError("MISSING_NAME", "rule name cannot be empty")
	}

	if err := validateTrigger(trigger); err != nil {
		return nil, err
	}
	if err := validateAction(action); err != nil {
		return nil, err
	}

	now := time.Now()
	return &Rule{
		ID:        uuid.New(),
		Name:      name,
		Trigger:   trigger,
		Action:    action,
		Enabled:   true,
		Cooldown:  cooldown,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func validateTrigger(t Trigger) error {
	ok := false
	switch t.Kind {
	case TriggerSignificance:
		ok = t.Significance != nil
	case TriggerTime:
		ok = t.Time != nil
	case TriggerPerformance:
		ok = t.Performance != nil
	case TriggerSampleSize:
		ok = t.SampleSize != nil
	default:
		return errors.NewValidationError("UNKNOWN_TRIGGER",
			fmt.Sprintf("unknown trigger kind %q", t.Kind))
	}
	if !ok {
		return errors.NewValidationError("MISSING_TRIGGER_PARAMS",
			fmt.Sprintf("trigger kind %q requires its parameter struct", t.Kind))
	}
	return nil
}

func validateAction(a Action) error {
	ok := false
	switch a.Kind {
	case ActionStopExperiment:
		ok = a.Stop != nil
	case ActionStartExperiment:
		ok = a.Start != nil
	case ActionReallocateTraffic:
		ok = a.Reallocate != nil
	case ActionCreateFollowup:
		ok = a.Followup != nil
	case ActionImplementWinner:
		ok = a.Implement != nil
	default:
		return errors.NewValidationError("UNKNOWN_ACTION",
			fmt.Sprintf("unknown action kind %q", a.Kind))
	}
	if !ok {
		return errors.NewValidationError("MISSING_ACTION_PARAMS",
			fmt.Sprintf("action kind %q requires its parameter struct", a.Kind))
	}
	return nil
}

// OnCooldown reports whether the rule fired within its cooldown window.
func (r *Rule) OnCooldown(now time.Time) bool {
	if r.LastExecuted == nil {
		return false
	}
	return now.Before(r.LastExecuted.Add(r.Cooldown))
}

// Eligible reports whether the rule may be evaluated at all: enabled and not
// on cooldown.
func (r *Rule) Eligible(now time.Time) bool {
	return r.Enabled && !r.OnCooldown(now)
}

// MarkExecuted records a firing. Persisted together with the action's side
// effect so a crash-restart cannot double-fire.
func (r *Rule) MarkExecuted(now time.Time) {
	t := now
	r.LastExecuted = &t
	r.UpdatedAt = now
}
