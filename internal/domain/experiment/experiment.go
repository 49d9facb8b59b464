package experiment

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/draftforge/experiment-platform/internal/domain/errors"
)

// Experiment is the aggregate root for a single A/B test: its variants,
// targeting rules, primary metric, and lifecycle state.
type Experiment struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Hypothesis string    `json:"hypothesis"`
	Status     Status    `json:"status"`

	TargetAudience TargetAudience `json:"target_audience"`
	Variants       []Variant      `json:"variants"`

	PrimaryMetric    MetricSpec   `json:"primary_metric"`
	SecondaryMetrics []MetricSpec `json:"secondary_metrics,omitempty"`

	StartDate         *time.Time `json:"start_date,omitempty"`
	EndDate           *time.Time `json:"end_date,omitempty"`
	EstimatedDuration int        `json:"estimated_duration_days"`

	Stats StatsConfig `json:"stats"`

	// FeatureFlagKey links the experiment to its backing flag; auto-provisioned
	// at creation when empty.
	FeatureFlagKey string `json:"feature_flag_key,omitempty"`

	Owner string   `json:"owner,omitempty"`
	Team  string   `json:"team,omitempty"`
	Tags  []string `json:"tags,omitempty"`

	// Results is the cached derived view; recomputable from the event stream.
	Results *Results `json:"results,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Variant is one arm of an experiment, including the control.
type Variant struct {
	ID                string            `json:"id"`
	Name              string            `json:"name"`
	TrafficAllocation int               `json:"traffic_allocation"` // 0-100
	IsControl         bool              `json:"is_control"`
	FeatureConfig     map[string]string `json:"feature_config,omitempty"`
}

// TargetAudience filters which users are eligible for assignment.
type TargetAudience struct {
	Percentage   int      `json:"percentage"` // 0-100 of eligible traffic
	Roles        []string `json:"roles,omitempty"`
	DeviceTypes  []string `json:"device_types,omitempty"`
	NewUsersOnly bool     `json:"new_users_only,omitempty"`
}

// MetricSpec describes a tracked metric and the direction of improvement.
type MetricSpec struct {
	Name          string     `json:"name"`
	Type          MetricType `json:"type"`
	GoalDirection Direction  `json:"goal_direction"`
	// MinimumDetectableEffect is the smallest relative effect, in percent,
	// the experiment is powered to detect.
	MinimumDetectableEffect float64 `json:"minimum_detectable_effect"`
}

type MetricType string

const (
	MetricConversion MetricType = "conversion"
	MetricRevenue    MetricType = "revenue"
	MetricEngagement MetricType = "engagement"
)

type Direction string

const (
	DirectionIncrease Direction = "increase"
	DirectionDecrease Direction = "decrease"
)

// StatsConfig holds the statistical knobs applied when evaluating results.
type StatsConfig struct {
	MinSampleSize     int     `json:"min_sample_size"`
	Power             float64 `json:"power"`
	SignificanceLevel float64 `json:"significance_level"`
}

type Status string

const (
	StatusDraft     Status = "draft"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusArchived  Status = "archived"
)

// Spec is the input to NewExperiment.
type Spec struct {
	Name              string
	Hypothesis        string
	TargetAudience    TargetAudience
	Variants          []Variant
	PrimaryMetric     MetricSpec
	SecondaryMetrics  []MetricSpec
	EstimatedDuration int
	Stats             StatsConfig
	FeatureFlagKey    string
	Owner             string
	Team              string
	Tags              []string
}

// NewExperiment validates the Spec and returns a draft experiment.
// Invariants: non-empty name, at least two variants, allocations summing to
// exactly 100, and exactly one control variant.
func NewExperiment(spec Spec) (*Experiment, error) {
	if spec.Name == "" {
		return nil, errors.NewValidationError("MISSING_NAME", "experiment name cannot be empty")
	}

	if len(spec.Variants) < 2 {
		return nil, errors.NewValidationError("TOO_FEW_VARIANTS",
			fmt.Sprintf("experiment requires at least 2 variants, got %d", len(spec.Variants)))
	}

	allocation := 0
	controls := 0
	for _, v := range spec.Variants {
		allocation += v.TrafficAllocation
		if v.IsControl {
			controls++
		}
	}

	if allocation != 100 {
		return nil, errors.NewValidationError("INVALID_ALLOCATION",
			fmt.Sprintf("variant traffic allocations must sum to 100, got %d", allocation))
	}

	if controls != 1 {
		return nil, errors.NewValidationError("INVALID_CONTROL",
			fmt.Sprintf("exactly one variant must be marked control, got %d", controls))
	}

	now := time.Now()
	exp := &Experiment{
		ID:                uuid.New(),
		Name:              spec.Name,
		Hypothesis:        spec.Hypothesis,
		Status:            StatusDraft,
		TargetAudience:    spec.TargetAudience,
		Variants:          spec.Variants,
		PrimaryMetric:     spec.PrimaryMetric,
		SecondaryMetrics:  spec.SecondaryMetrics,
		EstimatedDuration: spec.EstimatedDuration,
		Stats:             spec.Stats,
		FeatureFlagKey:    spec.FeatureFlagKey,
		Owner:             spec.Owner,
		Team:              spec.Team,
		Tags:              spec.Tags,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if exp.TargetAudience.Percentage <= 0 || exp.TargetAudience.Percentage > 100 {
		exp.TargetAudience.Percentage = 100
	}

	return exp, nil
}

// Start transitions draft → running.
func (e *Experiment) Start() error {
	if e.Status != StatusDraft {
		return errors.NewBusinessError("INVALID_STATE",
			fmt.Sprintf("cannot start experiment in status %q, must be draft", e.Status))
	}

	now := time.Now()
	e.Status = StatusRunning
	e.StartDate = &now
	e.UpdatedAt = now
	return nil
}

// Stop transitions running → completed. Paused experiments can also be
// stopped so that a pause never strands an experiment.
func (e *Experiment) Stop() error {
	if e.Status != StatusRunning && e.Status != StatusPaused {
		return errors.NewBusinessError("INVALID_STATE",
			fmt.Sprintf("cannot stop experiment in status %q", e.Status))
	}

	now := time.Now()
	e.Status = StatusCompleted
	e.EndDate = &now
	e.UpdatedAt = now
	return nil
}

// Pause suspends a running experiment.
func (e *Experiment) Pause() error {
	if e.Status != StatusRunning {
		return errors.NewBusinessError("INVALID_STATE",
			fmt.Sprintf("cannot pause experiment in status %q", e.Status))
	}

	e.Status = StatusPaused
	e.UpdatedAt = time.Now()
	return nil
}

// Archive retires a completed experiment. Administrative, irreversible.
func (e *Experiment) Archive() error {
	if e.Status != StatusCompleted {
		return errors.NewBusinessError("INVALID_STATE",
			fmt.Sprintf("cannot archive experiment in status %q, must be completed", e.Status))
	}

	e.Status = StatusArchived
	e.UpdatedAt = time.Now()
	return nil
}

// Clone returns a deep copy of the experiment. Aggregates handed out by
// caches must not share slices, maps, or the Results pointer with the cached
// copy, or an in-place mutation on one reader leaks into every other.
func (e *Experiment) Clone() *Experiment {
	cp := *e

	cp.Variants = make([]Variant, len(e.Variants))
	for i, v := range e.Variants {
		cp.Variants[i] = v
		cp.Variants[i].FeatureConfig = maps.Clone(v.FeatureConfig)
	}

	cp.SecondaryMetrics = slices.Clone(e.SecondaryMetrics)
	cp.Tags = slices.Clone(e.Tags)
	cp.TargetAudience.Roles = slices.Clone(e.TargetAudience.Roles)
	cp.TargetAudience.DeviceTypes = slices.Clone(e.TargetAudience.DeviceTypes)

	if e.StartDate != nil {
		t := *e.StartDate
		cp.StartDate = &t
	}
	if e.EndDate != nil {
		t := *e.EndDate
		cp.EndDate = &t
	}
	if e.Results != nil {
		cp.Results = e.Results.Clone()
	}

	return &cp
}

// ControlVariant returns the control arm. Validated at construction, so a
// missing control only happens on malformed stored data.
func (e *Experiment) ControlVariant() (Variant, bool) {
	for _, v := range e.Variants {
		if v.IsControl {
			return v, true
		}
	}
	return Variant{}, false
}

// VariantByID looks up a variant by its id.
func (e *Experiment) VariantByID(id string) (Variant, bool) {
	for _, v := range e.Variants {
		if v.ID == id {
			return v, true
		}
	}
	return Variant{}, false
}

// DaysRunning reports how long the experiment has been live.
func (e *Experiment) DaysRunning(now time.Time) float64 {
	if e.StartDate == nil {
		return 0
	}
	end := now
	if e.EndDate != nil {
		end = *e.EndDate
	}
	return end.Sub(*e.StartDate).Hours() / 24
}
