package rest

import (
	"time"

	"github.com/draftforge/experiment-platform/internal/domain/automation"
	"github.com/draftforge/experiment-platform/internal/domain/experiment"
)

// createExperimentRequest is the JSON body of POST /api/v1/experiments.
type createExperimentRequest struct {
	Name              string                `json:"name" validate:"required,max=200"`
	Hypothesis        string                `json:"hypothesis" validate:"max=2000"`
	TargetAudience    targetAudienceRequest `json:"target_audience"`
	Variants          []variantRequest      `json:"variants" validate:"required,min=2,dive"`
	PrimaryMetric     metricRequest         `json:"primary_metric" validate:"required"`
	SecondaryMetrics  []metricRequest       `json:"secondary_metrics" validate:"dive"`
	EstimatedDuration int                   `json:"estimated_duration_days" validate:"gte=0"`
	Stats             statsRequest          `json:"stats"`
	FeatureFlagKey    string                `json:"feature_flag_key" validate:"max=200"`
	Owner             string                `json:"owner" validate:"max=200"`
	Team              string                `json:"team" validate:"max=200"`
	Tags              []string              `json:"tags" validate:"dive,max=100"`
}

type targetAudienceRequest struct {
	Percentage   int      `json:"percentage" validate:"gte=0,lte=100"`
	Roles        []string `json:"roles" validate:"dive,max=100"`
	DeviceTypes  []string `json:"device_types" validate:"dive,max=100"`
	NewUsersOnly bool     `json:"new_users_only"`
}

type variantRequest struct {
	ID                string            `json:"id" validate:"required,max=100"`
	Name              string            `json:"name" validate:"required,max=200"`
	TrafficAllocation int               `json:"traffic_allocation" validate:"gte=0,lte=100"`
	IsControl         bool              `json:"is_control"`
	FeatureConfig     map[string]string `json:"feature_config"`
}

type metricRequest struct {
	Name                    string  `json:"name" validate:"required,max=200"`
	Type                    string  `json:"type" validate:"omitempty,oneof=conversion revenue engagement"`
	GoalDirection           string  `json:"goal_direction" validate:"omitempty,oneof=increase decrease"`
	MinimumDetectableEffect float64 `json:"minimum_detectable_effect" validate:"gte=0"`
}

type statsRequest struct {
	MinSampleSize     int     `json:"min_sample_size" validate:"gte=0"`
	Power             float64 `json:"power" validate:"gte=0,lte=1"`
	SignificanceLevel float64 `json:"significance_level" validate:"gte=0,lte=1"`
}

func (r *createExperimentRequest) toSpec() experiment.Spec {
	variants := make([]experiment.Variant, len(r.Variants))
	for i, v := range r.Variants {
		variants[i] = experiment.Variant{
			ID:                v.ID,
			Name:              v.Name,
			TrafficAllocation: v.TrafficAllocation,
			IsControl:         v.IsControl,
			FeatureConfig:     v.FeatureConfig,
		}
	}

	secondary := make([]experiment.MetricSpec, len(r.SecondaryMetrics))
	for i, m := range r.SecondaryMetrics {
		secondary[i] = m.toSpec()
	}

	return experiment.Spec{
		Name:       r.Name,
		Hypothesis: r.Hypothesis,
		TargetAudience: experiment.TargetAudience{
			Percentage:   r.TargetAudience.Percentage,
			Roles:        r.TargetAudience.Roles,
			DeviceTypes:  r.TargetAudience.DeviceTypes,
			NewUsersOnly: r.TargetAudience.NewUsersOnly,
		},
		Variants:          variants,
		PrimaryMetric:     r.PrimaryMetric.toSpec(),
		SecondaryMetrics:  secondary,
		EstimatedDuration: r.EstimatedDuration,
		Stats: experiment.StatsConfig{
			MinSampleSize:     r.Stats.MinSampleSize,
			Power:             r.Stats.Power,
			SignificanceLevel: r.Stats.SignificanceLevel,
		},
		FeatureFlagKey: r.FeatureFlagKey,
		Owner:          r.Owner,
		Team:           r.Team,
		Tags:           r.Tags,
	}
}

func (m metricRequest) toSpec() experiment.MetricSpec {
	return experiment.MetricSpec{
		Name:                    m.Name,
		Type:                    experiment.MetricType(m.Type),
		GoalDirection:           experiment.Direction(m.GoalDirection),
		MinimumDetectableEffect: m.MinimumDetectableEffect,
	}
}

// assignRequest is the JSON body of POST /api/v1/experiments/{id}/assign.
type assignRequest struct {
	UserID string `json:"user_id" validate:"required,max=200"`
}

type assignResponse struct {
	Assigned   bool       `json:"assigned"`
	VariantID  string     `json:"variant_id,omitempty"`
	AssignedAt *time.Time `json:"assigned_at,omitempty"`
}

// trackEventRequest is the JSON body of POST /api/v1/events.
type trackEventRequest struct {
	ExperimentID string            `json:"experiment_id" validate:"required,uuid"`
	VariantID    string            `json:"variant_id" validate:"required,max=100"`
	UserID       string            `json:"user_id" validate:"required,max=200"`
	Type         string            `json:"type" validate:"required,oneof=assignment conversion revenue engagement"`
	MetricName   string            `json:"metric_name" validate:"max=200"`
	Value        float64           `json:"value"`
	Metadata     map[string]string `json:"metadata"`
}

// createRuleRequest is the JSON body of POST /api/v1/automation/rules.
// Cooldown is expressed in seconds on the wire.
type createRuleRequest struct {
	Name            string             `json:"name" validate:"required,max=200"`
	Trigger         automation.Trigger `json:"trigger"`
	Action          automation.Action  `json:"action"`
	CooldownSeconds int                `json:"cooldown_seconds" validate:"gte=0"`
}

// enqueueRequest is the JSON body of POST /api/v1/automation/queue.
type enqueueRequest struct {
	ExperimentID string     `json:"experiment_id" validate:"required,uuid"`
	Priority     int        `json:"priority"`
	AutoStart    bool       `json:"auto_start"`
	ScheduledFor *time.Time `json:"scheduled_for"`
	DependsOn    []string   `json:"depends_on" validate:"dive,uuid"`
}

// resolveFeatureRequest is the JSON body of POST /api/v1/features/resolve.
type resolveFeatureRequest struct {
	FlagKey string            `json:"flag_key" validate:"required,max=200"`
	UserID  string            `json:"user_id" validate:"required,max=200"`
	Context map[string]string `json:"context"`
}

// conversionRequest is the JSON body of POST /api/v1/conversions.
type conversionRequest struct {
	UserID   string            `json:"user_id" validate:"required,max=200"`
	Metric   string            `json:"metric" validate:"required,max=200"`
	Value    float64           `json:"value"`
	Metadata map[string]string `json:"metadata"`
}

type listResponse[T any] struct {
	Items []T `json:"items"`
	Count int `json:"count"`
}
