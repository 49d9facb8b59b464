package alert

import (
	"time"

	"github.com/google/uuid"
)

// Type classifies what the alert is about.
type Type string

const (
	TypeLowSampleSize       Type = "low_sample_size"
	TypeSignificanceReached Type = "significance_reached"
	TypeDurationExceeded    Type = "duration_exceeded"
	TypePerformanceConcern  Type = "performance_concern"
	TypeExperimentStopped   Type = "experiment_stopped"
	TypeExperimentStarted   Type = "experiment_started"
	TypeTrafficReallocation Type = "traffic_reallocation"
	TypeWinnerReady         Type = "winner_ready"
)

// Priority orders alerts for routing and templating.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Alert is a single notification-worthy fact about an experiment, produced
// by the monitoring service or the automation engine and consumed by the
// alerting service.
type Alert struct {
	ID           uuid.UUID              `json:"id"`
	ExperimentID uuid.UUID              `json:"experiment_id"`
	Type         Type                   `json:"type"`
	Priority     Priority               `json:"priority"`
	Message      string                 `json:"message"`
	Data         map[string]interface{} `json:"data,omitempty"`
	Acknowledged bool                   `json:"acknowledged"`
	CreatedAt    time.Time              `json:"created_at"`
}

// New stamps identity and time onto an alert.
func New(experimentID uuid.UUID, alertType Type, priority Priority, message string) *Alert {
	return &Alert{
		ID:           uuid.New(),
		ExperimentID: experimentID,
		Type:         alertType,
		Priority:     priority,
		Message:      message,
		Data:         make(map[string]interface{}),
		CreatedAt:    time.Now(),
	}
}

// ChannelType enumerates the supported notification transports.
type ChannelType string

const (
	ChannelEmail   ChannelType = "email"
	ChannelSlack   ChannelType = "slack"
	ChannelWebhook ChannelType = "webhook"
	ChannelBrowser ChannelType = "browser"
	ChannelSMS     ChannelType = "sms"
)

// Rule routes matching alerts to a set of channels, throttled by a cooldown.
type Rule struct {
	ID            uuid.UUID     `json:"id"`
	Name          string        `json:"name"`
	AlertTypes    []Type        `json:"alert_types"`
	MinPriority   Priority      `json:"min_priority"`
	Tags          []string      `json:"tags,omitempty"`
	MinConfidence float64       `json:"min_confidence,omitempty"`
	MinImpact     float64       `json:"min_impact,omitempty"`
	Channels      []ChannelType `json:"channels"`
	Cooldown      time.Duration `json:"cooldown"`
	LastTriggered *time.Time    `json:"last_triggered,omitempty"`
	Enabled       bool          `json:"enabled"`
}

// OnCooldown reports whether the rule triggered within its cooldown window.
func (r *Rule) OnCooldown(now time.Time) bool {
	if r.LastTriggered == nil {
		return false
	}
	return now.Before(r.LastTriggered.Add(r.Cooldown))
}

var priorityRank = map[Priority]int{
	PriorityLow:      0,
	PriorityMedium:   1,
	PriorityHigh:     2,
	PriorityCritical: 3,
}

// AtLeast reports whether p is at or above min.
func (p Priority) AtLeast(min Priority) bool {
	return priorityRank[p] >= priorityRank[min]
}

// Template is a message template keyed by (alert type, priority). Rendering
// falls back to the type's medium template when no exact match exists.
type Template struct {
	Type     Type     `json:"type"`
	Priority Priority `json:"priority"`
	Subject  string   `json:"subject"`
	Body     string   `json:"body"`
}

// Message is a rendered notification handed to a channel.
type Message struct {
	Subject  string                 `json:"subject"`
	Body     string                 `json:"body"`
	Priority Priority               `json:"priority"`
	Payload  map[string]interface{} `json:"payload,omitempty"`
}
