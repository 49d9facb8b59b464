package experiment

import (
	"time"

	"github.com/google/uuid"
)

// EventType classifies the facts recorded against an experiment.
type EventType string

const (
	EventAssignment EventType = "assignment"
	EventConversion EventType = "conversion"
	EventRevenue    EventType = "revenue"
	EventEngagement EventType = "engagement"
)

// Event is an immutable, append-only fact. Events are the sole source of
// truth for derived statistics.
type Event struct {
	ID           uuid.UUID         `json:"id"`
	ExperimentID uuid.UUID         `json:"experiment_id"`
	VariantID    string            `json:"variant_id"`
	UserID       string            `json:"user_id"`
	SessionID    string            `json:"session_id,omitempty"`
	Type         EventType         `json:"type"`
	MetricName   string            `json:"metric_name,omitempty"`
	Value        float64           `json:"value,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
}

// NewEvent stamps identity and time onto an event payload.
func NewEvent(experimentID uuid.UUID, variantID, userID string, eventType EventType) *Event {
	return &Event{
		ID:           uuid.New(),
		ExperimentID: experimentID,
		VariantID:    variantID,
		UserID:       userID,
		Type:         eventType,
		Timestamp:    time.Now(),
	}
}

// Assignment is the durable mapping of a user to a variant for the life of
// an experiment.
type Assignment struct {
	ExperimentID uuid.UUID `json:"experiment_id"`
	UserID       string    `json:"user_id"`
	VariantID    string    `json:"variant_id"`
	AssignedAt   time.Time `json:"assigned_at"`
}
