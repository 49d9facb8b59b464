package health

import (
	"time"

	"github.com/google/uuid"
)

// Status classifies a running experiment at a point in time.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
)

// severityRank orders statuses so the rollup can pick the worst.
func severityRank(s Status) int {
	switch s {
	case StatusCritical:
		return 2
	case StatusWarning:
		return 1
	default:
		return 0
	}
}

// Worse returns the more severe of two statuses.
func Worse(a, b Status) Status {
	if severityRank(b) > severityRank(a) {
		return b
	}
	return a
}

// IssueType classifies a detected anomaly.
type IssueType string

const (
	IssueLowSampleSize       IssueType = "low_sample_size"
	IssueSignificanceReached IssueType = "significance_reached"
	IssueDurationExceeded    IssueType = "duration_exceeded"
	IssuePerformanceConcern  IssueType = "performance_concern"
)

// Issue is a single finding from a health check.
type Issue struct {
	Type           IssueType `json:"type"`
	Severity       Status    `json:"severity"`
	Message        string    `json:"message"`
	Recommendation string    `json:"recommendation,omitempty"`
}

// ExperimentHealth is the derived per-experiment snapshot.
type ExperimentHealth struct {
	ExperimentID uuid.UUID `json:"experiment_id"`
	Status       Status    `json:"status"`
	Issues       []Issue   `json:"issues,omitempty"`

	SampleSize        int     `json:"sample_size"`
	AvgConversionRate float64 `json:"avg_conversion_rate"`
	DaysRunning       float64 `json:"days_running"`

	// EstimatedDaysToSignificance is nil when the daily sample rate is zero
	// or significance has already been reached.
	EstimatedDaysToSignificance *float64 `json:"estimated_days_to_significance,omitempty"`

	CheckedAt time.Time `json:"checked_at"`
}

// AddIssue appends an issue and rolls the overall status up to the worst
// severity seen.
func (h *ExperimentHealth) AddIssue(issue Issue) {
	h.Issues = append(h.Issues, issue)
	h.Status = Worse(h.Status, issue.Severity)
}
