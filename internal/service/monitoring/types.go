package monitoring

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// GrowthReport aggregates the business impact of completed, statistically
// significant experiments within a window. Revenue figures come from a
// simplified baseline model: each conversion is priced at a configured
// baseline value, and incremental revenue is the winner's lift over control
// applied to the winner's sample.
type GrowthReport struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`

	ExperimentCount    int             `json:"experiment_count"`
	TotalRevenue       decimal.Decimal `json:"total_revenue"`
	IncrementalRevenue decimal.Decimal `json:"incremental_revenue"`
	AvgConversionLift  float64         `json:"avg_conversion_lift"`

	// TopExperiments ranks up to five experiments by incremental revenue.
	TopExperiments []ExperimentImpact `json:"top_experiments"`
}

// ExperimentImpact is one entry in the growth report ranking.
type ExperimentImpact struct {
	ExperimentID       uuid.UUID       `json:"experiment_id"`
	Name               string          `json:"name"`
	EffectSize         float64         `json:"effect_size"`
	IncrementalRevenue decimal.Decimal `json:"incremental_revenue"`
}
