package experiment

import (
	"maps"
	"time"

	"github.com/google/uuid"
)

// Recommendation is the action derived from a results evaluation.
type Recommendation string

const (
	RecommendShipWinner       Recommendation = "ship-winner"
	RecommendShipControl      Recommendation = "ship-control"
	RecommendContinue         Recommendation = "continue"
	RecommendStopInconclusive Recommendation = "stop-inconclusive"
)

// Results is the derived, recomputable statistical view of an experiment.
// It is a pure function of the event stream plus the experiment config at
// calculation time, cached with a freshness window.
type Results struct {
	ExperimentID uuid.UUID `json:"experiment_id"`

	Significant bool    `json:"significant"`
	Confidence  float64 `json:"confidence"`
	// EffectSize is the relative lift of the best variant over control, in percent.
	EffectSize float64 `json:"effect_size"`

	Variants map[string]VariantResult `json:"variants"`

	WinningVariantID  string         `json:"winning_variant_id,omitempty"`
	RecommendedAction Recommendation `json:"recommended_action"`

	TotalSamples int       `json:"total_samples"`
	CalculatedAt time.Time `json:"calculated_at"`
}

// VariantResult holds per-variant tallies and the Bayesian posterior summary.
type VariantResult struct {
	VariantID      string          `json:"variant_id"`
	SampleSize     int             `json:"sample_size"`
	Conversions    int             `json:"conversions"`
	ConversionRate float64         `json:"conversion_rate"`
	Posterior      BayesianSummary `json:"posterior"`
}

// BayesianSummary is a Beta(successes+1, failures+1) posterior with a uniform
// prior. ProbabilityBest and ExpectedLoss are uniform placeholders rather than
// sampled posterior comparisons; kept for parity with the evaluation heuristic
// the recommendation logic was tuned against.
type BayesianSummary struct {
	Alpha           float64 `json:"alpha"`
	Beta            float64 `json:"beta"`
	Mean            float64 `json:"mean"`
	Variance        float64 `json:"variance"`
	ProbabilityBest float64 `json:"probability_best"`
	ExpectedLoss    float64 `json:"expected_loss"`
}

// Clone returns a deep copy of the results snapshot.
func (r *Results) Clone() *Results {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Variants = maps.Clone(r.Variants)
	return &cp
}

// Fresh reports whether the cached results are within the freshness window.
func (r *Results) Fresh(now time.Time, ttl time.Duration) bool {
	if r == nil {
		return false
	}
	return now.Sub(r.CalculatedAt) < ttl
}
