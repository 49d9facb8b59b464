package experiment

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftforge/experiment-platform/internal/domain/experiment"
)

func twoArmExperiment(minSampleSize int, mde float64) *experiment.Experiment {
	exp, err := experiment.NewExperiment(experiment.Spec{
		Name: "checkout-cta",
		Variants: []experiment.Variant{
			{ID: "control", Name: "Control", TrafficAllocation: 50, IsControl: true},
			{ID: "treatment", Name: "Treatment", TrafficAllocation: 50},
		},
		PrimaryMetric: experiment.MetricSpec{
			Name:                    "signup",
			Type:                    experiment.MetricConversion,
			GoalDirection:           experiment.DirectionIncrease,
			MinimumDetectableEffect: mde,
		},
		Stats: experiment.StatsConfig{MinSampleSize: minSampleSize},
	})
	if err != nil {
		panic(err)
	}
	return exp
}

func generateEvents(exp *experiment.Experiment, samples, conversions map[string]int) []*experiment.Event {
	var events []*experiment.Event
	for variantID, n := range samples {
		for i := 0; i < n; i++ {
			userID := fmt.Sprintf("%s-user-%d", variantID, i)
			events = append(events, experiment.NewEvent(exp.ID, variantID, userID, experiment.EventAssignment))
			if i < conversions[variantID] {
				ev := experiment.NewEvent(exp.ID, variantID, userID, experiment.EventConversion)
				ev.MetricName = exp.PrimaryMetric.Name
				events = append(events, ev)
			}
		}
	}
	return events
}

func TestComputeResults_ConversionRatesAndEffectSize(t *testing.T) {
	// 500/500 split, 100 vs 160 conversions: rates 0.20/0.32, lift 60%.
	exp := twoArmExperiment(1000, 5)
	events := generateEvents(exp,
		map[string]int{"control": 500, "treatment": 500},
		map[string]int{"control": 100, "treatment": 160})

	results := computeResults(exp, events, time.Now())

	assert.Equal(t, 1000, results.TotalSamples)
	assert.InDelta(t, 0.20, results.Variants["control"].ConversionRate, 1e-9)
	assert.InDelta(t, 0.32, results.Variants["treatment"].ConversionRate, 1e-9)
	assert.InDelta(t, 60.0, results.EffectSize, 1e-9)
	assert.True(t, results.Significant)
	assert.Equal(t, "treatment", results.WinningVariantID)
	assert.Equal(t, experiment.RecommendShipWinner, results.RecommendedAction)
	assert.Greater(t, results.Confidence, 0.95)
}

func TestComputeResults_NotSignificantBelowMinSampleSize(t *testing.T) {
	exp := twoArmExperiment(10000, 5)
	events := generateEvents(exp,
		map[string]int{"control": 500, "treatment": 500},
		map[string]int{"control": 100, "treatment": 160})

	results := computeResults(exp, events, time.Now())

	assert.False(t, results.Significant)
	assert.Equal(t, experiment.RecommendContinue, results.RecommendedAction)
	assert.Empty(t, results.WinningVariantID)
}

func TestComputeResults_TiesFavorControl(t *testing.T) {
	exp := twoArmExperiment(100, 0)
	events := generateEvents(exp,
		map[string]int{"control": 100, "treatment": 100},
		map[string]int{"control": 20, "treatment": 20})

	results := computeResults(exp, events, time.Now())

	assert.Equal(t, 0.0, results.EffectSize)
	assert.True(t, results.Significant)
	assert.Equal(t, "control", results.WinningVariantID)
	assert.Equal(t, experiment.RecommendShipControl, results.RecommendedAction)
}

func TestComputeResults_ZeroControlRate(t *testing.T) {
	exp := twoArmExperiment(10, 5)
	events := generateEvents(exp,
		map[string]int{"control": 50, "treatment": 50},
		map[string]int{"control": 0, "treatment": 10})

	results := computeResults(exp, events, time.Now())

	// Effect size is defined as 0 when the control never converts.
	assert.Equal(t, 0.0, results.EffectSize)
}

func TestComputeResults_NoEvents(t *testing.T) {
	exp := twoArmExperiment(100, 5)

	results := computeResults(exp, nil, time.Now())

	assert.Equal(t, 0, results.TotalSamples)
	assert.False(t, results.Significant)
	assert.Equal(t, experiment.RecommendContinue, results.RecommendedAction)
	for _, vr := range results.Variants {
		assert.Zero(t, vr.ConversionRate)
	}
}

func TestComputeResults_IgnoresOtherMetrics(t *testing.T) {
	exp := twoArmExperiment(10, 5)
	events := generateEvents(exp,
		map[string]int{"control": 50, "treatment": 50},
		map[string]int{"control": 10, "treatment": 10})

	stray := experiment.NewEvent(exp.ID, "treatment", "user-x", experiment.EventConversion)
	stray.MetricName = "unrelated-metric"
	events = append(events, stray)

	results := computeResults(exp, events, time.Now())

	assert.Equal(t, 10, results.Variants["treatment"].Conversions)
}

func TestComputeResults_PureFunctionOfEventLog(t *testing.T) {
	exp := twoArmExperiment(1000, 5)
	events := generateEvents(exp,
		map[string]int{"control": 500, "treatment": 500},
		map[string]int{"control": 100, "treatment": 160})

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	first := computeResults(exp, events, at)
	second := computeResults(exp, events, at)

	assert.Equal(t, first, second)
}

func TestBetaPosterior(t *testing.T) {
	p := betaPosterior(100, 500, 2)

	require.Equal(t, 101.0, p.Alpha)
	require.Equal(t, 401.0, p.Beta)
	assert.InDelta(t, 101.0/502.0, p.Mean, 1e-9)
	assert.InDelta(t, (101.0*401.0)/(502.0*502.0*503.0), p.Variance, 1e-12)
	assert.Equal(t, 0.5, p.ProbabilityBest)
	assert.Zero(t, p.ExpectedLoss)
}

func TestTwoProportionConfidence_ZeroSamples(t *testing.T) {
	control := experiment.VariantResult{VariantID: "control"}
	challenger := experiment.VariantResult{VariantID: "treatment"}

	assert.Zero(t, twoProportionConfidence(control, challenger))
}
