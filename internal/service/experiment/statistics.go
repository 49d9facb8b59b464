package experiment

import (
	"math"
	"time"

	"github.com/draftforge/experiment-platform/internal/domain/experiment"
)

// computeResults derives statistics from the event stream and the experiment
// config at calculation time. It is a pure function: replaying the same event
// set yields the same tallies and recommendation.
//
// Significance is the deliberately simple heuristic
// totalSamples >= minSampleSize && |effectSize| >= MDE, not a formal
// hypothesis test. Confidence is reported separately from a two-proportion
// z-score between control and the best variant.
func computeResults(exp *experiment.Experiment, events []*experiment.Event, now time.Time) *experiment.Results {
	samples := make(map[string]int, len(exp.Variants))
	conversions := make(map[string]int, len(exp.Variants))

	for _, ev := range events {
		switch ev.Type {
		case experiment.EventAssignment:
			samples[ev.VariantID]++
		case experiment.EventConversion:
			if ev.MetricName == exp.PrimaryMetric.Name {
				conversions[ev.VariantID]++
			}
		}
	}

	results := &experiment.Results{
		ExperimentID: exp.ID,
		Variants:     make(map[string]experiment.VariantResult, len(exp.Variants)),
		CalculatedAt: now,
	}

	control, _ := exp.ControlVariant()

	totalSamples := 0
	for _, v := range exp.Variants {
		n := samples[v.ID]
		c := conversions[v.ID]
		totalSamples += n

		rate := 0.0
		if n > 0 {
			rate = float64(c) / float64(n)
		}

		results.Variants[v.ID] = experiment.VariantResult{
			VariantID:      v.ID,
			SampleSize:     n,
			Conversions:    c,
			ConversionRate: rate,
			Posterior:      betaPosterior(c, n, len(exp.Variants)),
		}
	}
	results.TotalSamples = totalSamples

	controlResult := results.Variants[control.ID]
	controlRate := controlResult.ConversionRate

	// Best variant by conversion rate; ties favor control.
	best := controlResult
	for _, v := range exp.Variants {
		if vr := results.Variants[v.ID]; vr.ConversionRate > best.ConversionRate {
			best = vr
		}
	}

	if controlRate > 0 {
		results.EffectSize = (best.ConversionRate - controlRate) / controlRate * 100
	}

	results.Significant = totalSamples >= exp.Stats.MinSampleSize &&
		math.Abs(results.EffectSize) >= exp.PrimaryMetric.MinimumDetectableEffect
	results.Confidence = twoProportionConfidence(controlResult, best)

	switch {
	case !results.Significant:
		results.RecommendedAction = experiment.RecommendContinue
	case best.VariantID == control.ID:
		results.WinningVariantID = control.ID
		results.RecommendedAction = experiment.RecommendShipControl
	case results.EffectSize >= exp.PrimaryMetric.MinimumDetectableEffect:
		results.WinningVariantID = best.VariantID
		results.RecommendedAction = experiment.RecommendShipWinner
	default:
		results.RecommendedAction = experiment.RecommendStopInconclusive
	}

	return results
}

// betaPosterior summarizes a Beta(successes+1, failures+1) posterior with a
// uniform prior. ProbabilityBest and ExpectedLoss are uniform placeholders,
// see the BayesianSummary doc.
func betaPosterior(conversions, sampleSize, numVariants int) experiment.BayesianSummary {
	alpha := float64(conversions) + 1
	beta := float64(sampleSize-conversions) + 1
	total := alpha + beta

	return experiment.BayesianSummary{
		Alpha:           alpha,
		Beta:            beta,
		Mean:            alpha / total,
		Variance:        alpha * beta / (total * total * (total + 1)),
		ProbabilityBest: 1 / float64(numVariants),
		ExpectedLoss:    0,
	}
}

// twoProportionConfidence turns a pooled two-proportion z-score between
// control and challenger into a two-sided confidence level in [0, 1].
func twoProportionConfidence(control, challenger experiment.VariantResult) float64 {
	if control.VariantID == challenger.VariantID {
		return 0
	}

	n1 := float64(control.SampleSize)
	n2 := float64(challenger.SampleSize)
	if n1 <= 0 || n2 <= 0 {
		return 0
	}

	p1 := control.ConversionRate
	p2 := challenger.ConversionRate
	pooled := (p1*n1 + p2*n2) / (n1 + n2)

	se := math.Sqrt(pooled * (1 - pooled) * (1/n1 + 1/n2))
	if se == 0 {
		return 0
	}

	z := math.Abs(p2-p1) / se
	confidence := 2*normalCDF(z) - 1
	if confidence < 0 {
		return 0
	}
	return confidence
}

func normalCDF(z float64) float64 {
	return 0.5 * (1 + math.Erf(z/math.Sqrt2))
}
