package automation

import (
	"time"

	"github.com/draftforge/experiment-platform/internal/domain/automation"
	"github.com/draftforge/experiment-platform/internal/domain/experiment"
)

// triggerFires evaluates a rule's trigger predicate against one experiment's
// current results. Cooldown and enablement are checked by the caller.
func triggerFires(trigger automation.Trigger, exp *experiment.Experiment, results *experiment.Results, now time.Time) bool {
	switch trigger.Kind {
	case automation.TriggerSignificance:
		return significanceFires(trigger.Significance, exp, results, now)
	case automation.TriggerTime:
		return timeFires(trigger.Time, exp, results, now)
	case automation.TriggerPerformance:
		return performanceFires(trigger.Performance, results)
	case automation.TriggerSampleSize:
		return sampleSizeFires(trigger.SampleSize, exp, results)
	default:
		return false
	}
}

func significanceFires(p *automation.SignificanceParams, exp *experiment.Experiment, results *experiment.Results, now time.Time) bool {
	return results.Significant &&
		results.Confidence >= p.MinConfidence &&
		results.TotalSamples >= p.MinSampleSize &&
		exp.DaysRunning(now) >= p.MinDaysRunning
}

func timeFires(p *automation.TimeParams, exp *experiment.Experiment, results *experiment.Results, now time.Time) bool {
	if exp.EstimatedDuration <= 0 {
		return false
	}
	if p.OnlyIfNotSignificant && results.Significant {
		return false
	}

	multiplier := p.DurationMultiplier
	if multiplier <= 0 {
		multiplier = 1.5
	}
	return exp.DaysRunning(now) > float64(exp.EstimatedDuration)*multiplier
}

func performanceFires(p *automation.PerformanceParams, results *experiment.Results) bool {
	if results.TotalSamples < p.MinSampleSize {
		return false
	}

	avg, min, ok := rateSpread(results)
	if !ok || avg == 0 {
		return false
	}

	drop := (avg - min) / avg * 100
	return drop > p.MaxDropPercent
}

func sampleSizeFires(p *automation.SampleSizeParams, exp *experiment.Experiment, results *experiment.Results) bool {
	multiplier := p.Multiplier
	if multiplier <= 0 {
		multiplier = 1
	}
	return float64(results.TotalSamples) >= float64(exp.Stats.MinSampleSize)*multiplier
}

// rateSpread returns the average and minimum conversion rate across variants
// that have samples. ok is false when no variant has samples yet.
func rateSpread(results *experiment.Results) (avg, min float64, ok bool) {
	sum := 0.0
	n := 0
	for _, vr := range results.Variants {
		if vr.SampleSize == 0 {
			continue
		}
		sum += vr.ConversionRate
		if n == 0 || vr.ConversionRate < min {
			min = vr.ConversionRate
		}
		n++
	}
	if n == 0 {
		return 0, 0, false
	}
	return sum / float64(n), min, true
}
