package alerting

import (
	"fmt"
	"strings"

	"github.com/draftforge/experiment-platform/internal/domain/alert"
	"github.com/draftforge/experiment-platform/internal/domain/experiment"
)

type templateKey struct {
	Type     alert.Type
	Priority alert.Priority
}

// buildContext collects the interpolation values available to templates.
// Every value is pre-formatted so templates stay plain string substitution.
func buildContext(a *alert.Alert, exp *experiment.Experiment, results *experiment.Results) map[string]string {
	tc := map[string]string{
		"experiment_id": a.ExperimentID.String(),
		"alert_type":    string(a.Type),
		"priority":      string(a.Priority),
		"message":       a.Message,
	}

	if exp != nil {
		tc["experiment_name"] = exp.Name
		tc["owner"] = exp.Owner
		tc["team"] = exp.Team
	}
	if name, ok := a.Data["experiment_name"].(string); ok && tc["experiment_name"] == "" {
		tc["experiment_name"] = name
	}

	if results != nil {
		tc["confidence"] = fmt.Sprintf("%.1f%%", results.Confidence*100)
		tc["effect_size"] = fmt.Sprintf("%.1f%%", results.EffectSize)
		tc["sample_size"] = fmt.Sprintf("%d", results.TotalSamples)
		tc["recommendation"] = string(results.RecommendedAction)
		tc["winning_variant"] = results.WinningVariantID
	}

	return tc
}

// render substitutes {key} placeholders from the context.
func render(tpl alert.Template, tc map[string]string) (subject, body string) {
	pairs := make([]string, 0, len(tc)*2)
	for key, value := range tc {
		pairs = append(pairs, "{"+key+"}", value)
	}
	r := strings.NewReplacer(pairs...)
	return r.Replace(tpl.Subject), r.Replace(tpl.Body)
}

// defaultTemplates covers every alert type at medium priority, plus sharper
// wording for the critical variants that warrant it. Lookup falls back to the
// type's medium template when no exact (type, priority) match exists.
func defaultTemplates() map[templateKey]alert.Template {
	templates := map[templateKey]alert.Template{}

	add := func(t alert.Type, p alert.Priority, subject, body string) {
		templates[templateKey{t, p}] = alert.Template{Type: t, Priority: p, Subject: subject, Body: body}
	}

	add(alert.TypeLowSampleSize, alert.PriorityMedium,
		"Experiment {experiment_name} is under-sampled",
		"{message}\n\nSamples so far: {sample_size}. Consider widening the target audience.")

	add(alert.TypeSignificanceReached, alert.PriorityMedium,
		"Experiment {experiment_name} reached significance",
		"{message}\n\nConfidence: {confidence}, effect: {effect_size}. Recommendation: {recommendation}.")

	add(alert.TypeDurationExceeded, alert.PriorityMedium,
		"Experiment {experiment_name} is overdue",
		"{message}\n\nStop the experiment or revise its estimated duration.")

	add(alert.TypePerformanceConcern, alert.PriorityMedium,
		"Variant underperforming in {experiment_name}",
		"{message}")
	add(alert.TypePerformanceConcern, alert.PriorityCritical,
		"URGENT: variant underperforming in {experiment_name}",
		"{message}\n\nImmediate review recommended; consider pausing the experiment.")

	add(alert.TypeExperimentStopped, alert.PriorityMedium,
		"Experiment {experiment_name} stopped",
		"{message}\n\nRecommendation: {recommendation}.")
	add(alert.TypeExperimentStopped, alert.PriorityCritical,
		"EMERGENCY STOP: {experiment_name}",
		"{message}")

	add(alert.TypeExperimentStarted, alert.PriorityMedium,
		"Experiment {experiment_name} started",
		"{message}")

	add(alert.TypeTrafficReallocation, alert.PriorityMedium,
		"Traffic reallocation suggested for {experiment_name}",
		"{message}")

	add(alert.TypeWinnerReady, alert.PriorityMedium,
		"Winner ready in {experiment_name}",
		"{message}\n\nWinning variant: {winning_variant} at {confidence} confidence.")

	return templates
}
