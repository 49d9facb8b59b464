package main

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/draftforge/experiment-platform/internal/domain/experiment"
	enginesvc "github.com/draftforge/experiment-platform/internal/service/experiment"
)

var experimentsByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "draftforge_experiments",
	Help: "Experiments by lifecycle status.",
}, []string{"status"})

var statuses = []experiment.Status{
	experiment.StatusDraft,
	experiment.StatusRunning,
	experiment.StatusPaused,
	experiment.StatusCompleted,
	experiment.StatusArchived,
}

// experimentGaugeJob refreshes the per-status experiment gauges. Run on a
// schedule rather than on mutation so the gauges stay correct even when
// experiments change state through automation.
func experimentGaugeJob(engine enginesvc.Service) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		all, err := engine.ListExperiments(ctx)
		if err != nil {
			return err
		}

		counts := make(map[experiment.Status]int, len(statuses))
		for _, exp := range all {
			counts[exp.Status]++
		}
		for _, status := range statuses {
			experimentsByStatus.WithLabelValues(string(status)).Set(float64(counts[status]))
		}
		return nil
	}
}
