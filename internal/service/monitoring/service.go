package monitoring

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/draftforge/experiment-platform/internal/domain/alert"
	"github.com/draftforge/experiment-platform/internal/domain/experiment"
	"github.com/draftforge/experiment-platform/internal/domain/health"
)

// Thresholds for the health classifiers.
const (
	lowSampleCompletionRatio  = 0.5
	significanceConfidence    = 0.95
	durationExceededMultiple  = 1.5
	performanceConcernFloor   = 0.7
	performanceMinSampleRatio = 0.5
)

type service struct {
	experiments ExperimentReader
	results     ResultsProvider
	repo        HealthRepository
	alerts      AlertSink
	automation  AutoManager

	staleAfterDays  int
	baselinePerConv decimal.Decimal
	logger          *zap.Logger
	now             func() time.Time
}

// NewService constructs the monitoring service. automation may be nil when
// the deprecated AutoManage entry point is not wired.
func NewService(
	experiments ExperimentReader,
	results ResultsProvider,
	repo HealthRepository,
	alerts AlertSink,
	automation AutoManager,
	staleAfterDays int,
	baselineRevenuePerConversion float64,
	logger *zap.Logger,
) Service {
	if staleAfterDays <= 0 {
		staleAfterDays = 7
	}

	return &service{
		experiments:     experiments,
		results:         results,
		repo:            repo,
		alerts:          alerts,
		automation:      automation,
		staleAfterDays:  staleAfterDays,
		baselinePerConv: decimal.NewFromFloat(baselineRevenuePerConversion),
		logger:          logger,
		now:             time.Now,
	}
}

func (s *service) CheckAllExperiments(ctx context.Context) error {
	running, err := s.experiments.GetRunning(ctx)
	if err != nil {
		return fmt.Errorf("listing running experiments: %w", err)
	}

	for _, exp := range running {
		if err := s.checkOne(ctx, exp); err != nil {
			// One broken experiment must not halt the cycle for others.
			s.logger.Error("health check failed",
				zap.String("experiment_id", exp.ID.String()),
				zap.Error(err))
		}
	}

	return nil
}

func (s *service) checkOne(ctx context.Context, exp *experiment.Experiment) error {
	results, err := s.results.CalculateResults(ctx, exp.ID)
	if err != nil {
		return fmt.Errorf("calculating results: %w", err)
	}

	snapshot := s.CheckExperimentHealth(exp, results)
	if err := s.repo.SaveHealth(ctx, snapshot); err != nil {
		return fmt.Errorf("saving health snapshot: %w", err)
	}

	for _, issue := range snapshot.Issues {
		if err := s.raiseAlert(ctx, exp, results, issue); err != nil {
			s.logger.Warn("failed to raise alert",
				zap.String("experiment_id", exp.ID.String()),
				zap.String("issue", string(issue.Type)),
				zap.Error(err))
		}
	}

	return nil
}

func (s *service) CheckExperimentHealth(exp *experiment.Experiment, results *experiment.Results) *health.ExperimentHealth {
	now := s.now()
	daysRunning := exp.DaysRunning(now)

	snapshot := &health.ExperimentHealth{
		ExperimentID:      exp.ID,
		Status:            health.StatusHealthy,
		SampleSize:        results.TotalSamples,
		AvgConversionRate: avgConversionRate(results),
		DaysRunning:       daysRunning,
		CheckedAt:         now,
	}

	completion := 0.0
	if exp.Stats.MinSampleSize > 0 {
		completion = float64(results.TotalSamples) / float64(exp.Stats.MinSampleSize)
	}

	if completion < lowSampleCompletionRatio && daysRunning > float64(s.staleAfterDays) {
		snapshot.AddIssue(health.Issue{
			Type:     health.IssueLowSampleSize,
			Severity: health.StatusWarning,
			Message: fmt.Sprintf("only %.0f%% of the target sample after %.1f days",
				completion*100, daysRunning),
			Recommendation: "increase the target audience percentage or extend the experiment",
		})
	}

	if results.Significant && results.Confidence >= significanceConfidence {
		snapshot.AddIssue(health.Issue{
			Type:     health.IssueSignificanceReached,
			Severity: health.StatusHealthy,
			Message: fmt.Sprintf("significant at %.1f%% confidence with %.1f%% effect",
				results.Confidence*100, results.EffectSize),
			Recommendation: "review results and consider stopping the experiment",
		})
	}

	if exp.EstimatedDuration > 0 && daysRunning > durationExceededMultiple*float64(exp.EstimatedDuration) {
		snapshot.AddIssue(health.Issue{
			Type:     health.IssueDurationExceeded,
			Severity: health.StatusWarning,
			Message: fmt.Sprintf("running %.1f days against a %d-day estimate",
				daysRunning, exp.EstimatedDuration),
			Recommendation: "stop the experiment or revise its estimated duration",
		})
	}

	if completion > performanceMinSampleRatio {
		avg := snapshot.AvgConversionRate
		for _, vr := range results.Variants {
			if avg > 0 && vr.SampleSize > 0 && vr.ConversionRate < performanceConcernFloor*avg {
				snapshot.AddIssue(health.Issue{
					Type:     health.IssuePerformanceConcern,
					Severity: health.StatusCritical,
					Message: fmt.Sprintf("variant %q converts at %.2f%%, below 70%% of the %.2f%% average",
						vr.VariantID, vr.ConversionRate*100, avg*100),
					Recommendation: "consider reallocating traffic away from the underperforming variant",
				})
			}
		}
	}

	snapshot.EstimatedDaysToSignificance = estimateDaysToSignificance(exp, results, daysRunning)

	return snapshot
}

// estimateDaysToSignificance projects the observed daily sample rate onto the
// remaining samples needed. Nil when the rate is zero or significance has
// already been reached.
func estimateDaysToSignificance(exp *experiment.Experiment, results *experiment.Results, daysRunning float64) *float64 {
	if results.Significant || daysRunning <= 0 {
		return nil
	}

	dailyRate := float64(results.TotalSamples) / daysRunning
	if dailyRate <= 0 {
		return nil
	}

	remaining := float64(exp.Stats.MinSampleSize - results.TotalSamples)
	if remaining < 0 {
		remaining = 0
	}

	estimate := remaining / dailyRate
	return &estimate
}

func avgConversionRate(results *experiment.Results) float64 {
	sum := 0.0
	n := 0
	for _, vr := range results.Variants {
		if vr.SampleSize > 0 {
			sum += vr.ConversionRate
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

var issuePriority = map[health.Status]alert.Priority{
	health.StatusCritical: alert.PriorityCritical,
	health.StatusWarning:  alert.PriorityMedium,
	health.StatusHealthy:  alert.PriorityLow,
}

func (s *service) raiseAlert(ctx context.Context, exp *experiment.Experiment, results *experiment.Results, issue health.Issue) error {
	alertType := alert.Type(issue.Type)

	// No two unacknowledged alerts of the same (experiment, type) coexist.
	exists, err := s.repo.HasUnacknowledged(ctx, exp.ID, alertType)
	if err != nil {
		return fmt.Errorf("checking alert dedup: %w", err)
	}
	if exists {
		return nil
	}

	a := alert.New(exp.ID, alertType, issuePriority[issue.Severity], issue.Message)
	a.Data["experiment_name"] = exp.Name
	a.Data["recommendation"] = issue.Recommendation
	a.Data["confidence"] = results.Confidence
	a.Data["effect_size"] = results.EffectSize
	a.Data["sample_size"] = results.TotalSamples

	if err := s.repo.Save(ctx, a); err != nil {
		return fmt.Errorf("saving alert: %w", err)
	}

	if s.alerts != nil {
		if err := s.alerts.ProcessAlert(ctx, a, exp, results); err != nil {
			s.logger.Warn("alert dispatch failed",
				zap.String("alert_id", a.ID.String()),
				zap.Error(err))
		}
	}

	return nil
}

func (s *service) GetHealth(ctx context.Context, experimentID uuid.UUID) (*health.ExperimentHealth, error) {
	return s.repo.GetHealth(ctx, experimentID)
}

func (s *service) CalculateGrowthMetrics(ctx context.Context, from, to time.Time) (*GrowthReport, error) {
	completed, err := s.experiments.GetByDateRange(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("listing experiments: %w", err)
	}

	report := &GrowthReport{
		From:               from,
		To:                 to,
		TotalRevenue:       decimal.Zero,
		IncrementalRevenue: decimal.Zero,
	}

	liftSum := 0.0
	for _, exp := range completed {
		if exp.Status != experiment.StatusCompleted {
			continue
		}
		results := exp.Results
		if results == nil || !results.Significant {
			continue
		}

		report.ExperimentCount++
		liftSum += results.EffectSize

		totalConversions := 0
		for _, vr := range results.Variants {
			totalConversions += vr.Conversions
		}
		report.TotalRevenue = report.TotalRevenue.Add(
			s.baselinePerConv.Mul(decimal.NewFromInt(int64(totalConversions))))

		incremental := s.incrementalRevenue(exp, results)
		report.IncrementalRevenue = report.IncrementalRevenue.Add(incremental)

		report.TopExperiments = append(report.TopExperiments, ExperimentImpact{
			ExperimentID:       exp.ID,
			Name:               exp.Name,
			EffectSize:         results.EffectSize,
			IncrementalRevenue: incremental,
		})
	}

	if report.ExperimentCount > 0 {
		report.AvgConversionLift = liftSum / float64(report.ExperimentCount)
	}

	sort.Slice(report.TopExperiments, func(i, j int) bool {
		return report.TopExperiments[i].IncrementalRevenue.GreaterThan(
			report.TopExperiments[j].IncrementalRevenue)
	})
	if len(report.TopExperiments) > 5 {
		report.TopExperiments = report.TopExperiments[:5]
	}

	return report, nil
}

// incrementalRevenue prices the winner's conversion lift over control across
// the winner's sample, using the baseline revenue-per-conversion model.
func (s *service) incrementalRevenue(exp *experiment.Experiment, results *experiment.Results) decimal.Decimal {
	control, ok := exp.ControlVariant()
	if !ok {
		return decimal.Zero
	}

	winnerID := results.WinningVariantID
	if winnerID == "" || winnerID == control.ID {
		return decimal.Zero
	}

	winner := results.Variants[winnerID]
	controlRate := results.Variants[control.ID].ConversionRate

	liftedConversions := (winner.ConversionRate - controlRate) * float64(winner.SampleSize)
	if liftedConversions <= 0 {
		return decimal.Zero
	}

	return s.baselinePerConv.Mul(decimal.NewFromFloat(liftedConversions))
}

func (s *service) AutoManage(ctx context.Context) error {
	if s.automation == nil {
		return nil
	}

	s.logger.Warn("AutoManage is deprecated; schedule the automation engine directly")
	return s.automation.RunCycle(ctx)
}
