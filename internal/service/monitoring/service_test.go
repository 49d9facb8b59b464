package monitoring

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/draftforge/experiment-platform/internal/domain/alert"
	"github.com/draftforge/experiment-platform/internal/domain/errors"
	"github.com/draftforge/experiment-platform/internal/domain/experiment"
	"github.com/draftforge/experiment-platform/internal/domain/health"
)

type fakeReader struct {
	running []*experiment.Experiment
	ranged  []*experiment.Experiment
}

func (f *fakeReader) GetRunning(context.Context) ([]*experiment.Experiment, error) {
	return f.running, nil
}

func (f *fakeReader) GetByDateRange(context.Context, time.Time, time.Time) ([]*experiment.Experiment, error) {
	return f.ranged, nil
}

type fakeResultsProvider struct {
	results map[uuid.UUID]*experiment.Results
	errs    map[uuid.UUID]error
}

func (f *fakeResultsProvider) CalculateResults(_ context.Context, id uuid.UUID) (*experiment.Results, error) {
	if err, ok := f.errs[id]; ok {
		return nil, err
	}
	if r, ok := f.results[id]; ok {
		return r, nil
	}
	return nil, errors.NewNotFoundError("experiment results")
}

type fakeHealthRepo struct {
	snapshots map[uuid.UUID]*health.ExperimentHealth
	alerts    []*alert.Alert
	unacked   map[string]bool
}

func newFakeHealthRepo() *fakeHealthRepo {
	return &fakeHealthRepo{
		snapshots: make(map[uuid.UUID]*health.ExperimentHealth),
		unacked:   make(map[string]bool),
	}
}

func unackedKey(id uuid.UUID, t alert.Type) string { return id.String() + "/" + string(t) }

func (f *fakeHealthRepo) SaveHealth(_ context.Context, h *health.ExperimentHealth) error {
	f.snapshots[h.ExperimentID] = h
	return nil
}

func (f *fakeHealthRepo) GetHealth(_ context.Context, id uuid.UUID) (*health.ExperimentHealth, error) {
	h, ok := f.snapshots[id]
	if !ok {
		return nil, errors.NewNotFoundError("experiment health")
	}
	return h, nil
}

func (f *fakeHealthRepo) Save(_ context.Context, a *alert.Alert) error {
	f.alerts = append(f.alerts, a)
	f.unacked[unackedKey(a.ExperimentID, a.Type)] = true
	return nil
}

func (f *fakeHealthRepo) HasUnacknowledged(_ context.Context, id uuid.UUID, t alert.Type) (bool, error) {
	return f.unacked[unackedKey(id, t)], nil
}

type fakeSink struct {
	processed []*alert.Alert
}

func (f *fakeSink) ProcessAlert(_ context.Context, a *alert.Alert, _ *experiment.Experiment, _ *experiment.Results) error {
	f.processed = append(f.processed, a)
	return nil
}

type fakeAutoManager struct {
	cycles int
}

func (f *fakeAutoManager) RunCycle(context.Context) error {
	f.cycles++
	return nil
}

type monitorFixture struct {
	svc     *service
	reader  *fakeReader
	results *fakeResultsProvider
	repo    *fakeHealthRepo
	sink    *fakeSink
	auto    *fakeAutoManager
}

func newMonitorFixture(t *testing.T) *monitorFixture {
	t.Helper()

	f := &monitorFixture{
		reader:  &fakeReader{},
		results: &fakeResultsProvider{results: map[uuid.UUID]*experiment.Results{}, errs: map[uuid.UUID]error{}},
		repo:    newFakeHealthRepo(),
		sink:    &fakeSink{},
		auto:    &fakeAutoManager{},
	}
	f.svc = NewService(f.reader, f.results, f.repo, f.sink, f.auto, 7, 25, zap.NewNop()).(*service)
	return f
}

func runningExperiment(daysAgo int, estimatedDuration, minSampleSize int, now time.Time) *experiment.Experiment {
	exp, err := experiment.NewExperiment(experiment.Spec{
		Name: "onboarding-tour",
		Variants: []experiment.Variant{
			{ID: "control", TrafficAllocation: 50, IsControl: true},
			{ID: "treatment", TrafficAllocation: 50},
		},
		PrimaryMetric: experiment.MetricSpec{
			Name: "activation", Type: experiment.MetricConversion, MinimumDetectableEffect: 5,
		},
		EstimatedDuration: estimatedDuration,
		Stats:             experiment.StatsConfig{MinSampleSize: minSampleSize},
	})
	if err != nil {
		panic(err)
	}
	exp.Status = experiment.StatusRunning
	start := now.AddDate(0, 0, -daysAgo)
	exp.StartDate = &start
	return exp
}

func resultsWith(id uuid.UUID, samples map[string]sampleCount, significant bool, confidence float64) *experiment.Results {
	r := &experiment.Results{
		ExperimentID: id,
		Significant:  significant,
		Confidence:   confidence,
		Variants:     map[string]experiment.VariantResult{},
	}
	for variantID, sc := range samples {
		rate := 0.0
		if sc.n > 0 {
			rate = float64(sc.c) / float64(sc.n)
		}
		r.Variants[variantID] = experiment.VariantResult{
			VariantID: variantID, SampleSize: sc.n, Conversions: sc.c, ConversionRate: rate,
		}
		r.TotalSamples += sc.n
	}
	return r
}

type sampleCount struct{ n, c int }

func TestCheckExperimentHealth_DurationExceeded(t *testing.T) {
	f := newMonitorFixture(t)
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	f.svc.now = func() time.Time { return now }

	// 10 days against a 5-day estimate: 10 > 5 * 1.5 = 7.5.
	exp := runningExperiment(10, 5, 1000, now)
	results := resultsWith(exp.ID, map[string]sampleCount{
		"control": {600, 120}, "treatment": {600, 130},
	}, false, 0.5)

	snapshot := f.svc.CheckExperimentHealth(exp, results)

	require.Len(t, snapshot.Issues, 1)
	assert.Equal(t, health.IssueDurationExceeded, snapshot.Issues[0].Type)
	assert.Equal(t, health.StatusWarning, snapshot.Status)
}

func TestCheckExperimentHealth_WithinDurationEstimate(t *testing.T) {
	f := newMonitorFixture(t)
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	f.svc.now = func() time.Time { return now }

	// 7 days against a 5-day estimate stays under the 7.5-day threshold.
	exp := runningExperiment(7, 5, 1000, now)
	results := resultsWith(exp.ID, map[string]sampleCount{
		"control": {600, 120}, "treatment": {600, 130},
	}, false, 0.5)

	snapshot := f.svc.CheckExperimentHealth(exp, results)

	assert.Equal(t, health.StatusHealthy, snapshot.Status)
	assert.Empty(t, snapshot.Issues)
}

func TestCheckExperimentHealth_LowSampleSize(t *testing.T) {
	f := newMonitorFixture(t)
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	f.svc.now = func() time.Time { return now }

	// 8 days in with 30% of the target sample.
	exp := runningExperiment(8, 30, 1000, now)
	results := resultsWith(exp.ID, map[string]sampleCount{
		"control": {150, 30}, "treatment": {150, 35},
	}, false, 0.5)

	snapshot := f.svc.CheckExperimentHealth(exp, results)

	require.Len(t, snapshot.Issues, 1)
	assert.Equal(t, health.IssueLowSampleSize, snapshot.Issues[0].Type)
	assert.Equal(t, health.StatusWarning, snapshot.Status)
}

func TestCheckExperimentHealth_SignificanceIsInformational(t *testing.T) {
	f := newMonitorFixture(t)
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	f.svc.now = func() time.Time { return now }

	exp := runningExperiment(3, 30, 1000, now)
	results := resultsWith(exp.ID, map[string]sampleCount{
		"control": {600, 120}, "treatment": {600, 190},
	}, true, 0.99)

	snapshot := f.svc.CheckExperimentHealth(exp, results)

	require.Len(t, snapshot.Issues, 1)
	assert.Equal(t, health.IssueSignificanceReached, snapshot.Issues[0].Type)
	// Informational issues never worsen the overall status.
	assert.Equal(t, health.StatusHealthy, snapshot.Status)
	assert.Nil(t, snapshot.EstimatedDaysToSignificance)
}

func TestCheckExperimentHealth_PerformanceConcernIsCritical(t *testing.T) {
	f := newMonitorFixture(t)
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	f.svc.now = func() time.Time { return now }

	// Past half the target sample with one variant converting at a third of
	// the other: well below 70% of the cross-variant average.
	exp := runningExperiment(3, 30, 1000, now)
	results := resultsWith(exp.ID, map[string]sampleCount{
		"control": {300, 60}, "treatment": {300, 15},
	}, false, 0.5)

	snapshot := f.svc.CheckExperimentHealth(exp, results)

	assert.Equal(t, health.StatusCritical, snapshot.Status)

	found := false
	for _, issue := range snapshot.Issues {
		if issue.Type == health.IssuePerformanceConcern {
			found = true
			assert.Equal(t, health.StatusCritical, issue.Severity)
		}
	}
	assert.True(t, found)
}

func TestEstimateDaysToSignificance(t *testing.T) {
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	exp := runningExperiment(5, 30, 1000, now)

	results := resultsWith(exp.ID, map[string]sampleCount{
		"control": {250, 50}, "treatment": {250, 60},
	}, false, 0.5)

	// 500 samples in 5 days = 100/day; 500 remaining = 5 more days.
	estimate := estimateDaysToSignificance(exp, results, 5)
	require.NotNil(t, estimate)
	assert.InDelta(t, 5.0, *estimate, 1e-9)

	// Already significant: nothing to estimate.
	results.Significant = true
	assert.Nil(t, estimateDaysToSignificance(exp, results, 5))

	// No samples yet: daily rate is zero.
	empty := resultsWith(exp.ID, map[string]sampleCount{}, false, 0)
	assert.Nil(t, estimateDaysToSignificance(exp, empty, 5))
}

func TestCheckAllExperiments_DeduplicatesAlerts(t *testing.T) {
	f := newMonitorFixture(t)
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	f.svc.now = func() time.Time { return now }

	exp := runningExperiment(10, 5, 1000, now)
	f.reader.running = []*experiment.Experiment{exp}
	f.results.results[exp.ID] = resultsWith(exp.ID, map[string]sampleCount{
		"control": {600, 120}, "treatment": {600, 130},
	}, false, 0.5)

	require.NoError(t, f.svc.CheckAllExperiments(context.Background()))
	require.Len(t, f.repo.alerts, 1)
	assert.Equal(t, alert.TypeDurationExceeded, f.repo.alerts[0].Type)
	assert.Len(t, f.sink.processed, 1)

	// Second cycle: the unacknowledged alert suppresses a duplicate.
	require.NoError(t, f.svc.CheckAllExperiments(context.Background()))
	assert.Len(t, f.repo.alerts, 1)
	assert.Len(t, f.sink.processed, 1)
}

func TestCheckAllExperiments_IsolatesFailures(t *testing.T) {
	f := newMonitorFixture(t)
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	f.svc.now = func() time.Time { return now }

	broken := runningExperiment(10, 5, 1000, now)
	healthy := runningExperiment(10, 5, 1000, now)
	f.reader.running = []*experiment.Experiment{broken, healthy}

	f.results.errs[broken.ID] = errors.NewInternalError("store unavailable")
	f.results.results[healthy.ID] = resultsWith(healthy.ID, map[string]sampleCount{
		"control": {600, 120}, "treatment": {600, 130},
	}, false, 0.5)

	require.NoError(t, f.svc.CheckAllExperiments(context.Background()))

	// The healthy experiment was still checked.
	_, ok := f.repo.snapshots[healthy.ID]
	assert.True(t, ok)
	_, ok = f.repo.snapshots[broken.ID]
	assert.False(t, ok)
}

func TestCalculateGrowthMetrics(t *testing.T) {
	f := newMonitorFixture(t)
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	winner := runningExperiment(14, 14, 1000, now)
	winner.Status = experiment.StatusCompleted
	winner.Results = resultsWith(winner.ID, map[string]sampleCount{
		"control": {500, 100}, "treatment": {500, 160},
	}, true, 0.99)
	winner.Results.EffectSize = 60
	winner.Results.WinningVariantID = "treatment"

	inconclusive := runningExperiment(14, 14, 1000, now)
	inconclusive.Status = experiment.StatusCompleted
	inconclusive.Results = resultsWith(inconclusive.ID, map[string]sampleCount{
		"control": {500, 100}, "treatment": {500, 101},
	}, false, 0.3)

	f.reader.ranged = []*experiment.Experiment{winner, inconclusive}

	report, err := f.svc.CalculateGrowthMetrics(context.Background(), now.AddDate(0, -1, 0), now)
	require.NoError(t, err)

	assert.Equal(t, 1, report.ExperimentCount)
	assert.InDelta(t, 60.0, report.AvgConversionLift, 1e-9)

	// 260 total conversions at a 25.00 baseline.
	assert.True(t, report.TotalRevenue.Equal(decimal.NewFromInt(6500)),
		"got %s", report.TotalRevenue)

	// (0.32 - 0.20) * 500 = 60 lifted conversions at 25.00 each.
	assert.True(t, report.IncrementalRevenue.Equal(decimal.NewFromInt(1500)),
		"got %s", report.IncrementalRevenue)

	require.Len(t, report.TopExperiments, 1)
	assert.Equal(t, winner.ID, report.TopExperiments[0].ExperimentID)
}

func TestAutoManage_DelegatesToAutomation(t *testing.T) {
	f := newMonitorFixture(t)

	require.NoError(t, f.svc.AutoManage(context.Background()))
	assert.Equal(t, 1, f.auto.cycles)
}
