package experiment

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/draftforge/experiment-platform/internal/domain/errors"
	"github.com/draftforge/experiment-platform/internal/domain/experiment"
	"github.com/draftforge/experiment-platform/internal/infrastructure/cache"
)

type fakeExperimentRepo struct {
	mu          sync.Mutex
	experiments map[uuid.UUID]*experiment.Experiment
}

func newFakeExperimentRepo() *fakeExperimentRepo {
	return &fakeExperimentRepo{experiments: make(map[uuid.UUID]*experiment.Experiment)}
}

func (r *fakeExperimentRepo) Save(_ context.Context, exp *experiment.Experiment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *exp
	r.experiments[exp.ID] = &cp
	return nil
}

func (r *fakeExperimentRepo) Get(_ context.Context, id uuid.UUID) (*experiment.Experiment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	exp, ok := r.experiments[id]
	if !ok {
		return nil, errors.ErrExperimentNotFound
	}
	cp := *exp
	return &cp, nil
}

func (r *fakeExperimentRepo) Update(ctx context.Context, exp *experiment.Experiment) error {
	r.mu.Lock()
	_, ok := r.experiments[exp.ID]
	r.mu.Unlock()
	if !ok {
		return errors.ErrExperimentNotFound
	}
	return r.Save(ctx, exp)
}

func (r *fakeExperimentRepo) GetAll(_ context.Context) ([]*experiment.Experiment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*experiment.Experiment, 0, len(r.experiments))
	for _, exp := range r.experiments {
		cp := *exp
		out = append(out, &cp)
	}
	return out, nil
}

func (r *fakeExperimentRepo) GetRunning(ctx context.Context) ([]*experiment.Experiment, error) {
	all, _ := r.GetAll(ctx)
	var out []*experiment.Experiment
	for _, exp := range all {
		if exp.Status == experiment.StatusRunning {
			out = append(out, exp)
		}
	}
	return out, nil
}

func (r *fakeExperimentRepo) GetByDateRange(ctx context.Context, from, to time.Time) ([]*experiment.Experiment, error) {
	all, _ := r.GetAll(ctx)
	var out []*experiment.Experiment
	for _, exp := range all {
		if exp.EndDate != nil && !exp.EndDate.Before(from) && !exp.EndDate.After(to) {
			out = append(out, exp)
		}
	}
	return out, nil
}

type fakeEventRepo struct {
	mu          sync.Mutex
	events      []*experiment.Event
	assignments map[string]*experiment.Assignment
}

func newFakeEventRepo() *fakeEventRepo {
	return &fakeEventRepo{assignments: make(map[string]*experiment.Assignment)}
}

func assignmentKey(experimentID uuid.UUID, userID string) string {
	return experimentID.String() + "/" + userID
}

func (r *fakeEventRepo) Append(_ context.Context, ev *experiment.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *fakeEventRepo) GetByExperiment(_ context.Context, experimentID uuid.UUID) ([]*experiment.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*experiment.Event
	for _, ev := range r.events {
		if ev.ExperimentID == experimentID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (r *fakeEventRepo) GetAssignment(_ context.Context, experimentID uuid.UUID, userID string) (*experiment.Assignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.assignments[assignmentKey(experimentID, userID)]
	if !ok {
		return nil, errors.NewNotFoundError("assignment")
	}
	return a, nil
}

func (r *fakeEventRepo) SaveAssignment(_ context.Context, a *experiment.Assignment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := assignmentKey(a.ExperimentID, a.UserID)
	if _, ok := r.assignments[key]; !ok {
		r.assignments[key] = a
	}
	return nil
}

type fakeResultsRepo struct {
	mu      sync.Mutex
	results map[uuid.UUID]*experiment.Results
	saves   int
}

func newFakeResultsRepo() *fakeResultsRepo {
	return &fakeResultsRepo{results: make(map[uuid.UUID]*experiment.Results)}
}

func (r *fakeResultsRepo) SaveResults(_ context.Context, res *experiment.Results) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[res.ExperimentID] = res
	r.saves++
	return nil
}

func (r *fakeResultsRepo) GetResults(_ context.Context, experimentID uuid.UUID) (*experiment.Results, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.results[experimentID]
	if !ok {
		return nil, errors.NewNotFoundError("experiment results")
	}
	return res, nil
}

type fakeFlagService struct {
	mu       sync.Mutex
	created  []string
	enabled  map[string]bool
	rollouts map[string]int
}

func newFakeFlagService() *fakeFlagService {
	return &fakeFlagService{enabled: make(map[string]bool), rollouts: make(map[string]int)}
}

func (f *fakeFlagService) CreateFeature(_ context.Context, key, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, key)
	return nil
}

func (f *fakeFlagService) ToggleFeature(_ context.Context, key string, enabled bool, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled[key] = enabled
	return nil
}

func (f *fakeFlagService) UpdateRollout(_ context.Context, key string, percentage int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rollouts[key] = percentage
	return nil
}

func (f *fakeFlagService) IsEnabled(_ context.Context, key string, _ map[string]string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enabled[key], nil
}

type fakeFunnel struct {
	mu      sync.Mutex
	tracked []string
}

func (f *fakeFunnel) Track(userID, metric string, _ map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracked = append(f.tracked, userID+":"+metric)
}

type engineFixture struct {
	svc         *service
	experiments *fakeExperimentRepo
	events      *fakeEventRepo
	results     *fakeResultsRepo
	flags       *fakeFlagService
	funnel      *fakeFunnel
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	f := &engineFixture{
		experiments: newFakeExperimentRepo(),
		events:      newFakeEventRepo(),
		results:     newFakeResultsRepo(),
		flags:       newFakeFlagService(),
		funnel:      &fakeFunnel{},
	}
	f.svc = NewService(f.experiments, f.events, f.results, f.flags, f.funnel,
		time.Hour, zap.NewNop()).(*service)
	return f
}

func validSpec() experiment.Spec {
	return experiment.Spec{
		Name: "pricing-page-copy",
		Variants: []experiment.Variant{
			{ID: "control", Name: "Control", TrafficAllocation: 50, IsControl: true},
			{ID: "treatment", Name: "Treatment", TrafficAllocation: 50},
		},
		PrimaryMetric: experiment.MetricSpec{
			Name:                    "signup",
			Type:                    experiment.MetricConversion,
			GoalDirection:           experiment.DirectionIncrease,
			MinimumDetectableEffect: 5,
		},
		EstimatedDuration: 14,
		Stats:             experiment.StatsConfig{MinSampleSize: 100},
	}
}

func TestCreateExperiment_ProvisionsFlag(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	exp, err := f.svc.CreateExperiment(ctx, validSpec())
	require.NoError(t, err)

	assert.Equal(t, experiment.StatusDraft, exp.Status)
	assert.NotEmpty(t, exp.FeatureFlagKey)
	assert.Contains(t, f.flags.created, exp.FeatureFlagKey)

	stored, err := f.experiments.Get(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, exp.Name, stored.Name)
}

func TestCreateExperiment_KeepsSuppliedFlagKey(t *testing.T) {
	f := newEngineFixture(t)

	spec := validSpec()
	spec.FeatureFlagKey = "existing-flag"

	exp, err := f.svc.CreateExperiment(context.Background(), spec)
	require.NoError(t, err)

	assert.Equal(t, "existing-flag", exp.FeatureFlagKey)
	assert.Empty(t, f.flags.created)
}

func TestCreateExperiment_InvalidSpecNotPersisted(t *testing.T) {
	f := newEngineFixture(t)

	spec := validSpec()
	spec.Variants = spec.Variants[:1]

	_, err := f.svc.CreateExperiment(context.Background(), spec)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	all, _ := f.experiments.GetAll(context.Background())
	assert.Empty(t, all)
}

func TestStartExperiment_ActivatesFlagAtTargetPercentage(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	spec := validSpec()
	spec.TargetAudience.Percentage = 40
	exp, err := f.svc.CreateExperiment(ctx, spec)
	require.NoError(t, err)

	require.NoError(t, f.svc.StartExperiment(ctx, exp.ID))

	stored, _ := f.experiments.Get(ctx, exp.ID)
	assert.Equal(t, experiment.StatusRunning, stored.Status)
	require.NotNil(t, stored.StartDate)
	assert.True(t, f.flags.enabled[exp.FeatureFlagKey])
	assert.Equal(t, 40, f.flags.rollouts[exp.FeatureFlagKey])
}

func TestStopExperiment_DraftFails(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	exp, err := f.svc.CreateExperiment(ctx, validSpec())
	require.NoError(t, err)

	_, err = f.svc.StopExperiment(ctx, exp.ID)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeBusiness))

	stored, _ := f.experiments.Get(ctx, exp.ID)
	assert.Equal(t, experiment.StatusDraft, stored.Status)
}

func TestStopExperiment_DeactivatesFlagAndSnapshotsResults(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	exp, err := f.svc.CreateExperiment(ctx, validSpec())
	require.NoError(t, err)
	require.NoError(t, f.svc.StartExperiment(ctx, exp.ID))

	results, err := f.svc.StopExperiment(ctx, exp.ID)
	require.NoError(t, err)
	require.NotNil(t, results)

	stored, _ := f.experiments.Get(ctx, exp.ID)
	assert.Equal(t, experiment.StatusCompleted, stored.Status)
	require.NotNil(t, stored.EndDate)
	assert.False(t, f.flags.enabled[exp.FeatureFlagKey])
	require.NotNil(t, stored.Results)
	assert.Equal(t, results.RecommendedAction, stored.Results.RecommendedAction)
}

func TestAssignUser_Idempotent(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	exp, err := f.svc.CreateExperiment(ctx, validSpec())
	require.NoError(t, err)
	require.NoError(t, f.svc.StartExperiment(ctx, exp.ID))

	first, err := f.svc.AssignUser(ctx, exp.ID, "user-42")
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := f.svc.AssignUser(ctx, exp.ID, "user-42")
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, first.VariantID, second.VariantID)

	// Only the first call appended an assignment event.
	events, _ := f.events.GetByExperiment(ctx, exp.ID)
	assert.Len(t, events, 1)
}

func TestAssignUser_NotRunningReturnsNil(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	exp, err := f.svc.CreateExperiment(ctx, validSpec())
	require.NoError(t, err)

	a, err := f.svc.AssignUser(ctx, exp.ID, "user-42")
	require.NoError(t, err)
	assert.Nil(t, a)
}

func TestAssignUser_IneligibleUserReturnsNil(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	spec := validSpec()
	spec.TargetAudience.Percentage = 1
	exp, err := f.svc.CreateExperiment(ctx, spec)
	require.NoError(t, err)
	require.NoError(t, f.svc.StartExperiment(ctx, exp.ID))

	// Scan for a user the 1% eligibility hash excludes.
	userID := ""
	for i := 0; i < 1000; i++ {
		candidate := fmt.Sprintf("user-%d", i)
		if !eligible(candidate, exp.ID.String(), 1) {
			userID = candidate
			break
		}
	}
	require.NotEmpty(t, userID)

	a, err := f.svc.AssignUser(ctx, exp.ID, userID)
	require.NoError(t, err)
	assert.Nil(t, a)
}

func TestTrackEvent_ForwardsConversionsToFunnel(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	exp, err := f.svc.CreateExperiment(ctx, validSpec())
	require.NoError(t, err)

	conv := experiment.NewEvent(exp.ID, "treatment", "user-1", experiment.EventConversion)
	conv.MetricName = "signup"
	require.NoError(t, f.svc.TrackEvent(ctx, conv))

	engage := experiment.NewEvent(exp.ID, "treatment", "user-1", experiment.EventEngagement)
	require.NoError(t, f.svc.TrackEvent(ctx, engage))

	assert.Equal(t, []string{"user-1:signup"}, f.funnel.tracked)

	events, _ := f.events.GetByExperiment(ctx, exp.ID)
	assert.Len(t, events, 2)
}

func TestCalculateResults_ServesFreshCache(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	exp, err := f.svc.CreateExperiment(ctx, validSpec())
	require.NoError(t, err)

	cached := &experiment.Results{
		ExperimentID: exp.ID,
		TotalSamples: 123,
		CalculatedAt: time.Now().Add(-10 * time.Minute),
	}
	require.NoError(t, f.results.SaveResults(ctx, cached))
	f.results.saves = 0

	got, err := f.svc.CalculateResults(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, 123, got.TotalSamples)
	assert.Zero(t, f.results.saves, "fresh cache must not trigger recompute")
}

func TestCalculateResults_RecomputesStaleCache(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	exp, err := f.svc.CreateExperiment(ctx, validSpec())
	require.NoError(t, err)

	stale := &experiment.Results{
		ExperimentID: exp.ID,
		TotalSamples: 999,
		CalculatedAt: time.Now().Add(-2 * time.Hour),
	}
	require.NoError(t, f.results.SaveResults(ctx, stale))

	got, err := f.svc.CalculateResults(ctx, exp.ID)
	require.NoError(t, err)
	assert.Zero(t, got.TotalSamples, "stale cache must be recomputed from events")
}

func TestRoundTrip_StopSnapshotMatchesRecalculation(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	exp, err := f.svc.CreateExperiment(ctx, validSpec())
	require.NoError(t, err)
	require.NoError(t, f.svc.StartExperiment(ctx, exp.ID))

	for i := 0; i < 200; i++ {
		userID := fmt.Sprintf("user-%d", i)
		a, err := f.svc.AssignUser(ctx, exp.ID, userID)
		require.NoError(t, err)
		require.NotNil(t, a)

		if i%4 == 0 {
			conv := experiment.NewEvent(exp.ID, a.VariantID, userID, experiment.EventConversion)
			conv.MetricName = "signup"
			require.NoError(t, f.svc.TrackEvent(ctx, conv))
		}
	}

	final, err := f.svc.StopExperiment(ctx, exp.ID)
	require.NoError(t, err)

	stored, err := f.svc.GetExperiment(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, experiment.StatusCompleted, stored.Status)
	require.NotNil(t, stored.Results)

	recalculated, err := f.svc.CalculateResults(ctx, exp.ID)
	require.NoError(t, err)

	assert.Equal(t, final.TotalSamples, recalculated.TotalSamples)
	assert.Equal(t, final.EffectSize, recalculated.EffectSize)
	assert.Equal(t, final.RecommendedAction, recalculated.RecommendedAction)
	for id, vr := range final.Variants {
		assert.Equal(t, vr.ConversionRate, recalculated.Variants[id].ConversionRate)
	}
}

type failingUpdateRepo struct {
	*fakeExperimentRepo
	failUpdates bool
}

func (r *failingUpdateRepo) Update(ctx context.Context, exp *experiment.Experiment) error {
	if r.failUpdates {
		return errors.NewInternalError("write timeout")
	}
	return r.fakeExperimentRepo.Update(ctx, exp)
}

func TestStartExperiment_FailedWriteLeavesNoPhantomState(t *testing.T) {
	store := &failingUpdateRepo{fakeExperimentRepo: newFakeExperimentRepo()}
	cached, err := cache.NewExperimentCache(store, 8)
	require.NoError(t, err)

	svc := NewService(cached, newFakeEventRepo(), newFakeResultsRepo(),
		newFakeFlagService(), &fakeFunnel{}, time.Hour, zap.NewNop())
	ctx := context.Background()

	exp, err := svc.CreateExperiment(ctx, validSpec())
	require.NoError(t, err)

	store.failUpdates = true
	require.Error(t, svc.StartExperiment(ctx, exp.ID))

	// The rejected transition must not be visible through the cache: the
	// store never accepted running, so reads still see draft and assignment
	// stays closed.
	got, err := svc.GetExperiment(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, experiment.StatusDraft, got.Status)

	a, err := svc.AssignUser(ctx, exp.ID, "user-1")
	require.NoError(t, err)
	assert.Nil(t, a)
}
