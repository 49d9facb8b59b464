package integration

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/draftforge/experiment-platform/internal/domain/errors"
	"github.com/draftforge/experiment-platform/internal/domain/experiment"
)

type fakeEngine struct {
	experiments []*experiment.Experiment
	assignments map[string]*experiment.Assignment // experimentID+userID
	assignErr   error
	tracked     []*experiment.Event
}

func (f *fakeEngine) ListExperiments(ctx context.Context) ([]*experiment.Experiment, error) {
	return f.experiments, nil
}

func (f *fakeEngine) AssignUser(ctx context.Context, experimentID uuid.UUID, userID string) (*experiment.Assignment, error) {
	if f.assignErr != nil {
		return nil, f.assignErr
	}
	return f.assignments[experimentID.String()+userID], nil
}

func (f *fakeEngine) TrackEvent(ctx context.Context, ev *experiment.Event) error {
	f.tracked = append(f.tracked, ev)
	return nil
}

func (f *fakeEngine) GetAssignment(ctx context.Context, experimentID uuid.UUID, userID string) (*experiment.Assignment, error) {
	a, ok := f.assignments[experimentID.String()+userID]
	if !ok {
		return nil, errors.NewNotFoundError("assignment")
	}
	return a, nil
}

type fakeFlags struct {
	enabled map[string]bool
}

func (f *fakeFlags) IsEnabled(ctx context.Context, key string, userCtx map[string]string) (bool, error) {
	return f.enabled[key], nil
}

func runningExperiment(t *testing.T, flagKey string) *experiment.Experiment {
	t.Helper()
	exp, err := experiment.NewExperiment(experiment.Spec{
		Name:           "checkout-cta",
		Hypothesis:     "a louder button converts better",
		FeatureFlagKey: flagKey,
		PrimaryMetric:  experiment.MetricSpec{Name: "purchase"},
		Variants: []experiment.Variant{
			{ID: "control", Name: "Control", IsControl: true, TrafficAllocation: 50},
			{ID: "treatment", Name: "Treatment", TrafficAllocation: 50,
				FeatureConfig: map[string]string{"color": "red"}},
		},
	})
	require.NoError(t, err)
	require.NoError(t, exp.Start())
	return exp
}

func TestResolveFeature_ExperimentBackedVariant(t *testing.T) {
	exp := runningExperiment(t, "checkout-cta")
	engine := &fakeEngine{
		experiments: []*experiment.Experiment{exp},
		assignments: map[string]*experiment.Assignment{
			exp.ID.String() + "user-1": {ExperimentID: exp.ID, UserID: "user-1", VariantID: "treatment"},
		},
	}
	svc := NewService(engine, engine, &fakeFlags{}, zap.NewNop())

	decision, err := svc.ResolveFeature(context.Background(), "checkout-cta", "user-1", nil)
	require.NoError(t, err)
	assert.True(t, decision.Enabled)
	assert.Equal(t, "treatment", decision.VariantID)
	assert.Equal(t, "red", decision.Config["color"])
	require.NotNil(t, decision.Experiment)
	assert.Equal(t, exp.ID, *decision.Experiment)
}

func TestResolveFeature_ControlVariantDisablesFeature(t *testing.T) {
	exp := runningExperiment(t, "checkout-cta")
	engine := &fakeEngine{
		experiments: []*experiment.Experiment{exp},
		assignments: map[string]*experiment.Assignment{
			exp.ID.String() + "user-2": {ExperimentID: exp.ID, UserID: "user-2", VariantID: "control"},
		},
	}
	svc := NewService(engine, engine, &fakeFlags{}, zap.NewNop())

	decision, err := svc.ResolveFeature(context.Background(), "checkout-cta", "user-2", nil)
	require.NoError(t, err)
	assert.False(t, decision.Enabled)
	assert.Equal(t, "control", decision.VariantID)
}

func TestResolveFeature_IneligibleUserStaysOff(t *testing.T) {
	exp := runningExperiment(t, "checkout-cta")
	engine := &fakeEngine{experiments: []*experiment.Experiment{exp}}
	svc := NewService(engine, engine, &fakeFlags{}, zap.NewNop())

	decision, err := svc.ResolveFeature(context.Background(), "checkout-cta", "excluded", nil)
	require.NoError(t, err)
	assert.False(t, decision.Enabled)
	assert.Empty(t, decision.VariantID)
	require.NotNil(t, decision.Experiment)
}

func TestResolveFeature_NoExperimentFallsBackToFlags(t *testing.T) {
	engine := &fakeEngine{}
	svc := NewService(engine, engine, &fakeFlags{enabled: map[string]bool{"dark-mode": true}}, zap.NewNop())

	decision, err := svc.ResolveFeature(context.Background(), "dark-mode", "user-1", nil)
	require.NoError(t, err)
	assert.True(t, decision.Enabled)
	assert.Nil(t, decision.Experiment)

	decision, err = svc.ResolveFeature(context.Background(), "unknown-key", "user-1", nil)
	require.NoError(t, err)
	assert.False(t, decision.Enabled)
}

func TestResolveFeature_DraftExperimentIsIgnored(t *testing.T) {
	exp := runningExperiment(t, "checkout-cta")
	require.NoError(t, exp.Stop())
	engine := &fakeEngine{experiments: []*experiment.Experiment{exp}}
	svc := NewService(engine, engine, &fakeFlags{enabled: map[string]bool{"checkout-cta": true}}, zap.NewNop())

	decision, err := svc.ResolveFeature(context.Background(), "checkout-cta", "user-1", nil)
	require.NoError(t, err)
	assert.True(t, decision.Enabled)
	assert.Nil(t, decision.Experiment, "completed experiments should not drive flag decisions")
}

func TestRecordConversion_OnlyAssignedExperiments(t *testing.T) {
	assigned := runningExperiment(t, "checkout-cta")
	unassigned := runningExperiment(t, "search-ranking")
	engine := &fakeEngine{
		experiments: []*experiment.Experiment{assigned, unassigned},
		assignments: map[string]*experiment.Assignment{
			assigned.ID.String() + "user-1": {ExperimentID: assigned.ID, UserID: "user-1", VariantID: "treatment"},
		},
	}
	svc := NewService(engine, engine, &fakeFlags{}, zap.NewNop())

	err := svc.RecordConversion(context.Background(), "user-1", "purchase", 49.99,
		map[string]string{"sku": "A-100"})
	require.NoError(t, err)

	require.Len(t, engine.tracked, 1)
	ev := engine.tracked[0]
	assert.Equal(t, assigned.ID, ev.ExperimentID)
	assert.Equal(t, "treatment", ev.VariantID)
	assert.Equal(t, experiment.EventConversion, ev.Type)
	assert.Equal(t, "purchase", ev.MetricName)
	assert.Equal(t, 49.99, ev.Value)
	assert.Equal(t, "A-100", ev.Metadata["sku"])
}

func TestRecordConversion_NoAssignmentsIsANoOp(t *testing.T) {
	exp := runningExperiment(t, "checkout-cta")
	engine := &fakeEngine{experiments: []*experiment.Experiment{exp}}
	svc := NewService(engine, engine, &fakeFlags{}, zap.NewNop())

	require.NoError(t, svc.RecordConversion(context.Background(), "stranger", "purchase", 10, nil))
	assert.Empty(t, engine.tracked)
}
