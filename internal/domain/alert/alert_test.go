package alert

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestPriorityAtLeast(t *testing.T) {
	assert.True(t, PriorityCritical.AtLeast(PriorityLow))
	assert.True(t, PriorityHigh.AtLeast(PriorityHigh))
	assert.False(t, PriorityLow.AtLeast(PriorityMedium))
	assert.False(t, PriorityMedium.AtLeast(PriorityCritical))
}

func TestRuleOnCooldown(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rule := &Rule{Cooldown: time.Hour}

	assert.False(t, rule.OnCooldown(now), "a rule that never fired is not on cooldown")

	fired := now.Add(-30 * time.Minute)
	rule.LastTriggered = &fired
	assert.True(t, rule.OnCooldown(now))
	assert.False(t, rule.OnCooldown(now.Add(31*time.Minute)))
}

func TestNewStampsIdentity(t *testing.T) {
	experimentID := uuid.New()
	a := New(experimentID, TypeSignificanceReached, PriorityMedium, "significance reached")

	assert.NotEqual(t, uuid.Nil, a.ID)
	assert.Equal(t, experimentID, a.ExperimentID)
	assert.Equal(t, TypeSignificanceReached, a.Type)
	assert.False(t, a.Acknowledged)
	assert.NotNil(t, a.Data)
	assert.False(t, a.CreatedAt.IsZero())
}
