package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestScheduler_RunOnce(t *testing.T) {
	var runs atomic.Int32
	s := New("test", time.Hour, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}, zap.NewNop())

	s.RunOnce(context.Background())
	s.RunOnce(context.Background())

	assert.Equal(t, int32(2), runs.Load())
}

func TestScheduler_SkipsOverlappingCycles(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{})
	var runs atomic.Int32

	s := New("test", time.Hour, func(ctx context.Context) error {
		runs.Add(1)
		close(started)
		<-block
		return nil
	}, zap.NewNop())

	go s.RunOnce(context.Background())
	<-started

	// Second cycle while the first is in flight is a no-op.
	s.RunOnce(context.Background())
	assert.Equal(t, int32(1), runs.Load())

	close(block)
}

func TestScheduler_StartRunsImmediatelyAndStops(t *testing.T) {
	var runs atomic.Int32
	s := New("test", time.Hour, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}, zap.NewNop())

	s.Start(context.Background())

	assert.Eventually(t, func() bool {
		return runs.Load() >= 1
	}, time.Second, 10*time.Millisecond)

	s.Stop()

	// Stop is idempotent.
	s.Stop()
}

func TestScheduler_JobErrorDoesNotStopLoop(t *testing.T) {
	var runs atomic.Int32
	s := New("test", 10*time.Millisecond, func(ctx context.Context) error {
		runs.Add(1)
		return assert.AnError
	}, zap.NewNop())

	s.Start(context.Background())
	defer s.Stop()

	assert.Eventually(t, func() bool {
		return runs.Load() >= 2
	}, time.Second, 5*time.Millisecond)
}
