package cache

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/google/uuid"

	"github.com/draftforge/experiment-platform/internal/domain/experiment"
)

// ExperimentStore is the persistence surface the in-process cache decorates.
type ExperimentStore interface {
	Save(ctx context.Context, exp *experiment.Experiment) error
	Get(ctx context.Context, id uuid.UUID) (*experiment.Experiment, error)
	Update(ctx context.Context, exp *experiment.Experiment) error
	GetAll(ctx context.Context) ([]*experiment.Experiment, error)
	GetRunning(ctx context.Context) ([]*experiment.Experiment, error)
	GetByDateRange(ctx context.Context, from, to time.Time) ([]*experiment.Experiment, error)
}

// ExperimentCache is a read-mostly in-process LRU in front of the experiment
// store. Mutations write through to the store before touching the cache so
// a process restart loses nothing. Entries are deep-copied on the way in and
// out: callers mutate aggregates in place before calling Update, and a shared
// pointer would let an uncommitted mutation leak to every other reader.
type ExperimentCache struct {
	store ExperimentStore
	lru   *lru.Cache[uuid.UUID, *experiment.Experiment]
}

func NewExperimentCache(store ExperimentStore, size int) (*ExperimentCache, error) {
	c, err := lru.New[uuid.UUID, *experiment.Experiment](size)
	if err != nil {
		return nil, err
	}
	return &ExperimentCache{store: store, lru: c}, nil
}

func (c *ExperimentCache) Save(ctx context.Context, exp *experiment.Experiment) error {
	if err := c.store.Save(ctx, exp); err != nil {
		return err
	}
	c.lru.Add(exp.ID, exp.Clone())
	return nil
}

func (c *ExperimentCache) Get(ctx context.Context, id uuid.UUID) (*experiment.Experiment, error) {
	if exp, ok := c.lru.Get(id); ok {
		return exp.Clone(), nil
	}

	exp, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	c.lru.Add(id, exp.Clone())
	return exp, nil
}

// Update writes through to the store. On failure the cached entry is dropped
// rather than refreshed: the caller's aggregate may already carry the rejected
// mutation, and the next Get must re-read the store's accepted state.
func (c *ExperimentCache) Update(ctx context.Context, exp *experiment.Experiment) error {
	if err := c.store.Update(ctx, exp); err != nil {
		c.lru.Remove(exp.ID)
		return err
	}
	c.lru.Add(exp.ID, exp.Clone())
	return nil
}

// List operations always hit the store; the LRU only serves point lookups.

func (c *ExperimentCache) GetAll(ctx context.Context) ([]*experiment.Experiment, error) {
	return c.store.GetAll(ctx)
}

func (c *ExperimentCache) GetRunning(ctx context.Context) ([]*experiment.Experiment, error) {
	return c.store.GetRunning(ctx)
}

func (c *ExperimentCache) GetByDateRange(ctx context.Context, from, to time.Time) ([]*experiment.Experiment, error) {
	return c.store.GetByDateRange(ctx, from, to)
}
