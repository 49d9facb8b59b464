package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/draftforge/experiment-platform/internal/domain/experiment"
	"github.com/draftforge/experiment-platform/internal/infrastructure/config"
)

// ResultsStore is the persistence surface the cache decorates.
type ResultsStore interface {
	SaveResults(ctx context.Context, results *experiment.Results) error
	GetResults(ctx context.Context, experimentID uuid.UUID) (*experiment.Results, error)
}

// ResultsCache is a read-through/write-through decorator over the results
// store. The TTL is the results freshness window: within it, polling loops
// share one computed result instead of recounting the event stream.
type ResultsCache struct {
	store  ResultsStore
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisClient builds and pings a redis client.
func NewRedisClient(cfg *config.RedisConfig, logger *zap.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.Info("redis cache initialized", zap.String("addr", cfg.Addr), zap.Int("db", cfg.DB))

	return client, nil
}

func NewResultsCache(store ResultsStore, client *redis.Client, ttl time.Duration, logger *zap.Logger) *ResultsCache {
	return &ResultsCache{
		store:  store,
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

func resultsKey(experimentID uuid.UUID) string {
	return "experiment:results:" + experimentID.String()
}

// SaveResults writes through: durable store first, then cache. A cache write
// failure is logged, not surfaced, since the store remains authoritative.
func (c *ResultsCache) SaveResults(ctx context.Context, results *experiment.Results) error {
	if err := c.store.SaveResults(ctx, results); err != nil {
		return err
	}

	payload, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("marshaling results for cache: %w", err)
	}

	if err := c.client.Set(ctx, resultsKey(results.ExperimentID), payload, c.ttl).Err(); err != nil {
		c.logger.Warn("results cache write failed",
			zap.String("experiment_id", results.ExperimentID.String()),
			zap.Error(err))
	}

	return nil
}

// GetResults reads through: cache hit wins, otherwise the store is consulted
// and a still-fresh result is backfilled into the cache.
func (c *ResultsCache) GetResults(ctx context.Context, experimentID uuid.UUID) (*experiment.Results, error) {
	payload, err := c.client.Get(ctx, resultsKey(experimentID)).Bytes()
	if err == nil {
		var results experiment.Results
		if err := json.Unmarshal(payload, &results); err == nil {
			return &results, nil
		}
		// Corrupt cache entry: drop it and fall through to the store.
		c.client.Del(ctx, resultsKey(experimentID))
	} else if err != redis.Nil {
		c.logger.Warn("results cache read failed",
			zap.String("experiment_id", experimentID.String()),
			zap.Error(err))
	}

	results, err := c.store.GetResults(ctx, experimentID)
	if err != nil {
		return nil, err
	}

	if remaining := c.ttl - time.Since(results.CalculatedAt); remaining > 0 {
		if payload, err := json.Marshal(results); err == nil {
			if err := c.client.Set(ctx, resultsKey(experimentID), payload, remaining).Err(); err != nil {
				c.logger.Warn("results cache backfill failed",
					zap.String("experiment_id", experimentID.String()),
					zap.Error(err))
			}
		}
	}

	return results, nil
}

// Invalidate drops the cached entry, forcing the next read to recompute.
func (c *ResultsCache) Invalidate(ctx context.Context, experimentID uuid.UUID) error {
	return c.client.Del(ctx, resultsKey(experimentID)).Err()
}
