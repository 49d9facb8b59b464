// Command archiver runs offline retention maintenance: it archives
// experiments that completed long ago and purges acknowledged alerts.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/draftforge/experiment-platform/internal/domain/experiment"
	"github.com/draftforge/experiment-platform/internal/infrastructure/config"
	"github.com/draftforge/experiment-platform/internal/infrastructure/database"
	"github.com/draftforge/experiment-platform/internal/infrastructure/repository"
	"github.com/draftforge/experiment-platform/internal/infrastructure/telemetry"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to configuration file")
		days       = flag.Int("days", 90, "act on records older than this many days")
		dryRun     = flag.Bool("dry-run", false, "report what would change without writing")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading configuration: %v", err)
	}

	logger, err := telemetry.NewLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		log.Fatalf("building logger: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()
	pool, err := database.Connect(ctx, &cfg.Database, logger)
	if err != nil {
		logger.Fatal("connecting to database", zap.Error(err))
	}
	defer pool.Close()

	cutoff := time.Now().AddDate(0, 0, -*days)
	experiments := repository.NewExperimentRepository(pool)
	alerts := repository.NewAlertRepository(pool)

	if err := archiveCompleted(ctx, experiments, cutoff, *dryRun, logger); err != nil {
		logger.Fatal("archiving experiments", zap.Error(err))
	}

	if *dryRun {
		logger.Info("dry run: skipping alert purge", zap.Time("cutoff", cutoff))
		return
	}

	purged, err := alerts.PurgeAcknowledged(ctx, cutoff)
	if err != nil {
		logger.Fatal("purging alerts", zap.Error(err))
	}
	logger.Info("maintenance complete", zap.Int64("alerts_purged", purged))
}

// archiveCompleted flips completed experiments whose end date predates the
// cutoff to archived. Their event streams and results stay queryable.
func archiveCompleted(ctx context.Context, repo *repository.ExperimentRepository, cutoff time.Time, dryRun bool, logger *zap.Logger) error {
	all, err := repo.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("listing experiments: %w", err)
	}

	archived := 0
	for _, exp := range all {
		if exp.Status != experiment.StatusCompleted {
			continue
		}
		if exp.EndDate == nil || exp.EndDate.After(cutoff) {
			continue
		}

		if dryRun {
			logger.Info("dry run: would archive",
				zap.String("experiment_id", exp.ID.String()),
				zap.String("name", exp.Name),
				zap.Timep("ended", exp.EndDate))
			continue
		}

		if err := exp.Archive(); err != nil {
			logger.Warn("skipping experiment",
				zap.String("experiment_id", exp.ID.String()),
				zap.Error(err))
			continue
		}
		if err := repo.Update(ctx, exp); err != nil {
			return fmt.Errorf("archiving experiment %s: %w", exp.ID, err)
		}
		archived++
	}

	logger.Info("experiment archival pass complete", zap.Int("archived", archived))
	return nil
}
