package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	domainerrors "github.com/draftforge/experiment-platform/internal/domain/errors"
	"github.com/draftforge/experiment-platform/internal/domain/experiment"
)

// ExperimentRepository persists experiments in PostgreSQL. Queryable fields
// live in scalar columns; the rest of the aggregate is a jsonb document,
// matching the document-store shape of the original data.
type ExperimentRepository struct {
	pool *pgxpool.Pool
}

func NewExperimentRepository(pool *pgxpool.Pool) *ExperimentRepository {
	return &ExperimentRepository{pool: pool}
}

func (r *ExperimentRepository) Save(ctx context.Context, exp *experiment.Experiment) error {
	doc, err := json.Marshal(exp)
	if err != nil {
		return fmt.Errorf("marshaling experiment: %w", err)
	}

	query := `
		INSERT INTO experiments (id, name, status, start_date, end_date, doc, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err = r.pool.Exec(ctx, query,
		exp.ID, exp.Name, string(exp.Status), exp.StartDate, exp.EndDate,
		doc, exp.CreatedAt, exp.UpdatedAt,
	)
	if err != nil {
		return wrapError(fmt.Errorf("inserting experiment: %w", err))
	}

	return nil
}

func (r *ExperimentRepository) Get(ctx context.Context, id uuid.UUID) (*experiment.Experiment, error) {
	query := `SELECT doc FROM experiments WHERE id = $1`

	var doc []byte
	if err := r.pool.QueryRow(ctx, query, id).Scan(&doc); err != nil {
		if err == pgx.ErrNoRows {
			return nil, domainerrors.ErrExperimentNotFound
		}
		return nil, wrapError(err)
	}

	var exp experiment.Experiment
	if err := json.Unmarshal(doc, &exp); err != nil {
		return nil, fmt.Errorf("unmarshaling experiment %s: %w", id, err)
	}

	return &exp, nil
}

func (r *ExperimentRepository) Update(ctx context.Context, exp *experiment.Experiment) error {
	doc, err := json.Marshal(exp)
	if err != nil {
		return fmt.Errorf("marshaling experiment: %w", err)
	}

	query := `
		UPDATE experiments
		SET name = $2, status = $3, start_date = $4, end_date = $5, doc = $6, updated_at = $7
		WHERE id = $1
	`

	tag, err := r.pool.Exec(ctx, query,
		exp.ID, exp.Name, string(exp.Status), exp.StartDate, exp.EndDate,
		doc, exp.UpdatedAt,
	)
	if err != nil {
		return wrapError(fmt.Errorf("updating experiment: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return domainerrors.ErrExperimentNotFound
	}

	return nil
}

func (r *ExperimentRepository) GetAll(ctx context.Context) ([]*experiment.Experiment, error) {
	return r.list(ctx, `SELECT doc FROM experiments ORDER BY created_at DESC`)
}

func (r *ExperimentRepository) GetRunning(ctx context.Context) ([]*experiment.Experiment, error) {
	return r.list(ctx,
		`SELECT doc FROM experiments WHERE status = $1 ORDER BY created_at DESC`,
		string(experiment.StatusRunning))
}

// GetByDateRange returns experiments whose end date falls inside the window.
func (r *ExperimentRepository) GetByDateRange(ctx context.Context, from, to time.Time) ([]*experiment.Experiment, error) {
	return r.list(ctx,
		`SELECT doc FROM experiments WHERE end_date >= $1 AND end_date <= $2 ORDER BY end_date DESC`,
		from, to)
}

func (r *ExperimentRepository) list(ctx context.Context, query string, args ...interface{}) ([]*experiment.Experiment, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapError(err)
	}
	defer rows.Close()

	var out []*experiment.Experiment
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scanning experiment row: %w", err)
		}

		var exp experiment.Experiment
		if err := json.Unmarshal(doc, &exp); err != nil {
			return nil, fmt.Errorf("unmarshaling experiment: %w", err)
		}
		out = append(out, &exp)
	}

	return out, rows.Err()
}

// SaveResults upserts the cached derived view for an experiment.
func (r *ExperimentRepository) SaveResults(ctx context.Context, results *experiment.Results) error {
	doc, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("marshaling results: %w", err)
	}

	query := `
		INSERT INTO experiment_results (experiment_id, doc, calculated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (experiment_id) DO UPDATE SET doc = $2, calculated_at = $3
	`

	if _, err := r.pool.Exec(ctx, query, results.ExperimentID, doc, results.CalculatedAt); err != nil {
		return wrapError(fmt.Errorf("saving results: %w", err))
	}

	return nil
}

func (r *ExperimentRepository) GetResults(ctx context.Context, experimentID uuid.UUID) (*experiment.Results, error) {
	query := `SELECT doc FROM experiment_results WHERE experiment_id = $1`

	var doc []byte
	if err := r.pool.QueryRow(ctx, query, experimentID).Scan(&doc); err != nil {
		if err == pgx.ErrNoRows {
			return nil, domainerrors.NewNotFoundError("experiment results")
		}
		return nil, wrapError(err)
	}

	var results experiment.Results
	if err := json.Unmarshal(doc, &results); err != nil {
		return nil, fmt.Errorf("unmarshaling results: %w", err)
	}

	return &results, nil
}
