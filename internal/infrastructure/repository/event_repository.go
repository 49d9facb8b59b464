package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	domainerrors "github.com/draftforge/experiment-platform/internal/domain/errors"
	"github.com/draftforge/experiment-platform/internal/domain/experiment"
)

// EventRepository is the append-only store for experiment events and the
// durable user-to-variant assignment table.
type EventRepository struct {
	pool *pgxpool.Pool
}

func NewEventRepository(pool *pgxpool.Pool) *EventRepository {
	return &EventRepository{pool: pool}
}

// Append writes an immutable event. Events are never updated or deleted.
func (r *EventRepository) Append(ctx context.Context, ev *experiment.Event) error {
	metadata, err := json.Marshal(ev.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling event metadata: %w", err)
	}

	query := `
		INSERT INTO experiment_events
			(id, experiment_id, variant_id, user_id, session_id, type, metric_name, value, metadata, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err = r.pool.Exec(ctx, query,
		ev.ID, ev.ExperimentID, ev.VariantID, ev.UserID, ev.SessionID,
		string(ev.Type), ev.MetricName, ev.Value, metadata, ev.Timestamp,
	)
	if err != nil {
		return wrapError(fmt.Errorf("appending event: %w", err))
	}

	return nil
}

// GetByExperiment returns the full event stream for an experiment in
// insertion order. Aggregate correctness does not depend on order, but
// deterministic replay keeps result computation reproducible.
func (r *EventRepository) GetByExperiment(ctx context.Context, experimentID uuid.UUID) ([]*experiment.Event, error) {
	query := `
		SELECT id, experiment_id, variant_id, user_id, session_id, type, metric_name, value, metadata, occurred_at
		FROM experiment_events
		WHERE experiment_id = $1
		ORDER BY occurred_at ASC
	`

	rows, err := r.pool.Query(ctx, query, experimentID)
	if err != nil {
		return nil, wrapError(err)
	}
	defer rows.Close()

	var out []*experiment.Event
	for rows.Next() {
		var ev experiment.Event
		var typ string
		var metadata []byte

		if err := rows.Scan(&ev.ID, &ev.ExperimentID, &ev.VariantID, &ev.UserID,
			&ev.SessionID, &typ, &ev.MetricName, &ev.Value, &metadata, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning event row: %w", err)
		}

		ev.Type = experiment.EventType(typ)
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &ev.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshaling event metadata: %w", err)
			}
		}

		out = append(out, &ev)
	}

	return out, rows.Err()
}

// GetAssignment returns the durable assignment for a (experiment, user)
// pair, or ErrNotFound.
func (r *EventRepository) GetAssignment(ctx context.Context, experimentID uuid.UUID, userID string) (*experiment.Assignment, error) {
	query := `
		SELECT experiment_id, user_id, variant_id, assigned_at
		FROM experiment_assignments
		WHERE experiment_id = $1 AND user_id = $2
	`

	var a experiment.Assignment
	err := r.pool.QueryRow(ctx, query, experimentID, userID).
		Scan(&a.ExperimentID, &a.UserID, &a.VariantID, &a.AssignedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domainerrors.NewNotFoundError("assignment")
		}
		return nil, wrapError(err)
	}

	return &a, nil
}

// SaveAssignment persists an assignment. A concurrent duplicate insert is
// resolved in favor of the first writer so assignment stays idempotent.
func (r *EventRepository) SaveAssignment(ctx context.Context, a *experiment.Assignment) error {
	query := `
		INSERT INTO experiment_assignments (experiment_id, user_id, variant_id, assigned_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (experiment_id, user_id) DO NOTHING
	`

	if _, err := r.pool.Exec(ctx, query, a.ExperimentID, a.UserID, a.VariantID, a.AssignedAt); err != nil {
		return wrapError(fmt.Errorf("saving assignment: %w", err))
	}

	return nil
}
