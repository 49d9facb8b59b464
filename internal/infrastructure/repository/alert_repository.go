package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/draftforge/experiment-platform/internal/domain/alert"
	domainerrors "github.com/draftforge/experiment-platform/internal/domain/errors"
	"github.com/draftforge/experiment-platform/internal/domain/health"
)

// AlertRepository persists monitoring alerts and per-experiment health
// snapshots.
type AlertRepository struct {
	pool *pgxpool.Pool
}

func NewAlertRepository(pool *pgxpool.Pool) *AlertRepository {
	return &AlertRepository{pool: pool}
}

func (r *AlertRepository) Save(ctx context.Context, a *alert.Alert) error {
	data, err := json.Marshal(a.Data)
	if err != nil {
		return fmt.Errorf("marshaling alert data: %w", err)
	}

	query := `
		INSERT INTO monitoring_alerts (id, experiment_id, type, priority, message, data, acknowledged, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err = r.pool.Exec(ctx, query,
		a.ID, a.ExperimentID, string(a.Type), string(a.Priority),
		a.Message, data, a.Acknowledged, a.CreatedAt,
	)
	if err != nil {
		return wrapError(fmt.Errorf("inserting alert: %w", err))
	}

	return nil
}

// HasUnacknowledged reports whether an unacknowledged alert of the same
// (experiment, type) pair already exists. The deduplication primitive.
func (r *AlertRepository) HasUnacknowledged(ctx context.Context, experimentID uuid.UUID, alertType alert.Type) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM monitoring_alerts
			WHERE experiment_id = $1 AND type = $2 AND NOT acknowledged
		)
	`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, experimentID, string(alertType)).Scan(&exists); err != nil {
		return false, wrapError(err)
	}

	return exists, nil
}

func (r *AlertRepository) Acknowledge(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE monitoring_alerts SET acknowledged = TRUE WHERE id = $1`, id)
	if err != nil {
		return wrapError(err)
	}
	if tag.RowsAffected() == 0 {
		return domainerrors.NewNotFoundError("alert")
	}

	return nil
}

func (r *AlertRepository) ListUnacknowledged(ctx context.Context) ([]*alert.Alert, error) {
	query := `
		SELECT id, experiment_id, type, priority, message, data, acknowledged, created_at
		FROM monitoring_alerts
		WHERE NOT acknowledged
		ORDER BY created_at DESC
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, wrapError(err)
	}
	defer rows.Close()

	var out []*alert.Alert
	for rows.Next() {
		var a alert.Alert
		var typ, priority string
		var data []byte

		if err := rows.Scan(&a.ID, &a.ExperimentID, &typ, &priority,
			&a.Message, &data, &a.Acknowledged, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning alert row: %w", err)
		}

		a.Type = alert.Type(typ)
		a.Priority = alert.Priority(priority)
		if len(data) > 0 {
			if err := json.Unmarshal(data, &a.Data); err != nil {
				return nil, fmt.Errorf("unmarshaling alert data: %w", err)
			}
		}

		out = append(out, &a)
	}

	return out, rows.Err()
}

// SaveHealth upserts the latest health snapshot for an experiment.
func (r *AlertRepository) SaveHealth(ctx context.Context, h *health.ExperimentHealth) error {
	doc, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("marshaling health snapshot: %w", err)
	}

	query := `
		INSERT INTO experiment_health (experiment_id, status, doc, checked_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (experiment_id) DO UPDATE SET status = $2, doc = $3, checked_at = $4
	`

	if _, err := r.pool.Exec(ctx, query, h.ExperimentID, string(h.Status), doc, h.CheckedAt); err != nil {
		return wrapError(fmt.Errorf("saving health snapshot: %w", err))
	}

	return nil
}

func (r *AlertRepository) GetHealth(ctx context.Context, experimentID uuid.UUID) (*health.ExperimentHealth, error) {
	var doc []byte
	err := r.pool.QueryRow(ctx,
		`SELECT doc FROM experiment_health WHERE experiment_id = $1`, experimentID).Scan(&doc)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domainerrors.NewNotFoundError("experiment health")
		}
		return nil, wrapError(err)
	}

	var h health.ExperimentHealth
	if err := json.Unmarshal(doc, &h); err != nil {
		return nil, fmt.Errorf("unmarshaling health snapshot: %w", err)
	}

	return &h, nil
}

// PurgeAcknowledged deletes acknowledged alerts older than the cutoff.
func (r *AlertRepository) PurgeAcknowledged(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM monitoring_alerts WHERE acknowledged AND created_at < $1`, olderThan)
	if err != nil {
		return 0, wrapError(err)
	}

	return tag.RowsAffected(), nil
}
