package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/draftforge/experiment-platform/internal/domain/automation"
	domainerrors "github.com/draftforge/experiment-platform/internal/domain/errors"
)

// AutomationRepository persists automation rules, the global policy row, and
// the experiment queue.
type AutomationRepository struct {
	pool *pgxpool.Pool
}

func NewAutomationRepository(pool *pgxpool.Pool) *AutomationRepository {
	return &AutomationRepository{pool: pool}
}

func (r *AutomationRepository) SaveRule(ctx context.Context, rule *automation.Rule) error {
	doc, err := json.Marshal(rule)
	if err != nil {
		return fmt.Errorf("marshaling rule: %w", err)
	}

	query := `
		INSERT INTO automation_rules (id, name, enabled, doc, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET name = $2, enabled = $3, doc = $4, updated_at = $6
	`

	if _, err := r.pool.Exec(ctx, query,
		rule.ID, rule.Name, rule.Enabled, doc, rule.CreatedAt, rule.UpdatedAt); err != nil {
		return wrapError(fmt.Errorf("saving rule: %w", err))
	}

	return nil
}

func (r *AutomationRepository) ListRules(ctx context.Context) ([]*automation.Rule, error) {
	rows, err := r.pool.Query(ctx, `SELECT doc FROM automation_rules ORDER BY created_at ASC`)
	if err != nil {
		return nil, wrapError(err)
	}
	defer rows.Close()

	var out []*automation.Rule
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scanning rule row: %w", err)
		}

		var rule automation.Rule
		if err := json.Unmarshal(doc, &rule); err != nil {
			return nil, fmt.Errorf("unmarshaling rule: %w", err)
		}
		out = append(out, &rule)
	}

	return out, rows.Err()
}

// MarkRuleExecuted persists the rule's last-executed timestamp in the same
// call path as the action's side effect, so a crash-restart cannot re-fire
// a rule that already acted.
func (r *AutomationRepository) MarkRuleExecuted(ctx context.Context, rule *automation.Rule) error {
	return r.SaveRule(ctx, rule)
}

func (r *AutomationRepository) GetPolicy(ctx context.Context) (*automation.Policy, error) {
	var doc []byte
	err := r.pool.QueryRow(ctx, `SELECT doc FROM automation_policy WHERE singleton = TRUE`).Scan(&doc)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domainerrors.NewNotFoundError("automation policy")
		}
		return nil, wrapError(err)
	}

	var policy automation.Policy
	if err := json.Unmarshal(doc, &policy); err != nil {
		return nil, fmt.Errorf("unmarshaling policy: %w", err)
	}

	return &policy, nil
}

func (r *AutomationRepository) SavePolicy(ctx context.Context, policy *automation.Policy) error {
	doc, err := json.Marshal(policy)
	if err != nil {
		return fmt.Errorf("marshaling policy: %w", err)
	}

	query := `
		INSERT INTO automation_policy (singleton, doc)
		VALUES (TRUE, $1)
		ON CONFLICT (singleton) DO UPDATE SET doc = $1
	`

	if _, err := r.pool.Exec(ctx, query, doc); err != nil {
		return wrapError(fmt.Errorf("saving policy: %w", err))
	}

	return nil
}

func (r *AutomationRepository) Enqueue(ctx context.Context, entry *automation.QueueEntry) error {
	doc, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling queue entry: %w", err)
	}

	query := `
		INSERT INTO experiment_queue (id, experiment_id, priority, scheduled_for, doc, enqueued_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	if _, err := r.pool.Exec(ctx, query,
		entry.ID, entry.ExperimentID, entry.Priority, entry.ScheduledFor,
		doc, entry.EnqueuedAt); err != nil {
		return wrapError(fmt.Errorf("enqueueing experiment: %w", err))
	}

	return nil
}

// ListQueue returns queue entries by descending priority.
func (r *AutomationRepository) ListQueue(ctx context.Context) ([]*automation.QueueEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT doc FROM experiment_queue ORDER BY priority DESC, enqueued_at ASC`)
	if err != nil {
		return nil, wrapError(err)
	}
	defer rows.Close()

	var out []*automation.QueueEntry
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scanning queue row: %w", err)
		}

		var entry automation.QueueEntry
		if err := json.Unmarshal(doc, &entry); err != nil {
			return nil, fmt.Errorf("unmarshaling queue entry: %w", err)
		}
		out = append(out, &entry)
	}

	return out, rows.Err()
}

func (r *AutomationRepository) Dequeue(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM experiment_queue WHERE id = $1`, id)
	if err != nil {
		return wrapError(err)
	}
	if tag.RowsAffected() == 0 {
		return domainerrors.NewNotFoundError("queue entry")
	}

	return nil
}
