package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/skillincome/backend/internal/models"
)

const disputeColumns = "id, task_id, filed_by, reason, resolution, ratio, filed_at, resolved_at"

type DisputeRepo struct {
	pool *pgxpool.Pool
}

func NewDisputeRepo(pool *pgxpool.Pool) *DisputeRepo {
	return &DisputeRepo{pool: pool}
}

func (r *DisputeRepo) CreateTx(ctx context.Context, tx pgx.Tx, d *models.Dispute) error {
	return tx.QueryRow(ctx, `
		INSERT INTO disputes (id, task_id, filed_by, reason, resolution, ratio)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING filed_at
	`, d.ID, d.TaskID, d.FiledBy, d.Reason, d.Resolution, d.Ratio).Scan(&d.FiledAt)
}

func (r *DisputeRepo) GetByTaskID(ctx context.Context, taskID uuid.UUID) (*models.Dispute, error) {
	return scanDispute(r.pool.QueryRow(ctx,
		`SELECT `+disputeColumns+` FROM disputes WHERE task_id = $1`, taskID))
}

// GetByTaskIDForUpdate locks the dispute row; the task row must already be
// locked by the caller so lock order stays task-then-dispute.
func (r *DisputeRepo) GetByTaskIDForUpdate(ctx context.Context, tx pgx.Tx, taskID uuid.UUID) (*models.Dispute, error) {
	return scanDispute(tx.QueryRow(ctx,
		`SELECT `+disputeColumns+` FROM disputes WHERE task_id = $1 FOR UPDATE`, taskID))
}

func (r *DisputeRepo) UpdateTx(ctx context.Context, tx pgx.Tx, d *models.Dispute) error {
	_, err := tx.Exec(ctx, `
		UPDATE disputes SET resolution = $2, ratio = $3, resolved_at = $4 WHERE id = $1
	`, d.ID, d.Resolution, d.Ratio, d.ResolvedAt)
	return err
}

func (r *DisputeRepo) ListOpen(ctx context.Context) ([]*models.Dispute, error) {
	return r.list(ctx, `
		SELECT `+disputeColumns+` FROM disputes
		WHERE resolution IN ($1, $2) ORDER BY filed_at ASC
	`, models.DisputePending, models.DisputeEscalated)
}

// ListOverdue returns task ids of pending disputes past the task's dispute
// deadline, for escalation by the settlement sweep.
func (r *DisputeRepo) ListOverdue(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT d.task_id FROM disputes d
		JOIN tasks t ON t.id = d.task_id
		WHERE d.resolution = $1 AND t.dispute_deadline <= $2
	`, models.DisputePending, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIDs(rows)
}

func (r *DisputeRepo) list(ctx context.Context, query string, args ...any) ([]*models.Dispute, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Dispute
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, d)
	}
	return list, rows.Err()
}

func scanDispute(row pgx.Row) (*models.Dispute, error) {
	var d models.Dispute
	err := row.Scan(&d.ID, &d.TaskID, &d.FiledBy, &d.Reason, &d.Resolution, &d.Ratio, &d.FiledAt, &d.ResolvedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
