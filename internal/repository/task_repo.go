package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/skillincome/backend/internal/models"
)

const taskColumns = `id, requester_id, worker_id, title, description, value, status,
		submitted_at, auto_release_deadline, dispute_deadline, completed_at, created_at, updated_at`

type TaskRepo struct {
	pool *pgxpool.Pool
}

func NewTaskRepo(pool *pgxpool.Pool) *TaskRepo {
	return &TaskRepo{pool: pool}
}

func (r *TaskRepo) CreateTx(ctx context.Context, tx pgx.Tx, t *models.Task) error {
	return tx.QueryRow(ctx, `
		INSERT INTO tasks (id, requester_id, worker_id, title, description, value, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`, t.ID, t.RequesterID, t.WorkerID, t.Title, t.Description, t.Value, t.Status).Scan(&t.CreatedAt, &t.UpdatedAt)
}

func (r *TaskRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	return scanTask(r.pool.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
}

// GetByIDForUpdate locks the task row so transitions on the same task are
// strictly ordered. Call within a transaction.
func (r *TaskRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Task, error) {
	return scanTask(tx.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1 FOR UPDATE`, id))
}

// UpdateTx writes the full task row inside the given transaction.
func (r *TaskRepo) UpdateTx(ctx context.Context, tx pgx.Tx, t *models.Task) error {
	_, err := tx.Exec(ctx, `
		UPDATE tasks SET worker_id = $2, title = $3, description = $4, value = $5, status = $6,
			submitted_at = $7, auto_release_deadline = $8, dispute_deadline = $9, completed_at = $10,
			updated_at = now()
		WHERE id = $1
	`, t.ID, t.WorkerID, t.Title, t.Description, t.Value, t.Status,
		t.SubmittedAt, t.AutoReleaseDeadline, t.DisputeDeadline, t.CompletedAt)
	return err
}

func (r *TaskRepo) ListByAccountID(ctx context.Context, accountID uuid.UUID) ([]*models.Task, error) {
	return r.list(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE requester_id = $1 OR worker_id = $1
		ORDER BY created_at DESC
	`, accountID)
}

func (r *TaskRepo) ListOpen(ctx context.Context) ([]*models.Task, error) {
	return r.list(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE status = $1 AND worker_id IS NULL
		ORDER BY created_at DESC
	`, models.TaskStatusPosted)
}

// ListOverdueForAutoRelease returns ids of tasks whose auto-release deadline
// has elapsed while still awaiting approval. The settlement sweep uses this
// to recover timers lost before their job row was enqueued.
func (r *TaskRepo) ListOverdueForAutoRelease(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id FROM tasks
		WHERE status IN ($1, $2) AND auto_release_deadline <= $3
	`, models.TaskStatusSubmitted, models.TaskStatusUnderReview, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIDs(rows)
}

func (r *TaskRepo) list(ctx context.Context, query string, args ...any) ([]*models.Task, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	return list, rows.Err()
}

func scanTask(row pgx.Row) (*models.Task, error) {
	var t models.Task
	err := row.Scan(&t.ID, &t.RequesterID, &t.WorkerID, &t.Title, &t.Description, &t.Value, &t.Status,
		&t.SubmittedAt, &t.AutoReleaseDeadline, &t.DisputeDeadline, &t.CompletedAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func scanIDs(rows pgx.Rows) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
