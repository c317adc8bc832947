package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/skillincome/backend/internal/models"
)

const withdrawalColumns = "id, account_id, amount, pi_address, status, tx_ref, created_at, updated_at"

type WithdrawalRepo struct {
	pool *pgxpool.Pool
}

func NewWithdrawalRepo(pool *pgxpool.Pool) *WithdrawalRepo {
	return &WithdrawalRepo{pool: pool}
}

func (r *WithdrawalRepo) CreateTx(ctx context.Context, tx pgx.Tx, w *models.Withdrawal) error {
	return tx.QueryRow(ctx, `
		INSERT INTO withdrawals (id, account_id, amount, pi_address, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`, w.ID, w.AccountID, w.Amount, w.PiAddress, w.Status).Scan(&w.CreatedAt, &w.UpdatedAt)
}

func (r *WithdrawalRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Withdrawal, error) {
	return scanWithdrawal(r.pool.QueryRow(ctx,
		`SELECT `+withdrawalColumns+` FROM withdrawals WHERE id = $1`, id))
}

func (r *WithdrawalRepo) MarkCompleted(ctx context.Context, id uuid.UUID, txRef string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE withdrawals SET status = $2, tx_ref = $3, updated_at = now() WHERE id = $1
	`, id, models.WithdrawalCompleted, txRef)
	return err
}

func (r *WithdrawalRepo) MarkFailed(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE withdrawals SET status = $2, updated_at = now() WHERE id = $1
	`, id, models.WithdrawalFailed)
	return err
}

func (r *WithdrawalRepo) ListByAccountID(ctx context.Context, accountID uuid.UUID) ([]*models.Withdrawal, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+withdrawalColumns+` FROM withdrawals WHERE account_id = $1 ORDER BY created_at DESC
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Withdrawal
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, w)
	}
	return list, rows.Err()
}

func scanWithdrawal(row pgx.Row) (*models.Withdrawal, error) {
	var w models.Withdrawal
	err := row.Scan(&w.ID, &w.AccountID, &w.Amount, &w.PiAddress, &w.Status, &w.TxRef, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}
