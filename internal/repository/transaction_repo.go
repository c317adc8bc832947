package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/skillincome/backend/internal/models"
)

const transactionColumns = "id, task_id, kind, amount, from_account, to_account, external_ref, created_at"

// TransactionRepo is the append-only transaction log. There is no update or
// delete; the unique (task_id, kind) index is what makes settlement replay
// a no-op.
type TransactionRepo struct {
	pool *pgxpool.Pool
}

func NewTransactionRepo(pool *pgxpool.Pool) *TransactionRepo {
	return &TransactionRepo{pool: pool}
}

// CreateTx appends a ledger entry inside the given transaction.
func (r *TransactionRepo) CreateTx(ctx context.Context, tx pgx.Tx, t *models.Transaction) error {
	return tx.QueryRow(ctx, `
		INSERT INTO transactions (id, task_id, kind, amount, from_account, to_account, external_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, t.ID, t.TaskID, t.Kind, t.Amount, t.FromAccount, t.ToAccount, t.ExternalRef).Scan(&t.CreatedAt)
}

// GetByTaskAndKind returns the settlement entry already recorded for the
// task, or pgx.ErrNoRows. Used for the idempotence check, so it runs inside
// the settling transaction.
func (r *TransactionRepo) GetByTaskAndKind(ctx context.Context, tx pgx.Tx, taskID uuid.UUID, kind string) (*models.Transaction, error) {
	return scanTransaction(tx.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE task_id = $1 AND kind = $2`, taskID, kind))
}

func (r *TransactionRepo) ListByTaskID(ctx context.Context, taskID uuid.UUID) ([]*models.Transaction, error) {
	return r.list(ctx, `
		SELECT `+transactionColumns+` FROM transactions WHERE task_id = $1 ORDER BY created_at ASC
	`, taskID)
}

func (r *TransactionRepo) ListByAccountID(ctx context.Context, accountID uuid.UUID) ([]*models.Transaction, error) {
	return r.list(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE from_account = $1 OR to_account = $1
		ORDER BY created_at DESC
	`, accountID)
}

// NetExternalFlow returns external deposits minus withdrawals, the amount
// the wallets' total must equal for funds to be conserved.
func (r *TransactionRepo) NetExternalFlow(ctx context.Context) (decimal.Decimal, error) {
	var net decimal.Decimal
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(CASE kind WHEN $1 THEN amount WHEN $2 THEN -amount ELSE 0 END), 0)
		FROM transactions
	`, models.TxKindDeposit, models.TxKindWithdrawal).Scan(&net)
	return net, err
}

func (r *TransactionRepo) list(ctx context.Context, query string, args ...any) ([]*models.Transaction, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	return list, rows.Err()
}

func scanTransaction(row pgx.Row) (*models.Transaction, error) {
	var t models.Transaction
	err := row.Scan(&t.ID, &t.TaskID, &t.Kind, &t.Amount, &t.FromAccount, &t.ToAccount, &t.ExternalRef, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
