package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/skillincome/backend/internal/models"
)

const walletColumns = "account_id, available, escrowed, pi_address, is_active, created_at, updated_at"

type WalletRepo struct {
	pool *pgxpool.Pool
}

func NewWalletRepo(pool *pgxpool.Pool) *WalletRepo {
	return &WalletRepo{pool: pool}
}

func (r *WalletRepo) CreateTx(ctx context.Context, tx pgx.Tx, w *models.Wallet) error {
	return tx.QueryRow(ctx, `
		INSERT INTO wallets (account_id, available, escrowed, pi_address, is_active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`, w.AccountID, w.Available, w.Escrowed, w.PiAddress, w.IsActive).Scan(&w.CreatedAt, &w.UpdatedAt)
}

func (r *WalletRepo) GetByAccountID(ctx context.Context, accountID uuid.UUID) (*models.Wallet, error) {
	return scanWallet(r.pool.QueryRow(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE account_id = $1`, accountID))
}

// GetByAccountIDForUpdate locks the wallet row. Call within a transaction.
func (r *WalletRepo) GetByAccountIDForUpdate(ctx context.Context, tx pgx.Tx, accountID uuid.UUID) (*models.Wallet, error) {
	return scanWallet(tx.QueryRow(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE account_id = $1 FOR UPDATE`, accountID))
}

// CreditAvailable adds amount to available and returns the new balance.
func (r *WalletRepo) CreditAvailable(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error) {
	var avail decimal.Decimal
	err := tx.QueryRow(ctx, `
		UPDATE wallets SET available = available + $1, updated_at = now()
		WHERE account_id = $2
		RETURNING available
	`, amount, accountID).Scan(&avail)
	return avail, err
}

// DebitAvailable atomically deducts amount if available >= amount.
// Returns pgx.ErrNoRows when the balance is too low.
func (r *WalletRepo) DebitAvailable(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error) {
	var avail decimal.Decimal
	err := tx.QueryRow(ctx, `
		UPDATE wallets SET available = available - $1, updated_at = now()
		WHERE account_id = $2 AND available >= $1
		RETURNING available
	`, amount, accountID).Scan(&avail)
	return avail, err
}

// LockEscrow moves amount from available to escrowed on the same wallet.
// Returns pgx.ErrNoRows when available < amount.
func (r *WalletRepo) LockEscrow(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount decimal.Decimal) error {
	var avail decimal.Decimal
	return tx.QueryRow(ctx, `
		UPDATE wallets SET available = available - $1, escrowed = escrowed + $1, updated_at = now()
		WHERE account_id = $2 AND available >= $1
		RETURNING available
	`, amount, accountID).Scan(&avail)
}

// UnlockEscrow moves amount from escrowed back to available.
// Returns pgx.ErrNoRows when escrowed < amount.
func (r *WalletRepo) UnlockEscrow(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount decimal.Decimal) error {
	var esc decimal.Decimal
	return tx.QueryRow(ctx, `
		UPDATE wallets SET escrowed = escrowed - $1, available = available + $1, updated_at = now()
		WHERE account_id = $2 AND escrowed >= $1
		RETURNING escrowed
	`, amount, accountID).Scan(&esc)
}

// DebitEscrow removes amount from escrowed; the credit lands on another
// wallet. Returns pgx.ErrNoRows when escrowed < amount.
func (r *WalletRepo) DebitEscrow(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount decimal.Decimal) error {
	var esc decimal.Decimal
	return tx.QueryRow(ctx, `
		UPDATE wallets SET escrowed = escrowed - $1, updated_at = now()
		WHERE account_id = $2 AND escrowed >= $1
		RETURNING escrowed
	`, amount, accountID).Scan(&esc)
}

func (r *WalletRepo) SetActive(ctx context.Context, accountID uuid.UUID, active bool) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE wallets SET is_active = $2, updated_at = now() WHERE account_id = $1
	`, accountID, active)
	return err
}

// SumBalances returns the platform-wide total of available + escrowed,
// used by the fund-conservation audit.
func (r *WalletRepo) SumBalances(ctx context.Context) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(available + escrowed), 0) FROM wallets`).Scan(&total)
	return total, err
}

func scanWallet(row pgx.Row) (*models.Wallet, error) {
	var w models.Wallet
	err := row.Scan(&w.AccountID, &w.Available, &w.Escrowed, &w.PiAddress, &w.IsActive, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}
