// Package wallets exposes account-facing balance operations: reads, external
// deposits, and withdrawal requests. Escrow movements live in the ledger and
// are only ever driven by the task state machine.
package wallets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/skillincome/backend/internal/ledger"
	"github.com/skillincome/backend/internal/models"
)

var (
	// ErrWalletNotFound is returned when the account has no wallet row.
	ErrWalletNotFound = errors.New("wallet not found")
	// ErrWalletFrozen rejects money operations on a deactivated wallet.
	ErrWalletFrozen = errors.New("wallet is frozen")
)

const balanceCacheTTL = 10 * time.Second

// WalletRepo is the wallet persistence surface this service reads from.
type WalletRepo interface {
	GetByAccountID(ctx context.Context, accountID uuid.UUID) (*models.Wallet, error)
}

// TransactionRepo lists the account's ledger history.
type TransactionRepo interface {
	ListByAccountID(ctx context.Context, accountID uuid.UUID) ([]*models.Transaction, error)
}

// WithdrawalRepo persists withdrawal requests.
type WithdrawalRepo interface {
	CreateTx(ctx context.Context, tx pgx.Tx, w *models.Withdrawal) error
	ListByAccountID(ctx context.Context, accountID uuid.UUID) ([]*models.Withdrawal, error)
}

// Ledger is the subset of ledger operations backing external money movement.
type Ledger interface {
	Deposit(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount decimal.Decimal, externalRef string) (*models.Transaction, error)
	Withdraw(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount decimal.Decimal) (*models.Transaction, error)
}

// FundsNetwork pulls external deposits in from the payment rail. Withdrawals
// go the other way asynchronously, through the job queue.
type FundsNetwork interface {
	Deposit(ctx context.Context, address string, amount decimal.Decimal, reference string) (string, error)
}

// TxBeginner abstracts transaction creation so tests don't need a pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// EnqueueWithdrawalTxFunc enqueues the external transfer job within the same
// transaction that records the debit. Provided by main as a closure over
// river's InsertTx.
type EnqueueWithdrawalTxFunc func(ctx context.Context, tx pgx.Tx, withdrawalID uuid.UUID) error

type Service struct {
	pool        TxBeginner
	wallets     WalletRepo
	txns        TransactionRepo
	withdrawals WithdrawalRepo
	ledger      Ledger
	network     FundsNetwork
	cache       *redis.Client
	enqueue     EnqueueWithdrawalTxFunc
	logger      *slog.Logger
}

func NewService(pool TxBeginner, wallets WalletRepo, txns TransactionRepo, withdrawals WithdrawalRepo, ledger Ledger, network FundsNetwork, cache *redis.Client, enqueue EnqueueWithdrawalTxFunc, logger *slog.Logger) *Service {
	return &Service{
		pool:        pool,
		wallets:     wallets,
		txns:        txns,
		withdrawals: withdrawals,
		ledger:      ledger,
		network:     network,
		cache:       cache,
		enqueue:     enqueue,
		logger:      logger,
	}
}

// GetBalance returns the wallet, served from a short-lived cache when
// possible. Cache misses and redis errors fall through to the database.
func (s *Service) GetBalance(ctx context.Context, accountID uuid.UUID) (*models.Wallet, error) {
	key := cacheKey(accountID)
	if s.cache != nil {
		if raw, err := s.cache.Get(ctx, key).Bytes(); err == nil {
			var w models.Wallet
			if err := json.Unmarshal(raw, &w); err == nil {
				return &w, nil
			}
		}
	}

	w, err := s.wallets.GetByAccountID(ctx, accountID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if raw, err := json.Marshal(w); err == nil {
			if err := s.cache.Set(ctx, key, raw, balanceCacheTTL).Err(); err != nil {
				s.logger.Warn("balance cache write failed", "account_id", accountID, "error", err)
			}
		}
	}
	return w, nil
}

// Deposit pulls funds from the account's Pi address and credits them to the
// available balance. The external transfer happens first; if crediting fails
// afterwards the network reference is logged for reconciliation.
func (s *Service) Deposit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal) (*models.Transaction, error) {
	if amount.Sign() <= 0 {
		return nil, ledger.ErrInvalidAmount
	}

	w, err := s.wallets.GetByAccountID(ctx, accountID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, err
	}
	if !w.IsActive {
		return nil, ErrWalletFrozen
	}

	reference := uuid.New().String()
	txRef, err := s.network.Deposit(ctx, w.PiAddress, amount, reference)
	if err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("deposit %s uncredited: %w", txRef, err)
	}
	defer tx.Rollback(ctx)

	txn, err := s.ledger.Deposit(ctx, tx, accountID, amount, txRef)
	if err != nil {
		return nil, fmt.Errorf("deposit %s uncredited: %w", txRef, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("deposit %s uncredited: %w", txRef, err)
	}

	s.invalidate(ctx, accountID)
	return txn, nil
}

// Withdraw debits the available balance and records a pending withdrawal
// request. The debit, the request row, and the transfer job commit together,
// so a crash either leaves the funds untouched or guarantees the transfer
// will be attempted.
func (s *Service) Withdraw(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal) (*models.Withdrawal, error) {
	w, err := s.wallets.GetByAccountID(ctx, accountID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, err
	}
	if !w.IsActive {
		return nil, ErrWalletFrozen
	}

	req := &models.Withdrawal{
		ID:        uuid.New(),
		AccountID: accountID,
		Amount:    amount,
		PiAddress: w.PiAddress,
		Status:    models.WithdrawalPending,
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := s.ledger.Withdraw(ctx, tx, accountID, amount); err != nil {
		return nil, err
	}
	if err := s.withdrawals.CreateTx(ctx, tx, req); err != nil {
		return nil, fmt.Errorf("create withdrawal: %w", err)
	}
	if err := s.enqueue(ctx, tx, req.ID); err != nil {
		return nil, fmt.Errorf("enqueue withdrawal: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	s.invalidate(ctx, accountID)
	return req, nil
}

// Transactions returns the account's ledger history, newest first.
func (s *Service) Transactions(ctx context.Context, accountID uuid.UUID) ([]*models.Transaction, error) {
	return s.txns.ListByAccountID(ctx, accountID)
}

// Withdrawals returns the account's withdrawal requests, newest first.
func (s *Service) Withdrawals(ctx context.Context, accountID uuid.UUID) ([]*models.Withdrawal, error) {
	return s.withdrawals.ListByAccountID(ctx, accountID)
}

func (s *Service) invalidate(ctx context.Context, accountID uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, cacheKey(accountID)).Err(); err != nil {
		s.logger.Warn("balance cache invalidation failed", "account_id", accountID, "error", err)
	}
}

func cacheKey(accountID uuid.UUID) string {
	return "wallet:" + accountID.String()
}
