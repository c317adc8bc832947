package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/skillincome/backend/internal/models"
)

// Pi coin precision, matching the numeric(18,8) wallet columns.
const moneyPlaces = 8

var (
	// ErrInvalidAmount is returned for zero or negative amounts, before any mutation.
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrInsufficientFunds is returned when available balance is too low for the requested lock or debit.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrInsufficientEscrow is returned when a settlement asks for more than the wallet holds in escrow.
	ErrInsufficientEscrow = errors.New("insufficient escrow")
	// ErrInvalidRatio is returned for compromise ratios outside [0,1].
	ErrInvalidRatio = errors.New("split ratio must be within [0,1]")
)

// WalletRepo is the minimal wallet interface for the ledger.
type WalletRepo interface {
	GetByAccountIDForUpdate(ctx context.Context, tx pgx.Tx, accountID uuid.UUID) (*models.Wallet, error)
	CreditAvailable(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error)
	DebitAvailable(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error)
	LockEscrow(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount decimal.Decimal) error
	UnlockEscrow(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount decimal.Decimal) error
	DebitEscrow(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount decimal.Decimal) error
}

// TransactionRepo is the minimal transaction-log interface for the ledger.
type TransactionRepo interface {
	CreateTx(ctx context.Context, tx pgx.Tx, t *models.Transaction) error
	GetByTaskAndKind(ctx context.Context, tx pgx.Tx, taskID uuid.UUID, kind string) (*models.Transaction, error)
}

// Service moves funds between wallets and appends every mutation to the
// transaction log. All operations run inside the caller's transaction so a
// wallet mutation and the task transition that caused it commit as one unit.
// Settlements are idempotent per (task, kind): replaying one returns the
// original transaction instead of moving funds twice.
type Service struct {
	Wallets      WalletRepo
	Transactions TransactionRepo

	feePercent decimal.Decimal
}

// NewService returns a ledger Service charging feePercent (e.g. 10 for 10%)
// on every release.
func NewService(wallets WalletRepo, transactions TransactionRepo, feePercent decimal.Decimal) *Service {
	return &Service{Wallets: wallets, Transactions: transactions, feePercent: feePercent}
}

// Deposit credits externally received funds to the wallet's available balance.
func (s *Service) Deposit(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount decimal.Decimal, externalRef string) (*models.Transaction, error) {
	if amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if _, err := s.Wallets.CreditAvailable(ctx, tx, accountID, amount); err != nil {
		return nil, err
	}
	return s.append(ctx, tx, &models.Transaction{
		ID:          uuid.New(),
		Kind:        models.TxKindDeposit,
		Amount:      amount,
		ToAccount:   &accountID,
		ExternalRef: &externalRef,
	})
}

// Withdraw debits available funds ahead of an external transfer.
func (s *Service) Withdraw(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount decimal.Decimal) (*models.Transaction, error) {
	if amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	w, err := s.Wallets.GetByAccountIDForUpdate(ctx, tx, accountID)
	if err != nil {
		return nil, err
	}
	if w.Available.LessThan(amount) {
		return nil, ErrInsufficientFunds
	}
	if _, err := s.Wallets.DebitAvailable(ctx, tx, accountID, amount); err != nil {
		return nil, insufficiency(err, ErrInsufficientFunds)
	}
	return s.append(ctx, tx, &models.Transaction{
		ID:          uuid.New(),
		Kind:        models.TxKindWithdrawal,
		Amount:      amount,
		FromAccount: &accountID,
	})
}

// LockEscrow moves the task's value from the requester's available balance
// into escrow. Replaying the lock for the same task is a no-op.
func (s *Service) LockEscrow(ctx context.Context, tx pgx.Tx, taskID, accountID uuid.UUID, amount decimal.Decimal) (*models.Transaction, error) {
	if amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if prior, err := s.replayed(ctx, tx, taskID, models.TxKindEscrowDeposit); prior != nil || err != nil {
		return prior, err
	}
	w, err := s.Wallets.GetByAccountIDForUpdate(ctx, tx, accountID)
	if err != nil {
		return nil, err
	}
	if w.Available.LessThan(amount) {
		return nil, ErrInsufficientFunds
	}
	if err := s.Wallets.LockEscrow(ctx, tx, accountID, amount); err != nil {
		return nil, insufficiency(err, ErrInsufficientFunds)
	}
	return s.append(ctx, tx, &models.Transaction{
		ID:          uuid.New(),
		TaskID:      &taskID,
		Kind:        models.TxKindEscrowDeposit,
		Amount:      amount,
		FromAccount: &accountID,
	})
}

// Release settles escrow to the worker. The platform fee is deducted from
// the released amount and recorded as its own transaction before the worker
// is credited with the remainder.
func (s *Service) Release(ctx context.Context, tx pgx.Tx, taskID, fromID, toID uuid.UUID, amount decimal.Decimal) (*models.Transaction, error) {
	if amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if prior, err := s.replayed(ctx, tx, taskID, models.TxKindEscrowRelease); prior != nil || err != nil {
		return prior, err
	}

	wallets, err := s.lockWallets(ctx, tx, fromID, toID, models.SystemPlatformAccountID)
	if err != nil {
		return nil, err
	}
	if wallets[fromID].Escrowed.LessThan(amount) {
		return nil, ErrInsufficientEscrow
	}

	fee := s.fee(amount)
	net := amount.Sub(fee)

	if err := s.Wallets.DebitEscrow(ctx, tx, fromID, amount); err != nil {
		return nil, insufficiency(err, ErrInsufficientEscrow)
	}
	if _, err := s.Wallets.CreditAvailable(ctx, tx, toID, net); err != nil {
		return nil, err
	}
	release, err := s.append(ctx, tx, &models.Transaction{
		ID:          uuid.New(),
		TaskID:      &taskID,
		Kind:        models.TxKindEscrowRelease,
		Amount:      net,
		FromAccount: &fromID,
		ToAccount:   &toID,
	})
	if err != nil {
		return nil, err
	}

	if fee.Sign() > 0 {
		if _, err := s.Wallets.CreditAvailable(ctx, tx, models.SystemPlatformAccountID, fee); err != nil {
			return nil, err
		}
		if _, err := s.append(ctx, tx, &models.Transaction{
			ID:          uuid.New(),
			TaskID:      &taskID,
			Kind:        models.TxKindPlatformFee,
			Amount:      fee,
			FromAccount: &fromID,
			ToAccount:   &models.SystemPlatformAccountID,
		}); err != nil {
			return nil, err
		}
	}
	return release, nil
}

// Refund returns escrowed funds to the requester's available balance.
func (s *Service) Refund(ctx context.Context, tx pgx.Tx, taskID, accountID uuid.UUID, amount decimal.Decimal) (*models.Transaction, error) {
	if amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if prior, err := s.replayed(ctx, tx, taskID, models.TxKindEscrowRefund); prior != nil || err != nil {
		return prior, err
	}
	w, err := s.Wallets.GetByAccountIDForUpdate(ctx, tx, accountID)
	if err != nil {
		return nil, err
	}
	if w.Escrowed.LessThan(amount) {
		return nil, ErrInsufficientEscrow
	}
	if err := s.Wallets.UnlockEscrow(ctx, tx, accountID, amount); err != nil {
		return nil, insufficiency(err, ErrInsufficientEscrow)
	}
	return s.append(ctx, tx, &models.Transaction{
		ID:          uuid.New(),
		TaskID:      &taskID,
		Kind:        models.TxKindEscrowRefund,
		Amount:      amount,
		FromAccount: &accountID,
		ToAccount:   &accountID,
	})
}

// Split is the compromise settlement: ratio of the escrowed total is
// released to the worker (fee applies) and the remainder is refunded to the
// requester. The remainder is computed by subtraction so the two legs always
// sum to the total exactly.
func (s *Service) Split(ctx context.Context, tx pgx.Tx, taskID, fromID, toID uuid.UUID, total, ratio decimal.Decimal) error {
	if total.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if ratio.Sign() < 0 || ratio.GreaterThan(decimal.NewFromInt(1)) {
		return ErrInvalidRatio
	}

	workerShare := total.Mul(ratio).Round(moneyPlaces)
	remainder := total.Sub(workerShare)

	if workerShare.Sign() > 0 {
		if _, err := s.Release(ctx, tx, taskID, fromID, toID, workerShare); err != nil {
			return err
		}
	}
	if remainder.Sign() > 0 {
		if _, err := s.Refund(ctx, tx, taskID, fromID, remainder); err != nil {
			return err
		}
	}
	return nil
}

// replayed returns the previously recorded settlement for (task, kind), or
// nil when this is the first attempt.
func (s *Service) replayed(ctx context.Context, tx pgx.Tx, taskID uuid.UUID, kind string) (*models.Transaction, error) {
	prior, err := s.Transactions.GetByTaskAndKind(ctx, tx, taskID, kind)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return prior, nil
}

// lockWallets locks the given wallets in deterministic UUID order to avoid
// deadlock between concurrent settlements.
func (s *Service) lockWallets(ctx context.Context, tx pgx.Tx, ids ...uuid.UUID) (map[uuid.UUID]*models.Wallet, error) {
	sorted := make([]uuid.UUID, len(ids))
	copy(sorted, ids)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].String() < sorted[j].String() })

	out := make(map[uuid.UUID]*models.Wallet, len(sorted))
	for _, id := range sorted {
		if _, seen := out[id]; seen {
			continue
		}
		w, err := s.Wallets.GetByAccountIDForUpdate(ctx, tx, id)
		if err != nil {
			return nil, fmt.Errorf("lock wallet %s: %w", id, err)
		}
		out[id] = w
	}
	return out, nil
}

func (s *Service) fee(amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(s.feePercent).Div(decimal.NewFromInt(100)).Round(moneyPlaces)
}

func (s *Service) append(ctx context.Context, tx pgx.Tx, t *models.Transaction) (*models.Transaction, error) {
	if err := s.Transactions.CreateTx(ctx, tx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// insufficiency maps the conditional-update miss (pgx.ErrNoRows) onto the
// ledger's typed error; the pre-check under FOR UPDATE should make this
// unreachable, the conditional update is the backstop.
func insufficiency(err, typed error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return typed
	}
	return err
}
