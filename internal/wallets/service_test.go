package wallets

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/skillincome/backend/internal/ledger"
	"github.com/skillincome/backend/internal/models"
)

// ---------------------------------------------------------------------------
// In-memory mocks. The redis client is left nil; the cache paths degrade to
// straight database reads, which is also the production fallback.
// ---------------------------------------------------------------------------

type noopTx struct {
	pgx.Tx
}

func (noopTx) Commit(context.Context) error   { return nil }
func (noopTx) Rollback(context.Context) error { return nil }

type mockPool struct{}

func (mockPool) Begin(context.Context) (pgx.Tx, error) { return noopTx{}, nil }

type mockWalletRepo struct {
	mu      sync.Mutex
	wallets map[uuid.UUID]*models.Wallet
}

func newMockWalletRepo(ws ...*models.Wallet) *mockWalletRepo {
	m := &mockWalletRepo{wallets: make(map[uuid.UUID]*models.Wallet)}
	for _, w := range ws {
		cp := *w
		m.wallets[w.AccountID] = &cp
	}
	return m
}

func (m *mockWalletRepo) GetByAccountID(_ context.Context, accountID uuid.UUID) (*models.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[accountID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *w
	return &cp, nil
}

type mockTxnRepo struct{}

func (mockTxnRepo) ListByAccountID(context.Context, uuid.UUID) ([]*models.Transaction, error) {
	return nil, nil
}

type mockWithdrawalRepo struct {
	mu   sync.Mutex
	rows []*models.Withdrawal
}

func (m *mockWithdrawalRepo) CreateTx(_ context.Context, _ pgx.Tx, w *models.Withdrawal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *w
	m.rows = append(m.rows, &cp)
	return nil
}

func (m *mockWithdrawalRepo) ListByAccountID(_ context.Context, accountID uuid.UUID) ([]*models.Withdrawal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Withdrawal
	for _, w := range m.rows {
		if w.AccountID == accountID {
			cp := *w
			out = append(out, &cp)
		}
	}
	return out, nil
}

type mockLedger struct {
	mu          sync.Mutex
	deposits    []decimal.Decimal
	withdrawals []decimal.Decimal
	withdrawErr error
}

func (m *mockLedger) Deposit(_ context.Context, _ pgx.Tx, _ uuid.UUID, amount decimal.Decimal, externalRef string) (*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deposits = append(m.deposits, amount)
	return &models.Transaction{ID: uuid.New(), Kind: models.TxKindDeposit, Amount: amount, ExternalRef: &externalRef}, nil
}

func (m *mockLedger) Withdraw(_ context.Context, _ pgx.Tx, _ uuid.UUID, amount decimal.Decimal) (*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.withdrawErr != nil {
		return nil, m.withdrawErr
	}
	m.withdrawals = append(m.withdrawals, amount)
	return &models.Transaction{ID: uuid.New(), Kind: models.TxKindWithdrawal, Amount: amount}, nil
}

type mockNetwork struct {
	mu       sync.Mutex
	deposits []string // references
	err      error
}

func (m *mockNetwork) Deposit(_ context.Context, _ string, _ decimal.Decimal, reference string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.deposits = append(m.deposits, reference)
	return "chain-" + reference, nil
}

type enqueued struct {
	mu  sync.Mutex
	ids []uuid.UUID
}

func (e *enqueued) fn(_ context.Context, _ pgx.Tx, withdrawalID uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ids = append(e.ids, withdrawalID)
	return nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func activeWallet(accountID uuid.UUID, available string) *models.Wallet {
	return &models.Wallet{
		AccountID: accountID,
		Available: d(available),
		Escrowed:  decimal.Zero,
		PiAddress: "GTESTADDR",
		IsActive:  true,
	}
}

func newTestService(walletR *mockWalletRepo, led *mockLedger, network *mockNetwork) (*Service, *mockWithdrawalRepo, *enqueued) {
	withdrawals := &mockWithdrawalRepo{}
	enq := &enqueued{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(mockPool{}, walletR, mockTxnRepo{}, withdrawals, led, network, nil, enq.fn, logger)
	return svc, withdrawals, enq
}

// ---------------------------------------------------------------------------
// Balances
// ---------------------------------------------------------------------------

func TestGetBalance(t *testing.T) {
	accountID := uuid.New()
	svc, _, _ := newTestService(newMockWalletRepo(activeWallet(accountID, "12.5")), &mockLedger{}, &mockNetwork{})

	w, err := svc.GetBalance(context.Background(), accountID)
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if !w.Available.Equal(d("12.5")) {
		t.Errorf("available: got %s, want 12.5", w.Available)
	}
}

func TestGetBalance_UnknownAccount(t *testing.T) {
	svc, _, _ := newTestService(newMockWalletRepo(), &mockLedger{}, &mockNetwork{})
	if _, err := svc.GetBalance(context.Background(), uuid.New()); !errors.Is(err, ErrWalletNotFound) {
		t.Fatalf("expected ErrWalletNotFound, got: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Deposits
// ---------------------------------------------------------------------------

func TestDeposit(t *testing.T) {
	accountID := uuid.New()
	led := &mockLedger{}
	network := &mockNetwork{}
	svc, _, _ := newTestService(newMockWalletRepo(activeWallet(accountID, "0")), led, network)

	txn, err := svc.Deposit(context.Background(), accountID, d("3"))
	if err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if txn.Kind != models.TxKindDeposit {
		t.Errorf("kind: got %s", txn.Kind)
	}
	if txn.ExternalRef == nil || *txn.ExternalRef != "chain-"+network.deposits[0] {
		t.Errorf("external ref: %v", txn.ExternalRef)
	}
	if len(led.deposits) != 1 || !led.deposits[0].Equal(d("3")) {
		t.Errorf("ledger deposits: %v", led.deposits)
	}
}

func TestDeposit_InvalidAmount(t *testing.T) {
	accountID := uuid.New()
	led := &mockLedger{}
	network := &mockNetwork{}
	svc, _, _ := newTestService(newMockWalletRepo(activeWallet(accountID, "0")), led, network)

	for _, amount := range []string{"0", "-5"} {
		if _, err := svc.Deposit(context.Background(), accountID, d(amount)); !errors.Is(err, ledger.ErrInvalidAmount) {
			t.Errorf("amount %s: expected ErrInvalidAmount, got: %v", amount, err)
		}
	}
	if len(network.deposits) != 0 {
		t.Errorf("invalid amounts must never reach the network, got %d transfer(s)", len(network.deposits))
	}
	if len(led.deposits) != 0 {
		t.Error("nothing should be credited")
	}
}

func TestDeposit_FrozenWallet(t *testing.T) {
	accountID := uuid.New()
	w := activeWallet(accountID, "0")
	w.IsActive = false
	led := &mockLedger{}
	network := &mockNetwork{}
	svc, _, _ := newTestService(newMockWalletRepo(w), led, network)

	if _, err := svc.Deposit(context.Background(), accountID, d("3")); !errors.Is(err, ErrWalletFrozen) {
		t.Fatalf("expected ErrWalletFrozen, got: %v", err)
	}
	if len(network.deposits) != 0 {
		t.Error("frozen wallet must not reach the network")
	}
}

func TestDeposit_NetworkFailure(t *testing.T) {
	accountID := uuid.New()
	led := &mockLedger{}
	network := &mockNetwork{err: errors.New("rail down")}
	svc, _, _ := newTestService(newMockWalletRepo(activeWallet(accountID, "0")), led, network)

	if _, err := svc.Deposit(context.Background(), accountID, d("3")); err == nil {
		t.Fatal("expected network error")
	}
	if len(led.deposits) != 0 {
		t.Error("nothing should be credited when the transfer fails")
	}
}

// ---------------------------------------------------------------------------
// Withdrawals
// ---------------------------------------------------------------------------

func TestWithdraw(t *testing.T) {
	accountID := uuid.New()
	led := &mockLedger{}
	svc, withdrawals, enq := newTestService(newMockWalletRepo(activeWallet(accountID, "10")), led, &mockNetwork{})

	req, err := svc.Withdraw(context.Background(), accountID, d("4"))
	if err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	if req.Status != models.WithdrawalPending {
		t.Errorf("status: got %s, want pending", req.Status)
	}
	if req.PiAddress != "GTESTADDR" {
		t.Errorf("pi address: got %q", req.PiAddress)
	}
	if len(led.withdrawals) != 1 || !led.withdrawals[0].Equal(d("4")) {
		t.Errorf("ledger withdrawals: %v", led.withdrawals)
	}
	if len(enq.ids) != 1 || enq.ids[0] != req.ID {
		t.Errorf("enqueued transfers: %v", enq.ids)
	}
	list, err := withdrawals.ListByAccountID(context.Background(), accountID)
	if err != nil || len(list) != 1 {
		t.Errorf("persisted requests: %v (%v)", list, err)
	}
}

func TestWithdraw_InsufficientFunds(t *testing.T) {
	accountID := uuid.New()
	led := &mockLedger{withdrawErr: ledger.ErrInsufficientFunds}
	svc, withdrawals, enq := newTestService(newMockWalletRepo(activeWallet(accountID, "1")), led, &mockNetwork{})

	if _, err := svc.Withdraw(context.Background(), accountID, d("4")); !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got: %v", err)
	}
	if len(enq.ids) != 0 {
		t.Error("no transfer job on a failed debit")
	}
	if list, _ := withdrawals.ListByAccountID(context.Background(), accountID); len(list) != 0 {
		t.Error("no request row on a failed debit")
	}
}

func TestWithdraw_FrozenWallet(t *testing.T) {
	accountID := uuid.New()
	w := activeWallet(accountID, "10")
	w.IsActive = false
	svc, _, _ := newTestService(newMockWalletRepo(w), &mockLedger{}, &mockNetwork{})

	if _, err := svc.Withdraw(context.Background(), accountID, d("4")); !errors.Is(err, ErrWalletFrozen) {
		t.Fatalf("expected ErrWalletFrozen, got: %v", err)
	}
}
