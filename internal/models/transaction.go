package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Transaction kinds. Escrow kinds are keyed (task_id, kind) so a settlement
// can be replayed as a no-op; deposit and withdrawal track external flows.
const (
	TxKindDeposit       = "deposit"
	TxKindWithdrawal    = "withdrawal"
	TxKindEscrowDeposit = "escrow_deposit"
	TxKindEscrowRelease = "escrow_release"
	TxKindEscrowRefund  = "escrow_refund"
	TxKindPlatformFee   = "platform_fee"
)

// Transaction is one append-only ledger mutation. Rows are never updated or
// deleted; replaying a task's rows in order reproduces the wallets' final
// balances.
type Transaction struct {
	ID          uuid.UUID       `json:"id"`
	TaskID      *uuid.UUID      `json:"task_id,omitempty"`
	Kind        string          `json:"kind"`
	Amount      decimal.Decimal `json:"amount"`
	FromAccount *uuid.UUID      `json:"from_account,omitempty"`
	ToAccount   *uuid.UUID      `json:"to_account,omitempty"`
	ExternalRef *string         `json:"external_ref,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}
