package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Wallet holds one account's spendable and escrowed funds. Balances are
// numeric(18,8) Pi coins; total balance is available + escrowed.
type Wallet struct {
	AccountID uuid.UUID       `json:"account_id"`
	Available decimal.Decimal `json:"available"`
	Escrowed  decimal.Decimal `json:"escrowed"`
	PiAddress string          `json:"pi_address"`
	IsActive  bool            `json:"is_active"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}
