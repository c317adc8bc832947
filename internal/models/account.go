package models

import (
	"time"

	"github.com/google/uuid"
)

// Account roles. Workers complete tasks, requesters post them, admins
// arbitrate disputes.
const (
	RoleAdmin     = "admin"
	RoleWorker    = "worker"
	RoleRequester = "requester"
)

// SystemPlatformAccountID owns the wallet that collects platform fees.
var SystemPlatformAccountID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

type Account struct {
	ID              uuid.UUID `json:"id"`
	Email           string    `json:"email"`
	Name            string    `json:"name"`
	Role            string    `json:"role"`
	PasswordHash    string    `json:"-"`
	IsSystemAccount bool      `json:"is_system_account"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
