package scheduler

import (
	"github.com/google/uuid"
	"github.com/riverqueue/river"
)

// AutoReleaseArgs fires the deferred escrow release for a submitted task.
type AutoReleaseArgs struct {
	TaskID uuid.UUID `json:"task_id"`
}

func (AutoReleaseArgs) Kind() string { return "auto_release" }

func (AutoReleaseArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{UniqueOpts: river.UniqueOpts{ByArgs: true}}
}

// DisputeEscalationArgs escalates a dispute left pending past its deadline.
type DisputeEscalationArgs struct {
	TaskID uuid.UUID `json:"task_id"`
}

func (DisputeEscalationArgs) Kind() string { return "dispute_escalation" }

func (DisputeEscalationArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{UniqueOpts: river.UniqueOpts{ByArgs: true}}
}

// WithdrawalArgs executes one external transfer for a recorded withdrawal.
type WithdrawalArgs struct {
	WithdrawalID uuid.UUID `json:"withdrawal_id"`
}

func (WithdrawalArgs) Kind() string { return "withdrawal_transfer" }

// SettlementSweepArgs rescans persisted deadlines, the recovery net for
// timers lost before their job row landed.
type SettlementSweepArgs struct{}

func (SettlementSweepArgs) Kind() string { return "settlement_sweep" }

// LedgerAuditArgs runs the platform-wide fund conservation check.
type LedgerAuditArgs struct{}

func (LedgerAuditArgs) Kind() string { return "ledger_audit" }
