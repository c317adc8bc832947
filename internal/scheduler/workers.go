package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
	"github.com/shopspring/decimal"
)

// TaskSettler is the state-machine surface the timers drive.
type TaskSettler interface {
	AutoApprove(ctx context.Context, taskID uuid.UUID) error
}

// DisputeEscalator moves overdue pending disputes to manual handling.
type DisputeEscalator interface {
	Escalate(ctx context.Context, taskID uuid.UUID) error
}

// AutoReleaseWorker fires when a task's auto-release deadline elapses. The
// approve path it triggers is the same one the requester would have taken;
// a task that was approved or disputed in the meantime makes this a no-op,
// so redelivery after a crash is harmless.
type AutoReleaseWorker struct {
	river.WorkerDefaults[AutoReleaseArgs]
	tasks  TaskSettler
	logger *slog.Logger
}

func NewAutoReleaseWorker(tasks TaskSettler, logger *slog.Logger) *AutoReleaseWorker {
	return &AutoReleaseWorker{tasks: tasks, logger: logger}
}

func (w *AutoReleaseWorker) Work(ctx context.Context, job *river.Job[AutoReleaseArgs]) error {
	if err := w.tasks.AutoApprove(ctx, job.Args.TaskID); err != nil {
		return fmt.Errorf("auto release task %s: %w", job.Args.TaskID, err)
	}
	w.logger.Info("auto release check done", "task_id", job.Args.TaskID)
	return nil
}

// DisputeEscalationWorker fires at the dispute deadline.
type DisputeEscalationWorker struct {
	river.WorkerDefaults[DisputeEscalationArgs]
	disputes DisputeEscalator
	logger   *slog.Logger
}

func NewDisputeEscalationWorker(disputes DisputeEscalator, logger *slog.Logger) *DisputeEscalationWorker {
	return &DisputeEscalationWorker{disputes: disputes, logger: logger}
}

func (w *DisputeEscalationWorker) Work(ctx context.Context, job *river.Job[DisputeEscalationArgs]) error {
	if err := w.disputes.Escalate(ctx, job.Args.TaskID); err != nil {
		return fmt.Errorf("escalate dispute for task %s: %w", job.Args.TaskID, err)
	}
	return nil
}

// SweepSource lists the persisted deadlines the sweep recomputes from.
type SweepSource interface {
	ListOverdueForAutoRelease(ctx context.Context, now time.Time) ([]uuid.UUID, error)
	ListOverdueDisputes(ctx context.Context, now time.Time) ([]uuid.UUID, error)
}

// SettlementSweepWorker periodically rescans tasks and disputes whose
// deadlines have passed. Timers live in the job queue, which is durable, but
// the sweep closes the window where a process died between committing a
// submit and its timer becoming visible.
type SettlementSweepWorker struct {
	river.WorkerDefaults[SettlementSweepArgs]
	source   SweepSource
	tasks    TaskSettler
	disputes DisputeEscalator
	logger   *slog.Logger
}

func NewSettlementSweepWorker(source SweepSource, tasks TaskSettler, disputes DisputeEscalator, logger *slog.Logger) *SettlementSweepWorker {
	return &SettlementSweepWorker{source: source, tasks: tasks, disputes: disputes, logger: logger}
}

func (w *SettlementSweepWorker) Work(ctx context.Context, _ *river.Job[SettlementSweepArgs]) error {
	now := time.Now()

	overdue, err := w.source.ListOverdueForAutoRelease(ctx, now)
	if err != nil {
		return fmt.Errorf("list overdue releases: %w", err)
	}
	for _, taskID := range overdue {
		if err := w.tasks.AutoApprove(ctx, taskID); err != nil {
			w.logger.Error("sweep auto release failed", "task_id", taskID, "error", err)
		}
	}

	stale, err := w.source.ListOverdueDisputes(ctx, now)
	if err != nil {
		return fmt.Errorf("list overdue disputes: %w", err)
	}
	for _, taskID := range stale {
		if err := w.disputes.Escalate(ctx, taskID); err != nil {
			w.logger.Error("sweep escalation failed", "task_id", taskID, "error", err)
		}
	}

	if len(overdue)+len(stale) > 0 {
		w.logger.Info("settlement sweep recovered timers", "releases", len(overdue), "escalations", len(stale))
	}
	return nil
}

// BalanceSource and FlowSource feed the conservation check.
type BalanceSource interface {
	SumBalances(ctx context.Context) (decimal.Decimal, error)
}

type FlowSource interface {
	NetExternalFlow(ctx context.Context) (decimal.Decimal, error)
}

// LedgerAuditWorker verifies that the sum of all wallets' available+escrowed
// equals external deposits minus withdrawals. A mismatch means a settlement
// committed partially, which the idempotence design should make unreachable;
// it is surfaced loudly for manual reconciliation.
type LedgerAuditWorker struct {
	river.WorkerDefaults[LedgerAuditArgs]
	wallets      BalanceSource
	transactions FlowSource
	logger       *slog.Logger
}

func NewLedgerAuditWorker(wallets BalanceSource, transactions FlowSource, logger *slog.Logger) *LedgerAuditWorker {
	return &LedgerAuditWorker{wallets: wallets, transactions: transactions, logger: logger}
}

func (w *LedgerAuditWorker) Work(ctx context.Context, _ *river.Job[LedgerAuditArgs]) error {
	held, err := w.wallets.SumBalances(ctx)
	if err != nil {
		return fmt.Errorf("sum wallet balances: %w", err)
	}
	net, err := w.transactions.NetExternalFlow(ctx)
	if err != nil {
		return fmt.Errorf("net external flow: %w", err)
	}
	if !held.Equal(net) {
		w.logger.Error("fund conservation violated", "wallet_total", held, "external_net", net)
		return fmt.Errorf("fund conservation violated: wallets hold %s, external net is %s", held, net)
	}
	return nil
}
