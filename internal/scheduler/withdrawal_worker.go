package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
	"github.com/shopspring/decimal"

	"github.com/skillincome/backend/internal/models"
)

// WithdrawalSource reads and finalizes withdrawal requests.
type WithdrawalSource interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Withdrawal, error)
	MarkCompleted(ctx context.Context, id uuid.UUID, txRef string) error
}

// FundsNetwork is the external transfer capability. Calls are idempotent by
// reference, so retrying a transfer that already landed does not move funds
// twice.
type FundsNetwork interface {
	Withdraw(ctx context.Context, address string, amount decimal.Decimal, reference string) (string, error)
}

// WithdrawalWorker performs the external leg of a withdrawal. The wallet was
// debited when the request was recorded; this worker only has to get the
// transfer onto the network, and river retries it until it does.
type WithdrawalWorker struct {
	river.WorkerDefaults[WithdrawalArgs]
	withdrawals WithdrawalSource
	network     FundsNetwork
	logger      *slog.Logger
}

func NewWithdrawalWorker(withdrawals WithdrawalSource, network FundsNetwork, logger *slog.Logger) *WithdrawalWorker {
	return &WithdrawalWorker{withdrawals: withdrawals, network: network, logger: logger}
}

func (w *WithdrawalWorker) Work(ctx context.Context, job *river.Job[WithdrawalArgs]) error {
	req, err := w.withdrawals.GetByID(ctx, job.Args.WithdrawalID)
	if err != nil {
		return fmt.Errorf("load withdrawal %s: %w", job.Args.WithdrawalID, err)
	}
	if req.Status == models.WithdrawalCompleted {
		return nil
	}

	txRef, err := w.network.Withdraw(ctx, req.PiAddress, req.Amount, req.ID.String())
	if err != nil {
		return fmt.Errorf("network withdrawal %s: %w", req.ID, err)
	}
	if err := w.withdrawals.MarkCompleted(ctx, req.ID, txRef); err != nil {
		return fmt.Errorf("mark withdrawal %s completed: %w", req.ID, err)
	}
	w.logger.Info("withdrawal transferred", "withdrawal_id", req.ID, "tx_ref", txRef)
	return nil
}
