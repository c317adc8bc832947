package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/skillincome/backend/internal/config"
	"github.com/skillincome/backend/internal/models"
)

var (
	// ErrTaskNotFound is returned when the task id resolves to nothing.
	ErrTaskNotFound = errors.New("task not found")
	// ErrIllegalTransition is returned for any event the current state does
	// not list. The task and both wallets are left untouched.
	ErrIllegalTransition = errors.New("illegal task state transition")
	// ErrAlreadyClaimed is returned when accepting a task that has a worker.
	ErrAlreadyClaimed = errors.New("task already claimed")
	// ErrValueBelowMinimum rejects postings under the configured minimum.
	ErrValueBelowMinimum = errors.New("task value below platform minimum")
	// ErrNotRequester / ErrNotWorker guard transitions tied to one party.
	ErrNotRequester = errors.New("caller is not the task requester")
	ErrNotWorker    = errors.New("caller is not the assigned worker")
	// ErrInvalidResolution is returned for an unknown dispute verdict.
	ErrInvalidResolution = errors.New("invalid dispute resolution")
	// ErrAccountNotFound rejects a party id that resolves to no account.
	ErrAccountNotFound = errors.New("account not found")
)

// TaskRepo is the task persistence interface for the state machine.
type TaskRepo interface {
	CreateTx(ctx context.Context, tx pgx.Tx, t *models.Task) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Task, error)
	UpdateTx(ctx context.Context, tx pgx.Tx, t *models.Task) error
	ListByAccountID(ctx context.Context, accountID uuid.UUID) ([]*models.Task, error)
	ListOpen(ctx context.Context) ([]*models.Task, error)
}

// Ledger is the subset of ledger operations the state machine drives.
// Delegating here is the only way task money ever moves.
type Ledger interface {
	LockEscrow(ctx context.Context, tx pgx.Tx, taskID, accountID uuid.UUID, amount decimal.Decimal) (*models.Transaction, error)
	Release(ctx context.Context, tx pgx.Tx, taskID, fromID, toID uuid.UUID, amount decimal.Decimal) (*models.Transaction, error)
	Refund(ctx context.Context, tx pgx.Tx, taskID, accountID uuid.UUID, amount decimal.Decimal) (*models.Transaction, error)
	Split(ctx context.Context, tx pgx.Tx, taskID, fromID, toID uuid.UUID, total, ratio decimal.Decimal) error
}

// AccountSource answers whether an id refers to a real account. Task rows
// reference both parties by id, so postings and claims verify their party
// before any money moves.
type AccountSource interface {
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
}

// TxBeginner abstracts transaction creation so tests don't need a pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// ScheduleReleaseTxFunc enqueues the durable auto-release timer within the
// submitting transaction. Provided by main as a closure over river's InsertTx.
type ScheduleReleaseTxFunc func(ctx context.Context, tx pgx.Tx, taskID uuid.UUID, at time.Time) error

// Service enforces the task lifecycle:
//
//	posted → accepted → in_progress → submitted → {under_review|completed|disputed}
//
// Every money-moving transition locks the task row and spans the ledger
// mutation and the state update in one transaction, so concurrent events on
// the same task are strictly ordered and the loser fails ErrIllegalTransition.
type Service struct {
	pool            TxBeginner
	repo            TaskRepo
	accounts        AccountSource
	ledger          Ledger
	cfg             config.Config
	scheduleRelease ScheduleReleaseTxFunc
}

func NewService(pool TxBeginner, repo TaskRepo, accounts AccountSource, ledger Ledger, cfg config.Config, scheduleRelease ScheduleReleaseTxFunc) *Service {
	return &Service{pool: pool, repo: repo, accounts: accounts, ledger: ledger, cfg: cfg, scheduleRelease: scheduleRelease}
}

// Post creates a task and locks the requester's funds into escrow.
func (s *Service) Post(ctx context.Context, requesterID uuid.UUID, title, description string, value decimal.Decimal) (*models.Task, error) {
	if value.LessThan(s.cfg.MinTaskValue) {
		return nil, ErrValueBelowMinimum
	}
	if err := s.checkAccount(ctx, requesterID); err != nil {
		return nil, err
	}

	task := &models.Task{
		ID:          uuid.New(),
		RequesterID: requesterID,
		Title:       title,
		Description: description,
		Value:       value,
		Status:      models.TaskStatusPosted,
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if err := s.repo.CreateTx(ctx, tx, task); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	if _, err := s.ledger.LockEscrow(ctx, tx, task.ID, requesterID, value); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return task, nil
}

// Accept claims a posted task for the worker.
func (s *Service) Accept(ctx context.Context, taskID, workerID uuid.UUID) (*models.Task, error) {
	return s.transition(ctx, taskID, func(ctx context.Context, tx pgx.Tx, t *models.Task) error {
		if t.Status != models.TaskStatusPosted {
			// The losing side of an accept race sees the claimed task;
			// a settled or cancelled one is plainly out of transitions.
			if t.WorkerID != nil && !t.Terminal() {
				return ErrAlreadyClaimed
			}
			return ErrIllegalTransition
		}
		if err := s.checkAccount(ctx, workerID); err != nil {
			return err
		}
		t.WorkerID = &workerID
		t.Status = models.TaskStatusAccepted
		return nil
	})
}

// Begin moves an accepted task into in_progress.
func (s *Service) Begin(ctx context.Context, taskID, workerID uuid.UUID) (*models.Task, error) {
	return s.transition(ctx, taskID, func(ctx context.Context, tx pgx.Tx, t *models.Task) error {
		if t.Status != models.TaskStatusAccepted {
			return ErrIllegalTransition
		}
		if t.WorkerID == nil || *t.WorkerID != workerID {
			return ErrNotWorker
		}
		t.Status = models.TaskStatusInProgress
		return nil
	})
}

// Submit records the worker's deliverable, computes both deadlines, and arms
// the durable auto-release timer.
func (s *Service) Submit(ctx context.Context, taskID, workerID uuid.UUID) (*models.Task, error) {
	return s.transition(ctx, taskID, func(ctx context.Context, tx pgx.Tx, t *models.Task) error {
		if t.Status != models.TaskStatusInProgress {
			return ErrIllegalTransition
		}
		if t.WorkerID == nil || *t.WorkerID != workerID {
			return ErrNotWorker
		}
		now := time.Now()
		release := now.Add(s.cfg.EscrowReleaseDelay)
		dispute := now.Add(s.cfg.DisputeResolutionWindow)
		t.Status = models.TaskStatusSubmitted
		t.SubmittedAt = &now
		t.AutoReleaseDeadline = &release
		t.DisputeDeadline = &dispute
		return s.scheduleRelease(ctx, tx, t.ID, release)
	})
}

// Review marks a submitted task as under requester review. No ledger effect;
// the auto-release deadline keeps running.
func (s *Service) Review(ctx context.Context, taskID, requesterID uuid.UUID) (*models.Task, error) {
	return s.transition(ctx, taskID, func(ctx context.Context, tx pgx.Tx, t *models.Task) error {
		if t.Status != models.TaskStatusSubmitted {
			return ErrIllegalTransition
		}
		if t.RequesterID != requesterID {
			return ErrNotRequester
		}
		t.Status = models.TaskStatusUnderReview
		return nil
	})
}

// Approve releases escrow to the worker and completes the task.
func (s *Service) Approve(ctx context.Context, taskID, requesterID uuid.UUID) (*models.Task, error) {
	return s.transition(ctx, taskID, func(ctx context.Context, tx pgx.Tx, t *models.Task) error {
		if t.Status != models.TaskStatusSubmitted && t.Status != models.TaskStatusUnderReview {
			return ErrIllegalTransition
		}
		if t.RequesterID != requesterID {
			return ErrNotRequester
		}
		return s.settleRelease(ctx, tx, t)
	})
}

// AutoApprove is the scheduler's path. It is indistinguishable from an
// explicit approval to the ledger, and a harmless no-op for tasks that were
// settled or disputed before the timer fired.
func (s *Service) AutoApprove(ctx context.Context, taskID uuid.UUID) error {
	_, err := s.transition(ctx, taskID, func(ctx context.Context, tx pgx.Tx, t *models.Task) error {
		if t.Status != models.TaskStatusSubmitted && t.Status != models.TaskStatusUnderReview {
			return nil
		}
		return s.settleRelease(ctx, tx, t)
	})
	return err
}

// Cancel refunds and cancels a task nobody has claimed yet.
func (s *Service) Cancel(ctx context.Context, taskID, requesterID uuid.UUID) (*models.Task, error) {
	return s.transition(ctx, taskID, func(ctx context.Context, tx pgx.Tx, t *models.Task) error {
		if t.Status != models.TaskStatusPosted {
			return ErrIllegalTransition
		}
		if t.RequesterID != requesterID {
			return ErrNotRequester
		}
		if _, err := s.ledger.Refund(ctx, tx, t.ID, t.RequesterID, t.Value); err != nil {
			return err
		}
		t.Status = models.TaskStatusCancelled
		return nil
	})
}

// MarkDisputedTx flips a submitted or under-review task to disputed inside
// the dispute service's transaction. The caller holds the task row lock.
func (s *Service) MarkDisputedTx(ctx context.Context, tx pgx.Tx, t *models.Task) error {
	if t.Status != models.TaskStatusSubmitted && t.Status != models.TaskStatusUnderReview {
		return ErrIllegalTransition
	}
	t.Status = models.TaskStatusDisputed
	return s.repo.UpdateTx(ctx, tx, t)
}

// ResolveTx applies a dispute verdict to a disputed task inside the caller's
// transaction: release on worker favor, refund on requester favor, split on
// compromise. Exactly one settlement is ever recorded per task.
func (s *Service) ResolveTx(ctx context.Context, tx pgx.Tx, t *models.Task, resolution string, ratio decimal.Decimal) error {
	if t.Status != models.TaskStatusDisputed {
		return ErrIllegalTransition
	}

	switch resolution {
	case models.DisputeWorkerFavor:
		if err := s.settleRelease(ctx, tx, t); err != nil {
			return err
		}
	case models.DisputeRequesterFavor:
		if _, err := s.ledger.Refund(ctx, tx, t.ID, t.RequesterID, t.Value); err != nil {
			return err
		}
		t.Status = models.TaskStatusCancelled
	case models.DisputeCompromise:
		if t.WorkerID == nil {
			return ErrIllegalTransition
		}
		if err := s.ledger.Split(ctx, tx, t.ID, t.RequesterID, *t.WorkerID, t.Value, ratio); err != nil {
			return err
		}
		s.complete(t)
	default:
		return ErrInvalidResolution
	}
	return s.repo.UpdateTx(ctx, tx, t)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	t, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return t, nil
}

func (s *Service) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]*models.Task, error) {
	return s.repo.ListByAccountID(ctx, accountID)
}

func (s *Service) ListOpen(ctx context.Context) ([]*models.Task, error) {
	return s.repo.ListOpen(ctx)
}

// settleRelease releases escrow to the worker and marks the task completed.
func (s *Service) checkAccount(ctx context.Context, id uuid.UUID) error {
	ok, err := s.accounts.Exists(ctx, id)
	if err != nil {
		return fmt.Errorf("check account %s: %w", id, err)
	}
	if !ok {
		return ErrAccountNotFound
	}
	return nil
}

func (s *Service) settleRelease(ctx context.Context, tx pgx.Tx, t *models.Task) error {
	if t.WorkerID == nil {
		return ErrIllegalTransition
	}
	if _, err := s.ledger.Release(ctx, tx, t.ID, t.RequesterID, *t.WorkerID, t.Value); err != nil {
		return err
	}
	s.complete(t)
	return nil
}

func (s *Service) complete(t *models.Task) {
	now := time.Now()
	t.Status = models.TaskStatusCompleted
	t.CompletedAt = &now
}

// transition runs fn against the locked task row and commits state + ledger
// as one unit. fn mutates t in place; an unchanged status means no-op.
func (s *Service) transition(ctx context.Context, taskID uuid.UUID, fn func(ctx context.Context, tx pgx.Tx, t *models.Task) error) (*models.Task, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	t, err := s.repo.GetByIDForUpdate(ctx, tx, taskID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}

	before := t.Status
	if err := fn(ctx, tx, t); err != nil {
		return nil, err
	}

	if t.Status != before {
		if err := s.repo.UpdateTx(ctx, tx, t); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return t, nil
}
