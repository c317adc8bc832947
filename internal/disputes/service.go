package disputes

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/skillincome/backend/internal/models"
	"github.com/skillincome/backend/internal/tasks"
)

var (
	// ErrNoOpenDispute is returned when resolving a task without a pending dispute.
	ErrNoOpenDispute = errors.New("no open dispute for task")
	// ErrAlreadyResolved is returned when a verdict was already recorded.
	ErrAlreadyResolved = errors.New("dispute already resolved")
	// ErrDisputeExists enforces at most one dispute per task.
	ErrDisputeExists = errors.New("task already has a dispute")
	// ErrNotParticipant is returned when the filer is neither requester nor worker.
	ErrNotParticipant = errors.New("caller is not a task participant")
	// ErrInvalidRatio is returned for compromise ratios outside [0,1], before any mutation.
	ErrInvalidRatio = errors.New("compromise ratio must be within [0,1]")
)

// DisputeRepo is the dispute persistence interface for the resolver.
type DisputeRepo interface {
	CreateTx(ctx context.Context, tx pgx.Tx, d *models.Dispute) error
	GetByTaskID(ctx context.Context, taskID uuid.UUID) (*models.Dispute, error)
	GetByTaskIDForUpdate(ctx context.Context, tx pgx.Tx, taskID uuid.UUID) (*models.Dispute, error)
	UpdateTx(ctx context.Context, tx pgx.Tx, d *models.Dispute) error
	ListOpen(ctx context.Context) ([]*models.Dispute, error)
}

// TaskRepo is the slice of task persistence the resolver needs to lock and
// read the disputed task. All state changes go through the state machine.
type TaskRepo interface {
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Task, error)
}

// StateMachine is the task state machine surface the resolver delegates to.
type StateMachine interface {
	MarkDisputedTx(ctx context.Context, tx pgx.Tx, t *models.Task) error
	ResolveTx(ctx context.Context, tx pgx.Tx, t *models.Task, resolution string, ratio decimal.Decimal) error
}

// TxBeginner abstracts transaction creation so tests don't need a pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// ScheduleEscalationTxFunc enqueues the durable escalation timer within the
// filing transaction. Provided by main as a closure over river's InsertTx.
type ScheduleEscalationTxFunc func(ctx context.Context, tx pgx.Tx, taskID uuid.UUID, at time.Time) error

// Service arbitrates contested tasks. Filing freezes the pending auto-release
// (the release timer no-ops once the task is disputed); resolution delegates
// the settlement to the task state machine inside the same transaction.
type Service struct {
	pool               TxBeginner
	repo               DisputeRepo
	taskRepo           TaskRepo
	machine            StateMachine
	scheduleEscalation ScheduleEscalationTxFunc
}

func NewService(pool TxBeginner, repo DisputeRepo, taskRepo TaskRepo, machine StateMachine, scheduleEscalation ScheduleEscalationTxFunc) *Service {
	return &Service{pool: pool, repo: repo, taskRepo: taskRepo, machine: machine, scheduleEscalation: scheduleEscalation}
}

// File opens a dispute on a submitted or under-review task. The filer must
// be the requester or the assigned worker, and a task carries at most one
// dispute over its lifetime.
func (s *Service) File(ctx context.Context, taskID, filerID uuid.UUID, reason string) (*models.Dispute, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	t, err := s.taskRepo.GetByIDForUpdate(ctx, tx, taskID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, tasks.ErrTaskNotFound
		}
		return nil, err
	}
	if t.Status != models.TaskStatusSubmitted && t.Status != models.TaskStatusUnderReview {
		return nil, tasks.ErrIllegalTransition
	}
	if filerID != t.RequesterID && (t.WorkerID == nil || filerID != *t.WorkerID) {
		return nil, ErrNotParticipant
	}
	if _, err := s.repo.GetByTaskIDForUpdate(ctx, tx, taskID); err == nil {
		return nil, ErrDisputeExists
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	d := &models.Dispute{
		ID:         uuid.New(),
		TaskID:     taskID,
		FiledBy:    filerID,
		Reason:     reason,
		Resolution: models.DisputePending,
	}
	if err := s.repo.CreateTx(ctx, tx, d); err != nil {
		return nil, err
	}
	if err := s.machine.MarkDisputedTx(ctx, tx, t); err != nil {
		return nil, err
	}
	if t.DisputeDeadline != nil {
		if err := s.scheduleEscalation(ctx, tx, taskID, *t.DisputeDeadline); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

// Resolve records a binding verdict for the task's dispute and settles the
// escrow through the state machine. A dispute is resolved at most once;
// escalated disputes remain resolvable, by admins only.
func (s *Service) Resolve(ctx context.Context, taskID uuid.UUID, resolution string, ratio decimal.Decimal) (*models.Dispute, error) {
	if resolution == models.DisputeCompromise &&
		(ratio.Sign() < 0 || ratio.GreaterThan(decimal.NewFromInt(1))) {
		return nil, ErrInvalidRatio
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	t, err := s.taskRepo.GetByIDForUpdate(ctx, tx, taskID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, tasks.ErrTaskNotFound
		}
		return nil, err
	}
	d, err := s.repo.GetByTaskIDForUpdate(ctx, tx, taskID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoOpenDispute
		}
		return nil, err
	}
	if !d.Open() {
		return nil, ErrAlreadyResolved
	}

	if err := s.machine.ResolveTx(ctx, tx, t, resolution, ratio); err != nil {
		return nil, err
	}

	now := time.Now()
	d.Resolution = resolution
	d.ResolvedAt = &now
	if resolution == models.DisputeCompromise {
		d.Ratio = &ratio
	}
	if err := s.repo.UpdateTx(ctx, tx, d); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

// Escalate moves a dispute still pending past its deadline out of automatic
// handling. Idempotent: a dispute that was resolved or already escalated is
// left alone.
func (s *Service) Escalate(ctx context.Context, taskID uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := s.taskRepo.GetByIDForUpdate(ctx, tx, taskID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return tasks.ErrTaskNotFound
		}
		return err
	}
	d, err := s.repo.GetByTaskIDForUpdate(ctx, tx, taskID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return err
	}
	if d.Resolution != models.DisputePending {
		return nil
	}

	d.Resolution = models.DisputeEscalated
	if err := s.repo.UpdateTx(ctx, tx, d); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Service) GetByTask(ctx context.Context, taskID uuid.UUID) (*models.Dispute, error) {
	d, err := s.repo.GetByTaskID(ctx, taskID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoOpenDispute
		}
		return nil, err
	}
	return d, nil
}

func (s *Service) ListOpen(ctx context.Context) ([]*models.Dispute, error) {
	return s.repo.ListOpen(ctx)
}
