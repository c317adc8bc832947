package disputes

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/skillincome/backend/internal/models"
	"github.com/skillincome/backend/internal/tasks"
)

// ---------------------------------------------------------------------------
// In-memory mocks
// ---------------------------------------------------------------------------

type noopTx struct {
	pgx.Tx
}

func (noopTx) Commit(context.Context) error   { return nil }
func (noopTx) Rollback(context.Context) error { return nil }

type mockPool struct{}

func (mockPool) Begin(context.Context) (pgx.Tx, error) { return noopTx{}, nil }

type mockDisputeRepo struct {
	mu       sync.Mutex
	disputes map[uuid.UUID]*models.Dispute // keyed by task ID
}

func newMockDisputeRepo(ds ...*models.Dispute) *mockDisputeRepo {
	m := &mockDisputeRepo{disputes: make(map[uuid.UUID]*models.Dispute)}
	for _, d := range ds {
		cp := *d
		m.disputes[d.TaskID] = &cp
	}
	return m
}

func (m *mockDisputeRepo) CreateTx(_ context.Context, _ pgx.Tx, d *models.Dispute) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *d
	m.disputes[d.TaskID] = &cp
	return nil
}

func (m *mockDisputeRepo) GetByTaskID(_ context.Context, taskID uuid.UUID) (*models.Dispute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.disputes[taskID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *d
	return &cp, nil
}

func (m *mockDisputeRepo) GetByTaskIDForUpdate(ctx context.Context, _ pgx.Tx, taskID uuid.UUID) (*models.Dispute, error) {
	return m.GetByTaskID(ctx, taskID)
}

func (m *mockDisputeRepo) UpdateTx(_ context.Context, _ pgx.Tx, d *models.Dispute) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.disputes[d.TaskID]; !ok {
		return pgx.ErrNoRows
	}
	cp := *d
	m.disputes[d.TaskID] = &cp
	return nil
}

func (m *mockDisputeRepo) ListOpen(_ context.Context) ([]*models.Dispute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Dispute
	for _, d := range m.disputes {
		if d.Open() {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockDisputeRepo) stored(taskID uuid.UUID) *models.Dispute {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disputes[taskID]
}

type mockTaskRepo struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*models.Task
}

func newMockTaskRepo(ts ...*models.Task) *mockTaskRepo {
	m := &mockTaskRepo{tasks: make(map[uuid.UUID]*models.Task)}
	for _, t := range ts {
		cp := *t
		m.tasks[t.ID] = &cp
	}
	return m
}

func (m *mockTaskRepo) GetByIDForUpdate(_ context.Context, _ pgx.Tx, id uuid.UUID) (*models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *t
	return &cp, nil
}

// mockMachine mimics the state machine's guard behavior and records the
// verdicts it was asked to apply.
type mockMachine struct {
	mu        sync.Mutex
	marked    []uuid.UUID
	resolved  []string
	ratios    []decimal.Decimal
	markerErr error
}

func (m *mockMachine) MarkDisputedTx(_ context.Context, _ pgx.Tx, t *models.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markerErr != nil {
		return m.markerErr
	}
	t.Status = models.TaskStatusDisputed
	m.marked = append(m.marked, t.ID)
	return nil
}

func (m *mockMachine) ResolveTx(_ context.Context, _ pgx.Tx, t *models.Task, resolution string, ratio decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.Status != models.TaskStatusDisputed {
		return tasks.ErrIllegalTransition
	}
	m.resolved = append(m.resolved, resolution)
	m.ratios = append(m.ratios, ratio)
	return nil
}

type escalations struct {
	mu    sync.Mutex
	calls []time.Time
}

func (e *escalations) fn(_ context.Context, _ pgx.Tx, _ uuid.UUID, at time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, at)
	return nil
}

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

func val(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func submittedTask(requester, worker uuid.UUID) *models.Task {
	deadline := time.Now().Add(72 * time.Hour)
	return &models.Task{
		ID:              uuid.New(),
		RequesterID:     requester,
		WorkerID:        &worker,
		Title:           "retouch product photos",
		Value:           val("5"),
		Status:          models.TaskStatusSubmitted,
		DisputeDeadline: &deadline,
	}
}

func pendingDispute(taskID, filedBy uuid.UUID) *models.Dispute {
	return &models.Dispute{
		ID:         uuid.New(),
		TaskID:     taskID,
		FiledBy:    filedBy,
		Reason:     "deliverable does not match the brief",
		Resolution: models.DisputePending,
		FiledAt:    time.Now(),
	}
}

func newTestService(taskR *mockTaskRepo, dispR *mockDisputeRepo, machine *mockMachine) (*Service, *escalations) {
	esc := &escalations{}
	return NewService(mockPool{}, dispR, taskR, machine, esc.fn), esc
}

// ---------------------------------------------------------------------------
// Filing
// ---------------------------------------------------------------------------

func TestFile(t *testing.T) {
	requester := uuid.New()
	worker := uuid.New()
	task := submittedTask(requester, worker)
	taskR := newMockTaskRepo(task)
	dispR := newMockDisputeRepo()
	machine := &mockMachine{}
	svc, esc := newTestService(taskR, dispR, machine)

	d, err := svc.File(context.Background(), task.ID, requester, "work is incomplete")
	if err != nil {
		t.Fatalf("File: %v", err)
	}
	if d.Resolution != models.DisputePending {
		t.Errorf("resolution: got %s, want pending", d.Resolution)
	}
	if len(machine.marked) != 1 || machine.marked[0] != task.ID {
		t.Errorf("task was not marked disputed: %v", machine.marked)
	}
	if len(esc.calls) != 1 || !esc.calls[0].Equal(*task.DisputeDeadline) {
		t.Errorf("escalation timer: got %v, want one call at %v", esc.calls, task.DisputeDeadline)
	}
	if dispR.stored(task.ID) == nil {
		t.Error("dispute was not persisted")
	}
}

func TestFile_WorkerMayFile(t *testing.T) {
	requester := uuid.New()
	worker := uuid.New()
	task := submittedTask(requester, worker)
	svc, _ := newTestService(newMockTaskRepo(task), newMockDisputeRepo(), &mockMachine{})

	if _, err := svc.File(context.Background(), task.ID, worker, "requester is unresponsive"); err != nil {
		t.Fatalf("worker filing should be allowed: %v", err)
	}
}

func TestFile_NonParticipant(t *testing.T) {
	task := submittedTask(uuid.New(), uuid.New())
	dispR := newMockDisputeRepo()
	svc, _ := newTestService(newMockTaskRepo(task), dispR, &mockMachine{})

	_, err := svc.File(context.Background(), task.ID, uuid.New(), "drive-by complaint")
	if !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant, got: %v", err)
	}
	if dispR.stored(task.ID) != nil {
		t.Error("no dispute should be persisted")
	}
}

func TestFile_WrongState(t *testing.T) {
	requester := uuid.New()
	worker := uuid.New()
	for _, status := range []string{
		models.TaskStatusPosted,
		models.TaskStatusInProgress,
		models.TaskStatusCompleted,
		models.TaskStatusDisputed,
	} {
		t.Run(status, func(t *testing.T) {
			task := submittedTask(requester, worker)
			task.Status = status
			svc, _ := newTestService(newMockTaskRepo(task), newMockDisputeRepo(), &mockMachine{})

			if _, err := svc.File(context.Background(), task.ID, requester, "x"); !errors.Is(err, tasks.ErrIllegalTransition) {
				t.Fatalf("expected ErrIllegalTransition, got: %v", err)
			}
		})
	}
}

func TestFile_OnePerTask(t *testing.T) {
	requester := uuid.New()
	worker := uuid.New()
	task := submittedTask(requester, worker)
	existing := pendingDispute(task.ID, worker)
	svc, _ := newTestService(newMockTaskRepo(task), newMockDisputeRepo(existing), &mockMachine{})

	_, err := svc.File(context.Background(), task.ID, requester, "second thoughts")
	if !errors.Is(err, ErrDisputeExists) {
		t.Fatalf("expected ErrDisputeExists, got: %v", err)
	}
}

func TestFile_UnknownTask(t *testing.T) {
	svc, _ := newTestService(newMockTaskRepo(), newMockDisputeRepo(), &mockMachine{})
	if _, err := svc.File(context.Background(), uuid.New(), uuid.New(), "x"); !errors.Is(err, tasks.ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Resolution
// ---------------------------------------------------------------------------

func TestResolve(t *testing.T) {
	requester := uuid.New()
	worker := uuid.New()
	task := submittedTask(requester, worker)
	task.Status = models.TaskStatusDisputed
	dispR := newMockDisputeRepo(pendingDispute(task.ID, requester))
	machine := &mockMachine{}
	svc, _ := newTestService(newMockTaskRepo(task), dispR, machine)

	d, err := svc.Resolve(context.Background(), task.ID, models.DisputeWorkerFavor, decimal.Zero)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if d.Resolution != models.DisputeWorkerFavor {
		t.Errorf("resolution: got %s, want worker favor", d.Resolution)
	}
	if d.ResolvedAt == nil {
		t.Error("resolved_at not set")
	}
	if len(machine.resolved) != 1 || machine.resolved[0] != models.DisputeWorkerFavor {
		t.Errorf("verdicts applied: %v", machine.resolved)
	}
	if stored := dispR.stored(task.ID); stored.Open() {
		t.Error("persisted dispute still open")
	}
}

func TestResolve_CompromiseRecordsRatio(t *testing.T) {
	requester := uuid.New()
	worker := uuid.New()
	task := submittedTask(requester, worker)
	task.Status = models.TaskStatusDisputed
	dispR := newMockDisputeRepo(pendingDispute(task.ID, worker))
	svc, _ := newTestService(newMockTaskRepo(task), dispR, &mockMachine{})

	d, err := svc.Resolve(context.Background(), task.ID, models.DisputeCompromise, val("0.4"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if d.Ratio == nil || !d.Ratio.Equal(val("0.4")) {
		t.Errorf("ratio: got %v, want 0.4", d.Ratio)
	}
}

func TestResolve_InvalidRatioRejectedEarly(t *testing.T) {
	task := submittedTask(uuid.New(), uuid.New())
	task.Status = models.TaskStatusDisputed
	dispR := newMockDisputeRepo(pendingDispute(task.ID, task.RequesterID))
	machine := &mockMachine{}
	svc, _ := newTestService(newMockTaskRepo(task), dispR, machine)

	for _, ratio := range []string{"-0.1", "1.00000001"} {
		if _, err := svc.Resolve(context.Background(), task.ID, models.DisputeCompromise, val(ratio)); !errors.Is(err, ErrInvalidRatio) {
			t.Fatalf("ratio %s: expected ErrInvalidRatio, got: %v", ratio, err)
		}
	}
	if len(machine.resolved) != 0 {
		t.Error("invalid ratio must be rejected before any settlement")
	}
	if stored := dispR.stored(task.ID); !stored.Open() {
		t.Error("dispute must stay open after a rejected verdict")
	}
}

func TestResolve_AtMostOnce(t *testing.T) {
	task := submittedTask(uuid.New(), uuid.New())
	task.Status = models.TaskStatusDisputed
	d := pendingDispute(task.ID, task.RequesterID)
	dispR := newMockDisputeRepo(d)
	machine := &mockMachine{}
	svc, _ := newTestService(newMockTaskRepo(task), dispR, machine)

	if _, err := svc.Resolve(context.Background(), task.ID, models.DisputeRequesterFavor, decimal.Zero); err != nil {
		t.Fatalf("first Resolve: %v", err)
	}
	if _, err := svc.Resolve(context.Background(), task.ID, models.DisputeWorkerFavor, decimal.Zero); !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("expected ErrAlreadyResolved, got: %v", err)
	}
	if len(machine.resolved) != 1 {
		t.Errorf("verdicts applied: got %d, want 1", len(machine.resolved))
	}
}

func TestResolve_NoDispute(t *testing.T) {
	task := submittedTask(uuid.New(), uuid.New())
	svc, _ := newTestService(newMockTaskRepo(task), newMockDisputeRepo(), &mockMachine{})

	if _, err := svc.Resolve(context.Background(), task.ID, models.DisputeWorkerFavor, decimal.Zero); !errors.Is(err, ErrNoOpenDispute) {
		t.Fatalf("expected ErrNoOpenDispute, got: %v", err)
	}
}

func TestResolve_EscalatedStaysResolvable(t *testing.T) {
	task := submittedTask(uuid.New(), uuid.New())
	task.Status = models.TaskStatusDisputed
	d := pendingDispute(task.ID, task.RequesterID)
	d.Resolution = models.DisputeEscalated
	dispR := newMockDisputeRepo(d)
	svc, _ := newTestService(newMockTaskRepo(task), dispR, &mockMachine{})

	if _, err := svc.Resolve(context.Background(), task.ID, models.DisputeWorkerFavor, decimal.Zero); err != nil {
		t.Fatalf("escalated dispute should remain resolvable: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Escalation
// ---------------------------------------------------------------------------

func TestEscalate(t *testing.T) {
	task := submittedTask(uuid.New(), uuid.New())
	task.Status = models.TaskStatusDisputed
	dispR := newMockDisputeRepo(pendingDispute(task.ID, task.RequesterID))
	svc, _ := newTestService(newMockTaskRepo(task), dispR, &mockMachine{})

	if err := svc.Escalate(context.Background(), task.ID); err != nil {
		t.Fatalf("Escalate: %v", err)
	}
	if stored := dispR.stored(task.ID); stored.Resolution != models.DisputeEscalated {
		t.Errorf("resolution: got %s, want escalated", stored.Resolution)
	}

	// Redelivery of the timer job is a no-op.
	if err := svc.Escalate(context.Background(), task.ID); err != nil {
		t.Fatalf("second Escalate: %v", err)
	}
}

func TestEscalate_ResolvedDisputeUntouched(t *testing.T) {
	task := submittedTask(uuid.New(), uuid.New())
	d := pendingDispute(task.ID, task.RequesterID)
	d.Resolution = models.DisputeWorkerFavor
	now := time.Now()
	d.ResolvedAt = &now
	dispR := newMockDisputeRepo(d)
	svc, _ := newTestService(newMockTaskRepo(task), dispR, &mockMachine{})

	if err := svc.Escalate(context.Background(), task.ID); err != nil {
		t.Fatalf("Escalate: %v", err)
	}
	if stored := dispR.stored(task.ID); stored.Resolution != models.DisputeWorkerFavor {
		t.Errorf("resolved dispute was rewritten to %s", stored.Resolution)
	}
}

func TestEscalate_NoDisputeIsNoOp(t *testing.T) {
	task := submittedTask(uuid.New(), uuid.New())
	svc, _ := newTestService(newMockTaskRepo(task), newMockDisputeRepo(), &mockMachine{})

	if err := svc.Escalate(context.Background(), task.ID); err != nil {
		t.Fatalf("Escalate without a dispute should be a no-op: %v", err)
	}
}
