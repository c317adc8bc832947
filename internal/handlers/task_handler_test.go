package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/skillincome/backend/internal/disputes"
	"github.com/skillincome/backend/internal/ledger"
	"github.com/skillincome/backend/internal/middleware"
	"github.com/skillincome/backend/internal/models"
	"github.com/skillincome/backend/internal/tasks"
)

// ---------------------------------------------------------------------------
// Stubs
// ---------------------------------------------------------------------------

type stubTasks struct {
	task *models.Task
	list []*models.Task
	err  error
}

func (s *stubTasks) Post(context.Context, uuid.UUID, string, string, decimal.Decimal) (*models.Task, error) {
	return s.task, s.err
}
func (s *stubTasks) Accept(context.Context, uuid.UUID, uuid.UUID) (*models.Task, error) {
	return s.task, s.err
}
func (s *stubTasks) Begin(context.Context, uuid.UUID, uuid.UUID) (*models.Task, error) {
	return s.task, s.err
}
func (s *stubTasks) Submit(context.Context, uuid.UUID, uuid.UUID) (*models.Task, error) {
	return s.task, s.err
}
func (s *stubTasks) Review(context.Context, uuid.UUID, uuid.UUID) (*models.Task, error) {
	return s.task, s.err
}
func (s *stubTasks) Approve(context.Context, uuid.UUID, uuid.UUID) (*models.Task, error) {
	return s.task, s.err
}
func (s *stubTasks) Cancel(context.Context, uuid.UUID, uuid.UUID) (*models.Task, error) {
	return s.task, s.err
}
func (s *stubTasks) Get(context.Context, uuid.UUID) (*models.Task, error) {
	return s.task, s.err
}
func (s *stubTasks) ListByAccount(context.Context, uuid.UUID) ([]*models.Task, error) {
	return s.list, s.err
}
func (s *stubTasks) ListOpen(context.Context) ([]*models.Task, error) {
	return s.list, s.err
}

type stubDisputes struct {
	dispute *models.Dispute
	err     error

	gotResolution string
	gotRatio      decimal.Decimal
}

func (s *stubDisputes) File(context.Context, uuid.UUID, uuid.UUID, string) (*models.Dispute, error) {
	return s.dispute, s.err
}

func (s *stubDisputes) Resolve(_ context.Context, _ uuid.UUID, resolution string, ratio decimal.Decimal) (*models.Dispute, error) {
	s.gotResolution = resolution
	s.gotRatio = ratio
	return s.dispute, s.err
}

func (s *stubDisputes) GetByTask(context.Context, uuid.UUID) (*models.Dispute, error) {
	return s.dispute, s.err
}

type stubTxns struct {
	list []*models.Transaction
	err  error
}

func (s *stubTxns) ListByTaskID(context.Context, uuid.UUID) ([]*models.Transaction, error) {
	return s.list, s.err
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func newHandler(ts *stubTasks, ds *stubDisputes, txns *stubTxns) *TaskHandler {
	return &TaskHandler{
		Tasks:    ts,
		Disputes: ds,
		Txns:     txns,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func requester() *models.Account {
	return &models.Account{ID: uuid.New(), Role: models.RoleRequester}
}

func admin() *models.Account {
	return &models.Account{ID: uuid.New(), Role: models.RoleAdmin}
}

// request builds an authenticated request with the task id path value bound.
func request(method, target string, body string, acc *models.Account, taskID string) *http.Request {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	r := httptest.NewRequest(method, target, rd)
	if acc != nil {
		r = r.WithContext(middleware.WithAccount(r.Context(), acc))
	}
	if taskID != "" {
		r.SetPathValue("id", taskID)
	}
	return r
}

func sampleTask() *models.Task {
	return &models.Task{
		ID:     uuid.New(),
		Title:  "label training images",
		Value:  decimal.RequireFromString("5"),
		Status: models.TaskStatusPosted,
	}
}

// ---------------------------------------------------------------------------
// Creation
// ---------------------------------------------------------------------------

func TestCreateTask(t *testing.T) {
	ts := &stubTasks{task: sampleTask()}
	h := newHandler(ts, &stubDisputes{}, &stubTxns{})

	w := httptest.NewRecorder()
	h.CreateTask(w, request(http.MethodPost, "/v1/tasks", `{"title":"label training images","value":"5"}`, requester(), ""))

	if w.Code != http.StatusCreated {
		t.Fatalf("status: got %d, want 201; body: %s", w.Code, w.Body)
	}
	var got models.Task
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Title != "label training images" {
		t.Errorf("title: got %q", got.Title)
	}
}

func TestCreateTask_Validation(t *testing.T) {
	h := newHandler(&stubTasks{}, &stubDisputes{}, &stubTxns{})

	cases := []struct {
		name string
		body string
	}{
		{"missing title", `{"value":"5"}`},
		{"bad value", `{"title":"x","value":"five"}`},
		{"malformed json", `{`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.CreateTask(w, request(http.MethodPost, "/v1/tasks", tc.body, requester(), ""))
			if w.Code != http.StatusBadRequest {
				t.Errorf("status: got %d, want 400", w.Code)
			}
		})
	}
}

func TestCreateTask_Unauthenticated(t *testing.T) {
	h := newHandler(&stubTasks{}, &stubDisputes{}, &stubTxns{})
	w := httptest.NewRecorder()
	h.CreateTask(w, request(http.MethodPost, "/v1/tasks", `{"title":"x","value":"5"}`, nil, ""))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status: got %d, want 401", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Error mapping
// ---------------------------------------------------------------------------

func TestTransition_ErrorMapping(t *testing.T) {
	taskID := uuid.NewString()

	cases := []struct {
		err  error
		want int
	}{
		{tasks.ErrTaskNotFound, http.StatusNotFound},
		{tasks.ErrIllegalTransition, http.StatusConflict},
		{tasks.ErrAlreadyClaimed, http.StatusConflict},
		{tasks.ErrNotRequester, http.StatusForbidden},
		{tasks.ErrNotWorker, http.StatusForbidden},
		{tasks.ErrValueBelowMinimum, http.StatusUnprocessableEntity},
		{ledger.ErrInsufficientFunds, http.StatusPaymentRequired},
		{ledger.ErrInsufficientEscrow, http.StatusPaymentRequired},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			h := newHandler(&stubTasks{err: tc.err}, &stubDisputes{}, &stubTxns{})
			w := httptest.NewRecorder()
			h.Approve(w, request(http.MethodPost, "/v1/tasks/"+taskID+"/approve", "", requester(), taskID))
			if w.Code != tc.want {
				t.Errorf("status: got %d, want %d", w.Code, tc.want)
			}
		})
	}
}

func TestTransition_BadTaskID(t *testing.T) {
	h := newHandler(&stubTasks{task: sampleTask()}, &stubDisputes{}, &stubTxns{})
	w := httptest.NewRecorder()
	h.Accept(w, request(http.MethodPost, "/v1/tasks/not-a-uuid/accept", "", requester(), "not-a-uuid"))
	if w.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Disputes
// ---------------------------------------------------------------------------

func TestFileDispute(t *testing.T) {
	taskID := uuid.NewString()
	ds := &stubDisputes{dispute: &models.Dispute{ID: uuid.New(), Resolution: models.DisputePending}}
	h := newHandler(&stubTasks{}, ds, &stubTxns{})

	w := httptest.NewRecorder()
	h.FileDispute(w, request(http.MethodPost, "/v1/tasks/"+taskID+"/dispute", `{"reason":"incomplete work"}`, requester(), taskID))
	if w.Code != http.StatusCreated {
		t.Fatalf("status: got %d, want 201; body: %s", w.Code, w.Body)
	}
}

func TestFileDispute_ReasonRequired(t *testing.T) {
	taskID := uuid.NewString()
	h := newHandler(&stubTasks{}, &stubDisputes{}, &stubTxns{})

	w := httptest.NewRecorder()
	h.FileDispute(w, request(http.MethodPost, "/v1/tasks/"+taskID+"/dispute", `{}`, requester(), taskID))
	if w.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", w.Code)
	}
}

func TestFileDispute_Conflicts(t *testing.T) {
	taskID := uuid.NewString()
	for _, tc := range []struct {
		err  error
		want int
	}{
		{disputes.ErrDisputeExists, http.StatusConflict},
		{disputes.ErrNotParticipant, http.StatusForbidden},
		{tasks.ErrIllegalTransition, http.StatusConflict},
	} {
		h := newHandler(&stubTasks{}, &stubDisputes{err: tc.err}, &stubTxns{})
		w := httptest.NewRecorder()
		h.FileDispute(w, request(http.MethodPost, "/v1/tasks/"+taskID+"/dispute", `{"reason":"x"}`, requester(), taskID))
		if w.Code != tc.want {
			t.Errorf("%v: status got %d, want %d", tc.err, w.Code, tc.want)
		}
	}
}

func TestResolveDispute_AdminOnly(t *testing.T) {
	taskID := uuid.NewString()
	h := newHandler(&stubTasks{}, &stubDisputes{}, &stubTxns{})

	w := httptest.NewRecorder()
	h.ResolveDispute(w, request(http.MethodPost, "/v1/tasks/"+taskID+"/resolve", `{"resolution":"resolved_worker_favor"}`, requester(), taskID))
	if w.Code != http.StatusForbidden {
		t.Errorf("non-admin resolve: status got %d, want 403", w.Code)
	}
}

func TestResolveDispute(t *testing.T) {
	taskID := uuid.NewString()
	ds := &stubDisputes{dispute: &models.Dispute{ID: uuid.New(), Resolution: models.DisputeCompromise}}
	h := newHandler(&stubTasks{}, ds, &stubTxns{})

	w := httptest.NewRecorder()
	h.ResolveDispute(w, request(http.MethodPost, "/v1/tasks/"+taskID+"/resolve", `{"resolution":"resolved_compromise","ratio":"0.6"}`, admin(), taskID))
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200; body: %s", w.Code, w.Body)
	}
	if ds.gotResolution != models.DisputeCompromise {
		t.Errorf("resolution passed through: %q", ds.gotResolution)
	}
	if !ds.gotRatio.Equal(decimal.RequireFromString("0.6")) {
		t.Errorf("ratio passed through: %s", ds.gotRatio)
	}
}

func TestResolveDispute_InvalidRatio(t *testing.T) {
	taskID := uuid.NewString()
	h := newHandler(&stubTasks{}, &stubDisputes{err: disputes.ErrInvalidRatio}, &stubTxns{})

	w := httptest.NewRecorder()
	h.ResolveDispute(w, request(http.MethodPost, "/v1/tasks/"+taskID+"/resolve", `{"resolution":"resolved_compromise","ratio":"1.5"}`, admin(), taskID))
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status: got %d, want 422", w.Code)
	}
}

func TestGetDispute_NotFound(t *testing.T) {
	taskID := uuid.NewString()
	h := newHandler(&stubTasks{}, &stubDisputes{err: disputes.ErrNoOpenDispute}, &stubTxns{})

	w := httptest.NewRecorder()
	h.GetDispute(w, request(http.MethodGet, "/v1/tasks/"+taskID+"/dispute", "", requester(), taskID))
	if w.Code != http.StatusNotFound {
		t.Errorf("status: got %d, want 404", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

func TestListTasks_Scope(t *testing.T) {
	open := []*models.Task{sampleTask()}
	ts := &stubTasks{list: open}
	h := newHandler(ts, &stubDisputes{}, &stubTxns{})

	w := httptest.NewRecorder()
	h.ListTasks(w, request(http.MethodGet, "/v1/tasks?scope=open", "", requester(), ""))
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", w.Code)
	}
	var got []*models.Task
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("tasks: got %d, want 1", len(got))
	}
}

func TestListTaskTransactions(t *testing.T) {
	taskID := uuid.New()
	txns := &stubTxns{list: []*models.Transaction{
		{ID: uuid.New(), TaskID: &taskID, Kind: models.TxKindEscrowDeposit, Amount: decimal.RequireFromString("5")},
	}}
	h := newHandler(&stubTasks{}, &stubDisputes{}, txns)

	w := httptest.NewRecorder()
	h.ListTaskTransactions(w, request(http.MethodGet, "/v1/tasks/"+taskID.String()+"/transactions", "", requester(), taskID.String()))
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", w.Code)
	}
	var got []*models.Transaction
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(got) != 1 || got[0].Kind != models.TxKindEscrowDeposit {
		t.Errorf("transactions: %+v", got)
	}
}
