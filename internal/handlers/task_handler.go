// Package handlers serves the /v1 task and dispute API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/skillincome/backend/internal/disputes"
	"github.com/skillincome/backend/internal/ledger"
	"github.com/skillincome/backend/internal/middleware"
	"github.com/skillincome/backend/internal/models"
	"github.com/skillincome/backend/internal/tasks"
)

// TaskService is the task lifecycle surface the handler drives.
type TaskService interface {
	Post(ctx context.Context, requesterID uuid.UUID, title, description string, value decimal.Decimal) (*models.Task, error)
	Accept(ctx context.Context, taskID, workerID uuid.UUID) (*models.Task, error)
	Begin(ctx context.Context, taskID, workerID uuid.UUID) (*models.Task, error)
	Submit(ctx context.Context, taskID, workerID uuid.UUID) (*models.Task, error)
	Review(ctx context.Context, taskID, requesterID uuid.UUID) (*models.Task, error)
	Approve(ctx context.Context, taskID, requesterID uuid.UUID) (*models.Task, error)
	Cancel(ctx context.Context, taskID, requesterID uuid.UUID) (*models.Task, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Task, error)
	ListByAccount(ctx context.Context, accountID uuid.UUID) ([]*models.Task, error)
	ListOpen(ctx context.Context) ([]*models.Task, error)
}

// DisputeService files and resolves disputes.
type DisputeService interface {
	File(ctx context.Context, taskID, filerID uuid.UUID, reason string) (*models.Dispute, error)
	Resolve(ctx context.Context, taskID uuid.UUID, resolution string, ratio decimal.Decimal) (*models.Dispute, error)
	GetByTask(ctx context.Context, taskID uuid.UUID) (*models.Dispute, error)
}

// TransactionLister returns a task's ledger history.
type TransactionLister interface {
	ListByTaskID(ctx context.Context, taskID uuid.UUID) ([]*models.Transaction, error)
}

// TaskHandler serves /v1/tasks endpoints.
type TaskHandler struct {
	Tasks    TaskService
	Disputes DisputeService
	Txns     TransactionLister
	Logger   *slog.Logger
}

// --- POST /v1/tasks ---

type createTaskRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Value       string `json:"value"`
}

// CreateTask handles POST /v1/tasks. The requester's funds move into escrow
// before the task is visible to workers.
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if req.Title == "" {
		http.Error(w, `{"error":"title is required"}`, http.StatusBadRequest)
		return
	}
	value, err := decimal.NewFromString(req.Value)
	if err != nil {
		http.Error(w, `{"error":"invalid value"}`, http.StatusBadRequest)
		return
	}

	task, err := h.Tasks.Post(r.Context(), acc.ID, req.Title, req.Description, value)
	if err != nil {
		h.writeError(w, "create task", err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

// --- lifecycle transitions ---

// Accept handles POST /v1/tasks/{id}/accept.
func (h *TaskHandler) Accept(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "accept", h.Tasks.Accept)
}

// Begin handles POST /v1/tasks/{id}/begin.
func (h *TaskHandler) Begin(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "begin", h.Tasks.Begin)
}

// Submit handles POST /v1/tasks/{id}/submit.
func (h *TaskHandler) Submit(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "submit", h.Tasks.Submit)
}

// Review handles POST /v1/tasks/{id}/review.
func (h *TaskHandler) Review(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "review", h.Tasks.Review)
}

// Approve handles POST /v1/tasks/{id}/approve. Settlement happens inside the
// same transaction as the state change.
func (h *TaskHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "approve", h.Tasks.Approve)
}

// Cancel handles POST /v1/tasks/{id}/cancel.
func (h *TaskHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "cancel", h.Tasks.Cancel)
}

func (h *TaskHandler) transition(w http.ResponseWriter, r *http.Request, op string, fn func(ctx context.Context, taskID, accountID uuid.UUID) (*models.Task, error)) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	taskID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, `{"error":"invalid task id"}`, http.StatusBadRequest)
		return
	}

	task, err := fn(r.Context(), taskID, acc.ID)
	if err != nil {
		h.writeError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// --- disputes ---

type disputeRequest struct {
	Reason string `json:"reason"`
}

// FileDispute handles POST /v1/tasks/{id}/dispute.
func (h *TaskHandler) FileDispute(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	taskID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, `{"error":"invalid task id"}`, http.StatusBadRequest)
		return
	}

	var req disputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if req.Reason == "" {
		http.Error(w, `{"error":"reason is required"}`, http.StatusBadRequest)
		return
	}

	d, err := h.Disputes.File(r.Context(), taskID, acc.ID, req.Reason)
	if err != nil {
		h.writeError(w, "file dispute", err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

type resolveRequest struct {
	Resolution string `json:"resolution"`
	Ratio      string `json:"ratio,omitempty"`
}

// ResolveDispute handles POST /v1/tasks/{id}/resolve. Admin only.
func (h *TaskHandler) ResolveDispute(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	if acc.Role != models.RoleAdmin {
		http.Error(w, `{"error":"admin role required"}`, http.StatusForbidden)
		return
	}
	taskID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, `{"error":"invalid task id"}`, http.StatusBadRequest)
		return
	}

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}

	ratio := decimal.Zero
	if req.Ratio != "" {
		ratio, err = decimal.NewFromString(req.Ratio)
		if err != nil {
			http.Error(w, `{"error":"invalid ratio"}`, http.StatusBadRequest)
			return
		}
	}

	d, err := h.Disputes.Resolve(r.Context(), taskID, req.Resolution, ratio)
	if err != nil {
		h.writeError(w, "resolve dispute", err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// GetDispute handles GET /v1/tasks/{id}/dispute.
func (h *TaskHandler) GetDispute(w http.ResponseWriter, r *http.Request) {
	taskID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, `{"error":"invalid task id"}`, http.StatusBadRequest)
		return
	}
	d, err := h.Disputes.GetByTask(r.Context(), taskID)
	if err != nil {
		h.writeError(w, "get dispute", err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// --- reads ---

// GetTask handles GET /v1/tasks/{id}.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	taskID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, `{"error":"invalid task id"}`, http.StatusBadRequest)
		return
	}
	task, err := h.Tasks.Get(r.Context(), taskID)
	if err != nil {
		h.writeError(w, "get task", err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// ListTasks handles GET /v1/tasks. ?scope=open lists unclaimed postings;
// the default is the caller's own tasks.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var (
		list []*models.Task
		err  error
	)
	if r.URL.Query().Get("scope") == "open" {
		list, err = h.Tasks.ListOpen(r.Context())
	} else {
		list, err = h.Tasks.ListByAccount(r.Context(), acc.ID)
	}
	if err != nil {
		h.writeError(w, "list tasks", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// ListTaskTransactions handles GET /v1/tasks/{id}/transactions.
func (h *TaskHandler) ListTaskTransactions(w http.ResponseWriter, r *http.Request) {
	taskID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, `{"error":"invalid task id"}`, http.StatusBadRequest)
		return
	}
	list, err := h.Txns.ListByTaskID(r.Context(), taskID)
	if err != nil {
		h.writeError(w, "list transactions", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// --- helpers ---

// writeError maps domain errors onto HTTP statuses. Anything unmapped is a
// logged 500 with a generic body.
func (h *TaskHandler) writeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, tasks.ErrTaskNotFound),
		errors.Is(err, tasks.ErrAccountNotFound),
		errors.Is(err, disputes.ErrNoOpenDispute):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, tasks.ErrIllegalTransition),
		errors.Is(err, tasks.ErrAlreadyClaimed),
		errors.Is(err, disputes.ErrDisputeExists),
		errors.Is(err, disputes.ErrAlreadyResolved):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, tasks.ErrNotRequester),
		errors.Is(err, tasks.ErrNotWorker),
		errors.Is(err, disputes.ErrNotParticipant):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": err.Error()})
	case errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, ledger.ErrInsufficientEscrow):
		writeJSON(w, http.StatusPaymentRequired, map[string]string{"error": err.Error()})
	case errors.Is(err, tasks.ErrValueBelowMinimum),
		errors.Is(err, tasks.ErrInvalidResolution),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidRatio),
		errors.Is(err, disputes.ErrInvalidRatio):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	default:
		h.Logger.Error(op, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
