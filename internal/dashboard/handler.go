// Package dashboard serves the JWT-authenticated account console: profile,
// balances, history, API key management, and the admin dispute queue.
package dashboard

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/skillincome/backend/internal/identity"
	"github.com/skillincome/backend/internal/models"
	"github.com/skillincome/backend/internal/repository"
)

type Handler struct {
	idSvc    *identity.Service
	walletR  *repository.WalletRepo
	txnR     *repository.TransactionRepo
	apiKeyR  *repository.APIKeyRepo
	taskR    *repository.TaskRepo
	disputeR *repository.DisputeRepo
	log      *slog.Logger
}

func NewHandler(
	idSvc *identity.Service,
	walletR *repository.WalletRepo,
	txnR *repository.TransactionRepo,
	apiKeyR *repository.APIKeyRepo,
	taskR *repository.TaskRepo,
	disputeR *repository.DisputeRepo,
	log *slog.Logger,
) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		idSvc:    idSvc,
		walletR:  walletR,
		txnR:     txnR,
		apiKeyR:  apiKeyR,
		taskR:    taskR,
		disputeR: disputeR,
		log:      log,
	}
}

func (h *Handler) accountFromRequest(r *http.Request) (*models.Account, error) {
	authz := r.Header.Get("Authorization")
	if authz == "" {
		return nil, fmt.Errorf("missing authorization")
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(authz, prefix) {
		return nil, fmt.Errorf("bad authorization format")
	}
	token := strings.TrimSpace(authz[len(prefix):])
	if token == "" {
		return nil, fmt.Errorf("empty token")
	}
	id, _, err := h.idSvc.ValidateToken(r.Context(), token)
	if err != nil {
		return nil, err
	}
	return h.idSvc.GetAccount(r.Context(), id)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// GET /api/v1/account/me
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	acc, err := h.accountFromRequest(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	wallet, err := h.walletR.GetByAccountID(r.Context(), acc.ID)
	if err != nil {
		h.log.Error("get wallet failed", "error", err)
		http.Error(w, "wallet not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":         acc.ID,
		"email":      acc.Email,
		"name":       acc.Name,
		"role":       acc.Role,
		"available":  wallet.Available,
		"escrowed":   wallet.Escrowed,
		"pi_address": wallet.PiAddress,
		"is_active":  wallet.IsActive,
		"created_at": acc.CreatedAt,
	})
}

// DELETE /api/v1/account/me
func (h *Handler) DeleteMe(w http.ResponseWriter, r *http.Request) {
	acc, err := h.accountFromRequest(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if err := h.idSvc.DeleteAccount(r.Context(), acc.ID); err != nil {
		if errors.Is(err, identity.ErrFundsHeld) {
			http.Error(w, "account has funds held in escrow", http.StatusConflict)
			return
		}
		h.log.Error("delete account failed", "error", err)
		http.Error(w, "delete failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /api/v1/transactions
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	acc, err := h.accountFromRequest(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	entries, err := h.txnR.ListByAccountID(r.Context(), acc.ID)
	if err != nil {
		h.log.Error("list transactions failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []*models.Transaction{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// GET /api/v1/tasks
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	acc, err := h.accountFromRequest(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	tasks, err := h.taskR.ListByAccountID(r.Context(), acc.ID)
	if err != nil {
		h.log.Error("list tasks failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if tasks == nil {
		tasks = []*models.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

// GET /api/v1/disputes — admin queue of open disputes.
func (h *Handler) ListOpenDisputes(w http.ResponseWriter, r *http.Request) {
	acc, err := h.accountFromRequest(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if acc.Role != models.RoleAdmin {
		http.Error(w, "admin role required", http.StatusForbidden)
		return
	}
	list, err := h.disputeR.ListOpen(r.Context())
	if err != nil {
		h.log.Error("list open disputes failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []*models.Dispute{}
	}
	writeJSON(w, http.StatusOK, list)
}

// POST /api/v1/wallet/freeze and /api/v1/wallet/unfreeze toggle the wallet.
// A frozen wallet blocks deposits, withdrawals, and new postings; funds
// already in escrow keep settling.
func (h *Handler) FreezeWallet(w http.ResponseWriter, r *http.Request) {
	h.setWalletActive(w, r, false)
}

func (h *Handler) UnfreezeWallet(w http.ResponseWriter, r *http.Request) {
	h.setWalletActive(w, r, true)
}

func (h *Handler) setWalletActive(w http.ResponseWriter, r *http.Request, active bool) {
	acc, err := h.accountFromRequest(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if err := h.walletR.SetActive(r.Context(), acc.ID, active); err != nil {
		h.log.Error("set wallet active failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /api/v1/api-keys
func (h *Handler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	acc, err := h.accountFromRequest(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	keys, err := h.apiKeyR.ListByAccountID(r.Context(), acc.ID)
	if err != nil {
		h.log.Error("list api keys failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, keys)
}

// POST /api/v1/api-keys
func (h *Handler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	acc, err := h.accountFromRequest(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var body struct {
		Label string `json:"label"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	rawBytes := make([]byte, 32)
	if _, err := rand.Read(rawBytes); err != nil {
		http.Error(w, "key generation failed", http.StatusInternalServerError)
		return
	}
	rawKey := "ski_" + hex.EncodeToString(rawBytes)
	hash := sha256.Sum256([]byte(rawKey))

	k := &models.APIKey{
		ID:        uuid.New(),
		AccountID: acc.ID,
		KeyHash:   hex.EncodeToString(hash[:]),
		Label:     body.Label,
	}
	if err := h.apiKeyR.Create(r.Context(), k); err != nil {
		h.log.Error("create api key failed", "error", err)
		http.Error(w, "create failed", http.StatusInternalServerError)
		return
	}
	// The raw key is shown exactly once; only the hash is stored.
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":      k.ID,
		"label":   k.Label,
		"raw_key": rawKey,
	})
}

// DELETE /api/v1/api-keys/{id}
func (h *Handler) DeleteAPIKey(w http.ResponseWriter, r *http.Request) {
	acc, err := h.accountFromRequest(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	path := r.URL.Path
	parts := strings.Split(strings.TrimRight(path, "/"), "/")
	idStr := parts[len(parts)-1]
	keyID, err := uuid.Parse(idStr)
	if err != nil {
		http.Error(w, "invalid key ID", http.StatusBadRequest)
		return
	}
	if err := h.apiKeyR.Delete(r.Context(), keyID, acc.ID); err != nil {
		h.log.Error("delete api key failed", "error", err)
		http.Error(w, "delete failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
