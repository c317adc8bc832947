package wallets

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/skillincome/backend/internal/ledger"
	"github.com/skillincome/backend/internal/middleware"
	"github.com/skillincome/backend/internal/pinetwork"
)

// Handler serves /v1/wallet endpoints.
type Handler struct {
	svc *Service
	log *slog.Logger
}

func NewHandler(svc *Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, log: log}
}

// amountRequest carries decimal amounts as JSON strings to avoid float
// truncation on the wire.
type amountRequest struct {
	Amount string `json:"amount"`
}

// GetBalance handles GET /v1/wallet.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	wallet, err := h.svc.GetBalance(r.Context(), acc.ID)
	if err != nil {
		h.writeError(w, "get balance", err)
		return
	}
	writeJSON(w, http.StatusOK, wallet)
}

// Deposit handles POST /v1/wallet/deposit.
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	amount, ok := parseAmount(w, r)
	if !ok {
		return
	}
	txn, err := h.svc.Deposit(r.Context(), acc.ID, amount)
	if err != nil {
		h.writeError(w, "deposit", err)
		return
	}
	writeJSON(w, http.StatusCreated, txn)
}

// Withdraw handles POST /v1/wallet/withdraw.
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	amount, ok := parseAmount(w, r)
	if !ok {
		return
	}
	req, err := h.svc.Withdraw(r.Context(), acc.ID, amount)
	if err != nil {
		h.writeError(w, "withdraw", err)
		return
	}
	writeJSON(w, http.StatusAccepted, req)
}

// ListTransactions handles GET /v1/wallet/transactions.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	list, err := h.svc.Transactions(r.Context(), acc.ID)
	if err != nil {
		h.writeError(w, "list transactions", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// ListWithdrawals handles GET /v1/wallet/withdrawals.
func (h *Handler) ListWithdrawals(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	list, err := h.svc.Withdrawals(r.Context(), acc.ID)
	if err != nil {
		h.writeError(w, "list withdrawals", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func parseAmount(w http.ResponseWriter, r *http.Request) (decimal.Decimal, bool) {
	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return decimal.Zero, false
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		http.Error(w, `{"error":"invalid amount"}`, http.StatusBadRequest)
		return decimal.Zero, false
	}
	return amount, true
}

func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrWalletNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, ErrWalletFrozen):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": err.Error()})
	case errors.Is(err, ledger.ErrInsufficientFunds):
		writeJSON(w, http.StatusPaymentRequired, map[string]string{"error": err.Error()})
	case errors.Is(err, ledger.ErrInvalidAmount):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	case errors.Is(err, pinetwork.ErrNetwork):
		h.log.Error(op, "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "payment network unavailable"})
	default:
		h.log.Error(op, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
