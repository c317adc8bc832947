package main

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/skillincome/backend/internal/disputes"
	"github.com/skillincome/backend/internal/handlers"
	"github.com/skillincome/backend/internal/identity"
	"github.com/skillincome/backend/internal/middleware"
	"github.com/skillincome/backend/internal/repository"
	"github.com/skillincome/backend/internal/tasks"
	"github.com/skillincome/backend/internal/wallets"
)

// RegisterV1Routes adds the /v1 task and wallet endpoints to the given mux.
// Middleware chain: auth -> (WalletGuard on money-moving routes) -> handler.
func RegisterV1Routes(
	mux *http.ServeMux,
	tasksSvc *tasks.Service,
	disputesSvc *disputes.Service,
	walletsSvc *wallets.Service,
	txnRepo *repository.TransactionRepo,
	walletRepo *repository.WalletRepo,
	apiKeyRepo *repository.APIKeyRepo,
	identitySvc *identity.Service,
	accountRepo *repository.AccountRepo,
	logger *slog.Logger,
) {
	th := &handlers.TaskHandler{
		Tasks:    tasksSvc,
		Disputes: disputesSvc,
		Txns:     txnRepo,
		Logger:   logger,
	}
	wh := wallets.NewHandler(walletsSvc, logger)

	auth := bearerAuth(apiKeyRepo, identitySvc, accountRepo)
	guard := middleware.WalletGuard(walletRepo)

	// Tasks
	mux.Handle("POST /v1/tasks", auth(guard(http.HandlerFunc(th.CreateTask))))
	mux.Handle("GET /v1/tasks", auth(http.HandlerFunc(th.ListTasks)))
	mux.Handle("GET /v1/tasks/{id}", auth(http.HandlerFunc(th.GetTask)))
	mux.Handle("GET /v1/tasks/{id}/transactions", auth(http.HandlerFunc(th.ListTaskTransactions)))
	mux.Handle("POST /v1/tasks/{id}/accept", auth(http.HandlerFunc(th.Accept)))
	mux.Handle("POST /v1/tasks/{id}/begin", auth(http.HandlerFunc(th.Begin)))
	mux.Handle("POST /v1/tasks/{id}/submit", auth(http.HandlerFunc(th.Submit)))
	mux.Handle("POST /v1/tasks/{id}/review", auth(http.HandlerFunc(th.Review)))
	mux.Handle("POST /v1/tasks/{id}/approve", auth(http.HandlerFunc(th.Approve)))
	mux.Handle("POST /v1/tasks/{id}/cancel", auth(http.HandlerFunc(th.Cancel)))

	// Disputes
	mux.Handle("POST /v1/tasks/{id}/dispute", auth(http.HandlerFunc(th.FileDispute)))
	mux.Handle("GET /v1/tasks/{id}/dispute", auth(http.HandlerFunc(th.GetDispute)))
	mux.Handle("POST /v1/tasks/{id}/resolve", auth(http.HandlerFunc(th.ResolveDispute)))

	// Wallet
	mux.Handle("GET /v1/wallet", auth(http.HandlerFunc(wh.GetBalance)))
	mux.Handle("GET /v1/wallet/transactions", auth(http.HandlerFunc(wh.ListTransactions)))
	mux.Handle("GET /v1/wallet/withdrawals", auth(http.HandlerFunc(wh.ListWithdrawals)))
	mux.Handle("POST /v1/wallet/deposit", auth(guard(http.HandlerFunc(wh.Deposit))))
	mux.Handle("POST /v1/wallet/withdraw", auth(guard(http.HandlerFunc(wh.Withdraw))))
}

// bearerAuth accepts either credential the platform issues: API keys carry
// the "ski_" prefix, anything else is treated as a login JWT.
func bearerAuth(apiKeyRepo *repository.APIKeyRepo, identitySvc *identity.Service, accountRepo *repository.AccountRepo) func(http.Handler) http.Handler {
	apiKeyAuth := middleware.APIKeyAuth(apiKeyRepo)
	jwtAuth := middleware.JWTAuth(identitySvc, accountRepo)
	return func(next http.Handler) http.Handler {
		withKey := apiKeyAuth(next)
		withJWT := jwtAuth(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.Contains(r.Header.Get("Authorization"), " ski_") {
				withKey.ServeHTTP(w, r)
				return
			}
			withJWT.ServeHTTP(w, r)
		})
	}
}

// sweepSource joins the two repositories the settlement sweep rescans.
type sweepSource struct {
	tasks    *repository.TaskRepo
	disputes *repository.DisputeRepo
}

func (s *sweepSource) ListOverdueForAutoRelease(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	return s.tasks.ListOverdueForAutoRelease(ctx, now)
}

func (s *sweepSource) ListOverdueDisputes(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	return s.disputes.ListOverdue(ctx, now)
}
