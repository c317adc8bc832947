package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/skillincome/backend/internal/models"
)

// WalletLookup resolves the authenticated account's wallet.
type WalletLookup interface {
	GetByAccountID(ctx context.Context, accountID uuid.UUID) (*models.Wallet, error)
}

// WalletGuard blocks money-moving requests when the account's wallet is
// frozen. It runs after auth and expects the account in context.
func WalletGuard(wallets WalletLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			acc := AccountFromCtx(r.Context())
			if acc == nil {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}

			wallet, err := wallets.GetByAccountID(r.Context(), acc.ID)
			if err != nil {
				http.Error(w, `{"error":"failed to load wallet"}`, http.StatusInternalServerError)
				return
			}
			if !wallet.IsActive {
				http.Error(w, `{"error":"wallet is frozen"}`, http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
