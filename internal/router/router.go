package router

import (
	"net/http"
	"strings"

	"github.com/skillincome/backend/internal/dashboard"
	"github.com/skillincome/backend/internal/identity"
)

// New returns an http.Handler serving the JWT-authenticated console API
// under /api/v1. The programmatic /v1 task API is mounted separately.
func New(idHandler *identity.Handler, dashHandler *dashboard.Handler) http.Handler {
	mux := http.NewServeMux()
	base := "/api/v1"
	mux.HandleFunc(base+"/auth/register", methodPOST(idHandler.Register))
	mux.HandleFunc(base+"/auth/login", methodPOST(idHandler.Login))

	mux.HandleFunc(base+"/account/me", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			dashHandler.GetMe(w, r)
		case http.MethodDelete:
			dashHandler.DeleteMe(w, r)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc(base+"/transactions", methodGET(dashHandler.ListTransactions))
	mux.HandleFunc(base+"/tasks", methodGET(dashHandler.ListTasks))
	mux.HandleFunc(base+"/disputes", methodGET(dashHandler.ListOpenDisputes))
	mux.HandleFunc(base+"/wallet/freeze", methodPOST(dashHandler.FreezeWallet))
	mux.HandleFunc(base+"/wallet/unfreeze", methodPOST(dashHandler.UnfreezeWallet))

	mux.HandleFunc(base+"/api-keys", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			dashHandler.ListAPIKeys(w, r)
		case http.MethodPost:
			dashHandler.CreateAPIKey(w, r)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc(base+"/api-keys/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete && strings.Count(r.URL.Path, "/") >= 4 {
			dashHandler.DeleteAPIKey(w, r)
			return
		}
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	})

	return mux
}

func methodGET(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

func methodPOST(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}
