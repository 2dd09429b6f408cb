package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wardenhq/warden/internal/auth"
	"github.com/wardenhq/warden/internal/ids"
)

// Version is stamped at build time.
var Version = "dev"

// NewRouter assembles the full HTTP surface: the health and metrics
// endpoints unauthenticated, the pipeline endpoints behind agent keys, and
// the management endpoints behind admin keys.
func NewRouter(h *Handler, keyStore auth.KeyStore) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)

	r.Get("/warden/v1/health", healthHandler)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(keyStore))

		r.Post("/v1/requests", h.SubmitRequest)
		r.Get("/v1/models", h.ListModels)
		r.Get("/v1/budget", h.BudgetStatus)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAdmin)

			r.Put("/v1/budget/profile", h.SetBudgetProfile)
			r.Get("/v1/approvals", h.ListApprovals)
			r.Get("/v1/approvals/stats", h.ApprovalStats)
			r.Get("/v1/approvals/history", h.ApprovalHistory)
			r.Get("/v1/approvals/{id}", h.GetApproval)
			r.Post("/v1/approvals/{id}/approve", h.ApproveItem)
			r.Post("/v1/approvals/{id}/reject", h.RejectItem)
			r.Get("/v1/audit", h.AuditLog)
		})
	})

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"version": Version,
	})
}

type contextKey string

const requestIDKey contextKey = "request_id"

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = ids.New("http")
		}
		w.Header().Set("X-Request-ID", reqID)
		ctx := context.WithValue(r.Context(), requestIDKey, reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
