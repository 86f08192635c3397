// Package api provides the HTTP surface over the credit core. The platform
// normally consumes the core in-process; this thin REST layer exists for
// the external collaborators (review tooling, settlement system) and for
// operators.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/verdictlabs/verdict/internal/app/guard"
	"github.com/verdictlabs/verdict/internal/app/payout"
	"github.com/verdictlabs/verdict/internal/app/tier"
	"github.com/verdictlabs/verdict/internal/domain"
)

// Server is the verdict HTTP API server.
type Server struct {
	guard    *guard.Guard
	tiers    *tier.Engine
	payouts  *payout.Engine
	accounts domain.BalanceStore
	registry *prometheus.Registry
	log      zerolog.Logger
	validate *validator.Validate
}

// NewServer creates an API server over the three core services.
func NewServer(g *guard.Guard, tiers *tier.Engine, payouts *payout.Engine, accounts domain.BalanceStore, log zerolog.Logger) *Server {
	return &Server{
		guard:    g,
		tiers:    tiers,
		payouts:  payouts,
		accounts: accounts,
		log:      log.With().Str("component", "api").Logger(),
		validate: validator.New(),
	}
}

// EnableMetrics serves reg on /metrics.
func (s *Server) EnableMetrics(reg *prometheus.Registry) { s.registry = reg }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if s.registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/accounts", s.handleCreateAccount)
		r.Route("/accounts/{id}", func(r chi.Router) {
			r.Get("/balance", s.handleBalance)
			r.Get("/ledger", s.handleLedger)
			r.Post("/deduct", s.handleDeduct)
			r.Post("/refund", s.handleRefund)
			r.Get("/tier", s.handleTier)
			r.Get("/tier/progress", s.handleTierProgress)
			r.Post("/achievements/check", s.handleCheckAchievements)
			r.Get("/achievements", s.handleListAchievements)
			r.Get("/payouts", s.handleListPayouts)
		})

		r.Post("/payouts", s.handleRequestPayout)
		r.Post("/payouts/quote", s.handleQuotePayout)
		r.Route("/payouts/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetPayout)
			r.Post("/approve", s.handleApprovePayout)
			r.Post("/reject", s.handleRejectPayout)
			r.Post("/settle", s.handleSettlePayout)
		})
	})

	return r
}

// ─── Response Helpers ───────────────────────────────────────────────────────

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": msg,
			"type":    "error",
		},
	})
}

// writeDomainError maps a core error to an HTTP status. The structured
// error kinds stay machine-readable in the "kind" field; the message is the
// human translation.
func writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	kind := "internal"
	msg := err.Error()

	switch {
	case errors.Is(err, domain.ErrAccountNotFound), errors.Is(err, domain.ErrPayoutNotFound):
		status, kind = http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrAccountExists):
		status, kind = http.StatusConflict, "account_exists"
	case errors.Is(err, domain.ErrDuplicateRequest):
		status, kind = http.StatusConflict, "duplicate_request"
	case errors.Is(err, domain.ErrOperationInProgress):
		status, kind, msg = http.StatusConflict, "operation_in_progress", "operation already in progress, try again in a moment"
	case errors.Is(err, domain.ErrInsufficientFunds):
		status, kind, msg = http.StatusUnprocessableEntity, "insufficient_funds", "insufficient balance"
	case errors.Is(err, domain.ErrInvalidAmount):
		status, kind = http.StatusBadRequest, "invalid_amount"
	case errors.Is(err, domain.ErrPayoutNotEligible):
		status, kind = http.StatusUnprocessableEntity, "payout_not_eligible"
	case errors.Is(err, domain.ErrBelowMinimumPayout):
		status, kind = http.StatusUnprocessableEntity, "below_minimum_payout"
	case errors.Is(err, domain.ErrInvalidTransition):
		status, kind = http.StatusConflict, "invalid_transition"
	case errors.Is(err, domain.ErrStoreUnavailable):
		status, kind, msg = http.StatusServiceUnavailable, "store_unavailable", "store unavailable, try again in a moment"
	}

	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": msg,
			"kind":    kind,
			"type":    "error",
		},
	})
}

// decode parses and validates a JSON request body.
func (s *Server) decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return err
	}
	return s.validate.Struct(v)
}
