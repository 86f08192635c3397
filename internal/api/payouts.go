package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// ─── Payout Handlers ────────────────────────────────────────────────────────

type payoutRequest struct {
	AccountID string `json:"account_id" validate:"required,min=1,max=128"`
	Credits   int64  `json:"credits" validate:"required,gt=0"`
}

// POST /api/payouts
func (s *Server) handleRequestPayout(w http.ResponseWriter, r *http.Request) {
	var req payoutRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := s.payouts.Request(r.Context(), req.AccountID, req.Credits)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// POST /api/payouts/quote
func (s *Server) handleQuotePayout(w http.ResponseWriter, r *http.Request) {
	var req payoutRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	q, err := s.payouts.Calculate(r.Context(), req.AccountID, req.Credits)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// GET /api/payouts/{id}
func (s *Server) handleGetPayout(w http.ResponseWriter, r *http.Request) {
	p, err := s.payouts.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GET /api/accounts/{id}/payouts?limit=
func (s *Server) handleListPayouts(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	list, err := s.payouts.List(r.Context(), id, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account_id": id,
		"payouts":    list,
	})
}

// External collaborator hooks: the review tool approves or rejects, the
// money-movement system settles.

// POST /api/payouts/{id}/approve
func (s *Server) handleApprovePayout(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.payouts.Approve)
}

// POST /api/payouts/{id}/reject
func (s *Server) handleRejectPayout(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.payouts.Reject)
}

// POST /api/payouts/{id}/settle
func (s *Server) handleSettlePayout(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.payouts.Settle)
}

func (s *Server) transition(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id string) error) {
	id := chi.URLParam(r, "id")
	if err := fn(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	p, err := s.payouts.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
