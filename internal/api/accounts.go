package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// ─── Account & Guard Handlers ───────────────────────────────────────────────

type createAccountRequest struct {
	ID string `json:"id" validate:"required,min=1,max=128"`
}

// POST /api/accounts
func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	account, err := s.accounts.CreateAccount(r.Context(), req.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, account)
}

// GET /api/accounts/{id}/balance
func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	balance, err := s.guard.Balance(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account_id": id,
		"balance":    balance,
	})
}

// GET /api/accounts/{id}/ledger?limit=
func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
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
	entries, err := s.guard.History(r.Context(), id, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account_id": id,
		"entries":    entries,
	})
}

type deductRequest struct {
	Amount    int64  `json:"amount" validate:"required,gt=0"`
	RequestID string `json:"request_id" validate:"required,min=1,max=128"`
}

// POST /api/accounts/{id}/deduct
func (s *Server) handleDeduct(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req deductRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	balance, err := s.guard.Deduct(r.Context(), id, req.Amount, req.RequestID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account_id": id,
		"balance":    balance,
	})
}

type refundRequest struct {
	Amount int64  `json:"amount" validate:"required,gt=0"`
	Reason string `json:"reason" validate:"max=256"`
}

// POST /api/accounts/{id}/refund
func (s *Server) handleRefund(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req refundRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	balance, err := s.guard.Refund(r.Context(), id, req.Amount, req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account_id": id,
		"balance":    balance,
	})
}

// ─── Tier & Achievement Handlers ────────────────────────────────────────────

// GET /api/accounts/{id}/tier
func (s *Server) handleTier(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	t, err := s.tiers.TierFor(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// GET /api/accounts/{id}/tier/progress
func (s *Server) handleTierProgress(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	progress, err := s.tiers.Progress(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

// POST /api/accounts/{id}/achievements/check
func (s *Server) handleCheckAchievements(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := r.Context()
	rep, err := s.tiers.Reputation(ctx, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	fresh, err := s.tiers.CheckAchievements(ctx, id, *rep)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account_id":     id,
		"newly_unlocked": fresh,
	})
}

// GET /api/accounts/{id}/achievements
func (s *Server) handleListAchievements(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	unlocked, err := s.tiers.Unlocked(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account_id": id,
		"unlocked":   unlocked,
	})
}
