// Package payout converts earned credits into cash payout requests.
//
// Ordering is deliberate: the pending record is created BEFORE the credit
// deduction, with the record's id as the deduction's idempotency key. A
// crash between the two steps leaves a detectable stale pending record for
// the reconciler, never silently lost state.
package payout

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/verdictlabs/verdict/internal/domain"
	"github.com/verdictlabs/verdict/internal/infra/observability"
)

// Store is the slice of the persistent store the payout engine needs.
// RequestUsed lets the reconciler tell a reserved pending request from one
// whose deduction never happened.
type Store interface {
	domain.PayoutStore
	RequestUsed(ctx context.Context, requestID string) (bool, error)
}

// CreditGuard is the balance-mutation surface the engine drives.
type CreditGuard interface {
	Deduct(ctx context.Context, accountID string, amount int64, requestID string) (int64, error)
	Refund(ctx context.Context, accountID string, amount int64, reason string) (int64, error)
	Balance(ctx context.Context, accountID string) (int64, error)
}

// TierSource resolves an account's effective tier.
type TierSource interface {
	TierFor(ctx context.Context, accountID string) (domain.Tier, error)
}

// Engine validates, prices, and drives payout requests through their
// lifecycle.
type Engine struct {
	store   Store
	guard   CreditGuard
	tiers   TierSource
	metrics *observability.Metrics
	log     zerolog.Logger

	now   func() time.Time
	newID func() string
}

// New creates a payout engine.
func New(store Store, g CreditGuard, tiers TierSource, metrics *observability.Metrics, log zerolog.Logger) *Engine {
	return &Engine{
		store:   store,
		guard:   g,
		tiers:   tiers,
		metrics: metrics,
		log:     log.With().Str("component", "payout").Logger(),
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// ─── Quote ──────────────────────────────────────────────────────────────────

// Quote is a priced payout conversion. Amounts are integer cents.
type Quote struct {
	Credits    int64           `json:"credits"`
	GrossCents int64           `json:"gross_cents"`
	FeeCents   int64           `json:"fee_cents"`
	NetCents   int64           `json:"net_cents"`
	Tier       domain.TierName `json:"tier"`
}

// Calculate prices a payout of credits for the account's effective tier.
// Fails with ErrPayoutNotEligible when the tier has no cashout, and
// ErrBelowMinimumPayout when credits is under the tier's threshold.
func (e *Engine) Calculate(ctx context.Context, accountID string, credits int64) (Quote, error) {
	if credits <= 0 {
		return Quote{}, fmt.Errorf("payout of %d credits: %w", credits, domain.ErrInvalidAmount)
	}
	t, err := e.tiers.TierFor(ctx, accountID)
	if err != nil {
		return Quote{}, fmt.Errorf("payout quote for %s: %w", accountID, err)
	}
	return quoteFor(t, credits)
}

// quoteFor prices credits against a tier. Deterministic: all arithmetic is
// fixed-point decimal rounded to whole cents, so repeated calls with the
// same inputs always produce the same cents.
func quoteFor(t domain.Tier, credits int64) (Quote, error) {
	if !t.PayoutOK {
		return Quote{}, fmt.Errorf("tier %s: %w", t.Name, domain.ErrPayoutNotEligible)
	}
	if credits < t.MinPayout {
		return Quote{}, fmt.Errorf("%d credits, tier %s minimum %d: %w",
			credits, t.Name, t.MinPayout, domain.ErrBelowMinimumPayout)
	}

	cents := decimal.NewFromInt(100)
	gross := decimal.NewFromInt(credits).Mul(t.CreditRate)
	fee := gross.Mul(t.FeeRate)
	grossCents := gross.Mul(cents).Round(0).IntPart()
	feeCents := fee.Mul(cents).Round(0).IntPart()

	return Quote{
		Credits:    credits,
		GrossCents: grossCents,
		FeeCents:   feeCents,
		NetCents:   grossCents - feeCents,
		Tier:       t.Name,
	}, nil
}

// ─── Lifecycle ──────────────────────────────────────────────────────────────

// Request creates a payout request and reserves its credits.
//
// Steps: quote (tier gate + minimum), balance check, create the pending
// record, then deduct using the record's id as the idempotency key. A
// failed deduction marks the record failed rather than leaving an
// unreserved pending request.
func (e *Engine) Request(ctx context.Context, accountID string, credits int64) (*domain.PayoutRequest, error) {
	q, err := e.Calculate(ctx, accountID, credits)
	if err != nil {
		return nil, err
	}

	balance, err := e.guard.Balance(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("payout for %s: %w", accountID, err)
	}
	if balance < credits {
		return nil, fmt.Errorf("payout of %d credits, balance %d: %w",
			credits, balance, domain.ErrInsufficientFunds)
	}

	now := e.now()
	p := domain.PayoutRequest{
		ID:         e.newID(),
		AccountID:  accountID,
		Credits:    credits,
		GrossCents: q.GrossCents,
		FeeCents:   q.FeeCents,
		NetCents:   q.NetCents,
		Tier:       q.Tier,
		Status:     domain.PayoutPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := e.store.CreatePayout(ctx, p); err != nil {
		return nil, fmt.Errorf("payout for %s: %w", accountID, err)
	}

	if _, err := e.guard.Deduct(ctx, accountID, credits, p.ID); err != nil {
		e.fail(ctx, p.ID)
		e.metrics.PayoutRequests.WithLabelValues(string(domain.PayoutFailed)).Inc()
		return nil, fmt.Errorf("payout %s: credit reservation failed: %w", p.ID, err)
	}

	e.metrics.PayoutRequests.WithLabelValues(string(domain.PayoutPending)).Inc()
	e.log.Info().
		Str("account", accountID).
		Str("payout", p.ID).
		Int64("credits", credits).
		Int64("net_cents", p.NetCents).
		Msg("payout requested")
	return &p, nil
}

// Approve moves a pending request to approved. Called by the external
// review collaborator.
func (e *Engine) Approve(ctx context.Context, id string) error {
	return e.transition(ctx, id, domain.PayoutApproved)
}

// Settle moves an approved request to settled, after the money has moved.
func (e *Engine) Settle(ctx context.Context, id string) error {
	return e.transition(ctx, id, domain.PayoutSettled)
}

// Reject terminates a pending or approved request and refunds its reserved
// credits. A refund failure is surfaced: the rejection stands, but the
// caller must know the credits are still owed.
func (e *Engine) Reject(ctx context.Context, id string) error {
	p, err := e.store.GetPayout(ctx, id)
	if err != nil {
		return fmt.Errorf("reject payout %s: %w", id, err)
	}
	if err := e.transition(ctx, id, domain.PayoutRejected); err != nil {
		return err
	}
	if _, err := e.guard.Refund(ctx, p.AccountID, p.Credits, "payout "+id+" rejected"); err != nil {
		return fmt.Errorf("payout %s rejected: %w", id, err)
	}
	return nil
}

// Get returns one payout request.
func (e *Engine) Get(ctx context.Context, id string) (*domain.PayoutRequest, error) {
	return e.store.GetPayout(ctx, id)
}

// List returns an account's payout requests, newest first.
func (e *Engine) List(ctx context.Context, accountID string, limit int) ([]domain.PayoutRequest, error) {
	return e.store.PayoutsFor(ctx, accountID, limit)
}

// ─── Reconciliation ─────────────────────────────────────────────────────────

// Reconcile sweeps pending requests older than maxAge and fails the ones
// whose credit reservation never happened — the crash window between record
// creation and deduction. Pending requests WITH a reservation are left
// alone: they are waiting on external approval, which has no deadline here.
// Returns the number of requests marked failed.
func (e *Engine) Reconcile(ctx context.Context, maxAge time.Duration) (int, error) {
	stale, err := e.store.StalePending(ctx, e.now().Add(-maxAge))
	if err != nil {
		return 0, fmt.Errorf("payout reconcile: %w", err)
	}

	failed := 0
	for _, p := range stale {
		reserved, err := e.store.RequestUsed(ctx, p.ID)
		if err != nil {
			e.log.Warn().Str("payout", p.ID).Err(err).Msg("reconcile: reservation check failed")
			continue
		}
		if reserved {
			continue
		}
		if err := e.store.SetPayoutStatus(ctx, p.ID, domain.PayoutFailed); err != nil {
			e.log.Warn().Str("payout", p.ID).Err(err).Msg("reconcile: could not fail stale payout")
			continue
		}
		e.metrics.PayoutRequests.WithLabelValues(string(domain.PayoutFailed)).Inc()
		e.log.Info().
			Str("payout", p.ID).
			Str("account", p.AccountID).
			Time("created_at", p.CreatedAt).
			Msg("stale unreserved payout failed")
		failed++
	}
	return failed, nil
}

// ─── Internals ──────────────────────────────────────────────────────────────

func (e *Engine) transition(ctx context.Context, id string, next domain.PayoutStatus) error {
	if err := e.store.SetPayoutStatus(ctx, id, next); err != nil {
		return fmt.Errorf("payout %s → %s: %w", id, next, err)
	}
	e.metrics.PayoutRequests.WithLabelValues(string(next)).Inc()
	e.log.Info().Str("payout", id).Str("status", string(next)).Msg("payout transitioned")
	return nil
}

// fail marks a request failed after its reservation did not happen. Best
// effort: if this write also fails the record stays pending and the
// reconciler picks it up.
func (e *Engine) fail(ctx context.Context, id string) {
	if err := e.store.SetPayoutStatus(ctx, id, domain.PayoutFailed); err != nil {
		e.log.Warn().Str("payout", id).Err(err).Msg("could not mark payout failed, reconciler will")
	}
}
