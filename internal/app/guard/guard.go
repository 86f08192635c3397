// Package guard is the only path permitted to mutate an account balance.
//
// The guard layers three defenses:
//  1. A keyed in-process try-lock that fails fast on contended accounts.
//  2. Pre-flight checks (balance, idempotency key) against the store.
//  3. The store's atomic conditional update, which is the actual
//     correctness boundary — the lock and pre-flight checks only shed
//     doomed work early.
//
// Every attempt, successful or not, gets a ledger entry. An audit append
// that fails after a completed mutation is logged and counted, never
// surfaced: losing an audit record is recoverable, losing track of a
// completed deduction is not.
package guard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/verdictlabs/verdict/internal/domain"
	"github.com/verdictlabs/verdict/internal/infra/keylock"
	"github.com/verdictlabs/verdict/internal/infra/observability"
)

// Store is the slice of the persistent store the guard needs.
type Store interface {
	domain.BalanceStore
	domain.LedgerStore
}

// Guard serializes and safely executes balance mutations.
type Guard struct {
	store   Store
	locks   *keylock.Table
	metrics *observability.Metrics
	log     zerolog.Logger

	// Injectable clock for testing.
	now func() time.Time
}

// New creates a credit guard.
func New(store Store, locks *keylock.Table, metrics *observability.Metrics, log zerolog.Logger) *Guard {
	return &Guard{
		store:   store,
		locks:   locks,
		metrics: metrics,
		log:     log.With().Str("component", "guard").Logger(),
		now:     time.Now,
	}
}

// ─── Deduct ─────────────────────────────────────────────────────────────────

// Deduct removes amount credits from an account, at most once per request
// id. Returns the new balance.
//
// Fails fast with ErrOperationInProgress when another deduct holds the
// account's lock — callers retry later, they do not queue. Funds-affecting
// failures (ErrInsufficientFunds, ErrDuplicateRequest, ErrStoreUnavailable)
// are never retried here: blind retry of a funds operation is unsafe
// without caller-level idempotency awareness.
func (g *Guard) Deduct(ctx context.Context, accountID string, amount int64, requestID string) (int64, error) {
	start := g.now()
	defer func() { g.metrics.ObserveOperation("deduct", g.now().Sub(start)) }()

	if amount <= 0 {
		return 0, fmt.Errorf("deduct %d from %s: %w", amount, accountID, domain.ErrInvalidAmount)
	}
	if requestID == "" {
		return 0, fmt.Errorf("deduct from %s: request id required", accountID)
	}

	release, ok := g.locks.TryAcquire(lockKey(accountID, domain.OpDeduct))
	if !ok {
		g.metrics.LockContention.Inc()
		g.metrics.Deducts.WithLabelValues(observability.OutcomeContended).Inc()
		return 0, fmt.Errorf("deduct from %s: %w", accountID, domain.ErrOperationInProgress)
	}
	// Scoped cleanup: every exit path below releases the lock. A holder
	// that hangs past the table TTL is force-released by the next caller.
	defer release()

	account, err := g.store.GetAccount(ctx, accountID)
	if err != nil {
		g.metrics.Deducts.WithLabelValues(observability.OutcomeStoreError).Inc()
		return 0, fmt.Errorf("deduct from %s: %w", accountID, err)
	}

	if account.Balance < amount {
		g.metrics.Deducts.WithLabelValues(observability.OutcomeInsufficient).Inc()
		g.audit(ctx, domain.LedgerEntry{
			AccountID:     accountID,
			Kind:          domain.OpDeduct,
			Amount:        amount,
			BalanceBefore: account.Balance,
			BalanceAfter:  account.Balance,
			RequestID:     requestID,
			Success:       false,
		})
		return 0, fmt.Errorf("deduct %d from %s (balance %d): %w",
			amount, accountID, account.Balance, domain.ErrInsufficientFunds)
	}

	// Pre-flight duplicate check. The store re-checks atomically; this
	// just rejects obvious retries before touching the balance row.
	used, err := g.store.RequestUsed(ctx, requestID)
	if err != nil {
		g.metrics.Deducts.WithLabelValues(observability.OutcomeStoreError).Inc()
		return 0, fmt.Errorf("deduct from %s: %w", accountID, err)
	}
	if used {
		g.metrics.Deducts.WithLabelValues(observability.OutcomeDuplicate).Inc()
		return 0, fmt.Errorf("deduct from %s, request %s: %w",
			accountID, requestID, domain.ErrDuplicateRequest)
	}

	newBalance, err := g.store.DeductBalance(ctx, accountID, amount, requestID)
	if err != nil {
		g.metrics.Deducts.WithLabelValues(outcomeFor(err)).Inc()
		g.audit(ctx, domain.LedgerEntry{
			AccountID:     accountID,
			Kind:          domain.OpDeduct,
			Amount:        amount,
			BalanceBefore: account.Balance,
			BalanceAfter:  account.Balance,
			RequestID:     requestID,
			Success:       false,
		})
		return 0, fmt.Errorf("deduct %d from %s: %w", amount, accountID, err)
	}

	g.metrics.Deducts.WithLabelValues(observability.OutcomeSuccess).Inc()
	g.audit(ctx, domain.LedgerEntry{
		AccountID:     accountID,
		Kind:          domain.OpDeduct,
		Amount:        amount,
		BalanceBefore: newBalance + amount,
		BalanceAfter:  newBalance,
		RequestID:     requestID,
		Success:       true,
	})

	g.log.Debug().
		Str("account", accountID).
		Str("request_id", requestID).
		Int64("amount", amount).
		Int64("balance", newBalance).
		Msg("deducted")

	return newBalance, nil
}

// ─── Refund ─────────────────────────────────────────────────────────────────

// Refund adds amount credits back to an account. No sufficiency check —
// refunds are additive. A refund failure means money the user is owed was
// not returned, so the error is wrapped to stay distinguishable from a
// deduct failure.
func (g *Guard) Refund(ctx context.Context, accountID string, amount int64, reason string) (int64, error) {
	start := g.now()
	defer func() { g.metrics.ObserveOperation("refund", g.now().Sub(start)) }()

	if amount <= 0 {
		return 0, fmt.Errorf("refund %d to %s: %w", amount, accountID, domain.ErrInvalidAmount)
	}

	release, ok := g.locks.TryAcquire(lockKey(accountID, domain.OpRefund))
	if !ok {
		g.metrics.LockContention.Inc()
		g.metrics.Refunds.WithLabelValues(observability.OutcomeContended).Inc()
		return 0, fmt.Errorf("refund to %s: %w", accountID, domain.ErrOperationInProgress)
	}
	defer release()

	newBalance, err := g.store.CreditBalance(ctx, accountID, amount)
	if err != nil {
		g.metrics.Refunds.WithLabelValues(outcomeFor(err)).Inc()
		g.log.Error().
			Str("account", accountID).
			Int64("amount", amount).
			Str("reason", reason).
			Err(err).
			Msg("refund not applied — user is still owed these credits")
		return 0, fmt.Errorf("refund %d to %s not applied, credits still owed: %w",
			amount, accountID, err)
	}

	g.metrics.Refunds.WithLabelValues(observability.OutcomeSuccess).Inc()
	g.audit(ctx, domain.LedgerEntry{
		AccountID:     accountID,
		Kind:          domain.OpRefund,
		Amount:        amount,
		BalanceBefore: newBalance - amount,
		BalanceAfter:  newBalance,
		Reason:        reason,
		Success:       true,
	})

	g.log.Debug().
		Str("account", accountID).
		Int64("amount", amount).
		Str("reason", reason).
		Int64("balance", newBalance).
		Msg("refunded")

	return newBalance, nil
}

// ─── Read Paths ─────────────────────────────────────────────────────────────

// Balance returns an account's current balance.
func (g *Guard) Balance(ctx context.Context, accountID string) (int64, error) {
	account, err := g.store.GetAccount(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return account.Balance, nil
}

// History returns an account's most recent ledger entries, newest first.
func (g *Guard) History(ctx context.Context, accountID string, limit int) ([]domain.LedgerEntry, error) {
	return g.store.EntriesFor(ctx, accountID, limit)
}

// ─── Internals ──────────────────────────────────────────────────────────────

// audit appends a ledger entry, best effort. A failed append after a
// completed mutation is a warning, not an operation failure — it must never
// roll back the mutation or block the caller.
func (g *Guard) audit(ctx context.Context, entry domain.LedgerEntry) {
	entry.CreatedAt = g.now()
	if err := g.store.AppendEntry(ctx, entry); err != nil {
		g.metrics.AuditWriteFailures.Inc()
		g.log.Warn().
			Str("account", entry.AccountID).
			Str("kind", string(entry.Kind)).
			Int64("amount", entry.Amount).
			Bool("success", entry.Success).
			Err(err).
			Msg("audit write failed")
	}
}

func lockKey(accountID string, kind domain.OperationKind) string {
	return accountID + ":" + string(kind)
}

// outcomeFor maps a store error to a metrics outcome label.
func outcomeFor(err error) string {
	switch {
	case errors.Is(err, domain.ErrInsufficientFunds):
		return observability.OutcomeInsufficient
	case errors.Is(err, domain.ErrDuplicateRequest):
		return observability.OutcomeDuplicate
	default:
		return observability.OutcomeStoreError
	}
}
