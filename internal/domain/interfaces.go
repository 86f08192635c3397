package domain

import (
	"context"
	"time"
)

// ─── Store Interfaces ───────────────────────────────────────────────────────
// These interfaces define the persistent-store contract this core consumes.
// Infrastructure implements them; application services depend on them.
// Any backing store providing an atomic read-check-write balance update, an
// append-only ledger, and unique-constrained inserts can be substituted.

// BalanceStore holds account balances and enforces the two invariants the
// in-process lock cannot: balances never go negative, and a request id is
// consumed at most once.
type BalanceStore interface {
	CreateAccount(ctx context.Context, id string) (*Account, error)
	GetAccount(ctx context.Context, id string) (*Account, error)

	// DeductBalance atomically verifies balance >= amount, consumes
	// requestID, and decrements the balance — all in one indivisible store
	// operation. Returns the new balance. Fails with ErrInsufficientFunds,
	// ErrDuplicateRequest, or ErrAccountNotFound without mutating anything.
	DeductBalance(ctx context.Context, accountID string, amount int64, requestID string) (int64, error)

	// CreditBalance atomically increments the balance. Returns the new
	// balance.
	CreditBalance(ctx context.Context, accountID string, amount int64) (int64, error)

	// RequestUsed reports whether requestID has already produced a
	// successful mutation.
	RequestUsed(ctx context.Context, requestID string) (bool, error)
}

// LedgerStore is the append-only audit log. Appends require no exclusivity;
// concurrent appends are independent.
type LedgerStore interface {
	AppendEntry(ctx context.Context, entry LedgerEntry) error
	EntriesFor(ctx context.Context, accountID string, limit int) ([]LedgerEntry, error)
}

// PayoutStore persists payout requests and their status transitions.
type PayoutStore interface {
	CreatePayout(ctx context.Context, p PayoutRequest) error
	GetPayout(ctx context.Context, id string) (*PayoutRequest, error)
	PayoutsFor(ctx context.Context, accountID string, limit int) ([]PayoutRequest, error)

	// SetPayoutStatus transitions a payout request, enforcing the status
	// machine. Fails with ErrInvalidTransition if the move is not permitted.
	SetPayoutStatus(ctx context.Context, id string, next PayoutStatus) error

	// StalePending returns pending requests created before the cutoff, for
	// reconciliation of crash windows between record creation and deduction.
	StalePending(ctx context.Context, cutoff time.Time) ([]PayoutRequest, error)
}

// ReputationStore reads the cumulative counters written by the scoring
// pipeline, and persists the monotonic tier high-water mark.
type ReputationStore interface {
	GetReputation(ctx context.Context, accountID string) (*ReputationRecord, error)
	UpsertReputation(ctx context.Context, rep ReputationRecord) error

	// TierMark returns the highest tier rank the account has ever reached
	// (0 if never recorded).
	TierMark(ctx context.Context, accountID string) (int, error)

	// AdvanceTierMark raises the persisted mark to rank. Never lowers it.
	AdvanceTierMark(ctx context.Context, accountID string, rank int) error
}

// AchievementStore persists one-time achievement unlocks behind a unique
// constraint on (account, key), making double-evaluation harmless.
type AchievementStore interface {
	UnlockedKeys(ctx context.Context, accountID string) (map[string]bool, error)

	// InsertUnlock records an unlock. Returns false without error when the
	// (account, key) pair already exists.
	InsertUnlock(ctx context.Context, accountID, key string, at time.Time) (bool, error)
	ListUnlocked(ctx context.Context, accountID string) ([]UnlockedAchievement, error)
}

// Store is the full persistent-store contract consumed by this core.
type Store interface {
	BalanceStore
	LedgerStore
	PayoutStore
	ReputationStore
	AchievementStore
}
