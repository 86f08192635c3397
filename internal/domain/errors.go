package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure — no infrastructure dependency. The surrounding
// application translates these into user-facing messages.

var (
	// Account errors
	ErrAccountNotFound = errors.New("account not found")
	ErrAccountExists   = errors.New("account already exists")

	// Credit guard errors — funds-affecting, always surfaced, never retried
	// automatically inside the guard.
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrDuplicateRequest    = errors.New("request id already used")
	ErrOperationInProgress = errors.New("operation already in progress for account")
	ErrStoreUnavailable    = errors.New("store unavailable")

	// ErrAuditWriteFailed is non-fatal: a successful mutation is never rolled
	// back because its audit append failed. Logged and counted only.
	ErrAuditWriteFailed = errors.New("audit write failed")

	// Payout errors
	ErrPayoutNotEligible  = errors.New("tier does not permit cash payout")
	ErrBelowMinimumPayout = errors.New("credits below minimum payout threshold")
	ErrPayoutNotFound     = errors.New("payout request not found")
	ErrInvalidTransition  = errors.New("invalid payout status transition")
)
