package domain

import "time"

// ─── Account & Ledger Types ─────────────────────────────────────────────────
// These live in domain because they represent core business rules.
// The balance is only ever mutated through the credit guard; accounts are
// never deleted, only moved between soft states.

// AccountStatus is the lifecycle state of an account.
type AccountStatus string

const (
	AccountActive    AccountStatus = "ACTIVE"
	AccountSuspended AccountStatus = "SUSPENDED"
	AccountClosed    AccountStatus = "CLOSED"
)

// Account holds a user's spendable credit balance.
// Balance is a non-negative integer count of credit units.
type Account struct {
	ID        string        `json:"id"`
	Balance   int64         `json:"balance"`
	Status    AccountStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// OperationKind is the business reason for a balance mutation.
type OperationKind string

const (
	OpDeduct OperationKind = "DEDUCT"
	OpRefund OperationKind = "REFUND"
)

// LedgerEntry is one immutable audit record of a balance-mutation attempt.
// Entries are appended for failed attempts too, with Success=false; they are
// never mutated or deleted.
type LedgerEntry struct {
	ID            int64         `json:"id"`
	AccountID     string        `json:"account_id"`
	Kind          OperationKind `json:"kind"`
	Amount        int64         `json:"amount"`
	BalanceBefore int64         `json:"balance_before"`
	BalanceAfter  int64         `json:"balance_after"`
	RequestID     string        `json:"request_id,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	Success       bool          `json:"success"`
	CreatedAt     time.Time     `json:"created_at"`
}
