package domain

import "time"

// ─── Payout Types ───────────────────────────────────────────────────────────

// PayoutStatus is the lifecycle state of a payout request.
//
// pending → approved → settled, with rejection possible from pending or
// approved. failed marks a request whose credit reservation never succeeded
// (deduct failure or crash between record creation and deduction).
type PayoutStatus string

const (
	PayoutPending  PayoutStatus = "PENDING"
	PayoutApproved PayoutStatus = "APPROVED"
	PayoutRejected PayoutStatus = "REJECTED"
	PayoutSettled  PayoutStatus = "SETTLED"
	PayoutFailed   PayoutStatus = "FAILED"
)

// CanTransitionTo reports whether the status machine permits moving from s
// to next. Terminal states (settled, rejected, failed) permit nothing.
func (s PayoutStatus) CanTransitionTo(next PayoutStatus) bool {
	switch s {
	case PayoutPending:
		return next == PayoutApproved || next == PayoutRejected || next == PayoutFailed
	case PayoutApproved:
		return next == PayoutSettled || next == PayoutRejected
	default:
		return false
	}
}

// PayoutRequest is one request to convert credits into cash. Cash amounts
// are stored in integer cents; they are computed once at creation time with
// the tier that was in effect and never recomputed.
type PayoutRequest struct {
	ID         string       `json:"id"`
	AccountID  string       `json:"account_id"`
	Credits    int64        `json:"credits"`
	GrossCents int64        `json:"gross_cents"`
	FeeCents   int64        `json:"fee_cents"`
	NetCents   int64        `json:"net_cents"`
	Tier       TierName     `json:"tier"`
	Status     PayoutStatus `json:"status"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}
