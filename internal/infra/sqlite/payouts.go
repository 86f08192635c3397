package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/verdictlabs/verdict/internal/domain"
)

// ─── Payout Request Operations ──────────────────────────────────────────────

// CreatePayout inserts a new payout request.
func (db *DB) CreatePayout(ctx context.Context, p domain.PayoutRequest) error {
	created := p.CreatedAt
	if created.IsZero() {
		created = db.now()
	}
	updated := p.UpdatedAt
	if updated.IsZero() {
		updated = created
	}
	_, err := db.db.ExecContext(ctx, `
		INSERT INTO payout_requests
			(id, account_id, credits, gross_cents, fee_cents, net_cents, tier, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.AccountID, p.Credits, p.GrossCents, p.FeeCents, p.NetCents,
		p.Tier, p.Status, created.UTC().Format(timeFormat), updated.UTC().Format(timeFormat))
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// GetPayout retrieves a payout request by id.
func (db *DB) GetPayout(ctx context.Context, id string) (*domain.PayoutRequest, error) {
	row := db.db.QueryRowContext(ctx, `
		SELECT id, account_id, credits, gross_cents, fee_cents, net_cents, tier, status, created_at, updated_at
		FROM payout_requests WHERE id = ?
	`, id)
	p, err := scanPayout(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrPayoutNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return p, nil
}

// PayoutsFor returns an account's payout requests, newest first.
func (db *DB) PayoutsFor(ctx context.Context, accountID string, limit int) ([]domain.PayoutRequest, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.db.QueryContext(ctx, `
		SELECT id, account_id, credits, gross_cents, fee_cents, net_cents, tier, status, created_at, updated_at
		FROM payout_requests WHERE account_id = ?
		ORDER BY created_at DESC LIMIT ?
	`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var payouts []domain.PayoutRequest
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
		}
		payouts = append(payouts, *p)
	}
	return payouts, rows.Err()
}

// SetPayoutStatus transitions a payout request. The current status is read
// and checked against the status machine inside the same transaction, so
// two concurrent transitions cannot both win.
func (db *DB) SetPayoutStatus(ctx context.Context, id string, next domain.PayoutStatus) error {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	var current domain.PayoutStatus
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM payout_requests WHERE id = ?`, id).Scan(&current)
	if err == sql.ErrNoRows {
		return domain.ErrPayoutNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}

	if !current.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s → %s", domain.ErrInvalidTransition, current, next)
	}

	// The status guard in the WHERE clause keeps a racing writer that
	// committed between our read and this write from being overwritten.
	res, err := tx.ExecContext(ctx, `
		UPDATE payout_requests SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, next, db.timestamp(), id, current)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return fmt.Errorf("%w: concurrent transition on %s", domain.ErrInvalidTransition, id)
	}
	return tx.Commit()
}

// StalePending returns pending payout requests created before the cutoff.
// Used by the reconciler to detect crash windows between record creation
// and fund reservation.
func (db *DB) StalePending(ctx context.Context, cutoff time.Time) ([]domain.PayoutRequest, error) {
	rows, err := db.db.QueryContext(ctx, `
		SELECT id, account_id, credits, gross_cents, fee_cents, net_cents, tier, status, created_at, updated_at
		FROM payout_requests WHERE status = ? AND created_at < ?
	`, domain.PayoutPending, cutoff.UTC().Format(timeFormat))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var payouts []domain.PayoutRequest
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
		}
		payouts = append(payouts, *p)
	}
	return payouts, rows.Err()
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanPayout(s scanner) (*domain.PayoutRequest, error) {
	var (
		p                      domain.PayoutRequest
		createdStr, updatedStr string
	)
	if err := s.Scan(&p.ID, &p.AccountID, &p.Credits, &p.GrossCents,
		&p.FeeCents, &p.NetCents, &p.Tier, &p.Status, &createdStr, &updatedStr); err != nil {
		return nil, err
	}
	p.CreatedAt = parseTime(createdStr)
	p.UpdatedAt = parseTime(updatedStr)
	return &p, nil
}
