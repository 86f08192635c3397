package sqlite

import (
	"context"
	"fmt"

	"github.com/verdictlabs/verdict/internal/domain"
)

// ─── Ledger Operations ──────────────────────────────────────────────────────
// The ledger is append-only: there are deliberately no update or delete
// operations in this file.

// AppendEntry appends one audit record. Concurrent appends are independent;
// no exclusivity is required.
func (db *DB) AppendEntry(ctx context.Context, e domain.LedgerEntry) error {
	success := 0
	if e.Success {
		success = 1
	}
	ts := e.CreatedAt
	if ts.IsZero() {
		ts = db.now()
	}
	_, err := db.db.ExecContext(ctx, `
		INSERT INTO ledger_entries
			(account_id, kind, amount, balance_before, balance_after, request_id, reason, success, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.AccountID, e.Kind, e.Amount, e.BalanceBefore, e.BalanceAfter,
		e.RequestID, e.Reason, success, ts.UTC().Format(timeFormat))
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// EntriesFor returns the most recent ledger entries for an account, newest
// first.
func (db *DB) EntriesFor(ctx context.Context, accountID string, limit int) ([]domain.LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.db.QueryContext(ctx, `
		SELECT id, account_id, kind, amount, balance_before, balance_after, request_id, reason, success, created_at
		FROM ledger_entries WHERE account_id = ?
		ORDER BY id DESC LIMIT ?
	`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		var (
			e          domain.LedgerEntry
			successInt int
			createdStr string
		)
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Kind, &e.Amount,
			&e.BalanceBefore, &e.BalanceAfter, &e.RequestID, &e.Reason,
			&successInt, &createdStr); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
		}
		e.Success = successInt == 1
		e.CreatedAt = parseTime(createdStr)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
