package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/verdictlabs/verdict/internal/domain"
)

// ─── Account Operations ─────────────────────────────────────────────────────

// CreateAccount inserts a new account with a zero balance.
func (db *DB) CreateAccount(ctx context.Context, id string) (*domain.Account, error) {
	ts := db.timestamp()
	res, err := db.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO accounts (id, balance, status, created_at, updated_at)
		VALUES (?, 0, ?, ?, ?)
	`, id, domain.AccountActive, ts, ts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return nil, domain.ErrAccountExists
	}
	return db.GetAccount(ctx, id)
}

// GetAccount retrieves an account by id.
func (db *DB) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	var (
		a                      domain.Account
		createdStr, updatedStr string
	)
	err := db.db.QueryRowContext(ctx, `
		SELECT id, balance, status, created_at, updated_at
		FROM accounts WHERE id = ?
	`, id).Scan(&a.ID, &a.Balance, &a.Status, &createdStr, &updatedStr)
	if err == sql.ErrNoRows {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	a.CreatedAt = parseTime(createdStr)
	a.UpdatedAt = parseTime(updatedStr)
	return &a, nil
}

// ─── Atomic Balance Mutation ────────────────────────────────────────────────

// DeductBalance performs the atomic read-check-write: consume the request
// id, verify balance >= amount, and decrement — one transaction, never
// decomposed into separate application-tier calls. This is the correctness
// boundary for concurrent deductions, including across processes.
func (db *DB) DeductBalance(ctx context.Context, accountID string, amount int64, requestID string) (int64, error) {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	// Consume the idempotency key. A duplicate key means this logical
	// action already mutated a balance — reject without touching funds.
	res, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO consumed_requests (request_id, account_id, consumed_at)
		VALUES (?, ?, ?)
	`, requestID, accountID, db.timestamp())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return 0, domain.ErrDuplicateRequest
	}

	// Conditional decrement: the WHERE clause is the funds check. Zero rows
	// affected means the account is missing or short.
	res, err = tx.ExecContext(ctx, `
		UPDATE accounts SET balance = balance - ?, updated_at = ?
		WHERE id = ? AND balance >= ?
	`, amount, db.timestamp(), accountID, amount)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		var exists int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM accounts WHERE id = ?`, accountID).Scan(&exists); err != nil {
			return 0, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
		}
		if exists == 0 {
			return 0, domain.ErrAccountNotFound
		}
		return 0, domain.ErrInsufficientFunds
	}

	var newBalance int64
	if err := tx.QueryRowContext(ctx,
		`SELECT balance FROM accounts WHERE id = ?`, accountID).Scan(&newBalance); err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return newBalance, nil
}

// CreditBalance atomically increments an account's balance.
func (db *DB) CreditBalance(ctx context.Context, accountID string, amount int64) (int64, error) {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE accounts SET balance = balance + ?, updated_at = ?
		WHERE id = ?
	`, amount, db.timestamp(), accountID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return 0, domain.ErrAccountNotFound
	}

	var newBalance int64
	if err := tx.QueryRowContext(ctx,
		`SELECT balance FROM accounts WHERE id = ?`, accountID).Scan(&newBalance); err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return newBalance, nil
}

// RequestUsed reports whether a request id has already been consumed by a
// successful mutation.
func (db *DB) RequestUsed(ctx context.Context, requestID string) (bool, error) {
	var count int
	err := db.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM consumed_requests WHERE request_id = ?`, requestID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return count > 0, nil
}
