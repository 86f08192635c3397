// Package sqlite implements the persistent store contract on SQLite.
// It is the authoritative store for account balances, the append-only
// ledger, payout requests, reputation counters, and achievement unlocks.
//
// The balance decrement is a single transaction (consume request id, then
// conditional update) — the one operation the in-process lock cannot
// substitute for, since multiple service instances may run against the same
// database file.
package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite connection and implements domain.Store.
type DB struct {
	db *sql.DB

	// Injectable clock for testing.
	now func() time.Time
}

// Open opens (or creates) the database at path and applies migrations.
// WAL mode and a busy timeout keep concurrent writers from failing fast on
// the file lock.
func Open(path string) (*DB, error) {
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)",
		path,
	)
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db := &DB{db: sqlDB, now: time.Now}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// Close closes the underlying database.
func (db *DB) Close() error {
	return db.db.Close()
}

// ─── Schema ─────────────────────────────────────────────────────────────────

// Migrations returns the schema migration statements.
// Each string is a single SQL statement (SQLite executes one at a time).
func Migrations() []string {
	return []string{
		// Account balances. The CHECK is defense in depth: even a buggy
		// write path cannot drive a balance negative.
		`CREATE TABLE IF NOT EXISTS accounts (
			id         TEXT PRIMARY KEY,
			balance    INTEGER NOT NULL DEFAULT 0 CHECK(balance >= 0),
			status     TEXT NOT NULL DEFAULT 'ACTIVE',
			created_at TEXT NOT NULL DEFAULT (datetime('now')),
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,

		// Consumed idempotency keys. The primary key is what collapses
		// concurrent retries of one logical action into a single mutation.
		`CREATE TABLE IF NOT EXISTS consumed_requests (
			request_id  TEXT PRIMARY KEY,
			account_id  TEXT NOT NULL,
			consumed_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_consumed_account ON consumed_requests(account_id)`,

		// Append-only audit ledger. One row per mutation attempt, success
		// or not. Never updated, never deleted.
		`CREATE TABLE IF NOT EXISTS ledger_entries (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			account_id     TEXT NOT NULL,
			kind           TEXT NOT NULL,
			amount         INTEGER NOT NULL,
			balance_before INTEGER NOT NULL,
			balance_after  INTEGER NOT NULL,
			request_id     TEXT DEFAULT '',
			reason         TEXT DEFAULT '',
			success        INTEGER NOT NULL DEFAULT 0,
			created_at     TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_account ON ledger_entries(account_id, id DESC)`,

		// Payout requests
		`CREATE TABLE IF NOT EXISTS payout_requests (
			id          TEXT PRIMARY KEY,
			account_id  TEXT NOT NULL,
			credits     INTEGER NOT NULL,
			gross_cents INTEGER NOT NULL,
			fee_cents   INTEGER NOT NULL,
			net_cents   INTEGER NOT NULL,
			tier        TEXT NOT NULL,
			status      TEXT NOT NULL DEFAULT 'PENDING',
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_payout_account ON payout_requests(account_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_payout_status ON payout_requests(status)`,

		// Reputation counters, written by the scoring pipeline
		`CREATE TABLE IF NOT EXISTS reputation (
			account_id        TEXT PRIMARY KEY,
			judgments         INTEGER NOT NULL DEFAULT 0,
			consensus_rate    INTEGER NOT NULL DEFAULT 0,
			longest_streak    INTEGER NOT NULL DEFAULT 0,
			avg_response_secs REAL NOT NULL DEFAULT 0,
			helpfulness_rate  INTEGER NOT NULL DEFAULT 0,
			updated_at        TEXT NOT NULL DEFAULT (datetime('now'))
		)`,

		// Monotonic tier high-water mark: the highest tier rank an account
		// has ever reached. Only ever raised.
		`CREATE TABLE IF NOT EXISTS tier_marks (
			account_id TEXT PRIMARY KEY,
			tier_rank  INTEGER NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,

		// One-time achievement unlocks; the composite key makes repeated
		// unlock attempts harmless.
		`CREATE TABLE IF NOT EXISTS achievement_unlocks (
			account_id  TEXT NOT NULL,
			key         TEXT NOT NULL,
			unlocked_at TEXT NOT NULL,
			PRIMARY KEY (account_id, key)
		)`,
	}
}

// migrate applies all schema statements.
func (db *DB) migrate() error {
	for _, stmt := range Migrations() {
		if _, err := db.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}
	return nil
}

// ─── Time Helpers ───────────────────────────────────────────────────────────

const timeFormat = time.RFC3339

func (db *DB) timestamp() string {
	return db.now().UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	// datetime('now') default format
	t, _ := time.Parse("2006-01-02 15:04:05", s)
	return t
}
