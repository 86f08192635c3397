package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/verdictlabs/verdict/internal/domain"
)

// ─── Reputation Operations ──────────────────────────────────────────────────
// Counters are written by the scoring pipeline; this core mostly reads.

// GetReputation retrieves an account's cumulative counters. An account with
// no row yet gets a zeroed record rather than an error — a brand-new account
// simply has no history.
func (db *DB) GetReputation(ctx context.Context, accountID string) (*domain.ReputationRecord, error) {
	var (
		rep        domain.ReputationRecord
		updatedStr string
	)
	err := db.db.QueryRowContext(ctx, `
		SELECT account_id, judgments, consensus_rate, longest_streak, avg_response_secs, helpfulness_rate, updated_at
		FROM reputation WHERE account_id = ?
	`, accountID).Scan(&rep.AccountID, &rep.Judgments, &rep.ConsensusRate,
		&rep.LongestStreak, &rep.AvgResponseSecs, &rep.HelpfulnessRate, &updatedStr)
	if err == sql.ErrNoRows {
		return &domain.ReputationRecord{AccountID: accountID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	rep.UpdatedAt = parseTime(updatedStr)
	return &rep, nil
}

// UpsertReputation writes an account's counters.
func (db *DB) UpsertReputation(ctx context.Context, rep domain.ReputationRecord) error {
	_, err := db.db.ExecContext(ctx, `
		INSERT INTO reputation
			(account_id, judgments, consensus_rate, longest_streak, avg_response_secs, helpfulness_rate, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET
			judgments         = excluded.judgments,
			consensus_rate    = excluded.consensus_rate,
			longest_streak    = excluded.longest_streak,
			avg_response_secs = excluded.avg_response_secs,
			helpfulness_rate  = excluded.helpfulness_rate,
			updated_at        = excluded.updated_at
	`, rep.AccountID, rep.Judgments, rep.ConsensusRate, rep.LongestStreak,
		rep.AvgResponseSecs, rep.HelpfulnessRate, db.timestamp())
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// ─── Tier High-Water Mark ───────────────────────────────────────────────────

// TierMark returns the highest tier rank the account has ever reached,
// 0 if never recorded.
func (db *DB) TierMark(ctx context.Context, accountID string) (int, error) {
	var rank int
	err := db.db.QueryRowContext(ctx,
		`SELECT tier_rank FROM tier_marks WHERE account_id = ?`, accountID).Scan(&rank)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return rank, nil
}

// AdvanceTierMark raises the persisted mark to rank. The MAX in the upsert
// makes this monotonic even under concurrent advances.
func (db *DB) AdvanceTierMark(ctx context.Context, accountID string, rank int) error {
	_, err := db.db.ExecContext(ctx, `
		INSERT INTO tier_marks (account_id, tier_rank, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET
			tier_rank  = MAX(tier_rank, excluded.tier_rank),
			updated_at = excluded.updated_at
	`, accountID, rank, db.timestamp())
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// ─── Achievement Unlocks ────────────────────────────────────────────────────

// UnlockedKeys returns the set of achievement keys already unlocked for an
// account.
func (db *DB) UnlockedKeys(ctx context.Context, accountID string) (map[string]bool, error) {
	rows, err := db.db.QueryContext(ctx,
		`SELECT key FROM achievement_unlocks WHERE account_id = ?`, accountID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	keys := make(map[string]bool)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
		}
		keys[key] = true
	}
	return keys, rows.Err()
}

// InsertUnlock records an achievement unlock. Returns false when the
// (account, key) pair already exists — double-evaluation is harmless.
func (db *DB) InsertUnlock(ctx context.Context, accountID, key string, at time.Time) (bool, error) {
	res, err := db.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO achievement_unlocks (account_id, key, unlocked_at)
		VALUES (?, ?, ?)
	`, accountID, key, at.UTC().Format(timeFormat))
	if err != nil {
		return false, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	rows, _ := res.RowsAffected()
	return rows > 0, nil
}

// ListUnlocked returns all unlocked achievements for an account.
func (db *DB) ListUnlocked(ctx context.Context, accountID string) ([]domain.UnlockedAchievement, error) {
	rows, err := db.db.QueryContext(ctx, `
		SELECT account_id, key, unlocked_at FROM achievement_unlocks
		WHERE account_id = ? ORDER BY unlocked_at
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var unlocked []domain.UnlockedAchievement
	for rows.Next() {
		var (
			u           domain.UnlockedAchievement
			unlockedStr string
		)
		if err := rows.Scan(&u.AccountID, &u.Key, &unlockedStr); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
		}
		u.UnlockedAt = parseTime(unlockedStr)
		unlocked = append(unlocked, u)
	}
	return unlocked, rows.Err()
}
