// Package tier derives reputation tiers and evaluates achievement unlocks.
//
// Tiers are computed, not stored: the ladder is scanned highest-first
// against the account's cumulative counters. What IS stored is a per-account
// high-water mark, so a tier once reached is never taken away even if the
// ladder thresholds change underneath an account.
package tier

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/verdictlabs/verdict/internal/domain"
	"github.com/verdictlabs/verdict/internal/infra/observability"
)

// Store is the slice of the persistent store the tier engine needs.
type Store interface {
	domain.ReputationStore
	domain.AchievementStore
}

// Engine computes tiers and achievement unlocks from reputation counters.
type Engine struct {
	store   Store
	metrics *observability.Metrics
	log     zerolog.Logger

	now func() time.Time
}

// New creates a tier engine.
func New(store Store, metrics *observability.Metrics, log zerolog.Logger) *Engine {
	return &Engine{
		store:   store,
		metrics: metrics,
		log:     log.With().Str("component", "tier").Logger(),
		now:     time.Now,
	}
}

// ─── Tier Determination ─────────────────────────────────────────────────────

// DetermineTier returns the highest tier whose requirements the record
// meets. Pure: no store interaction, no high-water mark.
func DetermineTier(rep domain.ReputationRecord) domain.Tier {
	ladder := domain.TierLadder()
	for _, t := range ladder {
		if t.Qualifies(rep) {
			return t
		}
	}
	return ladder[len(ladder)-1]
}

// TierFor returns the account's effective tier: the higher of the tier
// computed from current counters and the persisted high-water mark. When
// the computed tier exceeds the mark, the mark is advanced.
func (e *Engine) TierFor(ctx context.Context, accountID string) (domain.Tier, error) {
	rep, err := e.store.GetReputation(ctx, accountID)
	if err != nil {
		return domain.Tier{}, fmt.Errorf("tier for %s: %w", accountID, err)
	}
	computed := DetermineTier(*rep)

	mark, err := e.store.TierMark(ctx, accountID)
	if err != nil {
		return domain.Tier{}, fmt.Errorf("tier for %s: %w", accountID, err)
	}

	if computed.Rank > mark {
		// Advancing the mark is best effort: a failed write costs nothing
		// now (the computed tier is returned regardless) and the next call
		// retries it.
		if err := e.store.AdvanceTierMark(ctx, accountID, computed.Rank); err != nil {
			e.log.Warn().
				Str("account", accountID).
				Int("rank", computed.Rank).
				Err(err).
				Msg("tier mark not advanced")
		} else {
			e.log.Info().
				Str("account", accountID).
				Str("tier", string(computed.Name)).
				Msg("tier advanced")
		}
		return computed, nil
	}
	if computed.Rank < mark {
		// Counters can regress relative to ladder changes; the mark wins.
		return domain.TierByRank(mark), nil
	}
	return computed, nil
}

// ─── Progress ───────────────────────────────────────────────────────────────

// Progress describes how far a record is from the next tier up.
type Progress struct {
	Current         domain.Tier  `json:"current"`
	Next            *domain.Tier `json:"next,omitempty"` // nil at the top of the ladder
	JudgmentPct     int          `json:"judgment_pct"`
	ConsensusPct    int          `json:"consensus_pct"`
	JudgmentsNeeded int64        `json:"judgments_needed"`
	ConsensusNeeded int          `json:"consensus_needed"`
}

// ProgressFor computes progress toward the next tier, with the current
// tier derived from the counters alone. Pure.
func ProgressFor(rep domain.ReputationRecord) Progress {
	return ProgressFrom(DetermineTier(rep), rep)
}

// Progress computes progress from the account's effective tier — the same
// high-water-marked tier TierFor reports — so the two never disagree on
// where the account currently stands.
func (e *Engine) Progress(ctx context.Context, accountID string) (Progress, error) {
	current, err := e.TierFor(ctx, accountID)
	if err != nil {
		return Progress{}, err
	}
	rep, err := e.store.GetReputation(ctx, accountID)
	if err != nil {
		return Progress{}, fmt.Errorf("progress for %s: %w", accountID, err)
	}
	return ProgressFrom(current, *rep), nil
}

// ProgressFrom computes progress from an explicit current tier. Pure.
func ProgressFrom(current domain.Tier, rep domain.ReputationRecord) Progress {
	next := nextTier(current)
	if next == nil {
		return Progress{Current: current, JudgmentPct: 100, ConsensusPct: 100}
	}

	p := Progress{
		Current:      current,
		Next:         next,
		JudgmentPct:  pctOf(rep.Judgments, next.MinJudgments),
		ConsensusPct: pctOf(int64(rep.ConsensusRate), int64(next.MinConsensus)),
	}
	if rep.Judgments < next.MinJudgments {
		p.JudgmentsNeeded = next.MinJudgments - rep.Judgments
	}
	if rep.ConsensusRate < next.MinConsensus {
		p.ConsensusNeeded = next.MinConsensus - rep.ConsensusRate
	}
	return p
}

func nextTier(current domain.Tier) *domain.Tier {
	var next *domain.Tier
	for _, t := range domain.TierLadder() {
		if t.Rank == current.Rank+1 {
			tt := t
			next = &tt
		}
	}
	return next
}

func pctOf(have, want int64) int {
	if want <= 0 || have >= want {
		return 100
	}
	return int(have * 100 / want)
}

// ─── Achievements ───────────────────────────────────────────────────────────

// Achievement is a one-time-unlockable flag gated by a reputation predicate.
type Achievement struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	Description string `json:"description"`

	unlocked func(domain.ReputationRecord) bool
}

// Catalog returns every defined achievement, in display order.
func Catalog() []Achievement {
	return []Achievement{
		{
			Key:         "first_judgment",
			Name:        "First Judgment",
			Description: "Complete your first judgment",
			unlocked:    func(r domain.ReputationRecord) bool { return r.Judgments >= 1 },
		},
		{
			Key:         "centurion",
			Name:        "Centurion",
			Description: "Complete 100 judgments",
			unlocked:    func(r domain.ReputationRecord) bool { return r.Judgments >= 100 },
		},
		{
			Key:         "marathon",
			Name:        "Marathon",
			Description: "Complete 500 judgments",
			unlocked:    func(r domain.ReputationRecord) bool { return r.Judgments >= 500 },
		},
		{
			Key:         "consensus_builder",
			Name:        "Consensus Builder",
			Description: "Hold an 80%+ consensus rate over 50 judgments",
			unlocked: func(r domain.ReputationRecord) bool {
				return r.ConsensusRate >= 80 && r.Judgments >= 50
			},
		},
		{
			Key:         "week_streak",
			Name:        "Seven Straight",
			Description: "Stay active seven days in a row",
			unlocked:    func(r domain.ReputationRecord) bool { return r.LongestStreak >= 7 },
		},
		{
			Key:         "iron_streak",
			Name:        "Iron Streak",
			Description: "Stay active thirty days in a row",
			unlocked:    func(r domain.ReputationRecord) bool { return r.LongestStreak >= 30 },
		},
		{
			Key:         "quick_draw",
			Name:        "Quick Draw",
			Description: "Average under a minute per response across 25 judgments",
			unlocked: func(r domain.ReputationRecord) bool {
				return r.Judgments >= 25 && r.AvgResponseSecs > 0 && r.AvgResponseSecs <= 60
			},
		},
		{
			Key:         "crowd_favorite",
			Name:        "Crowd Favorite",
			Description: "Hold a 90%+ helpfulness rate over 20 judgments",
			unlocked: func(r domain.ReputationRecord) bool {
				return r.HelpfulnessRate >= 90 && r.Judgments >= 20
			},
		},
	}
}

// CheckAchievements evaluates every catalog predicate against rep and
// records newly-true ones, returning only the achievements unlocked by THIS
// call. Double evaluation is harmless: the store's unique constraint makes
// the insert idempotent, and already-unlocked keys are skipped up front.
// A failed insert is logged and skipped, never fatal — the next check
// retries it.
func (e *Engine) CheckAchievements(ctx context.Context, accountID string, rep domain.ReputationRecord) ([]Achievement, error) {
	have, err := e.store.UnlockedKeys(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("check achievements for %s: %w", accountID, err)
	}

	var fresh []Achievement
	for _, a := range Catalog() {
		if have[a.Key] || !a.unlocked(rep) {
			continue
		}
		inserted, err := e.store.InsertUnlock(ctx, accountID, a.Key, e.now())
		if err != nil {
			e.log.Warn().
				Str("account", accountID).
				Str("achievement", a.Key).
				Err(err).
				Msg("achievement unlock not recorded")
			continue
		}
		if !inserted {
			// Lost a race with a concurrent check; the other caller
			// reports it.
			continue
		}
		e.metrics.AchievementUnlocks.Inc()
		e.log.Info().
			Str("account", accountID).
			Str("achievement", a.Key).
			Msg("achievement unlocked")
		fresh = append(fresh, a)
	}
	return fresh, nil
}

// Reputation returns the account's cumulative counters, zeroed for
// accounts the scoring pipeline has not written yet.
func (e *Engine) Reputation(ctx context.Context, accountID string) (*domain.ReputationRecord, error) {
	return e.store.GetReputation(ctx, accountID)
}

// Unlocked returns every achievement the account has ever unlocked.
func (e *Engine) Unlocked(ctx context.Context, accountID string) ([]domain.UnlockedAchievement, error) {
	return e.store.ListUnlocked(ctx, accountID)
}
