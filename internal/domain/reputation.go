package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ─── Reputation Types ───────────────────────────────────────────────────────
// Cumulative performance counters per account. Written by the scoring
// pipeline; this core only reads them. Counters never decrease.

// ReputationRecord holds an account's cumulative performance counters.
type ReputationRecord struct {
	AccountID       string    `json:"account_id"`
	Judgments       int64     `json:"judgments"`        // total completed judgments
	ConsensusRate   int       `json:"consensus_rate"`   // 0–100 agreement with peer majority
	LongestStreak   int       `json:"longest_streak"`   // consecutive active days, best ever
	AvgResponseSecs float64   `json:"avg_response_secs"`
	HelpfulnessRate int       `json:"helpfulness_rate"` // 0–100 "was this helpful" votes
	UpdatedAt       time.Time `json:"updated_at"`
}

// ─── Tier Ladder ────────────────────────────────────────────────────────────

// TierName identifies a reputation tier.
type TierName string

const (
	TierClerk        TierName = "clerk"
	TierJuror        TierName = "juror"
	TierJudge        TierName = "judge"
	TierMagistrate   TierName = "magistrate"
	TierSupremeCourt TierName = "supreme_court"
)

// Tier is one discrete reputation level. Tiers form a total order by Rank;
// an account qualifies for a tier when BOTH MinJudgments and MinConsensus
// are met.
type Tier struct {
	Name         TierName        `json:"name"`
	Rank         int             `json:"rank"`
	MinJudgments int64           `json:"min_judgments"`
	MinConsensus int             `json:"min_consensus"`
	Multiplier   decimal.Decimal `json:"multiplier"`    // credit-earning multiplier
	PayoutOK     bool            `json:"payout_ok"`     // cash payout enabled
	CreditRate   decimal.Decimal `json:"credit_rate"`   // dollars per credit
	FeeRate      decimal.Decimal `json:"fee_rate"`      // processing fee fraction
	MinPayout    int64           `json:"min_payout"`    // minimum credits per payout
}

// Qualifies reports whether the reputation record meets this tier's
// requirements.
func (t Tier) Qualifies(rep ReputationRecord) bool {
	return rep.Judgments >= t.MinJudgments && rep.ConsensusRate >= t.MinConsensus
}

// TierLadder returns all tiers ordered highest rank first, which is the
// evaluation order for tier determination.
func TierLadder() []Tier {
	return []Tier{
		{
			Name:         TierSupremeCourt,
			Rank:         5,
			MinJudgments: 500,
			MinConsensus: 85,
			Multiplier:   decimal.RequireFromString("2.0"),
			PayoutOK:     true,
			CreditRate:   decimal.RequireFromString("1.00"),
			FeeRate:      decimal.RequireFromString("0.05"),
			MinPayout:    10,
		},
		{
			Name:         TierMagistrate,
			Rank:         4,
			MinJudgments: 100,
			MinConsensus: 70,
			Multiplier:   decimal.RequireFromString("1.5"),
			PayoutOK:     true,
			CreditRate:   decimal.RequireFromString("0.75"),
			FeeRate:      decimal.RequireFromString("0.10"),
			MinPayout:    20,
		},
		{
			Name:         TierJudge,
			Rank:         3,
			MinJudgments: 50,
			MinConsensus: 60,
			Multiplier:   decimal.RequireFromString("1.25"),
			PayoutOK:     true,
			CreditRate:   decimal.RequireFromString("0.50"),
			FeeRate:      decimal.RequireFromString("0.15"),
			MinPayout:    50,
		},
		{
			Name:         TierJuror,
			Rank:         2,
			MinJudgments: 10,
			MinConsensus: 50,
			Multiplier:   decimal.RequireFromString("1.1"),
			PayoutOK:     false,
		},
		{
			Name:         TierClerk,
			Rank:         1,
			MinJudgments: 0,
			MinConsensus: 0,
			Multiplier:   decimal.RequireFromString("1.0"),
			PayoutOK:     false,
		},
	}
}

// TierByName looks up a tier in the ladder. Falls back to the base tier for
// unknown names so stale persisted names never panic a read path.
func TierByName(name TierName) Tier {
	ladder := TierLadder()
	for _, t := range ladder {
		if t.Name == name {
			return t
		}
	}
	return ladder[len(ladder)-1]
}

// TierByRank looks up a tier by rank, falling back to the base tier.
func TierByRank(rank int) Tier {
	ladder := TierLadder()
	for _, t := range ladder {
		if t.Rank == rank {
			return t
		}
	}
	return ladder[len(ladder)-1]
}

// ─── Achievements ───────────────────────────────────────────────────────────

// UnlockedAchievement records a permanent, one-time achievement unlock.
type UnlockedAchievement struct {
	AccountID  string    `json:"account_id"`
	Key        string    `json:"key"`
	UnlockedAt time.Time `json:"unlocked_at"`
}
