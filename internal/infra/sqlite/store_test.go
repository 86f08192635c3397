package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/verdictlabs/verdict/internal/domain"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "verdict.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// fund seeds an account with a balance via the credit path.
func fund(t *testing.T, db *DB, accountID string, amount int64) {
	t.Helper()
	ctx := context.Background()
	if _, err := db.CreateAccount(ctx, accountID); err != nil {
		t.Fatalf("create account: %v", err)
	}
	if amount > 0 {
		if _, err := db.CreditBalance(ctx, accountID, amount); err != nil {
			t.Fatalf("fund account: %v", err)
		}
	}
}

// ─── Account Tests ──────────────────────────────────────────────────────────

func TestCreateAccount(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	a, err := db.CreateAccount(ctx, "acct-1")
	if err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}
	if a.Balance != 0 {
		t.Errorf("new account balance = %d, want 0", a.Balance)
	}
	if a.Status != domain.AccountActive {
		t.Errorf("new account status = %q, want ACTIVE", a.Status)
	}

	if _, err := db.CreateAccount(ctx, "acct-1"); !errors.Is(err, domain.ErrAccountExists) {
		t.Errorf("duplicate create = %v, want ErrAccountExists", err)
	}
}

func TestGetAccount_NotFound(t *testing.T) {
	db := newTestDB(t)
	if _, err := db.GetAccount(context.Background(), "ghost"); !errors.Is(err, domain.ErrAccountNotFound) {
		t.Errorf("err = %v, want ErrAccountNotFound", err)
	}
}

// ─── Deduct Tests ───────────────────────────────────────────────────────────

func TestDeductBalance(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	fund(t, db, "acct-1", 10)

	newBal, err := db.DeductBalance(ctx, "acct-1", 5, "req-1")
	if err != nil {
		t.Fatalf("DeductBalance failed: %v", err)
	}
	if newBal != 5 {
		t.Errorf("new balance = %d, want 5", newBal)
	}
}

func TestDeductBalance_Insufficient(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	fund(t, db, "acct-1", 3)

	_, err := db.DeductBalance(ctx, "acct-1", 5, "req-2")
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}

	// Nothing mutated, key not consumed
	a, _ := db.GetAccount(ctx, "acct-1")
	if a.Balance != 3 {
		t.Errorf("balance after failed deduct = %d, want 3", a.Balance)
	}
	used, _ := db.RequestUsed(ctx, "req-2")
	if used {
		t.Error("request id consumed by a failed deduct")
	}
}

func TestDeductBalance_Duplicate(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	fund(t, db, "acct-1", 10)

	if _, err := db.DeductBalance(ctx, "acct-1", 5, "req-1"); err != nil {
		t.Fatalf("first deduct failed: %v", err)
	}
	_, err := db.DeductBalance(ctx, "acct-1", 5, "req-1")
	if !errors.Is(err, domain.ErrDuplicateRequest) {
		t.Fatalf("err = %v, want ErrDuplicateRequest", err)
	}

	a, _ := db.GetAccount(ctx, "acct-1")
	if a.Balance != 5 {
		t.Errorf("balance after duplicate = %d, want 5", a.Balance)
	}
}

func TestDeductBalance_AccountNotFound(t *testing.T) {
	db := newTestDB(t)
	_, err := db.DeductBalance(context.Background(), "ghost", 5, "req-1")
	if !errors.Is(err, domain.ErrAccountNotFound) {
		t.Errorf("err = %v, want ErrAccountNotFound", err)
	}
}

func TestDeductBalance_ConcurrentSameRequestID(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	fund(t, db, "acct-1", 100)

	const n = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	successes, duplicates := 0, 0

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := db.DeductBalance(ctx, "acct-1", 5, "req-same")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, domain.ErrDuplicateRequest):
				duplicates++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Errorf("successes = %d, want exactly 1", successes)
	}
	if duplicates != n-1 {
		t.Errorf("duplicates = %d, want %d", duplicates, n-1)
	}

	a, _ := db.GetAccount(ctx, "acct-1")
	if a.Balance != 95 {
		t.Errorf("balance = %d, want 95 (single mutation)", a.Balance)
	}
}

func TestDeductBalance_ConcurrentDistinctRequestIDs(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	fund(t, db, "acct-1", 50)

	// 20 concurrent deducts of 5 against balance 50: exactly 10 can win.
	const n = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := db.DeductBalance(ctx, "acct-1", 5, "req-"+string(rune('a'+i)))
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			} else if !errors.Is(err, domain.ErrInsufficientFunds) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if successes != 10 {
		t.Errorf("successes = %d, want 10", successes)
	}
	a, _ := db.GetAccount(ctx, "acct-1")
	if a.Balance != 0 {
		t.Errorf("balance = %d, want 0", a.Balance)
	}
}

// ─── Credit Tests ───────────────────────────────────────────────────────────

func TestCreditBalance_RoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	fund(t, db, "acct-1", 10)

	if _, err := db.CreditBalance(ctx, "acct-1", 7); err != nil {
		t.Fatalf("credit failed: %v", err)
	}
	if _, err := db.DeductBalance(ctx, "acct-1", 7, "req-rt"); err != nil {
		t.Fatalf("deduct failed: %v", err)
	}

	a, _ := db.GetAccount(ctx, "acct-1")
	if a.Balance != 10 {
		t.Errorf("round-trip balance = %d, want 10", a.Balance)
	}
}

func TestCreditBalance_NotFound(t *testing.T) {
	db := newTestDB(t)
	if _, err := db.CreditBalance(context.Background(), "ghost", 5); !errors.Is(err, domain.ErrAccountNotFound) {
		t.Errorf("err = %v, want ErrAccountNotFound", err)
	}
}

// ─── Ledger Tests ───────────────────────────────────────────────────────────

func TestLedgerAppendAndList(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	fund(t, db, "acct-1", 0)

	entries := []domain.LedgerEntry{
		{AccountID: "acct-1", Kind: domain.OpRefund, Amount: 10, BalanceBefore: 0, BalanceAfter: 10, Reason: "seed", Success: true},
		{AccountID: "acct-1", Kind: domain.OpDeduct, Amount: 4, BalanceBefore: 10, BalanceAfter: 6, RequestID: "req-1", Success: true},
		{AccountID: "acct-1", Kind: domain.OpDeduct, Amount: 99, BalanceBefore: 6, BalanceAfter: 6, RequestID: "req-2", Success: false},
	}
	for _, e := range entries {
		if err := db.AppendEntry(ctx, e); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	got, err := db.EntriesFor(ctx, "acct-1", 10)
	if err != nil {
		t.Fatalf("EntriesFor failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("entries = %d, want 3", len(got))
	}
	// Newest first
	if got[0].RequestID != "req-2" || got[0].Success {
		t.Errorf("newest entry = %+v, want failed req-2", got[0])
	}
	if got[1].Kind != domain.OpDeduct || got[1].BalanceAfter != 6 {
		t.Errorf("middle entry = %+v, want successful deduct to 6", got[1])
	}
}

// ─── Payout Tests ───────────────────────────────────────────────────────────

func testPayout(id, account string) domain.PayoutRequest {
	return domain.PayoutRequest{
		ID:         id,
		AccountID:  account,
		Credits:    20,
		GrossCents: 1500,
		FeeCents:   150,
		NetCents:   1350,
		Tier:       domain.TierMagistrate,
		Status:     domain.PayoutPending,
	}
}

func TestPayoutLifecycle(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := db.CreatePayout(ctx, testPayout("pay-1", "acct-1")); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	p, err := db.GetPayout(ctx, "pay-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if p.Status != domain.PayoutPending || p.NetCents != 1350 {
		t.Errorf("payout = %+v, want pending/1350", p)
	}

	if err := db.SetPayoutStatus(ctx, "pay-1", domain.PayoutApproved); err != nil {
		t.Fatalf("approve failed: %v", err)
	}
	if err := db.SetPayoutStatus(ctx, "pay-1", domain.PayoutSettled); err != nil {
		t.Fatalf("settle failed: %v", err)
	}

	// Terminal: no further transitions
	err = db.SetPayoutStatus(ctx, "pay-1", domain.PayoutRejected)
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("transition from settled = %v, want ErrInvalidTransition", err)
	}
}

func TestSetPayoutStatus_NotFound(t *testing.T) {
	db := newTestDB(t)
	err := db.SetPayoutStatus(context.Background(), "ghost", domain.PayoutApproved)
	if !errors.Is(err, domain.ErrPayoutNotFound) {
		t.Errorf("err = %v, want ErrPayoutNotFound", err)
	}
}

func TestStalePending(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	db.now = func() time.Time { return base }

	old := testPayout("pay-old", "acct-1")
	old.CreatedAt = base.Add(-time.Hour)
	if err := db.CreatePayout(ctx, old); err != nil {
		t.Fatal(err)
	}

	fresh := testPayout("pay-fresh", "acct-1")
	fresh.CreatedAt = base
	if err := db.CreatePayout(ctx, fresh); err != nil {
		t.Fatal(err)
	}

	done := testPayout("pay-done", "acct-2")
	done.CreatedAt = base.Add(-2 * time.Hour)
	if err := db.CreatePayout(ctx, done); err != nil {
		t.Fatal(err)
	}
	if err := db.SetPayoutStatus(ctx, "pay-done", domain.PayoutApproved); err != nil {
		t.Fatal(err)
	}

	stale, err := db.StalePending(ctx, base.Add(-10*time.Minute))
	if err != nil {
		t.Fatalf("StalePending failed: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != "pay-old" {
		t.Errorf("stale = %+v, want only pay-old", stale)
	}
}

// ─── Reputation & Tier Mark Tests ───────────────────────────────────────────

func TestReputationUpsert(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	// Missing rows read as zeroed counters
	rep, err := db.GetReputation(ctx, "acct-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if rep.Judgments != 0 {
		t.Errorf("fresh judgments = %d, want 0", rep.Judgments)
	}

	if err := db.UpsertReputation(ctx, domain.ReputationRecord{
		AccountID: "acct-1", Judgments: 150, ConsensusRate: 80, LongestStreak: 12,
	}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	rep, _ = db.GetReputation(ctx, "acct-1")
	if rep.Judgments != 150 || rep.ConsensusRate != 80 {
		t.Errorf("counters = %d/%d, want 150/80", rep.Judgments, rep.ConsensusRate)
	}
}

func TestTierMark_Monotonic(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if rank, _ := db.TierMark(ctx, "acct-1"); rank != 0 {
		t.Errorf("fresh mark = %d, want 0", rank)
	}

	db.AdvanceTierMark(ctx, "acct-1", 4)
	if rank, _ := db.TierMark(ctx, "acct-1"); rank != 4 {
		t.Errorf("mark = %d, want 4", rank)
	}

	// Advancing to a lower rank must not demote
	db.AdvanceTierMark(ctx, "acct-1", 2)
	if rank, _ := db.TierMark(ctx, "acct-1"); rank != 4 {
		t.Errorf("mark after lower advance = %d, want 4", rank)
	}

	db.AdvanceTierMark(ctx, "acct-1", 5)
	if rank, _ := db.TierMark(ctx, "acct-1"); rank != 5 {
		t.Errorf("mark = %d, want 5", rank)
	}
}

// ─── Achievement Tests ──────────────────────────────────────────────────────

func TestInsertUnlock_Idempotent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	inserted, err := db.InsertUnlock(ctx, "acct-1", "first_judgment", at)
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if !inserted {
		t.Error("first insert should report true")
	}

	inserted, err = db.InsertUnlock(ctx, "acct-1", "first_judgment", at.Add(time.Hour))
	if err != nil {
		t.Fatalf("second insert failed: %v", err)
	}
	if inserted {
		t.Error("second insert should report false")
	}

	keys, _ := db.UnlockedKeys(ctx, "acct-1")
	if len(keys) != 1 || !keys["first_judgment"] {
		t.Errorf("keys = %v, want {first_judgment}", keys)
	}

	unlocked, _ := db.ListUnlocked(ctx, "acct-1")
	if len(unlocked) != 1 {
		t.Fatalf("unlocked = %d records, want 1", len(unlocked))
	}
	if !unlocked[0].UnlockedAt.Equal(at) {
		t.Errorf("unlock time = %v, want original %v (no overwrite)", unlocked[0].UnlockedAt, at)
	}
}
