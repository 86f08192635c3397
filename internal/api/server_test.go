package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/verdictlabs/verdict/internal/app/guard"
	"github.com/verdictlabs/verdict/internal/app/payout"
	"github.com/verdictlabs/verdict/internal/app/tier"
	"github.com/verdictlabs/verdict/internal/domain"
	"github.com/verdictlabs/verdict/internal/infra/keylock"
	"github.com/verdictlabs/verdict/internal/infra/observability"
	"github.com/verdictlabs/verdict/internal/infra/sqlite"
)

func newTestServer(t *testing.T) (*httptest.Server, *sqlite.DB) {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "verdict.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	metrics := observability.NewNop()
	log := zerolog.Nop()
	g := guard.New(db, keylock.New(30*time.Second), metrics, log)
	tiers := tier.New(db, metrics, log)
	payouts := payout.New(db, g, tiers, metrics, log)

	srv := httptest.NewServer(NewServer(g, tiers, payouts, db, log).Handler())
	t.Cleanup(srv.Close)
	return srv, db
}

func doJSON(t *testing.T, method, url string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	var decoded map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("%s %s: decode response: %v", method, url, err)
	}
	return resp, decoded
}

func errKind(t *testing.T, body map[string]interface{}) string {
	t.Helper()
	e, ok := body["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("no error object in %v", body)
	}
	kind, _ := e["kind"].(string)
	return kind
}

// ─── Account & Guard Routes ─────────────────────────────────────────────────

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, body := doJSON(t, http.MethodGet, srv.URL+"/health", nil)
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Errorf("health = %d %v", resp.StatusCode, body)
	}
}

func TestCreateAccount(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/accounts", map[string]string{"id": "acct-1"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, body %v", resp.StatusCode, body)
	}

	// Duplicate id conflicts
	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/accounts", map[string]string{"id": "acct-1"})
	if resp.StatusCode != http.StatusConflict || errKind(t, body) != "account_exists" {
		t.Errorf("duplicate create = %d %v", resp.StatusCode, body)
	}

	// Missing id fails validation
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/accounts", map[string]string{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty create = %d, want 400", resp.StatusCode)
	}
}

func TestDeductRoute(t *testing.T) {
	srv, db := newTestServer(t)
	seedAccount(t, db, "acct-1", 10)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/accounts/acct-1/deduct",
		map[string]interface{}{"amount": 5, "request_id": "req-1"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("deduct = %d %v", resp.StatusCode, body)
	}
	if body["balance"].(float64) != 5 {
		t.Errorf("balance = %v, want 5", body["balance"])
	}

	// Same request id again: conflict, balance untouched
	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/accounts/acct-1/deduct",
		map[string]interface{}{"amount": 5, "request_id": "req-1"})
	if resp.StatusCode != http.StatusConflict || errKind(t, body) != "duplicate_request" {
		t.Errorf("duplicate deduct = %d %v", resp.StatusCode, body)
	}

	// Over-balance deduct
	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/accounts/acct-1/deduct",
		map[string]interface{}{"amount": 50, "request_id": "req-2"})
	if resp.StatusCode != http.StatusUnprocessableEntity || errKind(t, body) != "insufficient_funds" {
		t.Errorf("over-balance deduct = %d %v", resp.StatusCode, body)
	}

	// Unknown account
	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/accounts/ghost/deduct",
		map[string]interface{}{"amount": 1, "request_id": "req-3"})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("ghost deduct = %d %v", resp.StatusCode, body)
	}
}

func TestRefundAndLedgerRoutes(t *testing.T) {
	srv, db := newTestServer(t)
	seedAccount(t, db, "acct-1", 0)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/accounts/acct-1/refund",
		map[string]interface{}{"amount": 8, "reason": "judgment rejected"})
	if resp.StatusCode != http.StatusOK || body["balance"].(float64) != 8 {
		t.Fatalf("refund = %d %v", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/accounts/acct-1/ledger?limit=10", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ledger = %d %v", resp.StatusCode, body)
	}
	entries := body["entries"].([]interface{})
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/accounts/acct-1/ledger?limit=bogus", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bogus limit = %d, want 400", resp.StatusCode)
	}
}

// ─── Tier Routes ────────────────────────────────────────────────────────────

func TestTierRoutes(t *testing.T) {
	srv, db := newTestServer(t)
	seedAccount(t, db, "acct-1", 0)
	seedReputation(t, db, "acct-1", 150, 80)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/accounts/acct-1/tier", nil)
	if resp.StatusCode != http.StatusOK || body["name"] != "magistrate" {
		t.Errorf("tier = %d %v", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/accounts/acct-1/tier/progress", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("progress = %d %v", resp.StatusCode, body)
	}
	next := body["next"].(map[string]interface{})
	if next["name"] != "supreme_court" {
		t.Errorf("next tier = %v, want supreme_court", next["name"])
	}
}

func TestAchievementRoutes(t *testing.T) {
	srv, db := newTestServer(t)
	seedAccount(t, db, "acct-1", 0)
	seedReputation(t, db, "acct-1", 120, 82)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/accounts/acct-1/achievements/check", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("check = %d %v", resp.StatusCode, body)
	}
	fresh := body["newly_unlocked"].([]interface{})
	if len(fresh) == 0 {
		t.Fatal("no achievements unlocked")
	}

	// Second check unlocks nothing new
	_, body = doJSON(t, http.MethodPost, srv.URL+"/api/accounts/acct-1/achievements/check", nil)
	if body["newly_unlocked"] != nil {
		t.Errorf("second check = %v, want null", body["newly_unlocked"])
	}

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/accounts/acct-1/achievements", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list = %d %v", resp.StatusCode, body)
	}
	if got := len(body["unlocked"].([]interface{})); got != len(fresh) {
		t.Errorf("unlocked list = %d entries, want %d", got, len(fresh))
	}
}

// ─── Payout Routes ──────────────────────────────────────────────────────────

func TestPayoutRoutes(t *testing.T) {
	srv, db := newTestServer(t)
	seedAccount(t, db, "acct-1", 100)
	seedReputation(t, db, "acct-1", 150, 80)

	// Quote: 20 credits at magistrate rates
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/payouts/quote",
		map[string]interface{}{"account_id": "acct-1", "credits": 20})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("quote = %d %v", resp.StatusCode, body)
	}
	if body["gross_cents"].(float64) != 1500 || body["net_cents"].(float64) != 1350 {
		t.Errorf("quote = %v", body)
	}

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/payouts",
		map[string]interface{}{"account_id": "acct-1", "credits": 20})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("request = %d %v", resp.StatusCode, body)
	}
	id := body["id"].(string)
	if body["status"] != string(domain.PayoutPending) {
		t.Errorf("status = %v, want PENDING", body["status"])
	}

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/payouts/"+id+"/approve", nil)
	if resp.StatusCode != http.StatusOK || body["status"] != string(domain.PayoutApproved) {
		t.Fatalf("approve = %d %v", resp.StatusCode, body)
	}
	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/payouts/"+id+"/settle", nil)
	if resp.StatusCode != http.StatusOK || body["status"] != string(domain.PayoutSettled) {
		t.Fatalf("settle = %d %v", resp.StatusCode, body)
	}

	// Settled is terminal
	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/payouts/"+id+"/reject", nil)
	if resp.StatusCode != http.StatusConflict || errKind(t, body) != "invalid_transition" {
		t.Errorf("reject settled = %d %v", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/accounts/acct-1/payouts", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list = %d %v", resp.StatusCode, body)
	}
	if got := len(body["payouts"].([]interface{})); got != 1 {
		t.Errorf("payout list = %d entries, want 1", got)
	}
}

func TestPayoutRoutes_Gates(t *testing.T) {
	srv, db := newTestServer(t)
	seedAccount(t, db, "acct-1", 100)
	// Juror tier: no cashout
	seedReputation(t, db, "acct-1", 10, 50)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/payouts/quote",
		map[string]interface{}{"account_id": "acct-1", "credits": 50})
	if resp.StatusCode != http.StatusUnprocessableEntity || errKind(t, body) != "payout_not_eligible" {
		t.Errorf("juror quote = %d %v", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/payouts/no-such-id", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing payout = %d %v", resp.StatusCode, body)
	}
}

// ─── Seed Helpers ───────────────────────────────────────────────────────────

func seedAccount(t *testing.T, db *sqlite.DB, id string, balance int64) {
	t.Helper()
	ctx := context.Background()
	if _, err := db.CreateAccount(ctx, id); err != nil {
		t.Fatal(err)
	}
	if balance > 0 {
		if _, err := db.CreditBalance(ctx, id, balance); err != nil {
			t.Fatal(err)
		}
	}
}

func seedReputation(t *testing.T, db *sqlite.DB, id string, judgments int64, consensus int) {
	t.Helper()
	err := db.UpsertReputation(context.Background(), domain.ReputationRecord{
		AccountID: id, Judgments: judgments, ConsensusRate: consensus,
	})
	if err != nil {
		t.Fatal(err)
	}
}
