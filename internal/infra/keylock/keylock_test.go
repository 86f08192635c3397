package keylock

import (
	"sync"
	"testing"
	"time"
)

func newTestTable(t *testing.T, ttl time.Duration) (*Table, *time.Time) {
	t.Helper()
	tbl := New(ttl)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tbl.now = func() time.Time { return now }
	return tbl, &now
}

func TestTryAcquire_Basic(t *testing.T) {
	tbl, _ := newTestTable(t, time.Minute)

	release, ok := tbl.TryAcquire("acct-1:deduct")
	if !ok {
		t.Fatal("first acquire should succeed")
	}
	if !tbl.Held("acct-1:deduct") {
		t.Error("key should be held after acquire")
	}

	// Second acquire on the same key fails fast
	if _, ok := tbl.TryAcquire("acct-1:deduct"); ok {
		t.Error("second acquire should fail while held")
	}

	// Different key is independent
	if _, ok := tbl.TryAcquire("acct-2:deduct"); !ok {
		t.Error("different key should acquire")
	}

	release()
	if tbl.Held("acct-1:deduct") {
		t.Error("key should be free after release")
	}
	if _, ok := tbl.TryAcquire("acct-1:deduct"); !ok {
		t.Error("re-acquire after release should succeed")
	}
}

func TestRelease_Idempotent(t *testing.T) {
	tbl, _ := newTestTable(t, time.Minute)

	release, _ := tbl.TryAcquire("k")
	release()
	release() // must be a no-op

	release2, ok := tbl.TryAcquire("k")
	if !ok {
		t.Fatal("re-acquire failed")
	}
	release() // stale release must not free the new holder
	if !tbl.Held("k") {
		t.Error("stale release freed the new holder's lock")
	}
	release2()
}

func TestTTL_ForceRelease(t *testing.T) {
	tbl, now := newTestTable(t, 30*time.Second)

	staleRelease, ok := tbl.TryAcquire("acct-1:deduct")
	if !ok {
		t.Fatal("acquire failed")
	}

	// Within TTL: contended
	*now = now.Add(29 * time.Second)
	if _, ok := tbl.TryAcquire("acct-1:deduct"); ok {
		t.Fatal("acquire should fail within TTL")
	}

	// Past TTL: the stuck holder is stolen
	*now = now.Add(2 * time.Second)
	release, ok := tbl.TryAcquire("acct-1:deduct")
	if !ok {
		t.Fatal("acquire should steal an expired lock")
	}

	// The stale holder's release must not free the thief
	staleRelease()
	if !tbl.Held("acct-1:deduct") {
		t.Error("stale release freed a stolen lock")
	}
	release()
}

func TestSweep(t *testing.T) {
	tbl, now := newTestTable(t, 30*time.Second)

	tbl.TryAcquire("a")
	tbl.TryAcquire("b")
	*now = now.Add(10 * time.Second)
	tbl.TryAcquire("c")

	*now = now.Add(25 * time.Second) // a, b expired (35s); c still live (25s)
	if removed := tbl.Sweep(); removed != 2 {
		t.Errorf("sweep removed %d, want 2", removed)
	}
	if tbl.Len() != 1 {
		t.Errorf("table len = %d, want 1", tbl.Len())
	}
	if !tbl.Held("c") {
		t.Error("live entry swept")
	}
}

func TestSweep_ThenReacquire_StaleReleaseIgnored(t *testing.T) {
	tbl, now := newTestTable(t, 30*time.Second)

	// A holder hangs past the TTL and the periodic sweep drops its entry
	staleRelease, ok := tbl.TryAcquire("acct-1:deduct")
	if !ok {
		t.Fatal("acquire failed")
	}
	*now = now.Add(31 * time.Second)
	if removed := tbl.Sweep(); removed != 1 {
		t.Fatalf("sweep removed %d, want 1", removed)
	}

	release, ok := tbl.TryAcquire("acct-1:deduct")
	if !ok {
		t.Fatal("re-acquire after sweep failed")
	}

	// The hung holder finally runs its deferred release. It must not free
	// the new holder's lock even though the swept entry is long gone.
	staleRelease()
	if !tbl.Held("acct-1:deduct") {
		t.Error("stale release after sweep freed the new holder's lock")
	}
	release()
}

func TestTryAcquire_Concurrent(t *testing.T) {
	tbl := New(time.Minute)

	const n = 64
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := tbl.TryAcquire("contended"); ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("%d goroutines acquired the same key, want exactly 1", wins)
	}
}

func TestNew_TTLFallback(t *testing.T) {
	tbl := New(0)
	if tbl.ttl != DefaultTTL {
		t.Errorf("ttl = %v, want %v", tbl.ttl, DefaultTTL)
	}
}
