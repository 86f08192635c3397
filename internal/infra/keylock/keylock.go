// Package keylock provides a keyed in-process try-lock with a bounded hold
// time. The credit guard uses it to fail fast on contended accounts.
//
// This table is a latency optimization, not the correctness boundary: the
// store's atomic conditional update is what prevents lost updates when more
// than one service instance runs. A holder that crashes or hangs past the
// TTL is force-released so an account is never permanently stuck.
package keylock

import (
	"sync"
	"time"
)

// DefaultTTL bounds how long a key may stay held before a competing
// TryAcquire may steal it.
const DefaultTTL = 30 * time.Second

// Table is a keyed try-lock table. Thread-safe.
type Table struct {
	mu   sync.Mutex
	held map[string]holder
	ttl  time.Duration

	// nextGen is table-global, never reset. Per-key counters would restart
	// after Sweep drops an entry, letting a stale release match a fresh
	// holder's generation.
	nextGen uint64

	// Injectable clock for testing.
	now func() time.Time
}

type holder struct {
	acquiredAt time.Time
	gen        uint64 // distinguishes re-acquisitions of the same key
}

// New creates a lock table with the given TTL. A non-positive TTL falls
// back to DefaultTTL.
func New(ttl time.Duration) *Table {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Table{
		held: make(map[string]holder),
		ttl:  ttl,
		now:  time.Now,
	}
}

// TryAcquire attempts to take the lock for key without blocking. On success
// it returns a release func and true. If the key is already held within its
// TTL it returns false immediately — callers are expected to surface the
// contention and retry later, not queue.
//
// An expired holder is stolen: the stale entry is replaced and the stale
// holder's release becomes a no-op.
func (t *Table) TryAcquire(key string) (release func(), ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if h, exists := t.held[key]; exists && now.Sub(h.acquiredAt) < t.ttl {
		return nil, false
	}

	t.nextGen++
	gen := t.nextGen
	t.held[key] = holder{acquiredAt: now, gen: gen}

	var once sync.Once
	release = func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			// Only delete if we still own this generation; a stolen lock
			// must not release its thief.
			if h, exists := t.held[key]; exists && h.gen == gen {
				delete(t.held, key)
			}
		})
	}
	return release, true
}

// Held reports whether key is currently held within its TTL.
func (t *Table) Held(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, exists := t.held[key]
	return exists && t.now().Sub(h.acquiredAt) < t.ttl
}

// Sweep drops expired entries so the table does not grow unbounded under
// abandoned keys. Returns how many entries were removed. Called
// periodically by the daemon.
func (t *Table) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	removed := 0
	for key, h := range t.held {
		if now.Sub(h.acquiredAt) >= t.ttl {
			delete(t.held, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of entries currently in the table, expired or not.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.held)
}
