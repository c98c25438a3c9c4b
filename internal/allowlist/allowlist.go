// Package allowlist holds short-lived exceptions to group access
// enforcement. When a guest join request is approved there is a window
// before Telegram fires the join-completed event; an entry here keeps the
// enforcer from treating the approved guest as an intruder during it.
//
// State is process-local and in-memory. Losing it on restart only means a
// just-approved guest gets re-evaluated once, which is harmless.
package allowlist

import (
	"sync"
	"time"
)

const DefaultTTL = 5 * time.Minute

type key struct {
	groupID    int64
	telegramID int64
}

type List struct {
	mu      sync.Mutex
	entries map[key]time.Time
	ttl     time.Duration
	now     func() time.Time
}

func New() *List {
	return NewWithTTL(DefaultTTL)
}

func NewWithTTL(ttl time.Duration) *List {
	return &List{
		entries: make(map[key]time.Time),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Approve records a grace-window entry for the identity in the group,
// expiring TTL from now.
func (l *List) Approve(groupID, telegramID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries[key{groupID, telegramID}] = l.now().Add(l.ttl)
}

// Consult reports whether an unexpired entry exists. It neither extends
// nor removes the entry; expired entries are dropped by Sweep.
func (l *List) Consult(groupID, telegramID int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	expiry, ok := l.entries[key{groupID, telegramID}]
	return ok && l.now().Before(expiry)
}

// Sweep drops all expired entries. Called opportunistically before each
// batch of join evaluations rather than on a timer.
func (l *List) Sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for k, expiry := range l.entries {
		if !now.Before(expiry) {
			delete(l.entries, k)
		}
	}
}

// Len reports the current number of entries, expired or not.
func (l *List) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.entries)
}
