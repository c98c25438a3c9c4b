package allowlist

import (
	"sync"
	"testing"
	"time"
)

func TestApproveThenConsult(t *testing.T) {
	l := New()
	l.Approve(100, 1)

	if !l.Consult(100, 1) {
		t.Error("expected approved identity to be allowed")
	}
	if l.Consult(100, 2) {
		t.Error("expected unknown identity to be denied")
	}
	if l.Consult(200, 1) {
		t.Error("expected same identity in another group to be denied")
	}
}

func TestEntryExpires(t *testing.T) {
	l := New()
	current := time.Now()
	l.now = func() time.Time { return current }

	l.Approve(100, 1)

	current = current.Add(DefaultTTL - time.Second)
	if !l.Consult(100, 1) {
		t.Error("entry should still be valid just before TTL")
	}

	current = current.Add(2 * time.Second)
	if l.Consult(100, 1) {
		t.Error("entry should be invalid after TTL")
	}
}

func TestConsultDoesNotExtend(t *testing.T) {
	l := New()
	current := time.Now()
	l.now = func() time.Time { return current }

	l.Approve(100, 1)

	current = current.Add(DefaultTTL / 2)
	l.Consult(100, 1)

	current = current.Add(DefaultTTL/2 + time.Second)
	if l.Consult(100, 1) {
		t.Error("consulting must not extend the entry lifetime")
	}
}

func TestSweepDropsOnlyExpired(t *testing.T) {
	l := New()
	current := time.Now()
	l.now = func() time.Time { return current }

	l.Approve(100, 1)
	current = current.Add(DefaultTTL + time.Second)
	l.Approve(100, 2)

	l.Sweep()

	if l.Len() != 1 {
		t.Fatalf("expected 1 entry after sweep, got %d", l.Len())
	}
	if !l.Consult(100, 2) {
		t.Error("fresh entry should survive the sweep")
	}
}

func TestConcurrentAccess(t *testing.T) {
	l := NewWithTTL(time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int64) {
			defer wg.Done()
			l.Approve(100, n)
			l.Consult(100, n)
			l.Sweep()
		}(int64(i))
	}
	wg.Wait()

	if l.Len() != 20 {
		t.Errorf("expected 20 entries, got %d", l.Len())
	}
}
