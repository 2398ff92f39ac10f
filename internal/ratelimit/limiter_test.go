package ratelimit

import (
	"sync"
	"testing"
	"time"
)

func TestNew_InvalidArgs(t *testing.T) {
	if New(0, 1, 0) != nil {
		t.Error("zero rps should disable limiting")
	}
	if New(1, 0, 0) != nil {
		t.Error("zero burst should disable limiting")
	}
}

func TestNilLimiterAllows(t *testing.T) {
	var l *KeyedLimiter
	if !l.Allow("k", time.Now()) {
		t.Error("nil limiter should allow")
	}
	l.Sweep(time.Now())
	if l.Len() != 0 {
		t.Error("nil limiter has no keys")
	}
}

func TestAllow_BurstThenRefill(t *testing.T) {
	l := New(1, 2, time.Minute)
	now := time.Unix(1_700_000_000, 0)

	if !l.Allow("k", now) || !l.Allow("k", now) {
		t.Fatal("burst of 2 should be allowed")
	}
	if l.Allow("k", now) {
		t.Error("third request in the same instant should be limited")
	}
	if !l.Allow("k", now.Add(time.Second)) {
		t.Error("one token should refill after a second")
	}
}

func TestAllow_KeysAreIndependent(t *testing.T) {
	l := New(1, 1, time.Minute)
	now := time.Unix(1_700_000_000, 0)

	if !l.Allow("a", now) {
		t.Fatal("a should be allowed")
	}
	if !l.Allow("b", now) {
		t.Error("b should not be limited by a")
	}
	if l.Allow(" a ", now) {
		t.Error("keys are trimmed, so ' a ' shares a's bucket")
	}
}

func TestAllow_BlankKey(t *testing.T) {
	l := New(1, 1, time.Minute)
	now := time.Now()
	for i := 0; i < 5; i++ {
		if !l.Allow("  ", now) {
			t.Fatal("blank keys are never limited")
		}
	}
	if l.Len() != 0 {
		t.Errorf("Len() = %d, blank keys should not be tracked", l.Len())
	}
}

func TestSweep(t *testing.T) {
	l := New(10, 10, time.Minute)
	start := time.Unix(1_700_000_000, 0)

	l.Allow("old", start)
	l.Allow("fresh", start.Add(50*time.Second))
	l.Sweep(start.Add(90 * time.Second))

	if l.Len() != 1 {
		t.Errorf("Len() = %d, want 1 after sweep", l.Len())
	}
}

func TestAllow_PeriodicSweep(t *testing.T) {
	l := New(1000, 1000, time.Second)
	start := time.Unix(1_700_000_000, 0)

	l.Allow("idle", start)
	later := start.Add(time.Hour)
	for i := 0; i < sweepEvery; i++ {
		l.Allow("busy", later)
	}
	if l.Len() != 1 {
		t.Errorf("Len() = %d, idle key should have been swept", l.Len())
	}
}

func TestAllow_Concurrent(t *testing.T) {
	l := New(1, 50, time.Minute)
	now := time.Now()

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow("shared", now) {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 50 {
		t.Errorf("allowed = %d, want burst of 50", allowed)
	}
}
