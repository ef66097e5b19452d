// Copyright 2025 QWED
// SPDX-License-Identifier: Apache-2.0

package ratelimit

import (
	"sync"
	"testing"
	"time"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestLimiter_PerKeyCapEnforced(t *testing.T) {
	l := New(5, 100)
	l.nowFunc = fixedClock(time.Unix(600, 0))

	for i := 0; i < 5; i++ {
		if r := l.Allow("key-a"); !r.Allowed {
			t.Fatalf("request %d should be admitted", i+1)
		}
	}
	r := l.Allow("key-a")
	if r.Allowed {
		t.Fatal("6th request in window should be rejected")
	}
	if r.RetryAfter < 1 || r.RetryAfter > 60 {
		t.Errorf("RetryAfter = %d, want 1..60", r.RetryAfter)
	}
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	l := New(2, 100)
	l.nowFunc = fixedClock(time.Unix(600, 0))

	l.Allow("key-a")
	l.Allow("key-a")
	if r := l.Allow("key-a"); r.Allowed {
		t.Fatal("key-a over cap")
	}
	if r := l.Allow("key-b"); !r.Allowed {
		t.Fatal("key-b should have its own bucket")
	}
}

func TestLimiter_GlobalCapWins(t *testing.T) {
	l := New(100, 3)
	l.nowFunc = fixedClock(time.Unix(600, 0))

	l.Allow("key-a")
	l.Allow("key-b")
	l.Allow("key-c")
	if r := l.Allow("key-d"); r.Allowed {
		t.Fatal("global cap should reject the 4th request")
	}
}

func TestLimiter_WindowReset(t *testing.T) {
	l := New(1, 100)
	l.nowFunc = fixedClock(time.Unix(600, 0))

	if r := l.Allow("key-a"); !r.Allowed {
		t.Fatal("first request should pass")
	}
	if r := l.Allow("key-a"); r.Allowed {
		t.Fatal("second request in same window should be rejected")
	}

	// Next minute: bucket resets lazily on arrival.
	l.nowFunc = fixedClock(time.Unix(660, 0))
	if r := l.Allow("key-a"); !r.Allowed {
		t.Fatal("new window should admit again")
	}
}

func TestLimiter_RetryAfterPointsAtNextWindow(t *testing.T) {
	l := New(1, 100)
	// 15 seconds into the window; 45 seconds remain.
	l.nowFunc = fixedClock(time.Unix(615, 0))

	l.Allow("key-a")
	r := l.Allow("key-a")
	if r.Allowed {
		t.Fatal("should be rejected")
	}
	if r.RetryAfter != 45 {
		t.Errorf("RetryAfter = %d, want 45", r.RetryAfter)
	}
}

func TestLimiter_Refund(t *testing.T) {
	l := New(1, 100)
	l.nowFunc = fixedClock(time.Unix(600, 0))

	l.Allow("key-a")
	l.Refund("key-a")
	if r := l.Allow("key-a"); !r.Allowed {
		t.Fatal("refunded token should admit another request")
	}
}

func TestLimiter_ExactAdmissionCountUnderConcurrency(t *testing.T) {
	const perKey = 50
	l := New(perKey, 1000)
	l.nowFunc = fixedClock(time.Unix(600, 0))

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow("key-a").Allowed {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if admitted != perKey {
		t.Errorf("admitted = %d, want exactly %d", admitted, perKey)
	}
}

func TestLimiter_PruneStale(t *testing.T) {
	l := New(10, 100)
	l.nowFunc = fixedClock(time.Unix(600, 0))
	l.Allow("key-a")
	l.Allow("key-b")

	l.nowFunc = fixedClock(time.Unix(600+180, 0))
	if removed := l.PruneStale(); removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}
}
