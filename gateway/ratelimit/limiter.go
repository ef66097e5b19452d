// Copyright 2025 QWED
// SPDX-License-Identifier: Apache-2.0

// Package ratelimit implements the gateway's dual fixed-window limiter:
// one bucket per API-key fingerprint and one global bucket, both over a
// 60 second wall-clock window. The stricter bucket wins.
package ratelimit

import (
	"sync"
	"time"
)

// Window is the rate limiting window length.
const Window = time.Minute

// Result reports the outcome of an admission attempt.
type Result struct {
	Allowed bool

	// RetryAfter is the number of seconds until the next window opens.
	// Only meaningful when Allowed is false; surfaced as the Retry-After
	// response header.
	RetryAfter int

	// Remaining is the number of requests left in the stricter of the
	// two buckets for the current window.
	Remaining int
}

type bucket struct {
	windowStart int64 // epoch minute
	count       int
}

// Limiter enforces per-key and global per-minute caps. Buckets reset
// lazily on the first arrival in a new window. Safe for concurrent use.
type Limiter struct {
	perKeyCap int
	globalCap int

	mu      sync.Mutex
	keys    map[string]*bucket
	global  bucket
	nowFunc func() time.Time
}

// New creates a limiter with the given capacities. Non-positive values
// select the defaults (100 per key, 1000 global).
func New(perKeyCap, globalCap int) *Limiter {
	if perKeyCap <= 0 {
		perKeyCap = 100
	}
	if globalCap <= 0 {
		globalCap = 1000
	}
	return &Limiter{
		perKeyCap: perKeyCap,
		globalCap: globalCap,
		keys:      make(map[string]*bucket),
		nowFunc:   time.Now,
	}
}

// Allow attempts to admit one request for the given key fingerprint.
// Both buckets are checked; the count increments only when both admit.
func (l *Limiter) Allow(keyFingerprint string) Result {
	now := l.nowFunc()
	minute := now.Unix() / 60

	l.mu.Lock()
	defer l.mu.Unlock()

	kb, ok := l.keys[keyFingerprint]
	if !ok {
		kb = &bucket{windowStart: minute}
		l.keys[keyFingerprint] = kb
	}
	if kb.windowStart != minute {
		kb.windowStart = minute
		kb.count = 0
	}
	if l.global.windowStart != minute {
		l.global.windowStart = minute
		l.global.count = 0
	}

	if kb.count >= l.perKeyCap || l.global.count >= l.globalCap {
		return Result{
			Allowed:    false,
			RetryAfter: secondsToNextWindow(now),
			Remaining:  0,
		}
	}

	kb.count++
	l.global.count++

	keyLeft := l.perKeyCap - kb.count
	globalLeft := l.globalCap - l.global.count
	remaining := keyLeft
	if globalLeft < remaining {
		remaining = globalLeft
	}
	return Result{Allowed: true, Remaining: remaining}
}

// Refund returns one token to the key and global buckets. Used when a
// reflection attempt is budgeted but the provider call never happened.
func (l *Limiter) Refund(keyFingerprint string) {
	minute := l.nowFunc().Unix() / 60

	l.mu.Lock()
	defer l.mu.Unlock()

	if kb, ok := l.keys[keyFingerprint]; ok && kb.windowStart == minute && kb.count > 0 {
		kb.count--
	}
	if l.global.windowStart == minute && l.global.count > 0 {
		l.global.count--
	}
}

// PruneStale drops key buckets whose window has long passed. Called
// periodically by the control plane to bound memory.
func (l *Limiter) PruneStale() int {
	minute := l.nowFunc().Unix() / 60

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for k, b := range l.keys {
		if minute-b.windowStart > 1 {
			delete(l.keys, k)
			removed++
		}
	}
	return removed
}

func secondsToNextWindow(now time.Time) int {
	next := now.Truncate(Window).Add(Window)
	secs := int(next.Sub(now).Seconds())
	if secs < 1 {
		secs = 1
	}
	if secs > 60 {
		secs = 60
	}
	return secs
}
