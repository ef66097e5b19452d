// Copyright 2025 QWED
// SPDX-License-Identifier: Apache-2.0

package provider

import (
	"sync"
	"time"
)

// breakerState is the classic three-state machine.
type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

// Breaker is a per-provider circuit breaker. After Threshold consecutive
// failures the breaker opens and rejects calls for Cooldown; the first
// call after the cooldown probes in half-open state.
type Breaker struct {
	Threshold int
	Cooldown  time.Duration

	mu       sync.Mutex
	state    breakerState
	failures int
	openedAt time.Time
	nowFunc  func() time.Time
}

// NewBreaker creates a breaker. Non-positive arguments select the
// defaults of 5 failures and a 30 second cooldown.
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{Threshold: threshold, Cooldown: cooldown, nowFunc: time.Now}
}

// Allow reports whether a call may proceed right now.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateClosed:
		return true
	case stateOpen:
		if b.nowFunc().Sub(b.openedAt) >= b.Cooldown {
			b.state = stateHalfOpen
			return true
		}
		return false
	default: // half-open: one probe at a time
		return false
	}
}

// RecordSuccess closes the breaker and clears the failure count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = stateClosed
	b.failures = 0
}

// RecordFailure counts a failure, opening the breaker at the threshold.
// A failed half-open probe reopens immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	if b.state == stateHalfOpen || b.failures >= b.Threshold {
		b.state = stateOpen
		b.openedAt = b.nowFunc()
	}
}

// Open reports whether the breaker currently rejects calls.
func (b *Breaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == stateOpen && b.nowFunc().Sub(b.openedAt) < b.Cooldown
}
