// Copyright 2025 QWED
// SPDX-License-Identifier: Apache-2.0

// Package cache stores verification results keyed by tenant and query
// fingerprint. Only deterministic engine results belong here; the
// control plane enforces that before calling Set.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync/atomic"
	"time"

	"github.com/qwed-ai/platform/gateway/engine"
)

// DefaultTTL is how long a cached verdict stays fresh.
const DefaultTTL = time.Hour

// Key identifies one cached result. Tenants never share entries.
type Key struct {
	TenantID    int64
	Engine      string
	Fingerprint string
}

// Fingerprint hashes the engine name and query into a cache
// fingerprint. Extra parts (schema, image ref) fold in when present.
func Fingerprint(engineName, query string, extra ...string) string {
	h := sha256.New()
	h.Write([]byte(engineName))
	h.Write([]byte{0})
	h.Write([]byte(query))
	for _, e := range extra {
		h.Write([]byte{0})
		h.Write([]byte(e))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Stats are cumulative cache counters.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Entries   int   `json:"entries"`
}

// HitRate returns hits / (hits + misses), 0 when empty.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Store is the cache backend interface. Implementations must be safe
// for concurrent use.
type Store interface {
	Get(ctx context.Context, key Key) (*engine.Result, bool, error)
	Set(ctx context.Context, key Key, res *engine.Result, ttl time.Duration) error
	Stats() Stats
}

// counters is shared hit/miss accounting for backends.
type counters struct {
	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}
