// Copyright 2025 QWED
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qwed-ai/platform/gateway/engine"
)

func sampleResult() *engine.Result {
	return &engine.Result{
		Engine:      "math",
		Verdict:     engine.VerdictVerified,
		Confidence:  1.0,
		Explanation: "0.15*200 = 30",
	}
}

func sampleKey(tenant int64) Key {
	return Key{
		TenantID:    tenant,
		Engine:      "math",
		Fingerprint: Fingerprint("math", "What is 15% of 200?"),
	}
}

func TestFingerprint_SensitiveToAllParts(t *testing.T) {
	base := Fingerprint("math", "q")
	assert.NotEqual(t, base, Fingerprint("logic", "q"))
	assert.NotEqual(t, base, Fingerprint("math", "q2"))
	assert.NotEqual(t, base, Fingerprint("math", "q", "extra"))
	assert.Equal(t, base, Fingerprint("math", "q"))
}

func TestMemory_SetGet(t *testing.T) {
	m := NewMemory(10)
	ctx := context.Background()

	_, ok, err := m.Get(ctx, sampleKey(1))
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Set(ctx, sampleKey(1), sampleResult(), 0))
	res, ok, err := m.Get(ctx, sampleKey(1))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, engine.VerdictVerified, res.Verdict)

	stats := m.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 0.5, stats.HitRate(), 1e-9)
}

func TestMemory_TenantsIsolated(t *testing.T) {
	m := NewMemory(10)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, sampleKey(1), sampleResult(), 0))
	_, ok, err := m.Get(ctx, sampleKey(2))
	require.NoError(t, err)
	assert.False(t, ok, "tenant 2 must not see tenant 1's entry")
}

func TestMemory_TTLExpiry(t *testing.T) {
	m := NewMemory(10)
	now := time.Unix(1000, 0)
	m.nowFunc = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, sampleKey(1), sampleResult(), time.Minute))

	now = now.Add(59 * time.Second)
	_, ok, _ := m.Get(ctx, sampleKey(1))
	assert.True(t, ok)

	now = now.Add(2 * time.Second)
	_, ok, _ = m.Get(ctx, sampleKey(1))
	assert.False(t, ok, "entry should expire after its TTL")
}

func TestMemory_LRUEviction(t *testing.T) {
	m := NewMemory(2)
	ctx := context.Background()

	k1, k2, k3 := sampleKey(1), sampleKey(2), sampleKey(3)
	require.NoError(t, m.Set(ctx, k1, sampleResult(), 0))
	require.NoError(t, m.Set(ctx, k2, sampleResult(), 0))

	// Touch k1 so k2 becomes least recently used.
	_, _, _ = m.Get(ctx, k1)
	require.NoError(t, m.Set(ctx, k3, sampleResult(), 0))

	_, ok, _ := m.Get(ctx, k2)
	assert.False(t, ok, "least recently used entry should be evicted")
	_, ok, _ = m.Get(ctx, k1)
	assert.True(t, ok)
	assert.Equal(t, int64(1), m.Stats().Evictions)
}

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedis(client, ""), mr
}

func TestRedis_SetGet(t *testing.T) {
	r, _ := newTestRedis(t)
	ctx := context.Background()

	_, ok, err := r.Get(ctx, sampleKey(1))
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, r.Set(ctx, sampleKey(1), sampleResult(), 0))
	res, ok, err := r.Get(ctx, sampleKey(1))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, engine.VerdictVerified, res.Verdict)
	assert.Equal(t, "0.15*200 = 30", res.Explanation)
}

func TestRedis_TTLExpiry(t *testing.T) {
	r, mr := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, r.Set(ctx, sampleKey(1), sampleResult(), time.Minute))
	mr.FastForward(61 * time.Second)

	_, ok, err := r.Get(ctx, sampleKey(1))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedis_CorruptEntryIsAMiss(t *testing.T) {
	r, mr := newTestRedis(t)
	ctx := context.Background()

	k := sampleKey(1)
	require.NoError(t, mr.Set("qwed:cache:1:math:"+k.Fingerprint, "not-json"))

	_, ok, err := r.Get(ctx, k)
	require.NoError(t, err)
	assert.False(t, ok)
}
