// Copyright 2025 QWED
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/qwed-ai/platform/gateway/engine"
)

// Redis is the shared cache backend for multi-instance deployments.
// Redis owns expiry via key TTLs; hit and miss counters are local to
// the instance.
type Redis struct {
	client *redis.Client
	prefix string

	counters
}

// NewRedis creates a Redis-backed store. prefix namespaces keys,
// defaulting to "qwed:cache".
func NewRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "qwed:cache"
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) key(k Key) string {
	return fmt.Sprintf("%s:%d:%s:%s", r.prefix, k.TenantID, k.Engine, k.Fingerprint)
}

func (r *Redis) Get(ctx context.Context, k Key) (*engine.Result, bool, error) {
	data, err := r.client.Get(ctx, r.key(k)).Bytes()
	if err == redis.Nil {
		r.misses.Add(1)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get: %w", err)
	}

	var res engine.Result
	if err := json.Unmarshal(data, &res); err != nil {
		// A corrupt entry behaves like a miss; it will be overwritten.
		r.misses.Add(1)
		return nil, false, nil
	}
	r.hits.Add(1)
	return &res, true, nil
}

func (r *Redis) Set(ctx context.Context, k Key, res *engine.Result, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("cache marshal: %w", err)
	}
	if err := r.client.Set(ctx, r.key(k), data, ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

func (r *Redis) Stats() Stats {
	return Stats{
		Hits:   r.hits.Load(),
		Misses: r.misses.Load(),
	}
}
