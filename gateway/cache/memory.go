// Copyright 2025 QWED
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/qwed-ai/platform/gateway/engine"
)

// Memory is an in-process TTL-LRU store. Expired entries are dropped
// lazily on access and by capacity eviction.
type Memory struct {
	capacity int
	nowFunc  func() time.Time

	mu      sync.Mutex
	entries map[Key]*list.Element
	order   *list.List // front = most recent

	counters
}

type memoryEntry struct {
	key       Key
	result    *engine.Result
	expiresAt time.Time
}

// NewMemory creates a memory store. Non-positive capacity selects the
// default of 10000 entries.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = 10000
	}
	return &Memory{
		capacity: capacity,
		nowFunc:  time.Now,
		entries:  make(map[Key]*list.Element),
		order:    list.New(),
	}
}

func (m *Memory) Get(ctx context.Context, key Key) (*engine.Result, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.entries[key]
	if !ok {
		m.misses.Add(1)
		return nil, false, nil
	}
	entry := el.Value.(*memoryEntry)
	if m.nowFunc().After(entry.expiresAt) {
		m.removeLocked(el)
		m.misses.Add(1)
		return nil, false, nil
	}
	m.order.MoveToFront(el)
	m.hits.Add(1)
	return entry.result, true, nil
}

func (m *Memory) Set(ctx context.Context, key Key, res *engine.Result, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if el, ok := m.entries[key]; ok {
		entry := el.Value.(*memoryEntry)
		entry.result = res
		entry.expiresAt = m.nowFunc().Add(ttl)
		m.order.MoveToFront(el)
		return nil
	}

	el := m.order.PushFront(&memoryEntry{
		key:       key,
		result:    res,
		expiresAt: m.nowFunc().Add(ttl),
	})
	m.entries[key] = el

	for m.order.Len() > m.capacity {
		oldest := m.order.Back()
		if oldest == nil {
			break
		}
		m.removeLocked(oldest)
		m.evictions.Add(1)
	}
	return nil
}

func (m *Memory) Stats() Stats {
	m.mu.Lock()
	entries := m.order.Len()
	m.mu.Unlock()
	return Stats{
		Hits:      m.hits.Load(),
		Misses:    m.misses.Load(),
		Evictions: m.evictions.Load(),
		Entries:   entries,
	}
}

func (m *Memory) removeLocked(el *list.Element) {
	entry := el.Value.(*memoryEntry)
	delete(m.entries, entry.key)
	m.order.Remove(el)
}
