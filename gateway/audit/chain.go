// Copyright 2025 QWED
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"sync"
	"time"
)

// Persister receives sealed entries for durable storage. Appends never
// block on persistence; the Postgres writer batches in the background.
type Persister interface {
	Persist(e *Entry)
}

// Chain is the in-memory tail of the audit log. Appends serialize on
// the tail lock so ids stay monotonic and each entry hashes over its
// true predecessor.
type Chain struct {
	secret []byte

	mu       sync.Mutex
	lastID   int64
	lastHash string
	recent   []Entry // bounded in-memory window for snapshot readers

	persister Persister
	nowFunc   func() time.Time
}

// recentWindow bounds the in-memory snapshot buffer.
const recentWindow = 1024

// NewChain starts a chain from the genesis state.
func NewChain(secret []byte, persister Persister) *Chain {
	return &Chain{
		secret:    secret,
		lastHash:  GenesisHash,
		persister: persister,
		nowFunc:   time.Now,
	}
}

// Resume continues a chain from persisted state, so restarts do not
// fork the log.
func Resume(secret []byte, persister Persister, lastID int64, lastHash string) *Chain {
	c := NewChain(secret, persister)
	if lastHash != "" {
		c.lastID = lastID
		c.lastHash = lastHash
	}
	return c
}

// Append seals rec onto the chain and hands it to the persister.
func (c *Chain) Append(rec Record) *Entry {
	c.mu.Lock()
	id := c.lastID + 1
	ts := c.nowFunc().UTC()
	canonical := canonicalBytes(id, ts, rec)
	hash := entryHash(c.lastHash, canonical)

	e := Entry{
		ID:        id,
		Timestamp: ts,
		Record:    rec,
		PrevHash:  c.lastHash,
		EntryHash: hash,
		HMAC:      sealHMAC(c.secret, hash),
	}

	c.lastID = id
	c.lastHash = hash
	c.recent = append(c.recent, e)
	if len(c.recent) > recentWindow {
		c.recent = c.recent[len(c.recent)-recentWindow:]
	}
	c.mu.Unlock()

	if c.persister != nil {
		c.persister.Persist(&e)
	}
	return &e
}

// Snapshot returns a copy of the in-memory window. Readers see a
// consistent prefix and never touch the live tail.
func (c *Chain) Snapshot() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Entry, len(c.recent))
	copy(out, c.recent)
	return out
}

// Head returns the current tail position.
func (c *Chain) Head() (id int64, hash string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastID, c.lastHash
}
