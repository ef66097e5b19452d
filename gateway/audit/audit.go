// Copyright 2025 QWED
// SPDX-License-Identifier: Apache-2.0

// Package audit maintains the tamper-evident verification log. Entries
// form a hash chain: each entry's hash covers the previous entry's hash
// plus its own canonical serialization, and an HMAC keyed with the
// gateway secret seals every entry. Readers get snapshots, never the
// live tail.
package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// GenesisHash is the previous-hash value of the first entry.
var GenesisHash = hex.EncodeToString(make([]byte, sha256.Size))

// Record is the caller-supplied payload of one audit entry. Query must
// already be PII-redacted; the chain serializes it as given.
type Record struct {
	TenantID       int64   `json:"tenant_id"`
	RequestID      string  `json:"request_id"`
	KeyFingerprint string  `json:"key_fingerprint"`
	Engine         string  `json:"engine"`
	Verdict        string  `json:"verdict"`
	Query          string  `json:"query"`
	Provider       string  `json:"provider,omitempty"`
	Confidence     float64 `json:"confidence,omitempty"`
	DurationMS     float64 `json:"duration_ms"`
	Error          string  `json:"error,omitempty"`
}

// Entry is one sealed link of the chain.
type Entry struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Record    Record    `json:"record"`
	PrevHash  string    `json:"prev_hash"`
	EntryHash string    `json:"entry_hash"`
	HMAC      string    `json:"hmac"`
}

// canonicalEnvelope fixes the byte layout that the entry hash covers.
// Field order is load-bearing; changing it invalidates existing chains.
type canonicalEnvelope struct {
	ID        int64  `json:"id"`
	Timestamp string `json:"timestamp"`
	Record    Record `json:"record"`
}

func canonicalBytes(id int64, ts time.Time, rec Record) []byte {
	b, _ := json.Marshal(canonicalEnvelope{
		ID:        id,
		Timestamp: ts.UTC().Format(time.RFC3339Nano),
		Record:    rec,
	})
	return b
}

func entryHash(prevHash string, canonical []byte) string {
	h := sha256.New()
	h.Write([]byte(prevHash))
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil))
}

func sealHMAC(secret []byte, hash string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(hash))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyReport is the result of checking a chain segment.
type VerifyReport struct {
	Valid bool `json:"valid"`

	// Checked is the number of entries examined.
	Checked int `json:"checked"`

	// FirstBadIndex is the index into the verified slice of the first
	// entry that fails, -1 when the chain is intact.
	FirstBadIndex int `json:"first_bad_index"`

	// Reason describes the first failure.
	Reason string `json:"reason,omitempty"`
}

// Verify recomputes hashes and HMACs over entries, which must be a
// contiguous chain segment in id order. prevHash is the entry hash
// preceding the segment, GenesisHash when verifying from the start.
func Verify(entries []Entry, prevHash string, secret []byte) VerifyReport {
	if prevHash == "" {
		prevHash = GenesisHash
	}
	for i, e := range entries {
		if e.PrevHash != prevHash {
			return failAt(i, len(entries), "previous hash mismatch")
		}
		canonical := canonicalBytes(e.ID, e.Timestamp, e.Record)
		want := entryHash(prevHash, canonical)
		if e.EntryHash != want {
			return failAt(i, len(entries), "entry hash mismatch")
		}
		if !hmac.Equal([]byte(e.HMAC), []byte(sealHMAC(secret, e.EntryHash))) {
			return failAt(i, len(entries), "hmac mismatch")
		}
		if i > 0 && e.ID != entries[i-1].ID+1 {
			return failAt(i, len(entries), "non-monotonic entry id")
		}
		prevHash = e.EntryHash
	}
	return VerifyReport{Valid: true, Checked: len(entries), FirstBadIndex: -1}
}

func failAt(i, n int, reason string) VerifyReport {
	return VerifyReport{Valid: false, Checked: n, FirstBadIndex: i, Reason: reason}
}
