// Copyright 2025 QWED
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-audit-secret")

func testRecord(i int) Record {
	return Record{
		TenantID:       7,
		RequestID:      "req-1",
		KeyFingerprint: "fp-abc",
		Engine:         "math",
		Verdict:        "VERIFIED",
		Query:          "What is 15% of 200?",
		Provider:       "alpha",
		Confidence:     1.0,
		DurationMS:     float64(10 + i),
	}
}

func buildChain(t *testing.T, n int) (*Chain, []Entry) {
	t.Helper()
	c := NewChain(testSecret, nil)
	for i := 0; i < n; i++ {
		c.Append(testRecord(i))
	}
	return c, c.Snapshot()
}

func TestChain_AppendLinksEntries(t *testing.T) {
	_, entries := buildChain(t, 3)
	require.Len(t, entries, 3)

	assert.Equal(t, GenesisHash, entries[0].PrevHash)
	for i := 1; i < len(entries); i++ {
		assert.Equal(t, entries[i-1].EntryHash, entries[i].PrevHash, "entry %d", i)
		assert.Equal(t, entries[i-1].ID+1, entries[i].ID, "entry %d", i)
	}
}

func TestVerify_IntactChain(t *testing.T) {
	_, entries := buildChain(t, 10)
	report := Verify(entries, GenesisHash, testSecret)
	assert.True(t, report.Valid)
	assert.Equal(t, 10, report.Checked)
	assert.Equal(t, -1, report.FirstBadIndex)
}

func TestVerify_DetectsTamperedQuery(t *testing.T) {
	_, entries := buildChain(t, 5)
	entries[2].Record.Query = "What is 20% of 200?"

	report := Verify(entries, GenesisHash, testSecret)
	assert.False(t, report.Valid)
	assert.Equal(t, 2, report.FirstBadIndex)
	assert.Contains(t, report.Reason, "entry hash")
}

func TestVerify_DetectsRewrittenHash(t *testing.T) {
	_, entries := buildChain(t, 5)
	// An attacker who rewrites a record and recomputes its hash still
	// breaks the link to the next entry.
	entries[2].Record.Verdict = "REJECTED"
	canonical := canonicalBytes(entries[2].ID, entries[2].Timestamp, entries[2].Record)
	entries[2].EntryHash = entryHash(entries[2].PrevHash, canonical)

	report := Verify(entries, GenesisHash, testSecret)
	assert.False(t, report.Valid)
	// Entry 2's HMAC no longer matches without the secret; with a
	// recomputed hash the failure surfaces there first.
	assert.Equal(t, 2, report.FirstBadIndex)
}

func TestVerify_WrongSecret(t *testing.T) {
	_, entries := buildChain(t, 3)
	report := Verify(entries, GenesisHash, []byte("other-secret"))
	assert.False(t, report.Valid)
	assert.Equal(t, 0, report.FirstBadIndex)
	assert.Contains(t, report.Reason, "hmac")
}

func TestVerify_DetectsRemovedEntry(t *testing.T) {
	_, entries := buildChain(t, 5)
	spliced := append(append([]Entry{}, entries[:2]...), entries[3:]...)

	report := Verify(spliced, GenesisHash, testSecret)
	assert.False(t, report.Valid)
	assert.Equal(t, 2, report.FirstBadIndex)
}

func TestChain_ResumeContinuesChain(t *testing.T) {
	c1, entries := buildChain(t, 3)
	lastID, lastHash := c1.Head()

	c2 := Resume(testSecret, nil, lastID, lastHash)
	e4 := c2.Append(testRecord(4))
	assert.Equal(t, int64(4), e4.ID)
	assert.Equal(t, entries[2].EntryHash, e4.PrevHash)

	full := append(entries, *e4)
	assert.True(t, Verify(full, GenesisHash, testSecret).Valid)
}

func TestChain_SnapshotIsACopy(t *testing.T) {
	c, _ := buildChain(t, 2)
	snap := c.Snapshot()
	snap[0].Record.Query = "mutated"

	fresh := c.Snapshot()
	assert.Equal(t, "What is 15% of 200?", fresh[0].Record.Query)
}

type capturePersister struct {
	entries []*Entry
}

func (p *capturePersister) Persist(e *Entry) { p.entries = append(p.entries, e) }

func TestChain_HandsEntriesToPersister(t *testing.T) {
	p := &capturePersister{}
	c := NewChain(testSecret, p)
	c.Append(testRecord(0))
	c.Append(testRecord(1))
	require.Len(t, p.entries, 2)
	assert.Equal(t, int64(1), p.entries[0].ID)
}

func TestWriter_BatchInsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS audit_entries").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO audit_entries").
		WillReturnResult(sqlmock.NewResult(0, 2))

	w, err := NewWriter(db, WithBatchSize(2), WithFlushInterval(time.Hour))
	require.NoError(t, err)

	chain := NewChain(testSecret, w)
	chain.Append(testRecord(0))
	chain.Append(testRecord(1))

	require.NoError(t, w.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadTail_EmptyTableStartsAtGenesis(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT id, entry_hash FROM audit_entries").
		WillReturnRows(sqlmock.NewRows([]string{"id", "entry_hash"}))

	id, hash, err := LoadTail(context.Background(), db)
	require.NoError(t, err)
	assert.Equal(t, int64(0), id)
	assert.Equal(t, GenesisHash, hash)
}

func TestLoadTail_ResumesFromPersistedHead(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT id, entry_hash FROM audit_entries").
		WillReturnRows(sqlmock.NewRows([]string{"id", "entry_hash"}).AddRow(41, "abc123"))

	id, hash, err := LoadTail(context.Background(), db)
	require.NoError(t, err)
	assert.Equal(t, int64(41), id)
	assert.Equal(t, "abc123", hash)
}

func TestHistory_ScansRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cols := []string{"id", "created_at", "tenant_id", "request_id", "key_fingerprint",
		"engine", "verdict", "query", "provider", "confidence", "duration_ms", "error",
		"prev_hash", "entry_hash", "hmac"}
	mock.ExpectQuery("SELECT (.+) FROM audit_entries WHERE tenant_id").
		WithArgs(int64(7), 100).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(2, time.Now(), 7, "req-2", "fp", "math", "VERIFIED", "q2", "alpha", 1.0, 12.5, nil, "h1", "h2", "m2").
			AddRow(1, time.Now(), 7, "req-1", "fp", "logic", "SAT", "q1", nil, nil, 8.0, nil, GenesisHash, "h1", "m1"))

	entries, err := History(context.Background(), db, 7, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "VERIFIED", entries[0].Record.Verdict)
	assert.Equal(t, "", entries[1].Record.Provider)
}
