// Copyright 2025 QWED
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/qwed-ai/platform/shared/logger"
)

const createAuditTableSQL = `
CREATE TABLE IF NOT EXISTS audit_entries (
	id BIGINT PRIMARY KEY,
	created_at TIMESTAMPTZ NOT NULL,
	tenant_id BIGINT NOT NULL,
	request_id TEXT NOT NULL,
	key_fingerprint TEXT NOT NULL,
	engine TEXT NOT NULL,
	verdict TEXT NOT NULL,
	query TEXT NOT NULL,
	provider TEXT,
	confidence DOUBLE PRECISION,
	duration_ms DOUBLE PRECISION NOT NULL,
	error TEXT,
	prev_hash TEXT NOT NULL,
	entry_hash TEXT NOT NULL,
	hmac TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_tenant_time ON audit_entries (tenant_id, created_at DESC);
`

// Writer persists sealed entries to Postgres in batches. Entries queue
// on a channel; a background worker flushes on size or interval so the
// request path never waits on the database.
type Writer struct {
	db    *sql.DB
	log   *logger.Logger
	queue chan *Entry

	batchSize     int
	flushInterval time.Duration

	wg   sync.WaitGroup
	stop chan struct{}
}

// WriterOption configures the Writer.
type WriterOption func(*Writer)

// WithBatchSize overrides the default batch size of 100.
func WithBatchSize(n int) WriterOption {
	return func(w *Writer) { w.batchSize = n }
}

// WithFlushInterval overrides the default 2 second flush interval.
func WithFlushInterval(d time.Duration) WriterOption {
	return func(w *Writer) { w.flushInterval = d }
}

// NewWriter creates the table if needed and starts the flush worker.
func NewWriter(db *sql.DB, opts ...WriterOption) (*Writer, error) {
	w := &Writer{
		db:            db,
		log:           logger.New("audit-writer"),
		queue:         make(chan *Entry, 10000),
		batchSize:     100,
		flushInterval: 2 * time.Second,
		stop:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	if _, err := db.Exec(createAuditTableSQL); err != nil {
		return nil, fmt.Errorf("creating audit table: %w", err)
	}

	w.wg.Add(1)
	go w.worker()
	return w, nil
}

// Persist implements Persister. Drops are logged, never blocking: the
// hash chain in memory remains authoritative for verification.
func (w *Writer) Persist(e *Entry) {
	select {
	case w.queue <- e:
	default:
		w.log.Error("", e.Record.RequestID, "audit queue full, entry dropped from persistence", map[string]any{
			"entry_id": e.ID,
		})
	}
}

// Close flushes outstanding entries and stops the worker.
func (w *Writer) Close() error {
	close(w.stop)
	w.wg.Wait()
	return nil
}

func (w *Writer) worker() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	var batch []*Entry
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := w.insertBatch(batch); err != nil {
			w.log.Error("", "", "audit batch insert failed", map[string]any{
				"batch_size": len(batch),
				"error":      err.Error(),
			})
		}
		batch = batch[:0]
	}

	for {
		select {
		case e := <-w.queue:
			batch = append(batch, e)
			if len(batch) >= w.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-w.stop:
			for {
				select {
				case e := <-w.queue:
					batch = append(batch, e)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (w *Writer) insertBatch(batch []*Entry) error {
	var sb strings.Builder
	sb.WriteString(`INSERT INTO audit_entries
		(id, created_at, tenant_id, request_id, key_fingerprint, engine, verdict, query,
		 provider, confidence, duration_ms, error, prev_hash, entry_hash, hmac) VALUES `)

	args := make([]any, 0, len(batch)*15)
	for i, e := range batch {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 15
		sb.WriteString("(")
		for j := 1; j <= 15; j++ {
			if j > 1 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", base+j)
		}
		sb.WriteString(")")
		args = append(args,
			e.ID, e.Timestamp, e.Record.TenantID, e.Record.RequestID, e.Record.KeyFingerprint,
			e.Record.Engine, e.Record.Verdict, e.Record.Query, e.Record.Provider,
			e.Record.Confidence, e.Record.DurationMS, e.Record.Error,
			e.PrevHash, e.EntryHash, e.HMAC)
	}
	sb.WriteString(" ON CONFLICT (id) DO NOTHING")

	_, err := w.db.Exec(sb.String(), args...)
	return err
}

// LoadTail reads the persisted chain head so a restarted gateway can
// resume without forking the chain.
func LoadTail(ctx context.Context, db *sql.DB) (lastID int64, lastHash string, err error) {
	row := db.QueryRowContext(ctx,
		`SELECT id, entry_hash FROM audit_entries ORDER BY id DESC LIMIT 1`)
	switch err := row.Scan(&lastID, &lastHash); err {
	case nil:
		return lastID, lastHash, nil
	case sql.ErrNoRows:
		return 0, GenesisHash, nil
	default:
		return 0, "", fmt.Errorf("loading audit tail: %w", err)
	}
}

// History returns a tenant's most recent entries, newest first.
func History(ctx context.Context, db *sql.DB, tenantID int64, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, created_at, tenant_id, request_id, key_fingerprint, engine, verdict, query,
		       provider, confidence, duration_ms, error, prev_hash, entry_hash, hmac
		FROM audit_entries WHERE tenant_id = $1 ORDER BY id DESC LIMIT $2`,
		tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying audit history: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var provider, errMsg sql.NullString
		var confidence sql.NullFloat64
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Record.TenantID, &e.Record.RequestID,
			&e.Record.KeyFingerprint, &e.Record.Engine, &e.Record.Verdict, &e.Record.Query,
			&provider, &confidence, &e.Record.DurationMS, &errMsg,
			&e.PrevHash, &e.EntryHash, &e.HMAC); err != nil {
			return nil, fmt.Errorf("scanning audit row: %w", err)
		}
		e.Record.Provider = provider.String
		e.Record.Confidence = confidence.Float64
		e.Record.Error = errMsg.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// Segment loads entries [fromID, fromID+limit) in id order for chain
// verification.
func Segment(ctx context.Context, db *sql.DB, fromID int64, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 10000 {
		limit = 1000
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, created_at, tenant_id, request_id, key_fingerprint, engine, verdict, query,
		       provider, confidence, duration_ms, error, prev_hash, entry_hash, hmac
		FROM audit_entries WHERE id >= $1 ORDER BY id ASC LIMIT $2`,
		fromID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying audit segment: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var provider, errMsg sql.NullString
		var confidence sql.NullFloat64
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Record.TenantID, &e.Record.RequestID,
			&e.Record.KeyFingerprint, &e.Record.Engine, &e.Record.Verdict, &e.Record.Query,
			&provider, &confidence, &e.Record.DurationMS, &errMsg,
			&e.PrevHash, &e.EntryHash, &e.HMAC); err != nil {
			return nil, fmt.Errorf("scanning audit row: %w", err)
		}
		e.Record.Provider = provider.String
		e.Record.Confidence = confidence.Float64
		e.Record.Error = errMsg.String
		out = append(out, e)
	}
	return out, rows.Err()
}
