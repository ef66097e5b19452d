// Copyright 2025 QWED
// SPDX-License-Identifier: Apache-2.0

// Package store is the Postgres persistence layer: organizations,
// users, API keys, quotas, registered agents and security events.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/qwed-ai/platform/shared/logger"
)

// Store wraps the database handle. All methods are safe for concurrent
// use; *sql.DB pools connections internally.
type Store struct {
	db  *sql.DB
	log *logger.Logger
}

// Open connects to Postgres, verifies the connection and ensures the
// schema exists.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	s := &Store{db: db, log: logger.New("store")}
	if err := s.createTables(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing handle without schema management. Tests use it
// with sqlmock.
func New(db *sql.DB) *Store {
	return &Store{db: db, log: logger.New("store")}
}

// DB exposes the underlying handle for components that manage their own
// tables, like the audit writer.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the pool.
func (s *Store) Close() error { return s.db.Close() }

const schemaSQL = `
CREATE TABLE IF NOT EXISTS organizations (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	tier TEXT NOT NULL DEFAULT 'free',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS users (
	id BIGSERIAL PRIMARY KEY,
	org_id BIGINT NOT NULL REFERENCES organizations(id),
	email TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	role TEXT NOT NULL DEFAULT 'member',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS api_keys (
	id BIGSERIAL PRIMARY KEY,
	org_id BIGINT NOT NULL REFERENCES organizations(id),
	fingerprint TEXT NOT NULL UNIQUE,
	masked_key TEXT NOT NULL,
	role TEXT NOT NULL DEFAULT 'member',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at TIMESTAMPTZ,
	last_used_at TIMESTAMPTZ,
	revoked BOOLEAN NOT NULL DEFAULT false,
	rotation_required BOOLEAN NOT NULL DEFAULT false
);

CREATE TABLE IF NOT EXISTS resource_quotas (
	org_id BIGINT PRIMARY KEY REFERENCES organizations(id),
	minute_quota INT NOT NULL,
	daily_quota INT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS security_events (
	id BIGSERIAL PRIMARY KEY,
	tenant_id BIGINT,
	event_type TEXT NOT NULL,
	layer TEXT NOT NULL,
	reason TEXT NOT NULL,
	source_ip TEXT,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_security_events_tenant ON security_events (tenant_id, created_at DESC);

CREATE TABLE IF NOT EXISTS agents (
	id UUID PRIMARY KEY,
	org_id BIGINT NOT NULL REFERENCES organizations(id),
	name TEXT NOT NULL,
	description TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (org_id, name)
);

CREATE TABLE IF NOT EXISTS agent_activity (
	id BIGSERIAL PRIMARY KEY,
	agent_id UUID NOT NULL REFERENCES agents(id),
	engine TEXT NOT NULL,
	verdict TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

func (s *Store) createTables(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}
