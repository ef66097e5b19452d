// Copyright 2025 QWED
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/qwed-ai/platform/gateway/tenant"
)

// ErrNotFound is returned when a lookup matches nothing.
var ErrNotFound = errors.New("not found")

// Organization is one tenant.
type Organization struct {
	ID        int64
	Name      string
	Tier      tenant.Tier
	CreatedAt time.Time
}

// User is a human account inside an organization.
type User struct {
	ID        int64
	OrgID     int64
	Email     string
	Role      tenant.Role
	CreatedAt time.Time
}

// CreateOrganization inserts an organization with default quotas for
// its tier.
func (s *Store) CreateOrganization(ctx context.Context, name string, tier tenant.Tier) (*Organization, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	org := &Organization{Name: name, Tier: tier}
	err = tx.QueryRowContext(ctx,
		`INSERT INTO organizations (name, tier) VALUES ($1, $2) RETURNING id, created_at`,
		name, string(tier)).Scan(&org.ID, &org.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting organization: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO resource_quotas (org_id, minute_quota, daily_quota) VALUES ($1, $2, $3)`,
		org.ID, tenant.DefaultMinuteQuota(tier), tenant.DefaultDailyQuota(tier))
	if err != nil {
		return nil, fmt.Errorf("inserting quota: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return org, nil
}

// GetOrganization loads one organization by id.
func (s *Store) GetOrganization(ctx context.Context, id int64) (*Organization, error) {
	org := &Organization{}
	var tier string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, tier, created_at FROM organizations WHERE id = $1`, id).
		Scan(&org.ID, &org.Name, &tier, &org.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading organization: %w", err)
	}
	org.Tier = tenant.Tier(tier)
	return org, nil
}

// CreateUser stores a user with a bcrypt password hash.
func (s *Store) CreateUser(ctx context.Context, orgID int64, email, password string, role tenant.Role) (*User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	u := &User{OrgID: orgID, Email: email, Role: role}
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO users (org_id, email, password_hash, role) VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		orgID, email, string(hash), string(role)).Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting user: %w", err)
	}
	return u, nil
}

// Authenticate checks email and password, returning the user on match.
func (s *Store) Authenticate(ctx context.Context, email, password string) (*User, error) {
	u := &User{}
	var hash, role string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, org_id, email, password_hash, role, created_at FROM users WHERE email = $1`,
		email).Scan(&u.ID, &u.OrgID, &u.Email, &hash, &role, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading user: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return nil, ErrNotFound
	}
	u.Role = tenant.Role(role)
	return u, nil
}

// Quota is an organization's configured limits.
type Quota struct {
	MinuteQuota int
	DailyQuota  int
}

// GetQuota loads an organization's quota, falling back to tier
// defaults when no row exists.
func (s *Store) GetQuota(ctx context.Context, orgID int64, tier tenant.Tier) (Quota, error) {
	var q Quota
	err := s.db.QueryRowContext(ctx,
		`SELECT minute_quota, daily_quota FROM resource_quotas WHERE org_id = $1`, orgID).
		Scan(&q.MinuteQuota, &q.DailyQuota)
	if err == sql.ErrNoRows {
		return Quota{
			MinuteQuota: tenant.DefaultMinuteQuota(tier),
			DailyQuota:  tenant.DefaultDailyQuota(tier),
		}, nil
	}
	if err != nil {
		return Quota{}, fmt.Errorf("loading quota: %w", err)
	}
	return q, nil
}
