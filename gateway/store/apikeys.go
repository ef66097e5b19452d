// Copyright 2025 QWED
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/qwed-ai/platform/gateway/tenant"
)

// Key rotation policy: keys older than this are flagged rotation_required
// on resolution but keep working until explicitly rotated.
const rotationAge = 90 * 24 * time.Hour

// ErrKeyRevoked is returned when a presented key has been revoked.
var ErrKeyRevoked = errors.New("api key revoked")

// ErrKeyExpired is returned when a presented key is past its expiry.
var ErrKeyExpired = errors.New("api key expired")

// APIKey is the stored metadata of an issued key. The plaintext is never
// persisted; only the fingerprint and a display mask are.
type APIKey struct {
	ID               int64
	OrgID            int64
	Fingerprint      string
	MaskedKey        string
	Role             tenant.Role
	CreatedAt        time.Time
	ExpiresAt        *time.Time
	LastUsedAt       *time.Time
	Revoked          bool
	RotationRequired bool
}

// IssueAPIKey creates a key for an organization and returns the plaintext
// exactly once. expiresIn of zero issues a non-expiring key.
func (s *Store) IssueAPIKey(ctx context.Context, secret []byte, orgID int64, role tenant.Role, expiresIn time.Duration) (plaintext string, key *APIKey, err error) {
	plaintext, fingerprint, err := tenant.GenerateAPIKey(secret)
	if err != nil {
		return "", nil, err
	}

	key = &APIKey{
		OrgID:       orgID,
		Fingerprint: fingerprint,
		MaskedKey:   tenant.MaskKey(plaintext),
		Role:        role,
	}
	var expiresAt any
	if expiresIn > 0 {
		t := time.Now().UTC().Add(expiresIn)
		key.ExpiresAt = &t
		expiresAt = t
	}

	err = s.db.QueryRowContext(ctx,
		`INSERT INTO api_keys (org_id, fingerprint, masked_key, role, expires_at)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at`,
		orgID, fingerprint, key.MaskedKey, string(role), expiresAt).
		Scan(&key.ID, &key.CreatedAt)
	if err != nil {
		return "", nil, fmt.Errorf("inserting api key: %w", err)
	}

	s.log.Info(fmt.Sprintf("%d", orgID), "", "api key issued", map[string]any{
		"masked_key": key.MaskedKey,
		"role":       string(role),
	})
	return plaintext, key, nil
}

// ResolveKey authenticates an API key and builds the tenant context for
// the request. The plaintext never reaches the database; lookup is by
// HMAC fingerprint.
func (s *Store) ResolveKey(ctx context.Context, secret []byte, apiKey string) (*tenant.Context, error) {
	fingerprint := tenant.Fingerprint(secret, apiKey)

	var (
		role             string
		revoked          bool
		rotationRequired bool
		expiresAt        sql.NullTime
		createdAt        time.Time
		tc               = &tenant.Context{KeyFingerprint: fingerprint}
		tier             string
		minuteQuota      sql.NullInt64
		dailyQuota       sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT k.role, k.revoked, k.rotation_required, k.expires_at, k.created_at,
		        o.id, o.name, o.tier, q.minute_quota, q.daily_quota
		 FROM api_keys k
		 JOIN organizations o ON o.id = k.org_id
		 LEFT JOIN resource_quotas q ON q.org_id = o.id
		 WHERE k.fingerprint = $1`, fingerprint).
		Scan(&role, &revoked, &rotationRequired, &expiresAt, &createdAt,
			&tc.OrgID, &tc.OrgName, &tier, &minuteQuota, &dailyQuota)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolving api key: %w", err)
	}

	if revoked {
		return nil, ErrKeyRevoked
	}
	now := time.Now().UTC()
	if expiresAt.Valid && now.After(expiresAt.Time) {
		return nil, ErrKeyExpired
	}

	tc.Tier = tenant.Tier(tier)
	tc.Role = tenant.Role(role)
	tc.Permissions = tenant.DefaultPermissions(tc.Role)
	tc.ResolvedAt = now
	if minuteQuota.Valid {
		tc.MinuteQuota = int(minuteQuota.Int64)
	} else {
		tc.MinuteQuota = tenant.DefaultMinuteQuota(tc.Tier)
	}
	if dailyQuota.Valid {
		tc.DailyQuota = int(dailyQuota.Int64)
	} else {
		tc.DailyQuota = tenant.DefaultDailyQuota(tc.Tier)
	}

	if !rotationRequired && now.Sub(createdAt) > rotationAge {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE api_keys SET rotation_required = true WHERE fingerprint = $1`,
			fingerprint); err != nil {
			s.log.Warn(fmt.Sprintf("%d", tc.OrgID), "", "failed to flag key rotation", map[string]any{
				"error": err.Error(),
			})
		}
	}

	return tc, nil
}

// TouchKey records key usage. Called asynchronously after authentication
// so the hot path does not wait on the write.
func (s *Store) TouchKey(ctx context.Context, fingerprint string) {
	_, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at = now() WHERE fingerprint = $1`, fingerprint)
	if err != nil {
		s.log.Warn("", "", "failed to record key usage", map[string]any{
			"error": err.Error(),
		})
	}
}

// RevokeKey marks a key revoked. Revocation is immediate and permanent.
func (s *Store) RevokeKey(ctx context.Context, orgID int64, keyID int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET revoked = true WHERE id = $1 AND org_id = $2`, keyID, orgID)
	if err != nil {
		return fmt.Errorf("revoking api key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RotateKey revokes an existing key and issues its replacement in one
// transaction. Returns the new plaintext exactly once.
func (s *Store) RotateKey(ctx context.Context, secret []byte, orgID int64, keyID int64) (string, *APIKey, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var role string
	err = tx.QueryRowContext(ctx,
		`UPDATE api_keys SET revoked = true
		 WHERE id = $1 AND org_id = $2 AND NOT revoked
		 RETURNING role`, keyID, orgID).Scan(&role)
	if err == sql.ErrNoRows {
		return "", nil, ErrNotFound
	}
	if err != nil {
		return "", nil, fmt.Errorf("revoking old key: %w", err)
	}

	plaintext, fingerprint, err := tenant.GenerateAPIKey(secret)
	if err != nil {
		return "", nil, err
	}
	key := &APIKey{
		OrgID:       orgID,
		Fingerprint: fingerprint,
		MaskedKey:   tenant.MaskKey(plaintext),
		Role:        tenant.Role(role),
	}
	err = tx.QueryRowContext(ctx,
		`INSERT INTO api_keys (org_id, fingerprint, masked_key, role)
		 VALUES ($1, $2, $3, $4) RETURNING id, created_at`,
		orgID, fingerprint, key.MaskedKey, role).
		Scan(&key.ID, &key.CreatedAt)
	if err != nil {
		return "", nil, fmt.Errorf("inserting replacement key: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", nil, fmt.Errorf("commit: %w", err)
	}
	return plaintext, key, nil
}

// ListKeys returns an organization's keys, newest first. Plaintext is
// never recoverable; masked_key is all the UI gets.
func (s *Store) ListKeys(ctx context.Context, orgID int64) ([]APIKey, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, org_id, fingerprint, masked_key, role, created_at,
		        expires_at, last_used_at, revoked, rotation_required
		 FROM api_keys WHERE org_id = $1 ORDER BY created_at DESC`, orgID)
	if err != nil {
		return nil, fmt.Errorf("listing api keys: %w", err)
	}
	defer rows.Close()

	var keys []APIKey
	for rows.Next() {
		var (
			k          APIKey
			role       string
			expiresAt  sql.NullTime
			lastUsedAt sql.NullTime
		)
		if err := rows.Scan(&k.ID, &k.OrgID, &k.Fingerprint, &k.MaskedKey, &role,
			&k.CreatedAt, &expiresAt, &lastUsedAt, &k.Revoked, &k.RotationRequired); err != nil {
			return nil, fmt.Errorf("scanning api key: %w", err)
		}
		k.Role = tenant.Role(role)
		if expiresAt.Valid {
			t := expiresAt.Time
			k.ExpiresAt = &t
		}
		if lastUsedAt.Valid {
			t := lastUsedAt.Time
			k.LastUsedAt = &t
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
