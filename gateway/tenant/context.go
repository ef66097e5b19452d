// Copyright 2025 QWED
// SPDX-License-Identifier: Apache-2.0

// Package tenant defines the per-request tenant identity and the API key
// utilities used to resolve it. A Context is constructed once at ingress,
// never mutated afterwards, and attached to every downstream call so that
// cache keys, audit rows, quota buckets and agent registries are all scoped
// to the owning organization.
package tenant

import (
	"time"
)

// Tier is the subscription tier of an organization.
type Tier string

const (
	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// Role controls which operations a key may perform.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
	RoleAgent  Role = "agent"
)

// Permission names a single allowed operation.
type Permission string

const (
	PermVerify      Permission = "verify"
	PermHistory     Permission = "history"
	PermMetrics     Permission = "metrics"
	PermAdminGlobal Permission = "admin:global"
	PermAgents      Permission = "agents"
)

// Context is the immutable tenant identity attached to a request.
// It is resolved from the x-api-key header at ingress and must not be
// modified afterwards; downstream components read it, never write it.
type Context struct {
	OrgID          int64
	OrgName        string
	Tier           Tier
	KeyFingerprint string
	Role           Role
	Permissions    []Permission
	DailyQuota     int
	MinuteQuota    int
	ResolvedAt     time.Time
}

// Can reports whether the tenant holds the given permission.
func (c *Context) Can(p Permission) bool {
	for _, have := range c.Permissions {
		if have == p {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the key has the admin role.
func (c *Context) IsAdmin() bool {
	return c.Role == RoleAdmin
}

// DefaultPermissions returns the permission set granted to a role.
func DefaultPermissions(role Role) []Permission {
	switch role {
	case RoleAdmin:
		return []Permission{PermVerify, PermHistory, PermMetrics, PermAgents, PermAdminGlobal}
	case RoleAgent:
		return []Permission{PermVerify}
	default:
		return []Permission{PermVerify, PermHistory, PermMetrics, PermAgents}
	}
}

// DefaultMinuteQuota returns the per-minute request quota for a tier.
func DefaultMinuteQuota(tier Tier) int {
	switch tier {
	case TierEnterprise:
		return 600
	case TierPro:
		return 300
	default:
		return 100
	}
}

// DefaultDailyQuota returns the daily request quota for a tier.
func DefaultDailyQuota(tier Tier) int {
	switch tier {
	case TierEnterprise:
		return 100000
	case TierPro:
		return 20000
	default:
		return 1000
	}
}
