// Copyright 2025 QWED
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("AUDIT_SECRET_KEY", "secret")
	t.Setenv("PRIMARY_ENDPOINT", "http://primary.internal")
	t.Setenv("PRIMARY_KEY", "pk")
	t.Setenv("PRIMARY_MODEL", "m1")
}

func TestLoadConfig_Defaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "auto", cfg.ActiveProvider)
	assert.Equal(t, 2000, cfg.MaxInputLength)
	assert.Equal(t, 100, cfg.RatePerKey)
	assert.Equal(t, 1000, cfg.RateGlobal)
	assert.Equal(t, time.Hour, cfg.CacheTTL)
	assert.Equal(t, 10*time.Second, cfg.SandboxTimeout)
	require.Len(t, cfg.Providers, 1)
	assert.Equal(t, "primary", cfg.Providers[0].Name)
}

func TestLoadConfig_RequiresSecret(t *testing.T) {
	t.Setenv("AUDIT_SECRET_KEY", "")
	t.Setenv("PRIMARY_ENDPOINT", "http://primary.internal")

	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestLoadConfig_RequiresProvider(t *testing.T) {
	t.Setenv("AUDIT_SECRET_KEY", "secret")
	t.Setenv("PRIMARY_ENDPOINT", "")
	t.Setenv("SECONDARY_ENDPOINT", "")

	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestLoadConfig_ActiveProviderMustBeConfigured(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("ACTIVE_PROVIDER", "secondary")
	t.Setenv("SECONDARY_ENDPOINT", "")

	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestLoadConfig_Overrides(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("SECONDARY_ENDPOINT", "http://secondary.internal")
	t.Setenv("ACTIVE_PROVIDER", "secondary")
	t.Setenv("RATE_LIMIT_PER_KEY", "250")
	t.Setenv("CACHE_TTL_SECONDS", "60")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "secondary", cfg.ActiveProvider)
	assert.Equal(t, 250, cfg.RatePerKey)
	assert.Equal(t, time.Minute, cfg.CacheTTL)
	assert.Len(t, cfg.Providers, 2)
}
