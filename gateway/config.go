// Copyright 2025 QWED
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the gateway's runtime configuration, loaded from the
// environment with a .env fallback for local development.
type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string

	// Secret keys the API-key fingerprints and the audit chain HMAC.
	Secret []byte

	// AttestationSeed is the Ed25519 seed for verdict signing. Empty
	// generates an ephemeral key pair at startup.
	AttestationSeed []byte

	// ActiveProvider is primary, secondary or auto.
	ActiveProvider string
	Providers      []ProviderConfig

	MaxInputLength int
	RatePerKey     int
	RateGlobal     int
	CacheTTL       time.Duration
	MaxInFlight    int

	SandboxImage   string
	SandboxTimeout time.Duration
}

// ProviderConfig is one upstream translator endpoint.
type ProviderConfig struct {
	Name     string
	Endpoint string
	APIKey   string
	Model    string
}

// LoadConfig reads the environment. A missing .env file is not an
// error; explicit environment variables always win.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	secret := os.Getenv("AUDIT_SECRET_KEY")
	if secret == "" {
		return nil, fmt.Errorf("AUDIT_SECRET_KEY is required")
	}

	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisURL:       os.Getenv("REDIS_URL"),
		Secret:         []byte(secret),
		ActiveProvider: getEnv("ACTIVE_PROVIDER", "auto"),
		MaxInputLength: getEnvInt("MAX_INPUT_LENGTH", 2000),
		RatePerKey:     getEnvInt("RATE_LIMIT_PER_KEY", 100),
		RateGlobal:     getEnvInt("RATE_LIMIT_GLOBAL", 1000),
		CacheTTL:       time.Duration(getEnvInt("CACHE_TTL_SECONDS", 3600)) * time.Second,
		MaxInFlight:    getEnvInt("MAX_IN_FLIGHT", 256),
		SandboxImage:   getEnv("SANDBOX_IMAGE", "python:3.12-alpine"),
		SandboxTimeout: time.Duration(getEnvInt("SANDBOX_TIMEOUT", 10)) * time.Second,
	}
	if seed := os.Getenv("ATTESTATION_PRIVATE_KEY"); seed != "" {
		cfg.AttestationSeed = []byte(seed)
	}

	for _, name := range []string{"primary", "secondary"} {
		prefix := strings.ToUpper(name)
		endpoint := os.Getenv(prefix + "_ENDPOINT")
		if endpoint == "" {
			continue
		}
		cfg.Providers = append(cfg.Providers, ProviderConfig{
			Name:     name,
			Endpoint: endpoint,
			APIKey:   os.Getenv(prefix + "_KEY"),
			Model:    os.Getenv(prefix + "_MODEL"),
		})
	}
	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("no provider configured: set PRIMARY_ENDPOINT")
	}
	if cfg.ActiveProvider != "auto" && !cfg.hasProvider(cfg.ActiveProvider) {
		return nil, fmt.Errorf("ACTIVE_PROVIDER %q has no endpoint configured", cfg.ActiveProvider)
	}
	return cfg, nil
}

func (c *Config) hasProvider(name string) bool {
	for _, p := range c.Providers {
		if p.Name == name {
			return true
		}
	}
	return false
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
