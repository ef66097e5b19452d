// Copyright 2025 QWED
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/cors"

	"github.com/qwed-ai/platform/gateway/attestation"
	"github.com/qwed-ai/platform/gateway/audit"
	"github.com/qwed-ai/platform/gateway/cache"
	"github.com/qwed-ai/platform/gateway/dsl"
	"github.com/qwed-ai/platform/gateway/engine"
	"github.com/qwed-ai/platform/gateway/policy"
	"github.com/qwed-ai/platform/gateway/provider"
	"github.com/qwed-ai/platform/gateway/ratelimit"
	"github.com/qwed-ai/platform/gateway/sandbox"
	"github.com/qwed-ai/platform/gateway/store"
	"github.com/qwed-ai/platform/shared/logger"
)

// Run starts the gateway and blocks until shutdown. It wires the full
// pipeline: Postgres, the audit chain resumed from its persisted tail,
// the cache backend, providers, the sandbox chain, all eight engines
// and the HTTP surface.
func Run() error {
	log := logger.New("main")

	cfg, err := LoadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	// The audit chain resumes from the last persisted entry so the
	// hash chain survives restarts.
	writer, err := audit.NewWriter(st.DB())
	if err != nil {
		return fmt.Errorf("starting audit writer: %w", err)
	}
	defer writer.Close()
	lastID, lastHash, err := audit.LoadTail(ctx, st.DB())
	if err != nil {
		return fmt.Errorf("loading audit tail: %w", err)
	}
	chain := audit.Resume(cfg.Secret, writer, lastID, lastHash)
	log.Info("", "", "audit chain resumed", map[string]any{"last_id": lastID})

	var cacheStore cache.Store
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parsing REDIS_URL: %w", err)
		}
		cacheStore = cache.NewRedis(redis.NewClient(opts), "")
		log.Info("", "", "using redis cache", nil)
	} else {
		cacheStore = cache.NewMemory(0)
		log.Info("", "", "using in-memory cache", nil)
	}

	registry := provider.NewRegistry()
	for _, pc := range cfg.Providers {
		p := provider.NewHTTPProvider(provider.HTTPConfig{
			Name:    pc.Name,
			BaseURL: pc.Endpoint,
			APIKey:  pc.APIKey,
			Model:   pc.Model,
		})
		if err := registry.Register(p); err != nil {
			return fmt.Errorf("registering provider %s: %w", pc.Name, err)
		}
	}
	if cfg.ActiveProvider != "auto" {
		if err := registry.SetSystemDefault(cfg.ActiveProvider); err != nil {
			return fmt.Errorf("setting default provider: %w", err)
		}
	}
	router := provider.NewRouter(registry)

	gate := policy.NewGate(policy.GateConfig{
		MaxInputLength: cfg.MaxInputLength,
		Sink:           st,
	})
	redactor := policy.NewRedactor()
	limiter := ratelimit.New(cfg.RatePerKey, cfg.RateGlobal)

	// Docker when the daemon answers, restricted evaluator otherwise.
	// Fallback runs emit a SANDBOX_FALLBACK security event each time.
	docker := sandbox.NewDockerRunner(cfg.SandboxImage)
	var primary sandbox.Runner
	probe, cancel := context.WithTimeout(ctx, 3*time.Second)
	if docker.Available(probe) {
		primary = docker
		log.Info("", "", "sandbox: docker isolation active", map[string]any{"image": cfg.SandboxImage})
	} else {
		log.Warn("", "", "sandbox: docker unavailable, restricted evaluator only", nil)
	}
	cancel()
	runner := sandbox.NewChain(primary, &sandbox.RestrictedRunner{}, st)

	dispatcher := engine.NewDispatcher(
		engine.NewMathEngine(router),
		engine.NewLogicEngine(router, &dsl.BacktrackSolver{}),
		engine.NewStatsEngine(router, runner),
		engine.NewFactEngine(router),
		engine.NewCodeEngine(),
		engine.NewSQLEngine(),
		engine.NewImageEngine(router),
		engine.NewReasoningEngine(),
	)

	signer, err := attestation.NewSigner(cfg.AttestationSeed)
	if err != nil {
		return fmt.Errorf("initializing attestation: %w", err)
	}

	service := NewService(ServiceConfig{
		Gate:       gate,
		Redactor:   redactor,
		Limiter:    limiter,
		Cache:      cacheStore,
		CacheTTL:   cfg.CacheTTL,
		Dispatcher: dispatcher,
		AuditChain: chain,
		Signer:     signer,
	})

	server := NewServer(service, st, signer, cfg.Secret, cfg.MaxInFlight)

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      c.Handler(server.Routes()),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("", "", "gateway listening", map[string]any{"port": cfg.Port})
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	log.Info("", "", "shutting down", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
