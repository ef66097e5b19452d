// Copyright 2025 QWED
// SPDX-License-Identifier: Apache-2.0

package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/qwed-ai/platform/shared/logger"
)

// CallError is a provider transport failure. Status carries the HTTP
// status when the failure was an error response rather than a broken
// connection.
type CallError struct {
	Provider string
	Status   int
	Err      error
}

func (e *CallError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("provider %s returned status %d: %v", e.Provider, e.Status, e.Err)
	}
	return fmt.Sprintf("provider %s call failed: %v", e.Provider, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// Retryable reports whether err warrants failing over to the next
// provider: connection-level failures, 5xx responses and malformed
// output do, 4xx provider business errors do not.
func Retryable(err error) bool {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Status == 0 || ce.Status >= 500
	}
	var ne net.Error
	return errors.As(err, &ne)
}

// ErrNoProvider is returned when no registered provider can serve the
// requested capability.
var ErrNoProvider = errors.New("no provider available for capability")

// Router selects providers and executes calls with failover. Selection
// order: the request's explicit preference, then the tenant default,
// then the system default, then every remaining provider advertising
// the capability. Providers with an open breaker are skipped.
type Router struct {
	registry *Registry
	log      *logger.Logger

	mu       sync.Mutex
	breakers map[string]*Breaker

	breakerThreshold int
	breakerCooldown  time.Duration
}

// RouterOption configures the Router.
type RouterOption func(*Router)

// WithBreakerPolicy overrides the per-provider breaker defaults.
func WithBreakerPolicy(threshold int, cooldown time.Duration) RouterOption {
	return func(r *Router) {
		r.breakerThreshold = threshold
		r.breakerCooldown = cooldown
	}
}

// WithRouterLogger sets the router's logger.
func WithRouterLogger(l *logger.Logger) RouterOption {
	return func(r *Router) {
		r.log = l
	}
}

// NewRouter creates a router over the given registry.
func NewRouter(registry *Registry, opts ...RouterOption) *Router {
	r := &Router{
		registry: registry,
		breakers: make(map[string]*Breaker),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = logger.New("provider-router")
	}
	return r
}

// Candidates returns the ordered provider names the router would try
// for one request.
func (r *Router) Candidates(capability Capability, preferred string, tenantID int64) []string {
	var order []string
	seen := map[string]bool{}
	push := func(name string) {
		if name == "" || seen[name] {
			return
		}
		if p, ok := r.registry.Get(name); ok && Has(p.Capabilities(), capability) {
			seen[name] = true
			order = append(order, name)
		}
	}

	push(preferred)
	push(r.registry.TenantDefault(tenantID))
	push(r.registry.SystemDefault())
	for _, name := range r.registry.WithCapability(capability) {
		push(name)
	}
	return order
}

// Call runs fn against candidate providers in order until one succeeds
// or a non-retryable error occurs. Breaker state updates on every
// attempt.
func (r *Router) Call(ctx context.Context, capability Capability, preferred string, tenantID int64,
	fn func(ctx context.Context, p Provider) error) (string, error) {

	candidates := r.Candidates(capability, preferred, tenantID)
	if len(candidates) == 0 {
		return "", ErrNoProvider
	}

	var lastErr error
	for _, name := range candidates {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		br := r.breaker(name)
		if !br.Allow() {
			r.log.Warn("", "", "provider skipped, breaker open", map[string]any{
				"provider": name,
			})
			continue
		}

		p, ok := r.registry.Get(name)
		if !ok {
			continue
		}

		err := fn(ctx, p)
		if err == nil {
			br.RecordSuccess()
			return name, nil
		}

		br.RecordFailure()
		lastErr = err
		if !Retryable(err) {
			return name, err
		}
		r.log.Warn("", "", "provider failed, trying next", map[string]any{
			"provider": name,
			"error":    err.Error(),
		})
	}

	if lastErr == nil {
		return "", ErrNoProvider
	}
	return "", fmt.Errorf("all providers failed: %w", lastErr)
}

func (r *Router) breaker(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	br, ok := r.breakers[name]
	if !ok {
		br = NewBreaker(r.breakerThreshold, r.breakerCooldown)
		r.breakers[name] = br
	}
	return br
}
