// Copyright 2025 QWED
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"errors"
	"time"

	"github.com/qwed-ai/platform/gateway/policy"
	"github.com/qwed-ai/platform/shared/logger"
)

type tenantKey struct{}

// WithTenant tags ctx with the tenant on whose behalf code runs, so a
// fallback event can be attributed.
func WithTenant(ctx context.Context, tenantID int64) context.Context {
	return context.WithValue(ctx, tenantKey{}, tenantID)
}

func tenantFrom(ctx context.Context) int64 {
	if id, ok := ctx.Value(tenantKey{}).(int64); ok {
		return id
	}
	return 0
}

// Chain runs code on the primary runner and falls back to the secondary
// when the primary is unreachable. Every fallback is recorded as a
// SANDBOX_FALLBACK security event; validation failures and timeouts do
// NOT fall back, those are answers about the code, not the runtime.
type Chain struct {
	Primary  Runner
	Fallback Runner
	Sink     policy.EventSink
	Log      *logger.Logger
}

// NewChain builds the standard docker-then-restricted chain.
func NewChain(primary, fallback Runner, sink policy.EventSink) *Chain {
	if sink == nil {
		sink = policy.NopSink{}
	}
	return &Chain{
		Primary:  primary,
		Fallback: fallback,
		Sink:     sink,
		Log:      logger.New("sandbox"),
	}
}

func (c *Chain) Run(ctx context.Context, code string) (*Result, error) {
	// Validation verdicts are final regardless of backend.
	if _, err := Validate(code); err != nil {
		return nil, err
	}

	var primaryErr error
	if c.Primary != nil {
		res, err := c.Primary.Run(ctx, code)
		if err == nil {
			return res, nil
		}
		if err == ErrTimeout || ctx.Err() != nil {
			return nil, err
		}
		primaryErr = err
		c.Log.Warn("", "", "primary sandbox unavailable, using restricted evaluator", map[string]any{
			"error": err.Error(),
		})
	}

	if c.Fallback == nil {
		if primaryErr == nil {
			primaryErr = errors.New("no sandbox runner configured")
		}
		return nil, primaryErr
	}

	c.Sink.RecordSecurityEvent(policy.SecurityEvent{
		TenantID:  tenantFrom(ctx),
		Type:      policy.EventSandboxFallback,
		Layer:     policy.LayerSandbox,
		Reason:    "container runtime unavailable, restricted evaluator used",
		Timestamp: time.Now().UTC(),
	})
	return c.Fallback.Run(ctx, code)
}
