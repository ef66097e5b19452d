// Copyright 2025 QWED
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qwed-ai/platform/gateway/dsl"
	"github.com/qwed-ai/platform/gateway/engine"
	"github.com/qwed-ai/platform/gateway/ratelimit"
	"github.com/qwed-ai/platform/shared/logger"
)

func fastBackoff(t *testing.T) {
	t.Helper()
	orig := reflectionBackoff
	reflectionBackoff = []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}
	t.Cleanup(func() { reflectionBackoff = orig })
}

func newReflector() *reflector {
	return &reflector{log: logger.New("test")}
}

func TestRecoverable(t *testing.T) {
	assert.False(t, recoverable(nil))
	assert.False(t, recoverable(&engine.Result{Verdict: engine.VerdictVerified}))
	assert.False(t, recoverable(&engine.Result{
		Verdict: engine.VerdictRejected,
		Details: map[string]any{"diff": 2.5},
	}))
	assert.True(t, recoverable(&engine.Result{
		Verdict: engine.VerdictUnsafe,
		Details: map[string]any{"error_code": dsl.CodeUnsafeDSL},
	}))
	assert.True(t, recoverable(&engine.Result{
		Verdict: engine.VerdictUnsafe,
		Details: map[string]any{"error_code": "GRAMMAR_VIOLATION"},
	}))
}

func TestReflector_NoRetryOnCleanResult(t *testing.T) {
	fastBackoff(t)
	calls := 0
	res, attempts, err := newReflector().run(context.Background(), "fp", &engine.Request{Query: "q"},
		func(ctx context.Context, req *engine.Request) (*engine.Result, error) {
			calls++
			return &engine.Result{Verdict: engine.VerdictVerified}, nil
		})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, engine.VerdictVerified, res.Verdict)
}

func TestReflector_RetriesWithDiagnostic(t *testing.T) {
	fastBackoff(t)
	var queries []string
	res, attempts, err := newReflector().run(context.Background(), "fp", &engine.Request{Query: "original"},
		func(ctx context.Context, req *engine.Request) (*engine.Result, error) {
			queries = append(queries, req.Query)
			if len(queries) == 1 {
				return &engine.Result{
					Verdict:     engine.VerdictUnsafe,
					Explanation: "unknown operator FROB",
					Details:     map[string]any{"error_code": dsl.CodeUnsafeDSL},
				}, nil
			}
			return &engine.Result{Verdict: engine.VerdictSat}, nil
		})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, engine.VerdictSat, res.Verdict)

	require.Len(t, queries, 2)
	assert.Equal(t, "original", queries[0])
	assert.Contains(t, queries[1], "original")
	assert.Contains(t, queries[1], "unknown operator FROB")
}

func TestReflector_BoundedAtThreeAttempts(t *testing.T) {
	fastBackoff(t)
	calls := 0
	res, attempts, err := newReflector().run(context.Background(), "fp", &engine.Request{Query: "q"},
		func(ctx context.Context, req *engine.Request) (*engine.Result, error) {
			calls++
			return &engine.Result{
				Verdict:     engine.VerdictUnsafe,
				Explanation: "still broken",
				Details:     map[string]any{"error_code": dsl.CodeTypeMismatch},
			}, nil
		})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, engine.VerdictUnsafe, res.Verdict)
}

func TestReflector_DiagnosticAppendsToOriginalNotPrevious(t *testing.T) {
	fastBackoff(t)
	var last string
	_, _, err := newReflector().run(context.Background(), "fp", &engine.Request{Query: "base"},
		func(ctx context.Context, req *engine.Request) (*engine.Result, error) {
			last = req.Query
			return &engine.Result{
				Verdict:     engine.VerdictUnsafe,
				Explanation: "bad",
				Details:     map[string]any{"error_code": dsl.CodeArity},
			}, nil
		})
	require.NoError(t, err)
	// The feedback prompt grows from the original query each time, not
	// from the previous feedback prompt.
	assert.Equal(t, 1, strings.Count(last, "base"))
}

func recoverableResult() *engine.Result {
	return &engine.Result{
		Verdict:     engine.VerdictUnsafe,
		Explanation: "bad translation",
		Details:     map[string]any{"error_code": dsl.CodeUnsafeDSL},
	}
}

func TestReflector_RetriesConsumeRateBudget(t *testing.T) {
	fastBackoff(t)
	limiter := ratelimit.New(3, 10)
	r := &reflector{log: logger.New("test"), limiter: limiter}

	_, attempts, err := r.run(context.Background(), "key-a", &engine.Request{Query: "q"},
		func(ctx context.Context, req *engine.Request) (*engine.Result, error) {
			return recoverableResult(), nil
		})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)

	// Two retries drew two tokens; one of the three remains.
	res := limiter.Allow("key-a")
	assert.True(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.False(t, limiter.Allow("key-a").Allowed)
}

func TestReflector_ExhaustedBudgetStopsRetrying(t *testing.T) {
	fastBackoff(t)
	limiter := ratelimit.New(1, 10)
	limiter.Allow("key-a") // the request itself spent the only token
	r := &reflector{log: logger.New("test"), limiter: limiter}

	calls := 0
	res, attempts, err := r.run(context.Background(), "key-a", &engine.Request{Query: "q"},
		func(ctx context.Context, req *engine.Request) (*engine.Result, error) {
			calls++
			return recoverableResult(), nil
		})

	var be *budgetError
	require.ErrorAs(t, err, &be)
	assert.Greater(t, be.retryAfter, 0)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, engine.VerdictUnsafe, res.Verdict)
}

func TestReflector_HonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := newReflector().run(ctx, "fp", &engine.Request{Query: "q"},
		func(ctx context.Context, req *engine.Request) (*engine.Result, error) {
			return &engine.Result{
				Verdict: engine.VerdictUnsafe,
				Details: map[string]any{"error_code": dsl.CodeUnsafeDSL},
			}, nil
		})
	assert.ErrorIs(t, err, context.Canceled)
}
