// Copyright 2025 QWED
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/qwed-ai/platform/gateway/dsl"
	"github.com/qwed-ai/platform/gateway/engine"
	"github.com/qwed-ai/platform/gateway/ratelimit"
	"github.com/qwed-ai/platform/shared/logger"
)

// maxReflections bounds the retry loop. Attempt backoffs are
// 500ms, 1s, 2s; each retry re-prompts the translator with the
// diagnostic from the failed attempt appended.
const maxReflections = 3

var reflectionBackoff = []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second}

// reflector re-runs a verification when the translator produced output
// the engine could not use. Only translator-recoverable failures
// retry; a genuine verification outcome, good or bad, is final. Every
// retry draws a fresh token from the request's rate budget.
type reflector struct {
	log     *logger.Logger
	limiter *ratelimit.Limiter
}

// budgetError reports a reflection retry denied by the rate limiter.
type budgetError struct {
	retryAfter int
}

func (e *budgetError) Error() string {
	return "reflection retry exceeds rate budget"
}

// recoverable reports whether a result came from bad translator output
// rather than from the claim itself: DSL parse or type errors and
// sandbox grammar violations qualify.
func recoverable(res *engine.Result) bool {
	if res == nil || res.Details == nil {
		return false
	}
	code, ok := res.Details["error_code"].(string)
	if !ok {
		return false
	}
	switch code {
	case dsl.CodeUnsafeDSL, dsl.CodeTypeMismatch, dsl.CodeArity, "GRAMMAR_VIOLATION":
		return true
	}
	return false
}

// run executes verify, feeding failures back into the query for up to
// maxReflections attempts. The returned result is the last attempt's.
// key is the API-key fingerprint whose rate budget the retries draw on.
func (r *reflector) run(ctx context.Context, key string, req *engine.Request,
	verify func(context.Context, *engine.Request) (*engine.Result, error)) (*engine.Result, int, error) {

	original := req.Query
	var res *engine.Result
	var err error

	for attempt := 1; attempt <= maxReflections; attempt++ {
		res, err = verify(ctx, req)
		if err != nil || !recoverable(res) {
			return res, attempt, err
		}
		if attempt == maxReflections {
			break
		}

		if r.limiter != nil {
			if allowed := r.limiter.Allow(key); !allowed.Allowed {
				return res, attempt, &budgetError{retryAfter: allowed.RetryAfter}
			}
		}

		r.log.Warn(fmt.Sprintf("%d", req.TenantID), req.RequestID, "reflection retry", map[string]any{
			"attempt":    attempt,
			"diagnostic": res.Explanation,
		})

		req.Query = fmt.Sprintf("%s\n\nA previous translation failed verification with this error: %s\nProduce a corrected translation.",
			original, res.Explanation)

		select {
		case <-time.After(reflectionBackoff[attempt-1]):
		case <-ctx.Done():
			return res, attempt, ctx.Err()
		}
	}
	return res, maxReflections, nil
}
