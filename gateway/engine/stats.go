package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/qwed-ai/platform/gateway/provider"
	"github.com/qwed-ai/platform/gateway/sandbox"
)

// StatsEngine verifies statistical claims. The provider generates
// analysis code in the restricted grammar; the sandbox runs it and the
// engine reads the JSON result off stdout.
type StatsEngine struct {
	router *provider.Router
	runner sandbox.Runner
}

// NewStatsEngine creates the stats engine.
func NewStatsEngine(router *provider.Router, runner sandbox.Runner) *StatsEngine {
	return &StatsEngine{router: router, runner: runner}
}

func (e *StatsEngine) Name() string { return NameStats }

// Deterministic is true: the cache fingerprint covers the query and the
// inlined dataset, so a successful analysis can be replayed for the
// cache TTL without re-running the sandbox.
func (e *StatsEngine) Deterministic() bool { return true }

func (e *StatsEngine) Verify(ctx context.Context, req *Request) (*Result, error) {
	var code string
	used, err := e.router.Call(ctx, provider.CapStatsCode, req.Provider, req.TenantID,
		func(ctx context.Context, p provider.Provider) error {
			var callErr error
			code, callErr = p.GenerateStatsCode(ctx, req.Query)
			return callErr
		})
	if err != nil {
		return nil, fmt.Errorf("stats code generation: %w", err)
	}

	runCtx := sandbox.WithTenant(ctx, req.TenantID)
	res, err := e.runner.Run(runCtx, code)
	if err != nil {
		if ve, ok := err.(*sandbox.ValidationError); ok {
			return &Result{
				Verdict:     VerdictUnsafe,
				Explanation: "generated analysis code rejected: " + ve.Msg,
				Details:     map[string]any{"line": ve.Line, "error_code": "GRAMMAR_VIOLATION"},
				Provider:    used,
			}, nil
		}
		if err == sandbox.ErrTimeout {
			return &Result{
				Verdict:     VerdictError,
				Explanation: "analysis timed out",
				Provider:    used,
			}, nil
		}
		return nil, fmt.Errorf("running analysis: %w", err)
	}

	var computed map[string]float64
	if err := json.Unmarshal([]byte(res.Output), &computed); err != nil {
		// Single-value programs print a bare number.
		var single float64
		if err2 := json.Unmarshal([]byte(res.Output), &single); err2 != nil {
			return &Result{
				Verdict:     VerdictError,
				Explanation: "analysis produced unparseable output",
				Provider:    used,
			}, nil
		}
		computed = map[string]float64{"result": single}
	}

	details := map[string]any{
		"computed": computed,
		"backend":  res.Backend,
	}

	if req.ClaimedValue != nil {
		if primary, ok := primaryValue(computed); ok {
			diff := math.Abs(primary - *req.ClaimedValue)
			details["claimed_value"] = *req.ClaimedValue
			details["calculated_value"] = primary
			details["diff"] = diff
			if diff > mathTolerance {
				return &Result{
					Verdict:     VerdictCorrected,
					Confidence:  0.95,
					Explanation: fmt.Sprintf("claimed %g but analysis computed %g", *req.ClaimedValue, primary),
					Details:     details,
					Provider:    used,
				}, nil
			}
		}
	}

	return &Result{
		Verdict:     VerdictVerified,
		Confidence:  0.95,
		Explanation: "analysis completed",
		Details:     details,
		Provider:    used,
	}, nil
}

// primaryValue picks the value to compare a claim against: the sole
// entry, or the conventional "result" key.
func primaryValue(computed map[string]float64) (float64, bool) {
	if v, ok := computed["result"]; ok {
		return v, true
	}
	if len(computed) == 1 {
		for _, v := range computed {
			return v, true
		}
	}
	return 0, false
}
