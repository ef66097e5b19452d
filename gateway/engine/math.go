package engine

import (
	"context"
	"fmt"
	"math"

	"github.com/qwed-ai/platform/gateway/provider"
)

// Tolerance for comparing a claimed value against the computed one.
const mathTolerance = 1e-9

// MathEngine verifies numeric claims. The provider only translates the
// question into an arithmetic expression; the engine evaluates it
// itself and compares against the claimed answer.
type MathEngine struct {
	router *provider.Router
}

// NewMathEngine creates the math engine.
func NewMathEngine(router *provider.Router) *MathEngine {
	return &MathEngine{router: router}
}

func (e *MathEngine) Name() string        { return NameMath }
func (e *MathEngine) Deterministic() bool { return true }

func (e *MathEngine) Verify(ctx context.Context, req *Request) (*Result, error) {
	var tr *provider.MathTranslation
	used, err := e.router.Call(ctx, provider.CapMath, req.Provider, req.TenantID,
		func(ctx context.Context, p provider.Provider) error {
			var callErr error
			tr, callErr = p.TranslateMath(ctx, req.Query)
			return callErr
		})
	if err != nil {
		return nil, fmt.Errorf("math translation: %w", err)
	}
	if tr == nil || tr.Expression == "" {
		return &Result{
			Verdict:     VerdictError,
			Explanation: "provider returned no expression",
			Provider:    used,
		}, nil
	}

	computed, err := evalExpr(tr.Expression)
	if err != nil {
		return &Result{
			Verdict:     VerdictError,
			Explanation: fmt.Sprintf("expression %q rejected: %v", tr.Expression, err),
			Provider:    used,
		}, nil
	}

	claimed := req.ClaimedValue
	if claimed == nil {
		claimed = tr.ClaimedValue
	}

	details := map[string]any{
		"expression":       tr.Expression,
		"calculated_value": computed,
	}

	// No claim to check: the computed value itself is the answer.
	if claimed == nil {
		return &Result{
			Verdict:     VerdictVerified,
			Confidence:  1.0,
			Explanation: fmt.Sprintf("%s = %g", tr.Expression, computed),
			Details:     details,
			Provider:    used,
		}, nil
	}

	details["claimed_value"] = *claimed
	diff := math.Abs(computed - *claimed)
	details["diff"] = diff

	if diff <= mathTolerance {
		return &Result{
			Verdict:     VerdictVerified,
			Confidence:  1.0,
			Explanation: fmt.Sprintf("claimed value %g matches %s", *claimed, tr.Expression),
			Details:     details,
			Provider:    used,
		}, nil
	}

	return &Result{
		Verdict:     VerdictCorrected,
		Confidence:  1.0,
		Explanation: fmt.Sprintf("claimed %g but %s = %g", *claimed, tr.Expression, computed),
		Details:     details,
		Provider:    used,
	}, nil
}
