package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/qwed-ai/platform/gateway/dsl"
	"github.com/qwed-ai/platform/gateway/provider"
)

// LogicEngine verifies logical claims. The provider translates natural
// language into DSL source, which is then compiled against the operator
// whitelist and handed to the solver. Provider output never executes.
type LogicEngine struct {
	router *provider.Router
	solver dsl.Solver
}

// NewLogicEngine creates the logic engine. A nil solver selects the
// built-in finite-domain backtracking binding.
func NewLogicEngine(router *provider.Router, solver dsl.Solver) *LogicEngine {
	if solver == nil {
		solver = &dsl.BacktrackSolver{}
	}
	return &LogicEngine{router: router, solver: solver}
}

func (e *LogicEngine) Name() string        { return NameLogic }
func (e *LogicEngine) Deterministic() bool { return true }

func (e *LogicEngine) Verify(ctx context.Context, req *Request) (*Result, error) {
	var src string
	used, err := e.router.Call(ctx, provider.CapLogicDSL, req.Provider, req.TenantID,
		func(ctx context.Context, p provider.Provider) error {
			var callErr error
			src, callErr = p.TranslateLogic(ctx, req.Query)
			return callErr
		})
	if err != nil {
		return nil, fmt.Errorf("logic translation: %w", err)
	}

	prog, err := dsl.Compile(src)
	if err != nil {
		var ce *dsl.CompileError
		if errors.As(err, &ce) {
			verdict := VerdictError
			if ce.Code == dsl.CodeUnsafeDSL {
				verdict = VerdictUnsafe
			}
			return &Result{
				Verdict:     verdict,
				Explanation: "translated constraint rejected: " + ce.Msg,
				Details:     map[string]any{"dsl": src, "error_code": ce.Code},
				Provider:    used,
			}, nil
		}
		return &Result{
			Verdict:     VerdictError,
			Explanation: fmt.Sprintf("constraint does not compile: %v", err),
			Details:     map[string]any{"dsl": src},
			Provider:    used,
		}, nil
	}

	solveCtx, cancel := context.WithTimeout(ctx, dsl.DefaultSolveTimeout)
	defer cancel()
	out, err := e.solver.Solve(solveCtx, prog)
	if err != nil {
		return nil, fmt.Errorf("solving constraint: %w", err)
	}

	details := map[string]any{"dsl": src}
	switch out.Status {
	case dsl.StatusSat:
		model := make(map[string]string, len(out.Model))
		for name, v := range out.Model {
			model[name] = v.String()
		}
		details["model"] = model
		return &Result{
			Verdict:     VerdictSat,
			Confidence:  1.0,
			Explanation: "constraint is satisfiable",
			Details:     details,
			Provider:    used,
		}, nil
	case dsl.StatusUnsat:
		return &Result{
			Verdict:     VerdictUnsat,
			Confidence:  1.0,
			Explanation: "constraint is unsatisfiable",
			Details:     details,
			Provider:    used,
		}, nil
	default:
		return &Result{
			Verdict:     VerdictUnknown,
			Confidence:  0,
			Explanation: "solver could not decide within its budget",
			Details:     details,
			Provider:    used,
		}, nil
	}
}
