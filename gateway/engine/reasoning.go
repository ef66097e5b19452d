package engine

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// ReasoningEngine verifies multi-step derivations. The input is split
// into steps; every step asserting an equation is checked with the safe
// evaluator. The first failing step rejects the whole derivation, later
// steps are not examined since they build on a false premise.
type ReasoningEngine struct{}

// NewReasoningEngine creates the reasoning engine.
func NewReasoningEngine() *ReasoningEngine {
	return &ReasoningEngine{}
}

func (e *ReasoningEngine) Name() string        { return NameReasoning }
func (e *ReasoningEngine) Deterministic() bool { return true }

// reEquation extracts "expression = number" assertions within a step.
var reEquation = regexp.MustCompile(`([0-9][0-9+\-*/%^().\s]*?)\s*=\s*(-?\d+(?:\.\d+)?)`)

func (e *ReasoningEngine) Verify(ctx context.Context, req *Request) (*Result, error) {
	steps := splitSteps(req.Query)
	if len(steps) == 0 {
		return &Result{
			Verdict:     VerdictError,
			Explanation: "no verifiable steps found",
		}, nil
	}

	checked := 0
	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, m := range reEquation.FindAllStringSubmatch(step, -1) {
			exprText := strings.TrimSpace(m[1])
			claimed, err := strconv.ParseFloat(m[2], 64)
			if err != nil {
				continue
			}
			computed, err := evalExpr(exprText)
			if err != nil {
				continue
			}
			checked++
			if math.Abs(computed-claimed) > mathTolerance {
				return &Result{
					Verdict:     VerdictRejected,
					Confidence:  1.0,
					Explanation: fmt.Sprintf("step %d is wrong: %s = %g, not %g", i+1, exprText, computed, claimed),
					Details: map[string]any{
						"failed_step":      i + 1,
						"step_text":        step,
						"calculated_value": computed,
						"claimed_value":    claimed,
					},
				}, nil
			}
		}
	}

	if checked == 0 {
		return &Result{
			Verdict:     VerdictUnknown,
			Explanation: "no checkable equations in the derivation",
			Details:     map[string]any{"steps": len(steps)},
		}, nil
	}

	return &Result{
		Verdict:     VerdictVerified,
		Confidence:  1.0,
		Explanation: fmt.Sprintf("all %d checkable equations hold across %d steps", checked, len(steps)),
		Details:     map[string]any{"steps": len(steps), "equations_checked": checked},
	}, nil
}

var reStepMarker = regexp.MustCompile(`(?m)^\s*(?:step\s+\d+[:.)]|\d+[:.)])\s*`)

// splitSteps breaks a derivation into steps on numbered markers, or
// line by line when the input has no numbering.
func splitSteps(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	lower := strings.ToLower(text)
	if reStepMarker.MatchString(lower) {
		parts := reStepMarker.Split(lower, -1)
		var steps []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				steps = append(steps, s)
			}
		}
		return steps
	}

	var steps []string
	for _, line := range strings.Split(text, "\n") {
		if s := strings.TrimSpace(line); s != "" {
			steps = append(steps, s)
		}
	}
	return steps
}
