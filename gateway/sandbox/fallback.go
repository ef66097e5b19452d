// Copyright 2025 QWED
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"
)

// RestrictedRunner interprets the analysis grammar natively. It exists
// so verification degrades instead of failing when no container runtime
// is reachable; the control plane records the degradation as a
// SANDBOX_FALLBACK security event.
type RestrictedRunner struct{}

func (r *RestrictedRunner) Run(ctx context.Context, code string) (*Result, error) {
	start := time.Now()
	program, err := Validate(code)
	if err != nil {
		return nil, err
	}

	env := map[string]any{} // name -> float64 or []float64
	var output []byte

	for _, s := range program {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		switch s.kind {
		case stmtImport:
			// no-op
		case stmtAssignList:
			env[s.target] = s.list
		case stmtAssignLiteral:
			env[s.target] = s.lit
		case stmtAssignCall:
			v, err := applyFunc(s.fn, env, s.arg)
			if err != nil {
				return nil, err
			}
			env[s.target] = v
		case stmtAssignArith:
			v, err := evalArith(env, s.left, s.op, s.right)
			if err != nil {
				return nil, err
			}
			env[s.target] = v
		case stmtPrint:
			output, err = renderPrint(env, s)
			if err != nil {
				return nil, err
			}
		}
	}

	out, truncated := truncate(output)
	return &Result{
		Output:    out,
		Truncated: truncated,
		Backend:   "restricted",
		Duration:  time.Since(start),
	}, nil
}

func applyFunc(fn string, env map[string]any, arg string) (float64, error) {
	val, ok := env[arg]
	if !ok {
		return 0, fmt.Errorf("undefined name %q", arg)
	}

	if scalar, ok := val.(float64); ok {
		switch fn {
		case "math.sqrt":
			if scalar < 0 {
				return 0, fmt.Errorf("sqrt of negative value")
			}
			return math.Sqrt(scalar), nil
		case "abs":
			return math.Abs(scalar), nil
		case "round":
			return math.Round(scalar), nil
		}
		return 0, fmt.Errorf("%s expects a list argument", fn)
	}

	data := val.([]float64)
	if len(data) == 0 && fn != "len" && fn != "sum" {
		return 0, fmt.Errorf("%s of empty list", fn)
	}

	switch fn {
	case "sum":
		var total float64
		for _, v := range data {
			total += v
		}
		return total, nil
	case "len":
		return float64(len(data)), nil
	case "min":
		m := data[0]
		for _, v := range data[1:] {
			if v < m {
				m = v
			}
		}
		return m, nil
	case "max":
		m := data[0]
		for _, v := range data[1:] {
			if v > m {
				m = v
			}
		}
		return m, nil
	case "statistics.mean":
		var total float64
		for _, v := range data {
			total += v
		}
		return total / float64(len(data)), nil
	case "statistics.median":
		sorted := append([]float64(nil), data...)
		sort.Float64s(sorted)
		n := len(sorted)
		if n%2 == 1 {
			return sorted[n/2], nil
		}
		return (sorted[n/2-1] + sorted[n/2]) / 2, nil
	case "statistics.mode":
		counts := map[float64]int{}
		for _, v := range data {
			counts[v]++
		}
		best, bestN := data[0], 0
		for _, v := range data {
			if counts[v] > bestN {
				best, bestN = v, counts[v]
			}
		}
		return best, nil
	case "statistics.variance", "statistics.stdev":
		if len(data) < 2 {
			return 0, fmt.Errorf("%s needs at least two points", fn)
		}
		v := variance(data, len(data)-1)
		if fn == "statistics.stdev" {
			return math.Sqrt(v), nil
		}
		return v, nil
	case "statistics.pvariance", "statistics.pstdev":
		v := variance(data, len(data))
		if fn == "statistics.pstdev" {
			return math.Sqrt(v), nil
		}
		return v, nil
	}
	return 0, fmt.Errorf("function %s not allowed", fn)
}

func variance(data []float64, divisor int) float64 {
	var mean float64
	for _, v := range data {
		mean += v
	}
	mean /= float64(len(data))
	var ss float64
	for _, v := range data {
		d := v - mean
		ss += d * d
	}
	return ss / float64(divisor)
}

func evalArith(env map[string]any, left, op, right string) (float64, error) {
	a, err := scalarTerm(env, left)
	if err != nil {
		return 0, err
	}
	b, err := scalarTerm(env, right)
	if err != nil {
		return 0, err
	}
	switch op {
	case "+":
		return a + b, nil
	case "-":
		return a - b, nil
	case "*":
		return a * b, nil
	case "/":
		if b == 0 {
			return 0, fmt.Errorf("division by zero")
		}
		return a / b, nil
	}
	return 0, fmt.Errorf("unknown operator %q", op)
}

func scalarTerm(env map[string]any, term string) (float64, error) {
	if numOnly.MatchString(term) {
		v, _ := strconv.ParseFloat(term, 64)
		return v, nil
	}
	val, ok := env[term]
	if !ok {
		return 0, fmt.Errorf("undefined name %q", term)
	}
	scalar, ok := val.(float64)
	if !ok {
		return 0, fmt.Errorf("%q is not a scalar", term)
	}
	return scalar, nil
}

func renderPrint(env map[string]any, s stmt) ([]byte, error) {
	if s.printName != "" {
		val, ok := env[s.printName]
		if !ok {
			return nil, fmt.Errorf("undefined name %q", s.printName)
		}
		return json.Marshal(val)
	}

	out := make(map[string]any, len(s.printKeys))
	for i, key := range s.printKeys {
		term := s.printVals[i]
		if numOnly.MatchString(term) {
			v, _ := strconv.ParseFloat(term, 64)
			out[key] = v
			continue
		}
		val, ok := env[term]
		if !ok {
			return nil, fmt.Errorf("undefined name %q", term)
		}
		out[key] = val
	}
	return json.Marshal(out)
}
