package dsl

import (
	"context"
	"errors"
	"math"
)

// BacktrackSolver is the built-in finite-domain binding. Boolean
// variables are searched exhaustively, so SAT and UNSAT are both
// definitive for pure-boolean programs. Integer variables are searched
// within a bound derived from the program's constants and real
// variables are sampled at a candidate set only; exhausting a truncated
// domain proves nothing, so a program carrying such variables reports
// UNKNOWN instead of UNSAT when no model is found. Quantified programs
// always report UNKNOWN.
//
// An external SMT binding can replace it by implementing Solver.
type BacktrackSolver struct {
	// Margin widens the integer search interval beyond the largest
	// constant magnitude. Zero selects the default of 100.
	Margin int64
}

const checkInterval = 1 << 12

var errCancelled = errors.New("solve cancelled")

// Solve searches for a model of prog. It honors ctx and returns UNKNOWN
// when cancelled or when the deadline passes mid-search.
func (s *BacktrackSolver) Solve(ctx context.Context, prog *Program) (Outcome, error) {
	if containsQuant(prog.Root) {
		return Outcome{Status: StatusUnknown}, nil
	}

	margin := s.Margin
	if margin <= 0 {
		margin = 100
	}
	bound := maxConstMagnitude(prog.Root) + margin

	search := &searcher{
		ctx:    ctx,
		root:   prog.Root,
		vars:   prog.Vars,
		bound:  bound,
		assign: make(map[string]Value, len(prog.Vars)),
	}

	found, err := search.run(0)
	if err != nil {
		if errors.Is(err, errCancelled) {
			return Outcome{Status: StatusUnknown}, nil
		}
		return Outcome{}, err
	}
	if found {
		model := make(map[string]Value, len(search.assign))
		for k, v := range search.assign {
			model[k] = v
		}
		return Outcome{Status: StatusSat, Model: model}, nil
	}
	// Only boolean domains were covered completely; any other variable
	// kind means the absence of a model within bounds decides nothing.
	for _, v := range prog.Vars {
		if v.Type != TypeBool {
			return Outcome{Status: StatusUnknown}, nil
		}
	}
	return Outcome{Status: StatusUnsat}, nil
}

type searcher struct {
	ctx    context.Context
	root   Node
	vars   []Variable
	bound  int64
	assign map[string]Value
	steps  int
}

func (s *searcher) run(i int) (bool, error) {
	s.steps++
	if s.steps%checkInterval == 0 {
		select {
		case <-s.ctx.Done():
			return false, errCancelled
		default:
		}
	}

	if i == len(s.vars) {
		ok, valid := eval(s.root, s.assign)
		return valid && ok.Bool, nil
	}

	v := s.vars[i]
	switch v.Type {
	case TypeBool:
		for _, b := range []bool{false, true} {
			s.assign[v.Name] = Value{Type: TypeBool, Bool: b}
			if found, err := s.run(i + 1); found || err != nil {
				return found, err
			}
		}
	case TypeInt:
		for n := -s.bound; n <= s.bound; n++ {
			s.assign[v.Name] = Value{Type: TypeInt, Int: n}
			if found, err := s.run(i + 1); found || err != nil {
				return found, err
			}
		}
	case TypeReal:
		for _, r := range s.realCandidates() {
			s.assign[v.Name] = Value{Type: TypeReal, Real: r}
			if found, err := s.run(i + 1); found || err != nil {
				return found, err
			}
		}
	case TypeString:
		for _, str := range s.strCandidates() {
			s.assign[v.Name] = Value{Type: TypeString, Str: str}
			if found, err := s.run(i + 1); found || err != nil {
				return found, err
			}
		}
	}
	delete(s.assign, v.Name)
	return false, nil
}

// realCandidates samples constants from the program, their neighborhoods
// and midpoints. Incomplete on purpose.
func (s *searcher) realCandidates() []float64 {
	consts := collectRealConsts(s.root, nil)
	seen := map[float64]bool{}
	var out []float64
	add := func(v float64) {
		if !math.IsInf(v, 0) && !math.IsNaN(v) && !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	add(0)
	add(1)
	add(-1)
	for _, c := range consts {
		add(c)
		add(c + 0.5)
		add(c - 0.5)
		add(c + 1)
		add(c - 1)
	}
	for i := 0; i < len(consts); i++ {
		for j := i + 1; j < len(consts); j++ {
			add((consts[i] + consts[j]) / 2)
		}
	}
	return out
}

// strCandidates gathers the string constants appearing in the program
// plus the empty string.
func (s *searcher) strCandidates() []string {
	seen := map[string]bool{"": true}
	out := []string{""}
	for _, c := range collectStrConsts(s.root, nil) {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}

func collectRealConsts(n Node, acc []float64) []float64 {
	switch t := n.(type) {
	case RealConst:
		return append(acc, float64(t))
	case *Op:
		for _, a := range t.Args {
			acc = collectRealConsts(a, acc)
		}
	case *Quant:
		return collectRealConsts(t.Body, acc)
	}
	return acc
}

func collectStrConsts(n Node, acc []string) []string {
	switch t := n.(type) {
	case StrConst:
		return append(acc, string(t))
	case *Op:
		for _, a := range t.Args {
			acc = collectStrConsts(a, acc)
		}
	case *Quant:
		return collectStrConsts(t.Body, acc)
	}
	return acc
}

func maxConstMagnitude(n Node) int64 {
	switch t := n.(type) {
	case IntConst:
		v := int64(t)
		if v < 0 {
			v = -v
		}
		return v
	case RealConst:
		v := math.Abs(float64(t))
		if v > float64(math.MaxInt32) {
			return math.MaxInt32
		}
		return int64(math.Ceil(v))
	case *Op:
		var m int64
		for _, a := range t.Args {
			if am := maxConstMagnitude(a); am > m {
				m = am
			}
		}
		return m
	case *Quant:
		return maxConstMagnitude(t.Body)
	}
	return 0
}

func containsQuant(n Node) bool {
	switch t := n.(type) {
	case *Quant:
		return true
	case *Op:
		for _, a := range t.Args {
			if containsQuant(a) {
				return true
			}
		}
	}
	return false
}

// eval evaluates a compiled node under an assignment. The second return
// is false when evaluation is undefined (division by zero); such partial
// assignments simply fail to satisfy the constraint.
func eval(n Node, assign map[string]Value) (Value, bool) {
	switch t := n.(type) {
	case IntConst:
		return Value{Type: TypeInt, Int: int64(t)}, true
	case RealConst:
		return Value{Type: TypeReal, Real: float64(t)}, true
	case BoolConst:
		return Value{Type: TypeBool, Bool: bool(t)}, true
	case StrConst:
		return Value{Type: TypeString, Str: string(t)}, true
	case *VarRef:
		v, ok := assign[t.Name]
		return v, ok
	case *Op:
		return evalOp(t, assign)
	}
	return Value{}, false
}

func evalOp(op *Op, assign map[string]Value) (Value, bool) {
	args := make([]Value, len(op.Args))
	for i, a := range op.Args {
		v, ok := eval(a, assign)
		if !ok {
			return Value{}, false
		}
		args[i] = v
	}

	switch op.Name {
	case "AND":
		for _, a := range args {
			if !a.Bool {
				return boolVal(false), true
			}
		}
		return boolVal(true), true
	case "OR":
		for _, a := range args {
			if a.Bool {
				return boolVal(true), true
			}
		}
		return boolVal(false), true
	case "NOT":
		return boolVal(!args[0].Bool), true
	case "IMPLIES":
		return boolVal(!args[0].Bool || args[1].Bool), true
	case "IFF":
		return boolVal(args[0].Bool == args[1].Bool), true

	case "EQ":
		return boolVal(valuesEqual(args[0], args[1])), true
	case "NEQ":
		return boolVal(!valuesEqual(args[0], args[1])), true

	case "GT", "GE", "LT", "LE":
		a, b := numeric(args[0]), numeric(args[1])
		switch op.Name {
		case "GT":
			return boolVal(a > b), true
		case "GE":
			return boolVal(a >= b), true
		case "LT":
			return boolVal(a < b), true
		default:
			return boolVal(a <= b), true
		}

	case "PLUS", "MUL":
		return reduceArith(op.Name, args)
	case "MINUS", "DIV", "MOD", "POW":
		return arith2(op.Name, args[0], args[1])
	case "NEG":
		if args[0].Type == TypeReal {
			return Value{Type: TypeReal, Real: -args[0].Real}, true
		}
		return Value{Type: TypeInt, Int: -args[0].Int}, true

	case "ITE":
		if args[0].Bool {
			return args[1], true
		}
		return args[2], true
	}
	return Value{}, false
}

func reduceArith(name string, args []Value) (Value, bool) {
	acc := args[0]
	for _, a := range args[1:] {
		var ok bool
		acc, ok = arith2(name, acc, a)
		if !ok {
			return Value{}, false
		}
	}
	return acc, true
}

func arith2(name string, a, b Value) (Value, bool) {
	if a.Type == TypeReal {
		switch name {
		case "PLUS":
			return realVal(a.Real + b.Real), true
		case "MINUS":
			return realVal(a.Real - b.Real), true
		case "MUL":
			return realVal(a.Real * b.Real), true
		case "DIV":
			if b.Real == 0 {
				return Value{}, false
			}
			return realVal(a.Real / b.Real), true
		case "MOD":
			if b.Real == 0 {
				return Value{}, false
			}
			return realVal(math.Mod(a.Real, b.Real)), true
		case "POW":
			r := math.Pow(a.Real, b.Real)
			if math.IsNaN(r) || math.IsInf(r, 0) {
				return Value{}, false
			}
			return realVal(r), true
		}
		return Value{}, false
	}

	switch name {
	case "PLUS":
		return intVal(a.Int + b.Int), true
	case "MINUS":
		return intVal(a.Int - b.Int), true
	case "MUL":
		return intVal(a.Int * b.Int), true
	case "DIV":
		if b.Int == 0 {
			return Value{}, false
		}
		return intVal(a.Int / b.Int), true
	case "MOD":
		if b.Int == 0 {
			return Value{}, false
		}
		return intVal(a.Int % b.Int), true
	case "POW":
		return intPow(a.Int, b.Int)
	}
	return Value{}, false
}

// intPow is exact integer exponentiation. Negative or overflowing
// exponents are undefined and simply fail the assignment.
func intPow(base, exp int64) (Value, bool) {
	if exp < 0 || exp > 62 {
		return Value{}, false
	}
	r := int64(1)
	for i := int64(0); i < exp; i++ {
		prev := r
		r *= base
		if base != 0 && r/base != prev {
			return Value{}, false
		}
	}
	return intVal(r), true
}

func valuesEqual(a, b Value) bool {
	switch a.Type {
	case TypeBool:
		return a.Bool == b.Bool
	case TypeReal:
		return a.Real == b.Real
	case TypeString:
		return a.Str == b.Str
	default:
		return a.Int == b.Int
	}
}

func numeric(v Value) float64 {
	if v.Type == TypeReal {
		return v.Real
	}
	return float64(v.Int)
}

func boolVal(b bool) Value    { return Value{Type: TypeBool, Bool: b} }
func intVal(i int64) Value    { return Value{Type: TypeInt, Int: i} }
func realVal(r float64) Value { return Value{Type: TypeReal, Real: r} }
