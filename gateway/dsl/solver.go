package dsl

import (
	"context"
	"fmt"
	"time"
)

// Status of a solve attempt.
type Status string

const (
	StatusSat     Status = "SAT"
	StatusUnsat   Status = "UNSAT"
	StatusUnknown Status = "UNKNOWN"
)

// Value is a concrete assignment for one variable.
type Value struct {
	Type Type
	Int  int64
	Real float64
	Bool bool
	Str  string
}

func (v Value) String() string {
	switch v.Type {
	case TypeInt:
		return fmt.Sprintf("%d", v.Int)
	case TypeReal:
		return fmt.Sprintf("%g", v.Real)
	case TypeBool:
		return fmt.Sprintf("%t", v.Bool)
	case TypeString:
		return fmt.Sprintf("%q", v.Str)
	default:
		return "?"
	}
}

// Outcome is the solver's answer. Model is populated only for SAT.
type Outcome struct {
	Status Status
	Model  map[string]Value
}

// Solver decides satisfiability of compiled programs. Implementations
// must respect ctx cancellation and return UNKNOWN rather than block.
type Solver interface {
	Solve(ctx context.Context, prog *Program) (Outcome, error)
}

// DefaultSolveTimeout bounds a single solve call.
const DefaultSolveTimeout = 5 * time.Second
