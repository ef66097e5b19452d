package dsl

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestParse_WellFormed(t *testing.T) {
	tests := []string{
		"(AND (GT x 5) (LT x 10))",
		"(NOT p)",
		"(EQ (PLUS x 1) 10)",
		"(IMPLIES p (OR q r))",
		"(EQ y 3.5)",
		"true",
		"(ITE p 1 2)",
		`(EQ name "alice")`,
		"(FORALL (x) (GE (MUL x x) 0))",
		"(PROGRAM (ASSERT (GT x 5)) (ASSERT (LT x 10)))",
	}
	for _, src := range tests {
		if _, err := Parse(src); err != nil {
			t.Errorf("Parse(%q) failed: %v", src, err)
		}
	}
}

func TestParse_SyntaxErrorsAreStructured(t *testing.T) {
	tests := []struct {
		src       string
		wantInMsg string
	}{
		{"(AND p q", "unclosed"},
		{"(AND p q))", "trailing"},
		{")", "closing"},
		{"()", "empty"},
		{"", "end of input"},
		{"(EQ x @)", "unexpected character"},
		{`(EQ s "unterminated)`, "unterminated"},
	}
	for _, tt := range tests {
		_, err := Parse(tt.src)
		if err == nil {
			t.Errorf("Parse(%q) should fail", tt.src)
			continue
		}
		var pe *ParseError
		if !errors.As(err, &pe) {
			t.Errorf("Parse(%q) error is %T, want *ParseError", tt.src, err)
			continue
		}
		if !strings.Contains(pe.Msg, tt.wantInMsg) {
			t.Errorf("Parse(%q) msg = %q, want %q mentioned", tt.src, pe.Msg, tt.wantInMsg)
		}
		if pe.Offset < 0 || pe.Offset > len(tt.src) {
			t.Errorf("Parse(%q) offset %d out of range", tt.src, pe.Offset)
		}
	}
}

func TestParse_DepthBounded(t *testing.T) {
	deep := strings.Repeat("(NOT ", 200) + "p" + strings.Repeat(")", 200)
	if _, err := Parse(deep); err == nil {
		t.Fatal("deeply nested input should be rejected")
	}
}

func TestCompile_WhitelistRejectsUnknownOperators(t *testing.T) {
	tests := []string{
		"(EXEC rm-rf)",
		"(AND (GT x 5) (SHELL ls))",
		"(EVAL x)",
		"(EQ (ADD x 1) 2)",
		"(EQ (SUB x 1) 2)",
		"(XOR p q)",
		"(DISTINCT x y z)",
		"(GT (ABS x) 3)",
	}
	for _, src := range tests {
		_, err := Compile(src)
		var ce *CompileError
		if !errors.As(err, &ce) {
			t.Errorf("Compile(%q) error is %T, want *CompileError", src, err)
			continue
		}
		if ce.Code != CodeUnsafeDSL {
			t.Errorf("Compile(%q) code = %q, want %q", src, ce.Code, CodeUnsafeDSL)
		}
	}
}

func TestCompile_SyntaxErrorsSurfaceAsUnsafeDSL(t *testing.T) {
	tests := []string{
		"(AND p q",
		"(EQ x.y 1)",
		"(AND p q))",
	}
	for _, src := range tests {
		_, err := Compile(src)
		var ce *CompileError
		if !errors.As(err, &ce) {
			t.Errorf("Compile(%q) error is %T, want *CompileError", src, err)
			continue
		}
		if ce.Code != CodeUnsafeDSL {
			t.Errorf("Compile(%q) code = %q, want %q", src, ce.Code, CodeUnsafeDSL)
		}
	}
}

func TestCompile_AcceptsWholeOperatorSet(t *testing.T) {
	tests := []string{
		"(EQ (PLUS x 1 2) 10)",
		"(EQ (MINUS x 1) 2)",
		"(EQ (POW x 2) 9)",
		"(EQ (MOD x 3) 1)",
		"(LE (NEG x) 0)",
		"(IFF p (NOT q))",
		"(NEQ a b)",
	}
	for _, src := range tests {
		if _, err := Compile(src); err != nil {
			t.Errorf("Compile(%q) failed: %v", src, err)
		}
	}
}

func TestCompile_ProgramConjoinsAssertions(t *testing.T) {
	prog, err := Compile("(PROGRAM (ASSERT (GT x 5)) (ASSERT (LT x 10)))")
	if err != nil {
		t.Fatal(err)
	}
	op, ok := prog.Root.(*Op)
	if !ok || op.Name != "AND" {
		t.Fatalf("root = %T, want conjunction", prog.Root)
	}
	if len(op.Args) != 2 {
		t.Fatalf("conjunction has %d arms, want 2", len(op.Args))
	}
}

func TestCompile_NestedProgramRejected(t *testing.T) {
	_, err := Compile("(AND (PROGRAM (GT x 1)) p)")
	var ce *CompileError
	if !errors.As(err, &ce) || ce.Code != CodeUnsafeDSL {
		t.Fatalf("want UNSAFE_DSL for nested PROGRAM, got %v", err)
	}
}

func TestCompile_QuantifierBindsVariables(t *testing.T) {
	prog, err := Compile("(AND (EXISTS (x) (GT x y)) (GT y 0))")
	if err != nil {
		t.Fatal(err)
	}
	// x is bound; only y remains free.
	if len(prog.Vars) != 1 || prog.Vars[0].Name != "y" {
		t.Fatalf("free vars = %v, want just y", prog.Vars)
	}
}

func TestCompile_ArityChecked(t *testing.T) {
	_, err := Compile("(NOT p q)")
	var ce *CompileError
	if !errors.As(err, &ce) || ce.Code != CodeArity {
		t.Fatalf("want BAD_ARITY error, got %v", err)
	}
}

func TestCompile_MixedNumericTypesRejected(t *testing.T) {
	_, err := Compile("(GT (PLUS x 1) 2.5)")
	var ce *CompileError
	if !errors.As(err, &ce) || ce.Code != CodeTypeMismatch {
		t.Fatalf("want TYPE_MISMATCH error, got %v", err)
	}
}

func TestCompile_TopLevelMustBeBool(t *testing.T) {
	_, err := Compile("(PLUS x 1)")
	var ce *CompileError
	if !errors.As(err, &ce) || ce.Code != CodeTypeMismatch {
		t.Fatalf("want TYPE_MISMATCH error, got %v", err)
	}
}

func TestCompile_InfersVariableTypes(t *testing.T) {
	prog, err := Compile("(AND (GT x 5) p (EQ y 3.5))")
	if err != nil {
		t.Fatal(err)
	}
	types := map[string]Type{}
	for _, v := range prog.Vars {
		types[v.Name] = v.Type
	}
	if types["x"] != TypeInt {
		t.Errorf("x inferred as %s, want int", types["x"])
	}
	if types["p"] != TypeBool {
		t.Errorf("p inferred as %s, want bool", types["p"])
	}
	if types["y"] != TypeReal {
		t.Errorf("y inferred as %s, want real", types["y"])
	}
}

func solve(t *testing.T, src string) Outcome {
	t.Helper()
	prog, err := Compile(src)
	if err != nil {
		t.Fatalf("Compile(%q): %v", src, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), DefaultSolveTimeout)
	defer cancel()
	out, err := (&BacktrackSolver{}).Solve(ctx, prog)
	if err != nil {
		t.Fatalf("Solve(%q): %v", src, err)
	}
	return out
}

func TestSolve_SatWithModel(t *testing.T) {
	out := solve(t, "(AND (GT x 5) (LT x 10))")
	if out.Status != StatusSat {
		t.Fatalf("status = %s, want SAT", out.Status)
	}
	x, ok := out.Model["x"]
	if !ok {
		t.Fatal("model missing x")
	}
	if x.Int <= 5 || x.Int >= 10 {
		t.Errorf("model x = %d does not satisfy the constraint", x.Int)
	}
}

func TestSolve_Unsat(t *testing.T) {
	out := solve(t, "(AND p (IFF p q) (NOT q))")
	if out.Status != StatusUnsat {
		t.Fatalf("status = %s, want UNSAT", out.Status)
	}
	if out.Model != nil {
		t.Error("UNSAT outcome should carry no model")
	}
}

func TestSolve_TruncatedIntegerDomainIsUnknown(t *testing.T) {
	// x=201, y=40401 is a model, but y lies outside the search bound.
	// Exhausting a truncated domain must not claim UNSAT.
	out := solve(t, "(AND (EQ (MUL x x) y) (GT x 200) (LT x 210))")
	if out.Status != StatusUnknown {
		t.Fatalf("status = %s, want UNKNOWN", out.Status)
	}

	// The same holds for plainly contradictory integer constraints: the
	// searched interval is finite, so no-model-found stays UNKNOWN.
	out = solve(t, "(AND (GT x 10) (LT x 5))")
	if out.Status != StatusUnknown {
		t.Fatalf("status = %s, want UNKNOWN", out.Status)
	}
}

func TestSolve_PropositionalLogic(t *testing.T) {
	tests := []struct {
		src  string
		want Status
	}{
		{"(AND p (NOT p))", StatusUnsat},
		{"(OR p (NOT p))", StatusSat},
		{"(IMPLIES p p)", StatusSat},
		{"(AND (IMPLIES p q) p (NOT q))", StatusUnsat},
		{"(IFF p (NOT p))", StatusUnsat},
	}
	for _, tt := range tests {
		if out := solve(t, tt.src); out.Status != tt.want {
			t.Errorf("solve(%q) = %s, want %s", tt.src, out.Status, tt.want)
		}
	}
}

func TestSolve_Arithmetic(t *testing.T) {
	out := solve(t, "(EQ (PLUS x y) 10)")
	if out.Status != StatusSat {
		t.Fatalf("status = %s, want SAT", out.Status)
	}
	if out.Model["x"].Int+out.Model["y"].Int != 10 {
		t.Errorf("model x=%d y=%d does not sum to 10", out.Model["x"].Int, out.Model["y"].Int)
	}
}

func TestSolve_Exponentiation(t *testing.T) {
	out := solve(t, "(AND (EQ (POW x 2) 9) (GT x 0))")
	if out.Status != StatusSat {
		t.Fatalf("status = %s, want SAT", out.Status)
	}
	if out.Model["x"].Int != 3 {
		t.Errorf("model x = %d, want 3", out.Model["x"].Int)
	}
}

func TestSolve_StringEquality(t *testing.T) {
	out := solve(t, `(EQ name "alice")`)
	if out.Status != StatusSat {
		t.Fatalf("status = %s, want SAT", out.Status)
	}
	if out.Model["name"].Str != "alice" {
		t.Errorf("model name = %q, want alice", out.Model["name"].Str)
	}
}

func TestSolve_QuantifiedProgramIsUnknown(t *testing.T) {
	for _, src := range []string{
		"(FORALL (x) (GE (MUL x x) 0))",
		"(EXISTS (x) (GT x 100))",
	} {
		if out := solve(t, src); out.Status != StatusUnknown {
			t.Errorf("solve(%q) = %s, want UNKNOWN", src, out.Status)
		}
	}
}

func TestSolve_ProgramOfAssertions(t *testing.T) {
	out := solve(t, "(PROGRAM (ASSERT (GT x 5)) (ASSERT (LT x 10)))")
	if out.Status != StatusSat {
		t.Fatalf("status = %s, want SAT", out.Status)
	}
	if x := out.Model["x"].Int; x <= 5 || x >= 10 {
		t.Errorf("model x = %d does not satisfy the program", x)
	}
}

func TestSolve_DivisionByZeroNeverSatisfies(t *testing.T) {
	// x must not be 0 in any model since DIV is undefined there.
	out := solve(t, "(EQ (DIV 10 x) 5)")
	if out.Status != StatusSat {
		t.Fatalf("status = %s, want SAT", out.Status)
	}
	if out.Model["x"].Int != 2 {
		t.Errorf("model x = %d, want 2", out.Model["x"].Int)
	}
}

func TestSolve_RealConstraints(t *testing.T) {
	out := solve(t, "(EQ y 3.5)")
	if out.Status != StatusSat {
		t.Fatalf("status = %s, want SAT", out.Status)
	}
	if out.Model["y"].Real != 3.5 {
		t.Errorf("model y = %g, want 3.5", out.Model["y"].Real)
	}
}

func TestSolve_RealNoModelIsUnknown(t *testing.T) {
	// Candidate sampling cannot prove real unsatisfiability.
	out := solve(t, "(AND (GT y 1.0) (LT y 1.0))")
	if out.Status != StatusUnknown {
		t.Fatalf("status = %s, want UNKNOWN", out.Status)
	}
}

func TestSolve_CancelledContextIsUnknown(t *testing.T) {
	prog, err := Compile("(AND (GT x 5) (LT x 10) (EQ (PLUS x y) z))")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, err := (&BacktrackSolver{Margin: 5000}).Solve(ctx, prog)
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != StatusUnknown {
		t.Fatalf("status = %s, want UNKNOWN on cancellation", out.Status)
	}
}

func TestSolve_FinishesWithinTimeout(t *testing.T) {
	start := time.Now()
	solve(t, "(AND (GT x 5) (LT x 10) (EQ y x))")
	if elapsed := time.Since(start); elapsed > DefaultSolveTimeout {
		t.Errorf("solve took %v, budget is %v", elapsed, DefaultSolveTimeout)
	}
}
