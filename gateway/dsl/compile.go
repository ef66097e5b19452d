package dsl

import (
	"errors"
	"fmt"
	"sort"
)

// Type of a DSL value or variable.
type Type int

const (
	TypeUnknown Type = iota
	TypeBool
	TypeInt
	TypeReal
	TypeString
)

func (t Type) String() string {
	switch t {
	case TypeBool:
		return "bool"
	case TypeInt:
		return "int"
	case TypeReal:
		return "real"
	case TypeString:
		return "string"
	default:
		return "unknown"
	}
}

// Compile error codes.
const (
	CodeUnsafeDSL    = "UNSAFE_DSL"
	CodeTypeMismatch = "TYPE_MISMATCH"
	CodeArity        = "BAD_ARITY"
)

// CompileError reports a rejected program. Code is machine-readable and
// surfaces in the API response; Offset points into the DSL source.
type CompileError struct {
	Code   string
	Offset int
	Msg    string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("%s at offset %d: %s", e.Code, e.Offset, e.Msg)
}

type opClass int

const (
	opLogic    opClass = iota // bool args, bool result
	opCompare                 // numeric args, bool result
	opArith                   // numeric args, numeric result
	opEquality                // same-type args, bool result
	opIte                     // (ITE cond then else)
)

type opSpec struct {
	class    opClass
	minArity int
	maxArity int // -1 for variadic
}

// whitelist is the closed set of permitted operators. Anything else in
// operator position fails compilation with UNSAFE_DSL.
var whitelist = map[string]opSpec{
	"AND":     {opLogic, 2, -1},
	"OR":      {opLogic, 2, -1},
	"NOT":     {opLogic, 1, 1},
	"IMPLIES": {opLogic, 2, 2},
	"IFF":     {opLogic, 2, 2},

	"EQ":  {opEquality, 2, 2},
	"NEQ": {opEquality, 2, 2},

	"GT": {opCompare, 2, 2},
	"GE": {opCompare, 2, 2},
	"LT": {opCompare, 2, 2},
	"LE": {opCompare, 2, 2},

	"PLUS":  {opArith, 2, -1},
	"MINUS": {opArith, 2, 2},
	"MUL":   {opArith, 2, -1},
	"DIV":   {opArith, 2, 2},
	"MOD":   {opArith, 2, 2},
	"POW":   {opArith, 2, 2},
	"NEG":   {opArith, 1, 1},

	"ITE": {opIte, 3, 3},
}

// structuralForms are handled outside the operator classes: quantifiers,
// assertions and the top-level PROGRAM wrapper.
var structuralForms = map[string]bool{
	"FORALL": true, "EXISTS": true, "ASSERT": true, "PROGRAM": true,
}

// Node is a compiled, typed constraint node.
type Node interface {
	nodeType() Type
}

// Op is an n-ary operator application.
type Op struct {
	Name string
	Args []Node
	Type Type
}

// VarRef references a declared variable.
type VarRef struct {
	Name string
	Type Type
}

// IntConst, RealConst, BoolConst and StrConst are literal values.
type IntConst int64
type RealConst float64
type BoolConst bool
type StrConst string

// Quant is a FORALL or EXISTS form binding variables over a body.
type Quant struct {
	Kind  string // "FORALL" or "EXISTS"
	Bound []Variable
	Body  Node
}

func (n *Op) nodeType() Type      { return n.Type }
func (n *VarRef) nodeType() Type  { return n.Type }
func (n IntConst) nodeType() Type { return TypeInt }
func (RealConst) nodeType() Type  { return TypeReal }
func (BoolConst) nodeType() Type  { return TypeBool }
func (StrConst) nodeType() Type   { return TypeString }
func (*Quant) nodeType() Type     { return TypeBool }

// Variable is a free variable of a compiled program.
type Variable struct {
	Name string
	Type Type
}

// Program is a compiled constraint ready for a Solver. It is opaque to
// callers; only this package and solver bindings inspect it.
type Program struct {
	Source string
	Vars   []Variable
	Root   Node
}

// Compile parses and type-checks DSL source against the operator
// whitelist. The result must be a boolean constraint. Syntax errors are
// reported as UNSAFE_DSL so callers see one rejection code for both
// malformed and disallowed input.
func Compile(src string) (*Program, error) {
	expr, err := Parse(src)
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) {
			return nil, &CompileError{Code: CodeUnsafeDSL, Offset: pe.Offset, Msg: pe.Msg}
		}
		return nil, err
	}

	c := &compiler{vars: make(map[string]*VarRef)}
	root, err := c.compileTop(expr)
	if err != nil {
		return nil, err
	}
	if root.nodeType() != TypeBool {
		return nil, &CompileError{
			Code:   CodeTypeMismatch,
			Offset: expr.offset(),
			Msg:    "top-level expression must be boolean, got " + root.nodeType().String(),
		}
	}

	// Unconstrained variables default to int so the program stays solvable.
	prog := &Program{Source: src, Root: root}
	for name, ref := range c.vars {
		if ref.Type == TypeUnknown {
			ref.Type = TypeInt
		}
		prog.Vars = append(prog.Vars, Variable{Name: name, Type: ref.Type})
	}
	sort.Slice(prog.Vars, func(i, j int) bool { return prog.Vars[i].Name < prog.Vars[j].Name })
	return prog, nil
}

type compiler struct {
	vars map[string]*VarRef
}

// compileTop admits the PROGRAM wrapper, valid only at top level. Its
// statements are implicitly conjoined.
func (c *compiler) compileTop(expr Expr) (Node, error) {
	list, ok := expr.(*List)
	if !ok {
		return c.compile(expr)
	}
	head, ok := list.Items[0].(*Sym)
	if !ok || head.Name != "PROGRAM" {
		return c.compile(expr)
	}

	stmts := list.Items[1:]
	if len(stmts) == 0 {
		return nil, &CompileError{Code: CodeArity, Offset: head.Off,
			Msg: "PROGRAM takes at least 1 statement, got 0"}
	}
	compiled := make([]Node, len(stmts))
	for i, s := range stmts {
		n, err := c.compile(s)
		if err != nil {
			return nil, err
		}
		if err := c.expect(n, TypeBool, s.offset()); err != nil {
			return nil, err
		}
		compiled[i] = n
	}
	if len(compiled) == 1 {
		return compiled[0], nil
	}
	return &Op{Name: "AND", Args: compiled, Type: TypeBool}, nil
}

func (c *compiler) compile(expr Expr) (Node, error) {
	switch e := expr.(type) {
	case *IntLit:
		return IntConst(e.Value), nil
	case *RealLit:
		return RealConst(e.Value), nil
	case *BoolLit:
		return BoolConst(e.Value), nil
	case *StrLit:
		return StrConst(e.Value), nil
	case *Sym:
		if _, listed := whitelist[e.Name]; listed || structuralForms[e.Name] {
			return nil, &CompileError{Code: CodeUnsafeDSL, Offset: e.Off,
				Msg: "operator " + e.Name + " used as a value"}
		}
		ref, ok := c.vars[e.Name]
		if !ok {
			ref = &VarRef{Name: e.Name}
			c.vars[e.Name] = ref
		}
		return ref, nil
	case *List:
		return c.compileForm(e)
	default:
		return nil, &CompileError{Code: CodeUnsafeDSL, Offset: expr.offset(), Msg: "unrecognized expression"}
	}
}

func (c *compiler) compileForm(form *List) (Node, error) {
	head, ok := form.Items[0].(*Sym)
	if !ok {
		return nil, &CompileError{Code: CodeUnsafeDSL, Offset: form.Off,
			Msg: "operator position must be a symbol"}
	}

	switch head.Name {
	case "FORALL", "EXISTS":
		return c.compileQuant(head, form)
	case "ASSERT":
		if len(form.Items) != 2 {
			return nil, &CompileError{Code: CodeArity, Offset: head.Off,
				Msg: fmt.Sprintf("ASSERT takes exactly 1 argument, got %d", len(form.Items)-1)}
		}
		n, err := c.compile(form.Items[1])
		if err != nil {
			return nil, err
		}
		if err := c.expect(n, TypeBool, form.Items[1].offset()); err != nil {
			return nil, err
		}
		return n, nil
	case "PROGRAM":
		return nil, &CompileError{Code: CodeUnsafeDSL, Offset: head.Off,
			Msg: "PROGRAM is only valid at top level"}
	}

	spec, ok := whitelist[head.Name]
	if !ok {
		return nil, &CompileError{Code: CodeUnsafeDSL, Offset: head.Off,
			Msg: "operator not in whitelist: " + head.Name}
	}

	args := form.Items[1:]
	if len(args) < spec.minArity || (spec.maxArity >= 0 && len(args) > spec.maxArity) {
		return nil, &CompileError{Code: CodeArity, Offset: head.Off,
			Msg: fmt.Sprintf("%s takes %s arguments, got %d", head.Name, arityString(spec), len(args))}
	}

	compiled := make([]Node, len(args))
	for i, a := range args {
		n, err := c.compile(a)
		if err != nil {
			return nil, err
		}
		compiled[i] = n
	}

	switch spec.class {
	case opLogic:
		for i, n := range compiled {
			if err := c.expect(n, TypeBool, args[i].offset()); err != nil {
				return nil, err
			}
		}
		return &Op{Name: head.Name, Args: compiled, Type: TypeBool}, nil

	case opCompare:
		if _, err := c.unifyNumeric(compiled, args, head.Off); err != nil {
			return nil, err
		}
		return &Op{Name: head.Name, Args: compiled, Type: TypeBool}, nil

	case opArith:
		t, err := c.unifyNumeric(compiled, args, head.Off)
		if err != nil {
			return nil, err
		}
		return &Op{Name: head.Name, Args: compiled, Type: t}, nil

	case opEquality:
		if _, err := c.unifyAny(compiled, args, head.Off); err != nil {
			return nil, err
		}
		return &Op{Name: head.Name, Args: compiled, Type: TypeBool}, nil

	case opIte:
		if err := c.expect(compiled[0], TypeBool, args[0].offset()); err != nil {
			return nil, err
		}
		t, err := c.unifyAny(compiled[1:], args[1:], head.Off)
		if err != nil {
			return nil, err
		}
		return &Op{Name: head.Name, Args: compiled, Type: t}, nil

	default:
		return nil, &CompileError{Code: CodeUnsafeDSL, Offset: head.Off, Msg: "internal: unknown operator class"}
	}
}

// compileQuant compiles (FORALL (x y) body) and (EXISTS (x y) body).
// Bound variables shadow free variables of the same name.
func (c *compiler) compileQuant(head *Sym, form *List) (Node, error) {
	if len(form.Items) != 3 {
		return nil, &CompileError{Code: CodeArity, Offset: head.Off,
			Msg: head.Name + " takes a bound variable list and a body"}
	}
	varList, ok := form.Items[1].(*List)
	if !ok {
		return nil, &CompileError{Code: CodeUnsafeDSL, Offset: form.Items[1].offset(),
			Msg: head.Name + " needs a parenthesized bound variable list"}
	}

	type shadow struct {
		name string
		ref  *VarRef
	}
	shadowed := make([]shadow, 0, len(varList.Items))
	bound := make([]*VarRef, 0, len(varList.Items))
	for _, item := range varList.Items {
		sym, ok := item.(*Sym)
		if !ok {
			return nil, &CompileError{Code: CodeUnsafeDSL, Offset: item.offset(),
				Msg: "bound variable must be an identifier"}
		}
		if _, listed := whitelist[sym.Name]; listed || structuralForms[sym.Name] {
			return nil, &CompileError{Code: CodeUnsafeDSL, Offset: sym.Off,
				Msg: "operator " + sym.Name + " cannot be bound"}
		}
		shadowed = append(shadowed, shadow{sym.Name, c.vars[sym.Name]})
		ref := &VarRef{Name: sym.Name}
		c.vars[sym.Name] = ref
		bound = append(bound, ref)
	}

	body, err := c.compile(form.Items[2])
	if err != nil {
		return nil, err
	}
	if err := c.expect(body, TypeBool, form.Items[2].offset()); err != nil {
		return nil, err
	}

	q := &Quant{Kind: head.Name, Body: body}
	for _, ref := range bound {
		if ref.Type == TypeUnknown {
			ref.Type = TypeInt
		}
		q.Bound = append(q.Bound, Variable{Name: ref.Name, Type: ref.Type})
	}
	for _, s := range shadowed {
		if s.ref == nil {
			delete(c.vars, s.name)
		} else {
			c.vars[s.name] = s.ref
		}
	}
	return q, nil
}

// expect pins an argument to the wanted type, binding unknown variables.
func (c *compiler) expect(n Node, want Type, off int) error {
	if ref, ok := n.(*VarRef); ok {
		if ref.Type == TypeUnknown {
			ref.Type = want
			return nil
		}
	}
	if got := n.nodeType(); got != want {
		return &CompileError{Code: CodeTypeMismatch, Offset: off,
			Msg: fmt.Sprintf("expected %s, got %s", want, got)}
	}
	return nil
}

// unifyNumeric forces all arguments to a single numeric type. Mixing int
// and real operands in one operation is rejected rather than coerced.
func (c *compiler) unifyNumeric(nodes []Node, exprs []Expr, off int) (Type, error) {
	t := TypeUnknown
	for i, n := range nodes {
		nt := n.nodeType()
		if nt == TypeBool || nt == TypeString {
			return TypeUnknown, &CompileError{Code: CodeTypeMismatch, Offset: exprs[i].offset(),
				Msg: "expected numeric operand, got " + nt.String()}
		}
		if nt == TypeUnknown {
			continue
		}
		if t == TypeUnknown {
			t = nt
			continue
		}
		if t != nt {
			return TypeUnknown, &CompileError{Code: CodeTypeMismatch, Offset: off,
				Msg: "mixed int and real operands are not allowed"}
		}
	}
	if t == TypeUnknown {
		t = TypeInt
	}
	for i, n := range nodes {
		if err := c.expect(n, t, exprs[i].offset()); err != nil {
			return TypeUnknown, err
		}
	}
	return t, nil
}

// unifyAny forces all arguments to a single type of any kind.
func (c *compiler) unifyAny(nodes []Node, exprs []Expr, off int) (Type, error) {
	t := TypeUnknown
	for _, n := range nodes {
		if nt := n.nodeType(); nt != TypeUnknown {
			if t == TypeUnknown {
				t = nt
			} else if t != nt {
				return TypeUnknown, &CompileError{Code: CodeTypeMismatch, Offset: off,
					Msg: "operands must share one type"}
			}
		}
	}
	if t == TypeUnknown {
		t = TypeInt
	}
	for i, n := range nodes {
		if err := c.expect(n, t, exprs[i].offset()); err != nil {
			return TypeUnknown, err
		}
	}
	return t, nil
}

func arityString(s opSpec) string {
	if s.maxArity < 0 {
		return fmt.Sprintf("at least %d", s.minArity)
	}
	if s.minArity == s.maxArity {
		return fmt.Sprintf("exactly %d", s.minArity)
	}
	return fmt.Sprintf("%d to %d", s.minArity, s.maxArity)
}
