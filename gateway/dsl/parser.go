package dsl

// Expr is a node of the parsed S-expression tree.
type Expr interface {
	offset() int
}

// Sym is a bare symbol: an operator name or a variable reference.
type Sym struct {
	Name string
	Off  int
}

// IntLit is an integer literal.
type IntLit struct {
	Value int64
	Off   int
}

// RealLit is a real literal.
type RealLit struct {
	Value float64
	Off   int
}

// BoolLit is a boolean literal.
type BoolLit struct {
	Value bool
	Off   int
}

// StrLit is a quoted-string literal.
type StrLit struct {
	Value string
	Off   int
}

// List is a parenthesized form. The first item is the operator.
type List struct {
	Items []Expr
	Off   int
}

func (e *Sym) offset() int     { return e.Off }
func (e *IntLit) offset() int  { return e.Off }
func (e *RealLit) offset() int { return e.Off }
func (e *BoolLit) offset() int { return e.Off }
func (e *StrLit) offset() int  { return e.Off }
func (e *List) offset() int    { return e.Off }

// maxDepth bounds expression nesting so a hostile provider cannot force
// unbounded recursion in the parser or the solver.
const maxDepth = 64

// Parse turns DSL source into an expression tree. It is total: every
// input either parses or returns a *ParseError, it never panics.
func Parse(src string) (Expr, error) {
	p := &parser{lex: lexer{src: src}}
	if err := p.advance(); err != nil {
		return nil, err
	}
	expr, err := p.parseExpr(0)
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokEOF {
		return nil, &ParseError{Offset: p.tok.offset, Msg: "unexpected trailing input"}
	}
	return expr, nil
}

type parser struct {
	lex lexer
	tok token
}

func (p *parser) advance() error {
	t, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = t
	return nil
}

func (p *parser) parseExpr(depth int) (Expr, error) {
	if depth > maxDepth {
		return nil, &ParseError{Offset: p.tok.offset, Msg: "expression nesting too deep"}
	}

	switch t := p.tok; t.kind {
	case tokLParen:
		if err := p.advance(); err != nil {
			return nil, err
		}
		list := &List{Off: t.offset}
		for p.tok.kind != tokRParen {
			if p.tok.kind == tokEOF {
				return nil, &ParseError{Offset: p.tok.offset, Msg: "unclosed parenthesis"}
			}
			item, err := p.parseExpr(depth + 1)
			if err != nil {
				return nil, err
			}
			list.Items = append(list.Items, item)
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		if len(list.Items) == 0 {
			return nil, &ParseError{Offset: t.offset, Msg: "empty form"}
		}
		return list, nil
	case tokSymbol:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &Sym{Name: t.text, Off: t.offset}, nil
	case tokInt:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &IntLit{Value: t.intVal, Off: t.offset}, nil
	case tokReal:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &RealLit{Value: t.realVal, Off: t.offset}, nil
	case tokBool:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &BoolLit{Value: t.boolVal, Off: t.offset}, nil
	case tokString:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &StrLit{Value: t.text, Off: t.offset}, nil
	case tokRParen:
		return nil, &ParseError{Offset: t.offset, Msg: "unexpected closing parenthesis"}
	default:
		return nil, &ParseError{Offset: t.offset, Msg: "unexpected end of input"}
	}
}
