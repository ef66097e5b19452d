package dsl

import (
	"fmt"
	"strconv"
	"unicode"
)

type tokenKind int

const (
	tokLParen tokenKind = iota
	tokRParen
	tokSymbol
	tokInt
	tokReal
	tokBool
	tokString
	tokEOF
)

type token struct {
	kind    tokenKind
	text    string
	intVal  int64
	realVal float64
	boolVal bool
	offset  int
}

// ParseError is a structured syntax error. Offset is the byte offset into
// the source at which the error was detected.
type ParseError struct {
	Offset int
	Msg    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("syntax error at offset %d: %s", e.Offset, e.Msg)
}

type lexer struct {
	src string
	pos int
}

func (l *lexer) next() (token, error) {
	for l.pos < len(l.src) && isSpace(l.src[l.pos]) {
		l.pos++
	}
	if l.pos >= len(l.src) {
		return token{kind: tokEOF, offset: l.pos}, nil
	}

	start := l.pos
	switch c := l.src[l.pos]; {
	case c == '(':
		l.pos++
		return token{kind: tokLParen, text: "(", offset: start}, nil
	case c == ')':
		l.pos++
		return token{kind: tokRParen, text: ")", offset: start}, nil
	case c == '"':
		return l.lexString(start)
	case c >= '0' && c <= '9', c == '-' && l.peekDigit():
		return l.lexNumber(start)
	case isSymbolStart(rune(c)):
		return l.lexSymbol(start)
	default:
		return token{}, &ParseError{Offset: start, Msg: fmt.Sprintf("unexpected character %q", c)}
	}
}

func (l *lexer) peekDigit() bool {
	return l.pos+1 < len(l.src) && l.src[l.pos+1] >= '0' && l.src[l.pos+1] <= '9'
}

func (l *lexer) lexNumber(start int) (token, error) {
	if l.src[l.pos] == '-' {
		l.pos++
	}
	isReal := false
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if c >= '0' && c <= '9' {
			l.pos++
			continue
		}
		if c == '.' && !isReal {
			isReal = true
			l.pos++
			continue
		}
		break
	}
	text := l.src[start:l.pos]
	if isReal {
		v, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return token{}, &ParseError{Offset: start, Msg: "malformed real literal " + text}
		}
		return token{kind: tokReal, text: text, realVal: v, offset: start}, nil
	}
	v, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return token{}, &ParseError{Offset: start, Msg: "malformed integer literal " + text}
	}
	return token{kind: tokInt, text: text, intVal: v, offset: start}, nil
}

func (l *lexer) lexString(start int) (token, error) {
	l.pos++ // opening quote
	var b []byte
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch c {
		case '"':
			l.pos++
			return token{kind: tokString, text: string(b), offset: start}, nil
		case '\\':
			if l.pos+1 >= len(l.src) {
				return token{}, &ParseError{Offset: l.pos, Msg: "dangling escape in string literal"}
			}
			l.pos++
			switch esc := l.src[l.pos]; esc {
			case '"', '\\':
				b = append(b, esc)
			case 'n':
				b = append(b, '\n')
			case 't':
				b = append(b, '\t')
			default:
				return token{}, &ParseError{Offset: l.pos, Msg: fmt.Sprintf("unknown escape \\%c", esc)}
			}
			l.pos++
		default:
			b = append(b, c)
			l.pos++
		}
	}
	return token{}, &ParseError{Offset: start, Msg: "unterminated string literal"}
}

func (l *lexer) lexSymbol(start int) (token, error) {
	for l.pos < len(l.src) && isSymbolPart(rune(l.src[l.pos])) {
		l.pos++
	}
	text := l.src[start:l.pos]
	switch text {
	case "true", "TRUE":
		return token{kind: tokBool, text: text, boolVal: true, offset: start}, nil
	case "false", "FALSE":
		return token{kind: tokBool, text: text, boolVal: false, offset: start}, nil
	}
	return token{kind: tokSymbol, text: text, offset: start}, nil
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isSymbolStart(r rune) bool {
	return unicode.IsLetter(r) || r == '_'
}

func isSymbolPart(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-' || r == '?'
}
