// Copyright 2025 QWED
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// The analysis grammar is a deliberately small slice of Python: imports
// of the statistics, math and json modules, numeric list assignments,
// whitelisted aggregate calls, two-term arithmetic and a single
// json.dumps print. Anything outside it is rejected before execution,
// whichever backend runs the code.

// ValidationError reports the first offending line.
type ValidationError struct {
	Line int
	Text string
	Msg  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("line %d: %s: %q", e.Line, e.Msg, e.Text)
}

type stmtKind int

const (
	stmtImport stmtKind = iota
	stmtAssignList
	stmtAssignCall
	stmtAssignArith
	stmtAssignLiteral
	stmtPrint
)

type stmt struct {
	kind   stmtKind
	target string
	fn     string    // stmtAssignCall
	arg    string    // stmtAssignCall
	list   []float64 // stmtAssignList
	lit    float64   // stmtAssignLiteral

	// stmtAssignArith operands: name or literal
	left, op, right string

	// stmtPrint payload: either a single name or key->name pairs
	printName string
	printKeys []string
	printVals []string
}

var allowedFuncs = map[string]bool{
	"statistics.mean":      true,
	"statistics.median":    true,
	"statistics.mode":      true,
	"statistics.stdev":     true,
	"statistics.pstdev":    true,
	"statistics.variance":  true,
	"statistics.pvariance": true,
	"math.sqrt":            true,
	"sum":                  true,
	"min":                  true,
	"max":                  true,
	"len":                  true,
	"abs":                  true,
	"round":                true,
}

var (
	reImport  = regexp.MustCompile(`^import (statistics|math|json)$`)
	reName    = `[A-Za-z_][A-Za-z0-9_]*`
	reNum     = `-?\d+(?:\.\d+)?`
	reList    = regexp.MustCompile(`^(` + reName + `) = \[\s*(` + reNum + `(?:\s*,\s*` + reNum + `)*)?\s*\]$`)
	reCall    = regexp.MustCompile(`^(` + reName + `) = ((?:statistics\.|math\.)?[a-z]+)\((` + reName + `)\)$`)
	reArith   = regexp.MustCompile(`^(` + reName + `) = (` + reName + `|` + reNum + `) *([-+*/]) *(` + reName + `|` + reNum + `)$`)
	reLiteral = regexp.MustCompile(`^(` + reName + `) = (` + reNum + `)$`)
	rePrintN  = regexp.MustCompile(`^print\(json\.dumps\((` + reName + `)\)\)$`)
	rePrintD  = regexp.MustCompile(`^print\(json\.dumps\(\{(.+)\}\)\)$`)
	reDictKV  = regexp.MustCompile(`^"([^"]+)"\s*:\s*(` + reName + `|` + reNum + `)$`)
	numOnly   = regexp.MustCompile(`^` + reNum + `$`)
)

// Validate checks code against the grammar and returns the parsed
// program. The Docker backend runs the original text; the restricted
// backend interprets the parsed statements.
func Validate(code string) ([]stmt, error) {
	var program []stmt
	for i, raw := range strings.Split(code, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		s, err := parseLine(line)
		if err != nil {
			return nil, &ValidationError{Line: i + 1, Text: line, Msg: err.Error()}
		}
		program = append(program, s)
	}
	if len(program) == 0 {
		return nil, &ValidationError{Line: 1, Text: "", Msg: "empty program"}
	}
	return program, nil
}

func parseLine(line string) (stmt, error) {
	if reImport.MatchString(line) {
		return stmt{kind: stmtImport}, nil
	}
	if m := reList.FindStringSubmatch(line); m != nil {
		var values []float64
		if m[2] != "" {
			for _, tok := range strings.Split(m[2], ",") {
				v, err := strconv.ParseFloat(strings.TrimSpace(tok), 64)
				if err != nil {
					return stmt{}, fmt.Errorf("bad number %q", tok)
				}
				values = append(values, v)
			}
		}
		return stmt{kind: stmtAssignList, target: m[1], list: values}, nil
	}
	if m := reCall.FindStringSubmatch(line); m != nil {
		if !allowedFuncs[m[2]] {
			return stmt{}, fmt.Errorf("function %s not allowed", m[2])
		}
		return stmt{kind: stmtAssignCall, target: m[1], fn: m[2], arg: m[3]}, nil
	}
	if m := reArith.FindStringSubmatch(line); m != nil {
		return stmt{kind: stmtAssignArith, target: m[1], left: m[2], op: m[3], right: m[4]}, nil
	}
	if m := reLiteral.FindStringSubmatch(line); m != nil {
		v, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			return stmt{}, fmt.Errorf("bad number %q", m[2])
		}
		return stmt{kind: stmtAssignLiteral, target: m[1], lit: v}, nil
	}
	if m := rePrintN.FindStringSubmatch(line); m != nil {
		return stmt{kind: stmtPrint, printName: m[1]}, nil
	}
	if m := rePrintD.FindStringSubmatch(line); m != nil {
		s := stmt{kind: stmtPrint}
		for _, pair := range splitTopLevel(m[1]) {
			kv := reDictKV.FindStringSubmatch(strings.TrimSpace(pair))
			if kv == nil {
				return stmt{}, fmt.Errorf("bad dict entry %q", pair)
			}
			s.printKeys = append(s.printKeys, kv[1])
			s.printVals = append(s.printVals, kv[2])
		}
		if len(s.printKeys) == 0 {
			return stmt{}, fmt.Errorf("empty result dict")
		}
		return s, nil
	}
	return stmt{}, fmt.Errorf("statement outside the analysis grammar")
}

// splitTopLevel splits dict entries on commas. The grammar has no nested
// braces or strings with commas, so a plain split suffices.
func splitTopLevel(s string) []string {
	return strings.Split(s, ",")
}
