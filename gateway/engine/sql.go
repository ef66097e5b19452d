package engine

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// SQL violation codes surfaced in result details.
const (
	sqlCodeMultiple  = "MULTIPLE_STATEMENTS"
	sqlCodeDangerous = "DANGEROUS_STATEMENT"
	sqlCodeUnknown   = "UNKNOWN_OBJECT"
	sqlCodeEmpty     = "EMPTY_STATEMENT"
)

// Violation is one reason a statement failed verification. A statement
// can carry several.
type Violation struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var dangerousStatements = map[string]bool{
	"DROP": true, "DELETE": true, "UPDATE": true, "INSERT": true,
	"ALTER": true, "TRUNCATE": true, "CREATE": true, "GRANT": true,
	"REVOKE": true, "EXEC": true, "EXECUTE": true,
}

// SQLEngine verifies that a query is a single read-only statement whose
// table and column references exist in the supplied schema. It never
// connects to a database.
type SQLEngine struct{}

// NewSQLEngine creates the sql engine.
func NewSQLEngine() *SQLEngine {
	return &SQLEngine{}
}

func (e *SQLEngine) Name() string        { return NameSQL }
func (e *SQLEngine) Deterministic() bool { return true }

func (e *SQLEngine) Verify(ctx context.Context, req *Request) (*Result, error) {
	query := req.SQL
	if query == "" {
		query = req.Query
	}

	violations := statementViolations(query)
	empty := len(violations) > 0 && violations[0].Code == sqlCodeEmpty
	if len(req.Schema) > 0 && !empty {
		violations = append(violations, schemaViolations(query, req.Schema)...)
	}

	if len(violations) > 0 {
		return &Result{
			Verdict:     VerdictUnsafe,
			Confidence:  1.0,
			Explanation: violations[0].Message,
			Details:     map[string]any{"violations": violations},
		}, nil
	}

	return &Result{
		Verdict:     VerdictVerified,
		Confidence:  1.0,
		Explanation: "single read-only statement, references resolve",
	}, nil
}

// statementViolations enforces the single-SELECT policy. All failures
// are reported, not just the first: a stacked DROP yields both a
// MULTIPLE_STATEMENTS and a DANGEROUS_STATEMENT violation.
func statementViolations(query string) []Violation {
	trimmed := strings.TrimSpace(query)
	trimmed = strings.TrimSuffix(trimmed, ";")
	if strings.TrimSpace(trimmed) == "" {
		return []Violation{{Code: sqlCodeEmpty, Message: "empty statement"}}
	}

	var out []Violation
	if strings.Contains(trimmed, ";") {
		out = append(out, Violation{Code: sqlCodeMultiple, Message: "multiple statements are not allowed"})
	}

	upper := strings.ToUpper(trimmed)
	first := firstWord(upper)
	if !dangerousStatements[first] && first != "SELECT" && first != "WITH" {
		out = append(out, Violation{
			Code:    sqlCodeDangerous,
			Message: fmt.Sprintf("only SELECT statements are allowed, got %s", first),
		})
	}

	seen := map[string]bool{}
	for _, kw := range reDangerousWord.FindAllString(upper, -1) {
		if seen[kw] {
			continue
		}
		seen[kw] = true
		out = append(out, Violation{
			Code:    sqlCodeDangerous,
			Message: fmt.Sprintf("%s statements are not allowed", kw),
		})
	}
	return out
}

var reDangerousWord = regexp.MustCompile(`\b(DROP|DELETE|UPDATE|INSERT|ALTER|TRUNCATE|CREATE|GRANT|REVOKE|EXEC|EXECUTE)\b`)

var (
	reFromTables = regexp.MustCompile(`(?i)\b(?:FROM|JOIN)\s+([A-Za-z_][A-Za-z0-9_]*)`)
	reColumnRef  = regexp.MustCompile(`\b([A-Za-z_][A-Za-z0-9_]*)\.([A-Za-z_][A-Za-z0-9_]*)\b`)
)

// schemaViolations resolves table and qualified column references
// against the schema map (table -> columns).
func schemaViolations(query string, schema map[string][]string) []Violation {
	var out []Violation
	seen := map[string]bool{}
	for _, m := range reFromTables.FindAllStringSubmatch(query, -1) {
		table := m[1]
		if _, ok := schema[table]; !ok && !seen[table] {
			seen[table] = true
			out = append(out, Violation{
				Code:    sqlCodeUnknown,
				Message: fmt.Sprintf("unknown table: %s", table),
			})
		}
	}
	for _, m := range reColumnRef.FindAllStringSubmatch(query, -1) {
		table, column := m[1], m[2]
		columns, ok := schema[table]
		if !ok {
			// Not a table reference (alias or function); lexical
			// analysis leaves those to the database.
			continue
		}
		ref := table + "." + column
		if !containsFold(columns, column) && !seen[ref] {
			seen[ref] = true
			out = append(out, Violation{
				Code:    sqlCodeUnknown,
				Message: fmt.Sprintf("unknown column: %s", ref),
			})
		}
	}
	return out
}

func firstWord(s string) string {
	for i, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '(' {
			return s[:i]
		}
	}
	return s
}

func containsFold(list []string, want string) bool {
	for _, s := range list {
		if strings.EqualFold(s, want) {
			return true
		}
	}
	return false
}
