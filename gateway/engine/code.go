package engine

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"
)

// Severity of a code finding.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityInfo     Severity = "INFO"
)

// Finding is one security issue located in analyzed code.
type Finding struct {
	Line     int      `json:"line"`
	Category string   `json:"category"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// codeRule pairs a pattern with its classification. Analysis is lexical
// per line; the taint pass below adds cross-line findings.
type codeRule struct {
	category string
	severity Severity
	fn       string
	re       *regexp.Regexp
}

var dangerousCalls = []codeRule{
	{"command_execution", SeverityCritical, "os.system", regexp.MustCompile(`\bos\.system\s*\(`)},
	{"command_execution", SeverityCritical, "os.popen", regexp.MustCompile(`\bos\.popen\s*\(`)},
	{"command_execution", SeverityCritical, "subprocess.call", regexp.MustCompile(`\bsubprocess\.call\s*\(`)},
	{"command_execution", SeverityCritical, "subprocess.run", regexp.MustCompile(`\bsubprocess\.run\s*\(`)},
	{"command_execution", SeverityCritical, "subprocess.Popen", regexp.MustCompile(`\bsubprocess\.Popen\s*\(`)},
	{"dynamic_execution", SeverityCritical, "eval", regexp.MustCompile(`\beval\s*\(`)},
	{"dynamic_execution", SeverityCritical, "exec", regexp.MustCompile(`\bexec\s*\(`)},
	{"deserialization", SeverityCritical, "pickle.loads", regexp.MustCompile(`\bpickle\.loads?\s*\(`)},
	{"dynamic_import", SeverityCritical, "__import__", regexp.MustCompile(`\b__import__\s*\(`)},
	{"filesystem", SeverityHigh, "shutil.rmtree", regexp.MustCompile(`\bshutil\.rmtree\s*\(`)},
	{"filesystem", SeverityHigh, "os.remove", regexp.MustCompile(`\bos\.(remove|unlink)\s*\(`)},
	{"network", SeverityHigh, "socket.socket", regexp.MustCompile(`\bsocket\.socket\s*\(`)},
	{"filesystem", SeverityMedium, "open for write", regexp.MustCompile(`\bopen\s*\([^)]*,\s*["'][wa]`)},
	{"reflection", SeverityMedium, "getattr", regexp.MustCompile(`\bgetattr\s*\(`)},
	{"environment", SeverityInfo, "os.environ", regexp.MustCompile(`\bos\.environ\b`)},
}

var (
	reAssignInput = regexp.MustCompile(`^\s*([A-Za-z_][A-Za-z0-9_]*)\s*=\s*input\s*\(`)
	reAssignAlias = regexp.MustCompile(`^\s*([A-Za-z_][A-Za-z0-9_]*)\s*=\s*([A-Za-z_][A-Za-z0-9_]*)\s*$`)
	sinkFuncs     = regexp.MustCompile(`\b(os\.system|os\.popen|subprocess\.call|subprocess\.run|subprocess\.Popen|eval|exec)\s*\(([^)]*)\)`)

	reCredentialName = regexp.MustCompile(`(?i)password|passwd|pwd|secret|token|credential`)
	reWeakHashCall   = regexp.MustCompile(`\bhashlib\.(md5|sha1)\s*\(([^)]*)\)`)
	reShaHashCall    = regexp.MustCompile(`\bhashlib\.(sha224|sha256|sha384|sha512)\s*\(([^)]*)\)`)
	reSecretAssign   = regexp.MustCompile(`^\s*([A-Za-z_][A-Za-z0-9_]*)\s*=\s*b?["']([^"']{21,})["']`)
	reSecretName     = regexp.MustCompile(`(?i)key|secret|token`)
	reDefLine        = regexp.MustCompile(`^\s*def\s+([A-Za-z_][A-Za-z0-9_]*)\s*\([^)]*\)\s*:\s*(.*)$`)
)

// AnalyzeCode scans Python source line by line. It finds direct
// dangerous calls, credential misuse, hardcoded secrets, trivial
// infinite recursion, and user input reaching a dangerous call within
// two assignment hops.
func AnalyzeCode(code string) []Finding {
	var findings []Finding
	lines := strings.Split(code, "\n")

	// tainted holds names carrying user input; hop 0 is input() itself,
	// hop 1 a direct alias.
	tainted := map[string]int{}

	// pendingDef carries a function name whose body starts on the next
	// line; an unconditional self-call there is infinite recursion.
	pendingDef := ""

	for i, raw := range lines {
		line := stripComment(raw)
		if strings.TrimSpace(line) == "" {
			continue
		}
		lineNo := i + 1

		for _, rule := range dangerousCalls {
			if rule.re.MatchString(line) {
				findings = append(findings, Finding{
					Line:     lineNo,
					Category: rule.category,
					Severity: rule.severity,
					Message:  "Use of dangerous function: " + rule.fn,
				})
			}
		}

		if m := reWeakHashCall.FindStringSubmatch(line); m != nil && reCredentialName.MatchString(m[2]) {
			findings = append(findings, Finding{
				Line:     lineNo,
				Category: "weak_hash",
				Severity: SeverityCritical,
				Message:  fmt.Sprintf("Weak hash %s applied to a credential", m[1]),
			})
		}
		if m := reShaHashCall.FindStringSubmatch(line); m != nil &&
			reCredentialName.MatchString(m[2]) && !strings.Contains(strings.ToLower(m[2]), "salt") {
			findings = append(findings, Finding{
				Line:     lineNo,
				Category: "unsalted_hash",
				Severity: SeverityMedium,
				Message:  fmt.Sprintf("%s applied to a credential without salt", m[1]),
			})
		}
		if m := reSecretAssign.FindStringSubmatch(line); m != nil &&
			reSecretName.MatchString(m[1]) && shannonEntropy(m[2]) > 3.0 {
			findings = append(findings, Finding{
				Line:     lineNo,
				Category: "hardcoded_secret",
				Severity: SeverityCritical,
				Message:  fmt.Sprintf("Hardcoded secret assigned to %q", m[1]),
			})
		}

		if pendingDef != "" {
			if selfCall(pendingDef, line) {
				findings = append(findings, Finding{
					Line:     lineNo,
					Category: "infinite_recursion",
					Severity: SeverityCritical,
					Message:  fmt.Sprintf("Function %q unconditionally calls itself", pendingDef),
				})
			}
			pendingDef = ""
		}
		if m := reDefLine.FindStringSubmatch(line); m != nil {
			name, body := m[1], strings.TrimSpace(m[2])
			if body == "" {
				pendingDef = name
			} else if selfCall(name, body) {
				findings = append(findings, Finding{
					Line:     lineNo,
					Category: "infinite_recursion",
					Severity: SeverityCritical,
					Message:  fmt.Sprintf("Function %q unconditionally calls itself", name),
				})
			}
		}

		if m := reAssignInput.FindStringSubmatch(line); m != nil {
			tainted[m[1]] = 0
		} else if m := reAssignAlias.FindStringSubmatch(line); m != nil {
			if hops, ok := tainted[m[2]]; ok && hops < 2 {
				tainted[m[1]] = hops + 1
			}
		}

		if m := sinkFuncs.FindStringSubmatch(line); m != nil {
			args := m[2]
			for name := range tainted {
				if regexp.MustCompile(`\b` + name + `\b`).MatchString(args) {
					findings = append(findings, Finding{
						Line:     lineNo,
						Category: "tainted_input",
						Severity: SeverityCritical,
						Message:  fmt.Sprintf("User input %q reaches dangerous function %s", name, m[1]),
					})
					break
				}
			}
		}
	}
	return findings
}

// selfCall reports whether the first statement of a function body is an
// unconditional call of the function itself.
func selfCall(name, body string) bool {
	re := regexp.MustCompile(`^\s*(?:return\s+)?` + regexp.QuoteMeta(name) + `\s*\(`)
	return re.MatchString(body)
}

// shannonEntropy measures bits per character; long constants above ~3
// read as machine-generated key material rather than prose.
func shannonEntropy(s string) float64 {
	if s == "" {
		return 0
	}
	freq := make(map[rune]int)
	runes := []rune(s)
	for _, r := range runes {
		freq[r]++
	}
	n := float64(len(runes))
	var h float64
	for _, c := range freq {
		p := float64(c) / n
		h -= p * math.Log2(p)
	}
	return h
}

func stripComment(line string) string {
	// Good enough for lexical analysis; a # inside a string costs at
	// worst a missed finding on that line.
	if idx := strings.Index(line, "#"); idx >= 0 {
		return line[:idx]
	}
	return line
}

// CodeEngine verifies that submitted code is safe to run. Purely
// lexical and local: no provider call, no execution.
type CodeEngine struct{}

// NewCodeEngine creates the code engine.
func NewCodeEngine() *CodeEngine {
	return &CodeEngine{}
}

func (e *CodeEngine) Name() string        { return NameCode }
func (e *CodeEngine) Deterministic() bool { return true }

func (e *CodeEngine) Verify(ctx context.Context, req *Request) (*Result, error) {
	code := req.Code
	if code == "" {
		code = req.Query
	}
	if strings.TrimSpace(code) == "" {
		return &Result{
			Verdict:     VerdictError,
			Explanation: "no code supplied",
		}, nil
	}

	findings := AnalyzeCode(code)

	var blocking []Finding
	var warnings []Finding
	for _, f := range findings {
		if f.Severity == SeverityCritical || f.Severity == SeverityHigh {
			blocking = append(blocking, f)
		} else {
			warnings = append(warnings, f)
		}
	}

	details := map[string]any{}
	if len(findings) > 0 {
		details["findings"] = findings
	}

	if len(blocking) > 0 {
		return &Result{
			Verdict:     VerdictUnsafe,
			Confidence:  1.0,
			Explanation: blocking[0].Message,
			Details:     details,
		}, nil
	}

	explanation := "no dangerous constructs found"
	if len(warnings) > 0 {
		explanation = fmt.Sprintf("no blocking findings, %d warnings", len(warnings))
	}
	return &Result{
		Verdict:     VerdictVerified,
		Confidence:  1.0,
		Explanation: explanation,
		Details:     details,
	}, nil
}
