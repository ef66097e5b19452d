// Package engine houses the verification engines and the dispatcher
// that routes admitted requests to them. Each engine turns a claim into
// a verdict by deterministic computation or by delegating translation
// to a provider and checking the result itself.
package engine

import (
	"context"
	"fmt"
	"time"
)

// Engine names as they appear in requests and audit entries.
const (
	NameMath      = "math"
	NameLogic     = "logic"
	NameStats     = "stats"
	NameFact      = "fact"
	NameCode      = "code"
	NameSQL       = "sql"
	NameImage     = "image"
	NameReasoning = "reasoning"
)

// Verdict is the outcome of one verification.
type Verdict string

const (
	VerdictVerified  Verdict = "VERIFIED"
	VerdictCorrected Verdict = "CORRECTED"
	VerdictRejected  Verdict = "REJECTED"
	VerdictSat       Verdict = "SAT"
	VerdictUnsat     Verdict = "UNSAT"
	VerdictUnknown   Verdict = "UNKNOWN"
	VerdictUnsafe    Verdict = "UNSAFE"
	VerdictSupported Verdict = "SUPPORTED"
	VerdictRefuted   Verdict = "REFUTED"
	VerdictDisputed  Verdict = "DISPUTED"
	VerdictError     Verdict = "ERROR"
)

// Request is one verification task after admission.
type Request struct {
	Engine    string `json:"engine"`
	Query     string `json:"query"`
	TenantID  int64  `json:"-"`
	RequestID string `json:"-"`

	// Provider optionally pins a provider by name.
	Provider string `json:"provider,omitempty"`

	// ClaimedValue carries an explicit numeric claim for math and stats.
	ClaimedValue *float64 `json:"claimed_value,omitempty"`

	// Code is the program to analyze (code engine).
	Code string `json:"code,omitempty"`

	// SQL and Schema feed the sql engine.
	SQL    string              `json:"sql,omitempty"`
	Schema map[string][]string `json:"schema,omitempty"`

	// ImageRef identifies the image for the image engine.
	ImageRef string `json:"image_ref,omitempty"`
}

// Result is a single engine's answer.
type Result struct {
	Engine      string         `json:"engine"`
	Verdict     Verdict        `json:"verdict"`
	Confidence  float64        `json:"confidence"`
	Explanation string         `json:"explanation,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
	Provider    string         `json:"provider,omitempty"`
	Duration    time.Duration  `json:"-"`
}

// Engine verifies one class of claims.
type Engine interface {
	// Name returns the engine's routing name.
	Name() string

	// Deterministic reports whether identical input always yields the
	// same result. Only deterministic results are cacheable.
	Deterministic() bool

	// Verify decides the claim. Implementations honor ctx cancellation.
	Verify(ctx context.Context, req *Request) (*Result, error)
}

// Dispatcher routes requests to registered engines by name.
type Dispatcher struct {
	engines map[string]Engine
}

// NewDispatcher registers the given engines.
func NewDispatcher(engines ...Engine) *Dispatcher {
	d := &Dispatcher{engines: make(map[string]Engine, len(engines))}
	for _, e := range engines {
		d.engines[e.Name()] = e
	}
	return d
}

// Get returns the engine registered under name.
func (d *Dispatcher) Get(name string) (Engine, bool) {
	e, ok := d.engines[name]
	return e, ok
}

// Names lists registered engines.
func (d *Dispatcher) Names() []string {
	names := make([]string, 0, len(d.engines))
	for name := range d.engines {
		names = append(names, name)
	}
	return names
}

// Dispatch verifies req with the engine it names. The result's duration
// is stamped here so engines do not track it themselves.
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request) (*Result, error) {
	e, ok := d.engines[req.Engine]
	if !ok {
		return nil, fmt.Errorf("unknown engine %q", req.Engine)
	}
	start := time.Now()
	res, err := e.Verify(ctx, req)
	if err != nil {
		return nil, err
	}
	res.Engine = e.Name()
	res.Duration = time.Since(start)
	return res, nil
}
