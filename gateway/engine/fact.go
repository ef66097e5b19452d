package engine

import (
	"context"
	"fmt"

	"github.com/qwed-ai/platform/gateway/provider"
)

// FactEngine checks factual claims by delegating to a provider with the
// fact-check capability and normalizing its finding. It is the one
// engine whose verdict rests on provider knowledge, which is why its
// results are never cached and carry the provider's own confidence.
type FactEngine struct {
	router *provider.Router
}

// NewFactEngine creates the fact engine.
func NewFactEngine(router *provider.Router) *FactEngine {
	return &FactEngine{router: router}
}

func (e *FactEngine) Name() string        { return NameFact }
func (e *FactEngine) Deterministic() bool { return false }

func (e *FactEngine) Verify(ctx context.Context, req *Request) (*Result, error) {
	var finding *provider.FactFinding
	used, err := e.router.Call(ctx, provider.CapFactCheck, req.Provider, req.TenantID,
		func(ctx context.Context, p provider.Provider) error {
			var callErr error
			finding, callErr = p.VerifyFact(ctx, req.Query)
			return callErr
		})
	if err != nil {
		return nil, fmt.Errorf("fact check: %w", err)
	}

	verdict := VerdictUnknown
	switch finding.Verdict {
	case "SUPPORTED":
		verdict = VerdictSupported
	case "REFUTED":
		verdict = VerdictRefuted
	}

	confidence := finding.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	details := map[string]any{}
	if len(finding.Evidence) > 0 {
		details["evidence"] = finding.Evidence
	}

	return &Result{
		Verdict:     verdict,
		Confidence:  confidence,
		Explanation: fmt.Sprintf("provider assessed the claim as %s", finding.Verdict),
		Details:     details,
		Provider:    used,
	}, nil
}
