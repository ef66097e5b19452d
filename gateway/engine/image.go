package engine

import (
	"context"
	"fmt"

	"github.com/qwed-ai/platform/gateway/provider"
)

// maxImageClaimLen bounds the claim text sent alongside an image.
const maxImageClaimLen = 500

// ImageEngine verifies claims about images by delegating to a provider
// with the vision capability.
type ImageEngine struct {
	router *provider.Router
}

// NewImageEngine creates the image engine.
func NewImageEngine(router *provider.Router) *ImageEngine {
	return &ImageEngine{router: router}
}

func (e *ImageEngine) Name() string        { return NameImage }
func (e *ImageEngine) Deterministic() bool { return false }

func (e *ImageEngine) Verify(ctx context.Context, req *Request) (*Result, error) {
	if req.ImageRef == "" {
		return &Result{
			Verdict:     VerdictError,
			Explanation: "no image reference supplied",
		}, nil
	}
	if len(req.Query) > maxImageClaimLen {
		return &Result{
			Verdict:     VerdictError,
			Explanation: fmt.Sprintf("claim exceeds %d character limit", maxImageClaimLen),
		}, nil
	}

	var finding *provider.ImageFinding
	used, err := e.router.Call(ctx, provider.CapVision, req.Provider, req.TenantID,
		func(ctx context.Context, p provider.Provider) error {
			var callErr error
			finding, callErr = p.AnalyzeImage(ctx, req.ImageRef, req.Query)
			return callErr
		})
	if err != nil {
		return nil, fmt.Errorf("image analysis: %w", err)
	}

	verdict := VerdictRefuted
	if finding.Supported {
		verdict = VerdictSupported
	}
	if finding.Confidence < 0.5 {
		verdict = VerdictUnknown
	}

	details := map[string]any{}
	if finding.Detail != "" {
		details["detail"] = finding.Detail
	}

	return &Result{
		Verdict:     verdict,
		Confidence:  finding.Confidence,
		Explanation: fmt.Sprintf("vision provider assessed the claim (confidence %.2f)", finding.Confidence),
		Details:     details,
		Provider:    used,
	}, nil
}
