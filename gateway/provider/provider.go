// Copyright 2025 QWED
// SPDX-License-Identifier: Apache-2.0

// Package provider defines the translation-provider interface, the
// registry of configured providers and the routing layer that picks one
// per request with failover and per-provider circuit breaking.
//
// Providers translate, they never decide. A provider turns natural
// language into a checkable artifact (an arithmetic expression, a DSL
// constraint, analysis code, a fact finding); the engines and solvers
// decide the verdict.
package provider

import (
	"context"
	"errors"
)

// Capability identifies one translation service a provider can perform.
type Capability string

const (
	CapMath      Capability = "math"
	CapLogicDSL  Capability = "logic_dsl"
	CapStatsCode Capability = "stats_code"
	CapFactCheck Capability = "fact_check"
	CapVision    Capability = "vision"
)

// ErrUnsupported is returned when a provider is asked for a capability
// it does not advertise.
var ErrUnsupported = errors.New("capability not supported by provider")

// MathTranslation is the provider's reading of a numeric claim.
type MathTranslation struct {
	// Expression is the arithmetic expression to evaluate, in the safe
	// evaluator's grammar.
	Expression string `json:"expression"`

	// ClaimedValue is the numeric answer the input asserts, when the
	// input contains one.
	ClaimedValue *float64 `json:"claimed_value,omitempty"`
}

// FactFinding is a provider's assessment of a factual claim.
type FactFinding struct {
	Verdict    string   `json:"verdict"` // SUPPORTED, REFUTED or UNKNOWN
	Confidence float64  `json:"confidence"`
	Evidence   []string `json:"evidence,omitempty"`
}

// ImageFinding is a provider's assessment of a claim about an image.
type ImageFinding struct {
	Supported  bool    `json:"supported"`
	Confidence float64 `json:"confidence"`
	Detail     string  `json:"detail,omitempty"`
}

// Provider is the unified interface for all translation providers.
// Implementations must be safe for concurrent use. A provider only has
// to implement the methods matching its advertised Capabilities; the
// rest return ErrUnsupported.
type Provider interface {
	// Name returns the unique identifier for this provider instance,
	// used for routing, logging and metrics.
	Name() string

	// Capabilities returns the services this provider performs.
	Capabilities() []Capability

	// HealthCheck verifies the provider is reachable and authenticated.
	HealthCheck(ctx context.Context) error

	// TranslateMath turns a natural-language numeric claim into an
	// arithmetic expression plus the claimed value, if any.
	TranslateMath(ctx context.Context, query string) (*MathTranslation, error)

	// TranslateLogic turns a natural-language logical claim into DSL
	// source. The output is untrusted and goes through the whitelist
	// compiler before any solver sees it.
	TranslateLogic(ctx context.Context, query string) (string, error)

	// GenerateStatsCode turns a statistical question into analysis code
	// destined for the sandbox. The output is untrusted.
	GenerateStatsCode(ctx context.Context, query string) (string, error)

	// VerifyFact assesses a factual claim against the provider's
	// knowledge and returns a finding with evidence.
	VerifyFact(ctx context.Context, claim string) (*FactFinding, error)

	// AnalyzeImage assesses a claim about the referenced image.
	AnalyzeImage(ctx context.Context, imageRef, claim string) (*ImageFinding, error)
}

// Has reports whether caps contains c.
func Has(caps []Capability, c Capability) bool {
	for _, have := range caps {
		if have == c {
			return true
		}
	}
	return false
}
