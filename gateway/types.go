// Copyright 2025 QWED
// SPDX-License-Identifier: Apache-2.0

// Package gateway is the control plane: it composes admission, rate
// limiting, caching, provider routing, engine dispatch, consensus,
// self-reflection and the audit chain into one verification pipeline.
package gateway

import (
	"github.com/qwed-ai/platform/gateway/engine"
)

// ConsensusMode selects how many engines vote on a request.
type ConsensusMode string

const (
	ModeSingle  ConsensusMode = "SINGLE"
	ModeHigh    ConsensusMode = "HIGH"
	ModeMaximum ConsensusMode = "MAXIMUM"
)

// VerificationRequest is the wire form of one verification call. Kind
// is set from the URL path, not the body.
type VerificationRequest struct {
	Query    string `json:"query"`
	Provider string `json:"provider,omitempty"`

	// ClaimedValue carries an explicit numeric claim when the caller
	// already has an answer to check.
	ClaimedValue *float64 `json:"claimed_value,omitempty"`

	// Code and Language feed /verify/code.
	Code     string `json:"code,omitempty"`
	Language string `json:"language,omitempty"`

	// SQL, Schema and Dialect feed /verify/sql.
	SQL     string              `json:"sql,omitempty"`
	Schema  map[string][]string `json:"schema,omitempty"`
	Dialect string              `json:"dialect,omitempty"`

	// Claim and Context feed /verify/fact.
	Claim   string `json:"claim,omitempty"`
	Context string `json:"context,omitempty"`

	// ImageRef feeds /verify/image.
	ImageRef string `json:"image_ref,omitempty"`

	// Mode and MinConfidence feed /verify/consensus.
	Mode          ConsensusMode `json:"mode,omitempty"`
	MinConfidence float64       `json:"min_confidence,omitempty"`

	// AgentID attributes the request to a registered agent.
	AgentID string `json:"agent_id,omitempty"`
}

// VerificationResponse is the canonical envelope returned by every
// verification endpoint.
type VerificationResponse struct {
	Status       engine.Verdict `json:"status"`
	Confidence   float64        `json:"confidence"`
	FinalAnswer  any            `json:"final_answer,omitempty"`
	Verification map[string]any `json:"verification,omitempty"`
	Explanation  string         `json:"explanation,omitempty"`
	ProviderUsed string         `json:"provider_used,omitempty"`
	Engine       string         `json:"engine"`
	LatencyMS    float64        `json:"latency_ms"`
	Cached       bool           `json:"cached,omitempty"`
	RequestID    string         `json:"request_id"`
	Attestation  string         `json:"attestation,omitempty"`

	// Consensus carries the per-engine breakdown in consensus mode.
	Consensus []EngineVote `json:"consensus,omitempty"`
}

// EngineVote is one engine's contribution to a consensus decision.
type EngineVote struct {
	Engine     string         `json:"engine"`
	Verdict    engine.Verdict `json:"verdict"`
	Confidence float64        `json:"confidence"`
}

// responseFrom builds the envelope from an engine result.
func responseFrom(res *engine.Result, requestID string) *VerificationResponse {
	resp := &VerificationResponse{
		Status:       res.Verdict,
		Confidence:   res.Confidence,
		Verification: res.Details,
		Explanation:  res.Explanation,
		ProviderUsed: res.Provider,
		Engine:       res.Engine,
		RequestID:    requestID,
	}
	if res.Details != nil {
		if v, ok := res.Details["calculated_value"]; ok {
			resp.FinalAnswer = v
		} else if v, ok := res.Details["model"]; ok {
			resp.FinalAnswer = v
		}
	}
	return resp
}
