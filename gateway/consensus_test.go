// Copyright 2025 QWED
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/qwed-ai/platform/gateway/engine"
)

// stubEngine returns a fixed result, or an error when res is nil.
type stubEngine struct {
	name string
	det  bool
	res  *engine.Result
	err  error

	calls int
}

func (s *stubEngine) Name() string        { return s.name }
func (s *stubEngine) Deterministic() bool { return s.det }
func (s *stubEngine) Verify(ctx context.Context, req *engine.Request) (*engine.Result, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	res := *s.res
	return &res, nil
}

func verdictStub(name string, v engine.Verdict) *stubEngine {
	return &stubEngine{name: name, det: true, res: &engine.Result{Engine: name, Verdict: v, Confidence: 1}}
}

func TestAggregate_HighAgreement(t *testing.T) {
	engines := []engine.Engine{
		verdictStub("math", engine.VerdictVerified),
		verdictStub("logic", engine.VerdictVerified),
	}
	res, votes := aggregate(context.Background(), ModeHigh, engines, &engine.Request{})

	assert.Equal(t, engine.VerdictVerified, res.Verdict)
	assert.InDelta(t, 0.95, res.Confidence, 1e-9)
	assert.Len(t, votes, 2)
}

func TestAggregate_HighDispute(t *testing.T) {
	engines := []engine.Engine{
		verdictStub("math", engine.VerdictVerified),
		verdictStub("logic", engine.VerdictRejected),
	}
	res, votes := aggregate(context.Background(), ModeHigh, engines, &engine.Request{})

	assert.Equal(t, engine.VerdictDisputed, res.Verdict)
	assert.InDelta(t, 0.55, res.Confidence, 1e-9)
	assert.Len(t, votes, 2)
}

func TestAggregate_MaximumMajority(t *testing.T) {
	engines := []engine.Engine{
		verdictStub("math", engine.VerdictVerified),
		verdictStub("logic", engine.VerdictVerified),
		verdictStub("reasoning", engine.VerdictRejected),
	}
	res, _ := aggregate(context.Background(), ModeMaximum, engines, &engine.Request{})

	assert.Equal(t, engine.VerdictVerified, res.Verdict)
	assert.InDelta(t, 0.90, res.Confidence, 1e-9)
}

func TestAggregate_MaximumNoMajority(t *testing.T) {
	engines := []engine.Engine{
		verdictStub("math", engine.VerdictVerified),
		verdictStub("logic", engine.VerdictRejected),
		verdictStub("reasoning", engine.VerdictUnknown),
	}
	res, _ := aggregate(context.Background(), ModeMaximum, engines, &engine.Request{})

	assert.Equal(t, engine.VerdictDisputed, res.Verdict)
	assert.InDelta(t, 1.0/3.0, res.Confidence, 1e-9)
}

func TestAggregate_SingleModePassesThrough(t *testing.T) {
	math := verdictStub("math", engine.VerdictVerified)
	math.res.Confidence = 0.8

	res, votes := aggregate(context.Background(), ModeSingle, []engine.Engine{math}, &engine.Request{})

	assert.Equal(t, engine.VerdictVerified, res.Verdict)
	assert.InDelta(t, 0.8, res.Confidence, 1e-9)
	assert.Equal(t, AgreementSingle, res.Details["agreement"])
	assert.Len(t, votes, 1)
}

func TestAggregate_EngineErrorNotCountedAsAgreement(t *testing.T) {
	failing := &stubEngine{name: "logic", err: errors.New("provider down")}
	engines := []engine.Engine{
		verdictStub("math", engine.VerdictVerified),
		failing,
	}
	res, votes := aggregate(context.Background(), ModeHigh, engines, &engine.Request{})

	// One voter left: pass-through, no dispute.
	assert.Equal(t, engine.VerdictVerified, res.Verdict)
	assert.Len(t, votes, 2)
	assert.Equal(t, engine.VerdictError, votes[1].Verdict)
}

func TestAggregate_AllEnginesFailed(t *testing.T) {
	engines := []engine.Engine{
		&stubEngine{name: "math", err: errors.New("down")},
		&stubEngine{name: "logic", err: errors.New("down")},
	}
	res, _ := aggregate(context.Background(), ModeHigh, engines, &engine.Request{})

	assert.Equal(t, engine.VerdictError, res.Verdict)
}
