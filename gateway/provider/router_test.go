// Copyright 2025 QWED
// SPDX-License-Identifier: Apache-2.0

package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider is a scriptable in-memory provider for router tests.
type fakeProvider struct {
	name  string
	caps  []Capability
	fail  error
	calls int
}

func (f *fakeProvider) Name() string               { return f.name }
func (f *fakeProvider) Capabilities() []Capability { return f.caps }
func (f *fakeProvider) HealthCheck(context.Context) error {
	return f.fail
}
func (f *fakeProvider) TranslateMath(context.Context, string) (*MathTranslation, error) {
	f.calls++
	if f.fail != nil {
		return nil, f.fail
	}
	return &MathTranslation{Expression: "2+2"}, nil
}
func (f *fakeProvider) TranslateLogic(context.Context, string) (string, error) {
	return "", ErrUnsupported
}
func (f *fakeProvider) GenerateStatsCode(context.Context, string) (string, error) {
	return "", ErrUnsupported
}
func (f *fakeProvider) VerifyFact(context.Context, string) (*FactFinding, error) {
	return nil, ErrUnsupported
}
func (f *fakeProvider) AnalyzeImage(context.Context, string, string) (*ImageFinding, error) {
	return nil, ErrUnsupported
}

func newTestRegistry(t *testing.T, providers ...*fakeProvider) *Registry {
	t.Helper()
	reg := NewRegistry()
	for _, p := range providers {
		require.NoError(t, reg.Register(p))
	}
	return reg
}

func TestRouter_SelectionOrder(t *testing.T) {
	a := &fakeProvider{name: "alpha", caps: []Capability{CapMath}}
	b := &fakeProvider{name: "beta", caps: []Capability{CapMath}}
	c := &fakeProvider{name: "gamma", caps: []Capability{CapMath}}
	reg := newTestRegistry(t, a, b, c)
	require.NoError(t, reg.SetSystemDefault("gamma"))
	require.NoError(t, reg.SetTenantDefault(42, "beta"))

	r := NewRouter(reg)

	assert.Equal(t, []string{"alpha", "beta", "gamma"}, r.Candidates(CapMath, "alpha", 42))
	assert.Equal(t, []string{"beta", "gamma", "alpha"}, r.Candidates(CapMath, "", 42))
	assert.Equal(t, []string{"gamma", "alpha", "beta"}, r.Candidates(CapMath, "", 7))
}

func TestRouter_CapabilityFiltered(t *testing.T) {
	a := &fakeProvider{name: "alpha", caps: []Capability{CapFactCheck}}
	b := &fakeProvider{name: "beta", caps: []Capability{CapMath}}
	reg := newTestRegistry(t, a, b)
	r := NewRouter(reg)

	assert.Equal(t, []string{"beta"}, r.Candidates(CapMath, "alpha", 0))
}

func TestRouter_FailoverOn5xx(t *testing.T) {
	bad := &fakeProvider{name: "alpha", caps: []Capability{CapMath},
		fail: &CallError{Provider: "alpha", Status: 503, Err: errors.New("unavailable")}}
	good := &fakeProvider{name: "beta", caps: []Capability{CapMath}}
	reg := newTestRegistry(t, bad, good)
	r := NewRouter(reg)

	used, err := r.Call(context.Background(), CapMath, "alpha", 0, func(ctx context.Context, p Provider) error {
		_, err := p.TranslateMath(ctx, "q")
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, "beta", used)
	assert.Equal(t, 1, bad.calls)
	assert.Equal(t, 1, good.calls)
}

func TestRouter_NoFailoverOn4xx(t *testing.T) {
	bad := &fakeProvider{name: "alpha", caps: []Capability{CapMath},
		fail: &CallError{Provider: "alpha", Status: 422, Err: errors.New("bad input")}}
	good := &fakeProvider{name: "beta", caps: []Capability{CapMath}}
	reg := newTestRegistry(t, bad, good)
	r := NewRouter(reg)

	_, err := r.Call(context.Background(), CapMath, "alpha", 0, func(ctx context.Context, p Provider) error {
		_, err := p.TranslateMath(ctx, "q")
		return err
	})
	require.Error(t, err)
	assert.Equal(t, 0, good.calls, "4xx must not fail over")
}

func TestRouter_NoProviderForCapability(t *testing.T) {
	reg := newTestRegistry(t, &fakeProvider{name: "alpha", caps: []Capability{CapMath}})
	r := NewRouter(reg)

	_, err := r.Call(context.Background(), CapVision, "", 0, func(ctx context.Context, p Provider) error {
		return nil
	})
	assert.ErrorIs(t, err, ErrNoProvider)
}

func TestBreaker_OpensAfterThresholdAndRecovers(t *testing.T) {
	now := time.Unix(1000, 0)
	b := NewBreaker(3, 30*time.Second)
	b.nowFunc = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		require.True(t, b.Allow())
		b.RecordFailure()
	}
	assert.False(t, b.Allow(), "breaker should be open after 3 failures")

	// Cooldown not yet elapsed.
	now = now.Add(29 * time.Second)
	assert.False(t, b.Allow())

	// After cooldown one half-open probe is let through.
	now = now.Add(2 * time.Second)
	assert.True(t, b.Allow())
	assert.False(t, b.Allow(), "only one probe in half-open state")

	b.RecordSuccess()
	assert.True(t, b.Allow(), "successful probe closes the breaker")
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	now := time.Unix(1000, 0)
	b := NewBreaker(1, 30*time.Second)
	b.nowFunc = func() time.Time { return now }

	b.RecordFailure()
	assert.False(t, b.Allow())

	now = now.Add(31 * time.Second)
	require.True(t, b.Allow())
	b.RecordFailure()
	assert.False(t, b.Allow(), "failed probe should reopen immediately")
}

func TestRouter_SkipsOpenBreaker(t *testing.T) {
	bad := &fakeProvider{name: "alpha", caps: []Capability{CapMath},
		fail: &CallError{Provider: "alpha", Status: 500, Err: errors.New("boom")}}
	good := &fakeProvider{name: "beta", caps: []Capability{CapMath}}
	reg := newTestRegistry(t, bad, good)
	r := NewRouter(reg, WithBreakerPolicy(2, time.Hour))

	call := func(ctx context.Context, p Provider) error {
		_, err := p.TranslateMath(ctx, "q")
		return err
	}
	for i := 0; i < 3; i++ {
		_, err := r.Call(context.Background(), CapMath, "alpha", 0, call)
		require.NoError(t, err)
	}
	// Two failures opened alpha's breaker; the third call skips it.
	assert.Equal(t, 2, bad.calls)
	assert.Equal(t, 3, good.calls)
}

func TestHTTPProvider_TranslateMath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/translate/math", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"expression":"0.15*200","claimed_value":30}`)
	}))
	defer srv.Close()

	p := NewHTTPProvider(HTTPConfig{Name: "test", BaseURL: srv.URL, APIKey: "secret"})
	out, err := p.TranslateMath(context.Background(), "What is 15% of 200? Answer: 30")
	require.NoError(t, err)
	assert.Equal(t, "0.15*200", out.Expression)
	require.NotNil(t, out.ClaimedValue)
	assert.Equal(t, 30.0, *out.ClaimedValue)
}

func TestHTTPProvider_ServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewHTTPProvider(HTTPConfig{Name: "test", BaseURL: srv.URL})
	_, err := p.TranslateMath(context.Background(), "q")
	require.Error(t, err)
	assert.True(t, Retryable(err))

	var ce *CallError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, http.StatusBadGateway, ce.Status)
}

func TestHTTPProvider_UnsupportedCapability(t *testing.T) {
	p := NewHTTPProvider(HTTPConfig{Name: "test", BaseURL: "http://unused",
		Caps: []Capability{CapMath}})
	_, err := p.VerifyFact(context.Background(), "claim")
	assert.ErrorIs(t, err, ErrUnsupported)
}
