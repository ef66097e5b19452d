// Copyright 2025 QWED
// SPDX-License-Identifier: Apache-2.0

package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPConfig configures a generic HTTP translation provider. The remote
// service exposes one JSON endpoint per capability under BaseURL.
type HTTPConfig struct {
	Name    string
	BaseURL string
	APIKey  string
	Model   string

	// Caps restricts the advertised capabilities. Empty means all.
	Caps []Capability

	// Timeout bounds each call. Zero selects 20 seconds.
	Timeout time.Duration

	// Client overrides the HTTP client, mainly for tests.
	Client *http.Client
}

// HTTPProvider talks to a translation service over JSON/HTTP. It is the
// adapter used for every externally hosted provider.
type HTTPProvider struct {
	name    string
	baseURL string
	apiKey  string
	model   string
	caps    []Capability
	client  *http.Client
}

// NewHTTPProvider creates a provider from config.
func NewHTTPProvider(cfg HTTPConfig) *HTTPProvider {
	caps := cfg.Caps
	if len(caps) == 0 {
		caps = []Capability{CapMath, CapLogicDSL, CapStatsCode, CapFactCheck, CapVision}
	}
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 20 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPProvider{
		name:    cfg.Name,
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		caps:    caps,
		client:  client,
	}
}

func (p *HTTPProvider) Name() string               { return p.name }
func (p *HTTPProvider) Capabilities() []Capability { return p.caps }

// HealthCheck probes the service's health endpoint.
func (p *HTTPProvider) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return &CallError{Provider: p.name, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &CallError{Provider: p.name, Status: resp.StatusCode,
			Err: fmt.Errorf("health check failed")}
	}
	return nil
}

func (p *HTTPProvider) TranslateMath(ctx context.Context, query string) (*MathTranslation, error) {
	if !Has(p.caps, CapMath) {
		return nil, ErrUnsupported
	}
	var out MathTranslation
	if err := p.post(ctx, "/translate/math", map[string]any{
		"query": query, "model": p.model,
	}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (p *HTTPProvider) TranslateLogic(ctx context.Context, query string) (string, error) {
	if !Has(p.caps, CapLogicDSL) {
		return "", ErrUnsupported
	}
	var out struct {
		DSL string `json:"dsl"`
	}
	if err := p.post(ctx, "/translate/logic", map[string]any{
		"query": query, "model": p.model,
	}, &out); err != nil {
		return "", err
	}
	return out.DSL, nil
}

func (p *HTTPProvider) GenerateStatsCode(ctx context.Context, query string) (string, error) {
	if !Has(p.caps, CapStatsCode) {
		return "", ErrUnsupported
	}
	var out struct {
		Code string `json:"code"`
	}
	if err := p.post(ctx, "/translate/stats", map[string]any{
		"query": query, "model": p.model,
	}, &out); err != nil {
		return "", err
	}
	return out.Code, nil
}

func (p *HTTPProvider) VerifyFact(ctx context.Context, claim string) (*FactFinding, error) {
	if !Has(p.caps, CapFactCheck) {
		return nil, ErrUnsupported
	}
	var out FactFinding
	if err := p.post(ctx, "/verify/fact", map[string]any{
		"claim": claim, "model": p.model,
	}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (p *HTTPProvider) AnalyzeImage(ctx context.Context, imageRef, claim string) (*ImageFinding, error) {
	if !Has(p.caps, CapVision) {
		return nil, ErrUnsupported
	}
	var out ImageFinding
	if err := p.post(ctx, "/verify/image", map[string]any{
		"image": imageRef, "claim": claim, "model": p.model,
	}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// post sends a JSON request and decodes the JSON response into out.
// Non-2xx responses become CallErrors carrying the status code so the
// router can classify them for failover.
func (p *HTTPProvider) post(ctx context.Context, path string, body map[string]any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return &CallError{Provider: p.name, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &CallError{Provider: p.name, Status: resp.StatusCode,
			Err: fmt.Errorf("%s", bytes.TrimSpace(snippet))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &CallError{Provider: p.name, Err: fmt.Errorf("malformed response: %w", err)}
	}
	return nil
}
