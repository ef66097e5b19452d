// Copyright 2025 QWED
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/qwed-ai/platform/gateway/attestation"
	"github.com/qwed-ai/platform/gateway/audit"
	"github.com/qwed-ai/platform/gateway/cache"
	"github.com/qwed-ai/platform/gateway/engine"
	"github.com/qwed-ai/platform/gateway/policy"
	"github.com/qwed-ai/platform/gateway/ratelimit"
	"github.com/qwed-ai/platform/gateway/tenant"
	"github.com/qwed-ai/platform/shared/logger"
)

// RequestTimeout is the wall-clock deadline for one verification.
const RequestTimeout = 30 * time.Second

// Service is the control plane. One instance serves all tenants; every
// request flows through admission, rate limiting, cache, dispatch,
// sanitization and the audit chain, in that order.
type Service struct {
	log        *logger.Logger
	gate       *policy.Gate
	redactor   *policy.Redactor
	limiter    *ratelimit.Limiter
	cache      cache.Store
	cacheTTL   time.Duration
	dispatcher *engine.Dispatcher
	auditChain *audit.Chain
	signer     *attestation.Signer
	metrics    *Metrics
	reflect    *reflector

	// consensusEngines are the engines that vote when a request asks
	// for consensus; all must accept a bare natural-language query.
	consensusEngines []string
}

// ServiceConfig collects the service's dependencies. All fields are
// required except Metrics, which defaults to the global registry.
type ServiceConfig struct {
	Gate       *policy.Gate
	Redactor   *policy.Redactor
	Limiter    *ratelimit.Limiter
	Cache      cache.Store
	CacheTTL   time.Duration
	Dispatcher *engine.Dispatcher
	AuditChain *audit.Chain
	Signer     *attestation.Signer
	Metrics    *Metrics
}

// NewService wires the control plane.
func NewService(cfg ServiceConfig) *Service {
	log := logger.New("gateway")
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = cache.DefaultTTL
	}
	m := cfg.Metrics
	if m == nil {
		m = NewMetrics(nil)
	}
	return &Service{
		log:              log,
		gate:             cfg.Gate,
		redactor:         cfg.Redactor,
		limiter:          cfg.Limiter,
		cache:            cfg.Cache,
		cacheTTL:         ttl,
		dispatcher:       cfg.Dispatcher,
		auditChain:       cfg.AuditChain,
		signer:           cfg.Signer,
		metrics:          m,
		reflect:          &reflector{log: log, limiter: cfg.Limiter},
		consensusEngines: []string{engine.NameMath, engine.NameLogic, engine.NameReasoning},
	}
}

// Verify runs one request through the whole pipeline. kind is the
// engine name from the URL path, or "consensus". The returned
// GatewayError is nil on any verification outcome, including REJECTED
// and UNSAFE: those are successful verifications of bad claims.
func (s *Service) Verify(ctx context.Context, tc *tenant.Context, kind string, req *VerificationRequest, sourceIP, requestID string) (*VerificationResponse, *GatewayError) {
	start := time.Now()
	s.metrics.InFlight.Inc()
	defer s.metrics.InFlight.Dec()

	ctx, cancel := context.WithTimeout(ctx, RequestTimeout)
	defer cancel()

	if !tc.Can(tenant.PermVerify) {
		return nil, &GatewayError{Kind: ErrAuthz, Message: "key lacks verify permission"}
	}

	if gerr := s.rateCheck(tc); gerr != nil {
		s.auditTerminal(tc, kind, requestID, req, "RATE_LIMITED", "", 0, time.Since(start),
			"rate limit exceeded")
		return nil, gerr
	}

	admission := req.Query
	if admission == "" {
		admission = req.Claim
	}
	if admission != "" {
		if decision := s.gate.Admit(admission, tc.OrgID, sourceIP); !decision.Allowed {
			s.auditTerminal(tc, kind, requestID, req, "BLOCKED", "", 0, time.Since(start),
				fmt.Sprintf("admission: %s", decision.Reason))
			s.metrics.BlockedTotal.WithLabelValues(string(decision.Layer)).Inc()
			return nil, &GatewayError{
				Kind:    ErrAdmission,
				Message: decision.Reason,
				Layer:   string(decision.Layer),
			}
		}
	}

	ereq := s.engineRequest(tc, kind, req, requestID)

	key, cacheable := s.cacheKey(tc, kind, req)
	if cacheable {
		if cached, ok, err := s.cache.Get(ctx, key); err == nil && ok {
			s.metrics.CacheHitsTotal.Inc()
			resp := s.finish(tc, kind, requestID, req, cached, start)
			resp.Cached = true
			return resp, nil
		}
		s.metrics.CacheMissTotal.Inc()
	}

	var (
		res   *engine.Result
		votes []EngineVote
		err   error
	)
	if kind == "consensus" {
		res, votes, err = s.runConsensus(ctx, req.Mode, ereq)
	} else {
		var attempts int
		res, attempts, err = s.reflect.run(ctx, tc.KeyFingerprint, ereq, s.dispatcher.Dispatch)
		if attempts > 1 {
			s.metrics.ReflectionsTotal.Add(float64(attempts - 1))
		}
	}
	if err != nil {
		return nil, s.failure(tc, kind, requestID, req, err, start)
	}

	if cacheable && deterministicOutcome(res) {
		if err := s.cache.Set(ctx, key, res, s.cacheTTL); err != nil {
			s.log.Warn(strconv.FormatInt(tc.OrgID, 10), requestID, "cache write failed", map[string]any{
				"error": err.Error(),
			})
		}
	}

	resp := s.finish(tc, kind, requestID, req, res, start)
	resp.Consensus = votes
	return resp, nil
}

// rateCheck applies the dual token bucket. The stricter of the
// per-key and global windows decides.
func (s *Service) rateCheck(tc *tenant.Context) *GatewayError {
	result := s.limiter.Allow(tc.KeyFingerprint)
	if result.Allowed {
		return nil
	}
	s.metrics.RateLimitedTotal.Inc()
	return &GatewayError{
		Kind:       ErrRateLimit,
		Message:    "rate limit exceeded",
		RetryAfter: result.RetryAfter,
	}
}

// engineRequest maps the wire request onto the engine contract.
func (s *Service) engineRequest(tc *tenant.Context, kind string, req *VerificationRequest, requestID string) *engine.Request {
	return &engine.Request{
		Engine:       kind,
		Query:        req.Query,
		TenantID:     tc.OrgID,
		RequestID:    requestID,
		Provider:     req.Provider,
		ClaimedValue: req.ClaimedValue,
		Code:         req.Code,
		SQL:          req.SQL,
		Schema:       req.Schema,
		ImageRef:     req.ImageRef,
	}
}

// cacheKey computes the idempotency fingerprint. Only requests bound
// for deterministic engines get a key; fact and image results are
// never cached, and consensus re-runs by design.
func (s *Service) cacheKey(tc *tenant.Context, kind string, req *VerificationRequest) (cache.Key, bool) {
	e, ok := s.dispatcher.Get(kind)
	if !ok || !e.Deterministic() {
		return cache.Key{}, false
	}
	fp := cache.Fingerprint(kind, req.Query, req.Code, req.SQL, req.Claim, schemaCanonical(req.Schema))
	return cache.Key{TenantID: tc.OrgID, Engine: kind, Fingerprint: fp}, true
}

// runConsensus fans the request out to the voting engines. SINGLE
// passes one engine's verdict through, HIGH runs two, MAXIMUM all.
func (s *Service) runConsensus(ctx context.Context, mode ConsensusMode, ereq *engine.Request) (*engine.Result, []EngineVote, error) {
	names := s.consensusEngines
	switch mode {
	case ModeMaximum:
	case ModeSingle:
		names = names[:1]
	default:
		names = names[:2]
	}
	engines := make([]engine.Engine, 0, len(names))
	for _, name := range names {
		e, ok := s.dispatcher.Get(name)
		if !ok {
			return nil, nil, fmt.Errorf("consensus engine %q not registered", name)
		}
		engines = append(engines, e)
	}
	res, votes := aggregate(ctx, mode, engines, ereq)
	return res, votes, nil
}

// finish sanitizes, audits, signs and packages a verification outcome.
func (s *Service) finish(tc *tenant.Context, kind, requestID string, req *VerificationRequest, res *engine.Result, start time.Time) *VerificationResponse {
	elapsed := time.Since(start)

	resp := responseFrom(res, requestID)
	resp.Explanation = s.redactor.Redact(resp.Explanation)
	resp.LatencyMS = float64(elapsed.Microseconds()) / 1000

	entry := s.auditTerminal(tc, kind, requestID, req, string(res.Verdict), res.Provider,
		res.Confidence, elapsed, "")

	if s.signer != nil && entry != nil {
		token, err := s.signer.Sign(attestation.Claims{
			TenantID:    tc.OrgID,
			Fingerprint: tc.KeyFingerprint,
			Engine:      res.Engine,
			Verdict:     string(res.Verdict),
			Confidence:  res.Confidence,
			EntryHash:   entry.EntryHash,
		})
		if err != nil {
			s.log.Warn(strconv.FormatInt(tc.OrgID, 10), requestID, "attestation failed", map[string]any{
				"error": err.Error(),
			})
		} else {
			resp.Attestation = token
		}
	}

	s.metrics.RequestsTotal.WithLabelValues(res.Engine, string(res.Verdict),
		strconv.FormatInt(tc.OrgID, 10)).Inc()
	s.metrics.Latency.WithLabelValues(res.Engine).Observe(elapsed.Seconds())

	s.log.InfoWithDuration(strconv.FormatInt(tc.OrgID, 10), requestID, "verification complete",
		resp.LatencyMS, map[string]any{
			"engine":  res.Engine,
			"verdict": string(res.Verdict),
		})
	return resp
}

// failure audits a pipeline error and maps it to a gateway error.
func (s *Service) failure(tc *tenant.Context, kind, requestID string, req *VerificationRequest, err error, start time.Time) *GatewayError {
	verdict := "ERROR"
	gerr := &GatewayError{Kind: ErrInternal, Message: "verification failed"}
	var be *budgetError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		verdict = "ERROR(TIMEOUT)"
		gerr = &GatewayError{Kind: ErrTimeout, Message: "request deadline exceeded"}
	case errors.As(err, &be):
		verdict = "RATE_LIMITED"
		gerr = &GatewayError{Kind: ErrRateLimit, Message: "rate limit exceeded during reflection",
			RetryAfter: be.retryAfter}
		s.metrics.RateLimitedTotal.Inc()
	}
	s.auditTerminal(tc, kind, requestID, req, verdict, "", 0, time.Since(start), err.Error())
	s.log.ErrorWithCode(strconv.FormatInt(tc.OrgID, 10), requestID, "verification failed",
		gerr.HTTPStatus(), err, map[string]any{"engine": kind})
	return gerr
}

// auditTerminal appends exactly one chain entry for a terminal state.
// The query is PII-redacted before it touches the chain.
func (s *Service) auditTerminal(tc *tenant.Context, kind, requestID string, req *VerificationRequest,
	verdict, provider string, confidence float64, elapsed time.Duration, errMsg string) *audit.Entry {

	if s.auditChain == nil {
		return nil
	}
	query := req.Query
	if query == "" {
		query = req.Claim
	}
	return s.auditChain.Append(audit.Record{
		TenantID:       tc.OrgID,
		RequestID:      requestID,
		KeyFingerprint: tc.KeyFingerprint,
		Engine:         kind,
		Verdict:        verdict,
		Query:          s.redactor.Redact(query),
		Provider:       provider,
		Confidence:     confidence,
		DurationMS:     float64(elapsed.Microseconds()) / 1000,
		Error:          s.redactor.Redact(errMsg),
	})
}

// deterministicOutcome reports whether a result is safe to serve from
// cache: decided verdicts only, never transient errors or timeouts.
func deterministicOutcome(res *engine.Result) bool {
	switch res.Verdict {
	case engine.VerdictError, engine.VerdictUnknown:
		return false
	}
	return true
}

// schemaCanonical folds a declared schema into a stable string for
// fingerprinting.
func schemaCanonical(schema map[string][]string) string {
	if len(schema) == 0 {
		return ""
	}
	keys := make([]string, 0, len(schema))
	for k := range schema {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		cols := append([]string(nil), schema[k]...)
		sort.Strings(cols)
		b.WriteString(k)
		b.WriteString("(")
		b.WriteString(strings.Join(cols, ","))
		b.WriteString(");")
	}
	return b.String()
}
