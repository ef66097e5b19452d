// Copyright 2025 QWED
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/qwed-ai/platform/gateway/audit"
	"github.com/qwed-ai/platform/gateway/engine"
	"github.com/qwed-ai/platform/gateway/store"
	"github.com/qwed-ai/platform/gateway/tenant"
	"github.com/qwed-ai/platform/shared/logger"
)

type ctxKey int

const tenantCtxKey ctxKey = iota

// tenantFrom extracts the resolved tenant from the request context.
func tenantFrom(ctx context.Context) *tenant.Context {
	tc, _ := ctx.Value(tenantCtxKey).(*tenant.Context)
	return tc
}

// Server is the HTTP surface. Auth, in-flight bounding and body
// limits happen here; everything else is the Service's job.
type Server struct {
	service *Service
	store   *store.Store
	signer  publicKeyer
	secret  []byte
	log     *logger.Logger

	// inFlight bounds concurrent verifications; overflow returns 503.
	inFlight chan struct{}
}

type publicKeyer interface {
	PublicKey() string
}

// NewServer creates the HTTP layer.
func NewServer(service *Service, st *store.Store, signer publicKeyer, secret []byte, maxInFlight int) *Server {
	if maxInFlight <= 0 {
		maxInFlight = 256
	}
	return &Server{
		service:  service,
		store:    st,
		signer:   signer,
		secret:   secret,
		log:      logger.New("http"),
		inFlight: make(chan struct{}, maxInFlight),
	}
}

// Routes builds the router. Health, prometheus and the attestation key
// are public; everything else requires an API key.
func (s *Server) Routes() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.Handle("/prometheus", promhttp.Handler()).Methods("GET")
	r.HandleFunc("/attestation/keys", s.handleAttestationKeys).Methods("GET")

	verify := r.PathPrefix("/verify").Subrouter()
	verify.Use(s.authMiddleware, s.boundMiddleware)
	verify.HandleFunc("/natural_language", s.verifyHandler(engine.NameMath)).Methods("POST")
	verify.HandleFunc("/logic", s.verifyHandler(engine.NameLogic)).Methods("POST")
	verify.HandleFunc("/stats", s.handleVerifyStats).Methods("POST")
	verify.HandleFunc("/fact", s.verifyHandler(engine.NameFact)).Methods("POST")
	verify.HandleFunc("/code", s.verifyHandler(engine.NameCode)).Methods("POST")
	verify.HandleFunc("/sql", s.verifyHandler(engine.NameSQL)).Methods("POST")
	verify.HandleFunc("/image", s.verifyHandler(engine.NameImage)).Methods("POST")
	verify.HandleFunc("/reasoning", s.verifyHandler(engine.NameReasoning)).Methods("POST")
	verify.HandleFunc("/consensus", s.verifyHandler("consensus")).Methods("POST")

	authed := r.NewRoute().Subrouter()
	authed.Use(s.authMiddleware)
	authed.HandleFunc("/agents/register", s.handleAgentRegister).Methods("POST")
	authed.HandleFunc("/agents", s.handleAgentList).Methods("GET")
	authed.HandleFunc("/agents/{id}/verify", s.handleAgentVerify).Methods("POST")
	authed.HandleFunc("/history", s.handleHistory).Methods("GET")
	authed.HandleFunc("/metrics", s.handleMetrics).Methods("GET")
	authed.HandleFunc("/metrics/{org_id}", s.handleTenantMetrics).Methods("GET")
	authed.HandleFunc("/keys", s.handleKeyIssue).Methods("POST")
	authed.HandleFunc("/keys", s.handleKeyList).Methods("GET")
	authed.HandleFunc("/keys/{id}", s.handleKeyRevoke).Methods("DELETE")
	authed.HandleFunc("/keys/{id}/rotate", s.handleKeyRotate).Methods("POST")

	return r
}

// authMiddleware resolves x-api-key into a tenant context.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey := r.Header.Get("x-api-key")
		if apiKey == "" {
			writeError(w, &GatewayError{Kind: ErrAuth, Message: "missing x-api-key header"})
			return
		}
		tc, err := s.store.ResolveKey(r.Context(), s.secret, apiKey)
		if err != nil {
			switch {
			case errors.Is(err, store.ErrNotFound):
				writeError(w, &GatewayError{Kind: ErrAuth, Message: "invalid api key"})
			case errors.Is(err, store.ErrKeyRevoked):
				writeError(w, &GatewayError{Kind: ErrAuth, Message: "api key revoked"})
			case errors.Is(err, store.ErrKeyExpired):
				writeError(w, &GatewayError{Kind: ErrAuth, Message: "api key expired"})
			default:
				s.log.Error("", "", "auth lookup failed", map[string]any{"error": err.Error()})
				writeError(w, &GatewayError{Kind: ErrInternal, Message: "authentication unavailable"})
			}
			return
		}
		go s.store.TouchKey(context.Background(), tc.KeyFingerprint)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), tenantCtxKey, tc)))
	})
}

// boundMiddleware caps in-flight verifications.
func (s *Server) boundMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case s.inFlight <- struct{}{}:
			defer func() { <-s.inFlight }()
			next.ServeHTTP(w, r)
		default:
			writeError(w, &GatewayError{Kind: ErrOverload, Message: "too many requests in flight"})
		}
	})
}

// verifyHandler builds the handler for one engine endpoint.
func (s *Server) verifyHandler(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req VerificationRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, &GatewayError{Kind: ErrBadInput, Message: err.Error()})
			return
		}
		s.verify(w, r, kind, &req)
	}
}

// handleVerifyStats accepts either JSON or multipart with a CSV file.
// The dataset rides along in the query so the provider can reference
// its columns when generating analysis code.
func (s *Server) handleVerifyStats(w http.ResponseWriter, r *http.Request) {
	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "multipart/form-data") {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			writeError(w, &GatewayError{Kind: ErrBadInput, Message: "invalid multipart body"})
			return
		}
		req := VerificationRequest{
			Query:    r.FormValue("query"),
			Provider: r.FormValue("provider"),
		}
		file, _, err := r.FormFile("file")
		if err == nil {
			defer file.Close()
			data, err := io.ReadAll(io.LimitReader(file, 1<<20))
			if err != nil {
				writeError(w, &GatewayError{Kind: ErrBadInput, Message: "unreadable dataset"})
				return
			}
			req.Query = fmt.Sprintf("%s\n\nDataset (CSV):\n%s", req.Query, data)
		}
		s.verify(w, r, engine.NameStats, &req)
		return
	}

	var req VerificationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, &GatewayError{Kind: ErrBadInput, Message: err.Error()})
		return
	}
	s.verify(w, r, engine.NameStats, &req)
}

// verify runs the pipeline and writes the response.
func (s *Server) verify(w http.ResponseWriter, r *http.Request, kind string, req *VerificationRequest) {
	tc := tenantFrom(r.Context())
	requestID := uuid.NewString()

	if kind == engine.NameFact && req.Query == "" {
		req.Query = fmt.Sprintf("Claim: %s\nContext: %s", req.Claim, req.Context)
	}

	resp, gerr := s.service.Verify(r.Context(), tc, kind, req, clientIP(r), requestID)
	if gerr != nil {
		writeError(w, gerr)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAttestationKeys(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"algorithm": "EdDSA",
		"keys":      []string{s.signer.PublicKey()},
	})
}

func (s *Server) handleAgentRegister(w http.ResponseWriter, r *http.Request) {
	tc := tenantFrom(r.Context())
	if !tc.Can(tenant.PermAgents) {
		writeError(w, &GatewayError{Kind: ErrAuthz, Message: "key lacks agents permission"})
		return
	}
	var body struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := decodeJSON(r, &body); err != nil || body.Name == "" {
		writeError(w, &GatewayError{Kind: ErrBadInput, Message: "name is required"})
		return
	}
	agent, err := s.store.RegisterAgent(r.Context(), tc.OrgID, body.Name, body.Description)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateAgent) {
			writeError(w, &GatewayError{Kind: ErrBadInput, Message: "agent name already registered"})
			return
		}
		writeError(w, &GatewayError{Kind: ErrInternal, Message: "agent registration failed"})
		return
	}
	writeJSON(w, http.StatusCreated, agent)
}

func (s *Server) handleAgentList(w http.ResponseWriter, r *http.Request) {
	tc := tenantFrom(r.Context())
	agents, err := s.store.ListAgents(r.Context(), tc.OrgID)
	if err != nil {
		writeError(w, &GatewayError{Kind: ErrInternal, Message: "listing agents failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": agents})
}

// handleAgentVerify is the agent-attributed verification entry point.
// The body names the engine; the verdict lands in the agent's activity
// log as well as the audit chain.
func (s *Server) handleAgentVerify(w http.ResponseWriter, r *http.Request) {
	tc := tenantFrom(r.Context())
	agentID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, &GatewayError{Kind: ErrBadInput, Message: "invalid agent id"})
		return
	}
	agent, err := s.store.GetAgent(r.Context(), tc.OrgID, agentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, &GatewayError{Kind: ErrAuthz, Message: "agent not found in organization"})
			return
		}
		writeError(w, &GatewayError{Kind: ErrInternal, Message: "agent lookup failed"})
		return
	}

	var body struct {
		Engine string `json:"engine"`
		VerificationRequest
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, &GatewayError{Kind: ErrBadInput, Message: err.Error()})
		return
	}
	kind := body.Engine
	if kind == "" {
		kind = engine.NameMath
	}

	resp, gerr := s.service.Verify(r.Context(), tc, kind, &body.VerificationRequest, clientIP(r), uuid.NewString())
	if gerr != nil {
		writeError(w, gerr)
		return
	}
	s.store.RecordAgentActivity(agent.ID, kind, string(resp.Status))
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	tc := tenantFrom(r.Context())
	if !tc.Can(tenant.PermHistory) {
		writeError(w, &GatewayError{Kind: ErrAuthz, Message: "key lacks history permission"})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := audit.History(r.Context(), s.store.DB(), tc.OrgID, limit)
	if err != nil {
		writeError(w, &GatewayError{Kind: ErrInternal, Message: "history unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// handleMetrics returns the global counter snapshot. Admin only; the
// native Prometheus exposition lives at /prometheus.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	tc := tenantFrom(r.Context())
	if !tc.IsAdmin() {
		writeError(w, &GatewayError{Kind: ErrAuthz, Message: "admin only"})
		return
	}
	headID, headHash := s.service.auditChain.Head()
	writeJSON(w, http.StatusOK, map[string]any{
		"audit_entries":   headID,
		"audit_tail_hash": headHash,
		"blocked_total":   s.service.gate.BlockCount(),
		"cache":           s.service.cache.Stats(),
	})
}

func (s *Server) handleTenantMetrics(w http.ResponseWriter, r *http.Request) {
	tc := tenantFrom(r.Context())
	orgID, err := strconv.ParseInt(mux.Vars(r)["org_id"], 10, 64)
	if err != nil {
		writeError(w, &GatewayError{Kind: ErrBadInput, Message: "invalid org id"})
		return
	}
	if orgID != tc.OrgID && !tc.IsAdmin() {
		writeError(w, &GatewayError{Kind: ErrAuthz, Message: "cross-tenant metrics denied"})
		return
	}
	entries, err := audit.History(r.Context(), s.store.DB(), orgID, 500)
	if err != nil {
		writeError(w, &GatewayError{Kind: ErrInternal, Message: "metrics unavailable"})
		return
	}

	verdicts := make(map[string]int)
	providers := make(map[string]int)
	var succeeded int
	var totalLatency float64
	for _, e := range entries {
		verdicts[e.Record.Verdict]++
		if e.Record.Provider != "" {
			providers[e.Record.Provider]++
		}
		switch e.Record.Verdict {
		case "BLOCKED", "RATE_LIMITED", "ERROR", "ERROR(TIMEOUT)":
		default:
			succeeded++
		}
		totalLatency += e.Record.DurationMS
	}
	var successRate, avgLatency float64
	if len(entries) > 0 {
		successRate = float64(succeeded) / float64(len(entries))
		avgLatency = totalLatency / float64(len(entries))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"org_id":         orgID,
		"recent":         len(entries),
		"verdicts":       verdicts,
		"success_rate":   successRate,
		"avg_latency_ms": avgLatency,
		"providers":      providers,
	})
}

func (s *Server) handleKeyIssue(w http.ResponseWriter, r *http.Request) {
	tc := tenantFrom(r.Context())
	if !tc.IsAdmin() {
		writeError(w, &GatewayError{Kind: ErrAuthz, Message: "admin only"})
		return
	}
	var body struct {
		Role      string `json:"role"`
		ExpiresIn string `json:"expires_in,omitempty"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, &GatewayError{Kind: ErrBadInput, Message: err.Error()})
		return
	}
	role := tenant.Role(body.Role)
	if role == "" {
		role = tenant.RoleMember
	}
	var expiresIn time.Duration
	if body.ExpiresIn != "" {
		d, err := time.ParseDuration(body.ExpiresIn)
		if err != nil {
			writeError(w, &GatewayError{Kind: ErrBadInput, Message: "invalid expires_in duration"})
			return
		}
		expiresIn = d
	}
	plaintext, key, err := s.store.IssueAPIKey(r.Context(), s.secret, tc.OrgID, role, expiresIn)
	if err != nil {
		writeError(w, &GatewayError{Kind: ErrInternal, Message: "key issuance failed"})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"api_key":    plaintext,
		"id":         key.ID,
		"masked_key": key.MaskedKey,
		"role":       key.Role,
	})
}

func (s *Server) handleKeyList(w http.ResponseWriter, r *http.Request) {
	tc := tenantFrom(r.Context())
	if !tc.IsAdmin() {
		writeError(w, &GatewayError{Kind: ErrAuthz, Message: "admin only"})
		return
	}
	keys, err := s.store.ListKeys(r.Context(), tc.OrgID)
	if err != nil {
		writeError(w, &GatewayError{Kind: ErrInternal, Message: "listing keys failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": keys})
}

func (s *Server) handleKeyRevoke(w http.ResponseWriter, r *http.Request) {
	tc := tenantFrom(r.Context())
	if !tc.IsAdmin() {
		writeError(w, &GatewayError{Kind: ErrAuthz, Message: "admin only"})
		return
	}
	keyID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, &GatewayError{Kind: ErrBadInput, Message: "invalid key id"})
		return
	}
	if err := s.store.RevokeKey(r.Context(), tc.OrgID, keyID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, &GatewayError{Kind: ErrBadInput, Message: "key not found"})
			return
		}
		writeError(w, &GatewayError{Kind: ErrInternal, Message: "revocation failed"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleKeyRotate(w http.ResponseWriter, r *http.Request) {
	tc := tenantFrom(r.Context())
	if !tc.IsAdmin() {
		writeError(w, &GatewayError{Kind: ErrAuthz, Message: "admin only"})
		return
	}
	keyID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, &GatewayError{Kind: ErrBadInput, Message: "invalid key id"})
		return
	}
	plaintext, key, err := s.store.RotateKey(r.Context(), s.secret, tc.OrgID, keyID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, &GatewayError{Kind: ErrBadInput, Message: "key not found or already revoked"})
			return
		}
		writeError(w, &GatewayError{Kind: ErrInternal, Message: "rotation failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"api_key":    plaintext,
		"id":         key.ID,
		"masked_key": key.MaskedKey,
	})
}

// decodeJSON reads a bounded JSON body.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, gerr *GatewayError) {
	if gerr.Kind == ErrRateLimit && gerr.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(gerr.RetryAfter))
	}
	status := "ERROR"
	if gerr.Kind == ErrAdmission {
		status = "BLOCKED"
	}
	writeJSON(w, gerr.HTTPStatus(), map[string]any{
		"status": status,
		"error":  gerr,
	})
}

// clientIP strips the port from RemoteAddr, preferring the forwarding
// header set by the load balancer.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
