package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Mindburn-Labs/veris/pkg/adjudicator"
	"github.com/Mindburn-Labs/veris/pkg/coverage"
	"github.com/Mindburn-Labs/veris/pkg/eligibility"
	"github.com/Mindburn-Labs/veris/pkg/identity"
	"github.com/Mindburn-Labs/veris/pkg/policy"
	"github.com/Mindburn-Labs/veris/pkg/treasury"
)

// RoleAdmin gates the administrative surface.
const RoleAdmin = "admin"

// maxBodyBytes caps request bodies; submissions are small.
const maxBodyBytes = 1 << 20

// SubmissionRecorder receives timing for each submission attempt.
type SubmissionRecorder interface {
	RecordSubmission(ctx context.Context, d time.Duration, status string)
}

// Server wires the adjudication engine and its stores to HTTP handlers.
type Server struct {
	engine      *adjudicator.Engine
	rules       policy.Store
	providers   eligibility.Store
	patients    coverage.Store
	bank        *treasury.Reservoir
	recorder    SubmissionRecorder
	logger      *slog.Logger
	verifier    *JWTVerifier
	ipLimiter   *IPRateLimiter
	callLimiter *RedisRateLimiter
}

// ServerOption configures optional server behavior.
type ServerOption func(*Server)

// WithSubmissionRecorder attaches metrics recording for submissions.
func WithSubmissionRecorder(rec SubmissionRecorder) ServerOption {
	return func(s *Server) { s.recorder = rec }
}

// WithIPRateLimiter attaches a per-IP limiter to the whole surface.
func WithIPRateLimiter(rl *IPRateLimiter) ServerOption {
	return func(s *Server) { s.ipLimiter = rl }
}

// WithCallerRateLimiter attaches a distributed per-caller limiter.
func WithCallerRateLimiter(rl *RedisRateLimiter) ServerOption {
	return func(s *Server) { s.callLimiter = rl }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// NewServer creates the HTTP layer over a constructed engine and its stores.
func NewServer(
	engine *adjudicator.Engine,
	rules policy.Store,
	providers eligibility.Store,
	patients coverage.Store,
	bank *treasury.Reservoir,
	verifier *JWTVerifier,
	opts ...ServerOption,
) *Server {
	s := &Server{
		engine:    engine,
		rules:     rules,
		providers: providers,
		patients:  patients,
		bank:      bank,
		verifier:  verifier,
		logger:    slog.Default().With("component", "api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the routed, middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/healthz", s.handleHealthz)
	mux.HandleFunc("POST /v1/claims", s.handleSubmit)
	mux.HandleFunc("GET /v1/claims/{id}/key", s.handleClaimKey)
	mux.HandleFunc("GET /v1/outcomes", RequireRole(RoleAdmin, s.handleOutcomes))

	mux.HandleFunc("PUT /v1/admin/pause", RequireRole(RoleAdmin, s.handlePause))
	mux.HandleFunc("GET /v1/admin/rules", RequireRole(RoleAdmin, s.handleListRules))
	mux.HandleFunc("PUT /v1/admin/rules/{code}", RequireRole(RoleAdmin, s.handlePutRule))
	mux.HandleFunc("DELETE /v1/admin/rules/{code}", RequireRole(RoleAdmin, s.handleDeleteRule))
	mux.HandleFunc("PUT /v1/admin/providers/{id}", RequireRole(RoleAdmin, s.handlePutProvider))
	mux.HandleFunc("DELETE /v1/admin/providers/{id}", RequireRole(RoleAdmin, s.handleDeleteProvider))
	mux.HandleFunc("PUT /v1/admin/patients", RequireRole(RoleAdmin, s.handlePutPatient))
	mux.HandleFunc("DELETE /v1/admin/patients", RequireRole(RoleAdmin, s.handleDeletePatient))
	mux.HandleFunc("GET /v1/admin/treasury", RequireRole(RoleAdmin, s.handleTreasury))
	mux.HandleFunc("POST /v1/admin/treasury/fund", RequireRole(RoleAdmin, s.handleFund))

	var h http.Handler = mux
	if s.callLimiter != nil {
		h = s.callLimiter.Middleware(h)
	}
	h = AuthMiddleware(s.verifier)(h)
	if s.ipLimiter != nil {
		h = s.ipLimiter.Middleware(h)
	}
	return RequestIDMiddleware(h)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"paused":     s.engine.Paused(),
		"trail_head": s.engine.Trail().Head(),
	})
}

// submitRequest is the claim submission body. The provider is the
// authenticated caller, never part of the body.
type submitRequest struct {
	Patient string `json:"patient"`
	Code    uint16 `json:"code"`
	Year    uint16 `json:"year"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := "ok"
	if s.recorder != nil {
		defer func() { s.recorder.RecordSubmission(r.Context(), time.Since(start), status) }()
	}

	caller, ok := PrincipalFrom(r.Context())
	if !ok {
		status = "hard_failure"
		WriteUnauthorized(w, "")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var raw map[string]any
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		status = "hard_failure"
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := submitSchema.Validate(raw); err != nil {
		status = "hard_failure"
		WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", "Submission failed schema validation")
		return
	}

	var req submitRequest
	buf, _ := json.Marshal(raw)
	if err := json.Unmarshal(buf, &req); err != nil {
		status = "hard_failure"
		WriteBadRequest(w, "Invalid request body")
		return
	}

	patient, err := identity.ParsePatientToken(req.Patient)
	if err != nil {
		status = "hard_failure"
		WriteBadRequest(w, "Malformed patient token")
		return
	}

	if err := s.engine.Submit(r.Context(), caller, patient, req.Code, req.Year); err != nil {
		status = "hard_failure"
		s.writeSubmitError(w, r, err)
		return
	}

	// Processed covers both paid and rejected; the outcome itself is not
	// disclosed here.
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "processed"})
}

func (s *Server) writeSubmitError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, adjudicator.ErrPaused):
		WriteServiceUnavailable(w, "Submissions are paused")
	case errors.Is(err, adjudicator.ErrBadProvider),
		errors.Is(err, adjudicator.ErrBadPatient),
		errors.Is(err, adjudicator.ErrYearOutOfRange):
		WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", err.Error())
	default:
		WriteInternal(w, err)
	}
}

func (s *Server) handleClaimKey(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		WriteBadRequest(w, "Claim id must be a positive integer")
		return
	}

	key, err := s.engine.ClaimKeyOf(r.Context(), id)
	if err != nil {
		if errors.Is(err, adjudicator.ErrNoSuchClaim) {
			WriteNotFound(w, "No claim with that id")
			return
		}
		WriteInternal(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":             id,
		"commitment_key": key.String(),
	})
}

func (s *Server) handleOutcomes(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 1 || n > 1000 {
			WriteBadRequest(w, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	trail := s.engine.Trail()
	writeJSON(w, http.StatusOK, map[string]any{
		"head":    trail.Head(),
		"length":  trail.Length(),
		"entries": trail.Tail(limit),
	})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	caller, _ := PrincipalFrom(r.Context())

	var req struct {
		Paused bool `json:"paused"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := s.engine.SetPaused(caller, req.Paused); err != nil {
		if errors.Is(err, adjudicator.ErrNotOwner) {
			WriteForbidden(w, "Only the engine owner may pause or resume")
			return
		}
		WriteInternal(w, err)
		return
	}

	s.logger.Info("pause flag set", "paused", req.Paused, "caller", caller.String(),
		"request_id", GetRequestID(r.Context()))
	writeJSON(w, http.StatusOK, map[string]bool{"paused": s.engine.Paused()})
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.rules.List(r.Context())
	if err != nil {
		WriteInternal(w, err)
		return
	}
	out := make(map[string]policy.Rule, len(rules))
	for code, rule := range rules {
		out[strconv.Itoa(int(code))] = rule
	}
	writeJSON(w, http.StatusOK, out)
}

func parseCode(r *http.Request) (uint16, error) {
	n, err := strconv.ParseUint(r.PathValue("code"), 10, 16)
	return uint16(n), err
}

func (s *Server) handlePutRule(w http.ResponseWriter, r *http.Request) {
	code, err := parseCode(r)
	if err != nil {
		WriteBadRequest(w, "Code must fit in 16 bits")
		return
	}

	var rule policy.Rule
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&rule); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if rule.Price < 0 {
		WriteBadRequest(w, "Price must not be negative")
		return
	}

	if err := s.rules.Set(r.Context(), code, rule); err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	code, err := parseCode(r)
	if err != nil {
		WriteBadRequest(w, "Code must fit in 16 bits")
		return
	}
	if err := s.rules.Delete(r.Context(), code); err != nil {
		WriteInternal(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePutProvider(w http.ResponseWriter, r *http.Request) {
	provider := identity.Principal(r.PathValue("id"))
	if provider == "" {
		WriteBadRequest(w, "Provider id is required")
		return
	}

	var win eligibility.Window
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&win); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := s.providers.Set(r.Context(), provider, win); err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, win)
}

func (s *Server) handleDeleteProvider(w http.ResponseWriter, r *http.Request) {
	provider := identity.Principal(r.PathValue("id"))
	if err := s.providers.Delete(r.Context(), provider); err != nil {
		WriteInternal(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// patientRequest carries the raw patient token in the body rather than the
// URL so it never lands in access logs. Storage keeps only the salted digest.
type patientRequest struct {
	Patient string          `json:"patient"`
	Window  coverage.Window `json:"window"`
}

func (s *Server) handlePutPatient(w http.ResponseWriter, r *http.Request) {
	var req patientRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}

	patient, err := identity.ParsePatientToken(req.Patient)
	if err != nil {
		WriteBadRequest(w, "Malformed patient token")
		return
	}

	if err := s.patients.Set(r.Context(), patient, req.Window); err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req.Window)
}

func (s *Server) handleDeletePatient(w http.ResponseWriter, r *http.Request) {
	var req patientRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}

	patient, err := identity.ParsePatientToken(req.Patient)
	if err != nil {
		WriteBadRequest(w, "Malformed patient token")
		return
	}

	if err := s.patients.Delete(r.Context(), patient); err != nil {
		WriteInternal(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTreasury(w http.ResponseWriter, r *http.Request) {
	holdings, err := s.bank.Holdings(r.Context())
	if err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"balance":   holdings.AmountMinor,
		"display":   holdings.String(),
		"currency":  holdings.Currency,
		"transfers": len(s.bank.Transfers()),
	})
}

func (s *Server) handleFund(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount int64 `json:"amount"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := s.bank.Fund(req.Amount); err != nil {
		WriteBadRequest(w, err.Error())
		return
	}
	s.logger.Info("reservoir funded", "amount", req.Amount,
		"request_id", GetRequestID(r.Context()))

	balance, err := s.bank.Balance(r.Context())
	if err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"balance": balance})
}
