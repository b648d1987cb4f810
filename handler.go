// Package oauth provides a delegated-authorization server over HTTP. A
// third-party client asks for access to a subject's identity claims, the
// subject approves or denies a scoped grant via the consent endpoint, and
// the userinfo endpoint discloses claims gated by the granted scopes.
// Authorization codes are single-use and PKCE-bound.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/veriden/idp-oauth/instrumentation"
	"github.com/veriden/idp-oauth/security"
	"github.com/veriden/idp-oauth/server"
	"github.com/veriden/idp-oauth/storage"
)

// Handler is a thin HTTP adapter for the authorization Server.
// It handles transport concerns (bearer extraction, rate limiting, CORS,
// JSON codecs) and delegates every decision to the Server.
type Handler struct {
	server      *server.Server
	config      *Config
	logger      *slog.Logger
	verifier    *security.SubjectVerifier
	auditor     *security.Auditor
	rateLimiter *security.RateLimiter
	inst        *instrumentation.Instrumentation
}

// NewHandler creates a new HTTP handler. The config is validated and
// defaulted in place.
func NewHandler(srv *server.Server, config *Config) (*Handler, error) {
	if srv == nil {
		return nil, fmt.Errorf("server is required")
	}
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	verifier, err := security.NewSubjectVerifier(config.Security.SubjectSigningKey, config.Security.SubjectIssuer)
	if err != nil {
		return nil, fmt.Errorf("creating subject verifier: %w", err)
	}

	h := &Handler{
		server:   srv,
		config:   config,
		logger:   config.Logger,
		verifier: verifier,
		auditor:  security.NewAuditor(config.Logger, config.Security.EnableAuditLogging),
	}
	srv.SetAuditor(h.auditor)

	if config.RateLimit.Rate > 0 {
		h.rateLimiter = security.NewRateLimiterWithCleanupInterval(
			config.RateLimit.Rate, config.RateLimit.Burst, config.RateLimit.CleanupInterval, config.Logger)
	}

	return h, nil
}

// SetInstrumentation wires OpenTelemetry metrics and tracing into the
// handler and the underlying server.
func (h *Handler) SetInstrumentation(inst *instrumentation.Instrumentation) {
	h.inst = inst
	h.server.SetInstrumentation(inst)
}

// Stop releases handler-owned resources (the rate limiter's cleanup
// goroutine).
func (h *Handler) Stop() {
	if h.rateLimiter != nil {
		h.rateLimiter.Stop()
	}
}

// RegisterRoutes registers the three endpoints on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/oauth/authorize", h.ServeAuthorize)
	mux.HandleFunc("/oauth/consent", h.ServeConsent)
	mux.HandleFunc("/oauth/userinfo", h.ServeUserInfo)
}

// ServeAuthorize handles POST /oauth/authorize. The caller presents the
// authenticated subject's bearer credential; the body carries the client's
// authorization request.
func (h *Handler) ServeAuthorize(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	endpoint := "authorize"

	if r.Method == http.MethodOptions {
		h.ServePreflightRequest(w, r)
		return
	}
	if !h.requirePost(w, r, endpoint, startTime) {
		return
	}
	h.setCORSHeaders(w, r)

	clientIP := h.clientIP(r)
	if !h.checkRateLimit(w, clientIP, endpoint, startTime) {
		return
	}

	subjectID, ok := h.authenticateSubject(w, r, clientIP, endpoint, startTime)
	if !ok {
		return
	}

	var req AuthorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, ErrInvalidRequest("malformed JSON body"))
		h.recordHTTPMetrics(endpoint, r.Method, http.StatusBadRequest, startTime)
		return
	}

	result, err := h.server.Authorize(r.Context(), subjectID, &server.AuthorizeRequest{
		ClientID:            req.ClientID,
		RedirectURI:         req.RedirectURI,
		ResponseType:        req.ResponseType,
		Scope:               req.Scope,
		State:               req.State,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
	})
	if err != nil {
		oauthErr := oauthErrorFromFlow(err)
		h.writeError(w, oauthErr)
		h.recordHTTPMetrics(endpoint, r.Method, oauthErr.Status, startTime)
		return
	}

	resp := &AuthorizeResponse{
		RedirectURL:  result.RedirectURL,
		AutoApproved: result.AutoApproved,
	}
	if result.ConsentRequired {
		resp.RequiresConsent = true
		resp.Client = clientInfo(result.Client)
		resp.Scopes = scopeInfos(result.Scopes)
		resp.RedirectURI = result.RedirectURI
		resp.State = result.State
		resp.CodeChallenge = result.CodeChallenge
		resp.CodeChallengeMethod = result.CodeChallengeMethod
	}

	h.writeJSON(w, http.StatusOK, resp)
	h.recordHTTPMetrics(endpoint, r.Method, http.StatusOK, startTime)
}

// ServeConsent handles POST /oauth/consent. The body carries the subject's
// decision for the client identified by the internal id the authorize
// response returned.
func (h *Handler) ServeConsent(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	endpoint := "consent"

	if r.Method == http.MethodOptions {
		h.ServePreflightRequest(w, r)
		return
	}
	if !h.requirePost(w, r, endpoint, startTime) {
		return
	}
	h.setCORSHeaders(w, r)

	clientIP := h.clientIP(r)
	if !h.checkRateLimit(w, clientIP, endpoint, startTime) {
		return
	}

	subjectID, ok := h.authenticateSubject(w, r, clientIP, endpoint, startTime)
	if !ok {
		return
	}

	var req ConsentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, ErrInvalidRequest("malformed JSON body"))
		h.recordHTTPMetrics(endpoint, r.Method, http.StatusBadRequest, startTime)
		return
	}

	result, err := h.server.Consent(r.Context(), subjectID, &server.ConsentRequest{
		ClientID:            req.ClientID,
		RedirectURI:         req.RedirectURI,
		Scopes:              req.Scopes,
		State:               req.State,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		Action:              req.Action,
	})
	if err != nil {
		oauthErr := oauthErrorFromFlow(err)
		h.writeError(w, oauthErr)
		h.recordHTTPMetrics(endpoint, r.Method, oauthErr.Status, startTime)
		return
	}

	h.writeJSON(w, http.StatusOK, &ConsentResponse{RedirectURL: result.RedirectURL})
	h.recordHTTPMetrics(endpoint, r.Method, http.StatusOK, startTime)
}

// ServeUserInfo handles POST /oauth/userinfo. The caller presents an access
// token; the response body holds exactly the claims the token's scope set
// unlocks.
func (h *Handler) ServeUserInfo(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	endpoint := "userinfo"

	if r.Method == http.MethodOptions {
		h.ServePreflightRequest(w, r)
		return
	}
	if !h.requirePost(w, r, endpoint, startTime) {
		return
	}
	h.setCORSHeaders(w, r)

	clientIP := h.clientIP(r)
	if !h.checkRateLimit(w, clientIP, endpoint, startTime) {
		return
	}

	accessToken, ok := h.extractBearerToken(r)
	if !ok {
		h.auditor.LogAuthFailure("", "", clientIP, "missing_bearer_token")
		h.writeError(w, ErrInvalidToken("missing or malformed Authorization header"))
		h.recordHTTPMetrics(endpoint, r.Method, http.StatusUnauthorized, startTime)
		return
	}

	claims, err := h.server.UserInfo(r.Context(), accessToken)
	if err != nil {
		oauthErr := oauthErrorFromFlow(err)
		h.writeError(w, oauthErr)
		h.recordHTTPMetrics(endpoint, r.Method, oauthErr.Status, startTime)
		return
	}

	h.writeJSON(w, http.StatusOK, claims)
	h.recordHTTPMetrics(endpoint, r.Method, http.StatusOK, startTime)
}

// ServePreflightRequest answers CORS preflight requests with an empty 204.
func (h *Handler) ServePreflightRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodOptions {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.setCORSHeaders(w, r)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusNoContent)
}

// requirePost rejects anything but POST (OPTIONS is handled before this).
func (h *Handler) requirePost(w http.ResponseWriter, r *http.Request, endpoint string, startTime time.Time) bool {
	if r.Method == http.MethodPost {
		return true
	}
	h.writeError(w, &OAuthError{
		Code:        ErrorCodeInvalidRequest,
		Description: "method not allowed",
		Status:      http.StatusMethodNotAllowed,
	})
	h.recordHTTPMetrics(endpoint, r.Method, http.StatusMethodNotAllowed, startTime)
	return false
}

// clientIP resolves the caller's IP honoring the proxy trust settings.
func (h *Handler) clientIP(r *http.Request) string {
	return security.GetClientIP(r, h.config.Security.TrustProxyHeaders, h.config.Security.TrustedProxyCount)
}

// checkRateLimit enforces the per-IP limiter. Returns false when the request
// was rejected.
func (h *Handler) checkRateLimit(w http.ResponseWriter, clientIP, endpoint string, startTime time.Time) bool {
	if h.rateLimiter == nil || h.rateLimiter.Allow(clientIP) {
		return true
	}

	h.auditor.LogRateLimitExceeded(clientIP, "")
	if h.inst != nil {
		h.inst.Metrics().RecordRateLimitExceeded(context.Background(), "ip")
	}
	h.logger.Warn("Rate limit exceeded", "endpoint", endpoint, "ip_hash", security.HashForLogging(clientIP))

	h.writeError(w, ErrRateLimitExceeded("too many requests"))
	h.recordHTTPMetrics(endpoint, http.MethodPost, http.StatusTooManyRequests, startTime)
	return false
}

// authenticateSubject verifies the subject's bearer credential. Returns the
// subject identifier, or writes a 401 and returns false.
func (h *Handler) authenticateSubject(w http.ResponseWriter, r *http.Request, clientIP, endpoint string, startTime time.Time) (string, bool) {
	credential, ok := h.extractBearerToken(r)
	if !ok {
		h.auditor.LogAuthFailure("", "", clientIP, "missing_subject_credential")
		h.writeError(w, ErrUnauthorized("missing or malformed Authorization header"))
		h.recordHTTPMetrics(endpoint, r.Method, http.StatusUnauthorized, startTime)
		return "", false
	}

	subjectID, err := h.verifier.Verify(credential)
	if err != nil {
		h.auditor.LogAuthFailure("", "", clientIP, "invalid_subject_credential")
		if errors.Is(err, security.ErrSubjectCredentialExpired) {
			h.writeError(w, ErrUnauthorized("subject credential has expired"))
		} else {
			h.writeError(w, ErrUnauthorized("invalid subject credential"))
		}
		h.recordHTTPMetrics(endpoint, r.Method, http.StatusUnauthorized, startTime)
		return "", false
	}

	return subjectID, true
}

// extractBearerToken pulls the credential out of the Authorization header.
func (h *Handler) extractBearerToken(r *http.Request) (string, bool) {
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if len(auth) <= len(prefix) || auth[:len(prefix)] != prefix {
		return "", false
	}
	return auth[len(prefix):], true
}

// setCORSHeaders sets cross-origin headers for allowed browser origins.
// The specific origin is echoed back rather than "*"; Vary: Origin keeps
// caches from serving one origin's response to another.
func (h *Handler) setCORSHeaders(w http.ResponseWriter, r *http.Request) {
	if len(h.config.CORS.AllowedOrigins) == 0 {
		return
	}

	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}

	if !h.isAllowedOrigin(origin) {
		h.logger.Debug("CORS request from disallowed origin", "origin", origin)
		return
	}

	w.Header().Set("Access-Control-Allow-Origin", origin)
	w.Header().Add("Vary", "Origin")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// isAllowedOrigin checks an Origin header value against the allow-list.
func (h *Handler) isAllowedOrigin(origin string) bool {
	for _, allowed := range h.config.CORS.AllowedOrigins {
		if allowed == origin || allowed == "*" {
			return true
		}
	}
	return false
}

// writeError writes a structured JSON error response. 401 responses carry a
// WWW-Authenticate challenge per RFC 6750.
func (h *Handler) writeError(w http.ResponseWriter, oauthErr *OAuthError) {
	security.SetSecurityHeaders(w, h.config.ServerURL)

	if oauthErr.Status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate",
			fmt.Sprintf("Bearer error=%q, error_description=%q", oauthErr.Code, oauthErr.Description))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(oauthErr.Status)
	_ = json.NewEncoder(w).Encode(&ErrorResponse{
		Error:            oauthErr.Code,
		ErrorDescription: oauthErr.Description,
	})
}

// writeJSON writes a JSON success response with security headers.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	security.SetSecurityHeaders(w, h.config.ServerURL)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}

// recordHTTPMetrics records request count and latency when instrumentation
// is wired.
func (h *Handler) recordHTTPMetrics(endpoint, method string, status int, startTime time.Time) {
	if h.inst == nil {
		return
	}

	duration := time.Since(startTime).Seconds() * 1000 // milliseconds
	h.inst.Metrics().RecordHTTPRequest(context.Background(), method, endpoint, status, duration)
}

// oauthErrorFromFlow maps a flow-level error onto the wire taxonomy. Errors
// that are not FlowErrors are backend failures and surface as server_error.
func oauthErrorFromFlow(err error) *OAuthError {
	var flowErr *server.FlowError
	if !errors.As(err, &flowErr) {
		return ErrServerError("internal server error")
	}

	switch flowErr.Code {
	case server.ErrorCodeInvalidRequest:
		return ErrInvalidRequest(flowErr.Description)
	case server.ErrorCodeInvalidClient:
		return ErrInvalidClient(flowErr.Description)
	case server.ErrorCodeInvalidRedirectURI:
		return ErrInvalidRedirectURI(flowErr.Description)
	case server.ErrorCodeInvalidScope:
		return ErrInvalidScope(flowErr.Description)
	case server.ErrorCodeUnsupportedResponseType:
		return ErrUnsupportedResponseType(flowErr.Description)
	case server.ErrorCodeInvalidToken:
		return ErrInvalidToken(flowErr.Description)
	default:
		return ErrServerError(flowErr.Description)
	}
}

// clientInfo maps a stored client to its consent-screen display metadata.
// The internal id is what the consent request must send back.
func clientInfo(client *storage.Client) *ClientInfo {
	if client == nil {
		return nil
	}
	return &ClientInfo{
		ID:          client.ID,
		Name:        client.Name,
		Description: client.Description,
		LogoURL:     client.LogoURL,
		SiteURL:     client.SiteURL,
		Verified:    client.Verified,
	}
}

// scopeInfos maps scope definitions to their wire form.
func scopeInfos(defs []*storage.ScopeDefinition) []ScopeInfo {
	infos := make([]ScopeInfo, 0, len(defs))
	for _, def := range defs {
		infos = append(infos, ScopeInfo{
			Name:        def.Name,
			Description: def.Description,
		})
	}
	return infos
}
