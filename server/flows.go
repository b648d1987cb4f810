package server

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"

	"github.com/veriden/idp-oauth/instrumentation"
	"github.com/veriden/idp-oauth/security"
	"github.com/veriden/idp-oauth/storage"
)

// AuthorizeRequest carries a validated-at-the-wire authorization request
// into the flow logic.
type AuthorizeRequest struct {
	ClientID            string // public identifier
	RedirectURI         string
	ResponseType        string
	Scope               string // space-separated
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
}

// AuthorizeResult is the outcome of an authorization request: either a
// redirect URL carrying a fresh code (auto-approval), or the consent-screen
// payload when the subject must decide.
type AuthorizeResult struct {
	RedirectURL  string
	AutoApproved bool

	ConsentRequired bool
	Client          *storage.Client
	Scopes          []*storage.ScopeDefinition

	// Passthrough fields the consent request echoes back
	RedirectURI         string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
}

// ConsentRequest carries a subject's consent decision into the flow logic.
type ConsentRequest struct {
	ClientID            string // internal identifier, from the authorize response
	RedirectURI         string
	Scopes              []string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
	Action              string // "approve" or "deny"
}

// ConsentResult returns control to the client via its redirect URI, carrying
// either a code or an access_denied error.
type ConsentResult struct {
	RedirectURL string
}

// Consent actions
const (
	ActionApprove = "approve"
	ActionDeny    = "deny"
)

// Authorize processes an authorization request for an authenticated subject.
// It validates the request, then either auto-approves against an existing
// covering consent grant (minting a code) or returns the consent-screen
// payload. Only the auto-approval path writes an access-log entry; deferring
// to consent is not a decision yet.
func (s *Server) Authorize(ctx context.Context, subjectID string, req *AuthorizeRequest) (*AuthorizeResult, error) {
	ctx, span := s.startSpan(ctx, "server.Authorize")
	defer span.End()
	instrumentation.AddFlowAttributes(span, req.ClientID, subjectID, req.Scope)

	if req.ResponseType != ResponseTypeCode {
		s.auditFailure(subjectID, req.ClientID, ErrorCodeUnsupportedResponseType)
		return nil, flowError(ErrorCodeUnsupportedResponseType, "only response_type=code is supported")
	}

	if err := s.validateChallengeParams(req.CodeChallenge, req.CodeChallengeMethod); err != nil {
		s.auditFailure(subjectID, req.ClientID, "invalid_pkce_parameters")
		return nil, flowError(ErrorCodeInvalidRequest, "%s", err.Error())
	}

	client, err := s.clients.FindClientByClientID(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			s.auditFailure(subjectID, req.ClientID, ErrorCodeInvalidClient)
			return nil, flowError(ErrorCodeInvalidClient, "unknown client")
		}
		instrumentation.RecordError(span, err)
		return nil, s.serverError("client lookup failed", err)
	}
	if !client.Active {
		s.auditFailure(subjectID, req.ClientID, "client_inactive")
		return nil, flowError(ErrorCodeInvalidClient, "client is not active")
	}

	if err := validateRedirectURI(client, req.RedirectURI); err != nil {
		s.auditFailure(subjectID, req.ClientID, ErrorCodeInvalidRedirectURI)
		return nil, flowError(ErrorCodeInvalidRedirectURI, "%s", err.Error())
	}

	validScopes := intersectScopes(req.Scope, client.Scopes)
	if len(validScopes) == 0 {
		s.auditFailure(subjectID, req.ClientID, ErrorCodeInvalidScope)
		return nil, flowError(ErrorCodeInvalidScope, "no requested scope is allowed for this client")
	}

	profileID := s.lookupProfileID(ctx, subjectID)

	// Silent re-approval: an active grant whose scope set covers the valid
	// set skips the consent screen entirely.
	grant, err := s.grants.GetActiveGrant(ctx, subjectID, client.ID)
	if err != nil && !errors.Is(err, storage.ErrGrantNotFound) {
		instrumentation.RecordError(span, err)
		return nil, s.serverError("grant lookup failed", err)
	}

	if grant != nil && grant.Covers(validScopes) {
		code, err := s.mintAuthorizationCode(ctx, client.ID, subjectID, profileID, req.RedirectURI, validScopes, req.CodeChallenge, req.CodeChallengeMethod)
		if err != nil {
			instrumentation.RecordError(span, err)
			return nil, s.serverError("failed to save authorization code", err)
		}

		redirectURL, err := buildRedirectURL(req.RedirectURI, codeRedirectParams(code.Code, req.State))
		if err != nil {
			return nil, s.serverError("failed to build redirect URL", err)
		}

		s.appendAccessLog(ctx, &storage.AccessLogEntry{
			ClientID:        client.ID,
			SubjectID:       subjectID,
			Action:          storage.ActionAuthorizeAuto,
			RequestedScopes: strings.Fields(req.Scope),
			GrantedScopes:   validScopes,
			Success:         true,
		})

		if s.Auditor != nil {
			s.Auditor.LogAutoApproval(subjectID, client.ClientID, "", validScopes)
			s.Auditor.LogCodeIssued(subjectID, client.ClientID, "", validScopes)
		}
		if m := s.metrics(); m != nil {
			m.RecordAuthorizationAutoApproved(ctx, client.ClientID)
			m.RecordCodeIssued(ctx, client.ClientID)
		}
		instrumentation.SetSpanSuccess(span)

		s.Logger.Info("Authorization auto-approved",
			"client_id", client.ClientID,
			"subject_id_hash", security.HashForLogging(subjectID),
			"scope_count", len(validScopes))

		return &AuthorizeResult{
			RedirectURL:  redirectURL,
			AutoApproved: true,
		}, nil
	}

	// No covering grant: defer the decision to the consent screen. No code
	// is minted and no access-log entry is written at this step.
	scopeDefs, err := s.clients.ListScopeDefinitions(ctx, validScopes)
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, s.serverError("scope definition lookup failed", err)
	}

	if m := s.metrics(); m != nil {
		m.RecordAuthorizationConsentPending(ctx, client.ClientID)
	}
	instrumentation.SetSpanSuccess(span)

	return &AuthorizeResult{
		ConsentRequired:     true,
		Client:              client,
		Scopes:              scopeDefs,
		RedirectURI:         req.RedirectURI,
		State:               req.State,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
	}, nil
}

// Consent finalizes a pending authorization decision. Approval replaces any
// prior grant for the (subject, client) pair; it never unions scope sets, so
// a narrower re-approval implicitly revokes previously broader access.
func (s *Server) Consent(ctx context.Context, subjectID string, req *ConsentRequest) (*ConsentResult, error) {
	ctx, span := s.startSpan(ctx, "server.Consent")
	defer span.End()
	instrumentation.AddFlowAttributes(span, req.ClientID, subjectID, strings.Join(req.Scopes, " "))

	if req.Action != ActionApprove && req.Action != ActionDeny {
		return nil, flowError(ErrorCodeInvalidRequest, "action must be either %q or %q", ActionApprove, ActionDeny)
	}

	client, err := s.clients.FindClientByID(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			s.auditFailure(subjectID, req.ClientID, ErrorCodeInvalidClient)
			return nil, flowError(ErrorCodeInvalidClient, "unknown client")
		}
		instrumentation.RecordError(span, err)
		return nil, s.serverError("client lookup failed", err)
	}
	if !client.Active {
		s.auditFailure(subjectID, req.ClientID, "client_inactive")
		return nil, flowError(ErrorCodeInvalidClient, "client is not active")
	}

	if err := validateRedirectURI(client, req.RedirectURI); err != nil {
		s.auditFailure(subjectID, client.ClientID, ErrorCodeInvalidRedirectURI)
		return nil, flowError(ErrorCodeInvalidRedirectURI, "%s", err.Error())
	}

	if err := s.validateChallengeParams(req.CodeChallenge, req.CodeChallengeMethod); err != nil {
		return nil, flowError(ErrorCodeInvalidRequest, "%s", err.Error())
	}

	if req.Action == ActionDeny {
		s.appendAccessLog(ctx, &storage.AccessLogEntry{
			ClientID:        client.ID,
			SubjectID:       subjectID,
			Action:          storage.ActionConsentDenied,
			RequestedScopes: req.Scopes,
			GrantedScopes:   nil,
			Success:         false,
		})

		if s.Auditor != nil {
			s.Auditor.LogConsentDenied(subjectID, client.ClientID, "")
		}
		if m := s.metrics(); m != nil {
			m.RecordConsentDecision(ctx, client.ClientID, false)
		}

		// Denial is not a server failure: control returns to the client's
		// own redirect URI carrying the protocol error.
		redirectURL, err := buildRedirectURL(req.RedirectURI, url.Values{
			"error":             {"access_denied"},
			"error_description": {s.Config.DenialDescription},
			"state":             stateValue(req.State),
		})
		if err != nil {
			return nil, s.serverError("failed to build redirect URL", err)
		}
		instrumentation.SetSpanSuccess(span)
		return &ConsentResult{RedirectURL: redirectURL}, nil
	}

	approvedScopes := filterScopes(req.Scopes, client.Scopes)
	if len(approvedScopes) == 0 {
		s.auditFailure(subjectID, client.ClientID, ErrorCodeInvalidScope)
		return nil, flowError(ErrorCodeInvalidScope, "no approved scope is allowed for this client")
	}

	profileID := s.lookupProfileID(ctx, subjectID)

	// Replace-not-merge: the upsert overwrites any prior scope set and
	// clears revocation in a single atomic store operation.
	grant := &storage.ConsentGrant{
		ID:        uuid.NewString(),
		SubjectID: subjectID,
		ProfileID: profileID,
		ClientID:  client.ID,
		Scopes:    approvedScopes,
		GrantedAt: time.Now(),
	}
	if _, err := s.grants.UpsertConsentGrant(ctx, grant); err != nil {
		instrumentation.RecordError(span, err)
		return nil, s.serverError("failed to save consent grant", err)
	}

	code, err := s.mintAuthorizationCode(ctx, client.ID, subjectID, profileID, req.RedirectURI, approvedScopes, req.CodeChallenge, req.CodeChallengeMethod)
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, s.serverError("failed to save authorization code", err)
	}

	s.appendAccessLog(ctx, &storage.AccessLogEntry{
		ClientID:        client.ID,
		SubjectID:       subjectID,
		Action:          storage.ActionConsentGranted,
		RequestedScopes: approvedScopes,
		GrantedScopes:   approvedScopes,
		Success:         true,
	})

	if s.Auditor != nil {
		s.Auditor.LogConsentGranted(subjectID, client.ClientID, "", approvedScopes)
		s.Auditor.LogCodeIssued(subjectID, client.ClientID, "", approvedScopes)
	}
	if m := s.metrics(); m != nil {
		m.RecordConsentDecision(ctx, client.ClientID, true)
		m.RecordCodeIssued(ctx, client.ClientID)
	}
	instrumentation.SetSpanSuccess(span)

	s.Logger.Info("Consent granted",
		"client_id", client.ClientID,
		"subject_id_hash", security.HashForLogging(subjectID),
		"scope_count", len(approvedScopes))

	redirectURL, err := buildRedirectURL(req.RedirectURI, codeRedirectParams(code.Code, req.State))
	if err != nil {
		return nil, s.serverError("failed to build redirect URL", err)
	}
	return &ConsentResult{RedirectURL: redirectURL}, nil
}

// UserInfo validates a bearer access token and returns the claims object its
// granted scope set unlocks. Every rejection branch is logged through the
// security auditor; only successful disclosure writes a domain access-log
// entry.
func (s *Server) UserInfo(ctx context.Context, accessToken string) (map[string]any, error) {
	ctx, span := s.startSpan(ctx, "server.UserInfo")
	defer span.End()

	token, err := s.tokens.GetAccessToken(ctx, accessToken)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			s.auditFailure("", "", "unknown_access_token")
			s.Logger.Debug("Access token lookup failed",
				"token_prefix", safeTruncate(accessToken, 8))
			return nil, flowError(ErrorCodeInvalidToken, "invalid access token")
		}
		instrumentation.RecordError(span, err)
		return nil, s.serverError("token lookup failed", err)
	}

	if !token.RevokedAt.IsZero() {
		s.auditFailure(token.SubjectID, token.ClientID, "access_token_revoked")
		return nil, flowError(ErrorCodeInvalidToken, "access token has been revoked")
	}

	if security.IsTokenExpired(token.ExpiresAt) {
		s.auditFailure(token.SubjectID, token.ClientID, "access_token_expired")
		return nil, flowError(ErrorCodeInvalidToken, "access token has expired")
	}

	instrumentation.AddFlowAttributes(span, token.ClientID, token.SubjectID, strings.Join(token.Scopes, " "))

	var profile *storage.Profile
	if token.ProfileID != "" {
		profile, err = s.profiles.GetProfile(ctx, token.SubjectID)
		if err != nil && !errors.Is(err, storage.ErrProfileNotFound) {
			instrumentation.RecordError(span, err)
			return nil, s.serverError("profile lookup failed", err)
		}
	}

	claims := buildClaims(token.SubjectID, profile, token.Scopes)

	s.appendAccessLog(ctx, &storage.AccessLogEntry{
		ClientID:      token.ClientID,
		SubjectID:     token.SubjectID,
		Action:        storage.ActionUserInfoAccess,
		GrantedScopes: token.Scopes,
		Success:       true,
	})

	if s.Auditor != nil {
		s.Auditor.LogResourceAccessed(token.SubjectID, token.ClientID, "", token.Scopes)
	}
	if m := s.metrics(); m != nil {
		m.RecordUserInfoServed(ctx, token.ClientID)
	}
	instrumentation.SetSpanSuccess(span)

	return claims, nil
}

// RedeemAuthorizationCode is the code-redemption boundary the external token
// exchange calls. It authenticates the client, consumes the code exactly
// once, verifies PKCE, and mints an access token bound to the code's granted
// scope set. Reuse of an already-consumed code is treated as a token-theft
// signal: all tokens minted for that subject+client are revoked.
func (s *Server) RedeemAuthorizationCode(ctx context.Context, code, clientID, clientSecret, redirectURI, codeVerifier string) (*oauth2.Token, error) {
	ctx, span := s.startSpan(ctx, "server.RedeemAuthorizationCode")
	defer span.End()

	client, err := s.clients.FindClientByClientID(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			s.auditFailure("", clientID, ErrorCodeInvalidClient)
			return nil, flowError(ErrorCodeInvalidClient, "unknown client")
		}
		instrumentation.RecordError(span, err)
		return nil, s.serverError("client lookup failed", err)
	}
	if !client.Active {
		s.auditFailure("", clientID, "client_inactive")
		return nil, flowError(ErrorCodeInvalidClient, "client is not active")
	}

	// Confidential clients must present their secret; public clients rely on
	// PKCE alone.
	if client.SecretHash != "" {
		if err := s.clients.ValidateClientSecret(ctx, clientID, clientSecret); err != nil {
			s.auditFailure("", clientID, "invalid_client_secret")
			return nil, flowError(ErrorCodeInvalidClient, "client authentication failed")
		}
	}

	authCode, err := s.flows.AtomicConsumeAuthorizationCode(ctx, code)
	if err != nil {
		if errors.Is(err, storage.ErrAuthorizationCodeUsed) && authCode != nil {
			// Code replay: revoke every token minted for this subject+client.
			revoked, revokeErr := s.tokens.RevokeTokensForSubjectClient(ctx, authCode.SubjectID, client.ID)
			if revokeErr != nil {
				s.Logger.Error("Failed to revoke tokens after code reuse detection", "error", revokeErr)
			}

			s.Logger.Error("Authorization code reuse detected, revoking tokens",
				"client_id", clientID,
				"subject_id_hash", security.HashForLogging(authCode.SubjectID),
				"tokens_revoked", revoked)

			if s.Auditor != nil {
				s.Auditor.LogCodeReuse(authCode.SubjectID, clientID, "")
			}
			if m := s.metrics(); m != nil {
				m.RecordCodeReuseDetected(ctx)
			}

			_ = s.flows.DeleteAuthorizationCode(ctx, code)

			// Generic error per RFC 6749; no detail for the attacker
			return nil, flowError(ErrorCodeInvalidGrant, "invalid grant")
		}

		s.Logger.Debug("Authorization code validation failed",
			"reason", err.Error(),
			"client_id", clientID,
			"code_prefix", safeTruncate(code, 8))
		s.auditFailure("", clientID, "invalid_authorization_code")
		return nil, flowError(ErrorCodeInvalidGrant, "invalid grant")
	}

	if security.IsTokenExpired(authCode.ExpiresAt) {
		s.auditFailure(authCode.SubjectID, clientID, "authorization_code_expired")
		return nil, flowError(ErrorCodeInvalidGrant, "invalid grant")
	}

	if authCode.ClientID != client.ID {
		s.Logger.Debug("Authorization code validation failed",
			"reason", "client_mismatch",
			"client_id", clientID,
			"code_prefix", safeTruncate(code, 8))
		s.auditFailure(authCode.SubjectID, clientID, "client_mismatch")
		return nil, flowError(ErrorCodeInvalidGrant, "invalid grant")
	}

	if authCode.RedirectURI != redirectURI {
		s.Logger.Debug("Authorization code validation failed",
			"reason", "redirect_uri_mismatch",
			"client_id", clientID,
			"code_prefix", safeTruncate(code, 8))
		s.auditFailure(authCode.SubjectID, clientID, "redirect_uri_mismatch")
		return nil, flowError(ErrorCodeInvalidGrant, "invalid grant")
	}

	if err := s.validatePKCE(authCode.CodeChallenge, authCode.CodeChallengeMethod, codeVerifier); err != nil {
		if s.Auditor != nil {
			s.Auditor.LogPKCEFailure(clientID, "")
		}
		if m := s.metrics(); m != nil {
			m.RecordPKCEValidationFailed(ctx, authCode.CodeChallengeMethod)
		}
		s.Logger.Debug("PKCE validation failed",
			"reason", err.Error(),
			"client_id", clientID,
			"code_prefix", safeTruncate(code, 8))
		return nil, flowError(ErrorCodeInvalidGrant, "invalid grant")
	}

	now := time.Now()
	token := &storage.AccessToken{
		Token:     generateRandomToken(),
		ClientID:  client.ID,
		SubjectID: authCode.SubjectID,
		ProfileID: authCode.ProfileID,
		Scopes:    authCode.Scopes,
		CreatedAt: now,
		ExpiresAt: now.Add(s.Config.TokenTTL),
	}
	if err := s.tokens.SaveAccessToken(ctx, token); err != nil {
		instrumentation.RecordError(span, err)
		return nil, s.serverError("failed to save access token", err)
	}

	if s.Auditor != nil {
		s.Auditor.LogTokenIssued(authCode.SubjectID, clientID, "", authCode.Scopes)
	}
	if m := s.metrics(); m != nil {
		m.RecordCodeRedeemed(ctx, clientID, authCode.CodeChallengeMethod)
	}
	instrumentation.SetSpanSuccess(span)

	return token.OAuth2Token(), nil
}

// RevokeConsent revokes the active grant for a subject and client (internal
// identifier) and invalidates every outstanding access token minted under
// it.
func (s *Server) RevokeConsent(ctx context.Context, subjectID, clientID string) error {
	ctx, span := s.startSpan(ctx, "server.RevokeConsent")
	defer span.End()

	if err := s.grants.RevokeGrant(ctx, subjectID, clientID); err != nil {
		instrumentation.RecordError(span, err)
		return err
	}

	revoked, err := s.tokens.RevokeTokensForSubjectClient(ctx, subjectID, clientID)
	if err != nil {
		instrumentation.RecordError(span, err)
		return err
	}

	if s.Auditor != nil {
		s.Auditor.LogConsentRevoked(subjectID, clientID, "")
	}
	instrumentation.SetSpanSuccess(span)

	s.Logger.Info("Consent revoked",
		"client_id", clientID,
		"subject_id_hash", security.HashForLogging(subjectID),
		"tokens_revoked", revoked)
	return nil
}

// mintAuthorizationCode creates and persists a single-use code bound to the
// granted scope set, redirect URI, and optional PKCE challenge.
func (s *Server) mintAuthorizationCode(ctx context.Context, clientID, subjectID, profileID, redirectURI string, scopes []string, challenge, method string) (*storage.AuthorizationCode, error) {
	now := time.Now()
	code := &storage.AuthorizationCode{
		Code:                generateRandomToken(),
		ClientID:            clientID,
		SubjectID:           subjectID,
		ProfileID:           profileID,
		RedirectURI:         redirectURI,
		Scopes:              scopes,
		CodeChallenge:       challenge,
		CodeChallengeMethod: method,
		CreatedAt:           now,
		ExpiresAt:           now.Add(s.Config.CodeTTL),
	}
	if err := s.flows.SaveAuthorizationCode(ctx, code); err != nil {
		return nil, err
	}
	return code, nil
}

// lookupProfileID resolves the subject's linked profile. A missing profile
// is not an error; claims are then limited to the subject identifier.
func (s *Server) lookupProfileID(ctx context.Context, subjectID string) string {
	profile, err := s.profiles.GetProfile(ctx, subjectID)
	if err != nil {
		if !errors.Is(err, storage.ErrProfileNotFound) {
			s.Logger.Warn("Profile lookup failed", "error", err)
		}
		return ""
	}
	return profile.ID
}

// appendAccessLog writes an audit entry after the primary write committed.
// Appends are best-effort: a failed append never rolls back or fails the
// request it describes.
func (s *Server) appendAccessLog(ctx context.Context, entry *storage.AccessLogEntry) {
	entry.ID = uuid.NewString()
	entry.CreatedAt = time.Now()
	if err := s.accessLog.AppendAccessLog(ctx, entry); err != nil {
		s.Logger.Warn("Failed to append access log entry",
			"action", entry.Action,
			"error", err)
	}
}

// auditFailure reports a rejected request through the security auditor.
func (s *Server) auditFailure(subjectID, clientID, reason string) {
	if s.Auditor != nil {
		s.Auditor.LogAuthFailure(subjectID, clientID, "", reason)
	}
}

// serverError logs the backend failure and returns the generic wire error.
func (s *Server) serverError(message string, err error) *FlowError {
	s.Logger.Error(message, "error", err)
	return flowError(ErrorCodeServerError, "internal server error")
}

// codeRedirectParams builds the query parameters for a code-carrying
// redirect.
func codeRedirectParams(code, state string) url.Values {
	params := url.Values{"code": {code}}
	if state != "" {
		params.Set("state", state)
	}
	return params
}

// stateValue wraps an optional state parameter for url.Values literals,
// yielding no values when state is empty.
func stateValue(state string) []string {
	if state == "" {
		return nil
	}
	return []string{state}
}

// startSpan begins a flow span when instrumentation is configured, and
// returns a non-recording span otherwise.
func (s *Server) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if s.inst == nil {
		return ctx, trace.SpanFromContext(context.Background())
	}
	return s.inst.Tracer("server").Start(ctx, name)
}
