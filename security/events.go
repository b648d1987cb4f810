package security

// Event type constants for security audit logging.
// These constants ensure consistency across the codebase and prevent typos
// when logging security-relevant events.
const (
	// Authorization flow events

	// EventAuthorizationAutoApproved is logged when a request is silently
	// re-approved from an existing consent grant
	EventAuthorizationAutoApproved = "authorization_auto_approved"

	// EventAuthorizationCodeIssued is logged when an authorization code is issued
	EventAuthorizationCodeIssued = "authorization_code_issued"

	// EventAuthorizationCodeReuseDetected is logged when an authorization code is reused (attack)
	EventAuthorizationCodeReuseDetected = "authorization_code_reuse_detected"

	// Consent events

	// EventConsentGranted is logged when a subject approves a client's scope request
	EventConsentGranted = "consent_granted"

	// EventConsentDenied is logged when a subject denies a client's scope request
	EventConsentDenied = "consent_denied"

	// EventConsentRevoked is logged when a subject's grant is revoked
	EventConsentRevoked = "consent_revoked"

	// Token events

	// EventTokenIssued is logged when an access token is minted at code redemption
	EventTokenIssued = "token_issued"

	// EventResourceAccessed is logged when the userinfo endpoint discloses claims
	EventResourceAccessed = "resource_accessed"

	// Failure events

	// EventAuthFailure is logged for every rejected credential: missing or
	// malformed subject bearer, unknown/expired/revoked access token,
	// failed client secret validation
	EventAuthFailure = "auth_failure"

	// EventPKCEValidationFailed is logged when a code verifier does not match
	// the bound challenge
	EventPKCEValidationFailed = "pkce_validation_failed"

	// EventRateLimitExceeded is logged when a rate limit is hit
	EventRateLimitExceeded = "rate_limit_exceeded"
)
