package oauth

// AuthorizeRequest is the JSON body of the authorize endpoint
type AuthorizeRequest struct {
	// ClientID is the client's public identifier
	ClientID string `json:"client_id"`

	// RedirectURI must exactly match one of the client's registered URIs
	RedirectURI string `json:"redirect_uri"`

	// ResponseType must be "code"
	ResponseType string `json:"response_type"`

	// Scope is the space-separated list of requested scopes
	Scope string `json:"scope"`

	// State is an opaque value echoed back on the redirect
	State string `json:"state,omitempty"`

	// CodeChallenge is the PKCE challenge bound to the issued code
	CodeChallenge string `json:"code_challenge,omitempty"`

	// CodeChallengeMethod is the PKCE method ("S256" or "plain")
	CodeChallengeMethod string `json:"code_challenge_method,omitempty"`
}

// AuthorizeResponse is the JSON body returned by the authorize endpoint.
// Either RedirectURL is set (auto-approval), or RequiresConsent is true and
// the consent-screen payload fields are populated.
type AuthorizeResponse struct {
	// RedirectURL carries the freshly minted code back to the client
	RedirectURL string `json:"redirect_url,omitempty"`

	// AutoApproved indicates an existing grant covered the request
	AutoApproved bool `json:"auto_approved,omitempty"`

	// RequiresConsent indicates the subject must decide
	RequiresConsent bool `json:"requires_consent,omitempty"`

	// Client carries the client display metadata for the consent screen
	Client *ClientInfo `json:"client,omitempty"`

	// Scopes lists display metadata for the valid requested scopes
	Scopes []ScopeInfo `json:"scopes,omitempty"`

	// Passthrough fields the consent request must echo back
	RedirectURI         string `json:"redirect_uri,omitempty"`
	State               string `json:"state,omitempty"`
	CodeChallenge       string `json:"code_challenge,omitempty"`
	CodeChallengeMethod string `json:"code_challenge_method,omitempty"`
}

// ClientInfo is the client display metadata shown on a consent screen
type ClientInfo struct {
	// ID is the client's internal identifier; the consent request sends it back
	ID string `json:"id"`

	// Name is the human-readable client name
	Name string `json:"name"`

	// Description explains what the client does
	Description string `json:"description,omitempty"`

	// LogoURL points to the client's logo
	LogoURL string `json:"logo_url,omitempty"`

	// SiteURL points to the client's home page
	SiteURL string `json:"site_url,omitempty"`

	// Verified indicates the client passed the registry's verification process
	Verified bool `json:"verified"`
}

// ScopeInfo is the display metadata for a single scope
type ScopeInfo struct {
	// Name is the scope identifier
	Name string `json:"name"`

	// Description is the human-readable explanation shown to the subject
	Description string `json:"description"`
}

// ConsentRequest is the JSON body of the consent endpoint
type ConsentRequest struct {
	// ClientID is the client's internal identifier from the authorize response
	ClientID string `json:"client_id"`

	// RedirectURI is echoed from the authorize response
	RedirectURI string `json:"redirect_uri"`

	// Scopes is the scope list the subject is deciding on
	Scopes []string `json:"scopes"`

	// State is echoed back on the redirect
	State string `json:"state,omitempty"`

	// CodeChallenge and CodeChallengeMethod are echoed from the authorize response
	CodeChallenge       string `json:"code_challenge,omitempty"`
	CodeChallengeMethod string `json:"code_challenge_method,omitempty"`

	// Action is "approve" or "deny"
	Action string `json:"action"`
}

// Consent actions
const (
	ConsentActionApprove = "approve"
	ConsentActionDeny    = "deny"
)

// ConsentResponse is the JSON body returned by the consent endpoint
type ConsentResponse struct {
	// RedirectURL returns control to the client, carrying either a code or
	// an access_denied error
	RedirectURL string `json:"redirect_url"`
}

// Claims is the userinfo response body. Keys depend entirely on the access
// token's granted scopes.
type Claims map[string]any

// ErrorResponse represents an OAuth error response
type ErrorResponse struct {
	// Error is the error code
	Error string `json:"error"`

	// ErrorDescription provides additional information
	ErrorDescription string `json:"error_description,omitempty"`
}
