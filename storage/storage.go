// Package storage defines interfaces for persisting authorization codes,
// consent grants, access tokens, and audit entries. It supports various
// backend implementations including in-memory and Valkey.
package storage

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by storage implementations. Callers should match
// with errors.Is because implementations wrap these with extra context.
var (
	ErrClientNotFound            = errors.New("client not found")
	ErrProfileNotFound           = errors.New("profile not found")
	ErrGrantNotFound             = errors.New("consent grant not found")
	ErrAuthorizationCodeNotFound = errors.New("authorization code not found")
	ErrAuthorizationCodeUsed     = errors.New("authorization code already used")
	ErrTokenNotFound             = errors.New("access token not found")
	ErrTokenRevoked              = errors.New("access token revoked")
	ErrExpired                   = errors.New("expired")
	ErrInvalidClientSecret       = errors.New("invalid client secret")
)

// ClientStore provides read-only access to the registered client and scope
// registry. Clients carry two identifiers: ClientID is the public identifier
// relying parties present at the authorization endpoint, ID is the internal
// identifier the consent endpoint receives back from the consent screen.
// All methods accept context.Context for tracing and cancellation.
type ClientStore interface {
	// FindClientByClientID retrieves a client by its public identifier.
	FindClientByClientID(ctx context.Context, clientID string) (*Client, error)

	// FindClientByID retrieves a client by its internal identifier.
	FindClientByID(ctx context.Context, id string) (*Client, error)

	// ListScopeDefinitions returns display metadata for the named scopes,
	// ordered by DisplayOrder. Unknown scope names are skipped.
	ListScopeDefinitions(ctx context.Context, names []string) ([]*ScopeDefinition, error)

	// ValidateClientSecret checks a confidential client's secret against its
	// stored bcrypt hash.
	ValidateClientSecret(ctx context.Context, clientID, clientSecret string) error
}

// GrantStore manages durable consent grants. At most one active
// (non-revoked) grant exists per (subject, client) pair; implementations
// must enforce this.
type GrantStore interface {
	// GetActiveGrant retrieves the active grant for a subject and client.
	// Returns ErrGrantNotFound if none exists or the grant is revoked.
	GetActiveGrant(ctx context.Context, subjectID, clientID string) (*ConsentGrant, error)

	// UpsertConsentGrant atomically inserts or replaces the grant keyed by
	// (subject, client). The new scope set fully replaces any prior set and
	// any revocation is cleared. Returns the stored grant.
	UpsertConsentGrant(ctx context.Context, grant *ConsentGrant) (*ConsentGrant, error)

	// RevokeGrant marks the active grant for (subject, client) as revoked.
	RevokeGrant(ctx context.Context, subjectID, clientID string) error
}

// FlowStore manages single-use authorization codes.
type FlowStore interface {
	// SaveAuthorizationCode saves an issued authorization code. The code
	// value is unique; saving a duplicate value is an error.
	SaveAuthorizationCode(ctx context.Context, code *AuthorizationCode) error

	// GetAuthorizationCode retrieves an authorization code without
	// consuming it. For redemption use AtomicConsumeAuthorizationCode.
	GetAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// AtomicConsumeAuthorizationCode atomically checks that a code is
	// unused and marks it used. Only one concurrent caller can succeed.
	// On reuse the stored code is returned alongside
	// ErrAuthorizationCodeUsed so the caller can revoke derived tokens.
	// SECURITY: This operation MUST be atomic to prevent concurrent code
	// exchange attacks.
	AtomicConsumeAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// DeleteAuthorizationCode removes an authorization code.
	DeleteAuthorizationCode(ctx context.Context, code string) error
}

// TokenStore manages opaque bearer access tokens. The authorization server
// writes tokens at the code-redemption boundary and the userinfo endpoint
// reads them.
type TokenStore interface {
	// SaveAccessToken persists a newly minted access token.
	SaveAccessToken(ctx context.Context, token *AccessToken) error

	// GetAccessToken retrieves an access token by value. Revoked tokens are
	// returned with RevokedAt set; expiry is the caller's concern.
	GetAccessToken(ctx context.Context, token string) (*AccessToken, error)

	// RevokeTokensForSubjectClient revokes all live tokens for a
	// subject+client combination. Returns the number of tokens revoked.
	RevokeTokensForSubjectClient(ctx context.Context, subjectID, clientID string) (int, error)
}

// ProfileStore provides read-only access to subject profiles.
type ProfileStore interface {
	// GetProfile retrieves the linked profile for a subject. Returns
	// ErrProfileNotFound when the subject has no linked profile.
	GetProfile(ctx context.Context, subjectID string) (*Profile, error)
}

// AccessLogStore appends audit records. Entries are never updated or
// deleted by the authorization server. Appends are best-effort: a failed
// append must not roll back the primary write it describes.
type AccessLogStore interface {
	AppendAccessLog(ctx context.Context, entry *AccessLogEntry) error
}

// Client represents a registered relying party. Immutable during a request.
type Client struct {
	ID           string // internal identifier
	ClientID     string // public identifier
	Name         string
	Description  string
	LogoURL      string
	SiteURL      string
	RedirectURIs []string // exact-match strings, no wildcard or prefix matching
	Scopes       []string // allow-list of scope names
	SecretHash   string   // bcrypt hash, empty for public clients
	Active       bool
	Verified     bool
	CreatedAt    time.Time
}

// AuthorizationCode represents a single-use code binding a subject's
// approval of scopes for a client to a redirect URI and optional PKCE
// challenge. Consumed exactly once by the token exchange.
type AuthorizationCode struct {
	Code                string
	ClientID            string // internal client identifier
	SubjectID           string
	ProfileID           string // empty when the subject has no linked profile
	RedirectURI         string
	Scopes              []string
	CodeChallenge       string
	CodeChallengeMethod string
	CreatedAt           time.Time
	ExpiresAt           time.Time
	Used                bool
}

// ConsentGrant is the durable record of a subject's approval of a client's
// scope set. Re-approval replaces the scope set, never unions it.
type ConsentGrant struct {
	ID        string
	SubjectID string
	ProfileID string
	ClientID  string // internal client identifier
	Scopes    []string
	GrantedAt time.Time
	RevokedAt time.Time // zero value means active
}

// Active reports whether the grant has not been revoked.
func (g *ConsentGrant) Active() bool {
	return g.RevokedAt.IsZero()
}

// Covers reports whether the grant's scope set is a superset of the
// requested scopes.
func (g *ConsentGrant) Covers(scopes []string) bool {
	granted := make(map[string]bool, len(g.Scopes))
	for _, s := range g.Scopes {
		granted[s] = true
	}
	for _, s := range scopes {
		if !granted[s] {
			return false
		}
	}
	return true
}

// AccessToken is an opaque bearer credential accepted by the userinfo
// endpoint.
type AccessToken struct {
	Token     string
	ClientID  string
	SubjectID string
	ProfileID string
	Scopes    []string
	CreatedAt time.Time
	ExpiresAt time.Time
	RevokedAt time.Time // zero value means live
}

// HasScope reports whether the token's granted scope set contains the
// named scope.
func (t *AccessToken) HasScope(scope string) bool {
	for _, s := range t.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// ScopeDefinition carries consent-screen display metadata for a scope. It
// has no security semantics.
type ScopeDefinition struct {
	Name         string
	Description  string
	DisplayOrder int
}

// Profile is the resource owner's claim set. Read-only to the
// authorization server.
type Profile struct {
	ID              string
	GivenName       string
	FamilyName      string
	MaidenName      string
	FatherName      string
	MotherName      string
	BirthDate       string // RFC 3339 full-date
	BirthPlace      string
	Gender          string
	NationalID      string // national identifier (NIP)
	Active          bool   // profile verification status backing the nip verified claim
	Email           string
	EmailVerified   bool
	Phone           string
	PhoneVerified   bool
	Address         string
	AddressVerified bool
	PhotoURL        string
	HasPhoto        bool
	HasFingerprint  bool
	Diplomas        []Diploma
	Documents       []IdentityDocument
}

// FullName composes the displayed full name from the given and family names.
func (p *Profile) FullName() string {
	switch {
	case p.GivenName == "":
		return p.FamilyName
	case p.FamilyName == "":
		return p.GivenName
	default:
		return p.GivenName + " " + p.FamilyName
	}
}

// DiplomaStatusVerified is the only verification status a diploma may carry
// to be disclosed through the userinfo endpoint.
const DiplomaStatusVerified = "verified"

// DocumentStatusActive is the only status an identity document may carry to
// be disclosed through the userinfo endpoint.
const DocumentStatusActive = "active"

// Diploma is an education record attached to a profile.
type Diploma struct {
	ID                 string
	Title              string
	Institution        string
	IssuedAt           string // RFC 3339 full-date
	VerificationStatus string
}

// IdentityDocument is a government document record attached to a profile.
type IdentityDocument struct {
	ID        string
	Type      string
	Number    string
	IssuedAt  string // RFC 3339 full-date
	ExpiresAt string // RFC 3339 full-date
	Status    string
}

// Access log action tags.
const (
	ActionAuthorizeAuto  = "authorize_auto"
	ActionConsentGranted = "consent_granted"
	ActionConsentDenied  = "consent_denied"
	ActionUserInfoAccess = "userinfo_access"
)

// AccessLogEntry is an append-only audit record of an authorization
// decision or resource access.
type AccessLogEntry struct {
	ID              string
	ClientID        string
	SubjectID       string
	Action          string
	RequestedScopes []string
	GrantedScopes   []string
	Success         bool
	CreatedAt       time.Time
}
