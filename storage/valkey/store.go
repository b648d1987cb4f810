package valkey

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/veriden/idp-oauth/storage"
)

const (
	// DefaultKeyPrefix is the default prefix for all Valkey keys
	DefaultKeyPrefix = "idp:"

	// tokenIDLogLength is the number of characters to include when logging
	// code and token values
	tokenIDLogLength = 8

	// connectionVerifyTimeout is the timeout for initial connection verification
	connectionVerifyTimeout = 5 * time.Second

	// maxAccessLogEntries bounds the audit list; the oldest entries are
	// trimmed past this point
	maxAccessLogEntries = 1000000
)

// Config holds configuration for the Valkey storage backend.
type Config struct {
	// Address is the Valkey server address (required), e.g., "localhost:6379"
	Address string

	// Password is the optional password for Valkey authentication
	Password string

	// DB is the optional database number (default 0)
	DB int

	// KeyPrefix is the prefix for all keys (default "idp:")
	KeyPrefix string

	// TLS is the optional TLS configuration for encrypted connections
	TLS *tls.Config

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger
}

// Store is a Valkey-backed implementation of all storage interfaces.
type Store struct {
	client valkeygo.Client
	prefix string
	logger *slog.Logger
}

// Compile-time interface checks to ensure Store implements all storage interfaces
var (
	_ storage.ClientStore    = (*Store)(nil)
	_ storage.GrantStore     = (*Store)(nil)
	_ storage.FlowStore      = (*Store)(nil)
	_ storage.TokenStore     = (*Store)(nil)
	_ storage.ProfileStore   = (*Store)(nil)
	_ storage.AccessLogStore = (*Store)(nil)
)

// New creates a new Valkey-backed storage instance.
// Returns an error if the connection cannot be established.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := valkeygo.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.TLS != nil {
		opts.TLSConfig = cfg.TLS
	}

	client, err := valkeygo.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	logger.Info("Connected to Valkey storage",
		"address", cfg.Address,
		"db", cfg.DB,
		"prefix", prefix)

	return &Store{
		client: client,
		prefix: prefix,
		logger: logger,
	}, nil
}

// Close closes the Valkey client connection.
func (s *Store) Close() {
	s.client.Close()
	s.logger.Info("Valkey storage connection closed")
}

// SetLogger sets a custom logger for the store.
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// ============================================================
// Key helpers
// ============================================================

func (s *Store) clientKey(id string) string {
	return s.prefix + "client:" + id
}

func (s *Store) clientPubKey(clientID string) string {
	return s.prefix + "client:pub:" + clientID
}

func (s *Store) scopeKey(name string) string {
	return s.prefix + "scope:" + name
}

func (s *Store) profileKey(subjectID string) string {
	return s.prefix + "profile:" + subjectID
}

func (s *Store) grantKey(subjectID, clientID string) string {
	return s.prefix + "grant:" + subjectID + ":" + clientID
}

func (s *Store) codeKey(code string) string {
	return s.prefix + "code:" + code
}

func (s *Store) tokenKey(token string) string {
	return s.prefix + "token:" + token
}

func (s *Store) subjectClientKey(subjectID, clientID string) string {
	return s.prefix + "subjclient:" + subjectID + ":" + clientID
}

func (s *Store) accessLogKey() string {
	return s.prefix + "accesslog"
}

// ============================================================
// Shared helpers
// ============================================================

func isNilError(err error) bool {
	return valkeygo.IsValkeyNil(err)
}

// getAndUnmarshal is a generic helper that handles getting a key,
// unmarshalling the JSON data, and converting to the target type.
func getAndUnmarshal[J any, T any](
	ctx context.Context,
	s *Store,
	key string,
	notFoundErr error,
	fromJSON func(*J) *T,
) (*T, error) {
	data, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, notFoundErr
		}
		return nil, fmt.Errorf("failed to get data: %w", err)
	}

	var j J
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal data: %w", err)
	}

	return fromJSON(&j), nil
}

// safeTruncate safely truncates a string to n characters
func safeTruncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// calculateTTL calculates the TTL for a key based on expiry time.
// Returns 0 if the key has already expired.
func calculateTTL(expiresAt time.Time) time.Duration {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return 0
	}
	return ttl
}

// ============================================================
// JSON representations
// ============================================================

// clientJSON is the JSON representation of a registered client
type clientJSON struct {
	ID           string   `json:"id"`
	ClientID     string   `json:"client_id"`
	Name         string   `json:"name"`
	Description  string   `json:"description,omitempty"`
	LogoURL      string   `json:"logo_url,omitempty"`
	SiteURL      string   `json:"site_url,omitempty"`
	RedirectURIs []string `json:"redirect_uris"`
	Scopes       []string `json:"scopes"`
	SecretHash   string   `json:"secret_hash,omitempty"`
	Active       bool     `json:"active"`
	Verified     bool     `json:"verified"`
	CreatedAt    int64    `json:"created_at"`
}

func toClientJSON(c *storage.Client) *clientJSON {
	return &clientJSON{
		ID:           c.ID,
		ClientID:     c.ClientID,
		Name:         c.Name,
		Description:  c.Description,
		LogoURL:      c.LogoURL,
		SiteURL:      c.SiteURL,
		RedirectURIs: c.RedirectURIs,
		Scopes:       c.Scopes,
		SecretHash:   c.SecretHash,
		Active:       c.Active,
		Verified:     c.Verified,
		CreatedAt:    c.CreatedAt.Unix(),
	}
}

func fromClientJSON(j *clientJSON) *storage.Client {
	if j == nil {
		return nil
	}
	return &storage.Client{
		ID:           j.ID,
		ClientID:     j.ClientID,
		Name:         j.Name,
		Description:  j.Description,
		LogoURL:      j.LogoURL,
		SiteURL:      j.SiteURL,
		RedirectURIs: j.RedirectURIs,
		Scopes:       j.Scopes,
		SecretHash:   j.SecretHash,
		Active:       j.Active,
		Verified:     j.Verified,
		CreatedAt:    time.Unix(j.CreatedAt, 0),
	}
}

// authorizationCodeJSON is the JSON representation of an authorization code
type authorizationCodeJSON struct {
	Code                string   `json:"code"`
	ClientID            string   `json:"client_id"`
	SubjectID           string   `json:"subject_id"`
	ProfileID           string   `json:"profile_id,omitempty"`
	RedirectURI         string   `json:"redirect_uri"`
	Scopes              []string `json:"scopes"`
	CodeChallenge       string   `json:"code_challenge,omitempty"`
	CodeChallengeMethod string   `json:"code_challenge_method,omitempty"`
	CreatedAt           int64    `json:"created_at"`
	ExpiresAt           int64    `json:"expires_at"`
	Used                bool     `json:"used"`
}

func toAuthorizationCodeJSON(code *storage.AuthorizationCode) *authorizationCodeJSON {
	return &authorizationCodeJSON{
		Code:                code.Code,
		ClientID:            code.ClientID,
		SubjectID:           code.SubjectID,
		ProfileID:           code.ProfileID,
		RedirectURI:         code.RedirectURI,
		Scopes:              code.Scopes,
		CodeChallenge:       code.CodeChallenge,
		CodeChallengeMethod: code.CodeChallengeMethod,
		CreatedAt:           code.CreatedAt.Unix(),
		ExpiresAt:           code.ExpiresAt.Unix(),
		Used:                code.Used,
	}
}

func fromAuthorizationCodeJSON(j *authorizationCodeJSON) *storage.AuthorizationCode {
	if j == nil {
		return nil
	}
	return &storage.AuthorizationCode{
		Code:                j.Code,
		ClientID:            j.ClientID,
		SubjectID:           j.SubjectID,
		ProfileID:           j.ProfileID,
		RedirectURI:         j.RedirectURI,
		Scopes:              j.Scopes,
		CodeChallenge:       j.CodeChallenge,
		CodeChallengeMethod: j.CodeChallengeMethod,
		CreatedAt:           time.Unix(j.CreatedAt, 0),
		ExpiresAt:           time.Unix(j.ExpiresAt, 0),
		Used:                j.Used,
	}
}

// consentGrantJSON is the JSON representation of a consent grant
type consentGrantJSON struct {
	ID        string   `json:"id"`
	SubjectID string   `json:"subject_id"`
	ProfileID string   `json:"profile_id,omitempty"`
	ClientID  string   `json:"client_id"`
	Scopes    []string `json:"scopes"`
	GrantedAt int64    `json:"granted_at"`
	RevokedAt int64    `json:"revoked_at,omitempty"`
}

func toConsentGrantJSON(g *storage.ConsentGrant) *consentGrantJSON {
	j := &consentGrantJSON{
		ID:        g.ID,
		SubjectID: g.SubjectID,
		ProfileID: g.ProfileID,
		ClientID:  g.ClientID,
		Scopes:    g.Scopes,
		GrantedAt: g.GrantedAt.Unix(),
	}
	if !g.RevokedAt.IsZero() {
		j.RevokedAt = g.RevokedAt.Unix()
	}
	return j
}

func fromConsentGrantJSON(j *consentGrantJSON) *storage.ConsentGrant {
	if j == nil {
		return nil
	}
	g := &storage.ConsentGrant{
		ID:        j.ID,
		SubjectID: j.SubjectID,
		ProfileID: j.ProfileID,
		ClientID:  j.ClientID,
		Scopes:    j.Scopes,
		GrantedAt: time.Unix(j.GrantedAt, 0),
	}
	if j.RevokedAt > 0 {
		g.RevokedAt = time.Unix(j.RevokedAt, 0)
	}
	return g
}

// accessTokenJSON is the JSON representation of an access token
type accessTokenJSON struct {
	Token     string   `json:"token"`
	ClientID  string   `json:"client_id"`
	SubjectID string   `json:"subject_id"`
	ProfileID string   `json:"profile_id,omitempty"`
	Scopes    []string `json:"scopes"`
	CreatedAt int64    `json:"created_at"`
	ExpiresAt int64    `json:"expires_at"`
	RevokedAt int64    `json:"revoked_at,omitempty"`
}

func toAccessTokenJSON(t *storage.AccessToken) *accessTokenJSON {
	j := &accessTokenJSON{
		Token:     t.Token,
		ClientID:  t.ClientID,
		SubjectID: t.SubjectID,
		ProfileID: t.ProfileID,
		Scopes:    t.Scopes,
		CreatedAt: t.CreatedAt.Unix(),
		ExpiresAt: t.ExpiresAt.Unix(),
	}
	if !t.RevokedAt.IsZero() {
		j.RevokedAt = t.RevokedAt.Unix()
	}
	return j
}

func fromAccessTokenJSON(j *accessTokenJSON) *storage.AccessToken {
	if j == nil {
		return nil
	}
	t := &storage.AccessToken{
		Token:     j.Token,
		ClientID:  j.ClientID,
		SubjectID: j.SubjectID,
		ProfileID: j.ProfileID,
		Scopes:    j.Scopes,
		CreatedAt: time.Unix(j.CreatedAt, 0),
		ExpiresAt: time.Unix(j.ExpiresAt, 0),
	}
	if j.RevokedAt > 0 {
		t.RevokedAt = time.Unix(j.RevokedAt, 0)
	}
	return t
}

// accessLogEntryJSON is the JSON representation of an access log entry
type accessLogEntryJSON struct {
	ID              string   `json:"id"`
	ClientID        string   `json:"client_id"`
	SubjectID       string   `json:"subject_id"`
	Action          string   `json:"action"`
	RequestedScopes []string `json:"requested_scopes"`
	GrantedScopes   []string `json:"granted_scopes"`
	Success         bool     `json:"success"`
	CreatedAt       int64    `json:"created_at"`
}

func toAccessLogEntryJSON(e *storage.AccessLogEntry) *accessLogEntryJSON {
	return &accessLogEntryJSON{
		ID:              e.ID,
		ClientID:        e.ClientID,
		SubjectID:       e.SubjectID,
		Action:          e.Action,
		RequestedScopes: e.RequestedScopes,
		GrantedScopes:   e.GrantedScopes,
		Success:         e.Success,
		CreatedAt:       e.CreatedAt.Unix(),
	}
}
