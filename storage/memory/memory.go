package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/bcrypt"

	"github.com/veriden/idp-oauth/instrumentation"
	"github.com/veriden/idp-oauth/internal/util"
	"github.com/veriden/idp-oauth/security"
	"github.com/veriden/idp-oauth/storage"
)

const (
	// codeLogLength is the number of characters to include when logging
	// authorization code and token values. This provides enough uniqueness
	// for debugging while keeping logs secure.
	codeLogLength = 8

	// maxAccessLogEntries caps the in-memory audit trail. The oldest half
	// is dropped when the cap is reached. Production deployments should use
	// a persistent AccessLogStore instead.
	maxAccessLogEntries = 100000
)

// Store is an in-memory implementation of all storage interfaces.
type Store struct {
	mu sync.RWMutex

	// Client registry (read-only to the server; populated via SaveClient)
	clients       map[string]*storage.Client // internal ID -> client
	clientsByPub  map[string]string          // public client_id -> internal ID
	scopeDefs     map[string]*storage.ScopeDefinition
	profiles      map[string]*storage.Profile // subject ID -> linked profile

	// Consent grants, keyed by (subject, client)
	grants map[string]*storage.ConsentGrant

	// Flow storage
	authCodes map[string]*storage.AuthorizationCode

	// Access tokens plus a (subject, client) index for bulk revocation
	tokens              map[string]*storage.AccessToken
	tokensBySubjClient  map[string]map[string]bool

	// Append-only audit trail
	accessLog []*storage.AccessLogEntry

	// Instrumentation
	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer

	// Cleanup
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	logger          *slog.Logger
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

// New creates a new in-memory store with default cleanup interval (1 minute).
func New() *Store {
	return NewWithInterval(time.Minute)
}

// NewWithInterval creates a new in-memory store with a custom cleanup
// interval. An interval of zero disables the cleanup goroutine.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	s := &Store{
		clients:            make(map[string]*storage.Client),
		clientsByPub:       make(map[string]string),
		scopeDefs:          make(map[string]*storage.ScopeDefinition),
		profiles:           make(map[string]*storage.Profile),
		grants:             make(map[string]*storage.ConsentGrant),
		authCodes:          make(map[string]*storage.AuthorizationCode),
		tokens:             make(map[string]*storage.AccessToken),
		tokensBySubjClient: make(map[string]map[string]bool),
		cleanupInterval:    cleanupInterval,
		stopCleanup:        make(chan struct{}),
		logger:             slog.Default(),
	}

	if cleanupInterval > 0 {
		go s.cleanupLoop()
	}

	return s
}

// SetLogger sets a custom logger for the store.
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetInstrumentation enables OpenTelemetry tracing and metrics for storage
// operations.
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("storage/memory")
	}
}

// Stop terminates the background cleanup goroutine.
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCleanup)
	})
}

// subjectClientKey builds the composite key enforcing grant uniqueness per
// (subject, client).
func subjectClientKey(subjectID, clientID string) string {
	return subjectID + "\x00" + clientID
}

// ============================================================
// ClientStore
// ============================================================

// SaveClient registers a client. The server never calls this; it exists so
// deployments and tests can populate the read-only registry.
func (s *Store) SaveClient(client *storage.Client) error {
	if client == nil || client.ID == "" || client.ClientID == "" {
		return fmt.Errorf("invalid client")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	clientCopy := *client
	s.clients[client.ID] = &clientCopy
	s.clientsByPub[client.ClientID] = client.ID
	return nil
}

// SaveScopeDefinition registers scope display metadata for consent screens.
func (s *Store) SaveScopeDefinition(def *storage.ScopeDefinition) error {
	if def == nil || def.Name == "" {
		return fmt.Errorf("invalid scope definition")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	defCopy := *def
	s.scopeDefs[def.Name] = &defCopy
	return nil
}

// SaveProfile links a claim profile to a subject.
func (s *Store) SaveProfile(subjectID string, profile *storage.Profile) error {
	if subjectID == "" || profile == nil {
		return fmt.Errorf("invalid profile")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	profileCopy := *profile
	s.profiles[subjectID] = &profileCopy
	return nil
}

// FindClientByClientID retrieves a client by its public identifier.
func (s *Store) FindClientByClientID(ctx context.Context, clientID string) (*storage.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.clientsByPub[clientID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrClientNotFound, clientID)
	}
	clientCopy := *s.clients[id]
	return &clientCopy, nil
}

// FindClientByID retrieves a client by its internal identifier.
func (s *Store) FindClientByID(ctx context.Context, id string) (*storage.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrClientNotFound, id)
	}
	clientCopy := *client
	return &clientCopy, nil
}

// ListScopeDefinitions returns display metadata for the named scopes,
// ordered by DisplayOrder. Scopes without a registered definition are
// skipped.
func (s *Store) ListScopeDefinitions(ctx context.Context, names []string) ([]*storage.ScopeDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	defs := make([]*storage.ScopeDefinition, 0, len(names))
	for _, name := range names {
		if def, ok := s.scopeDefs[name]; ok {
			defCopy := *def
			defs = append(defs, &defCopy)
		}
	}
	sort.SliceStable(defs, func(i, j int) bool {
		return defs[i].DisplayOrder < defs[j].DisplayOrder
	})
	return defs, nil
}

// ValidateClientSecret checks a client's secret against its bcrypt hash.
// The comparison is constant-time via bcrypt.
func (s *Store) ValidateClientSecret(ctx context.Context, clientID, clientSecret string) error {
	s.mu.RLock()
	id, ok := s.clientsByPub[clientID]
	var hash string
	if ok {
		hash = s.clients[id].SecretHash
	}
	s.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", storage.ErrClientNotFound, clientID)
	}
	if hash == "" {
		// Public client, no secret to validate
		return nil
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(clientSecret)); err != nil {
		return storage.ErrInvalidClientSecret
	}
	return nil
}

// ============================================================
// ProfileStore
// ============================================================

// GetProfile retrieves the linked profile for a subject.
func (s *Store) GetProfile(ctx context.Context, subjectID string) (*storage.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	profile, ok := s.profiles[subjectID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrProfileNotFound, subjectID)
	}
	profileCopy := *profile
	return &profileCopy, nil
}

// ============================================================
// GrantStore
// ============================================================

// GetActiveGrant retrieves the active grant for (subject, client).
func (s *Store) GetActiveGrant(ctx context.Context, subjectID, clientID string) (*storage.ConsentGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	grant, ok := s.grants[subjectClientKey(subjectID, clientID)]
	if !ok || !grant.Active() {
		return nil, storage.ErrGrantNotFound
	}
	grantCopy := *grant
	grantCopy.Scopes = append([]string(nil), grant.Scopes...)
	return &grantCopy, nil
}

// UpsertConsentGrant atomically inserts or replaces the grant keyed by
// (subject, client). The scope set is fully replaced and any revocation is
// cleared. Holding the write lock for the whole operation makes concurrent
// approvals serialize onto a single grant record.
func (s *Store) UpsertConsentGrant(ctx context.Context, grant *storage.ConsentGrant) (*storage.ConsentGrant, error) {
	ctx, span := s.startStorageSpan(ctx, "upsert_consent_grant")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "upsert_consent_grant", err, startTime)
	}()

	if grant == nil || grant.SubjectID == "" || grant.ClientID == "" {
		err = fmt.Errorf("invalid consent grant")
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := subjectClientKey(grant.SubjectID, grant.ClientID)
	stored := *grant
	stored.Scopes = append([]string(nil), grant.Scopes...)
	stored.RevokedAt = time.Time{}
	if existing, ok := s.grants[key]; ok {
		// Keep the original identity of the record across replacements.
		stored.ID = existing.ID
	}
	s.grants[key] = &stored

	s.logger.Debug("Upserted consent grant",
		"subject_id_hash", security.HashForLogging(grant.SubjectID),
		"client_id", grant.ClientID,
		"scopes", stored.Scopes)

	grantCopy := stored
	grantCopy.Scopes = append([]string(nil), stored.Scopes...)
	return &grantCopy, nil
}

// RevokeGrant marks the active grant for (subject, client) as revoked.
func (s *Store) RevokeGrant(ctx context.Context, subjectID, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	grant, ok := s.grants[subjectClientKey(subjectID, clientID)]
	if !ok || !grant.Active() {
		return storage.ErrGrantNotFound
	}
	grant.RevokedAt = time.Now()
	s.logger.Debug("Revoked consent grant",
		"subject_id_hash", security.HashForLogging(subjectID),
		"client_id", clientID)
	return nil
}

// ============================================================
// FlowStore
// ============================================================

// SaveAuthorizationCode saves an issued authorization code. Code values are
// unique; saving a duplicate is an error so double-minting can never yield
// two redeemable codes with the same value.
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	ctx, span := s.startStorageSpan(ctx, "save_authorization_code")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "save_authorization_code", err, startTime)
	}()

	if code == nil || code.Code == "" {
		err = fmt.Errorf("invalid authorization code")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.authCodes[code.Code]; exists {
		err = fmt.Errorf("authorization code collision")
		return err
	}

	codeCopy := *code
	codeCopy.Scopes = append([]string(nil), code.Scopes...)
	s.authCodes[code.Code] = &codeCopy
	s.logger.Debug("Saved authorization code", "code_prefix", util.SafeTruncate(code.Code, codeLogLength))
	return nil
}

// GetAuthorizationCode retrieves an authorization code without consuming it.
func (s *Store) GetAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	authCode, ok := s.authCodes[code]
	if !ok {
		return nil, storage.ErrAuthorizationCodeNotFound
	}
	if security.IsTokenExpired(authCode.ExpiresAt) {
		return nil, fmt.Errorf("%w: authorization code", storage.ErrExpired)
	}

	// Return a copy to prevent the caller from mutating the stored code.
	codeCopy := *authCode
	codeCopy.Scopes = append([]string(nil), authCode.Scopes...)
	return &codeCopy, nil
}

// AtomicConsumeAuthorizationCode atomically checks that a code is unused and
// marks it used. Only one concurrent caller can succeed; all others receive
// ErrAuthorizationCodeUsed.
//
// The stored code is returned on reuse (Used=true) so the caller can revoke
// tokens minted from it. For not-found and expired, nil is returned to
// prevent information leakage.
func (s *Store) AtomicConsumeAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	s.mu.Lock() // write lock: atomic check-and-set
	defer s.mu.Unlock()

	authCode, ok := s.authCodes[code]
	if !ok {
		return nil, storage.ErrAuthorizationCodeNotFound
	}
	if security.IsTokenExpired(authCode.ExpiresAt) {
		return nil, fmt.Errorf("%w: authorization code", storage.ErrExpired)
	}
	if authCode.Used {
		codeCopy := *authCode
		return &codeCopy, storage.ErrAuthorizationCodeUsed
	}

	authCode.Used = true
	s.logger.Debug("Consumed authorization code",
		"code_prefix", util.SafeTruncate(code, codeLogLength))

	codeCopy := *authCode
	codeCopy.Scopes = append([]string(nil), authCode.Scopes...)
	return &codeCopy, nil
}

// DeleteAuthorizationCode removes an authorization code.
func (s *Store) DeleteAuthorizationCode(ctx context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.authCodes, code)
	return nil
}

// ============================================================
// TokenStore
// ============================================================

// SaveAccessToken persists a newly minted access token and indexes it for
// bulk revocation by (subject, client).
func (s *Store) SaveAccessToken(ctx context.Context, token *storage.AccessToken) error {
	ctx, span := s.startStorageSpan(ctx, "save_access_token")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "save_access_token", err, startTime)
	}()

	if token == nil || token.Token == "" {
		err = fmt.Errorf("invalid access token")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tokenCopy := *token
	tokenCopy.Scopes = append([]string(nil), token.Scopes...)
	s.tokens[token.Token] = &tokenCopy

	key := subjectClientKey(token.SubjectID, token.ClientID)
	if s.tokensBySubjClient[key] == nil {
		s.tokensBySubjClient[key] = make(map[string]bool)
	}
	s.tokensBySubjClient[key][token.Token] = true

	s.logger.Debug("Saved access token",
		"token_prefix", util.SafeTruncate(token.Token, codeLogLength),
		"client_id", token.ClientID)
	return nil
}

// GetAccessToken retrieves an access token by value. Revocation and expiry
// checks are the caller's concern; the record is returned as stored.
func (s *Store) GetAccessToken(ctx context.Context, token string) (*storage.AccessToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.tokens[token]
	if !ok {
		return nil, storage.ErrTokenNotFound
	}
	tokenCopy := *stored
	tokenCopy.Scopes = append([]string(nil), stored.Scopes...)
	return &tokenCopy, nil
}

// RevokeTokensForSubjectClient revokes all live tokens for a subject+client
// combination. Used when authorization code reuse is detected and when a
// consent grant is revoked.
func (s *Store) RevokeTokensForSubjectClient(ctx context.Context, subjectID, clientID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	revoked := 0
	for tokenValue := range s.tokensBySubjClient[subjectClientKey(subjectID, clientID)] {
		if token, ok := s.tokens[tokenValue]; ok && token.RevokedAt.IsZero() {
			token.RevokedAt = now
			revoked++
		}
	}

	if revoked > 0 {
		s.logger.Info("Revoked tokens for subject+client",
			"subject_id_hash", security.HashForLogging(subjectID),
			"client_id", clientID,
			"count", revoked)
	}
	return revoked, nil
}

// ============================================================
// AccessLogStore
// ============================================================

// AppendAccessLog appends an audit record. The trail is bounded to protect
// against unbounded memory growth in long-lived processes.
func (s *Store) AppendAccessLog(ctx context.Context, entry *storage.AccessLogEntry) error {
	if entry == nil {
		return fmt.Errorf("invalid access log entry")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entryCopy := *entry
	entryCopy.RequestedScopes = append([]string(nil), entry.RequestedScopes...)
	entryCopy.GrantedScopes = append([]string(nil), entry.GrantedScopes...)
	if entryCopy.CreatedAt.IsZero() {
		entryCopy.CreatedAt = time.Now()
	}

	if len(s.accessLog) >= maxAccessLogEntries {
		half := len(s.accessLog) / 2
		s.accessLog = append(s.accessLog[:0], s.accessLog[half:]...)
		s.logger.Warn("Access log capacity reached, dropped oldest entries", "dropped", half)
	}
	s.accessLog = append(s.accessLog, &entryCopy)
	return nil
}

// AccessLogEntries returns a snapshot of the audit trail, oldest first.
func (s *Store) AccessLogEntries() []*storage.AccessLogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]*storage.AccessLogEntry, len(s.accessLog))
	for i, entry := range s.accessLog {
		entryCopy := *entry
		entries[i] = &entryCopy
	}
	return entries
}

// ============================================================
// Cleanup
// ============================================================

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *Store) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cleaned := 0

	for value, code := range s.authCodes {
		if security.IsTokenExpired(code.ExpiresAt) {
			delete(s.authCodes, value)
			cleaned++
		}
	}

	for value, token := range s.tokens {
		if security.IsTokenExpired(token.ExpiresAt) {
			delete(s.tokens, value)
			delete(s.tokensBySubjClient[subjectClientKey(token.SubjectID, token.ClientID)], value)
			cleaned++
		}
	}

	if cleaned > 0 {
		s.logger.Debug("Cleaned up expired entries", "count", cleaned)
	}
}

// ============================================================
// Instrumentation helpers
// ============================================================

func (s *Store) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return s.tracer.Start(ctx, "storage."+operation)
}

func (s *Store) recordStorageOperation(ctx context.Context, span trace.Span, operation string, err error, startTime time.Time) {
	if err != nil {
		instrumentation.RecordError(span, err)
	} else {
		instrumentation.SetSpanSuccess(span)
	}

	if s.instrumentation == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	durationMs := time.Since(startTime).Seconds() * 1000
	s.instrumentation.Metrics().RecordStorageOperation(ctx, operation, result, durationMs)
}
