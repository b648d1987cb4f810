// Package mock provides mock implementations of storage interfaces for testing.
// Every method delegates to an overridable Func field so tests can inject
// failures at a single store call without standing up a backend.
package mock

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/veriden/idp-oauth/storage"
)

// MockClientStore is a mock implementation of ClientStore for testing
type MockClientStore struct {
	mu                       sync.RWMutex
	clients                  map[string]*storage.Client // keyed by internal id
	scopes                   map[string]*storage.ScopeDefinition
	FindClientByClientIDFunc func(ctx context.Context, clientID string) (*storage.Client, error)
	FindClientByIDFunc       func(ctx context.Context, id string) (*storage.Client, error)
	ListScopeDefinitionsFunc func(ctx context.Context, names []string) ([]*storage.ScopeDefinition, error)
	ValidateClientSecretFunc func(ctx context.Context, clientID, secret string) error
	CallCounts               map[string]int
}

// NewMockClientStore creates a new mock client store
func NewMockClientStore() *MockClientStore {
	m := &MockClientStore{
		clients:    make(map[string]*storage.Client),
		scopes:     make(map[string]*storage.ScopeDefinition),
		CallCounts: make(map[string]int),
	}

	// Set default implementations
	m.FindClientByClientIDFunc = func(ctx context.Context, clientID string) (*storage.Client, error) {
		m.mu.RLock()
		defer m.mu.RUnlock()
		for _, client := range m.clients {
			if client.ClientID == clientID {
				return client, nil
			}
		}
		return nil, storage.ErrClientNotFound
	}

	m.FindClientByIDFunc = func(ctx context.Context, id string) (*storage.Client, error) {
		m.mu.RLock()
		defer m.mu.RUnlock()
		client, ok := m.clients[id]
		if !ok {
			return nil, storage.ErrClientNotFound
		}
		return client, nil
	}

	m.ListScopeDefinitionsFunc = func(ctx context.Context, names []string) ([]*storage.ScopeDefinition, error) {
		m.mu.RLock()
		defer m.mu.RUnlock()
		defs := make([]*storage.ScopeDefinition, 0, len(names))
		for _, name := range names {
			if def, ok := m.scopes[name]; ok {
				defs = append(defs, def)
			}
		}
		sort.Slice(defs, func(i, j int) bool { return defs[i].DisplayOrder < defs[j].DisplayOrder })
		return defs, nil
	}

	m.ValidateClientSecretFunc = func(ctx context.Context, clientID, secret string) error {
		client, err := m.FindClientByClientID(ctx, clientID)
		if err != nil {
			return err
		}
		if client.SecretHash == "" {
			return nil
		}
		if bcrypt.CompareHashAndPassword([]byte(client.SecretHash), []byte(secret)) != nil {
			return storage.ErrInvalidClientSecret
		}
		return nil
	}

	return m
}

// AddClient seeds a client into the backing map
func (m *MockClientStore) AddClient(client *storage.Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[client.ID] = client
}

// AddScopeDefinition seeds a scope definition into the backing map
func (m *MockClientStore) AddScopeDefinition(def *storage.ScopeDefinition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scopes[def.Name] = def
}

// FindClientByClientID retrieves a client by its public identifier
func (m *MockClientStore) FindClientByClientID(ctx context.Context, clientID string) (*storage.Client, error) {
	m.countCall("FindClientByClientID")
	return m.FindClientByClientIDFunc(ctx, clientID)
}

// FindClientByID retrieves a client by its internal identifier
func (m *MockClientStore) FindClientByID(ctx context.Context, id string) (*storage.Client, error) {
	m.countCall("FindClientByID")
	return m.FindClientByIDFunc(ctx, id)
}

// ListScopeDefinitions returns display metadata for the named scopes
func (m *MockClientStore) ListScopeDefinitions(ctx context.Context, names []string) ([]*storage.ScopeDefinition, error) {
	m.countCall("ListScopeDefinitions")
	return m.ListScopeDefinitionsFunc(ctx, names)
}

// ValidateClientSecret checks a confidential client's secret
func (m *MockClientStore) ValidateClientSecret(ctx context.Context, clientID, secret string) error {
	m.countCall("ValidateClientSecret")
	return m.ValidateClientSecretFunc(ctx, clientID, secret)
}

func (m *MockClientStore) countCall(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCounts[name]++
}

// MockGrantStore is a mock implementation of GrantStore for testing
type MockGrantStore struct {
	mu                     sync.RWMutex
	grants                 map[string]*storage.ConsentGrant // keyed by subjectID+":"+clientID
	GetActiveGrantFunc     func(ctx context.Context, subjectID, clientID string) (*storage.ConsentGrant, error)
	UpsertConsentGrantFunc func(ctx context.Context, grant *storage.ConsentGrant) (*storage.ConsentGrant, error)
	RevokeGrantFunc        func(ctx context.Context, subjectID, clientID string) error
	CallCounts             map[string]int
}

// NewMockGrantStore creates a new mock grant store
func NewMockGrantStore() *MockGrantStore {
	m := &MockGrantStore{
		grants:     make(map[string]*storage.ConsentGrant),
		CallCounts: make(map[string]int),
	}

	m.GetActiveGrantFunc = func(ctx context.Context, subjectID, clientID string) (*storage.ConsentGrant, error) {
		m.mu.RLock()
		defer m.mu.RUnlock()
		grant, ok := m.grants[subjectID+":"+clientID]
		if !ok || !grant.Active() {
			return nil, storage.ErrGrantNotFound
		}
		return grant, nil
	}

	m.UpsertConsentGrantFunc = func(ctx context.Context, grant *storage.ConsentGrant) (*storage.ConsentGrant, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		key := grant.SubjectID + ":" + grant.ClientID
		stored := *grant
		if existing, ok := m.grants[key]; ok {
			stored.ID = existing.ID
		} else if stored.ID == "" {
			stored.ID = uuid.NewString()
		}
		stored.RevokedAt = time.Time{}
		m.grants[key] = &stored
		return &stored, nil
	}

	m.RevokeGrantFunc = func(ctx context.Context, subjectID, clientID string) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		grant, ok := m.grants[subjectID+":"+clientID]
		if !ok || !grant.Active() {
			return storage.ErrGrantNotFound
		}
		grant.RevokedAt = time.Now()
		return nil
	}

	return m
}

// GetActiveGrant retrieves the active grant for a subject and client
func (m *MockGrantStore) GetActiveGrant(ctx context.Context, subjectID, clientID string) (*storage.ConsentGrant, error) {
	m.countCall("GetActiveGrant")
	return m.GetActiveGrantFunc(ctx, subjectID, clientID)
}

// UpsertConsentGrant inserts or replaces the grant for (subject, client)
func (m *MockGrantStore) UpsertConsentGrant(ctx context.Context, grant *storage.ConsentGrant) (*storage.ConsentGrant, error) {
	m.countCall("UpsertConsentGrant")
	return m.UpsertConsentGrantFunc(ctx, grant)
}

// RevokeGrant marks the active grant for (subject, client) as revoked
func (m *MockGrantStore) RevokeGrant(ctx context.Context, subjectID, clientID string) error {
	m.countCall("RevokeGrant")
	return m.RevokeGrantFunc(ctx, subjectID, clientID)
}

func (m *MockGrantStore) countCall(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCounts[name]++
}

// MockFlowStore is a mock implementation of FlowStore for testing
type MockFlowStore struct {
	mu                                 sync.RWMutex
	codes                              map[string]*storage.AuthorizationCode
	SaveAuthorizationCodeFunc          func(ctx context.Context, code *storage.AuthorizationCode) error
	GetAuthorizationCodeFunc           func(ctx context.Context, code string) (*storage.AuthorizationCode, error)
	AtomicConsumeAuthorizationCodeFunc func(ctx context.Context, code string) (*storage.AuthorizationCode, error)
	DeleteAuthorizationCodeFunc        func(ctx context.Context, code string) error
	CallCounts                         map[string]int
}

// NewMockFlowStore creates a new mock flow store
func NewMockFlowStore() *MockFlowStore {
	m := &MockFlowStore{
		codes:      make(map[string]*storage.AuthorizationCode),
		CallCounts: make(map[string]int),
	}

	m.SaveAuthorizationCodeFunc = func(ctx context.Context, code *storage.AuthorizationCode) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, exists := m.codes[code.Code]; exists {
			return fmt.Errorf("authorization code collision")
		}
		stored := *code
		m.codes[code.Code] = &stored
		return nil
	}

	m.GetAuthorizationCodeFunc = func(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
		m.mu.RLock()
		defer m.mu.RUnlock()
		stored, ok := m.codes[code]
		if !ok {
			return nil, storage.ErrAuthorizationCodeNotFound
		}
		return stored, nil
	}

	m.AtomicConsumeAuthorizationCodeFunc = func(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		stored, ok := m.codes[code]
		if !ok {
			return nil, storage.ErrAuthorizationCodeNotFound
		}
		if time.Now().After(stored.ExpiresAt) {
			return nil, fmt.Errorf("%w: authorization code", storage.ErrExpired)
		}
		if stored.Used {
			return stored, storage.ErrAuthorizationCodeUsed
		}
		stored.Used = true
		return stored, nil
	}

	m.DeleteAuthorizationCodeFunc = func(ctx context.Context, code string) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.codes, code)
		return nil
	}

	return m
}

// SaveAuthorizationCode saves an issued authorization code
func (m *MockFlowStore) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	m.countCall("SaveAuthorizationCode")
	return m.SaveAuthorizationCodeFunc(ctx, code)
}

// GetAuthorizationCode retrieves an authorization code without consuming it
func (m *MockFlowStore) GetAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	m.countCall("GetAuthorizationCode")
	return m.GetAuthorizationCodeFunc(ctx, code)
}

// AtomicConsumeAuthorizationCode marks a code used exactly once
func (m *MockFlowStore) AtomicConsumeAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	m.countCall("AtomicConsumeAuthorizationCode")
	return m.AtomicConsumeAuthorizationCodeFunc(ctx, code)
}

// DeleteAuthorizationCode removes an authorization code
func (m *MockFlowStore) DeleteAuthorizationCode(ctx context.Context, code string) error {
	m.countCall("DeleteAuthorizationCode")
	return m.DeleteAuthorizationCodeFunc(ctx, code)
}

func (m *MockFlowStore) countCall(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCounts[name]++
}

// MockTokenStore is a mock implementation of TokenStore for testing
type MockTokenStore struct {
	mu                               sync.RWMutex
	tokens                           map[string]*storage.AccessToken
	SaveAccessTokenFunc              func(ctx context.Context, token *storage.AccessToken) error
	GetAccessTokenFunc               func(ctx context.Context, token string) (*storage.AccessToken, error)
	RevokeTokensForSubjectClientFunc func(ctx context.Context, subjectID, clientID string) (int, error)
	CallCounts                       map[string]int
}

// NewMockTokenStore creates a new mock token store
func NewMockTokenStore() *MockTokenStore {
	m := &MockTokenStore{
		tokens:     make(map[string]*storage.AccessToken),
		CallCounts: make(map[string]int),
	}

	m.SaveAccessTokenFunc = func(ctx context.Context, token *storage.AccessToken) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		stored := *token
		m.tokens[token.Token] = &stored
		return nil
	}

	m.GetAccessTokenFunc = func(ctx context.Context, token string) (*storage.AccessToken, error) {
		m.mu.RLock()
		defer m.mu.RUnlock()
		stored, ok := m.tokens[token]
		if !ok {
			return nil, storage.ErrTokenNotFound
		}
		return stored, nil
	}

	m.RevokeTokensForSubjectClientFunc = func(ctx context.Context, subjectID, clientID string) (int, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		revoked := 0
		now := time.Now()
		for _, token := range m.tokens {
			if token.SubjectID == subjectID && token.ClientID == clientID && token.RevokedAt.IsZero() {
				token.RevokedAt = now
				revoked++
			}
		}
		return revoked, nil
	}

	return m
}

// SaveAccessToken persists a newly minted access token
func (m *MockTokenStore) SaveAccessToken(ctx context.Context, token *storage.AccessToken) error {
	m.countCall("SaveAccessToken")
	return m.SaveAccessTokenFunc(ctx, token)
}

// GetAccessToken retrieves an access token by value
func (m *MockTokenStore) GetAccessToken(ctx context.Context, token string) (*storage.AccessToken, error) {
	m.countCall("GetAccessToken")
	return m.GetAccessTokenFunc(ctx, token)
}

// RevokeTokensForSubjectClient revokes all live tokens for a subject+client
func (m *MockTokenStore) RevokeTokensForSubjectClient(ctx context.Context, subjectID, clientID string) (int, error) {
	m.countCall("RevokeTokensForSubjectClient")
	return m.RevokeTokensForSubjectClientFunc(ctx, subjectID, clientID)
}

func (m *MockTokenStore) countCall(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCounts[name]++
}

// MockProfileStore is a mock implementation of ProfileStore for testing
type MockProfileStore struct {
	mu             sync.RWMutex
	profiles       map[string]*storage.Profile
	GetProfileFunc func(ctx context.Context, subjectID string) (*storage.Profile, error)
	CallCounts     map[string]int
}

// NewMockProfileStore creates a new mock profile store
func NewMockProfileStore() *MockProfileStore {
	m := &MockProfileStore{
		profiles:   make(map[string]*storage.Profile),
		CallCounts: make(map[string]int),
	}

	m.GetProfileFunc = func(ctx context.Context, subjectID string) (*storage.Profile, error) {
		m.mu.RLock()
		defer m.mu.RUnlock()
		profile, ok := m.profiles[subjectID]
		if !ok {
			return nil, storage.ErrProfileNotFound
		}
		return profile, nil
	}

	return m
}

// AddProfile seeds a profile into the backing map
func (m *MockProfileStore) AddProfile(subjectID string, profile *storage.Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[subjectID] = profile
}

// GetProfile retrieves the linked profile for a subject
func (m *MockProfileStore) GetProfile(ctx context.Context, subjectID string) (*storage.Profile, error) {
	m.countCall("GetProfile")
	return m.GetProfileFunc(ctx, subjectID)
}

func (m *MockProfileStore) countCall(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCounts[name]++
}

// MockAccessLogStore is a mock implementation of AccessLogStore for testing
type MockAccessLogStore struct {
	mu                  sync.RWMutex
	entries             []*storage.AccessLogEntry
	AppendAccessLogFunc func(ctx context.Context, entry *storage.AccessLogEntry) error
	CallCounts          map[string]int
}

// NewMockAccessLogStore creates a new mock access log store
func NewMockAccessLogStore() *MockAccessLogStore {
	m := &MockAccessLogStore{
		CallCounts: make(map[string]int),
	}

	m.AppendAccessLogFunc = func(ctx context.Context, entry *storage.AccessLogEntry) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.entries = append(m.entries, entry)
		return nil
	}

	return m
}

// AppendAccessLog appends an audit record
func (m *MockAccessLogStore) AppendAccessLog(ctx context.Context, entry *storage.AccessLogEntry) error {
	m.countCall("AppendAccessLog")
	return m.AppendAccessLogFunc(ctx, entry)
}

// Entries returns a snapshot of the appended records
func (m *MockAccessLogStore) Entries() []*storage.AccessLogEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snapshot := make([]*storage.AccessLogEntry, len(m.entries))
	copy(snapshot, m.entries)
	return snapshot
}

func (m *MockAccessLogStore) countCall(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCounts[name]++
}
