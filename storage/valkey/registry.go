package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"golang.org/x/crypto/bcrypt"

	"github.com/veriden/idp-oauth/storage"
)

// ============================================================
// ClientStore Implementation
// ============================================================

// SaveClient registers a client. The server never calls this; it exists so
// deployments can populate the read-only registry.
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	if client == nil || client.ID == "" || client.ClientID == "" {
		return fmt.Errorf("invalid client")
	}

	data, err := json.Marshal(toClientJSON(client))
	if err != nil {
		return fmt.Errorf("failed to marshal client: %w", err)
	}

	if err := s.client.Do(ctx,
		s.client.B().Set().Key(s.clientKey(client.ID)).Value(string(data)).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to save client: %w", err)
	}

	// Reverse lookup from public identifier to internal identifier
	if err := s.client.Do(ctx,
		s.client.B().Set().Key(s.clientPubKey(client.ClientID)).Value(client.ID).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to save client lookup: %w", err)
	}

	s.logger.Debug("Saved client", "client_id", client.ClientID, "id", client.ID)
	return nil
}

// FindClientByClientID retrieves a client by its public identifier.
func (s *Store) FindClientByClientID(ctx context.Context, clientID string) (*storage.Client, error) {
	id, err := s.client.Do(ctx, s.client.B().Get().Key(s.clientPubKey(clientID)).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, fmt.Errorf("%w: %s", storage.ErrClientNotFound, clientID)
		}
		return nil, fmt.Errorf("failed to get client lookup: %w", err)
	}
	return s.FindClientByID(ctx, id)
}

// FindClientByID retrieves a client by its internal identifier.
func (s *Store) FindClientByID(ctx context.Context, id string) (*storage.Client, error) {
	return getAndUnmarshal(ctx, s, s.clientKey(id),
		fmt.Errorf("%w: %s", storage.ErrClientNotFound, id), fromClientJSON)
}

// ValidateClientSecret checks a client's secret against its bcrypt hash.
func (s *Store) ValidateClientSecret(ctx context.Context, clientID, clientSecret string) error {
	client, err := s.FindClientByClientID(ctx, clientID)
	if err != nil {
		return err
	}
	if client.SecretHash == "" {
		// Public client, no secret to validate
		return nil
	}
	if err := bcrypt.CompareHashAndPassword([]byte(client.SecretHash), []byte(clientSecret)); err != nil {
		return storage.ErrInvalidClientSecret
	}
	return nil
}

// SaveScopeDefinition registers scope display metadata for consent screens.
func (s *Store) SaveScopeDefinition(ctx context.Context, def *storage.ScopeDefinition) error {
	if def == nil || def.Name == "" {
		return fmt.Errorf("invalid scope definition")
	}

	data, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("failed to marshal scope definition: %w", err)
	}

	if err := s.client.Do(ctx,
		s.client.B().Set().Key(s.scopeKey(def.Name)).Value(string(data)).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to save scope definition: %w", err)
	}
	return nil
}

// ListScopeDefinitions returns display metadata for the named scopes,
// ordered by DisplayOrder. Scopes without a registered definition are
// skipped.
func (s *Store) ListScopeDefinitions(ctx context.Context, names []string) ([]*storage.ScopeDefinition, error) {
	defs := make([]*storage.ScopeDefinition, 0, len(names))
	for _, name := range names {
		data, err := s.client.Do(ctx, s.client.B().Get().Key(s.scopeKey(name)).Build()).ToString()
		if err != nil {
			if isNilError(err) {
				continue
			}
			return nil, fmt.Errorf("failed to get scope definition: %w", err)
		}

		var def storage.ScopeDefinition
		if err := json.Unmarshal([]byte(data), &def); err != nil {
			return nil, fmt.Errorf("failed to unmarshal scope definition: %w", err)
		}
		defs = append(defs, &def)
	}

	sort.SliceStable(defs, func(i, j int) bool {
		return defs[i].DisplayOrder < defs[j].DisplayOrder
	})
	return defs, nil
}

// ============================================================
// ProfileStore Implementation
// ============================================================

// SaveProfile links a claim profile to a subject. Like the client registry,
// this is deployment plumbing; the server only reads profiles.
func (s *Store) SaveProfile(ctx context.Context, subjectID string, profile *storage.Profile) error {
	if subjectID == "" || profile == nil {
		return fmt.Errorf("invalid profile")
	}

	// Profiles round-trip through the same struct, so the default field
	// names are a stable wire format here.
	data, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}

	if err := s.client.Do(ctx,
		s.client.B().Set().Key(s.profileKey(subjectID)).Value(string(data)).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	return nil
}

// GetProfile retrieves the linked profile for a subject.
func (s *Store) GetProfile(ctx context.Context, subjectID string) (*storage.Profile, error) {
	data, err := s.client.Do(ctx, s.client.B().Get().Key(s.profileKey(subjectID)).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, fmt.Errorf("%w: %s", storage.ErrProfileNotFound, subjectID)
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	var profile storage.Profile
	if err := json.Unmarshal([]byte(data), &profile); err != nil {
		return nil, fmt.Errorf("failed to unmarshal profile: %w", err)
	}
	return &profile, nil
}
