package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/veriden/idp-oauth/storage"
)

// ============================================================
// FlowStore Implementation
// ============================================================

// SaveAuthorizationCode saves an issued authorization code with a TTL equal
// to its remaining lifetime. Saving an existing code value fails, which
// preserves code-value uniqueness across concurrent minting.
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	if code == nil || code.Code == "" {
		return fmt.Errorf("invalid authorization code")
	}

	data, err := json.Marshal(toAuthorizationCodeJSON(code))
	if err != nil {
		return fmt.Errorf("failed to marshal authorization code: %w", err)
	}

	ttl := calculateTTL(code.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("authorization code already expired")
	}

	// SET NX: duplicate code values are rejected rather than overwritten
	resp := s.client.Do(ctx,
		s.client.B().Set().Key(s.codeKey(code.Code)).Value(string(data)).Nx().Ex(ttl).Build(),
	)
	if err := resp.Error(); err != nil {
		if isNilError(err) {
			return fmt.Errorf("authorization code collision")
		}
		return fmt.Errorf("failed to save authorization code: %w", err)
	}

	s.logger.Debug("Saved authorization code",
		"code_prefix", safeTruncate(code.Code, tokenIDLogLength))
	return nil
}

// GetAuthorizationCode retrieves an authorization code without consuming it.
// For redemption use AtomicConsumeAuthorizationCode to prevent races.
func (s *Store) GetAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	authCode, err := getAndUnmarshal(ctx, s, s.codeKey(code),
		storage.ErrAuthorizationCodeNotFound, fromAuthorizationCodeJSON)
	if err != nil {
		return nil, err
	}

	// TTL should handle this, but double-check for safety
	if time.Now().After(authCode.ExpiresAt) {
		return nil, fmt.Errorf("%w: authorization code", storage.ErrExpired)
	}
	return authCode, nil
}

// luaAtomicConsumeCode atomically checks that an authorization code is
// unused and marks it used, preserving the key TTL.
//
// KEYS[1] = code key (e.g., "idp:code:abc123")
// ARGV[1] = current Unix timestamp in seconds (for expiry check)
//
// Returns:
//   - Original JSON data if the code was unused and is now marked used
//   - "NOT_FOUND" if the key doesn't exist
//   - "EXPIRED" if the code has expired
//   - "ALREADY_USED:<json>" if the code was already consumed (original data
//     returned for reuse forensics)
const luaAtomicConsumeCode = `
local data = redis.call('GET', KEYS[1])
if not data then
    return 'NOT_FOUND'
end

local code = cjson.decode(data)

local now = tonumber(ARGV[1])
local expiresAt = tonumber(code.expires_at)
if expiresAt and now > expiresAt then
    return 'EXPIRED'
end

if code.used then
    return 'ALREADY_USED:' .. data
end

code.used = true
redis.call('SET', KEYS[1], cjson.encode(code), 'KEEPTTL')

return data
`

// AtomicConsumeAuthorizationCode atomically checks that a code is unused and
// marks it used. Only one concurrent caller can succeed.
//
// SECURITY: This operation is atomic via Lua script.
//
// The stored code is returned on reuse (Used=true) so the caller can revoke
// tokens minted from it. For not-found and expired, nil is returned to
// prevent information leakage.
func (s *Store) AtomicConsumeAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	result, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaAtomicConsumeCode).
			Numkeys(1).
			Key(s.codeKey(code)).
			Arg(fmt.Sprintf("%d", time.Now().Unix())).
			Build(),
	).ToString()
	if err != nil {
		return nil, fmt.Errorf("failed to execute atomic code consume: %w", err)
	}

	switch {
	case result == "NOT_FOUND":
		return nil, storage.ErrAuthorizationCodeNotFound
	case result == "EXPIRED":
		return nil, fmt.Errorf("%w: authorization code", storage.ErrExpired)
	case strings.HasPrefix(result, "ALREADY_USED:"):
		codeData := strings.TrimPrefix(result, "ALREADY_USED:")
		var j authorizationCodeJSON
		if err := json.Unmarshal([]byte(codeData), &j); err != nil {
			return nil, fmt.Errorf("%w: failed to parse reused code", storage.ErrAuthorizationCodeUsed)
		}
		return fromAuthorizationCodeJSON(&j), storage.ErrAuthorizationCodeUsed
	}

	var j authorizationCodeJSON
	if err := json.Unmarshal([]byte(result), &j); err != nil {
		return nil, fmt.Errorf("failed to parse authorization code: %w", err)
	}

	s.logger.Debug("Consumed authorization code",
		"code_prefix", safeTruncate(code, tokenIDLogLength))

	consumed := fromAuthorizationCodeJSON(&j)
	consumed.Used = true
	return consumed, nil
}

// DeleteAuthorizationCode removes an authorization code.
func (s *Store) DeleteAuthorizationCode(ctx context.Context, code string) error {
	if err := s.client.Do(ctx, s.client.B().Del().Key(s.codeKey(code)).Build()).Error(); err != nil {
		return fmt.Errorf("failed to delete authorization code: %w", err)
	}
	return nil
}

// ============================================================
// GrantStore Implementation
// ============================================================

// GetActiveGrant retrieves the active grant for (subject, client).
func (s *Store) GetActiveGrant(ctx context.Context, subjectID, clientID string) (*storage.ConsentGrant, error) {
	grant, err := getAndUnmarshal(ctx, s, s.grantKey(subjectID, clientID),
		storage.ErrGrantNotFound, fromConsentGrantJSON)
	if err != nil {
		return nil, err
	}
	if !grant.Active() {
		return nil, storage.ErrGrantNotFound
	}
	return grant, nil
}

// luaUpsertGrant replaces the grant at the (subject, client) key while
// preserving the record identity across replacements.
//
// KEYS[1] = grant key
// ARGV[1] = JSON of the new grant (revocation already cleared by the caller)
//
// Returns the stored JSON, with the pre-existing id carried over if the key
// already held a grant.
const luaUpsertGrant = `
local new = cjson.decode(ARGV[1])
local data = redis.call('GET', KEYS[1])
if data then
    local old = cjson.decode(data)
    if old.id then
        new.id = old.id
    end
end
local encoded = cjson.encode(new)
redis.call('SET', KEYS[1], encoded)
return encoded
`

// UpsertConsentGrant atomically inserts or replaces the grant keyed by
// (subject, client). The scope set is fully replaced and any revocation is
// cleared. The single-key Lua script serializes concurrent approvals onto
// one grant record.
func (s *Store) UpsertConsentGrant(ctx context.Context, grant *storage.ConsentGrant) (*storage.ConsentGrant, error) {
	if grant == nil || grant.SubjectID == "" || grant.ClientID == "" {
		return nil, fmt.Errorf("invalid consent grant")
	}

	fresh := *grant
	fresh.RevokedAt = time.Time{}
	data, err := json.Marshal(toConsentGrantJSON(&fresh))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal consent grant: %w", err)
	}

	stored, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaUpsertGrant).
			Numkeys(1).
			Key(s.grantKey(grant.SubjectID, grant.ClientID)).
			Arg(string(data)).
			Build(),
	).ToString()
	if err != nil {
		return nil, fmt.Errorf("failed to upsert consent grant: %w", err)
	}

	var j consentGrantJSON
	if err := json.Unmarshal([]byte(stored), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal consent grant: %w", err)
	}

	s.logger.Debug("Upserted consent grant",
		"client_id", grant.ClientID,
		"scopes", grant.Scopes)
	return fromConsentGrantJSON(&j), nil
}

// luaRevokeGrant marks the grant at the key as revoked if it is active.
//
// KEYS[1] = grant key
// ARGV[1] = revocation Unix timestamp
//
// Returns "OK" on success, "NOT_FOUND" if missing or already revoked.
const luaRevokeGrant = `
local data = redis.call('GET', KEYS[1])
if not data then
    return 'NOT_FOUND'
end
local grant = cjson.decode(data)
if grant.revoked_at and tonumber(grant.revoked_at) > 0 then
    return 'NOT_FOUND'
end
grant.revoked_at = tonumber(ARGV[1])
redis.call('SET', KEYS[1], cjson.encode(grant))
return 'OK'
`

// RevokeGrant marks the active grant for (subject, client) as revoked.
func (s *Store) RevokeGrant(ctx context.Context, subjectID, clientID string) error {
	result, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaRevokeGrant).
			Numkeys(1).
			Key(s.grantKey(subjectID, clientID)).
			Arg(fmt.Sprintf("%d", time.Now().Unix())).
			Build(),
	).ToString()
	if err != nil {
		return fmt.Errorf("failed to revoke consent grant: %w", err)
	}
	if result == "NOT_FOUND" {
		return storage.ErrGrantNotFound
	}
	return nil
}
