package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/veriden/idp-oauth/storage"
)

// ============================================================
// TokenStore Implementation
// ============================================================

// SaveAccessToken persists a newly minted access token with a TTL equal to
// its remaining lifetime and indexes it for bulk revocation.
func (s *Store) SaveAccessToken(ctx context.Context, token *storage.AccessToken) error {
	if token == nil || token.Token == "" {
		return fmt.Errorf("invalid access token")
	}

	data, err := json.Marshal(toAccessTokenJSON(token))
	if err != nil {
		return fmt.Errorf("failed to marshal access token: %w", err)
	}

	ttl := calculateTTL(token.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("access token already expired")
	}

	if err := s.client.Do(ctx,
		s.client.B().Set().Key(s.tokenKey(token.Token)).Value(string(data)).Ex(ttl).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to save access token: %w", err)
	}

	// Index by (subject, client) for bulk revocation. The index key expires
	// with the longest-lived token written through it.
	indexKey := s.subjectClientKey(token.SubjectID, token.ClientID)
	if err := s.client.Do(ctx,
		s.client.B().Sadd().Key(indexKey).Member(token.Token).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to index access token: %w", err)
	}
	if err := s.client.Do(ctx,
		s.client.B().Expire().Key(indexKey).Seconds(int64(ttl.Seconds())).Gt().Build(),
	).Error(); err != nil {
		s.logger.Warn("Failed to refresh token index TTL", "error", err)
	}

	s.logger.Debug("Saved access token",
		"token_prefix", safeTruncate(token.Token, tokenIDLogLength),
		"client_id", token.ClientID)
	return nil
}

// GetAccessToken retrieves an access token by value. Revocation and expiry
// checks are the caller's concern.
func (s *Store) GetAccessToken(ctx context.Context, token string) (*storage.AccessToken, error) {
	return getAndUnmarshal(ctx, s, s.tokenKey(token),
		storage.ErrTokenNotFound, fromAccessTokenJSON)
}

// luaRevokeToken marks the token at the key as revoked if it is live,
// preserving the key TTL.
//
// KEYS[1] = token key
// ARGV[1] = revocation Unix timestamp
//
// Returns "OK" if the token was revoked, "SKIP" if missing or already
// revoked.
const luaRevokeToken = `
local data = redis.call('GET', KEYS[1])
if not data then
    return 'SKIP'
end
local token = cjson.decode(data)
if token.revoked_at and tonumber(token.revoked_at) > 0 then
    return 'SKIP'
end
token.revoked_at = tonumber(ARGV[1])
redis.call('SET', KEYS[1], cjson.encode(token), 'KEEPTTL')
return 'OK'
`

// RevokeTokensForSubjectClient revokes all live tokens for a subject+client
// combination. Each token is revoked atomically; already-expired index
// members are pruned as they are encountered.
func (s *Store) RevokeTokensForSubjectClient(ctx context.Context, subjectID, clientID string) (int, error) {
	indexKey := s.subjectClientKey(subjectID, clientID)

	members, err := s.client.Do(ctx, s.client.B().Smembers().Key(indexKey).Build()).AsStrSlice()
	if err != nil {
		if isNilError(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to list tokens for subject+client: %w", err)
	}

	now := fmt.Sprintf("%d", time.Now().Unix())
	revoked := 0
	for _, tokenValue := range members {
		result, err := s.client.Do(ctx,
			s.client.B().Eval().Script(luaRevokeToken).
				Numkeys(1).
				Key(s.tokenKey(tokenValue)).
				Arg(now).
				Build(),
		).ToString()
		if err != nil {
			return revoked, fmt.Errorf("failed to revoke token: %w", err)
		}
		if result == "OK" {
			revoked++
		} else {
			// The token expired out from under the index
			if err := s.client.Do(ctx,
				s.client.B().Srem().Key(indexKey).Member(tokenValue).Build(),
			).Error(); err != nil {
				s.logger.Warn("Failed to prune token index", "error", err)
			}
		}
	}

	if revoked > 0 {
		s.logger.Info("Revoked tokens for subject+client",
			"client_id", clientID,
			"count", revoked)
	}
	return revoked, nil
}

// ============================================================
// AccessLogStore Implementation
// ============================================================

// AppendAccessLog appends an audit record to the access log list. The list
// is trimmed to a bounded length; long-term retention belongs to a log
// shipper draining this list.
func (s *Store) AppendAccessLog(ctx context.Context, entry *storage.AccessLogEntry) error {
	if entry == nil {
		return fmt.Errorf("invalid access log entry")
	}

	entryCopy := *entry
	if entryCopy.CreatedAt.IsZero() {
		entryCopy.CreatedAt = time.Now()
	}

	data, err := json.Marshal(toAccessLogEntryJSON(&entryCopy))
	if err != nil {
		return fmt.Errorf("failed to marshal access log entry: %w", err)
	}

	if err := s.client.Do(ctx,
		s.client.B().Rpush().Key(s.accessLogKey()).Element(string(data)).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to append access log entry: %w", err)
	}

	if err := s.client.Do(ctx,
		s.client.B().Ltrim().Key(s.accessLogKey()).Start(-maxAccessLogEntries).Stop(-1).Build(),
	).Error(); err != nil {
		s.logger.Warn("Failed to trim access log", "error", err)
	}
	return nil
}
