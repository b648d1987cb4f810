package server

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"github.com/veriden/idp-oauth/storage"
)

// PKCE validation constants (RFC 7636)
const (
	MinCodeVerifierLength = 43
	MaxCodeVerifierLength = 128
	PKCEMethodS256        = "S256"
	PKCEMethodPlain       = "plain"
)

// ResponseTypeCode is the only supported response_type
const ResponseTypeCode = "code"

// validateRedirectURI checks that a redirect URI is a byte-for-byte member
// of the client's registered set. No wildcard, prefix, or normalization
// matching is permitted: a trailing slash or uppercase scheme is a different
// URI.
func validateRedirectURI(client *storage.Client, redirectURI string) error {
	if redirectURI == "" {
		return fmt.Errorf("redirect_uri is required")
	}
	for _, uri := range client.RedirectURIs {
		if uri == redirectURI {
			return nil
		}
	}
	return fmt.Errorf("redirect URI not registered for client")
}

// intersectScopes splits a space-separated scope string and intersects it
// with the client's allow-list. Scopes outside the allow-list are silently
// dropped. Duplicates are removed; requested order is preserved.
func intersectScopes(scope string, allowed []string) []string {
	requested := strings.Fields(scope)
	if len(requested) == 0 {
		return nil
	}

	allowedSet := make(map[string]bool, len(allowed))
	for _, s := range allowed {
		allowedSet[s] = true
	}

	seen := make(map[string]bool, len(requested))
	valid := make([]string, 0, len(requested))
	for _, s := range requested {
		if allowedSet[s] && !seen[s] {
			seen[s] = true
			valid = append(valid, s)
		}
	}
	return valid
}

// filterScopes intersects an already-split scope list with the client's
// allow-list, preserving order and dropping duplicates.
func filterScopes(scopes []string, allowed []string) []string {
	return intersectScopes(strings.Join(scopes, " "), allowed)
}

// validateChallengeParams checks the PKCE parameters of an authorization
// request. PKCE is optional; when a challenge is supplied the method must be
// supported.
func (s *Server) validateChallengeParams(codeChallenge, codeChallengeMethod string) error {
	if codeChallenge == "" {
		if codeChallengeMethod != "" {
			return fmt.Errorf("code_challenge is required when code_challenge_method is provided")
		}
		return nil
	}

	switch codeChallengeMethod {
	case "":
		return fmt.Errorf("code_challenge_method is required when code_challenge is provided")
	case PKCEMethodS256:
		return nil
	case PKCEMethodPlain:
		if !s.Config.AllowPKCEPlain {
			return fmt.Errorf("'plain' code_challenge_method is not allowed (only S256 is supported)")
		}
		return nil
	default:
		return fmt.Errorf("unsupported code_challenge_method: %s", codeChallengeMethod)
	}
}

// validatePKCE validates the PKCE code verifier against the challenge per RFC 7636
func (s *Server) validatePKCE(challenge, method, verifier string) error {
	if challenge == "" {
		// No PKCE bound to this code
		return nil
	}

	if verifier == "" {
		return fmt.Errorf("code_verifier is required when code_challenge is present")
	}

	// RFC 7636: code_verifier must be 43-128 characters
	if len(verifier) < MinCodeVerifierLength {
		return fmt.Errorf("code_verifier must be at least %d characters (RFC 7636)", MinCodeVerifierLength)
	}
	if len(verifier) > MaxCodeVerifierLength {
		return fmt.Errorf("code_verifier must be at most %d characters (RFC 7636)", MaxCodeVerifierLength)
	}

	// RFC 7636: code_verifier can only contain [A-Z] / [a-z] / [0-9] / "-" / "." / "_" / "~"
	for _, ch := range verifier {
		isValid := (ch >= 'A' && ch <= 'Z') || (ch >= 'a' && ch <= 'z') || (ch >= '0' && ch <= '9') ||
			ch == '-' || ch == '.' || ch == '_' || ch == '~'
		if !isValid {
			return fmt.Errorf("code_verifier contains invalid characters (must be [A-Za-z0-9-._~])")
		}
	}

	var computedChallenge string

	switch method {
	case PKCEMethodS256:
		hash := sha256.Sum256([]byte(verifier))
		computedChallenge = base64.RawURLEncoding.EncodeToString(hash[:])

	case PKCEMethodPlain:
		if !s.Config.AllowPKCEPlain {
			return fmt.Errorf("'%s' code_challenge_method is not allowed (configure AllowPKCEPlain=true if needed for legacy clients)", PKCEMethodPlain)
		}
		computedChallenge = verifier
		s.Logger.Warn("Using insecure 'plain' PKCE method",
			"recommendation", "Upgrade client to use S256")

	default:
		return fmt.Errorf("unsupported code_challenge_method: %s", method)
	}

	// Constant-time comparison to prevent timing attacks
	if subtle.ConstantTimeCompare([]byte(computedChallenge), []byte(challenge)) != 1 {
		return fmt.Errorf("code_verifier does not match code_challenge")
	}

	return nil
}

// buildRedirectURL appends query parameters to a registered redirect URI,
// preserving any query the URI already carries.
func buildRedirectURL(redirectURI string, params url.Values) (string, error) {
	parsed, err := url.Parse(redirectURI)
	if err != nil {
		return "", fmt.Errorf("invalid redirect URI: %w", err)
	}

	query := parsed.Query()
	for key, values := range params {
		for _, v := range values {
			query.Set(key, v)
		}
	}
	parsed.RawQuery = query.Encode()

	return parsed.String(), nil
}
