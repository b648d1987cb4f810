package storage

import (
	"strings"

	"golang.org/x/oauth2"
)

// OAuth2Token converts a stored access token to the wire representation the
// token-exchange endpoint returns to clients. The token type is always
// Bearer and the granted scope set travels in the "scope" extra field,
// space-joined per RFC 6749 Section 3.3.
func (t *AccessToken) OAuth2Token() *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken: t.Token,
		TokenType:   "Bearer",
		Expiry:      t.ExpiresAt,
	}
	if len(t.Scopes) > 0 {
		tok = tok.WithExtra(map[string]interface{}{
			"scope": strings.Join(t.Scopes, " "),
		})
	}
	return tok
}
