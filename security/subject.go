package security

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Subject verification errors
var (
	// ErrSubjectCredentialInvalid indicates the credential could not be
	// parsed or its signature did not verify
	ErrSubjectCredentialInvalid = errors.New("subject credential is invalid")

	// ErrSubjectCredentialExpired indicates the credential is past its expiry
	ErrSubjectCredentialExpired = errors.New("subject credential is expired")
)

// SubjectVerifier validates the signed credential that identifies the
// authenticated subject on authorize and consent requests. Credentials are
// HS256-signed JWTs minted by the identity front end after login.
type SubjectVerifier struct {
	key    []byte
	issuer string
	now    func() time.Time
}

// NewSubjectVerifier creates a verifier for the given signing key.
// The issuer is optional; when set, credentials from other issuers are
// rejected.
func NewSubjectVerifier(key []byte, issuer string) (*SubjectVerifier, error) {
	if len(key) == 0 {
		return nil, errors.New("subject verifier key is required")
	}
	return &SubjectVerifier{
		key:    key,
		issuer: issuer,
		now:    time.Now,
	}, nil
}

// SetTimeFunc overrides the clock used for expiry checks. Used in tests.
func (v *SubjectVerifier) SetTimeFunc(now func() time.Time) {
	if now != nil {
		v.now = now
	}
}

type subjectClaims struct {
	jwt.RegisteredClaims
}

// Verify parses and validates a subject credential and returns the subject
// identifier from its sub claim.
func (v *SubjectVerifier) Verify(credential string) (string, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return "", ErrSubjectCredentialInvalid
	}

	var parsed subjectClaims
	_, err := jwt.ParseWithClaims(credential, &parsed, func(token *jwt.Token) (any, error) {
		return v.key, nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrSubjectCredentialExpired
		}
		return "", fmt.Errorf("%w: %v", ErrSubjectCredentialInvalid, err)
	}

	if v.issuer != "" && parsed.Issuer != v.issuer {
		return "", fmt.Errorf("%w: issuer mismatch", ErrSubjectCredentialInvalid)
	}
	subject := strings.TrimSpace(parsed.Subject)
	if subject == "" {
		return "", fmt.Errorf("%w: missing sub claim", ErrSubjectCredentialInvalid)
	}
	return subject, nil
}

// SignSubjectCredential mints a subject credential. Primarily used by the
// identity front end and by tests that need a valid credential.
func SignSubjectCredential(key []byte, issuer, subjectID string, ttl time.Duration) (string, error) {
	if len(key) == 0 {
		return "", errors.New("signing key is required")
	}
	if subjectID == "" {
		return "", errors.New("subject id is required")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   subjectID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign subject credential: %w", err)
	}
	return signed, nil
}
