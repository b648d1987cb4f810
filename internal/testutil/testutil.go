// Package testutil provides testing fixtures and helpers shared across the
// library's test suites.
package testutil

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"testing"
	"time"

	"github.com/veriden/idp-oauth/storage"
)

// Fixture identifiers used by the generators below
const (
	TestClientID       = "a1b2c3d4e5"
	TestClientInternal = "client-internal-1"
	TestSubjectID      = "subj-123"
	TestRedirectURI    = "https://app.example.com/callback"
)

// GenerateTestClient creates a client registration covering the common scopes
func GenerateTestClient() *storage.Client {
	return &storage.Client{
		ID:           TestClientInternal,
		ClientID:     TestClientID,
		Name:         "Test Portal",
		Description:  "Test relying party",
		LogoURL:      "https://app.example.com/logo.png",
		SiteURL:      "https://app.example.com",
		RedirectURIs: []string{TestRedirectURI},
		Scopes:       []string{"openid", "profile", "nip", "email", "phone", "address", "diplomas", "documents", "biometrics", "verify"},
		Active:       true,
		Verified:     true,
		CreatedAt:    time.Now(),
	}
}

// GenerateTestProfile creates a fully populated subject profile
func GenerateTestProfile() *storage.Profile {
	return &storage.Profile{
		ID:              TestSubjectID,
		GivenName:       "Amina",
		FamilyName:      "Benali",
		MaidenName:      "Cherif",
		FatherName:      "Omar",
		MotherName:      "Leila",
		BirthDate:       "1990-04-12",
		BirthPlace:      "Algiers",
		Gender:          "female",
		NationalID:      "109900412345678901",
		Active:          true,
		Email:           "amina@example.com",
		EmailVerified:   true,
		Phone:           "+213550000000",
		PhoneVerified:   true,
		Address:         "12 Rue Didouche Mourad, Algiers",
		AddressVerified: false,
		PhotoURL:        "https://idp.example.com/photos/subj-123.jpg",
		HasPhoto:        true,
		HasFingerprint:  true,
		Diplomas: []storage.Diploma{
			{
				ID:                 "dip-1",
				Title:              "Licence en Informatique",
				Institution:        "USTHB",
				IssuedAt:           "2012-07-01",
				VerificationStatus: storage.DiplomaStatusVerified,
			},
			{
				ID:                 "dip-2",
				Title:              "Master en Informatique",
				Institution:        "USTHB",
				IssuedAt:           "2014-07-01",
				VerificationStatus: "pending",
			},
		},
		Documents: []storage.IdentityDocument{
			{
				ID:        "doc-1",
				Type:      "national_id_card",
				Number:    "NID-445566",
				IssuedAt:  "2020-01-15",
				ExpiresAt: "2030-01-15",
				Status:    storage.DocumentStatusActive,
			},
			{
				ID:        "doc-2",
				Type:      "passport",
				Number:    "P-112233",
				IssuedAt:  "2015-06-01",
				ExpiresAt: "2025-06-01",
				Status:    "expired",
			},
		},
	}
}

// GenerateTestGrant creates an active consent grant for the test subject and client
func GenerateTestGrant(scopes ...string) *storage.ConsentGrant {
	if len(scopes) == 0 {
		scopes = []string{"openid", "profile"}
	}
	return &storage.ConsentGrant{
		ID:        GenerateRandomString(16),
		SubjectID: TestSubjectID,
		ClientID:  TestClientInternal,
		Scopes:    scopes,
		GrantedAt: time.Now(),
	}
}

// GenerateTestAuthorizationCode creates an unexpired authorization code
func GenerateTestAuthorizationCode() *storage.AuthorizationCode {
	challenge, _ := GeneratePKCEPair()
	return &storage.AuthorizationCode{
		Code:                GenerateRandomString(32),
		ClientID:            TestClientInternal,
		SubjectID:           TestSubjectID,
		ProfileID:           TestSubjectID,
		RedirectURI:         TestRedirectURI,
		Scopes:              []string{"openid", "profile"},
		CodeChallenge:       challenge,
		CodeChallengeMethod: "S256",
		CreatedAt:           time.Now(),
		ExpiresAt:           time.Now().Add(5 * time.Minute),
	}
}

// GenerateTestAccessToken creates an unexpired access token
func GenerateTestAccessToken(scopes ...string) *storage.AccessToken {
	if len(scopes) == 0 {
		scopes = []string{"openid", "profile"}
	}
	return &storage.AccessToken{
		Token:     GenerateRandomString(32),
		ClientID:  TestClientInternal,
		SubjectID: TestSubjectID,
		ProfileID: TestSubjectID,
		Scopes:    scopes,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
	}
}

// GenerateRandomString generates a random base64-encoded string
func GenerateRandomString(length int) string {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("failed to generate random string: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)[:length]
}

// GeneratePKCEPair generates a valid PKCE challenge and verifier pair for
// testing. Returns (challenge, verifier) where challenge is the S256 hash of
// the verifier.
func GeneratePKCEPair() (challenge, verifier string) {
	verifier = GenerateRandomString(50)
	hash := sha256.Sum256([]byte(verifier))
	challenge = base64.RawURLEncoding.EncodeToString(hash[:])
	return challenge, verifier
}

// AssertNoError fails the test if err is not nil
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error but got nil")
	}
}

// AssertEqual fails the test if got != want
func AssertEqual(t *testing.T, got, want interface{}) {
	t.Helper()
	if got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

// AssertSameScopes fails the test if the two scope lists differ as sets
func AssertSameScopes(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Errorf("scopes = %v, want %v", got, want)
		return
	}
	seen := make(map[string]bool, len(got))
	for _, s := range got {
		seen[s] = true
	}
	for _, s := range want {
		if !seen[s] {
			t.Errorf("scopes = %v, want %v", got, want)
			return
		}
	}
}
