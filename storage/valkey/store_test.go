package valkey

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/veriden/idp-oauth/internal/testutil"
	"github.com/veriden/idp-oauth/storage"
)

// testStore creates a test store connected to a local Valkey instance.
// Tests are skipped if VALKEY_TEST_ADDR is not set or the connection fails.
// Each test gets a unique key prefix for isolation.
func testStore(t *testing.T) *Store {
	t.Helper()

	addr := os.Getenv("VALKEY_TEST_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	prefix := fmt.Sprintf("idptest:%s:", t.Name())

	store, err := New(Config{
		Address:   addr,
		KeyPrefix: prefix,
	})
	if err != nil {
		t.Skipf("Skipping test: could not connect to Valkey at %s: %v", addr, err)
	}

	t.Cleanup(func() {
		cleanupTestKeys(t, store)
		store.Close()
	})

	cleanupTestKeys(t, store)
	return store
}

// cleanupTestKeys removes all keys under the store's prefix.
func cleanupTestKeys(t *testing.T, s *Store) {
	t.Helper()

	ctx := context.Background()
	pattern := s.prefix + "*"

	var cursor uint64
	for {
		result, err := s.client.Do(ctx,
			s.client.B().Scan().Cursor(cursor).Match(pattern).Count(100).Build(),
		).AsScanEntry()
		if err != nil {
			t.Logf("Warning: failed to scan for cleanup: %v", err)
			return
		}

		for _, key := range result.Elements {
			_ = s.client.Do(ctx, s.client.B().Del().Key(key).Build())
		}

		cursor = result.Cursor
		if cursor == 0 {
			break
		}
	}
}

// ============================================================
// Config Tests
// ============================================================

func TestNew_MissingAddress(t *testing.T) {
	_, err := New(Config{})
	if err == nil {
		t.Error("Expected error for missing address")
	}
}

func TestNew_InvalidAddress(t *testing.T) {
	_, err := New(Config{Address: "invalid:99999"})
	if err == nil {
		t.Error("Expected error for invalid address")
	}
}

// ============================================================
// ClientStore Tests
// ============================================================

func TestClientStore_SaveAndFind(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.SaveClient(ctx, testutil.GenerateTestClient()); err != nil {
		t.Fatalf("SaveClient: %v", err)
	}

	byPub, err := s.FindClientByClientID(ctx, testutil.TestClientID)
	if err != nil {
		t.Fatalf("FindClientByClientID: %v", err)
	}
	if byPub.ID != testutil.TestClientInternal {
		t.Errorf("internal id = %q, want %q", byPub.ID, testutil.TestClientInternal)
	}
	if len(byPub.RedirectURIs) != 1 || byPub.RedirectURIs[0] != testutil.TestRedirectURI {
		t.Errorf("redirect uris = %v", byPub.RedirectURIs)
	}

	byID, err := s.FindClientByID(ctx, testutil.TestClientInternal)
	if err != nil {
		t.Fatalf("FindClientByID: %v", err)
	}
	if byID.ClientID != testutil.TestClientID {
		t.Errorf("client_id = %q, want %q", byID.ClientID, testutil.TestClientID)
	}

	if _, err := s.FindClientByClientID(ctx, "no-such-client"); !errors.Is(err, storage.ErrClientNotFound) {
		t.Errorf("unknown client error = %v, want ErrClientNotFound", err)
	}
}

func TestClientStore_ValidateClientSecret(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}

	confidential := testutil.GenerateTestClient()
	confidential.SecretHash = string(hash)
	if err := s.SaveClient(ctx, confidential); err != nil {
		t.Fatalf("SaveClient: %v", err)
	}

	if err := s.ValidateClientSecret(ctx, testutil.TestClientID, "s3cret"); err != nil {
		t.Errorf("correct secret rejected: %v", err)
	}
	if err := s.ValidateClientSecret(ctx, testutil.TestClientID, "wrong"); !errors.Is(err, storage.ErrInvalidClientSecret) {
		t.Errorf("wrong secret error = %v, want ErrInvalidClientSecret", err)
	}
}

func TestScopeDefinitions_OrderedAndFiltered(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for _, def := range []*storage.ScopeDefinition{
		{Name: "email", Description: "Email address", DisplayOrder: 3},
		{Name: "openid", Description: "Subject identifier", DisplayOrder: 0},
		{Name: "profile", Description: "Basic profile", DisplayOrder: 1},
	} {
		if err := s.SaveScopeDefinition(ctx, def); err != nil {
			t.Fatalf("SaveScopeDefinition: %v", err)
		}
	}

	defs, err := s.ListScopeDefinitions(ctx, []string{"email", "unknown", "openid", "profile"})
	if err != nil {
		t.Fatalf("ListScopeDefinitions: %v", err)
	}

	want := []string{"openid", "profile", "email"}
	if len(defs) != len(want) {
		t.Fatalf("got %d definitions, want %d", len(defs), len(want))
	}
	for i, def := range defs {
		if def.Name != want[i] {
			t.Errorf("defs[%d] = %q, want %q", i, def.Name, want[i])
		}
	}
}

// ============================================================
// ProfileStore Tests
// ============================================================

func TestProfile_RoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.SaveProfile(ctx, testutil.TestSubjectID, testutil.GenerateTestProfile()); err != nil {
		t.Fatalf("SaveProfile: %v", err)
	}

	profile, err := s.GetProfile(ctx, testutil.TestSubjectID)
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if profile.GivenName != "Amina" || profile.FamilyName != "Benali" {
		t.Errorf("profile name = %s %s", profile.GivenName, profile.FamilyName)
	}
	if len(profile.Diplomas) != 2 || profile.Diplomas[0].VerificationStatus != storage.DiplomaStatusVerified {
		t.Errorf("diplomas did not survive the round trip: %+v", profile.Diplomas)
	}

	if _, err := s.GetProfile(ctx, "no-such-subject"); !errors.Is(err, storage.ErrProfileNotFound) {
		t.Errorf("unknown subject error = %v, want ErrProfileNotFound", err)
	}
}

// ============================================================
// FlowStore Tests
// ============================================================

func TestAuthorizationCode_SaveCollision(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	code := testutil.GenerateTestAuthorizationCode()
	if err := s.SaveAuthorizationCode(ctx, code); err != nil {
		t.Fatalf("SaveAuthorizationCode: %v", err)
	}
	if err := s.SaveAuthorizationCode(ctx, code); err == nil {
		t.Fatal("expected collision error on duplicate code value")
	}
}

func TestAuthorizationCode_AtomicConsume(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	code := testutil.GenerateTestAuthorizationCode()
	if err := s.SaveAuthorizationCode(ctx, code); err != nil {
		t.Fatalf("SaveAuthorizationCode: %v", err)
	}

	consumed, err := s.AtomicConsumeAuthorizationCode(ctx, code.Code)
	if err != nil {
		t.Fatalf("first consume: %v", err)
	}
	if !consumed.Used {
		t.Error("consumed code not marked used")
	}
	if consumed.SubjectID != code.SubjectID || consumed.RedirectURI != code.RedirectURI {
		t.Errorf("consumed code = %+v, want fields of %+v", consumed, code)
	}

	reused, err := s.AtomicConsumeAuthorizationCode(ctx, code.Code)
	if !errors.Is(err, storage.ErrAuthorizationCodeUsed) {
		t.Fatalf("second consume error = %v, want ErrAuthorizationCodeUsed", err)
	}
	if reused == nil || reused.SubjectID != code.SubjectID {
		t.Errorf("reuse must return the stored code for token revocation, got %+v", reused)
	}

	if _, err := s.AtomicConsumeAuthorizationCode(ctx, "no-such-code"); !errors.Is(err, storage.ErrAuthorizationCodeNotFound) {
		t.Errorf("unknown code error = %v, want ErrAuthorizationCodeNotFound", err)
	}
}

func TestAuthorizationCode_AtomicConsume_Concurrent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	code := testutil.GenerateTestAuthorizationCode()
	if err := s.SaveAuthorizationCode(ctx, code); err != nil {
		t.Fatalf("SaveAuthorizationCode: %v", err)
	}

	const workers = 10
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.AtomicConsumeAuthorizationCode(ctx, code.Code)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
		} else if !errors.Is(err, storage.ErrAuthorizationCodeUsed) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("%d consumers succeeded, want exactly 1", succeeded)
	}
}

func TestAuthorizationCode_Delete(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	code := testutil.GenerateTestAuthorizationCode()
	if err := s.SaveAuthorizationCode(ctx, code); err != nil {
		t.Fatalf("SaveAuthorizationCode: %v", err)
	}
	if err := s.DeleteAuthorizationCode(ctx, code.Code); err != nil {
		t.Fatalf("DeleteAuthorizationCode: %v", err)
	}
	if _, err := s.GetAuthorizationCode(ctx, code.Code); !errors.Is(err, storage.ErrAuthorizationCodeNotFound) {
		t.Errorf("deleted code error = %v, want ErrAuthorizationCodeNotFound", err)
	}
}

// ============================================================
// GrantStore Tests
// ============================================================

func TestConsentGrant_UpsertReplacesScopes(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	first, err := s.UpsertConsentGrant(ctx, testutil.GenerateTestGrant("openid", "profile", "email"))
	if err != nil {
		t.Fatalf("UpsertConsentGrant: %v", err)
	}

	second, err := s.UpsertConsentGrant(ctx, testutil.GenerateTestGrant("openid"))
	if err != nil {
		t.Fatalf("UpsertConsentGrant: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("replacement changed grant id: %q -> %q", first.ID, second.ID)
	}

	active, err := s.GetActiveGrant(ctx, testutil.TestSubjectID, testutil.TestClientInternal)
	if err != nil {
		t.Fatalf("GetActiveGrant: %v", err)
	}
	testutil.AssertSameScopes(t, active.Scopes, []string{"openid"})
}

func TestConsentGrant_RevokeAndReapprove(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if _, err := s.UpsertConsentGrant(ctx, testutil.GenerateTestGrant("openid")); err != nil {
		t.Fatalf("UpsertConsentGrant: %v", err)
	}
	if err := s.RevokeGrant(ctx, testutil.TestSubjectID, testutil.TestClientInternal); err != nil {
		t.Fatalf("RevokeGrant: %v", err)
	}
	if _, err := s.GetActiveGrant(ctx, testutil.TestSubjectID, testutil.TestClientInternal); !errors.Is(err, storage.ErrGrantNotFound) {
		t.Fatalf("revoked grant still active: %v", err)
	}

	// Revoking an already-revoked grant is not found
	if err := s.RevokeGrant(ctx, testutil.TestSubjectID, testutil.TestClientInternal); !errors.Is(err, storage.ErrGrantNotFound) {
		t.Errorf("double revoke error = %v, want ErrGrantNotFound", err)
	}

	// Re-approval clears the revocation
	if _, err := s.UpsertConsentGrant(ctx, testutil.GenerateTestGrant("openid", "profile")); err != nil {
		t.Fatalf("UpsertConsentGrant: %v", err)
	}
	active, err := s.GetActiveGrant(ctx, testutil.TestSubjectID, testutil.TestClientInternal)
	if err != nil {
		t.Fatalf("re-approval did not reactivate the grant: %v", err)
	}
	testutil.AssertSameScopes(t, active.Scopes, []string{"openid", "profile"})
}

func TestConsentGrant_NotFound(t *testing.T) {
	s := testStore(t)

	_, err := s.GetActiveGrant(context.Background(), testutil.TestSubjectID, testutil.TestClientInternal)
	if !errors.Is(err, storage.ErrGrantNotFound) {
		t.Fatalf("error = %v, want ErrGrantNotFound", err)
	}
}

// ============================================================
// TokenStore Tests
// ============================================================

func TestAccessToken_SaveAndGet(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	token := testutil.GenerateTestAccessToken("openid", "profile")
	if err := s.SaveAccessToken(ctx, token); err != nil {
		t.Fatalf("SaveAccessToken: %v", err)
	}

	stored, err := s.GetAccessToken(ctx, token.Token)
	if err != nil {
		t.Fatalf("GetAccessToken: %v", err)
	}
	if stored.SubjectID != token.SubjectID || stored.ClientID != token.ClientID {
		t.Errorf("stored token = %+v", stored)
	}
	testutil.AssertSameScopes(t, stored.Scopes, token.Scopes)
	if !stored.RevokedAt.IsZero() {
		t.Error("fresh token marked revoked")
	}

	if _, err := s.GetAccessToken(ctx, "no-such-token"); !errors.Is(err, storage.ErrTokenNotFound) {
		t.Errorf("unknown token error = %v, want ErrTokenNotFound", err)
	}
}

func TestAccessToken_SaveExpiredRejected(t *testing.T) {
	s := testStore(t)

	token := testutil.GenerateTestAccessToken("openid")
	token.ExpiresAt = time.Now().Add(-time.Minute)
	if err := s.SaveAccessToken(context.Background(), token); err == nil {
		t.Fatal("expected error saving an already-expired token")
	}
}

func TestRevokeTokensForSubjectClient(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	tokens := make([]*storage.AccessToken, 3)
	for i := range tokens {
		token := testutil.GenerateTestAccessToken("openid")
		if err := s.SaveAccessToken(ctx, token); err != nil {
			t.Fatalf("SaveAccessToken: %v", err)
		}
		tokens[i] = token
	}
	other := testutil.GenerateTestAccessToken("openid")
	other.ClientID = "client-internal-other"
	if err := s.SaveAccessToken(ctx, other); err != nil {
		t.Fatalf("SaveAccessToken: %v", err)
	}

	revoked, err := s.RevokeTokensForSubjectClient(ctx, testutil.TestSubjectID, testutil.TestClientInternal)
	if err != nil {
		t.Fatalf("RevokeTokensForSubjectClient: %v", err)
	}
	if revoked != 3 {
		t.Fatalf("revoked = %d, want 3", revoked)
	}

	for _, token := range tokens {
		stored, err := s.GetAccessToken(ctx, token.Token)
		if err != nil {
			t.Fatalf("GetAccessToken after revocation: %v", err)
		}
		if stored.RevokedAt.IsZero() {
			t.Errorf("token %s not marked revoked", token.Token[:8])
		}
	}

	untouched, err := s.GetAccessToken(ctx, other.Token)
	if err != nil {
		t.Fatalf("GetAccessToken: %v", err)
	}
	if !untouched.RevokedAt.IsZero() {
		t.Error("token for another client was revoked")
	}

	// Second pass finds nothing live
	revoked, err = s.RevokeTokensForSubjectClient(ctx, testutil.TestSubjectID, testutil.TestClientInternal)
	if err != nil {
		t.Fatalf("RevokeTokensForSubjectClient: %v", err)
	}
	if revoked != 0 {
		t.Fatalf("second revocation pass = %d, want 0", revoked)
	}
}

// ============================================================
// AccessLogStore Tests
// ============================================================

func TestAppendAccessLog(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		entry := &storage.AccessLogEntry{
			ID:            fmt.Sprintf("log-%d", i),
			ClientID:      testutil.TestClientInternal,
			SubjectID:     testutil.TestSubjectID,
			Action:        storage.ActionUserInfoAccess,
			GrantedScopes: []string{"openid"},
			Success:       true,
		}
		if err := s.AppendAccessLog(ctx, entry); err != nil {
			t.Fatalf("AppendAccessLog: %v", err)
		}
	}

	length, err := s.client.Do(ctx, s.client.B().Llen().Key(s.accessLogKey()).Build()).AsInt64()
	if err != nil {
		t.Fatalf("LLEN: %v", err)
	}
	if length != 3 {
		t.Fatalf("access log length = %d, want 3", length)
	}
}
