package security

import (
	"errors"
	"testing"
	"time"
)

func TestNewSubjectVerifier(t *testing.T) {
	if _, err := NewSubjectVerifier(nil, ""); err == nil {
		t.Error("NewSubjectVerifier() should fail with empty key")
	}

	v, err := NewSubjectVerifier([]byte("test-signing-key"), "idp")
	if err != nil {
		t.Fatalf("NewSubjectVerifier() error = %v", err)
	}
	if v == nil {
		t.Fatal("NewSubjectVerifier() returned nil")
	}
}

func TestSubjectVerifier_Verify(t *testing.T) {
	key := []byte("test-signing-key")
	v, err := NewSubjectVerifier(key, "idp")
	if err != nil {
		t.Fatalf("NewSubjectVerifier() error = %v", err)
	}

	valid, err := SignSubjectCredential(key, "idp", "subj-123", time.Hour)
	if err != nil {
		t.Fatalf("SignSubjectCredential() error = %v", err)
	}

	wrongIssuer, err := SignSubjectCredential(key, "other-issuer", "subj-123", time.Hour)
	if err != nil {
		t.Fatalf("SignSubjectCredential() error = %v", err)
	}

	wrongKey, err := SignSubjectCredential([]byte("other-key"), "idp", "subj-123", time.Hour)
	if err != nil {
		t.Fatalf("SignSubjectCredential() error = %v", err)
	}

	tests := []struct {
		name       string
		credential string
		want       string
		wantErr    error
	}{
		{
			name:       "valid credential",
			credential: valid,
			want:       "subj-123",
		},
		{
			name:       "empty credential",
			credential: "",
			wantErr:    ErrSubjectCredentialInvalid,
		},
		{
			name:       "garbage credential",
			credential: "not-a-jwt",
			wantErr:    ErrSubjectCredentialInvalid,
		},
		{
			name:       "wrong issuer",
			credential: wrongIssuer,
			wantErr:    ErrSubjectCredentialInvalid,
		},
		{
			name:       "wrong signing key",
			credential: wrongKey,
			wantErr:    ErrSubjectCredentialInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := v.Verify(tt.credential)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Verify() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Verify() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Verify() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSubjectVerifier_Verify_Expired(t *testing.T) {
	key := []byte("test-signing-key")
	v, err := NewSubjectVerifier(key, "idp")
	if err != nil {
		t.Fatalf("NewSubjectVerifier() error = %v", err)
	}

	credential, err := SignSubjectCredential(key, "idp", "subj-123", time.Hour)
	if err != nil {
		t.Fatalf("SignSubjectCredential() error = %v", err)
	}

	// Move the verifier clock past the credential expiry
	v.SetTimeFunc(func() time.Time { return time.Now().Add(2 * time.Hour) })

	if _, err := v.Verify(credential); !errors.Is(err, ErrSubjectCredentialExpired) {
		t.Errorf("Verify() error = %v, want %v", err, ErrSubjectCredentialExpired)
	}
}

func TestSignSubjectCredential_Validation(t *testing.T) {
	if _, err := SignSubjectCredential(nil, "idp", "subj-1", time.Hour); err == nil {
		t.Error("SignSubjectCredential() should fail with empty key")
	}
	if _, err := SignSubjectCredential([]byte("key"), "idp", "", time.Hour); err == nil {
		t.Error("SignSubjectCredential() should fail with empty subject")
	}
}
