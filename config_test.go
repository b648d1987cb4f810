package oauth

import (
	"strings"
	"testing"
	"time"
)

func TestConfigValidate_Defaults(t *testing.T) {
	config := &Config{
		Security: SecurityConfig{
			SubjectSigningKey: testSigningKey,
			SubjectIssuer:     testIssuer,
		},
	}
	if err := config.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if config.CodeTTL != DefaultCodeTTL {
		t.Errorf("CodeTTL = %v, want %v", config.CodeTTL, DefaultCodeTTL)
	}
	if config.TokenTTL != DefaultTokenTTL {
		t.Errorf("TokenTTL = %v, want %v", config.TokenTTL, DefaultTokenTTL)
	}
	if config.CleanupInterval != DefaultCleanupInterval {
		t.Errorf("CleanupInterval = %v, want %v", config.CleanupInterval, DefaultCleanupInterval)
	}
	if config.Security.TrustedProxyCount != 1 {
		t.Errorf("TrustedProxyCount = %d, want 1", config.Security.TrustedProxyCount)
	}
	if config.Logger == nil {
		t.Error("Logger not defaulted")
	}
}

func TestConfigValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing signing key",
			mutate:  func(c *Config) { c.Security.SubjectSigningKey = nil },
			wantErr: "SubjectSigningKey",
		},
		{
			name:    "missing issuer",
			mutate:  func(c *Config) { c.Security.SubjectIssuer = "" },
			wantErr: "SubjectIssuer",
		},
		{
			name:    "negative code ttl",
			mutate:  func(c *Config) { c.CodeTTL = -time.Minute },
			wantErr: "negative",
		},
		{
			name:    "negative token ttl",
			mutate:  func(c *Config) { c.TokenTTL = -time.Minute },
			wantErr: "negative",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := testConfig()
			tt.mutate(config)
			err := config.Validate()
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfigValidate_KeepsExplicitValues(t *testing.T) {
	config := testConfig()
	config.CodeTTL = 2 * time.Minute
	config.TokenTTL = 30 * time.Minute
	config.Security.TrustedProxyCount = 3

	if err := config.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if config.CodeTTL != 2*time.Minute {
		t.Errorf("CodeTTL = %v, want 2m", config.CodeTTL)
	}
	if config.TokenTTL != 30*time.Minute {
		t.Errorf("TokenTTL = %v, want 30m", config.TokenTTL)
	}
	if config.Security.TrustedProxyCount != 3 {
		t.Errorf("TrustedProxyCount = %d, want 3", config.Security.TrustedProxyCount)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("IDP_OAUTH_SERVER_URL", "https://idp.example.com")
	t.Setenv("IDP_OAUTH_CODE_TTL", "90s")
	t.Setenv("IDP_OAUTH_TOKEN_TTL", "45m")
	t.Setenv("IDP_OAUTH_RATE_LIMIT_RATE", "5")
	t.Setenv("IDP_OAUTH_RATE_LIMIT_BURST", "7")
	t.Setenv("IDP_OAUTH_RATE_LIMIT_CLEANUP_INTERVAL", "90s")
	t.Setenv("IDP_OAUTH_SUBJECT_SIGNING_KEY", "env-signing-key")
	t.Setenv("IDP_OAUTH_SUBJECT_ISSUER", "idp-env")
	t.Setenv("IDP_OAUTH_TRUST_PROXY_HEADERS", "true")
	t.Setenv("IDP_OAUTH_TRUSTED_PROXY_COUNT", "2")
	t.Setenv("IDP_OAUTH_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com,")

	config, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}

	if config.ServerURL != "https://idp.example.com" {
		t.Errorf("ServerURL = %q", config.ServerURL)
	}
	if config.CodeTTL != 90*time.Second {
		t.Errorf("CodeTTL = %v, want 90s", config.CodeTTL)
	}
	if config.TokenTTL != 45*time.Minute {
		t.Errorf("TokenTTL = %v, want 45m", config.TokenTTL)
	}
	if config.RateLimit.Rate != 5 || config.RateLimit.Burst != 7 {
		t.Errorf("RateLimit = %+v, want rate 5 burst 7", config.RateLimit)
	}
	if config.RateLimit.CleanupInterval != 90*time.Second {
		t.Errorf("RateLimit.CleanupInterval = %v, want 90s", config.RateLimit.CleanupInterval)
	}
	if string(config.Security.SubjectSigningKey) != "env-signing-key" {
		t.Errorf("SubjectSigningKey = %q", config.Security.SubjectSigningKey)
	}
	if !config.Security.TrustProxyHeaders || config.Security.TrustedProxyCount != 2 {
		t.Errorf("proxy settings = %+v", config.Security)
	}
	want := []string{"https://a.example.com", "https://b.example.com"}
	if len(config.CORS.AllowedOrigins) != len(want) {
		t.Fatalf("AllowedOrigins = %v, want %v", config.CORS.AllowedOrigins, want)
	}
	for i := range want {
		if config.CORS.AllowedOrigins[i] != want[i] {
			t.Fatalf("AllowedOrigins = %v, want %v", config.CORS.AllowedOrigins, want)
		}
	}

	if err := config.Validate(); err != nil {
		t.Fatalf("Validate after env load: %v", err)
	}
}

func TestLoadConfigFromEnv_Defaults(t *testing.T) {
	config, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}

	if config.CodeTTL != DefaultCodeTTL {
		t.Errorf("CodeTTL = %v, want %v", config.CodeTTL, DefaultCodeTTL)
	}
	if config.RateLimit.Rate != 10 || config.RateLimit.Burst != 20 {
		t.Errorf("RateLimit = %+v, want rate 10 burst 20", config.RateLimit)
	}
	if config.RateLimit.CleanupInterval != 5*time.Minute {
		t.Errorf("RateLimit.CleanupInterval = %v, want 5m", config.RateLimit.CleanupInterval)
	}
	if !config.Security.EnableAuditLogging {
		t.Error("EnableAuditLogging should default to true")
	}
	if config.CORS.AllowedOrigins != nil {
		t.Errorf("AllowedOrigins = %v, want nil", config.CORS.AllowedOrigins)
	}
}
