package oauth

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Default lifetimes and intervals applied when the corresponding Config
// fields are zero.
const (
	DefaultCodeTTL         = 5 * time.Minute
	DefaultTokenTTL        = time.Hour
	DefaultCleanupInterval = time.Minute
)

// Config holds the authorization handler configuration
// Structured using composition for better organization and maintainability
type Config struct {
	// ServerURL is the public base URL of this authorization server.
	// Used for security headers and audit context.
	ServerURL string

	// CodeTTL is how long authorization codes remain redeemable.
	// Default: 5 minutes.
	CodeTTL time.Duration

	// TokenTTL is how long issued access tokens remain valid.
	// Default: 1 hour.
	TokenTTL time.Duration

	// CleanupInterval is how often expired codes and tokens are swept.
	// Default: 1 minute.
	CleanupInterval time.Duration

	// Rate limiting configuration
	RateLimit RateLimitConfig

	// Security settings (secure by default)
	Security SecurityConfig

	// CORS settings for browser-based consent screens
	CORS CORSConfig

	// Logger for structured logging (optional, uses default if not provided)
	Logger *slog.Logger
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	// Rate is requests per second allowed per IP. Zero disables limiting.
	Rate int

	// Burst is the maximum burst size allowed per IP.
	Burst int

	// CleanupInterval is how often to cleanup inactive rate limiters.
	// Default: 5 minutes.
	CleanupInterval time.Duration
}

// SecurityConfig holds security settings for the authorization endpoints
type SecurityConfig struct {
	// SubjectSigningKey verifies the HS256 subject credentials presented to
	// the authorize and consent endpoints (required).
	SubjectSigningKey []byte

	// SubjectIssuer is the expected issuer of subject credentials (required).
	SubjectIssuer string

	// TrustProxyHeaders enables trusting X-Forwarded-For and X-Real-IP headers.
	// Only enable behind a trusted reverse proxy.
	TrustProxyHeaders bool

	// TrustedProxyCount is the number of trusted proxies in front of the
	// server. Used to pick the right X-Forwarded-For entry. Default: 1.
	TrustedProxyCount int

	// EnableAuditLogging enables security audit logging.
	// Logs authorization events and violations (sensitive data hashed).
	EnableAuditLogging bool
}

// CORSConfig holds cross-origin settings for the JSON endpoints
type CORSConfig struct {
	// AllowedOrigins lists origins permitted to call the endpoints from a
	// browser. Empty disables CORS headers entirely.
	AllowedOrigins []string
}

// Validate checks required fields and applies defaults in place.
func (c *Config) Validate() error {
	if len(c.Security.SubjectSigningKey) == 0 {
		return fmt.Errorf("security.SubjectSigningKey is required")
	}
	if c.Security.SubjectIssuer == "" {
		return fmt.Errorf("security.SubjectIssuer is required")
	}
	if c.CodeTTL < 0 || c.TokenTTL < 0 {
		return fmt.Errorf("lifetimes must not be negative")
	}
	if c.CodeTTL == 0 {
		c.CodeTTL = DefaultCodeTTL
	}
	if c.TokenTTL == 0 {
		c.TokenTTL = DefaultTokenTTL
	}
	if c.CleanupInterval == 0 {
		c.CleanupInterval = DefaultCleanupInterval
	}
	if c.Security.TrustedProxyCount <= 0 {
		c.Security.TrustedProxyCount = 1
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// handlerEnv holds raw env values for the handler configuration.
type handlerEnv struct {
	ServerURL          string        `env:"IDP_OAUTH_SERVER_URL"`
	CodeTTL            time.Duration `env:"IDP_OAUTH_CODE_TTL"          envDefault:"5m"`
	TokenTTL           time.Duration `env:"IDP_OAUTH_TOKEN_TTL"         envDefault:"1h"`
	CleanupInterval    time.Duration `env:"IDP_OAUTH_CLEANUP_INTERVAL"  envDefault:"1m"`
	RateLimitRate      int           `env:"IDP_OAUTH_RATE_LIMIT_RATE"   envDefault:"10"`
	RateLimitBurst     int           `env:"IDP_OAUTH_RATE_LIMIT_BURST"  envDefault:"20"`
	RateLimitCleanup   time.Duration `env:"IDP_OAUTH_RATE_LIMIT_CLEANUP_INTERVAL" envDefault:"5m"`
	SubjectSigningKey  string        `env:"IDP_OAUTH_SUBJECT_SIGNING_KEY"`
	SubjectIssuer      string        `env:"IDP_OAUTH_SUBJECT_ISSUER"`
	TrustProxyHeaders  bool          `env:"IDP_OAUTH_TRUST_PROXY_HEADERS"`
	TrustedProxyCount  int           `env:"IDP_OAUTH_TRUSTED_PROXY_COUNT" envDefault:"1"`
	EnableAuditLogging bool          `env:"IDP_OAUTH_AUDIT_LOGGING"       envDefault:"true"`
	AllowedOrigins     []string      `env:"IDP_OAUTH_ALLOWED_ORIGINS"     envSeparator:","`
}

// LoadConfigFromEnv builds a Config from IDP_OAUTH_* environment variables.
// The result still needs Validate before use.
func LoadConfigFromEnv() (Config, error) {
	var raw handlerEnv
	if err := env.Parse(&raw); err != nil {
		return Config{}, fmt.Errorf("parsing environment: %w", err)
	}

	var key []byte
	if raw.SubjectSigningKey != "" {
		key = []byte(raw.SubjectSigningKey)
	}

	return Config{
		ServerURL:       raw.ServerURL,
		CodeTTL:         raw.CodeTTL,
		TokenTTL:        raw.TokenTTL,
		CleanupInterval: raw.CleanupInterval,
		RateLimit: RateLimitConfig{
			Rate:            raw.RateLimitRate,
			Burst:           raw.RateLimitBurst,
			CleanupInterval: raw.RateLimitCleanup,
		},
		Security: SecurityConfig{
			SubjectSigningKey:  key,
			SubjectIssuer:      raw.SubjectIssuer,
			TrustProxyHeaders:  raw.TrustProxyHeaders,
			TrustedProxyCount:  raw.TrustedProxyCount,
			EnableAuditLogging: raw.EnableAuditLogging,
		},
		CORS: CORSConfig{
			AllowedOrigins: trimOrigins(raw.AllowedOrigins),
		},
	}, nil
}

// trimOrigins removes empty entries from a CSV-split origin list.
func trimOrigins(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	result := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" {
			result = append(result, v)
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
