package server

import (
	"log/slog"
	"time"
)

// Default lifetimes applied when the corresponding Config fields are zero.
const (
	DefaultCodeTTL  = 5 * time.Minute
	DefaultTokenTTL = time.Hour
)

// Config holds the flow-level server configuration
type Config struct {
	// CodeTTL is how long authorization codes remain redeemable.
	// Default: 5 minutes.
	CodeTTL time.Duration

	// TokenTTL is how long minted access tokens remain valid.
	// Default: 1 hour.
	TokenTTL time.Duration

	// AllowPKCEPlain permits the deprecated "plain" code_challenge_method.
	// Only S256 is accepted by default.
	AllowPKCEPlain bool

	// DenialDescription is the error_description carried on the
	// access_denied redirect when a subject denies consent.
	DenialDescription string
}

// applyDefaults fills zero-valued Config fields in place.
func applyDefaults(config *Config, logger *slog.Logger) *Config {
	if config.CodeTTL == 0 {
		config.CodeTTL = DefaultCodeTTL
	}
	if config.TokenTTL == 0 {
		config.TokenTTL = DefaultTokenTTL
	}
	if config.DenialDescription == "" {
		config.DenialDescription = "the resource owner denied the request"
	}
	if config.AllowPKCEPlain {
		logger.Warn("'plain' PKCE method enabled; S256 is strongly recommended")
	}
	return config
}
