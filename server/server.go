package server

import (
	"fmt"
	"log/slog"

	"golang.org/x/oauth2"

	"github.com/veriden/idp-oauth/instrumentation"
	"github.com/veriden/idp-oauth/security"
	"github.com/veriden/idp-oauth/storage"
)

// safeTruncate safely truncates a string to maxLen characters without panicking.
// Returns the original string if it's shorter than maxLen, otherwise returns
// the first maxLen characters. This prevents index out of bounds errors when logging.
func safeTruncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// Server implements the delegated-authorization flow logic. It coordinates
// the storage backends and owns the authorization-code and consent-grant
// lifecycles; clients, scope definitions, and profiles are read-only to it.
type Server struct {
	clients   storage.ClientStore
	grants    storage.GrantStore
	flows     storage.FlowStore
	tokens    storage.TokenStore
	profiles  storage.ProfileStore
	accessLog storage.AccessLogStore

	Auditor *security.Auditor
	Logger  *slog.Logger
	Config  *Config

	inst *instrumentation.Instrumentation
}

// New creates a new authorization server
func New(
	clients storage.ClientStore,
	grants storage.GrantStore,
	flows storage.FlowStore,
	tokens storage.TokenStore,
	profiles storage.ProfileStore,
	accessLog storage.AccessLogStore,
	config *Config,
	logger *slog.Logger,
) (*Server, error) {
	if clients == nil {
		return nil, fmt.Errorf("client store is required")
	}
	if grants == nil {
		return nil, fmt.Errorf("grant store is required")
	}
	if flows == nil {
		return nil, fmt.Errorf("flow store is required")
	}
	if tokens == nil {
		return nil, fmt.Errorf("token store is required")
	}
	if profiles == nil {
		return nil, fmt.Errorf("profile store is required")
	}
	if accessLog == nil {
		return nil, fmt.Errorf("access log store is required")
	}
	if config == nil {
		config = &Config{}
	}

	if logger == nil {
		logger = slog.Default()
	}

	config = applyDefaults(config, logger)

	return &Server{
		clients:   clients,
		grants:    grants,
		flows:     flows,
		tokens:    tokens,
		profiles:  profiles,
		accessLog: accessLog,
		Config:    config,
		Logger:    logger,
	}, nil
}

// SetAuditor sets the security auditor
func (s *Server) SetAuditor(aud *security.Auditor) {
	s.Auditor = aud
}

// SetInstrumentation sets the OpenTelemetry instrumentation
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.inst = inst
}

// metrics returns the instrumentation metrics, or nil when instrumentation
// is not configured. Callers must nil-check.
func (s *Server) metrics() *instrumentation.Metrics {
	if s.inst == nil {
		return nil
	}
	return s.inst.Metrics()
}

// generateRandomToken generates a cryptographically secure random token.
// This is an alias for oauth2.GenerateVerifier() which produces a URL-safe,
// base64-encoded random string suitable for codes and tokens.
func generateRandomToken() string {
	return oauth2.GenerateVerifier()
}
