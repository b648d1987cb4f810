package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"time"
)

// Auditor handles security event logging with PII protection.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
	}
}

// Event represents a security audit event
type Event struct {
	Type      string
	SubjectID string
	ClientID  string
	IPAddress string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event with hashed PII
func (a *Auditor) LogEvent(event Event) {
	if !a.enabled {
		return
	}

	event.Timestamp = time.Now()

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"subject_id_hash", HashForLogging(event.SubjectID),
		"client_id", event.ClientID,
		"ip_address", event.IPAddress,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogAutoApproval logs a silent re-approval from an existing consent grant
func (a *Auditor) LogAutoApproval(subjectID, clientID, ipAddress string, scopes []string) {
	a.LogEvent(Event{
		Type:      EventAuthorizationAutoApproved,
		SubjectID: subjectID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"scope": strings.Join(scopes, " "),
		},
	})
}

// LogCodeIssued logs the issuance of an authorization code
func (a *Auditor) LogCodeIssued(subjectID, clientID, ipAddress string, scopes []string) {
	a.LogEvent(Event{
		Type:      EventAuthorizationCodeIssued,
		SubjectID: subjectID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"scope": strings.Join(scopes, " "),
		},
	})
}

// LogCodeReuse logs a replay of an already consumed authorization code.
// Reuse is treated as an attack signal and triggers token revocation for
// the affected subject/client pair.
func (a *Auditor) LogCodeReuse(subjectID, clientID, ipAddress string) {
	a.LogEvent(Event{
		Type:      EventAuthorizationCodeReuseDetected,
		SubjectID: subjectID,
		ClientID:  clientID,
		IPAddress: ipAddress,
	})
}

// LogConsentGranted logs an approved consent decision
func (a *Auditor) LogConsentGranted(subjectID, clientID, ipAddress string, scopes []string) {
	a.LogEvent(Event{
		Type:      EventConsentGranted,
		SubjectID: subjectID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"scope": strings.Join(scopes, " "),
		},
	})
}

// LogConsentDenied logs a denied consent decision
func (a *Auditor) LogConsentDenied(subjectID, clientID, ipAddress string) {
	a.LogEvent(Event{
		Type:      EventConsentDenied,
		SubjectID: subjectID,
		ClientID:  clientID,
		IPAddress: ipAddress,
	})
}

// LogConsentRevoked logs the revocation of an active consent grant
func (a *Auditor) LogConsentRevoked(subjectID, clientID, ipAddress string) {
	a.LogEvent(Event{
		Type:      EventConsentRevoked,
		SubjectID: subjectID,
		ClientID:  clientID,
		IPAddress: ipAddress,
	})
}

// LogTokenIssued logs when an access token is issued
func (a *Auditor) LogTokenIssued(subjectID, clientID, ipAddress string, scopes []string) {
	a.LogEvent(Event{
		Type:      EventTokenIssued,
		SubjectID: subjectID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"scope": strings.Join(scopes, " "),
		},
	})
}

// LogResourceAccessed logs a successful userinfo disclosure
func (a *Auditor) LogResourceAccessed(subjectID, clientID, ipAddress string, scopes []string) {
	a.LogEvent(Event{
		Type:      EventResourceAccessed,
		SubjectID: subjectID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"scope": strings.Join(scopes, " "),
		},
	})
}

// LogAuthFailure logs an authentication failure
func (a *Auditor) LogAuthFailure(subjectID, clientID, ipAddress, reason string) {
	a.LogEvent(Event{
		Type:      EventAuthFailure,
		SubjectID: subjectID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogPKCEFailure logs a failed code verifier check
func (a *Auditor) LogPKCEFailure(clientID, ipAddress string) {
	a.LogEvent(Event{
		Type:      EventPKCEValidationFailed,
		ClientID:  clientID,
		IPAddress: ipAddress,
	})
}

// LogRateLimitExceeded logs a rate limit violation
func (a *Auditor) LogRateLimitExceeded(ipAddress, subjectID string) {
	a.LogEvent(Event{
		Type:      EventRateLimitExceeded,
		SubjectID: subjectID,
		IPAddress: ipAddress,
	})
}

// HashForLogging creates a SHA256 hash of sensitive data for logging
func HashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
