package instrumentation

import (
	"context"
	"testing"
)

func TestMetrics_RecordHTTPRequest(t *testing.T) {
	ctx := context.Background()
	inst, err := New(Config{
		Enabled: true,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = inst.Shutdown(context.Background()) }()

	metrics := inst.Metrics()

	tests := []struct {
		name       string
		method     string
		endpoint   string
		statusCode int
		durationMs float64
	}{
		{"successful authorize", "POST", "/oauth/authorize", 200, 123.45},
		{"successful consent", "POST", "/oauth/consent", 200, 234.56},
		{"bad request", "POST", "/oauth/authorize", 400, 45.67},
		{"unauthorized userinfo", "POST", "/oauth/userinfo", 401, 5.67},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Should not panic
			metrics.RecordHTTPRequest(ctx, tt.method, tt.endpoint, tt.statusCode, tt.durationMs)
		})
	}
}

func TestMetrics_RecordAuthorizationFlow(t *testing.T) {
	ctx := context.Background()
	inst, err := New(Config{
		Enabled: true,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = inst.Shutdown(context.Background()) }()

	metrics := inst.Metrics()

	metrics.RecordAuthorizationAutoApproved(ctx, "test-client-1")
	metrics.RecordAuthorizationConsentPending(ctx, "test-client-2")

	metrics.RecordConsentDecision(ctx, "test-client-1", true)
	metrics.RecordConsentDecision(ctx, "test-client-2", false)

	metrics.RecordCodeIssued(ctx, "test-client-1")
	metrics.RecordCodeRedeemed(ctx, "test-client-1", "S256")
	metrics.RecordCodeRedeemed(ctx, "test-client-2", "plain")

	metrics.RecordUserInfoServed(ctx, "test-client-1")
}

func TestMetrics_RecordSecurityEvents(t *testing.T) {
	ctx := context.Background()
	inst, err := New(Config{
		Enabled: true,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = inst.Shutdown(context.Background()) }()

	metrics := inst.Metrics()

	metrics.RecordRateLimitExceeded(ctx, "ip")
	metrics.RecordRateLimitExceeded(ctx, "subject")

	metrics.RecordPKCEValidationFailed(ctx, "S256")
	metrics.RecordPKCEValidationFailed(ctx, "plain")

	metrics.RecordCodeReuseDetected(ctx)
	metrics.RecordCodeReuseDetected(ctx)

	metrics.RecordAuthFailure(ctx, "token_expired")
	metrics.RecordAuthFailure(ctx, "token_revoked")
}

func TestMetrics_RecordStorageOperations(t *testing.T) {
	ctx := context.Background()
	inst, err := New(Config{
		Enabled: true,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = inst.Shutdown(context.Background()) }()

	metrics := inst.Metrics()

	metrics.RecordStorageOperation(ctx, "save_access_token", "success", 12.34)
	metrics.RecordStorageOperation(ctx, "get_access_token", "success", 5.67)
	metrics.RecordStorageOperation(ctx, "consume_authorization_code", "success", 3.45)
	metrics.RecordStorageOperation(ctx, "save_access_token", "error", 23.45)
}

func TestMetrics_RecordAuditEvents(t *testing.T) {
	ctx := context.Background()
	inst, err := New(Config{
		Enabled: true,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = inst.Shutdown(context.Background()) }()

	metrics := inst.Metrics()

	metrics.RecordAuditEvent(ctx, "consent_granted")
	metrics.RecordAuditEvent(ctx, "token_issued")
	metrics.RecordAuditEvent(ctx, "resource_accessed")
	metrics.RecordAuditEvent(ctx, "auth_failure")
}

func TestMetrics_ConcurrentRecording(t *testing.T) {
	ctx := context.Background()
	inst, err := New(Config{
		Enabled: true,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = inst.Shutdown(context.Background()) }()

	metrics := inst.Metrics()

	done := make(chan bool)

	for i := 0; i < 10; i++ {
		go func(id int) {
			for j := 0; j < 100; j++ {
				metrics.RecordHTTPRequest(ctx, "POST", "/test", 200, 10.0)
				metrics.RecordAuthorizationAutoApproved(ctx, "client")
				metrics.RecordCodeRedeemed(ctx, "client", "S256")
				metrics.RecordStorageOperation(ctx, "save", "success", 5.0)
			}
			done <- true
		}(i)
	}

	for i := 0; i < 10; i++ {
		<-done
	}
}

func TestMetrics_NoOpBehavior(t *testing.T) {
	ctx := context.Background()
	inst, err := New(Config{
		Enabled: false,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = inst.Shutdown(context.Background()) }()

	metrics := inst.Metrics()

	// All of these should be no-ops and not panic
	metrics.RecordHTTPRequest(ctx, "POST", "/test", 200, 10.0)
	metrics.RecordAuthorizationAutoApproved(ctx, "client")
	metrics.RecordAuthorizationConsentPending(ctx, "client")
	metrics.RecordConsentDecision(ctx, "client", true)
	metrics.RecordCodeIssued(ctx, "client")
	metrics.RecordCodeRedeemed(ctx, "client", "S256")
	metrics.RecordUserInfoServed(ctx, "client")
	metrics.RecordRateLimitExceeded(ctx, "ip")
	metrics.RecordPKCEValidationFailed(ctx, "S256")
	metrics.RecordCodeReuseDetected(ctx)
	metrics.RecordAuthFailure(ctx, "token_expired")
	metrics.RecordStorageOperation(ctx, "save", "success", 5.0)
	metrics.RecordAuditEvent(ctx, "test_event")
}
