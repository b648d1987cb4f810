// Package instrumentation provides OpenTelemetry (OTEL) instrumentation for
// the authorization server.
//
// It enables observability across the library layers through:
// - Metrics: Counters, histograms, and gauges for flow and storage operations
// - Traces: Distributed tracing for request flows across components
//
// # Quick Start
//
//	import "github.com/veriden/idp-oauth/instrumentation"
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		ServiceName:    "idp-oauth",
//		ServiceVersion: "1.0.0",
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer inst.Shutdown(context.Background())
//
//	srv.SetInstrumentation(inst)
//
// # Available Metrics
//
// HTTP Layer:
//   - idp.http.requests.total{method, endpoint, status} - Total HTTP requests
//   - idp.http.request.duration{endpoint} - Request duration in milliseconds
//
// Authorization Flows:
//   - idp.authorization.auto_approved{client_id} - Requests covered by an existing grant
//   - idp.authorization.consent_pending{client_id} - Requests that required a prompt
//   - idp.consent.decisions{client_id, approved} - Consent decisions recorded
//   - idp.code.issued{client_id} - Authorization codes issued
//   - idp.code.redeemed{client_id, pkce_method} - Authorization codes redeemed
//   - idp.userinfo.served{client_id} - Userinfo responses served
//
// Security:
//   - idp.rate_limit.exceeded{limiter_type} - Rate limit violations
//   - idp.pkce.validation_failed{method} - PKCE validation failures
//   - idp.code.reuse_detected - Authorization code reuse attempts
//   - idp.auth.failures{reason} - Rejected credentials
//
// Storage:
//   - storage.operation.total{operation, result} - Storage operations
//   - storage.operation.duration{operation} - Operation duration in milliseconds
//   - storage.clients.count, storage.grants.count, storage.codes.count,
//     storage.tokens.count - Current storage sizes
//
// # Performance
//
// When instrumentation is not configured or disabled, no-op providers are
// used and the recording call sites cost nothing measurable.
//
// # Thread Safety
//
// All instrumentation operations are thread-safe and can be called
// concurrently from multiple goroutines.
//
// # Security Considerations
//
// This package collects observability data, never credentials. Do not log
// token values, authorization codes, client secrets, or PKCE verifiers; only
// metadata such as token types, expiry times, and validation results. Client
// IP addresses may be PII in some jurisdictions; the Config.LogClientIPs
// switch controls whether they are attached to spans.
package instrumentation
