// Package security provides security-related functionality for the
// authorization server, including rate limiting, IP validation, subject
// credential verification, and audit logging.
//
// # Rate Limiting
//
// The RateLimiter provides per-identifier rate limiting using a token bucket algorithm
// with automatic memory management through LRU (Least Recently Used) eviction.
//
// ## Memory Management
//
// To prevent unbounded memory growth under distributed attacks, the rate limiter
// implements a configurable maximum entries limit. When this limit is reached,
// the least recently used entries are automatically evicted.
//
// Default configuration:
//   - MaxEntries: 10,000 unique identifiers
//   - CleanupInterval: 5 minutes
//   - IdleTimeout: 30 minutes
//
// ## Example Usage
//
//	// Create rate limiter with default settings (10,000 max entries)
//	limiter := security.NewRateLimiter(10, 20, logger)
//	defer limiter.Stop()
//
//	// Check if request is allowed
//	if !limiter.Allow(clientIP) {
//	    // Rate limit exceeded
//	    return http.StatusTooManyRequests
//	}
//
// # Subject Verification
//
// SubjectVerifier validates the signed subject credential presented on
// authorize and consent requests and extracts the subject identifier.
//
// # Audit Logging
//
// Auditor writes structured security events through log/slog. Subject
// identifiers are hashed before logging so that audit output carries no
// directly identifying data.
package security
