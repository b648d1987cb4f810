// Package storage provides interfaces and types for authorization server
// persistence.
//
// The storage package defines the core interfaces used throughout the
// idp-oauth library:
//   - ClientStore: read-only registry of relying parties and scope metadata
//   - GrantStore: durable per (subject, client) consent grants
//   - FlowStore: single-use authorization codes
//   - TokenStore: opaque bearer access tokens
//   - ProfileStore: read-only subject claim data
//   - AccessLogStore: append-only audit trail
//
// Implementations are provided in subpackages:
//   - storage/memory: in-memory storage for development and testing
//   - storage/valkey: Valkey/Redis-compatible distributed storage for production
package storage
