// Package valkey provides a Valkey storage backend for the idp-oauth
// library.
//
// Valkey is a high-performance key-value store that is wire-compatible with
// Redis. This package implements all storage interfaces required by the
// authorization server, making it suitable for production deployments that
// require:
//
//   - Distributed storage for horizontal scaling
//   - Persistence across server restarts
//   - Automatic TTL-based expiration of codes and tokens
//
// # Key Schema
//
// All keys use a configurable prefix (default "idp:") to avoid conflicts
// with other applications sharing the same Valkey instance:
//
//	{prefix}client:{id}              -> JSON(Client)
//	{prefix}client:pub:{client_id}   -> internal id (reverse lookup)
//	{prefix}scope:{name}             -> JSON(ScopeDefinition)
//	{prefix}profile:{subjectID}      -> JSON(Profile)
//	{prefix}grant:{subjectID}:{id}   -> JSON(ConsentGrant)
//	{prefix}code:{code}              -> JSON(AuthorizationCode), TTL = code lifetime
//	{prefix}token:{token}            -> JSON(AccessToken), TTL = token lifetime
//	{prefix}subjclient:{sid}:{cid}   -> SET of token values
//	{prefix}accesslog                -> LIST of JSON(AccessLogEntry)
//
// # Atomic Operations
//
// Single-use authorization codes and token revocation use Lua scripts so
// concurrent redemptions observe the same consume-exactly-once guarantee as
// the in-memory implementation. Consent-grant upsert maps to a single SET on
// the (subject, client) key, which Valkey executes atomically.
//
// # Configuration
//
// Basic usage:
//
//	store, err := valkey.New(valkey.Config{
//	    Address:   "localhost:6379",
//	    KeyPrefix: "idp:",
//	})
//
// With TLS:
//
//	store, err := valkey.New(valkey.Config{
//	    Address:  "valkey.example.com:6379",
//	    Password: os.Getenv("VALKEY_PASSWORD"),
//	    TLS:      &tls.Config{MinVersion: tls.VersionTLS12},
//	})
package valkey
