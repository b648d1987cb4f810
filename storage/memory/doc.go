// Package memory provides an in-memory implementation of the storage
// interfaces.
//
// This package implements ClientStore, GrantStore, FlowStore, TokenStore,
// ProfileStore, and AccessLogStore using Go's built-in maps with mutex
// protection for thread safety. It is suitable for development, testing,
// and single-instance deployments where persistence is not required.
//
// Features:
//   - Thread-safe operations using sync.RWMutex
//   - Atomic consent-grant upsert and authorization-code consumption
//   - Automatic cleanup of expired codes and tokens
//   - Configurable cleanup intervals
//
// For production deployments requiring persistence or multi-instance
// deployments, use the storage/valkey package instead.
//
// Example usage:
//
//	store := memory.New()
//	defer store.Stop()
//
//	srv, _ := server.New(store, store, store, store, store, store, cfg, logger)
package memory
