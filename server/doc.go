// Package server implements the delegated-authorization flow logic behind
// the HTTP handlers: authorization requests, consent decisions, userinfo
// claim disclosure, and the code-redemption boundary the external token
// exchange calls.
//
// The Server coordinates the injected storage backends and owns the
// AuthorizationCode and ConsentGrant lifecycles. It reads clients, scope
// definitions, and profiles, and appends best-effort access-log entries
// after each primary write.
//
// All flow failures are returned as *FlowError carrying a protocol error
// code; the HTTP layer maps codes to status lines and response bodies.
package server
