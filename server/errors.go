package server

import "fmt"

// Protocol error codes surfaced by the flow logic.
// Note: These are intentionally duplicated from the root package's errors.go
// to avoid circular imports (root package imports server, server can't import
// root). Keep these in sync with errors.go.
const (
	ErrorCodeInvalidRequest          = "invalid_request"
	ErrorCodeInvalidClient           = "invalid_client"
	ErrorCodeInvalidRedirectURI      = "invalid_redirect_uri"
	ErrorCodeInvalidScope            = "invalid_scope"
	ErrorCodeUnsupportedResponseType = "unsupported_response_type"
	ErrorCodeInvalidToken            = "invalid_token"
	ErrorCodeServerError             = "server_error"

	// ErrorCodeInvalidGrant is only returned from the code-redemption
	// boundary, which the external token-exchange endpoint calls. It never
	// crosses this module's own HTTP surface.
	ErrorCodeInvalidGrant = "invalid_grant"
)

// FlowError is a protocol-level flow failure. The HTTP layer maps Code to
// the wire error code and status line.
type FlowError struct {
	Code        string
	Description string
}

// Error implements the error interface
func (e *FlowError) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// flowError creates a FlowError with a formatted description
func flowError(code, format string, args ...any) *FlowError {
	return &FlowError{
		Code:        code,
		Description: fmt.Sprintf(format, args...),
	}
}
