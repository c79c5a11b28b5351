package sgapi

import "errors"

// Error kinds for the SG Smart cloud client. Callers classify failures with
// errors.Is; the underlying cause stays on the wrap chain.
var (
	// ErrAuthentication means invalid credentials or an expired session
	// (HTTP 401/403). The client recovers at most one of these per logical
	// call by re-logging in.
	ErrAuthentication = errors.New("authentication failed")

	// ErrCommunication covers timeouts, DNS/socket failures, and WebSocket
	// transport errors. Never retried by the client.
	ErrCommunication = errors.New("communication error")

	// ErrAPI covers non-2xx responses that are not auth failures, and
	// malformed or incomplete response bodies.
	ErrAPI = errors.New("api error")

	// ErrInvalidArgument is returned for out-of-range or malformed inputs,
	// checked before any I/O happens.
	ErrInvalidArgument = errors.New("invalid argument")
)
