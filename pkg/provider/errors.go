package provider

import "fmt"

// The three failure kinds every adapter normalizes into. Error() strings are
// safe to hand to clients; raw provider bodies stay in the StatusError value
// for logging and never appear in the message text.

// NetworkError is a transport-level failure (DNS, refused, timeout).
type NetworkError struct {
	Provider string
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network failure contacting backend", e.Provider)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// StatusError is a non-success HTTP status. Body carries the raw response
// text for diagnostics.
type StatusError struct {
	Provider string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: backend returned status %d", e.Provider, e.Code)
}

// MalformedResponseError is a success status whose body does not have the
// expected structure.
type MalformedResponseError struct {
	Provider string
	Reason   string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("%s: malformed response body: %s", e.Provider, e.Reason)
}

// UnsupportedAgentError rejects agent values outside the static table. The
// message names the offending value so the client can see what it sent.
type UnsupportedAgentError struct {
	Agent string
}

func (e *UnsupportedAgentError) Error() string {
	return fmt.Sprintf("unsupported agent %q", e.Agent)
}
