// Package wire defines the websocket frame shapes and the codec between raw
// frames and typed requests/responses. The codec only checks message shape;
// whether an agent value is actually routable is the provider registry's call.
package wire

import (
	"encoding/json"
	"strings"
)

// Role tags an outbound frame as a model reply or a diagnostic.
type Role string

const (
	RoleAssistant Role = "assistant"
	RoleError     Role = "error"
)

// Request is one decoded inbound frame. Corr is an optional client-supplied
// correlation token echoed on the matching response.
type Request struct {
	Agent  string `json:"agent"`
	Prompt string `json:"prompt"`
	Corr   string `json:"corr,omitempty"`
}

// Response is one outbound frame. Exactly one Response is produced per
// inbound frame, whether or not that frame decoded successfully.
type Response struct {
	ID      string `json:"id"`
	Role    Role   `json:"role"`
	Content string `json:"content"`
	Corr    string `json:"corr,omitempty"`
}

// ValidationError reports a malformed inbound frame. Its message is safe to
// send back to the client verbatim.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid message: " + e.Reason
}

// DecodeRequest parses a raw text frame into a Request. Both agent and prompt
// must be present, well-typed and non-empty; anything else is a
// *ValidationError, never a panic. Unknown agent values pass here.
func DecodeRequest(raw []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return Request{}, &ValidationError{Reason: "not a valid request object"}
	}
	if strings.TrimSpace(req.Agent) == "" {
		return Request{}, &ValidationError{Reason: "missing agent"}
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return Request{}, &ValidationError{Reason: "missing prompt"}
	}
	return req, nil
}

// EncodeResponse renders the canonical outbound frame.
func EncodeResponse(resp Response) ([]byte, error) {
	return json.Marshal(resp)
}

// DecodeResponse parses an outbound frame back into a Response. Used by
// clients of the /stream tap and by tests asserting round-trips.
func DecodeResponse(raw []byte) (Response, error) {
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Response{}, err
	}
	return resp, nil
}
