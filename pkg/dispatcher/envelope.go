// Package dispatcher routes incoming guest commands through an ordered handler chain.
package dispatcher

import "encoding/json"

// Command is one decoded inbound request (GuestInput on the wire).
type Command struct {
	Method string         `json:"method"`
	Args   map[string]any `json:"args"`

	// TraceID is assigned by the receiver for log correlation; it is not part of the wire format.
	TraceID string `json:"-"`
	// ReplyTo is the transport route for the response; empty for casts.
	ReplyTo string `json:"-"`
}

// Response is the single answer to one Command (GuestOutput on the wire).
// Exactly one of Result and Failure is set once finalized; both keys are always encoded.
type Response struct {
	Result  any     `json:"result"`
	Failure *string `json:"failure"`
}

// Arg returns the named argument, tolerating a nil Args map.
func (c *Command) Arg(name string) (any, bool) {
	if c == nil || c.Args == nil {
		return nil, false
	}
	v, ok := c.Args[name]
	return v, ok
}

// DecodeArgs re-encodes Args into the given target struct.
func (c *Command) DecodeArgs(v any) error {
	args := c.Args
	if args == nil {
		args = map[string]any{}
	}
	data, err := json.Marshal(args)
	if err != nil {
		return &GuestError{Code: CodeInvalidArgument, Message: "invalid arguments: " + err.Error()}
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &GuestError{Code: CodeInvalidArgument, Message: "invalid arguments: " + err.Error()}
	}
	return nil
}

// Succeeded reports whether the response carries a result.
func (r *Response) Succeeded() bool {
	return r.Failure == nil
}

func successResponse(result any) *Response {
	if result == nil {
		result = map[string]any{}
	}
	return &Response{Result: result}
}

func failureResponse(message string) *Response {
	return &Response{Failure: &message}
}
