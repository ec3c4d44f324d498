package dispatcher

import "errors"

// Error codes carried by GuestError.
const (
	CodeNoSuchMethod     = "NO_SUCH_METHOD"
	CodeInvalidArgument  = "INVALID_ARGUMENT"
	CodeMalformedMessage = "MALFORMED_MESSAGE"
)

// NoSuchMethodMessage is the failure text for commands no handler recognizes.
const NoSuchMethodMessage = "no such method"

// GuestError is a command-level failure reported back to the caller.
type GuestError struct {
	Code    string
	Message string
}

// Error returns the message only so the failure text on the wire stays stable.
func (e *GuestError) Error() string {
	return e.Message
}

// ErrNoSuchMethod is returned by Chain.Dispatch when no handler recognizes the method.
var ErrNoSuchMethod = &GuestError{Code: CodeNoSuchMethod, Message: NoSuchMethodMessage}

// InvalidArgument builds an INVALID_ARGUMENT error.
func InvalidArgument(message string) *GuestError {
	return &GuestError{Code: CodeInvalidArgument, Message: message}
}

// DecodeError marks an inbound message that could not be decoded into a Command.
// Transports return it alongside a placeholder Command carrying the reply route.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return "malformed message: " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// ErrorCode returns the GuestError code of err, or "" when err is not a GuestError.
func ErrorCode(err error) string {
	var gerr *GuestError
	if errors.As(err, &gerr) {
		return gerr.Code
	}
	var derr *DecodeError
	if errors.As(err, &derr) {
		return CodeMalformedMessage
	}
	return ""
}
