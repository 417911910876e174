package relay

import (
	"errors"
	"fmt"
)

// Error codes for relay operations.
const (
	CodeSignerUnavailable = "SIGNER_UNAVAILABLE"
	CodePublishFailed     = "PUBLISH_FAILED"
	CodeRelayUnreachable  = "RELAY_UNREACHABLE"
	CodeRejected          = "EVENT_REJECTED"
)

// Error carries a code for programmatic handling plus the underlying
// cause.
type Error struct {
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// IsCode reports whether err is a relay error with the given code.
func IsCode(err error, code string) bool {
	var re *Error
	return errors.As(err, &re) && re.Code == code
}

func newError(code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}
