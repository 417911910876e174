package transport

import (
	"errors"
	"fmt"
)

// Error codes for media transport operations.
const (
	CodeNoPeers           = "NO_PEERS"
	CodeIntegrityMismatch = "INTEGRITY_MISMATCH"
	CodeNoPlayableFile    = "NO_PLAYABLE_FILE"
	CodeTimeout           = "TIMEOUT"
	CodeFallbackFailed    = "FALLBACK_FAILED"
	CodeBadLocator        = "BAD_LOCATOR"
	CodeSessionDestroyed  = "SESSION_DESTROYED"
)

// Error is the transport error type surfaced to playback callers.
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

// IsCode reports whether err is a transport error with the given code.
func IsCode(err error, code string) bool {
	var te *Error
	return errors.As(err, &te) && te.Code == code
}

func newError(code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}
