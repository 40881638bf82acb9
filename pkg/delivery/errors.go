package delivery

import (
	"errors"
	"fmt"
)

// Error classifies a failed delivery attempt. Terminal failures must not be
// retried; everything else is worth another attempt.
type Error struct {
	// Terminal marks failures that repeating cannot fix, like a webhook
	// endpoint answering 404.
	Terminal bool
	// StatusCode holds the HTTP status for webhook failures; zero otherwise.
	StatusCode int
	message    string
	cause      error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *Error) Unwrap() error { return e.cause }

// NewTerminalError creates a non-retryable delivery error.
func NewTerminalError(statusCode int, message string) *Error {
	return &Error{Terminal: true, StatusCode: statusCode, message: message}
}

// NewRetryableError creates a retryable delivery error wrapping cause.
func NewRetryableError(statusCode int, message string, cause error) *Error {
	return &Error{StatusCode: statusCode, message: message, cause: cause}
}

// IsTerminal reports whether err marks a failure that retrying cannot fix.
func IsTerminal(err error) bool {
	var deliveryErr *Error
	return errors.As(err, &deliveryErr) && deliveryErr.Terminal
}

// StatusCode extracts the HTTP status from a delivery error, or zero.
func StatusCode(err error) int {
	var deliveryErr *Error
	if errors.As(err, &deliveryErr) {
		return deliveryErr.StatusCode
	}
	return 0
}
