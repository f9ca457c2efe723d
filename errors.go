package pgcdc

import (
	"errors"
	"fmt"
)

// Error represents a pgcdc library error with categorization.
type Error struct {
	// Code is a machine-readable error code
	Code string

	// Message is a human-readable error message
	Message string

	// Err is the underlying error (if any)
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Error codes for pgcdc operations.
const (
	// ErrCodeNoData indicates no data was found.
	ErrCodeNoData = "NO_DATA"

	// ErrCodeConfiguration indicates invalid configuration.
	ErrCodeConfiguration = "CONFIGURATION_ERROR"

	// ErrCodeDatabase indicates a database operation failed.
	ErrCodeDatabase = "DATABASE_ERROR"

	// ErrCodeDiscovery indicates handler discovery failed at startup.
	ErrCodeDiscovery = "DISCOVERY_ERROR"

	// ErrCodeDecode indicates a queued change payload could not be decoded.
	ErrCodeDecode = "DECODE_ERROR"

	// ErrCodeListener indicates the notification listener failed.
	ErrCodeListener = "LISTENER_ERROR"
)

// Common errors.
var (
	// ErrNoData is returned when a query returns no results.
	// This is not necessarily an error condition in all cases.
	ErrNoData = &Error{
		Code:    ErrCodeNoData,
		Message: "no data found",
	}

	// ErrInvalidConfiguration describes an invalid engine configuration.
	// NewEngine does not return this value: it reports validation failures
	// as a new *Error with the same code and message wrapping the cause.
	ErrInvalidConfiguration = &Error{
		Code:    ErrCodeConfiguration,
		Message: "invalid engine configuration",
	}

	// ErrNotListening is returned by Engine.Resume, Engine.SuspendAndRun
	// and Engine.Subscribe when Start has not yet created the listener.
	ErrNotListening = &Error{
		Code:    ErrCodeListener,
		Message: "listener is not in listening state",
	}
)

// NewError creates a new Error with the given code and message.
func NewError(code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// NewErrorWithCause creates a new Error wrapping an underlying error.
func NewErrorWithCause(code, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     cause,
	}
}

// IsNoData checks if an error is ErrNoData.
func IsNoData(err error) bool {
	var cdcErr *Error
	if errors.As(err, &cdcErr) {
		return cdcErr.Code == ErrCodeNoData
	}
	return errors.Is(err, ErrNoData)
}
