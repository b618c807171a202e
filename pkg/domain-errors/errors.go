// Package domainerrors carries coded errors from services to the transport
// layer. Services create them; handlers only read the code.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies a domain failure. Transport adapters map codes to status.
type Code string

const (
	CodeBadRequest   Code = "bad_request"
	CodeInvalidInput Code = "invalid_input"
	CodeValidation   Code = "validation_failure"
	CodeNotFound     Code = "not_found"
	CodeConflict     Code = "conflict"
	CodeInternal     Code = "internal_error"
	CodeUnavailable  Code = "unavailable"
	CodeTimeout      Code = "timeout"

	// Proof backend failures.
	CodeBackendUnavailable Code = "backend_unavailable"
	CodeBackendFailure     Code = "backend_execution_failure"
	CodeContractViolation  Code = "parse_error"

	// Identity directory failures.
	CodeDirectoryUnreachable Code = "directory_unreachable"
	CodeDirectoryRejected    Code = "directory_rejected"
	CodeAmbiguousMatch       Code = "ambiguous_match"
)

// Error is a coded domain error. Message is safe to show to callers.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a coded error without a cause.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and a caller-safe message to err.
func Wrap(err error, code Code, message string) error {
	return &Error{Code: code, Message: message, Err: err}
}

// HasCode reports whether the outermost domain error in err's chain carries code.
func HasCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// Is is an alias of HasCode kept for handler readability.
func Is(err error, code Code) bool {
	return HasCode(err, code)
}

// CodeOf returns the code of the outermost domain error, or CodeInternal.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// MessageOf returns the caller-safe message of the outermost domain error.
func MessageOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	return "internal error"
}
