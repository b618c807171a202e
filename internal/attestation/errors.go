package attestation

import (
	"errors"
	"fmt"
)

// Kind classifies an invocation failure.
type Kind string

const (
	// KindInvalidInput means the request was rejected before any process started.
	KindInvalidInput Kind = "invalid_input"

	// KindTimeout means the backend exceeded its wall-clock budget and was killed.
	KindTimeout Kind = "timeout"

	// KindBackendUnavailable means the backend executable could not be started.
	KindBackendUnavailable Kind = "backend_unavailable"

	// KindBackendExecution means the backend ran but exited non-zero, was
	// cancelled, or produced output outside the contract.
	KindBackendExecution Kind = "backend_execution_failure"
)

// InvocationError describes why an attestation could not be produced.
type InvocationError struct {
	Kind       Kind
	Message    string
	Output     string
	Underlying error
}

func (e *InvocationError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("attestation [%s]: %s: %v", e.Kind, e.Message, e.Underlying)
	}
	return fmt.Sprintf("attestation [%s]: %s", e.Kind, e.Message)
}

func (e *InvocationError) Unwrap() error {
	return e.Underlying
}

// KindOf extracts the failure kind from err, or "" when err is not an
// invocation failure.
func KindOf(err error) Kind {
	var ie *InvocationError
	if errors.As(err, &ie) {
		return ie.Kind
	}
	return ""
}
