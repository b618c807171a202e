package directory

import (
	"fmt"
	"net/http"

	"humanitylink/pkg/platform/sentinel"
)

// Error describes one failed directory call. It unwraps to the sentinel
// matching its class so callers can branch with errors.Is.
type Error struct {
	Op         string
	StatusCode int
	Message    string
	Underlying error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("directory %s: status %d: %s", e.Op, e.StatusCode, e.Message)
	}
	if e.Underlying != nil {
		return fmt.Sprintf("directory %s: %s: %v", e.Op, e.Message, e.Underlying)
	}
	return fmt.Sprintf("directory %s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() []error {
	errs := []error{e.class()}
	if e.Underlying != nil {
		errs = append(errs, e.Underlying)
	}
	return errs
}

// class maps the response to a sentinel. Auth failures and throttling count
// as unreachable: the request itself was fine.
func (e *Error) class() error {
	switch {
	case e.StatusCode == 0,
		e.StatusCode >= http.StatusInternalServerError,
		e.StatusCode == http.StatusTooManyRequests,
		e.StatusCode == http.StatusUnauthorized,
		e.StatusCode == http.StatusForbidden,
		e.StatusCode == http.StatusRequestTimeout:
		return sentinel.ErrUnavailable
	case e.StatusCode == http.StatusNotFound:
		return sentinel.ErrNotFound
	default:
		return sentinel.ErrRejected
	}
}

// countsAsFailure reports whether the breaker should see this error.
func (e *Error) countsAsFailure() bool {
	return e.class() == sentinel.ErrUnavailable
}
