package scraper

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrTimeout wraps a fetch that ran out of time.
type ErrTimeout struct {
	Err error
}

func (e ErrTimeout) Error() string { return fmt.Sprintf("timeout: %v", e.Err) }
func (e ErrTimeout) Unwrap() error { return e.Err }

// ErrConnection wraps a fetch that never reached the target.
type ErrConnection struct {
	Err error
}

func (e ErrConnection) Error() string { return fmt.Sprintf("connection: %v", e.Err) }
func (e ErrConnection) Unwrap() error { return e.Err }

// ErrStatus wraps a response with an unsuccessful HTTP status.
type ErrStatus struct {
	Code int
	Err  error
}

func (e ErrStatus) Error() string { return fmt.Sprintf("%s %d: %v", e.Label(), e.Code, e.Err) }
func (e ErrStatus) Unwrap() error { return e.Err }

// statusLabels names the statuses counted apart from the generic "status".
var statusLabels = map[int]string{
	http.StatusForbidden:       "forbidden",
	http.StatusNotFound:        "not_found",
	http.StatusTooManyRequests: "rate_limited",
}

// Label is the errors_total label for the status.
func (e ErrStatus) Label() string {
	if label, ok := statusLabels[e.Code]; ok {
		return label
	}
	return "status"
}

func errorTypeLabel(err error) string {
	var (
		timeout ErrTimeout
		conn    ErrConnection
		status  ErrStatus
	)
	switch {
	case err == nil:
		return "unknown"
	case errors.As(err, &timeout):
		return "timeout"
	case errors.As(err, &conn):
		return "connection"
	case errors.As(err, &status):
		return status.Label()
	default:
		return "other"
	}
}
