// Package apierr defines the error taxonomy shared by the backend transport
// and the collection cache.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNetwork covers transport failures, timeouts and 5xx responses.
	ErrNetwork = errors.New("network error")

	// ErrAuth is returned for 401/403 responses; callers should re-authenticate
	// rather than retry.
	ErrAuth = errors.New("authentication required")

	// ErrValidation is returned when a response does not match the expected shape.
	ErrValidation = errors.New("invalid response")

	// ErrNotFound is returned when the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrRejected is returned when the backend refuses a request (400/409/422).
	ErrRejected = errors.New("request rejected")
)

// Error carries the kind of failure along with where it happened.
type Error struct {
	Kind   error
	Op     string
	Status int
	Err    error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// New builds an *Error of the given kind.
func New(kind error, op string, status int, cause error) *Error {
	return &Error{Kind: kind, Op: op, Status: status, Err: cause}
}

// Network wraps a transport failure.
func Network(op string, cause error) *Error {
	return New(ErrNetwork, op, 0, cause)
}

// Validation wraps a response shape failure.
func Validation(op string, cause error) *Error {
	return New(ErrValidation, op, 0, cause)
}

// FromStatus classifies a non-2xx HTTP status. It returns nil for 2xx.
func FromStatus(op string, status int, body string) error {
	if status >= 200 && status < 300 {
		return nil
	}
	var cause error
	if body != "" {
		cause = errors.New(body)
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return New(ErrAuth, op, status, cause)
	case status == http.StatusNotFound:
		return New(ErrNotFound, op, status, cause)
	case status == http.StatusBadRequest || status == http.StatusConflict || status == http.StatusUnprocessableEntity:
		return New(ErrRejected, op, status, cause)
	default:
		return New(ErrNetwork, op, status, cause)
	}
}

// Retryable reports whether another attempt could succeed.
func Retryable(err error) bool {
	return errors.Is(err, ErrNetwork)
}

// Kind returns a short label for the error, used in logs, metrics and JSON.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAuth):
		return "auth"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrRejected):
		return "rejected"
	case errors.Is(err, ErrNetwork):
		return "network"
	default:
		return "unknown"
	}
}

// HTTPStatus maps an error to the status the BFF answers with.
func HTTPStatus(err error) int {
	switch Kind(err) {
	case "auth":
		return http.StatusUnauthorized
	case "not_found":
		return http.StatusNotFound
	case "rejected":
		return http.StatusUnprocessableEntity
	case "validation":
		return http.StatusBadGateway
	case "network":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
