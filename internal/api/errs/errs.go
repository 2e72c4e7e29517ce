// Package errs provides the single error shape returned by the API.
package errs

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/NIRALUser/clusterpost/internal/domain/executionserver"
	"github.com/NIRALUser/clusterpost/internal/domain/jobs"
)

// Code is the kind of an API error.
type Code struct {
	value string
	http  int
}

// String returns the wire name of the code.
func (c Code) String() string { return c.value }

// HTTPStatus returns the status code the error is sent with.
func (c Code) HTTPStatus() int { return c.http }

// The set of error codes returned by the API.
var (
	InvalidArgument = Code{value: "invalid_argument", http: http.StatusBadRequest}
	Unauthenticated = Code{value: "unauthenticated", http: http.StatusUnauthorized}
	Unauthorized    = Code{value: "unauthorized", http: http.StatusUnauthorized}
	NotFound        = Code{value: "not_found", http: http.StatusNotFound}
	Conflict        = Code{value: "conflict", http: http.StatusConflict}
	Configuration   = Code{value: "configuration", http: http.StatusInternalServerError}
	Implementation  = Code{value: "implementation", http: http.StatusInternalServerError}
	Internal        = Code{value: "internal", http: http.StatusInternalServerError}
)

// Error is an error returned to API clients.
type Error struct {
	Code    Code   `json:"-"`
	Message string `json:"message"`
}

// New wraps err with the given code.
func New(code Code, err error) *Error {
	return &Error{Code: code, Message: err.Error()}
}

// Newf creates an error with a formatted message.
func Newf(code Code, format string, v ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, v...)}
}

// FromDomain picks the code matching a domain error. Errors already of type
// *Error are returned unchanged.
func FromDomain(err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}

	switch {
	case errors.Is(err, jobs.ErrJobNotFound),
		errors.Is(err, jobs.ErrArtifactNotFound),
		errors.Is(err, executionserver.ErrServerNotFound):
		return New(NotFound, err)
	case errors.Is(err, jobs.ErrUnauthorized):
		return New(Unauthorized, err)
	case errors.Is(err, jobs.ErrConflict):
		return New(Conflict, err)
	case errors.Is(err, jobs.ErrConfiguration):
		return New(Configuration, err)
	case errors.Is(err, jobs.ErrImplementation):
		return New(Implementation, err)
	case errors.Is(err, jobs.ErrInvalidJob),
		errors.Is(err, jobs.ErrNotJobDocument),
		errors.Is(err, jobs.ErrInvalidTransition):
		return New(InvalidArgument, err)
	default:
		return New(Internal, err)
	}
}

// Error implements the error interface.
func (e *Error) Error() string { return e.Message }

// Encode implements the web.Encoder interface.
func (e *Error) Encode() ([]byte, string, error) {
	data, err := json.Marshal(struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}{Code: e.Code.String(), Message: e.Message})
	return data, "application/json", err
}

// HTTPStatus implements the web httpStatus interface.
func (e *Error) HTTPStatus() int { return e.Code.HTTPStatus() }

// Is matches errors carrying the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// IsError reports whether err is an *Error.
func IsError(err error) bool {
	var e *Error
	return errors.As(err, &e)
}
