package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure. The string value is what clients see in the
// "type" field of an error payload.
type Kind string

const (
	KindSchema     Kind = "SCHEMA"
	KindInvalid    Kind = "INVALID"
	KindPermission Kind = "PERMISSION"
	KindAuth       Kind = "AUTH"
	KindNotFound   Kind = "EXIST"
	KindConfig     Kind = "CONFIG"
	KindInternal   Kind = "INTERNAL"
)

// Error is the error type returned by every core operation and plugin hook.
type Error struct {
	Kind    Kind
	Message string
	// Data carries structured details: the violation list of a schema error,
	// the accepted values of an enum, and so on.
	Data any
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus maps the kind to a response status code.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindSchema, KindInvalid:
		return http.StatusBadRequest
	case KindPermission:
		return http.StatusForbidden
	case KindAuth:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Payload is the JSON body written for this error.
func (e *Error) Payload() map[string]any {
	body := map[string]any{
		"code":    e.HTTPStatus(),
		"type":    string(e.Kind),
		"message": e.Message,
	}
	if e.Data != nil {
		body["data"] = e.Data
	}
	return body
}

// Violation is one failed constraint of a schema error.
type Violation struct {
	Field      string `json:"field"`
	Constraint string `json:"constraint"`
	Param      string `json:"param,omitempty"`
}

func Schema(message string, violations ...Violation) *Error {
	e := &Error{Kind: KindSchema, Message: message}
	if len(violations) > 0 {
		e.Data = violations
	}
	return e
}

func Invalid(message string) *Error {
	return &Error{Kind: KindInvalid, Message: message}
}

// InvalidWith is Invalid with structured data attached.
func InvalidWith(message string, data any) *Error {
	return &Error{Kind: KindInvalid, Message: message, Data: data}
}

func Permission(message string) *Error {
	return &Error{Kind: KindPermission, Message: message}
}

func Unauthenticated(message string) *Error {
	return &Error{Kind: KindAuth, Message: message}
}

func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

func Config(message string) *Error {
	return &Error{Kind: KindConfig, Message: message}
}

// Internal wraps an unexpected failure. The cause is kept for logging and is
// never sent to clients.
func Internal(message string, err error) *Error {
	return &Error{Kind: KindInternal, Message: message, Err: err}
}

// As extracts an *Error from err. Anything that is not already classified is
// reported as an internal error.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal("Internal server error", err)
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
