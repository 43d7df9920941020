// Package apperr defines the error taxonomy shared by the service, provider
// client and HTTP layers. Every error that reaches the HTTP error middleware is
// lifted into an *Error so that status and message are decided in one place.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"
)

type Kind string

const (
	KindValidation  Kind = "validation"
	KindAuth        Kind = "auth"
	KindForbidden   Kind = "forbidden"
	KindNotFound    Kind = "not_found"
	KindRateLimit   Kind = "rate_limit"
	KindUpstream    Kind = "upstream"
	KindUnavailable Kind = "unavailable"
	KindInternal    Kind = "internal"
)

const defaultInternalMessage = "Server Error"

type Error struct {
	Kind    Kind
	Status  int
	Message string
	// Fields holds per-field validation messages.
	Fields map[string]string
	// Retryable marks conditions the caller may retry later (rate limited upstream).
	Retryable bool
	Err       error

	pcs []uintptr
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Stack renders the call stack captured when the error was created.
func (e *Error) Stack() string {
	if e == nil || len(e.pcs) == 0 {
		return ""
	}
	frames := runtime.CallersFrames(e.pcs)
	var b strings.Builder
	for {
		frame, more := frames.Next()
		fmt.Fprintf(&b, "%s\n\t%s:%d\n", frame.Function, frame.File, frame.Line)
		if !more {
			break
		}
	}
	return b.String()
}

func newError(kind Kind, status int, message string, cause error) *Error {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(3, pcs)
	return &Error{
		Kind:    kind,
		Status:  status,
		Message: message,
		Err:     cause,
		pcs:     pcs[:n],
	}
}

func Validation(message string, fields map[string]string) *Error {
	e := newError(KindValidation, http.StatusBadRequest, message, nil)
	e.Fields = fields
	return e
}

func Auth(message string) *Error {
	return newError(KindAuth, http.StatusUnauthorized, message, nil)
}

func Forbidden(message string) *Error {
	return newError(KindForbidden, http.StatusForbidden, message, nil)
}

func NotFound(message string) *Error {
	return newError(KindNotFound, http.StatusNotFound, message, nil)
}

func RateLimit(message string) *Error {
	e := newError(KindRateLimit, http.StatusTooManyRequests, message, nil)
	e.Retryable = true
	return e
}

// Upstream reports a provider failure. A status outside the 4xx/5xx range is
// generalized to 502.
func Upstream(status int, message string, cause error) *Error {
	if status < 400 || status > 599 {
		status = http.StatusBadGateway
	}
	return newError(KindUpstream, status, message, cause)
}

func Unavailable(message string, cause error) *Error {
	return newError(KindUnavailable, http.StatusInternalServerError, message, cause)
}

func Internal(message string, cause error) *Error {
	if strings.TrimSpace(message) == "" {
		message = defaultInternalMessage
	}
	return newError(KindInternal, http.StatusInternalServerError, message, cause)
}

// WithStatus overrides the HTTP status, keeping kind and message.
func (e *Error) WithStatus(status int) *Error {
	if e != nil && status >= 400 && status <= 599 {
		e.Status = status
	}
	return e
}

// From lifts any error into the taxonomy. Unknown errors become internal errors.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal(defaultInternalMessage, err)
}

func IsKind(err error, kind Kind) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind == kind
	}
	return false
}
