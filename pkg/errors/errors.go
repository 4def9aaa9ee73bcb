// Package errors defines the typed errors surfaced by CIM services and how
// each code is rendered over HTTP.
package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

// Code names a failure class. The code alone decides the HTTP status and how
// much of an error the caller gets to see.
type Code string

const (
	CodeValidation   Code = "VALIDATION_ERROR"
	CodeUnauthorized Code = "UNAUTHORIZED"
	CodeForbidden    Code = "FORBIDDEN"
	CodeNotFound     Code = "NOT_FOUND"
	CodeIdempotency  Code = "IDEMPOTENCY_KEY_REUSED"
	CodeRateLimit    Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal     Code = "INTERNAL_ERROR"
	// CodeDependency covers storage and broker faults, including settlement
	// transactions that time out or fail to commit.
	CodeDependency Code = "DEPENDENCY_ERROR"
	// CodeInsufficientStock is a conditional stock decrement that matched no
	// row. Details carry the limiting product_id.
	CodeInsufficientStock Code = "INSUFFICIENT_STOCK"
)

type rendering struct {
	status   int
	fallback string
	// caller faults show their own message; server faults only the fallback
	callerFault bool
	details     bool
	retryable   bool
}

var renderings = map[Code]rendering{
	CodeValidation:        {status: http.StatusBadRequest, fallback: "validation failed", callerFault: true, details: true},
	CodeUnauthorized:      {status: http.StatusUnauthorized, fallback: "authentication required", callerFault: true},
	CodeForbidden:         {status: http.StatusForbidden, fallback: "access denied", callerFault: true},
	CodeNotFound:          {status: http.StatusNotFound, fallback: "resource not found", callerFault: true},
	CodeIdempotency:       {status: http.StatusConflict, fallback: "idempotency key reused", callerFault: true, details: true},
	CodeRateLimit:         {status: http.StatusTooManyRequests, fallback: "rate limit exceeded", callerFault: true, retryable: true},
	CodeInsufficientStock: {status: http.StatusConflict, fallback: "insufficient stock", callerFault: true, details: true},
	CodeDependency:        {status: http.StatusServiceUnavailable, fallback: "dependency unavailable", retryable: true},
	CodeInternal:          {status: http.StatusInternalServerError, fallback: "internal server error", retryable: true},
}

func (c Code) rendering() rendering {
	if r, ok := renderings[c]; ok {
		return r
	}
	return renderings[CodeInternal]
}

// Status is the HTTP status for c. Unknown codes map to 500.
func (c Code) Status() int { return c.rendering().status }

// Retryable reports whether repeating the same request can succeed.
func (c Code) Retryable() bool { return c.rendering().retryable }

// Error is a coded error with an optional cause and caller-visible details.
type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap attaches code to err. The cause is never shown to callers.
func Wrap(code Code, err error, message string) *Error {
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

// WithDetails attaches details and returns e for chaining.
func (e *Error) WithDetails(details any) *Error {
	if e != nil {
		e.details = details
	}
	return e
}

// Public returns the message and details a caller may see.
func (e *Error) Public() (string, any) {
	r := e.Code().rendering()
	msg := r.fallback
	if r.callerFault && e.Message() != "" {
		msg = e.message
	}
	if !r.details {
		return msg, nil
	}
	return msg, e.Details()
}

func (e *Error) Error() string {
	switch {
	case e == nil:
		return "<nil>"
	case e.cause == nil:
		return string(e.code) + ": " + e.message
	default:
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	}
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// As returns the outermost *Error in err's chain.
func As(err error) *Error {
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

func IsCode(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.code == code
}
