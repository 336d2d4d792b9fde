// Package errors defines the typed error used across services. Each Code maps
// to an HTTP status, a retry hint and the message clients are allowed to see.
package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeForbidden     Code = "FORBIDDEN"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeIdempotency   Code = "IDEMPOTENCY_KEY_REUSED"
	CodeRateLimit     Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDependency    Code = "DEPENDENCY_ERROR"
	CodeGateway       Code = "GATEWAY_ERROR"

	CodeCouponInvalid   Code = "COUPON_INVALID"
	CodeCouponExpired   Code = "COUPON_EXPIRED"
	CodeCouponExhausted Code = "COUPON_EXHAUSTED"
)

type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

const (
	final     = false
	retryable = true
	hidden    = false
	shown     = true
)

var metadataByCode = map[Code]Metadata{
	CodeValidation:      {http.StatusBadRequest, final, "validation failed", shown},
	CodeUnauthorized:    {http.StatusUnauthorized, final, "authentication required", hidden},
	CodeForbidden:       {http.StatusForbidden, final, "access denied", hidden},
	CodeNotFound:        {http.StatusNotFound, final, "resource not found", hidden},
	CodeConflict:        {http.StatusConflict, final, "conflict detected", hidden},
	CodeStateConflict:   {http.StatusUnprocessableEntity, final, "state transition disallowed", shown},
	CodeIdempotency:     {http.StatusConflict, final, "idempotency key reused", shown},
	CodeRateLimit:       {http.StatusTooManyRequests, final, "rate limit exceeded", hidden},
	CodeInternal:        {http.StatusInternalServerError, retryable, "internal server error", hidden},
	CodeDependency:      {http.StatusServiceUnavailable, retryable, "dependency unavailable", shown},
	CodeGateway:         {http.StatusBadGateway, retryable, "payment gateway error", shown},
	CodeCouponInvalid:   {http.StatusBadRequest, final, "coupon is not applicable", shown},
	CodeCouponExpired:   {http.StatusBadRequest, final, "coupon has expired", hidden},
	CodeCouponExhausted: {http.StatusConflict, final, "coupon usage limit reached", hidden},
}

// MetadataFor falls back to CodeInternal for unknown codes.
func MetadataFor(code Code) Metadata {
	meta, ok := metadataByCode[code]
	if !ok {
		return metadataByCode[CodeInternal]
	}
	return meta
}

// Error carries a Code, an operator-facing message, optional client details
// and the underlying cause.
type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

// Wrap attaches code and message to err. A nil err behaves like New.
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

// WithDetails sets the payload exposed to clients when the code allows it.
func (e *Error) WithDetails(details any) *Error {
	if e != nil {
		e.details = details
	}
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// As returns the outermost *Error in err's chain, or nil.
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
