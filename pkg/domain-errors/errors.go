// Package domainerrors provides coded errors for the service's public
// operations. Services attach a Code so transport layers can map failures to
// responses without string matching, and callers can branch on HasCode.
//
// Infrastructure packages return pkg/platform/sentinel errors instead;
// services translate those into coded errors at the boundary.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies a domain error.
type Code string

const (
	CodeBadRequest         Code = "bad_request"
	CodeInvalidInput       Code = "invalid_input"
	CodeForbidden          Code = "forbidden"
	CodeNotFound           Code = "not_found"
	CodeConflict           Code = "conflict"
	CodeInvariantViolation Code = "invariant_violation"
	CodeInternal           Code = "internal_error"
	CodeUnavailable        Code = "unavailable"

	// Fulfillment-specific codes. Each implies a distinct corrective action
	// for the operator, so they must stay distinguishable.
	CodeNoEligibleCertificates Code = "no_eligible_certificates"
	CodeInsufficientStock      Code = "insufficient_stock"
	CodeStorageError           Code = "storage_error"
	CodeInvalidReport          Code = "invalid_report"
)

// Error is a coded domain error with an optional wrapped cause.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a coded error without a cause.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, message string) error {
	return &Error{Code: code, Message: message, cause: err}
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code Code) bool {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Code == code
	}
	return false
}

// CodeOf returns the code carried by err, or CodeInternal when err is not a
// domain error. A nil err has no code; callers should check err first.
func CodeOf(err error) Code {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return CodeInternal
}

// MessageOf returns the caller-safe message of a domain error, or an empty
// string for unclassified errors whose text must not leak to clients.
func MessageOf(err error) string {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Message
	}
	return ""
}
