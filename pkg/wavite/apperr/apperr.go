// Package apperr defines the error kinds the service reports to callers and
// how each maps onto an HTTP status.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// ValidationError is a user-correctable input problem.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// NotFoundError reports an unknown resource.
type NotFoundError struct {
	Resource string
}

func (e *NotFoundError) Error() string { return e.Resource + " not found" }

// ConflictError reports a uniqueness violation.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

// UpstreamError wraps a failure of the WhatsApp provider.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("whatsapp provider: %s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// AuthorizationError is a cross-tenant access attempt. It renders like a
// NotFoundError so the other tenant's resource is not revealed.
type AuthorizationError struct {
	Resource string
}

func (e *AuthorizationError) Error() string { return e.Resource + " not found" }

// Validation returns a ValidationError with a formatted message.
func Validation(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// NotFound returns a NotFoundError for resource.
func NotFound(resource string) error {
	return &NotFoundError{Resource: resource}
}

// Conflict returns a ConflictError with a formatted message.
func Conflict(format string, args ...any) error {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

// Upstream wraps a provider failure for op. An error that already is an
// UpstreamError is returned unchanged, and nil stays nil.
func Upstream(op string, err error) error {
	if err == nil {
		return nil
	}
	var up *UpstreamError
	if errors.As(err, &up) {
		return err
	}
	return &UpstreamError{Op: op, Err: err}
}

// Forbidden returns an AuthorizationError for resource.
func Forbidden(resource string) error {
	return &AuthorizationError{Resource: resource}
}

// IsNotFound reports whether err is a NotFoundError or AuthorizationError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	var az *AuthorizationError
	return errors.As(err, &nf) || errors.As(err, &az)
}

// IsUpstream reports whether err came from the WhatsApp provider.
func IsUpstream(err error) bool {
	var up *UpstreamError
	return errors.As(err, &up)
}

// Status maps err onto an HTTP status code.
func Status(err error) int {
	var (
		ve *ValidationError
		nf *NotFoundError
		ce *ConflictError
		az *AuthorizationError
	)
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.As(err, &nf), errors.As(err, &az):
		return http.StatusNotFound
	case errors.As(err, &ce):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Message is the text shown to authenticated callers. Unclassified errors
// are internal and are not echoed back.
func Message(err error) string {
	var (
		ve *ValidationError
		nf *NotFoundError
		ce *ConflictError
		az *AuthorizationError
		up *UpstreamError
	)
	if errors.As(err, &ve) || errors.As(err, &nf) || errors.As(err, &ce) || errors.As(err, &az) || errors.As(err, &up) {
		return err.Error()
	}
	return "Internal server error"
}
