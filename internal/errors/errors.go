// Package errors implements the kernel's structured error taxonomy.
// Every port and engine in appcm-diagkernel returns errors
// wrapped in AppError so callers can branch on Type instead of parsing
// messages.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType enumerates the kernel's error kinds.
type ErrorType string

const (
	ErrorTypeInvalidInput       ErrorType = "invalid_input"
	ErrorTypeBackpressure       ErrorType = "backpressure"
	ErrorTypeIllegalState       ErrorType = "illegal_state"
	ErrorTypeConnectorTransient ErrorType = "connector_transient"
	ErrorTypeConnectorPermanent ErrorType = "connector_permanent"
	ErrorTypeRuleMisconfigured  ErrorType = "rule_misconfigured"
	ErrorTypePreconditionFalse  ErrorType = "precondition_false"
	ErrorTypePostconditionFalse ErrorType = "postcondition_false"
	ErrorTypeSnapshotCorrupt    ErrorType = "snapshot_corrupt"
	ErrorTypeSnapshotMissing    ErrorType = "snapshot_missing"
	ErrorTypeResourceExhausted  ErrorType = "resource_exhausted"
	ErrorTypeCancelled          ErrorType = "cancelled"
	ErrorTypeInternal           ErrorType = "internal"
)

// statusCodes gives each error kind a default HTTP status for adapters
// that sit above the kernel (the kernel itself never serves HTTP).
var statusCodes = map[ErrorType]int{
	ErrorTypeInvalidInput:       http.StatusBadRequest,
	ErrorTypeBackpressure:       http.StatusTooManyRequests,
	ErrorTypeIllegalState:       http.StatusConflict,
	ErrorTypeConnectorTransient: http.StatusBadGateway,
	ErrorTypeConnectorPermanent: http.StatusBadGateway,
	ErrorTypeRuleMisconfigured:  http.StatusUnprocessableEntity,
	ErrorTypePreconditionFalse:  http.StatusConflict,
	ErrorTypePostconditionFalse: http.StatusConflict,
	ErrorTypeSnapshotCorrupt:    http.StatusInternalServerError,
	ErrorTypeSnapshotMissing:    http.StatusNotFound,
	ErrorTypeResourceExhausted:  http.StatusInsufficientStorage,
	ErrorTypeCancelled:          http.StatusRequestTimeout,
	ErrorTypeInternal:           http.StatusInternalServerError,
}

// AppError is the kernel's single structured error type.
type AppError struct {
	Type       ErrorType
	Message    string
	Details    string
	Cause      error
	StatusCode int
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Type, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithDetails attaches a details string and returns the same error
// (modified in place) so call sites can chain construction.
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// WithDetailsf is WithDetails with fmt.Sprintf formatting.
func (e *AppError) WithDetailsf(format string, args ...interface{}) *AppError {
	e.Details = fmt.Sprintf(format, args...)
	return e
}

// New creates an AppError of the given type.
func New(errType ErrorType, message string) *AppError {
	return &AppError{
		Type:       errType,
		Message:    message,
		StatusCode: statusCodes[errType],
	}
}

// Newf is New with fmt.Sprintf formatting on message.
func Newf(errType ErrorType, format string, args ...interface{}) *AppError {
	return New(errType, fmt.Sprintf(format, args...))
}

// Wrap attaches errType/message to an underlying cause.
func Wrap(cause error, errType ErrorType, message string) *AppError {
	return &AppError{
		Type:       errType,
		Message:    message,
		Cause:      cause,
		StatusCode: statusCodes[errType],
	}
}

// Wrapf is Wrap with fmt.Sprintf formatting on message.
func Wrapf(cause error, errType ErrorType, format string, args ...interface{}) *AppError {
	return Wrap(cause, errType, fmt.Sprintf(format, args...))
}

// IsType reports whether err is an AppError of the given type.
func IsType(err error, errType ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == errType
	}
	return false
}

// GetType returns err's ErrorType, or ErrorTypeInternal for non-AppErrors.
func GetType(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrorTypeInternal
}

// GetStatusCode returns err's adapter-facing HTTP status.
func GetStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

// LogFields renders err as logrus-ready structured fields.
func LogFields(err error) map[string]interface{} {
	fields := map[string]interface{}{"error": err.Error()}

	var appErr *AppError
	if errors.As(err, &appErr) {
		fields["error_type"] = string(appErr.Type)
		fields["status_code"] = appErr.StatusCode
		if appErr.Details != "" {
			fields["error_details"] = appErr.Details
		}
		if appErr.Cause != nil {
			fields["underlying_error"] = appErr.Cause.Error()
		}
	}
	return fields
}

// Retryable reports whether err represents a condition worth retrying
// locally (transient connector failures).
func Retryable(err error) bool {
	return IsType(err, ErrorTypeConnectorTransient)
}

// Chain folds a set of errors into one, skipping nils. A single
// remaining error is returned unwrapped; zero errors yields nil.
func Chain(errs ...error) error {
	var nonNil []error
	for _, e := range errs {
		if e != nil {
			nonNil = append(nonNil, e)
		}
	}
	switch len(nonNil) {
	case 0:
		return nil
	case 1:
		return nonNil[0]
	default:
		msg := nonNil[0].Error()
		for _, e := range nonNil[1:] {
			msg += "; " + e.Error()
		}
		return New(ErrorTypeInternal, msg)
	}
}
