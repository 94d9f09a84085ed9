package errors

import (
	"context"
	"fmt"
	"net/http"

	"github.com/cockroachdb/errors"
)

// Common error types that can be used across the application
var (
	ErrNotFound         = new(ErrCodeNotFound, "resource not found")
	ErrAlreadyExists    = new(ErrCodeAlreadyExists, "resource already exists")
	ErrVersionConflict  = new(ErrCodeVersionConflict, "version conflict")
	ErrValidation       = new(ErrCodeValidation, "validation error")
	ErrInvalidOperation = new(ErrCodeInvalidOperation, "invalid operation")
	ErrVerification     = new(ErrCodeVerification, "event verification failed")
	ErrConfiguration    = new(ErrCodeConfiguration, "configuration error")
	ErrTransient        = new(ErrCodeTransient, "transient failure")
	ErrEventInFlight    = new(ErrCodeEventInFlight, "event is being processed")
	ErrHTTPClient       = new(ErrCodeHTTPClient, "http client error")
	ErrDatabase         = new(ErrCodeDatabase, "database error")
	ErrSystem           = new(ErrCodeSystemError, "system error")
)

// statusCodes maps errors to http status codes. It is ordered: an error can
// carry several marks and the first match wins.
var statusCodes = []struct {
	err    error
	status int
}{
	{ErrVerification, http.StatusBadRequest},
	{ErrConfiguration, http.StatusInternalServerError},
	{ErrValidation, http.StatusBadRequest},
	{ErrInvalidOperation, http.StatusBadRequest},
	{ErrEventInFlight, http.StatusConflict},
	{ErrVersionConflict, http.StatusConflict},
	{ErrAlreadyExists, http.StatusConflict},
	{ErrNotFound, http.StatusNotFound},
	{ErrTransient, http.StatusServiceUnavailable},
	{ErrHTTPClient, http.StatusInternalServerError},
	{ErrDatabase, http.StatusInternalServerError},
	{ErrSystem, http.StatusInternalServerError},
}

const (
	ErrCodeHTTPClient       = "http_client_error"
	ErrCodeSystemError      = "system_error"
	ErrCodeNotFound         = "not_found"
	ErrCodeAlreadyExists    = "already_exists"
	ErrCodeVersionConflict  = "version_conflict"
	ErrCodeValidation       = "validation_error"
	ErrCodeInvalidOperation = "invalid_operation"
	ErrCodeVerification     = "verification_error"
	ErrCodeConfiguration    = "configuration_error"
	ErrCodeTransient        = "transient_error"
	ErrCodeEventInFlight    = "event_in_flight"
	ErrCodeDatabase         = "database_error"
)

// InternalError represents a domain error
type InternalError struct {
	Code    string // Machine-readable error code
	Message string // Human-readable error message
	Op      string // Logical operation name
	Err     error  // Underlying error
}

func (e *InternalError) Error() string {
	if e.Err == nil {
		return e.DisplayError()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Err.Error())
}

func (e *InternalError) DisplayError() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *InternalError) Unwrap() error {
	return e.Err
}

// Is implements error matching for wrapped errors
func (e *InternalError) Is(target error) bool {
	if target == nil {
		return false
	}

	t, ok := target.(*InternalError)
	if !ok {
		return errors.Is(e.Err, target)
	}

	return e.Code == t.Code
}

// New creates a new InternalError
func new(code string, message string) *InternalError {
	return &InternalError{
		Code:    code,
		Message: message,
	}
}

func As(err error, target any) bool {
	return errors.As(err, target)
}

func Is(err, reference error) bool {
	return errors.Is(err, reference)
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if an error is an already exists error
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsVersionConflict checks if an error is a version conflict error
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

// IsValidation checks if an error is a validation error
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsVerification checks if an error is an event verification error
func IsVerification(err error) bool {
	return errors.Is(err, ErrVerification)
}

// IsEventInFlight checks if an error reports a concurrent delivery of the same event
func IsEventInFlight(err error) bool {
	return errors.Is(err, ErrEventInFlight)
}

// IsTransient reports whether the failure is eligible for redelivery by the sender.
// Timeouts, version conflicts, in-flight duplicates and database errors all are.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient) ||
		errors.Is(err, ErrDatabase) ||
		errors.Is(err, ErrVersionConflict) ||
		errors.Is(err, ErrEventInFlight) ||
		errors.Is(err, context.DeadlineExceeded)
}

func HTTPStatusFromErr(err error) int {
	for _, sc := range statusCodes {
		if errors.Is(err, sc.err) {
			return sc.status
		}
	}
	return http.StatusInternalServerError
}
