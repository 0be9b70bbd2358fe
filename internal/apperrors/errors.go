// Package apperrors defines the error kinds surfaced by the health-cost core
// and their mapping to machine-readable codes.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrValidation indicates a missing or invalid required field.
	ErrValidation = errors.New("validation error")
	// ErrNotFound indicates a referenced batch or record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateTreatment indicates the diagnosis already has an adopted treatment.
	ErrDuplicateTreatment = errors.New("duplicate treatment")
	// ErrInvalidTransition indicates a state change out of a terminal or wrong state.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrComputationFailed indicates a cost computation aborted because a sub-query failed.
	ErrComputationFailed = errors.New("computation failed")
	// ErrStoreUnavailable indicates the underlying record store could not be reached.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrConflict indicates a concurrent writer modified the record first.
	ErrConflict = errors.New("conflict")
	// ErrForbidden indicates the principal lacks the capability for an action.
	ErrForbidden = errors.New("forbidden")
)

// Code is a machine-readable error code returned to callers.
type Code string

const (
	CodeUnknown            Code = "UNKNOWN"
	CodeValidation         Code = "VALIDATION_ERROR"
	CodeNotFound           Code = "NOT_FOUND"
	CodeDuplicateTreatment Code = "DUPLICATE_TREATMENT"
	CodeInvalidTransition  Code = "INVALID_TRANSITION"
	CodeComputationFailed  Code = "COMPUTATION_FAILED"
	CodeStoreUnavailable   Code = "STORE_UNAVAILABLE"
	CodeConflict           Code = "CONFLICT"
	CodeForbidden          Code = "FORBIDDEN"
)

var kinds = []struct {
	err  error
	code Code
}{
	{ErrValidation, CodeValidation},
	{ErrNotFound, CodeNotFound},
	{ErrDuplicateTreatment, CodeDuplicateTreatment},
	{ErrInvalidTransition, CodeInvalidTransition},
	{ErrComputationFailed, CodeComputationFailed},
	{ErrStoreUnavailable, CodeStoreUnavailable},
	{ErrConflict, CodeConflict},
	{ErrForbidden, CodeForbidden},
}

// Validation builds an ErrValidation with a human-readable message.
func Validation(format string, args ...any) error {
	return wrap(ErrValidation, format, args...)
}

// NotFound builds an ErrNotFound naming the missing entity.
func NotFound(format string, args ...any) error {
	return wrap(ErrNotFound, format, args...)
}

// DuplicateTreatment builds an ErrDuplicateTreatment.
func DuplicateTreatment(format string, args ...any) error {
	return wrap(ErrDuplicateTreatment, format, args...)
}

// InvalidTransition builds an ErrInvalidTransition.
func InvalidTransition(format string, args ...any) error {
	return wrap(ErrInvalidTransition, format, args...)
}

// Conflict builds an ErrConflict.
func Conflict(format string, args ...any) error {
	return wrap(ErrConflict, format, args...)
}

// Forbidden builds an ErrForbidden.
func Forbidden(format string, args ...any) error {
	return wrap(ErrForbidden, format, args...)
}

// StoreUnavailable tags a data-access failure while keeping the cause in the chain.
func StoreUnavailable(op string, cause error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, cause)
}

// ComputationFailed tags a cost computation failure with its originating cause.
// NotFound and Validation errors pass through unchanged.
func ComputationFailed(op string, cause error) error {
	if errors.Is(cause, ErrNotFound) || errors.Is(cause, ErrValidation) || errors.Is(cause, ErrComputationFailed) {
		return cause
	}
	return fmt.Errorf("%w: %s: %w", ErrComputationFailed, op, cause)
}

func wrap(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}

// CodeOf returns the code of the first known kind in err's chain.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	// ComputationFailed wraps StoreUnavailable, so it must win.
	if errors.Is(err, ErrComputationFailed) {
		return CodeComputationFailed
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.code
		}
	}
	return CodeUnknown
}

// HTTPStatus maps a code to the status used by the HTTP transport.
func HTTPStatus(code Code) int {
	switch code {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeDuplicateTreatment, CodeInvalidTransition, CodeConflict:
		return http.StatusConflict
	case CodeForbidden:
		return http.StatusForbidden
	case CodeStoreUnavailable:
		return http.StatusServiceUnavailable
	case "":
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}

// IsClientError reports whether err was caused by the caller rather than the system.
func IsClientError(err error) bool {
	switch CodeOf(err) {
	case CodeValidation, CodeNotFound, CodeDuplicateTreatment, CodeInvalidTransition, CodeConflict, CodeForbidden:
		return true
	}
	return false
}
