package utils

import (
	"errors"
	"fmt"

	"k8s.io/klog/v2"
)

// Sentinel errors for common conditions.
// Use errors.Is() to check for these rather than string matching.
var (
	// ErrInvalidLockName indicates a lock name failed validation
	ErrInvalidLockName = errors.New("invalid lock name")

	// ErrInvalidMode indicates a lock mode other than exclusive or shared
	ErrInvalidMode = errors.New("invalid lock mode")

	// ErrInvalidParameter indicates an invalid parameter was provided
	ErrInvalidParameter = errors.New("invalid parameter")
)

// ErrorType classifies errors for logging and transport mapping
type ErrorType int

const (
	// ErrorTypeInternal indicates an internal error with implementation details
	ErrorTypeInternal ErrorType = iota

	// ErrorTypeValidation indicates a validation error (safe to show to callers)
	ErrorTypeValidation
)

// ValidationError describes a request that was rejected before it reached
// the lock manager.
type ValidationError struct {
	// Field is the offending input (name, mode, notifier, ...)
	Field string

	// Reason is a short human readable explanation
	Reason string

	// Err is the sentinel this error wraps
	Err error
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Reason)
}

// Unwrap returns the wrapped sentinel for errors.Is
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError creates a validation error wrapping sentinel.
// A nil sentinel defaults to ErrInvalidParameter.
func NewValidationError(field, reason string, sentinel error) *ValidationError {
	if sentinel == nil {
		sentinel = ErrInvalidParameter
	}
	return &ValidationError{Field: field, Reason: reason, Err: sentinel}
}

// IsValidationError reports whether err is (or wraps) a ValidationError
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ClassifyError returns the ErrorType for err
func ClassifyError(err error) ErrorType {
	if IsValidationError(err) {
		return ErrorTypeValidation
	}
	return ErrorTypeInternal
}

// LogError logs err at a level matching its classification.
// Validation errors are caller mistakes and only show up at V(4).
func LogError(operation string, err error) {
	if err == nil {
		return
	}
	switch ClassifyError(err) {
	case ErrorTypeValidation:
		klog.V(4).Infof("[VALIDATION ERROR] %s: %v", operation, err)
	default:
		klog.Errorf("[INTERNAL ERROR] %s: %v", operation, err)
	}
}
