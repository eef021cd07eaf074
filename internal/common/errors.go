package common

import (
	"errors"
	"fmt"
)

// Domain errors - use errors.Is() to check
var (
	// Generic errors
	ErrNotFound = errors.New("not found")

	// Resource-specific errors
	ErrJobNotFound = fmt.Errorf("job %w", ErrNotFound)

	// Computation errors: recorded against the job, never a system fault
	ErrInsufficientData = errors.New("insufficient data")
	ErrNoPriceData      = fmt.Errorf("no price rows: %w", ErrInsufficientData)
	ErrTooFewSymbols    = fmt.Errorf("too few symbols: %w", ErrInsufficientData)

	// Operational errors
	ErrNoWorkers   = errors.New("no active workers")
	ErrUnavailable = errors.New("service unavailable")

	// Validation errors
	ErrValidation = errors.New("validation error")
)

// ValidationError represents a validation error with field details
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Is implements errors.Is for ValidationError
func (e ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// WrapUnavailable marks an infrastructure failure as transient
func WrapUnavailable(operation string, err error) error {
	return fmt.Errorf("%s: %w", operation, errors.Join(ErrUnavailable, err))
}

// IsNotFound checks if error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsInsufficientData checks if a job failed for lack of data
func IsInsufficientData(err error) bool {
	return errors.Is(err, ErrInsufficientData)
}

// IsUnavailable checks if error is a transient infrastructure error
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// IsValidation checks if error is a validation error
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}
