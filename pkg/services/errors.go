// Package services exposes the engine operations that collaborators call: launching
// and controlling executions, reading them back, storing flows and running imports.
package services

import (
	"errors"
	"fmt"

	"github.com/outflow/outflow/pkg/flowgraph"
	"github.com/outflow/outflow/pkg/persistence"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest = errors.New("invalid request")
	ErrEmptyCohort    = errors.New("execution needs at least one prospect")

	// Business Logic Conflicts (409 Conflict).
	ErrFlowExists      = errors.New("flow already exists and flows are immutable")
	ErrExecutionStatus = errors.New("execution is not in a state that allows this operation")
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrEmptyCohort) ||
		errors.Is(err, flowgraph.ErrInvalidFlow)
}

// IsConflictError checks if an error is a business logic conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrFlowExists) ||
		errors.Is(err, ErrExecutionStatus) ||
		persistence.IsInvalidTransition(err)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
