// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	ErrFlowNotFound      = errors.New("flow not found")
	ErrExecutionNotFound = errors.New("execution not found")
	ErrStageNotFound     = errors.New("execution stage not found")
	ErrImportNotFound    = errors.New("import not found")

	// ErrCheckpointNotFound indicates an import has no usable checkpoint to resume from.
	ErrCheckpointNotFound = errors.New("import checkpoint not found")

	// ErrInvalidTransition indicates a guarded update found the record in a state
	// that does not allow the requested change.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// ExecutionError wraps execution-related errors with additional context.
type ExecutionError struct {
	Op          string // Operation being performed (e.g. "CompleteExecution")
	ExecutionID string
	Err         error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s operation failed for execution %s: %v", e.Op, e.ExecutionID, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

func (e *ExecutionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func NewExecutionError(op, executionID string, err error) *ExecutionError {
	return &ExecutionError{Op: op, ExecutionID: executionID, Err: err}
}

// StageError wraps stage-related errors with additional context.
type StageError struct {
	Op      string
	StageID string
	Err     error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s operation failed for stage %s: %v", e.Op, e.StageID, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func (e *StageError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func NewStageError(op, stageID string, err error) *StageError {
	return &StageError{Op: op, StageID: stageID, Err: err}
}

// ImportError wraps import-related errors with additional context.
type ImportError struct {
	Op       string
	ImportID string
	Err      error
}

func (e *ImportError) Error() string {
	return fmt.Sprintf("%s operation failed for import %s: %v", e.Op, e.ImportID, e.Err)
}

func (e *ImportError) Unwrap() error {
	return e.Err
}

func NewImportError(op, importID string, err error) *ImportError {
	return &ImportError{Op: op, ImportID: importID, Err: err}
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrFlowNotFound) ||
		errors.Is(err, ErrExecutionNotFound) ||
		errors.Is(err, ErrStageNotFound) ||
		errors.Is(err, ErrImportNotFound) ||
		errors.Is(err, ErrCheckpointNotFound)
}

func IsInvalidTransition(err error) bool {
	return errors.Is(err, ErrInvalidTransition)
}
