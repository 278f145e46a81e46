package flowgraph

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
)

var (
	// ErrInvalidFlow is matched by every flow validation failure.
	ErrInvalidFlow = errors.New("invalid flow definition")

	// ErrNodeNotFound indicates a node id absent from the flow graph.
	ErrNodeNotFound = errors.New("node not found in flow")
)

// ValidationError lists every defect found in a flow document.
type ValidationError struct {
	FlowID string
	errs   *multierror.Error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid flow %q: %s", e.FlowID, e.errs.Error())
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidFlow
}

// Problems returns the individual defects.
func (e *ValidationError) Problems() []error {
	return e.errs.Errors
}

func newValidationError(flowID string, errs *multierror.Error) error {
	if errs == nil || len(errs.Errors) == 0 {
		return nil
	}

	errs.ErrorFormat = func(list []error) string {
		messages := make([]string, 0, len(list))
		for _, err := range list {
			messages = append(messages, err.Error())
		}

		return strings.Join(messages, "; ")
	}

	return &ValidationError{FlowID: flowID, errs: errs}
}
