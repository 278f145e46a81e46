// Package web provides the HTTP surface of the engine.
package web

import (
	"github.com/outflow/outflow/pkg/models"
)

// LaunchRequest represents the request body for launching an execution.
type LaunchRequest struct {
	FlowID      string   `json:"flow_id"      validate:"required"`
	ProspectIDs []string `json:"prospect_ids" validate:"required,min=1,dive,required"`
	Origin      string   `json:"origin"       validate:"max=128"`
}

// ImportRequest represents the request body for importing a prospect file.
type ImportRequest struct {
	Path string `json:"path" validate:"required"`
}

// ExecutionListResponse wraps a page of executions.
type ExecutionListResponse struct {
	Executions []*models.Execution `json:"executions"`
	Limit      int                 `json:"limit"`
	Offset     int                 `json:"offset"`
}

// StagesResponse lists the stages of one execution.
type StagesResponse struct {
	ExecutionID string                   `json:"execution_id"`
	Stages      []*models.ExecutionStage `json:"stages"`
}
