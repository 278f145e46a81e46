package models

import "time"

// ExecutionStatus is the lifecycle state of an execution.
type ExecutionStatus string

const (
	ExecutionStatusPending    ExecutionStatus = "pending"
	ExecutionStatusInProgress ExecutionStatus = "in_progress"
	ExecutionStatusPaused     ExecutionStatus = "paused"
	ExecutionStatusCompleted  ExecutionStatus = "completed"
	ExecutionStatusFailed     ExecutionStatus = "failed"
)

var executionTransitions = map[ExecutionStatus][]ExecutionStatus{
	ExecutionStatusPending:    {ExecutionStatusInProgress, ExecutionStatusPaused, ExecutionStatusCompleted, ExecutionStatusFailed},
	ExecutionStatusInProgress: {ExecutionStatusPaused, ExecutionStatusCompleted, ExecutionStatusFailed},
	ExecutionStatusPaused:     {ExecutionStatusInProgress, ExecutionStatusFailed},
}

func (s ExecutionStatus) IsValid() bool {
	switch s {
	case ExecutionStatusPending, ExecutionStatusInProgress, ExecutionStatusPaused,
		ExecutionStatusCompleted, ExecutionStatusFailed:
		return true
	}

	return false
}

func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed
}

// CanTransitionTo reports whether moving from s to next is allowed.
// Terminal states have no outgoing transitions.
func (s ExecutionStatus) CanTransitionTo(next ExecutionStatus) bool {
	for _, allowed := range executionTransitions[s] {
		if allowed == next {
			return true
		}
	}

	return false
}

// SourcesFor returns every status that may transition into next.
func SourcesFor(next ExecutionStatus) []ExecutionStatus {
	var sources []ExecutionStatus

	for _, from := range []ExecutionStatus{ExecutionStatusPending, ExecutionStatusInProgress, ExecutionStatusPaused} {
		if from.CanTransitionTo(next) {
			sources = append(sources, from)
		}
	}

	return sources
}

// Execution is one run of a flow against a cohort of prospects.
type Execution struct {
	ID            string          `json:"id"`
	FlowID        string          `json:"flow_id"                  validate:"required"`
	Origin        string          `json:"origin"`
	ProspectIDs   []string        `json:"prospect_ids"             validate:"required,min=1,dive,required"`
	CurrentNodeID string          `json:"current_node_id,omitempty"`
	NextNodeID    *string         `json:"next_node_id,omitempty"`
	NextDueAt     *time.Time      `json:"next_due_at,omitempty"`
	Status        ExecutionStatus `json:"status"`
	ErrorMessage  string          `json:"error_message,omitempty"`
	EstimatedCost float64         `json:"estimated_cost"`
	RealizedCost  *float64        `json:"realized_cost,omitempty"`
	StartedAt     *time.Time      `json:"started_at,omitempty"`
	EndedAt       *time.Time      `json:"ended_at,omitempty"`
	PausedAt      *time.Time      `json:"paused_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// IsDue reports whether the scheduler should pick the execution up at now.
func (e *Execution) IsDue(now time.Time) bool {
	if e.Status != ExecutionStatusPending && e.Status != ExecutionStatusInProgress {
		return false
	}

	return e.NextNodeID != nil && e.NextDueAt != nil && !e.NextDueAt.After(now)
}

// ExecutionFilter narrows execution read models.
type ExecutionFilter struct {
	FlowID string
	Origin string
	Status ExecutionStatus
	Limit  int
	Offset int
}
