package models

import (
	"strconv"
	"time"
)

// StageStatus is the lifecycle state of an execution stage.
type StageStatus string

const (
	StageStatusPending   StageStatus = "pending"
	StageStatusExecuting StageStatus = "executing"
	StageStatusBatching  StageStatus = "batching"
	StageStatusCompleted StageStatus = "completed"
	StageStatusFailed    StageStatus = "failed"
)

func (s StageStatus) IsSettled() bool {
	return s == StageStatusCompleted || s == StageStatusFailed
}

func (s StageStatus) IsInFlight() bool {
	return s == StageStatusExecuting || s == StageStatusBatching
}

// ContentSource records where a stage took its content from.
type ContentSource string

const (
	ContentSourceTemplate ContentSource = "template"
	ContentSourceInline   ContentSource = "inline"
)

// Keys of ExecutionStage.Result.
const (
	ResultContentSource   = "content_source"
	ResultChannel         = "channel"
	ResultRecipients      = "recipients"
	ResultSent            = "sent"
	ResultFailed          = "failed"
	ResultBatchesTotal    = "batches_total"
	ResultBatchesReported = "batches_completed"
	ResultTimedOut        = "timed_out"
	ResultObserved        = "observed"
	ResultSatisfied       = "satisfied"
	ResultUnsatisfied     = "unsatisfied"
)

// ResultBatchKey is the result key holding the outcome of one batch of a batching stage.
func ResultBatchKey(batchNumber int) string {
	return "batch_" + strconv.Itoa(batchNumber)
}

// ExecutionStage is the per-node checkpoint of an execution.
type ExecutionStage struct {
	ID          string `json:"id"`
	ExecutionID string `json:"execution_id"`
	NodeID      string `json:"node_id"`
	// ProspectIDs is nil when the stage targets the whole cohort.
	ProspectIDs  []string       `json:"prospect_ids,omitempty"`
	ScheduledFor time.Time      `json:"scheduled_for"`
	ExecutedAt   *time.Time     `json:"executed_at,omitempty"`
	Status       StageStatus    `json:"status"`
	MessageID    string         `json:"message_id,omitempty"`
	Result       map[string]any `json:"result,omitempty"`
	Executed     bool           `json:"executed"`
	ErrorMessage string         `json:"error_message,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// CanEnter reports whether the scheduler may start work on the stage.
func (s *ExecutionStage) CanEnter() bool {
	return !s.Executed && s.Status == StageStatusPending
}

// Recipients returns the stage subset, or cohort when the stage has none.
func (s *ExecutionStage) Recipients(cohort []string) []string {
	if s.ProspectIDs != nil {
		return s.ProspectIDs
	}

	return cohort
}

// ResultInt reads an integer counter from the stage result.
func (s *ExecutionStage) ResultInt(key string) int {
	switch value := s.Result[key].(type) {
	case int:
		return value
	case int64:
		return int(value)
	case float64:
		return int(value)
	default:
		return 0
	}
}

// ResultString reads a string value from the stage result.
func (s *ExecutionStage) ResultString(key string) string {
	value, _ := s.Result[key].(string)

	return value
}
