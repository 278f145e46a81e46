// Package events defines the plain-data messages exchanged between the scheduler,
// the batch workers, the condition evaluator and the send gateway.
package events

import (
	"time"

	"github.com/outflow/outflow/pkg/models"
)

type EventType string

const Topic = "outflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	BatchDispatchEvent       EventType = "batch.dispatch"
	BatchGroupCompletedEvent EventType = "batch.group_completed"
	ConditionEvaluationEvent EventType = "condition.evaluation"
	SendRequestedEvent       EventType = "message.send_requested"
	ExecutionFinishedEvent   EventType = "execution.finished"
)

type BaseEvent struct {
	ID          string    `json:"id"`
	Type        EventType `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	ExecutionID string    `json:"execution_id"`
}

// NewBaseEvent stamps an event of type t for an execution.
func NewBaseEvent(id string, t EventType, executionID string) BaseEvent {
	return BaseEvent{ID: id, Type: t, Timestamp: time.Now().UTC(), ExecutionID: executionID}
}

// BatchDispatch is one delayed batch of a batched stage. It carries the node and its
// outgoing edges so the worker can resume traversal without reloading the flow.
type BatchDispatch struct {
	BaseEvent

	StageID      string           `json:"stage_id"`
	GroupID      string           `json:"group_id"`
	Node         models.StageNode `json:"node"`
	Edges        []models.Edge    `json:"edges,omitempty"`
	BatchNumber  int              `json:"batch_number"`
	TotalBatches int              `json:"total_batches"`
	IsLast       bool             `json:"is_last"`
	ProspectIDs  []string         `json:"prospect_ids"`
	Content      models.Content   `json:"content"`
}

func (e BatchDispatch) GetType() EventType {
	return BatchDispatchEvent
}

// BatchGroupCompleted is emitted once per batch group, when the last batch reports
// or when the group times out.
type BatchGroupCompleted struct {
	BaseEvent

	GroupID         string `json:"group_id"`
	StageID         string `json:"stage_id"`
	ExpectedBatches int    `json:"expected_batches"`
	ReportedBatches int    `json:"reported_batches"`
	Sent            int    `json:"sent"`
	Failed          int    `json:"failed"`
	TimedOut        bool   `json:"timed_out"`
}

func (e BatchGroupCompleted) GetType() EventType {
	return BatchGroupCompletedEvent
}

// ConditionEvaluation asks the evaluator to route the cohort of a condition stage.
type ConditionEvaluation struct {
	BaseEvent

	StageID   string `json:"stage_id"`
	NodeID    string `json:"node_id"`
	MessageID string `json:"message_id"`
}

func (e ConditionEvaluation) GetType() EventType {
	return ConditionEvaluationEvent
}

// SendRequested hands one personalized message to the transport providers.
type SendRequested struct {
	BaseEvent

	MessageID      string         `json:"message_id"`
	IdempotencyKey string         `json:"idempotency_key"`
	Channel        models.Channel `json:"channel"`
	ProspectID     string         `json:"prospect_id"`
	Address        string         `json:"address"`
	Subject        string         `json:"subject,omitempty"`
	Body           string         `json:"body"`
	IsHTML         bool           `json:"is_html,omitempty"`
	Context        map[string]any `json:"context,omitempty"`
}

func (e SendRequested) GetType() EventType {
	return SendRequestedEvent
}

// ExecutionFinished announces that an execution reached a terminal state.
type ExecutionFinished struct {
	BaseEvent

	FlowID       string                 `json:"flow_id"`
	Origin       string                 `json:"origin,omitempty"`
	Status       models.ExecutionStatus `json:"status"`
	Error        string                 `json:"error,omitempty"`
	RealizedCost float64                `json:"realized_cost"`
}

func (e ExecutionFinished) GetType() EventType {
	return ExecutionFinishedEvent
}
