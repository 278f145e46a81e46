package models

import "time"

// BatchPlanKind describes how a cohort is sent.
type BatchPlanKind string

const (
	BatchPlanDirect  BatchPlanKind = "direct"
	BatchPlanBatched BatchPlanKind = "batched"
	BatchPlanEmpty   BatchPlanKind = "empty"
)

// BatchDescriptor describes one scheduled batch.
type BatchDescriptor struct {
	Number int           `json:"number"`
	Size   int           `json:"size"`
	Delay  time.Duration `json:"delay"`
	IsLast bool          `json:"is_last"`
}

// BatchPlan is the outcome of planning a send for a cohort.
type BatchPlan struct {
	Kind        BatchPlanKind     `json:"kind"`
	GroupID     string            `json:"group_id,omitempty"`
	ProspectIDs []string          `json:"prospect_ids,omitempty"`
	Batches     []BatchDescriptor `json:"batches,omitempty"`
}
