// Package batchgroup tracks the batches of one batched stage and announces, once per
// group, that every batch reported or that the group timed out.
package batchgroup

import (
	"context"
	"errors"
	"time"
)

var ErrUnknownGroup = errors.New("unknown batch group")

// FiringLease is how long a handed-out completion stays claimed. A caller that dies
// before MarkFired or Release leaves the group to the sweep once the lease runs out.
const FiringLease = time.Minute

// Group is registered before its first batch is enqueued.
type Group struct {
	ID          string
	ExecutionID string
	StageID     string
	Expected    int
	// Deadline is when the sweep gives up waiting for missing batches.
	Deadline time.Time
}

// Completion is the aggregate of a group at the moment it completed or timed out.
type Completion struct {
	GroupID     string
	ExecutionID string
	StageID     string
	Expected    int
	Reported    int
	Sent        int
	Failed      int
	TimedOut    bool
}

// Tracker stores group progress. Completion is driven by the order confirmations
// arrive in, never by batch numbers: whichever report brings the count to Expected
// completes the group.
type Tracker interface {
	// Register is a no-op when the group already exists.
	Register(ctx context.Context, group Group) error
	// ClaimSlot reports whether the caller is the first to claim the batch.
	ClaimSlot(ctx context.Context, groupID string, batchNumber int) (bool, error)
	// Report records a batch outcome once per batch number. When the group is
	// complete it returns the completion to exactly one caller, which then holds the
	// group for FiringLease.
	Report(ctx context.Context, groupID string, batchNumber, sent, failed int) (*Completion, error)
	// Expired claims unfired groups whose deadline passed and which nobody holds.
	Expired(ctx context.Context, now time.Time) ([]*Completion, error)
	MarkFired(ctx context.Context, groupID string) error
	// Release hands a claimed group back after its completion could not be published.
	Release(ctx context.Context, groupID string) error
}
