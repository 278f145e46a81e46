package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperatorCompare(t *testing.T) {
	tests := []struct {
		op        Operator
		observed  float64
		threshold float64
		expected  bool
	}{
		{OperatorGreater, 5, 0, true},
		{OperatorGreater, 0, 0, false},
		{OperatorLess, 1, 2, true},
		{OperatorEqual, 3, 3, true},
		{OperatorEqual, 3, 4, false},
		{OperatorGreaterEqual, 3, 3, true},
		{OperatorLessEqual, 4, 3, false},
		{OperatorNotEqual, 4, 3, true},
		{Operator("~"), 4, 3, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.op), func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.op.Compare(tt.observed, tt.threshold))
		})
	}

	assert.False(t, Operator("~").IsValid())
	assert.True(t, OperatorLessEqual.IsValid())
}

func TestExecutionStatusTransitions(t *testing.T) {
	assert.True(t, ExecutionStatusPending.CanTransitionTo(ExecutionStatusInProgress))
	assert.True(t, ExecutionStatusInProgress.CanTransitionTo(ExecutionStatusCompleted))
	assert.True(t, ExecutionStatusInProgress.CanTransitionTo(ExecutionStatusPaused))
	assert.True(t, ExecutionStatusPaused.CanTransitionTo(ExecutionStatusInProgress))

	assert.False(t, ExecutionStatusInProgress.CanTransitionTo(ExecutionStatusPending))
	assert.False(t, ExecutionStatusCompleted.CanTransitionTo(ExecutionStatusInProgress))
	assert.False(t, ExecutionStatusFailed.CanTransitionTo(ExecutionStatusCompleted))
	assert.False(t, ExecutionStatusPaused.CanTransitionTo(ExecutionStatusCompleted))

	assert.ElementsMatch(t,
		[]ExecutionStatus{ExecutionStatusPending, ExecutionStatusInProgress},
		SourcesFor(ExecutionStatusCompleted))
	assert.ElementsMatch(t,
		[]ExecutionStatus{ExecutionStatusPending, ExecutionStatusInProgress, ExecutionStatusPaused},
		SourcesFor(ExecutionStatusFailed))
}

func TestExecutionIsDue(t *testing.T) {
	now := time.Now()
	next := "A"
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	exec := &Execution{Status: ExecutionStatusPending, NextNodeID: &next, NextDueAt: &past}
	assert.True(t, exec.IsDue(now))

	exec.NextDueAt = &future
	assert.False(t, exec.IsDue(now))

	exec.NextDueAt = &past
	exec.Status = ExecutionStatusPaused
	assert.False(t, exec.IsDue(now))

	exec.Status = ExecutionStatusInProgress
	exec.NextNodeID = nil
	assert.False(t, exec.IsDue(now))
}

func TestDurationJSON(t *testing.T) {
	node := StageNode{ID: "A", Channel: ChannelEmail, Wait: Duration(10 * time.Minute)}

	payload, err := json.Marshal(node)
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"wait":"10m0s"`)

	var decoded StageNode
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, 10*time.Minute, decoded.Wait.Std())

	require.NoError(t, json.Unmarshal([]byte(`{"id":"B","wait":90}`), &decoded))
	assert.Equal(t, 90*time.Second, decoded.Wait.Std())

	assert.Error(t, json.Unmarshal([]byte(`{"id":"B","wait":"soon"}`), &decoded))
}

func TestStageRecipients(t *testing.T) {
	cohort := []string{"p1", "p2", "p3"}

	whole := &ExecutionStage{}
	assert.Equal(t, cohort, whole.Recipients(cohort))

	subset := &ExecutionStage{ProspectIDs: []string{"p2"}}
	assert.Equal(t, []string{"p2"}, subset.Recipients(cohort))
}

func TestStageCanEnter(t *testing.T) {
	assert.True(t, (&ExecutionStage{Status: StageStatusPending}).CanEnter())
	assert.False(t, (&ExecutionStage{Status: StageStatusPending, Executed: true}).CanEnter())
	assert.False(t, (&ExecutionStage{Status: StageStatusExecuting}).CanEnter())
	assert.False(t, (&ExecutionStage{Status: StageStatusBatching}).CanEnter())
	assert.False(t, (&ExecutionStage{Status: StageStatusFailed}).CanEnter())
}

func TestStageResultInt(t *testing.T) {
	stage := &ExecutionStage{Result: map[string]any{
		ResultSent:   float64(12),
		ResultFailed: 3,
	}}

	assert.Equal(t, 12, stage.ResultInt(ResultSent))
	assert.Equal(t, 3, stage.ResultInt(ResultFailed))
	assert.Equal(t, 0, stage.ResultInt(ResultBatchesTotal))
}

func TestImportStatusFor(t *testing.T) {
	assert.Equal(t, ImportStatusFailed, ImportStatusFor(0, 1))
	assert.Equal(t, ImportStatusCompleted, ImportStatusFor(0, 0))
	assert.Equal(t, ImportStatusCompleted, ImportStatusFor(1, 100))
}

func TestProspectIDIsStable(t *testing.T) {
	assert.Equal(t, ProspectID("ABC-1"), ProspectID(" abc-1 "))
	assert.NotEqual(t, ProspectID("abc-1"), ProspectID("abc-2"))
}
