package memory

import (
	"context"
	"testing"
	"time"

	"github.com/outflow/outflow/pkg/models"
	"github.com/outflow/outflow/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newExecution(id string, due time.Time) *models.Execution {
	next := "A"

	return &models.Execution{
		ID:          id,
		FlowID:      "flow-1",
		ProspectIDs: []string{"p1", "p2"},
		NextNodeID:  &next,
		NextDueAt:   &due,
		Status:      models.ExecutionStatusPending,
		CreatedAt:   time.Now().UTC(),
	}
}

func TestExecutionLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewPersistence().ExecutionRepository()
	now := time.Now().UTC()

	require.NoError(t, repo.CreateExecution(ctx, newExecution("e1", now.Add(-time.Second))))
	require.NoError(t, repo.CreateExecution(ctx, newExecution("e2", now.Add(time.Hour))))

	due, err := repo.DueExecutions(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "e1", due[0].ID)

	require.NoError(t, repo.StartExecution(ctx, "e1", now))
	assert.ErrorIs(t, repo.StartExecution(ctx, "e1", now), persistence.ErrInvalidTransition)

	require.NoError(t, repo.PauseExecution(ctx, "e1", now))

	due, err = repo.DueExecutions(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	assert.ErrorIs(t, repo.CompleteExecution(ctx, "e1", now), persistence.ErrInvalidTransition)
	require.NoError(t, repo.ResumeExecution(ctx, "e1", now))
	require.NoError(t, repo.CompleteExecution(ctx, "e1", now))

	stored, err := repo.ExecutionByID(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, stored.Status)
	assert.Nil(t, stored.NextNodeID)
	assert.NotNil(t, stored.EndedAt)

	assert.ErrorIs(t, repo.FailExecution(ctx, "e1", "late", now), persistence.ErrInvalidTransition)
	assert.ErrorIs(t, repo.PointExecution(ctx, "e1", "A", "B", now), persistence.ErrInvalidTransition)

	_, err = repo.ExecutionByID(ctx, "missing")
	assert.ErrorIs(t, err, persistence.ErrExecutionNotFound)
}

func TestGetOrCreateStageIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := NewPersistence().StageRepository()
	due := time.Now().UTC()

	first, err := repo.GetOrCreateStage(ctx, &models.ExecutionStage{ExecutionID: "e1", NodeID: "A", ScheduledFor: due})
	require.NoError(t, err)

	second, err := repo.GetOrCreateStage(ctx, &models.ExecutionStage{
		ExecutionID:  "e1",
		NodeID:       "A",
		ScheduledFor: due.Add(time.Hour),
	})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.True(t, second.ScheduledFor.Equal(due))

	stages, err := repo.ListStages(ctx, "e1")
	require.NoError(t, err)
	assert.Len(t, stages, 1)
}

func TestStageGuards(t *testing.T) {
	ctx := context.Background()
	repo := NewPersistence().StageRepository()
	now := time.Now().UTC()

	stage, err := repo.GetOrCreateStage(ctx, &models.ExecutionStage{ExecutionID: "e1", NodeID: "A", ScheduledFor: now})
	require.NoError(t, err)

	claimed, err := repo.ClaimStage(ctx, stage.ID, now)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = repo.ClaimStage(ctx, stage.ID, now)
	require.NoError(t, err)
	assert.False(t, claimed)

	assert.ErrorIs(t, repo.AssignStageProspects(ctx, stage.ID, []string{"p1"}), persistence.ErrInvalidTransition)

	require.NoError(t, repo.CompleteStage(ctx, stage.ID, "msg-1", map[string]any{models.ResultSent: 2}, now))
	assert.ErrorIs(t, repo.FailStage(ctx, stage.ID, "boom", now), persistence.ErrInvalidTransition)

	latest, err := repo.LatestStageWithMessage(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "msg-1", latest.MessageID)
	assert.True(t, latest.Executed)
	assert.Equal(t, 2, latest.ResultInt(models.ResultSent))
}

func TestLatestStageWithMessagePicksMostRecent(t *testing.T) {
	ctx := context.Background()
	repo := NewPersistence().StageRepository()
	now := time.Now().UTC()

	for i, node := range []string{"A", "B"} {
		stage, err := repo.GetOrCreateStage(ctx, &models.ExecutionStage{ExecutionID: "e1", NodeID: node, ScheduledFor: now})
		require.NoError(t, err)
		require.NoError(t, repo.CompleteStage(ctx, stage.ID, "msg-"+node, nil, now.Add(time.Duration(i)*time.Minute)))
	}

	latest, err := repo.LatestStageWithMessage(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "msg-B", latest.MessageID)

	_, err = repo.LatestStageWithMessage(ctx, "e2")
	assert.ErrorIs(t, err, persistence.ErrStageNotFound)
}

func TestProspectUpsertKeepsIdentity(t *testing.T) {
	ctx := context.Background()
	repo := NewPersistence().ProspectRepository()

	require.NoError(t, repo.UpsertProspects(ctx, []*models.Prospect{{Identifier: "doc-1", Name: "Ana"}}))
	require.NoError(t, repo.UpsertProspects(ctx, []*models.Prospect{{Identifier: "doc-1", Name: "Ana Maria"}}))

	id := models.ProspectID("doc-1")
	prospects, err := repo.ProspectsByIDs(ctx, []string{id, "unknown"})
	require.NoError(t, err)
	require.Len(t, prospects, 1)
	assert.Equal(t, "Ana Maria", prospects[0].Name)
}

func TestImportCheckpoints(t *testing.T) {
	ctx := context.Background()
	repo := NewPersistence().ImportRepository()

	require.NoError(t, repo.CreateImport(ctx, &models.ImportRecord{ID: "i1", FilePath: "/tmp/p.csv", Status: models.ImportStatusPending}))
	require.NoError(t, repo.SaveCheckpoint(ctx, "i1", &models.ImportProgress{LastProcessedRow: 500, Succeeded: 480, Failed: 20}))

	record, err := repo.ImportByID(ctx, "i1")
	require.NoError(t, err)
	assert.Equal(t, models.ImportStatusRunning, record.Status)
	assert.Equal(t, 500, record.Checkpoint.LastProcessedRow)

	err = repo.SaveCheckpoint(ctx, "i1", &models.ImportProgress{LastProcessedRow: 200, Succeeded: 200})
	assert.ErrorIs(t, err, persistence.ErrInvalidTransition, "a slower runner cannot move the checkpoint back")

	require.NoError(t, repo.SaveCheckpoint(ctx, "i1", &models.ImportProgress{LastProcessedRow: 500, Succeeded: 480, Failed: 20}))

	record, err = repo.ImportByID(ctx, "i1")
	require.NoError(t, err)
	assert.Equal(t, 500, record.Checkpoint.LastProcessedRow)
	assert.Equal(t, 480, record.Checkpoint.Succeeded)

	require.NoError(t, repo.FinishImport(ctx, "i1", &models.ImportResult{Status: models.ImportStatusCompleted}, time.Now()))

	record, err = repo.ImportByID(ctx, "i1")
	require.NoError(t, err)
	assert.Equal(t, models.ImportStatusCompleted, record.Status)
	assert.NotNil(t, record.FinishedAt)

	err = repo.SaveCheckpoint(ctx, "i1", &models.ImportProgress{LastProcessedRow: 900})
	assert.ErrorIs(t, err, persistence.ErrInvalidTransition)

	record, err = repo.ImportByID(ctx, "i1")
	require.NoError(t, err)
	assert.Equal(t, models.ImportStatusCompleted, record.Status, "a late checkpoint does not reopen a finished import")
}
