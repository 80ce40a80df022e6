package memory

import (
	"context"
	"testing"
	"time"

	"github.com/EricMurray-e-m-dev/RevenueMonkey/internal/models"
	"github.com/EricMurray-e-m-dev/RevenueMonkey/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_ListActions_FilterAndOrder(t *testing.T) {
	s := NewStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	auto := true

	s.PutAction(&models.Action{ID: "newer", Status: models.StatusPending, Tier: models.TierAuto, AutoExecutable: true, CreatedAt: base.Add(time.Hour)})
	s.PutAction(&models.Action{ID: "older", Status: models.StatusPending, Tier: models.TierAuto, AutoExecutable: true, CreatedAt: base})
	s.PutAction(&models.Action{ID: "exhausted", Status: models.StatusPending, Tier: models.TierAuto, AutoExecutable: true, ExecutionAttempts: 3, CreatedAt: base})
	s.PutAction(&models.Action{ID: "tier2", Status: models.StatusPending, Tier: models.TierApproval, CreatedAt: base})

	actions, err := s.ListActions(context.Background(), repository.ActionFilter{
		Statuses:       []models.ActionStatus{models.StatusPending},
		Tier:           models.TierAuto,
		AutoExecutable: &auto,
		MaxAttempts:    3,
		Limit:          10,
	})
	require.NoError(t, err)
	require.Len(t, actions, 2)
	assert.Equal(t, "older", actions[0].ID)
	assert.Equal(t, "newer", actions[1].ID)
}

func TestStore_IncrementExecutionAttempts(t *testing.T) {
	s := NewStore()
	s.PutAction(&models.Action{ID: "a1", Status: models.StatusPending})
	at := time.Now()

	n, err := s.IncrementExecutionAttempts(context.Background(), "a1", at)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.IncrementExecutionAttempts(context.Background(), "a1", at)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = s.IncrementExecutionAttempts(context.Background(), "missing", at)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestStore_MarkExecutionLogRolledBack_Once(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	require.NoError(t, s.CreateExecutionLog(ctx, &models.ExecutionLog{ID: "log-1", Success: true, CreatedAt: time.Now()}))

	require.NoError(t, s.MarkExecutionLogRolledBack(ctx, "log-1", time.Now(), "ops", "bad copy"))
	err := s.MarkExecutionLogRolledBack(ctx, "log-1", time.Now(), "ops", "again")
	assert.ErrorIs(t, err, repository.ErrConflict)

	log, err := s.GetExecutionLog(ctx, "log-1")
	require.NoError(t, err)
	assert.Equal(t, "bad copy", log.RollbackReason)
}

func TestStore_CountExecutionLogs(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.CreateExecutionLog(ctx, &models.ExecutionLog{ID: "1", ExecutedBy: models.TriggerAuto, Success: true, CreatedAt: now.Add(-30 * time.Minute)}))
	require.NoError(t, s.CreateExecutionLog(ctx, &models.ExecutionLog{ID: "2", ExecutedBy: models.TriggerAuto, Success: false, CreatedAt: now.Add(-2 * time.Hour)}))
	require.NoError(t, s.CreateExecutionLog(ctx, &models.ExecutionLog{ID: "3", ExecutedBy: models.TriggerManual, Success: true, CreatedAt: now}))

	count, err := s.CountExecutionLogs(ctx, repository.ExecutionLogFilter{
		ExecutedBy: []models.Trigger{models.TriggerAuto},
		Since:      now.Add(-time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	failed := false
	count, err = s.CountExecutionLogs(ctx, repository.ExecutionLogFilter{Success: &failed})
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	recent, err := s.ListRecentExecutionLogs(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "3", recent[0].ID)
}

func TestStore_CountExecutionLogsByRollbackTime(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.CreateExecutionLog(ctx, &models.ExecutionLog{ID: "old", Success: true, CreatedAt: now.Add(-48 * time.Hour)}))
	require.NoError(t, s.CreateExecutionLog(ctx, &models.ExecutionLog{ID: "early", Success: true, CreatedAt: now.Add(-48 * time.Hour)}))
	require.NoError(t, s.CreateExecutionLog(ctx, &models.ExecutionLog{ID: "fresh", Success: true, CreatedAt: now}))
	require.NoError(t, s.MarkExecutionLogRolledBack(ctx, "old", now, "ops", "undo"))
	require.NoError(t, s.MarkExecutionLogRolledBack(ctx, "early", now.Add(-30*time.Hour), "ops", "undo"))

	count, err := s.CountExecutionLogs(ctx, repository.ExecutionLogFilter{RolledBackSince: now.Add(-time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, 1, count, "only the rollback performed in range counts")
}

func TestStore_Memberships(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	require.NoError(t, s.AddMembership(ctx, &models.CollectionMembership{ID: "m1", CollectionID: "c1", ContentID: "r1"}))
	err := s.AddMembership(ctx, &models.CollectionMembership{ID: "m2", CollectionID: "c1", ContentID: "r1"})
	assert.ErrorIs(t, err, repository.ErrConflict)

	has, err := s.HasMembership(ctx, "c1", "r1")
	require.NoError(t, err)
	assert.True(t, has)

	require.NoError(t, s.DeleteMembership(ctx, "m1"))
	assert.ErrorIs(t, s.DeleteMembership(ctx, "m1"), repository.ErrNotFound)
}
