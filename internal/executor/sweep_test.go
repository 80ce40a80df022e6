package executor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/EricMurray-e-m-dev/RevenueMonkey/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *fixture) seedAutoLogs(t *testing.T, n int, age time.Duration) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, f.store.CreateExecutionLog(context.Background(), &models.ExecutionLog{
			ID:         fmt.Sprintf("seed-log-%d-%d", age, i),
			ActionID:   "earlier",
			ActionType: fakeActionType,
			ExecutedBy: models.TriggerAuto,
			Success:    true,
			CreatedAt:  f.clock.Now().Add(-age),
		}))
	}
}

func TestSweep_ExecutesEligibleActions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedOpportunity("good", 0.9, 2.5)
	f.seedOpportunity("weak", 0.4, 2.5)
	f.seedAction("action-1", "good", models.StatusPending, models.TierAuto)
	f.seedAction("action-2", "weak", models.StatusPending, models.TierAuto)
	f.seedAction("action-3", "good", models.StatusPending, models.TierApproval)

	result := f.exec.ExecuteAutoActions(ctx)

	assert.Equal(t, SweepResult{Executed: 1, Failed: 0, Skipped: 1}, result)
	assert.Equal(t, models.StatusExecuted, f.action(t, "action-1").Status)
	assert.Equal(t, models.StatusPending, f.action(t, "action-2").Status)
	assert.Equal(t, models.StatusPending, f.action(t, "action-3").Status)

	log, err := f.store.ListRecentExecutionLogs(ctx, 1)
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, models.TriggerAuto, log[0].ExecutedBy)
}

func TestSweep_RunsApprovedTierTwo(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedOpportunity("opp-1", 0.5, 0.01)
	f.seedAction("approved", "opp-1", models.StatusApproved, models.TierApproval)
	f.seedAction("pending", "opp-1", models.StatusPending, models.TierApproval)

	result := f.exec.ExecuteAutoActions(ctx)

	assert.Equal(t, 1, result.Executed)
	assert.Equal(t, models.StatusExecuted, f.action(t, "approved").Status)
	assert.Equal(t, models.StatusPending, f.action(t, "pending").Status)

	recent, err := f.store.ListRecentExecutionLogs(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.TriggerApproved, recent[0].ExecutedBy)
}

func TestSweep_HourlyCapReached(t *testing.T) {
	f := newFixture(t)
	f.seedOpportunity("opp-1", 0.9, 2.5)
	f.seedAction("action-1", "opp-1", models.StatusPending, models.TierAuto)
	f.seedAutoLogs(t, 10, 30*time.Minute)

	result := f.exec.ExecuteAutoActions(context.Background())

	assert.Equal(t, SweepResult{}, result)
	assert.Equal(t, models.StatusPending, f.action(t, "action-1").Status)
	assert.Equal(t, 0, f.handler.executeCalls)
}

func TestSweep_DailyCapReached(t *testing.T) {
	f := newFixture(t)
	f.seedOpportunity("opp-1", 0.9, 2.5)
	f.seedAction("action-1", "opp-1", models.StatusPending, models.TierAuto)
	f.seedAutoLogs(t, 50, 3*time.Hour)

	result := f.exec.ExecuteAutoActions(context.Background())

	assert.Equal(t, SweepResult{}, result)
	assert.Equal(t, 0, f.handler.executeCalls)
}

func TestSweep_LimitedByRemainingBudget(t *testing.T) {
	f := newFixture(t)
	f.seedOpportunity("opp-1", 0.9, 2.5)
	for i := 1; i <= 5; i++ {
		f.seedAction(fmt.Sprintf("action-%d", i), "opp-1", models.StatusPending, models.TierAuto)
	}
	f.seedAutoLogs(t, 8, 10*time.Minute)

	result := f.exec.ExecuteAutoActions(context.Background())

	assert.Equal(t, 2, result.Executed)
	assert.Equal(t, models.StatusExecuted, f.action(t, "action-1").Status)
	assert.Equal(t, models.StatusExecuted, f.action(t, "action-2").Status)
	assert.Equal(t, models.StatusPending, f.action(t, "action-3").Status)
}

func TestSweep_StaleLogsDoNotCount(t *testing.T) {
	f := newFixture(t)
	f.seedOpportunity("opp-1", 0.9, 2.5)
	f.seedAction("action-1", "opp-1", models.StatusPending, models.TierAuto)
	f.seedAutoLogs(t, 10, 2*time.Hour)

	result := f.exec.ExecuteAutoActions(context.Background())

	assert.Equal(t, 1, result.Executed)
}

func TestSweep_SkippedWhileBreakerOpen(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedOpportunity("opp-1", 0.9, 2.5)
	f.seedAction("action-1", "opp-1", models.StatusPending, models.TierAuto)
	for i := 0; i < 3; i++ {
		_, err := f.exec.CircuitBreaker().RecordFailure(ctx)
		require.NoError(t, err)
	}

	result := f.exec.ExecuteAutoActions(ctx)

	assert.Equal(t, SweepResult{}, result)
	assert.Equal(t, models.StatusPending, f.action(t, "action-1").Status)
}

func TestSweep_StopsWhenBreakerTrips(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedOpportunity("opp-1", 0.9, 2.5)
	for i := 1; i <= 5; i++ {
		f.seedAction(fmt.Sprintf("action-%d", i), "opp-1", models.StatusPending, models.TierAuto)
	}
	f.seedAction("approved", "opp-1", models.StatusApproved, models.TierApproval)
	f.handler.executeErr = errors.New("network timeout")

	result := f.exec.ExecuteAutoActions(ctx)

	assert.Equal(t, SweepResult{Failed: 3}, result)
	assert.True(t, f.exec.CircuitBreaker().IsOpen(ctx))
	assert.Equal(t, models.StatusPending, f.action(t, "action-4").Status)
	assert.Equal(t, models.StatusApproved, f.action(t, "approved").Status)
	assert.Equal(t, 3, f.handler.executeCalls)
}

func TestSweep_RetriesUntilAttemptsExhausted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedOpportunity("opp-1", 0.9, 2.5)
	f.seedAction("action-1", "opp-1", models.StatusPending, models.TierAuto)
	f.handler.validateErr = errors.New("content missing")

	for i := 0; i < 4; i++ {
		f.exec.ExecuteAutoActions(ctx)
	}

	assert.Equal(t, 3, f.action(t, "action-1").ExecutionAttempts)
	assert.Equal(t, models.StatusPending, f.action(t, "action-1").Status)
}
