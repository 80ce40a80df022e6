package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/EricMurray-e-m-dev/RevenueMonkey/internal/config"
	"github.com/EricMurray-e-m-dev/RevenueMonkey/internal/executor"
	"github.com/EricMurray-e-m-dev/RevenueMonkey/internal/models"
	"github.com/EricMurray-e-m-dev/RevenueMonkey/internal/repository/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func offlineConfig() *config.Config {
	return &config.Config{
		HTTPPort:                 "0",
		SweepInterval:            time.Minute,
		QueueFlushInterval:       time.Minute,
		DailyDigestHour:          8,
		MaxAutoExecutionsPerHour: 10,
		MaxAutoExecutionsPerDay:  50,
		CircuitBreakerThreshold:  3,
		MinAutoConfidence:        0.7,
		MinAutoRevenueImpact:     0.10,
		StandardBatchMaxSize:     20,
		StandardBatchMaxAge:      time.Hour,
		HighImpactThreshold:      50,
		QuietHoursStart:          -1,
		QuietHoursEnd:            -1,
		EnableAutoExecution:      true,
	}
}

func newOffline(t *testing.T, cfg *config.Config, now *time.Time) *Orchestrator {
	t.Helper()
	o := NewOrchestrator(cfg)
	o.clock = func() time.Time { return *now }
	require.NoError(t, o.Initialize(context.Background()))
	t.Cleanup(func() { _ = o.Stop() })
	return o
}

func TestInitialize_FallsBackToMemoryStore(t *testing.T) {
	now := time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC)
	o := newOffline(t, offlineConfig(), &now)

	_, ok := o.store.(*memory.Store)
	assert.True(t, ok)
	assert.NotNil(t, o.Executor())
	assert.NotNil(t, o.Notifications())
	assert.Nil(t, o.natsPublisher)
	assert.Nil(t, o.redisClient)

	healthy, results := o.health.Evaluate(context.Background())
	assert.True(t, healthy)
	assert.Empty(t, results)
}

func TestSweep_DisabledAutoExecution(t *testing.T) {
	now := time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC)
	cfg := offlineConfig()
	cfg.EnableAutoExecution = false
	o := newOffline(t, cfg, &now)

	store := o.store.(*memory.Store)
	store.PutOpportunity(&models.Opportunity{ID: "opp-1", Confidence: 0.9, EstimatedRevenueImpact: 5, Status: models.OpportunityDetected})
	store.PutAction(&models.Action{ID: "a1", OpportunityID: "opp-1", ActionType: "update_meta_description",
		Status: models.StatusPending, Tier: models.TierAuto, AutoExecutable: true, CreatedAt: now})

	result := o.Sweep(context.Background())

	assert.Equal(t, executor.SweepResult{}, result)
	action, err := store.GetAction(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, 0, action.ExecutionAttempts)
}

func TestMaybeSendDigests_OncePerDayAtConfiguredHour(t *testing.T) {
	now := time.Date(2026, 3, 10, 7, 59, 0, 0, time.UTC)
	o := newOffline(t, offlineConfig(), &now)
	ctx := context.Background()

	assert.False(t, o.maybeSendDigests(ctx))

	now = now.Add(time.Minute)
	assert.True(t, o.maybeSendDigests(ctx))

	now = now.Add(30 * time.Minute)
	assert.False(t, o.maybeSendDigests(ctx))

	now = now.Add(24 * time.Hour)
	assert.True(t, o.maybeSendDigests(ctx))
}

func TestMaybeSendDigests_Disabled(t *testing.T) {
	now := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	cfg := offlineConfig()
	cfg.DailyDigestHour = -1
	o := newOffline(t, cfg, &now)

	assert.False(t, o.maybeSendDigests(context.Background()))
}

func TestDigestFrom(t *testing.T) {
	date := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	stats := &executor.Stats{
		AutoExecutedToday:     3,
		ApprovedExecutedToday: 2,
		ManualExecutedToday:   1,
		FailedToday:           4,
		RolledBackToday:       1,
		CircuitBreaker:        executor.BreakerStatus{Open: true},
		Budget:                executor.Budget{HourlyRemaining: 7, DailyRemaining: 45},
	}

	digest := digestFrom(stats, date)

	assert.Equal(t, date, digest.Date)
	assert.Equal(t, 3, digest.AutoExecuted)
	assert.Equal(t, 2, digest.ApprovedExecuted)
	assert.Equal(t, 1, digest.ManualExecuted)
	assert.Equal(t, 4, digest.Failed)
	assert.Equal(t, 1, digest.RolledBack)
	assert.True(t, digest.BreakerOpen)
	assert.Equal(t, 7, digest.HourlyRemaining)
	assert.Equal(t, 45, digest.DailyRemaining)
}

func TestReportFrom(t *testing.T) {
	since := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	report := reportFrom(&executor.WeeklySummary{
		Since:         since,
		Executions:    12,
		Failures:      2,
		RolledBack:    1,
		RevenueImpact: 42.5,
		TopOpportunities: []*models.Opportunity{
			{Title: "Add affiliate link", EstimatedRevenueImpact: 40},
		},
	})

	assert.Equal(t, since, report.WeekStart)
	assert.Equal(t, 12, report.Executions)
	assert.Equal(t, 1, report.RollBacks)
	assert.Equal(t, []string{"Add affiliate link ($40.00/mo)"}, report.TopOpportunities)
}
