package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/EricMurray-e-m-dev/RevenueMonkey/internal/models"
	"github.com/EricMurray-e-m-dev/RevenueMonkey/internal/repository"
)

const recentExecutionsLimit = 20

// Stats summarizes execution activity since the start of the current day.
type Stats struct {
	AutoExecutedToday     int                    `json:"auto_executed_today"`
	ApprovedExecutedToday int                    `json:"approved_executed_today"`
	ManualExecutedToday   int                    `json:"manual_executed_today"`
	FailedToday           int                    `json:"failed_today"`
	RolledBackToday       int                    `json:"rolled_back_today"`
	RecentExecutions      []*models.ExecutionLog `json:"recent_executions"`
	CircuitBreaker        BreakerStatus          `json:"circuit_breaker"`
	Budget                Budget                 `json:"budget"`
}

func (e *Executor) Stats(ctx context.Context) (*Stats, error) {
	now := e.clock()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	succeeded, failed := true, false
	count := func(filter repository.ExecutionLogFilter) (int, error) {
		filter.Since = startOfDay
		return e.repo.CountExecutionLogs(ctx, filter)
	}

	stats := &Stats{}
	var err error
	if stats.AutoExecutedToday, err = count(repository.ExecutionLogFilter{
		ExecutedBy: []models.Trigger{models.TriggerAuto}, Success: &succeeded,
	}); err != nil {
		return nil, fmt.Errorf("failed to count auto executions: %w", err)
	}
	if stats.ApprovedExecutedToday, err = count(repository.ExecutionLogFilter{
		ExecutedBy: []models.Trigger{models.TriggerApproved}, Success: &succeeded,
	}); err != nil {
		return nil, fmt.Errorf("failed to count approved executions: %w", err)
	}
	if stats.ManualExecutedToday, err = count(repository.ExecutionLogFilter{
		ExecutedBy: []models.Trigger{models.TriggerManual}, Success: &succeeded,
	}); err != nil {
		return nil, fmt.Errorf("failed to count manual executions: %w", err)
	}
	if stats.FailedToday, err = count(repository.ExecutionLogFilter{Success: &failed}); err != nil {
		return nil, fmt.Errorf("failed to count failed executions: %w", err)
	}
	if stats.RolledBackToday, err = e.repo.CountExecutionLogs(ctx, repository.ExecutionLogFilter{RolledBackSince: startOfDay}); err != nil {
		return nil, fmt.Errorf("failed to count rolled back executions: %w", err)
	}

	if stats.RecentExecutions, err = e.repo.ListRecentExecutionLogs(ctx, recentExecutionsLimit); err != nil {
		return nil, fmt.Errorf("failed to list recent executions: %w", err)
	}
	if stats.CircuitBreaker, err = e.breaker.Status(ctx); err != nil {
		return nil, err
	}
	if stats.Budget, err = e.limiter.Budget(ctx); err != nil {
		return nil, err
	}

	return stats, nil
}

const topOpportunitiesLimit = 5

// WeeklySummary covers executions and implemented opportunities since a start time.
type WeeklySummary struct {
	Since            time.Time             `json:"since"`
	Executions       int                   `json:"executions"`
	Failures         int                   `json:"failures"`
	RolledBack       int                   `json:"rolled_back"`
	RevenueImpact    float64               `json:"revenue_impact"`
	TopOpportunities []*models.Opportunity `json:"top_opportunities"`
}

func (e *Executor) WeeklySummary(ctx context.Context, since time.Time) (*WeeklySummary, error) {
	succeeded, failed := true, false
	summary := &WeeklySummary{Since: since}

	var err error
	if summary.Executions, err = e.repo.CountExecutionLogs(ctx, repository.ExecutionLogFilter{Since: since, Success: &succeeded}); err != nil {
		return nil, fmt.Errorf("failed to count executions: %w", err)
	}
	if summary.Failures, err = e.repo.CountExecutionLogs(ctx, repository.ExecutionLogFilter{Since: since, Success: &failed}); err != nil {
		return nil, fmt.Errorf("failed to count failures: %w", err)
	}
	if summary.RolledBack, err = e.repo.CountExecutionLogs(ctx, repository.ExecutionLogFilter{RolledBackSince: since}); err != nil {
		return nil, fmt.Errorf("failed to count rollbacks: %w", err)
	}

	implemented, err := e.repo.ListOpportunities(ctx, repository.OpportunityFilter{
		Status:           models.OpportunityImplemented,
		ImplementedSince: since,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list implemented opportunities: %w", err)
	}
	for i, o := range implemented {
		summary.RevenueImpact += o.EstimatedRevenueImpact
		if i < topOpportunitiesLimit {
			summary.TopOpportunities = append(summary.TopOpportunities, o)
		}
	}

	return summary, nil
}
