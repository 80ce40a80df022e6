package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/EricMurray-e-m-dev/RevenueMonkey/internal/models"
	"github.com/EricMurray-e-m-dev/RevenueMonkey/internal/repository"
)

const (
	DefaultMaxPerHour = 10
	DefaultMaxPerDay  = 50
)

// Budget is the remaining auto-execution allowance.
type Budget struct {
	HourlyUsed      int `json:"hourly_used"`
	DailyUsed       int `json:"daily_used"`
	HourlyLimit     int `json:"hourly_limit"`
	DailyLimit      int `json:"daily_limit"`
	HourlyRemaining int `json:"hourly_remaining"`
	DailyRemaining  int `json:"daily_remaining"`
}

// Exhausted reports whether either cap has been reached.
func (b Budget) Exhausted() bool {
	return b.HourlyRemaining <= 0 || b.DailyRemaining <= 0
}

// RateLimiter derives the auto-execution budget from the execution log, so
// the count survives restarts and includes every instance writing to the
// same repository.
type RateLimiter struct {
	logs       repository.ExecutionLogStore
	maxPerHour int
	maxPerDay  int
	clock      func() time.Time
}

func NewRateLimiter(logs repository.ExecutionLogStore, maxPerHour, maxPerDay int, clock func() time.Time) *RateLimiter {
	if clock == nil {
		clock = time.Now
	}
	return &RateLimiter{
		logs:       logs,
		maxPerHour: maxPerHour,
		maxPerDay:  maxPerDay,
		clock:      clock,
	}
}

// Budget counts auto-triggered executions in the trailing hour and day.
func (r *RateLimiter) Budget(ctx context.Context) (Budget, error) {
	now := r.clock()

	hourly, err := r.logs.CountExecutionLogs(ctx, repository.ExecutionLogFilter{
		ExecutedBy: []models.Trigger{models.TriggerAuto},
		Since:      now.Add(-time.Hour),
	})
	if err != nil {
		return Budget{}, fmt.Errorf("failed to count hourly executions: %w", err)
	}

	daily, err := r.logs.CountExecutionLogs(ctx, repository.ExecutionLogFilter{
		ExecutedBy: []models.Trigger{models.TriggerAuto},
		Since:      now.Add(-24 * time.Hour),
	})
	if err != nil {
		return Budget{}, fmt.Errorf("failed to count daily executions: %w", err)
	}

	return Budget{
		HourlyUsed:      hourly,
		DailyUsed:       daily,
		HourlyLimit:     r.maxPerHour,
		DailyLimit:      r.maxPerDay,
		HourlyRemaining: max(0, r.maxPerHour-hourly),
		DailyRemaining:  max(0, r.maxPerDay-daily),
	}, nil
}
