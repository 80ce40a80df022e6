package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/EricMurray-e-m-dev/RevenueMonkey/internal/actions"
	"github.com/EricMurray-e-m-dev/RevenueMonkey/internal/logger"
	"github.com/EricMurray-e-m-dev/RevenueMonkey/internal/metrics"
	"github.com/EricMurray-e-m-dev/RevenueMonkey/internal/models"
	"github.com/EricMurray-e-m-dev/RevenueMonkey/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Config is the auto-execution policy.
type Config struct {
	MaxPerHour        int
	MaxPerDay         int
	BreakerThreshold  int
	MinConfidence     float64
	MinRevenueImpact  float64
	MaxAttempts       int
	SweepBatchSize    int
	ApprovedBatchSize int
}

func DefaultConfig() Config {
	return Config{
		MaxPerHour:        DefaultMaxPerHour,
		MaxPerDay:         DefaultMaxPerDay,
		BreakerThreshold:  DefaultBreakerThreshold,
		MinConfidence:     0.7,
		MinRevenueImpact:  0.10,
		MaxAttempts:       3,
		SweepBatchSize:    10,
		ApprovedBatchSize: 5,
	}
}

// Notifier receives execution events for routing to people.
type Notifier interface {
	NotifyExecutionSuccess(ctx context.Context, action *models.Action, opportunity *models.Opportunity, log *models.ExecutionLog)
	NotifyExecutionFailed(ctx context.Context, action *models.Action, opportunity *models.Opportunity, errMsg string)
	NotifyCircuitBreaker(ctx context.Context, open bool, failures int)
	NotifyOpportunityApproved(ctx context.Context, opportunity *models.Opportunity, action *models.Action, approvedBy string)
	NotifyOpportunityRejected(ctx context.Context, opportunity *models.Opportunity, action *models.Action, rejectedBy, reason string)
}

// EventPublisher broadcasts execution events to other services.
type EventPublisher interface {
	PublishExecution(action *models.Action, log *models.ExecutionLog) error
	PublishRollback(action *models.Action, log *models.ExecutionLog) error
	PublishCircuitBreaker(open bool, failures int) error
}

// Executor runs actions through their handlers, records every attempt and
// guards automatic execution with a rate limiter and circuit breaker.
//
// The executor does not serialize concurrent sweeps; callers must ensure at
// most one ExecuteAutoActions is in flight.
type Executor struct {
	repo      repository.Repository
	registry  *actions.Registry
	breaker   *CircuitBreaker
	window    FailureWindow
	limiter   *RateLimiter
	notifier  Notifier
	publisher EventPublisher
	metrics   *metrics.Metrics
	config    Config
	clock     func() time.Time
	newID     func() string
	log       *zap.SugaredLogger
}

type Option func(*Executor)

func WithConfig(cfg Config) Option { return func(e *Executor) { e.config = cfg } }

func WithNotifier(n Notifier) Option { return func(e *Executor) { e.notifier = n } }

func WithPublisher(p EventPublisher) Option { return func(e *Executor) { e.publisher = p } }

func WithMetrics(m *metrics.Metrics) Option { return func(e *Executor) { e.metrics = m } }

func WithClock(clock func() time.Time) Option { return func(e *Executor) { e.clock = clock } }

func WithIDGenerator(newID func() string) Option { return func(e *Executor) { e.newID = newID } }

// WithFailureWindow replaces the in-process breaker window, e.g. with a shared store.
func WithFailureWindow(w FailureWindow) Option {
	return func(e *Executor) { e.window = w }
}

func New(repo repository.Repository, registry *actions.Registry, opts ...Option) *Executor {
	e := &Executor{
		repo:     repo,
		registry: registry,
		config:   DefaultConfig(),
		clock:    time.Now,
		newID:    uuid.NewString,
		log:      logger.For(logger.ComponentExecutor),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.breaker = NewCircuitBreaker(e.config.BreakerThreshold, e.window, e.clock)
	e.breaker.OnStateChange(e.onBreakerStateChange)
	e.limiter = NewRateLimiter(repo, e.config.MaxPerHour, e.config.MaxPerDay, e.clock)

	return e
}

// CircuitBreaker exposes the breaker for status reporting.
func (e *Executor) CircuitBreaker() *CircuitBreaker {
	return e.breaker
}

// CanAutoExecute applies the unattended-execution policy. Every condition is
// independently sufficient to refuse.
func (e *Executor) CanAutoExecute(action *models.Action, opportunity *models.Opportunity) bool {
	if action == nil || opportunity == nil {
		return false
	}
	if action.Tier != models.TierAuto || !action.AutoExecutable {
		return false
	}
	if !e.registry.IsAutoExecutable(action.ActionType) {
		return false
	}
	if action.ExecutionAttempts >= e.config.MaxAttempts {
		return false
	}
	if opportunity.Confidence < e.config.MinConfidence {
		return false
	}
	if opportunity.EstimatedRevenueImpact < e.config.MinRevenueImpact {
		return false
	}
	return true
}

// handlerOutcome is the normalized result of a handler's Execute call.
type handlerOutcome struct {
	success      bool
	output       map[string]interface{}
	errMsg       string
	rollbackData *models.RollbackData
}

// Execute runs one action through validate, prepare-rollback, execute and
// record. It never returns a Go error: every failure is in the result.
func (e *Executor) Execute(ctx context.Context, actionID string, executedBy models.Trigger) ExecutionResult {
	action, err := e.repo.GetAction(ctx, actionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return executionFailure(actionID, KindNotFound, fmt.Errorf("%w: %s", ErrActionNotFound, actionID))
		}
		return executionFailure(actionID, KindStorage, fmt.Errorf("failed to load action: %w", err))
	}

	opportunity, err := e.repo.GetOpportunity(ctx, action.OpportunityID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return executionFailure(actionID, KindNotFound, fmt.Errorf("%w: %s", ErrOpportunityNotFound, action.OpportunityID))
		}
		return executionFailure(actionID, KindStorage, fmt.Errorf("failed to load opportunity: %w", err))
	}

	if !action.Status.IsExecutable() {
		return executionFailure(actionID, KindInvalid,
			fmt.Errorf("%w: action cannot be executed - status is %s", ErrInvalidState, action.Status))
	}

	handler, ok := e.registry.Get(action.ActionType)
	if !ok {
		return executionFailure(actionID, KindNoHandler, fmt.Errorf("%w: %s", ErrNoHandler, action.ActionType))
	}

	e.log.Infof("Executing action %s (type: %s, trigger: %s)", action.ID, action.ActionType, executedBy)
	start := e.clock()

	if err := e.validate(ctx, handler, action); err != nil {
		return e.recordValidationFailure(ctx, action, executedBy, start, err)
	}

	outcome := e.run(ctx, handler, action)
	return e.record(ctx, action, opportunity, executedBy, start, outcome)
}

func (e *Executor) validate(ctx context.Context, handler actions.Handler, action *models.Action) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked during validation: %v", r)
		}
	}()
	return handler.Validate(ctx, action)
}

// run captures pre-state and executes the handler. Panics and returned errors
// become a failed outcome.
func (e *Executor) run(ctx context.Context, handler actions.Handler, action *models.Action) (outcome handlerOutcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome = handlerOutcome{errMsg: fmt.Sprintf("handler panicked: %v", r), rollbackData: outcome.rollbackData}
		}
	}()

	preState, err := handler.PrepareRollback(ctx, action)
	if err != nil {
		return handlerOutcome{errMsg: fmt.Sprintf("failed to capture rollback state: %v", err)}
	}
	outcome.rollbackData = preState

	result, err := handler.Execute(ctx, action)
	switch {
	case err != nil:
		outcome.errMsg = err.Error()
	case result == nil:
		outcome.errMsg = "handler returned no result"
	default:
		outcome.success = result.Success
		outcome.output = result.Output
		outcome.errMsg = result.Error
		if !result.RollbackData.IsEmpty() {
			outcome.rollbackData = result.RollbackData
		}
		if !result.Success && outcome.errMsg == "" {
			outcome.errMsg = "handler reported failure"
		}
	}
	return outcome
}

func (e *Executor) recordValidationFailure(ctx context.Context, action *models.Action, executedBy models.Trigger, start time.Time, cause error) ExecutionResult {
	now := e.clock()
	entry := &models.ExecutionLog{
		ID:           e.newID(),
		ActionID:     action.ID,
		ActionType:   action.ActionType,
		ExecutedBy:   executedBy,
		InputData:    action.ActionData,
		Success:      false,
		ErrorMessage: cause.Error(),
		DurationMs:   now.Sub(start).Milliseconds(),
		CreatedAt:    now,
	}
	if err := e.repo.CreateExecutionLog(ctx, entry); err != nil {
		e.log.Errorf("Failed to write validation log for action %s: %v", action.ID, err)
	}
	if _, err := e.repo.IncrementExecutionAttempts(ctx, action.ID, now); err != nil {
		e.log.Errorf("Failed to increment attempts for action %s: %v", action.ID, err)
	}

	e.log.Warnf("Validation failed for action %s: %v", action.ID, cause)
	e.metrics.ExecutionRecorded(string(executedBy), false)

	return ExecutionResult{
		ActionID:       action.ID,
		ExecutionLogID: entry.ID,
		Status:         action.Status,
		DurationMs:     entry.DurationMs,
		Kind:           KindValidation,
		Error:          cause.Error(),
	}
}

// record persists the attempt, updates the action and feeds the breaker. The
// same path handles success and failure.
func (e *Executor) record(ctx context.Context, action *models.Action, opportunity *models.Opportunity, executedBy models.Trigger, start time.Time, outcome handlerOutcome) ExecutionResult {
	now := e.clock()
	duration := now.Sub(start).Milliseconds()

	var output json.RawMessage
	if outcome.output != nil {
		if raw, err := json.Marshal(outcome.output); err == nil {
			output = raw
		} else {
			e.log.Warnf("Failed to encode output for action %s: %v", action.ID, err)
		}
	}

	entry := &models.ExecutionLog{
		ID:           e.newID(),
		ActionID:     action.ID,
		ActionType:   action.ActionType,
		ExecutedBy:   executedBy,
		InputData:    action.ActionData,
		OutputData:   output,
		Success:      outcome.success,
		ErrorMessage: outcome.errMsg,
		DurationMs:   duration,
		CreatedAt:    now,
	}
	if !outcome.rollbackData.IsEmpty() {
		entry.RollbackData = outcome.rollbackData
	}
	if err := e.repo.CreateExecutionLog(ctx, entry); err != nil {
		e.log.Errorf("Failed to write execution log for action %s: %v", action.ID, err)
	}

	event := models.EventExecuteFailed
	if outcome.success {
		event = models.EventExecuteSucceeded
	}
	status, err := models.Transition(action.Status, event)
	if err != nil {
		e.log.Errorf("Unexpected transition for action %s: %v", action.ID, err)
	}

	update := repository.ActionUpdate{
		Status: &status,
		ExecutionResult: &models.ExecutionOutcome{
			Success: outcome.success,
			Output:  outcome.output,
			Error:   outcome.errMsg,
		},
	}
	if outcome.success {
		update.ExecutedAt = &now
	}
	if err := e.repo.UpdateAction(ctx, action.ID, update); err != nil {
		e.log.Errorf("Failed to update action %s to %s: %v", action.ID, status, err)
	}
	if _, err := e.repo.IncrementExecutionAttempts(ctx, action.ID, now); err != nil {
		e.log.Errorf("Failed to increment attempts for action %s: %v", action.ID, err)
	}

	action.Status = status
	e.metrics.ExecutionRecorded(string(executedBy), outcome.success)

	if outcome.success {
		e.log.Infof("Action %s executed in %dms", action.ID, duration)
		e.closeOutOpportunity(ctx, action.OpportunityID)
		if e.notifier != nil {
			e.notifier.NotifyExecutionSuccess(ctx, action, opportunity, entry)
		}
	} else {
		e.log.Warnf("Action %s failed after %dms: %s", action.ID, duration, outcome.errMsg)
		if _, err := e.breaker.RecordFailure(ctx); err != nil {
			e.log.Errorf("Failed to record breaker failure: %v", err)
		}
		if e.notifier != nil {
			e.notifier.NotifyExecutionFailed(ctx, action, opportunity, outcome.errMsg)
		}
	}

	if e.publisher != nil {
		if err := e.publisher.PublishExecution(action, entry); err != nil {
			e.log.Warnf("Failed to publish execution event for action %s: %v", action.ID, err)
		}
	}

	result := ExecutionResult{
		Success:        outcome.success,
		ActionID:       action.ID,
		ExecutionLogID: entry.ID,
		Status:         status,
		Output:         outcome.output,
		DurationMs:     duration,
	}
	if !outcome.success {
		result.Kind = KindExecution
		result.Error = outcome.errMsg
	}
	return result
}

// closeOutOpportunity marks the opportunity implemented once none of its
// actions remain unresolved. Recomputing is always safe.
func (e *Executor) closeOutOpportunity(ctx context.Context, opportunityID string) {
	remaining, err := e.repo.CountActions(ctx, repository.ActionFilter{
		OpportunityID:   opportunityID,
		ExcludeStatuses: []models.ActionStatus{models.StatusExecuted, models.StatusRolledBack},
	})
	if err != nil {
		e.log.Errorf("Failed to count open actions for opportunity %s: %v", opportunityID, err)
		return
	}
	if remaining > 0 {
		return
	}

	opportunity, err := e.repo.GetOpportunity(ctx, opportunityID)
	if err != nil {
		e.log.Errorf("Failed to load opportunity %s for close-out: %v", opportunityID, err)
		return
	}
	if opportunity.Status == models.OpportunityImplemented {
		return
	}

	now := e.clock()
	status := models.OpportunityImplemented
	if err := e.repo.UpdateOpportunity(ctx, opportunityID, repository.OpportunityUpdate{
		Status:        &status,
		ImplementedAt: &now,
	}); err != nil {
		e.log.Errorf("Failed to mark opportunity %s implemented: %v", opportunityID, err)
		return
	}
	e.log.Infof("Opportunity %s implemented", opportunityID)
}

// ExecuteAutoActions is the scheduled sweep. Breaker and rate-limit refusals
// are routine and return zero counts.
func (e *Executor) ExecuteAutoActions(ctx context.Context) SweepResult {
	var result SweepResult

	open := e.breaker.IsOpen(ctx)
	e.metrics.SetBreakerOpen(open)
	if open {
		e.log.Warnf("Circuit breaker open, skipping auto-execution sweep")
		e.metrics.SweepSkipped("circuit_open")
		return result
	}

	budget, err := e.limiter.Budget(ctx)
	if err != nil {
		e.log.Errorf("Failed to compute execution budget: %v", err)
		e.metrics.SweepSkipped("budget_error")
		return result
	}
	if budget.Exhausted() {
		e.log.Infof("Auto-execution budget exhausted (hour: %d/%d, day: %d/%d)",
			budget.HourlyUsed, budget.HourlyLimit, budget.DailyUsed, budget.DailyLimit)
		e.metrics.SweepSkipped("rate_limited")
		return result
	}

	autoExecutable := true
	limit := min(e.config.SweepBatchSize, budget.HourlyRemaining, budget.DailyRemaining)
	candidates, err := e.repo.ListActions(ctx, repository.ActionFilter{
		Statuses:       []models.ActionStatus{models.StatusPending},
		Tier:           models.TierAuto,
		AutoExecutable: &autoExecutable,
		MaxAttempts:    e.config.MaxAttempts,
		Limit:          limit,
	})
	if err != nil {
		e.log.Errorf("Failed to list auto-executable actions: %v", err)
	} else {
		for _, action := range candidates {
			if e.breaker.IsOpen(ctx) {
				e.log.Warnf("Circuit breaker tripped mid-sweep, stopping")
				break
			}

			opportunity, err := e.repo.GetOpportunity(ctx, action.OpportunityID)
			if err != nil || !e.CanAutoExecute(action, opportunity) {
				result.Skipped++
				continue
			}

			if res := e.Execute(ctx, action.ID, models.TriggerAuto); res.Success {
				result.Executed++
			} else {
				result.Failed++
			}
		}
	}

	approved, err := e.repo.ListActions(ctx, repository.ActionFilter{
		Statuses:    []models.ActionStatus{models.StatusApproved},
		Tier:        models.TierApproval,
		NotExecuted: true,
		MaxAttempts: e.config.MaxAttempts,
		Limit:       e.config.ApprovedBatchSize,
	})
	if err != nil {
		e.log.Errorf("Failed to list approved actions: %v", err)
		return result
	}
	for _, action := range approved {
		if e.breaker.IsOpen(ctx) {
			break
		}
		if res := e.Execute(ctx, action.ID, models.TriggerApproved); res.Success {
			result.Executed++
		} else {
			result.Failed++
		}
	}

	e.log.Infof("Auto-execution sweep complete: %d executed, %d failed, %d skipped",
		result.Executed, result.Failed, result.Skipped)
	return result
}

// Rollback undoes a successful execution using the rollback data stored on
// its log. A failed rollback leaves all state unchanged and may be retried.
func (e *Executor) Rollback(ctx context.Context, executionLogID, rolledBackBy, reason string) RollbackResult {
	entry, err := e.repo.GetExecutionLog(ctx, executionLogID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return rollbackFailure(executionLogID, KindNotFound, fmt.Errorf("%w: %s", ErrExecutionLogNotFound, executionLogID))
		}
		return rollbackFailure(executionLogID, KindStorage, fmt.Errorf("failed to load execution log: %w", err))
	}

	if !entry.Success {
		return rollbackFailure(executionLogID, KindInvalid, ErrNotRollbackable)
	}
	if entry.RolledBackAt != nil {
		return rollbackFailure(executionLogID, KindInvalid, ErrAlreadyRolledBack)
	}

	data := entry.ResolveRollbackData()
	if data == nil {
		return rollbackFailure(executionLogID, KindInvalid, ErrNoRollbackData)
	}

	action, err := e.repo.GetAction(ctx, entry.ActionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return rollbackFailure(executionLogID, KindNotFound, fmt.Errorf("%w: %s", ErrActionNotFound, entry.ActionID))
		}
		return rollbackFailure(executionLogID, KindStorage, fmt.Errorf("failed to load action: %w", err))
	}

	if !models.CanTransition(action.Status, models.EventRollBack) {
		return rollbackFailure(executionLogID, KindInvalid,
			fmt.Errorf("%w: action %s cannot be rolled back - status is %s", ErrInvalidState, action.ID, action.Status))
	}

	handler, ok := e.registry.Get(action.ActionType)
	if !ok {
		return rollbackFailure(executionLogID, KindNoHandler, fmt.Errorf("%w: %s", ErrNoHandler, action.ActionType))
	}

	e.log.Infof("Rolling back execution %s of action %s (by: %s, reason: %s)", executionLogID, action.ID, rolledBackBy, reason)

	if err := e.rollbackHandler(ctx, handler, data); err != nil {
		e.log.Errorf("Rollback of execution %s failed: %v", executionLogID, err)
		e.metrics.RollbackRecorded(false)
		result := rollbackFailure(executionLogID, KindRollback, err)
		result.ActionID = action.ID
		return result
	}

	now := e.clock()
	if err := e.repo.MarkExecutionLogRolledBack(ctx, executionLogID, now, rolledBackBy, reason); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return rollbackFailure(executionLogID, KindInvalid, ErrAlreadyRolledBack)
		}
		e.log.Errorf("Failed to stamp rollback on execution %s: %v", executionLogID, err)
		e.metrics.RollbackRecorded(false)
		result := rollbackFailure(executionLogID, KindStorage, fmt.Errorf("failed to stamp rollback: %w", err))
		result.ActionID = action.ID
		return result
	}

	status := models.StatusRolledBack
	if err := e.repo.UpdateAction(ctx, action.ID, repository.ActionUpdate{Status: &status, RolledBackAt: &now}); err != nil {
		e.log.Errorf("Failed to mark action %s rolled back: %v", action.ID, err)
	}
	action.Status = status
	action.RolledBackAt = &now
	entry.RolledBackAt = &now
	entry.RolledBackBy = rolledBackBy
	entry.RollbackReason = reason

	e.closeOutOpportunity(ctx, action.OpportunityID)
	e.metrics.RollbackRecorded(true)

	if e.publisher != nil {
		if err := e.publisher.PublishRollback(action, entry); err != nil {
			e.log.Warnf("Failed to publish rollback event for action %s: %v", action.ID, err)
		}
	}

	e.log.Infof("Execution %s rolled back", executionLogID)
	return RollbackResult{Success: true, ExecutionLogID: executionLogID, ActionID: action.ID}
}

func (e *Executor) rollbackHandler(ctx context.Context, handler actions.Handler, data *models.RollbackData) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked during rollback: %v", r)
		}
	}()
	return handler.Rollback(ctx, data)
}

// Approve moves a pending action to APPROVED so the sweep can run it.
func (e *Executor) Approve(ctx context.Context, actionID, approvedBy string) TransitionResult {
	return e.transition(ctx, actionID, models.EventApprove, func(action *models.Action, opportunity *models.Opportunity) {
		if e.notifier != nil {
			e.notifier.NotifyOpportunityApproved(ctx, opportunity, action, approvedBy)
		}
	})
}

// Reject moves a pending or approved action to REJECTED. Rejected actions never execute.
func (e *Executor) Reject(ctx context.Context, actionID, rejectedBy, reason string) TransitionResult {
	return e.transition(ctx, actionID, models.EventReject, func(action *models.Action, opportunity *models.Opportunity) {
		if e.notifier != nil {
			e.notifier.NotifyOpportunityRejected(ctx, opportunity, action, rejectedBy, reason)
		}
	})
}

func (e *Executor) transition(ctx context.Context, actionID, event string, after func(*models.Action, *models.Opportunity)) TransitionResult {
	action, err := e.repo.GetAction(ctx, actionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return transitionFailure(actionID, KindNotFound, fmt.Errorf("%w: %s", ErrActionNotFound, actionID))
		}
		return transitionFailure(actionID, KindStorage, err)
	}

	status, err := models.Transition(action.Status, event)
	if err != nil {
		return transitionFailure(actionID, KindInvalid, fmt.Errorf("%w: %v", ErrInvalidState, err))
	}
	if err := e.repo.UpdateAction(ctx, actionID, repository.ActionUpdate{Status: &status}); err != nil {
		return transitionFailure(actionID, KindStorage, err)
	}
	action.Status = status
	e.log.Infof("Action %s -> %s", actionID, status)

	opportunity, err := e.repo.GetOpportunity(ctx, action.OpportunityID)
	if err != nil {
		e.log.Warnf("Failed to load opportunity %s for notification: %v", action.OpportunityID, err)
	}
	after(action, opportunity)

	return TransitionResult{Success: true, ActionID: actionID, Status: status}
}

// ResetCircuitBreaker closes the breaker after an operator has acknowledged the trip.
func (e *Executor) ResetCircuitBreaker(ctx context.Context) error {
	return e.breaker.Reset(ctx)
}

func (e *Executor) onBreakerStateChange(open bool, failures int) {
	e.metrics.SetBreakerOpen(open)
	ctx := context.Background()
	if e.notifier != nil {
		e.notifier.NotifyCircuitBreaker(ctx, open, failures)
	}
	if e.publisher != nil {
		if err := e.publisher.PublishCircuitBreaker(open, failures); err != nil {
			e.log.Warnf("Failed to publish circuit breaker event: %v", err)
		}
	}
}
