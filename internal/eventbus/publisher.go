package eventbus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/EricMurray-e-m-dev/RevenueMonkey/internal/logger"
	"github.com/EricMurray-e-m-dev/RevenueMonkey/internal/models"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Published subjects.
const (
	SubjectActionExecuted   = "actions.executed"
	SubjectActionFailed     = "actions.failed"
	SubjectActionRolledBack = "actions.rolled_back"
	SubjectCircuitBreaker   = "executor.circuit_breaker"
)

type ExecutionEvent struct {
	ActionID       string `json:"action_id"`
	OpportunityID  string `json:"opportunity_id"`
	ActionType     string `json:"action_type"`
	ExecutionLogID string `json:"execution_log_id"`
	ExecutedBy     string `json:"executed_by"`
	Status         string `json:"status"`
	Success        bool   `json:"success"`
	Error          string `json:"error,omitempty"`
	DurationMs     int64  `json:"duration_ms"`
	Timestamp      int64  `json:"timestamp"`
}

type RollbackEvent struct {
	ActionID       string `json:"action_id"`
	OpportunityID  string `json:"opportunity_id"`
	ActionType     string `json:"action_type"`
	ExecutionLogID string `json:"execution_log_id"`
	RolledBackBy   string `json:"rolled_back_by"`
	Reason         string `json:"reason"`
	Timestamp      int64  `json:"timestamp"`
}

type CircuitBreakerEvent struct {
	Open      bool  `json:"open"`
	Failures  int   `json:"failures"`
	Timestamp int64 `json:"timestamp"`
}

// conn is the subset of *nats.Conn the publisher needs.
type conn interface {
	Publish(subject string, data []byte) error
}

type Publisher struct {
	nc    *nats.Conn
	conn  conn
	clock func() time.Time
	log   *zap.SugaredLogger
}

func NewPublisher(natsURL string) (*Publisher, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("revenuemonkey-executor-pub"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second))
	if err != nil {
		return nil, err
	}

	p := newPublisher(nc)
	p.nc = nc
	p.log.Infof("Executor Pub connected to NATS: %s", natsURL)
	return p, nil
}

func newPublisher(c conn) *Publisher {
	return &Publisher{
		conn:  c,
		clock: time.Now,
		log:   logger.For(logger.ComponentEventBus),
	}
}

func (p *Publisher) publish(subject string, event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", subject, err)
	}
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

// PublishExecution announces an execution attempt on actions.executed or actions.failed.
func (p *Publisher) PublishExecution(action *models.Action, log *models.ExecutionLog) error {
	subject := SubjectActionFailed
	if log.Success {
		subject = SubjectActionExecuted
	}

	event := ExecutionEvent{
		ActionID:       action.ID,
		OpportunityID:  action.OpportunityID,
		ActionType:     action.ActionType,
		ExecutionLogID: log.ID,
		ExecutedBy:     string(log.ExecutedBy),
		Status:         string(action.Status),
		Success:        log.Success,
		Error:          log.ErrorMessage,
		DurationMs:     log.DurationMs,
		Timestamp:      p.clock().Unix(),
	}
	if err := p.publish(subject, event); err != nil {
		return err
	}

	p.log.Infof("Published %s: [%s] %s", subject, action.Status, action.ID)
	return nil
}

func (p *Publisher) PublishRollback(action *models.Action, log *models.ExecutionLog) error {
	event := RollbackEvent{
		ActionID:       action.ID,
		OpportunityID:  action.OpportunityID,
		ActionType:     action.ActionType,
		ExecutionLogID: log.ID,
		RolledBackBy:   log.RolledBackBy,
		Reason:         log.RollbackReason,
		Timestamp:      p.clock().Unix(),
	}
	if err := p.publish(SubjectActionRolledBack, event); err != nil {
		return err
	}

	p.log.Infof("Published rollback: %s (log %s)", action.ID, log.ID)
	return nil
}

func (p *Publisher) PublishCircuitBreaker(open bool, failures int) error {
	event := CircuitBreakerEvent{Open: open, Failures: failures, Timestamp: p.clock().Unix()}
	if err := p.publish(SubjectCircuitBreaker, event); err != nil {
		return err
	}

	p.log.Infof("Published circuit breaker state: open=%v failures=%d", open, failures)
	return nil
}

func (p *Publisher) Close() {
	if p.nc != nil {
		p.nc.Close()
		p.nc = nil
		p.log.Infof("Executor Pub disconnected from NATS")
	}
}

func (p *Publisher) IsConnected() bool {
	return p.nc != nil && p.nc.IsConnected()
}
