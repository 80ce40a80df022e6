package eventbus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/EricMurray-e-m-dev/RevenueMonkey/internal/executor"
	"github.com/EricMurray-e-m-dev/RevenueMonkey/internal/logger"
	"github.com/EricMurray-e-m-dev/RevenueMonkey/internal/models"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Command subjects.
const (
	SubjectExecuteRequested  = "actions.execute"
	SubjectApproveRequested  = "actions.approve"
	SubjectRejectRequested   = "actions.reject"
	SubjectRollbackRequested = "rollback.requested"
	SubjectBreakerReset      = "executor.circuit_breaker.reset"
)

// CommandQueueGroup load-balances commands that mutate a single action or
// execution so exactly one instance handles each message. Breaker resets
// are not grouped and reach every instance.
const CommandQueueGroup = "executor"

type ExecuteRequest struct {
	ActionID    string `json:"action_id"`
	RequestedBy string `json:"requested_by"`
}

type ApprovalRequest struct {
	ActionID string `json:"action_id"`
	By       string `json:"by"`
	Reason   string `json:"reason,omitempty"`
}

type RollbackRequest struct {
	ExecutionLogID string `json:"execution_log_id"`
	RolledBackBy   string `json:"rolled_back_by"`
	Reason         string `json:"reason"`
	Timestamp      int64  `json:"timestamp"`
}

type BreakerResetRequest struct {
	RequestedBy string `json:"requested_by"`
}

// CommandProcessor carries out operator commands received on the bus.
type CommandProcessor interface {
	Execute(ctx context.Context, actionID string, executedBy models.Trigger) executor.ExecutionResult
	Approve(ctx context.Context, actionID, approvedBy string) executor.TransitionResult
	Reject(ctx context.Context, actionID, rejectedBy, reason string) executor.TransitionResult
	Rollback(ctx context.Context, executionLogID, rolledBackBy, reason string) executor.RollbackResult
	ResetCircuitBreaker(ctx context.Context) error
}

type Subscriber struct {
	conn      *nats.Conn
	subs      []*nats.Subscription
	processor CommandProcessor
	log       *zap.SugaredLogger
}

func NewSubscriber(natsURL string, processor CommandProcessor) (*Subscriber, error) {
	conn, err := nats.Connect(natsURL,
		nats.Name("revenuemonkey-executor-sub"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, err
	}

	s := newSubscriber(processor)
	s.conn = conn
	s.log.Infof("Connected to NATS at %s", natsURL)
	return s, nil
}

func newSubscriber(processor CommandProcessor) *Subscriber {
	return &Subscriber{
		processor: processor,
		log:       logger.For(logger.ComponentEventBus),
	}
}

type subscription struct {
	queue   string
	handler nats.MsgHandler
}

func (s *Subscriber) handlers() map[string]subscription {
	return map[string]subscription{
		SubjectExecuteRequested:  {CommandQueueGroup, s.handleExecuteMessage},
		SubjectApproveRequested:  {CommandQueueGroup, s.handleApproveMessage},
		SubjectRejectRequested:   {CommandQueueGroup, s.handleRejectMessage},
		SubjectRollbackRequested: {CommandQueueGroup, s.handleRollbackMessage},
		SubjectBreakerReset:      {"", s.handleBreakerResetMessage},
	}
}

func (s *Subscriber) Start() error {
	for subject, entry := range s.handlers() {
		s.log.Infof("Subscribing to '%s'", subject)

		var (
			sub *nats.Subscription
			err error
		)
		if entry.queue != "" {
			sub, err = s.conn.QueueSubscribe(subject, entry.queue, entry.handler)
		} else {
			sub, err = s.conn.Subscribe(subject, entry.handler)
		}
		if err != nil {
			return err
		}
		s.subs = append(s.subs, sub)
		s.log.Infof("Subscribed to '%s' (queue: %q)", subject, entry.queue)
	}
	return nil
}

func (s *Subscriber) handleExecuteMessage(msg *nats.Msg) {
	s.log.Infof("Received execute request from event bus (%d bytes)", len(msg.Data))

	var request ExecuteRequest
	if err := json.Unmarshal(msg.Data, &request); err != nil {
		s.log.Errorf("Failed to unmarshal execute request: %v", err)
		return
	}

	result := s.processor.Execute(context.Background(), request.ActionID, models.TriggerManual)
	if !result.Success {
		s.log.Warnf("Execution of %s failed: [%s] %s", request.ActionID, result.Kind, result.Error)
	} else {
		s.log.Infof("Action executed: %s -> %s", request.ActionID, result.Status)
	}
	s.reply(msg, result)
}

func (s *Subscriber) handleApproveMessage(msg *nats.Msg) {
	s.log.Infof("Received approval request from event bus (%d bytes)", len(msg.Data))

	var request ApprovalRequest
	if err := json.Unmarshal(msg.Data, &request); err != nil {
		s.log.Errorf("Failed to unmarshal approval request: %v", err)
		return
	}

	result := s.processor.Approve(context.Background(), request.ActionID, request.By)
	if !result.Success {
		s.log.Warnf("Action approval failed: %s", result.Error)
	} else {
		s.log.Infof("Action approved: %s -> %s", request.ActionID, result.Status)
	}
	s.reply(msg, result)
}

func (s *Subscriber) handleRejectMessage(msg *nats.Msg) {
	s.log.Infof("Received rejection request from event bus (%d bytes)", len(msg.Data))

	var request ApprovalRequest
	if err := json.Unmarshal(msg.Data, &request); err != nil {
		s.log.Errorf("Failed to unmarshal rejection request: %v", err)
		return
	}

	result := s.processor.Reject(context.Background(), request.ActionID, request.By, request.Reason)
	if !result.Success {
		s.log.Warnf("Action rejection failed: %s", result.Error)
	} else {
		s.log.Infof("Action rejected: %s -> %s", request.ActionID, result.Status)
	}
	s.reply(msg, result)
}

func (s *Subscriber) handleRollbackMessage(msg *nats.Msg) {
	s.log.Infof("Received rollback request from event bus (%d bytes)", len(msg.Data))

	var request RollbackRequest
	if err := json.Unmarshal(msg.Data, &request); err != nil {
		s.log.Errorf("Failed to unmarshal rollback request: %v", err)
		return
	}

	s.log.Infof("Processing rollback: log=%s reason=%s", request.ExecutionLogID, request.Reason)

	result := s.processor.Rollback(context.Background(), request.ExecutionLogID, request.RolledBackBy, request.Reason)
	if !result.Success {
		s.log.Warnf("Rollback failed: %s", result.Error)
	} else {
		s.log.Infof("Rollback completed: %s", request.ExecutionLogID)
	}
	s.reply(msg, result)
}

func (s *Subscriber) handleBreakerResetMessage(msg *nats.Msg) {
	var request BreakerResetRequest
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &request); err != nil {
			s.log.Errorf("Failed to unmarshal breaker reset request: %v", err)
			return
		}
	}

	s.log.Infof("Circuit breaker reset requested by %q", request.RequestedBy)
	if err := s.processor.ResetCircuitBreaker(context.Background()); err != nil {
		s.log.Errorf("Circuit breaker reset failed: %v", err)
		s.reply(msg, map[string]interface{}{"success": false, "error": err.Error()})
		return
	}
	s.reply(msg, map[string]interface{}{"success": true})
}

// reply answers request-reply callers; fire-and-forget messages have no reply subject.
func (s *Subscriber) reply(msg *nats.Msg, result interface{}) {
	if msg.Reply == "" || s.conn == nil {
		return
	}
	data, err := json.Marshal(result)
	if err != nil {
		s.log.Errorf("Failed to marshal reply: %v", err)
		return
	}
	if err := s.conn.Publish(msg.Reply, data); err != nil {
		s.log.Warnf("Failed to send reply: %v", err)
	}
}

func (s *Subscriber) Close() {
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	s.subs = nil

	if s.conn != nil {
		s.conn.Close()
		s.log.Infof("Disconnected from NATS")
	}
}

func (s *Subscriber) IsConnected() bool {
	return s.conn != nil && s.conn.IsConnected()
}
