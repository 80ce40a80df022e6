package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/EricMurray-e-m-dev/RevenueMonkey/internal/executor"
	"github.com/EricMurray-e-m-dev/RevenueMonkey/internal/models"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	subject string
	data    []byte
}

type fakeConn struct {
	messages []published
	err      error
}

func (c *fakeConn) Publish(subject string, data []byte) error {
	c.messages = append(c.messages, published{subject: subject, data: data})
	return c.err
}

func newTestPublisher() (*Publisher, *fakeConn) {
	conn := &fakeConn{}
	p := newPublisher(conn)
	p.clock = func() time.Time { return time.Unix(1773144000, 0) }
	return p, conn
}

func TestPublisher_PublishExecution(t *testing.T) {
	p, conn := newTestPublisher()
	action := &models.Action{ID: "action-1", OpportunityID: "opp-1", ActionType: "add_affiliate_link", Status: models.StatusExecuted}

	require.NoError(t, p.PublishExecution(action, &models.ExecutionLog{ID: "log-1", ExecutedBy: models.TriggerAuto, Success: true, DurationMs: 42}))
	require.NoError(t, p.PublishExecution(action, &models.ExecutionLog{ID: "log-2", ExecutedBy: models.TriggerAuto, ErrorMessage: "network timeout"}))

	require.Len(t, conn.messages, 2)
	assert.Equal(t, SubjectActionExecuted, conn.messages[0].subject)
	assert.Equal(t, SubjectActionFailed, conn.messages[1].subject)

	var event ExecutionEvent
	require.NoError(t, json.Unmarshal(conn.messages[0].data, &event))
	assert.Equal(t, ExecutionEvent{
		ActionID:       "action-1",
		OpportunityID:  "opp-1",
		ActionType:     "add_affiliate_link",
		ExecutionLogID: "log-1",
		ExecutedBy:     "auto",
		Status:         "EXECUTED",
		Success:        true,
		DurationMs:     42,
		Timestamp:      1773144000,
	}, event)
}

func TestPublisher_PublishRollbackAndBreaker(t *testing.T) {
	p, conn := newTestPublisher()
	action := &models.Action{ID: "action-1", ActionType: "update_meta_description"}

	require.NoError(t, p.PublishRollback(action, &models.ExecutionLog{ID: "log-1", RolledBackBy: "ops", RollbackReason: "typo"}))
	require.NoError(t, p.PublishCircuitBreaker(true, 3))

	require.Len(t, conn.messages, 2)
	assert.Equal(t, SubjectActionRolledBack, conn.messages[0].subject)
	assert.JSONEq(t, `{"open":true,"failures":3,"timestamp":1773144000}`, string(conn.messages[1].data))
}

func TestPublisher_WrapsConnectionErrors(t *testing.T) {
	p, conn := newTestPublisher()
	conn.err = errors.New("nats: connection closed")

	err := p.PublishCircuitBreaker(false, 0)

	require.Error(t, err)
	assert.Contains(t, err.Error(), SubjectCircuitBreaker)
}

type fakeProcessor struct {
	executed   []string
	approved   []string
	rejected   []string
	rolledBack []string
	resets     int
	resetErr   error
}

func (p *fakeProcessor) Execute(ctx context.Context, actionID string, executedBy models.Trigger) executor.ExecutionResult {
	p.executed = append(p.executed, actionID+":"+string(executedBy))
	return executor.ExecutionResult{Success: true, ActionID: actionID, Status: models.StatusExecuted}
}

func (p *fakeProcessor) Approve(ctx context.Context, actionID, approvedBy string) executor.TransitionResult {
	p.approved = append(p.approved, actionID+":"+approvedBy)
	return executor.TransitionResult{Success: true, ActionID: actionID, Status: models.StatusApproved}
}

func (p *fakeProcessor) Reject(ctx context.Context, actionID, rejectedBy, reason string) executor.TransitionResult {
	p.rejected = append(p.rejected, actionID+":"+reason)
	return executor.TransitionResult{Success: true, ActionID: actionID, Status: models.StatusRejected}
}

func (p *fakeProcessor) Rollback(ctx context.Context, executionLogID, rolledBackBy, reason string) executor.RollbackResult {
	p.rolledBack = append(p.rolledBack, executionLogID+":"+rolledBackBy+":"+reason)
	return executor.RollbackResult{Success: false, ExecutionLogID: executionLogID, Kind: executor.KindInvalid, Error: "already rolled back"}
}

func (p *fakeProcessor) ResetCircuitBreaker(ctx context.Context) error {
	p.resets++
	return p.resetErr
}

func TestSubscriber_DispatchesCommands(t *testing.T) {
	processor := &fakeProcessor{}
	s := newSubscriber(processor)

	s.handleExecuteMessage(&nats.Msg{Data: []byte(`{"action_id":"action-1","requested_by":"ops"}`)})
	s.handleApproveMessage(&nats.Msg{Data: []byte(`{"action_id":"action-2","by":"owner"}`)})
	s.handleRejectMessage(&nats.Msg{Data: []byte(`{"action_id":"action-3","by":"owner","reason":"off brand"}`)})
	s.handleRollbackMessage(&nats.Msg{Data: []byte(`{"execution_log_id":"log-1","rolled_back_by":"ops","reason":"typo"}`)})
	s.handleBreakerResetMessage(&nats.Msg{})

	assert.Equal(t, []string{"action-1:manual"}, processor.executed)
	assert.Equal(t, []string{"action-2:owner"}, processor.approved)
	assert.Equal(t, []string{"action-3:off brand"}, processor.rejected)
	assert.Equal(t, []string{"log-1:ops:typo"}, processor.rolledBack)
	assert.Equal(t, 1, processor.resets)
}

func TestSubscriber_IgnoresMalformedMessages(t *testing.T) {
	processor := &fakeProcessor{}
	s := newSubscriber(processor)

	s.handleExecuteMessage(&nats.Msg{Data: []byte(`not json`)})
	s.handleRollbackMessage(&nats.Msg{Data: []byte(`{`)})
	s.handleBreakerResetMessage(&nats.Msg{Data: []byte(`[`)})

	assert.Empty(t, processor.executed)
	assert.Empty(t, processor.rolledBack)
	assert.Equal(t, 0, processor.resets)
}

func TestSubscriber_SubscribesToEveryCommand(t *testing.T) {
	s := newSubscriber(&fakeProcessor{})

	subjects := make([]string, 0)
	for subject := range s.handlers() {
		subjects = append(subjects, subject)
	}

	assert.ElementsMatch(t, []string{
		SubjectExecuteRequested,
		SubjectApproveRequested,
		SubjectRejectRequested,
		SubjectRollbackRequested,
		SubjectBreakerReset,
	}, subjects)
}

func TestSubscriber_CommandsShareQueueGroup(t *testing.T) {
	s := newSubscriber(&fakeProcessor{})
	handlers := s.handlers()

	for _, subject := range []string{
		SubjectExecuteRequested,
		SubjectApproveRequested,
		SubjectRejectRequested,
		SubjectRollbackRequested,
	} {
		assert.Equal(t, CommandQueueGroup, handlers[subject].queue, subject)
	}
	assert.Empty(t, handlers[SubjectBreakerReset].queue, "breaker reset fans out to every instance")
}
