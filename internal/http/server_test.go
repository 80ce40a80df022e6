package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/EricMurray-e-m-dev/RevenueMonkey/internal/executor"
	"github.com/EricMurray-e-m-dev/RevenueMonkey/internal/metrics"
	"github.com/EricMurray-e-m-dev/RevenueMonkey/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOperator struct {
	executeResult  executor.ExecutionResult
	rollbackResult executor.RollbackResult
	resetErr       error
	statsErr       error

	executed   []string
	approved   []string
	rejected   []string
	rolledBack []string
	resets     int
}

func (f *fakeOperator) Execute(ctx context.Context, actionID string, executedBy models.Trigger) executor.ExecutionResult {
	f.executed = append(f.executed, actionID+":"+string(executedBy))
	result := f.executeResult
	result.ActionID = actionID
	return result
}

func (f *fakeOperator) Approve(ctx context.Context, actionID, approvedBy string) executor.TransitionResult {
	f.approved = append(f.approved, actionID+":"+approvedBy)
	return executor.TransitionResult{Success: true, ActionID: actionID, Status: models.StatusApproved}
}

func (f *fakeOperator) Reject(ctx context.Context, actionID, rejectedBy, reason string) executor.TransitionResult {
	f.rejected = append(f.rejected, actionID+":"+rejectedBy+":"+reason)
	return executor.TransitionResult{ActionID: actionID, Kind: executor.KindInvalid, Error: "invalid state"}
}

func (f *fakeOperator) Rollback(ctx context.Context, executionLogID, rolledBackBy, reason string) executor.RollbackResult {
	f.rolledBack = append(f.rolledBack, executionLogID+":"+rolledBackBy+":"+reason)
	result := f.rollbackResult
	result.ExecutionLogID = executionLogID
	return result
}

func (f *fakeOperator) ResetCircuitBreaker(ctx context.Context) error {
	f.resets++
	return f.resetErr
}

func (f *fakeOperator) Stats(ctx context.Context) (*executor.Stats, error) {
	if f.statsErr != nil {
		return nil, f.statsErr
	}
	return &executor.Stats{AutoExecutedToday: 4, FailedToday: 1}, nil
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServer_Execute(t *testing.T) {
	op := &fakeOperator{executeResult: executor.ExecutionResult{Success: true, Status: models.StatusExecuted}}
	h := NewServer(op, prometheus.NewRegistry()).Handler()

	rec := do(t, h, http.MethodPost, "/api/actions/action-1/execute", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"action-1:manual"}, op.executed)

	var result executor.ExecutionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Success)
	assert.Equal(t, "action-1", result.ActionID)
}

func TestServer_ErrorKindsMapToStatusCodes(t *testing.T) {
	tests := []struct {
		kind executor.ErrorKind
		want int
	}{
		{executor.KindNotFound, http.StatusNotFound},
		{executor.KindInvalid, http.StatusConflict},
		{executor.KindNoHandler, http.StatusUnprocessableEntity},
		{executor.KindValidation, http.StatusUnprocessableEntity},
		{executor.KindExecution, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			op := &fakeOperator{executeResult: executor.ExecutionResult{Kind: tt.kind, Error: "boom"}}
			rec := do(t, NewServer(op, prometheus.NewRegistry()).Handler(), http.MethodPost, "/api/actions/a/execute", "")
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestServer_ApproveAndReject(t *testing.T) {
	op := &fakeOperator{}
	h := NewServer(op, prometheus.NewRegistry()).Handler()

	rec := do(t, h, http.MethodPost, "/api/actions/a1/approve", `{"by":"owner"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/actions/a2/reject", `{"by":"owner","reason":"off brand"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	assert.Equal(t, []string{"a1:owner"}, op.approved)
	assert.Equal(t, []string{"a2:owner:off brand"}, op.rejected)
}

func TestServer_Rollback(t *testing.T) {
	op := &fakeOperator{rollbackResult: executor.RollbackResult{Success: true}}
	h := NewServer(op, prometheus.NewRegistry()).Handler()

	rec := do(t, h, http.MethodPost, "/api/executions/log-1/rollback", `{"rolled_back_by":"ops","reason":"typo"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"log-1:ops:typo"}, op.rolledBack)
}

func TestServer_RejectsMalformedBody(t *testing.T) {
	op := &fakeOperator{}
	h := NewServer(op, prometheus.NewRegistry()).Handler()

	rec := do(t, h, http.MethodPost, "/api/executions/log-1/rollback", `{`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, op.rolledBack)
}

func TestServer_BreakerReset(t *testing.T) {
	op := &fakeOperator{}
	h := NewServer(op, prometheus.NewRegistry()).Handler()

	rec := do(t, h, http.MethodPost, "/api/circuit-breaker/reset", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	op.resetErr = errors.New("redis unavailable")
	rec = do(t, h, http.MethodPost, "/api/circuit-breaker/reset", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, 2, op.resets)
}

func TestServer_Stats(t *testing.T) {
	h := NewServer(&fakeOperator{}, prometheus.NewRegistry()).Handler()

	rec := do(t, h, http.MethodGet, "/api/stats", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	var stats executor.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 4, stats.AutoExecutedToday)
	assert.Equal(t, 1, stats.FailedToday)
}

func TestServer_MethodAndCORS(t *testing.T) {
	h := NewServer(&fakeOperator{}, prometheus.NewRegistry()).Handler()

	rec := do(t, h, http.MethodGet, "/api/actions/a1/execute", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = do(t, h, http.MethodOptions, "/api/actions/a1/execute", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestServer_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.ExecutionRecorded("auto", true)
	h := NewServer(&fakeOperator{}, reg).Handler()

	rec := do(t, h, http.MethodGet, "/metrics", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `executor_executions_total{result="success",trigger="auto"} 1`)
}
