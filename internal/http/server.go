package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/EricMurray-e-m-dev/RevenueMonkey/internal/executor"
	"github.com/EricMurray-e-m-dev/RevenueMonkey/internal/logger"
	"github.com/EricMurray-e-m-dev/RevenueMonkey/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Operator is the executor surface exposed over HTTP.
type Operator interface {
	Execute(ctx context.Context, actionID string, executedBy models.Trigger) executor.ExecutionResult
	Approve(ctx context.Context, actionID, approvedBy string) executor.TransitionResult
	Reject(ctx context.Context, actionID, rejectedBy, reason string) executor.TransitionResult
	Rollback(ctx context.Context, executionLogID, rolledBackBy, reason string) executor.RollbackResult
	ResetCircuitBreaker(ctx context.Context) error
	Stats(ctx context.Context) (*executor.Stats, error)
}

type ApprovalRequest struct {
	By     string `json:"by"`
	Reason string `json:"reason,omitempty"`
}

type RollbackRequest struct {
	RolledBackBy string `json:"rolled_back_by"`
	Reason       string `json:"reason"`
}

type Server struct {
	operator   Operator
	gatherer   prometheus.Gatherer
	httpServer *http.Server
	log        *zap.SugaredLogger
}

// NewServer serves operator endpoints. A nil gatherer uses the default registry.
func NewServer(operator Operator, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		operator: operator,
		gatherer: gatherer,
		log:      logger.For(logger.ComponentHTTP),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/actions/{id}/execute", s.handleExecute)
	mux.HandleFunc("POST /api/actions/{id}/approve", s.handleApprove)
	mux.HandleFunc("POST /api/actions/{id}/reject", s.handleReject)
	mux.HandleFunc("POST /api/executions/{id}/rollback", s.handleRollback)
	mux.HandleFunc("POST /api/circuit-breaker/reset", s.handleBreakerReset)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return s.enableCORS(s.logRequests(mux))
}

func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.Infof("HTTP Server listening on: %s", addr)
	return s.httpServer.ListenAndServe()
}

// Stop gracefully shuts down the HTTP server with a timeout.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	s.log.Infof("Stopping HTTP server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return err
	}

	s.log.Infof("HTTP server stopped successfully")
	return nil
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	actionID := r.PathValue("id")
	s.log.Infof("Manual execution request on action: %s", actionID)

	result := s.operator.Execute(r.Context(), actionID, models.TriggerManual)
	writeJSON(w, statusFor(result.Success, result.Kind), result)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req ApprovalRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result := s.operator.Approve(r.Context(), r.PathValue("id"), req.By)
	writeJSON(w, statusFor(result.Success, result.Kind), result)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	var req ApprovalRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result := s.operator.Reject(r.Context(), r.PathValue("id"), req.By, req.Reason)
	writeJSON(w, statusFor(result.Success, result.Kind), result)
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	var req RollbackRequest
	if !decodeBody(w, r, &req) {
		return
	}

	logID := r.PathValue("id")
	s.log.Infof("Rollback request on execution: %s", logID)

	result := s.operator.Rollback(r.Context(), logID, req.RolledBackBy, req.Reason)
	writeJSON(w, statusFor(result.Success, result.Kind), result)
}

func (s *Server) handleBreakerReset(w http.ResponseWriter, r *http.Request) {
	if err := s.operator.ResetCircuitBreaker(r.Context()); err != nil {
		s.log.Errorf("Circuit breaker reset failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"success": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.operator.Stats(r.Context())
	if err != nil {
		s.log.Errorf("Failed to compute stats: %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// decodeBody accepts an empty body as the zero request.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.Body == nil {
		return true
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	http.Error(w, "Invalid request body", http.StatusBadRequest)
	return false
}

func statusFor(success bool, kind executor.ErrorKind) int {
	if success {
		return http.StatusOK
	}
	switch kind {
	case executor.KindNotFound:
		return http.StatusNotFound
	case executor.KindInvalid:
		return http.StatusConflict
	case executor.KindNoHandler, executor.KindValidation:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.log.Debugf("Received request: %s %s", r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
