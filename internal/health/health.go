package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Check reports whether one dependency is reachable.
type Check func(ctx context.Context) error

type HealthServer struct {
	mu     sync.RWMutex
	checks map[string]Check
	server *http.Server
}

func NewHealthServer() *HealthServer {
	return &HealthServer{checks: map[string]Check{}}
}

// Register adds a named dependency check to /health.
func (h *HealthServer) Register(name string, check Check) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

func (h *HealthServer) Start(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.healthCheckHandler)

	h.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return h.server.ListenAndServe()
}

func (h *HealthServer) Shutdown(ctx context.Context) error {
	if h.server != nil {
		return h.server.Shutdown(ctx)
	}
	return nil
}

// Evaluate runs every check and returns per-dependency results.
func (h *HealthServer) Evaluate(ctx context.Context) (bool, map[string]string) {
	h.mu.RLock()
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	checks := make(map[string]Check, len(h.checks))
	for name, check := range h.checks {
		checks[name] = check
	}
	h.mu.RUnlock()
	sort.Strings(names)

	healthy := true
	results := map[string]string{}
	for _, name := range names {
		if err := checks[name](ctx); err != nil {
			healthy = false
			results[name] = "disconnected: " + err.Error()
			continue
		}
		results[name] = "connected"
	}
	return healthy, results
}

func (h *HealthServer) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	healthy, results := h.Evaluate(ctx)

	w.Header().Set("Content-Type", "application/json")
	if !healthy {
		results["status"] = "unhealthy"
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(results)
		return
	}

	results["status"] = "healthy"
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(results)
}
