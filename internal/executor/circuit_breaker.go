package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/EricMurray-e-m-dev/RevenueMonkey/internal/logger"
)

const (
	DefaultBreakerThreshold = 3
	BreakerWindow           = time.Hour
)

// FailureWindow stores failure timestamps and the trip marker for the circuit
// breaker. The default is process-local; a shared implementation lets several
// instances trip, observe and reset the same breaker.
type FailureWindow interface {
	Record(ctx context.Context, at time.Time) error
	Prune(ctx context.Context, before time.Time) error
	Count(ctx context.Context) (int, error)
	// Trip marks the breaker open at at unless it is already open, and
	// reports whether this call opened it.
	Trip(ctx context.Context, at time.Time) (bool, error)
	// OpenedAt returns when the breaker tripped, or nil while it is closed.
	OpenedAt(ctx context.Context) (*time.Time, error)
	// Reset clears recorded failures and closes the breaker.
	Reset(ctx context.Context) error
}

// MemoryFailureWindow is an in-process FailureWindow.
type MemoryFailureWindow struct {
	mu       sync.Mutex
	failures []time.Time
	openedAt *time.Time
}

func NewMemoryFailureWindow() *MemoryFailureWindow {
	return &MemoryFailureWindow{}
}

func (w *MemoryFailureWindow) Record(ctx context.Context, at time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.failures = append(w.failures, at)
	return nil
}

func (w *MemoryFailureWindow) Prune(ctx context.Context, before time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	kept := w.failures[:0]
	for _, f := range w.failures {
		if !f.Before(before) {
			kept = append(kept, f)
		}
	}
	w.failures = kept
	return nil
}

func (w *MemoryFailureWindow) Count(ctx context.Context) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.failures), nil
}

func (w *MemoryFailureWindow) Trip(ctx context.Context, at time.Time) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.openedAt != nil {
		return false, nil
	}
	w.openedAt = &at
	return true, nil
}

func (w *MemoryFailureWindow) OpenedAt(ctx context.Context) (*time.Time, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.openedAt == nil {
		return nil, nil
	}
	at := *w.openedAt
	return &at, nil
}

func (w *MemoryFailureWindow) Reset(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.failures = nil
	w.openedAt = nil
	return nil
}

// BreakerStatus is a snapshot of the circuit breaker.
type BreakerStatus struct {
	Open           bool       `json:"open"`
	RecentFailures int        `json:"recent_failures"`
	Threshold      int        `json:"threshold"`
	OpenedAt       *time.Time `json:"opened_at,omitempty"`
}

// CircuitBreaker halts automatic execution once the number of failures in the
// trailing hour reaches the threshold. It trips on a raw count, not a rate,
// and stays open until Reset is called. All state lives in the window, so
// breakers sharing a window trip and reset together.
type CircuitBreaker struct {
	mu        sync.Mutex
	window    FailureWindow
	threshold int
	clock     func() time.Time

	onStateChange func(open bool, failures int)
}

func NewCircuitBreaker(threshold int, window FailureWindow, clock func() time.Time) *CircuitBreaker {
	if threshold <= 0 {
		threshold = DefaultBreakerThreshold
	}
	if window == nil {
		window = NewMemoryFailureWindow()
	}
	if clock == nil {
		clock = time.Now
	}
	return &CircuitBreaker{
		window:    window,
		threshold: threshold,
		clock:     clock,
	}
}

// OnStateChange registers a callback invoked after this breaker opens or is reset.
func (cb *CircuitBreaker) OnStateChange(fn func(open bool, failures int)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = fn
}

// IsOpen reports whether the breaker is tripped. If the window cannot be read
// the breaker is treated as open.
func (cb *CircuitBreaker) IsOpen(ctx context.Context) bool {
	openedAt, err := cb.window.OpenedAt(ctx)
	if err != nil {
		logger.For(logger.ComponentBreaker).Errorf("Failed to read breaker state, treating as open: %v", err)
		return true
	}
	return openedAt != nil
}

// RecordFailure adds a failure, prunes stale ones and re-evaluates the trip
// condition. It reports whether this failure opened the breaker.
func (cb *CircuitBreaker) RecordFailure(ctx context.Context) (bool, error) {
	log := logger.For(logger.ComponentBreaker)

	cb.mu.Lock()
	now := cb.clock()
	if err := cb.window.Record(ctx, now); err != nil {
		cb.mu.Unlock()
		return false, fmt.Errorf("failed to record failure: %w", err)
	}

	failures, err := cb.countRecent(ctx, now)
	if err != nil {
		cb.mu.Unlock()
		return false, err
	}

	tripped := false
	if failures >= cb.threshold {
		tripped, err = cb.window.Trip(ctx, now)
		if err != nil {
			cb.mu.Unlock()
			return false, fmt.Errorf("failed to open breaker: %w", err)
		}
	}
	callback := cb.onStateChange
	cb.mu.Unlock()

	if tripped {
		log.Warnf("Circuit breaker OPEN: %d failures in the last %s (threshold %d)", failures, BreakerWindow, cb.threshold)
		if callback != nil {
			callback(true, failures)
		}
	}

	return tripped, nil
}

// Reset clears the failure window and closes the breaker everywhere it is shared.
func (cb *CircuitBreaker) Reset(ctx context.Context) error {
	cb.mu.Lock()
	openedAt, err := cb.window.OpenedAt(ctx)
	if err != nil {
		cb.mu.Unlock()
		return fmt.Errorf("failed to read breaker state: %w", err)
	}
	if err := cb.window.Reset(ctx); err != nil {
		cb.mu.Unlock()
		return fmt.Errorf("failed to reset failure window: %w", err)
	}
	wasOpen := openedAt != nil
	callback := cb.onStateChange
	cb.mu.Unlock()

	logger.For(logger.ComponentBreaker).Infof("Circuit breaker reset (was open: %v)", wasOpen)

	if wasOpen && callback != nil {
		callback(false, 0)
	}
	return nil
}

// Status returns the current state with stale failures pruned.
func (cb *CircuitBreaker) Status(ctx context.Context) (BreakerStatus, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	failures, err := cb.countRecent(ctx, cb.clock())
	if err != nil {
		return BreakerStatus{}, err
	}
	openedAt, err := cb.window.OpenedAt(ctx)
	if err != nil {
		return BreakerStatus{}, fmt.Errorf("failed to read breaker state: %w", err)
	}

	return BreakerStatus{
		Open:           openedAt != nil,
		RecentFailures: failures,
		Threshold:      cb.threshold,
		OpenedAt:       openedAt,
	}, nil
}

// countRecent must be called with cb.mu held.
func (cb *CircuitBreaker) countRecent(ctx context.Context, now time.Time) (int, error) {
	if err := cb.window.Prune(ctx, now.Add(-BreakerWindow)); err != nil {
		return 0, fmt.Errorf("failed to prune failure window: %w", err)
	}
	failures, err := cb.window.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count failures: %w", err)
	}
	return failures, nil
}
