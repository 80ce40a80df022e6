package notification

import (
	"sort"
	"sync"
	"time"
)

// Priority decides how long a payload may wait in a batch.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityStandard Priority = "standard"
)

const (
	DefaultStandardBatchSize   = 20
	DefaultStandardBatchMaxAge = time.Hour
)

// Payload is one undelivered notification.
type Payload struct {
	Type     string                 `json:"type"`
	Priority Priority               `json:"priority"`
	Title    string                 `json:"title"`
	Body     string                 `json:"body"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	QueuedAt time.Time              `json:"queued_at"`

	// audience is who passed the gates when the payload was queued.
	audience audience
}

// BatchPolicy bounds a batch by item count and by the age of its oldest item.
type BatchPolicy struct {
	MaxSize int
	MaxAge  time.Duration
}

// Batch is a flushed group of payloads sharing a key.
type Batch struct {
	Key      string
	Priority Priority
	Items    []Payload
}

// Queue is an in-memory batching buffer keyed by batch key. A batch takes its
// priority and age from its oldest member, so a critical payload added behind
// an older standard one waits for the standard policy.
type Queue struct {
	mu       sync.Mutex
	batches  map[string][]Payload
	policies map[Priority]BatchPolicy
	clock    func() time.Time
}

func NewQueue(standard BatchPolicy, clock func() time.Time) *Queue {
	if standard.MaxSize <= 0 {
		standard.MaxSize = DefaultStandardBatchSize
	}
	if standard.MaxAge <= 0 {
		standard.MaxAge = DefaultStandardBatchMaxAge
	}
	if clock == nil {
		clock = time.Now
	}
	return &Queue{
		batches: make(map[string][]Payload),
		policies: map[Priority]BatchPolicy{
			PriorityCritical: {MaxSize: 1, MaxAge: 0},
			PriorityStandard: standard,
		},
		clock: clock,
	}
}

// Add appends payload under key, stamping QueuedAt. It reports whether the
// batch is now ready to flush; critical payloads on their own key always are.
func (q *Queue) Add(key string, payload Payload) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock()
	payload.QueuedAt = now
	if payload.Priority == "" {
		payload.Priority = PriorityStandard
	}
	q.batches[key] = append(q.batches[key], payload)
	return q.ready(q.batches[key], now)
}

// FlushExpired removes and returns every batch that has reached its size or age threshold.
func (q *Queue) FlushExpired() []Batch {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock()
	var flushed []Batch
	for _, key := range q.sortedKeys() {
		items := q.batches[key]
		if !q.ready(items, now) {
			continue
		}
		flushed = append(flushed, Batch{Key: key, Priority: items[0].Priority, Items: items})
		delete(q.batches, key)
	}
	return flushed
}

// Flush removes and returns the batch under key regardless of its thresholds.
func (q *Queue) Flush(key string) (Batch, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	items, ok := q.batches[key]
	if !ok || len(items) == 0 {
		return Batch{}, false
	}
	delete(q.batches, key)
	return Batch{Key: key, Priority: items[0].Priority, Items: items}, true
}

// FlushAll drains every batch, e.g. on shutdown.
func (q *Queue) FlushAll() []Batch {
	q.mu.Lock()
	defer q.mu.Unlock()

	var flushed []Batch
	for _, key := range q.sortedKeys() {
		items := q.batches[key]
		flushed = append(flushed, Batch{Key: key, Priority: items[0].Priority, Items: items})
		delete(q.batches, key)
	}
	return flushed
}

// Depth is the number of payloads waiting across all batches.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	depth := 0
	for _, items := range q.batches {
		depth += len(items)
	}
	return depth
}

// Pending returns the number of waiting payloads per batch key.
func (q *Queue) Pending() map[string]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	pending := make(map[string]int, len(q.batches))
	for key, items := range q.batches {
		pending[key] = len(items)
	}
	return pending
}

// ready must be called with q.mu held.
func (q *Queue) ready(items []Payload, now time.Time) bool {
	if len(items) == 0 {
		return false
	}
	oldest := items[0]
	policy, ok := q.policies[oldest.Priority]
	if !ok {
		policy = q.policies[PriorityStandard]
	}
	if len(items) >= policy.MaxSize {
		return true
	}
	return now.Sub(oldest.QueuedAt) >= policy.MaxAge
}

func (q *Queue) sortedKeys() []string {
	keys := make([]string, 0, len(q.batches))
	for key := range q.batches {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
