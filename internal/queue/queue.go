// Package queue holds the in-process ingest queue feeding the worker pool.
package queue

import (
	"container/list"
	"path/filepath"
	"sync"
	"time"

	"github.com/amillerrr/abr-pipeline/internal/metrics"
)

// StabilityState tracks where a queued file is in write-completion detection.
// Items enter the queue as discovered; the worker advances the state while it
// waits on the file.
type StabilityState string

const (
	StateDiscovered  StabilityState = "discovered"
	StatePolling     StabilityState = "polling"
	StateStable      StabilityState = "stable"
	StateTimedOut    StabilityState = "timed_out"
	StateDisappeared StabilityState = "disappeared"
)

// Item is a pending asset path.
type Item struct {
	Path         string
	DiscoveredAt time.Time
	State        StabilityState
}

// IngestQueue is a FIFO of asset paths in which a path is pending at most once.
// It is safe for concurrent use.
type IngestQueue struct {
	mu      sync.Mutex
	order   *list.List
	pending map[string]*list.Element
	ready   chan struct{}
	now     func() time.Time
}

// New creates an empty IngestQueue.
func New() *IngestQueue {
	return &IngestQueue{
		order:   list.New(),
		pending: make(map[string]*list.Element),
		ready:   make(chan struct{}, 1),
		now:     time.Now,
	}
}

// Enqueue appends path unless it is already pending. It reports whether the
// path was added.
func (q *IngestQueue) Enqueue(path string) bool {
	path = filepath.Clean(path)

	q.mu.Lock()
	if _, ok := q.pending[path]; ok {
		q.mu.Unlock()
		return false
	}
	q.pending[path] = q.order.PushBack(Item{
		Path:         path,
		DiscoveredAt: q.now(),
		State:        StateDiscovered,
	})
	depth := q.order.Len()
	q.mu.Unlock()

	metrics.QueueDepth.Set(float64(depth))

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return true
}

// Dequeue removes and returns the earliest-discovered item.
func (q *IngestQueue) Dequeue() (Item, bool) {
	q.mu.Lock()
	front := q.order.Front()
	if front == nil {
		q.mu.Unlock()
		return Item{}, false
	}
	item := q.order.Remove(front).(Item)
	delete(q.pending, item.Path)
	depth := q.order.Len()
	q.mu.Unlock()

	metrics.QueueDepth.Set(float64(depth))
	return item, true
}

// Ready is signalled after an Enqueue. A single signal may cover several items.
func (q *IngestQueue) Ready() <-chan struct{} {
	return q.ready
}

// Len returns the number of pending items.
func (q *IngestQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.order.Len()
}
