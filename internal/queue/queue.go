// Package queue provides a priority queue for crawl work items: a binary
// min-heap keyed by (priority rank ascending, enqueue time ascending), so
// lower ranks dequeue first and equal ranks dequeue FIFO.
package queue

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Priority ranks a queued item; lower means more urgent.
type Priority int

const (
	Critical Priority = iota
	High
	Normal
	Low
	Minimal
)

// String returns the canonical name of the priority.
func (p Priority) String() string {
	switch p {
	case Critical:
		return "critical"
	case High:
		return "high"
	case Normal:
		return "normal"
	case Low:
		return "low"
	case Minimal:
		return "minimal"
	default:
		return "unknown"
	}
}

// Item is one queued unit of work.
type Item struct {
	ID         string
	Priority   Priority
	EnqueuedAt time.Time
	Payload    any
	Metadata   map[string]any

	index int // heap position, maintained by itemHeap
}

type itemHeap []*Item

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].EnqueuedAt.Before(h[j].EnqueuedAt)
}

func (h itemHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *itemHeap) Push(x any) {
	item := x.(*Item)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// Stats is a snapshot of queue activity.
type Stats struct {
	Size           int              `json:"size"`
	MaxSize        int              `json:"max_size"`
	TotalProcessed int              `json:"total_processed"`
	PerPriority    map[string]int   `json:"priority_distribution"`
	AverageWait    time.Duration    `json:"average_wait"`
	MinWait        time.Duration    `json:"min_wait"`
	MaxWait        time.Duration    `json:"max_wait"`
}

// PriorityQueue is a bounded, concurrency-safe priority queue. When an insert
// would exceed maxSize, the lowest-priority pending item (highest rank value,
// oldest enqueue time among those) is evicted to make room.
type PriorityQueue struct {
	mu      sync.Mutex
	items   itemHeap
	byID    map[string]*Item
	maxSize int
	notify  chan struct{}

	processed int
	perPrio   map[Priority]int
	waitSum   time.Duration
	waitMin   time.Duration
	waitMax   time.Duration
	now       func() time.Time
}

// New builds a queue. maxSize of zero means unbounded.
func New(maxSize int) *PriorityQueue {
	return &PriorityQueue{
		byID:    make(map[string]*Item),
		maxSize: maxSize,
		notify:  make(chan struct{}, 1),
		perPrio: make(map[Priority]int),
		now:     time.Now,
	}
}

// Put enqueues payload, generating an ID when none is given, and returns the
// item's ID.
func (q *PriorityQueue) Put(payload any, priority Priority, id string, metadata map[string]any) string {
	q.mu.Lock()
	if id == "" {
		id = uuid.NewString()
	}

	if q.maxSize > 0 && len(q.items) >= q.maxSize {
		q.evictLowest()
	}

	item := &Item{
		ID:         id,
		Priority:   priority,
		EnqueuedAt: q.now(),
		Payload:    payload,
		Metadata:   metadata,
	}
	heap.Push(&q.items, item)
	q.byID[id] = item
	q.mu.Unlock()

	q.signal()
	return id
}

// Get dequeues the best item, blocking until one is available, the timeout
// elapses (zero timeout never expires), or ctx is cancelled.
func (q *PriorityQueue) Get(ctx context.Context, timeout time.Duration) (*Item, bool) {
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}

	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := heap.Pop(&q.items).(*Item)
			delete(q.byID, item.ID)
			q.recordDequeue(item)
			remaining := len(q.items)
			q.mu.Unlock()
			if remaining > 0 {
				q.signal()
			}
			return item, true
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-expired:
			return nil, false
		case <-ctx.Done():
			return nil, false
		}
	}
}

// Peek returns the best item without removing it.
func (q *PriorityQueue) Peek() (*Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	return q.items[0], true
}

// Remove cancels a pending item by ID.
func (q *PriorityQueue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.byID[id]
	if !ok {
		return false
	}
	heap.Remove(&q.items, item.index)
	delete(q.byID, id)
	return true
}

// UpdatePriority changes a pending item's priority, re-establishing heap
// order. O(n), acceptable at expected queue sizes.
func (q *PriorityQueue) UpdatePriority(id string, priority Priority) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.byID[id]
	if !ok {
		return false
	}
	item.Priority = priority
	heap.Init(&q.items)
	return true
}

// Size returns the number of pending items.
func (q *PriorityQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Empty reports whether nothing is pending.
func (q *PriorityQueue) Empty() bool { return q.Size() == 0 }

// Full reports whether the queue is at capacity.
func (q *PriorityQueue) Full() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.maxSize > 0 && len(q.items) >= q.maxSize
}

// Clear drops all pending items.
func (q *PriorityQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = q.items[:0]
	q.byID = make(map[string]*Item)
}

// Stats returns a snapshot of queue activity.
func (q *PriorityQueue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := Stats{
		Size:           len(q.items),
		MaxSize:        q.maxSize,
		TotalProcessed: q.processed,
		PerPriority:    make(map[string]int, len(q.perPrio)),
		MinWait:        q.waitMin,
		MaxWait:        q.waitMax,
	}
	for p, n := range q.perPrio {
		s.PerPriority[p.String()] = n
	}
	if q.processed > 0 {
		s.AverageWait = q.waitSum / time.Duration(q.processed)
	}
	return s
}

// evictLowest removes the lowest-priority pending item: the highest rank
// value, oldest enqueue time among those. Caller holds q.mu.
func (q *PriorityQueue) evictLowest() {
	if len(q.items) == 0 {
		return
	}
	victim := q.items[0]
	for _, item := range q.items[1:] {
		if item.Priority > victim.Priority ||
			(item.Priority == victim.Priority && item.EnqueuedAt.Before(victim.EnqueuedAt)) {
			victim = item
		}
	}
	heap.Remove(&q.items, victim.index)
	delete(q.byID, victim.ID)
}

// recordDequeue updates the wait-time statistics. Caller holds q.mu.
func (q *PriorityQueue) recordDequeue(item *Item) {
	wait := q.now().Sub(item.EnqueuedAt)
	q.processed++
	q.perPrio[item.Priority]++
	q.waitSum += wait
	if q.processed == 1 || wait < q.waitMin {
		q.waitMin = wait
	}
	if wait > q.waitMax {
		q.waitMax = wait
	}
}

// signal wakes one waiting consumer; coalesced sends are fine because
// consumers re-check under the lock.
func (q *PriorityQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
