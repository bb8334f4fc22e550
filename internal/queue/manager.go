package queue

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultQueueName is where submissions land when no queue is named.
const DefaultQueueName = "default"

// Manager owns a set of named priority queues.
type Manager struct {
	mu     sync.Mutex
	queues map[string]*PriorityQueue
	log    zerolog.Logger
}

// NewManager builds an empty manager.
func NewManager(log zerolog.Logger) *Manager {
	return &Manager{
		queues: make(map[string]*PriorityQueue),
		log:    log,
	}
}

// CreateQueue registers a named queue; an existing queue is returned as-is.
func (m *Manager) CreateQueue(name string, maxSize int) *PriorityQueue {
	m.mu.Lock()
	defer m.mu.Unlock()

	if q, ok := m.queues[name]; ok {
		m.log.Warn().Str("queue", name).Msg("queue already exists")
		return q
	}
	q := New(maxSize)
	m.queues[name] = q
	m.log.Info().Str("queue", name).Int("max_size", maxSize).Msg("queue created")
	return q
}

// Queue returns the named queue, creating an unbounded one on first use. An
// empty name means the default queue.
func (m *Manager) Queue(name string) *PriorityQueue {
	if name == "" {
		name = DefaultQueueName
	}
	m.mu.Lock()
	q, ok := m.queues[name]
	m.mu.Unlock()
	if ok {
		return q
	}
	return m.CreateQueue(name, 0)
}

// Submit enqueues payload onto the named queue.
func (m *Manager) Submit(payload any, priority Priority, queueName, id string, metadata map[string]any) string {
	return m.Queue(queueName).Put(payload, priority, id, metadata)
}

// Next dequeues from the named queue, honoring the timeout.
func (m *Manager) Next(ctx context.Context, queueName string, timeout time.Duration) (*Item, bool) {
	return m.Queue(queueName).Get(ctx, timeout)
}

// Cancel removes a pending item from the named queue.
func (m *Manager) Cancel(id, queueName string) bool {
	return m.Queue(queueName).Remove(id)
}

// UpdatePriority mutates a pending item's priority on the named queue.
func (m *Manager) UpdatePriority(id string, priority Priority, queueName string) bool {
	return m.Queue(queueName).UpdatePriority(id, priority)
}

// QueueStats returns the named queue's statistics.
func (m *Manager) QueueStats(queueName string) Stats {
	return m.Queue(queueName).Stats()
}

// AllStats returns per-queue statistics keyed by queue name.
func (m *Manager) AllStats() map[string]Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]Stats, len(m.queues))
	for name, q := range m.queues {
		out[name] = q.Stats()
	}
	return out
}

// Names lists the registered queues.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.queues))
	for name := range m.queues {
		names = append(names, name)
	}
	return names
}

// RemoveQueue deletes a named queue. The default queue cannot be removed.
func (m *Manager) RemoveQueue(name string) bool {
	if name == DefaultQueueName {
		m.log.Warn().Str("queue", name).Msg("refusing to remove default queue")
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.queues[name]; !ok {
		return false
	}
	delete(m.queues, name)
	m.log.Info().Str("queue", name).Msg("queue removed")
	return true
}
