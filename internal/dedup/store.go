package dedup

import (
	"context"
	"sync"
	"time"
)

// Metadata is the payload remembered alongside a fingerprint.
type Metadata map[string]string

// Store remembers fingerprints. Implementations must be safe for concurrent
// use; lookup failures in external backends degrade to "not a duplicate"
// rather than blocking the crawl.
type Store interface {
	// Seen reports whether fp was remembered and is still live.
	Seen(ctx context.Context, fp string) bool
	// Remember records fp with its metadata.
	Remember(ctx context.Context, fp string, meta Metadata)
	// Forget drops fp.
	Forget(ctx context.Context, fp string)
	// Len returns the number of live entries, where cheaply known.
	Len(ctx context.Context) int
	// Clear drops everything.
	Clear(ctx context.Context)
}

type memoryEntry struct {
	meta       Metadata
	insertedAt time.Time
}

// MemoryStore is a bounded in-process store. On overflow the oldest-inserted
// entry is evicted (strict FIFO); entries older than ttl are treated as
// absent and evicted lazily on lookup.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	order   []string // insertion order for FIFO eviction
	maxSize int
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryStore builds a store bounded to maxSize entries. ttl of zero
// disables age-based expiry.
func NewMemoryStore(maxSize int, ttl time.Duration) *MemoryStore {
	if maxSize <= 0 {
		maxSize = 100000
	}
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Seen reports whether fp is remembered and not expired.
func (s *MemoryStore) Seen(_ context.Context, fp string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[fp]
	if !ok {
		return false
	}
	if s.ttl > 0 && s.now().Sub(e.insertedAt) > s.ttl {
		s.remove(fp)
		return false
	}
	return true
}

// Remember records fp, evicting the oldest entry when full.
func (s *MemoryStore) Remember(_ context.Context, fp string, meta Metadata) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[fp]; !exists && len(s.entries) >= s.maxSize {
		if len(s.order) > 0 {
			s.remove(s.order[0])
		}
	}
	if _, exists := s.entries[fp]; !exists {
		s.order = append(s.order, fp)
	}
	s.entries[fp] = memoryEntry{meta: meta, insertedAt: s.now()}
}

// Forget drops fp.
func (s *MemoryStore) Forget(_ context.Context, fp string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remove(fp)
}

// Len returns the number of stored entries.
func (s *MemoryStore) Len(_ context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Clear drops everything.
func (s *MemoryStore) Clear(_ context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]memoryEntry)
	s.order = s.order[:0]
}

// remove deletes fp from both structures. Caller holds s.mu.
func (s *MemoryStore) remove(fp string) {
	delete(s.entries, fp)
	for i, f := range s.order {
		if f == fp {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}
