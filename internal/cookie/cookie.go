package cookie

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fuzumoe/smartspider-api/internal/errs"
)

// defaultMaxAge is how long a stored cookie set stays usable.
const defaultMaxAge = 30 * 24 * time.Hour

// set is one stored cookie jar for a domain.
type set struct {
	Cookies   map[string]string `json:"cookies"`
	CreatedAt time.Time         `json:"created_at"`
	LastUsed  *time.Time        `json:"last_used,omitempty"`
	UseCount  int               `json:"use_count"`
}

func (s *set) expired(now time.Time, maxAge time.Duration) bool {
	return now.Sub(s.CreatedAt) > maxAge
}

// Manager stores cookie sets per domain, rotates through them on lookup
// and persists the whole store to a JSON file. It satisfies the
// downloader's CookieSource interface.
type Manager struct {
	mu   sync.Mutex
	sets map[string][]*set
	next map[string]int

	path   string
	maxAge time.Duration
	log    zerolog.Logger
	now    func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithMaxAge overrides the cookie set expiry window.
func WithMaxAge(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.maxAge = d
		}
	}
}

// WithLogger overrides the manager's logger.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// New creates a Manager backed by the JSON file at path. An existing
// file is loaded; a missing one is created on first save.
func New(path string, opts ...Option) (*Manager, error) {
	m := &Manager{
		sets:   make(map[string][]*set),
		next:   make(map[string]int),
		path:   path,
		maxAge: defaultMaxAge,
		log:    log.With().Str("component", "cookie").Logger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

// AddCookies stores a cookie set for the domain and persists the store.
func (m *Manager) AddCookies(domain string, cookies map[string]string) error {
	if domain == "" || len(cookies) == 0 {
		return errs.Validation("domain and cookies are required")
	}
	cp := make(map[string]string, len(cookies))
	for k, v := range cookies {
		cp[k] = v
	}

	m.mu.Lock()
	m.sets[domain] = append(m.sets[domain], &set{Cookies: cp, CreatedAt: m.now()})
	err := m.save()
	m.mu.Unlock()
	return err
}

// CookiesForDomain returns the next unexpired cookie set for the domain
// in rotation, or nil when none is stored. Expired sets are dropped on
// the way through.
func (m *Manager) CookiesForDomain(domain string) map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()

	live := m.pruneLocked(domain)
	if len(live) == 0 {
		return nil
	}

	idx := m.next[domain] % len(live)
	m.next[domain] = idx + 1
	s := live[idx]
	t := m.now()
	s.LastUsed = &t
	s.UseCount++

	out := make(map[string]string, len(s.Cookies))
	for k, v := range s.Cookies {
		out[k] = v
	}
	return out
}

// RemoveDomain drops every cookie set for the domain.
func (m *Manager) RemoveDomain(domain string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sets[domain]; !ok {
		return errs.NotFound("no cookies stored for domain")
	}
	delete(m.sets, domain)
	delete(m.next, domain)
	return m.save()
}

// Domains lists every domain with at least one unexpired cookie set.
func (m *Manager) Domains() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sets))
	for domain := range m.sets {
		if len(m.pruneLocked(domain)) > 0 {
			out = append(out, domain)
		}
	}
	return out
}

// Count returns how many unexpired sets the domain holds.
func (m *Manager) Count(domain string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pruneLocked(domain))
}

// ClearExpired drops every expired set and persists. It returns how
// many sets were removed.
func (m *Manager) ClearExpired() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for domain, sets := range m.sets {
		before := len(sets)
		m.pruneLocked(domain)
		removed += before - len(m.sets[domain])
	}
	if removed == 0 {
		return 0, nil
	}
	m.log.Info().Int("removed", removed).Msg("expired cookie sets cleared")
	return removed, m.save()
}

// pruneLocked drops expired sets for the domain and returns the rest.
// Callers must hold m.mu.
func (m *Manager) pruneLocked(domain string) []*set {
	now := m.now()
	sets := m.sets[domain]
	live := sets[:0]
	for _, s := range sets {
		if !s.expired(now, m.maxAge) {
			live = append(live, s)
		}
	}
	if len(live) == 0 {
		delete(m.sets, domain)
		delete(m.next, domain)
		return nil
	}
	m.sets[domain] = live
	return live
}

// load reads the JSON store from disk. A missing file yields an empty
// store rather than an error.
func (m *Manager) load() error {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errs.Storage("read cookie store", err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, &m.sets); err != nil {
		return errs.Storage("decode cookie store", err)
	}
	return nil
}

// save writes the store atomically. Callers must hold m.mu.
func (m *Manager) save() error {
	data, err := json.MarshalIndent(m.sets, "", "  ")
	if err != nil {
		return errs.Storage("encode cookie store", err)
	}
	if dir := filepath.Dir(m.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errs.Storage("create cookie store dir", err)
		}
	}
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return errs.Storage("write cookie store", err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return errs.Storage("replace cookie store", err)
	}
	return nil
}
