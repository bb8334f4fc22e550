package proxy

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/fuzumoe/smartspider-api/internal/errs"
)

// Proxy health states.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
	StatusBanned   = "banned"
	StatusTimeout  = "timeout"
	StatusTesting  = "testing"
)

const (
	// minSuccessRate is the floor below which a proxy stops being handed out.
	minSuccessRate = 0.8
	// banAfterFailures is the consecutive-failure count that bans a proxy.
	banAfterFailures = 3
	defaultTestURL   = "https://httpbin.org/ip"
	defaultTestLimit = 10
)

// Info is the tracked state of one proxy.
type Info struct {
	URL          string     `json:"url"`
	Status       string     `json:"status"`
	SuccessCount int        `json:"success_count"`
	FailureCount int        `json:"failure_count"`
	Consecutive  int        `json:"consecutive_failures"`
	ResponseTime float64    `json:"response_time"`
	LastChecked  *time.Time `json:"last_checked,omitempty"`
	LastUsed     *time.Time `json:"last_used,omitempty"`
}

// SuccessRate is the fraction of recorded uses that succeeded. A proxy
// with no history scores 1.0 so fresh proxies get a chance.
func (i *Info) SuccessRate() float64 {
	total := i.SuccessCount + i.FailureCount
	if total == 0 {
		return 1.0
	}
	return float64(i.SuccessCount) / float64(total)
}

// Valid reports whether the proxy may be handed out.
func (i *Info) Valid() bool {
	return i.Status == StatusActive && i.SuccessRate() >= minSuccessRate
}

// Stats summarises the pool.
type Stats struct {
	Total    int `json:"total"`
	Active   int `json:"active"`
	Inactive int `json:"inactive"`
	Banned   int `json:"banned"`
}

// Manager keeps a health-checked pool of proxies and rotates through the
// valid ones. It satisfies the downloader's ProxySource interface.
type Manager struct {
	mu      sync.Mutex
	proxies map[string]*Info
	order   []string
	next    int

	testURL string
	client  *http.Client
	log     zerolog.Logger
	now     func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithTestURL overrides the URL used for proxy health checks.
func WithTestURL(u string) Option {
	return func(m *Manager) { m.testURL = u }
}

// WithLogger overrides the manager's logger.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithClient overrides the HTTP client template used for health checks.
func WithClient(c *http.Client) Option {
	return func(m *Manager) { m.client = c }
}

// New creates an empty proxy Manager.
func New(opts ...Option) *Manager {
	m := &Manager{
		proxies: make(map[string]*Info),
		testURL: defaultTestURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		log:     log.With().Str("component", "proxy").Logger(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Add registers the proxy and health-checks it before first use. The
// proxy joins the pool either way; a failed check leaves it inactive.
func (m *Manager) Add(ctx context.Context, proxyURL string) error {
	if _, err := url.Parse(proxyURL); err != nil || proxyURL == "" {
		return errs.Validation("invalid proxy url")
	}

	m.mu.Lock()
	if _, exists := m.proxies[proxyURL]; exists {
		m.mu.Unlock()
		return errs.Conflict("proxy already registered")
	}
	info := &Info{URL: proxyURL, Status: StatusTesting}
	m.proxies[proxyURL] = info
	m.order = append(m.order, proxyURL)
	m.mu.Unlock()

	m.check(ctx, proxyURL)
	return nil
}

// AddAll registers a list of proxies, checking them concurrently.
func (m *Manager) AddAll(ctx context.Context, proxyURLs []string) {
	sem := semaphore.NewWeighted(defaultTestLimit)
	var wg sync.WaitGroup
	for _, p := range proxyURLs {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(p string) {
			defer wg.Done()
			defer sem.Release(1)
			if err := m.Add(ctx, p); err != nil {
				m.log.Warn().Err(err).Str("proxy", p).Msg("proxy not added")
			}
		}(p)
	}
	wg.Wait()
}

// GetProxy hands out the next valid proxy in rotation. ok is false when
// the pool holds no usable proxy.
func (m *Manager) GetProxy() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for range m.order {
		p := m.order[m.next%len(m.order)]
		m.next++
		info := m.proxies[p]
		if info != nil && info.Valid() {
			t := m.now()
			info.LastUsed = &t
			return p, true
		}
	}
	return "", false
}

// ReportSuccess records a successful request through the proxy.
func (m *Manager) ReportSuccess(proxyURL string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.proxies[proxyURL]
	if !ok {
		return
	}
	info.SuccessCount++
	info.Consecutive = 0
	if info.Status == StatusInactive || info.Status == StatusTimeout {
		info.Status = StatusActive
	}
}

// ReportFailure records a failed request; enough consecutive failures
// ban the proxy from rotation.
func (m *Manager) ReportFailure(proxyURL string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.proxies[proxyURL]
	if !ok {
		return
	}
	info.FailureCount++
	info.Consecutive++
	if info.Consecutive >= banAfterFailures {
		info.Status = StatusBanned
		m.log.Warn().Str("proxy", proxyURL).Int("failures", info.Consecutive).Msg("proxy banned")
	}
}

// Remove drops the proxy from the pool. It reports whether it was known.
func (m *Manager) Remove(proxyURL string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.proxies[proxyURL]; !ok {
		return false
	}
	delete(m.proxies, proxyURL)
	for i, p := range m.order {
		if p == proxyURL {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return true
}

// Get returns a copy of the tracked state for the proxy.
func (m *Manager) Get(proxyURL string) (Info, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.proxies[proxyURL]
	if !ok {
		return Info{}, false
	}
	return *info, true
}

// List returns a snapshot of every proxy in the pool.
func (m *Manager) List() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Info, 0, len(m.order))
	for _, p := range m.order {
		out = append(out, *m.proxies[p])
	}
	return out
}

// Stats counts the pool by status.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Stats{Total: len(m.proxies)}
	for _, info := range m.proxies {
		switch info.Status {
		case StatusActive:
			s.Active++
		case StatusBanned:
			s.Banned++
		default:
			s.Inactive++
		}
	}
	return s
}

// CheckAll re-tests every proxy in the pool concurrently.
func (m *Manager) CheckAll(ctx context.Context) {
	m.mu.Lock()
	urls := make([]string, len(m.order))
	copy(urls, m.order)
	m.mu.Unlock()

	sem := semaphore.NewWeighted(defaultTestLimit)
	var wg sync.WaitGroup
	for _, p := range urls {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(p string) {
			defer wg.Done()
			defer sem.Release(1)
			m.check(ctx, p)
		}(p)
	}
	wg.Wait()
}

// Cleanup removes banned proxies and proxies whose success rate has
// fallen below the floor. It returns how many were dropped.
func (m *Manager) Cleanup() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	kept := m.order[:0]
	for _, p := range m.order {
		info := m.proxies[p]
		if info.Status == StatusBanned || info.SuccessRate() < minSuccessRate {
			delete(m.proxies, p)
			removed++
			continue
		}
		kept = append(kept, p)
	}
	m.order = kept
	if removed > 0 {
		m.log.Info().Int("removed", removed).Msg("proxy pool cleaned up")
	}
	return removed
}

// check probes the proxy against the test URL and updates its state.
func (m *Manager) check(ctx context.Context, proxyURL string) {
	parsed, err := url.Parse(proxyURL)
	if err != nil {
		m.setStatus(proxyURL, StatusInactive, 0)
		return
	}

	client := &http.Client{
		Timeout:   m.client.Timeout,
		Transport: &http.Transport{Proxy: http.ProxyURL(parsed)},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.testURL, nil)
	if err != nil {
		m.setStatus(proxyURL, StatusInactive, 0)
		return
	}

	start := m.now()
	resp, err := client.Do(req)
	elapsed := m.now().Sub(start).Seconds()
	if err != nil {
		m.log.Debug().Err(err).Str("proxy", proxyURL).Msg("proxy check failed")
		m.setStatus(proxyURL, StatusTimeout, elapsed)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		m.setStatus(proxyURL, StatusActive, elapsed)
	} else {
		m.setStatus(proxyURL, StatusInactive, elapsed)
	}
}

func (m *Manager) setStatus(proxyURL, status string, elapsed float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.proxies[proxyURL]
	if !ok {
		return
	}
	info.Status = status
	info.ResponseTime = elapsed
	t := m.now()
	info.LastChecked = &t
}
