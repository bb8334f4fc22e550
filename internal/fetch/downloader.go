package fetch

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/fuzumoe/smartspider-api/internal/errs"
	"github.com/fuzumoe/smartspider-api/internal/model"
)

// ProxySource supplies proxies beyond the task's static proxy_list. Owned by
// the proxy pool collaborator.
type ProxySource interface {
	// GetProxy returns a proxy URL, or false when none is available.
	GetProxy() (string, bool)
}

// ProxyReporter receives per-request outcomes for proxies a ProxySource
// handed out. The proxy pool implements it so failing proxies get banned
// from rotation.
type ProxyReporter interface {
	ReportSuccess(proxyURL string)
	ReportFailure(proxyURL string)
}

// CookieSource supplies domain-scoped cookie sets. Owned by the cookie
// manager collaborator.
type CookieSource interface {
	// CookiesForDomain returns the next cookie set for domain, or nil.
	CookiesForDomain(domain string) map[string]string
}

// Request describes one outbound fetch.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Cookies map[string]string
	Body    []byte
}

// Result is one completed HTTP exchange.
type Result struct {
	StatusCode int
	Body       string
	Elapsed    time.Duration
}

// BatchItem is the per-URL outcome of a batch download. Exactly one of
// Result/Err is set.
type BatchItem struct {
	URL    string
	Result *Result
	Err    error
}

// Stats is a snapshot of a downloader's request counters.
type Stats struct {
	TotalRequests       int64         `json:"total_requests"`
	SuccessfulRequests  int64         `json:"successful_requests"`
	FailedRequests      int64         `json:"failed_requests"`
	AverageResponseTime time.Duration `json:"average_response_time"`
	Retry               RetryStats    `json:"retry"`
}

// Downloader performs policy-layered HTTP fetches: randomized pre-request
// delay, proxy and cookie selection, UA rotation, typed error classification.
// The retry handler decides whether to retry; the breaker fails fast after
// sustained failures.
type Downloader struct {
	cfg       model.CrawlerConfig
	client    *http.Client
	transport *http.Transport
	retry     *AdaptiveRetryHandler
	breaker   *CircuitBreaker
	proxies   ProxySource
	cookies   CookieSource
	log       zerolog.Logger

	mu           sync.Mutex
	totalReqs    int64
	successReqs  int64
	failedReqs   int64
	totalElapsed time.Duration
}

// Option customizes a Downloader.
type Option func(*Downloader)

// WithProxySource wires an external proxy pool.
func WithProxySource(src ProxySource) Option {
	return func(d *Downloader) { d.proxies = src }
}

// WithCookieSource wires an external cookie manager.
func WithCookieSource(src CookieSource) Option {
	return func(d *Downloader) { d.cookies = src }
}

// WithLogger sets the component logger.
func WithLogger(log zerolog.Logger) Option {
	return func(d *Downloader) { d.log = log }
}

// WithCircuitBreaker replaces the per-instance breaker, e.g. to share one
// across downloaders.
func WithCircuitBreaker(cb *CircuitBreaker) Option {
	return func(d *Downloader) { d.breaker = cb }
}

// NewDownloader builds a downloader for one task configuration.
func NewDownloader(cfg model.CrawlerConfig, opts ...Option) *Downloader {
	cfg.Normalize()
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}

	transport := &http.Transport{
		TLSClientConfig:     &tls.Config{InsecureSkipVerify: !cfg.VerifySSL},
		MaxIdleConns:        cfg.MaxConcurrentRequests,
		MaxIdleConnsPerHost: 5,
		IdleConnTimeout:     30 * time.Second,
	}

	client := &http.Client{
		Timeout:   time.Duration(cfg.Timeout) * time.Second,
		Transport: transport,
	}
	if !cfg.FollowRedirects {
		client.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	} else if cfg.MaxRedirects > 0 {
		limit := cfg.MaxRedirects
		client.CheckRedirect = func(_ *http.Request, via []*http.Request) error {
			if len(via) >= limit {
				return errors.New("too many redirects")
			}
			return nil
		}
	}

	d := &Downloader{
		cfg:       cfg,
		client:    client,
		transport: transport,
		breaker:   NewCircuitBreaker(5, time.Minute),
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.retry = NewAdaptiveRetryHandler(RetryConfig{
		MaxRetries:       cfg.RetryTimes,
		BaseDelay:        time.Duration(cfg.RetryDelay * float64(time.Second)),
		MaxDelay:         60 * time.Second,
		ExponentialBase:  2.0,
		Jitter:           true,
		RetryOnTimeout:   true,
		RetryOnRateLimit: true,
	}, d.log)

	return d
}

// Download fetches a single URL with GET.
func (d *Downloader) Download(ctx context.Context, rawURL string) (*Result, error) {
	return d.Do(ctx, &Request{Method: http.MethodGet, URL: rawURL})
}

// Do executes one request through the full policy stack.
func (d *Downloader) Do(ctx context.Context, req *Request) (*Result, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}

	d.mu.Lock()
	d.totalReqs++
	d.mu.Unlock()

	if err := d.preRequestDelay(ctx, req.URL); err != nil {
		return nil, err
	}

	proxyURL, fromPool := d.selectProxy()
	cookies := req.Cookies
	if cookies == nil && d.cfg.UseCookies {
		cookies = d.selectCookies(req.URL)
	}

	res, err := d.retry.Execute(ctx, func(ctx context.Context) (*Result, error) {
		var out *Result
		callErr := d.breaker.Call(func() error {
			r, e := d.fetchOnce(ctx, req, proxyURL, cookies)
			out = r
			return e
		})
		return out, callErr
	})

	if fromPool {
		d.reportProxy(proxyURL, err)
	}

	d.mu.Lock()
	if err == nil && res != nil {
		if res.StatusCode == http.StatusOK {
			d.successReqs++
		} else {
			d.failedReqs++
		}
		d.totalElapsed += res.Elapsed
	} else {
		d.failedReqs++
	}
	d.mu.Unlock()

	if err != nil {
		d.log.Error().Err(err).Str("url", req.URL).Msg("download failed")
		return nil, err
	}
	return res, nil
}

// DownloadBatch fetches urls with bounded concurrency. Per-URL failures never
// cancel siblings; the returned slice preserves input order.
func (d *Downloader) DownloadBatch(ctx context.Context, urls []string, maxConcurrent int) []BatchItem {
	if maxConcurrent <= 0 {
		maxConcurrent = d.cfg.ConcurrentLimit
	}

	sem := semaphore.NewWeighted(int64(maxConcurrent))
	out := make([]BatchItem, len(urls))
	var wg sync.WaitGroup

	for i, u := range urls {
		wg.Add(1)
		go func(i int, u string) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				out[i] = BatchItem{URL: u, Err: err}
				return
			}
			defer sem.Release(1)

			res, err := d.Download(ctx, u)
			out[i] = BatchItem{URL: u, Result: res, Err: err}
		}(i, u)
	}

	wg.Wait()
	return out
}

// Stats returns a snapshot of the request counters.
func (d *Downloader) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := Stats{
		TotalRequests:      d.totalReqs,
		SuccessfulRequests: d.successReqs,
		FailedRequests:     d.failedReqs,
		Retry:              d.retry.Stats(),
	}
	if d.totalReqs > 0 {
		s.AverageResponseTime = d.totalElapsed / time.Duration(d.totalReqs)
	}
	return s
}

// preRequestDelay sleeps the configured (possibly randomized) think time.
// A deadline firing during the delay is classified as a timeout; plain
// cancellation propagates unchanged.
func (d *Downloader) preRequestDelay(ctx context.Context, rawURL string) error {
	var delay time.Duration
	if d.cfg.RandomizeDelay {
		lo, hi := d.cfg.DelayRange[0], d.cfg.DelayRange[1]
		delay = time.Duration((lo + rand.Float64()*(hi-lo)) * float64(time.Second))
	} else if d.cfg.RequestDelay > 0 {
		delay = time.Duration(d.cfg.RequestDelay * float64(time.Second))
	}
	if delay <= 0 {
		return nil
	}

	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return errs.Timeout(rawURL, "deadline reached before request was sent", ctx.Err())
		}
		return ctx.Err()
	}
}

// selectProxy picks a proxy per the task policy: random when rotation is
// enabled, else the first configured; the external pool is the fallback.
// fromPool marks proxies the pool handed out, so outcomes can be reported
// back to it.
func (d *Downloader) selectProxy() (proxyURL string, fromPool bool) {
	if !d.cfg.UseProxy {
		return "", false
	}
	if len(d.cfg.ProxyList) > 0 {
		if d.cfg.ProxyRotation {
			return d.cfg.ProxyList[rand.Intn(len(d.cfg.ProxyList))], false
		}
		return d.cfg.ProxyList[0], false
	}
	if d.proxies != nil {
		if p, ok := d.proxies.GetProxy(); ok {
			return p, true
		}
	}
	return "", false
}

// reportProxy feeds the request outcome back to the pool that supplied
// the proxy. Cancellations say nothing about proxy health and are not
// reported.
func (d *Downloader) reportProxy(proxyURL string, err error) {
	rep, ok := d.proxies.(ProxyReporter)
	if !ok || proxyURL == "" {
		return
	}
	switch {
	case err == nil:
		rep.ReportSuccess(proxyURL)
	case errors.Is(err, context.Canceled):
	default:
		rep.ReportFailure(proxyURL)
	}
}

// selectCookies asks the cookie manager for the request's domain, honoring
// the cookie_domain restriction.
func (d *Downloader) selectCookies(rawURL string) map[string]string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	domain := u.Hostname()
	if d.cfg.CookieDomain != "" && domain != d.cfg.CookieDomain {
		return nil
	}
	if d.cookies == nil {
		return nil
	}
	return d.cookies.CookiesForDomain(domain)
}

// fetchOnce performs a single attempt and classifies the outcome.
func (d *Downloader) fetchOnce(ctx context.Context, req *Request, proxyURL string, cookies map[string]string) (*Result, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = strings.NewReader(string(req.Body))
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, errs.Validation("invalid request: " + err.Error())
	}

	for k, v := range d.defaultHeaders() {
		httpReq.Header.Set(k, v)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	for name, value := range cookies {
		httpReq.AddCookie(&http.Cookie{Name: name, Value: value})
	}

	client := d.client
	if proxyURL != "" {
		client = d.proxyClient(proxyURL)
	}

	start := time.Now()
	resp, err := client.Do(httpReq)
	elapsed := time.Since(start)
	if err != nil {
		return nil, classifyTransportError(req.URL, proxyURL, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Network(req.URL, "reading response body", err)
	}

	res := &Result{StatusCode: resp.StatusCode, Body: string(raw), Elapsed: elapsed}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		if retryAfter > 0 {
			d.log.Warn().Str("url", req.URL).Dur("retry_after", retryAfter).Msg("rate limited, honoring Retry-After")
			select {
			case <-time.After(retryAfter):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		return nil, errs.RateLimit(req.URL, retryAfter)

	case proxyURL != "" && (resp.StatusCode == http.StatusProxyAuthRequired ||
		resp.StatusCode == http.StatusBadGateway ||
		resp.StatusCode == http.StatusServiceUnavailable):
		return nil, errs.Proxy(proxyURL, resp.StatusCode)

	case resp.StatusCode >= 500:
		return nil, errs.Server(req.URL, resp.StatusCode)

	case len(cookies) > 0 && (resp.StatusCode == http.StatusUnauthorized ||
		resp.StatusCode == http.StatusForbidden):
		return nil, errs.Cookie(req.URL, resp.StatusCode)
	}

	d.log.Debug().
		Str("url", req.URL).
		Int("status", res.StatusCode).
		Dur("elapsed", elapsed).
		Msg("request completed")
	return res, nil
}

// defaultHeaders builds the browser-like header set with the selected UA.
func (d *Downloader) defaultHeaders() map[string]string {
	ua := d.cfg.UserAgent
	if d.cfg.RotateUserAgent {
		ua = randomUserAgent()
	}
	// Accept-Encoding is left to the transport so gzip bodies are
	// decompressed transparently.
	return map[string]string{
		"User-Agent":      ua,
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
		"Accept-Language": "en-US,en;q=0.9",
		"Connection":      "keep-alive",
		"Cache-Control":   "max-age=0",
	}
}

// proxyClient clones the base client with the given proxy.
func (d *Downloader) proxyClient(proxyURL string) *http.Client {
	parsed, err := url.Parse(proxyURL)
	if err != nil {
		return d.client
	}
	t := d.transport.Clone()
	t.Proxy = http.ProxyURL(parsed)
	return &http.Client{
		Timeout:       d.client.Timeout,
		Transport:     t,
		CheckRedirect: d.client.CheckRedirect,
	}
}

// classifyTransportError maps exchanges that never completed onto the error
// taxonomy. Context cancellation propagates unchanged so callers can detect
// cooperative stops.
func classifyTransportError(rawURL, proxyURL string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return errs.Timeout(rawURL, "request timed out", err)
	}
	if errors.Is(err, syscall.ECONNRESET) {
		return errs.Network(rawURL, "connection reset", err)
	}
	if proxyURL != "" && strings.Contains(err.Error(), "proxyconnect") {
		return errs.Proxy(proxyURL, 0)
	}
	return errs.Network(rawURL, "connection failed", err)
}

// parseRetryAfter understands the delta-seconds form of Retry-After.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
