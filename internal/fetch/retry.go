package fetch

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fuzumoe/smartspider-api/internal/errs"
)

// Operation is one attempt of a retryable fetch.
type Operation func(ctx context.Context) (*Result, error)

// RetryConfig tunes the retry handler.
type RetryConfig struct {
	MaxRetries       int
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	ExponentialBase  float64
	Jitter           bool
	RetryOnTimeout   bool
	RetryOnRateLimit bool
	// StatusCodes extends the default retryable-status set.
	StatusCodes []int
	// ErrorNames maps a Go type name (fmt.Sprintf("%T", err)) to an explicit
	// retry decision for errors the taxonomy does not classify.
	ErrorNames map[string]bool
}

// DefaultRetryConfig returns the baseline retry policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:       3,
		BaseDelay:        time.Second,
		MaxDelay:         60 * time.Second,
		ExponentialBase:  2.0,
		Jitter:           true,
		RetryOnTimeout:   true,
		RetryOnRateLimit: true,
	}
}

// defaultRetryStatusCodes is the fixed retryable-status set. Custom configs
// extend it, never shrink it.
var defaultRetryStatusCodes = []int{408, 429, 500, 502, 503, 504, 520, 521, 522, 523, 524}

// RetryHandler runs an operation up to MaxRetries+1 times with exponential
// backoff. Non-retryable failures and the final failure propagate unchanged
// so callers always see the true cause.
type RetryHandler struct {
	cfg         RetryConfig
	retryStatus map[int]struct{}
	log         zerolog.Logger
}

// NewRetryHandler builds a handler from cfg, applying defaults to unset
// fields.
func NewRetryHandler(cfg RetryConfig, log zerolog.Logger) *RetryHandler {
	def := DefaultRetryConfig()
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.ExponentialBase == 0 {
		cfg.ExponentialBase = def.ExponentialBase
	}
	if cfg.BaseDelay == 0 {
		cfg.BaseDelay = def.BaseDelay
	}

	status := make(map[int]struct{}, len(defaultRetryStatusCodes)+len(cfg.StatusCodes))
	for _, c := range defaultRetryStatusCodes {
		status[c] = struct{}{}
	}
	for _, c := range cfg.StatusCodes {
		status[c] = struct{}{}
	}

	return &RetryHandler{cfg: cfg, retryStatus: status, log: log}
}

// Execute runs op with the configured policy.
func (h *RetryHandler) Execute(ctx context.Context, op Operation) (*Result, error) {
	return h.execute(ctx, op, h.cfg.MaxRetries, h.cfg.BaseDelay)
}

func (h *RetryHandler) execute(ctx context.Context, op Operation, maxRetries int, baseDelay time.Duration) (*Result, error) {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		res, err := op(ctx)
		if err == nil {
			return res, nil
		}
		lastErr = err

		if !h.shouldRetry(err) {
			h.log.Debug().Err(err).Int("attempt", attempt+1).Msg("non-retryable failure")
			return nil, err
		}
		if attempt == maxRetries {
			break
		}

		delay := h.backoff(attempt, baseDelay)
		h.log.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Int("max_attempts", maxRetries+1).
			Dur("delay", delay).
			Msg("retrying after failure")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, lastErr
}

// shouldRetry implements the retry predicate: network, timeout, rate-limit,
// proxy, server and cookie failures retry; 4xx does not except 408/429;
// unclassified errors retry only when named by a custom rule.
func (h *RetryHandler) shouldRetry(err error) bool {
	switch errs.KindOf(err) {
	case errs.KindNetwork, errs.KindTimeout:
		return h.cfg.RetryOnTimeout
	case errs.KindRateLimit:
		return h.cfg.RetryOnRateLimit
	case errs.KindProxy, errs.KindServer, errs.KindCookie:
		return true
	}

	if status := errs.StatusOf(err); status != 0 {
		if _, ok := h.retryStatus[status]; ok {
			return true
		}
		if status >= 400 && status < 500 {
			return false
		}
		return true
	}

	if retry, ok := h.cfg.ErrorNames[fmt.Sprintf("%T", err)]; ok {
		return retry
	}
	return false
}

// backoff is min(base*b^attempt, max), then jittered within [0.5d, 1.5d].
func (h *RetryHandler) backoff(attempt int, baseDelay time.Duration) time.Duration {
	d := float64(baseDelay) * math.Pow(h.cfg.ExponentialBase, float64(attempt))
	d = math.Min(d, float64(h.cfg.MaxDelay))
	if h.cfg.Jitter {
		d = d*0.5 + rand.Float64()*d
	}
	return time.Duration(d)
}

// RetryStats is a snapshot of an adaptive handler's rolling window.
type RetryStats struct {
	TotalRequests int           `json:"total_requests"`
	SuccessCount  int           `json:"success_count"`
	FailureCount  int           `json:"failure_count"`
	SuccessRate   float64       `json:"success_rate"`
	MaxRetries    int           `json:"max_retries"`
	BaseDelay     time.Duration `json:"base_delay"`
}

// AdaptiveRetryHandler self-tunes retry count and base delay from the rolling
// success rate. Adapted values apply to subsequent calls only.
type AdaptiveRetryHandler struct {
	*RetryHandler

	mu            sync.Mutex
	requests      int
	successes     int
	failures      int
	adaptedMax    int
	adaptedDelay  time.Duration
	rateThreshold float64
}

// Adaptation bounds.
const (
	adaptiveSampleMin   = 10
	adaptiveMaxRetries  = 10
	adaptiveMinRetries  = 1
	adaptiveDelayCeil   = 10 * time.Second
	adaptiveDelayFloor  = 500 * time.Millisecond
	adaptiveThreshold   = 0.8
	adaptiveDelayGrow   = 1.5
	adaptiveDelayDecay  = 0.8
	adaptiveRetriesStep = 2
)

// NewAdaptiveRetryHandler builds an adaptive handler seeded with cfg.
func NewAdaptiveRetryHandler(cfg RetryConfig, log zerolog.Logger) *AdaptiveRetryHandler {
	base := NewRetryHandler(cfg, log)
	return &AdaptiveRetryHandler{
		RetryHandler:  base,
		adaptedMax:    base.cfg.MaxRetries,
		adaptedDelay:  base.cfg.BaseDelay,
		rateThreshold: adaptiveThreshold,
	}
}

// Execute runs op with the currently adapted parameters and feeds the outcome
// back into the rolling window.
func (h *AdaptiveRetryHandler) Execute(ctx context.Context, op Operation) (*Result, error) {
	h.mu.Lock()
	maxRetries := h.adaptedMax
	baseDelay := h.adaptedDelay
	h.mu.Unlock()

	res, err := h.execute(ctx, op, maxRetries, baseDelay)

	h.mu.Lock()
	h.requests++
	if err == nil {
		h.successes++
	} else {
		h.failures++
	}
	h.adapt()
	h.mu.Unlock()

	return res, err
}

// adapt recomputes effective parameters. Caller holds h.mu.
func (h *AdaptiveRetryHandler) adapt() {
	if h.requests < adaptiveSampleMin {
		return
	}

	rate := float64(h.successes) / float64(h.requests)
	if rate < h.rateThreshold {
		h.adaptedMax = min(h.cfg.MaxRetries+adaptiveRetriesStep, adaptiveMaxRetries)
		h.adaptedDelay = minDuration(time.Duration(float64(h.cfg.BaseDelay)*adaptiveDelayGrow), adaptiveDelayCeil)
	} else {
		h.adaptedMax = max(h.cfg.MaxRetries-1, adaptiveMinRetries)
		h.adaptedDelay = maxDuration(time.Duration(float64(h.cfg.BaseDelay)*adaptiveDelayDecay), adaptiveDelayFloor)
	}

	h.log.Debug().
		Float64("success_rate", rate).
		Int("max_retries", h.adaptedMax).
		Dur("base_delay", h.adaptedDelay).
		Msg("adapted retry strategy")
}

// Stats returns a snapshot of the rolling window.
func (h *AdaptiveRetryHandler) Stats() RetryStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := RetryStats{
		TotalRequests: h.requests,
		SuccessCount:  h.successes,
		FailureCount:  h.failures,
		MaxRetries:    h.adaptedMax,
		BaseDelay:     h.adaptedDelay,
	}
	if h.requests > 0 {
		s.SuccessRate = float64(h.successes) / float64(h.requests)
	}
	return s
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
