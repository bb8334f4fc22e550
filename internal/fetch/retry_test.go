package fetch_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fuzumoe/smartspider-api/internal/errs"
	"github.com/fuzumoe/smartspider-api/internal/fetch"
)

func fastRetryConfig(maxRetries int) fetch.RetryConfig {
	return fetch.RetryConfig{
		MaxRetries:       maxRetries,
		BaseDelay:        time.Millisecond,
		MaxDelay:         5 * time.Millisecond,
		ExponentialBase:  2.0,
		RetryOnTimeout:   true,
		RetryOnRateLimit: true,
	}
}

// failNTimes fails with err for the first n calls, then succeeds.
func failNTimes(n int, err error, calls *int) fetch.Operation {
	return func(ctx context.Context) (*fetch.Result, error) {
		*calls++
		if *calls <= n {
			return nil, err
		}
		return &fetch.Result{StatusCode: 200, Body: "ok"}, nil
	}
}

func TestRetryHandler_Execute(t *testing.T) {
	t.Run("SucceedsAfterFailures", func(t *testing.T) {
		h := fetch.NewRetryHandler(fastRetryConfig(3), zerolog.Nop())

		calls := 0
		res, err := h.Execute(context.Background(), failNTimes(2, errs.Server("https://x", 503), &calls))
		require.NoError(t, err)
		assert.Equal(t, 200, res.StatusCode)
		assert.Equal(t, 3, calls)
	})

	t.Run("ExhaustionReturnsLastError", func(t *testing.T) {
		h := fetch.NewRetryHandler(fastRetryConfig(2), zerolog.Nop())

		wantErr := errs.Server("https://x", 502)
		calls := 0
		_, err := h.Execute(context.Background(), func(ctx context.Context) (*fetch.Result, error) {
			calls++
			return nil, wantErr
		})
		require.Error(t, err)
		// MaxRetries=2 means three attempts in total, and the caller sees
		// the final failure unchanged.
		assert.Equal(t, 3, calls)
		assert.Same(t, wantErr, err.(*errs.Error))
	})

	t.Run("NonRetryableFailsImmediately", func(t *testing.T) {
		h := fetch.NewRetryHandler(fastRetryConfig(3), zerolog.Nop())

		calls := 0
		_, err := h.Execute(context.Background(), func(ctx context.Context) (*fetch.Result, error) {
			calls++
			return nil, errs.Validation("bad input")
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("TimeoutRespectsToggle", func(t *testing.T) {
		cfg := fastRetryConfig(3)
		cfg.RetryOnTimeout = false
		h := fetch.NewRetryHandler(cfg, zerolog.Nop())

		calls := 0
		_, err := h.Execute(context.Background(), func(ctx context.Context) (*fetch.Result, error) {
			calls++
			return nil, errs.Timeout("https://x", "deadline exceeded", nil)
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("RateLimitRespectsToggle", func(t *testing.T) {
		cfg := fastRetryConfig(3)
		cfg.RetryOnRateLimit = false
		h := fetch.NewRetryHandler(cfg, zerolog.Nop())

		calls := 0
		_, err := h.Execute(context.Background(), func(ctx context.Context) (*fetch.Result, error) {
			calls++
			return nil, errs.RateLimit("https://x", 0)
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("ClientErrorStatusDoesNotRetry", func(t *testing.T) {
		h := fetch.NewRetryHandler(fastRetryConfig(3), zerolog.Nop())

		calls := 0
		_, err := h.Execute(context.Background(), func(ctx context.Context) (*fetch.Result, error) {
			calls++
			return nil, &errs.Error{Kind: errs.KindUnknown, Message: "not found", StatusCode: 404}
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("CustomStatusCodeExtendsSet", func(t *testing.T) {
		cfg := fastRetryConfig(1)
		cfg.StatusCodes = []int{418}
		h := fetch.NewRetryHandler(cfg, zerolog.Nop())

		calls := 0
		res, err := h.Execute(context.Background(), failNTimes(1, &errs.Error{Kind: errs.KindUnknown, Message: "teapot", StatusCode: 418}, &calls))
		require.NoError(t, err)
		assert.Equal(t, 200, res.StatusCode)
		assert.Equal(t, 2, calls)
	})

	t.Run("ErrorNameRule", func(t *testing.T) {
		cfg := fastRetryConfig(1)
		cfg.ErrorNames = map[string]bool{"*errors.errorString": true}
		h := fetch.NewRetryHandler(cfg, zerolog.Nop())

		calls := 0
		res, err := h.Execute(context.Background(), failNTimes(1, errors.New("flaky"), &calls))
		require.NoError(t, err)
		assert.Equal(t, 200, res.StatusCode)
		assert.Equal(t, 2, calls)
	})

	t.Run("ContextCancelDuringBackoff", func(t *testing.T) {
		cfg := fastRetryConfig(3)
		cfg.BaseDelay = time.Second
		h := fetch.NewRetryHandler(cfg, zerolog.Nop())

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()

		_, err := h.Execute(ctx, func(ctx context.Context) (*fetch.Result, error) {
			return nil, errs.Server("https://x", 500)
		})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestAdaptiveRetryHandler(t *testing.T) {
	t.Run("NoAdaptationBelowSampleMin", func(t *testing.T) {
		h := fetch.NewAdaptiveRetryHandler(fastRetryConfig(3), zerolog.Nop())

		for i := 0; i < 9; i++ {
			_, _ = h.Execute(context.Background(), func(ctx context.Context) (*fetch.Result, error) {
				return nil, errs.Validation("always fails fast")
			})
		}

		s := h.Stats()
		assert.Equal(t, 9, s.TotalRequests)
		assert.Equal(t, 3, s.MaxRetries)
	})

	t.Run("LowSuccessRateGrowsRetries", func(t *testing.T) {
		cfg := fastRetryConfig(3)
		h := fetch.NewAdaptiveRetryHandler(cfg, zerolog.Nop())

		for i := 0; i < 10; i++ {
			_, _ = h.Execute(context.Background(), func(ctx context.Context) (*fetch.Result, error) {
				return nil, errs.Validation("fail")
			})
		}

		s := h.Stats()
		assert.Equal(t, 10, s.TotalRequests)
		assert.Zero(t, s.SuccessRate)
		assert.Equal(t, 5, s.MaxRetries)
		assert.Equal(t, time.Duration(float64(cfg.BaseDelay)*1.5), s.BaseDelay)
	})

	t.Run("HighSuccessRateShrinksRetries", func(t *testing.T) {
		cfg := fastRetryConfig(3)
		cfg.BaseDelay = 2 * time.Second
		h := fetch.NewAdaptiveRetryHandler(cfg, zerolog.Nop())

		for i := 0; i < 10; i++ {
			_, err := h.Execute(context.Background(), func(ctx context.Context) (*fetch.Result, error) {
				return &fetch.Result{StatusCode: 200}, nil
			})
			require.NoError(t, err)
		}

		s := h.Stats()
		assert.Equal(t, 1.0, s.SuccessRate)
		assert.Equal(t, 2, s.MaxRetries)
		assert.Equal(t, time.Duration(float64(cfg.BaseDelay)*0.8), s.BaseDelay)
	})

	t.Run("DelayFloor", func(t *testing.T) {
		cfg := fastRetryConfig(3)
		cfg.BaseDelay = time.Millisecond
		h := fetch.NewAdaptiveRetryHandler(cfg, zerolog.Nop())

		for i := 0; i < 10; i++ {
			_, _ = h.Execute(context.Background(), func(ctx context.Context) (*fetch.Result, error) {
				return &fetch.Result{StatusCode: 200}, nil
			})
		}

		assert.Equal(t, 500*time.Millisecond, h.Stats().BaseDelay)
	})
}
