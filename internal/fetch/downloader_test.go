package fetch_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fuzumoe/smartspider-api/internal/errs"
	"github.com/fuzumoe/smartspider-api/internal/fetch"
	"github.com/fuzumoe/smartspider-api/internal/model"
)

func fastConfig() model.CrawlerConfig {
	cfg := model.DefaultCrawlerConfig()
	cfg.RequestDelay = 0
	cfg.RandomizeDelay = false
	cfg.RetryTimes = 1
	cfg.RetryDelay = 0.001
	cfg.Timeout = 2
	return cfg
}

func TestDownloader_Download(t *testing.T) {
	t.Run("OK", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("<html>hello</html>"))
		}))
		defer srv.Close()

		d := fetch.NewDownloader(fastConfig())
		res, err := d.Download(context.Background(), srv.URL)
		require.NoError(t, err)
		assert.Equal(t, 200, res.StatusCode)
		assert.Equal(t, "<html>hello</html>", res.Body)
		assert.Greater(t, res.Elapsed, time.Duration(0))
	})

	t.Run("RetriesServerError", func(t *testing.T) {
		var calls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&calls, 1) == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			_, _ = w.Write([]byte("ok"))
		}))
		defer srv.Close()

		d := fetch.NewDownloader(fastConfig())
		res, err := d.Download(context.Background(), srv.URL)
		require.NoError(t, err)
		assert.Equal(t, 200, res.StatusCode)
		assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
	})

	t.Run("ServerErrorClassified", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		cfg := fastConfig()
		cfg.RetryTimes = 0
		d := fetch.NewDownloader(cfg)

		_, err := d.Download(context.Background(), srv.URL)
		require.Error(t, err)
		assert.Equal(t, errs.KindServer, errs.KindOf(err))
		assert.Equal(t, 500, errs.StatusOf(err))
	})

	t.Run("RateLimitCarriesRetryAfter", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer srv.Close()

		cfg := fastConfig()
		cfg.RetryTimes = 0
		d := fetch.NewDownloader(cfg)

		_, err := d.Download(context.Background(), srv.URL)
		require.Error(t, err)
		assert.Equal(t, errs.KindRateLimit, errs.KindOf(err))
	})

	t.Run("NonOKButNotErrorPassesThrough", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()

		d := fetch.NewDownloader(fastConfig())
		res, err := d.Download(context.Background(), srv.URL)
		require.NoError(t, err)
		assert.Equal(t, 404, res.StatusCode)
	})

	t.Run("TimeoutClassified", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(300 * time.Millisecond)
		}))
		defer srv.Close()

		cfg := fastConfig()
		cfg.RetryTimes = 0
		d := fetch.NewDownloader(cfg)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err := d.Download(ctx, srv.URL)
		require.Error(t, err)
		assert.Equal(t, errs.KindTimeout, errs.KindOf(err))
	})

	t.Run("TimeoutDuringForcedDelay", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		defer srv.Close()

		cfg := fastConfig()
		cfg.RequestDelay = 1
		cfg.RetryTimes = 0
		d := fetch.NewDownloader(cfg)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err := d.Download(ctx, srv.URL)
		require.Error(t, err)
		assert.Equal(t, errs.KindTimeout, errs.KindOf(err))
	})

	t.Run("ZeroRetriesMeansSingleAttempt", func(t *testing.T) {
		var calls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		cfg := fastConfig()
		cfg.RetryTimes = 0
		d := fetch.NewDownloader(cfg)

		_, err := d.Download(context.Background(), srv.URL)
		require.Error(t, err)
		assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
	})

	t.Run("SendsConfiguredUserAgent", func(t *testing.T) {
		var gotUA string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotUA = r.Header.Get("User-Agent")
		}))
		defer srv.Close()

		cfg := fastConfig()
		cfg.UserAgent = "TestSpider/9.9"
		cfg.RotateUserAgent = false
		d := fetch.NewDownloader(cfg)

		_, err := d.Download(context.Background(), srv.URL)
		require.NoError(t, err)
		assert.Equal(t, "TestSpider/9.9", gotUA)
	})

	t.Run("DefaultUserAgentWhenUnset", func(t *testing.T) {
		var gotUA string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotUA = r.Header.Get("User-Agent")
		}))
		defer srv.Close()

		cfg := fastConfig()
		cfg.UserAgent = ""
		cfg.RotateUserAgent = false
		d := fetch.NewDownloader(cfg)

		_, err := d.Download(context.Background(), srv.URL)
		require.NoError(t, err)
		assert.Equal(t, "SmartSpider/1.0", gotUA)
	})

	t.Run("RedirectsNotFollowedWhenDisabled", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "/elsewhere", http.StatusFound)
		}))
		defer srv.Close()

		cfg := fastConfig()
		cfg.FollowRedirects = false
		d := fetch.NewDownloader(cfg)

		res, err := d.Download(context.Background(), srv.URL)
		require.NoError(t, err)
		assert.Equal(t, http.StatusFound, res.StatusCode)
	})
}

// recordingPool is a ProxySource that hands out one proxy and counts the
// outcomes reported back.
type recordingPool struct {
	proxy     string
	successes int32
	failures  int32
}

func (p *recordingPool) GetProxy() (string, bool) { return p.proxy, p.proxy != "" }

func (p *recordingPool) ReportSuccess(string) { atomic.AddInt32(&p.successes, 1) }

func (p *recordingPool) ReportFailure(string) { atomic.AddInt32(&p.failures, 1) }

func TestDownloader_ProxyReporting(t *testing.T) {
	t.Run("SuccessReported", func(t *testing.T) {
		// The test server doubles as a forward proxy: any request that
		// reaches it gets a 200, proving the pool's proxy was used.
		proxySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("ok"))
		}))
		defer proxySrv.Close()

		pool := &recordingPool{proxy: proxySrv.URL}
		cfg := fastConfig()
		cfg.UseProxy = true
		d := fetch.NewDownloader(cfg, fetch.WithProxySource(pool))

		res, err := d.Download(context.Background(), "http://upstream.invalid/page")
		require.NoError(t, err)
		assert.Equal(t, 200, res.StatusCode)
		assert.EqualValues(t, 1, atomic.LoadInt32(&pool.successes))
		assert.EqualValues(t, 0, atomic.LoadInt32(&pool.failures))
	})

	t.Run("FailureReported", func(t *testing.T) {
		dead := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
		deadURL := dead.URL
		dead.Close()

		pool := &recordingPool{proxy: deadURL}
		cfg := fastConfig()
		cfg.UseProxy = true
		cfg.RetryTimes = 0
		d := fetch.NewDownloader(cfg, fetch.WithProxySource(pool))

		_, err := d.Download(context.Background(), "http://upstream.invalid/page")
		require.Error(t, err)
		assert.EqualValues(t, 0, atomic.LoadInt32(&pool.successes))
		assert.EqualValues(t, 1, atomic.LoadInt32(&pool.failures))
	})

	t.Run("StaticProxyListNotReported", func(t *testing.T) {
		proxySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("ok"))
		}))
		defer proxySrv.Close()

		pool := &recordingPool{proxy: proxySrv.URL}
		cfg := fastConfig()
		cfg.UseProxy = true
		cfg.ProxyList = []string{proxySrv.URL}
		d := fetch.NewDownloader(cfg, fetch.WithProxySource(pool))

		_, err := d.Download(context.Background(), "http://upstream.invalid/page")
		require.NoError(t, err)

		// The task's own proxy list took precedence; the pool heard nothing.
		assert.EqualValues(t, 0, atomic.LoadInt32(&pool.successes))
		assert.EqualValues(t, 0, atomic.LoadInt32(&pool.failures))
	})
}

type staticCookies map[string]string

func (s staticCookies) CookiesForDomain(domain string) map[string]string { return s }

func TestDownloader_Cookies(t *testing.T) {
	var gotCookie string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("session"); err == nil {
			gotCookie = c.Value
		}
	}))
	defer srv.Close()

	cfg := fastConfig()
	cfg.UseCookies = true
	d := fetch.NewDownloader(cfg, fetch.WithCookieSource(staticCookies{"session": "abc123"}))

	_, err := d.Download(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "abc123", gotCookie)
}

func TestDownloader_DownloadBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/fail" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte("page " + r.URL.Path))
	}))
	defer srv.Close()

	d := fetch.NewDownloader(fastConfig())
	urls := []string{srv.URL + "/a", srv.URL + "/fail", srv.URL + "/b"}

	items := d.DownloadBatch(context.Background(), urls, 2)
	require.Len(t, items, 3)

	// Output order matches input order regardless of completion order.
	assert.Equal(t, urls[0], items[0].URL)
	assert.Equal(t, urls[1], items[1].URL)
	assert.Equal(t, urls[2], items[2].URL)

	require.NoError(t, items[0].Err)
	assert.Equal(t, "page /a", items[0].Result.Body)
	require.NoError(t, items[1].Err)
	assert.Equal(t, http.StatusBadRequest, items[1].Result.StatusCode)
	require.NoError(t, items[2].Err)
	assert.Equal(t, "page /b", items[2].Result.Body)
}

func TestDownloader_Stats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	d := fetch.NewDownloader(fastConfig())
	for i := 0; i < 3; i++ {
		_, err := d.Download(context.Background(), srv.URL)
		require.NoError(t, err)
	}

	s := d.Stats()
	assert.EqualValues(t, 3, s.TotalRequests)
	assert.EqualValues(t, 3, s.SuccessfulRequests)
	assert.EqualValues(t, 0, s.FailedRequests)
	assert.Equal(t, 3, s.Retry.TotalRequests)
}
