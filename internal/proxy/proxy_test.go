package proxy_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fuzumoe/smartspider-api/internal/proxy"
)

// testServer returns a server whose URL doubles as both the "proxy" and
// the health-check target, so checks succeed without a real proxy.
func testServer(t *testing.T, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestManager_Add(t *testing.T) {
	t.Run("HealthyProxy", func(t *testing.T) {
		srv := testServer(t, http.StatusOK)
		m := proxy.New(proxy.WithTestURL(srv.URL))

		require.NoError(t, m.Add(context.Background(), srv.URL))

		info, ok := m.Get(srv.URL)
		require.True(t, ok)
		assert.Equal(t, proxy.StatusActive, info.Status)
		assert.NotNil(t, info.LastChecked)
	})

	t.Run("FailingCheck", func(t *testing.T) {
		srv := testServer(t, http.StatusBadGateway)
		m := proxy.New(proxy.WithTestURL(srv.URL))

		require.NoError(t, m.Add(context.Background(), srv.URL))

		info, ok := m.Get(srv.URL)
		require.True(t, ok)
		assert.Equal(t, proxy.StatusInactive, info.Status)

		_, ok = m.GetProxy()
		assert.False(t, ok)
	})

	t.Run("Duplicate", func(t *testing.T) {
		srv := testServer(t, http.StatusOK)
		m := proxy.New(proxy.WithTestURL(srv.URL))

		require.NoError(t, m.Add(context.Background(), srv.URL))
		assert.Error(t, m.Add(context.Background(), srv.URL))
	})

	t.Run("EmptyURL", func(t *testing.T) {
		m := proxy.New()
		assert.Error(t, m.Add(context.Background(), ""))
	})
}

func TestManager_Rotation(t *testing.T) {
	srv := testServer(t, http.StatusOK)
	m := proxy.New(proxy.WithTestURL(srv.URL))

	first := srv.URL + "/p1"
	second := srv.URL + "/p2"
	require.NoError(t, m.Add(context.Background(), first))
	require.NoError(t, m.Add(context.Background(), second))

	a, ok := m.GetProxy()
	require.True(t, ok)
	b, ok := m.GetProxy()
	require.True(t, ok)
	c, ok := m.GetProxy()
	require.True(t, ok)

	assert.NotEqual(t, a, b)
	assert.Equal(t, a, c)
}

func TestManager_BanAfterConsecutiveFailures(t *testing.T) {
	srv := testServer(t, http.StatusOK)
	m := proxy.New(proxy.WithTestURL(srv.URL))
	require.NoError(t, m.Add(context.Background(), srv.URL))

	for i := 0; i < 3; i++ {
		m.ReportFailure(srv.URL)
	}

	info, ok := m.Get(srv.URL)
	require.True(t, ok)
	assert.Equal(t, proxy.StatusBanned, info.Status)

	_, ok = m.GetProxy()
	assert.False(t, ok)

	// A success after the ban does not silently unban.
	m.ReportSuccess(srv.URL)
	info, _ = m.Get(srv.URL)
	assert.Equal(t, proxy.StatusBanned, info.Status)
}

func TestManager_SuccessRateFloor(t *testing.T) {
	srv := testServer(t, http.StatusOK)
	m := proxy.New(proxy.WithTestURL(srv.URL))
	require.NoError(t, m.Add(context.Background(), srv.URL))

	// 3 successes, 1 failure: 0.75 < 0.8, so the proxy is withheld even
	// though it is still active.
	m.ReportSuccess(srv.URL)
	m.ReportSuccess(srv.URL)
	m.ReportSuccess(srv.URL)
	m.ReportFailure(srv.URL)

	info, _ := m.Get(srv.URL)
	assert.Equal(t, proxy.StatusActive, info.Status)
	assert.InDelta(t, 0.75, info.SuccessRate(), 1e-9)

	_, ok := m.GetProxy()
	assert.False(t, ok)
}

func TestManager_Cleanup(t *testing.T) {
	srv := testServer(t, http.StatusOK)
	m := proxy.New(proxy.WithTestURL(srv.URL))

	good := srv.URL + "/good"
	bad := srv.URL + "/bad"
	require.NoError(t, m.Add(context.Background(), good))
	require.NoError(t, m.Add(context.Background(), bad))

	for i := 0; i < 3; i++ {
		m.ReportFailure(bad)
	}

	assert.Equal(t, 1, m.Cleanup())
	assert.Len(t, m.List(), 1)

	stats := m.Stats()
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.Active)
	assert.Zero(t, stats.Banned)
}

func TestManager_Remove(t *testing.T) {
	srv := testServer(t, http.StatusOK)
	m := proxy.New(proxy.WithTestURL(srv.URL))
	require.NoError(t, m.Add(context.Background(), srv.URL))

	assert.True(t, m.Remove(srv.URL))
	assert.False(t, m.Remove(srv.URL))
	assert.Empty(t, m.List())
}

func TestManager_CheckAll(t *testing.T) {
	srv := testServer(t, http.StatusOK)
	m := proxy.New(proxy.WithTestURL(srv.URL))

	m.AddAll(context.Background(), []string{srv.URL + "/a", srv.URL + "/b"})
	require.Len(t, m.List(), 2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	m.CheckAll(ctx)

	for _, info := range m.List() {
		assert.Equal(t, proxy.StatusActive, info.Status)
	}
}
