package service_test

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/fuzumoe/smartspider-api/internal/service"
)

type stubPinger struct {
	err error
}

func (p stubPinger) Ping(context.Context) error { return p.err }

func mockGormDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	// gorm pings once while opening; the health check pings again.
	mock.ExpectPing()
	mock.ExpectPing()

	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      db,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{})
	require.NoError(t, err)
	return gormDB
}

func TestHealthService_Check(t *testing.T) {
	t.Run("Healthy", func(t *testing.T) {
		f := newFixture(t, &stubFetcher{})
		h := service.NewHealthService(mockGormDB(t), "smartspider", stubPinger{}, f.svc)

		status := h.Check(context.Background())
		assert.True(t, status.Healthy)
		assert.Equal(t, "smartspider", status.Service)
		assert.Equal(t, "healthy", status.Database)
		assert.Equal(t, "healthy", status.Dedup)
		assert.Equal(t, 0, status.ActiveTasks)
		assert.False(t, status.Checked.IsZero())
	})

	t.Run("NoDatabase", func(t *testing.T) {
		h := service.NewHealthService(nil, "smartspider", nil, nil)

		status := h.Check(context.Background())
		assert.False(t, status.Healthy)
		assert.Equal(t, "disconnected", status.Database)
		assert.Equal(t, "disabled", status.Dedup)
	})

	t.Run("DedupUnhealthy", func(t *testing.T) {
		h := service.NewHealthService(nil, "smartspider", stubPinger{err: assert.AnError}, nil)

		status := h.Check(context.Background())
		assert.Equal(t, "unhealthy", status.Dedup)
	})

	t.Run("CountsActiveTasks", func(t *testing.T) {
		f := newFixture(t, &stubFetcher{block: true})
		id := createTask(t, f)
		require.NoError(t, f.svc.Start(id))
		defer f.svc.Cleanup()

		h := service.NewHealthService(nil, "smartspider", nil, f.svc)
		assert.Equal(t, 1, h.Check(context.Background()).ActiveTasks)
	})
}
