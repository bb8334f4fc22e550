package service

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// Pinger is anything with a connectivity probe; the redis dedup store
// satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthStatus struct {
	Service     string
	Database    string
	Dedup       string
	ActiveTasks int
	Healthy     bool
	Checked     time.Time
}

type HealthService interface {
	Check(ctx context.Context) *HealthStatus
}

type healthService struct {
	name   string
	dedup  Pinger
	tasks  TaskService
	probe  func() (string, bool)
}

// NewHealthService builds a HealthService over the database, the
// optional dedup store and the task service.
func NewHealthService(db *gorm.DB, name string, dedup Pinger, tasks TaskService) HealthService {
	return &healthService{
		name:  name,
		dedup: dedup,
		tasks: tasks,
		probe: func() (string, bool) {
			if db == nil {
				return "disconnected", false
			}
			sqlDB, err := db.DB()
			if err != nil {
				return "unhealthy", false
			}
			if pingErr := sqlDB.Ping(); pingErr != nil {
				return "unhealthy", false
			}
			return "healthy", true
		},
	}
}

func (h *healthService) Check(ctx context.Context) *HealthStatus {
	dbStatus, ok := h.probe()

	dedupStatus := "disabled"
	if h.dedup != nil {
		if err := h.dedup.Ping(ctx); err != nil {
			dedupStatus = "unhealthy"
		} else {
			dedupStatus = "healthy"
		}
	}

	active := 0
	if h.tasks != nil {
		active = len(h.tasks.ActiveTasks())
	}

	return &HealthStatus{
		Service:     h.name,
		Database:    dbStatus,
		Dedup:       dedupStatus,
		ActiveTasks: active,
		Healthy:     ok,
		Checked:     time.Now().UTC(),
	}
}
