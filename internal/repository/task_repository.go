package repository

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/fuzumoe/smartspider-api/internal/errs"
	"github.com/fuzumoe/smartspider-api/internal/model"
)

// TaskRepository defines DB ops around crawl tasks.
type TaskRepository interface {
	Create(t *model.Task) error
	FindByID(id string) (*model.Task, error)
	List(status string, p Pagination) ([]model.Task, int64, error)
	Update(t *model.Task) error
	UpdateStatus(id, status string) error
	UpdateCounts(id string, succeeded, failed int) error
	Delete(id string) error
}

type taskRepo struct {
	db *gorm.DB
}

// NewTaskRepo creates a TaskRepository backed by db.
func NewTaskRepo(db *gorm.DB) TaskRepository {
	return &taskRepo{db: db}
}

func (r *taskRepo) Create(t *model.Task) error {
	if err := r.db.Create(t).Error; err != nil {
		return errs.Storage("create task", err)
	}
	return nil
}

func (r *taskRepo) FindByID(id string) (*model.Task, error) {
	var t model.Task
	if err := r.db.First(&t, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.NotFound("task not found")
		}
		return nil, errs.Storage("find task", err)
	}
	return &t, nil
}

// List returns one page of tasks, newest first, optionally filtered by
// status, together with the unfiltered-by-paging total count.
func (r *taskRepo) List(status string, p Pagination) ([]model.Task, int64, error) {
	q := r.db.Model(&model.Task{})
	if status != "" {
		q = q.Where("status = ?", status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, errs.Storage("count tasks", err)
	}

	var tasks []model.Task
	if err := q.
		Order("created_at DESC").
		Offset(p.Offset()).
		Limit(p.Limit()).
		Find(&tasks).Error; err != nil {
		return nil, 0, errs.Storage("list tasks", err)
	}
	return tasks, total, nil
}

func (r *taskRepo) Update(t *model.Task) error {
	if err := r.db.Save(t).Error; err != nil {
		return errs.Storage("update task", err)
	}
	return nil
}

// UpdateStatus transitions the task and stamps started_at / completed_at
// for the running and terminal states respectively.
func (r *taskRepo) UpdateStatus(id, status string) error {
	now := time.Now().UTC()
	updates := map[string]any{"status": status}
	switch {
	case status == model.StatusRunning:
		updates["started_at"] = now
	case model.TerminalStatus(status):
		updates["completed_at"] = now
	}

	res := r.db.Model(&model.Task{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return errs.Storage("update task status", res.Error)
	}
	if res.RowsAffected == 0 {
		return errs.NotFound("task not found")
	}
	return nil
}

func (r *taskRepo) UpdateCounts(id string, succeeded, failed int) error {
	res := r.db.Model(&model.Task{}).Where("id = ?", id).Updates(map[string]any{
		"success_url_count": succeeded,
		"failed_url_count":  failed,
	})
	if res.Error != nil {
		return errs.Storage("update task counts", res.Error)
	}
	if res.RowsAffected == 0 {
		return errs.NotFound("task not found")
	}
	return nil
}

func (r *taskRepo) Delete(id string) error {
	res := r.db.Delete(&model.Task{}, "id = ?", id)
	if res.Error != nil {
		return errs.Storage("delete task", res.Error)
	}
	if res.RowsAffected == 0 {
		return errs.NotFound("task not found")
	}
	return nil
}
