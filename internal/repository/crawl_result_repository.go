package repository

import (
	"gorm.io/gorm"

	"github.com/fuzumoe/smartspider-api/internal/errs"
	"github.com/fuzumoe/smartspider-api/internal/model"
)

// CrawlResultRepository defines DB ops around crawl results.
type CrawlResultRepository interface {
	CreateBatch(results []model.CrawlResult) error
	ListByTask(taskID string, p Pagination) ([]model.CrawlResult, int64, error)
	AllByTask(taskID string) ([]model.CrawlResult, error)
	CountByTask(taskID string) (int64, error)
	DeleteByTask(taskID string) error
}

type crawlResultRepo struct {
	db *gorm.DB
}

// NewCrawlResultRepo creates a CrawlResultRepository backed by db.
func NewCrawlResultRepo(db *gorm.DB) CrawlResultRepository {
	return &crawlResultRepo{db: db}
}

// CreateBatch inserts the results in chunks. A nil or empty slice is a
// no-op.
func (r *crawlResultRepo) CreateBatch(results []model.CrawlResult) error {
	if len(results) == 0 {
		return nil
	}
	if err := r.db.CreateInBatches(results, 100).Error; err != nil {
		return errs.Storage("create crawl results", err)
	}
	return nil
}

func (r *crawlResultRepo) ListByTask(taskID string, p Pagination) ([]model.CrawlResult, int64, error) {
	q := r.db.Model(&model.CrawlResult{}).Where("task_id = ?", taskID)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, errs.Storage("count crawl results", err)
	}

	var results []model.CrawlResult
	if err := q.
		Order("crawled_at ASC").
		Offset(p.Offset()).
		Limit(p.Limit()).
		Find(&results).Error; err != nil {
		return nil, 0, errs.Storage("list crawl results", err)
	}
	return results, total, nil
}

func (r *crawlResultRepo) AllByTask(taskID string) ([]model.CrawlResult, error) {
	var results []model.CrawlResult
	if err := r.db.
		Where("task_id = ?", taskID).
		Order("crawled_at ASC").
		Find(&results).Error; err != nil {
		return nil, errs.Storage("load crawl results", err)
	}
	return results, nil
}

func (r *crawlResultRepo) CountByTask(taskID string) (int64, error) {
	var total int64
	if err := r.db.Model(&model.CrawlResult{}).Where("task_id = ?", taskID).Count(&total).Error; err != nil {
		return 0, errs.Storage("count crawl results", err)
	}
	return total, nil
}

func (r *crawlResultRepo) DeleteByTask(taskID string) error {
	if err := r.db.Delete(&model.CrawlResult{}, "task_id = ?", taskID).Error; err != nil {
		return errs.Storage("delete crawl results", err)
	}
	return nil
}
