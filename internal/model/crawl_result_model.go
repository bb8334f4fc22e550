package model

import (
	"time"

	"gorm.io/gorm"
)

// FieldMap is one parsed record: extracted field name → value. Values are
// strings or string lists depending on how many nodes the selector matched.
type FieldMap map[string]any

// CrawlResult is one parsed record tagged with its fetch metadata.
type CrawlResult struct {
	ID           uint     `gorm:"primaryKey;autoIncrement" json:"id"`
	TaskID       string   `gorm:"size:36;not null;index" json:"task_id"`
	URL          string   `gorm:"type:text;not null" json:"url"`
	Fields       FieldMap `gorm:"serializer:json;type:json" json:"fields"`
	StatusCode   int      `json:"status_code"`
	ResponseTime float64  `json:"response_time"` // seconds

	CrawledAt time.Time      `json:"crawled_at"`
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName returns the name of the table for CrawlResult.
func (CrawlResult) TableName() string {
	return "crawl_results"
}

// CrawlResultDTO is used for sending crawl results in responses.
type CrawlResultDTO struct {
	ID           uint      `json:"id"`
	TaskID       string    `json:"task_id"`
	URL          string    `json:"url"`
	Fields       FieldMap  `json:"fields"`
	StatusCode   int       `json:"status_code"`
	ResponseTime float64   `json:"response_time"`
	CrawledAt    time.Time `json:"crawled_at"`
}

// ToDTO converts a CrawlResult model to CrawlResultDTO.
func (r *CrawlResult) ToDTO() *CrawlResultDTO {
	return &CrawlResultDTO{
		ID:           r.ID,
		TaskID:       r.TaskID,
		URL:          r.URL,
		Fields:       r.Fields,
		StatusCode:   r.StatusCode,
		ResponseTime: r.ResponseTime,
		CrawledAt:    r.CrawledAt,
	}
}
