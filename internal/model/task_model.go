package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Task status values. Transitions are monotonic: pending → running →
// {success, failed, cancelled}; a task is never mutated once terminal.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusSuccess   = "success"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// TerminalStatus reports whether s is one of the terminal task states.
func TerminalStatus(s string) bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusCancelled
}

// Task represents one crawl task definition and its execution state.
type Task struct {
	ID          string     `gorm:"primaryKey;size:36" json:"id"`
	Name        string     `gorm:"size:255;not null" json:"name"`
	Description string     `gorm:"type:text" json:"description"`
	Config      TaskConfig `gorm:"serializer:json;type:json" json:"config"`
	Status      string     `gorm:"type:enum('pending','running','success','failed','cancelled');default:'pending';not null;index" json:"status"`

	TotalURLCount   int `json:"total_url_count"`
	SuccessURLCount int `json:"success_url_count"`
	FailedURLCount  int `json:"failed_url_count"`

	CreatedAt   time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	StartedAt   *time.Time     `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName returns the name of the table for Task.
func (Task) TableName() string {
	return "tasks"
}

// TaskDTO is the data transfer object for Task.
type TaskDTO struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Description     string     `json:"description"`
	Status          string     `json:"status"`
	TotalURLCount   int        `json:"total_url_count"`
	SuccessURLCount int        `json:"success_url_count"`
	FailedURLCount  int        `json:"failed_url_count"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// CreateTaskInput defines required fields to create a Task. The config
// blocks are pointers so an absent block is distinguishable from an
// all-zero one and gets the full defaults.
type CreateTaskInput struct {
	Name        string         `json:"name" binding:"required"`
	Description string         `json:"description"`
	URLs        []string       `json:"urls" binding:"required,min=1,dive,url"`
	Crawler     *CrawlerConfig `json:"crawler"`
	Parse       *ParseConfig   `json:"parse"`
	Storage     *StorageConfig `json:"storage"`
	Priority    int            `json:"priority"`
	MaxItems    int            `json:"max_items"`
}

// ToDTO converts a Task model to a TaskDTO.
func (t *Task) ToDTO() *TaskDTO {
	return &TaskDTO{
		ID:              t.ID,
		Name:            t.Name,
		Description:     t.Description,
		Status:          t.Status,
		TotalURLCount:   t.TotalURLCount,
		SuccessURLCount: t.SuccessURLCount,
		FailedURLCount:  t.FailedURLCount,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
		StartedAt:       t.StartedAt,
		CompletedAt:     t.CompletedAt,
	}
}

// TaskFromCreateInput maps CreateTaskInput to a Task model.
func TaskFromCreateInput(input *CreateTaskInput) *Task {
	cfg := TaskConfig{
		Name:        input.Name,
		Description: input.Description,
		URLs:        input.URLs,
		Crawler:     DefaultCrawlerConfig(),
		Parse:       DefaultParseConfig(),
		Priority:    input.Priority,
		MaxItems:    input.MaxItems,
	}
	if input.Crawler != nil {
		cfg.Crawler = *input.Crawler
	}
	if input.Parse != nil {
		cfg.Parse = *input.Parse
	}
	if input.Storage != nil {
		cfg.Storage = *input.Storage
	}
	cfg.Normalize()

	return &Task{
		ID:            uuid.NewString(),
		Name:          input.Name,
		Description:   input.Description,
		Config:        cfg,
		Status:        StatusPending,
		TotalURLCount: len(input.URLs),
	}
}
