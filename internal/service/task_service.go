package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fuzumoe/smartspider-api/internal/crawler"
	"github.com/fuzumoe/smartspider-api/internal/errs"
	"github.com/fuzumoe/smartspider-api/internal/exporter"
	"github.com/fuzumoe/smartspider-api/internal/model"
	"github.com/fuzumoe/smartspider-api/internal/queue"
	"github.com/fuzumoe/smartspider-api/internal/repository"
)

// TaskService defines business operations around crawl tasks.
type TaskService interface {
	Create(input *model.CreateTaskInput) (string, error)
	Get(id string) (*model.TaskDTO, error)
	List(status string, p repository.Pagination) (*model.PaginatedResponse[model.TaskDTO], error)
	Delete(id string) error
	Start(id string) error
	Stop(id string) error
	Results(id string, p repository.Pagination) (*model.PaginatedResponse[model.CrawlResultDTO], error)
	Export(id, format string) (string, error)
	Enqueue(id string, priority queue.Priority) error
	Dispatch(ctx context.Context)
	QueueStats() queue.Stats
	RunScheduled(ctx context.Context, taskID string) error
	ActiveTasks() []string
	Cleanup()
}

type taskService struct {
	tasks         repository.TaskRepository
	results       repository.CrawlResultRepository
	engine        *crawler.Engine
	exporter      *exporter.Exporter
	queues        *queue.Manager
	maxConcurrent int
	log           zerolog.Logger
}

// ServiceOption configures optional task service behavior.
type ServiceOption func(*taskService)

// WithMaxConcurrent caps how many tasks the dispatcher keeps running at
// once; further queued tasks wait for a slot. Zero disables the cap.
func WithMaxConcurrent(n int) ServiceOption {
	return func(s *taskService) { s.maxConcurrent = n }
}

// NewTaskService constructs a TaskService and registers itself as the
// engine's sink so finished runs are persisted.
func NewTaskService(
	tasks repository.TaskRepository,
	results repository.CrawlResultRepository,
	engine *crawler.Engine,
	exp *exporter.Exporter,
	queues *queue.Manager,
	opts ...ServiceOption,
) TaskService {
	s := &taskService{
		tasks:    tasks,
		results:  results,
		engine:   engine,
		exporter: exp,
		queues:   queues,
		log:      log.With().Str("component", "task_service").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	engine.SetSink(s)
	return s
}

func (s *taskService) Create(input *model.CreateTaskInput) (string, error) {
	t := model.TaskFromCreateInput(input)
	if err := t.Config.Validate(); err != nil {
		return "", err
	}
	if err := s.tasks.Create(t); err != nil {
		return "", err
	}
	s.log.Info().Str("task_id", t.ID).Str("name", t.Name).Msg("task created")
	return t.ID, nil
}

// Get returns the stored task, with the live engine state overriding a
// stale persisted status.
func (s *taskService) Get(id string) (*model.TaskDTO, error) {
	t, err := s.tasks.FindByID(id)
	if err != nil {
		return nil, err
	}
	if live, ok := s.engine.TaskStatus(id); ok {
		t.Status = live
	}
	return t.ToDTO(), nil
}

func (s *taskService) List(status string, p repository.Pagination) (*model.PaginatedResponse[model.TaskDTO], error) {
	tasks, total, err := s.tasks.List(status, p)
	if err != nil {
		return nil, err
	}

	dtos := make([]model.TaskDTO, len(tasks))
	for i, t := range tasks {
		if live, ok := s.engine.TaskStatus(t.ID); ok {
			t.Status = live
		}
		dtos[i] = *t.ToDTO()
	}

	return &model.PaginatedResponse[model.TaskDTO]{
		Data:       dtos,
		Pagination: paginationMeta(p, total),
	}, nil
}

// Delete removes the task and its stored results. A running task is
// stopped first.
func (s *taskService) Delete(id string) error {
	if _, err := s.tasks.FindByID(id); err != nil {
		return err
	}
	s.engine.StopTask(id)
	if err := s.results.DeleteByTask(id); err != nil {
		return err
	}
	return s.tasks.Delete(id)
}

// Start hands the task to the engine and flips the persisted status to
// running. Starting an already-running task fails with a conflict.
func (s *taskService) Start(id string) error {
	t, err := s.tasks.FindByID(id)
	if err != nil {
		return fmt.Errorf("cannot start task: %w", err)
	}
	if err := s.engine.StartTask(t); err != nil {
		return err
	}
	return s.tasks.UpdateStatus(id, model.StatusRunning)
}

// Stop cancels a running task. Stopping a task that is not running
// fails with a conflict; the engine's sink persists the final state.
func (s *taskService) Stop(id string) error {
	if _, err := s.tasks.FindByID(id); err != nil {
		return fmt.Errorf("cannot stop task: %w", err)
	}
	if !s.engine.StopTask(id) {
		return errs.Conflict("task is not running")
	}
	return nil
}

func (s *taskService) Results(id string, p repository.Pagination) (*model.PaginatedResponse[model.CrawlResultDTO], error) {
	if _, err := s.tasks.FindByID(id); err != nil {
		return nil, err
	}
	results, total, err := s.results.ListByTask(id, p)
	if err != nil {
		return nil, err
	}

	dtos := make([]model.CrawlResultDTO, len(results))
	for i, r := range results {
		dtos[i] = *r.ToDTO()
	}

	return &model.PaginatedResponse[model.CrawlResultDTO]{
		Data:       dtos,
		Pagination: paginationMeta(p, total),
	}, nil
}

// Export writes every stored result of the task to a file and returns
// its path. An empty format falls back to the task's storage type.
func (s *taskService) Export(id, format string) (string, error) {
	t, err := s.tasks.FindByID(id)
	if err != nil {
		return "", err
	}
	if format == "" {
		format = t.Config.Storage.StorageType
	}
	results, err := s.results.AllByTask(id)
	if err != nil {
		return "", err
	}
	return s.exporter.Export(id, results, format)
}

// Enqueue places the task on the default priority queue instead of
// starting it immediately; the dispatcher picks it up in priority order.
func (s *taskService) Enqueue(id string, priority queue.Priority) error {
	if _, err := s.tasks.FindByID(id); err != nil {
		return err
	}
	if _, running := s.engine.TaskStatus(id); running {
		return errs.Conflict("task is already running")
	}
	s.queues.Submit(id, priority, queue.DefaultQueueName, id, nil)
	s.log.Info().Str("task_id", id).Str("priority", priority.String()).Msg("task queued")
	return nil
}

// Dispatch consumes the default queue and starts tasks as they become
// due. It blocks until ctx is cancelled; the app runs it in a goroutine.
func (s *taskService) Dispatch(ctx context.Context) {
	for {
		item, ok := s.queues.Next(ctx, queue.DefaultQueueName, time.Second)
		if !ok {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		taskID, _ := item.Payload.(string)
		if taskID == "" {
			continue
		}
		if !s.waitForSlot(ctx) {
			return
		}
		if err := s.Start(taskID); err != nil {
			s.log.Warn().Err(err).Str("task_id", taskID).Msg("queued task failed to start")
		}
	}
}

// waitForSlot blocks until the engine runs fewer tasks than the
// concurrency cap. It reports false when ctx ends first.
func (s *taskService) waitForSlot(ctx context.Context) bool {
	if s.maxConcurrent <= 0 {
		return true
	}
	for len(s.engine.ActiveTasks()) >= s.maxConcurrent {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(50 * time.Millisecond):
		}
	}
	return true
}

// QueueStats reports the default queue's counters.
func (s *taskService) QueueStats() queue.Stats {
	return s.queues.QueueStats(queue.DefaultQueueName)
}

// RunScheduled starts the task on behalf of the scheduler. A task that
// is already running is left alone rather than treated as an error.
func (s *taskService) RunScheduled(ctx context.Context, taskID string) error {
	err := s.Start(taskID)
	if errs.Is(err, errs.KindConflict) {
		s.log.Debug().Str("task_id", taskID).Msg("scheduled task already running")
		return nil
	}
	return err
}

// ActiveTasks lists the IDs the engine is currently executing.
func (s *taskService) ActiveTasks() []string {
	return s.engine.ActiveTasks()
}

// Cleanup stops all running tasks; used during shutdown.
func (s *taskService) Cleanup() {
	s.engine.Cleanup()
}

// TaskFinished persists the outcome of a finished engine run. It makes
// the service satisfy the engine's Sink interface.
func (s *taskService) TaskFinished(taskID, status string, succeeded, failed int, results []model.CrawlResult) {
	if err := s.results.CreateBatch(results); err != nil {
		s.log.Error().Err(err).Str("task_id", taskID).Msg("persist crawl results failed")
	}
	if err := s.tasks.UpdateCounts(taskID, succeeded, failed); err != nil {
		s.log.Error().Err(err).Str("task_id", taskID).Msg("update task counts failed")
	}
	if err := s.tasks.UpdateStatus(taskID, status); err != nil {
		s.log.Error().Err(err).Str("task_id", taskID).Msg("update task status failed")
	}
}

// paginationMeta builds the standard paging envelope.
func paginationMeta(p repository.Pagination, total int64) model.PaginationMetaDTO {
	size := p.Limit()
	pages := total / int64(size)
	if total%int64(size) > 0 {
		pages++
	}
	return model.PaginationMetaDTO{
		Page:       p.Page,
		PageSize:   size,
		TotalItems: total,
		TotalPages: int(pages),
	}
}
