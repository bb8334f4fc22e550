package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fuzumoe/smartspider-api/internal/dedup"
	"github.com/fuzumoe/smartspider-api/internal/errs"
	"github.com/fuzumoe/smartspider-api/internal/fetch"
	"github.com/fuzumoe/smartspider-api/internal/model"
	"github.com/fuzumoe/smartspider-api/internal/parser"
)

// Fetcher downloads a single URL. Satisfied by *fetch.Downloader.
type Fetcher interface {
	Download(ctx context.Context, url string) (*fetch.Result, error)
}

// RecordParser extracts structured records from a page body.
// Satisfied by *parser.Parser.
type RecordParser interface {
	Parse(content, sourceURL string) ([]model.FieldMap, error)
}

// Sink receives the outcome of a finished task run. Implementations must
// tolerate being called from the engine's worker goroutine.
type Sink interface {
	TaskFinished(taskID, status string, succeeded, failed int, results []model.CrawlResult)
}

// DownloaderFactory builds a Fetcher for one task from its crawler config.
type DownloaderFactory func(cfg model.CrawlerConfig) (Fetcher, error)

// ParserFactory builds a RecordParser for one task from its parse config.
type ParserFactory func(cfg model.ParseConfig) (RecordParser, error)

// Engine runs crawl tasks as background goroutines and tracks which task
// IDs are currently active. A task moves through pending → running and
// settles in exactly one of success, failed or cancelled; once a run has
// finished its ID is released and may be started again.
type Engine struct {
	mu      sync.Mutex
	active  map[string]*taskRun
	results map[string][]model.CrawlResult

	newFetcher  DownloaderFactory
	newParser   ParserFactory
	dedup       *dedup.Deduplicator
	sink        Sink
	taskTimeout time.Duration
	log         zerolog.Logger
}

// taskRun is the in-flight bookkeeping for one started task.
type taskRun struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures an Engine.
type Option func(*Engine)

// WithDeduplicator skips URLs whose request fingerprint was already seen.
func WithDeduplicator(d *dedup.Deduplicator) Option {
	return func(e *Engine) { e.dedup = d }
}

// WithSink registers a callback invoked once per finished run.
func WithSink(s Sink) Option {
	return func(e *Engine) { e.sink = s }
}

// WithLogger overrides the engine's logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithTaskTimeout bounds how long a single task run may take. A run that
// hits the ceiling settles as failed. Zero disables the bound.
func WithTaskTimeout(d time.Duration) Option {
	return func(e *Engine) { e.taskTimeout = d }
}

// WithDownloaderFactory overrides how per-task fetchers are built.
func WithDownloaderFactory(f DownloaderFactory) Option {
	return func(e *Engine) { e.newFetcher = f }
}

// WithParserFactory overrides how per-task parsers are built.
func WithParserFactory(f ParserFactory) Option {
	return func(e *Engine) { e.newParser = f }
}

// New creates an Engine with default downloader and parser factories.
func New(opts ...Option) *Engine {
	e := &Engine{
		active:  make(map[string]*taskRun),
		results: make(map[string][]model.CrawlResult),
		log:     log.With().Str("component", "crawler").Logger(),
	}
	e.newFetcher = func(cfg model.CrawlerConfig) (Fetcher, error) {
		return fetch.NewDownloader(cfg, fetch.WithLogger(e.log)), nil
	}
	e.newParser = func(cfg model.ParseConfig) (RecordParser, error) {
		return parser.New(cfg, e.log), nil
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetSink registers the sink after construction, which lets the task
// service wire itself in once both sides exist.
func (e *Engine) SetSink(s Sink) {
	e.mu.Lock()
	e.sink = s
	e.mu.Unlock()
}

// StartTask begins executing the task in a background goroutine. It returns
// errs.KindConflict when the ID is already running and errs.KindValidation
// when the task has no URLs. The task is registered as active before
// StartTask returns, so a subsequent TaskStatus call reports it running.
func (e *Engine) StartTask(task *model.Task) error {
	e.mu.Lock()
	if _, running := e.active[task.ID]; running {
		e.mu.Unlock()
		return errs.Conflict(fmt.Sprintf("task %s is already running", task.ID))
	}
	if len(task.Config.URLs) == 0 {
		e.mu.Unlock()
		return errs.Validation("task has no URLs to crawl")
	}

	ctx, cancel := context.WithCancel(context.Background())
	if e.taskTimeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), e.taskTimeout)
	}
	run := &taskRun{cancel: cancel, done: make(chan struct{})}
	e.active[task.ID] = run
	delete(e.results, task.ID)
	e.mu.Unlock()

	e.log.Info().Str("task_id", task.ID).Int("urls", len(task.Config.URLs)).Msg("task started")
	go e.run(ctx, task, run)
	return nil
}

// StopTask cancels a running task and blocks until its goroutine has
// finished. It reports whether the ID referred to an active run.
func (e *Engine) StopTask(taskID string) bool {
	e.mu.Lock()
	run, ok := e.active[taskID]
	e.mu.Unlock()
	if !ok {
		return false
	}
	run.cancel()
	<-run.done
	e.log.Info().Str("task_id", taskID).Msg("task stopped")
	return true
}

// TaskStatus reports the live status for the ID: model.StatusRunning while
// the run is active, or ok=false when the engine holds no such run.
func (e *Engine) TaskStatus(taskID string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.active[taskID]; ok {
		return model.StatusRunning, true
	}
	return "", false
}

// TaskResults returns a copy of the records collected by the most recent
// finished run of the task. Results of an in-flight run are not visible.
func (e *Engine) TaskResults(taskID string) []model.CrawlResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	src := e.results[taskID]
	if src == nil {
		return nil
	}
	out := make([]model.CrawlResult, len(src))
	copy(out, src)
	return out
}

// ActiveTasks lists the IDs of all currently running tasks.
func (e *Engine) ActiveTasks() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.active))
	for id := range e.active {
		ids = append(ids, id)
	}
	return ids
}

// Cleanup stops every active task and waits for their goroutines to exit.
func (e *Engine) Cleanup() {
	for _, id := range e.ActiveTasks() {
		e.StopTask(id)
	}
}

// run executes one task to completion. Exactly one exit path fires per run:
// the deferred block releases the active slot, stores the results and
// notifies the sink.
func (e *Engine) run(ctx context.Context, task *model.Task, tr *taskRun) {
	var (
		collected []model.CrawlResult
		succeeded int
		failed    int
		status    = model.StatusSuccess
	)

	defer func() {
		if r := recover(); r != nil {
			status = model.StatusFailed
			e.log.Error().Str("task_id", task.ID).Interface("panic", r).Msg("task run panicked")
		}
		e.mu.Lock()
		delete(e.active, task.ID)
		e.results[task.ID] = collected
		sink := e.sink
		e.mu.Unlock()
		close(tr.done)
		e.log.Info().
			Str("task_id", task.ID).
			Str("status", status).
			Int("succeeded", succeeded).
			Int("failed", failed).
			Int("items", len(collected)).
			Msg("task finished")
		if sink != nil {
			sink.TaskFinished(task.ID, status, succeeded, failed, collected)
		}
	}()

	fetcher, err := e.newFetcher(task.Config.Crawler)
	if err != nil {
		status = model.StatusFailed
		e.log.Error().Err(err).Str("task_id", task.ID).Msg("downloader setup failed")
		return
	}
	recParser, err := e.newParser(task.Config.Parse)
	if err != nil {
		status = model.StatusFailed
		e.log.Error().Err(err).Str("task_id", task.ID).Msg("parser setup failed")
		return
	}

	maxItems := task.Config.MaxItems

loop:
	for _, url := range task.Config.URLs {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				status = model.StatusFailed
				e.log.Warn().Str("task_id", task.ID).Msg("task run hit its time limit")
			} else {
				status = model.StatusCancelled
			}
			break loop
		default:
		}

		if e.dedup != nil && e.dedup.ShouldSkip(ctx, "GET", url, nil, nil) {
			e.log.Debug().Str("task_id", task.ID).Str("url", url).Msg("duplicate request skipped")
			continue
		}

		res, err := fetcher.Download(ctx, url)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				status = model.StatusCancelled
				break loop
			}
			failed++
			e.log.Warn().Err(err).Str("task_id", task.ID).Str("url", url).Msg("download failed")
			continue
		}
		if res.StatusCode != 200 {
			failed++
			e.log.Warn().Str("task_id", task.ID).Str("url", url).Int("status", res.StatusCode).Msg("non-200 response")
			continue
		}

		records, err := recParser.Parse(res.Body, url)
		if err != nil {
			failed++
			e.log.Warn().Err(err).Str("task_id", task.ID).Str("url", url).Msg("parse failed")
			continue
		}

		succeeded++
		now := time.Now().UTC()
		for _, fields := range records {
			collected = append(collected, model.CrawlResult{
				TaskID:       task.ID,
				URL:          url,
				Fields:       fields,
				StatusCode:   res.StatusCode,
				ResponseTime: res.Elapsed.Seconds(),
				CrawledAt:    now,
			})
			if maxItems > 0 && len(collected) >= maxItems {
				e.log.Info().Str("task_id", task.ID).Int("max_items", maxItems).Msg("item limit reached")
				break loop
			}
		}
	}
}
