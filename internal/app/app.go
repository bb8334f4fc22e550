package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/fuzumoe/smartspider-api/configs"
	"github.com/fuzumoe/smartspider-api/internal/cookie"
	"github.com/fuzumoe/smartspider-api/internal/crawler"
	"github.com/fuzumoe/smartspider-api/internal/dedup"
	"github.com/fuzumoe/smartspider-api/internal/exporter"
	"github.com/fuzumoe/smartspider-api/internal/fetch"
	"github.com/fuzumoe/smartspider-api/internal/handler"
	"github.com/fuzumoe/smartspider-api/internal/logger"
	"github.com/fuzumoe/smartspider-api/internal/middleware"
	"github.com/fuzumoe/smartspider-api/internal/model"
	"github.com/fuzumoe/smartspider-api/internal/proxy"
	"github.com/fuzumoe/smartspider-api/internal/queue"
	"github.com/fuzumoe/smartspider-api/internal/repository"
	"github.com/fuzumoe/smartspider-api/internal/scheduler"
	"github.com/fuzumoe/smartspider-api/internal/server"
	"github.com/fuzumoe/smartspider-api/internal/service"
)

// hookable functions for dependency injection
var (
	LoadConfig = configs.Load
	NewDB      = repository.NewDB
	MigrateDB  = repository.Migrate
)

// Run loads config, wires every layer together and serves until a
// shutdown signal arrives.
func Run() error {
	cfg, err := LoadConfig()
	if err != nil {
		return fmt.Errorf("config load error: %w", err)
	}

	logCfg := logger.DefaultConfig()
	logCfg.Level = cfg.LogLevel
	logCfg.Dir = cfg.LogDir
	if _, err := logger.Init(logCfg); err != nil {
		return fmt.Errorf("logger init error: %w", err)
	}

	db, err := NewDB(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("db init error: %w", err)
	}

	if err := MigrateDB(db); err != nil {
		return fmt.Errorf("migration error: %w", err)
	}

	// Request dedup: Redis when configured, bounded in-memory otherwise.
	var (
		dedupStore dedup.Store
		redisStore *dedup.RedisStore
	)
	if cfg.RedisAddr != "" {
		redisStore = dedup.NewRedisStore(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, "request:", cfg.DedupTTL, log.Logger)
		dedupStore = redisStore
	} else {
		dedupStore = dedup.NewMemoryStore(0, cfg.DedupTTL)
	}
	deduper := dedup.NewDeduplicator(nil, dedupStore, log.Logger)

	proxies := proxy.New(proxy.WithTestURL(cfg.ProxyTestURL))

	cookies, err := cookie.New(cfg.CookieStorePath)
	if err != nil {
		return fmt.Errorf("cookie store error: %w", err)
	}

	exp := exporter.New(model.StorageConfig{OutputDir: cfg.OutputDir})

	// Downloaders get the shared proxy pool and cookie store, so the
	// admin API's proxies and cookies feed real crawls.
	engine := crawler.New(
		crawler.WithDeduplicator(deduper),
		crawler.WithTaskTimeout(cfg.CrawlTimeout),
		crawler.WithDownloaderFactory(func(c model.CrawlerConfig) (crawler.Fetcher, error) {
			if c.UserAgent == "" {
				c.UserAgent = cfg.UserAgent
			}
			return fetch.NewDownloader(c,
				fetch.WithProxySource(proxies),
				fetch.WithCookieSource(cookies),
				fetch.WithLogger(log.With().Str("component", "downloader").Logger()),
			), nil
		}),
	)

	queues := queue.NewManager(log.Logger)

	taskRepo := repository.NewTaskRepo(db)
	resultRepo := repository.NewCrawlResultRepo(db)
	taskService := service.NewTaskService(taskRepo, resultRepo, engine, exp, queues,
		service.WithMaxConcurrent(cfg.MaxConcurrent))

	dispatchCtx, stopDispatch := context.WithCancel(context.Background())
	defer stopDispatch()
	go taskService.Dispatch(dispatchCtx)
	healthService := service.NewHealthService(db, cfg.ServiceName, pinger(redisStore), taskService)

	sched := scheduler.New(taskService, scheduler.WithCheckInterval(cfg.CheckInterval))
	sched.Start(context.Background())
	defer sched.Stop()

	gin.SetMode(cfg.ServerMode)
	router := gin.New()
	server.RegisterRoutes(router, []server.RouteRegistrar{
		handler.NewHealthHandler(healthService),
		handler.NewTaskHandler(taskService),
		handler.NewSchedulerHandler(sched),
		handler.NewProxyHandler(proxies),
	}, middleware.CORS(cfg.CORSOrigins))

	srv := &http.Server{
		Addr:    cfg.ServerHost + ":" + cfg.ServerPort,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	// Stop running crawls before the HTTP listener goes away so their
	// final states still get persisted.
	taskService.Cleanup()
	if redisStore != nil {
		_ = redisStore.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

// pinger widens a possibly nil *RedisStore into the health service's
// interface without producing a non-nil interface around a nil pointer.
func pinger(s *dedup.RedisStore) service.Pinger {
	if s == nil {
		return nil
	}
	return s
}
