package configs

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration values.
type Config struct {
	ServiceName      string
	ServerHost       string
	ServerPort       string
	ServerMode       string
	DatabaseHost     string
	DatabasePort     string
	DatabaseUser     string
	DatabasePassword string
	DatabaseName     string
	DatabaseURL      string
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	DedupTTL         time.Duration
	LogLevel         string
	LogDir           string
	CORSOrigins      []string
	OutputDir        string
	CookieStorePath  string
	ProxyTestURL     string
	CheckInterval    time.Duration
	MaxConcurrent    int
	CrawlTimeout     time.Duration
	UserAgent        string
}

// Load reads configuration exclusively from environment variables (optionally .env file).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	// Server
	cfg.ServiceName = getEnv("SERVICE_NAME", "smartspider-api")
	cfg.ServerHost = getEnv("HOST", "0.0.0.0")
	cfg.ServerPort = getEnv("PORT", "8000")
	cfg.ServerMode = getEnv("GIN_MODE", "debug")

	// Database
	cfg.DatabaseHost = getEnv("DB_HOST", "localhost")
	cfg.DatabasePort = getEnv("DB_PORT", "3306")
	cfg.DatabaseUser = getEnv("DB_USER", "")
	cfg.DatabasePassword = getEnv("DB_PASSWORD", "")
	cfg.DatabaseName = getEnv("DB_NAME", "")
	if cfg.DatabaseUser == "" || cfg.DatabasePassword == "" || cfg.DatabaseName == "" {
		return nil, fmt.Errorf("missing required database env vars")
	}
	// Build DSN: user:pass@tcp(host:port)/dbname?parseTime=true
	cfg.DatabaseURL = fmt.Sprintf(
		"%s:%s@tcp(%s:%s)/%s?parseTime=true",
		cfg.DatabaseUser, cfg.DatabasePassword,
		cfg.DatabaseHost, cfg.DatabasePort,
		cfg.DatabaseName,
	)

	// Redis (optional; dedup falls back to in-memory when unset)
	cfg.RedisAddr = getEnv("REDIS_ADDR", "")
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", "")
	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}
	cfg.RedisDB = redisDB

	dedupTTL, err := time.ParseDuration(getEnv("DEDUP_TTL", "24h"))
	if err != nil {
		return nil, fmt.Errorf("invalid DEDUP_TTL: %w", err)
	}
	cfg.DedupTTL = dedupTTL

	// Logging
	cfg.LogLevel = getEnv("LOG_LEVEL", "info")
	cfg.LogDir = getEnv("LOG_DIR", "logs")

	// CORS
	origins := getEnv("CORS_ORIGINS", "")
	if origins != "" {
		cfg.CORSOrigins = strings.Split(origins, ",")
	}

	// Crawling
	cfg.OutputDir = getEnv("OUTPUT_DIR", "./output")
	cfg.CookieStorePath = getEnv("COOKIE_STORE_PATH", "./cookies.json")
	cfg.ProxyTestURL = getEnv("PROXY_TEST_URL", "https://httpbin.org/ip")

	checkInterval, err := time.ParseDuration(getEnv("SCHEDULER_CHECK_INTERVAL", "1s"))
	if err != nil {
		return nil, fmt.Errorf("invalid SCHEDULER_CHECK_INTERVAL: %w", err)
	}
	cfg.CheckInterval = checkInterval

	mc, err := strconv.Atoi(getEnv("MAX_CONCURRENT_CRAWLS", "5"))
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_CONCURRENT_CRAWLS: %w", err)
	}
	cfg.MaxConcurrent = mc

	// Ceiling on a single task run; 0 leaves runs unbounded.
	ts, err := strconv.Atoi(getEnv("CRAWL_TIMEOUT_SECONDS", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid CRAWL_TIMEOUT_SECONDS: %w", err)
	}
	cfg.CrawlTimeout = time.Duration(ts) * time.Second

	// User agent
	cfg.UserAgent = getEnv("USER_AGENT", "SmartSpider-Bot/1.0")

	return cfg, nil
}

// getEnv returns env var or default.
func getEnv(key, def string) string {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	return val
}
