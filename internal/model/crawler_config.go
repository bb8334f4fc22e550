package model

import (
	"encoding/json"

	"github.com/fuzumoe/smartspider-api/internal/errs"
)

// CrawlerConfig holds the fetch-side knobs of a task.
type CrawlerConfig struct {
	MaxConcurrentRequests int        `json:"max_concurrent_requests"`
	RequestDelay          float64    `json:"request_delay"` // seconds
	RandomizeDelay        bool       `json:"randomize_delay"`
	DelayRange            [2]float64 `json:"delay_range"` // seconds, inclusive bounds

	Timeout    int     `json:"timeout"` // seconds
	RetryTimes int     `json:"retry_times"`
	RetryDelay float64 `json:"retry_delay"` // seconds

	UserAgent       string `json:"user_agent"`
	RotateUserAgent bool   `json:"rotate_user_agent"`

	UseProxy      bool     `json:"use_proxy"`
	ProxyList     []string `json:"proxy_list"`
	ProxyRotation bool     `json:"proxy_rotation"`

	UseCookies   bool   `json:"use_cookies"`
	CookieDomain string `json:"cookie_domain"`

	FollowRedirects bool `json:"follow_redirects"`
	MaxRedirects    int  `json:"max_redirects"`
	VerifySSL       bool `json:"verify_ssl"`

	ConcurrentLimit int `json:"concurrent_limit"`
}

// DefaultCrawlerConfig returns the settings a task gets when its crawler
// block is absent. An empty UserAgent means "use the server-wide one".
func DefaultCrawlerConfig() CrawlerConfig {
	return CrawlerConfig{
		MaxConcurrentRequests: 10,
		RequestDelay:          1.0,
		RandomizeDelay:        true,
		DelayRange:            [2]float64{1, 3},
		Timeout:               30,
		RetryTimes:            3,
		RetryDelay:            1.0,
		RotateUserAgent:       true,
		ProxyRotation:         true,
		FollowRedirects:       true,
		MaxRedirects:          10,
		VerifySSL:             true,
		ConcurrentLimit:       5,
	}
}

// UnmarshalJSON decodes on top of the defaults, so a field the client
// leaves out keeps its default while an explicit zero or false survives.
func (c *CrawlerConfig) UnmarshalJSON(data []byte) error {
	type plain CrawlerConfig
	cfg := plain(DefaultCrawlerConfig())
	if err := json.Unmarshal(data, &cfg); err != nil {
		return err
	}
	*c = CrawlerConfig(cfg)
	return nil
}

// Normalize fills the fields whose zero value is unusable. Fields where
// zero is meaningful (request_delay, retry_times, retry_delay, delay_range)
// are left alone; their defaults come from the JSON decoding layer.
func (c *CrawlerConfig) Normalize() {
	def := DefaultCrawlerConfig()
	if c.MaxConcurrentRequests == 0 {
		c.MaxConcurrentRequests = def.MaxConcurrentRequests
	}
	if c.Timeout == 0 {
		c.Timeout = def.Timeout
	}
	if c.MaxRedirects == 0 {
		c.MaxRedirects = def.MaxRedirects
	}
	if c.ConcurrentLimit == 0 {
		c.ConcurrentLimit = def.ConcurrentLimit
	}
}

// Validate rejects out-of-range settings.
func (c *CrawlerConfig) Validate() error {
	if c.MaxConcurrentRequests < 1 || c.MaxConcurrentRequests > 100 {
		return errs.Validation("max_concurrent_requests must be between 1 and 100")
	}
	if c.Timeout < 1 || c.Timeout > 300 {
		return errs.Validation("timeout must be between 1 and 300 seconds")
	}
	if c.DelayRange[0] > c.DelayRange[1] {
		return errs.Validation("delay_range lower bound exceeds upper bound")
	}
	return nil
}

// Selector types supported by the parser.
const (
	SelectorCSS   = "css"
	SelectorXPath = "xpath"
)

// ParseConfig holds the extraction rules of a task.
type ParseConfig struct {
	Rules           map[string]string `json:"parse_rules"`
	SelectorType    string            `json:"selector_type"`
	CleanWhitespace bool              `json:"clean_whitespace"`
	CleanHTML       bool              `json:"clean_html"`
}

// DefaultParseConfig returns the settings a task gets when its parse
// block is absent.
func DefaultParseConfig() ParseConfig {
	return ParseConfig{
		SelectorType:    SelectorCSS,
		CleanWhitespace: true,
		CleanHTML:       true,
	}
}

// UnmarshalJSON decodes on top of the defaults, so omitted cleaning flags
// stay enabled while an explicit false survives.
func (p *ParseConfig) UnmarshalJSON(data []byte) error {
	type plain ParseConfig
	cfg := plain(DefaultParseConfig())
	if err := json.Unmarshal(data, &cfg); err != nil {
		return err
	}
	*p = ParseConfig(cfg)
	return nil
}

// Normalize fills zero-valued fields with defaults.
func (p *ParseConfig) Normalize() {
	if p.SelectorType == "" {
		p.SelectorType = SelectorCSS
	}
}

// StorageConfig holds the export-side settings of a task.
type StorageConfig struct {
	StorageType      string `json:"storage_type"` // json, csv
	OutputDir        string `json:"output_dir"`
	FilenameTemplate string `json:"filename_template"`
}

// Normalize fills zero-valued fields with defaults.
func (s *StorageConfig) Normalize() {
	if s.StorageType == "" {
		s.StorageType = "json"
	}
	if s.OutputDir == "" {
		s.OutputDir = "./output"
	}
	if s.FilenameTemplate == "" {
		s.FilenameTemplate = "{task_id}_{timestamp}"
	}
}

// TaskConfig is the full configuration handed to the engine on start.
type TaskConfig struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	URLs        []string      `json:"urls"`
	Crawler     CrawlerConfig `json:"crawler"`
	Parse       ParseConfig   `json:"parse"`
	Storage     StorageConfig `json:"storage"`
	Priority    int           `json:"priority"`
	MaxItems    int           `json:"max_items"`
}

// Normalize applies defaults to every sub-config.
func (t *TaskConfig) Normalize() {
	t.Crawler.Normalize()
	t.Parse.Normalize()
	t.Storage.Normalize()
}

// Validate checks the whole task configuration.
func (t *TaskConfig) Validate() error {
	if len(t.URLs) == 0 {
		return errs.Validation("no URLs provided")
	}
	return t.Crawler.Validate()
}
