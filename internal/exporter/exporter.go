package exporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fuzumoe/smartspider-api/internal/errs"
	"github.com/fuzumoe/smartspider-api/internal/model"
)

// Supported export formats.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

const timestampLayout = "20060102_150405"

// Exporter writes crawl results to files under a configured output
// directory, naming them from a template with {task_id} and {timestamp}
// placeholders.
type Exporter struct {
	outputDir string
	template  string
	log       zerolog.Logger
	now       func() time.Time
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithLogger overrides the exporter's logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Exporter) { e.log = l }
}

// New creates an Exporter rooted at cfg.OutputDir.
func New(cfg model.StorageConfig, opts ...Option) *Exporter {
	cfg.Normalize()
	e := &Exporter{
		outputDir: cfg.OutputDir,
		template:  cfg.FilenameTemplate,
		log:       log.With().Str("component", "exporter").Logger(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Export writes the results in the given format and returns the path of
// the written file. An empty result set still produces a valid file.
func (e *Exporter) Export(taskID string, results []model.CrawlResult, format string) (string, error) {
	path := filepath.Join(e.outputDir, e.filename(taskID, format))
	if err := os.MkdirAll(e.outputDir, 0o755); err != nil {
		return "", errs.Storage("create output dir", err)
	}

	var err error
	switch strings.ToLower(format) {
	case FormatJSON:
		err = e.writeJSON(path, results)
	case FormatCSV:
		err = e.writeCSV(path, results)
	default:
		return "", errs.Validation(fmt.Sprintf("unsupported export format: %s", format))
	}
	if err != nil {
		return "", err
	}

	e.log.Info().Str("task_id", taskID).Str("format", format).Str("path", path).Int("items", len(results)).Msg("results exported")
	return path, nil
}

func (e *Exporter) filename(taskID, format string) string {
	name := strings.NewReplacer(
		"{task_id}", taskID,
		"{timestamp}", e.now().Format(timestampLayout),
	).Replace(e.template)
	return name + "." + strings.ToLower(format)
}

func (e *Exporter) writeJSON(path string, results []model.CrawlResult) error {
	rows := make([]model.CrawlResultDTO, 0, len(results))
	for _, r := range results {
		rows = append(rows, *r.ToDTO())
	}
	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return errs.Storage("encode results", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errs.Storage("write export file", err)
	}
	return nil
}

// writeCSV flattens the union of all field names into a stable, sorted
// header. Fixed columns come first so rows stay comparable across tasks.
func (e *Exporter) writeCSV(path string, results []model.CrawlResult) error {
	f, err := os.Create(path)
	if err != nil {
		return errs.Storage("create export file", err)
	}
	defer f.Close()

	fields := map[string]bool{}
	for _, r := range results {
		for k := range r.Fields {
			fields[k] = true
		}
	}
	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	sort.Strings(names)

	w := csv.NewWriter(f)
	header := append([]string{"url", "status_code", "crawled_at"}, names...)
	if err := w.Write(header); err != nil {
		return errs.Storage("write csv header", err)
	}
	for _, r := range results {
		row := []string{r.URL, fmt.Sprintf("%d", r.StatusCode), r.CrawledAt.Format(time.RFC3339)}
		for _, name := range names {
			row = append(row, cellString(r.Fields[name]))
		}
		if err := w.Write(row); err != nil {
			return errs.Storage("write csv row", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return errs.Storage("flush csv", err)
	}
	return nil
}

// cellString renders a parsed field value for a CSV cell. Lists and
// nested values fall back to their JSON encoding.
func cellString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(data)
	}
}
