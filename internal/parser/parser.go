// Package parser extracts structured records from fetched content using
// declarative selector rules, in CSS or XPath mode.
package parser

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"github.com/rs/zerolog"

	"github.com/fuzumoe/smartspider-api/internal/errs"
	"github.com/fuzumoe/smartspider-api/internal/model"
)

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	markupTag     = regexp.MustCompile(`<[^>]*>`)
	attrSelector  = regexp.MustCompile(`::attr\(([^)]+)\)$`)
)

// Parser evaluates one task's parse rules.
type Parser struct {
	cfg model.ParseConfig
	log zerolog.Logger
}

// New builds a parser for cfg.
func New(cfg model.ParseConfig, log zerolog.Logger) *Parser {
	cfg.Normalize()
	return &Parser{cfg: cfg, log: log}
}

// Parse extracts records from content. A field whose selector errors or
// matches nothing yields nil for that field; the record is still emitted with
// the other fields intact. An unsupported selector type is a configuration
// error.
func (p *Parser) Parse(content, sourceURL string) ([]model.FieldMap, error) {
	switch strings.ToLower(p.cfg.SelectorType) {
	case model.SelectorCSS:
		return p.parseCSS(content, sourceURL)
	case model.SelectorXPath:
		return p.parseXPath(content, sourceURL)
	default:
		return nil, errs.Config("unsupported selector type: " + p.cfg.SelectorType)
	}
}

func (p *Parser) parseCSS(content, sourceURL string) ([]model.FieldMap, error) {
	if len(p.cfg.Rules) == 0 {
		return []model.FieldMap{}, nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return nil, errs.Parse("building document", err)
	}

	record := model.FieldMap{"url": sourceURL}
	for field, selector := range p.cfg.Rules {
		value, err := p.extractCSS(doc, selector)
		if err != nil {
			p.log.Error().Err(err).Str("field", field).Msg("field extraction failed")
			record[field] = nil
			continue
		}
		record[field] = p.clean(value)
	}
	return []model.FieldMap{record}, nil
}

// extractCSS evaluates one CSS rule. Selector suffixes: "::text" pulls text
// content (the default), "::attr(name)" pulls an attribute value. Invalid
// selectors panic inside goquery; the recover turns that into a field error.
func (p *Parser) extractCSS(doc *goquery.Document, selector string) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("invalid selector %q: %v", selector, r)
		}
	}()

	var values []string
	switch {
	case strings.HasSuffix(selector, "::text"):
		doc.Find(strings.TrimSuffix(selector, "::text")).Each(func(_ int, s *goquery.Selection) {
			values = append(values, strings.TrimSpace(s.Text()))
		})
	case attrSelector.MatchString(selector):
		attr := attrSelector.FindStringSubmatch(selector)[1]
		base := attrSelector.ReplaceAllString(selector, "")
		doc.Find(base).Each(func(_ int, s *goquery.Selection) {
			if v, ok := s.Attr(attr); ok {
				values = append(values, v)
			}
		})
	default:
		doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
			values = append(values, strings.TrimSpace(s.Text()))
		})
	}
	return collapse(values), nil
}

func (p *Parser) parseXPath(content, sourceURL string) ([]model.FieldMap, error) {
	if len(p.cfg.Rules) == 0 {
		return []model.FieldMap{}, nil
	}

	doc, err := htmlquery.Parse(strings.NewReader(content))
	if err != nil {
		return nil, errs.Parse("building document", err)
	}

	record := model.FieldMap{"url": sourceURL}
	for field, expr := range p.cfg.Rules {
		nodes, err := htmlquery.QueryAll(doc, expr)
		if err != nil {
			p.log.Error().Err(err).Str("field", field).Msg("field extraction failed")
			record[field] = nil
			continue
		}
		var values []string
		for _, n := range nodes {
			values = append(values, strings.TrimSpace(htmlquery.InnerText(n)))
		}
		record[field] = p.clean(collapse(values))
	}
	return []model.FieldMap{record}, nil
}

// collapse maps zero matches to nil, one match to the value and several
// matches to a list.
func collapse(values []string) any {
	switch len(values) {
	case 0:
		return nil
	case 1:
		return values[0]
	default:
		return values
	}
}

// clean applies the opt-in whitespace and markup cleaning to a value.
func (p *Parser) clean(value any) any {
	switch v := value.(type) {
	case string:
		return p.cleanString(v)
	case []string:
		out := make([]string, len(v))
		for i, s := range v {
			out[i] = p.cleanString(s)
		}
		return out
	default:
		return value
	}
}

func (p *Parser) cleanString(s string) string {
	if p.cfg.CleanHTML {
		s = markupTag.ReplaceAllString(s, "")
	}
	if p.cfg.CleanWhitespace {
		s = strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))
	}
	return s
}

// ExtractLinks returns the absolute, deduplicated href targets of content.
func ExtractLinks(content, baseURL string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return nil
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}

	seen := make(map[string]struct{})
	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref).String()
		if _, ok := seen[abs]; ok {
			return
		}
		seen[abs] = struct{}{}
		links = append(links, abs)
	})
	return links
}
