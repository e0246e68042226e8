package search

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/foibot/internal/detect"
	"github.com/hyperifyio/foibot/internal/extract"
	"github.com/hyperifyio/foibot/internal/fetch"
)

const (
	// DefaultBaseURL is the public records site searched by default.
	DefaultBaseURL = "https://www.whatdotheyknow.com"
	// DefaultQueryTemplate is resolved against the base URL; {query} is
	// replaced with the encoded keywords.
	DefaultQueryTemplate = "/search?query={query}"
	// DefaultMaxResults mirrors the site's page size.
	DefaultMaxResults = 25
	// DefaultTimeout bounds one whole search including retries.
	DefaultTimeout = 60 * time.Second

	queryPlaceholder = "{query}"
)

var (
	// ErrInvalidQuery is returned for empty or whitespace-only keywords.
	// No request is made.
	ErrInvalidQuery = errors.New("invalid query")
	// ErrFetchFailed wraps the fetcher's *fetch.Error after retries ran out.
	ErrFetchFailed = errors.New("fetch failed")
	// ErrTimeout is returned when the per-search deadline expires.
	ErrTimeout = errors.New("search timed out")
)

// Fetcher retrieves one page. *fetch.Client satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*fetch.Response, error)
}

// Result is one search hit with its attachment, if any.
type Result struct {
	Title string `json:"title"`
	// PageURL is always absolute.
	PageURL    string             `json:"page_url"`
	Snippet    string             `json:"snippet,omitempty"`
	Attachment *detect.Attachment `json:"attachment,omitempty"`
}

// Outcome is a successful search. An empty Results means no matches.
type Outcome struct {
	Query string `json:"query"`
	// URL is the search page that was fetched.
	URL     string   `json:"url"`
	Results []Result `json:"results"`
	// Degraded is advisory: the markup needed fallback selectors or had
	// fragments that could not be read, so Results may be partial.
	Degraded bool `json:"degraded"`
	// Truncated reports that the page held more results than MaxResults.
	Truncated bool `json:"truncated"`
}

// NoMatches reports a legitimate empty result set.
func (o Outcome) NoMatches() bool { return len(o.Results) == 0 }

// Config is the static configuration of a Searcher.
type Config struct {
	BaseURL       string
	QueryTemplate string
	MaxResults    int
	// Timeout bounds one search; zero disables the deadline.
	Timeout time.Duration
}

// DefaultConfig returns the WhatDoTheyKnow configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL:       DefaultBaseURL,
		QueryTemplate: DefaultQueryTemplate,
		MaxResults:    DefaultMaxResults,
		Timeout:       DefaultTimeout,
	}
}

// Searcher runs keyword searches against the site: one fetch, then
// extraction and attachment detection per result. It holds no mutable state
// and is safe for concurrent use.
type Searcher struct {
	cfg       Config
	base      *url.URL
	fetcher   Fetcher
	extractor *extract.Extractor
	detector  *detect.Detector
}

// New validates cfg and assembles a Searcher.
func New(cfg Config, fetcher Fetcher, extractor *extract.Extractor, detector *detect.Detector) (*Searcher, error) {
	if fetcher == nil || extractor == nil || detector == nil {
		return nil, errors.New("search: fetcher, extractor and detector are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.QueryTemplate == "" {
		cfg.QueryTemplate = DefaultQueryTemplate
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = DefaultMaxResults
	}
	if !strings.Contains(cfg.QueryTemplate, queryPlaceholder) {
		return nil, fmt.Errorf("search: query template %q lacks %s", cfg.QueryTemplate, queryPlaceholder)
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || !base.IsAbs() {
		return nil, fmt.Errorf("search: base url must be absolute: %q", cfg.BaseURL)
	}
	return &Searcher{cfg: cfg, base: base, fetcher: fetcher, extractor: extractor, detector: detector}, nil
}

// Config returns the effective configuration.
func (s *Searcher) Config() Config { return s.cfg }

// BuildURL substitutes the encoded keywords into the query template and
// resolves it against the base URL. Keywords in the query string are
// query-escaped, keywords in the path are path-escaped.
func (s *Searcher) BuildURL(keywords string) (string, error) {
	keywords = strings.TrimSpace(keywords)
	if keywords == "" {
		return "", fmt.Errorf("%w: keywords are empty", ErrInvalidQuery)
	}
	tmpl := s.cfg.QueryTemplate
	encoded := url.PathEscape(keywords)
	if q := strings.Index(tmpl, "?"); q >= 0 && q < strings.Index(tmpl, queryPlaceholder) {
		encoded = url.QueryEscape(keywords)
	}
	ref, err := url.Parse(strings.Replace(tmpl, queryPlaceholder, encoded, 1))
	if err != nil {
		return "", fmt.Errorf("search: build url: %w", err)
	}
	return s.base.ResolveReference(ref).String(), nil
}

// Search validates keywords, fetches the results page and returns results in
// page order, capped at MaxResults. Failures are ErrInvalidQuery,
// ErrFetchFailed or ErrTimeout, checked with errors.Is.
func (s *Searcher) Search(ctx context.Context, keywords string) (Outcome, error) {
	searchURL, err := s.BuildURL(keywords)
	if err != nil {
		return Outcome{}, err
	}
	query := strings.TrimSpace(keywords)

	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := s.fetcher.Fetch(ctx, searchURL)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Outcome{}, fmt.Errorf("%w after %s: %w", ErrTimeout, time.Since(start).Round(time.Millisecond), err)
		}
		return Outcome{}, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}

	page := s.extractor.Extract(resp.Body)
	blocks := page.Blocks
	out := Outcome{Query: query, URL: searchURL, Degraded: page.Degraded}
	if len(blocks) > s.cfg.MaxResults {
		blocks = blocks[:s.cfg.MaxResults]
		out.Truncated = true
	}
	out.Results = make([]Result, 0, len(blocks))
	for _, b := range blocks {
		att := s.detector.Detect(b)
		if att != nil {
			log.Debug().Str("page", b.LinkURL).Str("attachment", att.URL).Stringer("confidence", att.Confidence).Msg("attachment detected")
		}
		out.Results = append(out.Results, Result{
			Title:      b.Title,
			PageURL:    b.LinkURL,
			Snippet:    b.Snippet,
			Attachment: att,
		})
	}

	ev := log.Info()
	if out.Degraded {
		ev = log.Warn().Int("skipped", page.Skipped).Str("table", page.Table)
	}
	ev.Str("query", query).Int("results", len(out.Results)).Bool("degraded", out.Degraded).
		Int("attempts", resp.Attempts).Dur("took", time.Since(start)).Str("page_title", page.Title).
		Msg("search completed")
	return out, nil
}
