package crawler

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"sync/atomic"
	"time"
)

// Options are the per-job crawl bounds, submitted with the job and stored
// alongside it.
type Options struct {
	MaxDepth    int      `json:"maxDepth"`
	MaxPages    int      `json:"maxPages"`
	SkipModules []string `json:"skipModules,omitempty"`
}

// DefaultOptions returns the crawl bounds used when the submitter sets none.
func DefaultOptions() Options {
	return Options{
		MaxDepth: 2,
		MaxPages: 20,
	}
}

// Normalize clamps out-of-range bounds to sane values.
func (o Options) Normalize() Options {
	def := DefaultOptions()
	if o.MaxDepth < 0 {
		o.MaxDepth = def.MaxDepth
	}
	if o.MaxPages < 1 {
		o.MaxPages = def.MaxPages
	}
	return o
}

// PageRecord is one crawled page, immutable once appended to the run's
// output. HTML is carried in memory for the analyzers and never persisted.
type PageRecord struct {
	URL         string   `json:"url"`
	Depth       int      `json:"depth"`
	ParentURL   string   `json:"parentUrl,omitempty"`
	StatusCode  int      `json:"statusCode"`
	LoadTimeMs  int64    `json:"loadTimeMs"`
	Title       string   `json:"title,omitempty"`
	ContentType string   `json:"contentType"`
	SizeBytes   int      `json:"sizeBytes"`
	Links       []string `json:"links"`
	Images      []string `json:"images"`
	Errors      []string `json:"errors"`
	HTML        string   `json:"-"`
}

// Failed reports whether this record describes a failed fetch.
func (p *PageRecord) Failed() bool {
	return len(p.Errors) > 0
}

// Config holds engine tuning independent of per-job options.
type Config struct {
	NavigationTimeout time.Duration
	RequestDelay      time.Duration
}

// DefaultConfig returns default engine configuration
func DefaultConfig() *Config {
	return &Config{
		NavigationTimeout: 30 * time.Second,
		RequestDelay:      1000 * time.Millisecond,
	}
}

// Engine drives one bounded traversal over a Fetcher. The visited-set,
// frontier and output list are owned by the single Crawl invocation; an
// Engine is used for exactly one run.
type Engine struct {
	fetcher Fetcher
	opts    Options
	config  *Config
	crawled atomic.Int32
}

// NewEngine creates a crawl engine for one run.
func NewEngine(fetcher Fetcher, opts Options, config *Config) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	return &Engine{
		fetcher: fetcher,
		opts:    opts.Normalize(),
		config:  config,
	}
}

// CrawledCount returns the number of records produced so far. Safe to call
// from another goroutine while Crawl runs (progress reporting).
func (e *Engine) CrawledCount() int {
	return int(e.crawled.Load())
}

// target is one frontier entry awaiting a fetch.
type target struct {
	url    string
	depth  int
	parent string
}

// Crawl traverses from startURL breadth-first until the frontier empties or
// the page budget is reached. On cancellation it returns the records
// gathered so far together with the context error.
func (e *Engine) Crawl(ctx context.Context, startURL string) ([]PageRecord, error) {
	start, err := url.Parse(startURL)
	if err != nil {
		return nil, fmt.Errorf("invalid start URL: %w", err)
	}
	if start.Hostname() == "" {
		return nil, fmt.Errorf("start URL has no host: %s", startURL)
	}
	host := start.Hostname()
	start.Fragment = ""

	seed := start.String()
	visited := map[string]bool{seed: true}
	frontier := []target{{url: seed, depth: 0}}
	records := make([]PageRecord, 0, e.opts.MaxPages)

	for len(frontier) > 0 && len(records) < e.opts.MaxPages {
		if err := ctx.Err(); err != nil {
			return records, err
		}

		t := frontier[0]
		frontier = frontier[1:]

		// Inter-request delay bounds load on the target server. Not needed
		// before the first fetch.
		if len(records) > 0 {
			if err := sleepCtx(ctx, e.config.RequestDelay); err != nil {
				return records, err
			}
		}

		rec := e.fetchPage(ctx, t, host)
		if err := ctx.Err(); err != nil {
			return records, err
		}
		if rec == nil {
			continue
		}

		records = append(records, *rec)
		e.crawled.Add(1)

		// A failed fetch has no extracted links; nothing to descend into.
		if rec.Failed() || t.depth >= e.opts.MaxDepth {
			continue
		}

		for _, link := range rec.Links {
			if !visited[link] {
				visited[link] = true
				frontier = append(frontier, target{url: link, depth: t.depth + 1, parent: rec.URL})
			}
		}
	}

	return records, nil
}

// fetchPage fetches one frontier entry. It returns nil for pages that are
// dropped (HTTP >= 400), and an error record for navigation failures.
func (e *Engine) fetchPage(ctx context.Context, t target, host string) *PageRecord {
	fetchCtx, cancel := context.WithTimeout(ctx, e.config.NavigationTimeout)
	defer cancel()

	result, err := e.fetcher.Fetch(fetchCtx, t.url)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		log.Printf("[crawl] Failed to fetch %s: %v", t.url, err)
		return &PageRecord{
			URL:         t.url,
			Depth:       t.depth,
			ParentURL:   t.parent,
			StatusCode:  0,
			ContentType: "error",
			Links:       []string{},
			Images:      []string{},
			Errors:      []string{err.Error()},
		}
	}

	if result.StatusCode >= 400 {
		log.Printf("[crawl] Dropping %s: HTTP %d", t.url, result.StatusCode)
		return nil
	}

	return &PageRecord{
		URL:         t.url,
		Depth:       t.depth,
		ParentURL:   t.parent,
		StatusCode:  result.StatusCode,
		LoadTimeMs:  result.LoadTimeMs,
		Title:       result.Title,
		ContentType: result.ContentType,
		SizeBytes:   result.SizeBytes,
		Links:       filterSameHost(result.Links, host),
		Images:      filterSameHost(result.Images, host),
		Errors:      []string{},
		HTML:        result.HTML,
	}
}

// filterSameHost keeps only URLs whose hostname equals the start URL's
// hostname. Cross-host URLs never enter a PageRecord or the frontier.
func filterSameHost(urls []string, host string) []string {
	kept := make([]string, 0, len(urls))
	for _, raw := range urls {
		u, err := url.Parse(raw)
		if err != nil {
			continue
		}
		if u.Hostname() == host {
			kept = append(kept, raw)
		}
	}
	return kept
}

// sleepCtx waits for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
