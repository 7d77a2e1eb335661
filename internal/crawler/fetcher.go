package crawler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const defaultUserAgent = "Site-Audit/1.0"

// FetchResult holds everything the crawl engine needs from one page load.
// Links and Images are absolute URLs, resolved against the page's own URL
// and deduplicated; no host filtering happens here.
type FetchResult struct {
	StatusCode  int
	Title       string
	ContentType string
	SizeBytes   int
	LoadTimeMs  int64
	HTML        string
	Links       []string
	Images      []string
}

// Fetcher is the page-fetching capability the crawl engine runs against.
// Implementations own whatever session resource they need; Close releases
// it and is called once per job attempt regardless of outcome.
type Fetcher interface {
	Fetch(ctx context.Context, pageURL string) (*FetchResult, error)
	Close() error
}

// FetcherFactory acquires a fresh fetcher session for one job attempt.
type FetcherFactory func() (Fetcher, error)

// HTTPFetcher fetches pages over plain HTTP and extracts links and images
// with goquery.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
}

// NewHTTPFetcher creates an HTTPFetcher with a pooled transport. The
// per-page navigation timeout is applied by the caller through the context.
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		userAgent: defaultUserAgent,
	}
}

// Fetch loads a page and extracts its title, links and images.
func (f *HTTPFetcher) Fetch(ctx context.Context, pageURL string) (*FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", f.userAgent)

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	loadTime := time.Since(start)

	result := &FetchResult{
		StatusCode:  resp.StatusCode,
		ContentType: contentTypeOf(resp),
		SizeBytes:   len(body),
		LoadTimeMs:  loadTime.Milliseconds(),
		HTML:        string(body),
	}

	// Non-HTML or error responses carry no extractable content.
	if resp.StatusCode >= 400 || !strings.Contains(result.ContentType, "html") {
		return result, nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(result.HTML))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse base URL: %w", err)
	}

	result.Title = strings.TrimSpace(doc.Find("title").First().Text())
	result.Links = extractRefs(doc, base, "a[href]", "href")
	result.Images = extractRefs(doc, base, "img[src]", "src")

	return result, nil
}

// Close releases idle connections held by the session.
func (f *HTTPFetcher) Close() error {
	f.client.CloseIdleConnections()
	return nil
}

// extractRefs collects attribute URLs in document order, resolved against
// the page URL and deduplicated. Fragments are dropped so that anchors to
// the same document collapse to one URL.
func extractRefs(doc *goquery.Document, base *url.URL, selector, attr string) []string {
	seen := make(map[string]bool)
	refs := make([]string, 0)

	doc.Find(selector).Each(func(i int, sel *goquery.Selection) {
		raw, exists := sel.Attr(attr)
		raw = strings.TrimSpace(raw)
		if !exists || raw == "" {
			return
		}
		if strings.HasPrefix(raw, "javascript:") || strings.HasPrefix(raw, "mailto:") || strings.HasPrefix(raw, "data:") {
			return
		}

		ref, err := url.Parse(raw)
		if err != nil {
			return
		}

		resolved := base.ResolveReference(ref)
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			return
		}
		resolved.Fragment = ""

		addr := resolved.String()
		if !seen[addr] {
			seen[addr] = true
			refs = append(refs, addr)
		}
	})

	return refs
}

func contentTypeOf(resp *http.Response) string {
	ct := resp.Header.Get("Content-Type")
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = ct[:i]
	}
	return strings.TrimSpace(ct)
}
