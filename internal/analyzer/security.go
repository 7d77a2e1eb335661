package analyzer

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sykell/site-audit/internal/crawler"
)

// securityModule checks transport security and response headers. It probes
// the home page's headers itself; the probe is a supplementary fetch outside
// the crawl budget.
type securityModule struct {
	client *http.Client
}

// NewSecurityModule creates the security analyzer. A nil client gets a
// default one with a short timeout.
func NewSecurityModule(client *http.Client) Module {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &securityModule{client: client}
}

func (m *securityModule) Name() string { return ModuleSecurity }

func (m *securityModule) Analyze(ctx context.Context, pages []crawler.PageRecord, home *crawler.PageRecord) (*Outcome, error) {
	out := newOutcome(ModuleSecurity)
	if home == nil {
		return out, nil
	}

	homeURL, err := url.Parse(home.URL)
	if err != nil {
		return out, nil
	}

	https := homeURL.Scheme == "https"
	if !https {
		out.deduct(40)
		out.addIssue("high", "Site is served over plain HTTP", home.URL)
		out.suggest("Serve the site over HTTPS with a valid certificate (security)")
	}

	m.checkHeaders(ctx, out, home.URL)

	if https {
		m.checkMixedContent(ctx, out, pages)
	}

	return out, nil
}

// checkHeaders probes the home page response headers. A failed probe is a
// recoverable finding, not a module failure.
func (m *securityModule) checkHeaders(ctx context.Context, out *Outcome, homeURL string) {
	req, err := http.NewRequestWithContext(ctx, "HEAD", homeURL, nil)
	if err != nil {
		return
	}
	req.Header.Set("User-Agent", "Site-Audit/1.0")

	resp, err := m.client.Do(req)
	if err != nil {
		out.addIssue("low", "Could not inspect response headers: "+err.Error(), homeURL)
		return
	}
	defer resp.Body.Close()

	headerChecks := []struct {
		header     string
		severity   string
		points     int
		suggestion string
	}{
		{"Strict-Transport-Security", "medium", 10, "Enable HSTS so browsers always use HTTPS (security)"},
		{"X-Content-Type-Options", "low", 5, "Send X-Content-Type-Options: nosniff to harden security"},
		{"Content-Security-Policy", "medium", 10, "Add a Content-Security-Policy header to harden security"},
		{"X-Frame-Options", "low", 5, "Send X-Frame-Options to protect against clickjacking (security)"},
	}

	for _, check := range headerChecks {
		if resp.Header.Get(check.header) == "" {
			out.deduct(check.points)
			out.addIssue(check.severity, "Missing "+check.header+" header", homeURL)
			out.suggest(check.suggestion)
		}
	}
}

// checkMixedContent flags plain-HTTP subresources on an HTTPS site.
func (m *securityModule) checkMixedContent(ctx context.Context, out *Outcome, pages []crawler.PageRecord) {
	var mixed int
	for i := range pages {
		if ctx.Err() != nil {
			return
		}
		page := &pages[i]
		for _, img := range page.Images {
			if strings.HasPrefix(img, "http://") {
				mixed++
				out.addIssue("medium", "Image loaded over plain HTTP on an HTTPS site: "+img, page.URL)
			}
		}
	}
	if mixed > 0 {
		out.deduct(mixed * 5)
		out.suggest("Load all subresources over HTTPS to avoid mixed content (security)")
	}
}
