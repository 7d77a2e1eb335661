package analyzer

import (
	"context"
	"strings"

	"github.com/sykell/site-audit/internal/crawler"
)

// technologyModule fingerprints the site's stack from markup. It is
// informational: the detections ride along in the report but the score never
// enters the weighted aggregate.
type technologyModule struct{}

// NewTechnologyModule creates the technology-detection analyzer.
func NewTechnologyModule() Module {
	return &technologyModule{}
}

func (m *technologyModule) Name() string { return ModuleTechnology }

// fingerprints maps a technology name to markup substrings that betray it.
var fingerprints = []struct {
	name    string
	markers []string
}{
	{"WordPress", []string{"wp-content/", "wp-includes/"}},
	{"jQuery", []string{"jquery.min.js", "jquery.js", "code.jquery.com"}},
	{"React", []string{"react.production.min.js", "data-reactroot", "__NEXT_DATA__"}},
	{"Vue.js", []string{"vue.min.js", "data-v-app", "__vue__"}},
	{"Bootstrap", []string{"bootstrap.min.css", "bootstrap.bundle"}},
	{"Google Analytics", []string{"googletagmanager.com", "google-analytics.com"}},
	{"Cloudflare", []string{"cdn.cloudflare", "cdnjs.cloudflare.com"}},
}

func (m *technologyModule) Analyze(ctx context.Context, pages []crawler.PageRecord, home *crawler.PageRecord) (*Outcome, error) {
	out := newOutcome(ModuleTechnology)
	if home == nil || !analyzable(home) {
		return out, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	html := strings.ToLower(home.HTML)

	if doc := parsePage(home); doc != nil {
		if gen, _ := doc.Find(`meta[name="generator"]`).Attr("content"); gen != "" {
			out.addIssue("info", "Generator: "+gen, home.URL)
		}
	}

	for _, fp := range fingerprints {
		for _, marker := range fp.markers {
			if strings.Contains(html, strings.ToLower(marker)) {
				out.addIssue("info", "Detected "+fp.name, home.URL)
				break
			}
		}
	}

	return out, nil
}
