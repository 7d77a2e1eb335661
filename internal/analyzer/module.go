package analyzer

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/sykell/site-audit/internal/crawler"
)

// Module names double as the keys of the per-module score map in reports.
const (
	ModuleSEO           = "seo"
	ModulePerformance   = "performance"
	ModuleSecurity      = "security"
	ModuleAccessibility = "accessibility"
	ModuleMobile        = "mobile"
	ModuleTechnology    = "technology"
)

// Issue is one finding reported by a module.
type Issue struct {
	Severity string `json:"severity"`
	Message  string `json:"message"`
	Location string `json:"location,omitempty"`
}

// Outcome is the bounded result of one module over one page corpus.
type Outcome struct {
	ModuleName  string   `json:"moduleName"`
	Score       int      `json:"score"`
	Issues      []Issue  `json:"issues"`
	Suggestions []string `json:"suggestions"`
}

// Module analyzes a crawled page corpus. Implementations recover from
// per-page problems themselves; an error return means the module as a whole
// could not run.
type Module interface {
	Name() string
	Analyze(ctx context.Context, pages []crawler.PageRecord, home *crawler.PageRecord) (*Outcome, error)
}

// DefaultModules returns all six analyzer modules with default settings.
func DefaultModules() []Module {
	return []Module{
		NewSEOModule(),
		NewPerformanceModule(),
		NewSecurityModule(nil),
		NewAccessibilityModule(),
		NewMobileModule(),
		NewTechnologyModule(),
	}
}

// HomePage picks the record for the run's start URL, falling back to the
// first record when the start URL produced none.
func HomePage(pages []crawler.PageRecord, startURL string) *crawler.PageRecord {
	if len(pages) == 0 {
		return nil
	}
	for i := range pages {
		if pages[i].URL == startURL {
			return &pages[i]
		}
	}
	return &pages[0]
}

// newOutcome seeds a perfect-score outcome for a module.
func newOutcome(name string) *Outcome {
	return &Outcome{
		ModuleName:  name,
		Score:       100,
		Issues:      []Issue{},
		Suggestions: []string{},
	}
}

func (o *Outcome) addIssue(severity, message, location string) {
	o.Issues = append(o.Issues, Issue{Severity: severity, Message: message, Location: location})
}

func (o *Outcome) suggest(s string) {
	for _, existing := range o.Suggestions {
		if existing == s {
			return
		}
	}
	o.Suggestions = append(o.Suggestions, s)
}

func (o *Outcome) deduct(points int) {
	o.Score -= points
	if o.Score < 0 {
		o.Score = 0
	}
}

// analyzable reports whether a record carries parseable HTML content.
func analyzable(p *crawler.PageRecord) bool {
	return !p.Failed() && p.HTML != "" && strings.Contains(p.ContentType, "html")
}

// parsePage parses a record's HTML. Returns nil for records a DOM module
// cannot inspect; callers skip those pages.
func parsePage(p *crawler.PageRecord) *goquery.Document {
	if !analyzable(p) {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(p.HTML))
	if err != nil {
		return nil
	}
	return doc
}
