package analyzer

import (
	"context"
	"fmt"

	"github.com/sykell/site-audit/internal/crawler"
)

// seoModule inspects titles, meta descriptions and heading structure.
type seoModule struct{}

// NewSEOModule creates the content/SEO analyzer.
func NewSEOModule() Module {
	return &seoModule{}
}

func (m *seoModule) Name() string { return ModuleSEO }

func (m *seoModule) Analyze(ctx context.Context, pages []crawler.PageRecord, home *crawler.PageRecord) (*Outcome, error) {
	out := newOutcome(ModuleSEO)

	var missingTitle, badTitleLength, missingDescription, badHeadings int
	for i := range pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page := &pages[i]
		doc := parsePage(page)
		if doc == nil {
			continue
		}

		title := page.Title
		switch {
		case title == "":
			missingTitle++
			out.addIssue("high", "Page has no <title>", page.URL)
		case len(title) < 10 || len(title) > 70:
			badTitleLength++
			out.addIssue("medium", fmt.Sprintf("Title length %d is outside the 10-70 character range", len(title)), page.URL)
		}

		if desc, _ := doc.Find(`meta[name="description"]`).Attr("content"); desc == "" {
			missingDescription++
			out.addIssue("medium", "Page has no meta description", page.URL)
		}

		if h1 := doc.Find("h1").Length(); h1 != 1 {
			badHeadings++
			out.addIssue("low", fmt.Sprintf("Page has %d <h1> headings, expected exactly 1", h1), page.URL)
		}
	}

	out.deduct(missingTitle * 15)
	out.deduct(badTitleLength * 5)
	out.deduct(missingDescription * 10)
	out.deduct(badHeadings * 5)

	if missingTitle > 0 || badTitleLength > 0 {
		out.suggest("Give every page a unique, descriptive title of 10-70 characters to improve SEO")
	}
	if missingDescription > 0 {
		out.suggest("Write meta descriptions for pages missing them to improve SEO snippets")
	}
	if badHeadings > 0 {
		out.suggest("Use exactly one <h1> per page so search engines see a clear topic (SEO)")
	}

	return out, nil
}
