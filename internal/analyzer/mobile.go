package analyzer

import (
	"context"
	"strings"

	"github.com/sykell/site-audit/internal/crawler"
)

// mobileModule checks viewport configuration and responsive hints.
type mobileModule struct{}

// NewMobileModule creates the mobile-friendliness analyzer.
func NewMobileModule() Module {
	return &mobileModule{}
}

func (m *mobileModule) Name() string { return ModuleMobile }

func (m *mobileModule) Analyze(ctx context.Context, pages []crawler.PageRecord, home *crawler.PageRecord) (*Outcome, error) {
	out := newOutcome(ModuleMobile)

	var missingViewport, fixedViewport int
	for i := range pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page := &pages[i]
		doc := parsePage(page)
		if doc == nil {
			continue
		}

		content, exists := doc.Find(`meta[name="viewport"]`).Attr("content")
		switch {
		case !exists:
			missingViewport++
			out.addIssue("high", "Page has no viewport meta tag", page.URL)
		case !strings.Contains(strings.ToLower(content), "width=device-width"):
			fixedViewport++
			out.addIssue("medium", "Viewport is not set to device width", page.URL)
		}
	}

	out.deduct(missingViewport * 15)
	out.deduct(fixedViewport * 8)

	if missingViewport > 0 {
		out.suggest("Add a responsive viewport meta tag so pages render well on mobile")
	}
	if fixedViewport > 0 {
		out.suggest("Set the viewport to width=device-width for mobile layouts")
	}

	return out, nil
}
