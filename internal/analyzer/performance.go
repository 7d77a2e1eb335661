package analyzer

import (
	"context"
	"fmt"

	"github.com/sykell/site-audit/internal/crawler"
)

const (
	slowPageMs     = 3000
	sluggishPageMs = 1500
	heavyPageBytes = 2 * 1024 * 1024
	manyImages     = 30
)

// performanceModule scores load time and page weight across the corpus.
type performanceModule struct{}

// NewPerformanceModule creates the performance analyzer.
func NewPerformanceModule() Module {
	return &performanceModule{}
}

func (m *performanceModule) Name() string { return ModulePerformance }

func (m *performanceModule) Analyze(ctx context.Context, pages []crawler.PageRecord, home *crawler.PageRecord) (*Outcome, error) {
	out := newOutcome(ModulePerformance)

	var slow, sluggish, heavy, imageHeavy int
	for i := range pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page := &pages[i]
		if page.Failed() {
			continue
		}

		switch {
		case page.LoadTimeMs > slowPageMs:
			slow++
			out.addIssue("high", fmt.Sprintf("Page loaded in %dms, over the %dms budget", page.LoadTimeMs, slowPageMs), page.URL)
		case page.LoadTimeMs > sluggishPageMs:
			sluggish++
			out.addIssue("medium", fmt.Sprintf("Page loaded in %dms, over the %dms budget", page.LoadTimeMs, sluggishPageMs), page.URL)
		}

		if page.SizeBytes > heavyPageBytes {
			heavy++
			out.addIssue("medium", fmt.Sprintf("Page weighs %d bytes, over the %d byte budget", page.SizeBytes, heavyPageBytes), page.URL)
		}

		if len(page.Images) > manyImages {
			imageHeavy++
			out.addIssue("low", fmt.Sprintf("Page references %d images", len(page.Images)), page.URL)
		}
	}

	out.deduct(slow * 15)
	out.deduct(sluggish * 7)
	out.deduct(heavy * 10)
	out.deduct(imageHeavy * 4)

	if slow > 0 || sluggish > 0 {
		out.suggest("Reduce server response and render time to improve page load speed")
	}
	if heavy > 0 {
		out.suggest("Compress or trim heavy pages to improve performance")
	}
	if imageHeavy > 0 {
		out.suggest("Lazy-load or consolidate images to improve load speed")
	}

	return out, nil
}
