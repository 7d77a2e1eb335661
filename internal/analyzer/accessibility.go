package analyzer

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/sykell/site-audit/internal/crawler"
)

// accessibilityModule checks alt text, document language and link text.
type accessibilityModule struct{}

// NewAccessibilityModule creates the accessibility analyzer.
func NewAccessibilityModule() Module {
	return &accessibilityModule{}
}

func (m *accessibilityModule) Name() string { return ModuleAccessibility }

func (m *accessibilityModule) Analyze(ctx context.Context, pages []crawler.PageRecord, home *crawler.PageRecord) (*Outcome, error) {
	out := newOutcome(ModuleAccessibility)

	var missingAlt, missingLang, emptyLinks, unlabeledInputs int
	for i := range pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page := &pages[i]
		doc := parsePage(page)
		if doc == nil {
			continue
		}

		if lang, _ := doc.Find("html").Attr("lang"); lang == "" {
			missingLang++
			out.addIssue("medium", "Document has no lang attribute", page.URL)
		}

		if n := countMissingAlt(doc); n > 0 {
			missingAlt += n
			out.addIssue("medium", fmt.Sprintf("%d images have no alt text", n), page.URL)
		}

		if n := countEmptyLinks(doc); n > 0 {
			emptyLinks += n
			out.addIssue("low", fmt.Sprintf("%d links have no accessible text", n), page.URL)
		}

		if n := countUnlabeledInputs(doc); n > 0 {
			unlabeledInputs += n
			out.addIssue("medium", fmt.Sprintf("%d form inputs have no label", n), page.URL)
		}
	}

	out.deduct(missingLang * 8)
	out.deduct(min(missingAlt, 10) * 3)
	out.deduct(min(emptyLinks, 10) * 2)
	out.deduct(min(unlabeledInputs, 10) * 3)

	if missingAlt > 0 {
		out.suggest("Add alt text to images to improve accessibility")
	}
	if missingLang > 0 {
		out.suggest("Declare the document language on <html> for accessibility")
	}
	if emptyLinks > 0 || unlabeledInputs > 0 {
		out.suggest("Give links visible text and inputs labels so assistive technology can describe them (accessibility)")
	}

	return out, nil
}

func countMissingAlt(doc *goquery.Document) int {
	var n int
	doc.Find("img").Each(func(_ int, sel *goquery.Selection) {
		if _, ok := sel.Attr("alt"); !ok {
			n++
		}
	})
	return n
}

func countEmptyLinks(doc *goquery.Document) int {
	var n int
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		if strings.TrimSpace(sel.Text()) != "" {
			return
		}
		if label, _ := sel.Attr("aria-label"); label != "" {
			return
		}
		if sel.Find("img[alt]").Length() > 0 {
			return
		}
		n++
	})
	return n
}

func countUnlabeledInputs(doc *goquery.Document) int {
	var n int
	doc.Find("input").Each(func(_ int, sel *goquery.Selection) {
		if t, _ := sel.Attr("type"); t == "hidden" || t == "submit" || t == "button" {
			return
		}
		if label, _ := sel.Attr("aria-label"); label != "" {
			return
		}
		if id, _ := sel.Attr("id"); id != "" && doc.Find(`label[for="`+id+`"]`).Length() > 0 {
			return
		}
		n++
	})
	return n
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
