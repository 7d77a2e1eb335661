package analyzer

import (
	"context"
	"fmt"
	"log"

	"golang.org/x/sync/errgroup"

	"github.com/sykell/site-audit/internal/crawler"
)

// Orchestrator fans a page corpus out to all modules concurrently and folds
// their outcomes into one aggregate.
type Orchestrator struct {
	modules []Module
}

// NewOrchestrator creates an orchestrator over the given modules; with none
// given it uses the default six.
func NewOrchestrator(modules ...Module) *Orchestrator {
	if len(modules) == 0 {
		modules = DefaultModules()
	}
	return &Orchestrator{modules: modules}
}

// Run executes every non-skipped module against the corpus, waits for all of
// them, and aggregates the successful outcomes. A module failure is recorded
// in the result rather than aborting the run; Run errors only when the
// context is cancelled, the corpus is empty, or no module succeeded.
func (o *Orchestrator) Run(ctx context.Context, pages []crawler.PageRecord, startURL string, skip []string) (*AggregateResult, error) {
	if len(pages) == 0 {
		return nil, fmt.Errorf("no pages to analyze")
	}

	skipped := make(map[string]bool, len(skip))
	for _, name := range skip {
		skipped[name] = true
	}

	modules := make([]Module, 0, len(o.modules))
	for _, m := range o.modules {
		if skipped[m.Name()] {
			log.Printf("[analyze] Skipping module %s", m.Name())
			continue
		}
		modules = append(modules, m)
	}
	if len(modules) == 0 {
		return nil, fmt.Errorf("all analyzer modules skipped")
	}

	home := HomePage(pages, startURL)

	// Join-all task group: every module runs to completion and reports into
	// its own slot; failures are collected, not propagated.
	outcomes := make([]*Outcome, len(modules))
	failures := make([]error, len(modules))

	var g errgroup.Group
	for i, m := range modules {
		i, m := i, m
		g.Go(func() error {
			out, err := m.Analyze(ctx, pages, home)
			if err != nil {
				failures[i] = err
				return nil
			}
			outcomes[i] = out
			return nil
		})
	}
	g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	succeeded := make([]*Outcome, 0, len(modules))
	failed := make(map[string]string)
	for i, m := range modules {
		if failures[i] != nil {
			log.Printf("[analyze] Module %s failed: %v", m.Name(), failures[i])
			failed[m.Name()] = failures[i].Error()
			continue
		}
		succeeded = append(succeeded, outcomes[i])
	}

	if len(succeeded) == 0 {
		return nil, fmt.Errorf("all analyzer modules failed: %v", failures[0])
	}

	return aggregate(succeeded, failed), nil
}
