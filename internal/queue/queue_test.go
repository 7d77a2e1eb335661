package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sykell/site-audit/internal/analyzer"
	"github.com/sykell/site-audit/internal/crawler"
	"github.com/sykell/site-audit/internal/db"
)

// fakeRepo records every worker call in memory.
type fakeRepo struct {
	mu          sync.Mutex
	job         *db.AnalysisJob
	statuses    []db.JobStatus
	progress    []int
	pages       []crawler.PageRecord
	aggregate   *analyzer.AggregateResult
	completedAt *time.Time
	aggErr      error
}

func newFakeRepo(status db.JobStatus, options string) *fakeRepo {
	return &fakeRepo{
		job: &db.AnalysisJob{
			ID:      "job-1",
			URL:     "http://site.test/",
			Status:  status,
			Options: options,
		},
	}
}

func (r *fakeRepo) GetJob(id string) (*db.AnalysisJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id != r.job.ID {
		return nil, fmt.Errorf("job not found: %s", id)
	}
	copied := *r.job
	return &copied, nil
}

func (r *fakeRepo) UpdateJobProgress(id string, crawled, total int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, crawled)
	return nil
}

func (r *fakeRepo) UpdateJobStatus(id string, status db.JobStatus, errorMsg string, completedAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, status)
	r.job.Status = status
	r.completedAt = completedAt
	return nil
}

func (r *fakeRepo) SavePageRecords(id string, pages []crawler.PageRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pages = pages
	return nil
}

func (r *fakeRepo) SaveAggregate(id string, aggregate *analyzer.AggregateResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.aggErr != nil {
		return r.aggErr
	}
	r.aggregate = aggregate
	return nil
}

func (r *fakeRepo) progressSnapshot() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.progress...)
}

func (r *fakeRepo) lastStatus() db.JobStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.statuses) == 0 {
		return ""
	}
	return r.statuses[len(r.statuses)-1]
}

// stubFetcher serves canned results keyed by URL.
type stubFetcher struct {
	mu     sync.Mutex
	pages  map[string]*crawler.FetchResult
	closed int
}

func (f *stubFetcher) Fetch(ctx context.Context, pageURL string) (*crawler.FetchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if result, ok := f.pages[pageURL]; ok {
		return result, nil
	}
	return nil, fmt.Errorf("no route to %s", pageURL)
}

func (f *stubFetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *stubFetcher) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// blockingFetcher signals when a fetch starts and then waits for its context.
type blockingFetcher struct {
	started chan struct{}
	once    sync.Once
}

func (f *blockingFetcher) Fetch(ctx context.Context, pageURL string) (*crawler.FetchResult, error) {
	f.once.Do(func() { close(f.started) })
	<-ctx.Done()
	return nil, ctx.Err()
}

func (f *blockingFetcher) Close() error { return nil }

// passModule always succeeds, keeping queue tests off the real analyzers.
type passModule struct{}

func (passModule) Name() string { return analyzer.ModuleSEO }

func (passModule) Analyze(ctx context.Context, pages []crawler.PageRecord, home *crawler.PageRecord) (*analyzer.Outcome, error) {
	return &analyzer.Outcome{
		ModuleName:  analyzer.ModuleSEO,
		Score:       90,
		Issues:      []analyzer.Issue{},
		Suggestions: []string{},
	}, nil
}

func testQueueConfig() *Config {
	return &Config{
		QueueSize:        10,
		MaxAttempts:      3,
		InitialBackoff:   time.Millisecond,
		ProgressInterval: 2 * time.Millisecond,
		Crawl: &crawler.Config{
			NavigationTimeout: time.Second,
			RequestDelay:      0,
		},
	}
}

func okResult(links ...string) *crawler.FetchResult {
	return &crawler.FetchResult{
		StatusCode:  200,
		Title:       "Stub page",
		ContentType: "text/html",
		SizeBytes:   512,
		LoadTimeMs:  5,
		HTML:        "<html><head><title>Stub page</title></head><body></body></html>",
		Links:       links,
		Images:      []string{},
	}
}

func TestBackoffDelayDoubles(t *testing.T) {
	t.Parallel()

	initial := 2000 * time.Millisecond
	assert.Equal(t, 2000*time.Millisecond, backoffDelay(initial, 1))
	assert.Equal(t, 4000*time.Millisecond, backoffDelay(initial, 2))
	assert.Equal(t, 8000*time.Millisecond, backoffDelay(initial, 3))
}

func TestProcessCompletesJob(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo(db.StatusPending, `{"maxDepth":1,"maxPages":4}`)
	fetcher := &stubFetcher{pages: map[string]*crawler.FetchResult{
		"http://site.test/":  okResult("http://site.test/a", "http://site.test/b"),
		"http://site.test/a": okResult(),
		"http://site.test/b": okResult(),
	}}
	factory := func() (crawler.Fetcher, error) { return fetcher, nil }

	s := NewService(repo, factory, analyzer.NewOrchestrator(passModule{}), testQueueConfig())
	s.process("job-1")

	require.Equal(t, []db.JobStatus{db.StatusProcessing, db.StatusCompleted}, repo.statuses)
	require.NotNil(t, repo.completedAt)
	require.Len(t, repo.pages, 3)
	require.NotNil(t, repo.aggregate)
	assert.Equal(t, 90, repo.aggregate.OverallScore)
	assert.Equal(t, 1, fetcher.closeCount())

	// Progress only ever moves forward.
	last := 0
	for _, crawled := range repo.progressSnapshot() {
		assert.GreaterOrEqual(t, crawled, last)
		last = crawled
	}
	assert.Equal(t, 3, last)
}

func TestProcessRetriesThenFails(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo(db.StatusPending, "")

	var attempts int
	factory := func() (crawler.Fetcher, error) {
		attempts++
		return nil, fmt.Errorf("session pool exhausted")
	}

	s := NewService(repo, factory, analyzer.NewOrchestrator(passModule{}), testQueueConfig())
	s.process("job-1")

	assert.Equal(t, 3, attempts)
	require.Equal(t, []db.JobStatus{db.StatusProcessing, db.StatusFailed}, repo.statuses)
	require.NotNil(t, repo.completedAt)
}

func TestProcessClosesFetcherOnFailedAttempts(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo(db.StatusPending, "")
	repo.aggErr = fmt.Errorf("disk full")

	fetcher := &stubFetcher{pages: map[string]*crawler.FetchResult{
		"http://site.test/": okResult(),
	}}
	factory := func() (crawler.Fetcher, error) { return fetcher, nil }

	s := NewService(repo, factory, analyzer.NewOrchestrator(passModule{}), testQueueConfig())
	s.process("job-1")

	assert.Equal(t, db.StatusFailed, repo.lastStatus())
	assert.Equal(t, 3, fetcher.closeCount())
}

func TestProcessSkipsNonPendingJob(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo(db.StatusCompleted, "")

	var attempts int
	factory := func() (crawler.Fetcher, error) {
		attempts++
		return nil, fmt.Errorf("should not be called")
	}

	s := NewService(repo, factory, analyzer.NewOrchestrator(passModule{}), testQueueConfig())
	s.process("job-1")

	assert.Zero(t, attempts)
	assert.Empty(t, repo.statuses)
}

func TestCancelInFlightJob(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo(db.StatusPending, "")
	fetcher := &blockingFetcher{started: make(chan struct{})}
	factory := func() (crawler.Fetcher, error) { return fetcher, nil }

	config := testQueueConfig()
	config.Crawl.NavigationTimeout = 10 * time.Second

	s := NewService(repo, factory, analyzer.NewOrchestrator(passModule{}), config)
	require.NoError(t, s.Start())
	defer s.Stop()

	require.NoError(t, s.Enqueue("job-1"))

	select {
	case <-fetcher.started:
	case <-time.After(2 * time.Second):
		t.Fatal("worker never picked up the job")
	}

	require.True(t, s.Cancel("job-1"))

	require.Eventually(t, func() bool {
		return repo.lastStatus() == db.StatusCancelled
	}, 2*time.Second, 10*time.Millisecond)
	require.NotNil(t, repo.completedAt)
}

func TestCancelUnknownJob(t *testing.T) {
	t.Parallel()

	s := NewService(newFakeRepo(db.StatusPending, ""), nil, analyzer.NewOrchestrator(passModule{}), testQueueConfig())
	assert.False(t, s.Cancel("nope"))
}

func TestEnqueueRequiresRunningService(t *testing.T) {
	t.Parallel()

	// The job is already terminal so the worker drains it without touching
	// the (absent) fetcher factory.
	s := NewService(newFakeRepo(db.StatusCompleted, ""), nil, analyzer.NewOrchestrator(passModule{}), testQueueConfig())
	assert.Error(t, s.Enqueue("job-1"))

	require.NoError(t, s.Start())
	assert.NoError(t, s.Enqueue("job-1"))

	// Double start is rejected; stop is idempotent.
	assert.Error(t, s.Start())
	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
}

func TestParseOptionsFallsBackToDefaults(t *testing.T) {
	t.Parallel()

	def := crawler.DefaultOptions()
	assert.Equal(t, def, parseOptions(""))
	assert.Equal(t, def, parseOptions("{not json"))

	opts := parseOptions(`{"maxDepth":3,"maxPages":50,"skipModules":["mobile"]}`)
	assert.Equal(t, 3, opts.MaxDepth)
	assert.Equal(t, 50, opts.MaxPages)
	assert.Equal(t, []string{"mobile"}, opts.SkipModules)
}
