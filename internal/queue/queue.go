package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sykell/site-audit/internal/analyzer"
	"github.com/sykell/site-audit/internal/crawler"
	"github.com/sykell/site-audit/internal/db"
)

// Repository is the narrow persistence interface the worker depends on.
// Implemented by service.AnalysisRepository.
type Repository interface {
	GetJob(id string) (*db.AnalysisJob, error)
	UpdateJobProgress(id string, crawled, total int) error
	UpdateJobStatus(id string, status db.JobStatus, errorMsg string, completedAt *time.Time) error
	SavePageRecords(id string, pages []crawler.PageRecord) error
	SaveAggregate(id string, aggregate *analyzer.AggregateResult) error
}

// Config holds queue and worker configuration
type Config struct {
	QueueSize        int
	MaxAttempts      int
	InitialBackoff   time.Duration
	ProgressInterval time.Duration
	Crawl            *crawler.Config
}

// DefaultConfig returns default queue configuration
func DefaultConfig() *Config {
	return &Config{
		QueueSize:        100,
		MaxAttempts:      3,
		InitialBackoff:   2000 * time.Millisecond,
		ProgressInterval: 2 * time.Second,
		Crawl:            crawler.DefaultConfig(),
	}
}

// Service is the durable job queue with its single worker. One job runs at
// a time: the crawl session is the one shared resource, and queue
// serialization is what guarantees a job is never mutated by two workers.
type Service struct {
	repo         Repository
	fetchers     crawler.FetcherFactory
	orchestrator *analyzer.Orchestrator
	config       *Config
	queue        chan string
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	mu           sync.RWMutex
	isRunning    bool
	active       map[string]context.CancelFunc
}

// NewService creates a queue service with its dependencies injected.
func NewService(repo Repository, fetchers crawler.FetcherFactory, orchestrator *analyzer.Orchestrator, config *Config) *Service {
	if config == nil {
		config = DefaultConfig()
	}
	if orchestrator == nil {
		orchestrator = analyzer.NewOrchestrator()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Service{
		repo:         repo,
		fetchers:     fetchers,
		orchestrator: orchestrator,
		config:       config,
		queue:        make(chan string, config.QueueSize),
		ctx:          ctx,
		cancel:       cancel,
		active:       make(map[string]context.CancelFunc),
	}
}

// Start starts the queue's worker goroutine.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("queue service is already running")
	}

	s.isRunning = true
	s.wg.Add(1)
	go s.worker()

	log.Println("Queue service started with 1 worker")
	return nil
}

// Stop stops the queue service gracefully
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return nil
	}

	s.isRunning = false
	s.cancel()
	close(s.queue)

	s.wg.Wait()

	log.Println("Queue service stopped")
	return nil
}

// Enqueue adds a job to the processing queue
func (s *Service) Enqueue(id string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.isRunning {
		return fmt.Errorf("queue service is not running")
	}

	select {
	case s.queue <- id:
		return nil
	default:
		return fmt.Errorf("queue is full")
	}
}

// Cancel aborts the job if it is currently in flight. Returns false when
// the job is not being processed by the worker right now.
func (s *Service) Cancel(id string) bool {
	s.mu.RLock()
	cancel, ok := s.active[id]
	s.mu.RUnlock()

	if ok {
		cancel()
	}
	return ok
}

// worker processes jobs from the queue, one at a time.
func (s *Service) worker() {
	defer s.wg.Done()

	for {
		select {
		case id, ok := <-s.queue:
			if !ok {
				log.Println("Worker shutting down")
				return
			}
			s.process(id)
		case <-s.ctx.Done():
			log.Println("Worker shutting down")
			return
		}
	}
}

// process runs one job through its full attempt/retry lifecycle.
func (s *Service) process(id string) {
	jobCtx, cancelJob := context.WithCancel(s.ctx)
	s.mu.Lock()
	s.active[id] = cancelJob
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.active, id)
		s.mu.Unlock()
		cancelJob()
	}()

	job, err := s.repo.GetJob(id)
	if err != nil {
		log.Printf("Failed to get job %s: %v", id, err)
		return
	}

	// A completed job never retries; anything already terminal (or picked up
	// elsewhere) is left alone.
	if job.Status != db.StatusPending {
		log.Printf("Job %s is not pending: %s", id, job.Status)
		return
	}

	opts := parseOptions(job.Options)

	if err := s.repo.UpdateJobStatus(id, db.StatusProcessing, "", nil); err != nil {
		log.Printf("Failed to mark job %s as processing: %v", id, err)
		return
	}

	var lastErr error
	for attempt := 1; attempt <= s.config.MaxAttempts; attempt++ {
		lastErr = s.runAttempt(jobCtx, job, opts)
		if lastErr == nil {
			s.finish(id, db.StatusCompleted, "")
			log.Printf("Job %s completed on attempt %d", id, attempt)
			return
		}

		if errors.Is(lastErr, context.Canceled) {
			s.finish(id, db.StatusCancelled, "analysis cancelled")
			log.Printf("Job %s cancelled", id)
			return
		}

		log.Printf("Job %s attempt %d/%d failed: %v", id, attempt, s.config.MaxAttempts, lastErr)

		if attempt < s.config.MaxAttempts {
			delay := backoffDelay(s.config.InitialBackoff, attempt)
			if err := sleepCtx(jobCtx, delay); err != nil {
				s.finish(id, db.StatusCancelled, "analysis cancelled")
				log.Printf("Job %s cancelled during backoff", id)
				return
			}
		}
	}

	s.finish(id, db.StatusFailed, lastErr.Error())
	log.Printf("Job %s failed after %d attempts: %v", id, s.config.MaxAttempts, lastErr)
}

// finish records a terminal status with its completion time.
func (s *Service) finish(id string, status db.JobStatus, errorMsg string) {
	now := time.Now().UTC()
	if err := s.repo.UpdateJobStatus(id, status, errorMsg, &now); err != nil {
		log.Printf("Failed to record terminal status for job %s: %v", id, err)
	}
}

// runAttempt executes one crawl-analyze-persist cycle. The fetcher session
// acquired for the attempt is released on every exit path.
func (s *Service) runAttempt(ctx context.Context, job *db.AnalysisJob, opts crawler.Options) error {
	fetcher, err := s.fetchers()
	if err != nil {
		return fmt.Errorf("failed to acquire fetcher session: %w", err)
	}
	defer fetcher.Close()

	engine := crawler.NewEngine(fetcher, opts, s.config.Crawl)

	progressDone := make(chan struct{})
	defer close(progressDone)
	go s.reportProgress(ctx, job.ID, engine, opts.MaxPages, progressDone)

	pages, crawlErr := engine.Crawl(ctx, job.URL)

	// Partial corpora stay queryable even when the attempt fails.
	if len(pages) > 0 {
		if err := s.repo.SavePageRecords(job.ID, pages); err != nil {
			return fmt.Errorf("failed to persist page records: %w", err)
		}
	}
	if crawlErr != nil {
		return crawlErr
	}
	if len(pages) == 0 {
		return fmt.Errorf("crawl produced no pages for %s", job.URL)
	}

	if err := s.repo.UpdateJobProgress(job.ID, len(pages), opts.MaxPages); err != nil {
		return fmt.Errorf("failed to persist final progress: %w", err)
	}

	aggregate, err := s.orchestrator.Run(ctx, pages, job.URL, opts.SkipModules)
	if err != nil {
		return fmt.Errorf("analysis failed: %w", err)
	}

	if err := s.repo.SaveAggregate(job.ID, aggregate); err != nil {
		return fmt.Errorf("failed to persist aggregate result: %w", err)
	}

	return nil
}

// reportProgress periodically persists the crawl counters. The reported
// percentage only ever grows because the engine's crawled count is
// monotonically non-decreasing.
func (s *Service) reportProgress(ctx context.Context, id string, engine *crawler.Engine, total int, done <-chan struct{}) {
	ticker := time.NewTicker(s.config.ProgressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			crawled := engine.CrawledCount()
			if err := s.repo.UpdateJobProgress(id, crawled, total); err != nil {
				log.Printf("Failed to update progress for job %s: %v", id, err)
				continue
			}
			log.Printf("Job %s progress: %d/%d pages (%d%%)", id, crawled, total, crawled*100/total)
		case <-done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// parseOptions decodes the job's stored crawl options, falling back to
// defaults when the column is empty or malformed.
func parseOptions(raw string) crawler.Options {
	opts := crawler.DefaultOptions()
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &opts); err != nil {
			log.Printf("Failed to parse job options %q: %v", raw, err)
			opts = crawler.DefaultOptions()
		}
	}
	return opts.Normalize()
}

// backoffDelay returns the wait before the next attempt: the initial delay
// doubled once per completed attempt.
func backoffDelay(initial time.Duration, attempt int) time.Duration {
	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	return delay
}

// sleepCtx waits for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
