package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aluiziolira/scrapedesk/config"
	"github.com/aluiziolira/scrapedesk/models"
	"github.com/aluiziolira/scrapedesk/pipeline"
	"github.com/aluiziolira/scrapedesk/scraper"
)

const pipelineReportInterval = 10 * time.Second

var (
	// ErrJobRunning is returned when a job is submitted while another runs.
	ErrJobRunning = errors.New("a scrape is already running")
	// ErrRunnerClosed is returned once the runner stops accepting jobs.
	ErrRunnerClosed = errors.New("runner closed")
)

// FetchError reports a target page that could not be fetched.
type FetchError struct {
	URL string
	Err error
}

func (e FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e FetchError) Unwrap() error {
	return e.Err
}

// Runner executes one extraction job at a time in the background,
// publishing its progress.
type Runner struct {
	cfg            *config.Config
	repo           *Repository
	broker         *Broker
	scraperMetrics *scraper.Metrics
	metrics        *Metrics
	logger         *slog.Logger

	mu      sync.Mutex
	running bool
	closed  bool
	wg      sync.WaitGroup
}

// NewRunner wires a runner.
func NewRunner(cfg *config.Config, repo *Repository, broker *Broker, scraperMetrics *scraper.Metrics, metrics *Metrics, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		cfg:            cfg,
		repo:           repo,
		broker:         broker,
		scraperMetrics: scraperMetrics,
		metrics:        metrics,
		logger:         logger,
	}
}

// Start claims the runner and scrapes req on its own goroutine. The
// starting state is published before Start returns; completion and failure
// are only reported through the broker.
func (r *Runner) Start(ctx context.Context, req models.ScrapeRequest) error {
	r.mu.Lock()
	switch {
	case r.closed:
		r.mu.Unlock()
		return ErrRunnerClosed
	case r.running:
		r.mu.Unlock()
		return ErrJobRunning
	}
	r.running = true
	r.wg.Add(1)
	r.mu.Unlock()

	tracker := &progressTracker{broker: r.broker, state: models.ProgressState{
		Status:      models.StatusStarting,
		Message:     "Starting scrape...",
		ContentType: req.ContentType,
	}}
	tracker.publish()

	go func() {
		defer r.wg.Done()
		defer r.release()
		r.execute(ctx, req, tracker)
	}()
	return nil
}

// Running reports whether a job holds the runner.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Close rejects new jobs and waits for the current one to publish its
// terminal state. Cancel the job's context first to cut it short.
func (r *Runner) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *Runner) release() {
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()
}

func (r *Runner) execute(ctx context.Context, req models.ScrapeRequest, tracker *progressTracker) {
	count, err := r.run(ctx, req, tracker)
	if err != nil {
		r.metrics.IncJob("error")
		r.logger.Error("scrape failed", slog.String("url", req.URL), slog.Any("error", err))
		tracker.fail(failureMessage(err))
		return
	}

	r.metrics.IncJob("completed")
	r.metrics.SetStored(r.repo.Len())
	r.logger.Info("scrape completed", slog.String("url", req.URL), slog.Int("count", count))
	tracker.complete(count, CompletedMessage(count, req.ContentType))
}

func (r *Runner) run(ctx context.Context, req models.ScrapeRequest, tracker *progressTracker) (int, error) {
	job := scraper.Job{URL: req.URL, Category: req.Category, ContentType: req.ContentType}
	s, err := scraper.NewScraper(r.cfg, job, r.scraperMetrics, r.logger)
	if err != nil {
		return 0, FetchError{URL: req.URL, Err: err}
	}

	p := pipeline.NewPipeline(ctx, r.repo, r.cfg,
		pipeline.WithLogger(r.logger),
		pipeline.WithProgress(func(processed int64) { tracker.processed(int(processed)) }),
	)
	p.Start(1)
	if r.cfg.Verbose {
		p.StartMetricsReporting(pipelineReportInterval)
	}

	result, runErr := s.Run(ctx, p, tracker.found)
	if err := p.Close(); err != nil {
		return 0, fmt.Errorf("store records: %w", err)
	}
	if runErr != nil {
		return 0, FetchError{URL: req.URL, Err: runErr}
	}

	stats := p.Stats()
	r.logger.Debug("scrape result",
		slog.Int("pages", result.PageCount),
		slog.Any("rejected", stats.Rejected),
		slog.Int("requests", result.RequestCount),
		slog.Int("errors", result.ErrorCount),
		slog.Any("errors_by_type", result.ErrorsByType),
	)
	return int(p.Processed()), nil
}

// CompletedMessage is the success message for count records of ct.
func CompletedMessage(count int, ct models.ContentType) string {
	return fmt.Sprintf("Successfully scraped %d %s", count, ct)
}

func failureMessage(err error) string {
	var fetch FetchError
	if errors.As(err, &fetch) {
		return fmt.Sprintf("Failed to fetch URL: %v", fetch.Err)
	}
	return fmt.Sprintf("An error occurred: %v", err)
}

// progressTracker serialises state changes from scraper and pipeline
// goroutines so published counters never go backwards.
type progressTracker struct {
	broker *Broker

	mu    sync.Mutex
	state models.ProgressState
}

func (t *progressTracker) found(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n > t.state.TotalItems {
		t.state.TotalItems = n
	}
	t.state.Status = models.StatusRunning
	t.state.Message = ""
	t.publishLocked()
}

func (t *progressTracker) processed(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n > t.state.ProcessedItems {
		t.state.ProcessedItems = n
	}
	if t.state.ProcessedItems > t.state.TotalItems {
		t.state.TotalItems = t.state.ProcessedItems
	}
	t.state.Status = models.StatusRunning
	t.state.Message = ""
	t.publishLocked()
}

func (t *progressTracker) complete(count int, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.TotalItems = count
	t.state.ProcessedItems = count
	t.state.Status = models.StatusCompleted
	t.state.Message = message
	t.publishLocked()
}

func (t *progressTracker) fail(message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.Status = models.StatusError
	t.state.Message = message
	t.publishLocked()
}

func (t *progressTracker) publish() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.publishLocked()
}

func (t *progressTracker) publishLocked() {
	t.broker.Publish(t.state.WithPercentages())
}
