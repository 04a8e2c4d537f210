package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aluiziolira/scrapedesk/config"
	"github.com/aluiziolira/scrapedesk/models"
	"github.com/aluiziolira/scrapedesk/parser"
)

var (
	// ErrPipelineClosed is returned when Process is called after shutdown.
	ErrPipelineClosed = errors.New("pipeline: closed")
	// ErrPipelineCloseTimeout is returned when workers do not drain in time.
	ErrPipelineCloseTimeout = errors.New("pipeline: close timed out")
)

var drainTimeout = 30 * time.Second

// RecordSink receives validated, normalised batches.
type RecordSink interface {
	Write(records []models.Record) error
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithProgress calls fn with the running processed count after every
// accepted record. fn runs on worker goroutines.
func WithProgress(fn func(processed int64)) Option {
	return func(p *Pipeline) {
		p.onProcessed = fn
	}
}

// WithLogger sets the pipeline logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// Pipeline coordinates validation, normalisation, de-duplication and
// batched writes to a sink.
type Pipeline struct {
	ctx         context.Context
	sink        RecordSink
	recordCh    chan models.Record
	batchSize   int
	onProcessed func(int64)
	logger      *slog.Logger

	wg sync.WaitGroup

	// seen holds at most DedupeMaxSize keys.
	seen *lru.Cache[string, struct{}]

	stats stats

	mu     sync.Mutex // guards closed/err
	closed bool
	err    error

	closeOnce    sync.Once
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// NewPipeline builds a pipeline sized from cfg.
func NewPipeline(ctx context.Context, sink RecordSink, cfg *config.Config, opts ...Option) *Pipeline {
	if ctx == nil {
		ctx = context.Background()
	}
	bufferSize, batchSize, dedupeSize := 512, 64, 100000
	if cfg != nil {
		bufferSize, batchSize, dedupeSize = cfg.PipelineBufferSize, cfg.BatchSize, cfg.DedupeMaxSize
	}
	if batchSize <= 0 {
		batchSize = 1
	}
	if dedupeSize <= 0 {
		dedupeSize = 1
	}
	seen, err := lru.New[string, struct{}](dedupeSize)
	if err != nil {
		// lru.New only fails for a non-positive size.
		panic(err)
	}

	p := &Pipeline{
		ctx:       ctx,
		sink:      sink,
		recordCh:  make(chan models.Record, max(bufferSize, 0)),
		batchSize: batchSize,
		logger:    slog.Default(),
		seen:      seen,
		stats:     stats{rejected: make(map[string]int)},
		shutdown:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches worker goroutines. A single worker keeps records in the
// order they were scraped.
func (p *Pipeline) Start(workers int) {
	if workers <= 0 {
		workers = 1
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Process enqueues records for downstream processing.
func (p *Pipeline) Process(records ...models.Record) error {
	if len(records) == 0 {
		return nil
	}

	closed, err := p.state()
	if err != nil {
		return err
	}
	if closed {
		return ErrPipelineClosed
	}

	for _, r := range records {
		if err := p.enqueue(r); err != nil {
			return err
		}
	}
	return nil
}

// Close stops intake and waits for workers to drain, up to drainTimeout.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.signalShutdown()
	p.closeOnce.Do(func() {
		close(p.recordCh)
	})

	drained := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return p.Err()
	case <-time.After(drainTimeout):
		return ErrPipelineCloseTimeout
	}
}

// Err returns the first error encountered during processing.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Processed returns how many records reached the sink queue.
func (p *Pipeline) Processed() int64 {
	return p.stats.processed.Load()
}

// Stats returns a snapshot of the internal counters.
func (p *Pipeline) Stats() Stats {
	return p.stats.snapshot()
}

// StartMetricsReporting emits periodic progress logs until Close.
func (p *Pipeline) StartMetricsReporting(interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s := p.Stats()
				p.logger.Debug("pipeline progress",
					slog.Int64("processed", s.Processed),
					slog.Any("rejected", s.Rejected),
				)
			case <-p.shutdown:
				return
			}
		}
	}()
}

// DedupeKey identifies a record within one run.
func DedupeKey(r models.Record) string {
	return strings.Join([]string{string(r.ContentType), r.SourceURL, r.Title, r.PriceOrDate}, "\x00")
}

func (p *Pipeline) worker() {
	defer p.wg.Done()

	batch := make([]models.Record, 0, p.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := p.sink.Write(batch); err != nil {
			return err
		}
		batch = make([]models.Record, 0, p.batchSize)
		return nil
	}

	for r := range p.recordCh {
		prepared, ok := p.prepare(r)
		if !ok {
			continue
		}
		batch = append(batch, prepared)
		if len(batch) >= p.batchSize {
			if err := flush(); err != nil {
				p.setErr(fmt.Errorf("write batch: %w", err))
				return
			}
		}
	}

	if err := flush(); err != nil {
		p.setErr(fmt.Errorf("write batch: %w", err))
	}
}

func (p *Pipeline) prepare(r models.Record) (models.Record, bool) {
	r.Title = strings.TrimSpace(r.Title)
	r.SourceURL = strings.TrimSpace(r.SourceURL)
	if err := parser.ValidateRecord(&r); err != nil {
		p.stats.reject("invalid_record")
		p.logger.Debug("record rejected", slog.Any("error", err))
		return r, false
	}

	r.Category = parser.NormalizeCategory(r.Category)
	if r.ContentType == models.ContentTypeBooks {
		r.PriceOrDate = parser.NormalizePrice(r.PriceOrDate)
		r.AvailabilityOrRating = parser.NormalizeAvailability(r.AvailabilityOrRating)
	} else {
		r.PriceOrDate = strings.TrimSpace(r.PriceOrDate)
		r.AvailabilityOrRating = parser.NormalizeRating(r.AvailabilityOrRating)
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}

	if found, _ := p.seen.ContainsOrAdd(DedupeKey(r), struct{}{}); found {
		p.stats.reject("duplicate_record")
		return r, false
	}

	processed := p.stats.processed.Add(1)
	if p.onProcessed != nil {
		p.onProcessed(processed)
	}
	return r, true
}

func (p *Pipeline) enqueue(r models.Record) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = ErrPipelineClosed
		}
	}()

	select {
	case <-p.shutdown:
		return ErrPipelineClosed
	case <-p.ctx.Done():
		return p.ctx.Err()
	case p.recordCh <- r:
		return nil
	}
}

func (p *Pipeline) setErr(err error) {
	if err == nil {
		return
	}

	p.mu.Lock()
	if p.err != nil {
		p.mu.Unlock()
		return
	}
	p.err = err
	p.closed = true
	p.mu.Unlock()

	p.signalShutdown()
}

func (p *Pipeline) state() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed, p.err
}

func (p *Pipeline) signalShutdown() {
	p.shutdownOnce.Do(func() {
		close(p.shutdown)
	})
}

// Stats is a point-in-time copy of the pipeline counters.
type Stats struct {
	Processed int64
	Rejected  map[string]int
}

type stats struct {
	processed atomic.Int64

	mu       sync.Mutex
	rejected map[string]int
}

func (s *stats) reject(kind string) {
	s.mu.Lock()
	s.rejected[kind]++
	s.mu.Unlock()
}

func (s *stats) snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	rejected := make(map[string]int, len(s.rejected))
	for k, v := range s.rejected {
		rejected[k] = v
	}
	return Stats{Processed: s.processed.Load(), Rejected: rejected}
}
