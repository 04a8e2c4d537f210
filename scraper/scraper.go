package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/aluiziolira/scrapedesk/config"
	"github.com/aluiziolira/scrapedesk/models"
	"github.com/aluiziolira/scrapedesk/pipeline"
)

// Selectors locate one kind of item on a page.
type Selectors struct {
	Item         string
	Title        string
	TitleAttr    string
	PriceOrDate  string
	Availability string
	Next         string
}

var selectorsByType = map[models.ContentType]Selectors{
	models.ContentTypeBooks: {
		Item:         "article.product_pod",
		Title:        "h3 a",
		TitleAttr:    "title",
		PriceOrDate:  "p.price_color",
		Availability: "p.instock.availability",
		Next:         "li.next a",
	},
	models.ContentTypeMovies: {
		Item:         "article.title-card",
		Title:        ".title",
		PriceOrDate:  ".release-date",
		Availability: ".rating",
		Next:         "li.next a",
	},
	models.ContentTypeTVShows: {
		Item:         "article.title-card",
		Title:        ".title",
		PriceOrDate:  ".release-date",
		Availability: ".rating",
		Next:         "li.next a",
	},
}

// SelectorsFor returns the selectors for ct.
func SelectorsFor(ct models.ContentType) (Selectors, error) {
	sel, ok := selectorsByType[ct]
	if !ok {
		return Selectors{}, fmt.Errorf("no selectors for content type %q", ct)
	}
	return sel, nil
}

// Job is one extraction request.
type Job struct {
	URL         string
	Category    string
	ContentType models.ContentType
}

// FoundFunc receives the running count of items seen on fetched pages.
type FoundFunc func(found int)

// Scraper wraps a colly collector scoped to one job's target host.
type Scraper struct {
	cfg       *config.Config
	job       Job
	selectors Selectors
	collector *colly.Collector
	transport http.RoundTripper
	Metrics   *Metrics
	logger    *slog.Logger

	requestCount int64
	pageCount    int64
	queuedPages  int64
	errorCount   int64
	foundCount   int64

	mu           sync.Mutex
	failedURLs   []string
	errorsByType map[string]int
	firstErr     error

	handlersOnce sync.Once
}

// NewScraper builds a scraper for job configured from cfg. metrics may be
// shared between jobs.
func NewScraper(cfg *config.Config, job Job, metrics *Metrics, logger *slog.Logger) (*Scraper, error) {
	parsed, err := url.Parse(job.URL)
	if err != nil {
		return nil, fmt.Errorf("parse target url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("target url must include a host")
	}
	selectors, err := SelectorsFor(job.ContentType)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	collector := colly.NewCollector(
		colly.Async(true),
		colly.AllowedDomains(parsed.Hostname()),
		colly.UserAgent(cfg.UserAgent),
	)

	collector.SetRequestTimeout(cfg.ScrapeTimeout)
	collector.IgnoreRobotsTxt = !cfg.RespectRobotsTxt
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.ScrapeTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	collector.WithTransport(transport)

	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: cfg.Parallelism,
	}); err != nil {
		return nil, fmt.Errorf("configure rate limits: %w", err)
	}

	return &Scraper{
		cfg:          cfg,
		job:          job,
		selectors:    selectors,
		collector:    collector,
		transport:    transport,
		Metrics:      metrics,
		logger:       logger,
		errorsByType: make(map[string]int),
	}, nil
}

// Run fetches the job's page, and up to MaxPages following pages, streaming
// items through the pipeline. It fails only when no page could be fetched.
func (s *Scraper) Run(ctx context.Context, p *pipeline.Pipeline, onFound FoundFunc) (*models.ScrapeResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.configureHandlers(ctx, p, onFound)
	// colly has no per-request context, so in-flight fetches are bound here.
	s.collector.WithTransport(contextTransport{ctx: ctx, base: s.transport})

	start := time.Now()
	atomic.StoreInt64(&s.queuedPages, 1)
	if err := s.collector.Visit(s.job.URL); err != nil {
		return nil, fmt.Errorf("initial visit: %w", err)
	}
	s.collector.Wait()

	result := &models.ScrapeResult{
		StartTime:    start,
		EndTime:      time.Now(),
		TotalCount:   int(p.Processed()),
		ErrorCount:   int(atomic.LoadInt64(&s.errorCount)),
		FailedURLs:   s.snapshotFailedURLs(),
		ErrorsByType: s.snapshotErrors(),
		RequestCount: int(atomic.LoadInt64(&s.requestCount)),
		PageCount:    int(atomic.LoadInt64(&s.pageCount)),
	}

	if result.PageCount == 0 {
		s.mu.Lock()
		err := s.firstErr
		s.mu.Unlock()
		if err == nil {
			err = ctx.Err()
		}
		if err == nil {
			err = errors.New("no page fetched")
		}
		return result, err
	}
	return result, nil
}

// contextTransport cancels every request it carries when ctx ends.
type contextTransport struct {
	ctx  context.Context
	base http.RoundTripper
}

func (t contextTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.base.RoundTrip(req.WithContext(t.ctx))
}

func (s *Scraper) configureHandlers(ctx context.Context, p *pipeline.Pipeline, onFound FoundFunc) {
	s.handlersOnce.Do(func() {
		s.collector.OnRequest(func(r *colly.Request) {
			if ctx.Err() != nil {
				r.Abort()
				return
			}
			r.Ctx.Put("start", time.Now())
			atomic.AddInt64(&s.requestCount, 1)
			s.Metrics.IncRequest("started")
			s.logger.Debug("scraper request", slog.String("url", r.URL.String()))
		})

		s.collector.OnResponse(func(r *colly.Response) {
			if start, ok := r.Request.Ctx.GetAny("start").(time.Time); ok {
				s.Metrics.ObserveDuration(time.Since(start))
			}
		})

		s.collector.OnError(func(r *colly.Response, err error) {
			atomic.AddInt64(&s.errorCount, 1)
			statusCode := 0
			if r != nil {
				statusCode = r.StatusCode
			}
			classified := classifyError(err, statusCode)
			category := errorTypeLabel(classified)

			url := ""
			if r != nil && r.Request != nil && r.Request.URL != nil {
				url = r.Request.URL.String()
			}

			s.mu.Lock()
			s.errorsByType[category]++
			s.failedURLs = append(s.failedURLs, url)
			if s.firstErr == nil {
				s.firstErr = classified
			}
			s.mu.Unlock()

			s.logger.Error("request error",
				slog.String("url", url),
				slog.String("category", category),
				slog.Any("error", err),
			)
			s.Metrics.IncError(category)
		})

		// Registered first so the total is reported before any item.
		s.collector.OnHTML("html", func(e *colly.HTMLElement) {
			atomic.AddInt64(&s.pageCount, 1)
			n := e.DOM.Find(s.selectors.Item).Length()
			if n == 0 {
				return
			}
			found := atomic.AddInt64(&s.foundCount, int64(n))
			if onFound != nil {
				onFound(int(found))
			}
		})

		s.collector.OnHTML(s.selectors.Item, func(e *colly.HTMLElement) {
			record, ok := s.extract(e)
			if !ok {
				return
			}
			s.Metrics.IncItems(string(s.job.ContentType))
			if err := p.Process(record); err != nil && !errors.Is(err, pipeline.ErrPipelineClosed) {
				s.logger.Error("pipeline process error", slog.Any("error", err))
			}
		})

		s.collector.OnHTML(s.selectors.Next, func(e *colly.HTMLElement) {
			if ctx.Err() != nil {
				return
			}
			if atomic.AddInt64(&s.queuedPages, 1) > int64(s.cfg.MaxPages) {
				return
			}
			abs := e.Request.AbsoluteURL(e.Attr("href"))
			if err := s.collector.Visit(abs); err != nil {
				s.logger.Debug("skip next page", slog.String("url", abs), slog.Any("error", err))
			}
		})
	})
}

func (s *Scraper) extract(e *colly.HTMLElement) (models.Record, bool) {
	var title string
	if s.selectors.TitleAttr != "" {
		title = strings.TrimSpace(e.ChildAttr(s.selectors.Title, s.selectors.TitleAttr))
	}
	if title == "" {
		title = strings.TrimSpace(e.ChildText(s.selectors.Title))
	}
	if title == "" {
		return models.Record{}, false
	}

	return models.Record{
		Title:                title,
		PriceOrDate:          e.ChildText(s.selectors.PriceOrDate),
		AvailabilityOrRating: e.ChildText(s.selectors.Availability),
		Category:             s.job.Category,
		SourceURL:            s.job.URL,
		Timestamp:            time.Now().UTC(),
		ContentType:          s.job.ContentType,
	}, true
}

func (s *Scraper) snapshotFailedURLs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.failedURLs))
	copy(out, s.failedURLs)
	return out
}

func (s *Scraper) snapshotErrors() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.errorsByType))
	for k, v := range s.errorsByType {
		out[k] = v
	}
	return out
}

func classifyError(err error, statusCode int) error {
	if err == nil && statusCode == 0 {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrConnection{Err: err}
	}

	if statusCode >= http.StatusBadRequest {
		if err == nil {
			err = errors.New(http.StatusText(statusCode))
		}
		return ErrStatus{Code: statusCode, Err: err}
	}

	return err
}
