// Package jobs validates and submits extraction requests and follows their
// progress.
package jobs

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/aluiziolira/scrapedesk/client"
	"github.com/aluiziolira/scrapedesk/models"
	"github.com/aluiziolira/scrapedesk/progress"
)

const (
	emptyURLMessage     = "Please enter a URL to scrape"
	submitFailedMessage = "Failed to start scraping"
)

// Submitter issues the extraction request.
type Submitter interface {
	SubmitScrape(ctx context.Context, req models.ScrapeRequest) (models.ScrapeResponse, error)
}

// StreamOpener opens the progress channel.
type StreamOpener interface {
	Open(ctx context.Context, handler progress.Handler) (*progress.Stream, error)
	IsActive(s *progress.Stream) bool
	Close()
}

// Form holds the submission fields as the user entered them.
type Form struct {
	URL         string
	Category    string
	ContentType models.ContentType
}

// Callbacks receive controller notifications. Any may be nil.
type Callbacks struct {
	// OnProgress sees every progress state, starting with the reset to
	// starting on submit.
	OnProgress func(models.ProgressState)
	// OnCompleted fires once per job that reaches completed.
	OnCompleted func(models.ProgressState)
}

// Controller owns the submission form and the job's progress stream.
type Controller struct {
	api       Submitter
	streams   StreamOpener
	callbacks Callbacks
	logger    *slog.Logger

	mu       sync.Mutex
	form     Form
	progress models.ProgressState
}

// NewController wires a controller.
func NewController(api Submitter, streams StreamOpener, callbacks Callbacks, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		api:       api,
		streams:   streams,
		callbacks: callbacks,
		logger:    logger,
		progress:  models.IdleProgress(),
	}
}

// Form returns the current form fields.
func (c *Controller) Form() Form {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.form
}

// Progress returns the latest progress state.
func (c *Controller) Progress() models.ProgressState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progress
}

// Submit validates the input, opens the progress channel and only then
// sends the extraction request, so no early progress event is missed. The
// request's response and the channel's events race; either may come first.
func (c *Controller) Submit(ctx context.Context, url, category string, contentType models.ContentType) (models.ScrapeResponse, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return models.ScrapeResponse{}, client.ValidationError{Message: emptyURLMessage}
	}
	if contentType == "" || contentType == models.ContentTypeAll {
		contentType = models.ContentTypeBooks
	}

	c.mu.Lock()
	c.form = Form{URL: url, Category: category, ContentType: contentType}
	c.mu.Unlock()
	c.publish(models.StartingProgress())

	stream, err := c.streams.Open(ctx, c.onStreamState)
	if err != nil {
		c.logger.Error("open progress stream", slog.Any("error", err))
		failed := models.StartingProgress()
		failed.Status = models.StatusError
		failed.Message = progress.LostConnectionMessage
		c.publish(failed)
		return models.ScrapeResponse{}, err
	}
	resp, err := c.api.SubmitScrape(ctx, models.ScrapeRequest{
		URL:         url,
		Category:    strings.TrimSpace(category),
		ContentType: contentType,
	})
	if err != nil {
		c.logger.Error("submit scrape",
			slog.String("url", url),
			slog.String("kind", client.Kind(err)),
			slog.Any("error", err),
		)
		stream.Close()
		if !c.Progress().Status.Terminal() {
			failed := stream.State()
			failed.Status = models.StatusError
			failed.Message = client.UserMessage(err, submitFailedMessage)
			failed = failed.WithPercentages()
			c.publish(failed)
		}
		return resp, err
	}

	c.logger.Info("scrape accepted", slog.String("url", url), slog.String("message", resp.Message))
	return resp, nil
}

// Close closes the active progress stream.
func (c *Controller) Close() {
	c.streams.Close()
}

func (c *Controller) onStreamState(s *progress.Stream, state models.ProgressState) {
	if !c.streams.IsActive(s) {
		c.logger.Debug("ignoring progress from inactive stream", slog.String("status", string(state.Status)))
		return
	}
	c.publish(state)
	if state.Status != models.StatusCompleted {
		return
	}

	c.mu.Lock()
	c.form = Form{}
	c.mu.Unlock()
	if c.callbacks.OnCompleted != nil {
		c.callbacks.OnCompleted(state)
	}
}

// publish records state and forwards it to OnProgress.
func (c *Controller) publish(state models.ProgressState) {
	c.mu.Lock()
	c.progress = state
	c.mu.Unlock()

	if c.callbacks.OnProgress != nil {
		c.callbacks.OnProgress(state)
	}
}
