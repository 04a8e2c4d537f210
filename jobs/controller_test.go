package jobs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aluiziolira/scrapedesk/client"
	"github.com/aluiziolira/scrapedesk/models"
	"github.com/aluiziolira/scrapedesk/progress"
)

// callLog records the order in which the stream and the submission hit
// the service.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(call string) {
	l.mu.Lock()
	l.calls = append(l.calls, call)
	l.mu.Unlock()
}

func (l *callLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

type fakeSubmitter struct {
	log       *callLog
	err       error
	submitted chan struct{}
	once      sync.Once
	requests  []models.ScrapeRequest
}

func newFakeSubmitter(log *callLog, err error) *fakeSubmitter {
	return &fakeSubmitter{log: log, err: err, submitted: make(chan struct{})}
}

func (f *fakeSubmitter) SubmitScrape(_ context.Context, req models.ScrapeRequest) (models.ScrapeResponse, error) {
	f.log.add("submit")
	f.requests = append(f.requests, req)
	f.once.Do(func() { close(f.submitted) })
	if f.err != nil {
		return models.ScrapeResponse{}, f.err
	}
	return models.ScrapeResponse{Success: true, Message: "Successfully scraped 2 items", Count: 2}, nil
}

// progressServer logs the connection before flushing headers, waits for
// release, then emits frames and holds the connection open.
func progressServer(t *testing.T, log *callLog, release <-chan struct{}, frames ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.add("open")
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		flusher.Flush()

		select {
		case <-release:
		case <-r.Context().Done():
			return
		}
		for _, f := range frames {
			fmt.Fprintf(w, "data: %s\n\n", f)
			flusher.Flush()
		}
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)
	return srv
}

type progressRecorder struct {
	mu        sync.Mutex
	states    []models.ProgressState
	completed int
}

func (r *progressRecorder) callbacks() Callbacks {
	return Callbacks{
		OnProgress: func(s models.ProgressState) {
			r.mu.Lock()
			r.states = append(r.states, s)
			r.mu.Unlock()
		},
		OnCompleted: func(models.ProgressState) {
			r.mu.Lock()
			r.completed++
			r.mu.Unlock()
		},
	}
}

func (r *progressRecorder) statuses() []models.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Status, len(r.states))
	for i, s := range r.states {
		out[i] = s.Status
	}
	return out
}

func (r *progressRecorder) completions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completed
}

func TestSubmitEmptyURL(t *testing.T) {
	log := &callLog{}
	api := newFakeSubmitter(log, nil)
	streams := progress.NewClient("http://127.0.0.1:1/progress", nil, nil)
	rec := &progressRecorder{}
	c := NewController(api, streams, rec.callbacks(), nil)

	_, err := c.Submit(context.Background(), "   ", "Fiction", models.ContentTypeBooks)
	require.Error(t, err)
	assert.Equal(t, "validation", client.Kind(err))
	assert.Equal(t, emptyURLMessage, client.UserMessage(err, ""))
	assert.Empty(t, log.all(), "no network activity for an empty url")
	assert.Empty(t, rec.statuses())
	assert.Equal(t, models.StatusIdle, c.Progress().Status)
}

func TestSubmitOpensStreamBeforeSubmission(t *testing.T) {
	log := &callLog{}
	api := newFakeSubmitter(log, nil)
	srv := progressServer(t, log, api.submitted,
		`{"status":"running","totalItems":2,"processedItems":1,"contentType":"books"}`,
		`{"status":"completed","processedItems":2,"message":"Successfully scraped 2 items"}`,
	)
	streams := progress.NewClient(srv.URL, nil, nil)
	rec := &progressRecorder{}
	c := NewController(api, streams, rec.callbacks(), nil)
	t.Cleanup(c.Close)

	resp, err := c.Submit(context.Background(), " https://books.toscrape.com/ ", "Fiction", "")
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, []string{"open", "submit"}, log.all())

	require.Len(t, api.requests, 1)
	assert.Equal(t, models.ScrapeRequest{
		URL:         "https://books.toscrape.com/",
		Category:    "Fiction",
		ContentType: models.ContentTypeBooks,
	}, api.requests[0])

	require.Eventually(t, func() bool { return rec.completions() == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t,
		[]models.Status{models.StatusStarting, models.StatusRunning, models.StatusCompleted},
		rec.statuses())

	final := c.Progress()
	assert.Equal(t, 100.0, final.ScrapingPercent)
	assert.Equal(t, "Successfully scraped 2 items", final.Message)
	assert.Equal(t, Form{}, c.Form(), "form is cleared once the job completes")
}

func TestSubmitFailureClosesStream(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		message string
	}{
		{
			name:    "service message",
			err:     client.ApplicationError{Status: http.StatusBadRequest, Message: "Failed to fetch URL: timeout"},
			message: "Failed to fetch URL: timeout",
		},
		{
			name:    "generic",
			err:     errors.New("boom"),
			message: submitFailedMessage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log := &callLog{}
			api := newFakeSubmitter(log, tt.err)
			srv := progressServer(t, log, make(chan struct{}))
			streams := progress.NewClient(srv.URL, nil, nil)
			rec := &progressRecorder{}
			c := NewController(api, streams, rec.callbacks(), nil)

			_, err := c.Submit(context.Background(), "https://books.toscrape.com/", "", models.ContentTypeBooks)
			require.Error(t, err)

			stream := streams.Active()
			require.NotNil(t, stream)
			select {
			case <-stream.Done():
			case <-time.After(5 * time.Second):
				t.Fatal("stream was not closed after the failed submission")
			}

			state := c.Progress()
			assert.Equal(t, models.StatusError, state.Status)
			assert.Equal(t, tt.message, state.Message)
			assert.Equal(t, []models.Status{models.StatusStarting, models.StatusError}, rec.statuses())
			assert.Zero(t, rec.completions())
			assert.Equal(t, "https://books.toscrape.com/", c.Form().URL, "form is kept for a retry")
		})
	}
}

func TestSubmitStreamOpenFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	log := &callLog{}
	api := newFakeSubmitter(log, nil)
	rec := &progressRecorder{}
	c := NewController(api, progress.NewClient(srv.URL, nil, nil), rec.callbacks(), nil)

	_, err := c.Submit(context.Background(), "https://books.toscrape.com/", "", models.ContentTypeBooks)
	require.Error(t, err)
	assert.Equal(t, "transport", client.Kind(err))
	assert.Empty(t, api.requests, "nothing is submitted without a live channel")
	assert.Equal(t, models.StatusError, c.Progress().Status)
	assert.Equal(t, progress.LostConnectionMessage, c.Progress().Message)
}

func TestStaleStreamIsIgnored(t *testing.T) {
	log := &callLog{}
	api := newFakeSubmitter(log, nil)
	release := make(chan struct{})
	srv := progressServer(t, log, release, `{"status":"running","totalItems":4,"processedItems":1}`)
	streams := progress.NewClient(srv.URL, nil, nil)
	rec := &progressRecorder{}
	c := NewController(api, streams, rec.callbacks(), nil)

	first, err := streams.Open(context.Background(), c.onStreamState)
	require.NoError(t, err)
	streams.Close()
	<-first.Done()

	c.onStreamState(first, models.ProgressState{Status: models.StatusCompleted})
	assert.Empty(t, rec.statuses())
	assert.Zero(t, rec.completions())
	close(release)
}

func TestCloseEndsActiveStream(t *testing.T) {
	log := &callLog{}
	api := newFakeSubmitter(log, nil)
	srv := progressServer(t, log, api.submitted, `{"status":"running","totalItems":4,"processedItems":1}`)
	streams := progress.NewClient(srv.URL, nil, nil)
	rec := &progressRecorder{}
	c := NewController(api, streams, rec.callbacks(), nil)

	_, err := c.Submit(context.Background(), "https://books.toscrape.com/", "", models.ContentTypeBooks)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(rec.statuses()) == 2 }, 5*time.Second, 10*time.Millisecond)

	stream := streams.Active()
	require.NotNil(t, stream)
	c.Close()
	assert.Nil(t, streams.Active())
	select {
	case <-stream.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("stream was not closed")
	}

	c.onStreamState(stream, models.ProgressState{Status: models.StatusCompleted})
	assert.Equal(t, []models.Status{models.StatusStarting, models.StatusRunning}, rec.statuses())
	assert.Zero(t, rec.completions())
	assert.Equal(t, models.StatusRunning, c.Progress().Status)
}
