package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aluiziolira/scrapedesk/client"
	"github.com/aluiziolira/scrapedesk/config"
	"github.com/aluiziolira/scrapedesk/models"
	"github.com/aluiziolira/scrapedesk/progress"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const booksPage = `<html><body>
<article class="product_pod">
  <h3><a href="a.html" title="A Light in the Attic">A Light in the ...</a></h3>
  <p class="price_color">£51.77</p>
  <p class="instock availability">  In stock  </p>
</article>
<article class="product_pod">
  <h3><a href="b.html" title="Tipping the Velvet">Tipping the ...</a></h3>
  <p class="price_color">£53.74</p>
  <p class="instock availability">In stock</p>
</article>
</body></html>`

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.ScrapeTimeout = 2 * time.Second
	cfg.Parallelism = 1
	return cfg
}

func newTestServer(t *testing.T, opts ...Option) (*Server, *httptest.Server) {
	t.Helper()
	s := New(testConfig(), nil, opts...)
	ts := httptest.NewServer(s.Handler())
	// Cleanups run in reverse: streams are released before the listener closes.
	t.Cleanup(ts.Close)
	t.Cleanup(s.Close)
	return s, ts
}

func pageServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRepositoryWriteAndDelete(t *testing.T) {
	repo := NewRepository()
	require.NoError(t, repo.Write([]models.Record{
		{ID: "keep-me", Title: "A", SourceURL: "https://example.com", ContentType: models.ContentTypeBooks},
		{Title: "B", SourceURL: "https://example.com", ContentType: models.ContentTypeBooks},
		{Title: "C", SourceURL: "https://example.com", ContentType: models.ContentTypeMovies},
	}))

	all := repo.All()
	require.Len(t, all, 3)
	assert.Equal(t, "keep-me", all[0].ID)
	for _, rec := range all {
		assert.NotEmpty(t, rec.ID)
	}

	removed := repo.Delete([]models.Record{
		{ID: "keep-me"},
		{Title: "C", SourceURL: "https://example.com", ContentType: models.ContentTypeMovies},
		{ID: "missing"},
	})
	assert.Equal(t, 2, removed)
	remaining := repo.All()
	require.Len(t, remaining, 1)
	assert.Equal(t, "B", remaining[0].Title)
	assert.Equal(t, 1, repo.Len())
}

func TestBrokerDisconnectsSlowSubscriber(t *testing.T) {
	b := NewBroker(1, nil, nil)
	fast, cleanupFast := b.Subscribe()
	defer cleanupFast()
	slow, cleanupSlow := b.Subscribe()
	defer cleanupSlow()
	require.Equal(t, 2, b.ClientCount())

	first := models.ProgressState{Status: models.StatusRunning, TotalItems: 1}
	second := models.ProgressState{Status: models.StatusRunning, TotalItems: 2}

	b.Publish(first)
	assert.Equal(t, first, <-fast)
	b.Publish(second)
	assert.Equal(t, second, <-fast)

	assert.Equal(t, first, <-slow)
	_, ok := <-slow
	assert.False(t, ok, "slow subscriber should be closed")
	assert.Equal(t, 1, b.ClientCount())
}

func TestBrokerClose(t *testing.T) {
	b := NewBroker(0, nil, nil)
	events, cleanup := b.Subscribe()
	b.Close()
	_, ok := <-events
	assert.False(t, ok)
	cleanup()

	late, _ := b.Subscribe()
	_, ok = <-late
	assert.False(t, ok)
	assert.Equal(t, 0, b.ClientCount())
	b.Publish(models.ProgressState{Status: models.StatusRunning})
}

func TestScrapeValidation(t *testing.T) {
	s := New(testConfig(), nil)
	defer s.Close()

	tests := []struct {
		name    string
		body    any
		wantErr string
	}{
		{"missing url", models.ScrapeRequest{}, "URL is required"},
		{"blank url", models.ScrapeRequest{URL: "   "}, "URL is required"},
		{"not json", "not an object", "URL is required"},
		{"unknown type", models.ScrapeRequest{URL: "https://example.com", ContentType: "podcasts"}, `unknown content type "podcasts"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, s.Handler(), http.MethodPost, "/scrape", tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			var resp models.ScrapeResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.False(t, resp.Success)
			assert.Equal(t, tt.wantErr, resp.Error)
		})
	}
}

func TestScrapeRejectsConcurrentJob(t *testing.T) {
	s := New(testConfig(), nil)
	defer s.Close()
	s.runner.mu.Lock()
	s.runner.running = true
	s.runner.mu.Unlock()

	rec := doJSON(t, s.Handler(), http.MethodPost, "/scrape", models.ScrapeRequest{URL: "https://example.com"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	s.runner.release()
}

func TestScrapeRejectedAfterClose(t *testing.T) {
	s := New(testConfig(), nil)
	s.Close()

	rec := doJSON(t, s.Handler(), http.MethodPost, "/scrape", models.ScrapeRequest{URL: "https://example.com"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.False(t, s.runner.Running())
}

func TestDataAndDelete(t *testing.T) {
	s := New(testConfig(), nil)
	defer s.Close()

	rec := doJSON(t, s.Handler(), http.MethodGet, "/data", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"data":[]}`, rec.Body.String())

	require.NoError(t, s.Repository().Write([]models.Record{
		{Title: "A", SourceURL: "https://example.com", ContentType: models.ContentTypeBooks},
		{Title: "B", SourceURL: "https://example.com", ContentType: models.ContentTypeBooks},
	}))
	stored := s.Repository().All()

	rec = doJSON(t, s.Handler(), http.MethodPost, "/delete", models.DeleteRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, s.Handler(), http.MethodPost, "/delete", models.DeleteRequest{Items: stored[:1]})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp models.DeleteResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 1, resp.Deleted)

	rec = doJSON(t, s.Handler(), http.MethodGet, "/data", nil)
	var data models.DataResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &data))
	require.Len(t, data.Data, 1)
	assert.Equal(t, "B", data.Data[0].Title)
	assert.Equal(t, 1, data.Count)

	rec = doJSON(t, s.Handler(), http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "scrapedesk_records_stored 1")
}

func TestProgressStreamHeadersAndHeartbeat(t *testing.T) {
	_, ts := newTestServer(t, WithHeartbeat(10*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/progress", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))
	assert.Equal(t, "no", resp.Header.Get("X-Accel-Buffering"))

	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": heartbeat\n", line)
}

type stateLog struct {
	mu     sync.Mutex
	states []models.ProgressState
}

func (l *stateLog) handle(_ *progress.Stream, state models.ProgressState) {
	l.mu.Lock()
	l.states = append(l.states, state)
	l.mu.Unlock()
}

func (l *stateLog) last() models.ProgressState {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.states) == 0 {
		return models.ProgressState{}
	}
	return l.states[len(l.states)-1]
}

// openProgress connects a stream; the subscription is live once it returns.
func openProgress(t *testing.T, api *client.Client) (*progress.Stream, *stateLog) {
	t.Helper()
	log := &stateLog{}
	streams := progress.NewClient(api.ProgressURL(), api.HTTPClient(), nil)
	stream, err := streams.Open(context.Background(), log.handle)
	require.NoError(t, err)
	t.Cleanup(stream.Close)
	return stream, log
}

func waitDone(t *testing.T, stream *progress.Stream) {
	t.Helper()
	select {
	case <-stream.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("progress stream did not finish")
	}
}

func TestScrapeEndToEnd(t *testing.T) {
	page := pageServer(t, http.StatusOK, booksPage)
	_, ts := newTestServer(t)
	api, err := client.New(ts.URL, 5*time.Second)
	require.NoError(t, err)

	stream, log := openProgress(t, api)

	resp, err := api.SubmitScrape(context.Background(), models.ScrapeRequest{URL: page.URL, Category: "Fiction"})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "Scraping started", resp.Message)

	waitDone(t, stream)
	final := log.last()
	assert.Equal(t, models.StatusCompleted, final.Status)
	assert.Equal(t, 2, final.TotalItems)
	assert.Equal(t, 2, final.ProcessedItems)
	assert.InDelta(t, 100, final.ScrapingPercent, 0.001)
	assert.Equal(t, "Successfully scraped 2 books", final.Message)

	records, err := api.FetchRecords(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)
	byTitle := map[string]models.Record{}
	for _, rec := range records {
		assert.NotEmpty(t, rec.ID)
		byTitle[rec.Title] = rec
	}
	attic := byTitle["A Light in the Attic"]
	assert.Equal(t, "51.77", attic.PriceOrDate)
	assert.Equal(t, "In stock", attic.AvailabilityOrRating)
	assert.Equal(t, "Fiction", attic.Category)
	assert.Equal(t, page.URL, attic.SourceURL)
	assert.Equal(t, models.ContentTypeBooks, attic.ContentType)

	require.NoError(t, api.DeleteRecords(context.Background(), []models.Record{attic}))
	records, err = api.FetchRecords(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Tipping the Velvet", records[0].Title)
}

func TestScrapeFetchFailure(t *testing.T) {
	page := pageServer(t, http.StatusNotFound, "gone")
	_, ts := newTestServer(t)
	api, err := client.New(ts.URL, 5*time.Second)
	require.NoError(t, err)

	stream, log := openProgress(t, api)

	resp, err := api.SubmitScrape(context.Background(), models.ScrapeRequest{URL: page.URL})
	require.NoError(t, err)
	assert.True(t, resp.Success)

	waitDone(t, stream)
	final := log.last()
	assert.Equal(t, models.StatusError, final.Status)
	assert.True(t, strings.HasPrefix(final.Message, "Failed to fetch URL: "), final.Message)

	records, err := api.FetchRecords(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestScrapeOutlivesClientTimeout(t *testing.T) {
	page := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(800 * time.Millisecond):
		case <-r.Context().Done():
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = io.WriteString(w, booksPage)
	}))
	t.Cleanup(page.Close)
	_, ts := newTestServer(t)
	api, err := client.New(ts.URL, 300*time.Millisecond)
	require.NoError(t, err)

	stream, log := openProgress(t, api)

	start := time.Now()
	resp, err := api.SubmitScrape(context.Background(), models.ScrapeRequest{URL: page.URL})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Less(t, time.Since(start), 800*time.Millisecond)

	waitDone(t, stream)
	final := log.last()
	assert.Equal(t, models.StatusCompleted, final.Status)
	assert.Equal(t, 2, final.ProcessedItems)

	records, err := api.FetchRecords(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestCloseCancelsRunningJob(t *testing.T) {
	page := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	t.Cleanup(page.Close)
	cfg := testConfig()
	cfg.ScrapeTimeout = time.Minute
	s := New(cfg, nil)

	rec := doJSON(t, s.Handler(), http.MethodPost, "/scrape", models.ScrapeRequest{URL: page.URL})
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, s.runner.Running())

	done := make(chan struct{})
	go func() {
		s.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not cancel the running job")
	}
	assert.False(t, s.runner.Running())
	assert.Zero(t, s.Repository().Len())
}

func TestFailureMessage(t *testing.T) {
	assert.Equal(t, "Failed to fetch URL: boom",
		failureMessage(FetchError{URL: "https://example.com", Err: fmt.Errorf("boom")}))
	assert.Equal(t, "An error occurred: store records: disk",
		failureMessage(fmt.Errorf("store records: %w", fmt.Errorf("disk"))))
}
