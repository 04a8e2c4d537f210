// Package client talks to the extraction service over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aluiziolira/scrapedesk/models"
)

const (
	endpointData     = "/data"
	endpointScrape   = "/scrape"
	endpointDelete   = "/delete"
	endpointProgress = "/progress"
)

// Client issues requests against the extraction service. Requests are
// never retried; a failure surfaces and the user decides whether to try
// again.
type Client struct {
	base    *url.URL
	http    *http.Client
	metrics *Metrics
	logger  *slog.Logger
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithMetrics records request outcomes on m.
func WithMetrics(m *Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithLogger sets the logger used for request diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New builds a client for the service at baseURL.
func New(baseURL string, timeout time.Duration, opts ...Option) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, fmt.Errorf("service url cannot be empty")
	}
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse service url: %w", err)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("service url must include a host")
	}
	base.RawQuery = ""
	base.Fragment = ""
	base.Path = strings.TrimSuffix(base.Path, "/")

	c := &Client{
		base:   base,
		http:   &http.Client{Timeout: timeout},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// HTTPClient exposes the underlying HTTP client so the progress stream can
// share its transport.
func (c *Client) HTTPClient() *http.Client {
	return c.http
}

// ProgressURL is the push-channel endpoint.
func (c *Client) ProgressURL() string {
	return c.endpoint(endpointProgress)
}

// FetchRecords loads every stored record (GET /data).
func (c *Client) FetchRecords(ctx context.Context) ([]models.Record, error) {
	var payload models.DataResponse
	if err := c.do(ctx, http.MethodGet, endpointData, nil, &payload, func() (bool, string) {
		return payload.Success, payload.Error
	}); err != nil {
		return nil, err
	}
	if payload.Data == nil {
		return []models.Record{}, nil
	}
	return payload.Data, nil
}

// SubmitScrape asks the service to extract req.URL (POST /scrape). The
// call returns when the service accepted or refused the job; the job's
// progress arrives on the progress channel.
func (c *Client) SubmitScrape(ctx context.Context, req models.ScrapeRequest) (models.ScrapeResponse, error) {
	var payload models.ScrapeResponse
	err := c.do(ctx, http.MethodPost, endpointScrape, req, &payload, func() (bool, string) {
		return payload.Success, payload.Error
	})
	return payload, err
}

// DeleteRecords removes items in one batch (POST /delete).
func (c *Client) DeleteRecords(ctx context.Context, items []models.Record) error {
	var payload models.DeleteResponse
	return c.do(ctx, http.MethodPost, endpointDelete, models.DeleteRequest{Items: items}, &payload, func() (bool, string) {
		return payload.Success, payload.Error
	})
}

func (c *Client) endpoint(path string) string {
	u := *c.base
	u.Path = c.base.Path + path
	return u.String()
}

// do sends one request and decodes the JSON envelope into out. verdict
// reads the envelope's success flag and error text after decoding.
func (c *Client) do(ctx context.Context, method, path string, body, out any, verdict func() (bool, string)) (err error) {
	start := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = Kind(err)
			c.logger.Debug("service request failed",
				slog.String("method", method),
				slog.String("endpoint", path),
				slog.String("kind", outcome),
				slog.Any("error", err),
			)
		}
		c.metrics.ObserveRequest(path, outcome, time.Since(start))
	}()

	var reader io.Reader
	if body != nil {
		encoded, marshalErr := json.Marshal(body)
		if marshalErr != nil {
			return fmt.Errorf("encode %s request: %w", path, marshalErr)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), reader)
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return TransportError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return TransportError{Op: "read " + path, Err: err}
	}

	decodeErr := json.Unmarshal(raw, out)
	if resp.StatusCode >= http.StatusBadRequest {
		message := ""
		if decodeErr == nil {
			_, message = verdict()
		}
		return ApplicationError{Status: resp.StatusCode, Message: message}
	}
	if decodeErr != nil {
		return ParseError{What: path + " response", Err: decodeErr}
	}
	if ok, message := verdict(); !ok {
		return ApplicationError{Status: resp.StatusCode, Message: message}
	}
	return nil
}
