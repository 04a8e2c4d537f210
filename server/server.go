// Package server implements the extraction service the dashboard talks to.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aluiziolira/scrapedesk/config"
	"github.com/aluiziolira/scrapedesk/models"
	"github.com/aluiziolira/scrapedesk/scraper"
)

const (
	defaultHeartbeatInterval = 15 * time.Second
	sseContentType           = "text/event-stream"
)

// Option configures a Server.
type Option func(*Server)

// WithHeartbeat sets how often idle progress streams receive a comment line.
func WithHeartbeat(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.heartbeat = d
		}
	}
}

// Server owns the repository, the progress broker and the HTTP routes.
type Server struct {
	cfg       *config.Config
	logger    *slog.Logger
	registry  *prometheus.Registry
	metrics   *Metrics
	repo      *Repository
	broker    *Broker
	runner    *Runner
	engine    *gin.Engine
	heartbeat time.Duration

	// jobCtx outlives any request; Close cancels it.
	jobCtx   context.Context
	stopJobs context.CancelFunc
}

// New builds a server with a dedicated Prometheus registry.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	scraperMetrics := scraper.NewMetrics(registry)

	repo := NewRepository()
	broker := NewBroker(0, metrics, logger)

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		registry:  registry,
		metrics:   metrics,
		repo:      repo,
		broker:    broker,
		runner:    NewRunner(cfg, repo, broker, scraperMetrics, metrics, logger),
		heartbeat: defaultHeartbeatInterval,
	}
	s.jobCtx, s.stopJobs = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(s)
	}
	s.engine = s.routes()
	return s
}

// Handler returns the HTTP handler serving the API.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// MetricsHandler exposes the server's registry.
func (s *Server) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// Repository returns the record store backing the API.
func (s *Server) Repository() *Repository {
	return s.repo
}

// Close cancels the running job, waits for its terminal state to be
// published and then disconnects every progress stream.
func (s *Server) Close() {
	s.stopJobs()
	s.runner.Close()
	s.broker.Close()
}

func (s *Server) routes() *gin.Engine {
	router := gin.New()
	router.Use(recoveryMiddleware(s.logger), loggerMiddleware(s.logger), corsMiddleware())

	router.POST("/scrape", s.handleScrape)
	router.GET("/data", s.handleData)
	router.POST("/delete", s.handleDelete)
	router.GET("/progress", s.handleProgress)
	router.GET("/metrics", gin.WrapH(s.MetricsHandler()))
	return router
}

func (s *Server) handleScrape(c *gin.Context) {
	var req models.ScrapeRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.URL) == "" {
		c.JSON(http.StatusBadRequest, models.ScrapeResponse{Error: "URL is required"})
		return
	}
	req.URL = strings.TrimSpace(req.URL)

	ct, err := models.ParseContentType(string(req.ContentType))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ScrapeResponse{Error: err.Error()})
		return
	}
	req.ContentType = ct

	if err := s.runner.Start(s.jobCtx, req); err != nil {
		_ = c.Error(err)
		switch {
		case errors.Is(err, ErrJobRunning):
			c.JSON(http.StatusConflict, models.ScrapeResponse{Error: "A scrape is already running"})
		case errors.Is(err, ErrRunnerClosed):
			c.JSON(http.StatusServiceUnavailable, models.ScrapeResponse{Error: "Service is shutting down"})
		default:
			c.JSON(http.StatusInternalServerError, models.ScrapeResponse{Error: failureMessage(err)})
		}
		return
	}

	s.logger.Info("scrape accepted", slog.String("url", req.URL), slog.String("content_type", string(ct)))
	c.JSON(http.StatusOK, models.ScrapeResponse{Success: true, Message: "Scraping started"})
}

func (s *Server) handleData(c *gin.Context) {
	records := s.repo.All()
	c.JSON(http.StatusOK, models.DataResponse{
		Success: true,
		Data:    records,
		Count:   len(records),
	})
}

func (s *Server) handleDelete(c *gin.Context) {
	var req models.DeleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.DeleteResponse{Error: "Invalid request body"})
		return
	}
	if len(req.Items) == 0 {
		c.JSON(http.StatusBadRequest, models.DeleteResponse{Error: "No items provided"})
		return
	}

	deleted := s.repo.Delete(req.Items)
	s.metrics.SetStored(s.repo.Len())
	s.logger.Info("records deleted", slog.Int("requested", len(req.Items)), slog.Int("deleted", deleted))
	c.JSON(http.StatusOK, models.DeleteResponse{Success: true, Deleted: deleted})
}

// handleProgress streams progress states as SSE. The subscription exists
// before the headers are flushed, so a client that has seen the response
// headers receives every later state.
func (s *Server) handleProgress(c *gin.Context) {
	events, cleanup := s.broker.Subscribe()
	defer cleanup()

	h := c.Writer.Header()
	h.Set("Content-Type", sseContentType)
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	s.streamEvents(c.Request.Context(), c.Writer, events)
}

func (s *Server) streamEvents(ctx context.Context, w gin.ResponseWriter, events <-chan models.ProgressState) {
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case state, ok := <-events:
			if !ok {
				s.logger.Debug("progress channel closed")
				return
			}
			if err := writeEvent(w, state); err != nil {
				s.logger.Debug("progress write failed", slog.Any("error", err))
				return
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			w.Flush()
		case <-ctx.Done():
			return
		}
	}
}

func writeEvent(w gin.ResponseWriter, state models.ProgressState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	w.Flush()
	return nil
}

func loggerMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		attrs := []any{
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", time.Since(start)),
			slog.String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			logger.Error("http request with errors", append(attrs, slog.String("errors", c.Errors.String()))...)
			return
		}
		logger.Info("http request", attrs...)
	}
}

func recoveryMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("panic recovered",
					slog.Any("error", rec),
					slog.String("path", c.Request.URL.Path),
					slog.String("method", c.Request.Method),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			}
		}()
		c.Next()
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
