// Package progress consumes the extraction service's push channel and turns
// it into typed job progress.
package progress

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/aluiziolira/scrapedesk/client"
	"github.com/aluiziolira/scrapedesk/models"
)

// Handler receives every state transition of a stream, in order, from the
// stream's reader goroutine.
type Handler func(*Stream, models.ProgressState)

// Client opens progress streams. At most one stream is live per Client:
// opening a new one closes the previous. There is no reconnection; a lost
// channel ends in the error state.
type Client struct {
	url    string
	http   *http.Client
	logger *slog.Logger

	mu     sync.Mutex
	active *Stream
}

// NewClient builds a stream client for the push channel at url. The HTTP
// client's timeout is dropped for streams since they stay open for the
// whole job.
func NewClient(url string, hc *http.Client, logger *slog.Logger) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	streaming := *hc
	streaming.Timeout = 0
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{url: url, http: &streaming, logger: logger}
}

// Open closes any live stream, then connects a new one. It returns once
// the response headers arrived so the channel is live before the caller
// submits work. A failure to connect is also reported to handler as the
// error state.
func (c *Client) Open(ctx context.Context, handler Handler) (*Stream, error) {
	c.Close()

	streamCtx, cancel := context.WithCancel(ctx)
	s := &Stream{
		machine:  NewMachine(),
		handler:  handler,
		logger:   c.logger,
		ctx:      streamCtx,
		cancel:   cancel,
		finished: make(chan struct{}),
	}
	s.machine.Connect()

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, c.url, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("build progress request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.http.Do(req)
	if err != nil {
		s.failOpen()
		return nil, client.TransportError{Op: "open progress stream", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		s.failOpen()
		return nil, client.TransportError{Op: "open progress stream", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	s.body = resp.Body

	c.mu.Lock()
	c.active = s
	c.mu.Unlock()

	c.logger.Debug("progress stream opened", slog.String("url", c.url))
	go s.read()
	return s, nil
}

// Active returns the live stream, or nil.
func (c *Client) Active() *Stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// IsActive reports whether s is still the client's live stream.
func (c *Client) IsActive(s *Stream) bool {
	if s == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active == s
}

// Close closes the live stream, if any.
func (c *Client) Close() {
	c.mu.Lock()
	s := c.active
	c.active = nil
	c.mu.Unlock()
	if s != nil {
		s.Close()
	}
}

// Stream is one open push channel.
type Stream struct {
	handler Handler
	logger  *slog.Logger
	body    io.ReadCloser
	ctx     context.Context
	cancel  context.CancelFunc

	mu      sync.Mutex
	machine *Machine

	closing   atomic.Bool
	closeOnce sync.Once
	finished  chan struct{}
	dropped   atomic.Int64
}

// State returns the latest progress snapshot.
func (s *Stream) State() models.ProgressState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.State()
}

// Phase returns the channel phase.
func (s *Stream) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.Phase()
}

// Dropped counts malformed payloads discarded so far.
func (s *Stream) Dropped() int64 {
	return s.dropped.Load()
}

// Done is closed once the reader has stopped and every transition has been
// delivered to the handler.
func (s *Stream) Done() <-chan struct{} {
	return s.finished
}

// Close shuts the channel. It is safe to call more than once and from
// inside the handler; only the first call has an effect.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		s.closing.Store(true)
		s.cancel()
		if s.body != nil {
			if err := s.body.Close(); err != nil {
				s.logger.Debug("close progress stream", slog.Any("error", err))
			}
		}
	})
}

func (s *Stream) read() {
	defer close(s.finished)

	dec := newDecoder(s.body)
	for {
		f, err := dec.next()
		if err != nil {
			s.readFailed(err)
			return
		}

		if f.tooLarge {
			s.dropped.Add(1)
			s.logger.Warn("dropping oversized progress event",
				slog.String("event", f.event),
				slog.Int("limit_bytes", maxFrameBytes),
			)
			continue
		}

		ev, err := DecodeEvent([]byte(f.data))
		if err != nil {
			s.dropped.Add(1)
			s.logger.Warn("dropping malformed progress event",
				slog.String("event", f.event),
				slog.Any("error", err),
			)
			continue
		}

		s.mu.Lock()
		state, applied := s.machine.Apply(ev)
		terminal := s.machine.Terminal()
		s.mu.Unlock()
		if !applied {
			continue
		}
		if terminal {
			s.Close()
		}
		s.deliver(state)
		if terminal {
			return
		}
	}
}

func (s *Stream) readFailed(err error) {
	if s.closing.Load() || s.ctx.Err() != nil {
		s.Close()
		return
	}
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	s.logger.Warn("progress stream failed", slog.Any("error", err))

	s.mu.Lock()
	state, changed := s.machine.Fail(LostConnectionMessage)
	s.mu.Unlock()
	s.Close()
	if changed {
		s.deliver(state)
	}
}

// failOpen reports a connection that never came up.
func (s *Stream) failOpen() {
	s.closing.Store(true)
	s.cancel()
	s.mu.Lock()
	state, _ := s.machine.Fail(LostConnectionMessage)
	s.mu.Unlock()
	s.deliver(state)
	close(s.finished)
}

func (s *Stream) deliver(state models.ProgressState) {
	if s.handler != nil {
		s.handler(s, state)
	}
}
