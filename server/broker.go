package server

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/aluiziolira/scrapedesk/models"
)

const defaultSubscriberBuffer = 64

type subscriber struct {
	id        string
	events    chan models.ProgressState
	closeOnce sync.Once
}

func (s *subscriber) send(state models.ProgressState) bool {
	select {
	case s.events <- state:
		return true
	default:
		return false
	}
}

func (s *subscriber) close() {
	s.closeOnce.Do(func() {
		close(s.events)
	})
}

// Broker fans progress states out to every connected progress stream.
type Broker struct {
	bufferSize int
	metrics    *Metrics
	logger     *slog.Logger

	mu      sync.RWMutex
	clients map[string]*subscriber
	closed  bool
}

// NewBroker builds a broker whose subscribers buffer bufferSize states.
func NewBroker(bufferSize int, metrics *Metrics, logger *slog.Logger) *Broker {
	if bufferSize <= 0 {
		bufferSize = defaultSubscriberBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		bufferSize: bufferSize,
		metrics:    metrics,
		logger:     logger,
		clients:    make(map[string]*subscriber),
	}
}

// Subscribe registers a stream. States published after Subscribe returns
// are delivered on the channel until cleanup is called, the subscriber
// falls behind, or the broker closes; the channel is closed in all three
// cases.
func (b *Broker) Subscribe() (events <-chan models.ProgressState, cleanup func()) {
	s := &subscriber{
		id:     uuid.NewString(),
		events: make(chan models.ProgressState, b.bufferSize),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		s.close()
		return s.events, func() {}
	}
	b.clients[s.id] = s
	count := len(b.clients)
	b.mu.Unlock()

	b.metrics.SetSubscribers(count)
	b.logger.Debug("progress subscriber added", slog.String("client_id", s.id), slog.Int("total_clients", count))
	return s.events, func() { b.remove(s.id) }
}

// Publish delivers state to every subscriber without blocking. A
// subscriber whose buffer is full is disconnected.
func (b *Broker) Publish(state models.ProgressState) {
	var slow []string
	b.mu.RLock()
	for _, s := range b.clients {
		if !s.send(state) {
			slow = append(slow, s.id)
		}
	}
	b.mu.RUnlock()

	for _, id := range slow {
		b.logger.Warn("progress subscriber too slow, disconnecting", slog.String("client_id", id))
		b.remove(id)
	}
}

// ClientCount returns the number of connected streams.
func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Close disconnects every subscriber and refuses new ones.
func (b *Broker) Close() {
	b.mu.Lock()
	clients := b.clients
	b.clients = make(map[string]*subscriber)
	b.closed = true
	b.mu.Unlock()

	for _, s := range clients {
		s.close()
	}
	b.metrics.SetSubscribers(0)
}

func (b *Broker) remove(id string) {
	b.mu.Lock()
	s, ok := b.clients[id]
	if ok {
		delete(b.clients, id)
	}
	count := len(b.clients)
	b.mu.Unlock()

	if ok {
		s.close()
		b.metrics.SetSubscribers(count)
		b.logger.Debug("progress subscriber removed", slog.String("client_id", id), slog.Int("total_clients", count))
	}
}
