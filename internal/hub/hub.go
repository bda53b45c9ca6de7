// Package hub fans classified events out to live observers.
package hub

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/atikulmunna/warden/internal/model"
)

const subscriberBuffer = 1024

// Hub broadcasts every published event to all subscribers. A subscriber
// that falls behind loses events; publishers never block.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[chan model.Event]struct{}
	closed      bool
	dropped     atomic.Int64
	log         *zap.Logger
}

// New creates an empty Hub.
func New(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		subscribers: make(map[chan model.Event]struct{}),
		log:         logger.Named("hub"),
	}
}

// Subscribe returns a buffered channel receiving every event published
// from now on, and a function that detaches it.
func (h *Hub) Subscribe() (<-chan model.Event, func()) {
	ch := make(chan model.Event, subscriberBuffer)
	h.mu.Lock()
	if h.closed {
		close(ch)
	} else {
		h.subscribers[ch] = struct{}{}
	}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.subscribers[ch]; ok {
				delete(h.subscribers, ch)
				close(ch)
			}
		})
	}
}

// Dropped returns the number of deliveries skipped for slow subscribers.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Subscribers returns the number of attached subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Publish delivers ev to every subscriber with room for it.
func (h *Hub) Publish(ev model.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subscribers {
		select {
		case ch <- ev:
		default:
			if n := h.dropped.Add(1); n%1000 == 1 {
				h.log.Warn("dropped event for slow subscriber", zap.Int64("total_dropped", n))
			}
		}
	}
}

// Close detaches and closes every subscriber. Later publishes are no-ops.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subscribers {
		close(ch)
		delete(h.subscribers, ch)
	}
	h.closed = true
}
