package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/Qosay-AlShatel/IoT-Device-Metrics-Reporter/internal/logger"
	"github.com/Qosay-AlShatel/IoT-Device-Metrics-Reporter/internal/model"
)

const (
	messageDevices = "devices"
	writeWait      = 10 * time.Second
	sendBuffer     = 8
)

type subscriber struct {
	send chan []byte
}

// offer queues data without blocking. A viewer that falls behind misses
// intermediate listings; the next one supersedes them anyway.
func (s *subscriber) offer(data []byte) bool {
	select {
	case s.send <- data:
		return true
	default:
		return false
	}
}

// hub fans listings out to websocket subscribers. Only the connection's own
// handler goroutine writes to it.
type hub struct {
	mu          sync.Mutex
	subscribers map[*subscriber]struct{}
	pending     chan struct{}
	done        chan struct{}
	logger      logger.Logger
}

func newHub(log logger.Logger) *hub {
	return &hub{
		subscribers: make(map[*subscriber]struct{}),
		pending:     make(chan struct{}, 1),
		done:        make(chan struct{}),
		logger:      log,
	}
}

func (h *hub) add() *subscriber {
	sub := &subscriber{send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	h.subscribers[sub] = struct{}{}
	n := len(h.subscribers)
	h.mu.Unlock()

	h.logger.Debug().Int("subscribers", n).Msg("Viewer connected")

	return sub
}

func (h *hub) remove(sub *subscriber) {
	h.mu.Lock()
	delete(h.subscribers, sub)
	n := len(h.subscribers)
	h.mu.Unlock()

	h.logger.Debug().Int("subscribers", n).Msg("Viewer disconnected")
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.subscribers)
}

// notify requests a broadcast. Bursts of reports collapse into one.
func (h *hub) notify() {
	select {
	case h.pending <- struct{}{}:
	default:
	}
}

func (h *hub) run(ctx context.Context, interval time.Duration, build func() model.Listing) {
	if interval <= 0 {
		interval = 10 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.pending:
			h.broadcast(build)
		case <-ticker.C:
			// status can flip to offline without any new report
			h.broadcast(build)
		}
	}
}

func (h *hub) broadcast(build func() model.Listing) {
	if h.count() == 0 {
		return
	}

	listing := build()
	listing.Type = messageDevices

	data, err := json.Marshal(listing)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode device listing")
		return
	}

	h.mu.Lock()
	subs := make([]*subscriber, 0, len(h.subscribers))
	for sub := range h.subscribers {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		if !sub.offer(data) {
			h.logger.Debug().Msg("Viewer lagging, listing dropped")
		}
	}
}
