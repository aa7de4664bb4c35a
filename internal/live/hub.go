package live

import (
	"sync"

	"pos-ledger/internal/logger"
	"pos-ledger/internal/models"
)

const subscriberBuffer = 16

// Hub fans committed session events out to every subscriber of that session.
// Slow subscribers lose events rather than block publishers; each event carries
// the full session so the next one brings them up to date.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[chan *models.SessionEvent]struct{}
	log    *logger.Logger
	closed bool
}

func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		subs: make(map[string]map[chan *models.SessionEvent]struct{}),
		log:  log,
	}
}

// Subscribe returns a channel of events for sessionID and a func that
// unsubscribes and closes the channel.
func (h *Hub) Subscribe(sessionID string) (<-chan *models.SessionEvent, func()) {
	ch := make(chan *models.SessionEvent, subscriberBuffer)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[chan *models.SessionEvent]struct{})
	}
	h.subs[sessionID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if set, ok := h.subs[sessionID]; ok {
				if _, ok := set[ch]; ok {
					delete(set, ch)
					close(ch)
				}
				if len(set) == 0 {
					delete(h.subs, sessionID)
				}
			}
		})
	}
}

func (h *Hub) Publish(event *models.SessionEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subs[event.SessionID] {
		select {
		case ch <- event:
		default:
			h.log.Warn("LIVE", "Dropping event "+event.Type+" for slow subscriber on session "+event.SessionID)
		}
	}
}

func (h *Hub) Subscribers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[sessionID])
}

// Close ends every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, set := range h.subs {
		for ch := range set {
			close(ch)
		}
		delete(h.subs, id)
	}
	h.closed = true
}
