package services

import (
	"sync"
	"time"
)

// TransitionEvent is streamed to operators whenever a visit changes status.
type TransitionEvent struct {
	VisitID      string    `json:"visit_id"`
	RestaurantID string    `json:"restaurant_id"`
	From         string    `json:"from"`
	To           string    `json:"to"`
	Event        string    `json:"event"`
	At           time.Time `json:"at"`
}

// SSEHub fans transition events out to connected stream clients.
type SSEHub struct {
	clients map[string]chan TransitionEvent
	mu      sync.RWMutex
}

func NewSSEHub() *SSEHub {
	return &SSEHub{
		clients: make(map[string]chan TransitionEvent),
	}
}

// Subscribe registers a client and returns its event channel.
func (h *SSEHub) Subscribe(clientID string) <-chan TransitionEvent {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan TransitionEvent, 100)
	h.clients[clientID] = ch
	return ch
}

func (h *SSEHub) Unsubscribe(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.clients[clientID]; ok {
		close(ch)
		delete(h.clients, clientID)
	}
}

// Publish never blocks; a client whose buffer is full misses the event.
func (h *SSEHub) Publish(event TransitionEvent) {
	if h == nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.clients {
		select {
		case ch <- event:
		default:
		}
	}
}

func (h *SSEHub) ClientCount() int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
