// Package events fans out change notifications to the clients of a user.
package events

import (
	"sync"

	"github.com/dmitrijs2005/finkeeper/internal/syncapi"
)

type subscriber struct {
	clientID string
	ch       chan syncapi.ChangeEvent
}

// Hub keeps the live subscriptions per user. Delivery is lossy: a slow
// subscriber only ever holds the latest event.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[*subscriber]struct{}
	closed bool
}

func NewHub() *Hub {
	return &Hub{subs: map[string]map[*subscriber]struct{}{}}
}

// Subscribe registers clientID of userID. The channel is closed by cancel
// or by Close.
func (h *Hub) Subscribe(userID, clientID string) (<-chan syncapi.ChangeEvent, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := &subscriber{clientID: clientID, ch: make(chan syncapi.ChangeEvent, 1)}
	if h.closed {
		close(s.ch)
		return s.ch, func() {}
	}
	if h.subs[userID] == nil {
		h.subs[userID] = map[*subscriber]struct{}{}
	}
	h.subs[userID][s] = struct{}{}

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.subs[userID][s]; ok {
				delete(h.subs[userID], s)
				if len(h.subs[userID]) == 0 {
					delete(h.subs, userID)
				}
				close(s.ch)
			}
		})
	}
}

// Publish notifies every subscriber of userID except the origin client.
func (h *Hub) Publish(userID, originClientID string, serverTime int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ev := syncapi.ChangeEvent{Type: syncapi.EventChanged, ServerTime: serverTime}
	for s := range h.subs[userID] {
		if s.clientID != "" && s.clientID == originClientID {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			// replace the pending event with the newer one
			select {
			case <-s.ch:
			default:
			}
			s.ch <- ev
		}
	}
}

// Subscribers counts live subscriptions of userID.
func (h *Hub) Subscribers(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[userID])
}

// Close ends every subscription. Later subscriptions are closed at once.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for user, subs := range h.subs {
		for s := range subs {
			close(s.ch)
		}
		delete(h.subs, user)
	}
}
