// Package notify fans subsystem change events out from the backend watcher
// to the protocol sessions blocked in idle.
//
// Subscribers receive events on a buffered channel and are never blocked on:
// a subscriber that falls behind loses events, which is acceptable because
// subsystem names are idempotent. A session that learns "playlist changed"
// twice reports it once.
package notify

import "sync"

// subscriberBuffer bounds how many undelivered events one subscriber may
// accumulate. There are only a handful of distinct subsystem names, so a
// small buffer already makes drops unlikely.
const subscriberBuffer = 16

// A Hub distributes subsystem change names to any number of subscribers.
// The zero value is not usable; use [NewHub].
type Hub struct {
	subscribers map[chan string]struct{}
	mu          sync.Mutex
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subscribers: make(map[chan string]struct{})}
}

// Subscribe registers a new subscriber and returns its event channel.
// The channel stays open until [Hub.Unsubscribe].
func (h *Hub) Subscribe() <-chan string {
	ch := make(chan string, subscriberBuffer)

	h.mu.Lock()
	defer h.mu.Unlock()

	h.subscribers[ch] = struct{}{}

	return ch
}

// Unsubscribe removes a subscriber previously returned by [Hub.Subscribe]
// and closes its channel. Unsubscribing an unknown channel is a no-op.
func (h *Hub) Unsubscribe(sub <-chan string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.subscribers {
		if ch == sub {
			delete(h.subscribers, ch)
			close(ch)

			return
		}
	}
}

// Publish delivers a subsystem name to every current subscriber. Subscribers
// whose buffer is full are skipped.
func (h *Hub) Publish(subsystem string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.subscribers {
		select {
		case ch <- subsystem:
		default:
		}
	}
}
