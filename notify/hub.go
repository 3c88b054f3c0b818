// Package notify propagates committed session changes to the interested
// parties' live connections. Deliveries are hints to re-fetch: the session
// store stays the source of truth, and clients reconcile on reconnect.
package notify

import (
	"sync"

	"github.com/ArcaView/qualifyr/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// subscriberBuffer is the per-subscriber channel depth. A subscriber that
// cannot drain this many events is disconnected rather than silently
// skipped, so a live connection never misses a delivery.
const subscriberBuffer = 16

// Subscriber is one client connection's event feed.
type Subscriber struct {
	userID uuid.UUID
	ch     chan types.ChangeEvent

	// lastVersion fences deliveries per session: an event carrying an
	// older version than one already delivered for the same session is
	// discarded, so a subscriber never observes state moving backwards.
	lastVersion map[uuid.UUID]int64
	closed      bool
}

// Events returns the channel of change events. It is closed when the
// subscription ends, including when the subscriber falls too far behind.
func (s *Subscriber) Events() <-chan types.ChangeEvent {
	return s.ch
}

// Hub is an in-process publish/subscribe fan-out keyed by user id.
type Hub struct {
	mu   sync.Mutex
	subs map[uuid.UUID]map[*Subscriber]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		subs: make(map[uuid.UUID]map[*Subscriber]struct{}),
	}
}

// Subscribe registers a feed for the given user.
func (h *Hub) Subscribe(userID uuid.UUID) *Subscriber {
	sub := &Subscriber{
		userID:      userID,
		ch:          make(chan types.ChangeEvent, subscriberBuffer),
		lastVersion: make(map[uuid.UUID]int64),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[*Subscriber]struct{})
	}
	h.subs[userID][sub] = struct{}{}
	return sub
}

// Unsubscribe removes the feed and closes its channel.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(sub)
}

// Publish delivers the event to every live subscription of the given
// recipients. Duplicate recipient ids (admin == subscriber of both feeds)
// are deduplicated per subscriber by the session-version fence.
func (h *Hub) Publish(event types.ChangeEvent, recipients ...uuid.UUID) {
	if event.Session == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, userID := range recipients {
		for sub := range h.subs[userID] {
			h.deliverLocked(sub, event)
		}
	}
}

func (h *Hub) deliverLocked(sub *Subscriber, event types.ChangeEvent) {
	if sub.closed {
		return
	}

	sessionID := event.Session.ID
	if event.Session.Version <= sub.lastVersion[sessionID] {
		return
	}

	select {
	case sub.ch <- event:
		sub.lastVersion[sessionID] = event.Session.Version
	default:
		// Subscriber is not draining. Cutting the feed forces a
		// reconnect, and the client re-reads the store on reconnect.
		log.Warn().
			Str("user_id", sub.userID.String()).
			Msg("Notification subscriber too slow, disconnecting")
		h.dropLocked(sub)
	}
}

func (h *Hub) dropLocked(sub *Subscriber) {
	if sub.closed {
		return
	}
	sub.closed = true
	close(sub.ch)

	if set := h.subs[sub.userID]; set != nil {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, sub.userID)
		}
	}
}

// SubscriberCount reports the number of live feeds for a user.
func (h *Hub) SubscriberCount(userID uuid.UUID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[userID])
}
