// Package realtime pushes message events to connected clients, in process
// through Hub and across instances through RedisBroker.
package realtime

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"bookswap/internal/messaging"
	"bookswap/pkg/logger"
)

// Filter selects events by exchange or by receiver. A zero field matches
// anything; the zero Filter matches every event.
type Filter struct {
	ExchangeID uuid.UUID
	ReceiverID uuid.UUID
}

func (f Filter) Match(ev messaging.Event) bool {
	if f.ExchangeID != uuid.Nil && f.ExchangeID != ev.ExchangeID {
		return false
	}
	if f.ReceiverID != uuid.Nil && f.ReceiverID != ev.ReceiverID {
		return false
	}
	return true
}

// Subscription receives matching events on C until it is closed, either by
// Close or by the hub when the subscriber falls behind.
type Subscription struct {
	C <-chan messaging.Event

	c      chan messaging.Event
	filter Filter
	hub    *Hub
	once   sync.Once
}

// Close unsubscribes and closes C. It is safe to call more than once.
func (s *Subscription) Close() {
	s.hub.remove(s)
}

// Hub delivers events to local subscribers without blocking the publisher.
type Hub struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
	log  zerolog.Logger
}

func NewHub() *Hub {
	return &Hub{
		subs: make(map[*Subscription]struct{}),
		log:  logger.Component("realtime"),
	}
}

// Subscribe registers a subscriber with room for buffer pending events.
func (h *Hub) Subscribe(f Filter, buffer int) *Subscription {
	if buffer < 1 {
		buffer = 1
	}
	c := make(chan messaging.Event, buffer)
	s := &Subscription{C: c, c: c, filter: f, hub: h}

	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	return s
}

// Publish hands ev to every matching subscriber. A subscriber whose buffer
// is full is dropped rather than waited for.
func (h *Hub) Publish(_ context.Context, ev messaging.Event) {
	var slow []*Subscription

	h.mu.RLock()
	for s := range h.subs {
		if !s.filter.Match(ev) {
			continue
		}
		select {
		case s.c <- ev:
		default:
			slow = append(slow, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range slow {
		h.log.Warn().
			Str("exchange_id", s.filter.ExchangeID.String()).
			Str("receiver_id", s.filter.ReceiverID.String()).
			Msg("dropping slow subscriber")
		h.remove(s)
	}
}

// Len reports the number of live subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	delete(h.subs, s)
	h.mu.Unlock()
	s.once.Do(func() { close(s.c) })
}
