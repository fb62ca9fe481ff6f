// Package changefeed fans change events out to subscribers.
//
// Every subscriber sees events in publish order. A subscriber that falls
// behind by more than its buffer is cut off with a SubscriptionError
// rather than silently missing events, since a mirror with a gap is
// wrong until re-seeded anyway.
package changefeed

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/psds-microservice/walkin-service/internal/errs"
	"github.com/psds-microservice/walkin-service/internal/model"
)

// DefaultBuffer is the per-subscriber event buffer.
const DefaultBuffer = 64

// Filter narrows a subscription. Zero value matches every case.
type Filter struct {
	// ID restricts to a single case.
	ID string

	// CreatedFrom and CreatedTo bound created_at, inclusive.
	CreatedFrom *time.Time
	CreatedTo   *time.Time
}

// Match reports whether an event passes the filter. Deletes carry no
// post-image, so they pass unless the id is filtered out; the reducer
// ignores deletes for records it never had.
func (f Filter) Match(e model.ChangeEvent) bool {
	if f.ID != "" && e.ID != f.ID {
		return false
	}
	if e.Case == nil {
		return true
	}
	return f.MatchCase(*e.Case)
}

// MatchCase reports whether c is inside the filter window.
func (f Filter) MatchCase(c model.Case) bool {
	if f.ID != "" && c.ID != f.ID {
		return false
	}
	if f.CreatedFrom != nil && c.CreatedAt.Before(*f.CreatedFrom) {
		return false
	}
	if f.CreatedTo != nil && c.CreatedAt.After(*f.CreatedTo) {
		return false
	}
	return true
}

// Scope names the filter for logs and errors.
func (f Filter) Scope() string {
	if f.ID != "" {
		return "case:" + f.ID
	}
	return "cases:all"
}

// Hub is safe for concurrent use.
type Hub struct {
	mu     sync.Mutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool
	buffer int
	logger *slog.Logger
}

func NewHub(buffer int, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:   map[uint64]*Subscription{},
		buffer: buffer,
		logger: logger.With("component", "changefeed"),
	}
}

// Subscription is one consumer's view of the hub.
type Subscription struct {
	hub    *Hub
	id     uint64
	filter Filter
	events chan model.ChangeEvent

	once sync.Once
	mu   sync.Mutex
	err  error
}

// Subscribe registers a consumer. Call Unsubscribe when done. After Close
// the returned subscription is already ended.
func (h *Hub) Subscribe(filter Filter) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	s := &Subscription{
		hub:    h,
		id:     h.nextID,
		filter: filter,
		events: make(chan model.ChangeEvent, h.buffer),
	}
	if h.closed {
		s.terminate(&errs.SubscriptionError{Scope: filter.Scope(), Err: errs.ErrSubscriptionClosed})
		return s
	}
	h.subs[s.id] = s
	h.logger.Debug("subscribed", "sub", s.id, "scope", filter.Scope())
	return s
}

// Publish delivers e to every matching subscriber. Delivery happens under
// the hub lock so concurrent publishers cannot interleave per-subscriber
// order.
func (h *Hub) Publish(e model.ChangeEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, s := range h.subs {
		if !s.filter.Match(e) {
			continue
		}
		select {
		case s.events <- e:
		default:
			h.logger.Warn("subscriber overflow, closing", "sub", id, "scope", s.filter.Scope())
			delete(h.subs, id)
			s.terminate(&errs.SubscriptionError{
				Scope: s.filter.Scope(),
				Err:   fmt.Errorf("consumer fell %d events behind", h.buffer),
			})
		}
	}
}

// Len returns the number of live subscriptions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close terminates every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, s := range h.subs {
		delete(h.subs, id)
		s.terminate(&errs.SubscriptionError{Scope: s.filter.Scope(), Err: errs.ErrSubscriptionClosed})
	}
}

// Events is closed when the subscription ends; check Err afterwards.
func (s *Subscription) Events() <-chan model.ChangeEvent { return s.events }

// Err returns why the subscription ended, or nil after a plain Unsubscribe.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Unsubscribe detaches from the hub. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.hub.mu.Lock()
	delete(s.hub.subs, s.id)
	s.hub.mu.Unlock()
	s.terminate(nil)
}

func (s *Subscription) terminate(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.events)
	})
}

// FilterFor returns the live-feed filter matching a baseline query. OpenOnly
// is not carried over: a case that gets closed must still reach the mirror
// as an update.
func FilterFor(q model.CaseQuery) Filter {
	return Filter{ID: q.ID, CreatedFrom: q.CreatedFrom, CreatedTo: q.CreatedTo}
}
