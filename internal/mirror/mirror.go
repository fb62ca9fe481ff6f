// Package mirror holds the client-side copy of a queried case set.
//
// The only ways in are Seed (baseline query result) and Apply (one change
// event through the feed reducer). Readers get snapshots that never expose
// a half-applied event.
package mirror

import (
	"sort"
	"sync"

	"github.com/psds-microservice/walkin-service/internal/feed"
	"github.com/psds-microservice/walkin-service/internal/model"
)

// Mirror is safe for concurrent use: one writer (the feed), many readers.
type Mirror struct {
	mu       sync.RWMutex
	cases    []model.Case
	seeded   bool
	version  uint64
	watchers []func(model.ChangeEvent)
}

func New() *Mirror {
	return &Mirror{}
}

// Seed replaces the whole collection.
func (m *Mirror) Seed(cases []model.Case) {
	seeded := make([]model.Case, len(cases))
	for i := range cases {
		seeded[i] = cases[i].Clone()
	}
	m.mu.Lock()
	m.cases = seeded
	m.seeded = true
	m.version++
	m.mu.Unlock()
}

// Apply folds one event into the collection and notifies watchers after
// the new state is visible. It reports whether the collection changed.
func (m *Mirror) Apply(e model.ChangeEvent) bool {
	m.mu.Lock()
	next := feed.Apply(m.cases, e)
	changed := !sameBacking(next, m.cases)
	if changed {
		m.cases = next
		m.version++
	}
	watchers := m.watchers
	m.mu.Unlock()

	if changed {
		for _, w := range watchers {
			w(e)
		}
	}
	return changed
}

// Reset drops all state; the next reader sees an empty, unseeded mirror.
func (m *Mirror) Reset() {
	m.mu.Lock()
	m.cases = nil
	m.seeded = false
	m.version++
	m.mu.Unlock()
}

// Watch registers fn to be called after each event that changed the
// collection. Watchers run on the applying goroutine.
func (m *Mirror) Watch(fn func(model.ChangeEvent)) {
	m.mu.Lock()
	m.watchers = append(m.watchers, fn)
	m.mu.Unlock()
}

// Snapshot returns a copy of the collection in feed order.
func (m *Mirror) Snapshot() []model.Case {
	return m.Filter(nil)
}

// Filter returns the cases for which keep is true, in feed order. A nil
// keep returns everything.
func (m *Mirror) Filter(keep func(model.Case) bool) []model.Case {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Case, 0, len(m.cases))
	for i := range m.cases {
		if keep == nil || keep(m.cases[i]) {
			out = append(out, m.cases[i].Clone())
		}
	}
	return out
}

// Get returns the case with the given id.
func (m *Mirror) Get(id string) (model.Case, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := range m.cases {
		if m.cases[i].ID == id {
			return m.cases[i].Clone(), true
		}
	}
	return model.Case{}, false
}

func (m *Mirror) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.cases)
}

// Seeded reports whether a baseline has been loaded since the last Reset.
func (m *Mirror) Seeded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.seeded
}

// Version increases on every visible change.
func (m *Mirror) Version() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version
}

// HideClosed keeps open cases only.
func HideClosed(c model.Case) bool { return c.ClosedAt == nil }

// ClosedLast orders open cases before closed ones, keeping feed order
// otherwise.
func ClosedLast(cases []model.Case) []model.Case {
	out := append([]model.Case(nil), cases...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ClosedAt == nil && out[j].ClosedAt != nil
	})
	return out
}

// feed.Apply returns its input unchanged for no-op events.
func sameBacking(a, b []model.Case) bool {
	if len(a) != len(b) {
		return false
	}
	if len(a) == 0 {
		return true
	}
	return &a[0] == &b[0]
}
