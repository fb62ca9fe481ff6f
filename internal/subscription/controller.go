// Package subscription keeps one live change feed per view.
//
// A Controller is either list scoped (every case, optionally windowed by
// created_at) or record scoped (one case id). Open subscribes first, then
// loads the baseline and seeds the mirror, then applies whatever arrived
// in between, so no committed change falls into a gap. Close detaches
// synchronously: once it returns, nothing from the old feed can touch the
// mirror.
package subscription

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/psds-microservice/walkin-service/internal/changefeed"
	"github.com/psds-microservice/walkin-service/internal/errs"
	"github.com/psds-microservice/walkin-service/internal/mirror"
	"github.com/psds-microservice/walkin-service/internal/model"
	"github.com/psds-microservice/walkin-service/internal/store"
)

// Scope is the key of a subscription.
type Scope struct {
	// CaseID selects a single record. Empty means every row.
	CaseID string

	// Query narrows a list scope. Ignored when CaseID is set.
	Query model.CaseQuery
}

// All is the list-view scope.
func All(q model.CaseQuery) Scope { return Scope{Query: q} }

// Record is the detail-view scope for one case.
func Record(id string) Scope { return Scope{CaseID: id} }

func (s Scope) IsRecord() bool { return s.CaseID != "" }

func (s Scope) query() model.CaseQuery {
	if s.IsRecord() {
		return model.CaseQuery{ID: s.CaseID}
	}
	return s.Query
}

// Key names the scope, e.g. "case:<id>" or "cases:all".
func (s Scope) Key() string { return changefeed.FilterFor(s.query()).Scope() }

var ErrNotOpen = errors.New("subscription not open")

// Controller is safe for concurrent use. Do not call Open or Close from a
// mirror watcher: watchers run on the feed goroutine that Close waits for.
type Controller struct {
	store    store.Store
	mirror   *mirror.Mirror
	reporter errs.Reporter
	logger   *slog.Logger

	// op serializes Open and Close.
	op sync.Mutex

	mu    sync.Mutex
	gen   uint64
	scope Scope
	open  bool
	live  bool
	sub   store.Subscription
	err   error
	wg    sync.WaitGroup
}

type Option func(*Controller)

// WithMirror makes the controller feed a shared mirror instead of its own.
func WithMirror(m *mirror.Mirror) Option { return func(c *Controller) { c.mirror = m } }

func WithReporter(r errs.Reporter) Option { return func(c *Controller) { c.reporter = r } }

func WithLogger(l *slog.Logger) Option { return func(c *Controller) { c.logger = l } }

func New(s store.Store, opts ...Option) *Controller {
	c := &Controller{store: s, logger: slog.Default()}
	for _, o := range opts {
		o(c)
	}
	if c.mirror == nil {
		c.mirror = mirror.New()
	}
	if c.reporter == nil {
		c.reporter = errs.LogReporter{Logger: c.logger}
	}
	c.logger = c.logger.With("component", "subscription")
	return c
}

// Mirror is the collection this controller feeds.
func (c *Controller) Mirror() *mirror.Mirror { return c.mirror }

// Open replaces the current subscription with one for scope. On error the
// controller is left closed and the error is also reported.
func (c *Controller) Open(ctx context.Context, scope Scope) error {
	c.op.Lock()
	defer c.op.Unlock()
	c.teardown()

	q := scope.query()
	filter := changefeed.FilterFor(q)
	sub, err := c.store.Subscribe(ctx, filter)
	if err != nil {
		var subErr *errs.SubscriptionError
		if !errors.As(err, &subErr) {
			err = &errs.SubscriptionError{Scope: filter.Scope(), Err: err}
		}
		c.reporter.Report(err)
		return err
	}
	baseline, err := c.store.Query(ctx, q)
	if err != nil {
		sub.Unsubscribe()
		var se *errs.StoreError
		if !errors.As(err, &se) {
			err = &errs.StoreError{Op: "query", Err: err}
		}
		c.reporter.Report(err)
		return err
	}
	c.mirror.Seed(baseline)

	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.scope = scope
	c.open = true
	c.live = true
	c.sub = sub
	c.err = nil
	c.wg.Add(1)
	c.mu.Unlock()

	c.logger.Debug("opened", "scope", scope.Key(), "baseline", len(baseline))
	go c.loop(gen, sub, scope)
	return nil
}

func (c *Controller) loop(gen uint64, sub store.Subscription, scope Scope) {
	defer c.wg.Done()
	for e := range sub.Events() {
		if !c.current(gen) {
			return
		}
		c.mirror.Apply(e)
	}
	err := sub.Err()
	c.mu.Lock()
	stale := c.gen != gen
	if !stale {
		c.live = false
		c.err = err
	}
	c.mu.Unlock()
	if stale || err == nil {
		return
	}
	var subErr *errs.SubscriptionError
	if !errors.As(err, &subErr) {
		err = &errs.SubscriptionError{Scope: scope.Key(), Err: err}
	}
	c.logger.Warn("feed ended", "scope", scope.Key(), "err", errs.Loggable(err))
	c.reporter.Report(err)
}

func (c *Controller) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen == gen
}

// Close unsubscribes and clears the mirror so the next Open starts from a
// fresh baseline.
func (c *Controller) Close() {
	c.op.Lock()
	defer c.op.Unlock()
	c.teardown()
}

func (c *Controller) teardown() {
	c.mu.Lock()
	wasOpen := c.open
	sub := c.sub
	c.gen++
	c.open = false
	c.live = false
	c.sub = nil
	c.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	c.wg.Wait()
	if wasOpen {
		c.mirror.Reset()
	}
}

// Scope returns the open scope.
func (c *Controller) Scope() (Scope, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scope, c.open
}

// Live reports whether the feed is still delivering. A controller can be
// open but not live after a SubscriptionError; the mirror then keeps its
// last state until the owner re-opens.
func (c *Controller) Live() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live
}

// Err returns why the feed stopped, if it did.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Record returns the scoped record of a detail controller.
func (c *Controller) Record() (model.Case, bool) {
	c.mu.Lock()
	scope, open := c.scope, c.open
	c.mu.Unlock()
	if !open || !scope.IsRecord() {
		return model.Case{}, false
	}
	return c.mirror.Get(scope.CaseID)
}

// Reopen opens the last scope again, e.g. after a SubscriptionError.
func (c *Controller) Reopen(ctx context.Context) error {
	c.mu.Lock()
	scope, open := c.scope, c.open
	c.mu.Unlock()
	if !open {
		return ErrNotOpen
	}
	return c.Open(ctx, scope)
}
