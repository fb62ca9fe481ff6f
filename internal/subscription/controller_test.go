package subscription

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psds-microservice/walkin-service/internal/changefeed"
	"github.com/psds-microservice/walkin-service/internal/errs"
	"github.com/psds-microservice/walkin-service/internal/logging"
	"github.com/psds-microservice/walkin-service/internal/mirror"
	"github.com/psds-microservice/walkin-service/internal/model"
	"github.com/psds-microservice/walkin-service/internal/store"
)

type fakeStore struct {
	mu          sync.Mutex
	hub         *changefeed.Hub
	cases       []model.Case
	queryErr    error
	subErr      error
	beforeQuery func()
	filters     []changefeed.Filter
}

func newFakeStore(cases ...model.Case) *fakeStore {
	return &fakeStore{hub: changefeed.NewHub(16, logging.Discard()), cases: cases}
}

func (f *fakeStore) Query(_ context.Context, q model.CaseQuery) ([]model.Case, error) {
	f.mu.Lock()
	hook := f.beforeQuery
	f.beforeQuery = nil
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queryErr != nil {
		return nil, &errs.StoreError{Op: "query", Err: f.queryErr}
	}
	filter := changefeed.FilterFor(q)
	var out []model.Case
	for _, c := range f.cases {
		if filter.MatchCase(c) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeStore) Mutate(context.Context, string, model.CasePatch) error { return nil }

func (f *fakeStore) Subscribe(_ context.Context, filter changefeed.Filter) (store.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subErr != nil {
		return nil, f.subErr
	}
	f.filters = append(f.filters, filter)
	return f.hub.Subscribe(filter), nil
}

func (f *fakeStore) publish(e model.ChangeEvent) {
	f.mu.Lock()
	hub := f.hub
	f.mu.Unlock()
	hub.Publish(e)
}

func rec(id, name string) model.Case {
	return model.Case{ID: id, Name: name, Contact: id, CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func names(cases []model.Case) []string {
	out := make([]string, len(cases))
	for i, c := range cases {
		out[i] = c.Name
	}
	return out
}

func eventuallyNames(t *testing.T, m *mirror.Mirror, want ...string) {
	t.Helper()
	require.Eventually(t, func() bool {
		got := names(m.Snapshot())
		return assert.ObjectsAreEqual(want, got)
	}, 2*time.Second, 5*time.Millisecond, "mirror never reached %v, last %v", want, names(m.Snapshot()))
}

func newController(s store.Store, opts ...Option) (*Controller, *errs.Collector) {
	col := &errs.Collector{}
	opts = append([]Option{WithReporter(col), WithLogger(logging.Discard())}, opts...)
	return New(s, opts...), col
}

func TestOpenSeedsThenFollowsFeed(t *testing.T) {
	fs := newFakeStore(rec("r1", "r1"), rec("r2", "r2"), rec("r3", "r3"))
	c, col := newController(fs)
	require.NoError(t, c.Open(context.Background(), All(model.CaseQuery{})))
	defer c.Close()

	assert.True(t, c.Mirror().Seeded())
	assert.Equal(t, []string{"r1", "r2", "r3"}, names(c.Mirror().Snapshot()))

	fs.publish(model.Inserted(rec("r4", "r4")))
	fs.publish(model.Updated(rec("r2", "r2'")))
	fs.publish(model.Deleted("r1"))

	eventuallyNames(t, c.Mirror(), "r2'", "r3", "r4")
	assert.True(t, c.Live())
	assert.Empty(t, col.Errors())
}

func TestChangesBetweenSubscribeAndQueryAreNotLost(t *testing.T) {
	fs := newFakeStore(rec("r1", "r1"))
	fs.beforeQuery = func() {
		// Committed after the subscription exists but before the baseline
		// is read: the baseline misses it, the feed has it.
		fs.publish(model.Updated(rec("r1", "r1'")))
	}
	c, _ := newController(fs)
	require.NoError(t, c.Open(context.Background(), All(model.CaseQuery{})))
	defer c.Close()

	eventuallyNames(t, c.Mirror(), "r1'")
}

func TestInsertAlreadyInBaselineIsNotDuplicated(t *testing.T) {
	fs := newFakeStore()
	fs.beforeQuery = func() {
		fs.mu.Lock()
		fs.cases = append(fs.cases, rec("r1", "r1"))
		fs.mu.Unlock()
		fs.publish(model.Inserted(rec("r1", "r1")))
	}
	c, _ := newController(fs)
	require.NoError(t, c.Open(context.Background(), All(model.CaseQuery{})))
	defer c.Close()

	fs.publish(model.Inserted(rec("r2", "r2")))
	eventuallyNames(t, c.Mirror(), "r1", "r2")
}

func TestReopenTearsDownPrevious(t *testing.T) {
	fs := newFakeStore(rec("a", "a"), rec("b", "b"))
	c, _ := newController(fs)
	ctx := context.Background()

	require.NoError(t, c.Open(ctx, Record("a")))
	require.NoError(t, c.Open(ctx, Record("b")))
	defer c.Close()

	assert.Equal(t, 1, fs.hub.Len(), "no leaked listener")
	scope, open := c.Scope()
	require.True(t, open)
	assert.Equal(t, "b", scope.CaseID)

	fs.publish(model.Updated(rec("a", "a'")))
	fs.publish(model.Updated(rec("b", "b'")))
	eventuallyNames(t, c.Mirror(), "b'")

	got, ok := c.Record()
	require.True(t, ok)
	assert.Equal(t, "b'", got.Name)
}

func TestCloseDetachesAndClears(t *testing.T) {
	fs := newFakeStore(rec("a", "a"))
	c, _ := newController(fs)
	require.NoError(t, c.Open(context.Background(), Record("a")))

	c.Close()
	assert.Zero(t, fs.hub.Len())
	assert.False(t, c.Mirror().Seeded())
	assert.Zero(t, c.Mirror().Len())
	_, ok := c.Record()
	assert.False(t, ok)

	version := c.Mirror().Version()
	fs.publish(model.Updated(rec("a", "late")))
	assert.Equal(t, version, c.Mirror().Version(), "no event after teardown reaches the mirror")

	c.Close()
	assert.ErrorIs(t, c.Reopen(context.Background()), ErrNotOpen)
}

func TestRecordScopeUsesPrivateShadow(t *testing.T) {
	fs := newFakeStore(rec("a", "a"), rec("b", "b"))
	shared := mirror.New()
	list, _ := newController(fs, WithMirror(shared))
	detail, _ := newController(fs)
	ctx := context.Background()

	require.NoError(t, list.Open(ctx, All(model.CaseQuery{})))
	defer list.Close()
	require.NoError(t, detail.Open(ctx, Record("a")))

	assert.Equal(t, []string{"a"}, names(detail.Mirror().Snapshot()))
	fs.publish(model.Updated(rec("a", "a'")))
	eventuallyNames(t, detail.Mirror(), "a'")
	eventuallyNames(t, shared, "a'", "b")

	detail.Close()
	assert.Equal(t, []string{"a'", "b"}, names(shared.Snapshot()), "closing the detail view leaves the list alone")
}

func TestSubscribeFailure(t *testing.T) {
	fs := newFakeStore()
	fs.subErr = errors.New("connection refused")
	c, col := newController(fs)

	err := c.Open(context.Background(), All(model.CaseQuery{}))
	var subErr *errs.SubscriptionError
	require.ErrorAs(t, err, &subErr)
	assert.Equal(t, "cases:all", subErr.Scope)
	_, open := c.Scope()
	assert.False(t, open)
	require.Len(t, col.Errors(), 1)
}

func TestQueryFailureUnsubscribes(t *testing.T) {
	fs := newFakeStore()
	fs.queryErr = errors.New("timeout")
	c, col := newController(fs)

	err := c.Open(context.Background(), All(model.CaseQuery{}))
	var se *errs.StoreError
	require.ErrorAs(t, err, &se)
	assert.Zero(t, fs.hub.Len())
	assert.False(t, c.Mirror().Seeded())
	require.Len(t, col.Errors(), 1)
}

func TestFeedDropKeepsMirrorAndReports(t *testing.T) {
	fs := newFakeStore(rec("a", "a"))
	c, col := newController(fs)
	ctx := context.Background()
	require.NoError(t, c.Open(ctx, All(model.CaseQuery{})))
	defer c.Close()

	fs.hub.Close()
	require.Eventually(t, func() bool { return !c.Live() }, 2*time.Second, 5*time.Millisecond)

	var subErr *errs.SubscriptionError
	require.ErrorAs(t, c.Err(), &subErr)
	assert.ErrorIs(t, c.Err(), errs.ErrSubscriptionClosed)
	assert.Equal(t, []string{"a"}, names(c.Mirror().Snapshot()), "last known good state stays")
	require.Len(t, col.Errors(), 1)
	assert.Equal(t, "subscription", errs.Kind(col.Errors()[0]))

	// The owner decides to re-open against a healthy feed.
	fs.mu.Lock()
	fs.hub = changefeed.NewHub(16, logging.Discard())
	fs.mu.Unlock()
	require.NoError(t, c.Reopen(ctx))
	assert.True(t, c.Live())
	assert.NoError(t, c.Err())
	fs.publish(model.Inserted(rec("b", "b")))
	eventuallyNames(t, c.Mirror(), "a", "b")
}

func TestWindowedListScope(t *testing.T) {
	early := rec("early", "early")
	late := rec("late", "late")
	late.CreatedAt = early.CreatedAt.Add(48 * time.Hour)
	fs := newFakeStore(early, late)
	from := early.CreatedAt.Add(time.Hour)

	c, _ := newController(fs)
	require.NoError(t, c.Open(context.Background(), All(model.CaseQuery{CreatedFrom: &from})))
	defer c.Close()

	assert.Equal(t, []string{"late"}, names(c.Mirror().Snapshot()))
	require.Len(t, fs.filters, 1)
	assert.Equal(t, &from, fs.filters[0].CreatedFrom)

	// An update for a record outside the window never re-admits it.
	fs.publish(model.Updated(rec("early", "early'")))
	fs.publish(model.Updated(model.Case{ID: "late", Name: "late'", CreatedAt: late.CreatedAt}))
	eventuallyNames(t, c.Mirror(), "late'")
}

func TestScopeKey(t *testing.T) {
	assert.Equal(t, "case:x", Record("x").Key())
	assert.Equal(t, "cases:all", All(model.CaseQuery{OpenOnly: true}).Key())
	assert.True(t, Record("x").IsRecord())
	assert.False(t, All(model.CaseQuery{}).IsRecord())
}
