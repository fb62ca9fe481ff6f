package mirror

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psds-microservice/walkin-service/internal/model"
)

func testCase(id string) model.Case {
	return model.Case{ID: id, Name: id, Contact: id, TicketNeeded: true}
}

func TestSeedAndApply(t *testing.T) {
	m := New()
	assert.False(t, m.Seeded())
	m.Seed([]model.Case{testCase("r1"), testCase("r2"), testCase("r3")})
	require.True(t, m.Seeded())

	r2 := testCase("r2")
	r2.Summary = "updated"
	assert.True(t, m.Apply(model.Inserted(testCase("r4"))))
	assert.True(t, m.Apply(model.Updated(r2)))
	assert.True(t, m.Apply(model.Deleted("r1")))
	assert.False(t, m.Apply(model.Deleted("r1")))
	assert.False(t, m.Apply(model.Updated(testCase("nope"))))

	snap := m.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "r2", snap[0].ID)
	assert.Equal(t, "updated", snap[0].Summary)
	assert.Equal(t, "r3", snap[1].ID)
	assert.Equal(t, "r4", snap[2].ID)
}

func TestSnapshotIsIsolated(t *testing.T) {
	m := New()
	link := "https://tickets.example.edu/1"
	c := testCase("a")
	c.TicketLink = &link
	m.Seed([]model.Case{c})

	snap := m.Snapshot()
	snap[0].Summary = "scribbled"
	*snap[0].TicketLink = "scribbled"

	got, ok := m.Get("a")
	require.True(t, ok)
	assert.Empty(t, got.Summary)
	assert.Equal(t, link, *got.TicketLink)
}

func TestWatchersSeeOnlyEffectiveEvents(t *testing.T) {
	m := New()
	m.Seed([]model.Case{testCase("a")})
	var seen []string
	m.Watch(func(e model.ChangeEvent) {
		// state must already be visible to the watcher
		_, ok := m.Get("b")
		seen = append(seen, fmt.Sprintf("%s:%s:%v", e.Kind, e.ID, ok))
	})

	m.Apply(model.Inserted(testCase("b")))
	m.Apply(model.Updated(testCase("zzz")))
	m.Apply(model.Deleted("b"))

	assert.Equal(t, []string{"inserted:b:true", "deleted:b:false"}, seen)
}

func TestResetClearsBaseline(t *testing.T) {
	m := New()
	m.Seed([]model.Case{testCase("a")})
	v := m.Version()
	m.Reset()
	assert.False(t, m.Seeded())
	assert.Zero(t, m.Len())
	assert.Greater(t, m.Version(), v)
}

func TestFilterAndClosedLast(t *testing.T) {
	closedAt := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	a, b, c := testCase("a"), testCase("b"), testCase("c")
	a.ClosedAt = &closedAt
	m := New()
	m.Seed([]model.Case{a, b, c})

	open := m.Filter(HideClosed)
	require.Len(t, open, 2)
	assert.Equal(t, "b", open[0].ID)

	ordered := ClosedLast(m.Snapshot())
	assert.Equal(t, "b", ordered[0].ID)
	assert.Equal(t, "c", ordered[1].ID)
	assert.Equal(t, "a", ordered[2].ID)
}

func TestConcurrentReadersNeverSeeHalfAppliedEvents(t *testing.T) {
	m := New()
	m.Seed(nil)
	var wg sync.WaitGroup
	stop := make(chan struct{})
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				snap := m.Snapshot()
				seen := map[string]bool{}
				for _, c := range snap {
					if seen[c.ID] {
						t.Errorf("duplicate %s", c.ID)
						return
					}
					seen[c.ID] = true
				}
			}
		}()
	}
	for i := 0; i < 500; i++ {
		id := fmt.Sprintf("c%d", i%7)
		m.Apply(model.Inserted(testCase(id)))
		if i%3 == 0 {
			m.Apply(model.Deleted(id))
		}
	}
	close(stop)
	wg.Wait()
}
