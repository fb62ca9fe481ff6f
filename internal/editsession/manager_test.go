package editsession

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psds-microservice/walkin-service/internal/clock"
	"github.com/psds-microservice/walkin-service/internal/errs"
)

var epoch = time.Date(2026, 4, 6, 8, 30, 0, 0, time.UTC)

type harness struct {
	m        *Manager
	clock    *clock.FakeClock
	reported *errs.Collector
	changes  map[string][]string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clock:    clock.Fake(epoch),
		reported: &errs.Collector{},
		changes:  map[string][]string{},
	}
	record := func(name string) func(string) {
		return func(v string) { h.changes[name] = append(h.changes[name], v) }
	}
	fields := []Field{
		{Name: "name", OnChange: record("name")},
		{Name: "summary", OnChange: record("summary")},
		{Name: "phoneNumber", Constraint: PhoneNumber, OnChange: record("phoneNumber")},
		{Name: "ticketLink", Constraint: Link, OnChange: record("ticketLink"), IdleTimeout: 2 * time.Second},
	}
	m, err := New(fields, map[string]string{
		"name":        "Ada",
		"summary":     "laptop will not boot",
		"phoneNumber": "",
	}, WithClock(h.clock), WithReporter(h.reported))
	require.NoError(t, err)
	h.m = m
	return h
}

func (h *harness) state(t *testing.T, field string) State {
	t.Helper()
	s, err := h.m.Session(field)
	require.NoError(t, err)
	return s
}

func TestActivateSeedsDraftFromCommittedValue(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.m.Activate("summary"))
	s := h.state(t, "summary")
	assert.True(t, s.IsActive)
	assert.True(t, s.Focused)
	assert.Equal(t, "laptop will not boot", s.EditingValue)
	assert.Equal(t, epoch, s.LastInteractionAt)
}

func TestActivateOtherFieldDiscardsDraft(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.m.Activate("summary"))
	require.NoError(t, h.m.UpdateDraft("summary", "half typed"))
	require.NoError(t, h.m.Activate("name"))

	summary := h.state(t, "summary")
	assert.False(t, summary.IsActive)
	assert.Equal(t, "laptop will not boot", summary.EditingValue)
	assert.Empty(t, h.changes["summary"], "switching fields must not save")

	active, ok := h.m.Active()
	require.True(t, ok)
	assert.Equal(t, "name", active)
}

func TestAtMostOneActiveField(t *testing.T) {
	h := newHarness(t)
	names := h.m.Fields()
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		field := names[rng.Intn(len(names))]
		switch rng.Intn(5) {
		case 0, 1:
			_ = h.m.Activate(field)
		case 2:
			_ = h.m.UpdateDraft(field, "x")
		case 3:
			_ = h.m.Cancel(field)
		case 4:
			_ = h.m.Blur(field)
			h.clock.Advance(time.Duration(rng.Intn(5)) * time.Second)
		}
		active := 0
		for _, n := range names {
			if h.state(t, n).IsActive {
				active++
			}
		}
		require.LessOrEqual(t, active, 1, "step %d", i)
	}
}

func TestCommitInvalidRevertsAndSkipsOnChange(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.m.Activate("phoneNumber"))
	require.NoError(t, h.m.UpdateDraft("phoneNumber", "555-0100"))

	err := h.m.Commit("phoneNumber")
	var verr *errs.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "phoneNumber", verr.Field)

	s := h.state(t, "phoneNumber")
	assert.False(t, s.IsActive)
	assert.Empty(t, s.Value)
	assert.Empty(t, s.EditingValue)
	assert.Empty(t, h.changes["phoneNumber"])
	require.Len(t, h.reported.Errors(), 1)
	assert.Equal(t, "validation", errs.Kind(h.reported.Errors()[0]))
}

func TestCommitValidCallsOnChangeWithoutTouchingValue(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.m.Activate("phoneNumber"))
	require.NoError(t, h.m.UpdateDraft("phoneNumber", "8055551234"))
	require.NoError(t, h.m.Commit("phoneNumber"))

	assert.Equal(t, []string{"8055551234"}, h.changes["phoneNumber"])
	s := h.state(t, "phoneNumber")
	assert.False(t, s.IsActive)
	assert.Empty(t, s.Value, "committed value waits for the feed echo")

	h.m.Reseed(map[string]string{"phoneNumber": "8055551234"})
	assert.Equal(t, "8055551234", h.state(t, "phoneNumber").Value)
}

func TestCommitEmptyPhoneIsAllowed(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.m.Activate("phoneNumber"))
	require.NoError(t, h.m.Commit("phoneNumber"))
	assert.Equal(t, []string{""}, h.changes["phoneNumber"])
}

func TestCancelDiscardsDraft(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.m.Activate("name"))
	require.NoError(t, h.m.UpdateDraft("name", "Grace"))
	require.NoError(t, h.m.Cancel("name"))

	s := h.state(t, "name")
	assert.False(t, s.IsActive)
	assert.Equal(t, "Ada", s.EditingValue)
	assert.Empty(t, h.changes["name"])
}

func TestOperationsOnClosedFieldFail(t *testing.T) {
	h := newHarness(t)
	assert.ErrorIs(t, h.m.Commit("name"), ErrNotEditing)
	assert.ErrorIs(t, h.m.UpdateDraft("name", "x"), ErrNotEditing)
	assert.ErrorIs(t, h.m.Activate("nope"), errs.ErrUnknownField)
}

func TestIdleTimeoutCancelsBlurredSession(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.m.Activate("summary"))
	require.NoError(t, h.m.UpdateDraft("summary", "draft"))
	require.NoError(t, h.m.Blur("summary"))

	h.clock.Advance(DefaultIdleTimeout - time.Millisecond)
	assert.True(t, h.state(t, "summary").IsActive)

	h.clock.Advance(time.Millisecond)
	s := h.state(t, "summary")
	assert.False(t, s.IsActive)
	assert.Equal(t, "laptop will not boot", s.EditingValue)
	assert.Empty(t, h.changes["summary"])
	assert.Zero(t, h.clock.Pending())
}

func TestFocusReturnStopsIdleTimer(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.m.Activate("summary"))
	require.NoError(t, h.m.Blur("summary"))
	h.clock.Advance(3 * time.Second)
	require.NoError(t, h.m.Focus("summary"))
	h.clock.Advance(time.Minute)
	assert.True(t, h.state(t, "summary").IsActive)

	require.NoError(t, h.m.Blur("summary"))
	require.NoError(t, h.m.UpdateDraft("summary", "typing refocuses"))
	h.clock.Advance(time.Minute)
	assert.True(t, h.state(t, "summary").IsActive)
}

func TestStaleTimerDoesNotCloseNewSession(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.m.Activate("summary"))
	require.NoError(t, h.m.Blur("summary"))
	require.NoError(t, h.m.Activate("name"))
	h.clock.Advance(time.Minute)

	active, ok := h.m.Active()
	require.True(t, ok)
	assert.Equal(t, "name", active)
}

func TestPerFieldIdleTimeout(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.m.Activate("ticketLink"))
	require.NoError(t, h.m.Blur("ticketLink"))
	h.clock.Advance(2 * time.Second)
	_, ok := h.m.Active()
	assert.False(t, ok)
}

func TestReseedKeepsOpenDraftAndUpdatesOthers(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.m.Activate("summary"))
	require.NoError(t, h.m.UpdateDraft("summary", "my draft"))

	h.m.Reseed(map[string]string{
		"name":    "Ada Lovelace",
		"summary": "laptop will not boot",
		"unknown": "ignored",
	})

	summary := h.state(t, "summary")
	assert.True(t, summary.IsActive)
	assert.Equal(t, "my draft", summary.EditingValue)

	name := h.state(t, "name")
	assert.Equal(t, "Ada Lovelace", name.Value)
	assert.Equal(t, "Ada Lovelace", name.EditingValue)
}

func TestReseedOfOpenFieldKeepsDraftButMovesValue(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.m.Activate("summary"))
	require.NoError(t, h.m.UpdateDraft("summary", "my draft"))
	h.m.Reseed(map[string]string{"summary": "changed elsewhere"})

	s := h.state(t, "summary")
	assert.Equal(t, "changed elsewhere", s.Value)
	assert.Equal(t, "my draft", s.EditingValue)

	require.NoError(t, h.m.Cancel("summary"))
	assert.Equal(t, "changed elsewhere", h.state(t, "summary").EditingValue)
}

func TestCloseTearsDownSessions(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.m.Activate("summary"))
	require.NoError(t, h.m.Blur("summary"))
	h.m.Close()

	assert.Zero(t, h.clock.Pending())
	assert.True(t, errors.Is(h.m.Activate("name"), ErrClosed))
	_, ok := h.m.Active()
	assert.False(t, ok)
}

func TestNewRejectsDuplicateFields(t *testing.T) {
	_, err := New([]Field{{Name: "a"}, {Name: "a"}}, nil)
	require.Error(t, err)
}

func TestConstraints(t *testing.T) {
	assert.NoError(t, PhoneNumber.Check(""))
	assert.NoError(t, PhoneNumber.Check("8055551234"))
	assert.Error(t, PhoneNumber.Check("805555123"))
	assert.Error(t, PhoneNumber.Check("80555512ab"))
	for _, v := range []string{"-123456789", "+123456789", "1234.56789"} {
		assert.Error(t, PhoneNumber.Check(v), v)
	}
	assert.NoError(t, Boolean.Check("true"))
	assert.Error(t, Boolean.Check("yes"))
	assert.NoError(t, Link.Check("https://tickets.example.edu/browse/SD-1"))
	assert.Error(t, Link.Check("not a link"))
	assert.Error(t, Required.Check(""))
}

func TestOnActivateRunsBeforeSwitch(t *testing.T) {
	var sibling *Manager
	var hooked []string
	m, err := New([]Field{{Name: "a"}, {Name: "b"}}, map[string]string{"a": "1", "b": "2"},
		WithOnActivate(func(field string) {
			hooked = append(hooked, field)
			sibling.CancelActive()
		}))
	require.NoError(t, err)
	sibling, err = New([]Field{{Name: "x"}}, map[string]string{"x": "old"})
	require.NoError(t, err)

	require.NoError(t, sibling.Activate("x"))
	require.NoError(t, sibling.UpdateDraft("x", "draft"))
	require.NoError(t, m.Activate("a"))
	require.NoError(t, m.Activate("a"))

	assert.Equal(t, []string{"a"}, hooked, "re-activating the open field is not a switch")
	_, open := sibling.Active()
	assert.False(t, open)
	st, err := sibling.Session("x")
	require.NoError(t, err)
	assert.Equal(t, "old", st.EditingValue)

	sibling.CancelActive()
	assert.ErrorIs(t, m.Activate("zz"), errs.ErrUnknownField)
	assert.Equal(t, []string{"a"}, hooked)
}
