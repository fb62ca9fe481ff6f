// Package editsession implements the per-record field editing state machine.
//
// A Manager owns every editable field of one record. At most one field is
// being edited at a time; activating another field discards the open draft.
// A blurred session is cancelled once its idle timeout elapses. Commit runs
// the field constraint and only then hands the draft to the field's
// OnChange collaborator. Committed values come back through Reseed when
// the change feed echoes them; an open draft is never overwritten.
package editsession

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/psds-microservice/walkin-service/internal/clock"
	"github.com/psds-microservice/walkin-service/internal/errs"
)

// DefaultIdleTimeout is how long a blurred session stays open.
const DefaultIdleTimeout = 4 * time.Second

var (
	ErrNotEditing = errors.New("field is not being edited")
	ErrClosed     = errors.New("edit sessions closed")
)

// Field declares one editable field.
type Field struct {
	Name string

	// Constraint is optional.
	Constraint Constraint

	// OnChange receives a validated draft. It must not block; remote
	// calls belong on another goroutine, with failures reported there.
	OnChange func(value string)

	// IdleTimeout overrides the manager default when non-zero.
	IdleTimeout time.Duration
}

// Control is the session-control side: what input handlers call.
type Control interface {
	Activate(field string) error
	UpdateDraft(field, value string) error
	Commit(field string) error
	Cancel(field string) error
	Focus(field string) error
	Blur(field string) error
}

// Display is the live state side: what renderers read.
type Display interface {
	Session(field string) (State, error)
	Active() (string, bool)
}

// State is a point-in-time view of one field.
type State struct {
	Field             string
	Value             string
	EditingValue      string
	IsActive          bool
	Focused           bool
	LastInteractionAt time.Time
}

type fieldState struct {
	def               Field
	value             string
	editingValue      string
	lastInteractionAt time.Time
}

// Manager is safe for concurrent use. Callbacks (OnChange, Reporter) are
// always invoked without the lock held.
type Manager struct {
	mu       sync.Mutex
	clock    clock.Clock
	idle     time.Duration
	reporter errs.Reporter
	logger   *slog.Logger

	fields  map[string]*fieldState
	order   []string
	active  string
	focused bool
	timer   clock.Timer
	gen     uint64
	closed  bool

	onActivate func(field string)
}

var (
	_ Control = (*Manager)(nil)
	_ Display = (*Manager)(nil)
)

// Option configures a Manager.
type Option func(*Manager)

func WithClock(c clock.Clock) Option { return func(m *Manager) { m.clock = c } }

func WithIdleTimeout(d time.Duration) Option { return func(m *Manager) { m.idle = d } }

func WithReporter(r errs.Reporter) Option { return func(m *Manager) { m.reporter = r } }

func WithLogger(l *slog.Logger) Option { return func(m *Manager) { m.logger = l } }

// WithOnActivate sets a hook run before a different field is opened,
// without the lock held. Used to keep a sibling manager of the same
// record closed.
func WithOnActivate(fn func(field string)) Option {
	return func(m *Manager) { m.onActivate = fn }
}

// New creates a Manager for the given fields seeded with their committed
// values. Field names must be unique.
func New(fields []Field, values map[string]string, opts ...Option) (*Manager, error) {
	m := &Manager{
		clock:  clock.Real(),
		idle:   DefaultIdleTimeout,
		logger: slog.Default(),
		fields: make(map[string]*fieldState, len(fields)),
	}
	for _, o := range opts {
		o(m)
	}
	if m.reporter == nil {
		m.reporter = errs.LogReporter{Logger: m.logger}
	}
	for _, f := range fields {
		if f.Name == "" {
			return nil, fmt.Errorf("editsession: field without name")
		}
		if _, dup := m.fields[f.Name]; dup {
			return nil, fmt.Errorf("editsession: duplicate field %q", f.Name)
		}
		v := values[f.Name]
		m.fields[f.Name] = &fieldState{def: f, value: v, editingValue: v}
		m.order = append(m.order, f.Name)
	}
	return m, nil
}

// Activate opens field for editing, discarding any other open draft.
// Activating the field that is already open keeps its draft.
func (m *Manager) Activate(field string) error {
	m.mu.Lock()
	_, err := m.lookup(field)
	switching := m.active != field
	hook := m.onActivate
	m.mu.Unlock()
	if err != nil {
		return err
	}
	if switching && hook != nil {
		hook(field)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	fs, err := m.lookup(field)
	if err != nil {
		return err
	}
	now := m.clock.Now()
	if m.active == field {
		m.touch(fs, now)
		return nil
	}
	if prev, ok := m.fields[m.active]; ok {
		prev.editingValue = prev.value
		m.logger.Debug("edit session discarded", "field", m.active, "reason", "switch")
	}
	m.stopTimer()
	m.gen++
	m.active = field
	m.focused = true
	fs.editingValue = fs.value
	fs.lastInteractionAt = now
	return nil
}

// UpdateDraft replaces the working copy of the open field.
func (m *Manager) UpdateDraft(field, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	fs, err := m.activeField(field)
	if err != nil {
		return err
	}
	fs.editingValue = value
	m.touch(fs, m.clock.Now())
	return nil
}

// Commit closes the session and, if the draft passes the field
// constraint, passes it to OnChange. A rejected draft is reported,
// reverted to the committed value and returned as *errs.ValidationError.
// The committed value itself only changes through Reseed.
func (m *Manager) Commit(field string) error {
	m.mu.Lock()
	fs, err := m.activeField(field)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	draft := fs.editingValue
	m.closeActive()
	fs.editingValue = fs.value

	var verr error
	if c := fs.def.Constraint; c != nil {
		if cerr := c.Check(draft); cerr != nil {
			verr = &errs.ValidationError{Field: field, Value: draft, Message: cerr.Error()}
		}
	}
	onChange := fs.def.OnChange
	reporter := m.reporter
	m.mu.Unlock()

	if verr != nil {
		reporter.Report(verr)
		return verr
	}
	if onChange != nil {
		onChange(draft)
	}
	return nil
}

// Cancel closes the session on field without any remote call.
func (m *Manager) Cancel(field string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	fs, err := m.activeField(field)
	if err != nil {
		return err
	}
	m.closeActive()
	fs.editingValue = fs.value
	return nil
}

// CancelActive closes whatever session is open, discarding its draft.
func (m *Manager) CancelActive() {
	m.mu.Lock()
	defer m.mu.Unlock()
	fs, ok := m.fields[m.active]
	if !ok {
		return
	}
	m.logger.Debug("edit session discarded", "field", m.active, "reason", "sibling")
	m.closeActive()
	fs.editingValue = fs.value
}

// Focus marks the open field as focused and stops its idle timer.
func (m *Manager) Focus(field string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	fs, err := m.activeField(field)
	if err != nil {
		return err
	}
	m.touch(fs, m.clock.Now())
	return nil
}

// Blur starts the idle timer for the open field. If focus does not come
// back before it fires, the session is cancelled.
func (m *Manager) Blur(field string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	fs, err := m.activeField(field)
	if err != nil {
		return err
	}
	m.stopTimer()
	m.gen++
	m.focused = false
	idle := m.idle
	if fs.def.IdleTimeout > 0 {
		idle = fs.def.IdleTimeout
	}
	if idle <= 0 {
		m.closeActive()
		fs.editingValue = fs.value
		return nil
	}
	gen := m.gen
	m.timer = m.clock.AfterFunc(idle, func() { m.expire(gen) })
	return nil
}

func (m *Manager) expire(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.gen != gen || m.active == "" || m.focused {
		return
	}
	fs := m.fields[m.active]
	m.logger.Debug("edit session idle timeout", "field", m.active,
		"idle_since", fs.lastInteractionAt)
	m.timer = nil
	m.closeActive()
	fs.editingValue = fs.value
}

// Reseed applies the latest committed values, typically after a change
// event for the record. Fields without an open session show the new value
// immediately; the open field keeps its draft. Unknown names are ignored.
func (m *Manager) Reseed(values map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	for name, v := range values {
		fs, ok := m.fields[name]
		if !ok || fs.value == v {
			continue
		}
		fs.value = v
		if name != m.active {
			fs.editingValue = v
		}
	}
}

// Close destroys every session and stops pending timers. Used when the
// owning record view goes away; later calls return ErrClosed.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closeActive()
	m.closed = true
	for _, fs := range m.fields {
		fs.editingValue = fs.value
	}
}

// Session returns the current state of field.
func (m *Manager) Session(field string) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fs, ok := m.fields[field]
	if !ok {
		return State{}, fmt.Errorf("%w: %q", errs.ErrUnknownField, field)
	}
	isActive := m.active == field
	return State{
		Field:             field,
		Value:             fs.value,
		EditingValue:      fs.editingValue,
		IsActive:          isActive,
		Focused:           isActive && m.focused,
		LastInteractionAt: fs.lastInteractionAt,
	}, nil
}

// Active returns the field being edited, if any.
func (m *Manager) Active() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active, m.active != ""
}

// Fields returns the field names in declaration order.
func (m *Manager) Fields() []string {
	return append([]string(nil), m.order...)
}

func (m *Manager) lookup(field string) (*fieldState, error) {
	if m.closed {
		return nil, ErrClosed
	}
	fs, ok := m.fields[field]
	if !ok {
		return nil, fmt.Errorf("%w: %q", errs.ErrUnknownField, field)
	}
	return fs, nil
}

func (m *Manager) activeField(field string) (*fieldState, error) {
	fs, err := m.lookup(field)
	if err != nil {
		return nil, err
	}
	if m.active != field {
		return nil, fmt.Errorf("%w: %q", ErrNotEditing, field)
	}
	return fs, nil
}

// touch records an interaction with the open field and cancels any
// pending idle timeout.
func (m *Manager) touch(fs *fieldState, now time.Time) {
	fs.lastInteractionAt = now
	if !m.focused || m.timer != nil {
		m.stopTimer()
		m.gen++
	}
	m.focused = true
}

func (m *Manager) closeActive() {
	m.stopTimer()
	m.gen++
	m.active = ""
	m.focused = false
}

func (m *Manager) stopTimer() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}
