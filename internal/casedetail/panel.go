// Package casedetail drives the detail view of one case: live record,
// inline field editing and status actions.
//
// Field edits are not optimistic. A committed draft goes to the store and
// the displayed value moves when the change feed echoes it. Status actions
// are optimistic: the new status shows at once and is replaced by the next
// authoritative event for the case, or dropped if the store call fails.
package casedetail

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/psds-microservice/walkin-service/internal/clock"
	"github.com/psds-microservice/walkin-service/internal/editsession"
	"github.com/psds-microservice/walkin-service/internal/errs"
	"github.com/psds-microservice/walkin-service/internal/feed"
	"github.com/psds-microservice/walkin-service/internal/model"
	"github.com/psds-microservice/walkin-service/internal/status"
	"github.com/psds-microservice/walkin-service/internal/store"
	"github.com/psds-microservice/walkin-service/internal/subscription"
)

// TicketLinkField is the only field of the ticket link session.
const TicketLinkField = model.ColTicketLink

// DefaultTicketLinkIdleTimeout is how long a blurred ticket link input
// stays open.
const DefaultTicketLinkIdleTimeout = 2 * time.Second

// ErrClosed is returned by actions on a closed or deleted panel.
var ErrClosed = errors.New("case panel closed")

type options struct {
	clock      clock.Clock
	reporter   errs.Reporter
	logger     *slog.Logger
	editIdle   time.Duration
	ticketIdle time.Duration
	agents     store.AgentSource
}

type Option func(*options)

func WithClock(c clock.Clock) Option { return func(o *options) { o.clock = c } }

func WithReporter(r errs.Reporter) Option { return func(o *options) { o.reporter = r } }

func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// WithIdleTimeouts sets the blur timeouts of field edits and of the
// ticket link input. Zero keeps the default.
func WithIdleTimeouts(edit, ticketLink time.Duration) Option {
	return func(o *options) {
		if edit > 0 {
			o.editIdle = edit
		}
		if ticketLink > 0 {
			o.ticketIdle = ticketLink
		}
	}
}

// WithAgents sets where assignee names are resolved. By default the store
// is used if it can list agents.
func WithAgents(src store.AgentSource) Option { return func(o *options) { o.agents = src } }

// Panel is safe for concurrent use.
type Panel struct {
	id       string
	store    store.Store
	ctrl     *subscription.Controller
	fields   *editsession.Manager
	ticket   *editsession.Manager
	trans    *status.Transitioner
	reporter errs.Reporter
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	writes sync.WaitGroup

	mu      sync.Mutex
	pending model.CasePatch
	agents  []model.Agent
	deleted bool
	closed  bool
}

// Open subscribes to case id and loads it. It fails with
// errs.ErrCaseNotFound if the case does not exist.
func Open(ctx context.Context, s store.Store, id string, opts ...Option) (*Panel, error) {
	o := options{
		clock:      clock.Real(),
		logger:     slog.Default(),
		editIdle:   editsession.DefaultIdleTimeout,
		ticketIdle: DefaultTicketLinkIdleTimeout,
	}
	for _, fn := range opts {
		fn(&o)
	}
	if o.reporter == nil {
		o.reporter = errs.LogReporter{Logger: o.logger}
	}
	if o.agents == nil {
		o.agents, _ = s.(store.AgentSource)
	}

	pctx, cancel := context.WithCancel(context.Background())
	p := &Panel{
		id:       id,
		store:    s,
		reporter: o.reporter,
		logger:   o.logger.With("component", "casedetail", "case_id", id),
		ctx:      pctx,
		cancel:   cancel,
	}
	p.trans = status.NewTransitioner(s, o.clock)
	p.trans.OnSubmit(p.setPending)

	var err error
	p.fields, err = editsession.New(p.fieldDefs(), nil,
		editsession.WithClock(o.clock),
		editsession.WithIdleTimeout(o.editIdle),
		editsession.WithReporter(o.reporter),
		editsession.WithLogger(p.logger),
		editsession.WithOnActivate(func(string) { p.ticket.CancelActive() }))
	if err != nil {
		cancel()
		return nil, err
	}
	// One open session per case across both editors.
	p.ticket, err = editsession.New([]editsession.Field{{
		Name:        TicketLinkField,
		Constraint:  editsession.Link,
		OnChange:    p.attachTicket,
		IdleTimeout: o.ticketIdle,
	}}, nil,
		editsession.WithClock(o.clock),
		editsession.WithReporter(o.reporter),
		editsession.WithLogger(p.logger),
		editsession.WithOnActivate(func(string) { p.fields.CancelActive() }))
	if err != nil {
		cancel()
		return nil, err
	}

	p.ctrl = subscription.New(s, subscription.WithReporter(o.reporter), subscription.WithLogger(o.logger))
	p.ctrl.Mirror().Watch(p.onEvent)
	if err := p.ctrl.Open(ctx, subscription.Record(id)); err != nil {
		cancel()
		return nil, err
	}
	if _, ok := p.ctrl.Record(); !ok {
		p.Close()
		return nil, &errs.StoreError{Op: "query", ID: id, Err: errs.ErrCaseNotFound}
	}
	p.refresh()

	if o.agents != nil {
		agents, err := o.agents.Agents(ctx)
		if err != nil {
			p.reporter.Report(err)
		}
		p.mu.Lock()
		p.agents = agents
		p.mu.Unlock()
	}
	return p, nil
}

func (p *Panel) fieldDefs() []editsession.Field {
	defs := []struct {
		name       string
		constraint editsession.Constraint
	}{
		{model.ColName, editsession.Required},
		{model.ColContact, editsession.Required},
		{model.ColSummary, nil},
		{model.ColPhoneNumber, editsession.PhoneNumber},
		{model.ColTicketNeeded, editsession.Boolean},
		{model.ColTicketLink, editsession.Link},
		{model.ColComponent, nil},
		{model.ColAssignee, nil},
	}
	out := make([]editsession.Field, 0, len(defs))
	for _, d := range defs {
		name := d.name
		out = append(out, editsession.Field{
			Name:       name,
			Constraint: d.constraint,
			OnChange:   func(v string) { p.commitField(name, v) },
		})
	}
	return out
}

// ID is the case id.
func (p *Panel) ID() string { return p.id }

// Fields is the inline editor over the case columns. Field names are the
// column names (name, contact, summary, phone_number, ...).
func (p *Panel) Fields() *editsession.Manager { return p.fields }

// TicketLink is the ticket link input opened by the add/edit ticket
// actions. Its single field is TicketLinkField.
func (p *Panel) TicketLink() *editsession.Manager { return p.ticket }

// Record returns the last authoritative state of the case.
func (p *Panel) Record() (model.Case, bool) {
	return p.ctrl.Record()
}

// View returns the case with any optimistic status change applied.
func (p *Panel) View() (model.Case, bool) {
	rec, ok := p.ctrl.Record()
	if !ok {
		return rec, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending != nil {
		rec = p.pending.ApplyTo(rec)
	}
	return rec, true
}

// Status is the displayed status, optimistic changes included.
func (p *Panel) Status() status.Status {
	v, _ := p.View()
	return status.Derive(v)
}

// Optimistic reports whether the displayed status is still waiting for
// the store to confirm it.
func (p *Panel) Optimistic() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending != nil
}

// Menu lists the actions offered for the displayed status.
func (p *Panel) Menu() []status.MenuItem { return status.Menu(p.Status()) }

// AssigneeLabel resolves the assignee against the known agents.
func (p *Panel) AssigneeLabel() string {
	rec, _ := p.ctrl.Record()
	p.mu.Lock()
	defer p.mu.Unlock()
	return model.AssigneeLabel(p.agents, rec.Assignee)
}

// Act runs a status menu action. Add and edit ticket open the ticket link
// input; close from NeedsTicket waits for ConfirmClose.
func (p *Panel) Act(ctx context.Context, a status.Action) (status.Result, error) {
	view, err := p.view()
	if err != nil {
		return status.Result{}, err
	}
	res, err := p.trans.Request(ctx, view, a)
	if err != nil {
		p.failed(err)
		return res, err
	}
	if res.Outcome == status.NeedsTicketLink {
		p.ticket.Reseed(map[string]string{TicketLinkField: res.Link})
		if err := p.ticket.Activate(TicketLinkField); err != nil {
			return res, err
		}
	}
	return res, nil
}

// PendingClose reports whether a close is waiting for confirmation.
func (p *Panel) PendingClose() bool { return p.trans.Pending(p.id) }

// ConfirmClose completes a close requested from NeedsTicket.
func (p *Panel) ConfirmClose(ctx context.Context) (status.Result, error) {
	view, err := p.view()
	if err != nil {
		return status.Result{}, err
	}
	res, err := p.trans.Confirm(ctx, view)
	if err != nil {
		p.failed(err)
	}
	return res, err
}

// DismissClose abandons a pending close.
func (p *Panel) DismissClose() { p.trans.Dismiss(p.id) }

// Err returns why the live feed stopped, if it did.
func (p *Panel) Err() error { return p.ctrl.Err() }

// Reopen re-subscribes after a feed failure. Open drafts are kept.
func (p *Panel) Reopen(ctx context.Context) error {
	if err := p.ctrl.Reopen(ctx); err != nil {
		return err
	}
	p.refresh()
	return nil
}

// Close tears the panel down. Pending writes are cancelled; no event
// reaches the panel after Close returns.
func (p *Panel) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.cancel()
	p.ctrl.Close()
	p.fields.Close()
	p.ticket.Close()
	p.trans.Dismiss(p.id)
	p.writes.Wait()
}

func (p *Panel) view() (model.Case, error) {
	p.mu.Lock()
	gone := p.closed || p.deleted
	p.mu.Unlock()
	if gone {
		return model.Case{}, ErrClosed
	}
	v, ok := p.View()
	if !ok {
		return model.Case{}, ErrClosed
	}
	return v, nil
}

// onEvent runs on the feed goroutine after the shadow copy changed.
func (p *Panel) onEvent(e model.ChangeEvent) {
	if !feed.Touches(e, p.id) {
		return
	}
	p.mu.Lock()
	p.pending = nil
	p.mu.Unlock()
	p.refresh()
}

// refresh pushes the current record into the editors. It holds p.mu so a
// slower reader cannot reseed with an older record.
func (p *Panel) refresh() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.deleted {
		return
	}
	rec, ok := p.ctrl.Record()
	if !ok {
		if p.ctrl.Mirror().Seeded() {
			p.deleted = true
			p.logger.Info("case deleted while open")
			p.fields.Close()
			p.ticket.Close()
		}
		return
	}
	p.fields.Reseed(fieldValues(rec))
	p.ticket.Reseed(map[string]string{TicketLinkField: model.StringValue(rec.TicketLink)})
}

func (p *Panel) setPending(_ string, patch model.CasePatch) {
	p.mu.Lock()
	p.pending = patch
	p.mu.Unlock()
}

func (p *Panel) failed(err error) {
	var se *errs.StoreError
	if !errors.As(err, &se) {
		return
	}
	p.mu.Lock()
	p.pending = nil
	p.mu.Unlock()
	p.reporter.Report(err)
}

func (p *Panel) commitField(field, value string) {
	var v any = value
	if field == model.ColTicketNeeded {
		b, _ := strconv.ParseBool(value)
		v = b
	}
	patch := model.CasePatch{field: v}
	p.async(func(ctx context.Context) {
		if err := p.store.Mutate(ctx, p.id, patch); err != nil {
			var se *errs.StoreError
			if !errors.As(err, &se) {
				err = &errs.StoreError{Op: "mutate", ID: p.id, Err: err}
			}
			p.reporter.Report(err)
		}
	})
}

func (p *Panel) attachTicket(link string) {
	view, err := p.view()
	if err != nil {
		return
	}
	p.async(func(ctx context.Context) {
		if _, err := p.trans.AttachTicket(ctx, view, link); err != nil {
			p.failed(err)
		}
	})
}

// async runs fn off the caller's goroutine; OnChange must not block.
func (p *Panel) async(fn func(ctx context.Context)) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.writes.Add(1)
	p.mu.Unlock()
	go func() {
		defer p.writes.Done()
		fn(p.ctx)
	}()
}

func fieldValues(c model.Case) map[string]string {
	return map[string]string{
		model.ColName:         c.Name,
		model.ColContact:      c.Contact,
		model.ColSummary:      c.Summary,
		model.ColPhoneNumber:  model.StringValue(c.PhoneNumber),
		model.ColTicketNeeded: strconv.FormatBool(c.TicketNeeded),
		model.ColTicketLink:   model.StringValue(c.TicketLink),
		model.ColComponent:    model.StringValue(c.Component),
		model.ColAssignee:     model.StringValue(c.Assignee),
	}
}
