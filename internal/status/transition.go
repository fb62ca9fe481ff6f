package status

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/psds-microservice/walkin-service/internal/clock"
	"github.com/psds-microservice/walkin-service/internal/errs"
	"github.com/psds-microservice/walkin-service/internal/model"
)

// Mutator is the slice of the record store the transitioner writes to.
type Mutator interface {
	Mutate(ctx context.Context, id string, patch model.CasePatch) error
}

// Outcome says what a requested action led to.
type Outcome int

const (
	// Submitted: the patch was sent to the store.
	Submitted Outcome = iota
	// NeedsConfirmation: nothing was sent; call Confirm or Dismiss.
	NeedsConfirmation
	// NeedsTicketLink: the caller must collect a link and call AttachTicket.
	NeedsTicketLink
	// Skipped: there was nothing to send.
	Skipped
)

// Result describes one transition request.
type Result struct {
	Outcome Outcome
	Patch   model.CasePatch
	// Link pre-fills the ticket link input for edit-ticket.
	Link string
}

// Transitioner turns menu actions into store patches. Closing a case that
// still needs a ticket goes through an explicit confirmation step.
type Transitioner struct {
	store Mutator
	clock clock.Clock

	mu       sync.Mutex
	pending  map[string]struct{}
	onSubmit func(id string, patch model.CasePatch)
}

func NewTransitioner(store Mutator, c clock.Clock) *Transitioner {
	if c == nil {
		c = clock.Real()
	}
	return &Transitioner{store: store, clock: c, pending: map[string]struct{}{}}
}

// Request performs action a on c. The case passed in is the caller's
// current view and decides which actions are legal.
func (t *Transitioner) Request(ctx context.Context, c model.Case, a Action) (Result, error) {
	s := Derive(c)
	if !Allowed(s, a) {
		return Result{}, &ErrNotAllowed{Status: s, Action: a}
	}
	switch a {
	case ActionCloseWithConfirm:
		t.mu.Lock()
		t.pending[c.ID] = struct{}{}
		t.mu.Unlock()
		return Result{Outcome: NeedsConfirmation}, nil
	case ActionAddTicket:
		return Result{Outcome: NeedsTicketLink}, nil
	case ActionEditTicket:
		return Result{Outcome: NeedsTicketLink, Link: model.StringValue(c.TicketLink)}, nil
	case ActionReopen:
		return t.submit(ctx, c.ID, model.CasePatch{model.ColClosedAt: nil})
	case ActionClose:
		return t.submit(ctx, c.ID, model.CasePatch{model.ColClosedAt: t.clock.Now().UTC()})
	case ActionNoTicketNeeded:
		return t.submit(ctx, c.ID, model.CasePatch{model.ColTicketNeeded: false})
	case ActionNeedsTicket:
		return t.submit(ctx, c.ID, model.CasePatch{model.ColTicketNeeded: true})
	}
	return Result{}, &ErrNotAllowed{Status: s, Action: a}
}

// OnSubmit registers fn to run right before each patch goes to the
// store, so optimistic displays are in place before the feed can echo.
func (t *Transitioner) OnSubmit(fn func(id string, patch model.CasePatch)) {
	t.mu.Lock()
	t.onSubmit = fn
	t.mu.Unlock()
}

// Pending reports whether a close confirmation is waiting for id.
func (t *Transitioner) Pending(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.pending[id]
	return ok
}

// Confirm completes a pending close. A case that was closed in the
// meantime is left alone.
func (t *Transitioner) Confirm(ctx context.Context, c model.Case) (Result, error) {
	t.mu.Lock()
	_, ok := t.pending[c.ID]
	delete(t.pending, c.ID)
	t.mu.Unlock()
	if !ok {
		return Result{}, errors.New("no close awaiting confirmation")
	}
	if Derive(c) == Closed {
		return Result{Outcome: Skipped}, nil
	}
	return t.submit(ctx, c.ID, model.CasePatch{model.ColClosedAt: t.clock.Now().UTC()})
}

// Dismiss drops a pending close confirmation.
func (t *Transitioner) Dismiss(id string) {
	t.mu.Lock()
	delete(t.pending, id)
	t.mu.Unlock()
}

// AttachTicket stores link as the case's ticket. An empty link is skipped.
func (t *Transitioner) AttachTicket(ctx context.Context, c model.Case, link string) (Result, error) {
	link = strings.TrimSpace(link)
	if link == "" {
		return Result{Outcome: Skipped}, nil
	}
	return t.submit(ctx, c.ID, model.CasePatch{model.ColTicketLink: link})
}

func (t *Transitioner) submit(ctx context.Context, id string, patch model.CasePatch) (Result, error) {
	t.mu.Lock()
	hook := t.onSubmit
	t.mu.Unlock()
	if hook != nil {
		hook(id, patch)
	}
	if err := t.store.Mutate(ctx, id, patch); err != nil {
		var se *errs.StoreError
		if !errors.As(err, &se) {
			err = &errs.StoreError{Op: "mutate", ID: id, Err: err}
		}
		return Result{Outcome: Submitted, Patch: patch}, err
	}
	return Result{Outcome: Submitted, Patch: patch}, nil
}
