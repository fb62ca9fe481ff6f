// Package status derives a case's lifecycle state and the actions a user
// may take from it.
package status

import (
	"fmt"

	"github.com/psds-microservice/walkin-service/internal/model"
)

// Status is derived from closed_at, ticket_needed and ticket_link. It is
// never stored.
type Status string

const (
	Closed         Status = "closed"
	NeedsTicket    Status = "needs-ticket"
	HasTicket      Status = "has-ticket"
	NoTicketNeeded Status = "no-ticket"
)

// Derive is total over every field combination. A set closed_at wins over
// everything else.
func Derive(c model.Case) Status {
	switch {
	case c.ClosedAt != nil:
		return Closed
	case c.TicketNeeded && c.TicketLink == nil:
		return NeedsTicket
	case c.TicketNeeded:
		return HasTicket
	default:
		return NoTicketNeeded
	}
}

// Label is the text shown for a status.
func (s Status) Label() string {
	switch s {
	case Closed:
		return "Closed"
	case NeedsTicket:
		return "Needs Ticket"
	case HasTicket:
		return "Ready to Close"
	case NoTicketNeeded:
		return "No Ticket Needed"
	}
	return string(s)
}

// Action is a user-triggered transition.
type Action string

const (
	ActionReopen           Action = "reopen"
	ActionAddTicket        Action = "ticket"
	ActionEditTicket       Action = "edit-ticket"
	ActionNoTicketNeeded   Action = "no-ticket"
	ActionNeedsTicket      Action = "needs-ticket"
	ActionClose            Action = "close"
	ActionCloseWithConfirm Action = "close-dialog"
)

// MenuItem is one entry of the action menu.
type MenuItem struct {
	Action Action `json:"value"`
	Label  string `json:"label"`
}

var menus = map[Status][]MenuItem{
	Closed: {
		{ActionReopen, "Reopen"},
	},
	NeedsTicket: {
		{ActionAddTicket, "Add Ticket"},
		{ActionNoTicketNeeded, "No Ticket Needed"},
		{ActionCloseWithConfirm, "Close"},
	},
	NoTicketNeeded: {
		{ActionNeedsTicket, "Needs Ticket"},
		{ActionClose, "Close"},
	},
	HasTicket: {
		{ActionEditTicket, "Edit Ticket"},
		{ActionNoTicketNeeded, "No Ticket Needed"},
		{ActionClose, "Close"},
	},
}

// Menu returns the legal actions for s in display order.
func Menu(s Status) []MenuItem {
	return append([]MenuItem(nil), menus[s]...)
}

// Allowed reports whether a is offered for s.
func Allowed(s Status, a Action) bool {
	for _, item := range menus[s] {
		if item.Action == a {
			return true
		}
	}
	return false
}

// ErrNotAllowed is returned for an action outside the status menu.
type ErrNotAllowed struct {
	Status Status
	Action Action
}

func (e *ErrNotAllowed) Error() string {
	return fmt.Sprintf("action %q is not available while %s", e.Action, e.Status.Label())
}
