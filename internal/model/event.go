package model

import (
	"encoding/json"
	"fmt"
)

// EventKind tags a ChangeEvent.
type EventKind string

const (
	EventInserted EventKind = "inserted"
	EventUpdated  EventKind = "updated"
	EventDeleted  EventKind = "deleted"
)

// ChangeEvent is one insert/update/delete notification from the store.
// Inserted and Updated carry the full post-image in Case; Deleted carries
// only ID. Events have no logical clock: arrival order is the order.
type ChangeEvent struct {
	Kind EventKind `json:"kind"`
	ID   string    `json:"id"`
	Case *Case     `json:"case,omitempty"`
}

func Inserted(c Case) ChangeEvent {
	return ChangeEvent{Kind: EventInserted, ID: c.ID, Case: &c}
}

func Updated(c Case) ChangeEvent {
	return ChangeEvent{Kind: EventUpdated, ID: c.ID, Case: &c}
}

func Deleted(id string) ChangeEvent {
	return ChangeEvent{Kind: EventDeleted, ID: id}
}

// Validate checks that the event is well formed for its kind.
func (e ChangeEvent) Validate() error {
	switch e.Kind {
	case EventInserted, EventUpdated:
		if e.Case == nil {
			return fmt.Errorf("%s event without post-image", e.Kind)
		}
		if e.Case.ID == "" || e.Case.ID != e.ID {
			return fmt.Errorf("%s event id mismatch: %q vs %q", e.Kind, e.ID, e.Case.ID)
		}
	case EventDeleted:
		if e.ID == "" {
			return fmt.Errorf("deleted event without id")
		}
	default:
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	return nil
}

// DecodeChangeEvent parses a wire frame and validates it.
func DecodeChangeEvent(data []byte) (ChangeEvent, error) {
	var e ChangeEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return ChangeEvent{}, fmt.Errorf("decode change event: %w", err)
	}
	if err := e.Validate(); err != nil {
		return ChangeEvent{}, err
	}
	return e, nil
}
