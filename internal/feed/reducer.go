// Package feed folds change events into an ordered case collection.
//
// Apply is pure: it never mutates its input slice and has no side effects,
// so the same fold runs against a live subscription or a recorded log.
package feed

import "github.com/psds-microservice/walkin-service/internal/model"

// Apply returns the collection that results from applying e to cases.
//
//   - Inserted appends when the id is absent, otherwise replaces in place.
//   - Updated replaces in place and is dropped for an unknown id, so a
//     record outside the queried window is never resurrected.
//   - Deleted removes the record and is a no-op for an unknown id.
//
// When the event changes nothing the input slice is returned as is.
func Apply(cases []model.Case, e model.ChangeEvent) []model.Case {
	switch e.Kind {
	case model.EventInserted:
		if e.Case == nil {
			return cases
		}
		if i := indexOf(cases, e.Case.ID); i >= 0 {
			return replaceAt(cases, i, *e.Case)
		}
		out := make([]model.Case, len(cases), len(cases)+1)
		copy(out, cases)
		return append(out, e.Case.Clone())
	case model.EventUpdated:
		if e.Case == nil {
			return cases
		}
		if i := indexOf(cases, e.Case.ID); i >= 0 {
			return replaceAt(cases, i, *e.Case)
		}
		return cases
	case model.EventDeleted:
		i := indexOf(cases, e.ID)
		if i < 0 {
			return cases
		}
		out := make([]model.Case, 0, len(cases)-1)
		out = append(out, cases[:i]...)
		return append(out, cases[i+1:]...)
	}
	return cases
}

// Replay folds events left to right starting from base.
func Replay(base []model.Case, events []model.ChangeEvent) []model.Case {
	out := base
	for _, e := range events {
		out = Apply(out, e)
	}
	return out
}

// Touches reports whether e concerns the record id.
func Touches(e model.ChangeEvent, id string) bool {
	return e.ID == id || (e.Case != nil && e.Case.ID == id)
}

func indexOf(cases []model.Case, id string) int {
	for i := range cases {
		if cases[i].ID == id {
			return i
		}
	}
	return -1
}

func replaceAt(cases []model.Case, i int, c model.Case) []model.Case {
	out := make([]model.Case, len(cases))
	copy(out, cases)
	out[i] = c.Clone()
	return out
}
