package model

import (
	"fmt"
	"sort"
	"time"
)

// Mutable case columns. id and created_at are set once at insert.
const (
	ColName         = "name"
	ColContact      = "contact"
	ColSummary      = "summary"
	ColPhoneNumber  = "phone_number"
	ColTicketNeeded = "ticket_needed"
	ColTicketLink   = "ticket_link"
	ColAssignee     = "assignee"
	ColComponent    = "component"
	ColClosedAt     = "closed_at"
)

var mutableColumns = map[string]struct{}{
	ColName: {}, ColContact: {}, ColSummary: {}, ColPhoneNumber: {},
	ColTicketNeeded: {}, ColTicketLink: {}, ColAssignee: {}, ColComponent: {},
	ColClosedAt: {},
}

// CasePatch is a column -> value map applied with gorm Updates. A nil value
// clears a nullable column.
type CasePatch map[string]any

// Validate rejects unknown or immutable columns and values of the wrong type.
func (p CasePatch) Validate() error {
	if len(p) == 0 {
		return fmt.Errorf("empty patch")
	}
	for _, k := range p.Columns() {
		if _, ok := mutableColumns[k]; !ok {
			return fmt.Errorf("column %q is not mutable", k)
		}
		v := p[k]
		switch k {
		case ColTicketNeeded:
			if _, ok := v.(bool); !ok {
				return fmt.Errorf("column %q wants bool, got %T", k, v)
			}
		case ColClosedAt:
			switch v.(type) {
			case nil, time.Time, *time.Time:
			default:
				return fmt.Errorf("column %q wants timestamp or null, got %T", k, v)
			}
		case ColName, ColContact, ColSummary:
			if _, ok := v.(string); !ok {
				return fmt.Errorf("column %q wants string, got %T", k, v)
			}
		default:
			switch v.(type) {
			case nil, string, *string:
			default:
				return fmt.Errorf("column %q wants string or null, got %T", k, v)
			}
		}
	}
	return nil
}

// Columns returns the patched columns in stable order.
func (p CasePatch) Columns() []string {
	out := make([]string, 0, len(p))
	for k := range p {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ApplyTo returns c with the patch applied. Used for optimistic displays;
// the store remains authoritative.
func (p CasePatch) ApplyTo(c Case) Case {
	out := c.Clone()
	for k, v := range p {
		switch k {
		case ColName:
			out.Name, _ = v.(string)
		case ColContact:
			out.Contact, _ = v.(string)
		case ColSummary:
			out.Summary, _ = v.(string)
		case ColPhoneNumber:
			out.PhoneNumber = optionalString(v)
		case ColTicketNeeded:
			out.TicketNeeded, _ = v.(bool)
		case ColTicketLink:
			out.TicketLink = optionalString(v)
		case ColAssignee:
			out.Assignee = optionalString(v)
		case ColComponent:
			out.Component = optionalString(v)
		case ColClosedAt:
			switch t := v.(type) {
			case time.Time:
				out.ClosedAt = &t
			case *time.Time:
				out.ClosedAt = t
			default:
				out.ClosedAt = nil
			}
		}
	}
	return out
}

func optionalString(v any) *string {
	switch s := v.(type) {
	case string:
		return StringPtr(s)
	case *string:
		if s == nil {
			return nil
		}
		return StringPtr(*s)
	}
	return nil
}

// Normalize returns a copy with pointers dereferenced, empty optional
// strings turned into null and closed_at strings parsed as RFC 3339. The
// result only holds string, bool, time.Time and nil values.
func (p CasePatch) Normalize() (CasePatch, error) {
	out := make(CasePatch, len(p))
	for k, v := range p {
		switch k {
		case ColClosedAt:
			switch t := v.(type) {
			case nil:
				out[k] = nil
			case time.Time:
				out[k] = t.UTC()
			case *time.Time:
				if t == nil {
					out[k] = nil
				} else {
					out[k] = t.UTC()
				}
			case string:
				if t == "" {
					out[k] = nil
					continue
				}
				parsed, err := time.Parse(time.RFC3339Nano, t)
				if err != nil {
					return nil, fmt.Errorf("column %q: %w", k, err)
				}
				out[k] = parsed.UTC()
			default:
				out[k] = v
			}
		case ColPhoneNumber, ColTicketLink, ColAssignee, ColComponent:
			if s := optionalString(v); s != nil {
				out[k] = *s
			} else if v == nil || isStringish(v) {
				out[k] = nil
			} else {
				out[k] = v
			}
		default:
			out[k] = v
		}
	}
	return out, out.Validate()
}

func isStringish(v any) bool {
	switch v.(type) {
	case string, *string:
		return true
	}
	return false
}
