package model

import "time"

// Case is a walk-in support request. ID and CreatedAt never change after insert.
type Case struct {
	ID           string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Name         string     `gorm:"type:varchar(255);not null" json:"name"`
	Contact      string     `gorm:"type:varchar(255);not null" json:"contact"`
	Summary      string     `gorm:"type:text" json:"summary"`
	PhoneNumber  *string    `gorm:"type:varchar(10)" json:"phone_number,omitempty"`
	TicketNeeded bool       `gorm:"not null" json:"ticket_needed"`
	TicketLink   *string    `gorm:"type:text" json:"ticket_link,omitempty"`
	Assignee     *string    `gorm:"type:varchar(255)" json:"assignee,omitempty"`
	Component    *string    `gorm:"type:varchar(255)" json:"component,omitempty"`
	CreatedAt    time.Time  `gorm:"index;not null" json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	ClosedAt     *time.Time `json:"closed_at,omitempty"`
}

// Agent is a service desk member that cases can be assigned to by username.
type Agent struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Name      string    `gorm:"type:varchar(255);not null" json:"name"`
	Username  string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

// Unassigned is shown for cases without an assignee or whose agent is gone.
const Unassigned = "Unassigned"

// AssigneeLabel resolves a case assignee against the known agents. The
// assignee is a weak reference; a missing agent degrades to Unassigned.
func AssigneeLabel(agents []Agent, username *string) string {
	if username == nil || *username == "" {
		return Unassigned
	}
	for _, a := range agents {
		if a.Username == *username {
			return a.Username
		}
	}
	return Unassigned
}

// Clone returns a deep copy so callers can hold a snapshot while the
// original keeps changing.
func (c Case) Clone() Case {
	out := c
	out.PhoneNumber = cloneString(c.PhoneNumber)
	out.TicketLink = cloneString(c.TicketLink)
	out.Assignee = cloneString(c.Assignee)
	out.Component = cloneString(c.Component)
	if c.ClosedAt != nil {
		t := *c.ClosedAt
		out.ClosedAt = &t
	}
	return out
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// StringPtr returns nil for the empty string.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// StringValue dereferences s, returning "" for nil.
func StringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
