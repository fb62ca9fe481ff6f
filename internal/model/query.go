package model

import "time"

// CaseQuery selects cases for a baseline load. Results are ordered by
// created_at ascending.
type CaseQuery struct {
	ID          string     `json:"id,omitempty"`
	CreatedFrom *time.Time `json:"created_from,omitempty"`
	CreatedTo   *time.Time `json:"created_to,omitempty"`
	OpenOnly    bool       `json:"open,omitempty"`
	Limit       int        `json:"limit,omitempty"`
	Offset      int        `json:"offset,omitempty"`
}
