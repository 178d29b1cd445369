// Package search defines the provider-agnostic mailbox query model and the
// translation of provider-native raw queries into it.
package search

import (
	"slices"
	"time"
)

// DefaultFolder is searched when Criteria.Folders is empty.
const DefaultFolder = "INBOX"

// Criteria is a provider-agnostic mailbox search request.
//
// Multiple From or To values are combined with OR. When RawQuery is set it
// takes precedence over the structured address, subject and date filters;
// see Resolve.
type Criteria struct {
	From       []string   `json:"from,omitempty"`
	To         []string   `json:"to,omitempty"`
	Subject    string     `json:"subject,omitempty"`
	Since      *time.Time `json:"since,omitempty"`
	Before     *time.Time `json:"before,omitempty"`
	UnreadOnly bool       `json:"unread_only,omitempty"`
	Limit      int        `json:"limit,omitempty"`
	Folders    []string   `json:"folders,omitempty"`
	RawQuery   string     `json:"raw_query,omitempty"`
}

// IsEmpty reports whether the criteria carry no filter, which means
// "match all". Limit and Folders scope a search but do not filter it.
func (c Criteria) IsEmpty() bool {
	return len(c.From) == 0 &&
		len(c.To) == 0 &&
		c.Subject == "" &&
		c.Since == nil &&
		c.Before == nil &&
		!c.UnreadOnly
}

// Resolve returns the effective criteria. If RawQuery is set, it is parsed
// with p and its fields replace the structured filters; Limit, Folders and
// UnreadOnly are carried over from c.
func (c Criteria) Resolve(p *Parser) Criteria {
	if c.RawQuery == "" {
		return c
	}
	if p == nil {
		p = NewParser()
	}
	out := p.ParseRaw(c.RawQuery)
	out.Limit = c.Limit
	out.Folders = slices.Clone(c.Folders)
	out.UnreadOnly = out.UnreadOnly || c.UnreadOnly
	out.RawQuery = c.RawQuery
	return out
}

// TargetFolders returns the folders to search, in order.
func (c Criteria) TargetFolders() []string {
	if len(c.Folders) == 0 {
		return []string{DefaultFolder}
	}
	return c.Folders
}
