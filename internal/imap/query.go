package imap

import (
	imap "github.com/emersion/go-imap/v2"
	"github.com/wesm/mailhub/internal/search"
)

// BuildCriteria translates resolved search criteria into an IMAP SEARCH
// query. Multiple From or To values become nested ORs; empty criteria
// produce an empty query, which the server treats as ALL.
func BuildCriteria(c search.Criteria) *imap.SearchCriteria {
	q := &imap.SearchCriteria{}
	addAnyHeader(q, "From", c.From)
	addAnyHeader(q, "To", c.To)
	if c.Subject != "" {
		q.Header = append(q.Header, imap.SearchCriteriaHeaderField{Key: "Subject", Value: c.Subject})
	}
	if c.Since != nil {
		q.Since = *c.Since
	}
	if c.Before != nil {
		q.Before = *c.Before
	}
	if c.UnreadOnly {
		q.NotFlag = append(q.NotFlag, imap.FlagSeen)
	}
	return q
}

func addAnyHeader(q *imap.SearchCriteria, key string, values []string) {
	switch len(values) {
	case 0:
	case 1:
		q.Header = append(q.Header, imap.SearchCriteriaHeaderField{Key: key, Value: values[0]})
	default:
		or := orHeaders(key, values)
		q.Or = append(q.Or, or.Or...)
	}
}

// orHeaders builds OR key v0 (OR key v1 (... key vn)).
func orHeaders(key string, values []string) imap.SearchCriteria {
	single := imap.SearchCriteria{
		Header: []imap.SearchCriteriaHeaderField{{Key: key, Value: values[0]}},
	}
	if len(values) == 1 {
		return single
	}
	return imap.SearchCriteria{
		Or: [][2]imap.SearchCriteria{{single, orHeaders(key, values[1:])}},
	}
}
