package imap

import (
	"testing"
	"time"

	imap "github.com/emersion/go-imap/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/wesm/mailhub/internal/search"
	"github.com/wesm/mailhub/internal/testutil/ptr"
)

func header(key, value string) imap.SearchCriteria {
	return imap.SearchCriteria{Header: []imap.SearchCriteriaHeaderField{{Key: key, Value: value}}}
}

func TestBuildCriteria(t *testing.T) {
	since := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	before := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		in   search.Criteria
		want *imap.SearchCriteria
	}{
		{
			name: "empty matches all",
			in:   search.Criteria{Limit: 10, Folders: []string{"INBOX"}},
			want: &imap.SearchCriteria{},
		},
		{
			name: "single from",
			in:   search.Criteria{From: []string{"alice@example.com"}},
			want: &imap.SearchCriteria{Header: []imap.SearchCriteriaHeaderField{{Key: "From", Value: "alice@example.com"}}},
		},
		{
			name: "two from become OR",
			in:   search.Criteria{From: []string{"a@x", "b@x"}},
			want: &imap.SearchCriteria{Or: [][2]imap.SearchCriteria{{header("From", "a@x"), header("From", "b@x")}}},
		},
		{
			name: "three to nest",
			in:   search.Criteria{To: []string{"a@x", "b@x", "c@x"}},
			want: &imap.SearchCriteria{Or: [][2]imap.SearchCriteria{{
				header("To", "a@x"),
				{Or: [][2]imap.SearchCriteria{{header("To", "b@x"), header("To", "c@x")}}},
			}}},
		},
		{
			name: "subject dates unread",
			in: search.Criteria{
				Subject:    "invoice",
				Since:      ptr.To(since),
				Before:     ptr.To(before),
				UnreadOnly: true,
			},
			want: &imap.SearchCriteria{
				Header:  []imap.SearchCriteriaHeaderField{{Key: "Subject", Value: "invoice"}},
				Since:   since,
				Before:  before,
				NotFlag: []imap.Flag{imap.FlagSeen},
			},
		},
		{
			name: "from and to OR groups are ANDed",
			in:   search.Criteria{From: []string{"a@x", "b@x"}, To: []string{"c@x", "d@x"}},
			want: &imap.SearchCriteria{Or: [][2]imap.SearchCriteria{
				{header("From", "a@x"), header("From", "b@x")},
				{header("To", "c@x"), header("To", "d@x")},
			}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, BuildCriteria(tt.in)); diff != "" {
				t.Errorf("BuildCriteria mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
