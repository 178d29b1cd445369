package search

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

var fixedNow = time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)

func fixedParser() *Parser {
	return &Parser{Now: func() time.Time { return fixedNow }}
}

func utcDate(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func timePtr(v time.Time) *time.Time { return &v }

// assertCriteriaEqual compares two Criteria, treating nil and empty slices
// as equivalent.
func assertCriteriaEqual(t *testing.T, got, want Criteria) {
	t.Helper()
	if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("Criteria mismatch (-want +got):\n%s", diff)
	}
}
