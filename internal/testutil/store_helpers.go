package testutil

import (
	"path/filepath"
	"testing"

	"github.com/wesm/mailhub/internal/store"
)

// NewTestStore opens a schema-initialized store in a temp directory that is
// closed when the test finishes.
func NewTestStore(t *testing.T) *store.Store {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	if err := st.InitSchema(); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	return st
}

// SeedEmails upserts emails without attachments.
func SeedEmails(t *testing.T, st *store.Store, emails ...store.Email) {
	t.Helper()
	for i := range emails {
		MustNoErr(t, st.UpsertEmail(&emails[i], nil), "seed "+emails[i].MessageID)
	}
}
