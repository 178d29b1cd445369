// Package testutil holds helpers shared by mailhub tests:
//   - assert.go: assertion helpers (MustNoErr, AssertStrings, Eventually)
//   - store_helpers.go: temporary stores (NewTestStore, SeedEmails)
//   - builders.go: store.Email builders
package testutil
