package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/mattn/go-sqlite3"
)

func TestIsSQLiteError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		sub  string
		want bool
	}{
		{"value form", fmt.Errorf("wrap: %w", sqlite3.Error{Code: sqlite3.ErrConstraint}), "constraint failed", true},
		{"pointer form", fmt.Errorf("wrap: %w", &sqlite3.Error{Code: sqlite3.ErrConstraint}), "constraint failed", true},
		{"unrelated substring", sqlite3.Error{Code: sqlite3.ErrConstraint}, "no such table", false},
		{"plain error", errors.New("constraint failed"), "constraint failed", false},
		{"nil", nil, "anything", false},
		{"typed nil pointer", typedNilError{}, "any", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isSQLiteError(tt.err, tt.sub); got != tt.want {
				t.Errorf("isSQLiteError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsUniqueViolation(t *testing.T) {
	unique := sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique}
	fk := sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintForeignKey}

	if !isUniqueViolation(fmt.Errorf("insert: %w", unique)) {
		t.Error("expected wrapped unique constraint error to match")
	}
	if !isUniqueViolation(&unique) {
		t.Error("expected pointer form to match")
	}
	if isUniqueViolation(fk) {
		t.Error("foreign key violation should not match")
	}
	if isUniqueViolation(typedNilError{}) {
		t.Error("typed nil pointer should not match")
	}
}

// typedNilError lets errors.As extract a typed nil *sqlite3.Error.
type typedNilError struct {
	err *sqlite3.Error
}

func (e typedNilError) Error() string { return "typed nil error wrapper" }

func (e typedNilError) As(target any) bool {
	if ptr, ok := target.(**sqlite3.Error); ok {
		*ptr = e.err
		return true
	}
	return false
}
