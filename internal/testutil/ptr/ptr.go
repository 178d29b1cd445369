// Package ptr provides pointer helpers for tests.
package ptr

import "time"

// To returns a pointer to v.
func To[T any](v T) *T { return &v }

// Date returns midnight UTC on the given day.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
