package store

import "errors"

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a conditional write lost a race, e.g. a
	// status transition whose precondition no longer holds.
	ErrConflict = errors.New("conflicting concurrent update")
)
