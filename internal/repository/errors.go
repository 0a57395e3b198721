// Package repository implements MySQL persistence for users, decks and
// modules.  The sentinel values below let the service layer distinguish
// failure scenarios without inspecting driver errors.
package repository

import "errors"

var (
	// ErrNotFound is returned when no row matches the requested id, or the
	// row belongs to another user.  Ownership filters are part of every WHERE
	// clause, so callers never learn which of the two happened.
	ErrNotFound = errors.New("not found")

	// ErrEmailExists is returned when inserting a user whose email is taken.
	ErrEmailExists = errors.New("email already exists")

	// ErrStatusConflict is returned by conditional updates when the row
	// exists but is no longer in the expected state, e.g. a second
	// concurrent attempt to start generation for the same deck.
	ErrStatusConflict = errors.New("status conflict")
)

// Ptr returns a pointer to v.  It keeps DeckPatch literals short.
func Ptr[T any](v T) *T { return &v }
