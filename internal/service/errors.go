// Package service holds the business logic behind the HTTP handlers: the
// authentication flows and the deck generation pipeline.  Failures are
// reported with the sentinels below, wrapped with context via %w.
package service

import (
	"errors"
	"fmt"

	"github.com/iliyamo/deck-builder/internal/repository"
)

var (
	ErrValidation      = errors.New("validation failed")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrPersistence     = errors.New("persistence failure")
	// ErrInvalidState rejects an operation that the deck's current status
	// does not allow, e.g. starting generation twice.
	ErrInvalidState = errors.New("invalid deck state")
	// ErrUnavailable is returned when background work can no longer be
	// scheduled because the server is shutting down.
	ErrUnavailable = errors.New("service unavailable")
)

// storeError translates repository errors into service sentinels.
func storeError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case errors.Is(err, repository.ErrStatusConflict):
		return fmt.Errorf("%s: %w", op, ErrInvalidState)
	case errors.Is(err, repository.ErrEmailExists):
		return fmt.Errorf("%s: %w", op, ErrConflict)
	default:
		return fmt.Errorf("%s: %w: %w", op, ErrPersistence, err)
	}
}
