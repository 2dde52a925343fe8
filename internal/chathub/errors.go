package chathub

import (
	"errors"
	"fmt"

	"relaychat/backend/internal/models"
	"relaychat/backend/internal/storage"
)

var (
	// ErrAuthorization: the caller is not a participant, or not the sender
	// for a sender-only action.
	ErrAuthorization = errors.New("not authorized")
	// ErrConflict: a registry invariant would be violated.
	ErrConflict = errors.New("registry conflict")
	// ErrNotFound: a message or conversation ID does not resolve.
	ErrNotFound = errors.New("not found")
	// ErrPersistence: the store is unavailable or rejected a write.
	ErrPersistence = errors.New("persistence failure")
	// ErrRateLimited: the connection exceeded its inbound event budget.
	ErrRateLimited = errors.New("rate limited")
)

// storeError classifies an error returned by the store for op.
func storeError(op string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrPersistence, err)
}

// Reason maps an operation error to the short code sent to clients.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrAuthorization):
		return models.ReasonUnauthorized
	case errors.Is(err, ErrNotFound):
		return models.ReasonNotFound
	case errors.Is(err, models.ErrInvalidPayload):
		return models.ReasonInvalid
	case errors.Is(err, ErrRateLimited):
		return models.ReasonRateLimited
	case errors.Is(err, ErrConflict):
		return models.ReasonConflict
	default:
		return models.ReasonPersistence
	}
}
