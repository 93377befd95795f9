package service

import (
	"errors"
	"fmt"
)

// ─── Error kinds ────────────────────────────────────────────
//
// Every rejection returned by the pool and booking services wraps exactly
// one of these kinds, so callers branch with errors.Is and surface
// Error.Message to the user as-is.

var (
	ErrNotFound             = errors.New("not_found")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrInvalidState         = errors.New("invalid_state_transition")
	ErrCapacityExceeded     = errors.New("capacity_exceeded")
	ErrDuplicateParticipant = errors.New("duplicate_participant")
	ErrExpired              = errors.New("expired")
	ErrValidation           = errors.New("validation_error")

	// ErrConflict is returned when the optimistic write lost the race
	// MaxConflictRetries times in a row.
	ErrConflict = errors.New("conflict")
)

// Error is a domain rejection: a kind plus the user-facing message.
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Kind }

func reject(kind error, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Message extracts the user-facing text of a domain error. Errors that are
// not domain rejections get a generic message.
func Message(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	return "Something went wrong. Please try again."
}

// Kind returns the kind sentinel wrapped by err, or nil for infrastructure
// errors.
func Kind(err error) error {
	for _, k := range []error{
		ErrNotFound, ErrUnauthorized, ErrInvalidState, ErrCapacityExceeded,
		ErrDuplicateParticipant, ErrExpired, ErrValidation, ErrConflict,
	} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// ─── Pool-specific rejections ───────────────────────────────

func errPoolNotFound(id string) error {
	return reject(ErrNotFound, "Pool %s not found", id)
}

func errRiderNotInPool() error {
	return reject(ErrNotFound, "You are not a participant in this pool")
}

func errPoolNotJoinable(status string) error {
	return reject(ErrInvalidState, "This pool is %s and no longer accepting riders", status)
}

func errPoolExpired() error {
	return reject(ErrExpired, "This pool has expired")
}

func errInsufficientSeats(available int) error {
	if available == 1 {
		return reject(ErrCapacityExceeded, "Only 1 seat available")
	}
	return reject(ErrCapacityExceeded, "Only %d seats available", available)
}

func errBookingNotFound(id string) error {
	return reject(ErrNotFound, "Booking %s not found", id)
}
