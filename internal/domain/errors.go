package domain

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidInput = errors.New("invalid input")
	ErrPermission   = errors.New("permission denied")
	ErrExpired      = errors.New("expired")

	// ErrSerializationFailure is a lost SERIALIZABLE race; callers see it as a conflict.
	ErrSerializationFailure = errors.Mark(errors.New("serialization failure"), ErrConflict)
)

// TransitionError reports a status precondition that did not hold. It unwraps
// to ErrConflict so transports can map it without knowing the details.
type TransitionError struct {
	BookingID uuid.UUID
	From      BookingStatus
	To        BookingStatus
	Reason    string
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("booking %s: cannot move from %s to %s", e.BookingID, e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *TransitionError) Unwrap() error { return ErrConflict }

func transitionErr(b Booking, to BookingStatus, reason string) error {
	return &TransitionError{BookingID: b.ID, From: b.Status, To: to, Reason: reason}
}
