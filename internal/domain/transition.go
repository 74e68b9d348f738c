package domain

import (
	"time"

	"github.com/google/uuid"
)

// Transition describes one committed booking change for the audit trail.
// Actor is uuid.Nil when the sweeper made the change.
type Transition struct {
	BookingID uuid.UUID
	Operation string
	Actor     uuid.UUID
	From      BookingStatus
	To        BookingStatus
	SlotID    *uuid.UUID
	At        time.Time
}
