package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	EventBookingCreated            = "booking.created"
	EventBookingAccepted           = "booking.accepted"
	EventBookingRejected           = "booking.rejected"
	EventBookingExpired            = "booking.expired"
	EventBookingCancelled          = "booking.cancelled"
	EventBookingArrivalConfirmed   = "booking.arrival_confirmed"
	EventBookingOccupied           = "booking.occupied"
	EventBookingDepartureConfirmed = "booking.departure_confirmed"
	EventBookingCompleted          = "booking.completed"
	EventSlotUpdated               = "slot.updated"
	EventNotificationCreated       = "notification.created"
)

const (
	AggregateBooking      = "booking"
	AggregateSlot         = "slot"
	AggregateNotification = "notification"
)

// Event is a committed change, relayed through the outbox to every recipient's
// live connections. Delivery is at-least-once and scoped by recipient.
type Event struct {
	ID            uuid.UUID       `json:"event_id"`
	Type          string          `json:"event_type"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   uuid.UUID       `json:"aggregate_id"`
	Recipients    []uuid.UUID     `json:"recipients"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Payload       json.RawMessage `json:"payload"`
}
