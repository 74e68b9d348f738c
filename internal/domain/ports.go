package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// BookingStore persists bookings and the lots they are priced against.
type BookingStore interface {
	InsertBooking(ctx context.Context, b Booking) error
	GetBookingForUpdate(ctx context.Context, id uuid.UUID) (Booking, error)
	// UpdateBooking writes b only if the stored row still has status from and
	// version b.Version; the stored version is then incremented.
	UpdateBooking(ctx context.Context, b Booking, from BookingStatus) error
	InsertLot(ctx context.Context, lot ParkingLot) error
	GetLot(ctx context.Context, id uuid.UUID) (ParkingLot, error)
}

// SlotRegistry owns slot status and occupancy. Only the reservation
// coordinator calls it, inside the booking's transaction.
type SlotRegistry interface {
	InsertSlot(ctx context.Context, s Slot) error
	GetSlot(ctx context.Context, id uuid.UUID) (Slot, error)
	FindSlotByNumber(ctx context.Context, lotID uuid.UUID, number string) (Slot, error)
	FindAvailableSlot(ctx context.Context, lotID uuid.UUID) (Slot, error)
	LinkToBooking(ctx context.Context, slotID, bookingID, userID uuid.UUID) error
	MarkOccupied(ctx context.Context, slotID, bookingID uuid.UUID) error
	Free(ctx context.Context, slotID uuid.UUID) error
	SetMaintenance(ctx context.Context, slotID uuid.UUID, on bool) error
}

// NotificationSink records durable notifications and outbox events.
type NotificationSink interface {
	InsertNotification(ctx context.Context, n Notification) error
	InsertEvent(ctx context.Context, e Event) error
}

// Tx is everything available inside one store transaction.
type Tx interface {
	BookingStore
	SlotRegistry
	NotificationSink
}

// Store is the persistence boundary of the booking engine.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetBooking(ctx context.Context, id uuid.UUID) (Booking, error)
	ListBookings(ctx context.Context, f BookingFilter) ([]Booking, error)
	ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]Booking, error)
	GetLot(ctx context.Context, id uuid.UUID) (ParkingLot, error)
	ListSlots(ctx context.Context, lotID uuid.UUID) ([]Slot, error)
	ListNotifications(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit int) ([]Notification, error)
	MarkNotificationRead(ctx context.Context, id, userID uuid.UUID) error
}
