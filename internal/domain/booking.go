package domain

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const clockLayout = "15:04"

// Booking is a driver's request for a slot in a parking lot and everything that
// happens to it afterwards. Bookings are never deleted; terminal statuses tag them.
type Booking struct {
	ID         uuid.UUID       `json:"id"`
	UserID     uuid.UUID       `json:"user_id"`
	OwnerID    uuid.UUID       `json:"owner_id"`
	LotID      uuid.UUID       `json:"lot_id"`
	SlotID     *uuid.UUID      `json:"slot_id,omitempty"`
	SpotNumber string          `json:"spot_number,omitempty"`
	Date       time.Time       `json:"date"`
	StartTime  string          `json:"start_time"`
	EndTime    string          `json:"end_time"`
	Price      decimal.Decimal `json:"price"`
	Status     BookingStatus   `json:"status"`
	Version    int64           `json:"version"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	AcceptedAt  *time.Time `json:"accepted_at,omitempty"`
	RejectedAt  *time.Time `json:"rejected_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	ArrivalOwnerAt   *time.Time `json:"arrival_owner_at,omitempty"`
	ArrivalUserAt    *time.Time `json:"arrival_user_at,omitempty"`
	DepartureOwnerAt *time.Time `json:"departure_owner_at,omitempty"`
	DepartureUserAt  *time.Time `json:"departure_user_at,omitempty"`
}

// BookingRequest is what a driver submits to open a booking.
type BookingRequest struct {
	LotID      uuid.UUID
	Date       time.Time
	StartTime  string
	EndTime    string
	SpotNumber string
}

// DurationMinutes validates the requested window and returns its length.
func (r BookingRequest) DurationMinutes() (int, error) {
	if r.LotID == uuid.Nil {
		return 0, errors.Wrap(ErrInvalidInput, "lot id is required")
	}
	if r.Date.IsZero() {
		return 0, errors.Wrap(ErrInvalidInput, "date is required")
	}
	start, err := time.Parse(clockLayout, r.StartTime)
	if err != nil {
		return 0, errors.Wrapf(ErrInvalidInput, "start time %q must be HH:MM", r.StartTime)
	}
	end, err := time.Parse(clockLayout, r.EndTime)
	if err != nil {
		return 0, errors.Wrapf(ErrInvalidInput, "end time %q must be HH:MM", r.EndTime)
	}
	if !end.After(start) {
		return 0, errors.Wrapf(ErrInvalidInput, "end time %s must be after start time %s", r.EndTime, r.StartTime)
	}
	return int(end.Sub(start) / time.Minute), nil
}

func NewBooking(requester uuid.UUID, lot ParkingLot, req BookingRequest, price decimal.Decimal, now time.Time, ttl time.Duration) Booking {
	expiresAt := now.Add(ttl)
	y, m, d := req.Date.Date()
	return Booking{
		ID:         uuid.New(),
		UserID:     requester,
		OwnerID:    lot.OwnerID,
		LotID:      lot.ID,
		SpotNumber: req.SpotNumber,
		Date:       time.Date(y, m, d, 0, 0, 0, 0, time.UTC),
		StartTime:  req.StartTime,
		EndTime:    req.EndTime,
		Price:      price,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
		ExpiresAt:  &expiresAt,
	}
}

// RoleOf reports which side of the booking user is on.
func (b Booking) RoleOf(user uuid.UUID) (Role, bool) {
	switch user {
	case b.OwnerID:
		return RoleOwner, true
	case b.UserID:
		return RoleDriver, true
	}
	return "", false
}

// Participants are the users that must see every change to the booking.
func (b Booking) Participants() []uuid.UUID {
	return []uuid.UUID{b.UserID, b.OwnerID}
}

func (b Booking) PastDeadline(now time.Time) bool {
	return b.Status == StatusPending && b.ExpiresAt != nil && now.After(*b.ExpiresAt)
}

// Acceptable reports why b cannot be accepted at now, if it cannot.
func (b Booking) Acceptable(now time.Time) error {
	if b.Status != StatusPending {
		return transitionErr(b, StatusReserved, "request is no longer pending")
	}
	if b.PastDeadline(now) {
		return errors.Wrapf(ErrExpired, "booking %s expired at %s", b.ID, b.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}

func (b *Booking) Accept(slot Slot, now time.Time) error {
	if err := b.Acceptable(now); err != nil {
		return err
	}
	slotID := slot.ID
	b.SlotID = &slotID
	b.SpotNumber = slot.Number
	b.leavePending(StatusReserved, now)
	b.AcceptedAt = &now
	return nil
}

func (b *Booking) Reject(now time.Time) error {
	if b.Status != StatusPending {
		return transitionErr(*b, StatusRejected, "request is no longer pending")
	}
	b.leavePending(StatusRejected, now)
	b.RejectedAt = &now
	return nil
}

// Expire moves a pending booking whose deadline passed to expirada. The
// deadline itself is kept for the record.
func (b *Booking) Expire(now time.Time) error {
	if b.Status != StatusPending {
		return transitionErr(*b, StatusExpired, "request is no longer pending")
	}
	if !b.PastDeadline(now) {
		return transitionErr(*b, StatusExpired, "deadline not reached")
	}
	b.Status = StatusExpired
	b.UpdatedAt = now
	return nil
}

// Cancel ends the booking early. The driver may cancel any open booking; the
// owner only once it was accepted (a pending request is rejected instead).
func (b *Booking) Cancel(by Role, now time.Time) error {
	switch {
	case b.Status == StatusPending && by == RoleDriver:
	case b.Status == StatusReserved, b.Status == StatusOccupied:
	default:
		return transitionErr(*b, StatusCancelled, "booking cannot be cancelled by the "+string(by))
	}
	b.leavePending(StatusCancelled, now)
	b.CancelledAt = &now
	return nil
}

// ConfirmArrival stamps the given side's arrival. The driver can only
// corroborate an arrival the owner already confirmed. It reports whether the
// pair is now complete and the booking moved to ocupada.
func (b *Booking) ConfirmArrival(role Role, now time.Time) (bool, error) {
	if b.Status != StatusReserved {
		return false, transitionErr(*b, StatusOccupied, "arrival can only be confirmed on a reserved booking")
	}
	if err := b.stamp(role, &b.ArrivalOwnerAt, &b.ArrivalUserAt, StatusOccupied, "arrival", now); err != nil {
		return false, err
	}
	b.UpdatedAt = now
	if b.ArrivalOwnerAt != nil && b.ArrivalUserAt != nil {
		b.Status = StatusOccupied
		return true, nil
	}
	return false, nil
}

// ConfirmDeparture mirrors ConfirmArrival for leaving the slot; completing the
// pair moves the booking to concluida.
func (b *Booking) ConfirmDeparture(role Role, now time.Time) (bool, error) {
	if b.Status != StatusOccupied {
		return false, transitionErr(*b, StatusCompleted, "departure can only be confirmed on an occupied booking")
	}
	if err := b.stamp(role, &b.DepartureOwnerAt, &b.DepartureUserAt, StatusCompleted, "departure", now); err != nil {
		return false, err
	}
	b.UpdatedAt = now
	if b.DepartureOwnerAt != nil && b.DepartureUserAt != nil {
		b.Status = StatusCompleted
		b.CompletedAt = &now
		return true, nil
	}
	return false, nil
}

func (b *Booking) stamp(role Role, ownerAt, userAt **time.Time, to BookingStatus, what string, now time.Time) error {
	switch role {
	case RoleOwner:
		if *ownerAt != nil {
			return transitionErr(*b, to, what+" already confirmed by owner")
		}
		*ownerAt = &now
	case RoleDriver:
		if *ownerAt == nil {
			return transitionErr(*b, to, "owner has not confirmed "+what+" yet")
		}
		if *userAt != nil {
			return transitionErr(*b, to, what+" already confirmed by driver")
		}
		*userAt = &now
	default:
		return errors.Wrapf(ErrInvalidInput, "unknown role %q", role)
	}
	return nil
}

// leavePending clears the request deadline, which only means something while pending.
func (b *Booking) leavePending(to BookingStatus, now time.Time) {
	b.Status = to
	b.ExpiresAt = nil
	b.UpdatedAt = now
}

type BookingFilter struct {
	UserID  *uuid.UUID
	OwnerID *uuid.UUID
	Status  BookingStatus
	Limit   int
}
