package booking

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/parking-bookings/internal/domain"
	"github.com/robertarktes/parking-bookings/internal/notify"
	"github.com/robertarktes/parking-bookings/internal/pricing"
	"go.opentelemetry.io/otel/attribute"
)

type CreateBookingInput struct {
	LotID      uuid.UUID
	Date       time.Time
	StartTime  string
	EndTime    string
	SpotNumber string
}

// CreateBooking opens a pending request on a lot the caller does not own. A
// requested spot number must exist in the lot; it is only claimed on accept.
func (s *Service) CreateBooking(ctx context.Context, caller uuid.UUID, in CreateBookingInput) (b domain.Booking, err error) {
	ctx, span := s.start(ctx, "CreateBooking", attribute.String("lot.id", in.LotID.String()))
	defer func() { finish(span, "create", err) }()

	req := domain.BookingRequest{
		LotID:      in.LotID,
		Date:       in.Date,
		StartTime:  in.StartTime,
		EndTime:    in.EndTime,
		SpotNumber: strings.TrimSpace(in.SpotNumber),
	}
	minutes, err := req.DurationMinutes()
	if err != nil {
		return domain.Booking{}, err
	}

	now := s.now()
	err = s.store.WithTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		lot, err := tx.GetLot(ctx, req.LotID)
		if err != nil {
			return err
		}
		if lot.OwnerID == caller {
			return errors.Wrap(domain.ErrPermission, "owners cannot book their own lot")
		}
		if req.SpotNumber != "" {
			if _, err := tx.FindSlotByNumber(ctx, lot.ID, req.SpotNumber); err != nil {
				return err
			}
		}
		b = domain.NewBooking(caller, lot, req, pricing.ForLot(lot, minutes), now, s.requestTTL)
		if err := tx.InsertBooking(ctx, b); err != nil {
			return err
		}
		return notify.BookingCreated(b, now).Write(ctx, tx)
	})
	if err != nil {
		return domain.Booking{}, err
	}
	s.committed(ctx, "create", caller, "", b)
	return b, nil
}

// Accept claims a slot for a pending request: the requested spot if one was
// named, otherwise the lowest numbered free slot of the lot.
func (s *Service) Accept(ctx context.Context, id, caller uuid.UUID) (b domain.Booking, err error) {
	ctx, span := s.start(ctx, "Accept", attribute.String("booking.id", id.String()))
	defer func() { finish(span, "accept", err) }()

	now := s.now()
	err = s.store.WithTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var role domain.Role
		b, role, err = loadAs(ctx, tx, id, caller)
		if err != nil {
			return err
		}
		if err := requireOwner(b, role); err != nil {
			return err
		}
		if err := b.Acceptable(now); err != nil {
			return err
		}

		var slot domain.Slot
		if b.SpotNumber != "" {
			slot, err = tx.FindSlotByNumber(ctx, b.LotID, b.SpotNumber)
		} else {
			slot, err = tx.FindAvailableSlot(ctx, b.LotID)
		}
		if err != nil {
			return err
		}
		if err := tx.LinkToBooking(ctx, slot.ID, b.ID, b.UserID); err != nil {
			return err
		}
		if slot, err = tx.GetSlot(ctx, slot.ID); err != nil {
			return err
		}

		if err := b.Accept(slot, now); err != nil {
			return err
		}
		if err := update(ctx, tx, &b, domain.StatusPending); err != nil {
			return err
		}
		return notify.BookingAccepted(b, slot, now).Write(ctx, tx)
	})
	if err != nil {
		return domain.Booking{}, err
	}
	s.committed(ctx, "accept", caller, domain.StatusPending, b)
	return b, nil
}

// Reject declines a pending request. Nothing happens to any slot.
func (s *Service) Reject(ctx context.Context, id, caller uuid.UUID) (b domain.Booking, err error) {
	ctx, span := s.start(ctx, "Reject", attribute.String("booking.id", id.String()))
	defer func() { finish(span, "reject", err) }()

	now := s.now()
	err = s.store.WithTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var role domain.Role
		b, role, err = loadAs(ctx, tx, id, caller)
		if err != nil {
			return err
		}
		if err := requireOwner(b, role); err != nil {
			return err
		}
		if err := b.Reject(now); err != nil {
			return err
		}
		if err := update(ctx, tx, &b, domain.StatusPending); err != nil {
			return err
		}
		return notify.BookingRejected(b, now).Write(ctx, tx)
	})
	if err != nil {
		return domain.Booking{}, err
	}
	s.committed(ctx, "reject", caller, domain.StatusPending, b)
	return b, nil
}

// Cancel ends an open booking on behalf of either party and frees its slot.
func (s *Service) Cancel(ctx context.Context, id, caller uuid.UUID) (b domain.Booking, err error) {
	ctx, span := s.start(ctx, "Cancel", attribute.String("booking.id", id.String()))
	defer func() { finish(span, "cancel", err) }()

	now := s.now()
	var from domain.BookingStatus
	err = s.store.WithTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var role domain.Role
		b, role, err = loadAs(ctx, tx, id, caller)
		if err != nil {
			return err
		}
		from = b.Status
		if err := b.Cancel(role, now); err != nil {
			return err
		}

		var freed *domain.Slot
		if b.SlotID != nil && from != domain.StatusPending {
			if err := tx.Free(ctx, *b.SlotID); err != nil {
				return err
			}
			slot, err := tx.GetSlot(ctx, *b.SlotID)
			if err != nil {
				return err
			}
			freed = &slot
		}
		if err := update(ctx, tx, &b, from); err != nil {
			return err
		}
		return notify.BookingCancelled(b, role, freed, now).Write(ctx, tx)
	})
	if err != nil {
		return domain.Booking{}, err
	}
	s.committed(ctx, "cancel", caller, from, b)
	return b, nil
}

// ConfirmArrival records one side of the arrival handshake. When both sides
// have confirmed, booking and slot become ocupada together.
func (s *Service) ConfirmArrival(ctx context.Context, id, caller uuid.UUID, role domain.Role) (b domain.Booking, err error) {
	ctx, span := s.start(ctx, "ConfirmArrival",
		attribute.String("booking.id", id.String()), attribute.String("role", string(role)))
	defer func() { finish(span, "arrival", err) }()

	now := s.now()
	err = s.store.WithTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		b, err = loadConfirming(ctx, tx, id, caller, role)
		if err != nil {
			return err
		}
		promoted, err := b.ConfirmArrival(role, now)
		if err != nil {
			return err
		}
		var slot domain.Slot
		if promoted {
			if slot, err = s.slotOf(ctx, tx, b, tx.MarkOccupied); err != nil {
				return err
			}
		}
		if err := update(ctx, tx, &b, domain.StatusReserved); err != nil {
			return err
		}
		return notify.ArrivalConfirmed(b, role, promoted, slot, now).Write(ctx, tx)
	})
	if err != nil {
		return domain.Booking{}, err
	}
	s.committed(ctx, "arrival_"+string(role), caller, domain.StatusReserved, b)
	return b, nil
}

// ConfirmDeparture records one side of the departure handshake. When both
// sides have confirmed the booking is concluida and the slot free again.
func (s *Service) ConfirmDeparture(ctx context.Context, id, caller uuid.UUID, role domain.Role) (b domain.Booking, err error) {
	ctx, span := s.start(ctx, "ConfirmDeparture",
		attribute.String("booking.id", id.String()), attribute.String("role", string(role)))
	defer func() { finish(span, "departure", err) }()

	now := s.now()
	err = s.store.WithTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		b, err = loadConfirming(ctx, tx, id, caller, role)
		if err != nil {
			return err
		}
		completed, err := b.ConfirmDeparture(role, now)
		if err != nil {
			return err
		}
		var slot domain.Slot
		if completed {
			free := func(ctx context.Context, slotID, _ uuid.UUID) error { return tx.Free(ctx, slotID) }
			if slot, err = s.slotOf(ctx, tx, b, free); err != nil {
				return err
			}
		}
		if err := update(ctx, tx, &b, domain.StatusOccupied); err != nil {
			return err
		}
		return notify.DepartureConfirmed(b, role, completed, slot, now).Write(ctx, tx)
	})
	if err != nil {
		return domain.Booking{}, err
	}
	s.committed(ctx, "departure_"+string(role), caller, domain.StatusOccupied, b)
	return b, nil
}

func loadConfirming(ctx context.Context, tx domain.Tx, id, caller uuid.UUID, role domain.Role) (domain.Booking, error) {
	if _, err := domain.ParseRole(string(role)); err != nil {
		return domain.Booking{}, err
	}
	b, actual, err := loadAs(ctx, tx, id, caller)
	if err != nil {
		return domain.Booking{}, err
	}
	if actual != role {
		return domain.Booking{}, errors.Wrapf(domain.ErrPermission, "user %s is the %s of booking %s, not the %s", caller, actual, id, role)
	}
	return b, nil
}

// slotOf applies change to the booking's slot and returns the slot as written.
func (s *Service) slotOf(ctx context.Context, tx domain.Tx, b domain.Booking, change func(ctx context.Context, slotID, bookingID uuid.UUID) error) (domain.Slot, error) {
	if b.SlotID == nil {
		return domain.Slot{}, errors.Wrapf(domain.ErrConflict, "booking %s has no slot", b.ID)
	}
	if err := change(ctx, *b.SlotID, b.ID); err != nil {
		return domain.Slot{}, err
	}
	return tx.GetSlot(ctx, *b.SlotID)
}

// Expire closes a pending request whose deadline passed. It is the sweeper's
// entry point; losing the race to accept, reject or cancel yields ErrConflict.
func (s *Service) Expire(ctx context.Context, id uuid.UUID) (b domain.Booking, err error) {
	ctx, span := s.start(ctx, "Expire", attribute.String("booking.id", id.String()))
	defer func() { finish(span, "expire", err) }()

	now := s.now()
	err = s.store.WithTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		b, err = tx.GetBookingForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := b.Expire(now); err != nil {
			return err
		}
		if err := update(ctx, tx, &b, domain.StatusPending); err != nil {
			return err
		}
		return notify.BookingExpired(b, now).Write(ctx, tx)
	})
	if err != nil {
		return domain.Booking{}, err
	}
	s.committed(ctx, "expire", uuid.Nil, domain.StatusPending, b)
	return b, nil
}

// GetBooking hides bookings from anyone who is not a party to them.
func (s *Service) GetBooking(ctx context.Context, id, caller uuid.UUID) (domain.Booking, error) {
	b, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return domain.Booking{}, err
	}
	if _, ok := b.RoleOf(caller); !ok {
		return domain.Booking{}, errors.Wrapf(domain.ErrNotFound, "booking %s", id)
	}
	return b, nil
}

// ListBookings lists the caller's bookings as requester (driver) or as lot
// owner, newest first.
func (s *Service) ListBookings(ctx context.Context, caller uuid.UUID, role domain.Role, status domain.BookingStatus, limit int) ([]domain.Booking, error) {
	f := domain.BookingFilter{Status: status, Limit: limit}
	switch role {
	case domain.RoleOwner:
		f.OwnerID = &caller
	case domain.RoleDriver, "":
		f.UserID = &caller
	default:
		return nil, errors.Wrapf(domain.ErrInvalidInput, "unknown role %q", role)
	}
	if status != "" && !status.Valid() {
		return nil, errors.Wrapf(domain.ErrInvalidInput, "unknown booking status %q", status)
	}
	return s.store.ListBookings(ctx, f)
}

func (s *Service) ListExpiredPending(ctx context.Context, limit int) ([]domain.Booking, error) {
	return s.store.ListExpiredPending(ctx, s.now(), limit)
}

func (s *Service) ListNotifications(ctx context.Context, caller uuid.UUID, unreadOnly bool, limit int) ([]domain.Notification, error) {
	return s.store.ListNotifications(ctx, caller, unreadOnly, limit)
}

func (s *Service) MarkNotificationRead(ctx context.Context, id, caller uuid.UUID) error {
	return s.store.MarkNotificationRead(ctx, id, caller)
}
