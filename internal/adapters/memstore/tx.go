package memstore

import (
	"context"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/parking-bookings/internal/domain"
)

type tx struct {
	st *state
}

func (s *state) getLot(id uuid.UUID) (domain.ParkingLot, error) {
	lot, ok := s.lots[id]
	if !ok {
		return domain.ParkingLot{}, errors.Wrapf(domain.ErrNotFound, "lot %s", id)
	}
	return lot, nil
}

func (s *state) getSlot(id uuid.UUID) (domain.Slot, error) {
	sl, ok := s.slots[id]
	if !ok {
		return domain.Slot{}, errors.Wrapf(domain.ErrNotFound, "slot %s", id)
	}
	return sl, nil
}

func (t *tx) InsertBooking(_ context.Context, b domain.Booking) error {
	if _, ok := t.st.bookings[b.ID]; ok {
		return errors.Wrapf(domain.ErrConflict, "booking %s already exists", b.ID)
	}
	t.st.bookings[b.ID] = b
	return nil
}

func (t *tx) GetBookingForUpdate(_ context.Context, id uuid.UUID) (domain.Booking, error) {
	b, ok := t.st.bookings[id]
	if !ok {
		return domain.Booking{}, errors.Wrapf(domain.ErrNotFound, "booking %s", id)
	}
	return b, nil
}

func (t *tx) UpdateBooking(_ context.Context, b domain.Booking, from domain.BookingStatus) error {
	if err := domain.ValidateTransition(b, from); err != nil {
		return err
	}
	cur, ok := t.st.bookings[b.ID]
	if !ok {
		return errors.Wrapf(domain.ErrNotFound, "booking %s", b.ID)
	}
	if cur.Status != from || cur.Version != b.Version {
		return &domain.TransitionError{BookingID: b.ID, From: cur.Status, To: b.Status, Reason: "booking changed concurrently"}
	}
	b.Version++
	t.st.bookings[b.ID] = b
	return nil
}

func (t *tx) InsertLot(_ context.Context, lot domain.ParkingLot) error {
	t.st.lots[lot.ID] = lot
	return nil
}

func (t *tx) GetLot(_ context.Context, id uuid.UUID) (domain.ParkingLot, error) {
	return t.st.getLot(id)
}

func (t *tx) InsertSlot(_ context.Context, s domain.Slot) error {
	if _, err := t.st.getLot(s.LotID); err != nil {
		return err
	}
	for _, other := range t.st.slots {
		if other.LotID == s.LotID && other.Number == s.Number {
			return errors.Wrapf(domain.ErrConflict, "slot %s already exists in lot %s", s.Number, s.LotID)
		}
	}
	t.st.slots[s.ID] = s
	return nil
}

func (t *tx) GetSlot(_ context.Context, id uuid.UUID) (domain.Slot, error) {
	return t.st.getSlot(id)
}

func (t *tx) FindSlotByNumber(_ context.Context, lotID uuid.UUID, number string) (domain.Slot, error) {
	for _, s := range t.st.slots {
		if s.LotID == lotID && s.Number == number {
			return s, nil
		}
	}
	return domain.Slot{}, errors.Wrapf(domain.ErrNotFound, "slot %s in lot %s", number, lotID)
}

func (t *tx) FindAvailableSlot(_ context.Context, lotID uuid.UUID) (domain.Slot, error) {
	var free []domain.Slot
	for _, s := range t.st.slots {
		if s.LotID == lotID && s.Status == domain.SlotAvailable {
			free = append(free, s)
		}
	}
	if len(free) == 0 {
		return domain.Slot{}, errors.Wrapf(domain.ErrConflict, "no available slot in lot %s", lotID)
	}
	sort.Slice(free, func(i, j int) bool { return free[i].Number < free[j].Number })
	return free[0], nil
}

func (t *tx) LinkToBooking(_ context.Context, slotID, bookingID, userID uuid.UUID) error {
	s, err := t.st.getSlot(slotID)
	if err != nil {
		return err
	}
	if s.Status != domain.SlotAvailable {
		return errors.Wrapf(domain.ErrConflict, "slot %s is %s", s.Number, s.Status)
	}
	s.Status = domain.SlotReserved
	s.BookingID = &bookingID
	s.UserID = &userID
	t.st.slots[slotID] = s
	return nil
}

func (t *tx) MarkOccupied(_ context.Context, slotID, bookingID uuid.UUID) error {
	s, err := t.st.getSlot(slotID)
	if err != nil {
		return err
	}
	if s.Status != domain.SlotReserved || s.BookingID == nil || *s.BookingID != bookingID {
		return errors.Wrapf(domain.ErrConflict, "slot %s is not reserved for booking %s", s.Number, bookingID)
	}
	s.Status = domain.SlotOccupied
	t.st.slots[slotID] = s
	return nil
}

func (t *tx) Free(_ context.Context, slotID uuid.UUID) error {
	s, err := t.st.getSlot(slotID)
	if err != nil {
		return err
	}
	s.Status = domain.SlotAvailable
	s.BookingID = nil
	s.UserID = nil
	t.st.slots[slotID] = s
	return nil
}

func (t *tx) SetMaintenance(_ context.Context, slotID uuid.UUID, on bool) error {
	s, err := t.st.getSlot(slotID)
	if err != nil {
		return err
	}
	from, to := domain.SlotAvailable, domain.SlotMaintenance
	if !on {
		from, to = to, from
	}
	if s.Status != from {
		return errors.Wrapf(domain.ErrConflict, "slot %s is %s", s.Number, s.Status)
	}
	s.Status = to
	t.st.slots[slotID] = s
	return nil
}

func (t *tx) InsertNotification(_ context.Context, n domain.Notification) error {
	t.st.notifications = append(t.st.notifications, n)
	return nil
}

func (t *tx) InsertEvent(_ context.Context, e domain.Event) error {
	t.st.outbox = append(t.st.outbox, outboxEntry{event: e})
	return nil
}
