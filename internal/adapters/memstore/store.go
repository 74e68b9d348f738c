// Package memstore is an in-process implementation of the booking store. A
// transaction holds the store lock for its whole duration and works on a copy
// of the state that replaces the original only on success.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/parking-bookings/internal/domain"
)

type outboxEntry struct {
	event       domain.Event
	publishedAt *time.Time
}

type state struct {
	bookings      map[uuid.UUID]domain.Booking
	lots          map[uuid.UUID]domain.ParkingLot
	slots         map[uuid.UUID]domain.Slot
	notifications []domain.Notification
	outbox        []outboxEntry
}

func (s state) clone() state {
	c := state{
		bookings:      make(map[uuid.UUID]domain.Booking, len(s.bookings)),
		lots:          make(map[uuid.UUID]domain.ParkingLot, len(s.lots)),
		slots:         make(map[uuid.UUID]domain.Slot, len(s.slots)),
		notifications: append([]domain.Notification(nil), s.notifications...),
		outbox:        append([]outboxEntry(nil), s.outbox...),
	}
	for k, v := range s.bookings {
		c.bookings[k] = v
	}
	for k, v := range s.lots {
		c.lots[k] = v
	}
	for k, v := range s.slots {
		c.slots[k] = v
	}
	return c
}

type Store struct {
	mu      sync.Mutex
	drainMu sync.Mutex
	st      state
}

func New() *Store {
	return &Store{st: state{
		bookings: map[uuid.UUID]domain.Booking{},
		lots:     map[uuid.UUID]domain.ParkingLot{},
		slots:    map[uuid.UUID]domain.Slot{},
	}}
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(ctx, &tx{st: &work}); err != nil {
		return err
	}
	s.st = work
	return nil
}

func (s *Store) GetBooking(_ context.Context, id uuid.UUID) (domain.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.st.bookings[id]
	if !ok {
		return domain.Booking{}, errors.Wrapf(domain.ErrNotFound, "booking %s", id)
	}
	return b, nil
}

func (s *Store) ListBookings(_ context.Context, f domain.BookingFilter) ([]domain.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Booking
	for _, b := range s.st.bookings {
		if f.UserID != nil && b.UserID != *f.UserID {
			continue
		}
		if f.OwnerID != nil && b.OwnerID != *f.OwnerID {
			continue
		}
		if f.Status != "" && b.Status != f.Status {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) ListExpiredPending(_ context.Context, now time.Time, limit int) ([]domain.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Booking
	for _, b := range s.st.bookings {
		if b.Status == domain.StatusPending && b.ExpiresAt != nil && b.ExpiresAt.Before(now) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(*out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) GetLot(_ context.Context, id uuid.UUID) (domain.ParkingLot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.getLot(id)
}

func (s *Store) GetSlot(_ context.Context, id uuid.UUID) (domain.Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.getSlot(id)
}

func (s *Store) ListSlots(_ context.Context, lotID uuid.UUID) ([]domain.Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Slot
	for _, sl := range s.st.slots {
		if sl.LotID == lotID {
			out = append(out, sl)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (s *Store) ListNotifications(_ context.Context, userID uuid.UUID, unreadOnly bool, limit int) ([]domain.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Notification
	for i := len(s.st.notifications) - 1; i >= 0; i-- {
		n := s.st.notifications[i]
		if n.UserID != userID || (unreadOnly && n.Read) {
			continue
		}
		out = append(out, n)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) MarkNotificationRead(_ context.Context, id, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, n := range s.st.notifications {
		if n.ID == id && n.UserID == userID {
			s.st.notifications[i].Read = true
			return nil
		}
	}
	return errors.Wrapf(domain.ErrNotFound, "notification %s", id)
}

// DrainOutbox hands unpublished events to publish in insertion order, marking
// each one published as soon as publish accepts it. The store lock is not held
// while publish runs; drains are serialized among themselves.
func (s *Store) DrainOutbox(ctx context.Context, limit int, publish func(context.Context, domain.Event) error) (int, error) {
	s.drainMu.Lock()
	defer s.drainMu.Unlock()

	type pending struct {
		idx   int
		event domain.Event
	}
	var batch []pending
	s.mu.Lock()
	for i, e := range s.st.outbox {
		if limit > 0 && len(batch) == limit {
			break
		}
		if e.publishedAt == nil {
			batch = append(batch, pending{idx: i, event: e.event})
		}
	}
	s.mu.Unlock()

	n := 0
	for _, p := range batch {
		if err := publish(ctx, p.event); err != nil {
			return n, err
		}
		now := time.Now()
		s.mu.Lock()
		// the outbox is append-only, so the index still names the same event
		s.st.outbox[p.idx].publishedAt = &now
		s.mu.Unlock()
		n++
	}
	return n, nil
}

// Events returns every event ever recorded, published or not.
func (s *Store) Events() []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Event, 0, len(s.st.outbox))
	for _, e := range s.st.outbox {
		out = append(out, e.event)
	}
	return out
}
