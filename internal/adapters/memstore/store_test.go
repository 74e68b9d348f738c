package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/parking-bookings/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, s *Store) (domain.ParkingLot, domain.Slot, domain.Booking) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	lot, err := domain.NewParkingLot(uuid.New(), "Centro", decimal.NewFromInt(5), nil, now)
	require.NoError(t, err)
	slot := domain.NewSlot(lot.ID, "A1", domain.SlotKindCommon, now)
	req := domain.BookingRequest{LotID: lot.ID, Date: now, StartTime: "09:00", EndTime: "10:00"}
	b := domain.NewBooking(uuid.New(), lot, req, decimal.NewFromInt(5), now, time.Minute)

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		if err := tx.InsertLot(ctx, lot); err != nil {
			return err
		}
		if err := tx.InsertSlot(ctx, slot); err != nil {
			return err
		}
		return tx.InsertBooking(ctx, b)
	}))
	return lot, slot, b
}

func TestUpdateBookingGuards(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, _, b := seed(t, s)

	stale := b
	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		require.NoError(t, b.Reject(time.Now()))
		return tx.UpdateBooking(ctx, b, domain.StatusPending)
	}))

	stored, err := s.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, stored.Status)
	assert.Equal(t, int64(1), stored.Version)

	err = s.WithTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		require.NoError(t, stale.Cancel(domain.RoleDriver, time.Now()))
		return tx.UpdateBooking(ctx, stale, domain.StatusPending)
	})
	assert.True(t, errors.Is(err, domain.ErrConflict), "stale version must not overwrite")

	err = s.WithTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		stored.Status = domain.StatusReserved
		return tx.UpdateBooking(ctx, stored, domain.StatusRejected)
	})
	var te *domain.TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, domain.StatusRejected, te.From)
}

func TestFailedTxLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, slot, b := seed(t, s)

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		if err := tx.LinkToBooking(ctx, slot.ID, b.ID, b.UserID); err != nil {
			return err
		}
		if err := tx.InsertEvent(ctx, domain.Event{ID: uuid.New()}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.GetSlot(ctx, slot.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SlotAvailable, got.Status)
	assert.Nil(t, got.BookingID)
	assert.Empty(t, s.Events())
}

func TestSlotOccupancy(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, slot, b := seed(t, s)

	err := s.WithTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		if err := tx.MarkOccupied(ctx, slot.ID, b.ID); !errors.Is(err, domain.ErrConflict) {
			t.Errorf("occupy before link: %v", err)
		}
		if err := tx.LinkToBooking(ctx, slot.ID, b.ID, b.UserID); err != nil {
			return err
		}
		if err := tx.LinkToBooking(ctx, slot.ID, uuid.New(), uuid.New()); !errors.Is(err, domain.ErrConflict) {
			t.Errorf("double link: %v", err)
		}
		if err := tx.MarkOccupied(ctx, slot.ID, uuid.New()); !errors.Is(err, domain.ErrConflict) {
			t.Errorf("occupy by another booking: %v", err)
		}
		if err := tx.MarkOccupied(ctx, slot.ID, b.ID); err != nil {
			return err
		}
		if err := tx.Free(ctx, slot.ID); err != nil {
			return err
		}
		return tx.Free(ctx, slot.ID)
	})
	require.NoError(t, err)

	got, err := s.GetSlot(ctx, slot.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SlotAvailable, got.Status)
	assert.Nil(t, got.UserID)
}

func TestDrainOutbox(t *testing.T) {
	ctx := context.Background()
	s := New()
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		for _, id := range ids {
			if err := tx.InsertEvent(ctx, domain.Event{ID: id}); err != nil {
				return err
			}
		}
		return nil
	}))

	var seen []uuid.UUID
	fail := errors.New("broker down")
	n, err := s.DrainOutbox(ctx, 10, func(_ context.Context, e domain.Event) error {
		if len(seen) == 1 {
			return fail
		}
		seen = append(seen, e.ID)
		return nil
	})
	assert.ErrorIs(t, err, fail)
	assert.Equal(t, 1, n)

	n, err = s.DrainOutbox(ctx, 10, func(_ context.Context, e domain.Event) error {
		seen = append(seen, e.ID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, ids, seen)
}

func TestDrainOutboxDoesNotBlockStore(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, _, b := seed(t, s)
	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		return tx.InsertEvent(ctx, domain.Event{ID: uuid.New()})
	}))
	before := len(s.Events())

	entered, release := make(chan struct{}, 1), make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := s.DrainOutbox(ctx, 0, func(_ context.Context, e domain.Event) error {
			select {
			case entered <- struct{}{}:
			default:
			}
			<-release
			return nil
		})
		done <- err
	}()
	<-entered

	reads := make(chan error, 1)
	go func() {
		_, err := s.GetBooking(ctx, b.ID)
		if err == nil {
			err = s.WithTx(ctx, func(ctx context.Context, tx domain.Tx) error {
				return tx.InsertEvent(ctx, domain.Event{ID: uuid.New()})
			})
		}
		reads <- err
	}()
	select {
	case err := <-reads:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("store call waited on a publish in progress")
	}

	close(release)
	require.NoError(t, <-done)

	n, err := s.DrainOutbox(ctx, 0, func(context.Context, domain.Event) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, s.Events(), before+1)
}
