package crdb_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robertarktes/parking-bookings/internal/adapters/crdb"
	"github.com/robertarktes/parking-bookings/internal/booking"
	"github.com/robertarktes/parking-bookings/internal/domain"
	"github.com/robertarktes/parking-bookings/internal/observability"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startCRDB(t *testing.T) *crdb.Repository {
	t.Helper()
	if testing.Short() {
		t.Skip("needs docker")
	}
	ctx := context.Background()

	crdbContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "cockroachdb/cockroach:v24.1.1",
			Cmd:          []string{"start-single-node", "--insecure"},
			ExposedPorts: []string{"26257/tcp", "8080/tcp"},
			WaitingFor:   wait.ForHTTP("/health?ready=1").WithPort("8080"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = crdbContainer.Terminate(ctx) })

	host, err := crdbContainer.Host(ctx)
	require.NoError(t, err)
	port, err := crdbContainer.MappedPort(ctx, "26257")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, fmt.Sprintf("postgresql://root@%s:%s/defaultdb?sslmode=disable", host, port.Port()))
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	repo := crdb.NewRepository(pool)
	require.NoError(t, repo.Migrate(ctx))
	return repo
}

func seedLot(t *testing.T, repo *crdb.Repository, owner uuid.UUID, slots ...string) domain.ParkingLot {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	lot, err := domain.NewParkingLot(owner, "Centro", decimal.NewFromInt(5), []domain.PriceTier{
		{Hours: 1, Price: decimal.NewFromInt(10)},
		{Hours: 2, Price: decimal.RequireFromString("25.50")},
	}, now)
	require.NoError(t, err)

	require.NoError(t, repo.WithTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		if err := tx.InsertLot(ctx, lot); err != nil {
			return err
		}
		for _, n := range slots {
			if err := tx.InsertSlot(ctx, domain.NewSlot(lot.ID, n, domain.SlotKindCommon, now)); err != nil {
				return err
			}
		}
		return nil
	}))
	return lot
}

func TestRepository(t *testing.T) {
	repo := startCRDB(t)
	ctx := context.Background()

	t.Run("lot round trip", func(t *testing.T) {
		owner := uuid.New()
		lot := seedLot(t, repo, owner, "A1")

		got, err := repo.GetLot(ctx, lot.ID)
		require.NoError(t, err)
		assert.Equal(t, owner, got.OwnerID)
		assert.True(t, decimal.NewFromInt(5).Equal(got.OvertimeRate))
		require.Len(t, got.PriceTiers, 2)
		assert.True(t, decimal.RequireFromString("25.50").Equal(got.PriceTiers[1].Price))

		_, err = repo.GetLot(ctx, uuid.New())
		assert.True(t, errors.Is(err, domain.ErrNotFound))
	})

	t.Run("duplicate slot number", func(t *testing.T) {
		lot := seedLot(t, repo, uuid.New(), "A1")
		err := repo.WithTx(ctx, func(ctx context.Context, tx domain.Tx) error {
			return tx.InsertSlot(ctx, domain.NewSlot(lot.ID, "A1", domain.SlotKindCommon, time.Now()))
		})
		assert.True(t, errors.Is(err, domain.ErrConflict))
	})

	t.Run("booking update is guarded by status and version", func(t *testing.T) {
		lot := seedLot(t, repo, uuid.New(), "A1")
		now := time.Now().UTC().Truncate(time.Microsecond)
		req := domain.BookingRequest{LotID: lot.ID, Date: now, StartTime: "09:00", EndTime: "10:30"}
		b := domain.NewBooking(uuid.New(), lot, req, decimal.RequireFromString("25.50"), now, 15*time.Minute)

		require.NoError(t, repo.WithTx(ctx, func(ctx context.Context, tx domain.Tx) error {
			return tx.InsertBooking(ctx, b)
		}))
		stored, err := repo.GetBooking(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusPending, stored.Status)
		assert.True(t, b.Price.Equal(stored.Price))
		require.NotNil(t, stored.ExpiresAt)
		assert.True(t, b.ExpiresAt.Equal(*stored.ExpiresAt))
		assert.Nil(t, stored.SlotID)

		stale := stored
		require.NoError(t, repo.WithTx(ctx, func(ctx context.Context, tx domain.Tx) error {
			cur, err := tx.GetBookingForUpdate(ctx, b.ID)
			if err != nil {
				return err
			}
			if err := cur.Reject(time.Now()); err != nil {
				return err
			}
			return tx.UpdateBooking(ctx, cur, domain.StatusPending)
		}))

		err = repo.WithTx(ctx, func(ctx context.Context, tx domain.Tx) error {
			if err := stale.Cancel(domain.RoleDriver, time.Now()); err != nil {
				return err
			}
			return tx.UpdateBooking(ctx, stale, domain.StatusPending)
		})
		var te *domain.TransitionError
		require.True(t, errors.As(err, &te), "got %v", err)
		assert.Equal(t, domain.StatusRejected, te.From)

		final, err := repo.GetBooking(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusRejected, final.Status)
		assert.Equal(t, int64(1), final.Version)
		assert.Nil(t, final.ExpiresAt)
	})

	t.Run("slot guards", func(t *testing.T) {
		lot := seedLot(t, repo, uuid.New(), "A1")
		bookingID, userID := uuid.New(), uuid.New()

		err := repo.WithTx(ctx, func(ctx context.Context, tx domain.Tx) error {
			slot, err := tx.FindAvailableSlot(ctx, lot.ID)
			if err != nil {
				return err
			}
			if err := tx.LinkToBooking(ctx, slot.ID, bookingID, userID); err != nil {
				return err
			}
			if err := tx.LinkToBooking(ctx, slot.ID, uuid.New(), uuid.New()); !errors.Is(err, domain.ErrConflict) {
				return errors.Newf("second link: %v", err)
			}
			return nil
		})
		require.NoError(t, err)

		err = repo.WithTx(ctx, func(ctx context.Context, tx domain.Tx) error {
			_, err := tx.FindAvailableSlot(ctx, lot.ID)
			return err
		})
		assert.True(t, errors.Is(err, domain.ErrConflict))

		err = repo.WithTx(ctx, func(ctx context.Context, tx domain.Tx) error {
			return tx.LinkToBooking(ctx, uuid.New(), bookingID, userID)
		})
		assert.True(t, errors.Is(err, domain.ErrNotFound))
	})

	t.Run("outbox drains in order", func(t *testing.T) {
		base := time.Now().UTC().Add(-time.Hour)
		var ids []uuid.UUID
		require.NoError(t, repo.WithTx(ctx, func(ctx context.Context, tx domain.Tx) error {
			for i := 0; i < 3; i++ {
				e := domain.Event{
					ID:            uuid.New(),
					Type:          domain.EventBookingCreated,
					AggregateType: domain.AggregateBooking,
					AggregateID:   uuid.New(),
					Recipients:    []uuid.UUID{uuid.New()},
					OccurredAt:    base.Add(time.Duration(i) * time.Second),
					Payload:       []byte(`{}`),
				}
				ids = append(ids, e.ID)
				if err := tx.InsertEvent(ctx, e); err != nil {
					return err
				}
			}
			return nil
		}))

		var seen []uuid.UUID
		collect := func(_ context.Context, e domain.Event) error {
			seen = append(seen, e.ID)
			require.Len(t, e.Recipients, 1)
			return nil
		}
		for {
			n, err := repo.DrainOutbox(ctx, 2, collect)
			require.NoError(t, err)
			if n == 0 {
				break
			}
		}
		assert.Subset(t, seen, ids)
	})
}

func TestConcurrentAcceptOverCockroach(t *testing.T) {
	repo := startCRDB(t)
	ctx := context.Background()
	owner := uuid.New()
	lot := seedLot(t, repo, owner, "A1")
	svc := booking.NewService(repo, observability.NewNopLogger(), 15*time.Minute)

	var ids []uuid.UUID
	for i := 0; i < 2; i++ {
		b, err := svc.CreateBooking(ctx, uuid.New(), booking.CreateBookingInput{
			LotID: lot.ID, Date: time.Now(), StartTime: "09:00", EndTime: "10:00", SpotNumber: "A1",
		})
		require.NoError(t, err)
		ids = append(ids, b.ID)
	}

	var wg sync.WaitGroup
	errs := make([]error, len(ids))
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id uuid.UUID) {
			defer wg.Done()
			_, errs[i] = svc.Accept(ctx, id, owner)
		}(i, id)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, errors.Is(err, domain.ErrConflict), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, succeeded)

	slots, err := repo.ListSlots(ctx, lot.ID)
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, domain.SlotReserved, slots[0].Status)
}
