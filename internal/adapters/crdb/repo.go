package crdb

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robertarktes/parking-bookings/internal/domain"
	"github.com/robertarktes/parking-bookings/internal/observability"
)

const (
	SerializationFailureCode = "40001"
	UniqueViolationCode      = "23505"
)

// querier is the part of pgxpool.Pool and pgx.Tx the queries need.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// WithTx runs fn in a SERIALIZABLE transaction. A lost serialization race is
// reported as domain.ErrSerializationFailure and is never retried here.
func (r *Repository) WithTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	start := time.Now()
	defer func() { observability.DBTxDuration.Observe(time.Since(start).Seconds()) }()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, "SET TRANSACTION ISOLATION LEVEL SERIALIZABLE")
	if err != nil {
		return mapErr(err)
	}

	if err := fn(ctx, &txRepo{q: tx}); err != nil {
		return mapErr(err)
	}
	return mapErr(tx.Commit(ctx))
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case SerializationFailureCode:
			return domain.ErrSerializationFailure
		case UniqueViolationCode:
			return errors.Mark(errors.Wrap(err, pgErr.ConstraintName), domain.ErrConflict)
		}
	}
	return err
}

// retryRead runs a pool read again once if the first attempt failed before
// reaching the server.
func retryRead[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	v, err := fn()
	if err != nil && pgconn.SafeToRetry(err) && ctx.Err() == nil {
		return fn()
	}
	return v, err
}

func (r *Repository) GetBooking(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	return retryRead(ctx, func() (domain.Booking, error) {
		return getBooking(ctx, r.pool, id, "")
	})
}

func (r *Repository) ListBookings(ctx context.Context, f domain.BookingFilter) ([]domain.Booking, error) {
	return retryRead(ctx, func() ([]domain.Booking, error) {
		return listBookings(ctx, r.pool, f)
	})
}

func (r *Repository) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]domain.Booking, error) {
	return retryRead(ctx, func() ([]domain.Booking, error) {
		rows, err := r.pool.Query(ctx, `SELECT `+bookingColumns+` FROM bookings
			WHERE status = $1 AND expires_at < $2
			ORDER BY expires_at ASC LIMIT $3`,
			string(domain.StatusPending), now, limit)
		if err != nil {
			return nil, err
		}
		return collectBookings(rows)
	})
}

func (r *Repository) GetLot(ctx context.Context, id uuid.UUID) (domain.ParkingLot, error) {
	return retryRead(ctx, func() (domain.ParkingLot, error) {
		return getLot(ctx, r.pool, id)
	})
}

func (r *Repository) ListSlots(ctx context.Context, lotID uuid.UUID) ([]domain.Slot, error) {
	return retryRead(ctx, func() ([]domain.Slot, error) {
		rows, err := r.pool.Query(ctx, `SELECT `+slotColumns+` FROM slots WHERE lot_id = $1 ORDER BY number`, lotID)
		if err != nil {
			return nil, err
		}
		return collectSlots(rows)
	})
}

func (r *Repository) ListNotifications(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit int) ([]domain.Notification, error) {
	return retryRead(ctx, func() ([]domain.Notification, error) {
		return listNotifications(ctx, r.pool, userID, unreadOnly, limit)
	})
}

func (r *Repository) MarkNotificationRead(ctx context.Context, id, userID uuid.UUID) error {
	result, err := r.pool.Exec(ctx, `UPDATE notifications SET read = true WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return errors.Wrapf(domain.ErrNotFound, "notification %s", id)
	}
	return nil
}

// txRepo is the domain.Tx view of one open transaction.
type txRepo struct {
	q querier
}
