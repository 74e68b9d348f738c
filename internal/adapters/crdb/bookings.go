package crdb

import (
	"context"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/parking-bookings/internal/domain"
	"github.com/shopspring/decimal"
)

const bookingColumns = `id, user_id, owner_id, lot_id, slot_id, spot_number, date, start_time, end_time,
	price::STRING, status, version, created_at, updated_at, expires_at, accepted_at, rejected_at,
	cancelled_at, completed_at, arrival_owner_at, arrival_user_at, departure_owner_at, departure_user_at`

func scanBooking(row pgx.Row) (domain.Booking, error) {
	var (
		b      domain.Booking
		price  string
		status string
	)
	err := row.Scan(&b.ID, &b.UserID, &b.OwnerID, &b.LotID, &b.SlotID, &b.SpotNumber, &b.Date, &b.StartTime, &b.EndTime,
		&price, &status, &b.Version, &b.CreatedAt, &b.UpdatedAt, &b.ExpiresAt, &b.AcceptedAt, &b.RejectedAt,
		&b.CancelledAt, &b.CompletedAt, &b.ArrivalOwnerAt, &b.ArrivalUserAt, &b.DepartureOwnerAt, &b.DepartureUserAt)
	if err != nil {
		return domain.Booking{}, err
	}
	if b.Price, err = decimal.NewFromString(price); err != nil {
		return domain.Booking{}, errors.Wrapf(err, "booking %s price", b.ID)
	}
	b.Status = domain.BookingStatus(status)
	return b, nil
}

func collectBookings(rows pgx.Rows) ([]domain.Booking, error) {
	defer rows.Close()
	var out []domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func getBooking(ctx context.Context, q querier, id uuid.UUID, suffix string) (domain.Booking, error) {
	b, err := scanBooking(q.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`+suffix, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Booking{}, errors.Wrapf(domain.ErrNotFound, "booking %s", id)
	}
	return b, err
}

func listBookings(ctx context.Context, q querier, f domain.BookingFilter) ([]domain.Booking, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, strings.Replace(cond, "?", "$"+strconv.Itoa(len(args)), 1))
	}
	if f.UserID != nil {
		add("user_id = ?", *f.UserID)
	}
	if f.OwnerID != nil {
		add("owner_id = ?", *f.OwnerID)
	}
	if f.Status != "" {
		add("status = ?", string(f.Status))
	}
	sql := `SELECT ` + bookingColumns + ` FROM bookings`
	if len(where) > 0 {
		sql += ` WHERE ` + strings.Join(where, " AND ")
	}
	sql += ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		sql += ` LIMIT $` + strconv.Itoa(len(args))
	}
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

func (t *txRepo) InsertBooking(ctx context.Context, b domain.Booking) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO bookings (id, user_id, owner_id, lot_id, slot_id, spot_number, date, start_time, end_time,
			price, status, version, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::DECIMAL, $11, $12, $13, $14, $15)
	`, b.ID, b.UserID, b.OwnerID, b.LotID, b.SlotID, b.SpotNumber, b.Date, b.StartTime, b.EndTime,
		b.Price.StringFixed(2), string(b.Status), b.Version, b.CreatedAt, b.UpdatedAt, b.ExpiresAt)
	return err
}

func (t *txRepo) GetBookingForUpdate(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	return getBooking(ctx, t.q, id, " FOR UPDATE")
}

// UpdateBooking writes every mutable column of b. Price, parties and the
// requested window are immutable and never written here.
func (t *txRepo) UpdateBooking(ctx context.Context, b domain.Booking, from domain.BookingStatus) error {
	if err := domain.ValidateTransition(b, from); err != nil {
		return err
	}
	result, err := t.q.Exec(ctx, `
		UPDATE bookings SET
			slot_id = $4, spot_number = $5, status = $6, version = version + 1, updated_at = $7,
			expires_at = $8, accepted_at = $9, rejected_at = $10, cancelled_at = $11, completed_at = $12,
			arrival_owner_at = $13, arrival_user_at = $14, departure_owner_at = $15, departure_user_at = $16
		WHERE id = $1 AND status = $2 AND version = $3
	`, b.ID, string(from), b.Version,
		b.SlotID, b.SpotNumber, string(b.Status), b.UpdatedAt,
		b.ExpiresAt, b.AcceptedAt, b.RejectedAt, b.CancelledAt, b.CompletedAt,
		b.ArrivalOwnerAt, b.ArrivalUserAt, b.DepartureOwnerAt, b.DepartureUserAt)
	if err != nil {
		return err
	}
	if result.RowsAffected() > 0 {
		return nil
	}

	var current string
	err = t.q.QueryRow(ctx, `SELECT status FROM bookings WHERE id = $1`, b.ID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return errors.Wrapf(domain.ErrNotFound, "booking %s", b.ID)
	}
	if err != nil {
		return err
	}
	return &domain.TransitionError{BookingID: b.ID, From: domain.BookingStatus(current), To: b.Status, Reason: "booking changed concurrently"}
}

func (t *txRepo) InsertLot(ctx context.Context, lot domain.ParkingLot) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO parking_lots (id, owner_id, name, overtime_rate, created_at)
		VALUES ($1, $2, $3, $4::DECIMAL, $5)
	`, lot.ID, lot.OwnerID, lot.Name, lot.OvertimeRate.StringFixed(2), lot.CreatedAt)
	if err != nil {
		return err
	}
	for i, tier := range lot.PriceTiers {
		_, err := t.q.Exec(ctx, `
			INSERT INTO price_tiers (lot_id, position, hours, price) VALUES ($1, $2, $3, $4::DECIMAL)
		`, lot.ID, i, tier.Hours, tier.Price.StringFixed(2))
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *txRepo) GetLot(ctx context.Context, id uuid.UUID) (domain.ParkingLot, error) {
	return getLot(ctx, t.q, id)
}

func getLot(ctx context.Context, q querier, id uuid.UUID) (domain.ParkingLot, error) {
	var (
		lot      domain.ParkingLot
		overtime string
	)
	err := q.QueryRow(ctx, `
		SELECT id, owner_id, name, overtime_rate::STRING, created_at FROM parking_lots WHERE id = $1
	`, id).Scan(&lot.ID, &lot.OwnerID, &lot.Name, &overtime, &lot.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ParkingLot{}, errors.Wrapf(domain.ErrNotFound, "lot %s", id)
	}
	if err != nil {
		return domain.ParkingLot{}, err
	}
	if lot.OvertimeRate, err = decimal.NewFromString(overtime); err != nil {
		return domain.ParkingLot{}, errors.Wrapf(err, "lot %s overtime rate", id)
	}

	rows, err := q.Query(ctx, `SELECT hours, price::STRING FROM price_tiers WHERE lot_id = $1 ORDER BY position`, id)
	if err != nil {
		return domain.ParkingLot{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			tier  domain.PriceTier
			price string
		)
		if err := rows.Scan(&tier.Hours, &price); err != nil {
			return domain.ParkingLot{}, err
		}
		if tier.Price, err = decimal.NewFromString(price); err != nil {
			return domain.ParkingLot{}, errors.Wrapf(err, "lot %s tier price", id)
		}
		lot.PriceTiers = append(lot.PriceTiers, tier)
	}
	return lot, rows.Err()
}
