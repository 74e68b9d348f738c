package crdb

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/robertarktes/parking-bookings/internal/domain"
)

const slotColumns = `id, lot_id, number, kind, status, booking_id, user_id, created_at, updated_at`

func scanSlot(row pgx.Row) (domain.Slot, error) {
	var (
		s            domain.Slot
		kind, status string
	)
	err := row.Scan(&s.ID, &s.LotID, &s.Number, &kind, &status, &s.BookingID, &s.UserID, &s.CreatedAt, &s.UpdatedAt)
	s.Kind, s.Status = domain.SlotKind(kind), domain.SlotStatus(status)
	return s, err
}

func collectSlots(rows pgx.Rows) ([]domain.Slot, error) {
	defer rows.Close()
	var out []domain.Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (t *txRepo) InsertSlot(ctx context.Context, s domain.Slot) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO slots (id, lot_id, number, kind, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, s.ID, s.LotID, s.Number, string(s.Kind), string(s.Status), s.CreatedAt, s.UpdatedAt)
	if err != nil {
		if errors.Is(mapErr(err), domain.ErrConflict) {
			return errors.Wrapf(domain.ErrConflict, "slot %s already exists in lot %s", s.Number, s.LotID)
		}
		return err
	}
	return nil
}

func (t *txRepo) GetSlot(ctx context.Context, id uuid.UUID) (domain.Slot, error) {
	s, err := scanSlot(t.q.QueryRow(ctx, `SELECT `+slotColumns+` FROM slots WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Slot{}, errors.Wrapf(domain.ErrNotFound, "slot %s", id)
	}
	return s, err
}

func (t *txRepo) FindSlotByNumber(ctx context.Context, lotID uuid.UUID, number string) (domain.Slot, error) {
	s, err := scanSlot(t.q.QueryRow(ctx, `SELECT `+slotColumns+` FROM slots WHERE lot_id = $1 AND number = $2`, lotID, number))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Slot{}, errors.Wrapf(domain.ErrNotFound, "slot %s in lot %s", number, lotID)
	}
	return s, err
}

func (t *txRepo) FindAvailableSlot(ctx context.Context, lotID uuid.UUID) (domain.Slot, error) {
	s, err := scanSlot(t.q.QueryRow(ctx, `
		SELECT `+slotColumns+` FROM slots WHERE lot_id = $1 AND status = $2
		ORDER BY number LIMIT 1 FOR UPDATE
	`, lotID, string(domain.SlotAvailable)))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Slot{}, errors.Wrapf(domain.ErrConflict, "no available slot in lot %s", lotID)
	}
	return s, err
}

func (t *txRepo) LinkToBooking(ctx context.Context, slotID, bookingID, userID uuid.UUID) error {
	result, err := t.q.Exec(ctx, `
		UPDATE slots SET status = $2, booking_id = $3, user_id = $4, updated_at = now()
		WHERE id = $1 AND status = $5
	`, slotID, string(domain.SlotReserved), bookingID, userID, string(domain.SlotAvailable))
	return t.guarded(ctx, result, err, slotID, "is not available")
}

func (t *txRepo) MarkOccupied(ctx context.Context, slotID, bookingID uuid.UUID) error {
	result, err := t.q.Exec(ctx, `
		UPDATE slots SET status = $2, updated_at = now()
		WHERE id = $1 AND status = $3 AND booking_id = $4
	`, slotID, string(domain.SlotOccupied), string(domain.SlotReserved), bookingID)
	return t.guarded(ctx, result, err, slotID, "is not reserved for booking "+bookingID.String())
}

func (t *txRepo) Free(ctx context.Context, slotID uuid.UUID) error {
	result, err := t.q.Exec(ctx, `
		UPDATE slots SET status = $2, booking_id = NULL, user_id = NULL, updated_at = now()
		WHERE id = $1
	`, slotID, string(domain.SlotAvailable))
	return t.guarded(ctx, result, err, slotID, "")
}

func (t *txRepo) SetMaintenance(ctx context.Context, slotID uuid.UUID, on bool) error {
	from, to := domain.SlotAvailable, domain.SlotMaintenance
	if !on {
		from, to = to, from
	}
	result, err := t.q.Exec(ctx, `
		UPDATE slots SET status = $2, updated_at = now() WHERE id = $1 AND status = $3
	`, slotID, string(to), string(from))
	return t.guarded(ctx, result, err, slotID, "is not "+string(from))
}

// guarded turns a status-guarded update that touched nothing into ErrNotFound
// or ErrConflict.
func (t *txRepo) guarded(ctx context.Context, result pgconn.CommandTag, err error, slotID uuid.UUID, conflict string) error {
	if err != nil {
		return err
	}
	if result.RowsAffected() > 0 {
		return nil
	}
	var exists bool
	if err := t.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM slots WHERE id = $1)`, slotID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return errors.Wrapf(domain.ErrNotFound, "slot %s", slotID)
	}
	return errors.Wrapf(domain.ErrConflict, "slot %s %s", slotID, conflict)
}
