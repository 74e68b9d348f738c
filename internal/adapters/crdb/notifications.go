package crdb

import (
	"context"
	"strconv"

	"github.com/google/uuid"
	"github.com/robertarktes/parking-bookings/internal/domain"
)

func (t *txRepo) InsertNotification(ctx context.Context, n domain.Notification) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO notifications (id, user_id, type, title, message, booking_id, lot_id, read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, n.ID, n.UserID, string(n.Type), n.Title, n.Message, n.BookingID, n.LotID, n.Read, n.CreatedAt)
	return err
}

func listNotifications(ctx context.Context, q querier, userID uuid.UUID, unreadOnly bool, limit int) ([]domain.Notification, error) {
	sql := `SELECT id, user_id, type, title, message, booking_id, lot_id, read, created_at
		FROM notifications WHERE user_id = $1`
	args := []any{userID}
	if unreadOnly {
		sql += ` AND NOT read`
	}
	sql += ` ORDER BY created_at DESC`
	if limit > 0 {
		args = append(args, limit)
		sql += ` LIMIT $` + strconv.Itoa(len(args))
	}

	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Notification
	for rows.Next() {
		var (
			n   domain.Notification
			typ string
		)
		if err := rows.Scan(&n.ID, &n.UserID, &typ, &n.Title, &n.Message, &n.BookingID, &n.LotID, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.Type = domain.NotificationType(typ)
		out = append(out, n)
	}
	return out, rows.Err()
}
