package crdb

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/parking-bookings/internal/domain"
)

const (
	OutboxNew       = "NEW"
	OutboxPublished = "PUBLISHED"
)

// InsertEvent stores the whole event, recipients included, as the payload.
func (t *txRepo) InsertEvent(ctx context.Context, e domain.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "marshal event")
	}
	_, err = t.q.Exec(ctx, `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload_json, status, dedupe_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, e.ID, e.AggregateType, e.AggregateID, e.Type, payload, OutboxNew, e.ID.String(), e.OccurredAt)
	return err
}

// DrainOutbox claims up to limit NEW rows with FOR UPDATE SKIP LOCKED, so
// concurrent publishers never hand out the same row, and passes them to
// publish oldest first. Rows are marked PUBLISHED as publish accepts them; the
// first failure stops the batch and the rest stay NEW for the next poll.
func (r *Repository) DrainOutbox(ctx context.Context, limit int, publish func(context.Context, domain.Event) error) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "begin")
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id, payload_json FROM outbox WHERE status = $1
		ORDER BY created_at ASC LIMIT $2 FOR UPDATE SKIP LOCKED
	`, OutboxNew, limit)
	if err != nil {
		return 0, err
	}
	type claimed struct {
		id    uuid.UUID
		event domain.Event
	}
	var batch []claimed
	for rows.Next() {
		var (
			c       claimed
			payload []byte
		)
		if err := rows.Scan(&c.id, &payload); err != nil {
			rows.Close()
			return 0, err
		}
		if err := json.Unmarshal(payload, &c.event); err != nil {
			rows.Close()
			return 0, errors.Wrapf(err, "decode outbox %s", c.id)
		}
		batch = append(batch, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	published := 0
	var publishErr error
	for _, c := range batch {
		if publishErr = publish(ctx, c.event); publishErr != nil {
			break
		}
		_, err := tx.Exec(ctx, `UPDATE outbox SET status = $2, published_at = $3 WHERE id = $1`,
			c.id, OutboxPublished, time.Now().UTC())
		if err != nil {
			return 0, err
		}
		published++
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, errors.Wrap(err, "commit outbox batch")
	}
	return published, publishErr
}
