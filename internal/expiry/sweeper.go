// Package expiry closes pending booking requests whose response deadline
// passed without an answer from the lot owner.
package expiry

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/parking-bookings/internal/domain"
	"github.com/robertarktes/parking-bookings/internal/observability"
)

// Expirer is the part of the booking service the sweeper drives.
type Expirer interface {
	ListExpiredPending(ctx context.Context, limit int) ([]domain.Booking, error)
	Expire(ctx context.Context, id uuid.UUID) (domain.Booking, error)
}

// Locker elects one sweeper per tick when several run.
type Locker interface {
	TryLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
}

const lockKey = "expiry-sweeper"

type Sweeper struct {
	bookings Expirer
	locker   Locker
	logger   observability.Logger
	batch    int
	id       string
}

// NewSweeper builds a sweeper; locker may be nil when only one instance runs.
func NewSweeper(bookings Expirer, locker Locker, logger observability.Logger, batch int) *Sweeper {
	return &Sweeper{
		bookings: bookings,
		locker:   locker,
		logger:   logger,
		batch:    batch,
		id:       uuid.NewString(),
	}
}

func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.locker != nil {
				ok, err := s.locker.TryLock(ctx, lockKey, s.id, lockTTL(interval))
				if err != nil {
					s.logger.WithError(err).Warn("sweeper lock unavailable, sweeping anyway")
				} else if !ok {
					continue
				}
			}
			s.Sweep(ctx)
		}
	}
}

// lockTTL lets the lock lapse before the next tick, so the holder's own
// previous lock never makes it skip a sweep.
func lockTTL(interval time.Duration) time.Duration {
	return interval * 9 / 10
}

// Result counts what one sweep did.
type Result struct {
	Expired  int
	LostRace int
	Failed   int
}

// Sweep expires one batch. A failed listing is left for the next tick; a
// failed booking is logged and the rest of the batch still runs.
func (s *Sweeper) Sweep(ctx context.Context) Result {
	var res Result
	due, err := s.bookings.ListExpiredPending(ctx, s.batch)
	if err != nil {
		observability.SweepErrors.Inc()
		s.logger.WithError(err).Error("list expired bookings")
		return res
	}

	for _, b := range due {
		if ctx.Err() != nil {
			break
		}
		log := s.logger.WithField("booking_id", b.ID.String())
		_, err := s.bookings.Expire(ctx, b.ID)
		switch {
		case err == nil:
			res.Expired++
			observability.BookingsExpired.Inc()
		case errors.Is(err, domain.ErrConflict):
			res.LostRace++
			log.Info("booking changed before it could expire")
		default:
			res.Failed++
			observability.SweepErrors.Inc()
			log.WithError(err).Error("expire booking")
		}
	}
	if len(due) > 0 {
		s.logger.WithFields(map[string]interface{}{
			"expired":   res.Expired,
			"lost_race": res.LostRace,
			"failed":    res.Failed,
		}).Info("sweep finished")
	}
	return res
}
