// Package outbox relays committed events from the store to the broker.
package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/parking-bookings/internal/domain"
	"github.com/robertarktes/parking-bookings/internal/observability"
)

// Source hands out unpublished events and marks those publish accepted.
type Source interface {
	DrainOutbox(ctx context.Context, limit int, publish func(context.Context, domain.Event) error) (int, error)
}

type Broker interface {
	Publish(ctx context.Context, key string, msg amqp.Publishing) error
}

const publishAttempts = 3

type Publisher struct {
	source Source
	broker Broker
	logger observability.Logger
	batch  int
}

func NewPublisher(source Source, broker Broker, logger observability.Logger, batch int) *Publisher {
	return &Publisher{source: source, broker: broker, logger: logger, batch: batch}
}

func (p *Publisher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.Flush(ctx); err != nil && ctx.Err() == nil {
				p.logger.WithError(err).Warn("outbox flush stopped early")
			}
		}
	}
}

// Flush drains full batches until the outbox is empty or a publish fails.
func (p *Publisher) Flush(ctx context.Context) (int, error) {
	total := 0
	for {
		var oldest time.Time
		n, err := p.source.DrainOutbox(ctx, p.batch, func(ctx context.Context, e domain.Event) error {
			if oldest.IsZero() {
				oldest = e.OccurredAt
			}
			return p.publish(ctx, e)
		})
		total += n
		if !oldest.IsZero() {
			observability.OutboxLag.Set(time.Since(oldest).Seconds())
		}
		if err != nil {
			return total, err
		}
		if n < p.batch {
			return total, nil
		}
	}
}

func (p *Publisher) publish(ctx context.Context, e domain.Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return errors.Wrapf(err, "marshal event %s", e.ID)
	}
	msg := amqp.Publishing{
		MessageId:    e.ID.String(),
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    e.OccurredAt,
		Type:         e.Type,
		Body:         body,
	}

	for attempt := 1; ; attempt++ {
		err = p.broker.Publish(ctx, e.Type, msg)
		if err == nil {
			return nil
		}
		if attempt == publishAttempts || ctx.Err() != nil {
			return errors.Wrapf(err, "publish %s %s", e.Type, e.ID)
		}
		observability.RabbitPublishRetries.Inc()
		p.logger.WithError(err).WithField("event_id", e.ID.String()).Debug("retrying publish")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
		}
	}
}
