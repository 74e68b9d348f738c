package realtime

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/parking-bookings/internal/domain"
)

// Loopback hands outbox messages straight to a hub in the same process. The
// api uses it with the in-memory store when no broker is configured.
type Loopback struct {
	hub *Hub
}

func NewLoopback(hub *Hub) *Loopback {
	return &Loopback{hub: hub}
}

func (l *Loopback) Publish(_ context.Context, key string, msg amqp.Publishing) error {
	var e domain.Event
	if err := json.Unmarshal(msg.Body, &e); err != nil {
		return errors.Wrapf(err, "decode %s message", key)
	}
	l.hub.Publish(e)
	return nil
}
