// Package notify turns booking transitions into the durable notification rows
// and outbox events that are written in the same transaction as the change.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/parking-bookings/internal/domain"
)

// Batch is everything one transition wants recorded.
type Batch struct {
	Notifications []domain.Notification
	Events        []domain.Event

	// err is the first payload that could not be encoded; Write refuses the
	// whole batch so the transition rolls back instead of relaying empty events.
	err error
}

// Write records the batch through sink. It must run inside the transaction
// that performed the transition.
func (b Batch) Write(ctx context.Context, sink domain.NotificationSink) error {
	if b.err != nil {
		return b.err
	}
	for _, n := range b.Notifications {
		if err := sink.InsertNotification(ctx, n); err != nil {
			return errors.Wrapf(err, "insert notification %s", n.Type)
		}
	}
	for _, e := range b.Events {
		if err := sink.InsertEvent(ctx, e); err != nil {
			return errors.Wrapf(err, "insert event %s", e.Type)
		}
	}
	return nil
}

func (b *Batch) notify(to uuid.UUID, typ domain.NotificationType, title, msg string, bk domain.Booking, now time.Time) {
	bookingID, lotID := bk.ID, bk.LotID
	n := domain.Notification{
		ID:        uuid.New(),
		UserID:    to,
		Type:      typ,
		Title:     title,
		Message:   msg,
		BookingID: &bookingID,
		LotID:     &lotID,
		CreatedAt: now,
	}
	b.Notifications = append(b.Notifications, n)
	b.event(domain.EventNotificationCreated, domain.AggregateNotification, n.ID, []uuid.UUID{to}, n, now)
}

func (b *Batch) bookingEvent(typ string, bk domain.Booking, now time.Time) {
	b.event(typ, domain.AggregateBooking, bk.ID, bk.Participants(), bk, now)
}

func (b *Batch) slotEvent(s domain.Slot, bk domain.Booking, now time.Time) {
	b.event(domain.EventSlotUpdated, domain.AggregateSlot, s.ID, bk.Participants(), s, now)
}

func (b *Batch) event(typ, aggregate string, id uuid.UUID, to []uuid.UUID, payload any, now time.Time) {
	body, err := json.Marshal(payload)
	if err != nil {
		if b.err == nil {
			b.err = errors.Wrapf(err, "encode %s payload", typ)
		}
		return
	}
	b.Events = append(b.Events, domain.Event{
		ID:            uuid.New(),
		Type:          typ,
		AggregateType: aggregate,
		AggregateID:   id,
		Recipients:    to,
		OccurredAt:    now,
		Payload:       body,
	})
}

func window(b domain.Booking) string {
	return fmt.Sprintf("%s das %s às %s", b.Date.Format("02/01"), b.StartTime, b.EndTime)
}

func BookingCreated(b domain.Booking, now time.Time) Batch {
	var out Batch
	out.notify(b.OwnerID, domain.NotifNewRequest, "Nova solicitação de reserva",
		fmt.Sprintf("Um motorista solicitou uma vaga para %s.", window(b)), b, now)
	out.bookingEvent(domain.EventBookingCreated, b, now)
	return out
}

func BookingAccepted(b domain.Booking, slot domain.Slot, now time.Time) Batch {
	var out Batch
	out.notify(b.UserID, domain.NotifAccepted, "Reserva aceita",
		fmt.Sprintf("Sua reserva para %s foi aceita. Vaga %s.", window(b), slot.Number), b, now)
	out.bookingEvent(domain.EventBookingAccepted, b, now)
	out.slotEvent(slot, b, now)
	return out
}

func BookingRejected(b domain.Booking, now time.Time) Batch {
	var out Batch
	out.notify(b.UserID, domain.NotifRejected, "Reserva rejeitada",
		fmt.Sprintf("O proprietário rejeitou sua solicitação para %s.", window(b)), b, now)
	out.bookingEvent(domain.EventBookingRejected, b, now)
	return out
}

func BookingExpired(b domain.Booking, now time.Time) Batch {
	var out Batch
	out.notify(b.UserID, domain.NotifExpired, "Solicitação expirada",
		fmt.Sprintf("Sua solicitação para %s expirou sem resposta do proprietário.", window(b)), b, now)
	out.bookingEvent(domain.EventBookingExpired, b, now)
	return out
}

// BookingCancelled notifies the side that did not cancel. freed is the slot
// released by the cancellation, if any.
func BookingCancelled(b domain.Booking, by domain.Role, freed *domain.Slot, now time.Time) Batch {
	var out Batch
	to, who := b.OwnerID, "pelo motorista"
	if by == domain.RoleOwner {
		to, who = b.UserID, "pelo proprietário"
	}
	out.notify(to, domain.NotifCancelled, "Reserva cancelada",
		fmt.Sprintf("A reserva de %s foi cancelada %s.", window(b), who), b, now)
	out.bookingEvent(domain.EventBookingCancelled, b, now)
	if freed != nil {
		out.slotEvent(*freed, b, now)
	}
	return out
}

// ArrivalConfirmed prompts the driver after the owner's stamp; the pair
// completing only moves booking and slot to ocupada.
func ArrivalConfirmed(b domain.Booking, role domain.Role, promoted bool, slot domain.Slot, now time.Time) Batch {
	var out Batch
	if promoted {
		out.bookingEvent(domain.EventBookingOccupied, b, now)
		out.slotEvent(slot, b, now)
		return out
	}
	if role == domain.RoleOwner {
		out.notify(b.UserID, domain.NotifConfirmArrival, "Confirme sua chegada",
			fmt.Sprintf("O proprietário confirmou sua chegada na vaga %s. Confirme também pelo app.", b.SpotNumber), b, now)
	}
	out.bookingEvent(domain.EventBookingArrivalConfirmed, b, now)
	return out
}

// DepartureConfirmed prompts the driver after the owner's stamp; completion
// tells both parties the booking can now be reviewed.
func DepartureConfirmed(b domain.Booking, role domain.Role, completed bool, slot domain.Slot, now time.Time) Batch {
	var out Batch
	if completed {
		msg := fmt.Sprintf("A reserva de %s foi concluída. Você já pode deixar sua avaliação.", window(b))
		out.notify(b.UserID, domain.NotifReviewAvailable, "Reserva concluída", msg, b, now)
		out.notify(b.OwnerID, domain.NotifReviewAvailable, "Reserva concluída", msg, b, now)
		out.bookingEvent(domain.EventBookingCompleted, b, now)
		out.slotEvent(slot, b, now)
		return out
	}
	if role == domain.RoleOwner {
		out.notify(b.UserID, domain.NotifConfirmDeparture, "Confirme sua saída",
			fmt.Sprintf("O proprietário confirmou sua saída da vaga %s. Confirme também pelo app.", b.SpotNumber), b, now)
	}
	out.bookingEvent(domain.EventBookingDepartureConfirmed, b, now)
	return out
}

// SlotChanged is emitted for administrative slot changes; only the lot owner cares.
func SlotChanged(s domain.Slot, owner uuid.UUID, now time.Time) Batch {
	var out Batch
	out.event(domain.EventSlotUpdated, domain.AggregateSlot, s.ID, []uuid.UUID{owner}, s, now)
	return out
}
