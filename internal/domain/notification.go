package domain

import (
	"time"

	"github.com/google/uuid"
)

type NotificationType string

const (
	NotifNewRequest       NotificationType = "nova_solicitacao"
	NotifAccepted         NotificationType = "reserva_aceita"
	NotifRejected         NotificationType = "reserva_rejeitada"
	NotifExpired          NotificationType = "solicitacao_expirada"
	NotifCancelled        NotificationType = "reserva_cancelada"
	NotifConfirmArrival   NotificationType = "confirmar_chegada"
	NotifConfirmDeparture NotificationType = "confirmar_saida"
	NotifReviewAvailable  NotificationType = "avaliacao_disponivel"
)

// Notification is a durable message for one user. Title and Message are display
// strings and are never interpreted by the booking engine.
type Notification struct {
	ID        uuid.UUID        `json:"id"`
	UserID    uuid.UUID        `json:"user_id"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	BookingID *uuid.UUID       `json:"booking_id,omitempty"`
	LotID     *uuid.UUID       `json:"lot_id,omitempty"`
	Read      bool             `json:"read"`
	CreatedAt time.Time        `json:"created_at"`
}
