package domain

import (
	"time"

	"github.com/google/uuid"
)

// Slot is a physical parking space (vaga) inside one lot. Its occupant fields
// are set exactly while it is reservada or ocupada.
type Slot struct {
	ID        uuid.UUID  `json:"id"`
	LotID     uuid.UUID  `json:"lot_id"`
	Number    string     `json:"number"`
	Kind      SlotKind   `json:"kind"`
	Status    SlotStatus `json:"status"`
	BookingID *uuid.UUID `json:"booking_id,omitempty"`
	UserID    *uuid.UUID `json:"user_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func NewSlot(lotID uuid.UUID, number string, kind SlotKind, now time.Time) Slot {
	if kind == "" {
		kind = SlotKindCommon
	}
	return Slot{
		ID:        uuid.New(),
		LotID:     lotID,
		Number:    number,
		Kind:      kind,
		Status:    SlotAvailable,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (s Slot) Occupied() bool {
	return s.Status == SlotReserved || s.Status == SlotOccupied
}
