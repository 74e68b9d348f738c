package domain

import "github.com/cockroachdb/errors"

type BookingStatus string

const (
	StatusPending   BookingStatus = "aguardando_confirmacao"
	StatusReserved  BookingStatus = "reservada"
	StatusOccupied  BookingStatus = "ocupada"
	StatusCompleted BookingStatus = "concluida"
	StatusRejected  BookingStatus = "rejeitada"
	StatusExpired   BookingStatus = "expirada"
	StatusCancelled BookingStatus = "cancelada"
)

// validNext is the complete booking state machine. The reservada and ocupada
// self-loops carry the individual arrival/departure confirmation stamps.
var validNext = map[BookingStatus]map[BookingStatus]bool{
	StatusPending:   {StatusReserved: true, StatusRejected: true, StatusExpired: true, StatusCancelled: true},
	StatusReserved:  {StatusReserved: true, StatusOccupied: true, StatusCancelled: true},
	StatusOccupied:  {StatusOccupied: true, StatusCompleted: true, StatusCancelled: true},
	StatusCompleted: {},
	StatusRejected:  {},
	StatusExpired:   {},
	StatusCancelled: {},
}

func CanTransition(from, to BookingStatus) bool {
	return validNext[from][to]
}

func (s BookingStatus) Valid() bool {
	_, ok := validNext[s]
	return ok
}

func (s BookingStatus) Terminal() bool {
	return s.Valid() && len(validNext[s]) == 0
}

func ParseBookingStatus(v string) (BookingStatus, error) {
	s := BookingStatus(v)
	if !s.Valid() {
		return "", errors.Wrapf(ErrInvalidInput, "unknown booking status %q", v)
	}
	return s, nil
}

type SlotStatus string

const (
	SlotAvailable   SlotStatus = "disponivel"
	SlotReserved    SlotStatus = "reservada"
	SlotOccupied    SlotStatus = "ocupada"
	SlotMaintenance SlotStatus = "manutencao"
)

type SlotKind string

const (
	SlotKindCommon     SlotKind = "comum"
	SlotKindElectric   SlotKind = "eletrica"
	SlotKindAccessible SlotKind = "acessivel"
	SlotKindMotorcycle SlotKind = "moto"
)

func (k SlotKind) Valid() bool {
	switch k {
	case SlotKindCommon, SlotKindElectric, SlotKindAccessible, SlotKindMotorcycle:
		return true
	}
	return false
}

// Role is the side a caller claims to act on when confirming arrival or departure.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleDriver Role = "driver"
)

func ParseRole(v string) (Role, error) {
	switch Role(v) {
	case RoleOwner, RoleDriver:
		return Role(v), nil
	}
	return "", errors.Wrapf(ErrInvalidInput, "unknown role %q", v)
}

// ValidateTransition is checked by every store before it writes b over a row
// that had status from.
func ValidateTransition(b Booking, from BookingStatus) error {
	if !CanTransition(from, b.Status) {
		return &TransitionError{BookingID: b.ID, From: from, To: b.Status, Reason: "illegal transition"}
	}
	return nil
}
