package domain

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PriceTier struct {
	Hours int             `json:"hours"`
	Price decimal.Decimal `json:"price"`
}

// ParkingLot owns slots and the tiered price table used to quote bookings.
type ParkingLot struct {
	ID           uuid.UUID       `json:"id"`
	OwnerID      uuid.UUID       `json:"owner_id"`
	Name         string          `json:"name"`
	OvertimeRate decimal.Decimal `json:"overtime_rate"`
	PriceTiers   []PriceTier     `json:"price_tiers"`
	CreatedAt    time.Time       `json:"created_at"`
}

func NewParkingLot(owner uuid.UUID, name string, overtime decimal.Decimal, tiers []PriceTier, now time.Time) (ParkingLot, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return ParkingLot{}, errors.Wrap(ErrInvalidInput, "lot name is required")
	}
	if overtime.IsNegative() {
		return ParkingLot{}, errors.Wrap(ErrInvalidInput, "overtime rate must not be negative")
	}
	if !wholeCents(overtime) {
		return ParkingLot{}, errors.Wrapf(ErrInvalidInput, "overtime rate %s has more than two decimal places", overtime)
	}
	for _, t := range tiers {
		if t.Hours <= 0 {
			return ParkingLot{}, errors.Wrapf(ErrInvalidInput, "price tier hours must be positive, got %d", t.Hours)
		}
		if t.Price.IsNegative() {
			return ParkingLot{}, errors.Wrapf(ErrInvalidInput, "price tier for %dh must not be negative", t.Hours)
		}
		if !wholeCents(t.Price) {
			return ParkingLot{}, errors.Wrapf(ErrInvalidInput, "price tier for %dh has more than two decimal places", t.Hours)
		}
	}
	return ParkingLot{
		ID:           uuid.New(),
		OwnerID:      owner,
		Name:         name,
		OvertimeRate: overtime,
		PriceTiers:   tiers,
		CreatedAt:    now,
	}, nil
}

// wholeCents reports whether d fits the two decimal places prices are stored with.
func wholeCents(d decimal.Decimal) bool {
	return d.Equal(d.Round(2))
}
