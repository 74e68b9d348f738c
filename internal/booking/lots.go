package booking

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/parking-bookings/internal/domain"
	"github.com/robertarktes/parking-bookings/internal/notify"
	"github.com/shopspring/decimal"
)

type CreateLotInput struct {
	Name         string
	OvertimeRate decimal.Decimal
	PriceTiers   []domain.PriceTier
}

func (s *Service) CreateLot(ctx context.Context, caller uuid.UUID, in CreateLotInput) (domain.ParkingLot, error) {
	lot, err := domain.NewParkingLot(caller, in.Name, in.OvertimeRate, in.PriceTiers, s.now())
	if err != nil {
		return domain.ParkingLot{}, err
	}
	err = s.store.WithTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		return tx.InsertLot(ctx, lot)
	})
	if err != nil {
		return domain.ParkingLot{}, err
	}
	s.logger.WithField("lot_id", lot.ID.String()).Info("parking lot created")
	return lot, nil
}

func (s *Service) GetLot(ctx context.Context, id uuid.UUID) (domain.ParkingLot, error) {
	return s.store.GetLot(ctx, id)
}

func (s *Service) ListSlots(ctx context.Context, lotID uuid.UUID) ([]domain.Slot, error) {
	if _, err := s.store.GetLot(ctx, lotID); err != nil {
		return nil, err
	}
	return s.store.ListSlots(ctx, lotID)
}

// RegisterSlot adds a free slot to a lot the caller owns.
func (s *Service) RegisterSlot(ctx context.Context, caller, lotID uuid.UUID, number string, kind domain.SlotKind) (domain.Slot, error) {
	number = strings.TrimSpace(number)
	if number == "" {
		return domain.Slot{}, errors.Wrap(domain.ErrInvalidInput, "slot number is required")
	}
	if kind != "" && !kind.Valid() {
		return domain.Slot{}, errors.Wrapf(domain.ErrInvalidInput, "unknown slot kind %q", kind)
	}

	now := s.now()
	var slot domain.Slot
	err := s.store.WithTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		lot, err := tx.GetLot(ctx, lotID)
		if err != nil {
			return err
		}
		if lot.OwnerID != caller {
			return errors.Wrapf(domain.ErrPermission, "lot %s belongs to another owner", lotID)
		}
		slot = domain.NewSlot(lotID, number, kind, now)
		if err := tx.InsertSlot(ctx, slot); err != nil {
			return err
		}
		return notify.SlotChanged(slot, lot.OwnerID, now).Write(ctx, tx)
	})
	if err != nil {
		return domain.Slot{}, err
	}
	return slot, nil
}

// SetSlotMaintenance takes a free slot out of service or puts it back. Slots
// held by a booking cannot change.
func (s *Service) SetSlotMaintenance(ctx context.Context, caller, slotID uuid.UUID, on bool) (domain.Slot, error) {
	now := s.now()
	var slot domain.Slot
	err := s.store.WithTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		cur, err := tx.GetSlot(ctx, slotID)
		if err != nil {
			return err
		}
		lot, err := tx.GetLot(ctx, cur.LotID)
		if err != nil {
			return err
		}
		if lot.OwnerID != caller {
			return errors.Wrapf(domain.ErrPermission, "slot %s belongs to another owner", slotID)
		}
		if err := tx.SetMaintenance(ctx, slotID, on); err != nil {
			return err
		}
		if slot, err = tx.GetSlot(ctx, slotID); err != nil {
			return err
		}
		return notify.SlotChanged(slot, lot.OwnerID, now).Write(ctx, tx)
	})
	if err != nil {
		return domain.Slot{}, err
	}
	s.logger.WithFields(map[string]interface{}{"slot_id": slotID.String(), "maintenance": on}).Info("slot maintenance changed")
	return slot, nil
}
