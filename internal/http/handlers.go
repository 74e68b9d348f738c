package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/robertarktes/parking-bookings/internal/auth"
	"github.com/robertarktes/parking-bookings/internal/booking"
	"github.com/robertarktes/parking-bookings/internal/domain"
	"github.com/robertarktes/parking-bookings/internal/realtime"
	"github.com/shopspring/decimal"
)

// ReadyCheck reports whether a dependency can serve traffic.
type ReadyCheck func(ctx context.Context) error

type Handlers struct {
	bookings *booking.Service
	hub      *realtime.Hub
	checks   map[string]ReadyCheck
	validate *validator.Validate
}

func NewHandlers(bookings *booking.Service, hub *realtime.Hub, checks map[string]ReadyCheck) *Handlers {
	return &Handlers{
		bookings: bookings,
		hub:      hub,
		checks:   checks,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (h *Handlers) decode(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errors.Wrap(domain.ErrInvalidInput, "malformed JSON body")
	}
	return h.validate.Struct(dst)
}

func caller(r *http.Request) uuid.UUID {
	user, _ := auth.UserFrom(r.Context())
	return user
}

func idParam(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, errors.Wrapf(domain.ErrInvalidInput, "invalid %s", name)
	}
	return id, nil
}

func limitParam(r *http.Request) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return 50, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 || n > 500 {
		return 0, errors.Wrap(domain.ErrInvalidInput, "limit must be between 1 and 500")
	}
	return n, nil
}

type priceTierRequest struct {
	Hours int             `json:"hours" validate:"gt=0"`
	Price decimal.Decimal `json:"price"`
}

type createLotRequest struct {
	Name         string             `json:"name" validate:"required,max=120"`
	OvertimeRate decimal.Decimal    `json:"overtime_rate"`
	PriceTiers   []priceTierRequest `json:"price_tiers" validate:"dive"`
}

func (h *Handlers) CreateLot(w http.ResponseWriter, r *http.Request) {
	var req createLotRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	tiers := make([]domain.PriceTier, 0, len(req.PriceTiers))
	for _, t := range req.PriceTiers {
		tiers = append(tiers, domain.PriceTier{Hours: t.Hours, Price: t.Price})
	}
	lot, err := h.bookings.CreateLot(r.Context(), caller(r), booking.CreateLotInput{
		Name:         req.Name,
		OvertimeRate: req.OvertimeRate,
		PriceTiers:   tiers,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, lot)
}

func (h *Handlers) GetLot(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "lotID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	lot, err := h.bookings.GetLot(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lot)
}

type registerSlotRequest struct {
	Number string `json:"number" validate:"required,max=16"`
	Kind   string `json:"kind" validate:"omitempty,oneof=comum eletrica acessivel moto"`
}

func (h *Handlers) RegisterSlot(w http.ResponseWriter, r *http.Request) {
	lotID, err := idParam(r, "lotID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req registerSlotRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	slot, err := h.bookings.RegisterSlot(r.Context(), caller(r), lotID, req.Number, domain.SlotKind(req.Kind))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, slot)
}

func (h *Handlers) ListSlots(w http.ResponseWriter, r *http.Request) {
	lotID, err := idParam(r, "lotID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	slots, err := h.bookings.ListSlots(r.Context(), lotID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"slots": nonNil(slots)})
}

type maintenanceRequest struct {
	On *bool `json:"on" validate:"required"`
}

func (h *Handlers) SetSlotMaintenance(w http.ResponseWriter, r *http.Request) {
	slotID, err := idParam(r, "slotID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req maintenanceRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	slot, err := h.bookings.SetSlotMaintenance(r.Context(), caller(r), slotID, *req.On)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, slot)
}

type createBookingRequest struct {
	LotID      uuid.UUID `json:"lot_id" validate:"required"`
	Date       string    `json:"date" validate:"required,datetime=2006-01-02"`
	StartTime  string    `json:"start_time" validate:"required,datetime=15:04"`
	EndTime    string    `json:"end_time" validate:"required,datetime=15:04"`
	SpotNumber string    `json:"spot_number" validate:"max=16"`
}

func (h *Handlers) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req createBookingRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	date, _ := time.Parse("2006-01-02", req.Date)
	b, err := h.bookings.CreateBooking(r.Context(), caller(r), booking.CreateBookingInput{
		LotID:      req.LotID,
		Date:       date,
		StartTime:  req.StartTime,
		EndTime:    req.EndTime,
		SpotNumber: req.SpotNumber,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (h *Handlers) GetBooking(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	b, err := h.bookings.GetBooking(r.Context(), id, caller(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *Handlers) ListBookings(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	bookings, err := h.bookings.ListBookings(r.Context(), caller(r),
		domain.Role(q.Get("role")), domain.BookingStatus(q.Get("status")), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"bookings": nonNil(bookings)})
}

type transition func(ctx context.Context, id, caller uuid.UUID) (domain.Booking, error)

// decide serves the body-less transitions: accept, reject and cancel.
func (h *Handlers) decide(fn transition) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := idParam(r, "id")
		if err != nil {
			writeError(w, r, err)
			return
		}
		b, err := fn(r.Context(), id, caller(r))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, b)
	}
}

func (h *Handlers) AcceptBooking(w http.ResponseWriter, r *http.Request) {
	h.decide(h.bookings.Accept)(w, r)
}

func (h *Handlers) RejectBooking(w http.ResponseWriter, r *http.Request) {
	h.decide(h.bookings.Reject)(w, r)
}

func (h *Handlers) CancelBooking(w http.ResponseWriter, r *http.Request) {
	h.decide(h.bookings.Cancel)(w, r)
}

type confirmRequest struct {
	Role string `json:"role" validate:"required,oneof=owner driver"`
}

type confirmation func(ctx context.Context, id, caller uuid.UUID, role domain.Role) (domain.Booking, error)

func (h *Handlers) confirm(fn confirmation) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := idParam(r, "id")
		if err != nil {
			writeError(w, r, err)
			return
		}
		var req confirmRequest
		if err := h.decode(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		b, err := fn(r.Context(), id, caller(r), domain.Role(req.Role))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, b)
	}
}

func (h *Handlers) ConfirmArrival(w http.ResponseWriter, r *http.Request) {
	h.confirm(h.bookings.ConfirmArrival)(w, r)
}

func (h *Handlers) ConfirmDeparture(w http.ResponseWriter, r *http.Request) {
	h.confirm(h.bookings.ConfirmDeparture)(w, r)
}

func (h *Handlers) ListNotifications(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	unread := r.URL.Query().Get("unread") == "true"
	ns, err := h.bookings.ListNotifications(r.Context(), caller(r), unread, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"notifications": nonNil(ns)})
}

func (h *Handlers) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.bookings.MarkNotificationRead(r.Context(), id, caller(r)); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) Realtime(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		http.Error(w, "realtime disabled", http.StatusServiceUnavailable)
		return
	}
	h.hub.Serve(w, r, caller(r))
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status, failed := http.StatusOK, map[string]string{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			status, failed[name] = http.StatusServiceUnavailable, err.Error()
		}
	}
	if len(failed) > 0 {
		writeJSON(w, status, map[string]interface{}{"status": "unavailable", "failed": failed})
		return
	}
	writeJSON(w, status, map[string]string{"status": "ready"})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
