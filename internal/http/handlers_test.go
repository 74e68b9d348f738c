package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/parking-bookings/internal/adapters/memstore"
	redisadapter "github.com/robertarktes/parking-bookings/internal/adapters/redis"
	"github.com/robertarktes/parking-bookings/internal/auth"
	"github.com/robertarktes/parking-bookings/internal/booking"
	"github.com/robertarktes/parking-bookings/internal/domain"
	"github.com/robertarktes/parking-bookings/internal/idempotency"
	"github.com/robertarktes/parking-bookings/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memBackend struct {
	mu   sync.Mutex
	data map[string]redisadapter.IdempResponse
}

func (m *memBackend) Get(_ context.Context, key string) (*redisadapter.IdempResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	resp, ok := m.data[key]
	if !ok {
		return nil, nil
	}
	return &resp, nil
}

func (m *memBackend) Set(_ context.Context, key string, resp redisadapter.IdempResponse, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = resp
	return nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type api struct {
	t        *testing.T
	srv      *httptest.Server
	verifier *auth.Verifier
}

func newAPI(t *testing.T, opts ...booking.Option) *api {
	t.Helper()
	store := memstore.New()
	svc := booking.NewService(store, observability.NewNopLogger(), 15*time.Minute, opts...)
	verifier := auth.NewVerifier("test-secret")
	h := NewHandlers(svc, nil, map[string]ReadyCheck{"store": func(context.Context) error { return nil }})
	router := SetupRouter(h, RouterDeps{
		Logger:      observability.NewNopLogger(),
		Verifier:    verifier,
		Idempotency: idempotency.NewIdempotency(&memBackend{data: map[string]redisadapter.IdempResponse{}}, time.Hour),
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &api{t: t, srv: srv, verifier: verifier}
}

func (a *api) do(user uuid.UUID, method, path string, body interface{}, headers ...string) (int, []byte, http.Header) {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, a.srv.URL+path, &buf)
	require.NoError(a.t, err)
	if user != uuid.Nil {
		token, err := a.verifier.Issue(user, time.Minute)
		require.NoError(a.t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(a.t, err)
	defer resp.Body.Close()
	var out bytes.Buffer
	_, err = out.ReadFrom(resp.Body)
	require.NoError(a.t, err)
	return resp.StatusCode, out.Bytes(), resp.Header
}

func (a *api) decode(data []byte, v interface{}) {
	a.t.Helper()
	require.NoError(a.t, json.Unmarshal(data, v), string(data))
}

func (a *api) setupLot(owner uuid.UUID) domain.ParkingLot {
	a.t.Helper()
	code, body, _ := a.do(owner, http.MethodPost, "/v1/lots", map[string]interface{}{
		"name":          "Centro",
		"overtime_rate": "5",
		"price_tiers": []map[string]interface{}{
			{"hours": 1, "price": "10"},
			{"hours": 2, "price": "25"},
		},
	})
	require.Equal(a.t, http.StatusCreated, code, string(body))
	var lot domain.ParkingLot
	a.decode(body, &lot)

	code, body, _ = a.do(owner, http.MethodPost, "/v1/lots/"+lot.ID.String()+"/slots", map[string]string{"number": "A1"})
	require.Equal(a.t, http.StatusCreated, code, string(body))
	return lot
}

func (a *api) requestBooking(driver uuid.UUID, lot domain.ParkingLot) domain.Booking {
	a.t.Helper()
	code, body, _ := a.do(driver, http.MethodPost, "/v1/bookings", map[string]string{
		"lot_id":     lot.ID.String(),
		"date":       "2025-03-10",
		"start_time": "09:00",
		"end_time":   "10:30",
	})
	require.Equal(a.t, http.StatusCreated, code, string(body))
	var b domain.Booking
	a.decode(body, &b)
	return b
}

func TestBookingLifecycleOverHTTP(t *testing.T) {
	a := newAPI(t)
	owner, driver := uuid.New(), uuid.New()
	lot := a.setupLot(owner)
	b := a.requestBooking(driver, lot)
	assert.Equal(t, domain.StatusPending, b.Status)
	assert.Equal(t, "25", b.Price.String())

	path := "/v1/bookings/" + b.ID.String()
	code, _, _ := a.do(driver, http.MethodPost, path+"/accept", nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, body, _ := a.do(owner, http.MethodPost, path+"/accept", nil)
	require.Equal(t, http.StatusOK, code, string(body))

	code, body, _ = a.do(owner, http.MethodPost, path+"/reject", nil)
	assert.Equal(t, http.StatusConflict, code)
	var conflict errorBody
	a.decode(body, &conflict)
	assert.Equal(t, string(domain.StatusReserved), conflict.CurrentStatus)

	steps := []struct {
		user uuid.UUID
		step string
		role string
	}{
		{owner, "arrival", "owner"},
		{driver, "arrival", "driver"},
		{owner, "departure", "owner"},
		{driver, "departure", "driver"},
	}
	for _, s := range steps {
		code, body, _ = a.do(s.user, http.MethodPost, path+"/"+s.step, map[string]string{"role": s.role})
		require.Equal(t, http.StatusOK, code, "%s %s: %s", s.step, s.role, body)
	}

	code, body, _ = a.do(driver, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, code)
	var final domain.Booking
	a.decode(body, &final)
	assert.Equal(t, domain.StatusCompleted, final.Status)

	code, _, _ = a.do(uuid.New(), http.MethodGet, path, nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, body, _ = a.do(owner, http.MethodGet, "/v1/notifications?unread=true", nil)
	require.Equal(t, http.StatusOK, code)
	var listed struct {
		Notifications []domain.Notification `json:"notifications"`
	}
	a.decode(body, &listed)
	types := map[domain.NotificationType]int{}
	for _, n := range listed.Notifications {
		types[n.Type]++
	}
	assert.Equal(t, 1, types[domain.NotifNewRequest])
	assert.Equal(t, 1, types[domain.NotifReviewAvailable])

	code, _, _ = a.do(owner, http.MethodPost, "/v1/notifications/"+listed.Notifications[0].ID.String()+"/read", nil)
	assert.Equal(t, http.StatusNoContent, code)
}

func TestRequestValidation(t *testing.T) {
	a := newAPI(t)
	owner, driver := uuid.New(), uuid.New()
	lot := a.setupLot(owner)

	cases := map[string]map[string]string{
		"missing lot":    {"date": "2025-03-10", "start_time": "09:00", "end_time": "10:00"},
		"bad date":       {"lot_id": lot.ID.String(), "date": "10/03/2025", "start_time": "09:00", "end_time": "10:00"},
		"bad clock":      {"lot_id": lot.ID.String(), "date": "2025-03-10", "start_time": "9h", "end_time": "10:00"},
		"reverse window": {"lot_id": lot.ID.String(), "date": "2025-03-10", "start_time": "10:00", "end_time": "09:00"},
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			code, _, _ := a.do(driver, http.MethodPost, "/v1/bookings", body)
			assert.Equal(t, http.StatusBadRequest, code)
		})
	}

	b := a.requestBooking(driver, lot)
	code, _, _ := a.do(owner, http.MethodPost, "/v1/bookings/"+b.ID.String()+"/arrival", map[string]string{"role": "valet"})
	assert.Equal(t, http.StatusBadRequest, code)
	code, _, _ = a.do(owner, http.MethodPost, "/v1/bookings/not-a-uuid/accept", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _, _ = a.do(owner, http.MethodGet, "/v1/bookings?status=parked", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestAuthRequired(t *testing.T) {
	a := newAPI(t)
	code, _, _ := a.do(uuid.Nil, http.MethodGet, "/v1/bookings", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _, _ = a.do(uuid.Nil, http.MethodGet, "/v1/healthz", nil)
	assert.Equal(t, http.StatusOK, code)
	code, _, _ = a.do(uuid.Nil, http.MethodGet, "/v1/readyz", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestIdempotentReplay(t *testing.T) {
	a := newAPI(t)
	owner, driver := uuid.New(), uuid.New()
	lot := a.setupLot(owner)
	body := map[string]string{
		"lot_id":     lot.ID.String(),
		"date":       "2025-03-10",
		"start_time": "09:00",
		"end_time":   "10:00",
	}
	key := "booking-" + uuid.NewString()

	code1, body1, _ := a.do(driver, http.MethodPost, "/v1/bookings", body, "Idempotency-Key", key)
	require.Equal(t, http.StatusCreated, code1)
	code2, body2, hdr := a.do(driver, http.MethodPost, "/v1/bookings", body, "Idempotency-Key", key)
	assert.Equal(t, http.StatusCreated, code2)
	assert.Equal(t, "true", hdr.Get("Idempotent-Replayed"))
	assert.JSONEq(t, string(body1), string(body2))

	code, listing, _ := a.do(driver, http.MethodGet, "/v1/bookings", nil)
	require.Equal(t, http.StatusOK, code)
	var listed struct {
		Bookings []domain.Booking `json:"bookings"`
	}
	a.decode(listing, &listed)
	assert.Len(t, listed.Bookings, 1)

	code, _, _ = a.do(driver, http.MethodPost, "/v1/bookings", body, "Idempotency-Key", "short")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestSlotAdministrationOverHTTP(t *testing.T) {
	a := newAPI(t)
	owner := uuid.New()
	lot := a.setupLot(owner)

	code, body, _ := a.do(owner, http.MethodGet, "/v1/lots/"+lot.ID.String()+"/slots", nil)
	require.Equal(t, http.StatusOK, code)
	var listed struct {
		Slots []domain.Slot `json:"slots"`
	}
	a.decode(body, &listed)
	require.Len(t, listed.Slots, 1)

	path := "/v1/slots/" + listed.Slots[0].ID.String() + "/maintenance"
	code, _, _ = a.do(uuid.New(), http.MethodPost, path, map[string]bool{"on": true})
	assert.Equal(t, http.StatusForbidden, code)
	code, _, _ = a.do(owner, http.MethodPost, path, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, code)
	code, body, _ = a.do(owner, http.MethodPost, path, map[string]bool{"on": true})
	require.Equal(t, http.StatusOK, code)
	var slot domain.Slot
	a.decode(body, &slot)
	assert.Equal(t, domain.SlotMaintenance, slot.Status)

	code, _, _ = a.do(owner, http.MethodPost, "/v1/lots/"+lot.ID.String()+"/slots", map[string]string{"number": "A1"})
	assert.Equal(t, http.StatusConflict, code)
}

func TestAcceptAfterDeadlineIsGone(t *testing.T) {
	c := &clock{now: time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)}
	a := newAPI(t, booking.WithClock(c.Now))
	owner, driver := uuid.New(), uuid.New()
	lot := a.setupLot(owner)
	b := a.requestBooking(driver, lot)

	c.Advance(16 * time.Minute)
	code, body, _ := a.do(owner, http.MethodPost, "/v1/bookings/"+b.ID.String()+"/accept", nil)
	assert.Equal(t, http.StatusGone, code, string(body))

	code, body, _ = a.do(driver, http.MethodGet, "/v1/bookings/"+b.ID.String(), nil)
	require.Equal(t, http.StatusOK, code)
	var got domain.Booking
	a.decode(body, &got)
	assert.Equal(t, domain.StatusPending, got.Status)
	assert.Nil(t, got.SlotID)
}
