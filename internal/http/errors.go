package http

import (
	"encoding/json"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/robertarktes/parking-bookings/internal/domain"
)

type errorBody struct {
	Error         string `json:"error"`
	CurrentStatus string `json:"current_status,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto status codes. Conflicts on a booking
// carry the status the booking actually has, so clients can tell "already
// accepted" from "already expired".
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		status = http.StatusInternalServerError
		body   = errorBody{Error: "internal error"}
		verrs  validator.ValidationErrors
		te     *domain.TransitionError
	)
	switch {
	case errors.As(err, &verrs):
		status, body.Error = http.StatusBadRequest, verrs.Error()
	case errors.Is(err, domain.ErrInvalidInput):
		status, body.Error = http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrPermission):
		status, body.Error = http.StatusForbidden, err.Error()
	case errors.Is(err, domain.ErrNotFound):
		status, body.Error = http.StatusNotFound, err.Error()
	case errors.Is(err, domain.ErrExpired):
		status, body.Error = http.StatusGone, err.Error()
	case errors.As(err, &te):
		status, body.Error, body.CurrentStatus = http.StatusConflict, te.Error(), string(te.From)
	case errors.Is(err, domain.ErrSerializationFailure):
		status, body.Error = http.StatusConflict, "conflict, try again"
	case errors.Is(err, domain.ErrConflict):
		status, body.Error = http.StatusConflict, err.Error()
	default:
		loggerFrom(r).WithError(err).Error("request failed")
	}
	writeJSON(w, status, body)
}
