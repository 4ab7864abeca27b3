package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/yahyahoussini6-jpg/kod-franco-sub000/internal/errs"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Field string `json:"field,omitempty"`
}

// writeError maps the error taxonomy onto status codes. Conflicts keep
// distinct codes so clients can tell a stock shortfall from a lost race.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	body := errorBody{Error: err.Error()}
	status := http.StatusInternalServerError
	var ve *errs.ValidationError
	switch {
	case errors.As(err, &ve):
		status, body.Code, body.Field = http.StatusBadRequest, "validation", ve.Field
	case errors.Is(err, errs.ErrValidation):
		status, body.Code = http.StatusBadRequest, "validation"
	case errors.Is(err, errs.ErrNotFound):
		status, body.Code = http.StatusNotFound, "not_found"
	case errors.Is(err, errs.ErrInsufficientStock):
		status, body.Code = http.StatusConflict, "insufficient_stock"
	case errors.Is(err, errs.ErrInvalidTransition):
		status, body.Code = http.StatusConflict, "invalid_transition"
	case errors.Is(err, errs.ErrConcurrentModification):
		status, body.Code = http.StatusConflict, "concurrent_modification"
	default:
		body.Code = "internal"
		body.Error = "internal error"
		zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeJSON(w, status, body)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json: " + err.Error(), Code: "validation"})
		return false
	}
	return true
}

// parseRange reads RFC3339 from and to query parameters.
func parseRange(r *http.Request) (from, to time.Time, err error) {
	q := r.URL.Query()
	if from, err = parseTime("from", q.Get("from")); err != nil {
		return
	}
	if to, err = parseTime("to", q.Get("to")); err != nil {
		return
	}
	if !from.Before(to) {
		err = errs.Invalid("range", "from must be before to")
	}
	return
}

func parseTime(field, raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, errs.Invalid(field, "is required")
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, errs.Invalid(field, "must be RFC3339")
	}
	return t.UTC(), nil
}
