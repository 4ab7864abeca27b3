package httpx

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yahyahoussini6-jpg/kod-franco-sub000/internal/errs"
	"github.com/yahyahoussini6-jpg/kod-franco-sub000/internal/observability"
)

func TestWriteError_Mapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{errs.Invalid("items", "must not be empty"), http.StatusBadRequest, "validation"},
		{errs.NotFound("order", "x"), http.StatusNotFound, "not_found"},
		{fmt.Errorf("reserve: %w", &errs.InsufficientStockError{SKU: "A", Requested: 3, Available: 1}), http.StatusConflict, "insufficient_stock"},
		{&errs.TransitionError{Entity: "order", From: "nouvelle", To: "livree"}, http.StatusConflict, "invalid_transition"},
		{fmt.Errorf("order x: %w", errs.ErrConcurrentModification), http.StatusConflict, "concurrent_modification"},
		{errors.New("connection reset"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeError(rec, httptest.NewRequest(http.MethodGet, "/x", nil), tc.err)
			assert.Equal(t, tc.status, rec.Code)

			var body errorBody
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, tc.code, body.Code)
		})
	}
}

func TestWriteError_HidesInternalDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, httptest.NewRequest(http.MethodGet, "/x", nil), errors.New("dial tcp 10.0.0.3:5432: refused"))
	assert.NotContains(t, rec.Body.String(), "10.0.0.3")
}

func TestWriteError_LogsThroughRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).With().Str("service", "fulfillment-api").Logger()
	h := middleware.RequestID(observability.RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, errors.New("dial tcp 10.0.0.3:5432: refused"))
	})))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders/x", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var failed map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(line, &entry))
		if entry["message"] == "request failed" {
			failed = entry
		}
	}
	require.NotNil(t, failed, buf.String())
	assert.Equal(t, "fulfillment-api", failed["service"])
	assert.NotEmpty(t, failed["request_id"])
	assert.Contains(t, failed["error"], "10.0.0.3")
}

func TestParseRange(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/x?from=2024-03-01T00:00:00Z&to=2024-03-02T00:00:00Z", nil)
	from, to, err := parseRange(r)
	require.NoError(t, err)
	assert.Equal(t, 24.0, to.Sub(from).Hours())

	for _, q := range []string{"", "?from=2024-03-01T00:00:00Z", "?from=yesterday&to=2024-03-02T00:00:00Z", "?from=2024-03-02T00:00:00Z&to=2024-03-01T00:00:00Z"} {
		_, _, err := parseRange(httptest.NewRequest(http.MethodGet, "/x"+q, nil))
		assert.ErrorIs(t, err, errs.ErrValidation, q)
	}
}
