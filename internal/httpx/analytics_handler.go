package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/yahyahoussini6-jpg/kod-franco-sub000/internal/analytics"
)

type AnalyticsHandler struct {
	Analytics *analytics.Aggregator
}

func (h *AnalyticsHandler) Register(r chi.Router) {
	r.Route("/analytics", func(r chi.Router) {
		r.Get("/report", serve(h, (*analytics.Aggregator).Report))
		r.Get("/funnel", serve(h, (*analytics.Aggregator).Funnel))
		r.Get("/sla", serve(h, (*analytics.Aggregator).SLA))
		r.Get("/geo", serve(h, (*analytics.Aggregator).Geo))
		r.Get("/products", serve(h, (*analytics.Aggregator).Products))
		r.Get("/marketing", serve(h, (*analytics.Aggregator).Marketing))
	})
}

func serve[T any](h *AnalyticsHandler, fn func(*analytics.Aggregator, context.Context, analytics.Query) (T, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, err := parseQuery(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()

		out, err := fn(h.Analytics, ctx, q)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func parseQuery(r *http.Request) (analytics.Query, error) {
	from, to, err := parseRange(r)
	if err != nil {
		return analytics.Query{}, err
	}
	v := r.URL.Query()
	return analytics.Query{
		From: from,
		To:   to,
		Filters: analytics.Filters{
			City:     v.Get("city"),
			Courier:  v.Get("courier"),
			Category: v.Get("category"),
			SKU:      v.Get("sku"),
			Source:   v.Get("source"),
			Campaign: v.Get("campaign"),
		},
	}, nil
}
