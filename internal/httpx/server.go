package httpx

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/yahyahoussini6-jpg/kod-franco-sub000/internal/observability"
)

type Registrar interface {
	Register(r chi.Router)
}

func NewRouter(log zerolog.Logger, handlers ...Registrar) *chi.Mux {
	observability.RegisterMetrics()

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, observability.RequestLogger(log), observability.RequestMetrics)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	for _, h := range handlers {
		h.Register(r)
	}
	return r
}
