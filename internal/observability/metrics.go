package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fulfillment",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fulfillment",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	reservations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fulfillment",
			Subsystem: "inventory",
			Name:      "reservations_total",
			Help:      "Reservation attempts by result.",
		},
		[]string{"result"},
	)
	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fulfillment",
			Subsystem: "lifecycle",
			Name:      "transitions_total",
			Help:      "Order and return state transitions.",
		},
		[]string{"entity", "from", "to", "result"},
	)
	codVariance = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "fulfillment",
			Subsystem: "finance",
			Name:      "cod_variance_cents",
			Help:      "Expected minus received COD amount of the last reconciliation run.",
		},
		[]string{"courier"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequests, httpDuration, reservations, transitions, codVariance)
	})
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

func RecordReservation(result string) {
	RegisterMetrics()
	reservations.WithLabelValues(result).Inc()
}

func RecordTransition(entity, from, to, result string) {
	RegisterMetrics()
	transitions.WithLabelValues(entity, from, to, result).Inc()
}

func RecordCODVariance(courier string, varianceCents int64) {
	RegisterMetrics()
	if courier == "" {
		courier = "all"
	}
	codVariance.WithLabelValues(courier).Set(float64(varianceCents))
}
