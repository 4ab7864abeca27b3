package httpx

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/yahyahoussini6-jpg/kod-franco-sub000/internal/errs"
	"github.com/yahyahoussini6-jpg/kod-franco-sub000/internal/orders"
)

type OrdersHandler struct {
	Orders *orders.Service
	// AgedDays is the default threshold for /shipments/aged.
	AgedDays int
}

type CreateOrderResp struct {
	OrderID      string `json:"order_id"`
	TrackingCode string `json:"tracking_code"`
	TotalCents   int64  `json:"total_cents"`
	Idempotent   bool   `json:"idempotent"`
}

type TransitionReq struct {
	Status string `json:"status"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders/{id}", h.getOrder)
	r.Post("/orders/{id}/transitions", h.transition)
	r.Get("/track/{code}", h.track)
	r.Get("/shipments/aged", h.agedShipments)
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req orders.CreateInput
	if !decode(w, r, &req) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, existed, err := h.Orders.Create(ctx, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	code := http.StatusCreated
	if existed {
		code = http.StatusOK
	}
	writeJSON(w, code, CreateOrderResp{OrderID: o.ID, TrackingCode: o.TrackingCode, TotalCents: o.TotalCents, Idempotent: existed})
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Orders.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// track serves the customer-facing lookup. It goes through the Redis cache.
func (h *OrdersHandler) track(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Orders.GetByTrackingCode(ctx, chi.URLParam(r, "code"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) transition(w http.ResponseWriter, r *http.Request) {
	var req TransitionReq
	if !decode(w, r, &req) {
		return
	}
	target, err := orders.ParseStatus(req.Status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Orders.Transition(ctx, chi.URLParam(r, "id"), target)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) agedShipments(w http.ResponseWriter, r *http.Request) {
	days := h.AgedDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, r, errs.Invalid("days", "must be an integer"))
			return
		}
		days = n
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	list, err := h.Orders.AgedShipments(ctx, days, h.Orders.Now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}
