package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/yahyahoussini6-jpg/kod-franco-sub000/internal/inventory"
)

type InventoryHandler struct {
	Ledger *inventory.Ledger
}

type AdjustReq struct {
	Delta int    `json:"delta"`
	Note  string `json:"note"`
}

type RestockReq struct {
	Qty     int    `json:"qty"`
	OrderID string `json:"order_id,omitempty"`
	Note    string `json:"note"`
}

func (h *InventoryHandler) Register(r chi.Router) {
	r.Get("/inventory", h.list)
	r.Post("/inventory", h.register)
	r.Get("/inventory/low", h.lowStock)
	r.Get("/inventory/{sku}", h.get)
	r.Get("/inventory/{sku}/movements", h.movements)
	r.Get("/inventory/{sku}/audit", h.audit)
	r.Post("/inventory/{sku}/adjust", h.adjust)
	r.Post("/inventory/{sku}/restock", h.restock)
}

func (h *InventoryHandler) list(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	items, err := h.Ledger.List(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *InventoryHandler) lowStock(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	items, err := h.Ledger.LowStock(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if items == nil {
		items = []inventory.Item{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *InventoryHandler) register(w http.ResponseWriter, r *http.Request) {
	var req inventory.Item
	if !decode(w, r, &req) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	it, err := h.Ledger.Register(ctx, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, it)
}

func (h *InventoryHandler) get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	it, err := h.Ledger.Get(ctx, chi.URLParam(r, "sku"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, it)
}

func (h *InventoryHandler) movements(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	moves, err := h.Ledger.Movements(ctx, chi.URLParam(r, "sku"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if moves == nil {
		moves = []inventory.Movement{}
	}
	writeJSON(w, http.StatusOK, moves)
}

func (h *InventoryHandler) audit(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	res, err := h.Ledger.Audit(ctx, chi.URLParam(r, "sku"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *InventoryHandler) adjust(w http.ResponseWriter, r *http.Request) {
	var req AdjustReq
	if !decode(w, r, &req) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	m, err := h.Ledger.Adjust(ctx, chi.URLParam(r, "sku"), req.Delta, req.Note)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *InventoryHandler) restock(w http.ResponseWriter, r *http.Request) {
	var req RestockReq
	if !decode(w, r, &req) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	m, err := h.Ledger.Restock(ctx, chi.URLParam(r, "sku"), req.Qty, req.OrderID, req.Note)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}
