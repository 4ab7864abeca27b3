package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/yahyahoussini6-jpg/kod-franco-sub000/internal/returns"
)

type ReturnsHandler struct {
	Returns *returns.Workflow
}

type OpenReturnReq struct {
	Items  []returns.ItemInput `json:"items"`
	Reason string              `json:"reason"`
	Type   returns.Type        `json:"type"`
}

func (h *ReturnsHandler) Register(r chi.Router) {
	r.Post("/orders/{id}/returns", h.open)
	r.Get("/orders/{id}/returns", h.listByOrder)
	r.Get("/returns/{id}", h.get)
	r.Post("/returns/{id}/transitions", h.transition)
}

func (h *ReturnsHandler) open(w http.ResponseWriter, r *http.Request) {
	var req OpenReturnReq
	if !decode(w, r, &req) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	ret, err := h.Returns.Open(ctx, returns.OpenInput{
		OrderID: chi.URLParam(r, "id"),
		Items:   req.Items,
		Reason:  req.Reason,
		Type:    req.Type,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ret)
}

func (h *ReturnsHandler) listByOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	list, err := h.Returns.ListByOrder(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []returns.Return{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *ReturnsHandler) get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ret, err := h.Returns.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ret)
}

func (h *ReturnsHandler) transition(w http.ResponseWriter, r *http.Request) {
	var req TransitionReq
	if !decode(w, r, &req) {
		return
	}
	target, err := returns.ParseStatus(req.Status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	ret, err := h.Returns.Transition(ctx, chi.URLParam(r, "id"), target)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ret)
}
