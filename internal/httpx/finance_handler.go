package httpx

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/yahyahoussini6-jpg/kod-franco-sub000/internal/errs"
	"github.com/yahyahoussini6-jpg/kod-franco-sub000/internal/finance"
)

type FinanceHandler struct {
	Finance *finance.Service
}

type RecordTxReq struct {
	Type        string           `json:"type"`
	AmountCents int64            `json:"amount_cents"`
	Status      finance.TxStatus `json:"status,omitempty"`
	Note        string           `json:"note,omitempty"`
}

type OrderLedgerResp struct {
	OrderID         string                `json:"order_id"`
	NetRevenueCents int64                 `json:"net_revenue_cents"`
	RefundableCents int64                 `json:"refundable_cents"`
	Transactions    []finance.Transaction `json:"transactions"`
}

type RemitResp struct {
	Created bool `json:"created"`
}

type ResolveReq struct {
	Note string `json:"note"`
}

func (h *FinanceHandler) Register(r chi.Router) {
	r.Post("/orders/{id}/transactions", h.record)
	r.Get("/orders/{id}/transactions", h.orderLedger)
	r.Get("/transactions", h.listBetween)
	r.Post("/remittances", h.remit)
	r.Get("/reconciliation/cod", h.reconcile)
	r.Get("/reconciliation/mismatches", h.mismatches)
	r.Post("/reconciliation/mismatches/{orderID}/resolve", h.resolve)
}

func (h *FinanceHandler) record(w http.ResponseWriter, r *http.Request) {
	var req RecordTxReq
	if !decode(w, r, &req) {
		return
	}
	typ, err := finance.ParseTxType(req.Type)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	tx, err := h.Finance.Record(ctx, finance.RecordInput{
		OrderID:     chi.URLParam(r, "id"),
		Type:        typ,
		AmountCents: req.AmountCents,
		Status:      req.Status,
		Note:        req.Note,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

func (h *FinanceHandler) orderLedger(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	id := chi.URLParam(r, "id")
	txs, err := h.Finance.ListByOrder(ctx, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	net, err := h.Finance.NetRevenue(ctx, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	left, err := h.Finance.Refundable(ctx, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if txs == nil {
		txs = []finance.Transaction{}
	}
	writeJSON(w, http.StatusOK, OrderLedgerResp{OrderID: id, NetRevenueCents: net, RefundableCents: left, Transactions: txs})
}

func (h *FinanceHandler) listBetween(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseRange(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	txs, err := h.Finance.ListBetween(ctx, from, to)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if txs == nil {
		txs = []finance.Transaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}

func (h *FinanceHandler) remit(w http.ResponseWriter, r *http.Request) {
	var req finance.Remittance
	if !decode(w, r, &req) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	created, err := h.Finance.Remit(ctx, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	code := http.StatusCreated
	if !created {
		code = http.StatusOK
	}
	writeJSON(w, code, RemitResp{Created: created})
}

func (h *FinanceHandler) reconcile(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseRange(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	rep, err := h.Finance.ReconcileCOD(ctx, from, to, r.URL.Query().Get("courier"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (h *FinanceHandler) mismatches(w http.ResponseWriter, r *http.Request) {
	openOnly := true
	if raw := r.URL.Query().Get("open"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, r, errs.Invalid("open", "must be a boolean"))
			return
		}
		openOnly = b
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	list, err := h.Finance.Mismatches(ctx, openOnly)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []finance.Mismatch{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *FinanceHandler) resolve(w http.ResponseWriter, r *http.Request) {
	var req ResolveReq
	if !decode(w, r, &req) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.Finance.ResolveMismatch(ctx, chi.URLParam(r, "orderID"), req.Note); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
