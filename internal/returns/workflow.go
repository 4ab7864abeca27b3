package returns

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/yahyahoussini6-jpg/kod-franco-sub000/internal/errs"
	"github.com/yahyahoussini6-jpg/kod-franco-sub000/internal/events"
	"github.com/yahyahoussini6-jpg/kod-franco-sub000/internal/finance"
	"github.com/yahyahoussini6-jpg/kod-franco-sub000/internal/inventory"
	"github.com/yahyahoussini6-jpg/kod-franco-sub000/internal/observability"
	"github.com/yahyahoussini6-jpg/kod-franco-sub000/internal/orders"
)

type OrderReader interface {
	Get(ctx context.Context, id string) (orders.Order, error)
}

// Workflow owns Return records. Stock and money move only through the
// Ledger and the finance Service.
type Workflow struct {
	Store     Store
	Orders    OrderReader
	Ledger    *inventory.Ledger
	Finance   *finance.Service
	Publisher events.Publisher
	Log       zerolog.Logger
	Name      string
	Now       func() time.Time
}

func NewWorkflow(store Store, ord OrderReader, ledger *inventory.Ledger, fin *finance.Service, pub events.Publisher, log zerolog.Logger, name string) *Workflow {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Workflow{
		Store:     store,
		Orders:    ord,
		Ledger:    ledger,
		Finance:   fin,
		Publisher: pub,
		Log:       log.With().Str("component", "returns").Logger(),
		Name:      name,
		Now:       func() time.Time { return time.Now().UTC() },
	}
}

type ItemInput struct {
	SKU string `json:"sku"`
	Qty int    `json:"qty"`
}

type OpenInput struct {
	OrderID string      `json:"order_id"`
	Items   []ItemInput `json:"items"`
	Reason  string      `json:"reason"`
	Type    Type        `json:"type"`
}

// Open starts a return for part or all of a shipped order. Quantities are
// checked against what was ordered minus what earlier cases already cover.
func (w *Workflow) Open(ctx context.Context, in OpenInput) (Return, error) {
	typ, err := ParseType(string(in.Type))
	if err != nil {
		return Return{}, err
	}
	if typ == TypeRTO {
		return Return{}, errs.Invalid("type", "rto cases are opened when the order is marked retournee")
	}
	if len(in.Items) == 0 {
		return Return{}, errs.Invalid("items", "must not be empty")
	}
	o, err := w.Orders.Get(ctx, in.OrderID)
	if err != nil {
		return Return{}, err
	}
	if !o.Status.Shipped() {
		return Return{}, errs.Invalid("order", fmt.Sprintf("status %s cannot be returned", o.Status))
	}

	existing, err := w.Store.ListByOrder(ctx, o.ID)
	if err != nil {
		return Return{}, err
	}
	covered := coveredQty(existing)

	items := make([]Item, 0, len(in.Items))
	seen := make(map[string]bool, len(in.Items))
	for _, it := range in.Items {
		line, ok := o.Item(it.SKU)
		switch {
		case !ok:
			return Return{}, errs.Invalid("items.sku", "sku "+it.SKU+" is not on the order")
		case seen[it.SKU]:
			return Return{}, errs.Invalid("items.sku", "duplicate sku "+it.SKU)
		case it.Qty <= 0:
			return Return{}, errs.Invalid("items.qty", "must be positive for sku "+it.SKU)
		case it.Qty > line.Qty-covered[it.SKU]:
			return Return{}, errs.Invalid("items.qty", fmt.Sprintf("sku %s: %d requested, %d returnable", it.SKU, it.Qty, line.Qty-covered[it.SKU]))
		}
		seen[it.SKU] = true
		items = append(items, Item{SKU: it.SKU, Qty: it.Qty, UnitPriceCents: line.UnitPriceCents})
	}

	r, _, err := w.insert(ctx, o.ID, typ, strings.TrimSpace(in.Reason), items)
	return r, err
}

// OpenRTO opens the case for an order that came back from the courier. It
// covers what earlier cases on the order do not, and a second call returns
// without change.
func (w *Workflow) OpenRTO(ctx context.Context, o orders.Order) error {
	existing, err := w.Store.ListByOrder(ctx, o.ID)
	if err != nil {
		return fmt.Errorf("open rto for %s: %w", o.ID, err)
	}
	for _, r := range existing {
		if r.Type == TypeRTO {
			return nil
		}
	}
	covered := coveredQty(existing)

	items := make([]Item, 0, len(o.Items))
	for _, it := range o.Items {
		if left := it.Qty - covered[it.SKU]; left > 0 {
			items = append(items, Item{SKU: it.SKU, Qty: left, UnitPriceCents: it.UnitPriceCents})
		}
	}
	if len(items) == 0 {
		w.Log.Info().Str("order_id", o.ID).Msg("rto skipped, every line already under a return")
		return nil
	}
	_, _, err = w.insert(ctx, o.ID, TypeRTO, "returned to origin", items)
	return err
}

// coveredQty sums quantities per SKU across cases, whatever their status.
func coveredQty(rs []Return) map[string]int {
	covered := make(map[string]int)
	for _, r := range rs {
		for _, it := range r.Items {
			covered[it.SKU] += it.Qty
		}
	}
	return covered
}

func (w *Workflow) insert(ctx context.Context, orderID string, typ Type, reason string, items []Item) (Return, bool, error) {
	var value int64
	for _, it := range items {
		value += it.UnitPriceCents * int64(it.Qty)
	}
	now := w.Now()
	r := Return{
		ID:               uuid.NewString(),
		ReturnCode:       newReturnCode(now),
		OrderID:          orderID,
		Type:             typ,
		Status:           StatusInitiated,
		Reason:           reason,
		Items:            items,
		ReturnValueCents: value,
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	saved, existed, err := w.Store.Insert(ctx, r)
	if err != nil {
		return Return{}, false, fmt.Errorf("open return for %s: %w", orderID, err)
	}
	if existed {
		return saved, true, nil
	}
	w.Log.Info().Str("return_id", saved.ID).Str("order_id", orderID).Str("type", string(typ)).Int64("return_value_cents", value).Msg("return opened")
	w.publish(ctx, events.EventReturnOpened, saved, "")
	return saved, false, nil
}

func newReturnCode(at time.Time) string {
	return "RT" + at.Format("060102") + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
}

// Transition follows the same rules as orders: same status is a no-op that
// re-asserts effects, skipping states is rejected, writes are version-checked.
func (w *Workflow) Transition(ctx context.Context, id string, target Status) (Return, error) {
	if _, err := ParseStatus(string(target)); err != nil {
		return Return{}, err
	}
	cur, err := w.Store.Get(ctx, id)
	if err != nil {
		return Return{}, err
	}
	if cur.Status == target {
		return cur, w.applyEffects(ctx, cur)
	}
	if !CanTransition(cur.Status, target) {
		observability.RecordTransition("return", string(cur.Status), string(target), "rejected")
		return Return{}, &errs.TransitionError{Entity: "return", From: string(cur.Status), To: string(target)}
	}

	next := cur.clone()
	next.Status = target
	next.UpdatedAt = w.Now()
	if target == StatusRefunded {
		if next.RefundAmountCents, err = w.refundAmount(ctx, cur); err != nil {
			return Return{}, err
		}
	}
	saved, err := w.Store.Update(ctx, next, cur.Version)
	if errors.Is(err, errs.ErrConcurrentModification) {
		observability.RecordTransition("return", string(cur.Status), string(target), "conflict")
		return Return{}, fmt.Errorf("return %s version %d: %w", id, cur.Version, err)
	}
	if err != nil {
		return Return{}, err
	}
	observability.RecordTransition("return", string(cur.Status), string(target), "ok")
	w.Log.Info().Str("return_id", id).Str("from", string(cur.Status)).Str("to", string(target)).Msg("return transition")
	w.publish(ctx, events.EventReturnStatusChanged, saved, string(cur.Status))

	return saved, w.applyEffects(ctx, saved)
}

// refundAmount caps the refund at what is still refundable on the order.
func (w *Workflow) refundAmount(ctx context.Context, r Return) (int64, error) {
	left, err := w.Finance.Refundable(ctx, r.OrderID)
	if err != nil {
		return 0, err
	}
	return min(r.ReturnValueCents, left), nil
}

func (w *Workflow) applyEffects(ctx context.Context, r Return) error {
	switch r.Status {
	case StatusRestocked:
		note := "return " + r.ReturnCode
		for _, it := range r.Items {
			if _, _, err := w.Ledger.RestockOnce(ctx, it.SKU, it.Qty, r.OrderID, note); err != nil {
				return fmt.Errorf("restock %s for %s: %w", it.SKU, r.ReturnCode, err)
			}
		}
	case StatusRefunded:
		if r.RefundAmountCents <= 0 {
			return nil
		}
		_, _, err := w.Finance.RecordKeyed(ctx, finance.RecordInput{
			OrderID:     r.OrderID,
			Type:        finance.TxRefund,
			AmountCents: -r.RefundAmountCents,
			Note:        "return " + r.ReturnCode,
		}, "return:"+r.ID+":refund")
		if err != nil {
			return fmt.Errorf("record refund for %s: %w", r.ReturnCode, err)
		}
	}
	return nil
}

func (w *Workflow) Get(ctx context.Context, id string) (Return, error) { return w.Store.Get(ctx, id) }

func (w *Workflow) GetByCode(ctx context.Context, code string) (Return, error) {
	return w.Store.GetByCode(ctx, code)
}

func (w *Workflow) ListByOrder(ctx context.Context, orderID string) ([]Return, error) {
	return w.Store.ListByOrder(ctx, orderID)
}

func (w *Workflow) ListCreatedBetween(ctx context.Context, from, to time.Time) ([]Return, error) {
	return w.Store.ListCreatedBetween(ctx, from, to)
}

func (w *Workflow) publish(ctx context.Context, eventType string, r Return, from string) {
	env, err := events.New(eventType, w.Name, r.OrderID, events.ReturnPayload{
		ReturnID:   r.ID,
		ReturnCode: r.ReturnCode,
		OrderID:    r.OrderID,
		Type:       string(r.Type),
		From:       from,
		Status:     string(r.Status),
	})
	if err != nil {
		w.Log.Error().Err(err).Msg("build event")
		return
	}
	if err := w.Publisher.Publish(ctx, events.TopicReturnLifecycle, env); err != nil {
		w.Log.Warn().Err(err).Str("return_id", r.ID).Msg("publish event")
	}
}
