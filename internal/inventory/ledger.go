package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/yahyahoussini6-jpg/kod-franco-sub000/internal/errs"
	"github.com/yahyahoussini6-jpg/kod-franco-sub000/internal/events"
	"github.com/yahyahoussini6-jpg/kod-franco-sub000/internal/observability"
)

// Ledger is the only writer of Item and Movement state. Other components go
// through it; none of them touch a Store directly.
type Ledger struct {
	Store     Store
	Publisher events.Publisher
	Log       zerolog.Logger
	Service   string
}

func NewLedger(store Store, pub events.Publisher, log zerolog.Logger, service string) *Ledger {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Ledger{Store: store, Publisher: pub, Log: log.With().Str("component", "inventory").Logger(), Service: service}
}

func (l *Ledger) Register(ctx context.Context, item Item) (Item, error) {
	item.SKU = strings.TrimSpace(item.SKU)
	switch {
	case item.SKU == "":
		return Item{}, errs.Invalid("sku", "is required")
	case item.PriceCents < 0:
		return Item{}, errs.Invalid("price_cents", "must not be negative")
	case item.MinStockLevel < 0:
		return Item{}, errs.Invalid("min_stock_level", "must not be negative")
	}
	return l.Store.Register(ctx, item)
}

func (l *Ledger) Get(ctx context.Context, sku string) (Item, error) { return l.Store.Get(ctx, sku) }

func (l *Ledger) List(ctx context.Context) ([]Item, error) { return l.Store.List(ctx) }

// ReserveOne is Reserve for a single line.
func (l *Ledger) ReserveOne(ctx context.Context, sku string, qty int, orderID string) error {
	return l.Reserve(ctx, orderID, []Line{{SKU: sku, Qty: qty}})
}

// Reserve holds all lines for orderID or nothing.
func (l *Ledger) Reserve(ctx context.Context, orderID string, lines []Line) error {
	if orderID == "" {
		return errs.Invalid("order_id", "is required")
	}
	if len(lines) == 0 {
		return errs.Invalid("lines", "must not be empty")
	}
	for _, ln := range lines {
		if strings.TrimSpace(ln.SKU) == "" {
			return errs.Invalid("sku", "is required")
		}
		if ln.Qty <= 0 {
			return errs.Invalid("qty", "must be positive for sku "+ln.SKU)
		}
	}

	err := l.Store.Reserve(ctx, orderID, lines)
	switch {
	case err == nil:
		observability.RecordReservation("ok")
	case errors.Is(err, errs.ErrInsufficientStock):
		observability.RecordReservation("insufficient")
		l.Log.Info().Str("order_id", orderID).Err(err).Msg("reservation rejected")
		return err
	default:
		observability.RecordReservation("error")
		return fmt.Errorf("reserve order %s: %w", orderID, err)
	}

	skus := make([]string, 0, len(lines))
	for _, ln := range lines {
		skus = append(skus, ln.SKU)
	}
	l.checkLow(ctx, skus)
	return nil
}

func (l *Ledger) Release(ctx context.Context, orderID string) ([]Movement, error) {
	moves, err := l.Store.Release(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("release order %s: %w", orderID, err)
	}
	if len(moves) > 0 {
		l.Log.Debug().Str("order_id", orderID).Int("lines", len(moves)).Msg("reservation released")
	}
	return moves, nil
}

func (l *Ledger) Commit(ctx context.Context, orderID string) ([]Movement, error) {
	moves, err := l.Store.Commit(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("commit order %s: %w", orderID, err)
	}
	if len(moves) > 0 {
		skus := make([]string, 0, len(moves))
		for _, m := range moves {
			skus = append(skus, m.SKU)
		}
		l.checkLow(ctx, skus)
	}
	return moves, nil
}

func (l *Ledger) Restock(ctx context.Context, sku string, qty int, orderID, note string) (Movement, error) {
	m, err := l.Store.Restock(ctx, sku, qty, orderID, note)
	if err != nil {
		return Movement{}, fmt.Errorf("restock %s: %w", sku, err)
	}
	return m, nil
}

// RestockOnce restocks unless a restock movement with the same order and
// note is already in the log.
func (l *Ledger) RestockOnce(ctx context.Context, sku string, qty int, orderID, note string) (Movement, bool, error) {
	moves, err := l.Store.Movements(ctx, sku)
	if err != nil {
		return Movement{}, false, err
	}
	for _, m := range moves {
		if m.Reason == ReasonRestock && m.OrderID == orderID && m.Note == note {
			return m, false, nil
		}
	}
	m, err := l.Restock(ctx, sku, qty, orderID, note)
	return m, err == nil, err
}

func (l *Ledger) Adjust(ctx context.Context, sku string, delta int, note string) (Movement, error) {
	m, err := l.Store.Adjust(ctx, sku, delta, note)
	if err != nil {
		return Movement{}, fmt.Errorf("adjust %s: %w", sku, err)
	}
	l.Log.Info().Str("sku", sku).Int("delta", delta).Str("note", note).Msg("stock adjusted")
	return m, nil
}

func (l *Ledger) Movements(ctx context.Context, sku string) ([]Movement, error) {
	return l.Store.Movements(ctx, sku)
}

func (l *Ledger) Holds(ctx context.Context, orderID string) ([]Hold, error) {
	return l.Store.Holds(ctx, orderID)
}

// LowStock lists items at or under their min stock level.
func (l *Ledger) LowStock(ctx context.Context) ([]Item, error) {
	items, err := l.Store.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []Item
	for _, it := range items {
		if it.Low() {
			out = append(out, it)
		}
	}
	return out, nil
}

// AuditResult compares the stored balance with a replay of the movement log.
type AuditResult struct {
	SKU              string `json:"sku"`
	StockOnHand      int    `json:"stock_on_hand"`
	Reserved         int    `json:"reserved"`
	ReplayedOnHand   int    `json:"replayed_on_hand"`
	ReplayedReserved int    `json:"replayed_reserved"`
	Consistent       bool   `json:"consistent"`
}

// Audit is not atomic with concurrent writers; run it on a quiet SKU.
func (l *Ledger) Audit(ctx context.Context, sku string) (AuditResult, error) {
	it, err := l.Store.Get(ctx, sku)
	if err != nil {
		return AuditResult{}, err
	}
	moves, err := l.Store.Movements(ctx, sku)
	if err != nil {
		return AuditResult{}, err
	}
	onHand, reserved := Replay(moves)
	return AuditResult{
		SKU:              sku,
		StockOnHand:      it.StockOnHand,
		Reserved:         it.Reserved,
		ReplayedOnHand:   onHand,
		ReplayedReserved: reserved,
		Consistent:       onHand == it.StockOnHand && reserved == it.Reserved,
	}, nil
}

func (l *Ledger) checkLow(ctx context.Context, skus []string) {
	for _, sku := range skus {
		it, err := l.Store.Get(ctx, sku)
		if err != nil || !it.Low() {
			continue
		}
		env, err := events.New(events.EventStockLow, l.Service, sku, events.StockLowPayload{
			SKU: sku, Available: it.Available(), MinStockLevel: it.MinStockLevel,
		})
		if err != nil {
			continue
		}
		if err := l.Publisher.Publish(ctx, events.TopicInventory, env); err != nil {
			l.Log.Warn().Err(err).Str("sku", sku).Msg("publish stock low")
		}
	}
}
