package inventory

import "time"

// Item is the stock state of one SKU (a product variant).
type Item struct {
	SKU           string    `json:"sku"`
	Name          string    `json:"name"`
	Category      string    `json:"category,omitempty"`
	PriceCents    int64     `json:"price_cents"`
	StockOnHand   int       `json:"stock_on_hand"`
	Reserved      int       `json:"reserved"`
	MinStockLevel int       `json:"min_stock_level"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Available returns the stock that can still be reserved.
func (i Item) Available() int { return i.StockOnHand - i.Reserved }

// Low reports whether the item sits at or below its alert threshold.
func (i Item) Low() bool { return i.MinStockLevel > 0 && i.Available() <= i.MinStockLevel }

type Reason string

const (
	ReasonReserve Reason = "reserve"
	ReasonRelease Reason = "release"
	ReasonCommit  Reason = "commit"
	ReasonRestock Reason = "restock"
	ReasonAdjust  Reason = "adjust"
)

// Movement is one append-only audit entry. Delta is a quantity for every
// reason except adjust, where it is the signed change to stock on hand.
type Movement struct {
	ID        int64     `json:"id"`
	SKU       string    `json:"sku"`
	Reason    Reason    `json:"reason"`
	Delta     int       `json:"delta"`
	OrderID   string    `json:"order_id,omitempty"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Line is a quantity requested for one SKU.
type Line struct {
	SKU string `json:"sku"`
	Qty int    `json:"qty"`
}

type HoldStatus string

const (
	HoldReserved  HoldStatus = "reserved"
	HoldReleased  HoldStatus = "released"
	HoldCommitted HoldStatus = "committed"
)

// Hold is the reservation one order holds on one SKU.
type Hold struct {
	OrderID string     `json:"order_id"`
	SKU     string     `json:"sku"`
	Qty     int        `json:"qty"`
	Status  HoldStatus `json:"status"`
}

// Replay rebuilds stock on hand and reserved from a movement log alone.
func Replay(moves []Movement) (onHand, reserved int) {
	for _, m := range moves {
		switch m.Reason {
		case ReasonReserve:
			reserved += m.Delta
		case ReasonRelease:
			reserved -= m.Delta
		case ReasonCommit:
			onHand -= m.Delta
			reserved -= m.Delta
		case ReasonRestock, ReasonAdjust:
			onHand += m.Delta
		}
	}
	return onHand, reserved
}

// mergeLines folds duplicate SKUs together so one order holds one
// reservation per SKU.
func mergeLines(lines []Line) []Line {
	idx := make(map[string]int, len(lines))
	out := make([]Line, 0, len(lines))
	for _, l := range lines {
		if i, ok := idx[l.SKU]; ok {
			out[i].Qty += l.Qty
			continue
		}
		idx[l.SKU] = len(out)
		out = append(out, l)
	}
	return out
}
