package returns

import (
	"fmt"
	"time"

	"github.com/yahyahoussini6-jpg/kod-franco-sub000/internal/errs"
)

type Type string

const (
	TypeRTO      Type = "rto"      // courier could not deliver
	TypeReturn   Type = "return"   // customer sent it back
	TypeExchange Type = "exchange" // customer wants another size or color
)

func ParseType(raw string) (Type, error) {
	switch t := Type(raw); t {
	case TypeRTO, TypeReturn, TypeExchange:
		return t, nil
	case "":
		return TypeReturn, nil
	}
	return "", errs.Invalid("type", fmt.Sprintf("unknown return type %q", raw))
}

type Status string

const (
	StatusInitiated Status = "initiated"
	StatusInTransit Status = "in_transit"
	StatusReceived  Status = "received"
	StatusProcessed Status = "processed"
	StatusRefunded  Status = "refunded"
	StatusRestocked Status = "restocked"
	StatusDisposed  Status = "disposed"
)

var allowedTransitions = map[Status]map[Status]bool{
	StatusInitiated: {StatusInTransit: true},
	StatusInTransit: {StatusReceived: true},
	StatusReceived:  {StatusProcessed: true},
	StatusProcessed: {StatusRefunded: true, StatusRestocked: true, StatusDisposed: true},
	StatusRefunded:  {},
	StatusRestocked: {},
	StatusDisposed:  {},
}

func CanTransition(from, to Status) bool { return allowedTransitions[from][to] }

func (s Status) Terminal() bool {
	next, ok := allowedTransitions[s]
	return ok && len(next) == 0
}

func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if _, ok := allowedTransitions[s]; !ok {
		return "", errs.Invalid("status", fmt.Sprintf("unknown return status %q", raw))
	}
	return s, nil
}

type Item struct {
	SKU            string `json:"sku"`
	Qty            int    `json:"qty"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

type Return struct {
	ID                string    `json:"id"`
	ReturnCode        string    `json:"return_code"`
	OrderID           string    `json:"order_id"`
	Type              Type      `json:"type"`
	Status            Status    `json:"status"`
	Reason            string    `json:"reason,omitempty"`
	Items             []Item    `json:"items"`
	ReturnValueCents  int64     `json:"return_value_cents"`
	RefundAmountCents int64     `json:"refund_amount_cents"`
	Version           int       `json:"version"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func (r Return) clone() Return {
	r.Items = append([]Item(nil), r.Items...)
	return r
}
