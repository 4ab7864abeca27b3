package orders

import "time"

type PaymentMethod string

const (
	PaymentCOD     PaymentMethod = "cod"
	PaymentPrepaid PaymentMethod = "prepaid"
)

// Variant holds the optional attributes a SKU line may carry.
type Variant struct {
	Size  string `json:"size,omitempty"`
	Color string `json:"color,omitempty"`
}

type OrderItem struct {
	SKU            string   `json:"sku"`
	Name           string   `json:"name"`
	Category       string   `json:"category,omitempty"`
	Qty            int      `json:"qty"`
	UnitPriceCents int64    `json:"unit_price_cents"`
	Variant        *Variant `json:"variant,omitempty"`
}

func (it OrderItem) LineTotal() int64 { return it.UnitPriceCents * int64(it.Qty) }

type Customer struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email,omitempty"`
}

type Shipping struct {
	Address       string        `json:"address,omitempty"`
	City          string        `json:"city"`
	Courier       string        `json:"courier,omitempty"`
	PaymentMethod PaymentMethod `json:"payment_method"`
	Source        string        `json:"source,omitempty"`   // utm_source
	Campaign      string        `json:"campaign,omitempty"` // utm_campaign
}

type Order struct {
	ID           string      `json:"id"`
	TrackingCode string      `json:"tracking_code"`
	ExternalID   string      `json:"external_id,omitempty"`
	Status       Status      `json:"status"` // lihat status.go
	Version      int         `json:"version"`
	Items        []OrderItem `json:"items"`
	TotalCents   int64       `json:"total_cents"`
	Customer     Customer    `json:"customer"`
	Shipping     Shipping    `json:"shipping"`

	CreatedAt   time.Time  `json:"created_at"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
	PackedAt    *time.Time `json:"packed_at,omitempty"`
	ShippedAt   *time.Time `json:"shipped_at,omitempty"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	ReturnedAt  *time.Time `json:"returned_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Item returns the line for sku.
func (o Order) Item(sku string) (OrderItem, bool) {
	for _, it := range o.Items {
		if it.SKU == sku {
			return it, true
		}
	}
	return OrderItem{}, false
}

func (o Order) clone() Order {
	o.Items = append([]OrderItem(nil), o.Items...)
	return o
}

// stampField is the lifecycle timestamp a status sets on entry.
func (o *Order) stampField(s Status) **time.Time {
	switch s {
	case StatusConfirmee:
		return &o.ConfirmedAt
	case StatusEnPreparation:
		return &o.PackedAt
	case StatusExpediee:
		return &o.ShippedAt
	case StatusLivree:
		return &o.DeliveredAt
	case StatusAnnulee:
		return &o.CancelledAt
	case StatusRetournee:
		return &o.ReturnedAt
	}
	return nil
}

// stamp sets the timestamp for s once. The value never goes below an
// earlier lifecycle timestamp, so a skewed clock cannot reorder them.
func (o *Order) stamp(s Status, now time.Time) {
	f := o.stampField(s)
	if f == nil || *f != nil {
		return
	}
	latest := o.CreatedAt
	for _, t := range []*time.Time{o.ConfirmedAt, o.PackedAt, o.ShippedAt, o.DeliveredAt, o.CancelledAt, o.ReturnedAt} {
		if t != nil && t.After(latest) {
			latest = *t
		}
	}
	if now.Before(latest) {
		now = latest
	}
	*f = &now
}

// AgedShipment is an order still with the courier after the threshold.
type AgedShipment struct {
	OrderID       string    `json:"order_id"`
	TrackingCode  string    `json:"tracking_code"`
	City          string    `json:"city"`
	Courier       string    `json:"courier"`
	CustomerPhone string    `json:"customer_phone"`
	ShippedAt     time.Time `json:"shipped_at"`
	DaysInTransit int       `json:"days_in_transit"`
}
