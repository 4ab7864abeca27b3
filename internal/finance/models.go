package finance

import (
	"fmt"
	"time"

	"github.com/yahyahoussini6-jpg/kod-franco-sub000/internal/errs"
)

type TxType string

const (
	TxSale        TxType = "sale"
	TxRefund      TxType = "refund"
	TxCODFee      TxType = "cod_fee"
	TxShippingFee TxType = "shipping_fee"
	TxDiscount    TxType = "discount"
	TxCost        TxType = "cost"
)

type TxStatus string

const (
	StatusPending TxStatus = "pending"
	StatusPosted  TxStatus = "posted"
)

// sign is the required sign of an amount per type: +1 income, -1 outflow.
var sign = map[TxType]int{
	TxSale:        1,
	TxShippingFee: 1,
	TxRefund:      -1,
	TxCODFee:      -1,
	TxDiscount:    -1,
	TxCost:        -1,
}

// customerFacing are the types that make up what a COD courier collects.
var customerFacing = map[TxType]bool{TxSale: true, TxShippingFee: true, TxDiscount: true}

func ParseTxType(s string) (TxType, error) {
	t := TxType(s)
	if _, ok := sign[t]; !ok {
		return "", errs.Invalid("type", fmt.Sprintf("unknown transaction type %q", s))
	}
	return t, nil
}

// CheckSign enforces the sign convention; zero amounts are rejected too.
func CheckSign(t TxType, amount int64) error {
	want, ok := sign[t]
	if !ok {
		return errs.Invalid("type", fmt.Sprintf("unknown transaction type %q", t))
	}
	if amount == 0 || (want > 0) != (amount > 0) {
		dir := "positive"
		if want < 0 {
			dir = "negative"
		}
		return errs.Invalid("amount_cents", fmt.Sprintf("must be %s for %s", dir, t))
	}
	return nil
}

// Transaction is one signed monetary event tied to an order.
type Transaction struct {
	ID          string    `json:"id"`
	OrderID     string    `json:"order_id"`
	Type        TxType    `json:"type"`
	AmountCents int64     `json:"amount_cents"`
	Status      TxStatus  `json:"status"`
	Note        string    `json:"note,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Remittance is a courier's report of COD cash actually handed over.
type Remittance struct {
	Ref         string    `json:"ref"` // courier report line id, dedup key
	OrderID     string    `json:"order_id"`
	Courier     string    `json:"courier"`
	AmountCents int64     `json:"amount_cents"`
	ReportedAt  time.Time `json:"reported_at"`
}

// Shipment is a delivered order as seen by reconciliation.
type Shipment struct {
	OrderID       string
	TrackingCode  string
	Courier       string
	PaymentMethod string
	DeliveredAt   time.Time
}

type ReconciliationLine struct {
	OrderID       string `json:"order_id"`
	TrackingCode  string `json:"tracking_code"`
	Courier       string `json:"courier"`
	ExpectedCents int64  `json:"expected_cents"`
	ReceivedCents int64  `json:"received_cents"`
	VarianceCents int64  `json:"variance_cents"`
}

type ReconciliationReport struct {
	From          time.Time            `json:"from"`
	To            time.Time            `json:"to"`
	Courier       string               `json:"courier,omitempty"`
	Shipments     int                  `json:"shipments"`
	ExpectedCents int64                `json:"expected_cents"`
	ReceivedCents int64                `json:"received_cents"`
	VarianceCents int64                `json:"variance_cents"`
	Mismatches    int                  `json:"mismatches"`
	Lines         []ReconciliationLine `json:"lines"`
}

// Mismatch reports whether the batch needs review. It is informational and
// never stops the caller.
func (r ReconciliationReport) Mismatch() error {
	if r.Mismatches == 0 {
		return nil
	}
	return fmt.Errorf("%d shipments, variance %d cents: %w", r.Mismatches, r.VarianceCents, errs.ErrReconciliationMismatch)
}

// Mismatch is a reconciliation line parked for manual review.
type Mismatch struct {
	OrderID       string     `json:"order_id"`
	Courier       string     `json:"courier"`
	ExpectedCents int64      `json:"expected_cents"`
	ReceivedCents int64      `json:"received_cents"`
	VarianceCents int64      `json:"variance_cents"`
	DetectedAt    time.Time  `json:"detected_at"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
	Note          string     `json:"note,omitempty"`
}
