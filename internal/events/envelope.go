package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	EventOrderCreated        = "OrderCreated"
	EventOrderStatusChanged  = "OrderStatusChanged"
	EventReturnOpened        = "ReturnOpened"
	EventReturnStatusChanged = "ReturnStatusChanged"
	EventStockLow            = "StockLow"
	EventCODMismatch         = "CODMismatch"
	EventCODRemitted         = "CODRemitted"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order_id for everything order-scoped
	Payload       json.RawMessage `json:"payload"`
}

// New wraps payload in a v1 envelope.
func New(eventType, producer, correlationID string, payload any) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		CorrelationID: correlationID,
		Payload:       b,
	}, nil
}

// Publisher hands an envelope to the transport. Implementations must not block
// on broker availability; lifecycle commands do not fail because of events.
type Publisher interface {
	Publish(ctx context.Context, topic string, env Envelope) error
}

type Nop struct{}

func (Nop) Publish(context.Context, string, Envelope) error { return nil }

// Recorder keeps published envelopes in memory.
type Recorder struct {
	mu   sync.Mutex
	sent []Published
}

type Published struct {
	Topic    string
	Envelope Envelope
}

func (r *Recorder) Publish(_ context.Context, topic string, env Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, Published{Topic: topic, Envelope: env})
	return nil
}

func (r *Recorder) Events() []Published {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Published, len(r.sent))
	copy(out, r.sent)
	return out
}

// Types returns the event types seen, in publish order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.sent))
	for _, p := range r.sent {
		out = append(out, p.Envelope.EventType)
	}
	return out
}

// ---- payloads ----

type OrderCreatedPayload struct {
	OrderID      string `json:"order_id"`
	TrackingCode string `json:"tracking_code"`
	ExternalID   string `json:"external_id,omitempty"`
	TotalCents   int64  `json:"total_cents"`
	City         string `json:"city"`
	Courier      string `json:"courier,omitempty"`
	Phone        string `json:"phone"`
}

type OrderStatusChangedPayload struct {
	OrderID      string    `json:"order_id"`
	TrackingCode string    `json:"tracking_code"`
	From         string    `json:"from"`
	To           string    `json:"to"`
	Version      int       `json:"version"`
	ChangedAt    time.Time `json:"changed_at"`
}

type ReturnPayload struct {
	ReturnID   string `json:"return_id"`
	ReturnCode string `json:"return_code"`
	OrderID    string `json:"order_id"`
	Type       string `json:"type"`
	From       string `json:"from,omitempty"`
	Status     string `json:"status"`
}

type StockLowPayload struct {
	SKU           string `json:"sku"`
	Available     int    `json:"available"`
	MinStockLevel int    `json:"min_stock_level"`
}

type CODMismatchPayload struct {
	OrderID       string `json:"order_id"`
	Courier       string `json:"courier"`
	ExpectedCents int64  `json:"expected_cents"`
	ReceivedCents int64  `json:"received_cents"`
	VarianceCents int64  `json:"variance_cents"`
}

// RemittancePayload is sent by courier integrations. TrackingCode is used
// when the courier does not know our order id.
type RemittancePayload struct {
	Ref          string    `json:"ref"`
	OrderID      string    `json:"order_id,omitempty"`
	TrackingCode string    `json:"tracking_code,omitempty"`
	Courier      string    `json:"courier"`
	AmountCents  int64     `json:"amount_cents"`
	ReportedAt   time.Time `json:"reported_at"`
}
