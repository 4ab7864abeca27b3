package finance

import (
	"context"
	"errors"
	"fmt"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/yahyahoussini6-jpg/kod-franco-sub000/internal/errs"
	"github.com/yahyahoussini6-jpg/kod-franco-sub000/internal/events"
	kafkax "github.com/yahyahoussini6-jpg/kod-franco-sub000/internal/kafka"
)

type Deduper interface {
	SeenBefore(ctx context.Context, id string) (bool, error)
	Forget(ctx context.Context, id string) error
}

// OrderResolver maps a courier tracking code to an order id.
type OrderResolver interface {
	OrderIDByTracking(ctx context.Context, code string) (string, error)
}

// Intake turns courier remittance messages into Remit calls.
type Intake struct {
	Finance *Service
	Orders  OrderResolver
	Dedup   Deduper // optional
}

// HandleRemittance: dipasang sebagai handler consumer. Malformed or
// unresolvable messages are logged and committed; only store failures are
// returned so the message is retried.
func (in *Intake) HandleRemittance(ctx context.Context, m kafkago.Message) error {
	log := in.Finance.Log.With().Int64("offset", m.Offset).Logger()

	// 1) decode envelope
	env, err := kafkax.UnmarshalEnvelope(m.Value)
	if err != nil {
		log.Warn().Err(err).Msg("skip undecodable remittance")
		return nil
	}
	if env.EventType != events.EventCODRemitted {
		return nil
	} // ignore

	// 2) dedup via Redis (pakai event_id)
	if in.Dedup != nil && env.EventID != "" {
		if seen, err := in.Dedup.SeenBefore(ctx, env.EventID); err == nil && seen {
			return nil
		}
	}

	err = in.apply(ctx, env)
	var verr *errs.ValidationError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &verr), errors.Is(err, errs.ErrNotFound):
		log.Warn().Err(err).Str("event_id", env.EventID).Msg("remittance rejected")
		return nil
	default:
		if in.Dedup != nil && env.EventID != "" {
			_ = in.Dedup.Forget(ctx, env.EventID)
		}
		return err
	}
}

func (in *Intake) apply(ctx context.Context, env events.Envelope) error {
	// 3) decode payload
	p, err := kafkax.UnwrapPayload[events.RemittancePayload](env.Payload)
	if err != nil {
		return errs.Invalid("payload", err.Error())
	}
	orderID := p.OrderID
	if orderID == "" && p.TrackingCode != "" {
		if in.Orders == nil {
			return errs.Invalid("order_id", "is required")
		}
		if orderID, err = in.Orders.OrderIDByTracking(ctx, p.TrackingCode); err != nil {
			return fmt.Errorf("resolve tracking %s: %w", p.TrackingCode, err)
		}
	}
	ref := p.Ref
	if ref == "" {
		ref = env.EventID
	}

	// 4) tulis remittance; ref yang sama diabaikan
	created, err := in.Finance.Remit(ctx, Remittance{
		Ref:         ref,
		OrderID:     orderID,
		Courier:     p.Courier,
		AmountCents: p.AmountCents,
		ReportedAt:  p.ReportedAt,
	})
	if err != nil {
		return err
	}
	if created {
		in.Finance.Log.Debug().Str("order_id", orderID).Str("courier", p.Courier).Int64("amount_cents", p.AmountCents).Msg("remittance recorded")
	}
	return nil
}
