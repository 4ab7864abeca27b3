package finance

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/yahyahoussini6-jpg/kod-franco-sub000/internal/errs"
	"github.com/yahyahoussini6-jpg/kod-franco-sub000/internal/events"
	"github.com/yahyahoussini6-jpg/kod-franco-sub000/internal/observability"
)

// ShipmentSource lists delivered orders for a reconciliation batch.
type ShipmentSource interface {
	DeliveredShipments(ctx context.Context, from, to time.Time, courier string) ([]Shipment, error)
}

// OrderChecker returns errs.ErrNotFound for an unknown order.
type OrderChecker interface {
	CheckOrder(ctx context.Context, id string) error
}

type Service struct {
	Store     Store
	Shipments ShipmentSource
	Orders    OrderChecker // optional; when set Record rejects unknown orders
	Publisher events.Publisher
	Log       zerolog.Logger
	Name      string
	Now       func() time.Time
}

func NewService(store Store, pub events.Publisher, log zerolog.Logger, name string) *Service {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Service{
		Store:     store,
		Publisher: pub,
		Log:       log.With().Str("component", "finance").Logger(),
		Name:      name,
		Now:       func() time.Time { return time.Now().UTC() },
	}
}

type RecordInput struct {
	OrderID     string   `json:"order_id"`
	Type        TxType   `json:"type"`
	AmountCents int64    `json:"amount_cents"`
	Status      TxStatus `json:"status,omitempty"`
	Note        string   `json:"note,omitempty"`
}

// Record appends a signed transaction to an existing order.
func (s *Service) Record(ctx context.Context, in RecordInput) (Transaction, error) {
	tx, err := s.build(in)
	if err != nil {
		return Transaction{}, err
	}
	if s.Orders != nil {
		if err := s.Orders.CheckOrder(ctx, in.OrderID); err != nil {
			return Transaction{}, fmt.Errorf("record %s: %w", in.Type, err)
		}
	}
	saved, _, err := s.Store.Insert(ctx, tx, "")
	if err != nil {
		return Transaction{}, err
	}
	return saved, nil
}

// RecordOnce appends at most one transaction of the given type per order.
func (s *Service) RecordOnce(ctx context.Context, in RecordInput) (Transaction, bool, error) {
	return s.RecordKeyed(ctx, in, in.OrderID+":"+string(in.Type))
}

// RecordKeyed appends at most one transaction per key. The first one is
// returned, with created=false, on every later call.
func (s *Service) RecordKeyed(ctx context.Context, in RecordInput, key string) (Transaction, bool, error) {
	if strings.TrimSpace(key) == "" {
		return Transaction{}, false, errs.Invalid("key", "is required")
	}
	tx, err := s.build(in)
	if err != nil {
		return Transaction{}, false, err
	}
	return s.Store.Insert(ctx, tx, key)
}

func (s *Service) build(in RecordInput) (Transaction, error) {
	if strings.TrimSpace(in.OrderID) == "" {
		return Transaction{}, errs.Invalid("order_id", "is required")
	}
	if err := CheckSign(in.Type, in.AmountCents); err != nil {
		return Transaction{}, err
	}
	status := in.Status
	switch status {
	case "":
		status = StatusPosted
	case StatusPosted, StatusPending:
	default:
		return Transaction{}, errs.Invalid("status", fmt.Sprintf("unknown status %q", status))
	}
	return Transaction{
		ID:          uuid.NewString(),
		OrderID:     in.OrderID,
		Type:        in.Type,
		AmountCents: in.AmountCents,
		Status:      status,
		Note:        in.Note,
		CreatedAt:   s.Now(),
	}, nil
}

func (s *Service) ListByOrder(ctx context.Context, orderID string) ([]Transaction, error) {
	return s.Store.ListByOrder(ctx, orderID)
}

func (s *Service) ListByOrders(ctx context.Context, orderIDs []string) ([]Transaction, error) {
	return s.Store.ListByOrders(ctx, orderIDs)
}

// ListBetween returns transactions created in [from, to).
func (s *Service) ListBetween(ctx context.Context, from, to time.Time) ([]Transaction, error) {
	if !from.Before(to) {
		return nil, errs.Invalid("range", "from must be before to")
	}
	return s.Store.ListBetween(ctx, from, to)
}

// NetRevenue sums the posted transactions of an order.
func (s *Service) NetRevenue(ctx context.Context, orderID string) (int64, error) {
	txs, err := s.Store.ListByOrder(ctx, orderID)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, tx := range txs {
		if tx.Status == StatusPosted {
			total += tx.AmountCents
		}
	}
	return total, nil
}

// Refundable is what can still be refunded for an order: its sale amount
// less refunds already recorded.
func (s *Service) Refundable(ctx context.Context, orderID string) (int64, error) {
	txs, err := s.Store.ListByOrder(ctx, orderID)
	if err != nil {
		return 0, err
	}
	var sale, refunded int64
	for _, tx := range txs {
		switch tx.Type {
		case TxSale:
			sale += tx.AmountCents
		case TxRefund:
			refunded -= tx.AmountCents
		}
	}
	if left := sale - refunded; left > 0 {
		return left, nil
	}
	return 0, nil
}

// Remit stores a courier remittance line. Lines with a Ref already seen are
// ignored and reported as created=false.
func (s *Service) Remit(ctx context.Context, r Remittance) (bool, error) {
	switch {
	case strings.TrimSpace(r.OrderID) == "":
		return false, errs.Invalid("order_id", "is required")
	case r.AmountCents < 0:
		return false, errs.Invalid("amount_cents", "must not be negative")
	}
	if r.ReportedAt.IsZero() {
		r.ReportedAt = s.Now()
	}
	return s.Store.AddRemittance(ctx, r)
}

// ReconcileCOD compares, over COD orders delivered in [from, to), what the
// couriers were due to collect with what they reported as remitted. Every
// non-zero line is parked as a Mismatch; nothing is auto-corrected.
func (s *Service) ReconcileCOD(ctx context.Context, from, to time.Time, courier string) (ReconciliationReport, error) {
	if !from.Before(to) {
		return ReconciliationReport{}, errs.Invalid("range", "from must be before to")
	}
	if s.Shipments == nil {
		return ReconciliationReport{}, fmt.Errorf("reconcile: no shipment source configured")
	}
	ships, err := s.Shipments.DeliveredShipments(ctx, from, to, courier)
	if err != nil {
		return ReconciliationReport{}, fmt.Errorf("load shipments: %w", err)
	}

	cod := make([]Shipment, 0, len(ships))
	ids := make([]string, 0, len(ships))
	for _, sh := range ships {
		if sh.PaymentMethod != "" && sh.PaymentMethod != "cod" {
			continue
		}
		cod = append(cod, sh)
		ids = append(ids, sh.OrderID)
	}
	sort.Slice(cod, func(i, j int) bool { return cod[i].OrderID < cod[j].OrderID })

	txs, err := s.Store.ListByOrders(ctx, ids)
	if err != nil {
		return ReconciliationReport{}, err
	}
	remits, err := s.Store.RemittancesByOrders(ctx, ids)
	if err != nil {
		return ReconciliationReport{}, err
	}

	expected := make(map[string]int64, len(cod))
	for _, tx := range txs {
		if customerFacing[tx.Type] && tx.Status == StatusPosted {
			expected[tx.OrderID] += tx.AmountCents
		}
	}
	received := make(map[string]int64, len(cod))
	for _, r := range remits {
		received[r.OrderID] += r.AmountCents
	}

	rep := ReconciliationReport{From: from, To: to, Courier: courier, Shipments: len(cod), Lines: make([]ReconciliationLine, 0, len(cod))}
	now := s.Now()
	for _, sh := range cod {
		line := ReconciliationLine{
			OrderID:       sh.OrderID,
			TrackingCode:  sh.TrackingCode,
			Courier:       sh.Courier,
			ExpectedCents: expected[sh.OrderID],
			ReceivedCents: received[sh.OrderID],
		}
		line.VarianceCents = line.ExpectedCents - line.ReceivedCents
		rep.ExpectedCents += line.ExpectedCents
		rep.ReceivedCents += line.ReceivedCents
		rep.Lines = append(rep.Lines, line)

		if line.VarianceCents == 0 {
			continue
		}
		rep.Mismatches++
		if err := s.flag(ctx, line, now); err != nil {
			return ReconciliationReport{}, err
		}
	}
	rep.VarianceCents = rep.ExpectedCents - rep.ReceivedCents
	observability.RecordCODVariance(courier, rep.VarianceCents)

	if err := rep.Mismatch(); err != nil {
		s.Log.Warn().Err(err).Time("from", from).Time("to", to).Str("courier", courier).Msg("cod reconciliation variance")
	}
	return rep, nil
}

func (s *Service) flag(ctx context.Context, line ReconciliationLine, now time.Time) error {
	err := s.Store.UpsertMismatch(ctx, Mismatch{
		OrderID:       line.OrderID,
		Courier:       line.Courier,
		ExpectedCents: line.ExpectedCents,
		ReceivedCents: line.ReceivedCents,
		VarianceCents: line.VarianceCents,
		DetectedAt:    now,
	})
	if err != nil {
		return fmt.Errorf("record mismatch %s: %w", line.OrderID, err)
	}
	env, err := events.New(events.EventCODMismatch, s.Name, line.OrderID, events.CODMismatchPayload{
		OrderID:       line.OrderID,
		Courier:       line.Courier,
		ExpectedCents: line.ExpectedCents,
		ReceivedCents: line.ReceivedCents,
		VarianceCents: line.VarianceCents,
	})
	if err == nil {
		if err := s.Publisher.Publish(ctx, events.TopicFinance, env); err != nil {
			s.Log.Warn().Err(err).Str("order_id", line.OrderID).Msg("publish cod mismatch")
		}
	}
	return nil
}

func (s *Service) Mismatches(ctx context.Context, openOnly bool) ([]Mismatch, error) {
	return s.Store.Mismatches(ctx, openOnly)
}

// ResolveMismatch closes a reviewed case. The variance itself stays in the
// next report until the cash or the ledger catches up.
func (s *Service) ResolveMismatch(ctx context.Context, orderID, note string) error {
	if strings.TrimSpace(note) == "" {
		return errs.Invalid("note", "is required")
	}
	return s.Store.ResolveMismatch(ctx, orderID, note, s.Now())
}
