package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/yahyahoussini6-jpg/kod-franco-sub000/internal/errs"
	"github.com/yahyahoussini6-jpg/kod-franco-sub000/internal/events"
	"github.com/yahyahoussini6-jpg/kod-franco-sub000/internal/finance"
	"github.com/yahyahoussini6-jpg/kod-franco-sub000/internal/inventory"
	"github.com/yahyahoussini6-jpg/kod-franco-sub000/internal/observability"
)

// Cache is the tracking-code read cache. Misses and failures fall back to
// the repository.
type Cache interface {
	Get(ctx context.Context, code string) ([]byte, bool, error)
	Set(ctx context.Context, code string, value []byte) error
	Delete(ctx context.Context, code string) error
}

// ReturnOpener opens the RTO case of an order entering retournee. It must be
// idempotent per order.
type ReturnOpener interface {
	OpenRTO(ctx context.Context, o Order) error
}

type Service struct {
	Repo      Repository
	Ledger    *inventory.Ledger
	Finance   *finance.Service
	Returns   ReturnOpener
	Cache     Cache
	Publisher events.Publisher
	Log       zerolog.Logger
	Name      string
	Now       func() time.Time

	tracking singleflight.Group
}

func NewService(repo Repository, ledger *inventory.Ledger, fin *finance.Service, pub events.Publisher, log zerolog.Logger, name string) *Service {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Service{
		Repo:      repo,
		Ledger:    ledger,
		Finance:   fin,
		Publisher: pub,
		Log:       log.With().Str("component", "orders").Logger(),
		Name:      name,
		Now:       func() time.Time { return time.Now().UTC() },
	}
}

type ItemInput struct {
	SKU     string   `json:"sku"`
	Qty     int      `json:"qty"`
	Variant *Variant `json:"variant,omitempty"`
}

type CreateInput struct {
	ExternalID string      `json:"external_id,omitempty"`
	Items      []ItemInput `json:"items"`
	Customer   Customer    `json:"customer"`
	Shipping   Shipping    `json:"shipping"`
}

func (in *CreateInput) validate() error {
	in.Customer.Name = strings.TrimSpace(in.Customer.Name)
	in.Customer.Phone = strings.TrimSpace(in.Customer.Phone)
	in.Shipping.City = strings.TrimSpace(in.Shipping.City)
	switch {
	case len(in.Items) == 0:
		return errs.Invalid("items", "must not be empty")
	case in.Customer.Name == "":
		return errs.Invalid("customer.name", "is required")
	case in.Customer.Phone == "":
		return errs.Invalid("customer.phone", "is required")
	case in.Shipping.City == "":
		return errs.Invalid("shipping.city", "is required")
	}
	switch in.Shipping.PaymentMethod {
	case "":
		in.Shipping.PaymentMethod = PaymentCOD
	case PaymentCOD, PaymentPrepaid:
	default:
		return errs.Invalid("shipping.payment_method", fmt.Sprintf("unknown payment method %q", in.Shipping.PaymentMethod))
	}
	seen := make(map[string]bool, len(in.Items))
	for i := range in.Items {
		it := &in.Items[i]
		it.SKU = strings.TrimSpace(it.SKU)
		if it.SKU == "" {
			return errs.Invalid("items.sku", "is required")
		}
		if it.Qty <= 0 {
			return errs.Invalid("items.qty", "must be positive for sku "+it.SKU)
		}
		if seen[it.SKU] {
			return errs.Invalid("items.sku", "duplicate sku "+it.SKU)
		}
		seen[it.SKU] = true
	}
	return nil
}

// Create reserves every line and stores the order in nouvelle. Prices come
// from the ledger. With an ExternalID already known the existing order is
// returned and existed is true.
func (s *Service) Create(ctx context.Context, in CreateInput) (Order, bool, error) {
	if err := in.validate(); err != nil {
		return Order{}, false, err
	}
	if in.ExternalID != "" {
		o, err := s.Repo.GetByExternalID(ctx, in.ExternalID)
		if err == nil {
			return o, true, nil
		}
		if !errors.Is(err, errs.ErrNotFound) {
			return Order{}, false, err
		}
	}

	// hitung total berdasarkan price dari ledger (hindari trust dari client)
	items := make([]OrderItem, 0, len(in.Items))
	lines := make([]inventory.Line, 0, len(in.Items))
	var total int64
	for _, it := range in.Items {
		rec, err := s.Ledger.Get(ctx, it.SKU)
		if errors.Is(err, errs.ErrNotFound) {
			return Order{}, false, errs.Invalid("items.sku", "unknown sku "+it.SKU)
		}
		if err != nil {
			return Order{}, false, err
		}
		line := OrderItem{SKU: it.SKU, Name: rec.Name, Category: rec.Category, Qty: it.Qty, UnitPriceCents: rec.PriceCents, Variant: it.Variant}
		items = append(items, line)
		lines = append(lines, inventory.Line{SKU: it.SKU, Qty: it.Qty})
		total += line.LineTotal()
	}

	now := s.Now()
	o := Order{
		ID:         uuid.NewString(),
		ExternalID: in.ExternalID,
		Status:     StatusNouvelle,
		Version:    1,
		Items:      items,
		TotalCents: total,
		Customer:   in.Customer,
		Shipping:   in.Shipping,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.Ledger.Reserve(ctx, o.ID, lines); err != nil {
		return Order{}, false, err
	}

	saved, existed, err := s.insert(ctx, o)
	if err != nil || existed {
		s.releaseDetached(ctx, o.ID)
	}
	if err != nil {
		return Order{}, false, fmt.Errorf("create order: %w", err)
	}
	if existed {
		return saved, true, nil
	}

	s.Log.Info().Str("order_id", saved.ID).Str("tracking_code", saved.TrackingCode).Int64("total_cents", saved.TotalCents).Msg("order created")
	s.publish(ctx, events.EventOrderCreated, saved.ID, events.OrderCreatedPayload{
		OrderID:      saved.ID,
		TrackingCode: saved.TrackingCode,
		ExternalID:   saved.ExternalID,
		TotalCents:   saved.TotalCents,
		City:         saved.Shipping.City,
		Courier:      saved.Shipping.Courier,
		Phone:        saved.Customer.Phone,
	})
	return saved, false, nil
}

func (s *Service) insert(ctx context.Context, o Order) (Order, bool, error) {
	for attempt := 0; ; attempt++ {
		o.TrackingCode = newTrackingCode(o.CreatedAt)
		saved, existed, err := s.Repo.Insert(ctx, o)
		if errors.Is(err, errTrackingTaken) && attempt < 3 {
			continue
		}
		return saved, existed, err
	}
}

// releaseDetached gives back a reservation even when the request context
// has already timed out.
func (s *Service) releaseDetached(ctx context.Context, orderID string) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if _, err := s.Ledger.Release(rctx, orderID); err != nil {
		s.Log.Error().Err(err).Str("order_id", orderID).Msg("release after failed create")
	}
}

func newTrackingCode(at time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return "KF" + at.Format("060102") + suffix
}

// Transition moves an order to target. Re-applying the current status is a
// success that re-runs the idempotent side effects of that status.
func (s *Service) Transition(ctx context.Context, orderID string, target Status) (Order, error) {
	if _, err := ParseStatus(string(target)); err != nil {
		return Order{}, err
	}
	cur, err := s.Repo.Get(ctx, orderID)
	if err != nil {
		return Order{}, err
	}

	if cur.Status == target {
		if err := s.applyEffects(ctx, cur); err != nil {
			return cur, err
		}
		return cur, nil
	}
	if !CanTransition(cur.Status, target) {
		observability.RecordTransition("order", string(cur.Status), string(target), "rejected")
		return Order{}, &errs.TransitionError{Entity: "order", From: string(cur.Status), To: string(target)}
	}

	next := cur.clone()
	next.Status = target
	now := s.Now()
	next.stamp(target, now)
	next.UpdatedAt = now
	saved, err := s.Repo.Update(ctx, next, cur.Version)
	if errors.Is(err, errs.ErrConcurrentModification) {
		observability.RecordTransition("order", string(cur.Status), string(target), "conflict")
		return Order{}, fmt.Errorf("order %s version %d: %w", orderID, cur.Version, err)
	}
	if err != nil {
		return Order{}, err
	}
	observability.RecordTransition("order", string(cur.Status), string(target), "ok")
	s.invalidate(ctx, saved.TrackingCode)

	s.Log.Info().Str("order_id", saved.ID).Str("from", string(cur.Status)).Str("to", string(target)).Int("version", saved.Version).Msg("order transition")
	s.publish(ctx, events.EventOrderStatusChanged, saved.ID, events.OrderStatusChangedPayload{
		OrderID:      saved.ID,
		TrackingCode: saved.TrackingCode,
		From:         string(cur.Status),
		To:           string(target),
		Version:      saved.Version,
		ChangedAt:    saved.UpdatedAt,
	})

	if err := s.applyEffects(ctx, saved); err != nil {
		// status is written; retrying the same target repairs the effect
		return saved, err
	}
	return saved, nil
}

func (s *Service) applyEffects(ctx context.Context, o Order) error {
	switch o.Status {
	case StatusExpediee:
		if _, err := s.Ledger.Commit(ctx, o.ID); err != nil {
			return err
		}
		if s.Finance != nil && o.TotalCents > 0 {
			_, _, err := s.Finance.RecordOnce(ctx, finance.RecordInput{
				OrderID:     o.ID,
				Type:        finance.TxSale,
				AmountCents: o.TotalCents,
				Note:        "shipped " + o.TrackingCode,
			})
			if err != nil {
				return fmt.Errorf("record sale %s: %w", o.ID, err)
			}
		}
	case StatusAnnulee:
		if _, err := s.Ledger.Release(ctx, o.ID); err != nil {
			return err
		}
	case StatusRetournee:
		if s.Returns != nil {
			if err := s.Returns.OpenRTO(ctx, o); err != nil {
				return fmt.Errorf("open rto %s: %w", o.ID, err)
			}
		}
	}
	return nil
}

const trackingLoadTimeout = 3 * time.Second

func (s *Service) Get(ctx context.Context, id string) (Order, error) {
	return s.Repo.Get(ctx, id)
}

func (s *Service) CheckOrder(ctx context.Context, id string) error {
	_, err := s.Repo.Get(ctx, id)
	return err
}

// GetByTrackingCode reads through the cache. Concurrent misses for the same
// code share one repository read.
func (s *Service) GetByTrackingCode(ctx context.Context, code string) (Order, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Order{}, errs.Invalid("tracking_code", "is required")
	}
	if s.Cache != nil {
		if b, ok, err := s.Cache.Get(ctx, code); err != nil {
			s.Log.Warn().Err(err).Msg("tracking cache read")
		} else if ok {
			var o Order
			if err := json.Unmarshal(b, &o); err == nil {
				return o, nil
			}
		}
	}

	// shared by every waiter, so it must outlive the caller that started it
	v, err, _ := s.tracking.Do(code, func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), trackingLoadTimeout)
		defer cancel()
		o, err := s.Repo.GetByTrackingCode(lctx, code)
		if err != nil {
			return Order{}, err
		}
		if s.Cache != nil {
			if b, err := json.Marshal(o); err == nil {
				if err := s.Cache.Set(lctx, code, b); err != nil {
					s.Log.Warn().Err(err).Msg("tracking cache write")
				}
			}
		}
		return o, nil
	})
	if err != nil {
		return Order{}, err
	}
	return v.(Order).clone(), nil
}

// OrderIDByTracking resolves courier references for remittance intake.
func (s *Service) OrderIDByTracking(ctx context.Context, code string) (string, error) {
	o, err := s.GetByTrackingCode(ctx, code)
	if err != nil {
		return "", err
	}
	return o.ID, nil
}

func (s *Service) ListCreatedBetween(ctx context.Context, from, to time.Time) ([]Order, error) {
	return s.Repo.ListCreatedBetween(ctx, from, to)
}

// AgedShipments lists orders still expediee whose ShippedAt is more than
// thresholdDays before now, oldest first.
func (s *Service) AgedShipments(ctx context.Context, thresholdDays int, now time.Time) ([]AgedShipment, error) {
	if thresholdDays < 0 {
		return nil, errs.Invalid("days", "must not be negative")
	}
	shipped, err := s.Repo.ListByStatus(ctx, StatusExpediee)
	if err != nil {
		return nil, err
	}
	cutoff := now.Add(-time.Duration(thresholdDays) * 24 * time.Hour)
	out := make([]AgedShipment, 0)
	for _, o := range shipped {
		if o.ShippedAt == nil || !o.ShippedAt.Before(cutoff) {
			continue
		}
		out = append(out, AgedShipment{
			OrderID:       o.ID,
			TrackingCode:  o.TrackingCode,
			City:          o.Shipping.City,
			Courier:       o.Shipping.Courier,
			CustomerPhone: o.Customer.Phone,
			ShippedAt:     *o.ShippedAt,
			DaysInTransit: int(now.Sub(*o.ShippedAt).Hours() / 24),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ShippedAt.Equal(out[j].ShippedAt) {
			return out[i].ShippedAt.Before(out[j].ShippedAt)
		}
		return out[i].OrderID < out[j].OrderID
	})
	return out, nil
}

// DeliveredShipments feeds COD reconciliation.
func (s *Service) DeliveredShipments(ctx context.Context, from, to time.Time, courier string) ([]finance.Shipment, error) {
	delivered, err := s.Repo.ListDeliveredBetween(ctx, from, to, courier)
	if err != nil {
		return nil, err
	}
	out := make([]finance.Shipment, 0, len(delivered))
	for _, o := range delivered {
		out = append(out, finance.Shipment{
			OrderID:       o.ID,
			TrackingCode:  o.TrackingCode,
			Courier:       o.Shipping.Courier,
			PaymentMethod: string(o.Shipping.PaymentMethod),
			DeliveredAt:   *o.DeliveredAt,
		})
	}
	return out, nil
}

func (s *Service) invalidate(ctx context.Context, code string) {
	if s.Cache == nil {
		return
	}
	if err := s.Cache.Delete(ctx, code); err != nil {
		s.Log.Warn().Err(err).Str("tracking_code", code).Msg("tracking cache invalidate")
	}
}

func (s *Service) publish(ctx context.Context, eventType, orderID string, payload any) {
	env, err := events.New(eventType, s.Name, orderID, payload)
	if err != nil {
		s.Log.Error().Err(err).Msg("build event")
		return
	}
	if err := s.Publisher.Publish(ctx, events.TopicOrderLifecycle, env); err != nil {
		s.Log.Warn().Err(err).Str("order_id", orderID).Str("event_type", eventType).Msg("publish event")
	}
}
