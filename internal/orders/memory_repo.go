package orders

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/yahyahoussini6-jpg/kod-franco-sub000/internal/errs"
)

type MemoryRepo struct {
	mu         sync.RWMutex
	byID       map[string]Order
	byTracking map[string]string
	byExternal map[string]string
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		byID:       make(map[string]Order),
		byTracking: make(map[string]string),
		byExternal: make(map[string]string),
	}
}

func (r *MemoryRepo) Insert(_ context.Context, o Order) (Order, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o.ExternalID != "" {
		if id, ok := r.byExternal[o.ExternalID]; ok {
			return r.byID[id].clone(), true, nil
		}
	}
	if _, ok := r.byTracking[o.TrackingCode]; ok {
		return Order{}, false, errTrackingTaken
	}
	o = o.clone()
	r.byID[o.ID] = o
	r.byTracking[o.TrackingCode] = o.ID
	if o.ExternalID != "" {
		r.byExternal[o.ExternalID] = o.ID
	}
	return o.clone(), false, nil
}

func (r *MemoryRepo) Get(_ context.Context, id string) (Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.byID[id]
	if !ok {
		return Order{}, errs.NotFound("order", id)
	}
	return o.clone(), nil
}

func (r *MemoryRepo) GetByTrackingCode(ctx context.Context, code string) (Order, error) {
	r.mu.RLock()
	id, ok := r.byTracking[code]
	r.mu.RUnlock()
	if !ok {
		return Order{}, errs.NotFound("tracking code", code)
	}
	return r.Get(ctx, id)
}

func (r *MemoryRepo) GetByExternalID(ctx context.Context, externalID string) (Order, error) {
	r.mu.RLock()
	id, ok := r.byExternal[externalID]
	r.mu.RUnlock()
	if !ok {
		return Order{}, errs.NotFound("external id", externalID)
	}
	return r.Get(ctx, id)
}

func (r *MemoryRepo) Update(_ context.Context, o Order, expectedVersion int) (Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.byID[o.ID]
	if !ok {
		return Order{}, errs.NotFound("order", o.ID)
	}
	if cur.Version != expectedVersion {
		return Order{}, errs.ErrConcurrentModification
	}
	cur.Status = o.Status
	cur.ConfirmedAt, cur.PackedAt, cur.ShippedAt = o.ConfirmedAt, o.PackedAt, o.ShippedAt
	cur.DeliveredAt, cur.CancelledAt, cur.ReturnedAt = o.DeliveredAt, o.CancelledAt, o.ReturnedAt
	cur.UpdatedAt = o.UpdatedAt
	cur.Version = expectedVersion + 1
	r.byID[o.ID] = cur
	return cur.clone(), nil
}

func (r *MemoryRepo) ListCreatedBetween(_ context.Context, from, to time.Time) ([]Order, error) {
	return r.filter(func(o Order) bool { return !o.CreatedAt.Before(from) && o.CreatedAt.Before(to) }), nil
}

func (r *MemoryRepo) ListByStatus(_ context.Context, status Status) ([]Order, error) {
	return r.filter(func(o Order) bool { return o.Status == status }), nil
}

func (r *MemoryRepo) ListDeliveredBetween(_ context.Context, from, to time.Time, courier string) ([]Order, error) {
	return r.filter(func(o Order) bool {
		if o.Status != StatusLivree || o.DeliveredAt == nil {
			return false
		}
		if courier != "" && o.Shipping.Courier != courier {
			return false
		}
		return !o.DeliveredAt.Before(from) && o.DeliveredAt.Before(to)
	}), nil
}

func (r *MemoryRepo) filter(keep func(Order) bool) []Order {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Order
	for _, o := range r.byID {
		if keep(o) {
			out = append(out, o.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
