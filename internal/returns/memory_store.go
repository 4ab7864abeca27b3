package returns

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/yahyahoussini6-jpg/kod-franco-sub000/internal/errs"
)

type MemoryStore struct {
	mu     sync.RWMutex
	byID   map[string]Return
	byCode map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]Return), byCode: make(map[string]string)}
}

func (s *MemoryStore) Insert(_ context.Context, r Return) (Return, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.Type == TypeRTO {
		for _, cur := range s.byID {
			if cur.OrderID == r.OrderID && cur.Type == TypeRTO {
				return cur.clone(), true, nil
			}
		}
	}
	r = r.clone()
	s.byID[r.ID] = r
	s.byCode[r.ReturnCode] = r.ID
	return r.clone(), false, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Return, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.byID[id]
	if !ok {
		return Return{}, errs.NotFound("return", id)
	}
	return r.clone(), nil
}

func (s *MemoryStore) GetByCode(ctx context.Context, code string) (Return, error) {
	s.mu.RLock()
	id, ok := s.byCode[code]
	s.mu.RUnlock()
	if !ok {
		return Return{}, errs.NotFound("return code", code)
	}
	return s.Get(ctx, id)
}

func (s *MemoryStore) ListByOrder(_ context.Context, orderID string) ([]Return, error) {
	return s.filter(func(r Return) bool { return r.OrderID == orderID }), nil
}

func (s *MemoryStore) ListCreatedBetween(_ context.Context, from, to time.Time) ([]Return, error) {
	return s.filter(func(r Return) bool { return !r.CreatedAt.Before(from) && r.CreatedAt.Before(to) }), nil
}

func (s *MemoryStore) Update(_ context.Context, r Return, expectedVersion int) (Return, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.byID[r.ID]
	if !ok {
		return Return{}, errs.NotFound("return", r.ID)
	}
	if cur.Version != expectedVersion {
		return Return{}, errs.ErrConcurrentModification
	}
	cur.Status = r.Status
	cur.RefundAmountCents = r.RefundAmountCents
	cur.UpdatedAt = r.UpdatedAt
	cur.Version = expectedVersion + 1
	s.byID[r.ID] = cur
	return cur.clone(), nil
}

func (s *MemoryStore) filter(keep func(Return) bool) []Return {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Return
	for _, r := range s.byID {
		if keep(r) {
			out = append(out, r.clone())
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
