package finance

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/yahyahoussini6-jpg/kod-franco-sub000/internal/errs"
)

type MemoryStore struct {
	mu         sync.RWMutex
	txs        []Transaction
	once       map[string]int // onceKey -> index in txs
	remits     []Remittance
	remitRefs  map[string]bool
	mismatches map[string]*Mismatch
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		once:       make(map[string]int),
		remitRefs:  make(map[string]bool),
		mismatches: make(map[string]*Mismatch),
	}
}

func (s *MemoryStore) Insert(_ context.Context, tx Transaction, onceKey string) (Transaction, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if onceKey != "" {
		if i, ok := s.once[onceKey]; ok {
			return s.txs[i], false, nil
		}
		s.once[onceKey] = len(s.txs)
	}
	s.txs = append(s.txs, tx)
	return tx, true, nil
}

func (s *MemoryStore) ListByOrder(_ context.Context, orderID string) ([]Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Transaction
	for _, tx := range s.txs {
		if tx.OrderID == orderID {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListByOrders(_ context.Context, orderIDs []string) ([]Transaction, error) {
	want := toSet(orderIDs)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Transaction
	for _, tx := range s.txs {
		if want[tx.OrderID] {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListBetween(_ context.Context, from, to time.Time) ([]Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Transaction
	for _, tx := range s.txs {
		if !tx.CreatedAt.Before(from) && tx.CreatedAt.Before(to) {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (s *MemoryStore) AddRemittance(_ context.Context, r Remittance) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.Ref != "" && s.remitRefs[r.Ref] {
		return false, nil
	}
	if r.Ref != "" {
		s.remitRefs[r.Ref] = true
	}
	s.remits = append(s.remits, r)
	return true, nil
}

func (s *MemoryStore) RemittancesByOrders(_ context.Context, orderIDs []string) ([]Remittance, error) {
	want := toSet(orderIDs)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Remittance
	for _, r := range s.remits {
		if want[r.OrderID] {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *MemoryStore) UpsertMismatch(_ context.Context, m Mismatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.mismatches[m.OrderID]; ok && cur.ResolvedAt == nil {
		// keep the first detection time of an open case
		m.DetectedAt = cur.DetectedAt
	}
	s.mismatches[m.OrderID] = &m
	return nil
}

func (s *MemoryStore) Mismatches(_ context.Context, openOnly bool) ([]Mismatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Mismatch, 0, len(s.mismatches))
	for _, m := range s.mismatches {
		if openOnly && m.ResolvedAt != nil {
			continue
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out, nil
}

func (s *MemoryStore) ResolveMismatch(_ context.Context, orderID, note string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mismatches[orderID]
	if !ok || m.ResolvedAt != nil {
		return errs.NotFound("open mismatch", orderID)
	}
	m.ResolvedAt = &at
	m.Note = note
	return nil
}

func toSet(ids []string) map[string]bool {
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out
}
