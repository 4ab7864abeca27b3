package inventory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/yahyahoussini6-jpg/kod-franco-sub000/internal/errs"
)

// MemoryStore keeps the ledger in process. Each SKU has its own mutex;
// multi-SKU calls take them in sorted order so concurrent orders over
// overlapping SKUs cannot deadlock, and calls on disjoint SKUs never wait
// on each other.
type MemoryStore struct {
	mu    sync.RWMutex // guards items and locks maps, not the item fields
	items map[string]*Item
	locks map[string]*sync.Mutex

	logMu sync.Mutex // guards holds, moves and seq
	holds map[string]map[string]*Hold // orderID -> sku -> hold
	moves []Movement
	seq   int64

	now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[string]*Item),
		locks: make(map[string]*sync.Mutex),
		holds: make(map[string]map[string]*Hold),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Register(_ context.Context, item Item) (Item, error) {
	item.SKU = strings.TrimSpace(item.SKU)
	if item.SKU == "" {
		return Item{}, errs.Invalid("sku", "is required")
	}

	s.mu.Lock()
	cur, ok := s.items[item.SKU]
	if !ok {
		cur = &Item{SKU: item.SKU}
		s.items[item.SKU] = cur
		s.locks[item.SKU] = &sync.Mutex{}
	}
	lock := s.locks[item.SKU]
	s.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()
	cur.Name = item.Name
	cur.Category = item.Category
	cur.PriceCents = item.PriceCents
	cur.MinStockLevel = item.MinStockLevel
	cur.UpdatedAt = s.now()
	return *cur, nil
}

func (s *MemoryStore) Get(_ context.Context, sku string) (Item, error) {
	item, lock, err := s.lookup(sku)
	if err != nil {
		return Item{}, err
	}
	lock.Lock()
	defer lock.Unlock()
	return *item, nil
}

func (s *MemoryStore) List(ctx context.Context) ([]Item, error) {
	s.mu.RLock()
	skus := make([]string, 0, len(s.items))
	for sku := range s.items {
		skus = append(skus, sku)
	}
	s.mu.RUnlock()
	sort.Strings(skus)

	out := make([]Item, 0, len(skus))
	for _, sku := range skus {
		it, err := s.Get(ctx, sku)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, nil
}

func (s *MemoryStore) Reserve(_ context.Context, orderID string, lines []Line) error {
	lines = mergeLines(lines)
	for _, l := range lines {
		if l.Qty <= 0 {
			return errs.Invalid("qty", "must be positive for sku "+l.SKU)
		}
	}
	skus := make([]string, 0, len(lines))
	for _, l := range lines {
		skus = append(skus, l.SKU)
	}

	unlock, items, err := s.lockAll(skus)
	if err != nil {
		return err
	}
	defer unlock()

	s.logMu.Lock()
	_, already := s.holds[orderID]
	s.logMu.Unlock()
	if already {
		return nil
	}

	for _, l := range lines {
		it := items[l.SKU]
		if it.Available() < l.Qty {
			return &errs.InsufficientStockError{SKU: l.SKU, Requested: l.Qty, Available: it.Available()}
		}
	}

	now := s.now()
	s.logMu.Lock()
	defer s.logMu.Unlock()
	byOrder := make(map[string]*Hold, len(lines))
	for _, l := range lines {
		it := items[l.SKU]
		it.Reserved += l.Qty
		it.UpdatedAt = now
		byOrder[l.SKU] = &Hold{OrderID: orderID, SKU: l.SKU, Qty: l.Qty, Status: HoldReserved}
		s.appendLocked(Movement{SKU: l.SKU, Reason: ReasonReserve, Delta: l.Qty, OrderID: orderID, CreatedAt: now})
	}
	s.holds[orderID] = byOrder
	return nil
}

func (s *MemoryStore) Release(_ context.Context, orderID string) ([]Movement, error) {
	return s.settle(orderID, HoldReleased)
}

func (s *MemoryStore) Commit(_ context.Context, orderID string) ([]Movement, error) {
	return s.settle(orderID, HoldCommitted)
}

// settle moves every outstanding hold of an order to the given final status.
func (s *MemoryStore) settle(orderID string, to HoldStatus) ([]Movement, error) {
	s.logMu.Lock()
	var skus []string
	for sku, h := range s.holds[orderID] {
		if h.Status == HoldReserved {
			skus = append(skus, sku)
		}
	}
	s.logMu.Unlock()
	if len(skus) == 0 {
		return nil, nil
	}

	unlock, items, err := s.lockAll(skus)
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := s.now()
	s.logMu.Lock()
	defer s.logMu.Unlock()
	var out []Movement
	for _, sku := range sortedCopy(skus) {
		h := s.holds[orderID][sku]
		if h.Status != HoldReserved {
			continue // settled by a concurrent call while we waited on the lock
		}
		it := items[sku]
		reason := ReasonRelease
		it.Reserved -= h.Qty
		if to == HoldCommitted {
			reason = ReasonCommit
			it.StockOnHand -= h.Qty
		}
		it.UpdatedAt = now
		h.Status = to
		out = append(out, s.appendLocked(Movement{SKU: sku, Reason: reason, Delta: h.Qty, OrderID: orderID, CreatedAt: now}))
	}
	return out, nil
}

func (s *MemoryStore) Restock(_ context.Context, sku string, qty int, orderID, note string) (Movement, error) {
	if qty <= 0 {
		return Movement{}, errs.Invalid("qty", "must be positive")
	}
	item, lock, err := s.lookup(sku)
	if err != nil {
		return Movement{}, err
	}
	lock.Lock()
	defer lock.Unlock()

	now := s.now()
	item.StockOnHand += qty
	item.UpdatedAt = now

	s.logMu.Lock()
	defer s.logMu.Unlock()
	return s.appendLocked(Movement{SKU: sku, Reason: ReasonRestock, Delta: qty, OrderID: orderID, Note: note, CreatedAt: now}), nil
}

func (s *MemoryStore) Adjust(_ context.Context, sku string, delta int, note string) (Movement, error) {
	if delta == 0 {
		return Movement{}, errs.Invalid("delta", "must not be zero")
	}
	item, lock, err := s.lookup(sku)
	if err != nil {
		return Movement{}, err
	}
	lock.Lock()
	defer lock.Unlock()

	if item.StockOnHand+delta < item.Reserved {
		return Movement{}, errs.Invalid("delta", "would drop stock on hand below reserved")
	}
	now := s.now()
	item.StockOnHand += delta
	item.UpdatedAt = now

	s.logMu.Lock()
	defer s.logMu.Unlock()
	return s.appendLocked(Movement{SKU: sku, Reason: ReasonAdjust, Delta: delta, Note: note, CreatedAt: now}), nil
}

func (s *MemoryStore) Movements(_ context.Context, sku string) ([]Movement, error) {
	if _, _, err := s.lookup(sku); err != nil {
		return nil, err
	}
	s.logMu.Lock()
	defer s.logMu.Unlock()
	var out []Movement
	for _, m := range s.moves {
		if m.SKU == sku {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *MemoryStore) Holds(_ context.Context, orderID string) ([]Hold, error) {
	s.logMu.Lock()
	defer s.logMu.Unlock()
	out := make([]Hold, 0, len(s.holds[orderID]))
	for _, h := range s.holds[orderID] {
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return out, nil
}

func (s *MemoryStore) appendLocked(m Movement) Movement {
	s.seq++
	m.ID = s.seq
	s.moves = append(s.moves, m)
	return m
}

func (s *MemoryStore) lookup(sku string) (*Item, *sync.Mutex, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[sku]
	if !ok {
		return nil, nil, errs.NotFound("sku", sku)
	}
	return item, s.locks[sku], nil
}

// lockAll takes the per-SKU locks in sorted order.
func (s *MemoryStore) lockAll(skus []string) (func(), map[string]*Item, error) {
	sorted := sortedCopy(skus)
	items := make(map[string]*Item, len(sorted))
	locks := make([]*sync.Mutex, 0, len(sorted))

	s.mu.RLock()
	for _, sku := range sorted {
		it, ok := s.items[sku]
		if !ok {
			s.mu.RUnlock()
			return nil, nil, errs.NotFound("sku", sku)
		}
		items[sku] = it
		locks = append(locks, s.locks[sku])
	}
	s.mu.RUnlock()

	for _, l := range locks {
		l.Lock()
	}
	unlock := func() {
		for i := len(locks) - 1; i >= 0; i-- {
			locks[i].Unlock()
		}
	}
	return unlock, items, nil
}

func sortedCopy(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	sort.Strings(out)
	return out
}
