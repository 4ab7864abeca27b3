package orders

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yahyahoussini6-jpg/kod-franco-sub000/internal/errs"
	"github.com/yahyahoussini6-jpg/kod-franco-sub000/internal/events"
	"github.com/yahyahoussini6-jpg/kod-franco-sub000/internal/finance"
	"github.com/yahyahoussini6-jpg/kod-franco-sub000/internal/inventory"
	"github.com/yahyahoussini6-jpg/kod-franco-sub000/internal/redisx"
)

type fixture struct {
	svc    *Service
	ledger *inventory.Ledger
	fin    *finance.Service
	rec    *events.Recorder
	clock  *clock
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func setup(t *testing.T, repo Repository) *fixture {
	t.Helper()
	ctx := context.Background()
	rec := &events.Recorder{}
	ledger := inventory.NewLedger(inventory.NewMemoryStore(), rec, zerolog.Nop(), "test")
	for _, it := range []inventory.Item{
		{SKU: "CAFTAN-M", Name: "Caftan", Category: "caftans", PriceCents: 45000},
		{SKU: "JELLABA-L", Name: "Jellaba", Category: "jellabas", PriceCents: 30000},
	} {
		_, err := ledger.Register(ctx, it)
		require.NoError(t, err)
		_, err = ledger.Adjust(ctx, it.SKU, 5, "initial count")
		require.NoError(t, err)
	}
	fin := finance.NewService(finance.NewMemoryStore(), rec, zerolog.Nop(), "test")
	if repo == nil {
		repo = NewMemoryRepo()
	}
	c := &clock{t: time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)}
	svc := NewService(repo, ledger, fin, rec, zerolog.Nop(), "test")
	svc.Now = c.Now
	fin.Now = c.Now
	return &fixture{svc: svc, ledger: ledger, fin: fin, rec: rec, clock: c}
}

func input(lines ...ItemInput) CreateInput {
	return CreateInput{
		Items:    lines,
		Customer: Customer{Name: "Salma", Phone: "+212600000001"},
		Shipping: Shipping{City: "Casablanca", Courier: "amana", Source: "instagram", Campaign: "ramadan"},
	}
}

func (f *fixture) item(t *testing.T, sku string) inventory.Item {
	t.Helper()
	it, err := f.ledger.Get(context.Background(), sku)
	require.NoError(t, err)
	return it
}

func (f *fixture) walk(t *testing.T, id string, path ...Status) Order {
	t.Helper()
	var o Order
	var err error
	for _, s := range path {
		f.clock.Advance(time.Hour)
		o, err = f.svc.Transition(context.Background(), id, s)
		require.NoError(t, err, "to %s", s)
	}
	return o
}

func TestCreate(t *testing.T) {
	f := setup(t, nil)
	o, existed, err := f.svc.Create(context.Background(), input(
		ItemInput{SKU: "CAFTAN-M", Qty: 2, Variant: &Variant{Size: "M", Color: "blue"}},
		ItemInput{SKU: "JELLABA-L", Qty: 1},
	))
	require.NoError(t, err)
	assert.False(t, existed)

	assert.Equal(t, StatusNouvelle, o.Status)
	assert.Equal(t, 1, o.Version)
	assert.Equal(t, int64(2*45000+30000), o.TotalCents)
	assert.Equal(t, PaymentCOD, o.Shipping.PaymentMethod)
	assert.True(t, strings.HasPrefix(o.TrackingCode, "KF240310"))
	assert.Equal(t, "Caftan", o.Items[0].Name)
	assert.Equal(t, "blue", o.Items[0].Variant.Color)

	assert.Equal(t, 2, f.item(t, "CAFTAN-M").Reserved)
	assert.Equal(t, 1, f.item(t, "JELLABA-L").Reserved)
	assert.Equal(t, []string{events.EventOrderCreated}, f.rec.Types())
}

func TestCreate_Validation(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()

	cases := map[string]CreateInput{
		"no items":   input(),
		"zero qty":   input(ItemInput{SKU: "CAFTAN-M", Qty: 0}),
		"dup sku":    input(ItemInput{SKU: "CAFTAN-M", Qty: 1}, ItemInput{SKU: "CAFTAN-M", Qty: 1}),
		"unknown":    input(ItemInput{SKU: "NOPE", Qty: 1}),
		"no phone":   func() CreateInput { in := input(ItemInput{SKU: "CAFTAN-M", Qty: 1}); in.Customer.Phone = " "; return in }(),
		"no city":    func() CreateInput { in := input(ItemInput{SKU: "CAFTAN-M", Qty: 1}); in.Shipping.City = ""; return in }(),
		"bad method": func() CreateInput { in := input(ItemInput{SKU: "CAFTAN-M", Qty: 1}); in.Shipping.PaymentMethod = "card"; return in }(),
	}
	for name, in := range cases {
		_, _, err := f.svc.Create(ctx, in)
		assert.ErrorIs(t, err, errs.ErrValidation, name)
	}
	assert.Zero(t, f.item(t, "CAFTAN-M").Reserved)
	assert.Empty(t, f.rec.Events())
}

func TestCreate_InsufficientStockLeavesNothingReserved(t *testing.T) {
	f := setup(t, nil)
	_, _, err := f.svc.Create(context.Background(), input(
		ItemInput{SKU: "CAFTAN-M", Qty: 2},
		ItemInput{SKU: "JELLABA-L", Qty: 6},
	))
	var ise *errs.InsufficientStockError
	require.ErrorAs(t, err, &ise)
	assert.Equal(t, "JELLABA-L", ise.SKU)
	assert.Zero(t, f.item(t, "CAFTAN-M").Reserved)
	assert.Zero(t, f.item(t, "JELLABA-L").Reserved)
}

func TestCreate_ConcurrentLastUnits(t *testing.T) {
	f := setup(t, nil)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, results[i] = f.svc.Create(context.Background(), input(ItemInput{SKU: "CAFTAN-M", Qty: 5}))
		}(i)
	}
	wg.Wait()

	var ok, short int
	for _, err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, errs.ErrInsufficientStock):
			short++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, short)
	assert.Zero(t, f.item(t, "CAFTAN-M").Available())
}

func TestCreate_ExternalIDIdempotent(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	in := input(ItemInput{SKU: "CAFTAN-M", Qty: 1})
	in.ExternalID = "shop-1001"

	first, existed, err := f.svc.Create(ctx, in)
	require.NoError(t, err)
	assert.False(t, existed)
	again, existed, err := f.svc.Create(ctx, in)
	require.NoError(t, err)
	assert.True(t, existed)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, 1, f.item(t, "CAFTAN-M").Reserved)
}

type failingInsertRepo struct{ *MemoryRepo }

func (failingInsertRepo) Insert(context.Context, Order) (Order, bool, error) {
	return Order{}, false, errors.New("connection reset")
}

func TestCreate_FailedInsertReleasesReservation(t *testing.T) {
	f := setup(t, failingInsertRepo{NewMemoryRepo()})
	_, _, err := f.svc.Create(context.Background(), input(ItemInput{SKU: "CAFTAN-M", Qty: 3}))
	require.Error(t, err)

	it := f.item(t, "CAFTAN-M")
	assert.Zero(t, it.Reserved)
	audit, err := f.ledger.Audit(context.Background(), "CAFTAN-M")
	require.NoError(t, err)
	assert.True(t, audit.Consistent)
}

func TestTransition_HappyPath(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	o, _, err := f.svc.Create(ctx, input(ItemInput{SKU: "CAFTAN-M", Qty: 2}))
	require.NoError(t, err)

	o = f.walk(t, o.ID, StatusConfirmee, StatusEnPreparation, StatusExpediee)
	assert.Equal(t, 4, o.Version)
	it := f.item(t, "CAFTAN-M")
	assert.Equal(t, 3, it.StockOnHand)
	assert.Zero(t, it.Reserved)

	txs, err := f.fin.ListByOrder(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, finance.TxSale, txs[0].Type)
	assert.Equal(t, o.TotalCents, txs[0].AmountCents)

	o = f.walk(t, o.ID, StatusLivree)
	require.NotNil(t, o.ConfirmedAt)
	require.NotNil(t, o.DeliveredAt)
	assert.False(t, o.ConfirmedAt.Before(o.CreatedAt))
	assert.False(t, o.PackedAt.Before(*o.ConfirmedAt))
	assert.False(t, o.ShippedAt.Before(*o.PackedAt))
	assert.False(t, o.DeliveredAt.Before(*o.ShippedAt))
	assert.True(t, o.Status.Terminal())

	net, err := f.fin.NetRevenue(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.TotalCents, net)
}

func TestTransition_RejectsBackwardsMove(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	o, _, err := f.svc.Create(ctx, input(ItemInput{SKU: "CAFTAN-M", Qty: 1}))
	require.NoError(t, err)
	o = f.walk(t, o.ID, StatusConfirmee, StatusEnPreparation, StatusExpediee)

	_, err = f.svc.Transition(ctx, o.ID, StatusEnPreparation)
	var te *errs.TransitionError
	require.ErrorAs(t, err, &te)
	assert.ErrorIs(t, err, errs.ErrInvalidTransition)

	after, err := f.svc.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpediee, after.Status)
	assert.Equal(t, o.Version, after.Version)
}

func TestTransition_SkipIsRejected(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	o, _, err := f.svc.Create(ctx, input(ItemInput{SKU: "CAFTAN-M", Qty: 1}))
	require.NoError(t, err)

	_, err = f.svc.Transition(ctx, o.ID, StatusExpediee)
	assert.ErrorIs(t, err, errs.ErrInvalidTransition)
	_, err = f.svc.Transition(ctx, o.ID, "perdue")
	assert.ErrorIs(t, err, errs.ErrValidation)
	_, err = f.svc.Transition(ctx, "missing", StatusConfirmee)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestTransition_Idempotent(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	o, _, err := f.svc.Create(ctx, input(ItemInput{SKU: "CAFTAN-M", Qty: 2}))
	require.NoError(t, err)

	a := f.walk(t, o.ID, StatusConfirmee)
	b := f.walk(t, o.ID, StatusConfirmee)
	assert.Equal(t, a.Version, b.Version)
	assert.Equal(t, a.ConfirmedAt, b.ConfirmedAt)

	f.walk(t, o.ID, StatusEnPreparation, StatusExpediee, StatusExpediee)
	it := f.item(t, "CAFTAN-M")
	assert.Equal(t, 3, it.StockOnHand, "commit applied once")
	txs, err := f.fin.ListByOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Len(t, txs, 1, "sale recorded once")
}

func TestTransition_CancelReleasesStock(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	o, _, err := f.svc.Create(ctx, input(ItemInput{SKU: "CAFTAN-M", Qty: 4}))
	require.NoError(t, err)

	o = f.walk(t, o.ID, StatusConfirmee, StatusAnnulee, StatusAnnulee)
	require.NotNil(t, o.CancelledAt)
	it := f.item(t, "CAFTAN-M")
	assert.Equal(t, 5, it.StockOnHand)
	assert.Zero(t, it.Reserved)

	_, err = f.svc.Transition(ctx, o.ID, StatusConfirmee)
	assert.ErrorIs(t, err, errs.ErrInvalidTransition)
}

type rtoSpy struct {
	mu     sync.Mutex
	opened []string
}

func (s *rtoSpy) OpenRTO(_ context.Context, o Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = append(s.opened, o.ID)
	return nil
}

func TestTransition_ReturnedOpensRTO(t *testing.T) {
	f := setup(t, nil)
	spy := &rtoSpy{}
	f.svc.Returns = spy
	o, _, err := f.svc.Create(context.Background(), input(ItemInput{SKU: "CAFTAN-M", Qty: 1}))
	require.NoError(t, err)

	o = f.walk(t, o.ID, StatusConfirmee, StatusEnPreparation, StatusExpediee, StatusRetournee)
	require.NotNil(t, o.ReturnedAt)
	assert.Equal(t, []string{o.ID}, spy.opened)
}

func TestTransition_ConcurrentUpdatesNeverOverwrite(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	o, _, err := f.svc.Create(ctx, input(ItemInput{SKU: "CAFTAN-M", Qty: 1}))
	require.NoError(t, err)

	targets := []Status{StatusConfirmee, StatusAnnulee}
	var wg sync.WaitGroup
	var conflicts atomic.Int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(target Status) {
			defer wg.Done()
			_, err := f.svc.Transition(ctx, o.ID, target)
			switch {
			case err == nil:
			case errors.Is(err, errs.ErrConcurrentModification), errors.Is(err, errs.ErrInvalidTransition):
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(targets[i%2])
	}
	wg.Wait()

	final, err := f.svc.Get(ctx, o.ID)
	require.NoError(t, err)
	// every successful write bumped the version exactly once
	switch final.Status {
	case StatusAnnulee:
		assert.Contains(t, []int{2, 3}, final.Version)
	case StatusConfirmee:
		assert.Equal(t, 2, final.Version)
	default:
		t.Fatalf("unexpected final status %s", final.Status)
	}
}

func TestMemoryRepo_StaleVersion(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	o, _, err := f.svc.Create(ctx, input(ItemInput{SKU: "CAFTAN-M", Qty: 1}))
	require.NoError(t, err)

	next := o
	next.Status = StatusConfirmee
	_, err = f.svc.Repo.Update(ctx, next, o.Version)
	require.NoError(t, err)
	_, err = f.svc.Repo.Update(ctx, next, o.Version)
	assert.ErrorIs(t, err, errs.ErrConcurrentModification)
}

func TestTimestampsNeverGoBackwards(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	o, _, err := f.svc.Create(ctx, input(ItemInput{SKU: "CAFTAN-M", Qty: 1}))
	require.NoError(t, err)

	f.clock.Advance(2 * time.Hour)
	_, err = f.svc.Transition(ctx, o.ID, StatusConfirmee)
	require.NoError(t, err)
	f.clock.Advance(-time.Hour) // clock skew
	after, err := f.svc.Transition(ctx, o.ID, StatusEnPreparation)
	require.NoError(t, err)
	assert.Equal(t, *after.ConfirmedAt, *after.PackedAt)
}

type countingRepo struct {
	*MemoryRepo
	lookups atomic.Int32
}

func (r *countingRepo) GetByTrackingCode(ctx context.Context, code string) (Order, error) {
	r.lookups.Add(1)
	return r.MemoryRepo.GetByTrackingCode(ctx, code)
}

func TestGetByTrackingCode_Cached(t *testing.T) {
	repo := &countingRepo{MemoryRepo: NewMemoryRepo()}
	f := setup(t, repo)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	f.svc.Cache = redisx.NewCache(rdb, time.Minute)
	ctx := context.Background()

	o, _, err := f.svc.Create(ctx, input(ItemInput{SKU: "CAFTAN-M", Qty: 1}))
	require.NoError(t, err)

	got, err := f.svc.GetByTrackingCode(ctx, o.TrackingCode)
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)
	got, err = f.svc.GetByTrackingCode(ctx, o.TrackingCode)
	require.NoError(t, err)
	assert.Equal(t, StatusNouvelle, got.Status)
	assert.Equal(t, int32(1), repo.lookups.Load())

	f.walk(t, o.ID, StatusConfirmee)
	got, err = f.svc.GetByTrackingCode(ctx, o.TrackingCode)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmee, got.Status, "transition invalidates the cache")
	assert.Equal(t, int32(2), repo.lookups.Load())

	_, err = f.svc.GetByTrackingCode(ctx, "KF000000NOPE")
	assert.ErrorIs(t, err, errs.ErrNotFound)

	id, err := f.svc.OrderIDByTracking(ctx, o.TrackingCode)
	require.NoError(t, err)
	assert.Equal(t, o.ID, id)
}

type gatedRepo struct {
	*MemoryRepo
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (r *gatedRepo) GetByTrackingCode(ctx context.Context, code string) (Order, error) {
	r.once.Do(func() { close(r.entered) })
	<-r.release
	if err := ctx.Err(); err != nil {
		return Order{}, err
	}
	return r.MemoryRepo.GetByTrackingCode(ctx, code)
}

func TestGetByTrackingCode_CancelledCallerDoesNotFailWaiters(t *testing.T) {
	repo := &gatedRepo{MemoryRepo: NewMemoryRepo(), entered: make(chan struct{}), release: make(chan struct{})}
	f := setup(t, repo)
	o, _, err := f.svc.Create(context.Background(), input(ItemInput{SKU: "CAFTAN-M", Qty: 1}))
	require.NoError(t, err)

	first, cancel := context.WithCancel(context.Background())
	type result struct {
		o   Order
		err error
	}
	a := make(chan result, 1)
	go func() {
		got, err := f.svc.GetByTrackingCode(first, o.TrackingCode)
		a <- result{got, err}
	}()
	<-repo.entered

	b := make(chan result, 1)
	go func() {
		got, err := f.svc.GetByTrackingCode(context.Background(), o.TrackingCode)
		b <- result{got, err}
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	close(repo.release)

	for _, ch := range []chan result{a, b} {
		r := <-ch
		require.NoError(t, r.err)
		assert.Equal(t, o.ID, r.o.ID)
	}
}

func TestGet_KeepsLineOrder(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	o, _, err := f.svc.Create(ctx, input(ItemInput{SKU: "JELLABA-L", Qty: 1}, ItemInput{SKU: "CAFTAN-M", Qty: 1}))
	require.NoError(t, err)

	got, err := f.svc.Get(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, got.Items, 2)
	assert.Equal(t, "JELLABA-L", got.Items[0].SKU)
	assert.Equal(t, "CAFTAN-M", got.Items[1].SKU)
	assert.Contains(t, selectItems, "ORDER BY order_id, position")
}

func TestAgedShipments(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()

	old, _, err := f.svc.Create(ctx, input(ItemInput{SKU: "CAFTAN-M", Qty: 1}))
	require.NoError(t, err)
	f.walk(t, old.ID, StatusConfirmee, StatusEnPreparation, StatusExpediee)

	f.clock.Advance(4 * 24 * time.Hour)
	fresh, _, err := f.svc.Create(ctx, input(ItemInput{SKU: "JELLABA-L", Qty: 1}))
	require.NoError(t, err)
	f.walk(t, fresh.ID, StatusConfirmee, StatusEnPreparation, StatusExpediee)

	aged, err := f.svc.AgedShipments(ctx, 3, f.clock.Now())
	require.NoError(t, err)
	require.Len(t, aged, 1)
	assert.Equal(t, old.ID, aged[0].OrderID)
	assert.Equal(t, 4, aged[0].DaysInTransit)

	_, err = f.svc.AgedShipments(ctx, -1, f.clock.Now())
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestDeliveredShipments(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	start := f.clock.Now()

	a, _, err := f.svc.Create(ctx, input(ItemInput{SKU: "CAFTAN-M", Qty: 1}))
	require.NoError(t, err)
	f.walk(t, a.ID, StatusConfirmee, StatusEnPreparation, StatusExpediee, StatusLivree)

	in := input(ItemInput{SKU: "JELLABA-L", Qty: 1})
	in.Shipping.Courier = "ctm"
	b, _, err := f.svc.Create(ctx, in)
	require.NoError(t, err)
	f.walk(t, b.ID, StatusConfirmee, StatusEnPreparation, StatusExpediee)

	ships, err := f.svc.DeliveredShipments(ctx, start, start.Add(24*time.Hour), "")
	require.NoError(t, err)
	require.Len(t, ships, 1)
	assert.Equal(t, a.ID, ships[0].OrderID)
	assert.Equal(t, "cod", ships[0].PaymentMethod)

	ships, err = f.svc.DeliveredShipments(ctx, start, start.Add(24*time.Hour), "ctm")
	require.NoError(t, err)
	assert.Empty(t, ships)
}

func TestStatusTable(t *testing.T) {
	for _, s := range Statuses {
		_, ok := allowedTransitions[s]
		assert.True(t, ok, "status %s has a row", s)
	}
	assert.True(t, CanTransition(StatusEnPreparation, StatusAnnulee))
	assert.False(t, CanTransition(StatusExpediee, StatusAnnulee))
	assert.False(t, CanTransition(StatusLivree, StatusRetournee))
	assert.True(t, StatusRetournee.Terminal())
	assert.False(t, StatusExpediee.Terminal())
}
