package finance

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yahyahoussini6-jpg/kod-franco-sub000/internal/errs"
	"github.com/yahyahoussini6-jpg/kod-franco-sub000/internal/events"
)

type stubShipments []Shipment

func (s stubShipments) DeliveredShipments(_ context.Context, from, to time.Time, courier string) ([]Shipment, error) {
	var out []Shipment
	for _, sh := range s {
		if sh.DeliveredAt.Before(from) || !sh.DeliveredAt.Before(to) {
			continue
		}
		if courier != "" && sh.Courier != courier {
			continue
		}
		out = append(out, sh)
	}
	return out, nil
}

var day = time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

func newService(t *testing.T, ships ...Shipment) (*Service, *events.Recorder) {
	t.Helper()
	rec := &events.Recorder{}
	s := NewService(NewMemoryStore(), rec, zerolog.Nop(), "test")
	s.Shipments = stubShipments(ships)
	s.Now = func() time.Time { return day.Add(12 * time.Hour) }
	return s, rec
}

type knownOrders map[string]bool

func (k knownOrders) CheckOrder(_ context.Context, id string) error {
	if !k[id] {
		return errs.NotFound("order", id)
	}
	return nil
}

func TestRecord_UnknownOrderIsRejected(t *testing.T) {
	s, _ := newService(t)
	s.Orders = knownOrders{"o1": true}
	ctx := context.Background()

	_, err := s.Record(ctx, RecordInput{OrderID: "ghost", Type: TxCost, AmountCents: -700})
	assert.ErrorIs(t, err, errs.ErrNotFound)

	_, err = s.Record(ctx, RecordInput{OrderID: "o1", Type: TxCost, AmountCents: -700})
	require.NoError(t, err)

	txs, err := s.ListBetween(ctx, day, day.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "o1", txs[0].OrderID)
}

func TestRecord_SignConvention(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()

	cases := []struct {
		typ    TxType
		amount int64
		ok     bool
	}{
		{TxSale, 45000, true},
		{TxSale, -45000, false},
		{TxShippingFee, 3000, true},
		{TxRefund, -1000, true},
		{TxRefund, 1000, false},
		{TxCODFee, -500, true},
		{TxDiscount, 2000, false},
		{TxCost, 0, false},
	}
	for _, c := range cases {
		_, err := s.Record(ctx, RecordInput{OrderID: "o1", Type: c.typ, AmountCents: c.amount})
		if c.ok {
			assert.NoError(t, err, "%s %d", c.typ, c.amount)
		} else {
			assert.ErrorIs(t, err, errs.ErrValidation, "%s %d", c.typ, c.amount)
		}
	}

	_, err := s.Record(ctx, RecordInput{OrderID: "", Type: TxSale, AmountCents: 1})
	assert.ErrorIs(t, err, errs.ErrValidation)
	_, err = s.Record(ctx, RecordInput{OrderID: "o1", Type: "tip", AmountCents: 1})
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestRecordOnce(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()

	first, created, err := s.RecordOnce(ctx, RecordInput{OrderID: "o1", Type: TxSale, AmountCents: 45000})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, StatusPosted, first.Status)

	again, created, err := s.RecordOnce(ctx, RecordInput{OrderID: "o1", Type: TxSale, AmountCents: 45000})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)

	txs, err := s.ListByOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestNetRevenueAndRefundable(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()

	for _, in := range []RecordInput{
		{OrderID: "o1", Type: TxSale, AmountCents: 45000},
		{OrderID: "o1", Type: TxShippingFee, AmountCents: 3000},
		{OrderID: "o1", Type: TxCODFee, AmountCents: -900},
		{OrderID: "o1", Type: TxRefund, AmountCents: -10000},
		{OrderID: "o1", Type: TxCost, AmountCents: -5000, Status: StatusPending},
	} {
		_, err := s.Record(ctx, in)
		require.NoError(t, err)
	}

	net, err := s.NetRevenue(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, int64(45000+3000-900-10000), net)

	left, err := s.Refundable(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, int64(35000), left)

	left, err = s.Refundable(ctx, "unknown")
	require.NoError(t, err)
	assert.Zero(t, left)
}

func TestNetRevenue_DeliveredOrderMatchesTotal(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()

	_, _, err := s.RecordOnce(ctx, RecordInput{OrderID: "o1", Type: TxSale, AmountCents: 90000})
	require.NoError(t, err)

	net, err := s.NetRevenue(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, int64(90000), net)
}

func TestReconcileCOD(t *testing.T) {
	ships := []Shipment{
		{OrderID: "o1", TrackingCode: "T1", Courier: "amana", PaymentMethod: "cod", DeliveredAt: day.Add(2 * time.Hour)},
		{OrderID: "o2", TrackingCode: "T2", Courier: "amana", PaymentMethod: "cod", DeliveredAt: day.Add(3 * time.Hour)},
		{OrderID: "o3", TrackingCode: "T3", Courier: "amana", PaymentMethod: "prepaid", DeliveredAt: day.Add(4 * time.Hour)},
		{OrderID: "o4", TrackingCode: "T4", Courier: "amana", PaymentMethod: "cod", DeliveredAt: day.Add(30 * time.Hour)},
	}
	s, rec := newService(t, ships...)
	ctx := context.Background()

	for _, in := range []RecordInput{
		{OrderID: "o1", Type: TxSale, AmountCents: 45000},
		{OrderID: "o1", Type: TxShippingFee, AmountCents: 3000},
		{OrderID: "o1", Type: TxCODFee, AmountCents: -900},
		{OrderID: "o2", Type: TxSale, AmountCents: 20000},
		{OrderID: "o2", Type: TxDiscount, AmountCents: -2000},
		{OrderID: "o3", Type: TxSale, AmountCents: 10000},
	} {
		_, err := s.Record(ctx, in)
		require.NoError(t, err)
	}

	created, err := s.Remit(ctx, Remittance{Ref: "R1", OrderID: "o1", Courier: "amana", AmountCents: 48000})
	require.NoError(t, err)
	assert.True(t, created)
	created, err = s.Remit(ctx, Remittance{Ref: "R1", OrderID: "o1", Courier: "amana", AmountCents: 48000})
	require.NoError(t, err)
	assert.False(t, created, "duplicate report line is ignored")
	_, err = s.Remit(ctx, Remittance{Ref: "R2", OrderID: "o2", Courier: "amana", AmountCents: 15000})
	require.NoError(t, err)

	rep, err := s.ReconcileCOD(ctx, day, day.Add(24*time.Hour), "")
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Shipments, "prepaid and out-of-range orders are excluded")
	assert.Equal(t, int64(48000+18000), rep.ExpectedCents)
	assert.Equal(t, int64(48000+15000), rep.ReceivedCents)
	assert.Equal(t, int64(3000), rep.VarianceCents)
	assert.Equal(t, 1, rep.Mismatches)
	assert.ErrorIs(t, rep.Mismatch(), errs.ErrReconciliationMismatch)

	require.Len(t, rep.Lines, 2)
	assert.Equal(t, "o1", rep.Lines[0].OrderID)
	assert.Zero(t, rep.Lines[0].VarianceCents)
	assert.Equal(t, int64(3000), rep.Lines[1].VarianceCents)

	open, err := s.Mismatches(ctx, true)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "o2", open[0].OrderID)
	assert.Equal(t, []string{events.EventCODMismatch}, rec.Types())

	// nothing was corrected: a second run reports the same variance
	rep2, err := s.ReconcileCOD(ctx, day, day.Add(24*time.Hour), "amana")
	require.NoError(t, err)
	assert.Equal(t, rep.VarianceCents, rep2.VarianceCents)
	open2, err := s.Mismatches(ctx, true)
	require.NoError(t, err)
	require.Len(t, open2, 1)
	assert.Equal(t, open[0].DetectedAt, open2[0].DetectedAt)
}

func TestReconcileCOD_BalancedBatch(t *testing.T) {
	s, rec := newService(t, Shipment{OrderID: "o1", Courier: "ctm", PaymentMethod: "cod", DeliveredAt: day.Add(time.Hour)})
	ctx := context.Background()

	_, err := s.Record(ctx, RecordInput{OrderID: "o1", Type: TxSale, AmountCents: 30000})
	require.NoError(t, err)
	_, err = s.Remit(ctx, Remittance{OrderID: "o1", Courier: "ctm", AmountCents: 30000})
	require.NoError(t, err)

	rep, err := s.ReconcileCOD(ctx, day, day.Add(24*time.Hour), "ctm")
	require.NoError(t, err)
	assert.NoError(t, rep.Mismatch())
	assert.Zero(t, rep.VarianceCents)
	assert.Empty(t, rec.Events())
}

func TestReconcileCOD_Validation(t *testing.T) {
	s, _ := newService(t)
	_, err := s.ReconcileCOD(context.Background(), day, day, "")
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestResolveMismatch(t *testing.T) {
	s, _ := newService(t, Shipment{OrderID: "o1", Courier: "ctm", PaymentMethod: "cod", DeliveredAt: day.Add(time.Hour)})
	ctx := context.Background()

	_, err := s.Record(ctx, RecordInput{OrderID: "o1", Type: TxSale, AmountCents: 30000})
	require.NoError(t, err)
	_, err = s.ReconcileCOD(ctx, day, day.Add(24*time.Hour), "")
	require.NoError(t, err)

	assert.ErrorIs(t, s.ResolveMismatch(ctx, "o1", ""), errs.ErrValidation)
	require.NoError(t, s.ResolveMismatch(ctx, "o1", "courier paid in next batch"))
	assert.ErrorIs(t, s.ResolveMismatch(ctx, "o1", "again"), errs.ErrNotFound)

	open, err := s.Mismatches(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, open)
	all, err := s.Mismatches(ctx, false)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.NotNil(t, all[0].ResolvedAt)
}

func TestRemit_Validation(t *testing.T) {
	s, _ := newService(t)
	_, err := s.Remit(context.Background(), Remittance{AmountCents: 10})
	assert.ErrorIs(t, err, errs.ErrValidation)
	_, err = s.Remit(context.Background(), Remittance{OrderID: "o1", AmountCents: -1})
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestListBetween(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()
	_, err := s.Record(ctx, RecordInput{OrderID: "o1", Type: TxSale, AmountCents: 1000})
	require.NoError(t, err)

	txs, err := s.ListBetween(ctx, day, day.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Len(t, txs, 1)

	txs, err = s.ListBetween(ctx, day.Add(24*time.Hour), day.Add(48*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, txs)

	_, err = s.ListBetween(ctx, day, day)
	assert.ErrorIs(t, err, errs.ErrValidation)
}
