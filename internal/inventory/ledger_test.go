package inventory

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yahyahoussini6-jpg/kod-franco-sub000/internal/errs"
	"github.com/yahyahoussini6-jpg/kod-franco-sub000/internal/events"
)

func setupLedger(t *testing.T) (*Ledger, *events.Recorder) {
	t.Helper()
	rec := &events.Recorder{}
	l := NewLedger(NewMemoryStore(), rec, zerolog.Nop(), "test")
	ctx := context.Background()
	_, err := l.Register(ctx, Item{SKU: "CAFTAN-BLUE-M", Name: "Caftan", Category: "caftans", PriceCents: 45000, MinStockLevel: 2})
	require.NoError(t, err)
	_, err = l.Adjust(ctx, "CAFTAN-BLUE-M", 5, "initial count")
	require.NoError(t, err)
	return l, rec
}

func TestLedger_RegisterValidation(t *testing.T) {
	l, _ := setupLedger(t)
	ctx := context.Background()

	_, err := l.Register(ctx, Item{SKU: "  "})
	assert.ErrorIs(t, err, errs.ErrValidation)
	_, err = l.Register(ctx, Item{SKU: "X", PriceCents: -1})
	assert.ErrorIs(t, err, errs.ErrValidation)

	// re-registering keeps stock
	it, err := l.Register(ctx, Item{SKU: "CAFTAN-BLUE-M", Name: "Caftan bleu", PriceCents: 47000})
	require.NoError(t, err)
	assert.Equal(t, 5, it.StockOnHand)
	assert.Equal(t, "Caftan bleu", it.Name)
}

func TestLedger_ReserveValidation(t *testing.T) {
	l, _ := setupLedger(t)
	ctx := context.Background()

	assert.ErrorIs(t, l.Reserve(ctx, "", []Line{{SKU: "CAFTAN-BLUE-M", Qty: 1}}), errs.ErrValidation)
	assert.ErrorIs(t, l.Reserve(ctx, "o1", nil), errs.ErrValidation)
	assert.ErrorIs(t, l.ReserveOne(ctx, "CAFTAN-BLUE-M", 0, "o1"), errs.ErrValidation)
	assert.ErrorIs(t, l.ReserveOne(ctx, "CAFTAN-BLUE-M", 6, "o1"), errs.ErrInsufficientStock)
}

func TestLedger_LowStockEvent(t *testing.T) {
	l, rec := setupLedger(t)
	ctx := context.Background()

	require.NoError(t, l.ReserveOne(ctx, "CAFTAN-BLUE-M", 2, "o1"))
	assert.Empty(t, rec.Events(), "available 3 is above min level 2")

	require.NoError(t, l.ReserveOne(ctx, "CAFTAN-BLUE-M", 1, "o2"))
	sent := rec.Events()
	require.Len(t, sent, 1)
	assert.Equal(t, events.TopicInventory, sent[0].Topic)
	assert.Equal(t, events.EventStockLow, sent[0].Envelope.EventType)

	var p events.StockLowPayload
	require.NoError(t, json.Unmarshal(sent[0].Envelope.Payload, &p))
	assert.Equal(t, 2, p.Available)

	low, err := l.LowStock(ctx)
	require.NoError(t, err)
	require.Len(t, low, 1)
	assert.Equal(t, "CAFTAN-BLUE-M", low[0].SKU)
}

func TestLedger_Audit(t *testing.T) {
	l, _ := setupLedger(t)
	ctx := context.Background()

	require.NoError(t, l.ReserveOne(ctx, "CAFTAN-BLUE-M", 2, "o1"))
	require.NoError(t, l.ReserveOne(ctx, "CAFTAN-BLUE-M", 1, "o2"))
	_, err := l.Commit(ctx, "o1")
	require.NoError(t, err)
	_, err = l.Release(ctx, "o2")
	require.NoError(t, err)
	_, err = l.Restock(ctx, "CAFTAN-BLUE-M", 1, "o1", "returned")
	require.NoError(t, err)

	res, err := l.Audit(ctx, "CAFTAN-BLUE-M")
	require.NoError(t, err)
	assert.True(t, res.Consistent)
	assert.Equal(t, 4, res.StockOnHand)
	assert.Equal(t, 0, res.Reserved)
}
