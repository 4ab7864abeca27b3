package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/yahyahoussini6-jpg/kod-franco-sub000/internal/errs"
	"github.com/yahyahoussini6-jpg/kod-franco-sub000/internal/finance"
	"github.com/yahyahoussini6-jpg/kod-franco-sub000/internal/orders"
	"github.com/yahyahoussini6-jpg/kod-franco-sub000/internal/returns"
)

type OrderHistory interface {
	ListCreatedBetween(ctx context.Context, from, to time.Time) ([]orders.Order, error)
}

type ReturnHistory interface {
	ListCreatedBetween(ctx context.Context, from, to time.Time) ([]returns.Return, error)
}

type TransactionHistory interface {
	ListByOrders(ctx context.Context, orderIDs []string) ([]finance.Transaction, error)
}

// Aggregator is read-only. It may see a slightly stale snapshot when writes
// land while it loads.
type Aggregator struct {
	Orders       OrderHistory
	Returns      ReturnHistory
	Transactions TransactionHistory
	Log          zerolog.Logger
}

const returnLookahead = 90 * 24 * time.Hour

type Query struct {
	From    time.Time
	To      time.Time
	Filters Filters
}

func (q Query) validate() error {
	if q.From.IsZero() || q.To.IsZero() {
		return errs.Invalid("range", "from and to are required")
	}
	if !q.From.Before(q.To) {
		return errs.Invalid("range", "from must be before to")
	}
	return nil
}

// Load reads the order and return histories concurrently. Transactions are
// fetched for the loaded orders.
func (a *Aggregator) Load(ctx context.Context, q Query) (Snapshot, error) {
	if err := q.validate(); err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		os, err := a.Orders.ListCreatedBetween(gctx, q.From, q.To)
		if err != nil {
			return fmt.Errorf("load orders: %w", err)
		}
		snap.Orders = os
		if a.Transactions == nil || len(os) == 0 {
			return nil
		}
		ids := make([]string, len(os))
		for i, o := range os {
			ids[i] = o.ID
		}
		txs, err := a.Transactions.ListByOrders(gctx, ids)
		if err != nil {
			return fmt.Errorf("load transactions: %w", err)
		}
		snap.Transactions = txs
		return nil
	})
	g.Go(func() error {
		if a.Returns == nil {
			return nil
		}
		// returns are opened after the order, so look past the window end
		rs, err := a.Returns.ListCreatedBetween(gctx, q.From, q.To.Add(returnLookahead))
		if err != nil {
			return fmt.Errorf("load returns: %w", err)
		}
		snap.Returns = rs
		return nil
	})
	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

func (a *Aggregator) Report(ctx context.Context, q Query) (Report, error) {
	start := time.Now()
	snap, err := a.Load(ctx, q)
	if err != nil {
		return Report{}, err
	}
	rep := Build(snap, q.From, q.To, q.Filters)
	a.Log.Debug().Int("orders", len(snap.Orders)).Dur("took", time.Since(start)).Msg("analytics report")
	return rep, nil
}

type FunnelReport struct {
	Funnel
	Rates Rates `json:"rates"`
}

func (a *Aggregator) Funnel(ctx context.Context, q Query) (FunnelReport, error) {
	rep, err := a.Report(ctx, q)
	if err != nil {
		return FunnelReport{}, err
	}
	return FunnelReport{Funnel: rep.Funnel, Rates: rep.Rates}, nil
}

func (a *Aggregator) SLA(ctx context.Context, q Query) ([]SLAMetric, error) {
	rep, err := a.Report(ctx, q)
	if err != nil {
		return nil, err
	}
	return rep.SLA, nil
}

func (a *Aggregator) Geo(ctx context.Context, q Query) ([]GeoRow, error) {
	rep, err := a.Report(ctx, q)
	if err != nil {
		return nil, err
	}
	return rep.Geo, nil
}

func (a *Aggregator) Products(ctx context.Context, q Query) ([]ProductRow, error) {
	rep, err := a.Report(ctx, q)
	if err != nil {
		return nil, err
	}
	return rep.Products, nil
}

func (a *Aggregator) Marketing(ctx context.Context, q Query) ([]MarketingRow, error) {
	rep, err := a.Report(ctx, q)
	if err != nil {
		return nil, err
	}
	return rep.Marketing, nil
}
