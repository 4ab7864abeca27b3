// Package app wires the engine components over one set of stores.
package app

import (
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/yahyahoussini6-jpg/kod-franco-sub000/internal/analytics"
	"github.com/yahyahoussini6-jpg/kod-franco-sub000/internal/events"
	"github.com/yahyahoussini6-jpg/kod-franco-sub000/internal/finance"
	"github.com/yahyahoussini6-jpg/kod-franco-sub000/internal/httpx"
	"github.com/yahyahoussini6-jpg/kod-franco-sub000/internal/inventory"
	"github.com/yahyahoussini6-jpg/kod-franco-sub000/internal/orders"
	"github.com/yahyahoussini6-jpg/kod-franco-sub000/internal/returns"
)

type Stores struct {
	Inventory inventory.Store
	Orders    orders.Repository
	Returns   returns.Store
	Finance   finance.Store
}

func MemoryStores() Stores {
	return Stores{
		Inventory: inventory.NewMemoryStore(),
		Orders:    orders.NewMemoryRepo(),
		Returns:   returns.NewMemoryStore(),
		Finance:   finance.NewMemoryStore(),
	}
}

func PostgresStores(db *pgxpool.Pool) Stores {
	return Stores{
		Inventory: &inventory.PostgresStore{DB: db},
		Orders:    &orders.PostgresRepo{DB: db},
		Returns:   &returns.PostgresStore{DB: db},
		Finance:   &finance.PostgresStore{DB: db},
	}
}

type App struct {
	Ledger    *inventory.Ledger
	Orders    *orders.Service
	Returns   *returns.Workflow
	Finance   *finance.Service
	Analytics *analytics.Aggregator
	Log       zerolog.Logger
}

// New wires the services. cache may be nil.
func New(st Stores, pub events.Publisher, cache orders.Cache, log zerolog.Logger, name string) *App {
	ledger := inventory.NewLedger(st.Inventory, pub, log, name)
	fin := finance.NewService(st.Finance, pub, log, name)
	svc := orders.NewService(st.Orders, ledger, fin, pub, log, name)
	if cache != nil {
		svc.Cache = cache
	}
	wf := returns.NewWorkflow(st.Returns, svc, ledger, fin, pub, log, name)
	svc.Returns = wf
	fin.Shipments = svc
	fin.Orders = svc

	return &App{
		Ledger:  ledger,
		Orders:  svc,
		Returns: wf,
		Finance: fin,
		Analytics: &analytics.Aggregator{
			Orders:       svc,
			Returns:      wf,
			Transactions: fin,
			Log:          log.With().Str("component", "analytics").Logger(),
		},
		Log: log,
	}
}

func (a *App) Router(agedDays int) http.Handler {
	return httpx.NewRouter(a.Log,
		&httpx.OrdersHandler{Orders: a.Orders, AgedDays: agedDays},
		&httpx.ReturnsHandler{Returns: a.Returns},
		&httpx.InventoryHandler{Ledger: a.Ledger},
		&httpx.FinanceHandler{Finance: a.Finance},
		&httpx.AnalyticsHandler{Analytics: a.Analytics},
	)
}

// RemittanceIntake resolves courier tracking codes through the order store.
func (a *App) RemittanceIntake(dedup finance.Deduper) *finance.Intake {
	return &finance.Intake{Finance: a.Finance, Orders: a.Orders, Dedup: dedup}
}
