package finance

import (
	"context"
	"time"
)

type Store interface {
	// Insert appends tx. With a non-empty onceKey a second insert under the
	// same key returns the first transaction and created=false.
	Insert(ctx context.Context, tx Transaction, onceKey string) (saved Transaction, created bool, err error)
	ListByOrder(ctx context.Context, orderID string) ([]Transaction, error)
	ListByOrders(ctx context.Context, orderIDs []string) ([]Transaction, error)
	ListBetween(ctx context.Context, from, to time.Time) ([]Transaction, error)

	AddRemittance(ctx context.Context, r Remittance) (created bool, err error)
	RemittancesByOrders(ctx context.Context, orderIDs []string) ([]Remittance, error)

	UpsertMismatch(ctx context.Context, m Mismatch) error
	Mismatches(ctx context.Context, openOnly bool) ([]Mismatch, error)
	ResolveMismatch(ctx context.Context, orderID, note string, at time.Time) error
}
