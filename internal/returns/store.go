package returns

import (
	"context"
	"time"
)

type Store interface {
	// Insert stores a new case. A second RTO for the same order returns the
	// first one with existed=true.
	Insert(ctx context.Context, r Return) (saved Return, existed bool, err error)
	Get(ctx context.Context, id string) (Return, error)
	GetByCode(ctx context.Context, code string) (Return, error)
	ListByOrder(ctx context.Context, orderID string) ([]Return, error)
	ListCreatedBetween(ctx context.Context, from, to time.Time) ([]Return, error)

	// Update writes status, refund amount and Version+1 if the stored version
	// equals expectedVersion.
	Update(ctx context.Context, r Return, expectedVersion int) (Return, error)
}
