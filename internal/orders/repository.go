package orders

import (
	"context"
	"errors"
	"time"
)

// errTrackingTaken is returned by Insert when the generated tracking code
// collides; the service retries with a new one.
var errTrackingTaken = errors.New("tracking code taken")

type Repository interface {
	// Insert stores a new order. If another order already holds the same
	// ExternalID that order is returned with existed=true.
	Insert(ctx context.Context, o Order) (saved Order, existed bool, err error)
	Get(ctx context.Context, id string) (Order, error)
	GetByTrackingCode(ctx context.Context, code string) (Order, error)
	GetByExternalID(ctx context.Context, externalID string) (Order, error)

	// Update writes status, timestamps and Version+1 only if the stored
	// version still equals expectedVersion; otherwise ErrConcurrentModification.
	Update(ctx context.Context, o Order, expectedVersion int) (Order, error)

	ListCreatedBetween(ctx context.Context, from, to time.Time) ([]Order, error)
	ListByStatus(ctx context.Context, status Status) ([]Order, error)
	ListDeliveredBetween(ctx context.Context, from, to time.Time, courier string) ([]Order, error)
}
