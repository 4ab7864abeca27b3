package inventory

import "context"

// Store owns Item and Movement rows. Every mutating call appends its
// movements in the same critical section (or transaction) as the balance
// change, so Replay over Movements always matches the record.
type Store interface {
	// Register creates a SKU with zero stock, or updates the descriptive
	// fields and min level of an existing one. Stock is never touched.
	Register(ctx context.Context, item Item) (Item, error)

	Get(ctx context.Context, sku string) (Item, error)
	List(ctx context.Context) ([]Item, error)

	// Reserve holds every line for orderID or none of them. An order that
	// already holds reservations is left as is.
	Reserve(ctx context.Context, orderID string, lines []Line) error

	// Release and Commit act on the outstanding holds of an order and return
	// the movements they appended; a second call appends nothing.
	Release(ctx context.Context, orderID string) ([]Movement, error)
	Commit(ctx context.Context, orderID string) ([]Movement, error)

	Restock(ctx context.Context, sku string, qty int, orderID, note string) (Movement, error)
	Adjust(ctx context.Context, sku string, delta int, note string) (Movement, error)

	Movements(ctx context.Context, sku string) ([]Movement, error)
	Holds(ctx context.Context, orderID string) ([]Hold, error)
}
