package soltok

import "context"

// OrderRepository is the single logical Order collection. The concrete
// implementation (store.OrderStore) reconciles a remote durable store with
// a local fallback cache. Everything above it (the fulfillment sequencer,
// operator actions, the HTTP surface) issues update intents through this
// interface and never touches storage directly.
type OrderRepository interface {
	// Create persists a new order. The order's coarse status is re-derived
	// from its steps before the write lands.
	Create(ctx context.Context, order *Order) error

	// Update replaces the stored record for order.ID with the given full
	// record, re-deriving the coarse status from the steps unless the order
	// has been refunded by an operator.
	Update(ctx context.Context, order *Order) error

	// Get returns the current record for an order, or an error with code
	// order_not_found.
	Get(ctx context.Context, id string) (*Order, error)

	// List returns all known orders, newest first. When the remote store is
	// reachable its result is authoritative; otherwise the local cache is
	// served without error.
	List(ctx context.Context) ([]Order, error)

	// ClearAll removes every order from both backends. Administrative
	// operation; normal flow never deletes orders.
	ClearAll(ctx context.Context) error
}

// Notifier is the fire-and-forget notification collaborator. Callers do not
// consume a result beyond logging: a failed notification must never roll
// back the state change that triggered it.
type Notifier interface {
	Notify(ctx context.Context, eventType string, order *Order) error
}

// Notification event types emitted by the core.
const (
	EventOrderCreated = "order_created"
	EventOrderShipped = "order_shipped"
)
