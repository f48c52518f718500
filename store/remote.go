// Package store reconciles the order collection between a remote durable
// store with push change-notifications and a local fallback cache. It is
// the single writer of persisted order state; everything else issues
// update intents through the soltok.OrderRepository interface.
package store

import (
	"context"

	soltok "github.com/soltok-labs/soltok/go"
)

// ChangeKind classifies a remote change event.
type ChangeKind string

const (
	ChangeInsert ChangeKind = "insert"
	ChangeUpdate ChangeKind = "update"
	ChangeDelete ChangeKind = "delete"
)

// ChangeEvent is one push notification from the remote store. For deletes
// only Order.ID is meaningful.
type ChangeEvent struct {
	Kind  ChangeKind   `json:"kind"`
	Order soltok.Order `json:"order"`
}

// RemoteStore is the remote durable store collaborator: CRUD over full
// order records keyed by id plus a subscribe-to-changes feed.
//
// Implementations must treat every record as opaque and whole; the
// reconciliation model is full-record replacement, never field-level merge.
type RemoteStore interface {
	List(ctx context.Context) ([]soltok.Order, error)
	Create(ctx context.Context, order soltok.Order) error
	Update(ctx context.Context, order soltok.Order) error
	Delete(ctx context.Context, id string) error
	Clear(ctx context.Context) error

	// Subscribe opens the change feed. The returned cancel function tears
	// the subscription down and must be called on session end; the event
	// channel closes after cancellation.
	Subscribe(ctx context.Context) (<-chan ChangeEvent, func(), error)
}

// Cache is the local fallback store: a single keyed collection of full
// order records, serialized as-is. No schema versioning; missing fields on
// old records unmarshal to zero values.
type Cache interface {
	Load() (map[string]soltok.Order, error)
	Save(orders map[string]soltok.Order) error
}
