package store

import (
	"context"
	"sort"
	"sync"

	soltok "github.com/soltok-labs/soltok/go"
	"github.com/soltok-labs/soltok/go/fulfillment"
	"github.com/soltok-labs/soltok/go/pkg/logger"
)

// OrderStore presents one logical order collection over a remote durable
// store and a local fallback cache.
//
// Write path: the local cache is updated first, synchronously from the
// caller's perspective; the remote write happens asynchronously. A failed
// remote write leaves the optimistic local value in place and marks the
// order dirty; dirty orders are re-pushed on the next successful remote
// write to any order. Convergence is eventual, not immediate, while the
// remote store is intermittently unreachable.
//
// Read path: the remote store is authoritative when reachable and its
// result overwrites the cache, except for locally dirty orders, which are
// re-overlaid rather than silently dropped. When the remote store is
// unreachable the cache is served without error.
//
// Push reconciliation: remote change events replace the full local record
// by id, last remote write wins. A stale remote event can therefore
// overwrite a newer local optimistic write that was not yet acknowledged;
// this race is inherited from the reconciliation model and demonstrated by
// a test rather than papered over with a conflict-resolution policy.
type OrderStore struct {
	remote RemoteStore
	cache  Cache
	log    logger.Logger

	mu     sync.Mutex
	orders map[string]soltok.Order
	dirty  map[string]bool
	synced map[string]bool // remote has acknowledged a create for this id

	pushWG sync.WaitGroup

	stop      func()
	eventDone chan struct{}
}

// New creates an order store over the given backends, seeding in-memory
// state from the local cache.
func New(remote RemoteStore, cache Cache, log logger.Logger) (*OrderStore, error) {
	cached, err := cache.Load()
	if err != nil {
		return nil, err
	}
	return &OrderStore{
		remote: remote,
		cache:  cache,
		log:    log,
		orders: cached,
		dirty:  make(map[string]bool),
		synced: make(map[string]bool),
	}, nil
}

// Start performs the initial remote sync and opens the push-notification
// subscription. A remote store that is down at startup is not an error;
// the store simply runs from the cache until the remote recovers.
func (s *OrderStore) Start(ctx context.Context) error {
	if _, err := s.List(ctx); err != nil {
		return err
	}

	events, cancel, err := s.remote.Subscribe(ctx)
	if err != nil {
		s.log.Warnf("store: change feed unavailable: %v", err)
		return nil
	}
	s.stop = cancel
	s.eventDone = make(chan struct{})
	go func() {
		defer close(s.eventDone)
		for ev := range events {
			s.applyRemoteEvent(ev)
		}
	}()
	return nil
}

// Close tears down the change-feed subscription and waits for in-flight
// remote pushes. Must be called on session end so the notification channel
// is not leaked.
func (s *OrderStore) Close() {
	if s.stop != nil {
		s.stop()
		<-s.eventDone
		s.stop = nil
	}
	s.pushWG.Wait()
}

// Flush blocks until all pending asynchronous remote writes have been
// attempted. Tests use it to make the write path deterministic.
func (s *OrderStore) Flush() {
	s.pushWG.Wait()
}

// Create persists a new order: cache first, then the remote store
// asynchronously.
func (s *OrderStore) Create(ctx context.Context, order *soltok.Order) error {
	return s.write(ctx, order, false)
}

// Update replaces the stored record for order.ID.
func (s *OrderStore) Update(ctx context.Context, order *soltok.Order) error {
	return s.write(ctx, order, true)
}

func (s *OrderStore) write(ctx context.Context, order *soltok.Order, mustExist bool) error {
	reconcileStatus(order)

	s.mu.Lock()
	if _, exists := s.orders[order.ID]; mustExist && !exists {
		s.mu.Unlock()
		return soltok.Errorf(soltok.ErrCodeOrderNotFound, "order %s not found", order.ID)
	}
	s.orders[order.ID] = *order.Clone()
	s.dirty[order.ID] = true
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	if err := s.cache.Save(snapshot); err != nil {
		s.log.Warnf("store: cache save failed: %v", err)
	}

	record := *order.Clone()
	s.pushWG.Add(1)
	go func() {
		defer s.pushWG.Done()
		s.pushRemote(context.WithoutCancel(ctx), record)
	}()
	return nil
}

// pushRemote attempts the remote write for one order and, when it
// succeeds, drains any other orders still marked dirty.
func (s *OrderStore) pushRemote(ctx context.Context, order soltok.Order) {
	if err := s.remoteWrite(ctx, order); err != nil {
		s.log.Warnf("store: remote write for order %s failed, keeping local copy: %v", order.ID, err)
		return
	}

	s.mu.Lock()
	delete(s.dirty, order.ID)
	s.synced[order.ID] = true
	var backlog []soltok.Order
	for id := range s.dirty {
		if o, ok := s.orders[id]; ok {
			backlog = append(backlog, *o.Clone())
		}
	}
	s.mu.Unlock()

	for _, o := range backlog {
		if err := s.remoteWrite(ctx, o); err != nil {
			s.log.Warnf("store: remote retry for order %s failed: %v", o.ID, err)
			continue
		}
		s.mu.Lock()
		delete(s.dirty, o.ID)
		s.synced[o.ID] = true
		s.mu.Unlock()
	}
}

func (s *OrderStore) remoteWrite(ctx context.Context, order soltok.Order) error {
	s.mu.Lock()
	isSynced := s.synced[order.ID]
	s.mu.Unlock()
	if isSynced {
		return s.remote.Update(ctx, order)
	}
	return s.remote.Create(ctx, order)
}

// Get returns the current record for an order.
func (s *OrderStore) Get(ctx context.Context, id string) (*soltok.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, soltok.Errorf(soltok.ErrCodeOrderNotFound, "order %s not found", id)
	}
	return o.Clone(), nil
}

// List returns all orders, newest first. A reachable remote store is
// authoritative and refreshes the cache; locally dirty orders that the
// remote has not acknowledged are overlaid on top of its result rather
// than dropped.
func (s *OrderStore) List(ctx context.Context) ([]soltok.Order, error) {
	remoteOrders, err := s.remote.List(ctx)
	if err != nil {
		s.log.Warnf("store: remote list failed, serving local cache: %v", err)
		s.mu.Lock()
		defer s.mu.Unlock()
		return sortedOrders(s.orders), nil
	}

	s.mu.Lock()
	merged := make(map[string]soltok.Order, len(remoteOrders))
	for _, o := range remoteOrders {
		merged[o.ID] = *o.Clone()
		s.synced[o.ID] = true
	}
	// Unsynced local writes survive the authoritative refresh until a
	// remote write acknowledges them.
	for id := range s.dirty {
		if o, ok := s.orders[id]; ok {
			merged[id] = *o.Clone()
		}
	}
	s.orders = merged
	snapshot := s.snapshotLocked()
	result := sortedOrders(s.orders)
	s.mu.Unlock()

	if err := s.cache.Save(snapshot); err != nil {
		s.log.Warnf("store: cache save failed: %v", err)
	}
	return result, nil
}

// ClearAll removes every order from both backends. Administrative
// operation only.
func (s *OrderStore) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	s.orders = make(map[string]soltok.Order)
	s.dirty = make(map[string]bool)
	s.synced = make(map[string]bool)
	s.mu.Unlock()

	if err := s.cache.Save(map[string]soltok.Order{}); err != nil {
		s.log.Warnf("store: cache clear failed: %v", err)
	}
	if err := s.remote.Clear(ctx); err != nil {
		s.log.Warnf("store: remote clear failed: %v", err)
	}
	return nil
}

// applyRemoteEvent merges one push notification into local state by full
// record replacement: last remote write wins, even over an unacknowledged
// local optimistic write.
func (s *OrderStore) applyRemoteEvent(ev ChangeEvent) {
	s.mu.Lock()
	switch ev.Kind {
	case ChangeInsert, ChangeUpdate:
		s.orders[ev.Order.ID] = *ev.Order.Clone()
		s.synced[ev.Order.ID] = true
		delete(s.dirty, ev.Order.ID)
	case ChangeDelete:
		delete(s.orders, ev.Order.ID)
		delete(s.dirty, ev.Order.ID)
		delete(s.synced, ev.Order.ID)
	}
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	if err := s.cache.Save(snapshot); err != nil {
		s.log.Warnf("store: cache save after remote event failed: %v", err)
	}
}

func (s *OrderStore) snapshotLocked() map[string]soltok.Order {
	out := make(map[string]soltok.Order, len(s.orders))
	for id, o := range s.orders {
		out[id] = *o.Clone()
	}
	return out
}

// reconcileStatus re-derives the coarse status from the steps before any
// write lands, so the stored status can never diverge from step state. The
// operator-set refunded status is the only override.
func reconcileStatus(order *soltok.Order) {
	if order.Status == soltok.OrderRefunded {
		return
	}
	order.Status = fulfillment.DeriveStatus(order.Steps)
}

func sortedOrders(m map[string]soltok.Order) []soltok.Order {
	out := make([]soltok.Order, 0, len(m))
	for _, o := range m {
		out = append(out, *o.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

var _ soltok.OrderRepository = (*OrderStore)(nil)
