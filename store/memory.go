package store

import (
	"context"
	"sync"

	soltok "github.com/soltok-labs/soltok/go"
)

// MemoryRemote is an in-memory RemoteStore for tests and single-process
// development. It broadcasts change events to every subscriber the way the
// real backend pushes realtime notifications, and can be flipped
// unavailable to exercise the fallback path.
type MemoryRemote struct {
	mu          sync.Mutex
	orders      map[string]soltok.Order
	subscribers map[int]chan ChangeEvent
	nextSub     int
	unavailable bool
}

// NewMemoryRemote creates an empty in-memory remote store.
func NewMemoryRemote() *MemoryRemote {
	return &MemoryRemote{
		orders:      make(map[string]soltok.Order),
		subscribers: make(map[int]chan ChangeEvent),
	}
}

// SetUnavailable makes every subsequent call fail with
// remote_store_unavailable until flipped back.
func (m *MemoryRemote) SetUnavailable(unavailable bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unavailable = unavailable
}

func (m *MemoryRemote) errIfUnavailable() error {
	if m.unavailable {
		return soltok.Errorf(soltok.ErrCodeRemoteStoreUnavailable, "remote store unreachable")
	}
	return nil
}

func (m *MemoryRemote) List(ctx context.Context) ([]soltok.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.errIfUnavailable(); err != nil {
		return nil, err
	}
	out := make([]soltok.Order, 0, len(m.orders))
	for _, o := range m.orders {
		out = append(out, *o.Clone())
	}
	return out, nil
}

func (m *MemoryRemote) Create(ctx context.Context, order soltok.Order) error {
	return m.put(order, ChangeInsert)
}

func (m *MemoryRemote) Update(ctx context.Context, order soltok.Order) error {
	return m.put(order, ChangeUpdate)
}

func (m *MemoryRemote) put(order soltok.Order, kind ChangeKind) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.errIfUnavailable(); err != nil {
		return err
	}
	m.orders[order.ID] = *order.Clone()
	m.broadcastLocked(ChangeEvent{Kind: kind, Order: *order.Clone()})
	return nil
}

func (m *MemoryRemote) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.errIfUnavailable(); err != nil {
		return err
	}
	delete(m.orders, id)
	m.broadcastLocked(ChangeEvent{Kind: ChangeDelete, Order: soltok.Order{ID: id}})
	return nil
}

func (m *MemoryRemote) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.errIfUnavailable(); err != nil {
		return err
	}
	for id := range m.orders {
		m.broadcastLocked(ChangeEvent{Kind: ChangeDelete, Order: soltok.Order{ID: id}})
	}
	m.orders = make(map[string]soltok.Order)
	return nil
}

func (m *MemoryRemote) Subscribe(ctx context.Context) (<-chan ChangeEvent, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.errIfUnavailable(); err != nil {
		return nil, nil, err
	}

	id := m.nextSub
	m.nextSub++
	ch := make(chan ChangeEvent, 64)
	m.subscribers[id] = ch

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if sub, ok := m.subscribers[id]; ok {
			delete(m.subscribers, id)
			close(sub)
		}
	}
	return ch, cancel, nil
}

// Inject pushes an arbitrary change event to subscribers without touching
// stored state. Tests use it to simulate out-of-band remote writes.
func (m *MemoryRemote) Inject(ev ChangeEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.broadcastLocked(ev)
}

func (m *MemoryRemote) broadcastLocked(ev ChangeEvent) {
	for _, ch := range m.subscribers {
		select {
		case ch <- ev:
		default:
			// Slow subscriber; drop rather than block the writer.
		}
	}
}

var _ RemoteStore = (*MemoryRemote)(nil)
