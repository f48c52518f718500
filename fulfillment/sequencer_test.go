package fulfillment

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	soltok "github.com/soltok-labs/soltok/go"
	"github.com/soltok-labs/soltok/go/pkg/logger"
)

// memRepo is a minimal in-memory order repository. Like the real store,
// Update re-derives the coarse status from the steps unless the order is
// refunded.
type memRepo struct {
	mu     sync.Mutex
	orders map[string]*soltok.Order
}

func newMemRepo() *memRepo {
	return &memRepo{orders: make(map[string]*soltok.Order)}
}

func (r *memRepo) Create(_ context.Context, order *soltok.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders[order.ID] = order.Clone()
	return nil
}

func (r *memRepo) Update(_ context.Context, order *soltok.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[order.ID]; !ok {
		return soltok.Errorf(soltok.ErrCodeOrderNotFound, "order %s not found", order.ID)
	}
	cp := order.Clone()
	if cp.Status != soltok.OrderRefunded {
		cp.Status = DeriveStatus(cp.Steps)
	}
	r.orders[order.ID] = cp
	return nil
}

func (r *memRepo) Get(_ context.Context, id string) (*soltok.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[id]
	if !ok {
		return nil, soltok.Errorf(soltok.ErrCodeOrderNotFound, "order %s not found", id)
	}
	return order.Clone(), nil
}

func (r *memRepo) List(_ context.Context) ([]soltok.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]soltok.Order, 0, len(r.orders))
	for _, o := range r.orders {
		out = append(out, *o.Clone())
	}
	return out, nil
}

func (r *memRepo) ClearAll(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders = make(map[string]*soltok.Order)
	return nil
}

var _ soltok.OrderRepository = (*memRepo)(nil)

// recordingNotifier captures every notification it receives.
type recordingNotifier struct {
	mu     sync.Mutex
	events []string
	orders []*soltok.Order
}

func (n *recordingNotifier) Notify(_ context.Context, eventType string, order *soltok.Order) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, eventType)
	n.orders = append(n.orders, order.Clone())
	return nil
}

func seedOrder(t *testing.T, repo *memRepo, id string) *soltok.Order {
	t.Helper()
	order := &soltok.Order{
		ID:        id,
		Status:    soltok.OrderPending,
		TotalUSDC: "26.2395",
		Steps:     NewSteps(),
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, repo.Create(context.Background(), order))
	return order
}

func TestSequencerRunsAllSteps(t *testing.T) {
	repo := newMemRepo()
	notifier := &recordingNotifier{}
	seedOrder(t, repo, "order-1")

	seq := NewSequencer(repo, &SimulatedExecutor{}, notifier, logger.NewNop())
	seq.Start(context.Background(), "order-1")
	seq.Wait()

	order, err := repo.Get(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, soltok.OrderDelivered, order.Status)
	for _, step := range order.Steps {
		assert.Equal(t, soltok.StepCompleted, step.Status, "step %s", step.ID)
	}

	assert.True(t, strings.HasPrefix(order.TrackingNumber, "TK"), "tracking %q", order.TrackingNumber)
	assert.Equal(t, DefaultCarrier, order.Carrier)
	assert.Equal(t, []string{soltok.EventOrderShipped}, notifier.events)
	assert.Equal(t, order.TrackingNumber, notifier.orders[0].TrackingNumber)
}

func TestSequencerHaltsOnFailure(t *testing.T) {
	repo := newMemRepo()
	seedOrder(t, repo, "order-1")

	executor := FuncExecutor{
		StepCardIssuance: func(context.Context, *soltok.Order) error {
			return errors.New("issuer declined")
		},
	}
	seq := NewSequencer(repo, executor, nil, logger.NewNop())
	seq.Start(context.Background(), "order-1")
	seq.Wait()

	order, err := repo.Get(context.Background(), "order-1")
	require.NoError(t, err)

	assert.Equal(t, soltok.StepCompleted, order.StepByID("escrow-lock").Status)
	assert.Equal(t, soltok.StepCompleted, order.StepByID("fiat-settlement").Status)
	assert.Equal(t, soltok.StepFailed, order.StepByID("card-issuance").Status)
	// Later steps never start.
	assert.Equal(t, soltok.StepPending, order.StepByID("proxy-purchase").Status)
	assert.Equal(t, soltok.StepPending, order.StepByID("tracking-sync").Status)

	// Coarse status stays at processing, never shipped or delivered.
	assert.Equal(t, soltok.OrderProcessing, order.Status)
	assert.Empty(t, order.TrackingNumber)
}

func TestSequencerStopsWhenRefunded(t *testing.T) {
	repo := newMemRepo()
	seedOrder(t, repo, "order-1")

	// The fiat-settlement executor refunds the order out from under the
	// pipeline; the re-read before card-issuance must observe it and stop.
	executor := FuncExecutor{
		StepFiatSettlement: func(ctx context.Context, _ *soltok.Order) error {
			order, err := repo.Get(ctx, "order-1")
			if err != nil {
				return err
			}
			order.Status = soltok.OrderRefunded
			return repo.Update(ctx, order)
		},
	}
	seq := NewSequencer(repo, executor, nil, logger.NewNop())
	seq.Start(context.Background(), "order-1")
	seq.Wait()

	order, err := repo.Get(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, soltok.OrderRefunded, order.Status)
	assert.Equal(t, soltok.StepPending, order.StepByID("card-issuance").Status)
	assert.Equal(t, soltok.StepPending, order.StepByID("tracking-sync").Status)
}

func TestSequencerResumesSkippingCompleted(t *testing.T) {
	repo := newMemRepo()
	order := seedOrder(t, repo, "order-1")

	// Simulate a previously recovered pipeline: first three steps done.
	order.Steps[0].Status = soltok.StepCompleted
	order.Steps[1].Status = soltok.StepCompleted
	order.Steps[2].Status = soltok.StepCompleted
	require.NoError(t, repo.Update(context.Background(), order))

	var executed []StepKind
	var mu sync.Mutex
	executor := FuncExecutor{}
	for _, k := range Kinds() {
		kind := k
		executor[kind] = func(context.Context, *soltok.Order) error {
			mu.Lock()
			executed = append(executed, kind)
			mu.Unlock()
			return nil
		}
	}

	seq := NewSequencer(repo, executor, nil, logger.NewNop())
	seq.Start(context.Background(), "order-1")
	seq.Wait()

	assert.Equal(t, []StepKind{StepProxyPurchase, StepTrackingSync}, executed)

	got, err := repo.Get(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, soltok.OrderDelivered, got.Status)
}

func TestSequencerStartIsIdempotentWhileRunning(t *testing.T) {
	repo := newMemRepo()
	seedOrder(t, repo, "order-1")

	release := make(chan struct{})
	var execCount int
	var mu sync.Mutex
	executor := FuncExecutor{
		StepEscrowLock: func(context.Context, *soltok.Order) error {
			mu.Lock()
			execCount++
			mu.Unlock()
			<-release
			return nil
		},
	}

	seq := NewSequencer(repo, executor, nil, logger.NewNop())
	seq.Start(context.Background(), "order-1")
	seq.Start(context.Background(), "order-1") // no-op while in flight
	assert.True(t, seq.Running("order-1"))

	close(release)
	seq.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, execCount)
	assert.False(t, seq.Running("order-1"))
}
