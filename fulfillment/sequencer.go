package fulfillment

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	soltok "github.com/soltok-labs/soltok/go"
	"github.com/soltok-labs/soltok/go/pkg/logger"
)

// DefaultCarrier is assigned when the tracking-sync step completes.
const DefaultCarrier = "USPS"

// Sequencer advances orders through their fulfillment pipelines. Steps run
// serially within one order; pipelines for different orders run
// concurrently with no shared state between them. All persistence goes
// through the order repository as update intents.
type Sequencer struct {
	orders   soltok.OrderRepository
	executor StepExecutor
	notifier soltok.Notifier
	log      logger.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
	wg       sync.WaitGroup
}

// NewSequencer creates a sequencer. The notifier may be nil, in which case
// shipped notifications are skipped.
func NewSequencer(orders soltok.OrderRepository, executor StepExecutor, notifier soltok.Notifier, log logger.Logger) *Sequencer {
	return &Sequencer{
		orders:   orders,
		executor: executor,
		notifier: notifier,
		log:      log,
		inFlight: make(map[string]struct{}),
	}
}

// Start launches the pipeline for an order in its own goroutine. Starting
// an order whose pipeline is already running is a no-op.
func (s *Sequencer) Start(ctx context.Context, orderID string) {
	s.mu.Lock()
	if _, running := s.inFlight[orderID]; running {
		s.mu.Unlock()
		return
	}
	s.inFlight[orderID] = struct{}{}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.inFlight, orderID)
			s.mu.Unlock()
		}()
		s.run(ctx, orderID)
	}()
}

// Wait blocks until every in-flight pipeline has finished. Used on
// shutdown and by tests.
func (s *Sequencer) Wait() {
	s.wg.Wait()
}

// Running reports whether an order's pipeline is currently in flight.
func (s *Sequencer) Running(orderID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inFlight[orderID]
	return ok
}

func (s *Sequencer) run(ctx context.Context, orderID string) {
	for _, kind := range Kinds() {
		// Re-read before every step: an operator may have refunded the
		// order between steps, which cancels the rest of the pipeline.
		order, err := s.orders.Get(ctx, orderID)
		if err != nil {
			s.log.Errorf("sequencer: order %s disappeared: %v", orderID, err)
			return
		}
		if order.Status == soltok.OrderRefunded {
			s.log.Infof("sequencer: order %s refunded, stopping pipeline", orderID)
			return
		}

		step := order.StepByID(kind.ID())
		if step == nil {
			s.log.Errorf("sequencer: order %s has no %s step", orderID, kind)
			return
		}
		if step.Status == soltok.StepCompleted {
			continue
		}

		step.Status = soltok.StepProcessing
		if err := s.orders.Update(ctx, order); err != nil {
			s.log.Errorf("sequencer: order %s: persisting %s processing: %v", orderID, kind, err)
			return
		}

		// The unit of work runs to completion or failure; there is no
		// mid-step cancellation.
		if err := s.executor.Execute(ctx, kind, order); err != nil {
			s.failStep(ctx, orderID, kind, err)
			return
		}

		order, err = s.orders.Get(ctx, orderID)
		if err != nil {
			s.log.Errorf("sequencer: order %s disappeared: %v", orderID, err)
			return
		}
		step = order.StepByID(kind.ID())
		if step == nil {
			return
		}
		step.Status = soltok.StepCompleted

		if kind == StepTrackingSync {
			order.TrackingNumber = newTrackingNumber()
			order.Carrier = DefaultCarrier
		}

		if err := s.orders.Update(ctx, order); err != nil {
			s.log.Errorf("sequencer: order %s: persisting %s completed: %v", orderID, kind, err)
			return
		}
		s.log.Infof("sequencer: order %s: step %s completed", orderID, kind)

		if kind == StepTrackingSync {
			s.notifyShipped(ctx, order)
		}
	}
}

// failStep marks the step failed and halts the pipeline. Later steps stay
// pending and the coarse status does not advance past the last completed
// step; recovery is an explicit operator action.
func (s *Sequencer) failStep(ctx context.Context, orderID string, kind StepKind, cause error) {
	s.log.Errorf("sequencer: order %s: step %s failed: %v", orderID, kind, cause)

	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		s.log.Errorf("sequencer: order %s disappeared while failing %s: %v", orderID, kind, err)
		return
	}
	step := order.StepByID(kind.ID())
	if step == nil {
		return
	}
	step.Status = soltok.StepFailed
	if err := s.orders.Update(ctx, order); err != nil {
		s.log.Errorf("sequencer: order %s: persisting %s failure: %v", orderID, kind, err)
	}
}

// notifyShipped emits the shipped notification carrying the tracking
// identifier. Best effort: a failed notification is logged, never rolled
// back into step state.
func (s *Sequencer) notifyShipped(ctx context.Context, order *soltok.Order) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, soltok.EventOrderShipped, order); err != nil {
		s.log.Warnf("sequencer: order %s: shipped notification failed: %v", order.ID, err)
	}
}

func newTrackingNumber() string {
	return fmt.Sprintf("TK%s", strings.ToUpper(strconv.FormatInt(time.Now().UnixMilli(), 36)))
}
