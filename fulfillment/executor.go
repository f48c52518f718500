package fulfillment

import (
	"context"
	"time"

	soltok "github.com/soltok-labs/soltok/go"
)

// StepExecutor performs the unit of work behind one fulfillment step. The
// sequencer does not know whether a step is real or simulated; swapping in
// a real off-ramp, card-issuance, or purchase integration means swapping
// the executor, not touching the sequencer.
type StepExecutor interface {
	Execute(ctx context.Context, kind StepKind, order *soltok.Order) error
}

// SimulatedExecutor stands in for the external fulfillment backends that
// are unavailable to this core. Each step completes after a fixed delay.
type SimulatedExecutor struct {
	// Delay applies to every step unless Delays overrides it.
	Delay time.Duration

	// Delays holds per-kind overrides.
	Delays map[StepKind]time.Duration
}

// Execute waits the configured delay, then reports success. Once started
// the wait runs to completion unless the whole context is cancelled.
func (e *SimulatedExecutor) Execute(ctx context.Context, kind StepKind, _ *soltok.Order) error {
	d := e.Delay
	if override, ok := e.Delays[kind]; ok {
		d = override
	}
	if d <= 0 {
		return nil
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FuncExecutor dispatches each step kind to a registered function; kinds
// without a registered function succeed immediately. This is the hook for
// real async integrations.
type FuncExecutor map[StepKind]func(ctx context.Context, order *soltok.Order) error

func (e FuncExecutor) Execute(ctx context.Context, kind StepKind, order *soltok.Order) error {
	fn, ok := e[kind]
	if !ok {
		return nil
	}
	return fn(ctx, order)
}

var (
	_ StepExecutor = (*SimulatedExecutor)(nil)
	_ StepExecutor = (FuncExecutor)(nil)
)
