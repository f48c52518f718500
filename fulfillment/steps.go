// Package fulfillment drives a confirmed order through its fixed pipeline
// of fulfillment steps, one order at a time per pipeline and concurrently
// across orders.
package fulfillment

import (
	soltok "github.com/soltok-labs/soltok/go"
)

// StepKind is the closed set of fulfillment step kinds. The order of the
// constants is the execution order of the pipeline.
type StepKind int

const (
	StepEscrowLock StepKind = iota
	StepFiatSettlement
	StepCardIssuance
	StepProxyPurchase
	StepTrackingSync
)

type stepDescriptor struct {
	id          string
	label       string
	description string
	icon        string
}

// Fixed descriptor table keyed by StepKind; replaces the string-keyed
// lookup so an unknown step kind cannot exist at runtime.
var stepDescriptors = [...]stepDescriptor{
	StepEscrowLock:     {"escrow-lock", "Escrow Lock", "USDC deposit confirmation on Solana.", "wallet"},
	StepFiatSettlement: {"fiat-settlement", "Fiat Off-Ramp", "Settling USDC to USD with the off-ramp partner.", "bridge"},
	StepCardIssuance:   {"card-issuance", "VCC Issuance", "Generating a single-use proxy card for checkout.", "card"},
	StepProxyPurchase:  {"proxy-purchase", "Proxy Purchase", "Automated merchant checkout execution.", "cart"},
	StepTrackingSync:   {"tracking-sync", "Tracking Sync", "Finalizing carrier tracking.", "truck"},
}

// Kinds returns all step kinds in execution order.
func Kinds() []StepKind {
	return []StepKind{StepEscrowLock, StepFiatSettlement, StepCardIssuance, StepProxyPurchase, StepTrackingSync}
}

// ID returns the stable step identifier used in persisted orders.
func (k StepKind) ID() string { return stepDescriptors[k].id }

// Label returns the human-readable step name.
func (k StepKind) Label() string { return stepDescriptors[k].label }

func (k StepKind) String() string { return stepDescriptors[k].id }

// NewSteps builds the five canonical pending steps assigned to every order
// at creation.
func NewSteps() []soltok.FulfillmentStep {
	steps := make([]soltok.FulfillmentStep, 0, len(stepDescriptors))
	for _, k := range Kinds() {
		d := stepDescriptors[k]
		steps = append(steps, soltok.FulfillmentStep{
			ID:          d.id,
			Label:       d.label,
			Status:      soltok.StepPending,
			Description: d.description,
			Icon:        d.icon,
		})
	}
	return steps
}

// DeriveStatus computes the coarse order status from the step sequence
// alone. The stored order status must always equal this derivation (with
// the operator-set refunded state as the only exception):
//
//   - delivered when every step is completed
//   - shipped when the tracking-sync step is completed but not all are
//   - processing when at least one step is processing or completed
//   - pending otherwise
func DeriveStatus(steps []soltok.FulfillmentStep) soltok.OrderStatus {
	if len(steps) == 0 {
		return soltok.OrderPending
	}

	allCompleted := true
	anyStarted := false
	trackingDone := false
	for _, s := range steps {
		switch s.Status {
		case soltok.StepCompleted:
			anyStarted = true
			if s.ID == StepTrackingSync.ID() {
				trackingDone = true
			}
		case soltok.StepProcessing:
			anyStarted = true
			allCompleted = false
		default:
			allCompleted = false
		}
	}

	switch {
	case allCompleted:
		return soltok.OrderDelivered
	case trackingDone:
		return soltok.OrderShipped
	case anyStarted:
		return soltok.OrderProcessing
	default:
		return soltok.OrderPending
	}
}
