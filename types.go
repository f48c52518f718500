// Package soltok contains the shared domain types for the soltok bridge
// core: orders, fulfillment steps, and the collaborator interfaces that the
// escrow, fulfillment, and store subpackages are wired together through.
package soltok

import (
	"encoding/json"
	"time"
)

// OrderStatus is the coarse order-level status. It is always derivable from
// the order's fulfillment steps (see DeriveStatus in the fulfillment
// package), with the exception of OrderRefunded, which is set by an
// operator action and absorbs all further automatic transitions.
type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderProcessing OrderStatus = "processing"
	OrderShipped    OrderStatus = "shipped"
	OrderDelivered  OrderStatus = "delivered"
	OrderRefunded   OrderStatus = "refunded"
)

// StepStatus is the status of a single fulfillment step. Steps advance
// pending -> processing -> completed; failed is absorbing.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepProcessing StepStatus = "processing"
	StepCompleted  StepStatus = "completed"
	StepFailed     StepStatus = "failed"
)

// FulfillmentStep is one stage of an order's fulfillment pipeline. The
// sequence of steps is fixed at order creation; only Status mutates.
type FulfillmentStep struct {
	ID          string     `json:"id"`
	Label       string     `json:"label"`
	Status      StepStatus `json:"status"`
	Description string     `json:"description"`
	Icon        string     `json:"icon"`
}

// ProductSnapshot captures the product as it was at checkout time. Amounts
// are decimal strings (e.g. "24.99") to keep money out of float64.
type ProductSnapshot struct {
	Name  string `json:"name"`
	Image string `json:"image"`
	Price string `json:"price"`
}

// ShippingAddress is the buyer-provided shipping destination, snapshotted
// at order creation.
type ShippingAddress struct {
	FullName string `json:"fullName"`
	Email    string `json:"email,omitempty"`
	Street   string `json:"street"`
	City     string `json:"city"`
	State    string `json:"state"`
	Zip      string `json:"zip"`
}

// Order is the aggregate root for a single checkout. Product, Shipping,
// Buyer, EscrowTx and CreatedAt are immutable after creation; Status, Steps
// and the tracking fields are mutated exclusively through the order store.
type Order struct {
	ID             string            `json:"id"`
	Product        ProductSnapshot   `json:"product"`
	Status         OrderStatus       `json:"status"`
	TotalUSDC      string            `json:"totalUsdc"`
	EscrowTx       string            `json:"escrowTx,omitempty"`
	EscrowAddress  string            `json:"escrowAddress,omitempty"`
	Buyer          string            `json:"buyer,omitempty"`
	Shipping       ShippingAddress   `json:"shippingAddress"`
	Steps          []FulfillmentStep `json:"steps"`
	TrackingNumber string            `json:"trackingNumber,omitempty"`
	Carrier        string            `json:"carrier,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
}

// Clone returns a deep copy of the order. Steps are copied so callers can
// mutate the result without aliasing stored state.
func (o *Order) Clone() *Order {
	cp := *o
	cp.Steps = make([]FulfillmentStep, len(o.Steps))
	copy(cp.Steps, o.Steps)
	return &cp
}

// StepByID returns a pointer into the order's step slice, or nil.
func (o *Order) StepByID(id string) *FulfillmentStep {
	for i := range o.Steps {
		if o.Steps[i].ID == id {
			return &o.Steps[i]
		}
	}
	return nil
}

// MarshalOrder serializes an order the way both the local cache and the
// remote store persist it: a single JSON document, full record.
func MarshalOrder(o *Order) ([]byte, error) {
	return json.Marshal(o)
}

// UnmarshalOrder is the inverse of MarshalOrder. Fields absent on old
// cached records simply keep their zero values; there is no schema
// versioning on the persisted layout.
func UnmarshalOrder(data []byte) (*Order, error) {
	var o Order
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, err
	}
	return &o, nil
}
