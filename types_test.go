package soltok

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderClone(t *testing.T) {
	order := &Order{
		ID: "order-1",
		Steps: []FulfillmentStep{
			{ID: "escrow-lock", Status: StepPending},
			{ID: "tracking-sync", Status: StepPending},
		},
		CreatedAt: time.Now().UTC(),
	}

	cp := order.Clone()
	cp.Steps[0].Status = StepCompleted
	cp.TrackingNumber = "TKX"

	assert.Equal(t, StepPending, order.Steps[0].Status)
	assert.Empty(t, order.TrackingNumber)
}

func TestStepByID(t *testing.T) {
	order := &Order{
		Steps: []FulfillmentStep{
			{ID: "escrow-lock", Status: StepPending},
			{ID: "fiat-settlement", Status: StepPending},
		},
	}

	step := order.StepByID("fiat-settlement")
	require.NotNil(t, step)

	// The pointer aliases the order's slice so callers can mutate in place.
	step.Status = StepProcessing
	assert.Equal(t, StepProcessing, order.Steps[1].Status)

	assert.Nil(t, order.StepByID("unknown"))
}

func TestOrderMarshalRoundTrip(t *testing.T) {
	order := &Order{
		ID:        "order-1",
		Product:   ProductSnapshot{Name: "Mechanical Keyboard", Price: "24.99"},
		Status:    OrderShipped,
		TotalUSDC: "26.2395",
		Steps: []FulfillmentStep{
			{ID: "escrow-lock", Label: "Escrow Lock", Status: StepCompleted},
		},
		TrackingNumber: "TKABC",
		Carrier:        "USPS",
		CreatedAt:      time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	data, err := MarshalOrder(order)
	require.NoError(t, err)

	got, err := UnmarshalOrder(data)
	require.NoError(t, err)
	assert.Equal(t, order.ID, got.ID)
	assert.Equal(t, order.Product, got.Product)
	assert.Equal(t, order.Status, got.Status)
	assert.Equal(t, order.Steps, got.Steps)
	assert.Equal(t, order.TrackingNumber, got.TrackingNumber)
	assert.True(t, got.CreatedAt.Equal(order.CreatedAt))
}

func TestIsCode(t *testing.T) {
	err := Errorf(ErrCodeOrderNotFound, "order %s not found", "x")
	assert.True(t, IsCode(err, ErrCodeOrderNotFound))
	assert.False(t, IsCode(err, ErrCodeInvalidAmount))
	assert.False(t, IsCode(nil, ErrCodeOrderNotFound))
	assert.False(t, IsCode(assert.AnError, ErrCodeOrderNotFound))
}
