package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	solana "github.com/gagliardetto/solana-go"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	soltok "github.com/soltok-labs/soltok/go"
	"github.com/soltok-labs/soltok/go/escrow"
	"github.com/soltok-labs/soltok/go/fulfillment"
	"github.com/soltok-labs/soltok/go/pkg/logger"
	"github.com/soltok-labs/soltok/go/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var testBuyer = solana.MustPublicKeyFromBase58("9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin")

// fakeEscrow satisfies EscrowService without a ledger. checkoutErr and
// refundErr force failures.
type fakeEscrow struct {
	checkoutErr   error
	refundErr     error
	checkoutCalls int
	refundCalls   int
	lastAmount    string
}

func (f *fakeEscrow) Checkout(_ context.Context, orderID, amount string) (*escrow.CheckoutResult, error) {
	f.checkoutCalls++
	f.lastAmount = amount
	if f.checkoutErr != nil {
		return &escrow.CheckoutResult{State: escrow.StateFailed}, f.checkoutErr
	}
	baseUnits, err := escrow.ParseAmount(amount, escrow.USDCDecimals)
	if err != nil {
		return &escrow.CheckoutResult{State: escrow.StateFailed}, err
	}
	escrowAddr, _, err := escrow.EscrowAddress(escrow.DefaultProgramID, orderID, testBuyer)
	if err != nil {
		return &escrow.CheckoutResult{State: escrow.StateFailed}, err
	}
	return &escrow.CheckoutResult{
		State:         escrow.StateConfirmed,
		TxSignature:   solana.Signature{0xAA},
		EscrowAddress: escrowAddr,
		Record: &escrow.Record{
			Buyer:   testBuyer,
			OrderID: orderID,
			Amount:  baseUnits,
			Status:  escrow.StatusLocked,
		},
	}, nil
}

func (f *fakeEscrow) Refund(_ context.Context, _ string, _ solana.PublicKey) (solana.Signature, error) {
	f.refundCalls++
	if f.refundErr != nil {
		return solana.Signature{}, f.refundErr
	}
	return solana.Signature{0xBB}, nil
}

type testEnv struct {
	server *Server
	escrow *fakeEscrow
	orders *store.OrderStore
	seq    *fulfillment.Sequencer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	orders, err := store.New(store.NewMemoryRemote(), store.NewMemoryCache(), logger.NewNop())
	require.NoError(t, err)
	require.NoError(t, orders.Start(context.Background()))
	t.Cleanup(orders.Close)

	fe := &fakeEscrow{}
	seq := fulfillment.NewSequencer(orders, &fulfillment.SimulatedExecutor{}, nil, logger.NewNop())

	srv := New(Options{
		Escrow:    fe,
		Orders:    orders,
		Sequencer: seq,
		Log:       logger.NewNop(),
		FeeBps:    500,
	})
	return &testEnv{server: srv, escrow: fe, orders: orders, seq: seq}
}

func (e *testEnv) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rec, req)
	return rec
}

func validCreateBody() map[string]any {
	return map[string]any{
		"product": map[string]any{
			"name":  "Mechanical Keyboard",
			"image": "https://example.com/kb.jpg",
			"price": "24.99",
		},
		"shippingAddress": map[string]any{
			"fullName": "Pat Doe",
			"street":   "1 Main St",
			"city":     "Springfield",
			"state":    "IL",
			"zip":      "62701",
		},
	}
}

func decodeOrder(t *testing.T, rec *httptest.ResponseRecorder) *soltok.Order {
	t.Helper()
	var order soltok.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &order))
	return &order
}

func TestCreateOrder(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/api/orders", validCreateBody())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	order := decodeOrder(t, rec)
	assert.Len(t, order.ID, 32)
	assert.Equal(t, "26.2395", order.TotalUSDC)
	assert.Equal(t, "26.2395", env.escrow.lastAmount)
	assert.Equal(t, testBuyer.String(), order.Buyer)
	assert.NotEmpty(t, order.EscrowTx)
	assert.NotEmpty(t, order.EscrowAddress)
	require.Len(t, order.Steps, 5)

	// The pipeline runs to completion with the zero-delay executor.
	env.seq.Wait()
	env.orders.Flush()

	rec = env.do(http.MethodGet, "/api/orders/"+order.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	final := decodeOrder(t, rec)
	assert.Equal(t, soltok.OrderDelivered, final.Status)
	assert.NotEmpty(t, final.TrackingNumber)
	assert.Equal(t, "USPS", final.Carrier)
}

func TestCreateOrderSchemaViolations(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		mutate func(m map[string]any)
	}{
		{"missing product", func(m map[string]any) { delete(m, "product") }},
		{"missing shipping", func(m map[string]any) { delete(m, "shippingAddress") }},
		{"empty name", func(m map[string]any) {
			m["product"].(map[string]any)["name"] = ""
		}},
		{"bad price", func(m map[string]any) {
			m["product"].(map[string]any)["price"] = "24.99 USD"
		}},
		{"missing zip", func(m map[string]any) {
			delete(m["shippingAddress"].(map[string]any), "zip")
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := validCreateBody()
			tt.mutate(body)
			rec := env.do(http.MethodPost, "/api/orders", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			// The escrow is never touched by an invalid request.
			assert.Equal(t, 0, env.escrow.checkoutCalls)
		})
	}
}

func TestCreateOrderInsufficientBalance(t *testing.T) {
	env := newTestEnv(t)
	env.escrow.checkoutErr = soltok.Errorf(soltok.ErrCodeInsufficientBalance, "balance 10 USDC is less than required 26.2395")

	rec := env.do(http.MethodPost, "/api/orders", validCreateBody())
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)

	var resp soltok.Error
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, soltok.ErrCodeInsufficientBalance, resp.Code)

	// No order record exists for the failed checkout.
	listRec := env.do(http.MethodGet, "/api/orders", nil)
	var listing struct {
		Orders []soltok.Order `json:"orders"`
	}
	require.NoError(t, json.Unmarshal(listRec.Body.Bytes(), &listing))
	assert.Empty(t, listing.Orders)
}

func TestGetOrderNotFound(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodGet, "/api/orders/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusOverride(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/api/orders", validCreateBody())
	require.Equal(t, http.StatusCreated, rec.Code)
	order := decodeOrder(t, rec)
	env.seq.Wait()

	rec = env.do(http.MethodPost, "/api/orders/"+order.ID+"/status", map[string]any{"status": "shipped"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// The stored status sticks even though the store derives status from
	// steps: the override rewrote the steps to match.
	rec = env.do(http.MethodGet, "/api/orders/"+order.ID, nil)
	stored := decodeOrder(t, rec)
	assert.Equal(t, soltok.OrderShipped, stored.Status)

	rec = env.do(http.MethodPost, "/api/orders/"+order.ID+"/status", map[string]any{"status": "teleported"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRefund(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/api/orders", validCreateBody())
	require.Equal(t, http.StatusCreated, rec.Code)
	order := decodeOrder(t, rec)
	env.seq.Wait()

	rec = env.do(http.MethodPost, "/api/orders/"+order.ID+"/refund", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	refunded := decodeOrder(t, rec)
	assert.Equal(t, soltok.OrderRefunded, refunded.Status)
	assert.Equal(t, 1, env.escrow.refundCalls)

	// Refunding again is idempotent and does not hit the chain twice.
	rec = env.do(http.MethodPost, "/api/orders/"+order.ID+"/refund", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, env.escrow.refundCalls)
}

func TestClearAll(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/api/orders", validCreateBody())
	require.Equal(t, http.StatusCreated, rec.Code)
	env.seq.Wait()

	rec = env.do(http.MethodDelete, "/api/orders", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	listRec := env.do(http.MethodGet, "/api/orders", nil)
	var listing struct {
		Orders []soltok.Order `json:"orders"`
	}
	require.NoError(t, json.Unmarshal(listRec.Body.Bytes(), &listing))
	assert.Empty(t, listing.Orders)
}

func TestAdvanceRecoversFailedStep(t *testing.T) {
	orders, err := store.New(store.NewMemoryRemote(), store.NewMemoryCache(), logger.NewNop())
	require.NoError(t, err)
	require.NoError(t, orders.Start(context.Background()))
	t.Cleanup(orders.Close)

	// card-issuance fails on the first attempt only.
	attempts := 0
	executor := fulfillment.FuncExecutor{
		fulfillment.StepCardIssuance: func(context.Context, *soltok.Order) error {
			attempts++
			if attempts == 1 {
				return soltok.Errorf(soltok.ErrCodeStepFailed, "issuer declined")
			}
			return nil
		},
	}
	fe := &fakeEscrow{}
	seq := fulfillment.NewSequencer(orders, executor, nil, logger.NewNop())
	srv := New(Options{Escrow: fe, Orders: orders, Sequencer: seq, Log: logger.NewNop(), FeeBps: 500})
	env := &testEnv{server: srv, escrow: fe, orders: orders, seq: seq}

	rec := env.do(http.MethodPost, "/api/orders", validCreateBody())
	require.Equal(t, http.StatusCreated, rec.Code)
	order := decodeOrder(t, rec)
	seq.Wait()

	rec = env.do(http.MethodGet, "/api/orders/"+order.ID, nil)
	halted := decodeOrder(t, rec)
	assert.Equal(t, soltok.OrderProcessing, halted.Status)
	assert.Equal(t, soltok.StepFailed, halted.StepByID("card-issuance").Status)

	// Start registers the pipeline before the handler returns, so Wait
	// observes the resumed run.
	rec = env.do(http.MethodPost, "/api/orders/"+order.ID+"/advance", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	seq.Wait()

	rec = env.do(http.MethodGet, "/api/orders/"+order.ID, nil)
	final := decodeOrder(t, rec)
	assert.Equal(t, soltok.OrderDelivered, final.Status)
}
