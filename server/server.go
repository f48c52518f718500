// Package server exposes the bridge core over HTTP: checkout, order
// status, and the operator actions. It is a thin surface; all invariants
// live in the escrow, fulfillment, and store packages.
package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	solana "github.com/gagliardetto/solana-go"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	soltok "github.com/soltok-labs/soltok/go"
	"github.com/soltok-labs/soltok/go/escrow"
	"github.com/soltok-labs/soltok/go/fulfillment"
	"github.com/soltok-labs/soltok/go/pkg/logger"
)

// EscrowService is the slice of the escrow client the server depends on.
type EscrowService interface {
	Checkout(ctx context.Context, orderID, amount string) (*escrow.CheckoutResult, error)
	Refund(ctx context.Context, orderID string, buyer solana.PublicKey) (solana.Signature, error)
}

// Server wires the HTTP surface to the core components.
type Server struct {
	engine    *gin.Engine
	escrow    EscrowService
	orders    soltok.OrderRepository
	sequencer *fulfillment.Sequencer
	notifier  soltok.Notifier
	log       logger.Logger
	feeBps    uint16
}

// Options configures a Server.
type Options struct {
	Escrow    EscrowService
	Orders    soltok.OrderRepository
	Sequencer *fulfillment.Sequencer
	Notifier  soltok.Notifier
	Log       logger.Logger
	FeeBps    uint16
}

// New builds the server and registers its routes.
func New(opts Options) *Server {
	s := &Server{
		engine:    gin.New(),
		escrow:    opts.Escrow,
		orders:    opts.Orders,
		sequencer: opts.Sequencer,
		notifier:  opts.Notifier,
		log:       opts.Log,
		feeBps:    opts.FeeBps,
	}
	s.engine.Use(gin.Recovery(), requestLogger(s.log))

	api := s.engine.Group("/api")
	{
		api.POST("/orders", s.handleCreateOrder)
		api.GET("/orders", s.handleListOrders)
		api.GET("/orders/:id", s.handleGetOrder)
		api.POST("/orders/:id/status", s.handleSetStatus)
		api.POST("/orders/:id/advance", s.handleAdvance)
		api.POST("/orders/:id/refund", s.handleRefund)
		api.DELETE("/orders", s.handleClearAll)
	}
	s.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return s
}

// Router returns the underlying gin engine (tests drive it directly).
func (s *Server) Router() http.Handler {
	return s.engine
}

// Run serves HTTP on addr until the listener fails.
func (s *Server) Run(addr string) error {
	return s.engine.Run(addr)
}

type createOrderRequest struct {
	Product  soltok.ProductSnapshot `json:"product"`
	Shipping soltok.ShippingAddress `json:"shippingAddress"`
}

func (s *Server) handleCreateOrder(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		s.renderError(c, http.StatusBadRequest, soltok.Errorf("bad_request", "failed to read body: %v", err))
		return
	}
	if errs := validateCreateOrder(body); errs != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "invalid_request", "errors": errs})
		return
	}

	var req createOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.renderError(c, http.StatusBadRequest, soltok.Errorf("bad_request", "invalid body: %v", err))
		return
	}

	total, err := escrow.TotalWithFee(req.Product.Price, s.feeBps)
	if err != nil {
		s.renderError(c, http.StatusBadRequest, err)
		return
	}

	orderID := newOrderID()
	result, err := s.escrow.Checkout(c.Request.Context(), orderID, total)
	if err != nil {
		s.renderError(c, escrowStatusCode(err), err)
		return
	}

	order := &soltok.Order{
		ID:            orderID,
		Product:       req.Product,
		Status:        soltok.OrderPending,
		TotalUSDC:     total,
		EscrowTx:      result.TxSignature.String(),
		EscrowAddress: result.EscrowAddress.String(),
		Buyer:         result.Record.Buyer.String(),
		Shipping:      req.Shipping,
		Steps:         fulfillment.NewSteps(),
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.orders.Create(c.Request.Context(), order); err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}

	if s.notifier != nil {
		if err := s.notifier.Notify(c.Request.Context(), soltok.EventOrderCreated, order); err != nil {
			s.log.Warnf("server: order %s: created notification failed: %v", order.ID, err)
		}
	}

	s.sequencer.Start(context.WithoutCancel(c.Request.Context()), order.ID)

	c.JSON(http.StatusCreated, order)
}

func (s *Server) handleListOrders(c *gin.Context) {
	orders, err := s.orders.List(c.Request.Context())
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (s *Server) handleGetOrder(c *gin.Context) {
	order, err := s.orders.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.renderError(c, http.StatusNotFound, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

type setStatusRequest struct {
	Status soltok.OrderStatus `json:"status" binding:"required"`
}

// handleSetStatus is the operator's manual status override. The store
// always re-derives the coarse status from the steps, so the override works
// by rewriting the step sequence to one that derives the requested status;
// refunded is the only status written directly.
func (s *Server) handleSetStatus(c *gin.Context) {
	var req setStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.renderError(c, http.StatusBadRequest, soltok.Errorf("bad_request", "invalid body: %v", err))
		return
	}

	order, err := s.orders.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.renderError(c, http.StatusNotFound, err)
		return
	}

	switch req.Status {
	case soltok.OrderRefunded:
		order.Status = soltok.OrderRefunded
	case soltok.OrderPending, soltok.OrderProcessing, soltok.OrderShipped, soltok.OrderDelivered:
		overrideSteps(order, req.Status)
		order.Status = req.Status
	default:
		s.renderError(c, http.StatusBadRequest, soltok.Errorf("bad_request", "unknown status %q", req.Status))
		return
	}

	if err := s.orders.Update(c.Request.Context(), order); err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// overrideSteps rewrites an order's steps to the canonical configuration
// for the given status.
func overrideSteps(order *soltok.Order, status soltok.OrderStatus) {
	for i := range order.Steps {
		order.Steps[i].Status = soltok.StepPending
	}
	switch status {
	case soltok.OrderProcessing:
		if len(order.Steps) > 0 {
			order.Steps[0].Status = soltok.StepCompleted
		}
	case soltok.OrderShipped:
		// Everything through tracking done; the proxy purchase is the one
		// stage an operator may still be reconciling by hand.
		for i := range order.Steps {
			if order.Steps[i].ID != fulfillment.StepProxyPurchase.ID() {
				order.Steps[i].Status = soltok.StepCompleted
			}
		}
	case soltok.OrderDelivered:
		for i := range order.Steps {
			order.Steps[i].Status = soltok.StepCompleted
		}
	}
}

// handleAdvance recovers a halted pipeline: the operator marks the failed
// step completed and the sequencer resumes from the next step.
func (s *Server) handleAdvance(c *gin.Context) {
	order, err := s.orders.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.renderError(c, http.StatusNotFound, err)
		return
	}

	advanced := false
	for i := range order.Steps {
		if order.Steps[i].Status == soltok.StepFailed || order.Steps[i].Status == soltok.StepProcessing {
			order.Steps[i].Status = soltok.StepCompleted
			advanced = true
			break
		}
	}
	if !advanced {
		s.renderError(c, http.StatusConflict, soltok.Errorf("bad_request", "order %s has no step to advance", order.ID))
		return
	}
	if err := s.orders.Update(c.Request.Context(), order); err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}

	s.sequencer.Start(context.WithoutCancel(c.Request.Context()), order.ID)
	c.JSON(http.StatusOK, order)
}

func (s *Server) handleRefund(c *gin.Context) {
	order, err := s.orders.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.renderError(c, http.StatusNotFound, err)
		return
	}
	if order.Status == soltok.OrderRefunded {
		c.JSON(http.StatusOK, order)
		return
	}

	buyer, err := solana.PublicKeyFromBase58(order.Buyer)
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, soltok.Errorf("bad_request", "order %s has invalid buyer: %v", order.ID, err))
		return
	}
	sig, err := s.escrow.Refund(c.Request.Context(), order.ID, buyer)
	if err != nil {
		s.renderError(c, http.StatusBadGateway, err)
		return
	}
	s.log.Infof("server: order %s refunded on-chain, tx %s", order.ID, sig)

	order.Status = soltok.OrderRefunded
	if err := s.orders.Update(c.Request.Context(), order); err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (s *Server) handleClearAll(c *gin.Context) {
	if err := s.orders.ClearAll(c.Request.Context()); err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) renderError(c *gin.Context, status int, err error) {
	if be, ok := err.(*soltok.Error); ok {
		c.JSON(status, be)
		return
	}
	c.JSON(status, gin.H{"code": "internal", "message": err.Error()})
}

// newOrderID returns a fresh order identifier. Hyphens are stripped so the
// 32-character result fits the ledger's per-seed length limit when used in
// escrow address derivation.
func newOrderID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// escrowStatusCode maps checkout failures to HTTP statuses.
func escrowStatusCode(err error) int {
	switch {
	case soltok.IsCode(err, soltok.ErrCodeInsufficientBalance):
		return http.StatusPaymentRequired
	case soltok.IsCode(err, soltok.ErrCodeInvalidAmount),
		soltok.IsCode(err, soltok.ErrCodeInvalidSeed),
		soltok.IsCode(err, soltok.ErrCodeUserRejected):
		return http.StatusBadRequest
	case soltok.IsCode(err, soltok.ErrCodeSignerUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}
