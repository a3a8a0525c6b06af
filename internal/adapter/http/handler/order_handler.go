package handler

import (
	"nostr-escrow-gateway/internal/adapter/http/dto"
	"nostr-escrow-gateway/internal/adapter/http/middleware"
	"nostr-escrow-gateway/internal/core/ports"
	"nostr-escrow-gateway/pkg/apperror"
	"nostr-escrow-gateway/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// OrderHandler handles order lifecycle endpoints.
type OrderHandler struct {
	orderSvc ports.OrderService
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(orderSvc ports.OrderService) *OrderHandler {
	return &OrderHandler{orderSvc: orderSvc}
}

// Create handles POST /api/v1/orders.
func (h *OrderHandler) Create(c *gin.Context) {
	caller, ok := middleware.Identity(c)
	if !ok {
		response.Error(c, apperror.ErrMissingAuth())
		return
	}

	var req dto.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	fiatAmount, err := dto.ParseAmount(req.FiatAmount)
	if err != nil {
		response.Error(c, apperror.Validation("fiat_amount is not a valid decimal"))
		return
	}
	btcAmount, err := dto.ParseAmount(req.BTCAmount)
	if err != nil {
		response.Error(c, apperror.Validation("btc_amount is not a valid decimal"))
		return
	}

	order, err := h.orderSvc.Create(c.Request.Context(), ports.CreateOrderRequest{
		Owner:            caller,
		BillReference:    req.BillReference,
		PaymentReference: req.PaymentReference,
		FiatAmount:       fiatAmount,
		BTCAmount:        btcAmount,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.FromOrder(order))
}

// Get handles GET /api/v1/orders/:id.
func (h *OrderHandler) Get(c *gin.Context) {
	caller, ok := middleware.Identity(c)
	if !ok {
		response.Error(c, apperror.ErrMissingAuth())
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid order id"))
		return
	}

	order, err := h.orderSvc.Get(c.Request.Context(), id, caller)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.FromOrder(order))
}

// ListByUser handles GET /api/v1/orders/user/:pubkey.
func (h *OrderHandler) ListByUser(c *gin.Context) {
	caller, ok := middleware.Identity(c)
	if !ok {
		response.Error(c, apperror.ErrMissingAuth())
		return
	}

	orders, err := h.orderSvc.ListByUser(c.Request.Context(), c.Param("pubkey"), caller)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.FromOrders(orders))
}

// ListAvailable handles GET /api/v1/orders/available.
func (h *OrderHandler) ListAvailable(c *gin.Context) {
	orders, err := h.orderSvc.ListAvailable(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.FromOrders(orders))
}

// Accept handles POST /api/v1/orders/:id/accept.
func (h *OrderHandler) Accept(c *gin.Context) {
	caller, ok := middleware.Identity(c)
	if !ok {
		response.Error(c, apperror.ErrMissingAuth())
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid order id"))
		return
	}

	// Body is optional; absent means no collateral hold.
	var req dto.AcceptOrderRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, apperror.Validation(err.Error()))
			return
		}
	}

	order, err := h.orderSvc.Accept(c.Request.Context(), id, caller, req.LockCollateral)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.FromOrder(order))
}

// Cancel handles POST /api/v1/orders/:id/cancel.
func (h *OrderHandler) Cancel(c *gin.Context) {
	caller, ok := middleware.Identity(c)
	if !ok {
		response.Error(c, apperror.ErrMissingAuth())
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid order id"))
		return
	}

	order, err := h.orderSvc.Cancel(c.Request.Context(), id, caller)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.FromOrder(order))
}

// SubmitProof handles POST /api/v1/orders/:id/proof.
func (h *OrderHandler) SubmitProof(c *gin.Context) {
	caller, ok := middleware.Identity(c)
	if !ok {
		response.Error(c, apperror.ErrMissingAuth())
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid order id"))
		return
	}

	var req dto.SubmitProofRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	order, err := h.orderSvc.SubmitProof(c.Request.Context(), id, caller, ports.SubmitProofRequest{
		ProofReference: req.ProofReference,
		ProofData:      req.ProofData,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.FromOrder(order))
}

// Validate handles POST /api/v1/orders/:id/validate.
func (h *OrderHandler) Validate(c *gin.Context) {
	caller, ok := middleware.Identity(c)
	if !ok {
		response.Error(c, apperror.ErrMissingAuth())
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid order id"))
		return
	}

	var req dto.ValidateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	order, err := h.orderSvc.Validate(c.Request.Context(), id, caller, ports.ValidateRequest{
		Approved:        *req.Approved,
		RejectionReason: req.RejectionReason,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.FromOrder(order))
}
