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

// EscrowHandler handles escrow custody endpoints.
type EscrowHandler struct {
	escrowSvc ports.EscrowService
}

// NewEscrowHandler creates a new EscrowHandler.
func NewEscrowHandler(escrowSvc ports.EscrowService) *EscrowHandler {
	return &EscrowHandler{escrowSvc: escrowSvc}
}

// Lock handles POST /api/v1/escrow/lock.
func (h *EscrowHandler) Lock(c *gin.Context) {
	caller, ok := middleware.Identity(c)
	if !ok {
		response.Error(c, apperror.ErrMissingAuth())
		return
	}

	var req dto.LockEscrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	orderID, err := uuid.Parse(req.OrderID)
	if err != nil {
		response.Error(c, apperror.Validation("invalid order id"))
		return
	}
	btcAmount, err := dto.ParseAmount(req.BTCAmount)
	if err != nil {
		response.Error(c, apperror.Validation("btc_amount is not a valid decimal"))
		return
	}

	escrow, err := h.escrowSvc.Lock(c.Request.Context(), caller, orderID, btcAmount)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, dto.FromEscrow(escrow))
}

// Release handles POST /api/v1/escrow/release.
func (h *EscrowHandler) Release(c *gin.Context) {
	caller, ok := middleware.Identity(c)
	if !ok {
		response.Error(c, apperror.ErrMissingAuth())
		return
	}

	var req dto.ReleaseEscrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	orderID, err := uuid.Parse(req.OrderID)
	if err != nil {
		response.Error(c, apperror.Validation("invalid order id"))
		return
	}

	dist, err := h.escrowSvc.Release(c.Request.Context(), caller, orderID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.DistributionResponse{
		ProviderAmount: dist.ProviderAmount.String(),
		PlatformAmount: dist.PlatformAmount.String(),
	})
}

// Get handles GET /api/v1/escrow/:order_id. Auth is optional here; a
// caller without a verifiable identity is treated as a non-participant by
// the service's visibility scoping.
func (h *EscrowHandler) Get(c *gin.Context) {
	caller, _ := middleware.Identity(c)
	orderID, err := uuid.Parse(c.Param("order_id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid order id"))
		return
	}

	escrow, err := h.escrowSvc.Get(c.Request.Context(), caller, orderID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.FromEscrow(escrow))
}
