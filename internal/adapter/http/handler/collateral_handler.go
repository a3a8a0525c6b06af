package handler

import (
	"nostr-escrow-gateway/internal/adapter/http/dto"
	"nostr-escrow-gateway/internal/adapter/http/middleware"
	"nostr-escrow-gateway/internal/core/ports"
	"nostr-escrow-gateway/pkg/apperror"
	"nostr-escrow-gateway/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CollateralHandler handles provider bond endpoints.
type CollateralHandler struct {
	collateralSvc ports.CollateralService
}

// NewCollateralHandler creates a new CollateralHandler.
func NewCollateralHandler(collateralSvc ports.CollateralService) *CollateralHandler {
	return &CollateralHandler{collateralSvc: collateralSvc}
}

// Deposit handles POST /api/v1/collateral/deposit.
func (h *CollateralHandler) Deposit(c *gin.Context) {
	caller, ok := middleware.Identity(c)
	if !ok {
		response.Error(c, apperror.ErrMissingAuth())
		return
	}

	var req dto.DepositCollateralRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	fiatAmount := decimal.Zero
	if req.FiatAmount != "" {
		var err error
		if fiatAmount, err = dto.ParseAmount(req.FiatAmount); err != nil {
			response.Error(c, apperror.Validation("fiat_amount is not a valid decimal"))
			return
		}
	}

	deposit, err := h.collateralSvc.Deposit(c.Request.Context(), caller, ports.DepositRequest{
		TierID:     req.TierID,
		FiatAmount: fiatAmount,
		SatsAmount: req.SatsAmount,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, dto.FromDeposit(deposit))
}

// Confirm handles POST /api/v1/collateral/confirm.
func (h *CollateralHandler) Confirm(c *gin.Context) {
	caller, ok := middleware.Identity(c)
	if !ok {
		response.Error(c, apperror.ErrMissingAuth())
		return
	}

	var req dto.ConfirmDepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	depositID, err := uuid.Parse(req.DepositID)
	if err != nil {
		response.Error(c, apperror.Validation("invalid deposit id"))
		return
	}

	deposit, err := h.collateralSvc.Confirm(c.Request.Context(), caller, depositID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.FromDeposit(deposit))
}

// Lock handles POST /api/v1/collateral/lock.
func (h *CollateralHandler) Lock(c *gin.Context) {
	caller, ok := middleware.Identity(c)
	if !ok {
		response.Error(c, apperror.ErrMissingAuth())
		return
	}

	var req dto.LockCollateralRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	orderID, err := uuid.Parse(req.OrderID)
	if err != nil {
		response.Error(c, apperror.Validation("invalid order id"))
		return
	}

	if err := h.collateralSvc.Lock(c.Request.Context(), caller, orderID, req.LockedSats); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"order_id": orderID.String(), "locked_sats": req.LockedSats})
}

// Unlock handles POST /api/v1/collateral/unlock.
func (h *CollateralHandler) Unlock(c *gin.Context) {
	caller, ok := middleware.Identity(c)
	if !ok {
		response.Error(c, apperror.ErrMissingAuth())
		return
	}

	var req dto.UnlockCollateralRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	orderID, err := uuid.Parse(req.OrderID)
	if err != nil {
		response.Error(c, apperror.Validation("invalid order id"))
		return
	}

	if err := h.collateralSvc.Unlock(c.Request.Context(), caller, orderID); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"order_id": orderID.String()})
}

// Summary handles GET /api/v1/collateral/:pubkey.
func (h *CollateralHandler) Summary(c *gin.Context) {
	caller, ok := middleware.Identity(c)
	if !ok {
		response.Error(c, apperror.ErrMissingAuth())
		return
	}

	summary, err := h.collateralSvc.Summary(c.Request.Context(), c.Param("pubkey"), caller)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, summary)
}
