// Package dto defines the HTTP request and response shapes.
package dto

import (
	"nostr-escrow-gateway/internal/core/domain"

	"github.com/shopspring/decimal"
)

// --- Requests ---

// CreateOrderRequest is the body of POST /orders. Amounts travel as JSON
// strings to avoid float rounding on the wire.
type CreateOrderRequest struct {
	BillReference    string `json:"bill_reference" binding:"required"`
	PaymentReference string `json:"payment_reference" binding:"required"`
	FiatAmount       string `json:"fiat_amount" binding:"required"`
	BTCAmount        string `json:"btc_amount" binding:"required"`
}

// AcceptOrderRequest is the body of POST /orders/:id/accept.
type AcceptOrderRequest struct {
	LockCollateral bool `json:"lock_collateral"`
}

// SubmitProofRequest is the body of POST /orders/:id/proof.
type SubmitProofRequest struct {
	ProofReference string      `json:"proof_reference" binding:"required"`
	ProofData      interface{} `json:"proof_data"`
}

// ValidateOrderRequest is the body of POST /orders/:id/validate. Approved is
// a pointer so an absent field is distinguishable from an explicit false.
type ValidateOrderRequest struct {
	Approved        *bool  `json:"approved" binding:"required"`
	RejectionReason string `json:"rejection_reason"`
}

// LockEscrowRequest is the body of POST /escrow/lock.
type LockEscrowRequest struct {
	OrderID   string `json:"order_id" binding:"required"`
	BTCAmount string `json:"btc_amount" binding:"required"`
}

// ReleaseEscrowRequest is the body of POST /escrow/release.
type ReleaseEscrowRequest struct {
	OrderID string `json:"order_id" binding:"required"`
}

// DepositCollateralRequest is the body of POST /collateral/deposit.
type DepositCollateralRequest struct {
	TierID     string `json:"tier_id"`
	FiatAmount string `json:"fiat_amount"`
	SatsAmount int64  `json:"sats_amount" binding:"required"`
}

// ConfirmDepositRequest is the body of POST /collateral/confirm.
type ConfirmDepositRequest struct {
	DepositID string `json:"deposit_id" binding:"required"`
}

// LockCollateralRequest is the body of POST /collateral/lock.
type LockCollateralRequest struct {
	OrderID    string `json:"order_id" binding:"required"`
	LockedSats int64  `json:"locked_sats" binding:"required"`
}

// UnlockCollateralRequest is the body of POST /collateral/unlock.
type UnlockCollateralRequest struct {
	OrderID string `json:"order_id" binding:"required"`
}

// --- Responses ---

// OrderResponse is the wire form of an order.
type OrderResponse struct {
	ID               string                 `json:"id"`
	OwnerPubKey      string                 `json:"owner_pubkey"`
	ProviderPubKey   *string                `json:"provider_pubkey,omitempty"`
	BillReference    string                 `json:"bill_reference"`
	PaymentReference string                 `json:"payment_reference,omitempty"`
	FiatAmount       string                 `json:"fiat_amount"`
	BTCAmount        string                 `json:"btc_amount"`
	Status           string                 `json:"status"`
	ProofReference   *string                `json:"proof_reference,omitempty"`
	CreatedAt        string                 `json:"created_at"`
	ExpiresAt        string                 `json:"expires_at"`
	AcceptedAt       *string                `json:"accepted_at,omitempty"`
	CompletedAt      *string                `json:"completed_at,omitempty"`
	CancelledAt      *string                `json:"cancelled_at,omitempty"`
	ExpiredAt        *string                `json:"expired_at,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}

// EscrowResponse is the wire form of an escrow record.
type EscrowResponse struct {
	OrderID        string  `json:"order_id"`
	OwnerPubKey    string  `json:"owner_pubkey"`
	BTCAmount      string  `json:"btc_amount"`
	Status         string  `json:"status"`
	ProviderAmount string  `json:"provider_amount"`
	PlatformAmount string  `json:"platform_amount"`
	CreatedAt      string  `json:"created_at"`
	ReleasedAt     *string `json:"released_at,omitempty"`
}

// DistributionResponse is the fee-split outcome of an escrow release.
type DistributionResponse struct {
	ProviderAmount string `json:"provider_amount"`
	PlatformAmount string `json:"platform_amount"`
}

// DepositResponse is the wire form of a collateral deposit.
type DepositResponse struct {
	ID             string  `json:"id"`
	ProviderPubKey string  `json:"provider_pubkey"`
	TierID         string  `json:"tier_id,omitempty"`
	FiatAmount     string  `json:"fiat_amount"`
	SatsAmount     int64   `json:"sats_amount"`
	Status         string  `json:"status"`
	Invoice        string  `json:"invoice"`
	CreatedAt      string  `json:"created_at"`
	PaidAt         *string `json:"paid_at,omitempty"`
}

// ParseAmount parses a decimal amount string from a request body.
func ParseAmount(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}

// FromOrder converts a domain order to its wire form.
func FromOrder(o *domain.Order) OrderResponse {
	resp := OrderResponse{
		ID:               o.ID.String(),
		OwnerPubKey:      o.OwnerPubKey,
		ProviderPubKey:   o.ProviderPubKey,
		BillReference:    o.BillReference,
		PaymentReference: o.PaymentReference,
		FiatAmount:       o.FiatAmount.String(),
		BTCAmount:        o.BTCAmount.String(),
		Status:           string(o.Status),
		ProofReference:   o.ProofReference,
		CreatedAt:        formatTime(o.CreatedAt),
		ExpiresAt:        formatTime(o.ExpiresAt),
		Metadata:         o.Metadata,
	}
	resp.AcceptedAt = formatTimePtr(o.AcceptedAt)
	resp.CompletedAt = formatTimePtr(o.CompletedAt)
	resp.CancelledAt = formatTimePtr(o.CancelledAt)
	resp.ExpiredAt = formatTimePtr(o.ExpiredAt)
	return resp
}

// FromOrders converts a slice of domain orders.
func FromOrders(orders []domain.Order) []OrderResponse {
	out := make([]OrderResponse, 0, len(orders))
	for i := range orders {
		out = append(out, FromOrder(&orders[i]))
	}
	return out
}

// FromEscrow converts a domain escrow to its wire form.
func FromEscrow(e *domain.Escrow) EscrowResponse {
	return EscrowResponse{
		OrderID:        e.OrderID.String(),
		OwnerPubKey:    e.OwnerPubKey,
		BTCAmount:      e.BTCAmount.String(),
		Status:         string(e.Status),
		ProviderAmount: e.ProviderAmount.String(),
		PlatformAmount: e.PlatformAmount.String(),
		CreatedAt:      formatTime(e.CreatedAt),
		ReleasedAt:     formatTimePtr(e.ReleasedAt),
	}
}

// FromDeposit converts a domain collateral deposit to its wire form.
func FromDeposit(d *domain.CollateralDeposit) DepositResponse {
	return DepositResponse{
		ID:             d.ID.String(),
		ProviderPubKey: d.ProviderPubKey,
		TierID:         d.TierID,
		FiatAmount:     d.FiatAmount.String(),
		SatsAmount:     d.SatsAmount,
		Status:         string(d.Status),
		Invoice:        d.Invoice,
		CreatedAt:      formatTime(d.CreatedAt),
		PaidAt:         formatTimePtr(d.PaidAt),
	}
}
