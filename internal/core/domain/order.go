package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderStatus represents the lifecycle state of a bill-payment order.
type OrderStatus string

const (
	OrderStatusPending          OrderStatus = "pending"
	OrderStatusAccepted         OrderStatus = "accepted"
	OrderStatusPaymentSubmitted OrderStatus = "payment_submitted"
	OrderStatusCompleted        OrderStatus = "completed"
	OrderStatusRejected         OrderStatus = "rejected"
	OrderStatusCancelled        OrderStatus = "cancelled"
	OrderStatusExpired          OrderStatus = "expired"
)

// Order represents one fiat-bill-for-Bitcoin swap. The owner locks BTC
// against a fiat bill; a provider pays the bill and claims the escrow.
type Order struct {
	ID               uuid.UUID              `json:"id"`
	OwnerPubKey      string                 `json:"owner_pubkey"`
	ProviderPubKey   *string                `json:"provider_pubkey,omitempty"` // set exactly once, at acceptance
	BillReference    string                 `json:"bill_reference"`
	PaymentReference string                 `json:"payment_reference"`
	FiatAmount       decimal.Decimal        `json:"fiat_amount"`
	BTCAmount        decimal.Decimal        `json:"btc_amount"`
	Status           OrderStatus            `json:"status"`
	ProofReference   *string                `json:"proof_reference,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
	ExpiresAt        time.Time              `json:"expires_at"`
	AcceptedAt       *time.Time             `json:"accepted_at,omitempty"`
	CompletedAt      *time.Time             `json:"completed_at,omitempty"`
	CancelledAt      *time.Time             `json:"cancelled_at,omitempty"`
	ExpiredAt        *time.Time             `json:"expired_at,omitempty"`
	Metadata         map[string]interface{} `json:"metadata"`
}

// IsTerminal returns true if the order is in a final state.
func (o *Order) IsTerminal() bool {
	switch o.Status {
	case OrderStatusCompleted, OrderStatusRejected, OrderStatusCancelled, OrderStatusExpired:
		return true
	}
	return false
}

// IsExpiredBy reports whether the order's acceptance window has passed.
func (o *Order) IsExpiredBy(now time.Time) bool {
	return now.After(o.ExpiresAt)
}

// IsOwner reports whether the given pubkey owns the order.
func (o *Order) IsOwner(pubkey string) bool {
	return o.OwnerPubKey == pubkey
}

// IsProvider reports whether the given pubkey is the accepting provider.
func (o *Order) IsProvider(pubkey string) bool {
	return o.ProviderPubKey != nil && *o.ProviderPubKey == pubkey
}

// SetMeta records a metadata entry, allocating the map on first use.
func (o *Order) SetMeta(key string, value interface{}) {
	if o.Metadata == nil {
		o.Metadata = make(map[string]interface{})
	}
	o.Metadata[key] = value
}
