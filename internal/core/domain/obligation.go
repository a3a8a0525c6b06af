package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RefundObligation records a refund the settlement backend failed to
// deliver during a cancel, expire or reject transition. The transition
// itself still completes; the obligation survives for operational
// follow-up instead of being silently dropped.
type RefundObligation struct {
	ID          uuid.UUID       `json:"id"`
	OrderID     uuid.UUID       `json:"order_id"`
	OwnerPubKey string          `json:"owner_pubkey"`
	BTCAmount   decimal.Decimal `json:"btc_amount"`
	Reason      string          `json:"reason"`
	CreatedAt   time.Time       `json:"created_at"`
	FulfilledAt *time.Time      `json:"fulfilled_at,omitempty"`
}
