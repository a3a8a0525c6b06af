package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DepositStatus represents the settlement state of a collateral deposit.
type DepositStatus string

const (
	DepositStatusPending DepositStatus = "pending"
	DepositStatusPaid    DepositStatus = "paid"
)

// Tier is the provider's collateral tier, recomputed from paid deposits.
type Tier string

const (
	TierNone         Tier = "none"
	TierBasic        Tier = "basic"
	TierIntermediate Tier = "intermediate"
	TierAdvanced     Tier = "advanced"
)

// Tier thresholds in sats.
const (
	tierBasicSats        = 500
	tierIntermediateSats = 1000
	tierAdvancedSats     = 3000
)

// TierForSats maps a total of paid collateral sats to a tier.
func TierForSats(totalSats int64) Tier {
	switch {
	case totalSats >= tierAdvancedSats:
		return TierAdvanced
	case totalSats >= tierIntermediateSats:
		return TierIntermediate
	case totalSats >= tierBasicSats:
		return TierBasic
	default:
		return TierNone
	}
}

// CollateralDeposit is one provider bond deposit, settled via a Lightning
// invoice. The deposit id doubles as the invoice id.
type CollateralDeposit struct {
	ID             uuid.UUID       `json:"id"`
	ProviderPubKey string          `json:"provider_pubkey"`
	TierID         string          `json:"tier_id"`
	FiatAmount     decimal.Decimal `json:"fiat_amount"`
	SatsAmount     int64           `json:"sats_amount"`
	Status         DepositStatus   `json:"status"`
	Invoice        string          `json:"invoice"`
	CreatedAt      time.Time       `json:"created_at"`
	PaidAt         *time.Time      `json:"paid_at,omitempty"`
}

// CollateralHold records an intended collateral hold against an order. It
// does not debit a separate balance; a reserved/available split is future
// work before production use.
type CollateralHold struct {
	OrderID        uuid.UUID `json:"order_id"`
	ProviderPubKey string    `json:"provider_pubkey"`
	LockedSats     int64     `json:"locked_sats"`
	CreatedAt      time.Time `json:"created_at"`
}

// CollateralSummary is the per-provider bond view returned to callers.
type CollateralSummary struct {
	ProviderPubKey string `json:"provider_pubkey"`
	TotalSats      int64  `json:"total_sats"`
	CurrentTier    Tier   `json:"current_tier"`
	Deposits       int    `json:"deposits"`
	ActiveHolds    int    `json:"active_holds"`
}
