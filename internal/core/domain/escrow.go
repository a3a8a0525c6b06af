package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EscrowStatus represents the custody state of locked Bitcoin value.
type EscrowStatus string

const (
	EscrowStatusLocked   EscrowStatus = "locked"
	EscrowStatusReleased EscrowStatus = "released"
)

// Escrow holds the Bitcoin value locked against one order. Keyed by order id.
type Escrow struct {
	OrderID        uuid.UUID       `json:"order_id"`
	OwnerPubKey    string          `json:"owner_pubkey"`
	BTCAmount      decimal.Decimal `json:"btc_amount"`
	Status         EscrowStatus    `json:"status"`
	ProviderAmount decimal.Decimal `json:"provider_amount"`
	PlatformAmount decimal.Decimal `json:"platform_amount"`
	CreatedAt      time.Time       `json:"created_at"`
	ReleasedAt     *time.Time      `json:"released_at,omitempty"`
}

// Distribution is the fee-split outcome of an escrow release.
type Distribution struct {
	ProviderAmount decimal.Decimal `json:"provider_amount"`
	PlatformAmount decimal.Decimal `json:"platform_amount"`
}

// Split computes the release distribution. The provider receives the locked
// amount minus both fees (their own fee is a deduction from their share, not
// a separate payment), while the platform collects only its own fee. The two
// figures deliberately do not sum to the locked amount.
func Split(btcAmount, providerFee, platformFee decimal.Decimal) Distribution {
	one := decimal.NewFromInt(1)
	return Distribution{
		ProviderAmount: btcAmount.Mul(one.Sub(providerFee).Sub(platformFee)),
		PlatformAmount: btcAmount.Mul(platformFee),
	}
}
