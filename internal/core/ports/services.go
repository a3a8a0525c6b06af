package ports

import (
	"context"
	"net/http"
	"time"

	"nostr-escrow-gateway/internal/core/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// IdentityVerifier converts a signed identity assertion on an HTTP request
// into a verified caller identity. Verification is purely local
// computation; it never blocks on I/O beyond the optional replay guard.
type IdentityVerifier interface {
	Verify(r *http.Request) (domain.Identity, error)
}

// ReplayGuard tracks accepted auth event ids so a captured assertion
// cannot be replayed inside the timestamp tolerance window.
type ReplayGuard interface {
	// CheckAndSet atomically checks if the event id was seen, recording it
	// if not. Returns true if the id is new.
	CheckAndSet(ctx context.Context, eventID string, ttl time.Duration) (bool, error)
}

// SettlementClient is the external Lightning/Bitcoin settlement backend.
// All methods may block on I/O and must be called outside any held
// per-order critical section when the transition does not depend on the
// outcome.
type SettlementClient interface {
	// CreateRefund returns the order's locked BTC to the owner.
	CreateRefund(ctx context.Context, order *domain.Order) error
	// SendPayment pays out BTC to the given pubkey's wallet.
	SendPayment(ctx context.Context, pubkey string, amount decimal.Decimal) error
	// CheckPayment reports whether the invoice has settled.
	CheckPayment(ctx context.Context, invoiceID uuid.UUID) (bool, error)
	// CreateInvoice issues a Lightning invoice for the given sats amount.
	CreateInvoice(ctx context.Context, invoiceID uuid.UUID, sats int64) (string, error)
}

// --- Service Ports (Business Logic) ---

// CreateOrderRequest holds validated input for order creation. Owner comes
// from the verified identity, never from the request body.
type CreateOrderRequest struct {
	Owner            domain.Identity
	BillReference    string
	PaymentReference string
	FiatAmount       decimal.Decimal
	BTCAmount        decimal.Decimal
}

// SubmitProofRequest holds a provider's bill-payment proof.
type SubmitProofRequest struct {
	ProofReference string
	ProofData      interface{}
}

// ValidateRequest holds a validator's decision on a submitted proof.
type ValidateRequest struct {
	Approved        bool
	RejectionReason string
}

// OrderService owns the order lifecycle state machine.
type OrderService interface {
	Create(ctx context.Context, req CreateOrderRequest) (*domain.Order, error)
	Get(ctx context.Context, id uuid.UUID, caller domain.Identity) (*domain.Order, error)
	ListByUser(ctx context.Context, userPubKey string, caller domain.Identity) ([]domain.Order, error)
	// ListAvailable returns pending, non-expired orders for provider
	// browsing, with owner-private fields redacted.
	ListAvailable(ctx context.Context) ([]domain.Order, error)
	Accept(ctx context.Context, id uuid.UUID, caller domain.Identity, collateralLocked bool) (*domain.Order, error)
	Cancel(ctx context.Context, id uuid.UUID, caller domain.Identity) (*domain.Order, error)
	SubmitProof(ctx context.Context, id uuid.UUID, caller domain.Identity, req SubmitProofRequest) (*domain.Order, error)
	Validate(ctx context.Context, id uuid.UUID, caller domain.Identity, req ValidateRequest) (*domain.Order, error)
	// ExpireDueOrders transitions pending orders past their expiry to
	// expired, refunding best-effort. Returns the number expired.
	ExpireDueOrders(ctx context.Context) (int, error)
}

// EscrowService owns per-order Bitcoin custody records.
type EscrowService interface {
	Lock(ctx context.Context, caller domain.Identity, orderID uuid.UUID, btcAmount decimal.Decimal) (*domain.Escrow, error)
	Release(ctx context.Context, caller domain.Identity, orderID uuid.UUID) (*domain.Distribution, error)
	Get(ctx context.Context, caller domain.Identity, orderID uuid.UUID) (*domain.Escrow, error)
}

// DepositRequest holds validated input for a collateral deposit.
type DepositRequest struct {
	TierID     string
	FiatAmount decimal.Decimal
	SatsAmount int64
}

// CollateralService owns provider bond deposits and tier computation.
type CollateralService interface {
	Deposit(ctx context.Context, caller domain.Identity, req DepositRequest) (*domain.CollateralDeposit, error)
	// Confirm checks the deposit's invoice against the settlement backend
	// and marks it paid once settled.
	Confirm(ctx context.Context, caller domain.Identity, depositID uuid.UUID) (*domain.CollateralDeposit, error)
	Lock(ctx context.Context, caller domain.Identity, orderID uuid.UUID, lockedSats int64) error
	Unlock(ctx context.Context, caller domain.Identity, orderID uuid.UUID) error
	Summary(ctx context.Context, providerPubKey string, caller domain.Identity) (*domain.CollateralSummary, error)
}
