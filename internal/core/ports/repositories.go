package ports

import (
	"context"
	"errors"
	"time"

	"nostr-escrow-gateway/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrAlreadyExists is returned by Create methods when a record with the
// same key is already present.
var ErrAlreadyExists = errors.New("record already exists")

// OrderRepository defines persistence operations for orders.
// Methods accepting pgx.Tx are used inside transaction blocks so that
// same-order transitions are serialized (SELECT ... FOR UPDATE).
type OrderRepository interface {
	Create(ctx context.Context, order *domain.Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Order, error)
	Update(ctx context.Context, tx pgx.Tx, order *domain.Order) error
	ListByOwner(ctx context.Context, ownerPubKey string) ([]domain.Order, error)
	ListByProvider(ctx context.Context, providerPubKey string) ([]domain.Order, error)
	// ListAvailable returns pending orders whose expiry is after now,
	// newest first.
	ListAvailable(ctx context.Context, now time.Time) ([]domain.Order, error)
	// ListExpiredPending returns pending orders whose expiry is at or
	// before now.
	ListExpiredPending(ctx context.Context, now time.Time) ([]domain.Order, error)
}

// EscrowRepository defines persistence operations for escrow records.
type EscrowRepository interface {
	// Create inserts a new escrow record; returns ErrAlreadyExists if a
	// record for the order id is already present.
	Create(ctx context.Context, escrow *domain.Escrow) error
	GetByOrderID(ctx context.Context, orderID uuid.UUID) (*domain.Escrow, error)
	GetByOrderIDForUpdate(ctx context.Context, tx pgx.Tx, orderID uuid.UUID) (*domain.Escrow, error)
	Update(ctx context.Context, tx pgx.Tx, escrow *domain.Escrow) error
}

// CollateralRepository defines persistence for provider bond deposits and
// per-order holds.
type CollateralRepository interface {
	CreateDeposit(ctx context.Context, deposit *domain.CollateralDeposit) error
	GetDeposit(ctx context.Context, id uuid.UUID) (*domain.CollateralDeposit, error)
	MarkDepositPaid(ctx context.Context, id uuid.UUID, paidAt time.Time) error
	// SumPaidSats returns the sum of sats over the provider's paid
	// deposits. Tier computation must use this, never a cached value.
	SumPaidSats(ctx context.Context, providerPubKey string) (int64, error)
	CountPaidDeposits(ctx context.Context, providerPubKey string) (int, error)
	CreateHold(ctx context.Context, hold *domain.CollateralHold) error
	DeleteHold(ctx context.Context, orderID uuid.UUID, providerPubKey string) error
	CountHolds(ctx context.Context, providerPubKey string) (int, error)
}

// ObligationRepository records refunds the settlement backend failed to
// deliver, for operational follow-up.
type ObligationRepository interface {
	Create(ctx context.Context, obligation *domain.RefundObligation) error
	ListOpen(ctx context.Context) ([]domain.RefundObligation, error)
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}
