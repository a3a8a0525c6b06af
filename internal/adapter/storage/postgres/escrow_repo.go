package postgres

import (
	"context"
	"errors"
	"fmt"

	"nostr-escrow-gateway/internal/core/domain"
	"nostr-escrow-gateway/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// EscrowRepo implements ports.EscrowRepository.
type EscrowRepo struct {
	pool Pool
}

// NewEscrowRepo creates a new EscrowRepo.
func NewEscrowRepo(pool Pool) *EscrowRepo {
	return &EscrowRepo{pool: pool}
}

const escrowColumns = `order_id, owner_pubkey, btc_amount, status,
	provider_amount, platform_amount, created_at, released_at`

// Create inserts a new escrow record. The order id is the primary key, so
// a second lock attempt surfaces as ports.ErrAlreadyExists.
func (r *EscrowRepo) Create(ctx context.Context, e *domain.Escrow) error {
	query := `INSERT INTO escrows (order_id, owner_pubkey, btc_amount, status,
		provider_amount, platform_amount, created_at, released_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.pool.Exec(ctx, query,
		e.OrderID, e.OwnerPubKey, e.BTCAmount, e.Status,
		e.ProviderAmount, e.PlatformAmount, e.CreatedAt, e.ReleasedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ports.ErrAlreadyExists
		}
		return fmt.Errorf("insert escrow: %w", err)
	}
	return nil
}

// GetByOrderID fetches the escrow record for an order.
func (r *EscrowRepo) GetByOrderID(ctx context.Context, orderID uuid.UUID) (*domain.Escrow, error) {
	query := fmt.Sprintf(`SELECT %s FROM escrows WHERE order_id = $1`, escrowColumns)
	return r.scanEscrow(r.pool.QueryRow(ctx, query, orderID))
}

// GetByOrderIDForUpdate fetches the escrow with a row lock inside a
// transaction.
func (r *EscrowRepo) GetByOrderIDForUpdate(ctx context.Context, tx pgx.Tx, orderID uuid.UUID) (*domain.Escrow, error) {
	query := fmt.Sprintf(`SELECT %s FROM escrows WHERE order_id = $1 FOR UPDATE`, escrowColumns)
	return r.scanEscrow(tx.QueryRow(ctx, query, orderID))
}

// Update persists an escrow's mutable fields within a database transaction.
func (r *EscrowRepo) Update(ctx context.Context, tx pgx.Tx, e *domain.Escrow) error {
	query := `UPDATE escrows SET status = $1, provider_amount = $2, platform_amount = $3, released_at = $4
		WHERE order_id = $5`

	tag, err := tx.Exec(ctx, query, e.Status, e.ProviderAmount, e.PlatformAmount, e.ReleasedAt, e.OrderID)
	if err != nil {
		return fmt.Errorf("update escrow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("escrow not found for order: %s", e.OrderID)
	}
	return nil
}

// scanEscrow is a helper to scan a single row into an Escrow.
func (r *EscrowRepo) scanEscrow(row pgx.Row) (*domain.Escrow, error) {
	e := &domain.Escrow{}
	err := row.Scan(
		&e.OrderID, &e.OwnerPubKey, &e.BTCAmount, &e.Status,
		&e.ProviderAmount, &e.PlatformAmount, &e.CreatedAt, &e.ReleasedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan escrow: %w", err)
	}
	return e, nil
}
