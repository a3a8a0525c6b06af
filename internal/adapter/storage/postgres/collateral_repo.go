package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"nostr-escrow-gateway/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CollateralRepo implements ports.CollateralRepository.
type CollateralRepo struct {
	pool Pool
}

// NewCollateralRepo creates a new CollateralRepo.
func NewCollateralRepo(pool Pool) *CollateralRepo {
	return &CollateralRepo{pool: pool}
}

// CreateDeposit inserts a new collateral deposit.
func (r *CollateralRepo) CreateDeposit(ctx context.Context, d *domain.CollateralDeposit) error {
	query := `INSERT INTO collateral_deposits (id, provider_pubkey, tier_id, fiat_amount, sats_amount,
		status, invoice, created_at, paid_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.pool.Exec(ctx, query,
		d.ID, d.ProviderPubKey, d.TierID, d.FiatAmount, d.SatsAmount,
		d.Status, d.Invoice, d.CreatedAt, d.PaidAt,
	)
	if err != nil {
		return fmt.Errorf("insert collateral deposit: %w", err)
	}
	return nil
}

// GetDeposit fetches a deposit by id.
func (r *CollateralRepo) GetDeposit(ctx context.Context, id uuid.UUID) (*domain.CollateralDeposit, error) {
	query := `SELECT id, provider_pubkey, tier_id, fiat_amount, sats_amount, status, invoice, created_at, paid_at
		FROM collateral_deposits WHERE id = $1`

	d := &domain.CollateralDeposit{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&d.ID, &d.ProviderPubKey, &d.TierID, &d.FiatAmount, &d.SatsAmount,
		&d.Status, &d.Invoice, &d.CreatedAt, &d.PaidAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan collateral deposit: %w", err)
	}
	return d, nil
}

// MarkDepositPaid flips a pending deposit to paid.
func (r *CollateralRepo) MarkDepositPaid(ctx context.Context, id uuid.UUID, paidAt time.Time) error {
	query := `UPDATE collateral_deposits SET status = 'paid', paid_at = $1 WHERE id = $2 AND status = 'pending'`

	tag, err := r.pool.Exec(ctx, query, paidAt, id)
	if err != nil {
		return fmt.Errorf("mark deposit paid: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("pending deposit not found: %s", id)
	}
	return nil
}

// SumPaidSats returns the total paid collateral for a provider.
func (r *CollateralRepo) SumPaidSats(ctx context.Context, providerPubKey string) (int64, error) {
	query := `SELECT COALESCE(SUM(sats_amount), 0) FROM collateral_deposits
		WHERE provider_pubkey = $1 AND status = 'paid'`

	var total int64
	if err := r.pool.QueryRow(ctx, query, providerPubKey).Scan(&total); err != nil {
		return 0, fmt.Errorf("sum paid sats: %w", err)
	}
	return total, nil
}

// CountPaidDeposits counts a provider's paid deposits.
func (r *CollateralRepo) CountPaidDeposits(ctx context.Context, providerPubKey string) (int, error) {
	query := `SELECT COUNT(*) FROM collateral_deposits WHERE provider_pubkey = $1 AND status = 'paid'`

	var count int
	if err := r.pool.QueryRow(ctx, query, providerPubKey).Scan(&count); err != nil {
		return 0, fmt.Errorf("count paid deposits: %w", err)
	}
	return count, nil
}

// CreateHold inserts a collateral hold against an order.
func (r *CollateralRepo) CreateHold(ctx context.Context, h *domain.CollateralHold) error {
	query := `INSERT INTO collateral_holds (order_id, provider_pubkey, locked_sats, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (order_id, provider_pubkey) DO UPDATE SET locked_sats = EXCLUDED.locked_sats`

	_, err := r.pool.Exec(ctx, query, h.OrderID, h.ProviderPubKey, h.LockedSats, h.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert collateral hold: %w", err)
	}
	return nil
}

// DeleteHold removes a collateral hold. Deleting an absent hold is a no-op.
func (r *CollateralRepo) DeleteHold(ctx context.Context, orderID uuid.UUID, providerPubKey string) error {
	query := `DELETE FROM collateral_holds WHERE order_id = $1 AND provider_pubkey = $2`

	if _, err := r.pool.Exec(ctx, query, orderID, providerPubKey); err != nil {
		return fmt.Errorf("delete collateral hold: %w", err)
	}
	return nil
}

// CountHolds counts a provider's active holds.
func (r *CollateralRepo) CountHolds(ctx context.Context, providerPubKey string) (int, error) {
	query := `SELECT COUNT(*) FROM collateral_holds WHERE provider_pubkey = $1`

	var count int
	if err := r.pool.QueryRow(ctx, query, providerPubKey).Scan(&count); err != nil {
		return 0, fmt.Errorf("count collateral holds: %w", err)
	}
	return count, nil
}
