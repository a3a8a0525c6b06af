package postgres

import (
	"context"
	"fmt"

	"nostr-escrow-gateway/internal/core/domain"
)

// ObligationRepo implements ports.ObligationRepository.
type ObligationRepo struct {
	pool Pool
}

// NewObligationRepo creates a new ObligationRepo.
func NewObligationRepo(pool Pool) *ObligationRepo {
	return &ObligationRepo{pool: pool}
}

// Create inserts a refund obligation.
func (r *ObligationRepo) Create(ctx context.Context, o *domain.RefundObligation) error {
	query := `INSERT INTO refund_obligations (id, order_id, owner_pubkey, btc_amount, reason, created_at, fulfilled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.pool.Exec(ctx, query,
		o.ID, o.OrderID, o.OwnerPubKey, o.BTCAmount, o.Reason, o.CreatedAt, o.FulfilledAt,
	)
	if err != nil {
		return fmt.Errorf("insert refund obligation: %w", err)
	}
	return nil
}

// ListOpen fetches unfulfilled obligations, oldest first.
func (r *ObligationRepo) ListOpen(ctx context.Context) ([]domain.RefundObligation, error) {
	query := `SELECT id, order_id, owner_pubkey, btc_amount, reason, created_at, fulfilled_at
		FROM refund_obligations WHERE fulfilled_at IS NULL ORDER BY created_at ASC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list open obligations: %w", err)
	}
	defer rows.Close()

	var obligations []domain.RefundObligation
	for rows.Next() {
		o := domain.RefundObligation{}
		err := rows.Scan(&o.ID, &o.OrderID, &o.OwnerPubKey, &o.BTCAmount, &o.Reason, &o.CreatedAt, &o.FulfilledAt)
		if err != nil {
			return nil, fmt.Errorf("scan obligation row: %w", err)
		}
		obligations = append(obligations, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate obligation rows: %w", err)
	}
	return obligations, nil
}
