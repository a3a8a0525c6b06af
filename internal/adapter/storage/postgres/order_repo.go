package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"nostr-escrow-gateway/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// OrderRepo implements ports.OrderRepository.
type OrderRepo struct {
	pool Pool
}

// NewOrderRepo creates a new OrderRepo.
func NewOrderRepo(pool Pool) *OrderRepo {
	return &OrderRepo{pool: pool}
}

const orderColumns = `id, owner_pubkey, provider_pubkey, bill_reference, payment_reference,
	fiat_amount, btc_amount, status, proof_reference, created_at, expires_at,
	accepted_at, completed_at, cancelled_at, expired_at, metadata`

// Create inserts a new order.
func (r *OrderRepo) Create(ctx context.Context, o *domain.Order) error {
	query := `INSERT INTO orders (id, owner_pubkey, provider_pubkey, bill_reference, payment_reference,
		fiat_amount, btc_amount, status, proof_reference, created_at, expires_at,
		accepted_at, completed_at, cancelled_at, expired_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	meta, err := marshalMetadata(o.Metadata)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, query,
		o.ID, o.OwnerPubKey, o.ProviderPubKey, o.BillReference, o.PaymentReference,
		o.FiatAmount, o.BTCAmount, o.Status, o.ProofReference, o.CreatedAt, o.ExpiresAt,
		o.AcceptedAt, o.CompletedAt, o.CancelledAt, o.ExpiredAt, meta,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// GetByID fetches an order by UUID.
func (r *OrderRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	query := fmt.Sprintf(`SELECT %s FROM orders WHERE id = $1`, orderColumns)
	return r.scanOrder(r.pool.QueryRow(ctx, query, id))
}

// GetByIDForUpdate fetches an order with a row lock inside a transaction.
func (r *OrderRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Order, error) {
	query := fmt.Sprintf(`SELECT %s FROM orders WHERE id = $1 FOR UPDATE`, orderColumns)
	return r.scanOrder(tx.QueryRow(ctx, query, id))
}

// Update persists an order's mutable fields within a database transaction.
func (r *OrderRepo) Update(ctx context.Context, tx pgx.Tx, o *domain.Order) error {
	query := `UPDATE orders SET provider_pubkey = $1, status = $2, proof_reference = $3,
		accepted_at = $4, completed_at = $5, cancelled_at = $6, expired_at = $7, metadata = $8
		WHERE id = $9`

	meta, err := marshalMetadata(o.Metadata)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, query,
		o.ProviderPubKey, o.Status, o.ProofReference,
		o.AcceptedAt, o.CompletedAt, o.CancelledAt, o.ExpiredAt, meta,
		o.ID,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order not found: %s", o.ID)
	}
	return nil
}

// ListByOwner fetches orders created by the given pubkey, newest first.
func (r *OrderRepo) ListByOwner(ctx context.Context, ownerPubKey string) ([]domain.Order, error) {
	query := fmt.Sprintf(`SELECT %s FROM orders WHERE owner_pubkey = $1 ORDER BY created_at DESC`, orderColumns)
	return r.listOrders(ctx, query, ownerPubKey)
}

// ListByProvider fetches orders accepted by the given pubkey, newest first.
func (r *OrderRepo) ListByProvider(ctx context.Context, providerPubKey string) ([]domain.Order, error) {
	query := fmt.Sprintf(`SELECT %s FROM orders WHERE provider_pubkey = $1 ORDER BY created_at DESC`, orderColumns)
	return r.listOrders(ctx, query, providerPubKey)
}

// ListAvailable fetches pending orders whose acceptance window is still
// open, newest first.
func (r *OrderRepo) ListAvailable(ctx context.Context, now time.Time) ([]domain.Order, error) {
	query := fmt.Sprintf(`SELECT %s FROM orders WHERE status = 'pending' AND expires_at > $1
		ORDER BY created_at DESC`, orderColumns)
	return r.listOrders(ctx, query, now)
}

// ListExpiredPending fetches pending orders whose acceptance window has
// closed.
func (r *OrderRepo) ListExpiredPending(ctx context.Context, now time.Time) ([]domain.Order, error) {
	query := fmt.Sprintf(`SELECT %s FROM orders WHERE status = 'pending' AND expires_at <= $1
		ORDER BY expires_at ASC`, orderColumns)
	return r.listOrders(ctx, query, now)
}

func (r *OrderRepo) listOrders(ctx context.Context, query string, args ...any) ([]domain.Order, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrderRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}
	return orders, nil
}

// scanOrder is a helper to scan a single row into an Order.
func (r *OrderRepo) scanOrder(row pgx.Row) (*domain.Order, error) {
	o, err := scanOrderRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}
	return o, nil
}

func scanOrderRow(row pgx.Row) (*domain.Order, error) {
	o := &domain.Order{}
	var meta []byte
	err := row.Scan(
		&o.ID, &o.OwnerPubKey, &o.ProviderPubKey, &o.BillReference, &o.PaymentReference,
		&o.FiatAmount, &o.BTCAmount, &o.Status, &o.ProofReference, &o.CreatedAt, &o.ExpiresAt,
		&o.AcceptedAt, &o.CompletedAt, &o.CancelledAt, &o.ExpiredAt, &meta,
	)
	if err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &o.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal order metadata: %w", err)
		}
	}
	return o, nil
}

func marshalMetadata(meta map[string]interface{}) ([]byte, error) {
	if meta == nil {
		return nil, nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshal order metadata: %w", err)
	}
	return data, nil
}
