package integration

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"nostr-escrow-gateway/internal/core/domain"
	"nostr-escrow-gateway/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// --- In-Memory Order Repo ---

type inMemoryOrderRepo struct {
	mu     sync.RWMutex
	orders map[uuid.UUID]*domain.Order
}

func newInMemoryOrderRepo() *inMemoryOrderRepo {
	return &inMemoryOrderRepo{orders: make(map[uuid.UUID]*domain.Order)}
}

func (r *inMemoryOrderRepo) Create(ctx context.Context, o *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *o
	r.orders[o.ID] = &cp
	return nil
}

func (r *inMemoryOrderRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, nil
	}
	cp := *o
	return &cp, nil
}

func (r *inMemoryOrderRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Order, error) {
	return r.GetByID(ctx, id)
}

func (r *inMemoryOrderRepo) Update(ctx context.Context, tx pgx.Tx, o *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[o.ID]; !ok {
		return fmt.Errorf("order not found")
	}
	cp := *o
	r.orders[o.ID] = &cp
	return nil
}

func (r *inMemoryOrderRepo) ListByOwner(ctx context.Context, ownerPubKey string) ([]domain.Order, error) {
	return r.list(func(o *domain.Order) bool { return o.OwnerPubKey == ownerPubKey }), nil
}

func (r *inMemoryOrderRepo) ListByProvider(ctx context.Context, providerPubKey string) ([]domain.Order, error) {
	return r.list(func(o *domain.Order) bool {
		return o.ProviderPubKey != nil && *o.ProviderPubKey == providerPubKey
	}), nil
}

func (r *inMemoryOrderRepo) ListAvailable(ctx context.Context, now time.Time) ([]domain.Order, error) {
	return r.list(func(o *domain.Order) bool {
		return o.Status == domain.OrderStatusPending && o.ExpiresAt.After(now)
	}), nil
}

func (r *inMemoryOrderRepo) ListExpiredPending(ctx context.Context, now time.Time) ([]domain.Order, error) {
	return r.list(func(o *domain.Order) bool {
		return o.Status == domain.OrderStatusPending && !o.ExpiresAt.After(now)
	}), nil
}

func (r *inMemoryOrderRepo) list(match func(*domain.Order) bool) []domain.Order {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []domain.Order
	for _, o := range r.orders {
		if match(o) {
			result = append(result, *o)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result
}

// --- In-Memory Escrow Repo ---

type inMemoryEscrowRepo struct {
	mu      sync.RWMutex
	escrows map[uuid.UUID]*domain.Escrow
}

func newInMemoryEscrowRepo() *inMemoryEscrowRepo {
	return &inMemoryEscrowRepo{escrows: make(map[uuid.UUID]*domain.Escrow)}
}

func (r *inMemoryEscrowRepo) Create(ctx context.Context, e *domain.Escrow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.escrows[e.OrderID]; ok {
		return ports.ErrAlreadyExists
	}
	cp := *e
	r.escrows[e.OrderID] = &cp
	return nil
}

func (r *inMemoryEscrowRepo) GetByOrderID(ctx context.Context, orderID uuid.UUID) (*domain.Escrow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.escrows[orderID]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (r *inMemoryEscrowRepo) GetByOrderIDForUpdate(ctx context.Context, tx pgx.Tx, orderID uuid.UUID) (*domain.Escrow, error) {
	return r.GetByOrderID(ctx, orderID)
}

func (r *inMemoryEscrowRepo) Update(ctx context.Context, tx pgx.Tx, e *domain.Escrow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.escrows[e.OrderID]; !ok {
		return fmt.Errorf("escrow not found")
	}
	cp := *e
	r.escrows[e.OrderID] = &cp
	return nil
}

// --- In-Memory Collateral Repo ---

type holdKey struct {
	orderID uuid.UUID
	pubkey  string
}

type inMemoryCollateralRepo struct {
	mu       sync.RWMutex
	deposits map[uuid.UUID]*domain.CollateralDeposit
	holds    map[holdKey]*domain.CollateralHold
}

func newInMemoryCollateralRepo() *inMemoryCollateralRepo {
	return &inMemoryCollateralRepo{
		deposits: make(map[uuid.UUID]*domain.CollateralDeposit),
		holds:    make(map[holdKey]*domain.CollateralHold),
	}
}

func (r *inMemoryCollateralRepo) CreateDeposit(ctx context.Context, d *domain.CollateralDeposit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *d
	r.deposits[d.ID] = &cp
	return nil
}

func (r *inMemoryCollateralRepo) GetDeposit(ctx context.Context, id uuid.UUID) (*domain.CollateralDeposit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.deposits[id]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (r *inMemoryCollateralRepo) MarkDepositPaid(ctx context.Context, id uuid.UUID, paidAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.deposits[id]
	if !ok || d.Status != domain.DepositStatusPending {
		return fmt.Errorf("pending deposit not found")
	}
	d.Status = domain.DepositStatusPaid
	d.PaidAt = &paidAt
	return nil
}

func (r *inMemoryCollateralRepo) SumPaidSats(ctx context.Context, providerPubKey string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var total int64
	for _, d := range r.deposits {
		if d.ProviderPubKey == providerPubKey && d.Status == domain.DepositStatusPaid {
			total += d.SatsAmount
		}
	}
	return total, nil
}

func (r *inMemoryCollateralRepo) CountPaidDeposits(ctx context.Context, providerPubKey string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, d := range r.deposits {
		if d.ProviderPubKey == providerPubKey && d.Status == domain.DepositStatusPaid {
			count++
		}
	}
	return count, nil
}

func (r *inMemoryCollateralRepo) CreateHold(ctx context.Context, h *domain.CollateralHold) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *h
	r.holds[holdKey{h.OrderID, h.ProviderPubKey}] = &cp
	return nil
}

func (r *inMemoryCollateralRepo) DeleteHold(ctx context.Context, orderID uuid.UUID, providerPubKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.holds, holdKey{orderID, providerPubKey})
	return nil
}

func (r *inMemoryCollateralRepo) CountHolds(ctx context.Context, providerPubKey string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for k := range r.holds {
		if k.pubkey == providerPubKey {
			count++
		}
	}
	return count, nil
}

// --- In-Memory Obligation Repo ---

type inMemoryObligationRepo struct {
	mu          sync.RWMutex
	obligations []domain.RefundObligation
}

func newInMemoryObligationRepo() *inMemoryObligationRepo {
	return &inMemoryObligationRepo{}
}

func (r *inMemoryObligationRepo) Create(ctx context.Context, o *domain.RefundObligation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.obligations = append(r.obligations, *o)
	return nil
}

func (r *inMemoryObligationRepo) ListOpen(ctx context.Context) ([]domain.RefundObligation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var open []domain.RefundObligation
	for _, o := range r.obligations {
		if o.FulfilledAt == nil {
			open = append(open, o)
		}
	}
	return open, nil
}

// --- In-Memory Transactor ---

// inMemoryTransactor emulates the serialization the real implementation
// gets from SELECT ... FOR UPDATE: one transaction at a time, held from
// Begin until Commit or Rollback.
type inMemoryTransactor struct {
	mu sync.Mutex
}

func newInMemoryTransactor() *inMemoryTransactor {
	return &inMemoryTransactor{}
}

func (t *inMemoryTransactor) Begin(ctx context.Context) (pgx.Tx, error) {
	t.mu.Lock()
	tx := &serialTx{}
	tx.release = func() { t.mu.Unlock() }
	return tx, nil
}

// serialTx releases the transactor lock on the first Commit or Rollback.
type serialTx struct {
	noopTx
	once    sync.Once
	release func()
}

func (t *serialTx) Commit(ctx context.Context) error {
	t.once.Do(t.release)
	return nil
}

func (t *serialTx) Rollback(ctx context.Context) error {
	t.once.Do(t.release)
	return nil
}

// noopTx is a no-op pgx.Tx implementation for in-memory testing.
type noopTx struct{}

func (t *noopTx) Begin(ctx context.Context) (pgx.Tx, error) { return t, nil }
func (t *noopTx) Commit(ctx context.Context) error          { return nil }
func (t *noopTx) Rollback(ctx context.Context) error        { return nil }
func (t *noopTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (t *noopTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }
func (t *noopTx) LargeObjects() pgx.LargeObjects                               { return pgx.LargeObjects{} }
func (t *noopTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (t *noopTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), nil
}
func (t *noopTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, nil
}
func (t *noopTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return nil
}
func (t *noopTx) Conn() *pgx.Conn { return nil }
