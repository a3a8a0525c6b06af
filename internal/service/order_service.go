package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"nostr-escrow-gateway/internal/core/domain"
	"nostr-escrow-gateway/internal/core/ports"
	"nostr-escrow-gateway/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// OrderServiceImpl implements ports.OrderService.
//
// Every state transition runs under a per-order mutex plus a database
// transaction with SELECT ... FOR UPDATE, so concurrent transitions on the
// same order serialize and the loser observes the winner's committed state.
type OrderServiceImpl struct {
	orderRepo      ports.OrderRepository
	escrowRepo     ports.EscrowRepository
	obligationRepo ports.ObligationRepository
	settlement     ports.SettlementClient
	transactor     ports.DBTransactor
	validators     map[string]bool
	orderTTL       time.Duration
	log            zerolog.Logger

	locks sync.Map // order id -> *sync.Mutex
	now   func() time.Time
}

// NewOrderService creates a new OrderServiceImpl. validatorPubkeys is the
// allow-list of pubkeys permitted to validate payment proofs.
func NewOrderService(
	orderRepo ports.OrderRepository,
	escrowRepo ports.EscrowRepository,
	obligationRepo ports.ObligationRepository,
	settlement ports.SettlementClient,
	transactor ports.DBTransactor,
	validatorPubkeys []string,
	orderTTL time.Duration,
	log zerolog.Logger,
) *OrderServiceImpl {
	validators := make(map[string]bool, len(validatorPubkeys))
	for _, pk := range validatorPubkeys {
		validators[pk] = true
	}
	return &OrderServiceImpl{
		orderRepo:      orderRepo,
		escrowRepo:     escrowRepo,
		obligationRepo: obligationRepo,
		settlement:     settlement,
		transactor:     transactor,
		validators:     validators,
		orderTTL:       orderTTL,
		log:            log,
		now:            time.Now,
	}
}

// lockOrder serializes in-process transitions on one order. Returns the
// unlock func.
func (s *OrderServiceImpl) lockOrder(id uuid.UUID) func() {
	v, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (s *OrderServiceImpl) isValidator(pubkey string) bool {
	return s.validators[pubkey]
}

func requireFullTrust(caller domain.Identity) error {
	if !caller.IsFull() {
		return apperror.ErrWeakCredentialRefused()
	}
	return nil
}

// Create records a new pending order. The owner comes from the verified
// identity; the acceptance window starts now.
func (s *OrderServiceImpl) Create(ctx context.Context, req ports.CreateOrderRequest) (*domain.Order, error) {
	if err := requireFullTrust(req.Owner); err != nil {
		return nil, err
	}
	var missing []string
	if req.BillReference == "" {
		missing = append(missing, "bill_reference")
	}
	if req.PaymentReference == "" {
		missing = append(missing, "payment_reference")
	}
	if len(missing) > 0 {
		return nil, apperror.ErrMissingFields(missing...)
	}
	if !req.FiatAmount.IsPositive() {
		return nil, apperror.Validation("fiat_amount must be positive")
	}
	if !req.BTCAmount.IsPositive() {
		return nil, apperror.Validation("btc_amount must be positive")
	}

	now := s.now().UTC()
	order := &domain.Order{
		ID:               uuid.New(),
		OwnerPubKey:      req.Owner.PubKey,
		BillReference:    req.BillReference,
		PaymentReference: req.PaymentReference,
		FiatAmount:       req.FiatAmount,
		BTCAmount:        req.BTCAmount,
		Status:           domain.OrderStatusPending,
		CreatedAt:        now,
		ExpiresAt:        now.Add(s.orderTTL),
	}

	if err := s.orderRepo.Create(ctx, order); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("create order: %w", err))
	}

	s.log.Info().
		Str("order_id", order.ID.String()).
		Str("owner", order.OwnerPubKey).
		Str("btc_amount", order.BTCAmount.String()).
		Msg("order created")

	return order, nil
}

// Get returns an order, scoped to the caller: participants and validators
// see everything, anyone else sees a redacted view of pending orders only.
func (s *OrderServiceImpl) Get(ctx context.Context, id uuid.UUID, caller domain.Identity) (*domain.Order, error) {
	order, err := s.orderRepo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get order: %w", err))
	}
	if order == nil {
		return nil, apperror.ErrNotFound("order")
	}

	if order.IsOwner(caller.PubKey) || order.IsProvider(caller.PubKey) || s.isValidator(caller.PubKey) {
		return order, nil
	}
	if order.Status == domain.OrderStatusPending && !order.IsExpiredBy(s.now().UTC()) {
		redacted := redactForBrowsing(*order)
		return &redacted, nil
	}
	return nil, apperror.ErrPermissionDenied("not a participant in this order")
}

// ListByUser returns orders the given pubkey owns or accepted. Callers may
// only list their own orders; validators may list anyone's.
func (s *OrderServiceImpl) ListByUser(ctx context.Context, userPubKey string, caller domain.Identity) ([]domain.Order, error) {
	if caller.PubKey != userPubKey && !s.isValidator(caller.PubKey) {
		return nil, apperror.ErrPermissionDenied("cannot list another user's orders")
	}

	owned, err := s.orderRepo.ListByOwner(ctx, userPubKey)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("list owned orders: %w", err))
	}
	accepted, err := s.orderRepo.ListByProvider(ctx, userPubKey)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("list accepted orders: %w", err))
	}

	seen := make(map[uuid.UUID]bool, len(owned))
	out := make([]domain.Order, 0, len(owned)+len(accepted))
	for _, o := range owned {
		seen[o.ID] = true
		out = append(out, o)
	}
	for _, o := range accepted {
		if !seen[o.ID] {
			out = append(out, o)
		}
	}
	return out, nil
}

// ListAvailable returns pending, unexpired orders for provider browsing.
// Owner-private fields are redacted.
func (s *OrderServiceImpl) ListAvailable(ctx context.Context) ([]domain.Order, error) {
	orders, err := s.orderRepo.ListAvailable(ctx, s.now().UTC())
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("list available orders: %w", err))
	}
	out := make([]domain.Order, 0, len(orders))
	for _, o := range orders {
		out = append(out, redactForBrowsing(o))
	}
	return out, nil
}

// redactForBrowsing strips owner-private fields from an order shown to
// non-participants.
func redactForBrowsing(o domain.Order) domain.Order {
	o.PaymentReference = ""
	o.Metadata = nil
	return o
}

// Accept assigns the calling provider to a pending order. An expired order
// encountered here is lazily flipped to expired (and refunded) before the
// caller is told the acceptance lost.
func (s *OrderServiceImpl) Accept(ctx context.Context, id uuid.UUID, caller domain.Identity, collateralLocked bool) (*domain.Order, error) {
	if err := requireFullTrust(caller); err != nil {
		return nil, err
	}
	order, lapsed, err := s.acceptLocked(ctx, id, caller, collateralLocked)
	// Settlement I/O stays outside the per-order lock: the transition has
	// already committed and does not depend on the refund outcome.
	if lapsed != nil {
		s.refundEscrow(ctx, lapsed, "order expired")
	}
	return order, err
}

// acceptLocked runs the accept transition under the per-order lock. When
// the order lapsed before this acceptance, the committed expired order is
// returned alongside the conflict error so the caller can refund it after
// releasing the lock.
func (s *OrderServiceImpl) acceptLocked(ctx context.Context, id uuid.UUID, caller domain.Identity, collateralLocked bool) (*domain.Order, *domain.Order, error) {
	unlock := s.lockOrder(id)
	defer unlock()

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	order, err := s.orderRepo.GetByIDForUpdate(ctx, dbTx, id)
	if err != nil {
		return nil, nil, apperror.InternalError(fmt.Errorf("lock order: %w", err))
	}
	if order == nil {
		return nil, nil, apperror.ErrNotFound("order")
	}
	if order.IsOwner(caller.PubKey) {
		return nil, nil, apperror.ErrPermissionDenied("cannot accept your own order")
	}
	if order.Status != domain.OrderStatusPending {
		return nil, nil, apperror.ErrStateConflict(string(domain.OrderStatusPending), string(order.Status))
	}

	now := s.now().UTC()
	if order.IsExpiredBy(now) {
		order.Status = domain.OrderStatusExpired
		order.ExpiredAt = &now
		if err := s.orderRepo.Update(ctx, dbTx, order); err != nil {
			return nil, nil, apperror.InternalError(fmt.Errorf("expire order: %w", err))
		}
		if err := dbTx.Commit(ctx); err != nil {
			return nil, nil, apperror.InternalError(fmt.Errorf("commit expire: %w", err))
		}
		return nil, order, apperror.ErrStateConflict(string(domain.OrderStatusPending), string(domain.OrderStatusExpired))
	}

	provider := caller.PubKey
	order.ProviderPubKey = &provider
	order.Status = domain.OrderStatusAccepted
	order.AcceptedAt = &now
	order.SetMeta("collateral_locked", collateralLocked)

	if err := s.orderRepo.Update(ctx, dbTx, order); err != nil {
		return nil, nil, apperror.InternalError(fmt.Errorf("update order: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	s.log.Info().
		Str("order_id", order.ID.String()).
		Str("provider", provider).
		Bool("collateral_locked", collateralLocked).
		Msg("order accepted")

	return order, nil, nil
}

// Cancel transitions a pending order to cancelled. Owner only. Any locked
// escrow is refunded after the transition commits.
func (s *OrderServiceImpl) Cancel(ctx context.Context, id uuid.UUID, caller domain.Identity) (*domain.Order, error) {
	if err := requireFullTrust(caller); err != nil {
		return nil, err
	}
	order, err := s.cancelLocked(ctx, id, caller)
	if err != nil {
		return nil, err
	}
	s.refundEscrow(ctx, order, "order cancelled")
	return order, nil
}

func (s *OrderServiceImpl) cancelLocked(ctx context.Context, id uuid.UUID, caller domain.Identity) (*domain.Order, error) {
	unlock := s.lockOrder(id)
	defer unlock()

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	order, err := s.orderRepo.GetByIDForUpdate(ctx, dbTx, id)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lock order: %w", err))
	}
	if order == nil {
		return nil, apperror.ErrNotFound("order")
	}
	if !order.IsOwner(caller.PubKey) {
		return nil, apperror.ErrPermissionDenied("only the order owner can cancel")
	}
	if order.Status != domain.OrderStatusPending {
		return nil, apperror.ErrStateConflict(string(domain.OrderStatusPending), string(order.Status))
	}

	now := s.now().UTC()
	order.Status = domain.OrderStatusCancelled
	order.CancelledAt = &now

	if err := s.orderRepo.Update(ctx, dbTx, order); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("update order: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	s.log.Info().Str("order_id", order.ID.String()).Msg("order cancelled")
	return order, nil
}

// SubmitProof records the provider's bill-payment proof on an accepted
// order and moves it to payment_submitted.
func (s *OrderServiceImpl) SubmitProof(ctx context.Context, id uuid.UUID, caller domain.Identity, req ports.SubmitProofRequest) (*domain.Order, error) {
	if err := requireFullTrust(caller); err != nil {
		return nil, err
	}
	if req.ProofReference == "" {
		return nil, apperror.ErrMissingFields("proof_reference")
	}
	unlock := s.lockOrder(id)
	defer unlock()

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	order, err := s.orderRepo.GetByIDForUpdate(ctx, dbTx, id)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lock order: %w", err))
	}
	if order == nil {
		return nil, apperror.ErrNotFound("order")
	}
	if !order.IsProvider(caller.PubKey) {
		return nil, apperror.ErrPermissionDenied("only the accepting provider can submit proof")
	}
	if order.Status != domain.OrderStatusAccepted {
		return nil, apperror.ErrStateConflict(string(domain.OrderStatusAccepted), string(order.Status))
	}

	proofRef := req.ProofReference
	order.Status = domain.OrderStatusPaymentSubmitted
	order.ProofReference = &proofRef
	if req.ProofData != nil {
		order.SetMeta("proof_data", req.ProofData)
	}

	if err := s.orderRepo.Update(ctx, dbTx, order); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("update order: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	s.log.Info().
		Str("order_id", order.ID.String()).
		Str("proof_reference", proofRef).
		Msg("payment proof submitted")

	return order, nil
}

// Validate records a validator's decision on a submitted proof. Approval
// completes the order; the escrow stays locked until explicitly released.
// Rejection refunds the owner after the transition commits.
func (s *OrderServiceImpl) Validate(ctx context.Context, id uuid.UUID, caller domain.Identity, req ports.ValidateRequest) (*domain.Order, error) {
	if err := requireFullTrust(caller); err != nil {
		return nil, err
	}
	if !s.isValidator(caller.PubKey) {
		return nil, apperror.ErrPermissionDenied("caller is not an authorized validator")
	}
	order, err := s.validateLocked(ctx, id, caller, req)
	if err != nil {
		return nil, err
	}
	if !req.Approved {
		s.refundEscrow(ctx, order, "proof rejected")
	}
	return order, nil
}

func (s *OrderServiceImpl) validateLocked(ctx context.Context, id uuid.UUID, caller domain.Identity, req ports.ValidateRequest) (*domain.Order, error) {
	unlock := s.lockOrder(id)
	defer unlock()

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	order, err := s.orderRepo.GetByIDForUpdate(ctx, dbTx, id)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lock order: %w", err))
	}
	if order == nil {
		return nil, apperror.ErrNotFound("order")
	}
	if order.Status != domain.OrderStatusPaymentSubmitted {
		return nil, apperror.ErrStateConflict(string(domain.OrderStatusPaymentSubmitted), string(order.Status))
	}

	now := s.now().UTC()
	order.SetMeta("validated_by", caller.PubKey)
	if req.Approved {
		order.Status = domain.OrderStatusCompleted
		order.CompletedAt = &now
	} else {
		order.Status = domain.OrderStatusRejected
		if req.RejectionReason != "" {
			order.SetMeta("rejection_reason", req.RejectionReason)
		}
	}

	if err := s.orderRepo.Update(ctx, dbTx, order); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("update order: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	s.log.Info().
		Str("order_id", order.ID.String()).
		Bool("approved", req.Approved).
		Str("validator", caller.PubKey).
		Msg("payment proof validated")

	return order, nil
}

// ExpireDueOrders flips pending orders past their acceptance window to
// expired, refunding any locked escrow per order. Each order gets its own
// transaction so one failure does not stall the sweep.
func (s *OrderServiceImpl) ExpireDueOrders(ctx context.Context) (int, error) {
	due, err := s.orderRepo.ListExpiredPending(ctx, s.now().UTC())
	if err != nil {
		return 0, apperror.InternalError(fmt.Errorf("list expired pending: %w", err))
	}

	expired := 0
	for i := range due {
		order, err := s.expireOne(ctx, due[i].ID)
		if err != nil {
			s.log.Error().Err(err).
				Str("order_id", due[i].ID.String()).
				Msg("failed to expire order, continuing sweep")
			continue
		}
		if order == nil {
			// A concurrent accept or cancel won; nothing to do.
			continue
		}
		s.refundEscrow(ctx, order, "order expired")
		expired++
	}
	return expired, nil
}

// expireOne flips one due order to expired under the per-order lock and
// returns it for the post-lock refund, or nil when a concurrent transition
// already moved the order on.
func (s *OrderServiceImpl) expireOne(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	unlock := s.lockOrder(id)
	defer unlock()

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	order, err := s.orderRepo.GetByIDForUpdate(ctx, dbTx, id)
	if err != nil {
		return nil, fmt.Errorf("lock order: %w", err)
	}
	// Re-check under lock: a concurrent accept or cancel may have won.
	if order == nil || order.Status != domain.OrderStatusPending {
		return nil, nil
	}
	now := s.now().UTC()
	if !order.IsExpiredBy(now) {
		return nil, nil
	}

	order.Status = domain.OrderStatusExpired
	order.ExpiredAt = &now
	if err := s.orderRepo.Update(ctx, dbTx, order); err != nil {
		return nil, fmt.Errorf("update order: %w", err)
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	s.log.Info().Str("order_id", order.ID.String()).Msg("order expired")
	return order, nil
}

// refundEscrow returns a terminal order's locked escrow to its owner. The
// order transition has already committed; a settlement failure here is
// recorded as a refund obligation instead of surfacing to the caller.
func (s *OrderServiceImpl) refundEscrow(ctx context.Context, order *domain.Order, reason string) {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		s.log.Error().Err(err).Str("order_id", order.ID.String()).Msg("refund: begin tx failed")
		return
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	escrow, err := s.escrowRepo.GetByOrderIDForUpdate(ctx, dbTx, order.ID)
	if err != nil {
		s.log.Error().Err(err).Str("order_id", order.ID.String()).Msg("refund: lock escrow failed")
		return
	}
	if escrow == nil || escrow.Status != domain.EscrowStatusLocked {
		return
	}

	now := s.now().UTC()
	escrow.Status = domain.EscrowStatusReleased
	escrow.ReleasedAt = &now
	if err := s.escrowRepo.Update(ctx, dbTx, escrow); err != nil {
		s.log.Error().Err(err).Str("order_id", order.ID.String()).Msg("refund: update escrow failed")
		return
	}
	if err := dbTx.Commit(ctx); err != nil {
		s.log.Error().Err(err).Str("order_id", order.ID.String()).Msg("refund: commit failed")
		return
	}

	if err := s.settlement.CreateRefund(ctx, order); err != nil {
		s.log.Error().Err(err).
			Str("order_id", order.ID.String()).
			Str("reason", reason).
			Msg("refund delivery failed, recording obligation")
		obligation := &domain.RefundObligation{
			ID:          uuid.New(),
			OrderID:     order.ID,
			OwnerPubKey: order.OwnerPubKey,
			BTCAmount:   escrow.BTCAmount,
			Reason:      reason,
			CreatedAt:   now,
		}
		if obErr := s.obligationRepo.Create(ctx, obligation); obErr != nil {
			s.log.Error().Err(obErr).
				Str("order_id", order.ID.String()).
				Msg("failed to record refund obligation")
		}
		return
	}

	s.log.Info().
		Str("order_id", order.ID.String()).
		Str("btc_amount", escrow.BTCAmount.String()).
		Str("reason", reason).
		Msg("escrow refunded to owner")
}
