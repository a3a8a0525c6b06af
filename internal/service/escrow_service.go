package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"nostr-escrow-gateway/internal/core/domain"
	"nostr-escrow-gateway/internal/core/ports"
	"nostr-escrow-gateway/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// EscrowServiceImpl implements ports.EscrowService.
type EscrowServiceImpl struct {
	escrowRepo     ports.EscrowRepository
	orderRepo      ports.OrderRepository
	obligationRepo ports.ObligationRepository
	settlement     ports.SettlementClient
	transactor     ports.DBTransactor
	validators     map[string]bool
	providerFee    decimal.Decimal
	platformFee    decimal.Decimal
	log            zerolog.Logger

	now func() time.Time
}

// NewEscrowService creates a new EscrowServiceImpl.
func NewEscrowService(
	escrowRepo ports.EscrowRepository,
	orderRepo ports.OrderRepository,
	obligationRepo ports.ObligationRepository,
	settlement ports.SettlementClient,
	transactor ports.DBTransactor,
	validatorPubkeys []string,
	providerFee, platformFee decimal.Decimal,
	log zerolog.Logger,
) *EscrowServiceImpl {
	validators := make(map[string]bool, len(validatorPubkeys))
	for _, pk := range validatorPubkeys {
		validators[pk] = true
	}
	return &EscrowServiceImpl{
		escrowRepo:     escrowRepo,
		orderRepo:      orderRepo,
		obligationRepo: obligationRepo,
		settlement:     settlement,
		transactor:     transactor,
		validators:     validators,
		providerFee:    providerFee,
		platformFee:    platformFee,
		log:            log,
		now:            time.Now,
	}
}

// Lock records Bitcoin custody for a pending order. Owner only; the locked
// amount must match the order's BTC amount exactly.
func (s *EscrowServiceImpl) Lock(ctx context.Context, caller domain.Identity, orderID uuid.UUID, btcAmount decimal.Decimal) (*domain.Escrow, error) {
	if err := requireFullTrust(caller); err != nil {
		return nil, err
	}

	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get order: %w", err))
	}
	if order == nil {
		return nil, apperror.ErrNotFound("order")
	}
	if !order.IsOwner(caller.PubKey) {
		return nil, apperror.ErrPermissionDenied("only the order owner can lock escrow")
	}
	if order.IsTerminal() {
		return nil, apperror.ErrStateConflict(string(domain.OrderStatusPending), string(order.Status))
	}
	if !btcAmount.Equal(order.BTCAmount) {
		return nil, apperror.Validation(fmt.Sprintf("btc_amount must equal the order amount %s", order.BTCAmount))
	}

	escrow := &domain.Escrow{
		OrderID:     orderID,
		OwnerPubKey: order.OwnerPubKey,
		BTCAmount:   btcAmount,
		Status:      domain.EscrowStatusLocked,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.escrowRepo.Create(ctx, escrow); err != nil {
		if errors.Is(err, ports.ErrAlreadyExists) {
			return nil, apperror.ErrStateConflict("no escrow", string(domain.EscrowStatusLocked))
		}
		return nil, apperror.InternalError(fmt.Errorf("create escrow: %w", err))
	}

	s.log.Info().
		Str("order_id", orderID.String()).
		Str("btc_amount", btcAmount.String()).
		Msg("escrow locked")

	return escrow, nil
}

// Release distributes a completed order's escrow: the provider receives the
// locked amount minus both fees, the platform collects its fee. Callable by
// the order's provider or a validator; a second release fails.
func (s *EscrowServiceImpl) Release(ctx context.Context, caller domain.Identity, orderID uuid.UUID) (*domain.Distribution, error) {
	if err := requireFullTrust(caller); err != nil {
		return nil, err
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	order, err := s.orderRepo.GetByIDForUpdate(ctx, dbTx, orderID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lock order: %w", err))
	}
	if order == nil {
		return nil, apperror.ErrNotFound("order")
	}
	if !order.IsProvider(caller.PubKey) && !s.validators[caller.PubKey] {
		return nil, apperror.ErrPermissionDenied("only the order provider or a validator can release escrow")
	}
	if order.Status != domain.OrderStatusCompleted {
		return nil, apperror.ErrStateConflict(string(domain.OrderStatusCompleted), string(order.Status))
	}

	escrow, err := s.escrowRepo.GetByOrderIDForUpdate(ctx, dbTx, orderID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lock escrow: %w", err))
	}
	if escrow == nil {
		return nil, apperror.ErrNotFound("escrow")
	}
	if escrow.Status != domain.EscrowStatusLocked {
		return nil, apperror.ErrAlreadyReleased()
	}

	dist := domain.Split(escrow.BTCAmount, s.providerFee, s.platformFee)
	now := s.now().UTC()
	escrow.Status = domain.EscrowStatusReleased
	escrow.ReleasedAt = &now
	escrow.ProviderAmount = dist.ProviderAmount
	escrow.PlatformAmount = dist.PlatformAmount

	if err := s.escrowRepo.Update(ctx, dbTx, escrow); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("update escrow: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	s.log.Info().
		Str("order_id", orderID.String()).
		Str("provider_amount", dist.ProviderAmount.String()).
		Str("platform_amount", dist.PlatformAmount.String()).
		Msg("escrow released")

	// Payout happens after commit: a delivery failure never rolls back the
	// release, it becomes an obligation for operational follow-up.
	provider := *order.ProviderPubKey
	if err := s.settlement.SendPayment(ctx, provider, dist.ProviderAmount); err != nil {
		s.log.Error().Err(err).
			Str("order_id", orderID.String()).
			Str("provider", provider).
			Msg("provider payout failed, recording obligation")
		obligation := &domain.RefundObligation{
			ID:          uuid.New(),
			OrderID:     orderID,
			OwnerPubKey: provider,
			BTCAmount:   dist.ProviderAmount,
			Reason:      "provider payout failed",
			CreatedAt:   now,
		}
		if obErr := s.obligationRepo.Create(ctx, obligation); obErr != nil {
			s.log.Error().Err(obErr).Str("order_id", orderID.String()).Msg("failed to record payout obligation")
		}
	}

	return &dist, nil
}

// Get returns the escrow record for an order. Participants and validators only.
func (s *EscrowServiceImpl) Get(ctx context.Context, caller domain.Identity, orderID uuid.UUID) (*domain.Escrow, error) {
	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get order: %w", err))
	}
	if order == nil {
		return nil, apperror.ErrNotFound("order")
	}
	if !order.IsOwner(caller.PubKey) && !order.IsProvider(caller.PubKey) && !s.validators[caller.PubKey] {
		return nil, apperror.ErrPermissionDenied("not a participant in this order")
	}

	escrow, err := s.escrowRepo.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get escrow: %w", err))
	}
	if escrow == nil {
		return nil, apperror.ErrNotFound("escrow")
	}
	return escrow, nil
}
