package service

import (
	"context"
	"fmt"
	"time"

	"nostr-escrow-gateway/internal/core/domain"
	"nostr-escrow-gateway/internal/core/ports"
	"nostr-escrow-gateway/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// CollateralServiceImpl implements ports.CollateralService. Provider bonds
// are settled over Lightning invoices; the tier is always recomputed from
// the sum of paid deposits, never cached.
type CollateralServiceImpl struct {
	collateralRepo ports.CollateralRepository
	orderRepo      ports.OrderRepository
	settlement     ports.SettlementClient
	validators     map[string]bool
	log            zerolog.Logger

	now func() time.Time
}

// NewCollateralService creates a new CollateralServiceImpl.
func NewCollateralService(
	collateralRepo ports.CollateralRepository,
	orderRepo ports.OrderRepository,
	settlement ports.SettlementClient,
	validatorPubkeys []string,
	log zerolog.Logger,
) *CollateralServiceImpl {
	validators := make(map[string]bool, len(validatorPubkeys))
	for _, pk := range validatorPubkeys {
		validators[pk] = true
	}
	return &CollateralServiceImpl{
		collateralRepo: collateralRepo,
		orderRepo:      orderRepo,
		settlement:     settlement,
		validators:     validators,
		log:            log,
		now:            time.Now,
	}
}

// Deposit opens a pending collateral deposit and issues a Lightning invoice
// for it. The deposit id doubles as the invoice id.
func (s *CollateralServiceImpl) Deposit(ctx context.Context, caller domain.Identity, req ports.DepositRequest) (*domain.CollateralDeposit, error) {
	if err := requireFullTrust(caller); err != nil {
		return nil, err
	}
	if req.SatsAmount <= 0 {
		return nil, apperror.Validation("sats_amount must be positive")
	}

	id := uuid.New()
	invoice, err := s.settlement.CreateInvoice(ctx, id, req.SatsAmount)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("create invoice: %w", err))
	}

	deposit := &domain.CollateralDeposit{
		ID:             id,
		ProviderPubKey: caller.PubKey,
		TierID:         req.TierID,
		FiatAmount:     req.FiatAmount,
		SatsAmount:     req.SatsAmount,
		Status:         domain.DepositStatusPending,
		Invoice:        invoice,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.collateralRepo.CreateDeposit(ctx, deposit); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("create deposit: %w", err))
	}

	s.log.Info().
		Str("deposit_id", id.String()).
		Str("provider", caller.PubKey).
		Int64("sats", req.SatsAmount).
		Msg("collateral deposit opened")

	return deposit, nil
}

// Confirm checks the deposit's invoice against the settlement backend and
// marks the deposit paid once settled. Idempotent on already-paid deposits.
func (s *CollateralServiceImpl) Confirm(ctx context.Context, caller domain.Identity, depositID uuid.UUID) (*domain.CollateralDeposit, error) {
	if err := requireFullTrust(caller); err != nil {
		return nil, err
	}

	deposit, err := s.collateralRepo.GetDeposit(ctx, depositID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get deposit: %w", err))
	}
	if deposit == nil {
		return nil, apperror.ErrNotFound("deposit")
	}
	if deposit.ProviderPubKey != caller.PubKey {
		return nil, apperror.ErrPermissionDenied("deposit belongs to another provider")
	}
	if deposit.Status == domain.DepositStatusPaid {
		return deposit, nil
	}

	settled, err := s.settlement.CheckPayment(ctx, depositID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("check invoice: %w", err))
	}
	if !settled {
		return nil, apperror.ErrStateConflict(string(domain.DepositStatusPaid), string(domain.DepositStatusPending))
	}

	now := s.now().UTC()
	if err := s.collateralRepo.MarkDepositPaid(ctx, depositID, now); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("mark deposit paid: %w", err))
	}
	deposit.Status = domain.DepositStatusPaid
	deposit.PaidAt = &now

	s.log.Info().
		Str("deposit_id", depositID.String()).
		Str("provider", caller.PubKey).
		Msg("collateral deposit confirmed")

	return deposit, nil
}

// Lock records a collateral hold against an order. Only the order's
// accepting provider can hold collateral for it.
func (s *CollateralServiceImpl) Lock(ctx context.Context, caller domain.Identity, orderID uuid.UUID, lockedSats int64) error {
	if err := requireFullTrust(caller); err != nil {
		return err
	}
	if lockedSats <= 0 {
		return apperror.Validation("locked_sats must be positive")
	}

	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("get order: %w", err))
	}
	if order == nil {
		return apperror.ErrNotFound("order")
	}
	if !order.IsProvider(caller.PubKey) {
		return apperror.ErrPermissionDenied("only the accepting provider can lock collateral")
	}

	hold := &domain.CollateralHold{
		OrderID:        orderID,
		ProviderPubKey: caller.PubKey,
		LockedSats:     lockedSats,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.collateralRepo.CreateHold(ctx, hold); err != nil {
		return apperror.InternalError(fmt.Errorf("create hold: %w", err))
	}

	s.log.Info().
		Str("order_id", orderID.String()).
		Str("provider", caller.PubKey).
		Int64("locked_sats", lockedSats).
		Msg("collateral hold placed")

	return nil
}

// Unlock removes the caller's collateral hold on an order. Removing a hold
// that does not exist is not an error.
func (s *CollateralServiceImpl) Unlock(ctx context.Context, caller domain.Identity, orderID uuid.UUID) error {
	if err := requireFullTrust(caller); err != nil {
		return err
	}
	if err := s.collateralRepo.DeleteHold(ctx, orderID, caller.PubKey); err != nil {
		return apperror.InternalError(fmt.Errorf("delete hold: %w", err))
	}
	s.log.Info().
		Str("order_id", orderID.String()).
		Str("provider", caller.PubKey).
		Msg("collateral hold removed")
	return nil
}

// Summary returns the provider's bond view. Providers see their own
// summary; validators see anyone's.
func (s *CollateralServiceImpl) Summary(ctx context.Context, providerPubKey string, caller domain.Identity) (*domain.CollateralSummary, error) {
	if caller.PubKey != providerPubKey && !s.validators[caller.PubKey] {
		return nil, apperror.ErrPermissionDenied("cannot view another provider's collateral")
	}

	totalSats, err := s.collateralRepo.SumPaidSats(ctx, providerPubKey)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("sum paid sats: %w", err))
	}
	deposits, err := s.collateralRepo.CountPaidDeposits(ctx, providerPubKey)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("count deposits: %w", err))
	}
	holds, err := s.collateralRepo.CountHolds(ctx, providerPubKey)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("count holds: %w", err))
	}

	return &domain.CollateralSummary{
		ProviderPubKey: providerPubKey,
		TotalSats:      totalSats,
		CurrentTier:    domain.TierForSats(totalSats),
		Deposits:       deposits,
		ActiveHolds:    holds,
	}, nil
}
