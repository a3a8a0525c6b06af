package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"nostr-escrow-gateway/internal/core/domain"
	"nostr-escrow-gateway/internal/core/ports"
	"nostr-escrow-gateway/internal/core/ports/mocks"
	"nostr-escrow-gateway/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const (
	testOwner    = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	testProvider = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

type routerTestDeps struct {
	router        http.Handler
	orderSvc      *mocks.MockOrderService
	escrowSvc     *mocks.MockEscrowService
	collateralSvc *mocks.MockCollateralService
	verifier      *mocks.MockIdentityVerifier
	ctrl          *gomock.Controller
}

func setupRouter(t *testing.T) *routerTestDeps {
	ctrl := gomock.NewController(t)
	d := &routerTestDeps{
		orderSvc:      mocks.NewMockOrderService(ctrl),
		escrowSvc:     mocks.NewMockEscrowService(ctrl),
		collateralSvc: mocks.NewMockCollateralService(ctrl),
		verifier:      mocks.NewMockIdentityVerifier(ctrl),
		ctrl:          ctrl,
	}
	d.router = SetupRouter(RouterDeps{
		OrderSvc:      d.orderSvc,
		EscrowSvc:     d.escrowSvc,
		CollateralSvc: d.collateralSvc,
		Verifier:      d.verifier,
		Logger:        zerolog.Nop(),
	})
	return d
}

func (d *routerTestDeps) authenticateAs(pubkey string) {
	d.verifier.EXPECT().Verify(gomock.Any()).
		Return(domain.Identity{PubKey: pubkey, Trust: domain.TrustFull}, nil)
}

func (d *routerTestDeps) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body) //nolint:errcheck
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	d.router.ServeHTTP(w, req)
	return w
}

func testOrder() *domain.Order {
	now := time.Now().UTC()
	return &domain.Order{
		ID:               uuid.New(),
		OwnerPubKey:      testOwner,
		BillReference:    "ELEC-1",
		PaymentReference: "ref-1",
		FiatAmount:       decimal.RequireFromString("10"),
		BTCAmount:        decimal.RequireFromString("0.0002"),
		Status:           domain.OrderStatusPending,
		CreatedAt:        now,
		ExpiresAt:        now.Add(24 * time.Hour),
	}
}

func TestCreateOrder(t *testing.T) {
	d := setupRouter(t)
	defer d.ctrl.Finish()
	d.authenticateAs(testOwner)

	d.orderSvc.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ interface{}, req ports.CreateOrderRequest) (*domain.Order, error) {
			assert.Equal(t, testOwner, req.Owner.PubKey)
			assert.True(t, req.FiatAmount.Equal(decimal.RequireFromString("10")))
			return testOrder(), nil
		})

	w := d.do("POST", "/api/v1/orders/create", map[string]interface{}{
		"bill_reference":    "ELEC-1",
		"payment_reference": "ref-1",
		"fiat_amount":       "10",
		"btc_amount":        "0.0002",
	})
	assert.Equal(t, http.StatusCreated, w.Code)

	var envelope struct {
		Data      map[string]interface{} `json:"data"`
		RequestID string                 `json:"request_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, "pending", envelope.Data["status"])
	assert.NotEmpty(t, envelope.RequestID)
}

func TestCreateOrder_BadDecimal(t *testing.T) {
	d := setupRouter(t)
	defer d.ctrl.Finish()
	d.authenticateAs(testOwner)

	w := d.do("POST", "/api/v1/orders/create", map[string]interface{}{
		"bill_reference":    "ELEC-1",
		"payment_reference": "ref-1",
		"fiat_amount":       "ten",
		"btc_amount":        "0.0002",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "VAL_001")
}

func TestUnauthenticatedRequestRejected(t *testing.T) {
	d := setupRouter(t)
	defer d.ctrl.Finish()
	d.verifier.EXPECT().Verify(gomock.Any()).
		Return(domain.Identity{}, apperror.ErrMissingAuth())

	w := d.do("GET", "/api/v1/orders/available", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "AUTH_001")
}

func TestGetOrder_InvalidID(t *testing.T) {
	d := setupRouter(t)
	defer d.ctrl.Finish()
	d.authenticateAs(testOwner)

	w := d.do("GET", "/api/v1/orders/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetOrder_NotFound(t *testing.T) {
	d := setupRouter(t)
	defer d.ctrl.Finish()
	d.authenticateAs(testOwner)
	id := uuid.New()

	d.orderSvc.EXPECT().Get(gomock.Any(), id, gomock.Any()).
		Return(nil, apperror.ErrNotFound("order"))

	w := d.do("GET", "/api/v1/orders/"+id.String(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "RES_001")
}

func TestAcceptOrder_NoBody(t *testing.T) {
	d := setupRouter(t)
	defer d.ctrl.Finish()
	d.authenticateAs(testProvider)
	order := testOrder()
	provider := testProvider
	order.Status = domain.OrderStatusAccepted
	order.ProviderPubKey = &provider

	d.orderSvc.EXPECT().Accept(gomock.Any(), order.ID, gomock.Any(), false).Return(order, nil)

	w := d.do("POST", "/api/v1/orders/"+order.ID.String()+"/accept", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "accepted")
}

func TestAcceptOrder_WithCollateralFlag(t *testing.T) {
	d := setupRouter(t)
	defer d.ctrl.Finish()
	d.authenticateAs(testProvider)
	order := testOrder()

	d.orderSvc.EXPECT().Accept(gomock.Any(), order.ID, gomock.Any(), true).Return(order, nil)

	w := d.do("POST", "/api/v1/orders/"+order.ID.String()+"/accept",
		map[string]interface{}{"lock_collateral": true})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAcceptOrder_StateConflict(t *testing.T) {
	d := setupRouter(t)
	defer d.ctrl.Finish()
	d.authenticateAs(testProvider)
	id := uuid.New()

	d.orderSvc.EXPECT().Accept(gomock.Any(), id, gomock.Any(), false).
		Return(nil, apperror.ErrStateConflict("pending", "accepted"))

	w := d.do("POST", "/api/v1/orders/"+id.String()+"/accept", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "currently accepted")
}

func TestValidateOrder_RequiresApprovedField(t *testing.T) {
	d := setupRouter(t)
	defer d.ctrl.Finish()
	d.authenticateAs(testOwner)
	id := uuid.New()

	// approved missing entirely: binding must reject, not default to false.
	w := d.do("POST", "/api/v1/orders/"+id.String()+"/validate", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestValidateOrder_RejectPassesReason(t *testing.T) {
	d := setupRouter(t)
	defer d.ctrl.Finish()
	d.authenticateAs(testOwner)
	order := testOrder()
	order.Status = domain.OrderStatusRejected

	d.orderSvc.EXPECT().Validate(gomock.Any(), order.ID, gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ interface{}, _ uuid.UUID, _ domain.Identity, req ports.ValidateRequest) (*domain.Order, error) {
			assert.False(t, req.Approved)
			assert.Equal(t, "mismatched amount", req.RejectionReason)
			return order, nil
		})

	w := d.do("POST", "/api/v1/orders/"+order.ID.String()+"/validate",
		map[string]interface{}{"approved": false, "rejection_reason": "mismatched amount"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestLockEscrow(t *testing.T) {
	d := setupRouter(t)
	defer d.ctrl.Finish()
	d.authenticateAs(testOwner)
	order := testOrder()
	escrow := &domain.Escrow{
		OrderID:     order.ID,
		OwnerPubKey: testOwner,
		BTCAmount:   order.BTCAmount,
		Status:      domain.EscrowStatusLocked,
		CreatedAt:   time.Now().UTC(),
	}

	d.escrowSvc.EXPECT().Lock(gomock.Any(), gomock.Any(), order.ID, gomock.Any()).Return(escrow, nil)

	w := d.do("POST", "/api/v1/escrow/create", map[string]interface{}{
		"order_id":   order.ID.String(),
		"btc_amount": "0.0002",
	})
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), "locked")
}

func TestReleaseEscrow(t *testing.T) {
	d := setupRouter(t)
	defer d.ctrl.Finish()
	d.authenticateAs(testProvider)
	orderID := uuid.New()
	dist := &domain.Distribution{
		ProviderAmount: decimal.RequireFromString("0.00019"),
		PlatformAmount: decimal.RequireFromString("0.000004"),
	}

	d.escrowSvc.EXPECT().Release(gomock.Any(), gomock.Any(), orderID).Return(dist, nil)

	w := d.do("POST", "/api/v1/escrow/release", map[string]interface{}{
		"order_id": orderID.String(),
	})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "provider_amount")
}

func TestGetEscrow_AnonymousCallerReachesService(t *testing.T) {
	d := setupRouter(t)
	defer d.ctrl.Finish()
	orderID := uuid.New()

	// Escrow reads carry optional auth: an unverifiable caller is not
	// turned away at the middleware, the service scopes visibility and
	// treats the empty identity as a non-participant.
	d.verifier.EXPECT().Verify(gomock.Any()).
		Return(domain.Identity{}, apperror.ErrMissingAuth())
	d.escrowSvc.EXPECT().Get(gomock.Any(), gomock.Any(), orderID).DoAndReturn(
		func(_ interface{}, caller domain.Identity, _ uuid.UUID) (*domain.Escrow, error) {
			assert.Empty(t, caller.PubKey)
			return nil, apperror.ErrPermissionDenied("not a participant in this order")
		})

	w := d.do("GET", "/api/v1/escrow/"+orderID.String(), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "ORD_002")
}

func TestCollateralDeposit(t *testing.T) {
	d := setupRouter(t)
	defer d.ctrl.Finish()
	d.authenticateAs(testProvider)
	deposit := &domain.CollateralDeposit{
		ID:             uuid.New(),
		ProviderPubKey: testProvider,
		TierID:         "basic",
		SatsAmount:     750,
		Status:         domain.DepositStatusPending,
		Invoice:        "lnsim750-abc",
		CreatedAt:      time.Now().UTC(),
	}

	d.collateralSvc.EXPECT().Deposit(gomock.Any(), gomock.Any(), gomock.Any()).Return(deposit, nil)

	w := d.do("POST", "/api/v1/collateral/deposit", map[string]interface{}{
		"tier_id":     "basic",
		"fiat_amount": "25.00",
		"sats_amount": 750,
	})
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), "lnsim750-abc")
}

func TestCollateralSummary(t *testing.T) {
	d := setupRouter(t)
	defer d.ctrl.Finish()
	d.authenticateAs(testProvider)

	d.collateralSvc.EXPECT().Summary(gomock.Any(), testProvider, gomock.Any()).
		Return(&domain.CollateralSummary{
			ProviderPubKey: testProvider,
			TotalSats:      1200,
			CurrentTier:    domain.TierIntermediate,
			Deposits:       2,
			ActiveHolds:    1,
		}, nil)

	w := d.do("GET", "/api/v1/collateral/"+testProvider, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "intermediate")
}

func TestHealthEndpointSkipsAuth(t *testing.T) {
	d := setupRouter(t)
	defer d.ctrl.Finish()
	// No Verify expectation: /health sits outside the authenticated group.

	w := d.do("GET", "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
