package integration

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	httpHandler "nostr-escrow-gateway/internal/adapter/http/handler"
	"nostr-escrow-gateway/internal/adapter/lightning"
	redisStorage "nostr-escrow-gateway/internal/adapter/storage/redis"
	"nostr-escrow-gateway/internal/core/ports"
	"nostr-escrow-gateway/internal/service"
	"nostr-escrow-gateway/pkg/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testApp builds the full application stack over in-memory repos, miniredis
// and the simulated Lightning backend. It exercises the real HTTP layer,
// request authentication, services and stores end-to-end.

type testApp struct {
	server *httptest.Server
	redis  *miniredis.Miniredis

	orders      ports.OrderService
	escrows     *inMemoryEscrowRepo
	obligations *inMemoryObligationRepo

	owner     *signer
	provider  *signer
	validator *signer
}

func newTestApp(t *testing.T) *testApp {
	return newTestAppWithTTL(t, 24*time.Hour)
}

func newTestAppWithTTL(t *testing.T, orderTTL time.Duration) *testApp {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})

	owner := newSigner(t)
	provider := newSigner(t)
	validator := newSigner(t)
	validators := []string{validator.pub}

	log := logger.New("debug", false)

	orderRepo := newInMemoryOrderRepo()
	escrowRepo := newInMemoryEscrowRepo()
	collateralRepo := newInMemoryCollateralRepo()
	obligationRepo := newInMemoryObligationRepo()
	transactor := newInMemoryTransactor()

	replayStore := redisStorage.NewReplayStore(rdb)
	settlement := lightning.NewSimulatedClient(log)

	verifier := service.NewNostrVerifier(replayStore, 300*time.Second, log)
	orderSvc := service.NewOrderService(
		orderRepo, escrowRepo, obligationRepo, settlement, transactor,
		validators, orderTTL, log,
	)
	escrowSvc := service.NewEscrowService(
		escrowRepo, orderRepo, obligationRepo, settlement, transactor,
		validators,
		decimal.RequireFromString("0.03"), decimal.RequireFromString("0.02"),
		log,
	)
	collateralSvc := service.NewCollateralService(collateralRepo, orderRepo, settlement, validators, log)

	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		OrderSvc:      orderSvc,
		EscrowSvc:     escrowSvc,
		CollateralSvc: collateralSvc,
		Verifier:      verifier,
		Logger:        log,
	})

	server := httptest.NewServer(router)

	return &testApp{
		server:      server,
		redis:       mr,
		orders:      orderSvc,
		escrows:     escrowRepo,
		obligations: obligationRepo,
		owner:       owner,
		provider:    provider,
		validator:   validator,
	}
}

func (a *testApp) close() {
	a.server.Close()
	a.redis.Close()
}

// --- Nostr request signing ---

type signer struct {
	priv *btcec.PrivateKey
	pub  string
}

func newSigner(t *testing.T) *signer {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	return &signer{
		priv: priv,
		pub:  hex.EncodeToString(schnorr.SerializePubKey(priv.PubKey())),
	}
}

type wireEvent struct {
	ID        string     `json:"id"`
	PubKey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Kind      int        `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig"`
}

// authHeader produces a NIP-98 Authorization header bound to method and url.
// The nonce tag makes every signed event unique even when two requests for
// the same method and URL land in the same unix second, so the replay guard
// only ever rejects an actually reused event.
func (s *signer) authHeader(t *testing.T, method, url string) string {
	t.Helper()
	event := wireEvent{
		PubKey:    s.pub,
		CreatedAt: time.Now().Unix(),
		Kind:      27235,
		Tags:      [][]string{{"u", url}, {"method", method}, {"nonce", uuid.NewString()}},
	}

	canonical := []interface{}{0, event.PubKey, event.CreatedAt, event.Kind, event.Tags, event.Content}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	require.NoError(t, enc.Encode(canonical))
	sum := sha256.Sum256(bytes.TrimRight(buf.Bytes(), "\n"))
	event.ID = hex.EncodeToString(sum[:])

	sig, err := schnorr.Sign(s.priv, sum[:])
	require.NoError(t, err)
	event.Sig = hex.EncodeToString(sig.Serialize())

	raw, err := json.Marshal(&event)
	require.NoError(t, err)
	return "Nostr " + base64.StdEncoding.EncodeToString(raw)
}

type apiResponse struct {
	Status int
	Body   map[string]interface{}
}

func (r apiResponse) data() map[string]interface{} {
	d, _ := r.Body["data"].(map[string]interface{})
	return d
}

func (a *testApp) do(t *testing.T, s *signer, method, path string, body interface{}) apiResponse {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, a.server.URL+path, &buf)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s != nil {
		req.Header.Set("Authorization", s.authHeader(t, method, a.server.URL+path))
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var parsed map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&parsed))
	return apiResponse{Status: resp.StatusCode, Body: parsed}
}

func (a *testApp) createOrder(t *testing.T) string {
	t.Helper()
	resp := a.do(t, a.owner, "POST", "/api/v1/orders/create", map[string]interface{}{
		"bill_reference":    "ELEC-2024-08",
		"payment_reference": "bank ref 12345",
		"fiat_amount":       "120.50",
		"btc_amount":        "0.002",
	})
	require.Equal(t, http.StatusCreated, resp.Status, "%v", resp.Body)
	return resp.data()["id"].(string)
}

// --- Integration Tests ---

func TestIntegration_HealthCheck(t *testing.T) {
	app := newTestApp(t)
	defer app.close()

	resp, err := http.Get(app.server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])
}

func TestIntegration_FullEscrowLifecycle(t *testing.T) {
	app := newTestApp(t)
	defer app.close()

	orderID := app.createOrder(t)

	// Owner locks the Bitcoin in escrow.
	resp := app.do(t, app.owner, "POST", "/api/v1/escrow/create", map[string]interface{}{
		"order_id":   orderID,
		"btc_amount": "0.002",
	})
	require.Equal(t, http.StatusCreated, resp.Status, "%v", resp.Body)
	assert.Equal(t, "locked", resp.data()["status"])

	// Provider accepts.
	resp = app.do(t, app.provider, "POST", "/api/v1/orders/"+orderID+"/accept", nil)
	require.Equal(t, http.StatusOK, resp.Status, "%v", resp.Body)
	assert.Equal(t, "accepted", resp.data()["status"])
	assert.Equal(t, app.provider.pub, resp.data()["provider_pubkey"])

	// Provider submits fiat payment proof.
	resp = app.do(t, app.provider, "POST", "/api/v1/orders/"+orderID+"/submit-proof", map[string]interface{}{
		"proof_reference": "receipt-789",
		"proof_data":      map[string]interface{}{"bank": "acme", "amount": "120.50"},
	})
	require.Equal(t, http.StatusOK, resp.Status, "%v", resp.Body)
	assert.Equal(t, "payment_submitted", resp.data()["status"])

	// Validator approves.
	resp = app.do(t, app.validator, "POST", "/api/v1/orders/"+orderID+"/validate", map[string]interface{}{
		"approved": true,
	})
	require.Equal(t, http.StatusOK, resp.Status, "%v", resp.Body)
	assert.Equal(t, "completed", resp.data()["status"])

	// Provider releases escrow and gets the amount minus both fees.
	resp = app.do(t, app.provider, "POST", "/api/v1/escrow/release", map[string]interface{}{
		"order_id": orderID,
	})
	require.Equal(t, http.StatusOK, resp.Status, "%v", resp.Body)
	assert.Equal(t, "0.0019", resp.data()["provider_amount"])
	assert.Equal(t, "0.00004", resp.data()["platform_amount"])

	// A second release must fail.
	resp = app.do(t, app.provider, "POST", "/api/v1/escrow/release", map[string]interface{}{
		"order_id": orderID,
	})
	assert.Equal(t, http.StatusBadRequest, resp.Status)
	assert.Equal(t, "ORD_001", resp.Body["error_code"])
}

func TestIntegration_RejectionRefundsEscrow(t *testing.T) {
	app := newTestApp(t)
	defer app.close()

	orderID := app.createOrder(t)
	app.do(t, app.owner, "POST", "/api/v1/escrow/create", map[string]interface{}{
		"order_id": orderID, "btc_amount": "0.002",
	})
	app.do(t, app.provider, "POST", "/api/v1/orders/"+orderID+"/accept", nil)
	app.do(t, app.provider, "POST", "/api/v1/orders/"+orderID+"/submit-proof", map[string]interface{}{
		"proof_reference": "receipt-000",
	})

	resp := app.do(t, app.validator, "POST", "/api/v1/orders/"+orderID+"/validate", map[string]interface{}{
		"approved":         false,
		"rejection_reason": "receipt does not match bill",
	})
	require.Equal(t, http.StatusOK, resp.Status, "%v", resp.Body)
	assert.Equal(t, "rejected", resp.data()["status"])

	// The escrow was refunded to the owner.
	resp = app.do(t, app.owner, "GET", "/api/v1/escrow/"+orderID, nil)
	require.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "released", resp.data()["status"])
}

func TestIntegration_CancelRefundsEscrow(t *testing.T) {
	app := newTestApp(t)
	defer app.close()

	orderID := app.createOrder(t)
	app.do(t, app.owner, "POST", "/api/v1/escrow/create", map[string]interface{}{
		"order_id": orderID, "btc_amount": "0.002",
	})

	resp := app.do(t, app.owner, "POST", "/api/v1/orders/"+orderID+"/cancel", nil)
	require.Equal(t, http.StatusOK, resp.Status, "%v", resp.Body)
	assert.Equal(t, "cancelled", resp.data()["status"])

	resp = app.do(t, app.owner, "GET", "/api/v1/escrow/"+orderID, nil)
	require.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "released", resp.data()["status"])

	// Accepting a cancelled order reports its committed state.
	resp = app.do(t, app.provider, "POST", "/api/v1/orders/"+orderID+"/accept", nil)
	assert.Equal(t, http.StatusBadRequest, resp.Status)
	assert.Contains(t, resp.Body["message"], "currently cancelled")
}

func TestIntegration_BrowsingRedactsPaymentDetails(t *testing.T) {
	app := newTestApp(t)
	defer app.close()

	orderID := app.createOrder(t)

	// A browsing provider sees the order without the payment reference.
	resp := app.do(t, app.provider, "GET", "/api/v1/orders/available", nil)
	require.Equal(t, http.StatusOK, resp.Status)
	list := resp.Body["data"].([]interface{})
	require.Len(t, list, 1)
	entry := list[0].(map[string]interface{})
	assert.Equal(t, orderID, entry["id"])
	_, hasPaymentRef := entry["payment_reference"]
	assert.False(t, hasPaymentRef)

	// The owner still sees everything.
	resp = app.do(t, app.owner, "GET", "/api/v1/orders/"+orderID, nil)
	require.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "bank ref 12345", resp.data()["payment_reference"])
}

func TestIntegration_WeakCredentialRefusedOnCreate(t *testing.T) {
	app := newTestApp(t)
	defer app.close()

	// Bare pubkey headers authenticate, but only at weak trust.
	req, err := http.NewRequest("POST", app.server.URL+"/api/v1/orders/create",
		bytes.NewBufferString(`{"bill_reference":"B","payment_reference":"P","fiat_amount":"1","btc_amount":"0.0001"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Identity-Pubkey", app.owner.pub)
	req.Header.Set("X-Identity-Signature", "ab"+string(bytes.Repeat([]byte("cd"), 63)))

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "AUTH_009", body["error_code"])
}

func TestIntegration_ReplayedAuthEventRejected(t *testing.T) {
	app := newTestApp(t)
	defer app.close()

	url := app.server.URL + "/api/v1/orders/available"
	header := app.owner.authHeader(t, "GET", url)

	for i, wantStatus := range []int{http.StatusOK, http.StatusUnauthorized} {
		req, err := http.NewRequest("GET", url, nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", header)

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, wantStatus, resp.StatusCode, "request %d", i+1)
	}
}

func TestIntegration_RapidRequestsSameSecond(t *testing.T) {
	app := newTestApp(t)
	defer app.close()

	// Same caller, same method and URL, signed back to back. The nonce tag
	// keeps each event id unique, so only an actually reused header is a
	// replay; freshly signed requests always pass.
	for i := 0; i < 3; i++ {
		resp := app.do(t, app.owner, "GET", "/api/v1/orders/available", nil)
		require.Equal(t, http.StatusOK, resp.Status, "request %d: %v", i+1, resp.Body)
	}
}

func TestIntegration_CollateralDepositAndTier(t *testing.T) {
	app := newTestApp(t)
	defer app.close()

	// Open a deposit; the simulated backend issues an invoice.
	resp := app.do(t, app.provider, "POST", "/api/v1/collateral/deposit", map[string]interface{}{
		"tier_id":     "intermediate",
		"fiat_amount": "40.00",
		"sats_amount": 1200,
	})
	require.Equal(t, http.StatusCreated, resp.Status, "%v", resp.Body)
	depositID := resp.data()["id"].(string)
	assert.NotEmpty(t, resp.data()["invoice"])

	// Confirm: the simulated invoice settles on first check.
	resp = app.do(t, app.provider, "POST", "/api/v1/collateral/confirm", map[string]interface{}{
		"deposit_id": depositID,
	})
	require.Equal(t, http.StatusOK, resp.Status, "%v", resp.Body)
	assert.Equal(t, "paid", resp.data()["status"])

	// The tier is recomputed from the paid sum.
	resp = app.do(t, app.provider, "GET", "/api/v1/collateral/"+app.provider.pub, nil)
	require.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "intermediate", resp.data()["current_tier"])
	assert.Equal(t, float64(1200), resp.data()["total_sats"])

	// Another provider cannot inspect the bond.
	other := newSigner(t)
	resp = app.do(t, other, "GET", "/api/v1/collateral/"+app.provider.pub, nil)
	assert.Equal(t, http.StatusForbidden, resp.Status)
}

func TestIntegration_SweeperExpiresAndRefunds(t *testing.T) {
	app := newTestAppWithTTL(t, 50*time.Millisecond)
	defer app.close()

	orderID := app.createOrder(t)
	app.do(t, app.owner, "POST", "/api/v1/escrow/create", map[string]interface{}{
		"order_id": orderID, "btc_amount": "0.002",
	})

	time.Sleep(100 * time.Millisecond)

	expired, err := app.orders.ExpireDueOrders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	// The order is expired and its escrow refunded.
	resp := app.do(t, app.owner, "GET", "/api/v1/orders/"+orderID, nil)
	require.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "expired", resp.data()["status"])

	resp = app.do(t, app.owner, "GET", "/api/v1/escrow/"+orderID, nil)
	require.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "released", resp.data()["status"])

	// Expired orders no longer show up for browsing providers.
	resp = app.do(t, app.provider, "GET", "/api/v1/orders/available", nil)
	require.Equal(t, http.StatusOK, resp.Status)
	assert.Empty(t, resp.Body["data"])
}
