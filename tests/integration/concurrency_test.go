package integration

import (
	"bytes"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestConcurrentAccept races many providers for the same pending order.
// Exactly one acceptance must win; every loser must be told the order is
// already accepted, not receive a generic failure.
func TestConcurrentAccept(t *testing.T) {
	app := newTestApp(t)
	defer app.close()

	orderID := app.createOrder(t)

	const racers = 20
	var wg sync.WaitGroup
	var won, lostToAccepted atomic.Int64

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			racer := newSigner(t)
			url := app.server.URL + "/api/v1/orders/" + orderID + "/accept"
			req, err := http.NewRequest("POST", url, nil)
			require.NoError(t, err)
			req.Header.Set("Authorization", racer.authHeader(t, "POST", url))

			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))

			switch resp.StatusCode {
			case http.StatusOK:
				won.Add(1)
			case http.StatusBadRequest:
				if msg, _ := body["message"].(string); msg != "" {
					assert.Contains(t, msg, "currently accepted")
				}
				lostToAccepted.Add(1)
			default:
				t.Errorf("unexpected status %d: %v", resp.StatusCode, body)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), won.Load())
	assert.Equal(t, int64(racers-1), lostToAccepted.Load())
}

// TestConcurrentRelease verifies that a completed order's escrow can only be
// distributed once under concurrent release attempts.
func TestConcurrentRelease(t *testing.T) {
	app := newTestApp(t)
	defer app.close()

	orderID := app.createOrder(t)
	app.do(t, app.owner, "POST", "/api/v1/escrow/create", map[string]interface{}{
		"order_id": orderID, "btc_amount": "0.002",
	})
	app.do(t, app.provider, "POST", "/api/v1/orders/"+orderID+"/accept", nil)
	app.do(t, app.provider, "POST", "/api/v1/orders/"+orderID+"/submit-proof", map[string]interface{}{
		"proof_reference": "receipt-1",
	})
	resp := app.do(t, app.validator, "POST", "/api/v1/orders/"+orderID+"/validate", map[string]interface{}{
		"approved": true,
	})
	require.Equal(t, http.StatusOK, resp.Status, "%v", resp.Body)

	const racers = 10
	var wg sync.WaitGroup
	var released atomic.Int64

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			url := app.server.URL + "/api/v1/escrow/release"
			payload, _ := json.Marshal(map[string]string{"order_id": orderID})
			req, err := http.NewRequest("POST", url, bytes.NewReader(payload))
			require.NoError(t, err)
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Authorization", app.provider.authHeader(t, "POST", url))

			httpResp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer httpResp.Body.Close()

			if httpResp.StatusCode == http.StatusOK {
				released.Add(1)
			} else {
				assert.Equal(t, http.StatusBadRequest, httpResp.StatusCode)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), released.Load())

	// Exactly one payout obligation-free distribution happened; the escrow
	// record reflects the final amounts.
	escrowResp := app.do(t, app.provider, "GET", "/api/v1/escrow/"+orderID, nil)
	require.Equal(t, http.StatusOK, escrowResp.Status)
	assert.Equal(t, "released", escrowResp.data()["status"])
	assert.Equal(t, "0.0019", escrowResp.data()["provider_amount"])
}

// TestConcurrentCreate hammers order creation from many owners to check the
// stack holds up without cross-request interference.
func TestConcurrentCreate(t *testing.T) {
	app := newTestApp(t)
	defer app.close()

	const writers = 25
	var wg sync.WaitGroup
	var created atomic.Int64

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := newSigner(t)
			url := app.server.URL + "/api/v1/orders/create"
			payload, _ := json.Marshal(map[string]string{
				"bill_reference":    "BILL",
				"payment_reference": "REF",
				"fiat_amount":       "10",
				"btc_amount":        "0.0001",
			})
			req, err := http.NewRequest("POST", url, bytes.NewReader(payload))
			require.NoError(t, err)
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Authorization", s.authHeader(t, "POST", url))

			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			resp.Body.Close()
			if resp.StatusCode == http.StatusCreated {
				created.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(writers), created.Load())

	resp := app.do(t, app.provider, "GET", "/api/v1/orders/available", nil)
	require.Equal(t, http.StatusOK, resp.Status)
	assert.Len(t, resp.Body["data"], writers)
}
