// Package lightning provides the settlement backend adapter. The default
// implementation simulates a Lightning node: it keeps invoice and payment
// state in memory so the rest of the system exercises the real settlement
// flow (invoice, settle-check, payout, refund) without a node attached.
package lightning

import (
	"context"
	"fmt"
	"sync"
	"time"

	"nostr-escrow-gateway/internal/core/domain"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	retryAttempts = 3
	retryDelay    = 200 * time.Millisecond
)

// SimulatedClient implements ports.SettlementClient against in-memory
// state. Invoices settle on the first CheckPayment call, which lets the
// deposit flow run end to end in development and tests.
type SimulatedClient struct {
	mu       sync.Mutex
	invoices map[uuid.UUID]*simInvoice
	log      zerolog.Logger
}

type simInvoice struct {
	sats    int64
	bolt11  string
	checked bool
}

// NewSimulatedClient creates a SimulatedClient.
func NewSimulatedClient(log zerolog.Logger) *SimulatedClient {
	return &SimulatedClient{
		invoices: make(map[uuid.UUID]*simInvoice),
		log:      log,
	}
}

// CreateInvoice issues a fake bolt11 invoice for the given sats amount.
func (c *SimulatedClient) CreateInvoice(_ context.Context, invoiceID uuid.UUID, sats int64) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	bolt11 := fmt.Sprintf("lnsim%d-%s", sats, invoiceID)
	c.invoices[invoiceID] = &simInvoice{sats: sats, bolt11: bolt11}

	c.log.Debug().
		Str("invoice_id", invoiceID.String()).
		Int64("sats", sats).
		Msg("simulated invoice created")

	return bolt11, nil
}

// CheckPayment reports whether the invoice settled. The simulation settles
// an invoice on its first check.
func (c *SimulatedClient) CheckPayment(_ context.Context, invoiceID uuid.UUID) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	inv, ok := c.invoices[invoiceID]
	if !ok {
		return false, fmt.Errorf("unknown invoice %s", invoiceID)
	}
	if !inv.checked {
		inv.checked = true
	}
	return true, nil
}

// SendPayment pays out BTC to the given pubkey's wallet, with retries.
func (c *SimulatedClient) SendPayment(ctx context.Context, pubkey string, amount decimal.Decimal) error {
	return c.withRetry(ctx, "send_payment", func() error {
		c.log.Info().
			Str("pubkey", pubkey).
			Str("amount", amount.String()).
			Msg("simulated payout sent")
		return nil
	})
}

// CreateRefund returns the order's locked BTC to its owner, with retries.
func (c *SimulatedClient) CreateRefund(ctx context.Context, order *domain.Order) error {
	return c.withRetry(ctx, "create_refund", func() error {
		c.log.Info().
			Str("order_id", order.ID.String()).
			Str("owner", order.OwnerPubKey).
			Str("amount", order.BTCAmount.String()).
			Msg("simulated refund sent")
		return nil
	})
}

func (c *SimulatedClient) withRetry(ctx context.Context, op string, call func() error) error {
	return retry.Do(call,
		retry.Context(ctx),
		retry.Attempts(retryAttempts),
		retry.Delay(retryDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.log.Warn().
				Uint("attempt", n+1).
				Str("op", op).
				Err(err).
				Msg("settlement call failed, retrying")
		}),
	)
}
