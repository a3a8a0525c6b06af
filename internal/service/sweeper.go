package service

import (
	"context"
	"sync/atomic"
	"time"

	"nostr-escrow-gateway/internal/core/ports"

	"github.com/rs/zerolog"
)

// Sweeper periodically expires pending orders whose acceptance window has
// passed. One sweep at a time: a tick that fires while the previous sweep
// is still running is skipped, never queued.
type Sweeper struct {
	orders   ports.OrderService
	interval time.Duration
	quit     chan struct{}
	running  atomic.Bool
	log      zerolog.Logger
}

// NewSweeper creates a Sweeper driving OrderService.ExpireDueOrders.
func NewSweeper(orders ports.OrderService, interval time.Duration, log zerolog.Logger) *Sweeper {
	return &Sweeper{
		orders:   orders,
		interval: interval,
		quit:     make(chan struct{}),
		log:      log,
	}
}

// Start runs the sweep loop until Stop is called or ctx is cancelled.
// Blocks; run it in its own goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info().Dur("interval", s.interval).Msg("expiration sweeper started")

	for {
		select {
		case <-ticker.C:
			s.Sweep(ctx)
		case <-ctx.Done():
			s.log.Info().Msg("expiration sweeper stopped: context cancelled")
			return
		case <-s.quit:
			s.log.Info().Msg("expiration sweeper stopped")
			return
		}
	}
}

// Sweep runs one expiration pass. Returns immediately if a pass is already
// in flight.
func (s *Sweeper) Sweep(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		s.log.Debug().Msg("sweep already in progress, skipping tick")
		return
	}
	defer s.running.Store(false)

	expired, err := s.orders.ExpireDueOrders(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("expiration sweep failed")
		return
	}
	if expired > 0 {
		s.log.Info().Int("expired", expired).Msg("expiration sweep completed")
	}
}

// Stop terminates the sweep loop. Safe to call once.
func (s *Sweeper) Stop() {
	close(s.quit)
}
