// Package expiry cancels pending-payment orders whose expiry has passed
// and returns their reserved stock to the sellable pool.
package expiry

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rmoralesp/tienda-fulfillment/internal/orders"
)

type Store interface {
	ExpiredPendingOrders(ctx context.Context, now time.Time, limit int) ([]int64, error)
	OrderItems(ctx context.Context, orderID int64) ([]orders.Item, error)
	TransitionStatus(ctx context.Context, id int64, to orders.Status, from ...orders.Status) (bool, error)
	SetPaymentStatus(ctx context.Context, orderID int64, status string) error
}

type Ledger interface {
	ReleaseItems(ctx context.Context, items []orders.Item) error
}

type Sweeper struct {
	Store     Store
	Stock     Ledger
	Interval  time.Duration
	BatchSize int
	Log       zerolog.Logger
	Now       func() time.Time
}

func (s *Sweeper) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Run loops until the context ends, sweeping once per interval.
func (s *Sweeper) Run(ctx context.Context) error {
	t := time.NewTicker(s.Interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			n, err := s.Sweep(ctx)
			if err != nil {
				s.Log.Error().Err(err).Msg("expiry sweep failed")
				continue
			}
			if n > 0 {
				s.Log.Info().Int("cancelled", n).Msg("expired orders cancelled")
			}
		}
	}
}

// Sweep cancels one batch of expired orders, releasing their reservations.
// The conditional transition keeps a concurrent webhook and the sweep from
// both acting on the same order.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	ids, err := s.Store.ExpiredPendingOrders(ctx, s.now(), s.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("find expired orders: %w", err)
	}

	cancelled := 0
	for _, id := range ids {
		ok, err := s.Store.TransitionStatus(ctx, id, orders.StatusCancelled, orders.StatusPendingPayment)
		if err != nil {
			s.Log.Error().Err(err).Int64("order_id", id).Msg("expire transition failed")
			continue
		}
		if !ok {
			// paid or cancelled while the sweep was running
			continue
		}

		items, err := s.Store.OrderItems(ctx, id)
		if err != nil {
			s.Log.Error().Err(err).Int64("order_id", id).Msg("load items for expired order failed")
			continue
		}
		if err := s.Stock.ReleaseItems(ctx, items); err != nil {
			s.Log.Error().Err(err).Int64("order_id", id).Msg("release for expired order failed")
			continue
		}
		if err := s.Store.SetPaymentStatus(ctx, id, orders.PaymentCancelled); err != nil {
			s.Log.Error().Err(err).Int64("order_id", id).Msg("cancel payment for expired order failed")
		}
		cancelled++
	}
	return cancelled, nil
}
