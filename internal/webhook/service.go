package webhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rmoralesp/tienda-fulfillment/internal/orders"
)

type OrderStore interface {
	GetOrder(ctx context.Context, id int64) (*orders.Order, error)
	OrderItems(ctx context.Context, orderID int64) ([]orders.Item, error)
	TransitionStatus(ctx context.Context, id int64, to orders.Status, from ...orders.Status) (bool, error)
	StampPaymentDate(ctx context.Context, id int64, t time.Time) error
	SetPaymentStatus(ctx context.Context, orderID int64, status string) error
	ProductCounters(ctx context.Context, productID int64) (avail, reserved int, err error)
}

type Ledger interface {
	CommitItems(ctx context.Context, items []orders.Item) error
	ReleaseItems(ctx context.Context, items []orders.Item) error
}

// Deduper is the fast-path guard against duplicate deliveries; the
// conditional status update remains the arbiter if the key is lost.
type Deduper interface {
	Seen(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string) error
}

type Enqueuer interface {
	EnqueueFulfillment(orderID int64)
}

type Service struct {
	Store OrderStore
	Stock Ledger
	Dedup Deduper
	Queue Enqueuer
	Log   zerolog.Logger
	Now   func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Process applies one decoded gateway event. It is safe to call twice with
// the same event: duplicates either hit the dedup key or fall out of the
// conditional status transition.
func (s *Service) Process(ctx context.Context, ev Event) error {
	log := s.Log.With().Str("event", ev.Type).Int64("order_id", ev.OrderID).Logger()

	if ev.Kind == KindUnknown {
		log.Info().Msg("unhandled webhook event type, ignoring")
		return nil
	}
	if ev.OrderID == 0 {
		log.Warn().Msg("webhook event carried no usable order reference, ignoring")
		return nil
	}

	switch {
	case ev.Kind == KindChargeCreated:
		return s.sanityCheck(ctx, log, ev.OrderID)
	case ev.IsCancellation():
		return s.cancel(ctx, log, ev.OrderID)
	case ev.Kind == KindChargeSucceeded:
		return s.verify(ctx, log, ev)
	default:
		return nil
	}
}

// sanityCheck is informational only: a charge was created, so the order's
// reserved stock should cover its items. Mismatches are logged, nothing
// transitions.
func (s *Service) sanityCheck(ctx context.Context, log zerolog.Logger, orderID int64) error {
	items, err := s.Store.OrderItems(ctx, orderID)
	if err != nil {
		if errors.Is(err, orders.ErrNotFound) {
			log.Warn().Msg("charge created for unknown order")
			return nil
		}
		return err
	}
	for _, it := range items {
		_, reserved, err := s.Store.ProductCounters(ctx, it.ProductID)
		if err != nil {
			if errors.Is(err, orders.ErrNotFound) {
				log.Warn().Int64("product_id", it.ProductID).Msg("charge created for unknown product")
				continue
			}
			return err
		}
		if reserved < it.Qty {
			log.Warn().
				Int64("product_id", it.ProductID).
				Int("reserved", reserved).
				Int("qty", it.Qty).
				Msg("reserved stock does not cover charged order")
		}
	}
	return nil
}

func (s *Service) cancel(ctx context.Context, log zerolog.Logger, orderID int64) error {
	ok, err := s.Store.TransitionStatus(ctx, orderID, orders.StatusCancelled, orders.CancellableFrom...)
	if err != nil {
		return fmt.Errorf("cancel order %d: %w", orderID, err)
	}
	if !ok {
		// already cancelled, or past verification; nothing to release
		log.Debug().Msg("cancellation event on non-cancellable order, no-op")
		return nil
	}

	items, err := s.Store.OrderItems(ctx, orderID)
	if err != nil {
		return fmt.Errorf("load items for release: %w", err)
	}
	if err := s.Stock.ReleaseItems(ctx, items); err != nil {
		return fmt.Errorf("release stock for order %d: %w", orderID, err)
	}
	if err := s.Store.SetPaymentStatus(ctx, orderID, orders.PaymentCancelled); err != nil {
		return fmt.Errorf("cancel payment for order %d: %w", orderID, err)
	}
	log.Info().Msg("order cancelled by gateway event, stock released")
	return nil
}

func (s *Service) verify(ctx context.Context, log zerolog.Logger, ev Event) error {
	seen, err := s.Dedup.Seen(ctx, ev.EventID)
	if err != nil {
		// dedup is best-effort; the conditional update below still guards
		log.Warn().Err(err).Msg("dedup lookup failed")
	} else if seen {
		log.Debug().Str("event_id", ev.EventID).Msg("duplicate success event, skipping")
		return nil
	}

	ok, err := s.Store.TransitionStatus(ctx, ev.OrderID, orders.StatusPaymentVerified, orders.VerifiableFrom...)
	if err != nil {
		return fmt.Errorf("verify order %d: %w", ev.OrderID, err)
	}
	if !ok {
		// already verified (duplicate delivery) or not verifiable; either
		// way no second commit and no second fulfillment task
		log.Debug().Msg("success event on non-verifiable order, no-op")
		return nil
	}

	items, err := s.Store.OrderItems(ctx, ev.OrderID)
	if err != nil {
		return fmt.Errorf("load items for commit: %w", err)
	}
	if err := s.Stock.CommitItems(ctx, items); err != nil {
		return fmt.Errorf("commit stock for order %d: %w", ev.OrderID, err)
	}
	if err := s.Store.StampPaymentDate(ctx, ev.OrderID, s.now()); err != nil {
		return fmt.Errorf("stamp payment date for order %d: %w", ev.OrderID, err)
	}
	if err := s.Store.SetPaymentStatus(ctx, ev.OrderID, orders.PaymentPaid); err != nil {
		return fmt.Errorf("mark payment paid for order %d: %w", ev.OrderID, err)
	}

	s.Queue.EnqueueFulfillment(ev.OrderID)

	if err := s.Dedup.Mark(ctx, ev.EventID); err != nil {
		log.Warn().Err(err).Msg("dedup mark failed")
	}
	log.Info().Msg("payment verified, stock committed, fulfillment enqueued")
	return nil
}
