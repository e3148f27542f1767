// Package fulfillment sequences the post-payment side effects for an order:
// carrier label, pickup dispatch, picking document, warehouse notification.
// Every step checks a persisted marker before acting, so a re-queued or
// duplicated task redoes nothing; and every step fails independently, so a
// carrier outage does not block the picking document or the email.
package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rmoralesp/tienda-fulfillment/internal/carrier"
	"github.com/rmoralesp/tienda-fulfillment/internal/orders"
)

type Store interface {
	GetOrder(ctx context.Context, id int64) (*orders.Order, error)
	OrderItems(ctx context.Context, orderID int64) ([]orders.Item, error)
	GetProduct(ctx context.Context, id int64) (*orders.Product, error)
	SetShipment(ctx context.Context, id int64, tracking, labelPath string) error
	SetPickupScheduled(ctx context.Context, id int64, t time.Time) error
	SetSurtidoPath(ctx context.Context, id int64, path string) error
	InsertPickup(ctx context.Context, p *orders.DhlPickup) error
}

type Carrier interface {
	CreateShipment(ctx context.Context, req carrier.ShipmentRequest) (*carrier.ShipmentResult, error)
	SchedulePickup(ctx context.Context, req carrier.PickupRequest) (*carrier.PickupResult, error)
}

// Files persists generated artifacts and reports their stored path.
type Files interface {
	WriteLabel(orderID int64, pdf []byte) (string, error)
}

// DocumentRenderer produces the warehouse picking ("surtido") document.
type DocumentRenderer interface {
	RenderPicking(ctx context.Context, o *orders.Order, items []orders.Item) (string, error)
}

// Notifier owns the exactly-once warehouse email; it guards and retries on
// its own, so the orchestrator treats it as fire-and-report.
type Notifier interface {
	Dispatch(ctx context.Context, orderID int64, attempt int) error
}

// Messenger is the best-effort messaging-API side channel.
type Messenger interface {
	SendDocument(ctx context.Context, to, docURL, caption string) error
}

type Orchestrator struct {
	Store     Store
	Carrier   Carrier
	Files     Files
	Docs      DocumentRenderer
	Notify    Notifier
	Messenger Messenger

	Schedule ScheduleConfig
	Shipper  carrier.Address // warehouse origin address

	InternalNumber string // messaging-API recipient for internal copies
	PublicBaseURL  string // documents are exposed under this base for the messaging API

	Log zerolog.Logger
	Now func() time.Time
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// Run performs the fulfillment sequence for a paid order. Safe to run
// twice: completed steps are skipped via their persisted markers. The
// returned error joins the failures of the attempted steps so the queue
// can retry; steps that succeeded stay done.
func (o *Orchestrator) Run(ctx context.Context, orderID int64) error {
	log := o.Log.With().Int64("order_id", orderID).Logger()

	ord, err := o.Store.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, orders.ErrNotFound) {
			log.Warn().Msg("fulfillment task for unknown order, dropping")
			return nil
		}
		return fmt.Errorf("load order %d: %w", orderID, err)
	}
	items, err := o.Store.OrderItems(ctx, orderID)
	if err != nil {
		return fmt.Errorf("load items for order %d: %w", orderID, err)
	}

	var stepErrs []error
	shipping := !ord.PickupInStore
	if shipping && o.Carrier == nil {
		log.Warn().Msg("carrier integration disabled, skipping label and pickup")
		shipping = false
	}

	if shipping && ord.DhlTrackingNumber == "" {
		if err := o.createLabel(ctx, ord, items); err != nil {
			log.Error().Err(err).Msg("label step failed")
			stepErrs = append(stepErrs, err)
		}
	}

	if shipping && ord.DhlPickupScheduledAt == nil && ord.DhlTrackingNumber != "" {
		if err := o.schedulePickup(ctx, ord); err != nil {
			log.Error().Err(err).Msg("pickup step failed")
			stepErrs = append(stepErrs, err)
		}
	}

	if ord.SurtidoDocPath == "" {
		path, err := o.Docs.RenderPicking(ctx, ord, items)
		if err != nil {
			log.Error().Err(err).Msg("picking document step failed")
			stepErrs = append(stepErrs, err)
		} else if err := o.Store.SetSurtidoPath(ctx, orderID, path); err != nil {
			stepErrs = append(stepErrs, fmt.Errorf("persist picking document path: %w", err))
		} else {
			ord.SurtidoDocPath = path
		}
	}

	// the dispatcher carries its own guard and requeue policy
	if err := o.Notify.Dispatch(ctx, orderID, 0); err != nil {
		log.Error().Err(err).Msg("warehouse notification failed")
		stepErrs = append(stepErrs, err)
	}

	o.sendInternalCopies(ctx, log, ord)

	return errors.Join(stepErrs...)
}

func (o *Orchestrator) createLabel(ctx context.Context, ord *orders.Order, items []orders.Item) error {
	req := carrier.ShipmentRequest{
		OrderRef: fmt.Sprintf("%d", ord.ID),
		From:     o.Shipper,
		To: carrier.Address{
			Name:       ord.Name,
			Street:     ord.Street,
			City:       ord.City,
			State:      ord.State,
			PostalCode: ord.PostalCode,
			Email:      ord.Email,
		},
	}
	for _, it := range items {
		p, err := o.Store.GetProduct(ctx, it.ProductID)
		if err != nil {
			if errors.Is(err, orders.ErrNotFound) {
				o.Log.Warn().Int64("product_id", it.ProductID).Msg("shipment for unknown product, skipping package line")
				continue
			}
			return fmt.Errorf("load product %d: %w", it.ProductID, err)
		}
		for i := 0; i < it.Qty; i++ {
			req.Packages = append(req.Packages, carrier.Package{
				WeightKG: p.WeightKG, LengthCM: p.LengthCM, WidthCM: p.WidthCM, HeightCM: p.HeightCM,
			})
		}
	}

	res, err := o.Carrier.CreateShipment(ctx, req)
	if err != nil {
		return fmt.Errorf("create shipment: %w", err)
	}
	labelPath, err := o.Files.WriteLabel(ord.ID, res.LabelPDF)
	if err != nil {
		return fmt.Errorf("store label: %w", err)
	}
	if err := o.Store.SetShipment(ctx, ord.ID, res.TrackingNumber, labelPath); err != nil {
		return fmt.Errorf("persist shipment: %w", err)
	}
	ord.DhlTrackingNumber = res.TrackingNumber
	ord.DhlLabelPath = labelPath
	return nil
}

func (o *Orchestrator) schedulePickup(ctx context.Context, ord *orders.Order) error {
	plan := o.Schedule.Next(o.now())
	res, err := o.Carrier.SchedulePickup(ctx, carrier.PickupRequest{
		TrackingNumber: ord.DhlTrackingNumber,
		Address:        o.Shipper,
		ReadyAt:        plan.ReadyAt,
		CloseAt:        plan.CloseAt,
	})
	if err != nil {
		return fmt.Errorf("schedule pickup: %w", err)
	}

	if err := o.Store.InsertPickup(ctx, &orders.DhlPickup{
		OrderID:            ord.ID,
		ConfirmationNumber: res.ConfirmationNumber,
		ReadyAt:            plan.ReadyAt,
		CloseAt:            plan.CloseAt,
		RawRequest:         res.RawRequest,
		RawResponse:        res.RawResponse,
	}); err != nil {
		return fmt.Errorf("persist pickup audit: %w", err)
	}
	if err := o.Store.SetPickupScheduled(ctx, ord.ID, plan.ReadyAt); err != nil {
		return fmt.Errorf("persist pickup time: %w", err)
	}
	t := plan.ReadyAt
	ord.DhlPickupScheduledAt = &t
	return nil
}

// sendInternalCopies pushes the label and picking document over the
// messaging API. Best effort: failures are logged and never retried here.
func (o *Orchestrator) sendInternalCopies(ctx context.Context, log zerolog.Logger, ord *orders.Order) {
	if o.Messenger == nil || o.InternalNumber == "" {
		return
	}
	docs := []struct{ path, caption string }{
		{ord.DhlLabelPath, fmt.Sprintf("Guía DHL pedido %d", ord.ID)},
		{ord.SurtidoDocPath, fmt.Sprintf("Surtido pedido %d", ord.ID)},
	}
	for _, d := range docs {
		if d.path == "" {
			continue
		}
		url := o.PublicBaseURL + "/" + d.path
		if err := o.Messenger.SendDocument(ctx, o.InternalNumber, url, d.caption); err != nil {
			log.Warn().Err(err).Str("doc", d.path).Msg("messaging send failed")
		}
	}
}
