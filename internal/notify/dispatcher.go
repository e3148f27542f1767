// Package notify owns the warehouse-facing notifications for paid orders.
// The email is exactly-once per order, guarded by the persisted
// shipping_email_sent_at marker; a failed send is re-queued with a bounded
// attempt count rather than marked sent.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rmoralesp/tienda-fulfillment/internal/orders"
)

type Store interface {
	GetOrder(ctx context.Context, id int64) (*orders.Order, error)
	OrderItems(ctx context.Context, orderID int64) ([]orders.Item, error)
	MarkShippingEmailSent(ctx context.Context, id int64, t time.Time) (bool, error)
}

// FileReader loads stored artifacts for attaching.
type FileReader interface {
	Read(rel string) ([]byte, error)
}

// Requeuer re-publishes the notify task for a later retry.
type Requeuer interface {
	RequeueWarehouseNotify(orderID int64, attempt int)
}

type Dispatcher struct {
	Store  Store
	Mailer Mailer
	Files  FileReader
	Queue  Requeuer

	WarehouseTo []string
	CC          []string
	MaxAttempts int

	Log zerolog.Logger
	Now func() time.Time
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Dispatch sends the warehouse email for an order. Safe to call twice:
// the persisted marker short-circuits re-runs. On send failure the task
// is re-queued with a bounded attempt count and the call reports success,
// because the retry is already scheduled.
func (d *Dispatcher) Dispatch(ctx context.Context, orderID int64, attempt int) error {
	log := d.Log.With().Int64("order_id", orderID).Int("attempt", attempt).Logger()

	ord, err := d.Store.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, orders.ErrNotFound) {
			log.Warn().Msg("notify task for unknown order, dropping")
			return nil
		}
		return fmt.Errorf("load order %d: %w", orderID, err)
	}
	if ord.ShippingEmailSentAt != nil {
		log.Debug().Msg("warehouse email already sent, skipping")
		return nil
	}

	items, err := d.Store.OrderItems(ctx, orderID)
	if err != nil {
		return fmt.Errorf("load items: %w", err)
	}

	msg := d.buildMessage(ord, items)
	if err := d.Mailer.Send(ctx, msg); err != nil {
		if attempt+1 >= d.MaxAttempts {
			log.Error().Err(err).Msg("warehouse email failed permanently, giving up")
			return nil
		}
		log.Warn().Err(err).Msg("warehouse email failed, requeueing")
		d.Queue.RequeueWarehouseNotify(orderID, attempt+1)
		return nil
	}

	if ok, err := d.Store.MarkShippingEmailSent(ctx, orderID, d.now()); err != nil {
		return fmt.Errorf("mark email sent: %w", err)
	} else if !ok {
		log.Debug().Msg("another task marked the email sent first")
	}
	log.Info().Msg("warehouse email sent")
	return nil
}

func (d *Dispatcher) buildMessage(ord *orders.Order, items []orders.Item) *Message {
	body := fmt.Sprintf(`<h2>Pedido pagado #%d</h2>
<p>Cliente: %s &lt;%s&gt;</p>
<p>Entrega: %s, %s, %s CP %s</p>
<p>Guía DHL: %s</p>
<p>Artículos: %d líneas</p>`,
		ord.ID, ord.Name, ord.Email,
		ord.Street, ord.City, ord.State, ord.PostalCode,
		ord.DhlTrackingNumber, len(items))

	msg := &Message{
		To:       d.WarehouseTo,
		CC:       d.CC,
		Subject:  fmt.Sprintf("Pedido pagado #%d - preparar envío", ord.ID),
		HTMLBody: body,
	}

	// attach whatever exists at send time
	for _, rel := range []string{ord.DhlLabelPath, ord.SurtidoDocPath} {
		if rel == "" {
			continue
		}
		content, err := d.Files.Read(rel)
		if err != nil {
			d.Log.Warn().Err(err).Str("path", rel).Msg("attachment unreadable, sending without it")
			continue
		}
		msg.Attachments = append(msg.Attachments, Attachment{Filename: rel, Content: content})
	}
	return msg
}
