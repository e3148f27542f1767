package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("order not found")

type Repo struct{ DB *pgxpool.Pool }

const orderColumns = `id, user_id, email, name, status, total_cents,
	street, city, state, postal_code,
	expires_at, payment_date, invoice_rfc, invoice_business_name, pickup_in_store,
	dhl_tracking_number, dhl_label_path, dhl_pickup_scheduled_at, surtido_doc_path,
	shipping_email_sent_at, created_at, updated_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	err := row.Scan(
		&o.ID, &o.UserID, &o.Email, &o.Name, &o.Status, &o.TotalCents,
		&o.Street, &o.City, &o.State, &o.PostalCode,
		&o.ExpiresAt, &o.PaymentDate, &o.InvoiceRFC, &o.InvoiceBusinessName, &o.PickupInStore,
		&o.DhlTrackingNumber, &o.DhlLabelPath, &o.DhlPickupScheduledAt, &o.SurtidoDocPath,
		&o.ShippingEmailSentAt, &o.CreatedAt, &o.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *Repo) GetOrder(ctx context.Context, id int64) (*Order, error) {
	return scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id))
}

func (r *Repo) OrderItems(ctx context.Context, orderID int64) ([]Item, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, order_id, product_id, qty, unit_price_cents
		FROM order_items WHERE order_id=$1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Qty, &it.UnitPriceCents); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// TransitionStatus moves an order to `to` only when its current status is one
// of `from`. The rows-affected check makes the datastore the arbiter under
// concurrent deliveries: exactly one caller observes ok=true.
func (r *Repo) TransitionStatus(ctx context.Context, id int64, to Status, from ...Status) (bool, error) {
	fromStrs := make([]string, len(from))
	for i, s := range from {
		fromStrs[i] = string(s)
	}
	ct, err := r.DB.Exec(ctx, `
		UPDATE orders SET status=$2, updated_at=now()
		WHERE id=$1 AND status = ANY($3)`, id, string(to), fromStrs)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func (r *Repo) StampPaymentDate(ctx context.Context, id int64, t time.Time) error {
	_, err := r.DB.Exec(ctx, `
		UPDATE orders SET payment_date=$2, updated_at=now()
		WHERE id=$1 AND payment_date IS NULL`, id, t)
	return err
}

// SetPaymentStatus upserts the payment record mirroring the order status.
func (r *Repo) SetPaymentStatus(ctx context.Context, orderID int64, status string) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO payments(order_id, status, amount_cents, updated_at)
		SELECT id, $2, total_cents, now() FROM orders WHERE id=$1
		ON CONFLICT (order_id) DO UPDATE SET status=EXCLUDED.status, updated_at=now()`,
		orderID, status)
	return err
}

// GetPayment loads the payment record for an order. Orders that never got
// one (no webhook yet) report ErrNotFound.
func (r *Repo) GetPayment(ctx context.Context, orderID int64) (*Payment, error) {
	var p Payment
	err := r.DB.QueryRow(ctx, `
		SELECT order_id, status, amount_cents, updated_at
		FROM payments WHERE order_id=$1`, orderID).
		Scan(&p.OrderID, &p.Status, &p.AmountCents, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *Repo) SetShipment(ctx context.Context, id int64, tracking, labelPath string) error {
	_, err := r.DB.Exec(ctx, `
		UPDATE orders SET dhl_tracking_number=$2, dhl_label_path=$3, updated_at=now()
		WHERE id=$1 AND dhl_tracking_number=''`, id, tracking, labelPath)
	return err
}

func (r *Repo) SetPickupScheduled(ctx context.Context, id int64, t time.Time) error {
	_, err := r.DB.Exec(ctx, `
		UPDATE orders SET dhl_pickup_scheduled_at=$2, updated_at=now()
		WHERE id=$1 AND dhl_pickup_scheduled_at IS NULL`, id, t)
	return err
}

func (r *Repo) SetSurtidoPath(ctx context.Context, id int64, path string) error {
	_, err := r.DB.Exec(ctx, `
		UPDATE orders SET surtido_doc_path=$2, updated_at=now()
		WHERE id=$1 AND surtido_doc_path=''`, id, path)
	return err
}

// MarkShippingEmailSent stamps the sent marker; ok=false means another task
// got there first.
func (r *Repo) MarkShippingEmailSent(ctx context.Context, id int64, t time.Time) (bool, error) {
	ct, err := r.DB.Exec(ctx, `
		UPDATE orders SET shipping_email_sent_at=$2, updated_at=now()
		WHERE id=$1 AND shipping_email_sent_at IS NULL`, id, t)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func (r *Repo) InsertPickup(ctx context.Context, p *DhlPickup) error {
	return r.DB.QueryRow(ctx, `
		INSERT INTO dhl_pickups(order_id, confirmation_number, ready_at, close_at, raw_request, raw_response)
		VALUES ($1,$2,$3,$4,$5,$6) RETURNING id, created_at`,
		p.OrderID, p.ConfirmationNumber, p.ReadyAt, p.CloseAt, p.RawRequest, p.RawResponse,
	).Scan(&p.ID, &p.CreatedAt)
}

func (r *Repo) ExpiredPendingOrders(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id FROM orders
		WHERE status=$1 AND expires_at < $2
		ORDER BY expires_at LIMIT $3`, string(StatusPendingPayment), now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *Repo) GetProduct(ctx context.Context, id int64) (*Product, error) {
	var p Product
	err := r.DB.QueryRow(ctx, `
		SELECT id, code, name, disponibility, reserved_stock, price_cents,
		       weight_kg, length_cm, width_cm, height_cm, updated_at
		FROM products WHERE id=$1`, id).Scan(
		&p.ID, &p.Code, &p.Name, &p.Disponibility, &p.ReservedStock, &p.PriceCents,
		&p.WeightKG, &p.LengthCM, &p.WidthCM, &p.HeightCM, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *Repo) ProductCounters(ctx context.Context, productID int64) (avail, reserved int, err error) {
	err = r.DB.QueryRow(ctx, `SELECT disponibility, reserved_stock FROM products WHERE id=$1`,
		productID).Scan(&avail, &reserved)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, 0, ErrNotFound
	}
	return avail, reserved, err
}

// ProductCodes resolves product ids to external warehouse codes for the
// remote mirror. Products without a code are left out.
func (r *Repo) ProductCodes(ctx context.Context, ids []int64) (map[int64]string, error) {
	rows, err := r.DB.Query(ctx, `SELECT id, code FROM products WHERE id = ANY($1) AND code <> ''`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64]string, len(ids))
	for rows.Next() {
		var id int64
		var code string
		if err := rows.Scan(&id, &code); err != nil {
			return nil, err
		}
		out[id] = code
	}
	return out, rows.Err()
}

// UpdateLocalStock overwrites the local disponibility from a remote figure.
// Only the mirror calls this, and only behind its writeback flag.
func (r *Repo) UpdateLocalStock(ctx context.Context, productID int64, stock int) error {
	if stock < 0 {
		stock = 0
	}
	_, err := r.DB.Exec(ctx, `UPDATE products SET disponibility=$2, updated_at=now() WHERE id=$1`,
		productID, stock)
	return err
}

// CreateOrder inserts an order with its items in one transaction, pricing
// each line from the products table rather than trusting the caller.
// Reservation is a separate step so a stock shortfall cancels the order
// instead of leaving half-written rows.
func (r *Repo) CreateOrder(ctx context.Context, o *Order, lines []Item) (int64, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var total int64
	priced := make([]Item, 0, len(lines))
	for _, l := range lines {
		if l.Qty <= 0 {
			return 0, fmt.Errorf("invalid qty for product %d", l.ProductID)
		}
		var price int64
		err := tx.QueryRow(ctx, `SELECT price_cents FROM products WHERE id=$1`, l.ProductID).Scan(&price)
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("product not found: %d", l.ProductID)
		}
		if err != nil {
			return 0, err
		}
		l.UnitPriceCents = price
		total += price * int64(l.Qty)
		priced = append(priced, l)
	}

	var id int64
	err = tx.QueryRow(ctx, `
		INSERT INTO orders(user_id, email, name, status, total_cents,
			street, city, state, postal_code, expires_at, pickup_in_store)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11) RETURNING id`,
		o.UserID, o.Email, o.Name, string(StatusPendingPayment), total,
		o.Street, o.City, o.State, o.PostalCode, o.ExpiresAt, o.PickupInStore,
	).Scan(&id)
	if err != nil {
		return 0, err
	}

	for _, l := range priced {
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_items(order_id, product_id, qty, unit_price_cents)
			VALUES ($1,$2,$3,$4)`, id, l.ProductID, l.Qty, l.UnitPriceCents); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return id, nil
}
