// Package inventory maintains, per product, the split between stock
// available to sell and stock reserved against unconfirmed orders.
// Every mutation locks the product row and persists both counters in a
// single update, so concurrent orders touching the same product serialize
// at the datastore.
package inventory

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/rmoralesp/tienda-fulfillment/internal/orders"
)

var ErrInsufficient = errors.New("insufficient stock")

type Ledger struct {
	DB  *pgxpool.Pool
	Log zerolog.Logger
}

// releaseCounters moves min(reserved, qty) back to available. Quantity
// beyond what was reserved is dropped: a release never grows available
// past what the reservation held.
func releaseCounters(avail, reserved, qty int) (int, int) {
	moved := qty
	if moved > reserved {
		moved = reserved
	}
	return avail + moved, reserved - moved
}

// commitCounters consumes min(reserved, qty) from reserved, then deducts
// the remainder from available, saturating at zero. short reports how many
// units could not be covered.
func commitCounters(avail, reserved, qty int) (newAvail, newReserved, short int) {
	fromReserved := qty
	if fromReserved > reserved {
		fromReserved = reserved
	}
	newReserved = reserved - fromReserved

	remainder := qty - fromReserved
	newAvail = avail - remainder
	if newAvail < 0 {
		short = -newAvail
		newAvail = 0
	}
	return newAvail, newReserved, short
}

// execer is satisfied by both the pool and an open transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Reserve holds qty units of a product against an unconfirmed order. The
// conditional update is atomic: it only fires when disponibility covers the
// quantity, so there is no read-modify-write window and available never
// goes negative.
func (l *Ledger) Reserve(ctx context.Context, productID int64, qty int) error {
	return l.reserveOne(ctx, l.DB, productID, qty)
}

func (l *Ledger) reserveOne(ctx context.Context, q execer, productID int64, qty int) error {
	ct, err := q.Exec(ctx, `
		UPDATE products
		SET disponibility = disponibility - $2,
		    reserved_stock = reserved_stock + $2,
		    updated_at = now()
		WHERE id = $1 AND disponibility >= $2`, productID, qty)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return ErrInsufficient
	}
	return nil
}

// ShortfallDetail reports a line that could not be reserved.
type ShortfallDetail struct {
	ProductID int64 `json:"product_id"`
	Required  int   `json:"required"`
	Available int   `json:"available"`
}

// ReserveItems reserves every line of an order or none of them. On any
// shortfall the whole transaction rolls back and the details are returned.
func (l *Ledger) ReserveItems(ctx context.Context, items []orders.Item) (ok bool, details []ShortfallDetail, err error) {
	tx, err := l.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var rejects []ShortfallDetail
	for _, it := range items {
		switch err := l.reserveOne(ctx, tx, it.ProductID, it.Qty); {
		case errors.Is(err, ErrInsufficient):
			var avail int
			if err := tx.QueryRow(ctx, `SELECT disponibility FROM products WHERE id=$1`, it.ProductID).Scan(&avail); err != nil && !errors.Is(err, pgx.ErrNoRows) {
				return false, nil, err
			}
			rejects = append(rejects, ShortfallDetail{ProductID: it.ProductID, Required: it.Qty, Available: avail})
		case err != nil:
			return false, nil, err
		}
	}

	if len(rejects) > 0 {
		return false, rejects, nil // rollback via defer
	}
	if err := tx.Commit(ctx); err != nil {
		return false, nil, err
	}
	return true, nil, nil
}

// Release returns qty reserved units of a product to the sellable pool.
func (l *Ledger) Release(ctx context.Context, productID int64, qty int) error {
	tx, err := l.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := l.releaseOne(ctx, tx, productID, qty); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ReleaseItems releases every line of a cancelled or failed order.
func (l *Ledger) ReleaseItems(ctx context.Context, items []orders.Item) error {
	tx, err := l.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, it := range items {
		if err := l.releaseOne(ctx, tx, it.ProductID, it.Qty); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (l *Ledger) releaseOne(ctx context.Context, tx pgx.Tx, productID int64, qty int) error {
	var avail, reserved int
	err := tx.QueryRow(ctx, `
		SELECT disponibility, reserved_stock FROM products WHERE id=$1 FOR UPDATE`,
		productID).Scan(&avail, &reserved)
	if errors.Is(err, pgx.ErrNoRows) {
		l.Log.Warn().Int64("product_id", productID).Msg("release for unknown product")
		return nil
	}
	if err != nil {
		return err
	}

	newAvail, newReserved := releaseCounters(avail, reserved, qty)
	_, err = tx.Exec(ctx, `
		UPDATE products SET disponibility=$2, reserved_stock=$3, updated_at=now() WHERE id=$1`,
		productID, newAvail, newReserved)
	return err
}

// Commit permanently deducts qty units on confirmed payment, consuming the
// reservation first. A shortfall is logged, never raised: the money is
// already taken, so overselling is an operational alert at this point.
func (l *Ledger) Commit(ctx context.Context, productID int64, qty int) error {
	tx, err := l.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := l.commitOne(ctx, tx, productID, qty); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// CommitItems commits every line of a paid order.
func (l *Ledger) CommitItems(ctx context.Context, items []orders.Item) error {
	tx, err := l.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, it := range items {
		if err := l.commitOne(ctx, tx, it.ProductID, it.Qty); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (l *Ledger) commitOne(ctx context.Context, tx pgx.Tx, productID int64, qty int) error {
	var avail, reserved int
	err := tx.QueryRow(ctx, `
		SELECT disponibility, reserved_stock FROM products WHERE id=$1 FOR UPDATE`,
		productID).Scan(&avail, &reserved)
	if errors.Is(err, pgx.ErrNoRows) {
		l.Log.Warn().Int64("product_id", productID).Msg("commit for unknown product")
		return nil
	}
	if err != nil {
		return err
	}

	newAvail, newReserved, short := commitCounters(avail, reserved, qty)
	if short > 0 {
		l.Log.Warn().
			Int64("product_id", productID).
			Int("qty", qty).
			Int("short", short).
			Msg("insufficient stock at commit")
	}
	_, err = tx.Exec(ctx, `
		UPDATE products SET disponibility=$2, reserved_stock=$3, updated_at=now() WHERE id=$1`,
		productID, newAvail, newReserved)
	return err
}
