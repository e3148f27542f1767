package webhook

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/rmoralesp/tienda-fulfillment/internal/orders"
)

type fakeStore struct {
	order       *orders.Order
	items       []orders.Item
	avail       map[int64]int
	reserved    map[int64]int
	payment     string
	paymentDate *time.Time
	transitions int
}

func (f *fakeStore) GetOrder(_ context.Context, id int64) (*orders.Order, error) {
	if f.order == nil || f.order.ID != id {
		return nil, orders.ErrNotFound
	}
	return f.order, nil
}

func (f *fakeStore) OrderItems(_ context.Context, orderID int64) ([]orders.Item, error) {
	if f.order == nil || f.order.ID != orderID {
		return nil, orders.ErrNotFound
	}
	return f.items, nil
}

func (f *fakeStore) TransitionStatus(_ context.Context, id int64, to orders.Status, from ...orders.Status) (bool, error) {
	if f.order == nil || f.order.ID != id {
		return false, nil
	}
	for _, s := range from {
		if f.order.Status == s {
			f.order.Status = to
			f.transitions++
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) StampPaymentDate(_ context.Context, _ int64, t time.Time) error {
	if f.paymentDate == nil {
		f.paymentDate = &t
	}
	return nil
}

func (f *fakeStore) SetPaymentStatus(_ context.Context, _ int64, status string) error {
	f.payment = status
	return nil
}

func (f *fakeStore) ProductCounters(_ context.Context, productID int64) (int, int, error) {
	a, ok := f.avail[productID]
	if !ok {
		return 0, 0, orders.ErrNotFound
	}
	return a, f.reserved[productID], nil
}

type fakeLedger struct {
	store    *fakeStore
	commits  int
	releases int
}

func (f *fakeLedger) CommitItems(_ context.Context, items []orders.Item) error {
	f.commits++
	for _, it := range items {
		fromRes := it.Qty
		if fromRes > f.store.reserved[it.ProductID] {
			fromRes = f.store.reserved[it.ProductID]
		}
		f.store.reserved[it.ProductID] -= fromRes
		rem := it.Qty - fromRes
		if f.store.avail[it.ProductID] < rem {
			f.store.avail[it.ProductID] = 0
		} else {
			f.store.avail[it.ProductID] -= rem
		}
	}
	return nil
}

func (f *fakeLedger) ReleaseItems(_ context.Context, items []orders.Item) error {
	f.releases++
	for _, it := range items {
		moved := it.Qty
		if moved > f.store.reserved[it.ProductID] {
			moved = f.store.reserved[it.ProductID]
		}
		f.store.reserved[it.ProductID] -= moved
		f.store.avail[it.ProductID] += moved
	}
	return nil
}

type fakeDedup struct{ seen map[string]bool }

func (f *fakeDedup) Seen(_ context.Context, key string) (bool, error) { return f.seen[key], nil }
func (f *fakeDedup) Mark(_ context.Context, key string) error {
	f.seen[key] = true
	return nil
}

type fakeQueue struct{ enqueued []int64 }

func (f *fakeQueue) EnqueueFulfillment(orderID int64) { f.enqueued = append(f.enqueued, orderID) }

// Order #501: qty 2 of product 7, disponibility 5, reserved 2.
func order501() (*fakeStore, *fakeLedger, *fakeDedup, *fakeQueue, *Service) {
	store := &fakeStore{
		order: &orders.Order{ID: 501, Status: orders.StatusPaymentUploaded},
		items: []orders.Item{{OrderID: 501, ProductID: 7, Qty: 2}},
		avail: map[int64]int{7: 5}, reserved: map[int64]int{7: 2},
	}
	ledger := &fakeLedger{store: store}
	dedup := &fakeDedup{seen: map[string]bool{}}
	queue := &fakeQueue{}
	svc := &Service{Store: store, Stock: ledger, Dedup: dedup, Queue: queue, Log: zerolog.Nop()}
	return store, ledger, dedup, queue, svc
}

func TestChargeFailedCancelsAndReleases(t *testing.T) {
	store, ledger, _, queue, svc := order501()

	ev := Event{Kind: KindChargeFailed, Type: "charge.failed", EventID: "ev_f", OrderID: 501}
	if err := svc.Process(context.Background(), ev); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if store.order.Status != orders.StatusCancelled {
		t.Errorf("status = %s, want cancelled", store.order.Status)
	}
	if store.avail[7] != 7 || store.reserved[7] != 0 {
		t.Errorf("counters = (%d,%d), want (7,0)", store.avail[7], store.reserved[7])
	}
	if store.payment != orders.PaymentCancelled {
		t.Errorf("payment = %q, want cancelled", store.payment)
	}
	if ledger.commits != 0 || len(queue.enqueued) != 0 {
		t.Error("cancellation must not commit stock or enqueue fulfillment")
	}
}

func TestChargeSucceededVerifiesCommitsEnqueues(t *testing.T) {
	store, ledger, _, queue, svc := order501()

	ev := Event{Kind: KindChargeSucceeded, Type: "charge.succeeded", EventID: "ev_s", OrderID: 501}
	if err := svc.Process(context.Background(), ev); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if store.order.Status != orders.StatusPaymentVerified {
		t.Errorf("status = %s, want payment_verified", store.order.Status)
	}
	// reservation fully covers qty 2: disponibility untouched, reserved drained
	if store.avail[7] != 5 || store.reserved[7] != 0 {
		t.Errorf("counters = (%d,%d), want (5,0)", store.avail[7], store.reserved[7])
	}
	if store.payment != orders.PaymentPaid {
		t.Errorf("payment = %q, want paid", store.payment)
	}
	if store.paymentDate == nil {
		t.Error("payment date not stamped")
	}
	if len(queue.enqueued) != 1 || queue.enqueued[0] != 501 {
		t.Errorf("enqueued = %v, want exactly [501]", queue.enqueued)
	}
	if ledger.commits != 1 {
		t.Errorf("commits = %d, want 1", ledger.commits)
	}
}

func TestDuplicateSuccessEventIsNoOp(t *testing.T) {
	store, ledger, _, queue, svc := order501()

	ev := Event{Kind: KindChargeSucceeded, Type: "charge.succeeded", EventID: "ev_s", OrderID: 501}
	if err := svc.Process(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	if err := svc.Process(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	if ledger.commits != 1 {
		t.Errorf("commits = %d after redelivery, want 1", ledger.commits)
	}
	if len(queue.enqueued) != 1 {
		t.Errorf("enqueued = %v after redelivery, want exactly one task", queue.enqueued)
	}
	if store.avail[7] != 5 || store.reserved[7] != 0 {
		t.Errorf("counters changed on redelivery: (%d,%d)", store.avail[7], store.reserved[7])
	}
}

// Even without the dedup key (e.g. Redis restarted), the conditional status
// transition keeps the second delivery a no-op.
func TestDuplicateSuccessWithoutDedupKey(t *testing.T) {
	_, ledger, dedup, queue, svc := order501()

	ev := Event{Kind: KindChargeSucceeded, Type: "charge.succeeded", EventID: "ev_s", OrderID: 501}
	if err := svc.Process(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	dedup.seen = map[string]bool{} // key lost

	if err := svc.Process(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	if ledger.commits != 1 || len(queue.enqueued) != 1 {
		t.Errorf("commits=%d enqueued=%v, want 1 and one task", ledger.commits, queue.enqueued)
	}
}

func TestChargeCreatedIsInformational(t *testing.T) {
	store, ledger, _, queue, svc := order501()

	ev := Event{Kind: KindChargeCreated, Type: "charge.created", EventID: "ev_c", OrderID: 501}
	if err := svc.Process(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	if store.order.Status != orders.StatusPaymentUploaded {
		t.Errorf("status changed on charge.created: %s", store.order.Status)
	}
	if ledger.commits != 0 || ledger.releases != 0 || len(queue.enqueued) != 0 {
		t.Error("charge.created must have no side effects")
	}
}

func TestUnknownEventIsIgnored(t *testing.T) {
	store, _, _, _, svc := order501()

	ev := Event{Kind: KindUnknown, Type: "charge.refunded", OrderID: 501}
	if err := svc.Process(context.Background(), ev); err != nil {
		t.Fatalf("unknown events must ack cleanly, got %v", err)
	}
	if store.transitions != 0 {
		t.Error("unknown event must not transition")
	}
}

func TestCancellationAfterVerificationIsNoOp(t *testing.T) {
	store, ledger, _, _, svc := order501()
	store.order.Status = orders.StatusPaymentVerified

	ev := Event{Kind: KindChargeCancelled, Type: "charge.cancelled", EventID: "ev_x", OrderID: 501}
	if err := svc.Process(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	if store.order.Status != orders.StatusPaymentVerified {
		t.Errorf("verified order was cancelled by late event")
	}
	if ledger.releases != 0 {
		t.Error("no release for a non-cancellable order")
	}
}
