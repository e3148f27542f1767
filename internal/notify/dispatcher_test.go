package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/rmoralesp/tienda-fulfillment/internal/orders"
)

type fakeStore struct {
	order  *orders.Order
	marked int
}

func (f *fakeStore) GetOrder(_ context.Context, id int64) (*orders.Order, error) {
	if f.order == nil || f.order.ID != id {
		return nil, orders.ErrNotFound
	}
	cp := *f.order
	return &cp, nil
}

func (f *fakeStore) OrderItems(_ context.Context, _ int64) ([]orders.Item, error) {
	return []orders.Item{{ProductID: 7, Qty: 2}}, nil
}

func (f *fakeStore) MarkShippingEmailSent(_ context.Context, _ int64, t time.Time) (bool, error) {
	if f.order.ShippingEmailSentAt != nil {
		return false, nil
	}
	f.order.ShippingEmailSentAt = &t
	f.marked++
	return true, nil
}

type fakeMailer struct {
	sent []*Message
	err  error
}

func (f *fakeMailer) Send(_ context.Context, msg *Message) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

type fakeFiles struct{ data map[string][]byte }

func (f *fakeFiles) Read(rel string) ([]byte, error) {
	if d, ok := f.data[rel]; ok {
		return d, nil
	}
	return nil, errors.New("no such file")
}

type fakeQueue struct {
	requeued []int // attempts
}

func (f *fakeQueue) RequeueWarehouseNotify(_ int64, attempt int) {
	f.requeued = append(f.requeued, attempt)
}

func newDispatcher(store *fakeStore, mailer *fakeMailer) (*Dispatcher, *fakeQueue) {
	q := &fakeQueue{}
	d := &Dispatcher{
		Store:       store,
		Mailer:      mailer,
		Files:       &fakeFiles{data: map[string][]byte{"labels/dhl-501.pdf": []byte("pdf")}},
		Queue:       q,
		WarehouseTo: []string{"almacen@tienda.example"},
		CC:          []string{"ventas@tienda.example"},
		MaxAttempts: 5,
		Log:         zerolog.Nop(),
	}
	return d, q
}

func paidOrder() *fakeStore {
	return &fakeStore{order: &orders.Order{
		ID:                501,
		Status:            orders.StatusPaymentVerified,
		Name:              "Cliente",
		DhlTrackingNumber: "JD001",
		DhlLabelPath:      "labels/dhl-501.pdf",
		SurtidoDocPath:    "docs/surtido-501.html",
	}}
}

func TestDispatchSendsOnceAndMarks(t *testing.T) {
	store := paidOrder()
	mailer := &fakeMailer{}
	d, q := newDispatcher(store, mailer)

	if err := d.Dispatch(context.Background(), 501, 0); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(mailer.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(mailer.sent))
	}
	if store.order.ShippingEmailSentAt == nil {
		t.Error("sent marker not persisted")
	}
	if len(q.requeued) != 0 {
		t.Errorf("unexpected requeue: %v", q.requeued)
	}

	// second dispatch hits the marker
	if err := d.Dispatch(context.Background(), 501, 0); err != nil {
		t.Fatal(err)
	}
	if len(mailer.sent) != 1 {
		t.Errorf("sent = %d after redispatch, want 1", len(mailer.sent))
	}
}

func TestDispatchAttachesOnlyReadableFiles(t *testing.T) {
	store := paidOrder() // surtido path set but file missing from fakeFiles
	mailer := &fakeMailer{}
	d, _ := newDispatcher(store, mailer)

	if err := d.Dispatch(context.Background(), 501, 0); err != nil {
		t.Fatal(err)
	}
	msg := mailer.sent[0]
	if len(msg.Attachments) != 1 || msg.Attachments[0].Filename != "labels/dhl-501.pdf" {
		t.Errorf("attachments = %+v, want just the label", msg.Attachments)
	}
}

func TestDispatchFailureRequeuesWithoutMarking(t *testing.T) {
	store := paidOrder()
	mailer := &fakeMailer{err: errors.New("smtp down")}
	d, q := newDispatcher(store, mailer)

	if err := d.Dispatch(context.Background(), 501, 0); err != nil {
		t.Fatalf("requeue path must not error: %v", err)
	}
	if store.order.ShippingEmailSentAt != nil {
		t.Error("failed send must not mark the email sent")
	}
	if len(q.requeued) != 1 || q.requeued[0] != 1 {
		t.Errorf("requeued = %v, want [1]", q.requeued)
	}
}

func TestDispatchGivesUpAfterMaxAttempts(t *testing.T) {
	store := paidOrder()
	mailer := &fakeMailer{err: errors.New("smtp down")}
	d, q := newDispatcher(store, mailer)

	if err := d.Dispatch(context.Background(), 501, 4); err != nil {
		t.Fatal(err)
	}
	if len(q.requeued) != 0 {
		t.Errorf("attempt 4 of 5 must not requeue, got %v", q.requeued)
	}
	if store.order.ShippingEmailSentAt != nil {
		t.Error("giving up must not mark the email sent")
	}
}
