package webhook

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/rmoralesp/tienda-fulfillment/internal/orders"
)

type fakePublisher struct {
	keys   []string
	values [][]byte
}

func (f *fakePublisher) Publish(key, value []byte, _ ...kafkago.Header) {
	f.keys = append(f.keys, string(key))
	f.values = append(f.values, value)
}

func TestHandlerEnqueuesWithOrderCorrelation(t *testing.T) {
	pub := &fakePublisher{}
	h := &Handler{Producer: pub, ServiceName: "test-api", Log: zerolog.Nop()}

	body := `{"id":"ev_1","type":"charge.succeeded","transaction":{"id":"trx_1","method":"card","order_id":"501"}}`
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/webhooks/openpay", strings.NewReader(body)))

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(pub.values) != 1 {
		t.Fatalf("published %d messages, want 1", len(pub.values))
	}
	if pub.keys[0] != "501" {
		t.Errorf("partition key = %q, want the order id", pub.keys[0])
	}

	var env orders.Envelope
	if err := json.Unmarshal(pub.values[0], &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.EventType != orders.EventPaymentWebhook {
		t.Errorf("event type = %q", env.EventType)
	}
	if env.CorrelationID != "501" {
		t.Errorf("correlation id = %q, want the order id", env.CorrelationID)
	}
	var p orders.PaymentWebhookPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if string(p.Body) != body {
		t.Errorf("payload body does not round-trip the gateway body")
	}
}

func TestHandlerRejectsMalformedBody(t *testing.T) {
	pub := &fakePublisher{}
	h := &Handler{Producer: pub, ServiceName: "test-api", Log: zerolog.Nop()}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/webhooks/openpay", strings.NewReader(`{"type":`)))

	if rec.Code != 400 {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if len(pub.values) != 0 {
		t.Errorf("malformed body was enqueued")
	}
}
