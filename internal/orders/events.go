package orders

import (
	"encoding/json"
	"time"
)

const (
	EventPaymentWebhook       = "PaymentWebhookReceived"
	EventFulfillmentRequested = "FulfillmentRequested"
	EventWarehouseNotify      = "WarehouseNotifyRequested"
)

type Envelope struct {
	EventID       string          `json:"event_id"` // uuid
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"` // 1
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	CorrelationID string          `json:"correlation_id,omitempty"` // usually the order id
	Payload       json.RawMessage `json:"payload"`
}

// PaymentWebhookPayload carries the raw gateway body; decoding happens in
// the worker so the HTTP handler can ack fast.
type PaymentWebhookPayload struct {
	Body []byte `json:"body"`
}

type FulfillmentRequestedPayload struct {
	OrderID int64 `json:"order_id"`
}

type WarehouseNotifyPayload struct {
	OrderID int64 `json:"order_id"`
}
