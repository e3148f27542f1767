package webhook

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/rmoralesp/tienda-fulfillment/internal/kafka"
	"github.com/rmoralesp/tienda-fulfillment/internal/orders"
)

const maxBodySize = 1 << 20

// Publisher hands an event value to the task queue.
type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

// Handler is the webhook ingress. It parses just enough to validate the
// delivery, acks 200 immediately and hands the raw body to the worker;
// the gateway never waits on side effects.
type Handler struct {
	Producer    Publisher
	ServiceName string
	Log         zerolog.Logger
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	ev, err := Decode(body)
	if err != nil {
		h.Log.Warn().Err(err).Msg("malformed webhook body")
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}

	env := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     orders.EventPaymentWebhook,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      h.ServiceName,
		CorrelationID: strconv.FormatInt(ev.OrderID, 10),
		Payload:       kafkax.MustMarshal(orders.PaymentWebhookPayload{Body: body}),
	}
	h.Producer.Publish(orders.PartitionKey(ev.OrderID), kafkax.MustMarshal(env))

	h.Log.Info().Str("event", ev.Type).Int64("order_id", ev.OrderID).Msg("webhook accepted")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"received":true}`))
}
