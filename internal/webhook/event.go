// Package webhook turns payment-gateway deliveries into order state
// transitions. Decoding is exhaustive at the boundary: every payload maps
// to a known Kind or to KindUnknown, which is acknowledged and ignored so
// the gateway does not retry forever.
package webhook

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindChargeCreated
	KindChargeSucceeded
	KindChargeFailed
	KindChargeCancelled
	KindChargeExpired
)

func (k Kind) String() string {
	switch k {
	case KindChargeCreated:
		return "charge_created"
	case KindChargeSucceeded:
		return "charge_succeeded"
	case KindChargeFailed:
		return "charge_failed"
	case KindChargeCancelled:
		return "charge_cancelled"
	case KindChargeExpired:
		return "charge_expired"
	default:
		return "unknown"
	}
}

// Success events are a fixed allow-list, never a substring match.
var kindByType = map[string]Kind{
	"charge.created":      KindChargeCreated,
	"charge.succeeded":    KindChargeSucceeded,
	"transaction.paid":    KindChargeSucceeded,
	"charge.failed":       KindChargeFailed,
	"charge.cancelled":    KindChargeCancelled,
	"charge.expired":      KindChargeExpired,
	"transaction.expired": KindChargeExpired,
}

// Event is the decoded, typed view of a gateway delivery.
type Event struct {
	Kind    Kind
	Type    string // raw event type string, for logging
	EventID string // dedup key
	OrderID int64  // 0 when the payload carried no usable reference
}

// IsCancellation reports whether the event should cancel the order and
// release its reservation.
func (e Event) IsCancellation() bool {
	switch e.Kind {
	case KindChargeFailed, KindChargeCancelled, KindChargeExpired:
		return true
	default:
		return false
	}
}

type payload struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Transaction struct {
		ID            string `json:"id"`
		Method        string `json:"method"`
		OrderID       string `json:"order_id"`
		PaymentMethod struct {
			OrderID   string `json:"order_id"`
			Reference string `json:"reference"`
		} `json:"payment_method"`
	} `json:"transaction"`
}

// Decode parses a raw gateway body. A malformed JSON body is an error (the
// handler answers 400); an unrecognized event type is NOT an error, it
// decodes to KindUnknown.
func Decode(body []byte) (Event, error) {
	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return Event{}, fmt.Errorf("decode webhook body: %w", err)
	}
	if p.Type == "" {
		return Event{}, fmt.Errorf("webhook body has no event type")
	}

	ev := Event{
		Kind:    kindByType[p.Type],
		Type:    p.Type,
		EventID: p.ID,
	}
	if ev.EventID == "" {
		// not every gateway event carries a top-level id
		ev.EventID = p.Transaction.ID + ":" + p.Type
	}

	// The order reference lives in a method-dependent spot: card charges
	// carry it on the transaction, SPEI transfers on the payment method,
	// in-store payments only in the payment reference.
	var ref string
	switch p.Transaction.Method {
	case "bank_account":
		ref = firstNonEmpty(p.Transaction.PaymentMethod.OrderID, p.Transaction.OrderID)
	case "store":
		ref = firstNonEmpty(p.Transaction.PaymentMethod.Reference, p.Transaction.OrderID)
	default:
		ref = p.Transaction.OrderID
	}
	if id, err := ParseOrderRef(ref); err == nil {
		ev.OrderID = id
	}
	return ev, nil
}

// ParseOrderRef recovers the numeric order id from a gateway reference.
// References may carry a suffix after the separator ("501-a3f2" -> 501).
func ParseOrderRef(ref string) (int64, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return 0, fmt.Errorf("empty order reference")
	}
	if i := strings.IndexByte(ref, '-'); i >= 0 {
		ref = ref[:i]
	}
	id, err := strconv.ParseInt(ref, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("bad order reference %q", ref)
	}
	return id, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
