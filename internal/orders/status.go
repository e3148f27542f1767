package orders

type Status string

const (
	StatusPendingPayment  Status = "pending_payment"
	StatusPaymentUploaded Status = "payment_uploaded"
	StatusPaymentVerified Status = "payment_verified"
	StatusRejected        Status = "rejected"
	StatusProcessing      Status = "processing"
	StatusShipped         Status = "shipped"
	StatusDelivered       Status = "delivered"
	StatusCancelled       Status = "cancelled"
)

// cancelled is absorbing from any pre-verified state; delivered, cancelled
// and rejected are terminal.
var validNext = map[Status]map[Status]bool{
	StatusPendingPayment:  {StatusPaymentUploaded: true, StatusPaymentVerified: true, StatusCancelled: true},
	StatusPaymentUploaded: {StatusPaymentVerified: true, StatusRejected: true, StatusCancelled: true},
	StatusPaymentVerified: {StatusProcessing: true},
	StatusProcessing:      {StatusShipped: true},
	StatusShipped:         {StatusDelivered: true},
	StatusDelivered:       {},
	StatusRejected:        {},
	StatusCancelled:       {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) Terminal() bool {
	return len(validNext[s]) == 0
}

// CancellableFrom are the states a cancellation (expiry or failed charge)
// may act on; anything at or past payment_verified stays.
var CancellableFrom = []Status{StatusPendingPayment, StatusPaymentUploaded}

// VerifiableFrom are the states a successful charge may act on. An order
// already payment_verified makes the conditional update a no-op, which is
// what keeps re-delivered success events idempotent.
var VerifiableFrom = []Status{StatusPendingPayment, StatusPaymentUploaded}

// Payment record statuses, a coarser view of the order status.
const (
	PaymentPending   = "pending"
	PaymentPaid      = "paid"
	PaymentFailed    = "failed"
	PaymentCancelled = "cancelled"
)

// PaymentStatusFor maps an order status to the payment record status.
func PaymentStatusFor(s Status) string {
	switch s {
	case StatusPaymentVerified, StatusProcessing, StatusShipped, StatusDelivered:
		return PaymentPaid
	case StatusCancelled:
		return PaymentCancelled
	case StatusRejected:
		return PaymentFailed
	default:
		return PaymentPending
	}
}
