package orders

import "testing"

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusPendingPayment, StatusPaymentUploaded, true},
		{StatusPendingPayment, StatusPaymentVerified, true},
		{StatusPendingPayment, StatusCancelled, true},
		{StatusPaymentUploaded, StatusPaymentVerified, true},
		{StatusPaymentUploaded, StatusRejected, true},
		{StatusPaymentVerified, StatusProcessing, true},
		{StatusProcessing, StatusShipped, true},
		{StatusShipped, StatusDelivered, true},

		// verification is one-way
		{StatusPaymentVerified, StatusCancelled, false},
		{StatusProcessing, StatusCancelled, false},
		// no skipping forward
		{StatusPendingPayment, StatusShipped, false},
		{StatusPaymentVerified, StatusShipped, false},
		// terminals go nowhere
		{StatusDelivered, StatusShipped, false},
		{StatusCancelled, StatusPendingPayment, false},
		{StatusRejected, StatusPaymentUploaded, false},
	}
	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestTerminal(t *testing.T) {
	terminal := []Status{StatusDelivered, StatusCancelled, StatusRejected}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	live := []Status{StatusPendingPayment, StatusPaymentUploaded, StatusPaymentVerified, StatusProcessing, StatusShipped}
	for _, s := range live {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestPaymentStatusFor(t *testing.T) {
	cases := map[Status]string{
		StatusPendingPayment:  PaymentPending,
		StatusPaymentUploaded: PaymentPending,
		StatusPaymentVerified: PaymentPaid,
		StatusProcessing:      PaymentPaid,
		StatusShipped:         PaymentPaid,
		StatusDelivered:       PaymentPaid,
		StatusCancelled:       PaymentCancelled,
		StatusRejected:        PaymentFailed,
	}
	for s, want := range cases {
		if got := PaymentStatusFor(s); got != want {
			t.Errorf("PaymentStatusFor(%s) = %q, want %q", s, got, want)
		}
	}
}
