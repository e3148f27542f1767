package webhook

import "testing"

func TestDecode(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantKind  Kind
		wantOrder int64
		wantErr   bool
	}{
		{
			name:      "card charge succeeded",
			body:      `{"id":"ev_1","type":"charge.succeeded","transaction":{"id":"trx_1","method":"card","order_id":"501"}}`,
			wantKind:  KindChargeSucceeded,
			wantOrder: 501,
		},
		{
			name:      "order ref with suffix",
			body:      `{"id":"ev_2","type":"charge.succeeded","transaction":{"id":"trx_2","method":"card","order_id":"501-a3f2"}}`,
			wantKind:  KindChargeSucceeded,
			wantOrder: 501,
		},
		{
			name:      "spei ref on payment method",
			body:      `{"type":"transaction.paid","transaction":{"id":"trx_3","method":"bank_account","payment_method":{"order_id":"77-spei"}}}`,
			wantKind:  KindChargeSucceeded,
			wantOrder: 77,
		},
		{
			name:      "store payment ref",
			body:      `{"type":"charge.failed","transaction":{"id":"trx_4","method":"store","payment_method":{"reference":"93-oxxo"}}}`,
			wantKind:  KindChargeFailed,
			wantOrder: 93,
		},
		{
			name:      "charge created",
			body:      `{"type":"charge.created","transaction":{"id":"trx_5","method":"card","order_id":"12"}}`,
			wantKind:  KindChargeCreated,
			wantOrder: 12,
		},
		{
			name:      "unknown event type decodes, not errors",
			body:      `{"type":"charge.refunded","transaction":{"id":"trx_6","method":"card","order_id":"12"}}`,
			wantKind:  KindUnknown,
			wantOrder: 12,
		},
		{
			name:      "non-numeric reference gives no order",
			body:      `{"type":"charge.succeeded","transaction":{"id":"trx_7","method":"card","order_id":"abc"}}`,
			wantKind:  KindChargeSucceeded,
			wantOrder: 0,
		},
		{
			name:    "malformed json",
			body:    `{"type":`,
			wantErr: true,
		},
		{
			name:    "missing event type",
			body:    `{"transaction":{"order_id":"1"}}`,
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := Decode([]byte(tt.body))
			if tt.wantErr {
				if err == nil {
					t.Fatal("want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if ev.Kind != tt.wantKind {
				t.Errorf("Kind = %v, want %v", ev.Kind, tt.wantKind)
			}
			if ev.OrderID != tt.wantOrder {
				t.Errorf("OrderID = %d, want %d", ev.OrderID, tt.wantOrder)
			}
		})
	}
}

func TestDecodeEventIDFallback(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"charge.succeeded","transaction":{"id":"trx_9","method":"card","order_id":"5"}}`))
	if err != nil {
		t.Fatal(err)
	}
	if ev.EventID != "trx_9:charge.succeeded" {
		t.Errorf("EventID = %q, want transaction-derived fallback", ev.EventID)
	}
}

func TestParseOrderRef(t *testing.T) {
	tests := []struct {
		ref     string
		want    int64
		wantErr bool
	}{
		{"501", 501, false},
		{"501-a3f2", 501, false},
		{" 501 ", 501, false},
		{"501-", 501, false},
		{"", 0, true},
		{"-5", 0, true},
		{"abc", 0, true},
		{"0", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseOrderRef(tt.ref)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseOrderRef(%q) error = %v, wantErr %v", tt.ref, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseOrderRef(%q) = %d, want %d", tt.ref, got, tt.want)
		}
	}
}
