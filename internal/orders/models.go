package orders

import "time"

type Order struct {
	ID         int64
	UserID     int64
	Email      string
	Name       string
	Status     Status
	TotalCents int64

	// Shipping address.
	Street     string
	City       string
	State      string
	PostalCode string

	// Orders not paid before ExpiresAt are cancelled by the sweep.
	ExpiresAt   time.Time
	PaymentDate *time.Time

	// Invoice metadata, optional.
	InvoiceRFC          string
	InvoiceBusinessName string

	PickupInStore bool

	// Shipment metadata, written by the orchestrator.
	DhlTrackingNumber    string
	DhlLabelPath         string
	DhlPickupScheduledAt *time.Time
	SurtidoDocPath       string

	// Idempotency marker for the warehouse notification email.
	ShippingEmailSentAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Item is an order line; immutable once created, prices are the snapshot
// taken at purchase time.
type Item struct {
	ID             int64
	OrderID        int64
	ProductID      int64
	Qty            int
	UnitPriceCents int64
}

type Product struct {
	ID   int64
	Code string // external warehouse code
	Name string

	// Disponibility is the sellable count, ReservedStock the units held
	// against orders not yet confirmed or failed. Both never go negative.
	Disponibility int
	ReservedStock int

	PriceCents int64

	// Physical dimensions for shipping quotes.
	WeightKG float64
	LengthCM float64
	WidthCM  float64
	HeightCM float64

	UpdatedAt time.Time
}

type Payment struct {
	OrderID     int64
	Status      string
	AmountCents int64
	UpdatedAt   time.Time
}

// DhlPickup is an append-only audit record of a scheduled carrier pickup.
type DhlPickup struct {
	ID                 int64
	OrderID            int64
	ConfirmationNumber string
	ReadyAt            time.Time
	CloseAt            time.Time
	RawRequest         []byte
	RawResponse        []byte
	CreatedAt          time.Time
}
