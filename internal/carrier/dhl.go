// Package carrier is the DHL Express REST client: rate quotes, shipment
// creation (tracking number + label) and pickup dispatch. All calls are
// context-bounded and run behind a circuit breaker so a carrier outage
// fails fast instead of hanging fulfillment workers.
package carrier

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// MinPickupWindow is a hard constraint of the carrier API: the pickup
// window between ready time and close time must be at least 180 minutes.
const MinPickupWindow = 180 * time.Minute

var ErrWindowTooShort = errors.New("pickup window shorter than carrier minimum")

type Address struct {
	Name       string `json:"name"`
	Street     string `json:"street"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Phone      string `json:"phone,omitempty"`
	Email      string `json:"email,omitempty"`
}

type Package struct {
	WeightKG float64 `json:"weight"`
	LengthCM float64 `json:"length"`
	WidthCM  float64 `json:"width"`
	HeightCM float64 `json:"height"`
}

type QuoteRequest struct {
	From     Address
	To       Address
	Packages []Package
}

type Quote struct {
	PriceCents int64
	Currency   string
	ETA        time.Time
}

type ShipmentRequest struct {
	OrderRef string
	From     Address
	To       Address
	Packages []Package
}

type ShipmentResult struct {
	TrackingNumber string
	LabelPDF       []byte
}

type PickupRequest struct {
	TrackingNumber string
	Address        Address
	ReadyAt        time.Time
	CloseAt        time.Time
}

type PickupResult struct {
	ConfirmationNumber string
	RawRequest         []byte
	RawResponse        []byte
}

type Client struct {
	HTTP     *http.Client
	BaseURL  string
	Username string
	Password string
	Account  string
	Log      zerolog.Logger

	breaker *gobreaker.CircuitBreaker[[]byte]
}

func NewClient(baseURL, username, password, account string, log zerolog.Logger) *Client {
	return &Client{
		HTTP:     &http.Client{Timeout: 30 * time.Second},
		BaseURL:  baseURL,
		Username: username,
		Password: password,
		Account:  account,
		Log:      log.With().Str("component", "dhl").Logger(),
		breaker: gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
			Name:    "dhl",
			Timeout: 60 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
		}),
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var reqBody []byte
	if body != nil {
		var err error
		reqBody, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
	}

	return c.breaker.Execute(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bytes.NewReader(reqBody))
		if err != nil {
			return nil, err
		}
		req.SetBasicAuth(c.Username, c.Password)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.HTTP.Do(req)
		if err != nil {
			return nil, fmt.Errorf("dhl %s %s: %w", method, path, err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, fmt.Errorf("dhl %s %s: status %d: %s", method, path, resp.StatusCode, respBody)
		}
		return respBody, nil
	})
}

func (c *Client) Quote(ctx context.Context, req QuoteRequest) (*Quote, error) {
	payload := map[string]any{
		"customerDetails": map[string]any{
			"shipperDetails":  req.From,
			"receiverDetails": req.To,
		},
		"accounts": []map[string]string{{"typeCode": "shipper", "number": c.Account}},
		"packages": req.Packages,
	}
	body, err := c.do(ctx, http.MethodPost, "/rates", payload)
	if err != nil {
		return nil, err
	}

	var res struct {
		Products []struct {
			TotalPrice []struct {
				Price    float64 `json:"price"`
				Currency string  `json:"priceCurrency"`
			} `json:"totalPrice"`
			DeliveryCapabilities struct {
				EstimatedDeliveryDateAndTime time.Time `json:"estimatedDeliveryDateAndTime"`
			} `json:"deliveryCapabilities"`
		} `json:"products"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("decode rate response: %w", err)
	}
	if len(res.Products) == 0 || len(res.Products[0].TotalPrice) == 0 {
		return nil, fmt.Errorf("rate response carried no products")
	}
	p := res.Products[0]
	return &Quote{
		PriceCents: int64(p.TotalPrice[0].Price * 100),
		Currency:   p.TotalPrice[0].Currency,
		ETA:        p.DeliveryCapabilities.EstimatedDeliveryDateAndTime,
	}, nil
}

func (c *Client) CreateShipment(ctx context.Context, req ShipmentRequest) (*ShipmentResult, error) {
	payload := map[string]any{
		"customerReferences": []map[string]string{{"value": req.OrderRef}},
		"accounts":           []map[string]string{{"typeCode": "shipper", "number": c.Account}},
		"customerDetails": map[string]any{
			"shipperDetails":  req.From,
			"receiverDetails": req.To,
		},
		"content": map[string]any{
			"packages": req.Packages,
		},
		"outputImageProperties": map[string]any{
			"encodingFormat": "pdf",
		},
	}
	body, err := c.do(ctx, http.MethodPost, "/shipments", payload)
	if err != nil {
		return nil, err
	}

	var res struct {
		ShipmentTrackingNumber string `json:"shipmentTrackingNumber"`
		Documents              []struct {
			TypeCode string `json:"typeCode"`
			Content  string `json:"content"` // base64
		} `json:"documents"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("decode shipment response: %w", err)
	}
	if res.ShipmentTrackingNumber == "" {
		return nil, fmt.Errorf("shipment response carried no tracking number")
	}

	out := &ShipmentResult{TrackingNumber: res.ShipmentTrackingNumber}
	for _, d := range res.Documents {
		if d.TypeCode != "label" {
			continue
		}
		pdf, err := base64.StdEncoding.DecodeString(d.Content)
		if err != nil {
			return nil, fmt.Errorf("decode label: %w", err)
		}
		out.LabelPDF = pdf
		break
	}
	if out.LabelPDF == nil {
		return nil, fmt.Errorf("shipment response carried no label document")
	}
	return out, nil
}

// SchedulePickup dispatches a driver for the given window. The window is
// validated client-side against the carrier minimum so a misconfigured
// schedule fails before the network call.
func (c *Client) SchedulePickup(ctx context.Context, req PickupRequest) (*PickupResult, error) {
	if req.CloseAt.Sub(req.ReadyAt) < MinPickupWindow {
		return nil, ErrWindowTooShort
	}

	payload := map[string]any{
		"plannedPickupDateAndTime": req.ReadyAt.Format("2006-01-02T15:04:05 GMT-07:00"),
		"closeTime":                req.CloseAt.Format("15:04"),
		"accounts":                 []map[string]string{{"typeCode": "shipper", "number": c.Account}},
		"customerDetails": map[string]any{
			"pickupDetails": req.Address,
		},
		"shipmentDetails": []map[string]string{{"shipmentTrackingNumber": req.TrackingNumber}},
	}
	rawReq, _ := json.Marshal(payload)

	body, err := c.do(ctx, http.MethodPost, "/pickups", payload)
	if err != nil {
		return nil, err
	}

	var res struct {
		DispatchConfirmationNumbers []string `json:"dispatchConfirmationNumbers"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("decode pickup response: %w", err)
	}
	if len(res.DispatchConfirmationNumbers) == 0 {
		return nil, fmt.Errorf("pickup response carried no confirmation number")
	}
	return &PickupResult{
		ConfirmationNumber: res.DispatchConfirmationNumbers[0],
		RawRequest:         rawReq,
		RawResponse:        body,
	}, nil
}
