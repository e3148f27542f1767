package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/rmoralesp/tienda-fulfillment/internal/carrier"
	"github.com/rmoralesp/tienda-fulfillment/internal/inventory"
	"github.com/rmoralesp/tienda-fulfillment/internal/orders"
	"github.com/rmoralesp/tienda-fulfillment/internal/stockmirror"
)

type CreateOrderReq struct {
	UserID        int64            `json:"user_id"`
	Email         string           `json:"email"`
	Name          string           `json:"name"`
	Street        string           `json:"street"`
	City          string           `json:"city"`
	State         string           `json:"state"`
	PostalCode    string           `json:"postal_code"`
	PickupInStore bool             `json:"pickup_in_store"`
	Items         []CreateItemLine `json:"items"`
}

type CreateItemLine struct {
	ProductID int64 `json:"product_id"`
	Qty       int   `json:"qty"`
}

type CreateOrderResp struct {
	OrderID   int64     `json:"order_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

type AvailabilityRow struct {
	ProductID  int64 `json:"product_id"`
	PriceCents int64 `json:"price_cents"`
	Stock      int   `json:"stock"`
}

type QuoteReq struct {
	Name       string           `json:"name"`
	Street     string           `json:"street"`
	City       string           `json:"city"`
	State      string           `json:"state"`
	PostalCode string           `json:"postal_code"`
	Items      []CreateItemLine `json:"items"`
}

type QuoteResp struct {
	PriceCents int64     `json:"price_cents"`
	Currency   string    `json:"currency"`
	ETA        time.Time `json:"eta"`
}

type OrderResp struct {
	OrderID        int64      `json:"order_id"`
	Status         string     `json:"status"`
	TotalCents     int64      `json:"total_cents"`
	PaymentStatus  string     `json:"payment_status"`
	TrackingNumber string     `json:"tracking_number,omitempty"`
	ExpiresAt      time.Time  `json:"expires_at"`
	PaymentDate    *time.Time `json:"payment_date,omitempty"`
}

// Quoter prices a shipment; nil when the carrier integration is off.
type Quoter interface {
	Quote(ctx context.Context, req carrier.QuoteRequest) (*carrier.Quote, error)
}

// OrdersHandler is the checkout-facing ingress: order creation with
// reservation, order status, shipping quotes and the price/stock view the
// product pages read.
type OrdersHandler struct {
	Repo     *orders.Repo
	Stock    *inventory.Ledger
	Mirror   *stockmirror.Mirror // nil when the warehouse mirror is disabled
	Quoter   Quoter
	Shipper  carrier.Address
	OrderTTL time.Duration
	Log      zerolog.Logger
}

func (h *OrdersHandler) Register(r *chi.Mux) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders/{id}", h.getOrder)
	r.Post("/shipping/quote", h.quote)
	r.Get("/products/availability", h.availability)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.Email == "" || len(req.Items) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing fields"})
		return
	}

	ctx := r.Context()
	expiresAt := time.Now().UTC().Add(h.OrderTTL)

	lines := make([]orders.Item, 0, len(req.Items))
	for _, it := range req.Items {
		lines = append(lines, orders.Item{ProductID: it.ProductID, Qty: it.Qty})
	}

	o := &orders.Order{
		UserID:        req.UserID,
		Email:         req.Email,
		Name:          req.Name,
		Street:        req.Street,
		City:          req.City,
		State:         req.State,
		PostalCode:    req.PostalCode,
		PickupInStore: req.PickupInStore,
		ExpiresAt:     expiresAt,
	}
	id, err := h.Repo.CreateOrder(ctx, o, lines)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	items, err := h.Repo.OrderItems(ctx, id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	ok, shortfalls, err := h.Stock.ReserveItems(ctx, items)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if !ok {
		// the order row stays for the audit trail, cancelled
		if _, err := h.Repo.TransitionStatus(ctx, id, orders.StatusCancelled, orders.StatusPendingPayment); err != nil {
			h.Log.Error().Err(err).Int64("order_id", id).Msg("cancel after shortfall failed")
		}
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":     "insufficient stock",
			"shortfall": shortfalls,
		})
		return
	}

	writeJSON(w, http.StatusCreated, CreateOrderResp{OrderID: id, ExpiresAt: expiresAt})
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	ctx := r.Context()
	o, err := h.Repo.GetOrder(ctx, id)
	if errors.Is(err, orders.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	resp := OrderResp{
		OrderID:        o.ID,
		Status:         string(o.Status),
		TotalCents:     o.TotalCents,
		PaymentStatus:  orders.PaymentPending,
		TrackingNumber: o.DhlTrackingNumber,
		ExpiresAt:      o.ExpiresAt,
		PaymentDate:    o.PaymentDate,
	}
	if p, err := h.Repo.GetPayment(ctx, id); err == nil {
		resp.PaymentStatus = p.Status
	} else if !errors.Is(err, orders.ErrNotFound) {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// quote prices shipping for a prospective cart, one package per unit using
// the catalog dimensions.
func (h *OrdersHandler) quote(w http.ResponseWriter, r *http.Request) {
	if h.Quoter == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "carrier integration disabled"})
		return
	}
	var req QuoteReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.PostalCode == "" || len(req.Items) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing fields"})
		return
	}

	ctx := r.Context()
	creq := carrier.QuoteRequest{
		From: h.Shipper,
		To: carrier.Address{
			Name:       req.Name,
			Street:     req.Street,
			City:       req.City,
			State:      req.State,
			PostalCode: req.PostalCode,
		},
	}
	for _, it := range req.Items {
		p, err := h.Repo.GetProduct(ctx, it.ProductID)
		if errors.Is(err, orders.ErrNotFound) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown product"})
			return
		}
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		for i := 0; i < it.Qty; i++ {
			creq.Packages = append(creq.Packages, carrier.Package{
				WeightKG: p.WeightKG, LengthCM: p.LengthCM, WidthCM: p.WidthCM, HeightCM: p.HeightCM,
			})
		}
	}

	q, err := h.Quoter.Quote(ctx, creq)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "carrier unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, QuoteResp{PriceCents: q.PriceCents, Currency: q.Currency, ETA: q.ETA})
}

// availability answers price and sellable stock for a comma-separated id
// list, preferring the warehouse mirror and falling back to local figures.
func (h *OrdersHandler) availability(w http.ResponseWriter, r *http.Request) {
	ids, err := parseIDs(r.URL.Query().Get("ids"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	ctx := r.Context()
	rows := make([]AvailabilityRow, 0, len(ids))
	for _, id := range ids {
		p, err := h.Repo.GetProduct(ctx, id)
		if errors.Is(err, orders.ErrNotFound) {
			continue
		}
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		rows = append(rows, AvailabilityRow{ProductID: p.ID, PriceCents: p.PriceCents, Stock: p.Disponibility})
	}

	if h.Mirror != nil {
		batch := stockmirror.NewBatch()
		prices, err := h.Mirror.PriceMap(ctx, batch, ids)
		if err != nil {
			h.Log.Warn().Err(err).Msg("mirror prices unavailable, serving local")
		}
		stocks, err := h.Mirror.StockMap(ctx, batch, ids)
		if err != nil {
			h.Log.Warn().Err(err).Msg("mirror stock unavailable, serving local")
		}
		for i := range rows {
			if v, ok := prices[rows[i].ProductID]; ok {
				rows[i].PriceCents = v
			}
			if v, ok := stocks[rows[i].ProductID]; ok {
				rows[i].Stock = v
			}
		}
	}

	writeJSON(w, http.StatusOK, rows)
}

func parseIDs(raw string) ([]int64, error) {
	if raw == "" {
		return nil, errors.New("missing ids")
	}
	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil || id <= 0 {
			return nil, errors.New("invalid ids")
		}
		ids = append(ids, id)
	}
	return ids, nil
}
