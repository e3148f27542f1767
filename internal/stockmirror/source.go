package stockmirror

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPSource reads prices and stock from the warehouse system's REST API.
// Breaker and chunking live in Mirror; this client only does one call.
type HTTPSource struct {
	HTTP    *http.Client
	BaseURL string
	Token   string
}

func NewHTTPSource(baseURL, token string) *HTTPSource {
	return &HTTPSource{
		HTTP:    &http.Client{Timeout: 15 * time.Second},
		BaseURL: baseURL,
		Token:   token,
	}
}

type sourceQuery struct {
	Codes []string `json:"codes"`
}

func (s *HTTPSource) PriceByCode(ctx context.Context, codes []string) (map[string]int64, error) {
	var out struct {
		Prices map[string]int64 `json:"prices"`
	}
	if err := s.post(ctx, "/catalog/prices", codes, &out); err != nil {
		return nil, err
	}
	return out.Prices, nil
}

func (s *HTTPSource) StockByCode(ctx context.Context, codes []string) (map[string]int, error) {
	var out struct {
		Stock map[string]int `json:"stock"`
	}
	if err := s.post(ctx, "/catalog/stock", codes, &out); err != nil {
		return nil, err
	}
	return out.Stock, nil
}

func (s *HTTPSource) post(ctx context.Context, path string, codes []string, out any) error {
	body, err := json.Marshal(sourceQuery{Codes: codes})
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.Token)
	}

	resp, err := s.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("warehouse %s: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("warehouse %s: status %d: %s", path, resp.StatusCode, respBody)
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("warehouse %s: decode: %w", path, err)
	}
	return nil
}
