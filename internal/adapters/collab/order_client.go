// Package collab holds the adapters for the marketplace subsystems this
// payment core collaborates with: orders, carts, and notifications. Orders
// and carts live behind the marketplace's internal HTTP API; notifications
// are handed off to the notification pipeline downstream.
package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sokomarket/payment-service/internal/domain"
	"github.com/sokomarket/payment-service/internal/domain/ports"
	httpclient "github.com/sokomarket/payment-service/pkg/http"
)

// Config holds the internal marketplace API connection settings
type Config struct {
	BaseURL  string
	APIToken string
	Timeout  time.Duration
}

// DefaultConfig returns sensible defaults for the internal API client
func DefaultConfig(baseURL, apiToken string) Config {
	return Config{
		BaseURL:  baseURL,
		APIToken: apiToken,
		Timeout:  10 * time.Second,
	}
}

// OrderClient reads and updates orders through the marketplace internal API
type OrderClient struct {
	config     Config
	httpClient ports.HTTPClient
	logger     ports.Logger
}

// NewOrderClient creates an order collaborator client
func NewOrderClient(config Config, httpClient ports.HTTPClient, logger ports.Logger) *OrderClient {
	return &OrderClient{
		config:     config,
		httpClient: httpClient,
		logger:     logger,
	}
}

// NewOrderClientWithDefaults creates an order client with a pooled HTTP client
func NewOrderClientWithDefaults(config Config, logger ports.Logger) *OrderClient {
	client := httpclient.NewHTTPClient(httpclient.DefaultClientConfig(), config.Timeout)
	return NewOrderClient(config, client, logger)
}

type orderResponse struct {
	ID         string `json:"id"`
	CustomerID string `json:"customer_id"`
	VendorID   string `json:"vendor_id"`
	Total      string `json:"total"`
	Currency   string `json:"currency"`
}

// FindByID fetches the slice of an order the payment core needs
func (c *OrderClient) FindByID(ctx context.Context, orderID string) (*ports.Order, error) {
	var resp orderResponse
	if err := c.do(ctx, http.MethodGet, "/internal/v1/orders/"+orderID, nil, &resp); err != nil {
		return nil, err
	}

	total, err := decimal.NewFromString(resp.Total)
	if err != nil {
		return nil, domain.WrapError(domain.ErrorCodeValidationFailed,
			fmt.Sprintf("order %s has malformed total %q", orderID, resp.Total), err)
	}

	return &ports.Order{
		ID:         resp.ID,
		CustomerID: resp.CustomerID,
		VendorID:   resp.VendorID,
		Total:      total,
		Currency:   resp.Currency,
	}, nil
}

// UpdatePaymentAndOrderStatus writes the settlement outcome back to the order
func (c *OrderClient) UpdatePaymentAndOrderStatus(ctx context.Context, orderID string, paymentStatus ports.OrderPaymentStatus, orderStatus ports.OrderStatus) error {
	body := map[string]string{
		"payment_status": string(paymentStatus),
		"order_status":   string(orderStatus),
	}
	return c.do(ctx, http.MethodPatch, "/internal/v1/orders/"+orderID+"/status", body, nil)
}

func (c *OrderClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.WrapError(domain.ErrorCodeGatewayTimeout, "marketplace API unreachable", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return domain.NewDomainError(domain.ErrorCodeValidationFailed, "order not found").
			WithDetail("path", path)
	case resp.StatusCode >= 400:
		return domain.NewDomainError(domain.ErrorCodeGatewayError,
			fmt.Sprintf("marketplace API returned %d", resp.StatusCode)).
			WithDetail("path", path)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
