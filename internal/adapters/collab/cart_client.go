package collab

import (
	"context"
	"net/http"

	"github.com/sokomarket/payment-service/internal/domain/ports"
	httpclient "github.com/sokomarket/payment-service/pkg/http"
)

// CartClient updates carts through the marketplace internal API
type CartClient struct {
	orders *OrderClient
}

// NewCartClient creates a cart collaborator client sharing the order
// client's connection pool, both talk to the same internal API.
func NewCartClient(config Config, httpClient ports.HTTPClient, logger ports.Logger) *CartClient {
	return &CartClient{orders: NewOrderClient(config, httpClient, logger)}
}

// NewCartClientWithDefaults creates a cart client with a pooled HTTP client
func NewCartClientWithDefaults(config Config, logger ports.Logger) *CartClient {
	client := httpclient.NewHTTPClient(httpclient.DefaultClientConfig(), config.Timeout)
	return NewCartClient(config, client, logger)
}

// DeactivateItemsForVendorOrder releases the cart items behind a failed
// vendor order so the customer can re-purchase them
func (c *CartClient) DeactivateItemsForVendorOrder(ctx context.Context, customerID, vendorID, orderID string) error {
	body := map[string]string{
		"customer_id": customerID,
		"vendor_id":   vendorID,
		"order_id":    orderID,
	}
	return c.orders.do(ctx, http.MethodPost, "/internal/v1/carts/deactivate-items", body, nil)
}
