package collab_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sokomarket/payment-service/internal/adapters/collab"
	"github.com/sokomarket/payment-service/internal/domain"
	"github.com/sokomarket/payment-service/internal/domain/ports"
	"github.com/sokomarket/payment-service/pkg/security"
)

type fakeHTTPClient struct {
	lastRequest *http.Request
	lastBody    []byte
	status      int
	response    string
	err         error
}

func (f *fakeHTTPClient) Do(req *http.Request) (*http.Response, error) {
	f.lastRequest = req
	if req.Body != nil {
		f.lastBody, _ = io.ReadAll(req.Body)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &http.Response{
		StatusCode: f.status,
		Body:       io.NopCloser(bytes.NewReader([]byte(f.response))),
		Header:     make(http.Header),
	}, nil
}

func newOrderClient(client *fakeHTTPClient) *collab.OrderClient {
	config := collab.DefaultConfig("http://marketplace-core.internal:8080", "internal-token")
	return collab.NewOrderClient(config, client, security.NewZapLogger(zap.NewNop()))
}

func TestFindByIDParsesOrder(t *testing.T) {
	client := &fakeHTTPClient{
		status:   http.StatusOK,
		response: `{"id":"order-1","customer_id":"customer-1","vendor_id":"vendor-1","total":"5000","currency":"NGN"}`,
	}
	orders := newOrderClient(client)

	order, err := orders.FindByID(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, "order-1", order.ID)
	assert.Equal(t, "vendor-1", order.VendorID)
	assert.True(t, order.Total.Equal(decimal.NewFromInt(5000)))
	assert.Equal(t, "Bearer internal-token", client.lastRequest.Header.Get("Authorization"))
	assert.Equal(t, "http://marketplace-core.internal:8080/internal/v1/orders/order-1", client.lastRequest.URL.String())
}

func TestFindByIDMalformedTotal(t *testing.T) {
	client := &fakeHTTPClient{
		status:   http.StatusOK,
		response: `{"id":"order-1","total":"five thousand"}`,
	}

	_, err := newOrderClient(client).FindByID(context.Background(), "order-1")
	require.Error(t, err)
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeValidationFailed))
}

func TestFindByIDNotFound(t *testing.T) {
	client := &fakeHTTPClient{status: http.StatusNotFound, response: `{}`}

	_, err := newOrderClient(client).FindByID(context.Background(), "order-missing")
	require.Error(t, err)
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeValidationFailed))
}

func TestFindByIDTransportFailure(t *testing.T) {
	client := &fakeHTTPClient{err: errors.New("connection refused")}

	_, err := newOrderClient(client).FindByID(context.Background(), "order-1")
	require.Error(t, err)
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeGatewayTimeout))
}

func TestUpdatePaymentAndOrderStatus(t *testing.T) {
	client := &fakeHTTPClient{status: http.StatusOK, response: `{}`}
	orders := newOrderClient(client)

	err := orders.UpdatePaymentAndOrderStatus(context.Background(), "order-1", ports.OrderPaymentPaid, ports.OrderConfirmed)
	require.NoError(t, err)
	assert.Equal(t, http.MethodPatch, client.lastRequest.Method)
	assert.Contains(t, client.lastRequest.URL.String(), "/internal/v1/orders/order-1/status")

	var sent map[string]string
	require.NoError(t, json.Unmarshal(client.lastBody, &sent))
	assert.Equal(t, "paid", sent["payment_status"])
	assert.Equal(t, "confirmed", sent["order_status"])
}

func TestCartDeactivateItems(t *testing.T) {
	client := &fakeHTTPClient{status: http.StatusOK, response: `{}`}
	config := collab.DefaultConfig("http://marketplace-core.internal:8080", "internal-token")
	carts := collab.NewCartClient(config, client, security.NewZapLogger(zap.NewNop()))

	err := carts.DeactivateItemsForVendorOrder(context.Background(), "customer-1", "vendor-1", "order-1")
	require.NoError(t, err)
	assert.Contains(t, client.lastRequest.URL.String(), "/internal/v1/carts/deactivate-items")

	var sent map[string]string
	require.NoError(t, json.Unmarshal(client.lastBody, &sent))
	assert.Equal(t, "order-1", sent["order_id"])
}
