package paystack_test

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sokomarket/payment-service/internal/adapters/paystack"
	"github.com/sokomarket/payment-service/internal/domain"
	"github.com/sokomarket/payment-service/internal/domain/models"
	"github.com/sokomarket/payment-service/internal/domain/ports"
	"github.com/sokomarket/payment-service/pkg/security"
)

// fakeHTTPClient captures outgoing requests and replays a scripted response
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

func newAdapter(client *fakeHTTPClient) *paystack.Adapter {
	config := paystack.DefaultConfig("sk_test_secret")
	config.Timeout = time.Second
	return paystack.NewAdapter(config, client, security.NewZapLogger(zap.NewNop()))
}

func sign(secret string, payload []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestInitializePaymentSendsKoboAmount(t *testing.T) {
	client := &fakeHTTPClient{
		status: http.StatusOK,
		response: `{"status":true,"message":"Authorization URL created","data":{
			"authorization_url":"https://checkout.paystack.com/abc",
			"access_code":"ac_123","reference":"PAY-1"}}`,
	}
	adapter := newAdapter(client)

	result, err := adapter.InitializePayment(context.Background(), &ports.InitializeRequest{
		Reference:  "PAY-1",
		Amount:     decimal.NewFromInt(5000),
		Currency:   "NGN",
		PayerEmail: "customer@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "ac_123", result.ExternalReference)
	assert.Equal(t, "https://checkout.paystack.com/abc", result.RedirectURL)

	var sent map[string]any
	require.NoError(t, json.Unmarshal(client.lastBody, &sent))
	assert.Equal(t, float64(500000), sent["amount"])
	assert.Equal(t, "Bearer sk_test_secret", client.lastRequest.Header.Get("Authorization"))
	assert.Equal(t, "https://api.paystack.co/transaction/initialize", client.lastRequest.URL.String())
}

func TestInitializePaymentGatewayRejection(t *testing.T) {
	client := &fakeHTTPClient{status: http.StatusBadRequest, response: `{"status":false}`}
	adapter := newAdapter(client)

	_, err := adapter.InitializePayment(context.Background(), &ports.InitializeRequest{
		Reference: "PAY-1",
		Amount:    decimal.NewFromInt(100),
		Currency:  "NGN",
	})
	require.Error(t, err)
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeGatewayDeclined))
}

func TestInitializePaymentServerError(t *testing.T) {
	client := &fakeHTTPClient{status: http.StatusBadGateway, response: `oops`}
	adapter := newAdapter(client)

	_, err := adapter.InitializePayment(context.Background(), &ports.InitializeRequest{
		Reference: "PAY-1",
		Amount:    decimal.NewFromInt(100),
		Currency:  "NGN",
	})
	require.Error(t, err)
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeGatewayError))
}

// seqHTTPClient replays a scripted sequence of outcomes, one per call
type seqHTTPClient struct {
	steps []func() (*http.Response, error)
	calls int
}

func (s *seqHTTPClient) Do(req *http.Request) (*http.Response, error) {
	step := s.steps[s.calls]
	s.calls++
	if req.Body != nil {
		io.ReadAll(req.Body)
	}
	return step()
}

func okResponse(body string) func() (*http.Response, error) {
	return func() (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(bytes.NewReader([]byte(body))),
			Header:     make(http.Header),
		}, nil
	}
}

func transportError(msg string) func() (*http.Response, error) {
	return func() (*http.Response, error) { return nil, errors.New(msg) }
}

func TestInitializePaymentRetriesTransientNetworkError(t *testing.T) {
	client := &seqHTTPClient{steps: []func() (*http.Response, error){
		transportError("read tcp 10.0.0.1:443: connection reset by peer"),
		okResponse(`{"status":true,"message":"ok","data":{
			"authorization_url":"https://checkout.paystack.com/abc",
			"access_code":"ac_retry","reference":"PAY-1"}}`),
	}}
	config := paystack.DefaultConfig("sk_test_secret")
	config.MaxRetries = 1
	adapter := paystack.NewAdapter(config, client, security.NewZapLogger(zap.NewNop()))

	result, err := adapter.InitializePayment(context.Background(), &ports.InitializeRequest{
		Reference: "PAY-1",
		Amount:    decimal.NewFromInt(100),
		Currency:  "NGN",
	})
	require.NoError(t, err)
	assert.Equal(t, "ac_retry", result.ExternalReference)
	assert.Equal(t, 2, client.calls)
}

func TestInitializePaymentExhaustedRetriesSurfaceError(t *testing.T) {
	client := &seqHTTPClient{steps: []func() (*http.Response, error){
		transportError("dial tcp: i/o timeout on connection"),
		transportError("dial tcp: i/o timeout on connection"),
	}}
	config := paystack.DefaultConfig("sk_test_secret")
	config.MaxRetries = 1
	adapter := paystack.NewAdapter(config, client, security.NewZapLogger(zap.NewNop()))

	_, err := adapter.InitializePayment(context.Background(), &ports.InitializeRequest{
		Reference: "PAY-1",
		Amount:    decimal.NewFromInt(100),
		Currency:  "NGN",
	})
	require.Error(t, err)
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeGatewayError))
	assert.Equal(t, 2, client.calls)
}

func TestInitializePaymentNonTransientErrorDoesNotRetry(t *testing.T) {
	client := &seqHTTPClient{steps: []func() (*http.Response, error){
		transportError("x509: certificate signed by unknown authority"),
	}}
	config := paystack.DefaultConfig("sk_test_secret")
	adapter := paystack.NewAdapter(config, client, security.NewZapLogger(zap.NewNop()))

	_, err := adapter.InitializePayment(context.Background(), &ports.InitializeRequest{
		Reference: "PAY-1",
		Amount:    decimal.NewFromInt(100),
		Currency:  "NGN",
	})
	require.Error(t, err)
	assert.Equal(t, 1, client.calls)
}

func TestVerifyPaymentMapsStatusAndAmount(t *testing.T) {
	client := &fakeHTTPClient{
		status: http.StatusOK,
		response: `{"status":true,"message":"Verification successful","data":{
			"id":4099260516,"status":"success","reference":"PAY-1","amount":500000,"currency":"NGN"}}`,
	}
	adapter := newAdapter(client)

	result, err := adapter.VerifyPayment(context.Background(), "PAY-1")
	require.NoError(t, err)
	assert.Equal(t, ports.GatewayCompleted, result.Status)
	assert.Equal(t, "4099260516", result.ExternalReference)
	assert.True(t, result.Amount.Equal(decimal.NewFromInt(5000)))
	assert.Equal(t, "https://api.paystack.co/transaction/verify/PAY-1", client.lastRequest.URL.String())
}

func TestVerifyPaymentAbandonedIsCancelled(t *testing.T) {
	client := &fakeHTTPClient{
		status:   http.StatusOK,
		response: `{"status":true,"data":{"id":1,"status":"abandoned","reference":"PAY-1","amount":100}}`,
	}
	adapter := newAdapter(client)

	result, err := adapter.VerifyPayment(context.Background(), "PAY-1")
	require.NoError(t, err)
	assert.Equal(t, ports.GatewayCancelled, result.Status)
}

func TestRefundPaymentSendsPartialAmount(t *testing.T) {
	client := &fakeHTTPClient{
		status:   http.StatusOK,
		response: `{"status":true,"data":{"id":3018284,"status":"pending"}}`,
	}
	adapter := newAdapter(client)

	amount := decimal.NewFromInt(1000)
	result, err := adapter.RefundPayment(context.Background(), "ps-123", &amount, "customer request")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "3018284", result.RefundReference)

	var sent map[string]any
	require.NoError(t, json.Unmarshal(client.lastBody, &sent))
	assert.Equal(t, float64(100000), sent["amount"])
	assert.Equal(t, "ps-123", sent["transaction"])
}

func TestProcessWebhookValidSignature(t *testing.T) {
	adapter := newAdapter(&fakeHTTPClient{})
	payload := []byte(`{"event":"charge.success","data":{"id":302961,"status":"success","reference":"PAY-1","amount":500000,"currency":"NGN"}}`)

	result, err := adapter.ProcessWebhook(context.Background(), payload, sign("sk_test_secret", payload))
	require.NoError(t, err)
	assert.Equal(t, ports.GatewayCompleted, result.Status)
	assert.Equal(t, "PAY-1", result.Reference)
	assert.Equal(t, "302961", result.ExternalReference)
	assert.True(t, result.Amount.Equal(decimal.NewFromInt(5000)))
	assert.False(t, result.Unhandled)
}

func TestProcessWebhookBadSignature(t *testing.T) {
	adapter := newAdapter(&fakeHTTPClient{})
	payload := []byte(`{"event":"charge.success","data":{"reference":"PAY-1"}}`)

	_, err := adapter.ProcessWebhook(context.Background(), payload, sign("wrong_secret", payload))
	require.Error(t, err)
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeWebhookBadSignature))
}

func TestProcessWebhookTamperedPayload(t *testing.T) {
	adapter := newAdapter(&fakeHTTPClient{})
	payload := []byte(`{"event":"charge.success","data":{"reference":"PAY-1","amount":500000}}`)
	signature := sign("sk_test_secret", payload)
	tampered := []byte(`{"event":"charge.success","data":{"reference":"PAY-1","amount":900000}}`)

	_, err := adapter.ProcessWebhook(context.Background(), tampered, signature)
	require.Error(t, err)
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeWebhookBadSignature))
}

func TestProcessWebhookChargeFailed(t *testing.T) {
	adapter := newAdapter(&fakeHTTPClient{})
	payload := []byte(`{"event":"charge.failed","data":{"id":1,"status":"failed","reference":"PAY-1","amount":500000}}`)

	result, err := adapter.ProcessWebhook(context.Background(), payload, sign("sk_test_secret", payload))
	require.NoError(t, err)
	assert.Equal(t, ports.GatewayFailed, result.Status)
}

func TestProcessWebhookUnhandledEventAcknowledged(t *testing.T) {
	adapter := newAdapter(&fakeHTTPClient{})
	payload := []byte(`{"event":"transfer.success","data":{"id":1,"reference":"TRF-1"}}`)

	result, err := adapter.ProcessWebhook(context.Background(), payload, sign("sk_test_secret", payload))
	require.NoError(t, err)
	assert.True(t, result.Unhandled)
}

func TestProviderIdentity(t *testing.T) {
	adapter := newAdapter(&fakeHTTPClient{})
	assert.Equal(t, models.ProviderPaystack, adapter.Provider())
}
