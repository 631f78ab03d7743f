package monnify_test

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sokomarket/payment-service/internal/adapters/monnify"
	"github.com/sokomarket/payment-service/internal/domain"
	"github.com/sokomarket/payment-service/internal/domain/ports"
	"github.com/sokomarket/payment-service/pkg/security"
)

type scriptedResponse struct {
	status int
	body   string
}

// fakeHTTPClient replays queued responses in order and records every request,
// which lets tests script the login handshake followed by the API call.
type fakeHTTPClient struct {
	requests  []*http.Request
	bodies    [][]byte
	responses []scriptedResponse
}

func (f *fakeHTTPClient) Do(req *http.Request) (*http.Response, error) {
	f.requests = append(f.requests, req)
	var body []byte
	if req.Body != nil {
		body, _ = io.ReadAll(req.Body)
	}
	f.bodies = append(f.bodies, body)

	next := f.responses[0]
	if len(f.responses) > 1 {
		f.responses = f.responses[1:]
	}
	return &http.Response{
		StatusCode: next.status,
		Body:       io.NopCloser(bytes.NewReader([]byte(next.body))),
		Header:     make(http.Header),
	}, nil
}

const loginResponse = `{"requestSuccessful":true,"responseMessage":"success","responseCode":"0",
	"responseBody":{"accessToken":"eyJmonnify","expiresIn":3567}}`

func newAdapter(client *fakeHTTPClient) *monnify.Adapter {
	config := monnify.DefaultConfig("MK_TEST_key", "monnify_secret", "100693167467")
	config.Timeout = time.Second
	return monnify.NewAdapter(config, client, security.NewZapLogger(zap.NewNop()))
}

func sign(secret string, payload []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestInitializePaymentLogsInFirst(t *testing.T) {
	client := &fakeHTTPClient{responses: []scriptedResponse{
		{http.StatusOK, loginResponse},
		{http.StatusOK, `{"requestSuccessful":true,"responseCode":"0","responseBody":{
			"transactionReference":"MNFY|1234","paymentReference":"PAY-1",
			"checkoutUrl":"https://sandbox.sdk.monnify.com/checkout/MNFY|1234"}}`},
	}}
	adapter := newAdapter(client)

	result, err := adapter.InitializePayment(context.Background(), &ports.InitializeRequest{
		Reference:  "PAY-1",
		Amount:     decimal.NewFromInt(5000),
		Currency:   "NGN",
		PayerEmail: "customer@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "MNFY|1234", result.ExternalReference)
	assert.Equal(t, "https://sandbox.sdk.monnify.com/checkout/MNFY|1234", result.RedirectURL)

	require.Len(t, client.requests, 2)
	login := client.requests[0]
	assert.Contains(t, login.URL.String(), "/api/v1/auth/login")
	assert.Contains(t, login.Header.Get("Authorization"), "Basic ")

	apiCall := client.requests[1]
	assert.Equal(t, "Bearer eyJmonnify", apiCall.Header.Get("Authorization"))

	var sent map[string]any
	require.NoError(t, json.Unmarshal(client.bodies[1], &sent))
	assert.Equal(t, "100693167467", sent["contractCode"])
	assert.Equal(t, "PAY-1", sent["paymentReference"])
}

func TestInitializePaymentReusesCachedToken(t *testing.T) {
	initBody := `{"requestSuccessful":true,"responseCode":"0","responseBody":{
		"transactionReference":"MNFY|1","paymentReference":"PAY-1","checkoutUrl":"https://x"}}`
	client := &fakeHTTPClient{responses: []scriptedResponse{
		{http.StatusOK, loginResponse},
		{http.StatusOK, initBody},
		{http.StatusOK, initBody},
	}}
	adapter := newAdapter(client)

	req := &ports.InitializeRequest{Reference: "PAY-1", Amount: decimal.NewFromInt(100), Currency: "NGN"}
	_, err := adapter.InitializePayment(context.Background(), req)
	require.NoError(t, err)
	_, err = adapter.InitializePayment(context.Background(), req)
	require.NoError(t, err)

	// One login serves both API calls
	require.Len(t, client.requests, 3)
	assert.Contains(t, client.requests[0].URL.String(), "/api/v1/auth/login")
	assert.NotContains(t, client.requests[2].URL.String(), "/api/v1/auth/login")
}

func TestInitializePaymentEnvelopeFailure(t *testing.T) {
	client := &fakeHTTPClient{responses: []scriptedResponse{
		{http.StatusOK, loginResponse},
		{http.StatusOK, `{"requestSuccessful":false,"responseMessage":"invalid contract code","responseCode":"99"}`},
	}}
	adapter := newAdapter(client)

	_, err := adapter.InitializePayment(context.Background(), &ports.InitializeRequest{
		Reference: "PAY-1", Amount: decimal.NewFromInt(100), Currency: "NGN",
	})
	require.Error(t, err)
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeGatewayError))
}

func TestVerifyPaymentMapsPaidStatus(t *testing.T) {
	client := &fakeHTTPClient{responses: []scriptedResponse{
		{http.StatusOK, loginResponse},
		{http.StatusOK, `{"requestSuccessful":true,"responseCode":"0","responseBody":{
			"transactionReference":"MNFY|1234","paymentReference":"PAY-1",
			"amountPaid":5000,"paymentStatus":"PAID"}}`},
	}}
	adapter := newAdapter(client)

	result, err := adapter.VerifyPayment(context.Background(), "MNFY|1234")
	require.NoError(t, err)
	assert.Equal(t, ports.GatewayCompleted, result.Status)
	assert.Equal(t, "MNFY|1234", result.ExternalReference)
	assert.True(t, result.Amount.Equal(decimal.NewFromInt(5000)))
}

func TestVerifyPaymentExpiredIsCancelled(t *testing.T) {
	client := &fakeHTTPClient{responses: []scriptedResponse{
		{http.StatusOK, loginResponse},
		{http.StatusOK, `{"requestSuccessful":true,"responseCode":"0","responseBody":{
			"transactionReference":"MNFY|1234","paymentStatus":"EXPIRED"}}`},
	}}
	adapter := newAdapter(client)

	result, err := adapter.VerifyPayment(context.Background(), "MNFY|1234")
	require.NoError(t, err)
	assert.Equal(t, ports.GatewayCancelled, result.Status)
}

func TestRefundPaymentRequiresAmount(t *testing.T) {
	adapter := newAdapter(&fakeHTTPClient{responses: []scriptedResponse{{http.StatusOK, loginResponse}}})

	_, err := adapter.RefundPayment(context.Background(), "MNFY|1234", nil, "reason")
	require.Error(t, err)
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeValidationFailed))
}

func TestRefundPaymentInitiatesRefund(t *testing.T) {
	client := &fakeHTTPClient{responses: []scriptedResponse{
		{http.StatusOK, loginResponse},
		{http.StatusOK, `{"requestSuccessful":true,"responseCode":"0","responseBody":{
			"refundReference":"RF-MNFY|1234","refundStatus":"IN_PROGRESS"}}`},
	}}
	adapter := newAdapter(client)

	amount := decimal.NewFromInt(1000)
	result, err := adapter.RefundPayment(context.Background(), "MNFY|1234", &amount, "customer request")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "RF-MNFY|1234", result.RefundReference)
}

func TestProcessWebhookSuccessfulTransaction(t *testing.T) {
	adapter := newAdapter(&fakeHTTPClient{})
	payload := []byte(`{"eventType":"SUCCESSFUL_TRANSACTION","eventData":{
		"paymentReference":"PAY-1","transactionReference":"MNFY|1234","amountPaid":5000,"paymentStatus":"PAID"}}`)

	result, err := adapter.ProcessWebhook(context.Background(), payload, sign("monnify_secret", payload))
	require.NoError(t, err)
	assert.Equal(t, ports.GatewayCompleted, result.Status)
	assert.Equal(t, "PAY-1", result.Reference)
	assert.Equal(t, "MNFY|1234", result.ExternalReference)
}

func TestProcessWebhookFailedTransaction(t *testing.T) {
	adapter := newAdapter(&fakeHTTPClient{})
	payload := []byte(`{"eventType":"FAILED_TRANSACTION","eventData":{
		"paymentReference":"PAY-1","transactionReference":"MNFY|1234","paymentStatus":"FAILED"}}`)

	result, err := adapter.ProcessWebhook(context.Background(), payload, sign("monnify_secret", payload))
	require.NoError(t, err)
	assert.Equal(t, ports.GatewayFailed, result.Status)
}

func TestProcessWebhookBadSignature(t *testing.T) {
	adapter := newAdapter(&fakeHTTPClient{})
	payload := []byte(`{"eventType":"SUCCESSFUL_TRANSACTION"}`)

	_, err := adapter.ProcessWebhook(context.Background(), payload, "deadbeef")
	require.Error(t, err)
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeWebhookBadSignature))
}

func TestProcessWebhookDisbursementUnhandled(t *testing.T) {
	adapter := newAdapter(&fakeHTTPClient{})
	payload := []byte(`{"eventType":"SUCCESSFUL_DISBURSEMENT","eventData":{"paymentReference":"DISB-1"}}`)

	result, err := adapter.ProcessWebhook(context.Background(), payload, sign("monnify_secret", payload))
	require.NoError(t, err)
	assert.True(t, result.Unhandled)
}
