package monnify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sokomarket/payment-service/internal/domain"
	"github.com/sokomarket/payment-service/internal/domain/models"
	"github.com/sokomarket/payment-service/internal/domain/ports"
	pkghttp "github.com/sokomarket/payment-service/pkg/http"
	"github.com/sokomarket/payment-service/pkg/resilience"
)

// Config holds Monnify API configuration
type Config struct {
	BaseURL      string
	APIKey       string
	SecretKey    string
	ContractCode string
	RedirectURL  string
	Timeout      time.Duration
	MaxRetries   int
}

// DefaultConfig returns the standard Monnify API configuration
func DefaultConfig(apiKey, secretKey, contractCode string) Config {
	return Config{
		BaseURL:      "https://api.monnify.com",
		APIKey:       apiKey,
		SecretKey:    secretKey,
		ContractCode: contractCode,
		Timeout:      30 * time.Second,
		MaxRetries:   3,
	}
}

// Adapter implements the GatewayAdapter interface for Monnify.
// Monnify uses short-lived OAuth tokens obtained with basic auth, so the
// adapter caches the token and refreshes it shortly before expiry.
type Adapter struct {
	config     Config
	httpClient ports.HTTPClient
	breaker    *resilience.CircuitBreaker
	backoff    resilience.BackoffStrategy
	logger     ports.Logger

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewAdapter creates a new Monnify adapter with dependency injection
func NewAdapter(config Config, httpClient ports.HTTPClient, logger ports.Logger) *Adapter {
	return &Adapter{
		config:     config,
		httpClient: httpClient,
		breaker:    resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig()),
		backoff:    resilience.DefaultExponentialBackoff(),
		logger:     logger,
	}
}

// NewAdapterWithDefaults creates a new Monnify adapter with a pooled HTTP client
func NewAdapterWithDefaults(config Config, logger ports.Logger) *Adapter {
	client := pkghttp.NewHTTPClient(pkghttp.GatewayClientConfig(), config.Timeout)
	return NewAdapter(config, client, logger)
}

// Provider implements GatewayAdapter.Provider
func (a *Adapter) Provider() models.Provider {
	return models.ProviderMonnify
}

type apiResponse struct {
	RequestSuccessful bool            `json:"requestSuccessful"`
	ResponseMessage   string          `json:"responseMessage"`
	ResponseCode      string          `json:"responseCode"`
	ResponseBody      json.RawMessage `json:"responseBody"`
}

type initTransactionRequest struct {
	Amount             decimal.Decimal `json:"amount"`
	CustomerEmail      string          `json:"customerEmail"`
	PaymentReference   string          `json:"paymentReference"`
	PaymentDescription string          `json:"paymentDescription"`
	CurrencyCode       string          `json:"currencyCode"`
	ContractCode       string          `json:"contractCode"`
	RedirectURL        string          `json:"redirectUrl,omitempty"`
}

type initTransactionBody struct {
	TransactionReference string `json:"transactionReference"`
	PaymentReference     string `json:"paymentReference"`
	CheckoutURL          string `json:"checkoutUrl"`
}

// InitializePayment implements GatewayAdapter.InitializePayment
func (a *Adapter) InitializePayment(ctx context.Context, req *ports.InitializeRequest) (*ports.InitializeResult, error) {
	apiReq := initTransactionRequest{
		Amount:             req.Amount,
		CustomerEmail:      req.PayerEmail,
		PaymentReference:   req.Reference,
		PaymentDescription: req.Metadata["description"],
		CurrencyCode:       req.Currency,
		ContractCode:       a.config.ContractCode,
		RedirectURL:        a.config.RedirectURL,
	}

	var body initTransactionBody
	raw, err := a.makeRequest(ctx, http.MethodPost, "/api/v1/merchant/transactions/init-transaction", apiReq, &body)
	if err != nil {
		return nil, err
	}

	return &ports.InitializeResult{
		Success:           true,
		ExternalReference: body.TransactionReference,
		RedirectURL:       body.CheckoutURL,
		RawResponse:       raw,
	}, nil
}

type transactionStatusBody struct {
	TransactionReference string          `json:"transactionReference"`
	PaymentReference     string          `json:"paymentReference"`
	AmountPaid           decimal.Decimal `json:"amountPaid"`
	PaymentStatus        string          `json:"paymentStatus"`
}

// VerifyPayment implements GatewayAdapter.VerifyPayment
// The reference is the Monnify transaction reference returned at initialization
func (a *Adapter) VerifyPayment(ctx context.Context, reference string) (*ports.VerifyResult, error) {
	endpoint := "/api/v2/transactions/" + url.PathEscape(reference)

	var body transactionStatusBody
	raw, err := a.makeRequest(ctx, http.MethodGet, endpoint, nil, &body)
	if err != nil {
		return nil, err
	}

	return &ports.VerifyResult{
		Status:            mapStatus(body.PaymentStatus),
		ExternalReference: body.TransactionReference,
		Amount:            body.AmountPaid,
		RawResponse:       raw,
	}, nil
}

type refundRequest struct {
	TransactionReference string          `json:"transactionReference"`
	RefundReference      string          `json:"refundReference"`
	RefundAmount         decimal.Decimal `json:"refundAmount"`
	RefundReason         string          `json:"refundReason"`
}

type refundBody struct {
	RefundReference string `json:"refundReference"`
	RefundStatus    string `json:"refundStatus"`
}

// RefundPayment implements GatewayAdapter.RefundPayment
// Monnify requires an explicit refund amount, so a nil amount is rejected
// upstream before the orchestrator calls this with the remaining balance.
func (a *Adapter) RefundPayment(ctx context.Context, reference string, amount *decimal.Decimal, reason string) (*ports.RefundResult, error) {
	if amount == nil {
		return nil, domain.NewDomainError(domain.ErrorCodeValidationFailed, "monnify refunds require an amount")
	}

	apiReq := refundRequest{
		TransactionReference: reference,
		RefundReference:      fmt.Sprintf("RF-%s-%d", reference, time.Now().Unix()),
		RefundAmount:         *amount,
		RefundReason:         reason,
	}

	var body refundBody
	raw, err := a.makeRequest(ctx, http.MethodPost, "/api/v1/refunds/initiate-refund", apiReq, &body)
	if err != nil {
		return nil, err
	}

	return &ports.RefundResult{
		Success:         true,
		RefundReference: body.RefundReference,
		RawResponse:     raw,
	}, nil
}

type webhookEvent struct {
	EventType string `json:"eventType"`
	EventData struct {
		PaymentReference     string          `json:"paymentReference"`
		TransactionReference string          `json:"transactionReference"`
		AmountPaid           decimal.Decimal `json:"amountPaid"`
		PaymentStatus        string          `json:"paymentStatus"`
	} `json:"eventData"`
}

// ProcessWebhook implements GatewayAdapter.ProcessWebhook
// Monnify signs the raw body with HMAC-SHA512 in the monnify-signature header
func (a *Adapter) ProcessWebhook(ctx context.Context, payload []byte, signature string) (*ports.WebhookResult, error) {
	if !a.verifySignature(payload, signature) {
		return nil, domain.ErrBadWebhookSignature
	}

	var event webhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, domain.WrapError(domain.ErrorCodeWebhookUnhandled, "malformed webhook payload", err)
	}

	result := &ports.WebhookResult{
		Success:           true,
		Reference:         event.EventData.PaymentReference,
		ExternalReference: event.EventData.TransactionReference,
		Amount:            event.EventData.AmountPaid,
		RawResponse:       payload,
	}

	switch event.EventType {
	case "SUCCESSFUL_TRANSACTION":
		result.Status = ports.GatewayCompleted
	case "FAILED_TRANSACTION":
		result.Status = ports.GatewayFailed
	default:
		// Disbursement and settlement events are acknowledged but ignored
		result.Unhandled = true
		if a.logger != nil {
			a.logger.Info("ignoring unhandled monnify event",
				ports.String("event_type", event.EventType),
				ports.String("payment_reference", event.EventData.PaymentReference),
			)
		}
	}

	return result, nil
}

func (a *Adapter) verifySignature(payload []byte, signature string) bool {
	mac := hmac.New(sha512.New, []byte(a.config.SecretKey))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

type loginBody struct {
	AccessToken string `json:"accessToken"`
	ExpiresIn   int64  `json:"expiresIn"`
}

// getAccessToken returns a cached OAuth token, logging in again when the
// cached one is within a minute of expiring
func (a *Adapter) getAccessToken(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.accessToken != "" && time.Now().Before(a.tokenExpiry.Add(-time.Minute)) {
		return a.accessToken, nil
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.BaseURL+"/api/v1/auth/login", nil)
	if err != nil {
		return "", fmt.Errorf("failed to create login request: %w", err)
	}
	credentials := base64.StdEncoding.EncodeToString([]byte(a.config.APIKey + ":" + a.config.SecretKey))
	httpReq.Header.Set("Authorization", "Basic "+credentials)

	httpResp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return "", domain.WrapError(domain.ErrorCodeGatewayError, "failed to reach monnify", err)
	}
	defer httpResp.Body.Close()

	rawBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read login response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return "", domain.NewDomainError(domain.ErrorCodeGatewayError, "monnify login failed").
			WithDetail("status_code", httpResp.StatusCode)
	}

	var resp apiResponse
	if err := json.Unmarshal(rawBody, &resp); err != nil {
		return "", fmt.Errorf("failed to unmarshal login response: %w", err)
	}
	var body loginBody
	if err := json.Unmarshal(resp.ResponseBody, &body); err != nil {
		return "", fmt.Errorf("failed to unmarshal login body: %w", err)
	}

	a.accessToken = body.AccessToken
	a.tokenExpiry = time.Now().Add(time.Duration(body.ExpiresIn) * time.Second)
	return a.accessToken, nil
}

func (a *Adapter) makeRequest(ctx context.Context, method, endpoint string, request interface{}, responseBody interface{}) ([]byte, error) {
	token, err := a.getAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	var payloadBytes []byte
	if request != nil {
		payloadBytes, err = json.Marshal(request)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	if a.logger != nil {
		a.logger.Info("making request to monnify",
			ports.String("method", method),
			ports.String("endpoint", endpoint),
		)
	}

	var httpResp *http.Response
	err = a.breaker.Call(func() error {
		var lastErr error
		for attempt := 0; attempt <= a.config.MaxRetries; attempt++ {
			if attempt > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(a.backoff.NextDelay(attempt - 1)):
				}
				if a.logger != nil {
					a.logger.Warn("retrying monnify request",
						ports.String("endpoint", endpoint),
						ports.Int("attempt", attempt),
					)
				}
			}

			// Rebuild the request each attempt; the body reader does not
			// survive a failed send
			var reqBody io.Reader
			if payloadBytes != nil {
				reqBody = bytes.NewReader(payloadBytes)
			}
			httpReq, err := http.NewRequestWithContext(ctx, method, a.config.BaseURL+endpoint, reqBody)
			if err != nil {
				return fmt.Errorf("failed to create request: %w", err)
			}
			httpReq.Header.Set("Authorization", "Bearer "+token)
			httpReq.Header.Set("Content-Type", "application/json")

			resp, callErr := a.httpClient.Do(httpReq)
			if callErr != nil {
				lastErr = callErr
				if isRetryable(callErr) && attempt < a.config.MaxRetries {
					continue
				}
				return lastErr
			}
			httpResp = resp
			return nil
		}
		return lastErr
	})
	if err != nil {
		if err == resilience.ErrCircuitOpen || err == resilience.ErrTooManyRequests {
			return nil, domain.WrapError(domain.ErrorCodeGatewayTimeout, "monnify circuit open", err)
		}
		return nil, domain.WrapError(domain.ErrorCodeGatewayError, "failed to reach monnify", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if httpResp.StatusCode >= 500 {
		return nil, domain.NewDomainError(domain.ErrorCodeGatewayError, "monnify server error").
			WithDetail("status_code", httpResp.StatusCode)
	}
	if httpResp.StatusCode >= 400 {
		return nil, domain.NewDomainError(domain.ErrorCodeGatewayDeclined, "monnify rejected request").
			WithDetail("status_code", httpResp.StatusCode)
	}

	var resp apiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if !resp.RequestSuccessful {
		return nil, domain.NewDomainError(domain.ErrorCodeGatewayError, resp.ResponseMessage).
			WithDetail("response_code", resp.ResponseCode)
	}
	if responseBody != nil {
		if err := json.Unmarshal(resp.ResponseBody, responseBody); err != nil {
			return nil, fmt.Errorf("failed to unmarshal response body: %w", err)
		}
	}
	return body, nil
}

// isRetryable reports whether the error is a transient transport failure.
// Responses the gateway actually produced, 5xx included, never retry.
func isRetryable(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection") || strings.Contains(msg, "temporary")
}

// mapStatus translates Monnify payment statuses into gateway statuses
func mapStatus(status string) ports.GatewayStatus {
	switch status {
	case "PAID", "OVERPAID":
		return ports.GatewayCompleted
	case "FAILED":
		return ports.GatewayFailed
	case "CANCELLED", "EXPIRED":
		return ports.GatewayCancelled
	default:
		return ports.GatewayPending
	}
}
