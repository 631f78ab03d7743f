package paystack

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sokomarket/payment-service/internal/domain"
	"github.com/sokomarket/payment-service/internal/domain/models"
	"github.com/sokomarket/payment-service/internal/domain/ports"
	pkghttp "github.com/sokomarket/payment-service/pkg/http"
	"github.com/sokomarket/payment-service/pkg/resilience"
)

// Config holds Paystack API configuration
type Config struct {
	BaseURL    string
	SecretKey  string
	Timeout    time.Duration
	MaxRetries int
}

// DefaultConfig returns the standard Paystack API configuration
func DefaultConfig(secretKey string) Config {
	return Config{
		BaseURL:    "https://api.paystack.co",
		SecretKey:  secretKey,
		Timeout:    30 * time.Second,
		MaxRetries: 3,
	}
}

// Adapter implements the GatewayAdapter interface for the Paystack API
type Adapter struct {
	config     Config
	httpClient ports.HTTPClient
	breaker    *resilience.CircuitBreaker
	backoff    resilience.BackoffStrategy
	logger     ports.Logger
}

// NewAdapter creates a new Paystack adapter with dependency injection
func NewAdapter(config Config, httpClient ports.HTTPClient, logger ports.Logger) *Adapter {
	return &Adapter{
		config:     config,
		httpClient: httpClient,
		breaker:    resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig()),
		backoff:    resilience.DefaultExponentialBackoff(),
		logger:     logger,
	}
}

// NewAdapterWithDefaults creates a new Paystack adapter with a pooled HTTP client
func NewAdapterWithDefaults(config Config, logger ports.Logger) *Adapter {
	client := pkghttp.NewHTTPClient(pkghttp.GatewayClientConfig(), config.Timeout)
	return NewAdapter(config, client, logger)
}

// Provider implements GatewayAdapter.Provider
func (a *Adapter) Provider() models.Provider {
	return models.ProviderPaystack
}

type initializeRequest struct {
	Email     string            `json:"email"`
	Amount    int64             `json:"amount"` // kobo
	Currency  string            `json:"currency"`
	Reference string            `json:"reference"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type initializeResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		AuthorizationURL string `json:"authorization_url"`
		AccessCode       string `json:"access_code"`
		Reference        string `json:"reference"`
	} `json:"data"`
}

// InitializePayment implements GatewayAdapter.InitializePayment
func (a *Adapter) InitializePayment(ctx context.Context, req *ports.InitializeRequest) (*ports.InitializeResult, error) {
	apiReq := initializeRequest{
		Email:     req.PayerEmail,
		Amount:    toMinorUnits(req.Amount),
		Currency:  req.Currency,
		Reference: req.Reference,
		Metadata:  req.Metadata,
	}

	var resp initializeResponse
	raw, err := a.makeRequest(ctx, http.MethodPost, "/transaction/initialize", apiReq, &resp)
	if err != nil {
		return nil, err
	}

	if !resp.Status {
		return nil, domain.NewDomainError(domain.ErrorCodeGatewayError, resp.Message).
			WithDetail("reference", req.Reference)
	}

	return &ports.InitializeResult{
		Success:           true,
		ExternalReference: resp.Data.AccessCode,
		RedirectURL:       resp.Data.AuthorizationURL,
		RawResponse:       raw,
	}, nil
}

type verifyResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		ID        int64  `json:"id"`
		Status    string `json:"status"`
		Reference string `json:"reference"`
		Amount    int64  `json:"amount"`
		Currency  string `json:"currency"`
	} `json:"data"`
}

// VerifyPayment implements GatewayAdapter.VerifyPayment
func (a *Adapter) VerifyPayment(ctx context.Context, reference string) (*ports.VerifyResult, error) {
	endpoint := fmt.Sprintf("/transaction/verify/%s", reference)

	var resp verifyResponse
	raw, err := a.makeRequest(ctx, http.MethodGet, endpoint, nil, &resp)
	if err != nil {
		return nil, err
	}

	if !resp.Status {
		return nil, domain.NewDomainError(domain.ErrorCodeGatewayError, resp.Message).
			WithDetail("reference", reference)
	}

	return &ports.VerifyResult{
		Status:            mapStatus(resp.Data.Status),
		ExternalReference: strconv.FormatInt(resp.Data.ID, 10),
		Amount:            fromMinorUnits(resp.Data.Amount),
		RawResponse:       raw,
	}, nil
}

type refundRequest struct {
	Transaction  string `json:"transaction"`
	Amount       int64  `json:"amount,omitempty"` // kobo, full refund when omitted
	MerchantNote string `json:"merchant_note,omitempty"`
}

type refundResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		ID     int64  `json:"id"`
		Status string `json:"status"`
	} `json:"data"`
}

// RefundPayment implements GatewayAdapter.RefundPayment
func (a *Adapter) RefundPayment(ctx context.Context, reference string, amount *decimal.Decimal, reason string) (*ports.RefundResult, error) {
	apiReq := refundRequest{
		Transaction:  reference,
		MerchantNote: reason,
	}
	if amount != nil {
		apiReq.Amount = toMinorUnits(*amount)
	}

	var resp refundResponse
	raw, err := a.makeRequest(ctx, http.MethodPost, "/refund", apiReq, &resp)
	if err != nil {
		return nil, err
	}

	if !resp.Status {
		return nil, domain.NewDomainError(domain.ErrorCodeGatewayError, resp.Message).
			WithDetail("reference", reference)
	}

	return &ports.RefundResult{
		Success:         true,
		RefundReference: strconv.FormatInt(resp.Data.ID, 10),
		RawResponse:     raw,
	}, nil
}

type webhookEvent struct {
	Event string `json:"event"`
	Data  struct {
		ID        int64  `json:"id"`
		Status    string `json:"status"`
		Reference string `json:"reference"`
		Amount    int64  `json:"amount"`
		Currency  string `json:"currency"`
	} `json:"data"`
}

// ProcessWebhook implements GatewayAdapter.ProcessWebhook
// Paystack signs the raw body with HMAC-SHA512 in the X-Paystack-Signature header
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
		Reference:         event.Data.Reference,
		ExternalReference: strconv.FormatInt(event.Data.ID, 10),
		Amount:            fromMinorUnits(event.Data.Amount),
		RawResponse:       payload,
	}

	switch event.Event {
	case "charge.success":
		result.Status = ports.GatewayCompleted
	case "charge.failed":
		result.Status = ports.GatewayFailed
	default:
		// Acknowledge transfers, refunds and other events we do not act on
		result.Unhandled = true
		if a.logger != nil {
			a.logger.Info("ignoring unhandled paystack event",
				ports.String("event", event.Event),
				ports.String("reference", event.Data.Reference),
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

func (a *Adapter) makeRequest(ctx context.Context, method, endpoint string, request interface{}, response interface{}) ([]byte, error) {
	var payloadBytes []byte
	if request != nil {
		var err error
		payloadBytes, err = json.Marshal(request)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	url := a.config.BaseURL + endpoint

	if a.logger != nil {
		a.logger.Info("making request to paystack",
			ports.String("method", method),
			ports.String("endpoint", endpoint),
		)
	}

	var httpResp *http.Response
	err := a.breaker.Call(func() error {
		var lastErr error
		for attempt := 0; attempt <= a.config.MaxRetries; attempt++ {
			if attempt > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(a.backoff.NextDelay(attempt - 1)):
				}
				if a.logger != nil {
					a.logger.Warn("retrying paystack request",
						ports.String("endpoint", endpoint),
						ports.Int("attempt", attempt),
					)
				}
			}

			// The body reader is consumed on a failed attempt, so the
			// request is rebuilt rather than reused
			var reqBody io.Reader
			if payloadBytes != nil {
				reqBody = bytes.NewReader(payloadBytes)
			}
			httpReq, err := http.NewRequestWithContext(ctx, method, url, reqBody)
			if err != nil {
				return fmt.Errorf("failed to create request: %w", err)
			}
			httpReq.Header.Set("Authorization", "Bearer "+a.config.SecretKey)
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
			return nil, domain.WrapError(domain.ErrorCodeGatewayTimeout, "paystack circuit open", err)
		}
		return nil, domain.WrapError(domain.ErrorCodeGatewayError, "failed to reach paystack", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if httpResp.StatusCode >= 500 {
		return nil, domain.NewDomainError(domain.ErrorCodeGatewayError, "paystack server error").
			WithDetail("status_code", httpResp.StatusCode)
	}
	if httpResp.StatusCode >= 400 {
		return nil, domain.NewDomainError(domain.ErrorCodeGatewayDeclined, "paystack rejected request").
			WithDetail("status_code", httpResp.StatusCode)
	}

	if err := json.Unmarshal(body, response); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
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

// mapStatus translates Paystack transaction statuses into gateway statuses
func mapStatus(status string) ports.GatewayStatus {
	switch status {
	case "success":
		return ports.GatewayCompleted
	case "failed", "reversed":
		return ports.GatewayFailed
	case "abandoned":
		return ports.GatewayCancelled
	default:
		return ports.GatewayPending
	}
}

// Paystack amounts are expressed in kobo (minor units)
func toMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

func fromMinorUnits(amount int64) decimal.Decimal {
	return decimal.NewFromInt(amount).Div(decimal.NewFromInt(100))
}
