package flutterwave

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
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

// Config holds Flutterwave API configuration.
// WebhookHash is the secret hash configured on the Flutterwave dashboard;
// it arrives verbatim in the verif-hash header of every webhook.
type Config struct {
	BaseURL     string
	SecretKey   string
	WebhookHash string
	RedirectURL string
	Timeout     time.Duration
	MaxRetries  int
}

// DefaultConfig returns the standard Flutterwave v3 API configuration
func DefaultConfig(secretKey, webhookHash string) Config {
	return Config{
		BaseURL:     "https://api.flutterwave.com/v3",
		SecretKey:   secretKey,
		WebhookHash: webhookHash,
		Timeout:     30 * time.Second,
		MaxRetries:  3,
	}
}

// Adapter implements the GatewayAdapter interface for Flutterwave
type Adapter struct {
	config     Config
	httpClient ports.HTTPClient
	breaker    *resilience.CircuitBreaker
	backoff    resilience.BackoffStrategy
	logger     ports.Logger
}

// NewAdapter creates a new Flutterwave adapter with dependency injection
func NewAdapter(config Config, httpClient ports.HTTPClient, logger ports.Logger) *Adapter {
	return &Adapter{
		config:     config,
		httpClient: httpClient,
		breaker:    resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig()),
		backoff:    resilience.DefaultExponentialBackoff(),
		logger:     logger,
	}
}

// NewAdapterWithDefaults creates a new Flutterwave adapter with a pooled HTTP client
func NewAdapterWithDefaults(config Config, logger ports.Logger) *Adapter {
	client := pkghttp.NewHTTPClient(pkghttp.GatewayClientConfig(), config.Timeout)
	return NewAdapter(config, client, logger)
}

// Provider implements GatewayAdapter.Provider
func (a *Adapter) Provider() models.Provider {
	return models.ProviderFlutterwave
}

type paymentRequest struct {
	TxRef       string            `json:"tx_ref"`
	Amount      string            `json:"amount"`
	Currency    string            `json:"currency"`
	RedirectURL string            `json:"redirect_url,omitempty"`
	Customer    customerInfo      `json:"customer"`
	Meta        map[string]string `json:"meta,omitempty"`
}

type customerInfo struct {
	Email string `json:"email"`
}

type paymentResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    struct {
		Link string `json:"link"`
	} `json:"data"`
}

// InitializePayment implements GatewayAdapter.InitializePayment
func (a *Adapter) InitializePayment(ctx context.Context, req *ports.InitializeRequest) (*ports.InitializeResult, error) {
	apiReq := paymentRequest{
		TxRef:       req.Reference,
		Amount:      req.Amount.String(),
		Currency:    req.Currency,
		RedirectURL: a.config.RedirectURL,
		Customer:    customerInfo{Email: req.PayerEmail},
		Meta:        req.Metadata,
	}

	var resp paymentResponse
	raw, err := a.makeRequest(ctx, http.MethodPost, "/payments", apiReq, &resp)
	if err != nil {
		return nil, err
	}

	if resp.Status != "success" {
		return nil, domain.NewDomainError(domain.ErrorCodeGatewayError, resp.Message).
			WithDetail("reference", req.Reference)
	}

	return &ports.InitializeResult{
		Success:     true,
		RedirectURL: resp.Data.Link,
		RawResponse: raw,
	}, nil
}

type transactionResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    struct {
		ID       int64           `json:"id"`
		TxRef    string          `json:"tx_ref"`
		Status   string          `json:"status"`
		Amount   decimal.Decimal `json:"amount"`
		Currency string          `json:"currency"`
	} `json:"data"`
}

// VerifyPayment implements GatewayAdapter.VerifyPayment
func (a *Adapter) VerifyPayment(ctx context.Context, reference string) (*ports.VerifyResult, error) {
	endpoint := "/transactions/verify_by_reference?tx_ref=" + url.QueryEscape(reference)

	var resp transactionResponse
	raw, err := a.makeRequest(ctx, http.MethodGet, endpoint, nil, &resp)
	if err != nil {
		return nil, err
	}

	if resp.Status != "success" {
		return nil, domain.NewDomainError(domain.ErrorCodeGatewayError, resp.Message).
			WithDetail("reference", reference)
	}

	return &ports.VerifyResult{
		Status:            mapStatus(resp.Data.Status),
		ExternalReference: strconv.FormatInt(resp.Data.ID, 10),
		Amount:            resp.Data.Amount,
		RawResponse:       raw,
	}, nil
}

type refundRequest struct {
	Amount   string `json:"amount,omitempty"`
	Comments string `json:"comments,omitempty"`
}

type refundResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    struct {
		ID     int64  `json:"id"`
		Status string `json:"status"`
	} `json:"data"`
}

// RefundPayment implements GatewayAdapter.RefundPayment
// The reference here is the numeric Flutterwave transaction id recorded at
// verification time, not our tx_ref.
func (a *Adapter) RefundPayment(ctx context.Context, reference string, amount *decimal.Decimal, reason string) (*ports.RefundResult, error) {
	endpoint := fmt.Sprintf("/transactions/%s/refund", url.PathEscape(reference))

	apiReq := refundRequest{Comments: reason}
	if amount != nil {
		apiReq.Amount = amount.String()
	}

	var resp refundResponse
	raw, err := a.makeRequest(ctx, http.MethodPost, endpoint, apiReq, &resp)
	if err != nil {
		return nil, err
	}

	if resp.Status != "success" {
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
		ID       int64           `json:"id"`
		TxRef    string          `json:"tx_ref"`
		Status   string          `json:"status"`
		Amount   decimal.Decimal `json:"amount"`
		Currency string          `json:"currency"`
	} `json:"data"`
}

// ProcessWebhook implements GatewayAdapter.ProcessWebhook
// Flutterwave does not sign the payload; it echoes the dashboard secret hash
// in the verif-hash header, so a constant-time compare is all we can do.
func (a *Adapter) ProcessWebhook(ctx context.Context, payload []byte, signature string) (*ports.WebhookResult, error) {
	if a.config.WebhookHash == "" ||
		subtle.ConstantTimeCompare([]byte(a.config.WebhookHash), []byte(signature)) != 1 {
		return nil, domain.ErrBadWebhookSignature
	}

	var event webhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, domain.WrapError(domain.ErrorCodeWebhookUnhandled, "malformed webhook payload", err)
	}

	result := &ports.WebhookResult{
		Success:           true,
		Reference:         event.Data.TxRef,
		ExternalReference: strconv.FormatInt(event.Data.ID, 10),
		Amount:            event.Data.Amount,
		RawResponse:       payload,
	}

	switch event.Event {
	case "charge.completed":
		result.Status = mapStatus(event.Data.Status)
	default:
		result.Unhandled = true
		if a.logger != nil {
			a.logger.Info("ignoring unhandled flutterwave event",
				ports.String("event", event.Event),
				ports.String("tx_ref", event.Data.TxRef),
			)
		}
	}

	return result, nil
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

	if a.logger != nil {
		a.logger.Info("making request to flutterwave",
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
					a.logger.Warn("retrying flutterwave request",
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
			return nil, domain.WrapError(domain.ErrorCodeGatewayTimeout, "flutterwave circuit open", err)
		}
		return nil, domain.WrapError(domain.ErrorCodeGatewayError, "failed to reach flutterwave", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if httpResp.StatusCode >= 500 {
		return nil, domain.NewDomainError(domain.ErrorCodeGatewayError, "flutterwave server error").
			WithDetail("status_code", httpResp.StatusCode)
	}
	if httpResp.StatusCode >= 400 {
		return nil, domain.NewDomainError(domain.ErrorCodeGatewayDeclined, "flutterwave rejected request").
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

// mapStatus translates Flutterwave transaction statuses into gateway statuses
func mapStatus(status string) ports.GatewayStatus {
	switch status {
	case "successful":
		return ports.GatewayCompleted
	case "failed":
		return ports.GatewayFailed
	case "cancelled":
		return ports.GatewayCancelled
	default:
		return ports.GatewayPending
	}
}
