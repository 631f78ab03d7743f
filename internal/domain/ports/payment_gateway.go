package ports

import (
	"context"
	"encoding/json"

	"github.com/shopspring/decimal"
	"github.com/sokomarket/payment-service/internal/domain/models"
)

// GatewayStatus is the internal four-value status vocabulary every adapter
// maps its provider's own vocabulary onto.
type GatewayStatus string

const (
	GatewayPending   GatewayStatus = "pending"
	GatewayCompleted GatewayStatus = "completed"
	GatewayFailed    GatewayStatus = "failed"
	GatewayCancelled GatewayStatus = "cancelled"
)

// InitializeRequest starts a payment on a gateway. Reference must be embedded
// in the metadata sent to the provider so webhooks can be correlated back.
type InitializeRequest struct {
	Amount     decimal.Decimal
	Currency   string
	Reference  string
	PayerEmail string
	Metadata   map[string]string
}

// InitializeResult is the outcome of payment initialization
type InitializeResult struct {
	Success           bool
	ExternalReference string
	RedirectURL       string
	RawResponse       json.RawMessage
}

// VerifyResult is the outcome of an explicit payment verification
type VerifyResult struct {
	Status            GatewayStatus
	ExternalReference string
	Amount            decimal.Decimal
	RawResponse       json.RawMessage
}

// RefundResult is the outcome of a refund request
type RefundResult struct {
	Success         bool
	RefundReference string
	RawResponse     json.RawMessage
}

// WebhookResult is the decoded, signature-verified content of a gateway
// callback. Unhandled is set for event types the adapter recognises as
// authentic but has no mapping for; such events must not be coerced into a
// failed status.
type WebhookResult struct {
	Success           bool
	Unhandled         bool
	Reference         string
	Status            GatewayStatus
	ExternalReference string
	Amount            decimal.Decimal
	RawResponse       json.RawMessage
}

// GatewayAdapter is the uniform contract every payment rail implements.
// Webhook payloads must be signature-verified before being trusted; a
// verification failure returns an error, never a silently ignored payload.
type GatewayAdapter interface {
	Provider() models.Provider

	InitializePayment(ctx context.Context, req *InitializeRequest) (*InitializeResult, error)

	VerifyPayment(ctx context.Context, reference string) (*VerifyResult, error)

	// RefundPayment supports partial refunds when amount is non-nil and less
	// than the original charge.
	RefundPayment(ctx context.Context, reference string, amount *decimal.Decimal, reason string) (*RefundResult, error)

	ProcessWebhook(ctx context.Context, payload []byte, signature string) (*WebhookResult, error)
}
