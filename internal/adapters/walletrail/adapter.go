package walletrail

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sokomarket/payment-service/internal/domain"
	"github.com/sokomarket/payment-service/internal/domain/models"
	"github.com/sokomarket/payment-service/internal/domain/ports"
)

// Adapter implements the GatewayAdapter interface for the internal wallet
// rail. There is no external call and no redirect: initialization only
// validates the request, and the orchestrator debits the payer's wallet in
// the same transaction that completes the payment, so the debit and the
// completion can never be observed apart.
type Adapter struct {
	logger ports.Logger
}

// NewAdapter creates a new wallet rail adapter
func NewAdapter(logger ports.Logger) *Adapter {
	return &Adapter{logger: logger}
}

// Provider implements GatewayAdapter.Provider
func (a *Adapter) Provider() models.Provider {
	return models.ProviderWallet
}

// InitializePayment implements GatewayAdapter.InitializePayment.
// The payer's wallet id travels in the request metadata under "customer_id".
func (a *Adapter) InitializePayment(ctx context.Context, req *ports.InitializeRequest) (*ports.InitializeResult, error) {
	customerID, err := uuid.Parse(req.Metadata["customer_id"])
	if err != nil {
		return nil, domain.NewDomainError(domain.ErrorCodeValidationMissingField, "wallet payments require a customer id").
			WithDetail("reference", req.Reference)
	}

	if a.logger != nil {
		a.logger.Info("accepted wallet payment for settlement",
			ports.String("reference", req.Reference),
			ports.String("customer_id", customerID.String()),
			ports.String("amount", req.Amount.String()),
		)
	}

	return &ports.InitializeResult{
		Success:           true,
		ExternalReference: req.Reference,
	}, nil
}

// VerifyPayment implements GatewayAdapter.VerifyPayment.
// The rail has no pending state of its own, so verification always reports
// completed and the orchestrator settles anything still open.
func (a *Adapter) VerifyPayment(ctx context.Context, reference string) (*ports.VerifyResult, error) {
	return &ports.VerifyResult{
		Status:            ports.GatewayCompleted,
		ExternalReference: reference,
	}, nil
}

// RefundPayment implements GatewayAdapter.RefundPayment.
// Wallet refunds post reversal entries straight onto the ledger, so the
// orchestrator never routes them through the rail.
func (a *Adapter) RefundPayment(ctx context.Context, reference string, amount *decimal.Decimal, reason string) (*ports.RefundResult, error) {
	return nil, domain.NewDomainError(domain.ErrorCodeGatewayError, "wallet refunds are handled by the ledger, not the rail")
}

// ProcessWebhook implements GatewayAdapter.ProcessWebhook.
// The internal rail emits no webhooks.
func (a *Adapter) ProcessWebhook(ctx context.Context, payload []byte, signature string) (*ports.WebhookResult, error) {
	return nil, domain.ErrUnhandledEvent
}
