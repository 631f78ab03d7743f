package webhook

import (
	"context"
	"encoding/json"

	"github.com/sokomarket/payment-service/internal/domain"
	"github.com/sokomarket/payment-service/internal/domain/models"
	"github.com/sokomarket/payment-service/internal/domain/ports"
	"github.com/sokomarket/payment-service/internal/services/payment"
	"github.com/sokomarket/payment-service/pkg/observability"
)

// Orchestrator is the slice of the payment service the reconciler applies
// gateway outcomes through
type Orchestrator interface {
	GetPaymentByReference(ctx context.Context, reference string) (*models.Payment, error)
	SettleOrderPayment(ctx context.Context, p *models.Payment, externalReference string, raw json.RawMessage) (bool, error)
	CompleteWalletFunding(ctx context.Context, p *models.Payment, externalReference string, raw json.RawMessage) (bool, error)
	ApplyGatewayFailure(ctx context.Context, p *models.Payment, reason string, raw json.RawMessage) error
}

// Service reconciles inbound gateway callbacks with internal state. The
// adapter authenticates and normalizes the payload; this service routes the
// outcome to the right payment flow and guarantees replay safety.
type Service struct {
	registry     *payment.Registry
	orchestrator Orchestrator
	logger       ports.Logger
}

// NewService creates a new webhook reconciler
func NewService(registry *payment.Registry, orchestrator Orchestrator, logger ports.Logger) *Service {
	return &Service{
		registry:     registry,
		orchestrator: orchestrator,
		logger:       logger,
	}
}

// Result reports what processing an event did. Applied is false both for
// unhandled event types and for replays whose effects were already applied.
type Result struct {
	Provider  models.Provider
	Reference string
	Applied   bool
	Unhandled bool
}

// Process authenticates and applies one gateway callback.
// Errors are classified for the transport layer: a bad signature is
// permanent (the gateway must not retry), an unknown reference is retryable
// (the callback may have outrun payment creation).
func (s *Service) Process(ctx context.Context, provider models.Provider, payload []byte, signature string) (*Result, error) {
	adapter, err := s.registry.ForProvider(provider)
	if err != nil {
		return nil, err
	}

	event, err := adapter.ProcessWebhook(ctx, payload, signature)
	if err != nil {
		if domain.IsDomainError(err, domain.ErrorCodeWebhookBadSignature) {
			observability.RecordWebhookEvent(string(provider), "bad_signature")
			s.logger.Warn("webhook signature rejected",
				ports.String("provider", string(provider)),
			)
		} else {
			observability.RecordWebhookEvent(string(provider), "error")
		}
		return nil, err
	}

	result := &Result{Provider: provider, Reference: event.Reference}

	if event.Unhandled {
		// Acknowledged but deliberately ignored; no state may change
		observability.RecordWebhookEvent(string(provider), "unhandled")
		result.Unhandled = true
		return result, nil
	}

	p, err := s.orchestrator.GetPaymentByReference(ctx, event.Reference)
	if err != nil {
		if domain.IsNotFoundError(err) {
			observability.RecordWebhookEvent(string(provider), "unknown_reference")
			s.logger.Warn("webhook for unknown reference",
				ports.String("provider", string(provider)),
				ports.String("reference", event.Reference),
			)
			return nil, domain.NewDomainError(domain.ErrorCodeWebhookUnknownRef, "webhook references an unknown payment").
				WithDetail("reference", event.Reference)
		}
		return nil, err
	}

	switch event.Status {
	case ports.GatewayCompleted:
		var applied bool
		if p.IsOrderPayment() {
			applied, err = s.orchestrator.SettleOrderPayment(ctx, p, event.ExternalReference, event.RawResponse)
		} else {
			applied, err = s.orchestrator.CompleteWalletFunding(ctx, p, event.ExternalReference, event.RawResponse)
		}
		if err != nil {
			observability.RecordWebhookEvent(string(provider), "error")
			return nil, err
		}
		result.Applied = applied
		if !applied {
			s.logger.Info("webhook replay ignored",
				ports.String("provider", string(provider)),
				ports.String("reference", event.Reference),
			)
		}

	case ports.GatewayFailed:
		if err := s.orchestrator.ApplyGatewayFailure(ctx, p, "gateway reported failure", event.RawResponse); err != nil {
			observability.RecordWebhookEvent(string(provider), "error")
			return nil, err
		}
		result.Applied = !p.Status.IsTerminal()

	case ports.GatewayCancelled:
		if err := s.orchestrator.ApplyGatewayFailure(ctx, p, "payment cancelled", event.RawResponse); err != nil {
			observability.RecordWebhookEvent(string(provider), "error")
			return nil, err
		}
		result.Applied = !p.Status.IsTerminal()

	case ports.GatewayPending:
		// Nothing to reconcile yet
	}

	observability.RecordWebhookEvent(string(provider), "processed")
	return result, nil
}
