package payment

import (
	"github.com/sokomarket/payment-service/internal/domain"
	"github.com/sokomarket/payment-service/internal/domain/models"
	"github.com/sokomarket/payment-service/internal/domain/ports"
)

// Registry holds the configured gateway adapters keyed by provider. The set
// is closed at construction time: resolving a method or provider outside it
// fails with ErrUnsupportedMethod rather than falling through.
type Registry struct {
	adapters map[models.Provider]ports.GatewayAdapter
}

// NewRegistry builds a registry from the given adapters
func NewRegistry(adapters ...ports.GatewayAdapter) *Registry {
	m := make(map[models.Provider]ports.GatewayAdapter, len(adapters))
	for _, adapter := range adapters {
		m[adapter.Provider()] = adapter
	}
	return &Registry{adapters: m}
}

// ForMethod resolves the adapter serving a payment method
func (r *Registry) ForMethod(method models.PaymentMethod) (ports.GatewayAdapter, error) {
	provider, ok := models.ProviderFor(method)
	if !ok {
		return nil, domain.NewDomainError(domain.ErrorCodePaymentMethodUnknown, "unsupported payment method").
			WithDetail("method", string(method))
	}
	return r.ForProvider(provider)
}

// ForProvider resolves the adapter for a provider, used on the webhook path
// where the provider arrives in the URL
func (r *Registry) ForProvider(provider models.Provider) (ports.GatewayAdapter, error) {
	adapter, ok := r.adapters[provider]
	if !ok {
		return nil, domain.NewDomainError(domain.ErrorCodePaymentMethodUnknown, "no adapter configured for provider").
			WithDetail("provider", string(provider))
	}
	return adapter, nil
}
