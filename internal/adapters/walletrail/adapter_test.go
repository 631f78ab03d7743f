package walletrail_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sokomarket/payment-service/internal/adapters/walletrail"
	"github.com/sokomarket/payment-service/internal/domain"
	"github.com/sokomarket/payment-service/internal/domain/models"
	"github.com/sokomarket/payment-service/internal/domain/ports"
	"github.com/sokomarket/payment-service/pkg/security"
)

func newAdapter() *walletrail.Adapter {
	return walletrail.NewAdapter(security.NewZapLogger(zap.NewNop()))
}

const customerID = "7f8c1b3a-9a41-4a57-b6e8-2f60f1b1c9d4"

func TestInitializePaymentAcceptsWithoutTouchingWallet(t *testing.T) {
	adapter := newAdapter()

	result, err := adapter.InitializePayment(context.Background(), &ports.InitializeRequest{
		Reference: "PAY-1",
		Amount:    decimal.NewFromInt(5000),
		Currency:  "NGN",
		Metadata:  map[string]string{"customer_id": customerID},
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "PAY-1", result.ExternalReference)
}

func TestInitializePaymentRequiresCustomerID(t *testing.T) {
	adapter := newAdapter()

	_, err := adapter.InitializePayment(context.Background(), &ports.InitializeRequest{
		Reference: "PAY-1",
		Amount:    decimal.NewFromInt(5000),
		Metadata:  map[string]string{"customer_id": "not-a-uuid"},
	})
	require.Error(t, err)
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeValidationMissingField))
}

func TestVerifyPaymentAlwaysCompleted(t *testing.T) {
	adapter := newAdapter()

	result, err := adapter.VerifyPayment(context.Background(), "PAY-1")
	require.NoError(t, err)
	assert.Equal(t, ports.GatewayCompleted, result.Status)
}

func TestRefundPaymentNotSupported(t *testing.T) {
	adapter := newAdapter()

	_, err := adapter.RefundPayment(context.Background(), "PAY-1", nil, "reason")
	require.Error(t, err)
}

func TestProcessWebhookAlwaysUnhandled(t *testing.T) {
	adapter := newAdapter()

	_, err := adapter.ProcessWebhook(context.Background(), nil, "")
	require.Error(t, err)
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeWebhookUnhandled))
}

func TestProviderIdentity(t *testing.T) {
	assert.Equal(t, models.ProviderWallet, newAdapter().Provider())
}
