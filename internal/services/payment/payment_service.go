package payment

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/sokomarket/payment-service/internal/domain"
	"github.com/sokomarket/payment-service/internal/domain/models"
	"github.com/sokomarket/payment-service/internal/domain/ports"
	"github.com/sokomarket/payment-service/pkg/observability"
)

// Ledger is the slice of the wallet service the orchestrator moves money
// through. The Tx variants run inside the orchestrator's transaction so a
// payment completion and its wallet effects commit atomically.
type Ledger interface {
	CreditVendorForOrderTx(ctx context.Context, tx ports.DBTX, vendorID string, gross, commissionRate decimal.Decimal, referenceID string) (net, commission decimal.Decimal, err error)
	CreditTx(ctx context.Context, tx ports.DBTX, userID string, amount decimal.Decimal, txnType models.TransactionType, referenceID, description string) (*models.Transaction, error)
	DebitTx(ctx context.Context, tx ports.DBTX, userID string, amount decimal.Decimal, txnType models.TransactionType, referenceID, description string) (*models.Transaction, error)
}

// Service orchestrates payment intake: it selects the gateway adapter for a
// requested method, owns the payment record lifecycle, and delegates money
// movement to the wallet ledger once a payment completes.
type Service struct {
	db             ports.DBPort
	payments       ports.PaymentRepository
	ledger         Ledger
	registry       *Registry
	orders         ports.OrderCollaborator
	cart           ports.CartCollaborator
	notifier       ports.Notifier
	logger         ports.Logger
	commissionRate decimal.Decimal
}

// NewService creates a new payment orchestrator
func NewService(
	db ports.DBPort,
	payments ports.PaymentRepository,
	ledger Ledger,
	registry *Registry,
	orders ports.OrderCollaborator,
	cart ports.CartCollaborator,
	notifier ports.Notifier,
	logger ports.Logger,
	commissionRate decimal.Decimal,
) *Service {
	return &Service{
		db:             db,
		payments:       payments,
		ledger:         ledger,
		registry:       registry,
		orders:         orders,
		cart:           cart,
		notifier:       notifier,
		logger:         logger,
		commissionRate: commissionRate,
	}
}

// Registry exposes the adapter registry for the webhook reconciler
func (s *Service) Registry() *Registry {
	return s.registry
}

// ProcessPaymentRequest carries the client's intent to pay for an order
type ProcessPaymentRequest struct {
	OrderID    string
	CustomerID string
	Method     models.PaymentMethod
	PayerEmail string
	Metadata   map[string]string
}

// ProcessPaymentResult is returned to the caller. RedirectURL is empty for
// wallet payments, which settle synchronously.
type ProcessPaymentResult struct {
	Payment     *models.Payment
	RedirectURL string
}

// ProcessPayment creates a payment for the order and drives it through the
// selected gateway. An order can never hold two live payments: any existing
// payment that is not failed or cancelled blocks a new attempt.
func (s *Service) ProcessPayment(ctx context.Context, req *ProcessPaymentRequest) (*ProcessPaymentResult, error) {
	adapter, err := s.registry.ForMethod(req.Method)
	if err != nil {
		return nil, err
	}

	order, err := s.orders.FindByID(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if order.CustomerID != req.CustomerID {
		return nil, domain.NewDomainError(domain.ErrorCodeValidationFailed, "order does not belong to this customer").
			WithDetail("order_id", req.OrderID)
	}

	existing, err := s.payments.GetByOrderID(ctx, nil, req.OrderID)
	if err != nil && !domain.IsNotFoundError(err) {
		return nil, err
	}
	if existing != nil && existing.Status != models.PaymentFailed && existing.Status != models.PaymentCancelled {
		return nil, domain.NewDomainError(domain.ErrorCodePaymentDuplicate, "a payment already exists for this order").
			WithDetail("payment_id", existing.ID).
			WithDetail("status", string(existing.Status))
	}

	provider, _ := models.ProviderFor(req.Method)
	payment := &models.Payment{
		ID:         uuid.NewString(),
		Reference:  models.NewOrderReference(),
		OrderID:    order.ID,
		CustomerID: order.CustomerID,
		VendorID:   order.VendorID,
		Method:     req.Method,
		Provider:   provider,
		Status:     models.PaymentPending,
		Amount:     order.Total,
		Currency:   order.Currency,
	}
	if err := s.payments.Create(ctx, nil, payment); err != nil {
		return nil, err
	}

	metadata := map[string]string{
		"customer_id": order.CustomerID,
		"order_id":    order.ID,
	}
	for k, v := range req.Metadata {
		metadata[k] = v
	}

	start := time.Now()
	initRes, err := adapter.InitializePayment(ctx, &ports.InitializeRequest{
		Amount:     order.Total,
		Currency:   order.Currency,
		Reference:  payment.Reference,
		PayerEmail: req.PayerEmail,
		Metadata:   metadata,
	})
	observability.ObservePaymentDuration(string(provider), "initialize", time.Since(start).Seconds())
	if err != nil {
		if markErr := s.payments.MarkFailed(ctx, nil, payment.ID, err.Error(), nil); markErr != nil {
			s.logger.Error("failed to mark payment failed",
				ports.String("payment_id", payment.ID),
				ports.Err(markErr),
			)
		}
		observability.RecordPayment(string(provider), string(models.PaymentFailed), payment.Currency, payment.Amount)
		return nil, err
	}

	if req.Method == models.MethodWallet {
		// Wallet payments settle synchronously: the customer debit, the
		// vendor credit and the completion commit in one transaction
		if _, err := s.SettleOrderPayment(ctx, payment, initRes.ExternalReference, initRes.RawResponse); err != nil {
			return nil, err
		}
		payment, err = s.payments.GetByID(ctx, nil, payment.ID)
		if err != nil {
			return nil, err
		}
		return &ProcessPaymentResult{Payment: payment}, nil
	}

	if err := s.payments.MarkProcessing(ctx, nil, payment.ID, initRes.ExternalReference, initRes.RawResponse); err != nil {
		return nil, err
	}
	payment.Status = models.PaymentProcessing
	payment.ExternalReference = initRes.ExternalReference

	s.logger.Info("payment initiated",
		ports.String("payment_id", payment.ID),
		ports.String("reference", payment.Reference),
		ports.String("provider", string(provider)),
		ports.String("amount", payment.Amount.String()),
	)
	return &ProcessPaymentResult{Payment: payment, RedirectURL: initRes.RedirectURL}, nil
}

// SettleOrderPayment completes an order payment exactly once: the status
// flip, the vendor credit and, for wallet payments, the customer debit all
// commit in one transaction, and the compare-and-set on status makes a
// concurrent webhook and verify race harmless. Returns whether this call
// performed the completion.
func (s *Service) SettleOrderPayment(ctx context.Context, payment *models.Payment, externalReference string, raw json.RawMessage) (bool, error) {
	order, err := s.orders.FindByID(ctx, payment.OrderID)
	if err != nil {
		return false, err
	}

	var performed bool
	err = s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		performed, err = s.payments.CompleteIfNot(ctx, tx, payment.ID, externalReference, raw)
		if err != nil || !performed {
			return err
		}
		if payment.Method == models.MethodWallet {
			// The wallet rail collects nothing up front; the customer pays
			// here, atomically with the completion
			if _, err := s.ledger.DebitTx(ctx, tx, payment.CustomerID, payment.Amount, models.TxnDebit, payment.Reference, "order payment"); err != nil {
				return err
			}
		}
		_, _, err = s.ledger.CreditVendorForOrderTx(ctx, tx, payment.VendorID, payment.Amount, s.commissionRate, payment.Reference)
		return err
	})
	if err != nil {
		return false, err
	}
	if !performed {
		return false, nil
	}

	if err := s.orders.UpdatePaymentAndOrderStatus(ctx, order.ID, ports.OrderPaymentPaid, ports.OrderConfirmed); err != nil {
		s.logger.Error("failed to update order after payment",
			ports.String("order_id", order.ID),
			ports.Err(err),
		)
	}

	s.notify(ctx, payment.CustomerID, ports.NotifyPaymentCompleted, map[string]string{
		"order_id":  order.ID,
		"reference": payment.Reference,
		"amount":    payment.Amount.String(),
	})
	s.notify(ctx, payment.VendorID, ports.NotifyWalletCredited, map[string]string{
		"order_id":  order.ID,
		"reference": payment.Reference,
	})

	observability.RecordPayment(string(payment.Provider), string(models.PaymentCompleted), payment.Currency, payment.Amount)
	s.logger.Info("payment completed",
		ports.String("payment_id", payment.ID),
		ports.String("reference", payment.Reference),
	)
	return true, nil
}

// FailOrderPayment marks the payment failed, cancels the order, and releases
// the customer's held cart items. Completed payments are never failed.
func (s *Service) FailOrderPayment(ctx context.Context, payment *models.Payment, reason string, raw json.RawMessage) error {
	if payment.Status == models.PaymentCompleted {
		return domain.NewDomainError(domain.ErrorCodePaymentInvalidState, "cannot fail a completed payment").
			WithDetail("payment_id", payment.ID)
	}

	if err := s.payments.MarkFailed(ctx, nil, payment.ID, reason, raw); err != nil {
		return err
	}

	if err := s.orders.UpdatePaymentAndOrderStatus(ctx, payment.OrderID, ports.OrderPaymentFailed, ports.OrderCancelled); err != nil {
		s.logger.Error("failed to cancel order after payment failure",
			ports.String("order_id", payment.OrderID),
			ports.Err(err),
		)
	}
	if err := s.cart.DeactivateItemsForVendorOrder(ctx, payment.CustomerID, payment.VendorID, payment.OrderID); err != nil {
		s.logger.Error("failed to release cart items",
			ports.String("order_id", payment.OrderID),
			ports.Err(err),
		)
	}

	s.notify(ctx, payment.CustomerID, ports.NotifyPaymentFailed, map[string]string{
		"order_id":  payment.OrderID,
		"reference": payment.Reference,
		"reason":    reason,
	})

	observability.RecordPayment(string(payment.Provider), string(models.PaymentFailed), payment.Currency, payment.Amount)
	return nil
}

// CompleteWalletFunding credits the customer's wallet for a completed
// top-up payment; the credit and the status flip commit together
func (s *Service) CompleteWalletFunding(ctx context.Context, payment *models.Payment, externalReference string, raw json.RawMessage) (bool, error) {
	var performed bool
	err := s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		performed, err = s.payments.CompleteIfNot(ctx, tx, payment.ID, externalReference, raw)
		if err != nil || !performed {
			return err
		}
		_, err = s.ledger.CreditTx(ctx, tx, payment.CustomerID, payment.Amount, models.TxnCredit, payment.Reference, "wallet top-up")
		return err
	})
	if err != nil {
		return false, err
	}
	if !performed {
		return false, nil
	}

	s.notify(ctx, payment.CustomerID, ports.NotifyWalletCredited, map[string]string{
		"reference": payment.Reference,
		"amount":    payment.Amount.String(),
	})
	observability.RecordPayment(string(payment.Provider), string(models.PaymentCompleted), payment.Currency, payment.Amount)
	return true, nil
}

// ApplyGatewayFailure records a gateway-reported failure. Replays against a
// payment already in a terminal state are no-ops.
func (s *Service) ApplyGatewayFailure(ctx context.Context, payment *models.Payment, reason string, raw json.RawMessage) error {
	if payment.Status.IsTerminal() {
		return nil
	}
	if payment.IsOrderPayment() {
		return s.FailOrderPayment(ctx, payment, reason, raw)
	}
	return s.payments.MarkFailed(ctx, nil, payment.ID, reason, raw)
}

// VerifyPayment asks the gateway for the authoritative status of a payment
// and applies it. Verifying an already completed payment is a no-op.
func (s *Service) VerifyPayment(ctx context.Context, reference string) (*models.Payment, error) {
	payment, err := s.payments.GetByReference(ctx, nil, reference)
	if err != nil {
		return nil, err
	}
	if payment.Status == models.PaymentCompleted {
		return payment, nil
	}

	adapter, err := s.registry.ForMethod(payment.Method)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := adapter.VerifyPayment(ctx, verifyReference(payment))
	observability.ObservePaymentDuration(string(payment.Provider), "verify", time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	switch result.Status {
	case ports.GatewayCompleted:
		if payment.IsOrderPayment() {
			_, err = s.SettleOrderPayment(ctx, payment, result.ExternalReference, result.RawResponse)
		} else {
			_, err = s.CompleteWalletFunding(ctx, payment, result.ExternalReference, result.RawResponse)
		}
	case ports.GatewayFailed:
		if payment.IsOrderPayment() {
			err = s.FailOrderPayment(ctx, payment, "gateway reported failure", result.RawResponse)
		} else {
			err = s.payments.MarkFailed(ctx, nil, payment.ID, "gateway reported failure", result.RawResponse)
		}
	case ports.GatewayCancelled:
		err = s.payments.UpdateStatus(ctx, nil, payment.ID, models.PaymentCancelled)
	case ports.GatewayPending:
		// Still in flight at the gateway; nothing to apply
	}
	if err != nil {
		return nil, err
	}

	return s.payments.GetByID(ctx, nil, payment.ID)
}

// RefundPayment reverses a completed payment, in full when amount is nil.
// Wallet payments are refunded by moving the money back on the ledger;
// external payments go back through the gateway first. Either way the
// reversal entries and the status change commit in one transaction, so a
// refunded payment always carries its ledger trail.
func (s *Service) RefundPayment(ctx context.Context, paymentID string, amount *decimal.Decimal, reason string) (*models.Payment, error) {
	payment, err := s.payments.GetByID(ctx, nil, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.Status != models.PaymentCompleted && payment.Status != models.PaymentPartiallyRefunded {
		return nil, domain.NewDomainError(domain.ErrorCodePaymentInvalidState, "only completed payments can be refunded").
			WithDetail("payment_id", paymentID).
			WithDetail("status", string(payment.Status))
	}

	refundAmount := payment.Amount
	if amount != nil {
		if !amount.IsPositive() || amount.GreaterThan(payment.Amount) {
			return nil, domain.ErrInvalidAmount
		}
		refundAmount = *amount
	}

	if payment.Method != models.MethodWallet {
		adapter, err := s.registry.ForMethod(payment.Method)
		if err != nil {
			return nil, err
		}
		start := time.Now()
		_, err = adapter.RefundPayment(ctx, refundReference(payment), &refundAmount, reason)
		observability.ObservePaymentDuration(string(payment.Provider), "refund", time.Since(start).Seconds())
		if err != nil {
			return nil, err
		}
	}

	status := models.PaymentRefunded
	if refundAmount.LessThan(payment.Amount) {
		status = models.PaymentPartiallyRefunded
	}

	err = s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if payment.Method == models.MethodWallet {
			// The customer paid from their wallet; give the money back there
			if _, err := s.ledger.CreditTx(ctx, tx, payment.CustomerID, refundAmount, models.TxnRefund, payment.Reference, reason); err != nil {
				return err
			}
		}
		// Whoever was credited at completion returns the refunded amount:
		// the vendor for order payments, the customer for wallet top-ups
		if payment.IsOrderPayment() {
			if _, err := s.ledger.DebitTx(ctx, tx, payment.VendorID, refundAmount, models.TxnReversal, payment.Reference, "order refund reversal"); err != nil {
				return err
			}
		} else {
			if _, err := s.ledger.DebitTx(ctx, tx, payment.CustomerID, refundAmount, models.TxnReversal, payment.Reference, "wallet top-up refund reversal"); err != nil {
				return err
			}
		}
		return s.payments.UpdateStatus(ctx, tx, payment.ID, status)
	})
	if err != nil {
		return nil, err
	}
	payment.Status = status

	observability.RecordPayment(string(payment.Provider), string(status), payment.Currency, refundAmount)
	s.logger.Info("payment refunded",
		ports.String("payment_id", payment.ID),
		ports.String("amount", refundAmount.String()),
		ports.String("status", string(status)),
	)
	return payment, nil
}

// TopUpRequest carries a wallet funding intent
type TopUpRequest struct {
	UserID     string
	Method     models.PaymentMethod
	Amount     decimal.Decimal
	Currency   string
	PayerEmail string
}

// InitiateWalletTopUp starts a wallet funding payment through an external
// gateway. Completion arrives later via webhook or verification.
func (s *Service) InitiateWalletTopUp(ctx context.Context, req *TopUpRequest) (*ProcessPaymentResult, error) {
	if req.Method == models.MethodWallet {
		return nil, domain.NewDomainError(domain.ErrorCodePaymentMethodUnknown, "cannot fund a wallet from a wallet")
	}
	if !req.Amount.IsPositive() {
		return nil, domain.ErrInvalidAmount
	}

	adapter, err := s.registry.ForMethod(req.Method)
	if err != nil {
		return nil, err
	}

	provider, _ := models.ProviderFor(req.Method)
	payment := &models.Payment{
		ID:         uuid.NewString(),
		Reference:  models.NewFundingReference(),
		CustomerID: req.UserID,
		Method:     req.Method,
		Provider:   provider,
		Status:     models.PaymentPending,
		Amount:     req.Amount,
		Currency:   req.Currency,
	}
	if err := s.payments.Create(ctx, nil, payment); err != nil {
		return nil, err
	}

	start := time.Now()
	initRes, err := adapter.InitializePayment(ctx, &ports.InitializeRequest{
		Amount:     req.Amount,
		Currency:   req.Currency,
		Reference:  payment.Reference,
		PayerEmail: req.PayerEmail,
		Metadata:   map[string]string{"customer_id": req.UserID},
	})
	observability.ObservePaymentDuration(string(provider), "initialize", time.Since(start).Seconds())
	if err != nil {
		if markErr := s.payments.MarkFailed(ctx, nil, payment.ID, err.Error(), nil); markErr != nil {
			s.logger.Error("failed to mark top-up failed",
				ports.String("payment_id", payment.ID),
				ports.Err(markErr),
			)
		}
		return nil, err
	}

	if err := s.payments.MarkProcessing(ctx, nil, payment.ID, initRes.ExternalReference, initRes.RawResponse); err != nil {
		return nil, err
	}
	payment.Status = models.PaymentProcessing
	payment.ExternalReference = initRes.ExternalReference

	return &ProcessPaymentResult{Payment: payment, RedirectURL: initRes.RedirectURL}, nil
}

// GetPayment returns the payment with the given id
func (s *Service) GetPayment(ctx context.Context, paymentID string) (*models.Payment, error) {
	return s.payments.GetByID(ctx, nil, paymentID)
}

// GetPaymentByReference returns the payment carrying the given reference
func (s *Service) GetPaymentByReference(ctx context.Context, reference string) (*models.Payment, error) {
	return s.payments.GetByReference(ctx, nil, reference)
}

// verifyReference picks the identifier the provider expects for status
// lookups: Monnify keys verification on its own transaction reference,
// Paystack and Flutterwave on ours.
func verifyReference(payment *models.Payment) string {
	if payment.Provider == models.ProviderMonnify && payment.ExternalReference != "" {
		return payment.ExternalReference
	}
	return payment.Reference
}

// refundReference picks the identifier the provider expects for refunds:
// Flutterwave and Monnify address refunds by their own transaction id,
// Paystack accepts ours.
func refundReference(payment *models.Payment) string {
	switch payment.Provider {
	case models.ProviderFlutterwave, models.ProviderMonnify:
		if payment.ExternalReference != "" {
			return payment.ExternalReference
		}
	}
	return payment.Reference
}

func (s *Service) notify(ctx context.Context, userID string, kind ports.NotificationKind, payload map[string]string) {
	if err := s.notifier.Notify(ctx, userID, kind, payload); err != nil {
		s.logger.Warn("notification delivery failed",
			ports.String("user_id", userID),
			ports.String("kind", string(kind)),
			ports.Err(err),
		)
	}
}
