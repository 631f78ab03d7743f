package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
)

var (
	// Payment intake metrics
	paymentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_total",
		Help: "Total number of payment attempts",
	}, []string{
		"provider", // wallet, paystack, flutterwave, monnify
		"status",   // pending, processing, completed, failed, cancelled
	})

	paymentAmount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_amount_total",
		Help: "Total payment amount in minor currency units",
	}, []string{
		"provider",
		"currency",
	})

	paymentProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "payment_processing_duration_seconds",
		Help: "Time to process a payment initiation or verification",
		// Buckets: 100ms to 30s (typical gateway round-trip times)
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{
		"provider",
		"operation", // initialize, verify, refund
	})

	// Webhook reconciliation metrics
	webhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Total inbound gateway webhook events",
	}, []string{
		"provider",
		"outcome", // completed, failed, unhandled, bad_signature, unknown_reference, replay
	})

	// Wallet ledger metrics
	walletOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_operations_total",
		Help: "Total wallet ledger operations",
	}, []string{
		"type",   // credit, debit, commission, payout, refund, reversal, fee
		"result", // ok, insufficient_funds, error
	})

	// Withdrawal lifecycle metrics
	withdrawalTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "withdrawal_transitions_total",
		Help: "Total withdrawal status transitions",
	}, []string{
		"status", // pending, processing, completed, failed, rejected
	})

	otpValidationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "otp_validations_total",
		Help: "Total OTP validation attempts",
	}, []string{
		"result", // valid, invalid, expired, max_attempts
	})

	// Duplicate-credit auditor metrics
	duplicateCreditsDetected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "duplicate_credits_detected_total",
		Help: "Total duplicate credit transactions detected by the auditor",
	})

	duplicateCreditsCorrected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "duplicate_credits_corrected_total",
		Help: "Total duplicate credit transactions corrected by the auditor",
	})
)

// RecordPayment records a payment attempt outcome
func RecordPayment(provider, status, currency string, amount decimal.Decimal) {
	paymentsTotal.WithLabelValues(provider, status).Inc()
	amt, _ := amount.Float64()
	paymentAmount.WithLabelValues(provider, currency).Add(amt)
}

// ObservePaymentDuration records the duration of one gateway operation
func ObservePaymentDuration(provider, operation string, seconds float64) {
	paymentProcessingDuration.WithLabelValues(provider, operation).Observe(seconds)
}

// RecordWebhookEvent records an inbound webhook outcome
func RecordWebhookEvent(provider, outcome string) {
	webhookEventsTotal.WithLabelValues(provider, outcome).Inc()
}

// RecordWalletOperation records a ledger operation outcome
func RecordWalletOperation(txnType, result string) {
	walletOperationsTotal.WithLabelValues(txnType, result).Inc()
}

// RecordWithdrawalTransition records a withdrawal status transition
func RecordWithdrawalTransition(status string) {
	withdrawalTransitionsTotal.WithLabelValues(status).Inc()
}

// RecordOTPValidation records an OTP validation result
func RecordOTPValidation(result string) {
	otpValidationsTotal.WithLabelValues(result).Inc()
}

// RecordDuplicateCredits records auditor findings and corrections
func RecordDuplicateCredits(detected, corrected int) {
	duplicateCreditsDetected.Add(float64(detected))
	duplicateCreditsCorrected.Add(float64(corrected))
}
