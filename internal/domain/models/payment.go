package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentStatus represents the current state of a payment attempt
type PaymentStatus string

const (
	PaymentPending           PaymentStatus = "pending"
	PaymentProcessing        PaymentStatus = "processing"
	PaymentCompleted         PaymentStatus = "completed"
	PaymentFailed            PaymentStatus = "failed"
	PaymentCancelled         PaymentStatus = "cancelled"
	PaymentRefunded          PaymentStatus = "refunded"
	PaymentPartiallyRefunded PaymentStatus = "partially_refunded"
)

// IsTerminal reports whether no further gateway-driven transition is expected.
// Completed payments may still move to a refunded status via an explicit refund.
func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case PaymentFailed, PaymentCancelled, PaymentRefunded, PaymentPartiallyRefunded:
		return true
	}
	return false
}

// PaymentMethod identifies the rail a payment is taken over
type PaymentMethod string

const (
	MethodWallet      PaymentMethod = "wallet"
	MethodPaystack    PaymentMethod = "paystack"
	MethodFlutterwave PaymentMethod = "flutterwave"
	MethodMonnify     PaymentMethod = "monnify"
)

// Provider is the gateway behind a payment method. One provider per method.
type Provider string

const (
	ProviderWallet      Provider = "wallet"
	ProviderPaystack    Provider = "paystack"
	ProviderFlutterwave Provider = "flutterwave"
	ProviderMonnify     Provider = "monnify"
)

// ProviderFor maps a payment method to its gateway provider.
func ProviderFor(method PaymentMethod) (Provider, bool) {
	switch method {
	case MethodWallet:
		return ProviderWallet, true
	case MethodPaystack:
		return ProviderPaystack, true
	case MethodFlutterwave:
		return ProviderFlutterwave, true
	case MethodMonnify:
		return ProviderMonnify, true
	}
	return "", false
}

// Payment represents one payment attempt. Reference is the globally unique
// idempotency key used to correlate gateway webhooks back to this row.
type Payment struct {
	ID                string
	Reference         string
	OrderID           string // empty for wallet top-up flows
	CustomerID        string
	VendorID          string
	Method            PaymentMethod
	Provider          Provider
	Status            PaymentStatus
	Amount            decimal.Decimal
	Currency          string
	ExternalReference string          // the gateway's own id, set once verified
	GatewayResponse   json.RawMessage // opaque payload stored for audit
	FailureReason     string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// IsOrderPayment reports whether this payment settles a marketplace order
// rather than a wallet top-up.
func (p *Payment) IsOrderPayment() bool {
	return p.OrderID != ""
}

// Reference prefixes classify a payment by flow: webhook reconciliation uses
// them to route an inbound callback without loading the payment first.
const (
	OrderReferencePrefix   = "PAY-"
	FundingReferencePrefix = "WF-"
)

// NewOrderReference generates a globally unique order payment reference
func NewOrderReference() string {
	return OrderReferencePrefix + uuid.NewString()
}

// NewFundingReference generates a globally unique wallet top-up reference
func NewFundingReference() string {
	return FundingReferencePrefix + uuid.NewString()
}

// IsFundingReference reports whether the reference belongs to a wallet
// top-up flow
func IsFundingReference(reference string) bool {
	return strings.HasPrefix(reference, FundingReferencePrefix)
}
