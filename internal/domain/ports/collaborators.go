package ports

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/sokomarket/payment-service/internal/domain/models"
)

// Order is the slice of an order this core needs: identity, parties, amount.
type Order struct {
	ID         string
	CustomerID string
	VendorID   string
	Total      decimal.Decimal
	Currency   string
}

// OrderStatus values this core writes back to the order collaborator
type OrderStatus string

const (
	OrderConfirmed OrderStatus = "confirmed"
	OrderCancelled OrderStatus = "cancelled"
)

// OrderPaymentStatus values this core writes back to the order collaborator
type OrderPaymentStatus string

const (
	OrderPaymentPaid   OrderPaymentStatus = "paid"
	OrderPaymentFailed OrderPaymentStatus = "failed"
)

// OrderCollaborator is the external order subsystem
type OrderCollaborator interface {
	FindByID(ctx context.Context, orderID string) (*Order, error)
	UpdatePaymentAndOrderStatus(ctx context.Context, orderID string, paymentStatus OrderPaymentStatus, orderStatus OrderStatus) error
}

// NotificationKind classifies outbound notifications
type NotificationKind string

const (
	NotifyPaymentCompleted    NotificationKind = "payment_completed"
	NotifyPaymentFailed       NotificationKind = "payment_failed"
	NotifyWithdrawalOTP       NotificationKind = "withdrawal_otp"
	NotifyWithdrawalRequested NotificationKind = "withdrawal_requested"
	NotifyWithdrawalResolved  NotificationKind = "withdrawal_resolved"
	NotifyWalletCredited      NotificationKind = "wallet_credited"
)

// Notifier delivers user and admin notifications. Fire-and-forget: delivery
// mechanics are out of scope, only the triggering contract matters here.
type Notifier interface {
	Notify(ctx context.Context, userID string, kind NotificationKind, payload map[string]string) error
	NotifyActor(ctx context.Context, actor models.Actor, kind NotificationKind, payload map[string]string) error
}

// CartCollaborator is the external cart subsystem
type CartCollaborator interface {
	DeactivateItemsForVendorOrder(ctx context.Context, customerID, vendorID, orderID string) error
}
