package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wallet holds a user's balance. One wallet per user.
type Wallet struct {
	ID           string
	UserID       string
	Balance      decimal.Decimal
	Currency     string
	DailyLimit   decimal.Decimal
	MonthlyLimit decimal.Decimal
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TransactionType classifies a ledger entry. Credit-direction types increase
// the balance, debit-direction types decrease it.
type TransactionType string

const (
	TxnCredit     TransactionType = "credit"
	TxnDebit      TransactionType = "debit"
	TxnCommission TransactionType = "commission"
	TxnPayout     TransactionType = "payout"
	TxnRefund     TransactionType = "refund"
	TxnReversal   TransactionType = "reversal"
	TxnFee        TransactionType = "fee"
)

// IsCredit reports whether the type increases the wallet balance.
func (t TransactionType) IsCredit() bool {
	return t == TxnCredit || t == TxnRefund
}

// TransactionStatus represents the state of a ledger entry
type TransactionStatus string

const (
	TxnPending   TransactionStatus = "pending"
	TxnCompleted TransactionStatus = "completed"
	TxnFailed    TransactionStatus = "failed"
	TxnReversed  TransactionStatus = "reversed"
)

// Transaction is an append-only ledger entry backing a wallet balance change.
// Amount is always a positive magnitude; the type carries the sign.
type Transaction struct {
	ID             string
	WalletID       string
	Type           TransactionType
	Amount         decimal.Decimal
	BalanceBefore  decimal.Decimal
	BalanceAfter   decimal.Decimal
	ReferenceID    string // correlates to a payment, order, or withdrawal
	Description    string
	Status         TransactionStatus
	ReversedAt     *time.Time
	ReversalReason string
	CreatedAt      time.Time
}

// SignedAmount returns the amount with the sign implied by the type.
func (t *Transaction) SignedAmount() decimal.Decimal {
	if t.Type.IsCredit() {
		return t.Amount
	}
	return t.Amount.Neg()
}

// CommissionSplit computes the vendor's net credit and the platform commission
// for an order payment. The two figures always sum to amount.
func CommissionSplit(amount, rate decimal.Decimal) (net, commission decimal.Decimal) {
	commission = amount.Mul(rate).Round(2)
	net = amount.Sub(commission)
	return net, commission
}
