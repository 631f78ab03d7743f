package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// WithdrawalStatus represents the state of a payout request
type WithdrawalStatus string

const (
	WithdrawalPending    WithdrawalStatus = "pending"
	WithdrawalProcessing WithdrawalStatus = "processing"
	WithdrawalCompleted  WithdrawalStatus = "completed"
	WithdrawalFailed     WithdrawalStatus = "failed"
	WithdrawalRejected   WithdrawalStatus = "rejected"
)

// IsTerminal reports whether the withdrawal can no longer transition.
func (s WithdrawalStatus) IsTerminal() bool {
	return s == WithdrawalCompleted || s == WithdrawalFailed || s == WithdrawalRejected
}

// Withdrawal is one payout request. A user may have at most one non-terminal
// withdrawal at a time.
type Withdrawal struct {
	ID                   string
	UserID               string
	Amount               decimal.Decimal
	Fee                  decimal.Decimal
	Currency             string
	Country              string
	BankID               string
	BankName             string
	AccountNumber        string
	AccountName          string
	Status               WithdrawalStatus
	OTPVerified          bool
	AdminNotes           string
	TransactionReference string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Bank is a payout destination owned by a user. Uniqueness is enforced on
// (user, bank name, account number).
type Bank struct {
	ID            string
	UserID        string
	BankName      string
	BankCode      string
	AccountNumber string
	AccountName   string
	Country       string
	CreatedAt     time.Time
}

// OTPRecord is a short-lived one-time passcode gating withdrawal creation.
// Stored in a TTL-capable key/value store keyed by an opaque id.
type OTPRecord struct {
	UserID    string          `json:"user_id"`
	Code      string          `json:"code"`
	Amount    decimal.Decimal `json:"amount"`
	CreatedAt time.Time       `json:"created_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// Actor identifies who performed a state transition. System actions carry an
// explicit system identity rather than a sentinel user id.
type Actor struct {
	ID     string
	System bool
}

// SystemActor is the identity used for automated transitions and
// system-originated notifications.
func SystemActor() Actor {
	return Actor{ID: "system", System: true}
}
