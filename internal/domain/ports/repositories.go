package ports

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sokomarket/payment-service/internal/domain/models"
)

// PaymentRepository persists payment attempts. Every method accepts an
// optional transaction executor; passing nil uses the pool.
type PaymentRepository interface {
	Create(ctx context.Context, tx DBTX, payment *models.Payment) error
	GetByID(ctx context.Context, tx DBTX, id string) (*models.Payment, error)
	GetByReference(ctx context.Context, tx DBTX, reference string) (*models.Payment, error)
	GetByOrderID(ctx context.Context, tx DBTX, orderID string) (*models.Payment, error)

	// MarkProcessing records the external reference returned by the gateway
	// and moves the payment from pending to processing.
	MarkProcessing(ctx context.Context, tx DBTX, id, externalReference string, gatewayResponse json.RawMessage) error

	// CompleteIfNot transitions the payment to completed only if it is not
	// already completed. Returns true when this call performed the
	// transition, false when the payment was already completed. This is the
	// CAS guard against a webhook and a manual verify racing.
	CompleteIfNot(ctx context.Context, tx DBTX, id, externalReference string, gatewayResponse json.RawMessage) (bool, error)

	MarkFailed(ctx context.Context, tx DBTX, id, failureReason string, gatewayResponse json.RawMessage) error
	UpdateStatus(ctx context.Context, tx DBTX, id string, status models.PaymentStatus) error
}

// WalletRepository persists wallets and their append-only ledger. Balance
// mutation must run inside a caller-supplied transaction; LockWallet takes a
// row-level lock so concurrent mutations on one wallet are serialized.
type WalletRepository interface {
	CreateWallet(ctx context.Context, tx DBTX, wallet *models.Wallet) error
	GetWalletByUserID(ctx context.Context, tx DBTX, userID string) (*models.Wallet, error)
	GetWallet(ctx context.Context, tx DBTX, walletID string) (*models.Wallet, error)

	// LockWallet reads the wallet FOR UPDATE inside tx.
	LockWallet(ctx context.Context, tx DBTX, walletID string) (*models.Wallet, error)

	UpdateBalance(ctx context.Context, tx DBTX, walletID string, balance decimal.Decimal) error
	AppendTransaction(ctx context.Context, tx DBTX, txn *models.Transaction) error

	ListTransactions(ctx context.Context, tx DBTX, walletID string, limit, offset int32) ([]*models.Transaction, error)

	// FindDuplicateCredits returns completed, non-reversed credit entries for
	// the wallet grouped by (reference_id, amount) where the group holds more
	// than one row, ordered oldest first within each group.
	FindDuplicateCredits(ctx context.Context, tx DBTX, walletID string) ([]*models.Transaction, error)

	// MarkReversed flags a ledger entry as reversed without altering its
	// amount or balance fields.
	MarkReversed(ctx context.Context, tx DBTX, transactionID, reason string, at time.Time) error

	// SumSignedAmounts returns the sum of signed transaction amounts for the
	// wallet, used to audit the balance invariant.
	SumSignedAmounts(ctx context.Context, tx DBTX, walletID string) (decimal.Decimal, error)
}

// WithdrawalRepository persists payout requests
type WithdrawalRepository interface {
	Create(ctx context.Context, tx DBTX, withdrawal *models.Withdrawal) error
	GetByID(ctx context.Context, tx DBTX, id string) (*models.Withdrawal, error)

	// GetActiveByUserID returns the user's non-terminal withdrawal, or a
	// not-found error when none exists.
	GetActiveByUserID(ctx context.Context, tx DBTX, userID string) (*models.Withdrawal, error)

	// ResolveIfOpen transitions the withdrawal to the given status only
	// while it is still pending or processing. Returns true when this call
	// performed the transition, false when the withdrawal had already
	// reached a terminal state. This is the CAS guard that keeps a retried
	// completion from paying out twice.
	ResolveIfOpen(ctx context.Context, tx DBTX, id string, status models.WithdrawalStatus, adminNotes, txnReference string) (bool, error)

	ListPending(ctx context.Context, tx DBTX, limit, offset int32) ([]*models.Withdrawal, error)
}

// BankRepository persists payout destinations
type BankRepository interface {
	Create(ctx context.Context, tx DBTX, bank *models.Bank) error
	GetByID(ctx context.Context, tx DBTX, id string) (*models.Bank, error)
	ListByUserID(ctx context.Context, tx DBTX, userID string) ([]*models.Bank, error)
}
