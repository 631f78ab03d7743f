package wallet

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/sokomarket/payment-service/internal/domain"
	"github.com/sokomarket/payment-service/internal/domain/models"
	"github.com/sokomarket/payment-service/internal/domain/ports"
	"github.com/sokomarket/payment-service/pkg/observability"
)

// Service owns wallet balances and their append-only ledger. Every balance
// mutation runs inside one database transaction holding a row lock on the
// wallet, so the balance and its ledger entry can never diverge.
type Service struct {
	db      ports.DBPort
	wallets ports.WalletRepository
	logger  ports.Logger
}

// NewService creates a new wallet service
func NewService(db ports.DBPort, wallets ports.WalletRepository, logger ports.Logger) *Service {
	return &Service{
		db:      db,
		wallets: wallets,
		logger:  logger,
	}
}

// CreateWallet provisions an empty wallet for a user
func (s *Service) CreateWallet(ctx context.Context, userID, currency string) (*models.Wallet, error) {
	wallet := &models.Wallet{
		ID:       uuid.NewString(),
		UserID:   userID,
		Balance:  decimal.Zero,
		Currency: currency,
	}
	if err := s.wallets.CreateWallet(ctx, nil, wallet); err != nil {
		return nil, err
	}

	s.logger.Info("wallet created",
		ports.String("wallet_id", wallet.ID),
		ports.String("user_id", userID),
	)
	return wallet, nil
}

// GetWallet returns the user's wallet
func (s *Service) GetWallet(ctx context.Context, userID string) (*models.Wallet, error) {
	return s.wallets.GetWalletByUserID(ctx, nil, userID)
}

// ListTransactions returns a page of the wallet's ledger, newest first
func (s *Service) ListTransactions(ctx context.Context, userID string, limit, offset int32) ([]*models.Transaction, error) {
	wallet, err := s.wallets.GetWalletByUserID(ctx, nil, userID)
	if err != nil {
		return nil, err
	}
	return s.wallets.ListTransactions(ctx, nil, wallet.ID, limit, offset)
}

// Credit adds funds to the user's wallet and records a ledger entry
func (s *Service) Credit(ctx context.Context, userID string, amount decimal.Decimal, txnType models.TransactionType, referenceID, description string) (*models.Transaction, error) {
	if !txnType.IsCredit() {
		return nil, domain.NewDomainError(domain.ErrorCodeValidationFailed, "transaction type is not a credit")
	}
	return s.mutate(ctx, userID, amount, txnType, referenceID, description)
}

// Debit removes funds from the user's wallet and records a ledger entry.
// Fails with ErrInsufficientFunds when the balance cannot cover the amount.
func (s *Service) Debit(ctx context.Context, userID string, amount decimal.Decimal, txnType models.TransactionType, referenceID, description string) (*models.Transaction, error) {
	if txnType.IsCredit() {
		return nil, domain.NewDomainError(domain.ErrorCodeValidationFailed, "transaction type is not a debit")
	}
	return s.mutate(ctx, userID, amount, txnType, referenceID, description)
}

// CreditTx applies a credit entry inside the caller's transaction
func (s *Service) CreditTx(ctx context.Context, tx ports.DBTX, userID string, amount decimal.Decimal, txnType models.TransactionType, referenceID, description string) (*models.Transaction, error) {
	if !txnType.IsCredit() {
		return nil, domain.NewDomainError(domain.ErrorCodeValidationFailed, "transaction type is not a credit")
	}
	return s.applyEntry(ctx, tx, userID, amount, txnType, referenceID, description)
}

// DebitTx applies a debit entry inside the caller's transaction. The payment
// orchestrator uses this to settle wallet payments and to claw back vendor
// credits on refund together with the payment status change.
func (s *Service) DebitTx(ctx context.Context, tx ports.DBTX, userID string, amount decimal.Decimal, txnType models.TransactionType, referenceID, description string) (*models.Transaction, error) {
	if txnType.IsCredit() {
		return nil, domain.NewDomainError(domain.ErrorCodeValidationFailed, "transaction type is not a debit")
	}
	return s.applyEntry(ctx, tx, userID, amount, txnType, referenceID, description)
}

// mutate applies a single ledger entry to the wallet in its own transaction
func (s *Service) mutate(ctx context.Context, userID string, amount decimal.Decimal, txnType models.TransactionType, referenceID, description string) (*models.Transaction, error) {
	var entry *models.Transaction
	err := s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		entry, err = s.applyEntry(ctx, tx, userID, amount, txnType, referenceID, description)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// applyEntry mutates the wallet balance and appends the matching ledger
// entry under a row lock
func (s *Service) applyEntry(ctx context.Context, tx ports.DBTX, userID string, amount decimal.Decimal, txnType models.TransactionType, referenceID, description string) (*models.Transaction, error) {
	if !amount.IsPositive() {
		return nil, domain.ErrInvalidAmount
	}

	wallet, err := s.wallets.GetWalletByUserID(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	wallet, err = s.wallets.LockWallet(ctx, tx, wallet.ID)
	if err != nil {
		return nil, err
	}

	signed := amount
	if !txnType.IsCredit() {
		if wallet.Balance.LessThan(amount) {
			observability.RecordWalletOperation(string(txnType), "insufficient_funds")
			return nil, domain.ErrInsufficientFunds
		}
		signed = amount.Neg()
	}
	newBalance := wallet.Balance.Add(signed)

	entry := &models.Transaction{
		ID:            uuid.NewString(),
		WalletID:      wallet.ID,
		Type:          txnType,
		Amount:        amount,
		BalanceBefore: wallet.Balance,
		BalanceAfter:  newBalance,
		ReferenceID:   referenceID,
		Description:   description,
		Status:        models.TxnCompleted,
		CreatedAt:     time.Now().UTC(),
	}

	// Ledger entries are appended before the balance write everywhere, so a
	// partial failure can never leave a balance without its entry
	if err := s.wallets.AppendTransaction(ctx, tx, entry); err != nil {
		observability.RecordWalletOperation(string(txnType), "failure")
		return nil, err
	}
	if err := s.wallets.UpdateBalance(ctx, tx, wallet.ID, newBalance); err != nil {
		observability.RecordWalletOperation(string(txnType), "failure")
		return nil, err
	}

	observability.RecordWalletOperation(string(txnType), "success")
	s.logger.Info("wallet ledger entry recorded",
		ports.String("wallet_id", entry.WalletID),
		ports.String("type", string(txnType)),
		ports.String("amount", amount.String()),
		ports.String("reference_id", referenceID),
	)
	return entry, nil
}

// CreditVendorForOrder credits the vendor's wallet with the gross order
// amount and immediately debits the platform commission, both in one
// transaction. The vendor's balance rises by the net amount; the two ledger
// entries sum to the gross so the commission stays auditable per order.
func (s *Service) CreditVendorForOrder(ctx context.Context, vendorID string, gross, commissionRate decimal.Decimal, referenceID string) (net, commission decimal.Decimal, err error) {
	err = s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		net, commission, err = s.CreditVendorForOrderTx(ctx, tx, vendorID, gross, commissionRate, referenceID)
		return err
	})
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return net, commission, nil
}

// CreditVendorForOrderTx is CreditVendorForOrder running inside the caller's
// transaction, so payment completion and the vendor credit commit together.
func (s *Service) CreditVendorForOrderTx(ctx context.Context, tx ports.DBTX, vendorID string, gross, commissionRate decimal.Decimal, referenceID string) (net, commission decimal.Decimal, err error) {
	if !gross.IsPositive() {
		return decimal.Zero, decimal.Zero, domain.ErrInvalidAmount
	}
	net, commission = models.CommissionSplit(gross, commissionRate)

	wallet, err := s.wallets.GetWalletByUserID(ctx, tx, vendorID)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	wallet, err = s.wallets.LockWallet(ctx, tx, wallet.ID)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}

	now := time.Now().UTC()
	afterCredit := wallet.Balance.Add(gross)

	if err := s.wallets.AppendTransaction(ctx, tx, &models.Transaction{
		ID:            uuid.NewString(),
		WalletID:      wallet.ID,
		Type:          models.TxnCredit,
		Amount:        gross,
		BalanceBefore: wallet.Balance,
		BalanceAfter:  afterCredit,
		ReferenceID:   referenceID,
		Description:   "order payment received",
		Status:        models.TxnCompleted,
		CreatedAt:     now,
	}); err != nil {
		observability.RecordWalletOperation(string(models.TxnCredit), "failure")
		return decimal.Zero, decimal.Zero, err
	}

	finalBalance := afterCredit
	if commission.IsPositive() {
		finalBalance = afterCredit.Sub(commission)
		if err := s.wallets.AppendTransaction(ctx, tx, &models.Transaction{
			ID:            uuid.NewString(),
			WalletID:      wallet.ID,
			Type:          models.TxnCommission,
			Amount:        commission,
			BalanceBefore: afterCredit,
			BalanceAfter:  finalBalance,
			ReferenceID:   referenceID,
			Description:   "platform commission",
			Status:        models.TxnCompleted,
			CreatedAt:     now,
		}); err != nil {
			observability.RecordWalletOperation(string(models.TxnCommission), "failure")
			return decimal.Zero, decimal.Zero, err
		}
	}

	if err := s.wallets.UpdateBalance(ctx, tx, wallet.ID, finalBalance); err != nil {
		return decimal.Zero, decimal.Zero, err
	}

	observability.RecordWalletOperation(string(models.TxnCredit), "success")
	s.logger.Info("vendor credited for order",
		ports.String("vendor_id", vendorID),
		ports.String("reference_id", referenceID),
		ports.String("net", net.String()),
		ports.String("commission", commission.String()),
	)
	return net, commission, nil
}

// DebitForWithdrawal removes the withdrawal amount plus its fee from the
// user's wallet: a payout entry for the amount and a fee entry when the fee
// is non-zero, both in one transaction.
func (s *Service) DebitForWithdrawal(ctx context.Context, userID string, amount, fee decimal.Decimal, referenceID string) error {
	return s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return s.DebitForWithdrawalTx(ctx, tx, userID, amount, fee, referenceID)
	})
}

// DebitForWithdrawalTx is DebitForWithdrawal running inside the caller's
// transaction, so the withdrawal resolution and its payout debit commit
// together.
func (s *Service) DebitForWithdrawalTx(ctx context.Context, tx ports.DBTX, userID string, amount, fee decimal.Decimal, referenceID string) error {
	if !amount.IsPositive() || fee.IsNegative() {
		return domain.ErrInvalidAmount
	}

	if err := s.applyWithdrawalDebit(ctx, tx, userID, amount, fee, referenceID); err != nil {
		observability.RecordWalletOperation(string(models.TxnPayout), "failure")
		return err
	}

	observability.RecordWalletOperation(string(models.TxnPayout), "success")
	return nil
}

func (s *Service) applyWithdrawalDebit(ctx context.Context, tx ports.DBTX, userID string, amount, fee decimal.Decimal, referenceID string) error {
	wallet, err := s.wallets.GetWalletByUserID(ctx, tx, userID)
	if err != nil {
		return err
	}
	wallet, err = s.wallets.LockWallet(ctx, tx, wallet.ID)
	if err != nil {
		return err
	}

	total := amount.Add(fee)
	if wallet.Balance.LessThan(total) {
		return domain.ErrInsufficientFunds
	}

	now := time.Now().UTC()
	afterPayout := wallet.Balance.Sub(amount)

	if err := s.wallets.AppendTransaction(ctx, tx, &models.Transaction{
		ID:            uuid.NewString(),
		WalletID:      wallet.ID,
		Type:          models.TxnPayout,
		Amount:        amount,
		BalanceBefore: wallet.Balance,
		BalanceAfter:  afterPayout,
		ReferenceID:   referenceID,
		Description:   "withdrawal payout",
		Status:        models.TxnCompleted,
		CreatedAt:     now,
	}); err != nil {
		return err
	}

	finalBalance := afterPayout
	if fee.IsPositive() {
		finalBalance = afterPayout.Sub(fee)
		if err := s.wallets.AppendTransaction(ctx, tx, &models.Transaction{
			ID:            uuid.NewString(),
			WalletID:      wallet.ID,
			Type:          models.TxnFee,
			Amount:        fee,
			BalanceBefore: afterPayout,
			BalanceAfter:  finalBalance,
			ReferenceID:   referenceID,
			Description:   "withdrawal fee",
			Status:        models.TxnCompleted,
			CreatedAt:     now,
		}); err != nil {
			return err
		}
	}

	return s.wallets.UpdateBalance(ctx, tx, wallet.ID, finalBalance)
}

// AuditBalance recomputes the wallet balance from its ledger and reports
// whether the stored balance matches the sum of signed entry amounts
func (s *Service) AuditBalance(ctx context.Context, userID string) (consistent bool, stored, computed decimal.Decimal, err error) {
	err = s.db.WithReadOnlyTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		wallet, err := s.wallets.GetWalletByUserID(ctx, tx, userID)
		if err != nil {
			return err
		}
		stored = wallet.Balance

		computed, err = s.wallets.SumSignedAmounts(ctx, tx, wallet.ID)
		return err
	})
	if err != nil {
		return false, decimal.Zero, decimal.Zero, err
	}
	return stored.Equal(computed), stored, computed, nil
}
