package withdrawal

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/sokomarket/payment-service/internal/domain"
	"github.com/sokomarket/payment-service/internal/domain/models"
	"github.com/sokomarket/payment-service/internal/domain/ports"
	"github.com/sokomarket/payment-service/pkg/observability"
)

// Ledger is the slice of the wallet service withdrawals settle through. The
// payout debit takes the caller's transaction so it commits together with the
// withdrawal's status change.
type Ledger interface {
	GetWallet(ctx context.Context, userID string) (*models.Wallet, error)
	DebitForWithdrawalTx(ctx context.Context, tx ports.DBTX, userID string, amount, fee decimal.Decimal, referenceID string) error
}

// Config tunes the OTP challenge and the payout fee
type Config struct {
	OTPTTL      time.Duration
	MaxAttempts int64
	DefaultFee  decimal.Decimal
}

// DefaultServiceConfig returns the standard withdrawal configuration
func DefaultServiceConfig() Config {
	return Config{
		OTPTTL:      10 * time.Minute,
		MaxAttempts: 3,
		DefaultFee:  decimal.Zero,
	}
}

// Service runs the withdrawal state machine: an OTP challenge gates
// creation, admins resolve the request, and only a completed resolution
// touches the wallet.
type Service struct {
	db          ports.DBPort
	withdrawals ports.WithdrawalRepository
	banks       ports.BankRepository
	ledger      Ledger
	otps        ports.OTPStore
	notifier    ports.Notifier
	logger      ports.Logger
	config      Config
}

// NewService creates a new withdrawal service
func NewService(
	db ports.DBPort,
	withdrawals ports.WithdrawalRepository,
	banks ports.BankRepository,
	ledger Ledger,
	otps ports.OTPStore,
	notifier ports.Notifier,
	logger ports.Logger,
	config Config,
) *Service {
	return &Service{
		db:          db,
		withdrawals: withdrawals,
		banks:       banks,
		ledger:      ledger,
		otps:        otps,
		notifier:    notifier,
		logger:      logger,
		config:      config,
	}
}

// GenerateOTP issues a fresh passcode for a withdrawal of the given amount
// and returns the opaque id the code is stored under. The client quotes that
// id back when requesting the withdrawal; the code carries no identity of its
// own. Old issuances simply age out. Fails fast when the user already has an
// unresolved withdrawal or the balance cannot cover the amount.
func (s *Service) GenerateOTP(ctx context.Context, userID string, amount decimal.Decimal) (string, error) {
	if !amount.IsPositive() {
		return "", domain.ErrInvalidAmount
	}

	if err := s.ensureNoActiveWithdrawal(ctx, userID); err != nil {
		return "", err
	}

	wallet, err := s.ledger.GetWallet(ctx, userID)
	if err != nil {
		return "", err
	}
	if wallet.Balance.LessThan(amount) {
		return "", domain.ErrInsufficientFunds
	}

	code, err := generateCode()
	if err != nil {
		return "", err
	}

	otpID := uuid.NewString()
	now := time.Now().UTC()
	record := &models.OTPRecord{
		UserID:    userID,
		Code:      code,
		Amount:    amount,
		CreatedAt: now,
		ExpiresAt: now.Add(s.config.OTPTTL),
	}
	if err := s.otps.Put(ctx, otpID, record, s.config.OTPTTL); err != nil {
		return "", err
	}

	s.notify(ctx, userID, ports.NotifyWithdrawalOTP, map[string]string{
		"code":       code,
		"amount":     amount.String(),
		"expires_at": record.ExpiresAt.Format(time.RFC3339),
	})
	s.logger.Info("withdrawal otp issued",
		ports.String("user_id", userID),
		ports.String("otp_id", otpID),
	)
	return otpID, nil
}

// ValidateOTP checks a guess against the stored code and consumes the code
// on success. Three wrong guesses burn the code. The attempt counter is
// incremented atomically before the comparison, so two concurrent guesses
// cannot both land inside the limit.
func (s *Service) ValidateOTP(ctx context.Context, otpID, code string) (*models.OTPRecord, error) {
	record, err := s.otps.Get(ctx, otpID)
	if err != nil {
		return nil, err
	}

	// The store's TTL normally removes expired records; the timestamp check
	// covers the window between logical and key expiry
	if time.Now().UTC().After(record.ExpiresAt) {
		observability.RecordOTPValidation("expired")
		return nil, domain.ErrOTPExpired
	}

	attempts, err := s.otps.IncrementAttempts(ctx, otpID)
	if err != nil {
		return nil, err
	}

	match := subtle.ConstantTimeCompare([]byte(record.Code), []byte(code)) == 1

	if attempts > s.config.MaxAttempts {
		observability.RecordOTPValidation("max_attempts")
		return nil, domain.ErrOTPMaxAttempts
	}

	if !match {
		if attempts >= s.config.MaxAttempts {
			if err := s.otps.Delete(ctx, otpID); err != nil {
				s.logger.Error("failed to burn otp", ports.Err(err))
			}
			observability.RecordOTPValidation("max_attempts")
			return nil, domain.ErrOTPMaxAttempts
		}
		observability.RecordOTPValidation("invalid")
		return nil, domain.ErrOTPInvalid
	}

	if err := s.otps.Delete(ctx, otpID); err != nil {
		s.logger.Error("failed to consume otp", ports.Err(err))
	}
	observability.RecordOTPValidation("valid")
	return record, nil
}

// RequestWithdrawalInput carries a payout request. Fee overrides the
// configured default when non-nil.
type RequestWithdrawalInput struct {
	UserID  string
	Amount  decimal.Decimal
	Fee     *decimal.Decimal
	BankID  string
	Country string
	OTPID   string
	OTPCode string
}

// RequestWithdrawal validates the OTP and creates a PENDING withdrawal.
// The wallet is not touched here: funds leave only when an admin marks the
// payout done.
func (s *Service) RequestWithdrawal(ctx context.Context, input *RequestWithdrawalInput) (*models.Withdrawal, error) {
	if !input.Amount.IsPositive() {
		return nil, domain.ErrInvalidAmount
	}

	record, err := s.ValidateOTP(ctx, input.OTPID, input.OTPCode)
	if err != nil {
		if domain.IsDomainError(err, domain.ErrorCodeOTPExpired) || domain.IsDomainError(err, domain.ErrorCodeOTPNotFound) {
			return nil, domain.ErrOTPRequired
		}
		return nil, err
	}
	// The OTP id is opaque; make sure the quoted challenge was issued to the
	// requesting user and not someone else's
	if record.UserID != input.UserID {
		return nil, domain.ErrOTPInvalid
	}
	if !record.Amount.Equal(input.Amount) {
		return nil, domain.NewDomainError(domain.ErrorCodeValidationFailed, "withdrawal amount differs from the amount the otp was issued for")
	}

	// The OTP checks ran earlier against a snapshot; re-check now in case a
	// withdrawal or debit landed in between
	if err := s.ensureNoActiveWithdrawal(ctx, input.UserID); err != nil {
		return nil, err
	}

	fee := s.config.DefaultFee
	if input.Fee != nil {
		if input.Fee.IsNegative() {
			return nil, domain.ErrInvalidAmount
		}
		fee = *input.Fee
	}

	wallet, err := s.ledger.GetWallet(ctx, input.UserID)
	if err != nil {
		return nil, err
	}
	if wallet.Balance.LessThan(input.Amount.Add(fee)) {
		return nil, domain.ErrInsufficientFunds
	}

	bank, err := s.banks.GetByID(ctx, nil, input.BankID)
	if err != nil {
		return nil, err
	}
	if bank.UserID != input.UserID {
		return nil, domain.NewDomainError(domain.ErrorCodeBankNotFound, "bank account not found").
			WithDetail("bank_id", input.BankID)
	}

	withdrawal := &models.Withdrawal{
		ID:            uuid.NewString(),
		UserID:        input.UserID,
		Amount:        input.Amount,
		Fee:           fee,
		Currency:      wallet.Currency,
		Country:       input.Country,
		BankID:        bank.ID,
		BankName:      bank.BankName,
		AccountNumber: bank.AccountNumber,
		AccountName:   bank.AccountName,
		Status:        models.WithdrawalPending,
		OTPVerified:   true,
	}
	if err := s.withdrawals.Create(ctx, nil, withdrawal); err != nil {
		return nil, err
	}

	observability.RecordWithdrawalTransition(string(models.WithdrawalPending))
	s.notify(ctx, input.UserID, ports.NotifyWithdrawalRequested, map[string]string{
		"withdrawal_id": withdrawal.ID,
		"amount":        withdrawal.Amount.String(),
	})
	s.notifyActor(ctx, models.SystemActor(), ports.NotifyWithdrawalRequested, map[string]string{
		"withdrawal_id": withdrawal.ID,
		"user_id":       input.UserID,
		"amount":        withdrawal.Amount.String(),
	})

	s.logger.Info("withdrawal requested",
		ports.String("withdrawal_id", withdrawal.ID),
		ports.String("user_id", input.UserID),
		ports.String("amount", withdrawal.Amount.String()),
	)
	return withdrawal, nil
}

// GetWithdrawal returns the withdrawal with the given id
func (s *Service) GetWithdrawal(ctx context.Context, id string) (*models.Withdrawal, error) {
	return s.withdrawals.GetByID(ctx, nil, id)
}

// ListPending returns unresolved withdrawals for the admin queue
func (s *Service) ListPending(ctx context.Context, limit, offset int32) ([]*models.Withdrawal, error) {
	return s.withdrawals.ListPending(ctx, nil, limit, offset)
}

// MarkProcessing moves a pending withdrawal into processing
func (s *Service) MarkProcessing(ctx context.Context, id string) (*models.Withdrawal, error) {
	withdrawal, err := s.loadOpen(ctx, id)
	if err != nil {
		return nil, err
	}
	ok, err := s.withdrawals.ResolveIfOpen(ctx, nil, id, models.WithdrawalProcessing, "", "")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, terminalError(id)
	}
	withdrawal.Status = models.WithdrawalProcessing
	observability.RecordWithdrawalTransition(string(models.WithdrawalProcessing))
	return withdrawal, nil
}

// MarkDone records a successful payout: the amount plus the fee leave the
// user's wallet and the withdrawal becomes COMPLETED. This is the only
// withdrawal transition that touches the wallet. The status transition and
// the debit commit in one transaction, and the debit only runs when this
// call won the transition, so a retried completion cannot debit twice.
func (s *Service) MarkDone(ctx context.Context, id, adminNotes, transactionReference string) (*models.Withdrawal, error) {
	withdrawal, err := s.loadOpen(ctx, id)
	if err != nil {
		return nil, err
	}

	err = s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		ok, err := s.withdrawals.ResolveIfOpen(ctx, tx, id, models.WithdrawalCompleted, adminNotes, transactionReference)
		if err != nil {
			return err
		}
		if !ok {
			return terminalError(id)
		}
		return s.ledger.DebitForWithdrawalTx(ctx, tx, withdrawal.UserID, withdrawal.Amount, withdrawal.Fee, withdrawal.ID)
	})
	if err != nil {
		return nil, err
	}
	withdrawal.Status = models.WithdrawalCompleted
	withdrawal.TransactionReference = transactionReference

	observability.RecordWithdrawalTransition(string(models.WithdrawalCompleted))
	s.notify(ctx, withdrawal.UserID, ports.NotifyWithdrawalResolved, map[string]string{
		"withdrawal_id": withdrawal.ID,
		"status":        string(models.WithdrawalCompleted),
		"amount":        withdrawal.Amount.String(),
	})
	s.logger.Info("withdrawal completed",
		ports.String("withdrawal_id", withdrawal.ID),
		ports.String("amount", withdrawal.Amount.String()),
		ports.String("fee", withdrawal.Fee.String()),
	)
	return withdrawal, nil
}

// MarkFailed records an unsuccessful payout attempt. The wallet is never
// touched: no debit happened, so there is nothing to restore.
func (s *Service) MarkFailed(ctx context.Context, id, adminNotes string) (*models.Withdrawal, error) {
	return s.resolveWithoutPayout(ctx, id, models.WithdrawalFailed, adminNotes)
}

// MarkRejected records an admin rejection. The wallet is never touched.
func (s *Service) MarkRejected(ctx context.Context, id, adminNotes string) (*models.Withdrawal, error) {
	return s.resolveWithoutPayout(ctx, id, models.WithdrawalRejected, adminNotes)
}

func (s *Service) resolveWithoutPayout(ctx context.Context, id string, status models.WithdrawalStatus, adminNotes string) (*models.Withdrawal, error) {
	withdrawal, err := s.loadOpen(ctx, id)
	if err != nil {
		return nil, err
	}
	ok, err := s.withdrawals.ResolveIfOpen(ctx, nil, id, status, adminNotes, "")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, terminalError(id)
	}
	withdrawal.Status = status
	withdrawal.AdminNotes = adminNotes

	observability.RecordWithdrawalTransition(string(status))
	s.notify(ctx, withdrawal.UserID, ports.NotifyWithdrawalResolved, map[string]string{
		"withdrawal_id": withdrawal.ID,
		"status":        string(status),
		"notes":         adminNotes,
	})
	return withdrawal, nil
}

// AddBank registers a payout destination for the user
func (s *Service) AddBank(ctx context.Context, bank *models.Bank) (*models.Bank, error) {
	if bank.ID == "" {
		bank.ID = uuid.NewString()
	}
	if err := s.banks.Create(ctx, nil, bank); err != nil {
		return nil, err
	}
	return bank, nil
}

// ListBanks returns the user's payout destinations
func (s *Service) ListBanks(ctx context.Context, userID string) ([]*models.Bank, error) {
	return s.banks.ListByUserID(ctx, nil, userID)
}

// loadOpen loads a withdrawal and rejects terminal ones
func (s *Service) loadOpen(ctx context.Context, id string) (*models.Withdrawal, error) {
	withdrawal, err := s.withdrawals.GetByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if withdrawal.Status.IsTerminal() {
		return nil, terminalError(id).WithDetail("status", string(withdrawal.Status))
	}
	return withdrawal, nil
}

// terminalError reports that a transition lost to an already-resolved
// withdrawal
func terminalError(id string) *domain.DomainError {
	return domain.NewDomainError(domain.ErrorCodeWithdrawalTerminal, "withdrawal is already in a terminal state").
		WithDetail("withdrawal_id", id)
}

func (s *Service) ensureNoActiveWithdrawal(ctx context.Context, userID string) error {
	active, err := s.withdrawals.GetActiveByUserID(ctx, nil, userID)
	if err != nil {
		if domain.IsNotFoundError(err) {
			return nil
		}
		return err
	}
	return domain.NewDomainError(domain.ErrorCodeWithdrawalActive, "an unresolved withdrawal already exists").
		WithDetail("withdrawal_id", active.ID)
}

// generateCode draws a 6-digit passcode from crypto/rand
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", fmt.Errorf("failed to generate otp: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
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

func (s *Service) notifyActor(ctx context.Context, actor models.Actor, kind ports.NotificationKind, payload map[string]string) {
	if err := s.notifier.NotifyActor(ctx, actor, kind, payload); err != nil {
		s.logger.Warn("actor notification delivery failed",
			ports.String("kind", string(kind)),
			ports.Err(err),
		)
	}
}
