package wallet_test

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sokomarket/payment-service/internal/domain"
	"github.com/sokomarket/payment-service/internal/domain/models"
	"github.com/sokomarket/payment-service/internal/domain/ports"
	"github.com/sokomarket/payment-service/internal/services/wallet"
	"github.com/sokomarket/payment-service/pkg/security"
)

// MockDBPort runs transaction callbacks inline with a nil tx
type MockDBPort struct{}

func (m *MockDBPort) GetDB() *pgxpool.Pool { return nil }

func (m *MockDBPort) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	return fn(ctx, nil)
}

func (m *MockDBPort) WithReadOnlyTransaction(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	return fn(ctx, nil)
}

// MockWalletRepository mocks the wallet repository
type MockWalletRepository struct {
	mock.Mock
}

func (m *MockWalletRepository) CreateWallet(ctx context.Context, tx ports.DBTX, w *models.Wallet) error {
	args := m.Called(ctx, tx, w)
	return args.Error(0)
}

func (m *MockWalletRepository) GetWalletByUserID(ctx context.Context, tx ports.DBTX, userID string) (*models.Wallet, error) {
	args := m.Called(ctx, tx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Wallet), args.Error(1)
}

func (m *MockWalletRepository) GetWallet(ctx context.Context, tx ports.DBTX, walletID string) (*models.Wallet, error) {
	args := m.Called(ctx, tx, walletID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Wallet), args.Error(1)
}

func (m *MockWalletRepository) LockWallet(ctx context.Context, tx ports.DBTX, walletID string) (*models.Wallet, error) {
	args := m.Called(ctx, tx, walletID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Wallet), args.Error(1)
}

func (m *MockWalletRepository) UpdateBalance(ctx context.Context, tx ports.DBTX, walletID string, balance decimal.Decimal) error {
	args := m.Called(ctx, tx, walletID, balance)
	return args.Error(0)
}

func (m *MockWalletRepository) AppendTransaction(ctx context.Context, tx ports.DBTX, txn *models.Transaction) error {
	args := m.Called(ctx, tx, txn)
	return args.Error(0)
}

func (m *MockWalletRepository) ListTransactions(ctx context.Context, tx ports.DBTX, walletID string, limit, offset int32) ([]*models.Transaction, error) {
	args := m.Called(ctx, tx, walletID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Transaction), args.Error(1)
}

func (m *MockWalletRepository) FindDuplicateCredits(ctx context.Context, tx ports.DBTX, walletID string) ([]*models.Transaction, error) {
	args := m.Called(ctx, tx, walletID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Transaction), args.Error(1)
}

func (m *MockWalletRepository) MarkReversed(ctx context.Context, tx ports.DBTX, transactionID, reason string, at time.Time) error {
	args := m.Called(ctx, tx, transactionID, reason, at)
	return args.Error(0)
}

func (m *MockWalletRepository) SumSignedAmounts(ctx context.Context, tx ports.DBTX, walletID string) (decimal.Decimal, error) {
	args := m.Called(ctx, tx, walletID)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func newService(repo *MockWalletRepository) *wallet.Service {
	return wallet.NewService(&MockDBPort{}, repo, security.NewZapLogger(zap.NewNop()))
}

func testWallet(userID string, balance decimal.Decimal) *models.Wallet {
	return &models.Wallet{
		ID:       "wal-" + userID,
		UserID:   userID,
		Balance:  balance,
		Currency: "NGN",
	}
}

func amountEq(expected decimal.Decimal) interface{} {
	return mock.MatchedBy(func(d decimal.Decimal) bool { return d.Equal(expected) })
}

func TestCreditVendorForOrderSplitsCommission(t *testing.T) {
	repo := new(MockWalletRepository)
	svc := newService(repo)

	vendorWallet := testWallet("vendor-1", decimal.Zero)
	repo.On("GetWalletByUserID", mock.Anything, mock.Anything, "vendor-1").Return(vendorWallet, nil)
	repo.On("LockWallet", mock.Anything, mock.Anything, vendorWallet.ID).Return(vendorWallet, nil)

	var entries []*models.Transaction
	repo.On("AppendTransaction", mock.Anything, mock.Anything, mock.AnythingOfType("*models.Transaction")).
		Run(func(args mock.Arguments) {
			entries = append(entries, args.Get(2).(*models.Transaction))
		}).Return(nil)
	repo.On("UpdateBalance", mock.Anything, mock.Anything, vendorWallet.ID, amountEq(decimal.NewFromInt(4250))).Return(nil)

	net, commission, err := svc.CreditVendorForOrder(context.Background(), "vendor-1",
		decimal.NewFromInt(5000), decimal.NewFromFloat(0.15), "PAY-1")
	require.NoError(t, err)

	assert.True(t, net.Equal(decimal.NewFromInt(4250)), "net = %s", net)
	assert.True(t, commission.Equal(decimal.NewFromInt(750)), "commission = %s", commission)

	require.Len(t, entries, 2)
	assert.Equal(t, models.TxnCredit, entries[0].Type)
	assert.True(t, entries[0].Amount.Equal(decimal.NewFromInt(5000)))
	assert.Equal(t, models.TxnCommission, entries[1].Type)
	assert.True(t, entries[1].Amount.Equal(decimal.NewFromInt(750)))

	// The two entries sum to the gross payment amount
	assert.True(t, entries[0].Amount.Sub(entries[1].Amount).Equal(net))
	repo.AssertExpectations(t)
}

func TestCreditVendorForOrderZeroCommissionSkipsEntry(t *testing.T) {
	repo := new(MockWalletRepository)
	svc := newService(repo)

	vendorWallet := testWallet("vendor-1", decimal.Zero)
	repo.On("GetWalletByUserID", mock.Anything, mock.Anything, "vendor-1").Return(vendorWallet, nil)
	repo.On("LockWallet", mock.Anything, mock.Anything, vendorWallet.ID).Return(vendorWallet, nil)

	var entries []*models.Transaction
	repo.On("AppendTransaction", mock.Anything, mock.Anything, mock.AnythingOfType("*models.Transaction")).
		Run(func(args mock.Arguments) {
			entries = append(entries, args.Get(2).(*models.Transaction))
		}).Return(nil)
	repo.On("UpdateBalance", mock.Anything, mock.Anything, vendorWallet.ID, amountEq(decimal.NewFromInt(5000))).Return(nil)

	net, commission, err := svc.CreditVendorForOrder(context.Background(), "vendor-1",
		decimal.NewFromInt(5000), decimal.Zero, "PAY-1")
	require.NoError(t, err)

	assert.True(t, net.Equal(decimal.NewFromInt(5000)))
	assert.True(t, commission.IsZero())
	require.Len(t, entries, 1)
	assert.Equal(t, models.TxnCredit, entries[0].Type)
}

func TestDebitInsufficientFundsLeavesWalletUntouched(t *testing.T) {
	repo := new(MockWalletRepository)
	svc := newService(repo)

	w := testWallet("user-1", decimal.NewFromInt(100))
	repo.On("GetWalletByUserID", mock.Anything, mock.Anything, "user-1").Return(w, nil)
	repo.On("LockWallet", mock.Anything, mock.Anything, w.ID).Return(w, nil)

	_, err := svc.Debit(context.Background(), "user-1", decimal.NewFromInt(250),
		models.TxnDebit, "PAY-2", "order payment")
	require.Error(t, err)
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeWalletInsufficientFunds))

	repo.AssertNotCalled(t, "UpdateBalance", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	repo.AssertNotCalled(t, "AppendTransaction", mock.Anything, mock.Anything, mock.Anything)
}

func TestCreditRejectsDebitDirectionType(t *testing.T) {
	repo := new(MockWalletRepository)
	svc := newService(repo)

	_, err := svc.Credit(context.Background(), "user-1", decimal.NewFromInt(100),
		models.TxnPayout, "ref", "desc")
	require.Error(t, err)
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeValidationFailed))
}

func TestDebitBalanceBeforeAfterRecorded(t *testing.T) {
	repo := new(MockWalletRepository)
	svc := newService(repo)

	w := testWallet("user-1", decimal.NewFromInt(500))
	repo.On("GetWalletByUserID", mock.Anything, mock.Anything, "user-1").Return(w, nil)
	repo.On("LockWallet", mock.Anything, mock.Anything, w.ID).Return(w, nil)
	repo.On("UpdateBalance", mock.Anything, mock.Anything, w.ID, amountEq(decimal.NewFromInt(300))).Return(nil)

	var entry *models.Transaction
	repo.On("AppendTransaction", mock.Anything, mock.Anything, mock.AnythingOfType("*models.Transaction")).
		Run(func(args mock.Arguments) { entry = args.Get(2).(*models.Transaction) }).Return(nil)

	txn, err := svc.Debit(context.Background(), "user-1", decimal.NewFromInt(200),
		models.TxnDebit, "PAY-3", "order payment")
	require.NoError(t, err)

	require.NotNil(t, entry)
	assert.True(t, entry.BalanceBefore.Equal(decimal.NewFromInt(500)))
	assert.True(t, entry.BalanceAfter.Equal(decimal.NewFromInt(300)))
	assert.Equal(t, models.TxnCompleted, entry.Status)
	assert.Equal(t, txn.ID, entry.ID)
}

func TestDebitForWithdrawalDrainsExactBalance(t *testing.T) {
	repo := new(MockWalletRepository)
	svc := newService(repo)

	w := testWallet("user-1", decimal.NewFromInt(1000))
	repo.On("GetWalletByUserID", mock.Anything, mock.Anything, "user-1").Return(w, nil)
	repo.On("LockWallet", mock.Anything, mock.Anything, w.ID).Return(w, nil)

	var entries []*models.Transaction
	repo.On("AppendTransaction", mock.Anything, mock.Anything, mock.AnythingOfType("*models.Transaction")).
		Run(func(args mock.Arguments) {
			entries = append(entries, args.Get(2).(*models.Transaction))
		}).Return(nil)
	repo.On("UpdateBalance", mock.Anything, mock.Anything, w.ID, amountEq(decimal.Zero)).Return(nil)

	err := svc.DebitForWithdrawal(context.Background(), "user-1",
		decimal.NewFromInt(1000), decimal.Zero, "wd-1")
	require.NoError(t, err)

	require.Len(t, entries, 1)
	assert.Equal(t, models.TxnPayout, entries[0].Type)
	assert.True(t, entries[0].BalanceAfter.IsZero())
	repo.AssertExpectations(t)
}

func TestDebitForWithdrawalWritesFeeEntry(t *testing.T) {
	repo := new(MockWalletRepository)
	svc := newService(repo)

	w := testWallet("user-1", decimal.NewFromInt(1050))
	repo.On("GetWalletByUserID", mock.Anything, mock.Anything, "user-1").Return(w, nil)
	repo.On("LockWallet", mock.Anything, mock.Anything, w.ID).Return(w, nil)

	var entries []*models.Transaction
	repo.On("AppendTransaction", mock.Anything, mock.Anything, mock.AnythingOfType("*models.Transaction")).
		Run(func(args mock.Arguments) {
			entries = append(entries, args.Get(2).(*models.Transaction))
		}).Return(nil)
	repo.On("UpdateBalance", mock.Anything, mock.Anything, w.ID, amountEq(decimal.Zero)).Return(nil)

	err := svc.DebitForWithdrawal(context.Background(), "user-1",
		decimal.NewFromInt(1000), decimal.NewFromInt(50), "wd-2")
	require.NoError(t, err)

	require.Len(t, entries, 2)
	assert.Equal(t, models.TxnPayout, entries[0].Type)
	assert.True(t, entries[0].Amount.Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, models.TxnFee, entries[1].Type)
	assert.True(t, entries[1].Amount.Equal(decimal.NewFromInt(50)))
	assert.True(t, entries[1].BalanceAfter.IsZero())
}

func TestDebitForWithdrawalFeePushesOverBalance(t *testing.T) {
	repo := new(MockWalletRepository)
	svc := newService(repo)

	w := testWallet("user-1", decimal.NewFromInt(1000))
	repo.On("GetWalletByUserID", mock.Anything, mock.Anything, "user-1").Return(w, nil)
	repo.On("LockWallet", mock.Anything, mock.Anything, w.ID).Return(w, nil)

	err := svc.DebitForWithdrawal(context.Background(), "user-1",
		decimal.NewFromInt(1000), decimal.NewFromInt(50), "wd-3")
	require.Error(t, err)
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeWalletInsufficientFunds))
	repo.AssertNotCalled(t, "AppendTransaction", mock.Anything, mock.Anything, mock.Anything)
}

func TestDebitTxRejectsCreditDirectionType(t *testing.T) {
	repo := new(MockWalletRepository)
	svc := newService(repo)

	_, err := svc.DebitTx(context.Background(), nil, "user-1", decimal.NewFromInt(100),
		models.TxnRefund, "ref", "desc")
	require.Error(t, err)
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeValidationFailed))
}

func TestLedgerEntryLandsBeforeBalanceWrite(t *testing.T) {
	repo := new(MockWalletRepository)
	svc := newService(repo)

	w := testWallet("user-1", decimal.NewFromInt(500))
	repo.On("GetWalletByUserID", mock.Anything, mock.Anything, "user-1").Return(w, nil)
	repo.On("LockWallet", mock.Anything, mock.Anything, w.ID).Return(w, nil)

	var calls []string
	repo.On("AppendTransaction", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { calls = append(calls, "append") }).Return(nil)
	repo.On("UpdateBalance", mock.Anything, mock.Anything, w.ID, mock.Anything).
		Run(func(args mock.Arguments) { calls = append(calls, "balance") }).Return(nil)

	_, err := svc.Credit(context.Background(), "user-1", decimal.NewFromInt(100),
		models.TxnCredit, "WF-1", "wallet top-up")
	require.NoError(t, err)

	// A partial failure must never leave a balance without its entry
	require.Equal(t, []string{"append", "balance"}, calls)
}

func TestAuditBalanceDetectsDrift(t *testing.T) {
	repo := new(MockWalletRepository)
	svc := newService(repo)

	w := testWallet("user-1", decimal.NewFromInt(700))
	repo.On("GetWalletByUserID", mock.Anything, mock.Anything, "user-1").Return(w, nil)
	repo.On("SumSignedAmounts", mock.Anything, mock.Anything, w.ID).Return(decimal.NewFromInt(500), nil)

	consistent, stored, computed, err := svc.AuditBalance(context.Background(), "user-1")
	require.NoError(t, err)
	assert.False(t, consistent)
	assert.True(t, stored.Equal(decimal.NewFromInt(700)))
	assert.True(t, computed.Equal(decimal.NewFromInt(500)))
}
