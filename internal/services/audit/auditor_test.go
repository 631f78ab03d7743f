package audit_test

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

	"github.com/sokomarket/payment-service/internal/domain/models"
	"github.com/sokomarket/payment-service/internal/domain/ports"
	"github.com/sokomarket/payment-service/internal/services/audit"
	"github.com/sokomarket/payment-service/pkg/security"
)

type MockDBPort struct{}

func (m *MockDBPort) GetDB() *pgxpool.Pool { return nil }

func (m *MockDBPort) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	return fn(ctx, nil)
}

func (m *MockDBPort) WithReadOnlyTransaction(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	return fn(ctx, nil)
}

type MockWalletRepository struct {
	mock.Mock
}

func (m *MockWalletRepository) CreateWallet(ctx context.Context, tx ports.DBTX, wallet *models.Wallet) error {
	args := m.Called(ctx, tx, wallet)
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

func newAuditor(wallets *MockWalletRepository) *audit.Auditor {
	return audit.NewAuditor(&MockDBPort{}, wallets, security.NewZapLogger(zap.NewNop()))
}

// duplicateCredits returns three completed credits sharing a reference and
// amount, oldest first, the shape FindDuplicateCredits promises.
func duplicateCredits(walletID string) []*models.Transaction {
	base := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)
	amount := decimal.NewFromInt(2000)
	entries := make([]*models.Transaction, 0, 3)
	for i, id := range []string{"txn-1", "txn-2", "txn-3"} {
		entries = append(entries, &models.Transaction{
			ID:          id,
			WalletID:    walletID,
			Type:        models.TxnCredit,
			Amount:      amount,
			ReferenceID: "PAY-dup",
			Status:      models.TxnCompleted,
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		})
	}
	return entries
}

func TestDetectGroupsDuplicatesIntoClusters(t *testing.T) {
	wallets := new(MockWalletRepository)
	wallets.On("FindDuplicateCredits", mock.Anything, mock.Anything, "wallet-1").
		Return(duplicateCredits("wallet-1"), nil)
	auditor := newAuditor(wallets)

	report, err := auditor.Detect(context.Background(), "wallet-1")
	require.NoError(t, err)
	require.Len(t, report.Clusters, 1)

	cluster := report.Clusters[0]
	assert.Equal(t, "txn-1", cluster.Authoritative.ID)
	assert.Len(t, cluster.Removable, 2)
	assert.True(t, cluster.Excess().Equal(decimal.NewFromInt(4000)))
	assert.True(t, report.TotalExcess.Equal(decimal.NewFromInt(4000)))
	assert.False(t, report.Corrected)
}

func TestDetectSeparatesDifferentAmounts(t *testing.T) {
	entries := duplicateCredits("wallet-1")
	// Same reference but a different amount starts a new cluster
	entries = append(entries,
		&models.Transaction{
			ID: "txn-4", WalletID: "wallet-1", Type: models.TxnCredit,
			Amount: decimal.NewFromInt(750), ReferenceID: "PAY-dup", Status: models.TxnCompleted,
		},
		&models.Transaction{
			ID: "txn-5", WalletID: "wallet-1", Type: models.TxnCredit,
			Amount: decimal.NewFromInt(750), ReferenceID: "PAY-dup", Status: models.TxnCompleted,
		},
	)
	wallets := new(MockWalletRepository)
	wallets.On("FindDuplicateCredits", mock.Anything, mock.Anything, "wallet-1").Return(entries, nil)

	report, err := newAuditor(wallets).Detect(context.Background(), "wallet-1")
	require.NoError(t, err)
	require.Len(t, report.Clusters, 2)
	assert.True(t, report.Clusters[1].Excess().Equal(decimal.NewFromInt(750)))
	assert.True(t, report.TotalExcess.Equal(decimal.NewFromInt(4750)))
}

func TestCorrectReversesDuplicatesAndRestoresBalance(t *testing.T) {
	wallets := new(MockWalletRepository)
	wallets.On("LockWallet", mock.Anything, mock.Anything, "wallet-1").
		Return(&models.Wallet{ID: "wallet-1", UserID: "user-1", Balance: decimal.NewFromInt(6000), Currency: "NGN"}, nil)
	wallets.On("FindDuplicateCredits", mock.Anything, mock.Anything, "wallet-1").
		Return(duplicateCredits("wallet-1"), nil)
	wallets.On("MarkReversed", mock.Anything, mock.Anything, "txn-2", "duplicate credit", mock.Anything).Return(nil)
	wallets.On("MarkReversed", mock.Anything, mock.Anything, "txn-3", "duplicate credit", mock.Anything).Return(nil)

	var compensating *models.Transaction
	wallets.On("AppendTransaction", mock.Anything, mock.Anything, mock.MatchedBy(func(txn *models.Transaction) bool {
		compensating = txn
		return txn.Type == models.TxnReversal
	})).Return(nil)
	wallets.On("UpdateBalance", mock.Anything, mock.Anything, "wallet-1",
		mock.MatchedBy(func(d decimal.Decimal) bool { return d.Equal(decimal.NewFromInt(2000)) })).Return(nil)

	report, err := newAuditor(wallets).Correct(context.Background(), "wallet-1")
	require.NoError(t, err)
	assert.True(t, report.Corrected)

	require.NotNil(t, compensating)
	assert.True(t, compensating.Amount.Equal(decimal.NewFromInt(4000)))
	assert.True(t, compensating.BalanceBefore.Equal(decimal.NewFromInt(6000)))
	assert.True(t, compensating.BalanceAfter.Equal(decimal.NewFromInt(2000)))
	assert.Equal(t, "PAY-dup", compensating.ReferenceID)
	wallets.AssertNumberOfCalls(t, "MarkReversed", 2)
	wallets.AssertNumberOfCalls(t, "AppendTransaction", 1)
	wallets.AssertExpectations(t)
}

func TestCorrectCleanWalletChangesNothing(t *testing.T) {
	wallets := new(MockWalletRepository)
	wallets.On("LockWallet", mock.Anything, mock.Anything, "wallet-1").
		Return(&models.Wallet{ID: "wallet-1", Balance: decimal.NewFromInt(2000), Currency: "NGN"}, nil)
	wallets.On("FindDuplicateCredits", mock.Anything, mock.Anything, "wallet-1").
		Return([]*models.Transaction{}, nil)

	report, err := newAuditor(wallets).Correct(context.Background(), "wallet-1")
	require.NoError(t, err)
	assert.False(t, report.Corrected)
	assert.Empty(t, report.Clusters)
	wallets.AssertNotCalled(t, "MarkReversed", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	wallets.AssertNotCalled(t, "AppendTransaction", mock.Anything, mock.Anything, mock.Anything)
	wallets.AssertNotCalled(t, "UpdateBalance", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
