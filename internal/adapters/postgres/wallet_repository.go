package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
	"github.com/sokomarket/payment-service/internal/domain"
	"github.com/sokomarket/payment-service/internal/domain/models"
	"github.com/sokomarket/payment-service/internal/domain/ports"
)

// WalletRepository implements ports.WalletRepository on pgx
type WalletRepository struct {
	db ports.DBPort
}

// NewWalletRepository creates a new wallet repository
func NewWalletRepository(db ports.DBPort) *WalletRepository {
	return &WalletRepository{db: db}
}

func (r *WalletRepository) q(tx ports.DBTX) ports.DBTX {
	if tx != nil {
		return tx
	}
	return r.db.GetDB()
}

const walletColumns = `id, user_id, balance, currency, daily_limit, monthly_limit, created_at, updated_at`

// CreateWallet inserts a new wallet row
func (r *WalletRepository) CreateWallet(ctx context.Context, tx ports.DBTX, wallet *models.Wallet) error {
	balance, err := decimalToNumeric(wallet.Balance)
	if err != nil {
		return fmt.Errorf("convert balance: %w", err)
	}
	daily, err := decimalToNumeric(wallet.DailyLimit)
	if err != nil {
		return fmt.Errorf("convert daily limit: %w", err)
	}
	monthly, err := decimalToNumeric(wallet.MonthlyLimit)
	if err != nil {
		return fmt.Errorf("convert monthly limit: %w", err)
	}

	_, err = r.q(tx).Exec(ctx, `
		INSERT INTO wallets (id, user_id, balance, currency, daily_limit, monthly_limit, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())`,
		wallet.ID, wallet.UserID, balance, wallet.Currency, daily, monthly,
	)
	if err != nil {
		return fmt.Errorf("create wallet: %w", err)
	}
	return nil
}

// GetWalletByUserID retrieves a wallet by owner
func (r *WalletRepository) GetWalletByUserID(ctx context.Context, tx ports.DBTX, userID string) (*models.Wallet, error) {
	row := r.q(tx).QueryRow(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE user_id = $1`, userID)
	return r.scanWallet(row)
}

// GetWallet retrieves a wallet by id
func (r *WalletRepository) GetWallet(ctx context.Context, tx ports.DBTX, walletID string) (*models.Wallet, error) {
	row := r.q(tx).QueryRow(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE id = $1`, walletID)
	return r.scanWallet(row)
}

// LockWallet reads the wallet FOR UPDATE. Must be called inside a transaction;
// the row lock serializes concurrent balance mutations on the same wallet.
func (r *WalletRepository) LockWallet(ctx context.Context, tx ports.DBTX, walletID string) (*models.Wallet, error) {
	if tx == nil {
		return nil, fmt.Errorf("lock wallet: transaction required")
	}
	row := tx.QueryRow(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE id = $1 FOR UPDATE`, walletID)
	return r.scanWallet(row)
}

// UpdateBalance writes the new wallet balance
func (r *WalletRepository) UpdateBalance(ctx context.Context, tx ports.DBTX, walletID string, balance decimal.Decimal) error {
	bal, err := decimalToNumeric(balance)
	if err != nil {
		return fmt.Errorf("convert balance: %w", err)
	}
	tag, err := r.q(tx).Exec(ctx, `
		UPDATE wallets SET balance = $2, updated_at = now() WHERE id = $1`,
		walletID, bal,
	)
	if err != nil {
		return fmt.Errorf("update balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrWalletNotFound.WithDetail("wallet_id", walletID)
	}
	return nil
}

// AppendTransaction writes a ledger entry. Ledger rows are never updated or
// deleted except for the reversed flag.
func (r *WalletRepository) AppendTransaction(ctx context.Context, tx ports.DBTX, txn *models.Transaction) error {
	amount, err := decimalToNumeric(txn.Amount)
	if err != nil {
		return fmt.Errorf("convert amount: %w", err)
	}
	before, err := decimalToNumeric(txn.BalanceBefore)
	if err != nil {
		return fmt.Errorf("convert balance_before: %w", err)
	}
	after, err := decimalToNumeric(txn.BalanceAfter)
	if err != nil {
		return fmt.Errorf("convert balance_after: %w", err)
	}

	_, err = r.q(tx).Exec(ctx, `
		INSERT INTO wallet_transactions (id, wallet_id, type, amount, balance_before,
			balance_after, reference_id, description, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())`,
		txn.ID, txn.WalletID, string(txn.Type), amount, before, after,
		nullText(txn.ReferenceID), nullText(txn.Description), string(txn.Status),
	)
	if err != nil {
		return fmt.Errorf("append transaction: %w", err)
	}
	return nil
}

const transactionColumns = `id, wallet_id, type, amount, balance_before, balance_after,
	reference_id, description, status, reversed_at, reversal_reason, created_at`

// ListTransactions lists ledger entries for a wallet, newest first
func (r *WalletRepository) ListTransactions(ctx context.Context, tx ports.DBTX, walletID string, limit, offset int32) ([]*models.Transaction, error) {
	rows, err := r.q(tx).Query(ctx, `
		SELECT `+transactionColumns+`
		FROM wallet_transactions
		WHERE wallet_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`,
		walletID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	return r.collectTransactions(rows)
}

// FindDuplicateCredits returns completed, non-reversed credit entries
// belonging to a (reference_id, amount) group with more than one member,
// oldest first within each group.
func (r *WalletRepository) FindDuplicateCredits(ctx context.Context, tx ports.DBTX, walletID string) ([]*models.Transaction, error) {
	rows, err := r.q(tx).Query(ctx, `
		SELECT `+transactionColumns+`
		FROM wallet_transactions
		WHERE wallet_id = $1
		  AND type = $2
		  AND status = $3
		  AND reference_id IS NOT NULL
		  AND (reference_id, amount) IN (
			SELECT reference_id, amount
			FROM wallet_transactions
			WHERE wallet_id = $1 AND type = $2 AND status = $3 AND reference_id IS NOT NULL
			GROUP BY reference_id, amount
			HAVING count(*) > 1
		  )
		ORDER BY reference_id, amount, created_at ASC`,
		walletID, string(models.TxnCredit), string(models.TxnCompleted),
	)
	if err != nil {
		return nil, fmt.Errorf("find duplicate credits: %w", err)
	}
	defer rows.Close()

	return r.collectTransactions(rows)
}

// MarkReversed flags a ledger entry as reversed without touching its amounts
func (r *WalletRepository) MarkReversed(ctx context.Context, tx ports.DBTX, transactionID, reason string, at time.Time) error {
	tag, err := r.q(tx).Exec(ctx, `
		UPDATE wallet_transactions
		SET status = $2, reversed_at = $3, reversal_reason = $4
		WHERE id = $1`,
		transactionID, string(models.TxnReversed), at, nullText(reason),
	)
	if err != nil {
		return fmt.Errorf("mark transaction reversed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark transaction reversed: no row for %s", transactionID)
	}
	return nil
}

// SumSignedAmounts audits the balance invariant: credits minus debits across
// all completed entries (reversed rows keep their original sign; the
// correction debit rebalances them).
func (r *WalletRepository) SumSignedAmounts(ctx context.Context, tx ports.DBTX, walletID string) (decimal.Decimal, error) {
	row := r.q(tx).QueryRow(ctx, `
		SELECT COALESCE(SUM(
			CASE WHEN type IN ($2, $3) THEN amount ELSE -amount END
		), 0)
		FROM wallet_transactions
		WHERE wallet_id = $1 AND status IN ($4, $5)`,
		walletID,
		string(models.TxnCredit), string(models.TxnRefund),
		string(models.TxnCompleted), string(models.TxnReversed),
	)

	var sum pgtype.Numeric
	if err := row.Scan(&sum); err != nil {
		return decimal.Zero, fmt.Errorf("sum signed amounts: %w", err)
	}
	return pgNumericToDecimal(sum)
}

func (r *WalletRepository) scanWallet(row pgx.Row) (*models.Wallet, error) {
	var (
		w       models.Wallet
		balance pgtype.Numeric
		daily   pgtype.Numeric
		monthly pgtype.Numeric
	)

	err := row.Scan(&w.ID, &w.UserID, &balance, &w.Currency, &daily, &monthly,
		&w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrWalletNotFound
		}
		return nil, fmt.Errorf("scan wallet: %w", err)
	}

	if w.Balance, err = pgNumericToDecimal(balance); err != nil {
		return nil, fmt.Errorf("convert balance: %w", err)
	}
	if w.DailyLimit, err = pgNumericToDecimal(daily); err != nil {
		return nil, fmt.Errorf("convert daily limit: %w", err)
	}
	if w.MonthlyLimit, err = pgNumericToDecimal(monthly); err != nil {
		return nil, fmt.Errorf("convert monthly limit: %w", err)
	}

	return &w, nil
}

func (r *WalletRepository) collectTransactions(rows pgx.Rows) ([]*models.Transaction, error) {
	var txns []*models.Transaction
	for rows.Next() {
		var (
			t          models.Transaction
			txnType    string
			amount     pgtype.Numeric
			before     pgtype.Numeric
			after      pgtype.Numeric
			refID      pgtype.Text
			desc       pgtype.Text
			status     string
			reversedAt pgtype.Timestamptz
			reason     pgtype.Text
		)

		err := rows.Scan(&t.ID, &t.WalletID, &txnType, &amount, &before, &after,
			&refID, &desc, &status, &reversedAt, &reason, &t.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}

		if t.Amount, err = pgNumericToDecimal(amount); err != nil {
			return nil, fmt.Errorf("convert amount: %w", err)
		}
		if t.BalanceBefore, err = pgNumericToDecimal(before); err != nil {
			return nil, fmt.Errorf("convert balance_before: %w", err)
		}
		if t.BalanceAfter, err = pgNumericToDecimal(after); err != nil {
			return nil, fmt.Errorf("convert balance_after: %w", err)
		}

		t.Type = models.TransactionType(txnType)
		t.ReferenceID = refID.String
		t.Description = desc.String
		t.Status = models.TransactionStatus(status)
		if reversedAt.Valid {
			at := reversedAt.Time
			t.ReversedAt = &at
		}
		t.ReversalReason = reason.String

		txns = append(txns, &t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}

	return txns, nil
}
