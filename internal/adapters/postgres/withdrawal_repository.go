package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/sokomarket/payment-service/internal/domain"
	"github.com/sokomarket/payment-service/internal/domain/models"
	"github.com/sokomarket/payment-service/internal/domain/ports"
)

// WithdrawalRepository implements ports.WithdrawalRepository on pgx
type WithdrawalRepository struct {
	db ports.DBPort
}

// NewWithdrawalRepository creates a new withdrawal repository
func NewWithdrawalRepository(db ports.DBPort) *WithdrawalRepository {
	return &WithdrawalRepository{db: db}
}

func (r *WithdrawalRepository) q(tx ports.DBTX) ports.DBTX {
	if tx != nil {
		return tx
	}
	return r.db.GetDB()
}

const withdrawalColumns = `id, user_id, amount, fee, currency, country, bank_id, bank_name,
	account_number, account_name, status, otp_verified, admin_notes,
	transaction_reference, created_at, updated_at`

// Create inserts a new withdrawal row
func (r *WithdrawalRepository) Create(ctx context.Context, tx ports.DBTX, w *models.Withdrawal) error {
	amount, err := decimalToNumeric(w.Amount)
	if err != nil {
		return fmt.Errorf("convert amount: %w", err)
	}
	fee, err := decimalToNumeric(w.Fee)
	if err != nil {
		return fmt.Errorf("convert fee: %w", err)
	}

	_, err = r.q(tx).Exec(ctx, `
		INSERT INTO withdrawals (id, user_id, amount, fee, currency, country, bank_id,
			bank_name, account_number, account_name, status, otp_verified, admin_notes,
			transaction_reference, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, now(), now())`,
		w.ID, w.UserID, amount, fee, w.Currency, w.Country, nullText(w.BankID),
		w.BankName, w.AccountNumber, w.AccountName, string(w.Status), w.OTPVerified,
		nullText(w.AdminNotes), nullText(w.TransactionReference),
	)
	if err != nil {
		return fmt.Errorf("create withdrawal: %w", err)
	}
	return nil
}

// GetByID retrieves a withdrawal by id
func (r *WithdrawalRepository) GetByID(ctx context.Context, tx ports.DBTX, id string) (*models.Withdrawal, error) {
	row := r.q(tx).QueryRow(ctx,
		`SELECT `+withdrawalColumns+` FROM withdrawals WHERE id = $1`, id)
	return r.scanWithdrawal(row)
}

// GetActiveByUserID returns the user's non-terminal withdrawal if one exists
func (r *WithdrawalRepository) GetActiveByUserID(ctx context.Context, tx ports.DBTX, userID string) (*models.Withdrawal, error) {
	row := r.q(tx).QueryRow(ctx, `
		SELECT `+withdrawalColumns+`
		FROM withdrawals
		WHERE user_id = $1 AND status IN ($2, $3)
		ORDER BY created_at DESC
		LIMIT 1`,
		userID, string(models.WithdrawalPending), string(models.WithdrawalProcessing),
	)
	return r.scanWithdrawal(row)
}

// ResolveIfOpen transitions the withdrawal, recording admin notes and an
// optional external transaction reference. The update only matches rows still
// pending or processing, so a retry against an already-resolved withdrawal
// reports false instead of overwriting the terminal state.
func (r *WithdrawalRepository) ResolveIfOpen(ctx context.Context, tx ports.DBTX, id string, status models.WithdrawalStatus, adminNotes, txnReference string) (bool, error) {
	tag, err := r.q(tx).Exec(ctx, `
		UPDATE withdrawals
		SET status = $2,
		    admin_notes = COALESCE(NULLIF($3, ''), admin_notes),
		    transaction_reference = COALESCE(NULLIF($4, ''), transaction_reference),
		    updated_at = now()
		WHERE id = $1 AND status IN ($5, $6)`,
		id, string(status), adminNotes, txnReference,
		string(models.WithdrawalPending), string(models.WithdrawalProcessing),
	)
	if err != nil {
		return false, fmt.Errorf("resolve withdrawal: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListPending lists withdrawals awaiting admin action, oldest first
func (r *WithdrawalRepository) ListPending(ctx context.Context, tx ports.DBTX, limit, offset int32) ([]*models.Withdrawal, error) {
	rows, err := r.q(tx).Query(ctx, `
		SELECT `+withdrawalColumns+`
		FROM withdrawals
		WHERE status IN ($1, $2)
		ORDER BY created_at ASC
		LIMIT $3 OFFSET $4`,
		string(models.WithdrawalPending), string(models.WithdrawalProcessing),
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list pending withdrawals: %w", err)
	}
	defer rows.Close()

	var withdrawals []*models.Withdrawal
	for rows.Next() {
		w, err := r.scanWithdrawalRows(rows)
		if err != nil {
			return nil, err
		}
		withdrawals = append(withdrawals, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate withdrawals: %w", err)
	}
	return withdrawals, nil
}

func (r *WithdrawalRepository) scanWithdrawal(row pgx.Row) (*models.Withdrawal, error) {
	w, err := scanWithdrawalFields(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrWithdrawalNotFound
		}
		return nil, err
	}
	return w, nil
}

func (r *WithdrawalRepository) scanWithdrawalRows(rows pgx.Rows) (*models.Withdrawal, error) {
	return scanWithdrawalFields(rows)
}

func scanWithdrawalFields(row pgx.Row) (*models.Withdrawal, error) {
	var (
		w          models.Withdrawal
		amount     pgtype.Numeric
		fee        pgtype.Numeric
		bankID     pgtype.Text
		status     string
		adminNotes pgtype.Text
		txnRef     pgtype.Text
	)

	err := row.Scan(&w.ID, &w.UserID, &amount, &fee, &w.Currency, &w.Country, &bankID,
		&w.BankName, &w.AccountNumber, &w.AccountName, &status, &w.OTPVerified,
		&adminNotes, &txnRef, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if w.Amount, err = pgNumericToDecimal(amount); err != nil {
		return nil, fmt.Errorf("convert amount: %w", err)
	}
	if w.Fee, err = pgNumericToDecimal(fee); err != nil {
		return nil, fmt.Errorf("convert fee: %w", err)
	}

	w.BankID = bankID.String
	w.Status = models.WithdrawalStatus(status)
	w.AdminNotes = adminNotes.String
	w.TransactionReference = txnRef.String

	return &w, nil
}
