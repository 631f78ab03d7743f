package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sokomarket/payment-service/internal/domain"
	"github.com/sokomarket/payment-service/internal/domain/models"
	"github.com/sokomarket/payment-service/internal/domain/ports"
)

// BankRepository implements ports.BankRepository on pgx
type BankRepository struct {
	db ports.DBPort
}

// NewBankRepository creates a new bank repository
func NewBankRepository(db ports.DBPort) *BankRepository {
	return &BankRepository{db: db}
}

func (r *BankRepository) q(tx ports.DBTX) ports.DBTX {
	if tx != nil {
		return tx
	}
	return r.db.GetDB()
}

// Create inserts a payout destination. A unique index on
// (user_id, bank_name, account_number) backs the duplicate guard.
func (r *BankRepository) Create(ctx context.Context, tx ports.DBTX, bank *models.Bank) error {
	_, err := r.q(tx).Exec(ctx, `
		INSERT INTO banks (id, user_id, bank_name, bank_code, account_number, account_name, country, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())`,
		bank.ID, bank.UserID, bank.BankName, bank.BankCode, bank.AccountNumber,
		bank.AccountName, bank.Country,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrDuplicateBank
		}
		return fmt.Errorf("create bank: %w", err)
	}
	return nil
}

// GetByID retrieves a bank by id
func (r *BankRepository) GetByID(ctx context.Context, tx ports.DBTX, id string) (*models.Bank, error) {
	row := r.q(tx).QueryRow(ctx, `
		SELECT id, user_id, bank_name, bank_code, account_number, account_name, country, created_at
		FROM banks WHERE id = $1`, id)

	var b models.Bank
	err := row.Scan(&b.ID, &b.UserID, &b.BankName, &b.BankCode, &b.AccountNumber,
		&b.AccountName, &b.Country, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrBankNotFound
		}
		return nil, fmt.Errorf("scan bank: %w", err)
	}
	return &b, nil
}

// ListByUserID lists a user's payout destinations
func (r *BankRepository) ListByUserID(ctx context.Context, tx ports.DBTX, userID string) ([]*models.Bank, error) {
	rows, err := r.q(tx).Query(ctx, `
		SELECT id, user_id, bank_name, bank_code, account_number, account_name, country, created_at
		FROM banks WHERE user_id = $1 ORDER BY created_at ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list banks: %w", err)
	}
	defer rows.Close()

	var banks []*models.Bank
	for rows.Next() {
		var b models.Bank
		err := rows.Scan(&b.ID, &b.UserID, &b.BankName, &b.BankCode, &b.AccountNumber,
			&b.AccountName, &b.Country, &b.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan bank: %w", err)
		}
		banks = append(banks, &b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate banks: %w", err)
	}
	return banks, nil
}
