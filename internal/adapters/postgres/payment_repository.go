package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/sokomarket/payment-service/internal/domain"
	"github.com/sokomarket/payment-service/internal/domain/models"
	"github.com/sokomarket/payment-service/internal/domain/ports"
)

// PaymentRepository implements ports.PaymentRepository on pgx
type PaymentRepository struct {
	db ports.DBPort
}

// NewPaymentRepository creates a new payment repository
func NewPaymentRepository(db ports.DBPort) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) q(tx ports.DBTX) ports.DBTX {
	if tx != nil {
		return tx
	}
	return r.db.GetDB()
}

const paymentColumns = `id, reference, order_id, customer_id, vendor_id, method, provider,
	status, amount, currency, external_reference, gateway_response, failure_reason,
	created_at, updated_at`

// Create inserts a new payment row. A partial unique index on order_id over
// rows whose status is not failed or cancelled backs the one-live-payment
// guarantee, so two concurrent attempts for the same order cannot both land.
func (r *PaymentRepository) Create(ctx context.Context, tx ports.DBTX, payment *models.Payment) error {
	amount, err := decimalToNumeric(payment.Amount)
	if err != nil {
		return fmt.Errorf("convert amount: %w", err)
	}

	gatewayResponse := payment.GatewayResponse
	if gatewayResponse == nil {
		gatewayResponse = json.RawMessage("{}")
	}

	_, err = r.q(tx).Exec(ctx, `
		INSERT INTO payments (id, reference, order_id, customer_id, vendor_id, method,
			provider, status, amount, currency, external_reference, gateway_response,
			failure_reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, now(), now())`,
		payment.ID,
		payment.Reference,
		nullText(payment.OrderID),
		payment.CustomerID,
		nullText(payment.VendorID),
		string(payment.Method),
		string(payment.Provider),
		string(payment.Status),
		amount,
		payment.Currency,
		nullText(payment.ExternalReference),
		[]byte(gatewayResponse),
		nullText(payment.FailureReason),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrDuplicatePayment
		}
		return fmt.Errorf("create payment: %w", err)
	}

	return nil
}

// GetByID retrieves a payment by its id
func (r *PaymentRepository) GetByID(ctx context.Context, tx ports.DBTX, id string) (*models.Payment, error) {
	row := r.q(tx).QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
	return r.scanPayment(row)
}

// GetByReference retrieves a payment by its idempotent reference
func (r *PaymentRepository) GetByReference(ctx context.Context, tx ports.DBTX, reference string) (*models.Payment, error) {
	row := r.q(tx).QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE reference = $1`, reference)
	return r.scanPayment(row)
}

// GetByOrderID retrieves the payment attached to an order. An order can hold
// one live payment beside any number of failed or cancelled attempts; live
// rows win, then the newest attempt.
func (r *PaymentRepository) GetByOrderID(ctx context.Context, tx ports.DBTX, orderID string) (*models.Payment, error) {
	row := r.q(tx).QueryRow(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE order_id = $1
		ORDER BY status IN ($2, $3), created_at DESC
		LIMIT 1`,
		orderID, string(models.PaymentFailed), string(models.PaymentCancelled),
	)
	return r.scanPayment(row)
}

// MarkProcessing stores the gateway's external reference and moves the payment
// from pending to processing
func (r *PaymentRepository) MarkProcessing(ctx context.Context, tx ports.DBTX, id, externalReference string, gatewayResponse json.RawMessage) error {
	tag, err := r.q(tx).Exec(ctx, `
		UPDATE payments
		SET status = $2, external_reference = $3, gateway_response = $4, updated_at = now()
		WHERE id = $1 AND status = $5`,
		id,
		string(models.PaymentProcessing),
		nullText(externalReference),
		rawOrEmpty(gatewayResponse),
		string(models.PaymentPending),
	)
	if err != nil {
		return fmt.Errorf("mark payment processing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPaymentInvalidState.WithDetail("payment_id", id)
	}
	return nil
}

// CompleteIfNot transitions the payment to completed unless it already is.
// The conditional UPDATE is the compare-and-set guard against a webhook and a
// manual verification racing on the same payment.
func (r *PaymentRepository) CompleteIfNot(ctx context.Context, tx ports.DBTX, id, externalReference string, gatewayResponse json.RawMessage) (bool, error) {
	tag, err := r.q(tx).Exec(ctx, `
		UPDATE payments
		SET status = $2,
		    external_reference = COALESCE(NULLIF($3, ''), external_reference),
		    gateway_response = $4,
		    updated_at = now()
		WHERE id = $1 AND status <> $2`,
		id,
		string(models.PaymentCompleted),
		externalReference,
		rawOrEmpty(gatewayResponse),
	)
	if err != nil {
		return false, fmt.Errorf("complete payment: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkFailed records the failure reason from the gateway. A payment that
// already completed or was refunded is left untouched: a stale failure
// webhook racing a successful verification must not undo the completion, so
// zero affected rows is a no-op rather than an error.
func (r *PaymentRepository) MarkFailed(ctx context.Context, tx ports.DBTX, id, failureReason string, gatewayResponse json.RawMessage) error {
	_, err := r.q(tx).Exec(ctx, `
		UPDATE payments
		SET status = $2, failure_reason = $3, gateway_response = $4, updated_at = now()
		WHERE id = $1 AND status NOT IN ($5, $6, $7)`,
		id,
		string(models.PaymentFailed),
		nullText(failureReason),
		rawOrEmpty(gatewayResponse),
		string(models.PaymentCompleted),
		string(models.PaymentRefunded),
		string(models.PaymentPartiallyRefunded),
	)
	if err != nil {
		return fmt.Errorf("mark payment failed: %w", err)
	}
	return nil
}

// UpdateStatus sets the payment status
func (r *PaymentRepository) UpdateStatus(ctx context.Context, tx ports.DBTX, id string, status models.PaymentStatus) error {
	tag, err := r.q(tx).Exec(ctx, `
		UPDATE payments SET status = $2, updated_at = now() WHERE id = $1`,
		id, string(status),
	)
	if err != nil {
		return fmt.Errorf("update payment status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPaymentNotFound.WithDetail("payment_id", id)
	}
	return nil
}

func (r *PaymentRepository) scanPayment(row pgx.Row) (*models.Payment, error) {
	var (
		p               models.Payment
		orderID         pgtype.Text
		vendorID        pgtype.Text
		method          string
		provider        string
		status          string
		amount          pgtype.Numeric
		externalRef     pgtype.Text
		gatewayResponse []byte
		failureReason   pgtype.Text
	)

	err := row.Scan(&p.ID, &p.Reference, &orderID, &p.CustomerID, &vendorID, &method,
		&provider, &status, &amount, &p.Currency, &externalRef, &gatewayResponse,
		&failureReason, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("scan payment: %w", err)
	}

	p.Amount, err = pgNumericToDecimal(amount)
	if err != nil {
		return nil, fmt.Errorf("convert amount: %w", err)
	}

	p.OrderID = orderID.String
	p.VendorID = vendorID.String
	p.Method = models.PaymentMethod(method)
	p.Provider = models.Provider(provider)
	p.Status = models.PaymentStatus(status)
	p.ExternalReference = externalRef.String
	p.GatewayResponse = json.RawMessage(gatewayResponse)
	p.FailureReason = failureReason.String

	return &p, nil
}

func rawOrEmpty(raw json.RawMessage) []byte {
	if raw == nil {
		return []byte("{}")
	}
	return []byte(raw)
}
