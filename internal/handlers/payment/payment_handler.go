// Package payment exposes the payment orchestrator over the marketplace's
// internal HTTP API. Callers are trusted services inside the perimeter; user
// identity arrives on the X-User-Id header set by the API gateway.
package payment

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sokomarket/payment-service/internal/domain"
	"github.com/sokomarket/payment-service/internal/domain/models"
	"github.com/sokomarket/payment-service/internal/handlers/respond"
	paymentsvc "github.com/sokomarket/payment-service/internal/services/payment"
)

// Handler serves the payment endpoints
type Handler struct {
	payments *paymentsvc.Service
	logger   *zap.Logger
}

// NewHandler creates a new payment handler
func NewHandler(payments *paymentsvc.Service, logger *zap.Logger) *Handler {
	return &Handler{payments: payments, logger: logger}
}

// Register mounts the payment routes on the mux
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /internal/v1/payments", h.ProcessPayment)
	mux.HandleFunc("GET /internal/v1/payments/{id}", h.GetPayment)
	mux.HandleFunc("POST /internal/v1/payments/verify", h.VerifyPayment)
	mux.HandleFunc("POST /internal/v1/payments/{id}/refund", h.RefundPayment)
	mux.HandleFunc("POST /internal/v1/wallet/topups", h.InitiateTopUp)
}

type processPaymentRequest struct {
	OrderID    string            `json:"order_id"`
	CustomerID string            `json:"customer_id"`
	Method     string            `json:"method"`
	PayerEmail string            `json:"payer_email"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type paymentResponse struct {
	ID                string          `json:"id"`
	Reference         string          `json:"reference"`
	OrderID           string          `json:"order_id,omitempty"`
	CustomerID        string          `json:"customer_id"`
	VendorID          string          `json:"vendor_id,omitempty"`
	Method            string          `json:"method"`
	Provider          string          `json:"provider"`
	Status            string          `json:"status"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	ExternalReference string          `json:"external_reference,omitempty"`
	FailureReason     string          `json:"failure_reason,omitempty"`
	RedirectURL       string          `json:"redirect_url,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

func toPaymentResponse(p *models.Payment, redirectURL string) paymentResponse {
	return paymentResponse{
		ID:                p.ID,
		Reference:         p.Reference,
		OrderID:           p.OrderID,
		CustomerID:        p.CustomerID,
		VendorID:          p.VendorID,
		Method:            string(p.Method),
		Provider:          string(p.Provider),
		Status:            string(p.Status),
		Amount:            p.Amount,
		Currency:          p.Currency,
		ExternalReference: p.ExternalReference,
		FailureReason:     p.FailureReason,
		RedirectURL:       redirectURL,
		CreatedAt:         p.CreatedAt,
		UpdatedAt:         p.UpdatedAt,
	}
}

// ProcessPayment takes a payment for an order.
// POST /internal/v1/payments
func (h *Handler) ProcessPayment(w http.ResponseWriter, r *http.Request) {
	var req processPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Error(w, domain.NewDomainError(domain.ErrorCodeValidationFailed, "malformed request body"))
		return
	}
	if req.OrderID == "" || req.CustomerID == "" || req.Method == "" {
		respond.Error(w, domain.NewDomainError(domain.ErrorCodeValidationMissingField,
			"order_id, customer_id and method are required"))
		return
	}

	result, err := h.payments.ProcessPayment(r.Context(), &paymentsvc.ProcessPaymentRequest{
		OrderID:    req.OrderID,
		CustomerID: req.CustomerID,
		Method:     models.PaymentMethod(req.Method),
		PayerEmail: req.PayerEmail,
		Metadata:   req.Metadata,
	})
	if err != nil {
		h.logger.Warn("process payment failed",
			zap.String("order_id", req.OrderID),
			zap.Error(err),
		)
		respond.Error(w, err)
		return
	}

	respond.JSON(w, http.StatusCreated, toPaymentResponse(result.Payment, result.RedirectURL))
}

// GetPayment returns one payment by id.
// GET /internal/v1/payments/{id}
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	p, err := h.payments.GetPayment(r.Context(), r.PathValue("id"))
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, toPaymentResponse(p, ""))
}

type verifyPaymentRequest struct {
	Reference string `json:"reference"`
}

// VerifyPayment re-checks a payment against its gateway and applies the
// outcome. Safe to call repeatedly.
// POST /internal/v1/payments/verify
func (h *Handler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	var req verifyPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Reference == "" {
		respond.Error(w, domain.NewDomainError(domain.ErrorCodeValidationMissingField, "reference is required"))
		return
	}

	p, err := h.payments.VerifyPayment(r.Context(), req.Reference)
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, toPaymentResponse(p, ""))
}

type refundPaymentRequest struct {
	Amount *decimal.Decimal `json:"amount,omitempty"`
	Reason string           `json:"reason"`
}

// RefundPayment refunds a completed payment, fully when amount is omitted.
// POST /internal/v1/payments/{id}/refund
func (h *Handler) RefundPayment(w http.ResponseWriter, r *http.Request) {
	var req refundPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Error(w, domain.NewDomainError(domain.ErrorCodeValidationFailed, "malformed request body"))
		return
	}

	p, err := h.payments.RefundPayment(r.Context(), r.PathValue("id"), req.Amount, req.Reason)
	if err != nil {
		h.logger.Warn("refund failed",
			zap.String("payment_id", r.PathValue("id")),
			zap.Error(err),
		)
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, toPaymentResponse(p, ""))
}

type topUpRequest struct {
	UserID     string          `json:"user_id"`
	Method     string          `json:"method"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	PayerEmail string          `json:"payer_email"`
}

// InitiateTopUp starts a wallet funding payment through an external rail.
// POST /internal/v1/wallet/topups
func (h *Handler) InitiateTopUp(w http.ResponseWriter, r *http.Request) {
	var req topUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Error(w, domain.NewDomainError(domain.ErrorCodeValidationFailed, "malformed request body"))
		return
	}
	if req.UserID == "" || req.Method == "" {
		respond.Error(w, domain.NewDomainError(domain.ErrorCodeValidationMissingField,
			"user_id and method are required"))
		return
	}

	result, err := h.payments.InitiateWalletTopUp(r.Context(), &paymentsvc.TopUpRequest{
		UserID:     req.UserID,
		Method:     models.PaymentMethod(req.Method),
		Amount:     req.Amount,
		Currency:   req.Currency,
		PayerEmail: req.PayerEmail,
	})
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusCreated, toPaymentResponse(result.Payment, result.RedirectURL))
}
