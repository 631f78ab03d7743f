// Package wallet exposes wallet balances, ledger history, payout
// destinations, and the OTP-gated withdrawal flow over the internal API.
package wallet

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sokomarket/payment-service/internal/domain"
	"github.com/sokomarket/payment-service/internal/domain/models"
	"github.com/sokomarket/payment-service/internal/handlers/respond"
	walletsvc "github.com/sokomarket/payment-service/internal/services/wallet"
	withdrawalsvc "github.com/sokomarket/payment-service/internal/services/withdrawal"
)

// Handler serves the wallet and withdrawal endpoints
type Handler struct {
	wallets     *walletsvc.Service
	withdrawals *withdrawalsvc.Service
	logger      *zap.Logger
}

// NewHandler creates a new wallet handler
func NewHandler(wallets *walletsvc.Service, withdrawals *withdrawalsvc.Service, logger *zap.Logger) *Handler {
	return &Handler{wallets: wallets, withdrawals: withdrawals, logger: logger}
}

// Register mounts the wallet routes on the mux
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /internal/v1/wallets/{userID}", h.GetWallet)
	mux.HandleFunc("GET /internal/v1/wallets/{userID}/transactions", h.ListTransactions)
	mux.HandleFunc("POST /internal/v1/wallets/{userID}/banks", h.AddBank)
	mux.HandleFunc("GET /internal/v1/wallets/{userID}/banks", h.ListBanks)
	mux.HandleFunc("POST /internal/v1/withdrawals/otp", h.GenerateOTP)
	mux.HandleFunc("POST /internal/v1/withdrawals", h.RequestWithdrawal)
	mux.HandleFunc("GET /internal/v1/withdrawals/{id}", h.GetWithdrawal)
}

// GetWallet returns the wallet for a user.
// GET /internal/v1/wallets/{userID}
func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	wallet, err := h.wallets.GetWallet(r.Context(), r.PathValue("userID"))
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]interface{}{
		"id":       wallet.ID,
		"user_id":  wallet.UserID,
		"balance":  wallet.Balance,
		"currency": wallet.Currency,
	})
}

type transactionResponse struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceBefore decimal.Decimal `json:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	ReferenceID   string          `json:"reference_id,omitempty"`
	Description   string          `json:"description,omitempty"`
	Status        string          `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
}

// ListTransactions returns a page of ledger entries, newest first.
// GET /internal/v1/wallets/{userID}/transactions?limit=&offset=
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	limit := queryInt32(r, "limit", 50)
	offset := queryInt32(r, "offset", 0)

	txns, err := h.wallets.ListTransactions(r.Context(), r.PathValue("userID"), limit, offset)
	if err != nil {
		respond.Error(w, err)
		return
	}

	out := make([]transactionResponse, 0, len(txns))
	for _, t := range txns {
		out = append(out, transactionResponse{
			ID:            t.ID,
			Type:          string(t.Type),
			Amount:        t.Amount,
			BalanceBefore: t.BalanceBefore,
			BalanceAfter:  t.BalanceAfter,
			ReferenceID:   t.ReferenceID,
			Description:   t.Description,
			Status:        string(t.Status),
			CreatedAt:     t.CreatedAt,
		})
	}
	respond.JSON(w, http.StatusOK, map[string]interface{}{"transactions": out})
}

type addBankRequest struct {
	BankName      string `json:"bank_name"`
	BankCode      string `json:"bank_code"`
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name"`
	Country       string `json:"country"`
}

// AddBank registers a payout destination for a user.
// POST /internal/v1/wallets/{userID}/banks
func (h *Handler) AddBank(w http.ResponseWriter, r *http.Request) {
	var req addBankRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Error(w, domain.NewDomainError(domain.ErrorCodeValidationFailed, "malformed request body"))
		return
	}
	if req.BankName == "" || req.AccountNumber == "" {
		respond.Error(w, domain.NewDomainError(domain.ErrorCodeValidationMissingField,
			"bank_name and account_number are required"))
		return
	}

	bank, err := h.withdrawals.AddBank(r.Context(), &models.Bank{
		UserID:        r.PathValue("userID"),
		BankName:      req.BankName,
		BankCode:      req.BankCode,
		AccountNumber: req.AccountNumber,
		AccountName:   req.AccountName,
		Country:       req.Country,
	})
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusCreated, toBankResponse(bank))
}

// ListBanks returns the payout destinations a user registered.
// GET /internal/v1/wallets/{userID}/banks
func (h *Handler) ListBanks(w http.ResponseWriter, r *http.Request) {
	banks, err := h.withdrawals.ListBanks(r.Context(), r.PathValue("userID"))
	if err != nil {
		respond.Error(w, err)
		return
	}
	out := make([]map[string]interface{}, 0, len(banks))
	for _, b := range banks {
		out = append(out, toBankResponse(b))
	}
	respond.JSON(w, http.StatusOK, map[string]interface{}{"banks": out})
}

func toBankResponse(b *models.Bank) map[string]interface{} {
	return map[string]interface{}{
		"id":             b.ID,
		"bank_name":      b.BankName,
		"bank_code":      b.BankCode,
		"account_number": b.AccountNumber,
		"account_name":   b.AccountName,
		"country":        b.Country,
	}
}

type generateOTPRequest struct {
	UserID string          `json:"user_id"`
	Amount decimal.Decimal `json:"amount"`
}

// GenerateOTP issues a withdrawal passcode to the user's notification
// channel.
// POST /internal/v1/withdrawals/otp
func (h *Handler) GenerateOTP(w http.ResponseWriter, r *http.Request) {
	var req generateOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		respond.Error(w, domain.NewDomainError(domain.ErrorCodeValidationMissingField, "user_id is required"))
		return
	}

	otpID, err := h.withdrawals.GenerateOTP(r.Context(), req.UserID, req.Amount)
	if err != nil {
		h.logger.Warn("otp generation failed",
			zap.String("user_id", req.UserID),
			zap.Error(err),
		)
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusAccepted, map[string]string{
		"status": "otp_sent",
		"otp_id": otpID,
	})
}

type requestWithdrawalRequest struct {
	UserID  string           `json:"user_id"`
	Amount  decimal.Decimal  `json:"amount"`
	Fee     *decimal.Decimal `json:"fee,omitempty"`
	BankID  string           `json:"bank_id"`
	Country string           `json:"country"`
	OTPID   string           `json:"otp_id"`
	OTPCode string           `json:"otp_code"`
}

// RequestWithdrawal creates a payout request after validating the OTP.
// POST /internal/v1/withdrawals
func (h *Handler) RequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req requestWithdrawalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Error(w, domain.NewDomainError(domain.ErrorCodeValidationFailed, "malformed request body"))
		return
	}
	if req.UserID == "" || req.BankID == "" || req.OTPID == "" || req.OTPCode == "" {
		respond.Error(w, domain.NewDomainError(domain.ErrorCodeValidationMissingField,
			"user_id, bank_id, otp_id and otp_code are required"))
		return
	}

	withdrawal, err := h.withdrawals.RequestWithdrawal(r.Context(), &withdrawalsvc.RequestWithdrawalInput{
		UserID:  req.UserID,
		Amount:  req.Amount,
		Fee:     req.Fee,
		BankID:  req.BankID,
		Country: req.Country,
		OTPID:   req.OTPID,
		OTPCode: req.OTPCode,
	})
	if err != nil {
		h.logger.Warn("withdrawal request failed",
			zap.String("user_id", req.UserID),
			zap.Error(err),
		)
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusCreated, ToWithdrawalResponse(withdrawal))
}

// GetWithdrawal returns one withdrawal by id.
// GET /internal/v1/withdrawals/{id}
func (h *Handler) GetWithdrawal(w http.ResponseWriter, r *http.Request) {
	withdrawal, err := h.withdrawals.GetWithdrawal(r.Context(), r.PathValue("id"))
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, ToWithdrawalResponse(withdrawal))
}

// ToWithdrawalResponse renders a withdrawal for API responses. Shared with
// the admin handler.
func ToWithdrawalResponse(wd *models.Withdrawal) map[string]interface{} {
	return map[string]interface{}{
		"id":                    wd.ID,
		"user_id":               wd.UserID,
		"amount":                wd.Amount,
		"fee":                   wd.Fee,
		"currency":              wd.Currency,
		"bank_name":             wd.BankName,
		"account_number":        wd.AccountNumber,
		"account_name":          wd.AccountName,
		"status":                string(wd.Status),
		"admin_notes":           wd.AdminNotes,
		"transaction_reference": wd.TransactionReference,
		"created_at":            wd.CreatedAt,
		"updated_at":            wd.UpdatedAt,
	}
}

func queryInt32(r *http.Request, key string, def int32) int32 {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseInt(raw, 10, 32)
	if err != nil || v < 0 {
		return def
	}
	return int32(v)
}
