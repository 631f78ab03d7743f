// Package admin exposes the operator surface: withdrawal resolution and the
// duplicate-credit auditor. Requests authenticate with a shared secret the
// ops tooling carries, the same scheme the cron endpoints use elsewhere in
// the platform.
package admin

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sokomarket/payment-service/internal/domain"
	"github.com/sokomarket/payment-service/internal/handlers/respond"
	wallethandler "github.com/sokomarket/payment-service/internal/handlers/wallet"
	auditsvc "github.com/sokomarket/payment-service/internal/services/audit"
	walletsvc "github.com/sokomarket/payment-service/internal/services/wallet"
	withdrawalsvc "github.com/sokomarket/payment-service/internal/services/withdrawal"
)

// Handler serves the admin endpoints
type Handler struct {
	withdrawals *withdrawalsvc.Service
	wallets     *walletsvc.Service
	auditor     *auditsvc.Auditor
	secret      string
	logger      *zap.Logger
}

// NewHandler creates a new admin handler
func NewHandler(withdrawals *withdrawalsvc.Service, wallets *walletsvc.Service, auditor *auditsvc.Auditor, secret string, logger *zap.Logger) *Handler {
	return &Handler{
		withdrawals: withdrawals,
		wallets:     wallets,
		auditor:     auditor,
		secret:      secret,
		logger:      logger,
	}
}

// Register mounts the admin routes on the mux
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /admin/v1/withdrawals/pending", h.authorized(h.ListPendingWithdrawals))
	mux.HandleFunc("POST /admin/v1/withdrawals/{id}/processing", h.authorized(h.MarkProcessing))
	mux.HandleFunc("POST /admin/v1/withdrawals/{id}/done", h.authorized(h.MarkDone))
	mux.HandleFunc("POST /admin/v1/withdrawals/{id}/failed", h.authorized(h.MarkFailed))
	mux.HandleFunc("POST /admin/v1/withdrawals/{id}/rejected", h.authorized(h.MarkRejected))
	mux.HandleFunc("GET /admin/v1/wallets/{walletID}/duplicate-credits", h.authorized(h.DetectDuplicates))
	mux.HandleFunc("POST /admin/v1/wallets/{walletID}/duplicate-credits/correct", h.authorized(h.CorrectDuplicates))
	mux.HandleFunc("GET /admin/v1/wallets/{userID}/balance-audit", h.authorized(h.AuditBalance))
}

func (h *Handler) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provided := r.Header.Get("X-Admin-Secret")
		if h.secret == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(h.secret)) != 1 {
			respond.JSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next(w, r)
	}
}

// ListPendingWithdrawals returns withdrawals awaiting resolution.
// GET /admin/v1/withdrawals/pending?limit=&offset=
func (h *Handler) ListPendingWithdrawals(w http.ResponseWriter, r *http.Request) {
	limit := queryInt32(r, "limit", 50)
	offset := queryInt32(r, "offset", 0)

	pending, err := h.withdrawals.ListPending(r.Context(), limit, offset)
	if err != nil {
		respond.Error(w, err)
		return
	}

	out := make([]map[string]interface{}, 0, len(pending))
	for _, wd := range pending {
		out = append(out, wallethandler.ToWithdrawalResponse(wd))
	}
	respond.JSON(w, http.StatusOK, map[string]interface{}{"withdrawals": out})
}

type resolveRequest struct {
	AdminNotes           string `json:"admin_notes"`
	TransactionReference string `json:"transaction_reference"`
}

// MarkProcessing moves a pending withdrawal to processing.
// POST /admin/v1/withdrawals/{id}/processing
func (h *Handler) MarkProcessing(w http.ResponseWriter, r *http.Request) {
	wd, err := h.withdrawals.MarkProcessing(r.Context(), r.PathValue("id"))
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, wallethandler.ToWithdrawalResponse(wd))
}

// MarkDone completes a withdrawal and debits the wallet.
// POST /admin/v1/withdrawals/{id}/done
func (h *Handler) MarkDone(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeResolve(w, r)
	if !ok {
		return
	}
	wd, err := h.withdrawals.MarkDone(r.Context(), r.PathValue("id"), req.AdminNotes, req.TransactionReference)
	if err != nil {
		h.logger.Warn("withdrawal completion failed",
			zap.String("withdrawal_id", r.PathValue("id")),
			zap.Error(err),
		)
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, wallethandler.ToWithdrawalResponse(wd))
}

// MarkFailed records a payout failure. The wallet is untouched.
// POST /admin/v1/withdrawals/{id}/failed
func (h *Handler) MarkFailed(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeResolve(w, r)
	if !ok {
		return
	}
	wd, err := h.withdrawals.MarkFailed(r.Context(), r.PathValue("id"), req.AdminNotes)
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, wallethandler.ToWithdrawalResponse(wd))
}

// MarkRejected rejects a withdrawal request. The wallet is untouched.
// POST /admin/v1/withdrawals/{id}/rejected
func (h *Handler) MarkRejected(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeResolve(w, r)
	if !ok {
		return
	}
	wd, err := h.withdrawals.MarkRejected(r.Context(), r.PathValue("id"), req.AdminNotes)
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, wallethandler.ToWithdrawalResponse(wd))
}

func decodeResolve(w http.ResponseWriter, r *http.Request) (*resolveRequest, bool) {
	var req resolveRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respond.Error(w, domain.NewDomainError(domain.ErrorCodeValidationFailed, "malformed request body"))
			return nil, false
		}
	}
	return &req, true
}

// DetectDuplicates previews duplicate credit clusters without changing
// anything.
// GET /admin/v1/wallets/{walletID}/duplicate-credits
func (h *Handler) DetectDuplicates(w http.ResponseWriter, r *http.Request) {
	report, err := h.auditor.Detect(r.Context(), r.PathValue("walletID"))
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, toReportResponse(report))
}

// CorrectDuplicates reverses duplicate credits and restores the balance.
// POST /admin/v1/wallets/{walletID}/duplicate-credits/correct
func (h *Handler) CorrectDuplicates(w http.ResponseWriter, r *http.Request) {
	report, err := h.auditor.Correct(r.Context(), r.PathValue("walletID"))
	if err != nil {
		h.logger.Error("duplicate credit correction failed",
			zap.String("wallet_id", r.PathValue("walletID")),
			zap.Error(err),
		)
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, toReportResponse(report))
}

// AuditBalance recomputes a wallet balance from its ledger entries.
// GET /admin/v1/wallets/{userID}/balance-audit
func (h *Handler) AuditBalance(w http.ResponseWriter, r *http.Request) {
	consistent, stored, computed, err := h.wallets.AuditBalance(r.Context(), r.PathValue("userID"))
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]interface{}{
		"consistent": consistent,
		"stored":     stored,
		"computed":   computed,
	})
}

type clusterResponse struct {
	ReferenceID string          `json:"reference_id"`
	Amount      decimal.Decimal `json:"amount"`
	Duplicates  int             `json:"duplicates"`
	Excess      decimal.Decimal `json:"excess"`
}

func toReportResponse(report *auditsvc.Report) map[string]interface{} {
	clusters := make([]clusterResponse, 0, len(report.Clusters))
	for _, c := range report.Clusters {
		clusters = append(clusters, clusterResponse{
			ReferenceID: c.ReferenceID,
			Amount:      c.Amount,
			Duplicates:  len(c.Removable),
			Excess:      c.Excess(),
		})
	}
	return map[string]interface{}{
		"wallet_id":    report.WalletID,
		"clusters":     clusters,
		"total_excess": report.TotalExcess,
		"corrected":    report.Corrected,
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
