package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/sokomarket/payment-service/internal/domain"
	"github.com/sokomarket/payment-service/internal/domain/models"
	webhooksvc "github.com/sokomarket/payment-service/internal/services/webhook"
)

// maxBodySize caps webhook payloads at 1 MiB
const maxBodySize = 1 << 20

// signatureHeaders maps each provider to the header its gateway signs in
var signatureHeaders = map[models.Provider]string{
	models.ProviderPaystack:    "X-Paystack-Signature",
	models.ProviderFlutterwave: "verif-hash",
	models.ProviderMonnify:     "monnify-signature",
}

// FundingCompleter finalizes a wallet top-up out-of-band, for gateways
// without full webhook support
type FundingCompleter interface {
	GetPaymentByReference(ctx context.Context, reference string) (*models.Payment, error)
	CompleteWalletFunding(ctx context.Context, p *models.Payment, externalReference string, raw json.RawMessage) (bool, error)
}

// Handler exposes the inbound gateway callback endpoints
type Handler struct {
	reconciler *webhooksvc.Service
	funding    FundingCompleter
	logger     *zap.Logger
}

// NewHandler creates a new webhook handler
func NewHandler(reconciler *webhooksvc.Service, funding FundingCompleter, logger *zap.Logger) *Handler {
	return &Handler{
		reconciler: reconciler,
		funding:    funding,
		logger:     logger,
	}
}

// Register mounts the callback routes on the mux
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhooks/{provider}", h.HandleWebhook)
	mux.HandleFunc("POST /wallet/funding/complete", h.HandleFundingComplete)
}

// HandleWebhook processes one inbound gateway callback.
// POST /webhooks/{provider}
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	provider := models.Provider(r.PathValue("provider"))

	header, ok := signatureHeaders[provider]
	if !ok {
		h.logger.Warn("webhook for unknown provider",
			zap.String("provider", string(provider)),
		)
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown provider"})
		return
	}
	signature := r.Header.Get(header)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}

	result, err := h.reconciler.Process(ctx, provider, body, signature)
	if err != nil {
		status := statusForError(err)
		h.logger.Warn("webhook rejected",
			zap.String("provider", string(provider)),
			zap.Int("status", status),
			zap.Error(err),
		)
		writeJSON(w, status, map[string]string{"error": publicMessage(err, status)})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"reference": result.Reference,
		"applied":   result.Applied,
	})
}

type fundingCompleteRequest struct {
	Reference         string          `json:"reference"`
	ExternalReference string          `json:"external_reference,omitempty"`
	GatewayResponse   json.RawMessage `json:"gateway_response,omitempty"`
}

// HandleFundingComplete finalizes a wallet top-up given its reference.
// POST /wallet/funding/complete
func (h *Handler) HandleFundingComplete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req fundingCompleteRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return
	}
	if req.Reference == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "reference is required"})
		return
	}
	if !models.IsFundingReference(req.Reference) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "not a wallet funding reference"})
		return
	}

	payment, err := h.funding.GetPaymentByReference(ctx, req.Reference)
	if err != nil {
		if domain.IsNotFoundError(err) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown reference"})
			return
		}
		h.logger.Error("funding completion lookup failed",
			zap.String("reference", req.Reference),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "processing failed"})
		return
	}

	applied, err := h.funding.CompleteWalletFunding(ctx, payment, req.ExternalReference, req.GatewayResponse)
	if err != nil {
		h.logger.Error("funding completion failed",
			zap.String("reference", req.Reference),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "processing failed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"applied": applied,
	})
}

// statusForError classifies reconciliation failures for the gateway: a bad
// signature is permanent (400, do not retry), an unknown reference is
// retryable (404, the callback may have outrun payment creation).
func statusForError(err error) int {
	switch {
	case domain.IsDomainError(err, domain.ErrorCodeWebhookBadSignature):
		return http.StatusBadRequest
	case domain.IsDomainError(err, domain.ErrorCodeWebhookUnknownRef):
		return http.StatusNotFound
	case domain.IsDomainError(err, domain.ErrorCodePaymentMethodUnknown):
		return http.StatusNotFound
	case domain.IsDomainError(err, domain.ErrorCodeWebhookUnhandled):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage keeps internal detail out of gateway-facing responses
func publicMessage(err error, status int) string {
	if status == http.StatusInternalServerError {
		return "processing failed"
	}
	var derr *domain.DomainError
	if errors.As(err, &derr) {
		return derr.Message
	}
	return "rejected"
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
