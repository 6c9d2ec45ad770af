package http

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	chi_middleware "github.com/go-chi/chi/v5/middleware"

	"github.com/donghaozhang/GenAI-tool-sub001/internal/billing_service/domain"
)

const MaxRequestBodySize = 1 << 20 // 1 MB

// SignatureHeader carries the processor's webhook signature.
const SignatureHeader = "Stripe-Signature"

// PaymentWebhookProcessor settles the payment announced by a webhook delivery.
// A nil settlement with a nil error means the event was not actionable.
type PaymentWebhookProcessor interface {
	HandleWebhook(ctx context.Context, payload []byte, signature string) (*domain.Settlement, error)
}

type WebhookHandler struct {
	processor PaymentWebhookProcessor
	logger    *slog.Logger
}

func NewWebhookHandler(processor PaymentWebhookProcessor, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		processor: processor,
		logger:    logger.With("component", "webhook_handler"),
	}
}

// HandlePaymentWebhook receives webhook events from the payment processor.
// Rejections the processor cannot fix by redelivering are acknowledged with
// 200; storage and processor failures answer 5xx so the delivery is retried.
func (h *WebhookHandler) HandlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))

	if r.Method != http.MethodPost {
		logger.WarnContext(ctx, "Method not allowed for webhook", "method", r.Method)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	signature := r.Header.Get(SignatureHeader)
	logger = logger.With("signature_present", signature != "")

	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to read webhook request body", "error", err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
		} else {
			http.Error(w, "Error reading request body", http.StatusBadRequest)
		}
		return
	}

	logger.InfoContext(ctx, "Received payment webhook", "payload_size", len(payload))

	settlement, err := h.processor.HandleWebhook(ctx, payload, signature)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrInvalidWebhookSignature):
		logger.WarnContext(ctx, "Webhook signature verification failed", "error", err)
		http.Error(w, "Webhook signature verification failed", http.StatusBadRequest)
		return
	case errors.Is(err, domain.ErrPaymentNotCompleted),
		errors.Is(err, domain.ErrPaymentNotFound),
		errors.Is(err, domain.ErrPaymentAccountMismatch),
		errors.Is(err, domain.ErrInvalidPaymentMetadata):
		logger.WarnContext(ctx, "Webhook payment rejected", "error", err)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Webhook event rejected"))
		return
	case errors.Is(err, domain.ErrPaymentProcessor):
		logger.ErrorContext(ctx, "Payment processor error while handling webhook", "error", err)
		http.Error(w, "Payment processor unavailable", http.StatusBadGateway)
		return
	default:
		logger.ErrorContext(ctx, "Error processing payment webhook", "error", err)
		http.Error(w, "Internal server error processing webhook", http.StatusInternalServerError)
		return
	}

	if settlement == nil {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Webhook event ignored"))
		return
	}

	w.WriteHeader(http.StatusOK)
	if settlement.AlreadySettled {
		w.Write([]byte("Webhook event already processed"))
	} else if _, err := w.Write([]byte("Webhook received successfully")); err != nil {
		logger.WarnContext(ctx, "Failed to write webhook success response", "error", err)
	}
	logger.InfoContext(ctx, "Payment webhook processed", "payment_id", settlement.PaymentID,
		"account_id", settlement.AccountID, "credits_added", settlement.CreditsAdded, "already_settled", settlement.AlreadySettled)
}
