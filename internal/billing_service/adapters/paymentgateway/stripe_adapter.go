package paymentgateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/donghaozhang/GenAI-tool-sub001/internal/billing_service/domain"
)

// Payment metadata keys written by the checkout flow when it creates the
// PaymentIntent.
const (
	MetadataCredits   = "credits"
	MetadataAccountID = "user_id"
)

// Stripe amounts are in the smallest currency unit; these currencies have none.
var zeroDecimalCurrencies = map[string]bool{
	"bif": true, "clp": true, "djf": true, "gnf": true, "jpy": true, "kmf": true,
	"krw": true, "mga": true, "pyg": true, "rwf": true, "ugx": true, "vnd": true,
	"vuv": true, "xaf": true, "xof": true, "xpf": true,
}

type StripeAdapter struct {
	api           *client.API
	webhookSecret string
	logger        *slog.Logger
}

// NewStripeAdapter builds an adapter for secretKey. backends may be nil to
// use the public Stripe API.
func NewStripeAdapter(secretKey, webhookSecret string, backends *stripe.Backends, logger *slog.Logger) *StripeAdapter {
	api := &client.API{}
	api.Init(secretKey, backends)
	return &StripeAdapter{
		api:           api,
		webhookSecret: webhookSecret,
		logger:        logger.With("adapter", "stripe"),
	}
}

func (a *StripeAdapter) RetrievePayment(ctx context.Context, paymentID string) (*domain.Payment, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := a.api.PaymentIntents.Get(paymentID, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Code == stripe.ErrorCodeResourceMissing {
			return nil, fmt.Errorf("%w: %s", domain.ErrPaymentNotFound, paymentID)
		}
		a.logger.ErrorContext(ctx, "Stripe PaymentIntent retrieval failed", "payment_id", paymentID, "error", err)
		return nil, fmt.Errorf("%w: %w", domain.ErrPaymentProcessor, err)
	}

	payment := paymentFromIntent(pi)
	a.logger.InfoContext(ctx, "Retrieved Stripe PaymentIntent", "payment_id", pi.ID,
		"status", payment.Status, "credits", payment.Credits, "account_id", payment.AccountID)
	return payment, nil
}

func paymentFromIntent(pi *stripe.PaymentIntent) *domain.Payment {
	currency := strings.ToLower(string(pi.Currency))
	exp := int32(-2)
	if zeroDecimalCurrencies[currency] {
		exp = 0
	}

	// A missing or malformed credits entry leaves Credits at 0, which the
	// settlement rejects.
	var credits int64
	if raw, ok := pi.Metadata[MetadataCredits]; ok {
		if n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64); err == nil {
			credits = n
		}
	}

	return &domain.Payment{
		ID:        pi.ID,
		Status:    string(pi.Status),
		Amount:    decimal.New(pi.Amount, exp),
		Currency:  currency,
		Credits:   credits,
		AccountID: pi.Metadata[MetadataAccountID],
	}
}

func (a *StripeAdapter) ParseWebhookEvent(ctx context.Context, payload []byte, signature string) (*domain.PaymentEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, a.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		a.logger.WarnContext(ctx, "Stripe webhook verification failed", "error", err)
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidWebhookSignature, err)
	}

	out := &domain.PaymentEvent{ID: event.ID, Type: string(event.Type)}
	if !strings.HasPrefix(out.Type, "payment_intent.") || event.Data == nil {
		return out, nil
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return nil, fmt.Errorf("decoding payment_intent from event %s: %w", event.ID, err)
	}
	out.PaymentID = pi.ID
	out.AccountID = pi.Metadata[MetadataAccountID]
	return out, nil
}
