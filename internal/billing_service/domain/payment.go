package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// PaymentStatusSucceeded is the processor state that allows settlement.
const PaymentStatusSucceeded = "succeeded"

// EventTypePaymentSucceeded is the processor webhook event that triggers settlement.
const EventTypePaymentSucceeded = "payment_intent.succeeded"

// Payment is the processor's view of one payment attempt.
type Payment struct {
	ID       string
	Status   string
	Amount   decimal.Decimal // major currency units
	Currency string
	// Credits is the number of credits purchased, from the payment metadata.
	Credits int64
	// AccountID is the account the payment was created for, from the payment
	// metadata. Empty when the processor carries no owner.
	AccountID string
}

func (p *Payment) Succeeded() bool {
	return p.Status == PaymentStatusSucceeded
}

// PaymentEvent is a verified webhook notification from the processor.
type PaymentEvent struct {
	ID        string
	Type      string
	PaymentID string
	AccountID string
}

// PaymentProcessor is the read-only, authoritative source for whether a
// payment succeeded.
type PaymentProcessor interface {
	RetrievePayment(ctx context.Context, paymentID string) (*Payment, error)
	// ParseWebhookEvent verifies the signature of a webhook delivery and decodes it.
	ParseWebhookEvent(ctx context.Context, payload []byte, signature string) (*PaymentEvent, error)
}
