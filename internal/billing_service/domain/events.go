package domain

import (
	"context"
	"time"
)

const (
	SubjectCreditsConsumed = "billing.credits.consumed"
	SubjectCreditsGranted  = "billing.credits.granted"
)

// EventPublisher delivers billing events to the message broker.
type EventPublisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

type CreditsConsumedEvent struct {
	EventID          string    `json:"event_id"`
	AccountID        string    `json:"account_id"`
	CreditsConsumed  int64     `json:"credits_consumed"`
	CreditsRemaining int64     `json:"credits_remaining"`
	OccurredAt       time.Time `json:"occurred_at"`
}

type CreditsGrantedEvent struct {
	EventID      string    `json:"event_id"`
	AccountID    string    `json:"account_id"`
	PaymentID    string    `json:"payment_id,omitempty"`
	CreditsAdded int64     `json:"credits_added"`
	TotalCredits int64     `json:"total_credits"`
	OccurredAt   time.Time `json:"occurred_at"`
}
