package domain

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthorized            = errors.New("unauthorized")
	ErrInvalidAmount           = errors.New("amount must be a positive integer")
	ErrInsufficientCredits     = errors.New("insufficient credits")
	ErrLedgerUnavailable       = errors.New("credit ledger unavailable")
	ErrStoreUnavailable        = errors.New("transaction store unavailable")
	ErrNotFound                = errors.New("not found")
	ErrPaymentIDRequired       = errors.New("payment intent ID is required")
	ErrPaymentNotFound         = errors.New("payment not found")
	ErrPaymentNotCompleted     = errors.New("payment not completed")
	ErrInvalidPaymentMetadata  = errors.New("payment metadata has no valid credits amount")
	ErrPaymentAccountMismatch  = errors.New("payment does not belong to caller")
	ErrPaymentProcessor        = errors.New("payment processor error")
	ErrInvalidWebhookSignature = errors.New("webhook signature verification failed")
)

// InsufficientCreditsError reports a rejected consume. It matches
// ErrInsufficientCredits under errors.Is.
type InsufficientCreditsError struct {
	Available int64
	Required  int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: available %d, required %d", e.Available, e.Required)
}

func (e *InsufficientCreditsError) Unwrap() error {
	return ErrInsufficientCredits
}
