package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/donghaozhang/GenAI-tool-sub001/internal/billing_service/domain"
	"github.com/donghaozhang/GenAI-tool-sub001/internal/billing_service/repository"
)

// CreditLedger owns every mutation of account balances. The store performs
// each mutation as one conditional update, so the ledger holds no locks.
type CreditLedger struct {
	store  repository.LedgerStore
	events domain.EventPublisher
	logger *slog.Logger
	now    func() time.Time
}

// NewCreditLedger builds a ledger. events may be nil when no broker is configured.
func NewCreditLedger(store repository.LedgerStore, events domain.EventPublisher, logger *slog.Logger) *CreditLedger {
	return &CreditLedger{
		store:  store,
		events: events,
		logger: logger.With("component", "credit_ledger"),
		now:    time.Now,
	}
}

// Consume debits amount from the account. A short balance yields
// *domain.InsufficientCreditsError and leaves the balance unchanged.
func (l *CreditLedger) Consume(ctx context.Context, accountID string, amount int64) (*domain.AccountCredit, error) {
	if accountID == "" {
		return nil, domain.ErrUnauthorized
	}
	if amount <= 0 {
		ledgerOperationsCounter.WithLabelValues("consume", "invalid").Inc()
		l.logger.WarnContext(ctx, "Rejected consume with non-positive amount", "account_id", accountID, "amount", amount)
		return nil, domain.ErrInvalidAmount
	}

	credit, err := l.store.Consume(ctx, accountID, amount)
	if err != nil {
		var insufficient *domain.InsufficientCreditsError
		if errors.As(err, &insufficient) {
			ledgerOperationsCounter.WithLabelValues("consume", "insufficient").Inc()
			l.logger.WarnContext(ctx, "Insufficient credits", "account_id", accountID,
				"available", insufficient.Available, "required", insufficient.Required)
			return nil, err
		}
		ledgerOperationsCounter.WithLabelValues("consume", "error").Inc()
		l.logger.ErrorContext(ctx, "Consume failed", "account_id", accountID, "amount", amount, "error", err)
		return nil, fmt.Errorf("%w: %w", domain.ErrLedgerUnavailable, err)
	}

	ledgerOperationsCounter.WithLabelValues("consume", "success").Inc()
	creditsMovedCounter.WithLabelValues("consumed").Add(float64(amount))
	l.logger.InfoContext(ctx, "Credits consumed", "account_id", accountID, "amount", amount, "credits_remaining", credit.Credits)

	l.publish(ctx, domain.SubjectCreditsConsumed, domain.CreditsConsumedEvent{
		EventID:          uuid.NewString(),
		AccountID:        accountID,
		CreditsConsumed:  amount,
		CreditsRemaining: credit.Credits,
		OccurredAt:       l.now().UTC(),
	})
	return credit, nil
}

// Grant credits amount to the account, creating its record if needed.
func (l *CreditLedger) Grant(ctx context.Context, accountID string, amount int64) (*domain.AccountCredit, error) {
	if accountID == "" {
		return nil, domain.ErrUnauthorized
	}
	if amount <= 0 {
		ledgerOperationsCounter.WithLabelValues("grant", "invalid").Inc()
		l.logger.WarnContext(ctx, "Rejected grant with non-positive amount", "account_id", accountID, "amount", amount)
		return nil, domain.ErrInvalidAmount
	}

	credit, err := l.store.Grant(ctx, accountID, amount)
	if err != nil {
		ledgerOperationsCounter.WithLabelValues("grant", "error").Inc()
		l.logger.ErrorContext(ctx, "Grant failed", "account_id", accountID, "amount", amount, "error", err)
		return nil, fmt.Errorf("%w: %w", domain.ErrLedgerUnavailable, err)
	}

	ledgerOperationsCounter.WithLabelValues("grant", "success").Inc()
	creditsMovedCounter.WithLabelValues("granted").Add(float64(amount))
	l.logger.InfoContext(ctx, "Credits granted", "account_id", accountID, "amount", amount, "total_credits", credit.Credits)

	l.publish(ctx, domain.SubjectCreditsGranted, domain.CreditsGrantedEvent{
		EventID:      uuid.NewString(),
		AccountID:    accountID,
		CreditsAdded: amount,
		TotalCredits: credit.Credits,
		OccurredAt:   l.now().UTC(),
	})
	return credit, nil
}

// Balance reports the account's credits. An account without a record has 0
// credits; reading it creates nothing.
func (l *CreditLedger) Balance(ctx context.Context, accountID string) (*domain.AccountCredit, error) {
	if accountID == "" {
		return nil, domain.ErrUnauthorized
	}
	credit, err := l.store.GetBalance(ctx, accountID)
	if errors.Is(err, domain.ErrNotFound) {
		return &domain.AccountCredit{AccountID: accountID}, nil
	}
	if err != nil {
		l.logger.ErrorContext(ctx, "Balance lookup failed", "account_id", accountID, "error", err)
		return nil, fmt.Errorf("%w: %w", domain.ErrLedgerUnavailable, err)
	}
	return credit, nil
}

// GrantForPayment inserts the settlement record and grants its credits as one
// atomic store operation. The returned bool is false when another call
// already recorded this payment; no credits move in that case.
func (l *CreditLedger) GrantForPayment(ctx context.Context, txn *domain.Transaction) (*domain.Transaction, bool, error) {
	if txn.CreditsGranted <= 0 {
		ledgerOperationsCounter.WithLabelValues("settle_grant", "invalid").Inc()
		return nil, false, domain.ErrInvalidAmount
	}

	stored, inserted, err := l.store.SettlePayment(ctx, txn)
	if err != nil {
		ledgerOperationsCounter.WithLabelValues("settle_grant", "error").Inc()
		l.logger.ErrorContext(ctx, "Settlement grant failed", "account_id", txn.AccountID,
			"payment_id", txn.PaymentID, "amount", txn.CreditsGranted, "error", err)
		return nil, false, fmt.Errorf("%w: %w", domain.ErrLedgerUnavailable, err)
	}
	if !inserted {
		ledgerOperationsCounter.WithLabelValues("settle_grant", "duplicate").Inc()
		l.logger.InfoContext(ctx, "Payment already recorded by a concurrent settlement", "account_id", stored.AccountID,
			"payment_id", stored.PaymentID, "credits_granted", stored.CreditsGranted)
		return stored, false, nil
	}

	ledgerOperationsCounter.WithLabelValues("settle_grant", "success").Inc()
	creditsMovedCounter.WithLabelValues("granted").Add(float64(stored.CreditsGranted))
	l.logger.InfoContext(ctx, "Credits granted for payment", "account_id", stored.AccountID,
		"payment_id", stored.PaymentID, "amount", stored.CreditsGranted, "total_credits", stored.BalanceAfter)

	l.publish(ctx, domain.SubjectCreditsGranted, domain.CreditsGrantedEvent{
		EventID:      uuid.NewString(),
		AccountID:    stored.AccountID,
		PaymentID:    stored.PaymentID,
		CreditsAdded: stored.CreditsGranted,
		TotalCredits: stored.BalanceAfter,
		OccurredAt:   l.now().UTC(),
	})
	return stored, true, nil
}

// publish is best effort: the ledger change is already committed.
func (l *CreditLedger) publish(ctx context.Context, subject string, event any) {
	if l.events == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		l.logger.ErrorContext(ctx, "Failed to encode event", "subject", subject, "error", err)
		return
	}
	if err := l.events.Publish(ctx, subject, data); err != nil {
		l.logger.WarnContext(ctx, "Failed to publish event", "subject", subject, "error", err)
	}
}
