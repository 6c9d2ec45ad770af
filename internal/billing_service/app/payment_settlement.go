package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/donghaozhang/GenAI-tool-sub001/internal/billing_service/domain"
	"github.com/donghaozhang/GenAI-tool-sub001/internal/billing_service/repository"
)

const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
)

// PaymentSettlement turns a processor-confirmed payment into exactly one
// credit grant plus its Transaction record.
type PaymentSettlement struct {
	processor    domain.PaymentProcessor
	ledger       *CreditLedger
	transactions repository.TransactionStore
	logger       *slog.Logger
	now          func() time.Time
}

func NewPaymentSettlement(
	processor domain.PaymentProcessor,
	ledger *CreditLedger,
	transactions repository.TransactionStore,
	logger *slog.Logger,
) *PaymentSettlement {
	return &PaymentSettlement{
		processor:    processor,
		ledger:       ledger,
		transactions: transactions,
		logger:       logger.With("component", "payment_settlement"),
		now:          time.Now,
	}
}

// Settle verifies paymentID with the processor and grants its credits to
// accountID once. Repeating the call for a settled payment returns the
// recorded outcome with AlreadySettled set.
func (s *PaymentSettlement) Settle(ctx context.Context, paymentID, accountID string) (*domain.Settlement, error) {
	if accountID == "" {
		settlementsCounter.WithLabelValues("unauthorized").Inc()
		s.logger.WarnContext(ctx, "Settlement without caller identity", "payment_id", paymentID)
		return nil, domain.ErrUnauthorized
	}
	if paymentID == "" {
		settlementsCounter.WithLabelValues("invalid").Inc()
		s.logger.WarnContext(ctx, "Settlement without payment ID", "account_id", accountID)
		return nil, domain.ErrPaymentIDRequired
	}

	payment, err := s.verify(ctx, paymentID, accountID)
	if err != nil {
		return nil, err
	}

	existing, err := s.transactions.GetByPaymentID(ctx, paymentID)
	switch {
	case err == nil:
		return s.alreadySettled(ctx, existing, accountID)
	case !errors.Is(err, domain.ErrNotFound):
		settlementsCounter.WithLabelValues("store_error").Inc()
		s.logger.ErrorContext(ctx, "Transaction lookup failed", "payment_id", paymentID, "account_id", accountID, "error", err)
		return nil, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}

	txn := &domain.Transaction{
		PaymentID:      payment.ID,
		AccountID:      accountID,
		Amount:         payment.Amount,
		Currency:       payment.Currency,
		CreditsGranted: payment.Credits,
		Status:         domain.TransactionStatusCompleted,
		CreatedAt:      s.now().UTC(),
	}
	stored, inserted, err := s.ledger.GrantForPayment(ctx, txn)
	if err != nil {
		settlementsCounter.WithLabelValues("store_error").Inc()
		return nil, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	if !inserted {
		return s.alreadySettled(ctx, stored, accountID)
	}

	settlementsCounter.WithLabelValues("granted").Inc()
	s.logger.InfoContext(ctx, "Payment settled", "payment_id", paymentID, "account_id", accountID,
		"credits_added", stored.CreditsGranted, "total_credits", stored.BalanceAfter, "amount", payment.Amount.String(), "currency", payment.Currency)
	return domain.SettlementFromTransaction(stored, false), nil
}

// verify asks the processor for the payment and checks that it may be settled
// for accountID. Nothing is written on any failure.
func (s *PaymentSettlement) verify(ctx context.Context, paymentID, accountID string) (*domain.Payment, error) {
	start := time.Now()
	payment, err := s.processor.RetrievePayment(ctx, paymentID)
	if err != nil {
		processorRequestDurationHist.WithLabelValues("error").Observe(time.Since(start).Seconds())
		if errors.Is(err, domain.ErrPaymentNotFound) {
			settlementsCounter.WithLabelValues("not_found").Inc()
			s.logger.WarnContext(ctx, "Payment not found at processor", "payment_id", paymentID, "account_id", accountID)
			return nil, err
		}
		settlementsCounter.WithLabelValues("processor_error").Inc()
		s.logger.ErrorContext(ctx, "Payment verification failed", "payment_id", paymentID, "account_id", accountID, "error", err)
		if errors.Is(err, domain.ErrPaymentProcessor) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrPaymentProcessor, err)
	}
	processorRequestDurationHist.WithLabelValues("success").Observe(time.Since(start).Seconds())

	if !payment.Succeeded() {
		settlementsCounter.WithLabelValues("not_completed").Inc()
		s.logger.WarnContext(ctx, "Payment not completed", "payment_id", paymentID, "account_id", accountID, "status", payment.Status)
		return nil, fmt.Errorf("%w: status %s", domain.ErrPaymentNotCompleted, payment.Status)
	}
	if payment.AccountID != "" && payment.AccountID != accountID {
		settlementsCounter.WithLabelValues("account_mismatch").Inc()
		s.logger.WarnContext(ctx, "Payment belongs to another account", "payment_id", paymentID,
			"account_id", accountID, "payment_account_id", payment.AccountID)
		return nil, domain.ErrPaymentAccountMismatch
	}
	if payment.Credits <= 0 {
		settlementsCounter.WithLabelValues("invalid_metadata").Inc()
		s.logger.WarnContext(ctx, "Payment carries no credits", "payment_id", paymentID, "account_id", accountID, "credits", payment.Credits)
		return nil, domain.ErrInvalidPaymentMetadata
	}
	return payment, nil
}

func (s *PaymentSettlement) alreadySettled(ctx context.Context, txn *domain.Transaction, accountID string) (*domain.Settlement, error) {
	if txn.AccountID != accountID {
		settlementsCounter.WithLabelValues("account_mismatch").Inc()
		s.logger.WarnContext(ctx, "Payment already settled for another account", "payment_id", txn.PaymentID,
			"account_id", accountID, "settled_account_id", txn.AccountID)
		return nil, domain.ErrPaymentAccountMismatch
	}
	settlementsCounter.WithLabelValues("duplicate").Inc()
	s.logger.InfoContext(ctx, "Payment already processed", "payment_id", txn.PaymentID, "account_id", accountID,
		"credits_added", txn.CreditsGranted, "total_credits", txn.BalanceAfter)
	return domain.SettlementFromTransaction(txn, true), nil
}

// HandleWebhook verifies a processor webhook delivery and settles the payment
// it announces. Events other than a succeeded payment return (nil, nil).
func (s *PaymentSettlement) HandleWebhook(ctx context.Context, payload []byte, signature string) (*domain.Settlement, error) {
	event, err := s.processor.ParseWebhookEvent(ctx, payload, signature)
	if err != nil {
		s.logger.WarnContext(ctx, "Rejected webhook delivery", "error", err)
		return nil, err
	}

	if event.Type != domain.EventTypePaymentSucceeded {
		s.logger.InfoContext(ctx, "Ignoring webhook event", "event_id", event.ID, "event_type", event.Type)
		return nil, nil
	}
	if event.AccountID == "" {
		s.logger.WarnContext(ctx, "Succeeded payment event without account", "event_id", event.ID, "payment_id", event.PaymentID)
		return nil, domain.ErrInvalidPaymentMetadata
	}

	s.logger.InfoContext(ctx, "Settling payment from webhook", "event_id", event.ID,
		"payment_id", event.PaymentID, "account_id", event.AccountID)
	return s.Settle(ctx, event.PaymentID, event.AccountID)
}

// History lists the account's settled payments, newest first. limit is
// clamped to [1, MaxHistoryLimit]; zero selects DefaultHistoryLimit.
func (s *PaymentSettlement) History(ctx context.Context, accountID string, limit, offset int) ([]domain.Transaction, error) {
	if accountID == "" {
		return nil, domain.ErrUnauthorized
	}
	switch {
	case limit == 0:
		limit = DefaultHistoryLimit
	case limit < 0:
		limit = 1
	case limit > MaxHistoryLimit:
		limit = MaxHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}

	txns, err := s.transactions.ListByAccount(ctx, accountID, limit, offset)
	if err != nil {
		s.logger.ErrorContext(ctx, "Transaction history lookup failed", "account_id", accountID, "error", err)
		return nil, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	return txns, nil
}
