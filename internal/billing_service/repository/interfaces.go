package repository

import (
	"context"

	"github.com/donghaozhang/GenAI-tool-sub001/internal/billing_service/domain"
)

// LedgerStore holds account credit records. Every mutation is a single atomic
// operation keyed by account id; implementations never read then write in
// two steps.
type LedgerStore interface {
	// GetBalance returns domain.ErrNotFound for an account without a record.
	GetBalance(ctx context.Context, accountID string) (*domain.AccountCredit, error)
	// Consume subtracts amount only if the balance covers it. On a short
	// balance it returns *domain.InsufficientCreditsError and changes nothing.
	// A missing record is created with balance 0 first.
	Consume(ctx context.Context, accountID string, amount int64) (*domain.AccountCredit, error)
	// Grant adds amount, creating the record at 0 first if absent.
	Grant(ctx context.Context, accountID string, amount int64) (*domain.AccountCredit, error)
	// SettlePayment inserts txn if no record exists for txn.PaymentID and, only
	// when that insert wins, grants txn.CreditsGranted to txn.AccountID in the
	// same atomic unit. It returns the stored record (the existing one when the
	// insert lost) and whether this call inserted it.
	SettlePayment(ctx context.Context, txn *domain.Transaction) (*domain.Transaction, bool, error)
}

// TransactionStore reads settled payment records.
type TransactionStore interface {
	// GetByPaymentID returns domain.ErrNotFound when the payment was never settled.
	GetByPaymentID(ctx context.Context, paymentID string) (*domain.Transaction, error)
	// ListByAccount returns the account's records, newest first.
	ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]domain.Transaction, error)
}

// Store is a complete backend for the billing service.
type Store interface {
	LedgerStore
	TransactionStore
	Ping(ctx context.Context) error
	Close() error
}
