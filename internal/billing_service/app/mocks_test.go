package app

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/donghaozhang/GenAI-tool-sub001/internal/billing_service/domain"
	"github.com/donghaozhang/GenAI-tool-sub001/internal/billing_service/repository/bolt"
)

type MockPaymentProcessor struct {
	mock.Mock
}

func (m *MockPaymentProcessor) RetrievePayment(ctx context.Context, paymentID string) (*domain.Payment, error) {
	args := m.Called(ctx, paymentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Payment), args.Error(1)
}

func (m *MockPaymentProcessor) ParseWebhookEvent(ctx context.Context, payload []byte, signature string) (*domain.PaymentEvent, error) {
	args := m.Called(ctx, payload, signature)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.PaymentEvent), args.Error(1)
}

type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) Publish(ctx context.Context, subject string, data []byte) error {
	args := m.Called(ctx, subject, data)
	return args.Error(0)
}

type MockLedgerStore struct {
	mock.Mock
}

func (m *MockLedgerStore) GetBalance(ctx context.Context, accountID string) (*domain.AccountCredit, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.AccountCredit), args.Error(1)
}

func (m *MockLedgerStore) Consume(ctx context.Context, accountID string, amount int64) (*domain.AccountCredit, error) {
	args := m.Called(ctx, accountID, amount)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.AccountCredit), args.Error(1)
}

func (m *MockLedgerStore) Grant(ctx context.Context, accountID string, amount int64) (*domain.AccountCredit, error) {
	args := m.Called(ctx, accountID, amount)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.AccountCredit), args.Error(1)
}

func (m *MockLedgerStore) SettlePayment(ctx context.Context, txn *domain.Transaction) (*domain.Transaction, bool, error) {
	args := m.Called(ctx, txn)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*domain.Transaction), args.Bool(1), args.Error(2)
}

type MockTransactionStore struct {
	mock.Mock
}

func (m *MockTransactionStore) GetByPaymentID(ctx context.Context, paymentID string) (*domain.Transaction, error) {
	args := m.Called(ctx, paymentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Transaction), args.Error(1)
}

func (m *MockTransactionStore) ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]domain.Transaction, error) {
	args := m.Called(ctx, accountID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Transaction), args.Error(1)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newBoltStore(t *testing.T) *bolt.Store {
	t.Helper()
	s, err := bolt.Open(filepath.Join(t.TempDir(), "billing.db"), discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}
