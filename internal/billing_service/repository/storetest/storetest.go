// Package storetest is a conformance suite run against every repository.Store
// implementation.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donghaozhang/GenAI-tool-sub001/internal/billing_service/domain"
	"github.com/donghaozhang/GenAI-tool-sub001/internal/billing_service/repository"
)

// Factory returns an empty store. It is called once per subtest.
type Factory func(t *testing.T) repository.Store

func Run(t *testing.T, newStore Factory) {
	t.Run("GetBalanceUnknownAccount", func(t *testing.T) { testGetBalanceUnknown(t, newStore(t)) })
	t.Run("GrantAccumulates", func(t *testing.T) { testGrantAccumulates(t, newStore(t)) })
	t.Run("ConsumeBoundary", func(t *testing.T) { testConsumeBoundary(t, newStore(t)) })
	t.Run("ConsumeCreatesRecord", func(t *testing.T) { testConsumeCreatesRecord(t, newStore(t)) })
	t.Run("ConcurrentConsumeNeverOverdraws", func(t *testing.T) { testConcurrentConsume(t, newStore(t)) })
	t.Run("SettlePaymentOnce", func(t *testing.T) { testSettleOnce(t, newStore(t)) })
	t.Run("ConcurrentSettleGrantsOnce", func(t *testing.T) { testConcurrentSettle(t, newStore(t)) })
	t.Run("ListByAccount", func(t *testing.T) { testListByAccount(t, newStore(t)) })
}

// NewTransaction builds a completed record for tests.
func NewTransaction(paymentID, accountID string, credits int64, createdAt time.Time) *domain.Transaction {
	return &domain.Transaction{
		PaymentID:      paymentID,
		AccountID:      accountID,
		Amount:         decimal.RequireFromString("9.99"),
		Currency:       "usd",
		CreditsGranted: credits,
		Status:         domain.TransactionStatusCompleted,
		CreatedAt:      createdAt.UTC().Truncate(time.Millisecond),
	}
}

func testGetBalanceUnknown(t *testing.T, s repository.Store) {
	_, err := s.GetBalance(context.Background(), "nobody")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = s.GetByPaymentID(context.Background(), "pi_missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testGrantAccumulates(t *testing.T, s repository.Store) {
	ctx := context.Background()

	c, err := s.Grant(ctx, "acc_grant", 10)
	require.NoError(t, err)
	assert.Equal(t, int64(10), c.Credits)
	assert.False(t, c.UpdatedAt.IsZero())

	c, err = s.Grant(ctx, "acc_grant", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(15), c.Credits)

	got, err := s.GetBalance(ctx, "acc_grant")
	require.NoError(t, err)
	assert.Equal(t, "acc_grant", got.AccountID)
	assert.Equal(t, int64(15), got.Credits)
}

func testConsumeBoundary(t *testing.T, s repository.Store) {
	ctx := context.Background()
	_, err := s.Grant(ctx, "acc_boundary", 3)
	require.NoError(t, err)

	_, err = s.Consume(ctx, "acc_boundary", 4)
	var insufficient *domain.InsufficientCreditsError
	require.True(t, errors.As(err, &insufficient), "expected InsufficientCreditsError, got %v", err)
	assert.Equal(t, int64(3), insufficient.Available)
	assert.Equal(t, int64(4), insufficient.Required)

	got, err := s.GetBalance(ctx, "acc_boundary")
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Credits, "a rejected consume must not change the balance")

	c, err := s.Consume(ctx, "acc_boundary", 3)
	require.NoError(t, err)
	assert.Equal(t, int64(0), c.Credits)
}

func testConsumeCreatesRecord(t *testing.T, s repository.Store) {
	ctx := context.Background()

	_, err := s.Consume(ctx, "acc_fresh", 1)
	var insufficient *domain.InsufficientCreditsError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, int64(0), insufficient.Available)

	got, err := s.GetBalance(ctx, "acc_fresh")
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.Credits)
}

func testConcurrentConsume(t *testing.T, s repository.Store) {
	ctx := context.Background()
	const granted, workers = 50, 120
	_, err := s.Grant(ctx, "acc_race", granted)
	require.NoError(t, err)

	var succeeded, rejected atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Consume(ctx, "acc_race", 1)
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, domain.ErrInsufficientCredits):
				rejected.Add(1)
			default:
				t.Errorf("unexpected consume error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(granted), succeeded.Load())
	assert.Equal(t, int64(workers-granted), rejected.Load())

	got, err := s.GetBalance(ctx, "acc_race")
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.Credits)
}

func testSettleOnce(t *testing.T, s repository.Store) {
	ctx := context.Background()
	_, err := s.Grant(ctx, "acc_settle", 2)
	require.NoError(t, err)

	txn := NewTransaction("pi_once", "acc_settle", 10, time.Now())
	stored, inserted, err := s.SettlePayment(ctx, txn)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, int64(12), stored.BalanceAfter)
	assert.Equal(t, int64(10), stored.CreditsGranted)

	again, inserted, err := s.SettlePayment(ctx, NewTransaction("pi_once", "acc_settle", 10, time.Now()))
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, int64(12), again.BalanceAfter)

	got, err := s.GetBalance(ctx, "acc_settle")
	require.NoError(t, err)
	assert.Equal(t, int64(12), got.Credits)

	rec, err := s.GetByPaymentID(ctx, "pi_once")
	require.NoError(t, err)
	assert.Equal(t, "acc_settle", rec.AccountID)
	assert.Equal(t, domain.TransactionStatusCompleted, rec.Status)
	assert.True(t, decimal.RequireFromString("9.99").Equal(rec.Amount))
	assert.Equal(t, "usd", rec.Currency)
	assert.Equal(t, int64(12), rec.BalanceAfter)
}

func testConcurrentSettle(t *testing.T, s repository.Store) {
	ctx := context.Background()
	const workers = 10

	var insertedCount atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stored, inserted, err := s.SettlePayment(ctx, NewTransaction("pi_123", "acc_dup", 20, time.Now()))
			if err != nil {
				t.Errorf("settle failed: %v", err)
				return
			}
			if inserted {
				insertedCount.Add(1)
			}
			if stored.BalanceAfter != 20 {
				t.Errorf("expected balance_after 20, got %d", stored.BalanceAfter)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), insertedCount.Load())
	got, err := s.GetBalance(ctx, "acc_dup")
	require.NoError(t, err)
	assert.Equal(t, int64(20), got.Credits)

	records, err := s.ListByAccount(ctx, "acc_dup", 10, 0)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func testListByAccount(t *testing.T, s repository.Store) {
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		_, _, err := s.SettlePayment(ctx, NewTransaction(fmt.Sprintf("pi_list_%d", i), "acc_list", 1, base.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
	}
	_, _, err := s.SettlePayment(ctx, NewTransaction("pi_other", "acc_other", 1, base))
	require.NoError(t, err)

	all, err := s.ListByAccount(ctx, "acc_list", 10, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "pi_list_2", all[0].PaymentID)
	assert.Equal(t, "pi_list_0", all[2].PaymentID)

	page, err := s.ListByAccount(ctx, "acc_list", 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "pi_list_1", page[0].PaymentID)

	none, err := s.ListByAccount(ctx, "acc_nobody", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}
