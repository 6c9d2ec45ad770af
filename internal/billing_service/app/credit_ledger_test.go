package app

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/donghaozhang/GenAI-tool-sub001/internal/billing_service/domain"
)

func TestCreditLedger_ConsumeRejectsBadInput(t *testing.T) {
	ledger := NewCreditLedger(newBoltStore(t), nil, discardLogger())
	ctx := context.Background()

	_, err := ledger.Consume(ctx, "", 1)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	for _, amount := range []int64{0, -3} {
		_, err = ledger.Consume(ctx, "acc_1", amount)
		assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	}

	_, err = ledger.Grant(ctx, "acc_1", 0)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestCreditLedger_InsufficientCreditsLeavesBalance(t *testing.T) {
	ledger := NewCreditLedger(newBoltStore(t), nil, discardLogger())
	ctx := context.Background()

	_, err := ledger.Grant(ctx, "acc_b", 3)
	require.NoError(t, err)

	_, err = ledger.Consume(ctx, "acc_b", 5)
	var insufficient *domain.InsufficientCreditsError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, int64(3), insufficient.Available)
	assert.Equal(t, int64(5), insufficient.Required)
	assert.NotErrorIs(t, err, domain.ErrLedgerUnavailable)

	balance, err := ledger.Balance(ctx, "acc_b")
	require.NoError(t, err)
	assert.Equal(t, int64(3), balance.Credits)
}

func TestCreditLedger_BalanceOfUnknownAccountIsZero(t *testing.T) {
	store := newBoltStore(t)
	ledger := NewCreditLedger(store, nil, discardLogger())

	balance, err := ledger.Balance(context.Background(), "acc_new")
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance.Credits)
	assert.Equal(t, "acc_new", balance.AccountID)

	_, err = store.GetBalance(context.Background(), "acc_new")
	assert.ErrorIs(t, err, domain.ErrNotFound, "reading a balance must not create a record")
}

func TestCreditLedger_PublishesEvents(t *testing.T) {
	events := new(MockEventPublisher)
	ledger := NewCreditLedger(newBoltStore(t), events, discardLogger())
	ctx := context.Background()

	var granted, consumed []byte
	events.On("Publish", mock.Anything, domain.SubjectCreditsGranted, mock.Anything).
		Run(func(args mock.Arguments) { granted = args.Get(2).([]byte) }).Return(nil).Once()
	events.On("Publish", mock.Anything, domain.SubjectCreditsConsumed, mock.Anything).
		Run(func(args mock.Arguments) { consumed = args.Get(2).([]byte) }).Return(nil).Once()

	_, err := ledger.Grant(ctx, "acc_ev", 8)
	require.NoError(t, err)
	credit, err := ledger.Consume(ctx, "acc_ev", 3)
	require.NoError(t, err)
	assert.Equal(t, int64(5), credit.Credits)

	events.AssertExpectations(t)

	var g domain.CreditsGrantedEvent
	require.NoError(t, json.Unmarshal(granted, &g))
	assert.Equal(t, int64(8), g.CreditsAdded)
	assert.Equal(t, int64(8), g.TotalCredits)
	assert.NotEmpty(t, g.EventID)

	var c domain.CreditsConsumedEvent
	require.NoError(t, json.Unmarshal(consumed, &c))
	assert.Equal(t, "acc_ev", c.AccountID)
	assert.Equal(t, int64(3), c.CreditsConsumed)
	assert.Equal(t, int64(5), c.CreditsRemaining)
}

func TestCreditLedger_PublishFailureDoesNotFailConsume(t *testing.T) {
	events := new(MockEventPublisher)
	events.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("nats down"))
	ledger := NewCreditLedger(newBoltStore(t), events, discardLogger())
	ctx := context.Background()

	_, err := ledger.Grant(ctx, "acc_pf", 2)
	require.NoError(t, err)
	credit, err := ledger.Consume(ctx, "acc_pf", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(0), credit.Credits)
}

func TestCreditLedger_StoreFailureIsLedgerUnavailable(t *testing.T) {
	store := new(MockLedgerStore)
	storeErr := errors.New("connection reset")
	store.On("Consume", mock.Anything, "acc_1", int64(1)).Return(nil, storeErr)
	store.On("Grant", mock.Anything, "acc_1", int64(1)).Return(nil, storeErr)
	store.On("GetBalance", mock.Anything, "acc_1").Return(nil, storeErr)
	ledger := NewCreditLedger(store, nil, discardLogger())
	ctx := context.Background()

	_, err := ledger.Consume(ctx, "acc_1", 1)
	assert.ErrorIs(t, err, domain.ErrLedgerUnavailable)
	assert.ErrorIs(t, err, storeErr)

	_, err = ledger.Grant(ctx, "acc_1", 1)
	assert.ErrorIs(t, err, domain.ErrLedgerUnavailable)

	_, err = ledger.Balance(ctx, "acc_1")
	assert.ErrorIs(t, err, domain.ErrLedgerUnavailable)

	store.AssertExpectations(t)
}
