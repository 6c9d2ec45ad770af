package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsufficientCreditsError_MatchesSentinel(t *testing.T) {
	err := fmt.Errorf("consume: %w", &InsufficientCreditsError{Available: 3, Required: 5})

	assert.ErrorIs(t, err, ErrInsufficientCredits)

	var insufficient *InsufficientCreditsError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, int64(3), insufficient.Available)
	assert.Equal(t, int64(5), insufficient.Required)
	assert.Contains(t, err.Error(), "available 3, required 5")
}

func TestTransactionStatus_Scan(t *testing.T) {
	var ts TransactionStatus
	require.NoError(t, ts.Scan("completed"))
	assert.Equal(t, TransactionStatusCompleted, ts)

	require.NoError(t, ts.Scan([]byte("failed")))
	assert.Equal(t, TransactionStatusFailed, ts)

	assert.Error(t, ts.Scan("pending"))
	assert.Error(t, ts.Scan(42))
}
