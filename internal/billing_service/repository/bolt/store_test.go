package bolt

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donghaozhang/GenAI-tool-sub001/internal/billing_service/repository"
	"github.com/donghaozhang/GenAI-tool-sub001/internal/billing_service/repository/storetest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "billing.db"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) repository.Store { return newTestStore(t) })
}

func TestStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "billing.db")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	s, err := Open(path, logger)
	require.NoError(t, err)
	_, _, err = s.SettlePayment(ctx, storetest.NewTransaction("pi_reopen", "acc_1", 7, time.Now()))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path, logger)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.GetBalance(ctx, "acc_1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.Credits)

	_, inserted, err := s.SettlePayment(ctx, storetest.NewTransaction("pi_reopen", "acc_1", 7, time.Now()))
	require.NoError(t, err)
	assert.False(t, inserted)
}

func TestStore_Ping(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.Ping(context.Background()))
}
