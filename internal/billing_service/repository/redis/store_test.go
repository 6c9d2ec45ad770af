package redis

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donghaozhang/GenAI-tool-sub001/internal/billing_service/domain"
	"github.com/donghaozhang/GenAI-tool-sub001/internal/billing_service/repository"
	"github.com/donghaozhang/GenAI-tool-sub001/internal/billing_service/repository/storetest"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewStore(client, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) repository.Store {
		s, _ := newTestStore(t)
		return s
	})
}

func TestStore_KeyLayout(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	_, _, err := s.SettlePayment(ctx, storetest.NewTransaction("pi_keys", "acc_keys", 4, time.Now()))
	require.NoError(t, err)

	assert.Equal(t, "4", mr.HGet("credits:acc_keys", "credits"))
	assert.Equal(t, "4", mr.HGet("txn:pi_keys", "balance_after"))
	members, err := mr.ZMembers("account_txns:acc_keys")
	require.NoError(t, err)
	assert.Equal(t, []string{"pi_keys"}, members)
}

func TestStore_RedisDown(t *testing.T) {
	s, mr := newTestStore(t)
	mr.Close()

	_, err := s.Consume(context.Background(), "acc_1", 1)
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrInsufficientCredits)
	assert.Error(t, s.Ping(context.Background()))
}
