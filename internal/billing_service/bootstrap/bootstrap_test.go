package bootstrap

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donghaozhang/GenAI-tool-sub001/internal/billing_service/adapters/paymentgateway"
	"github.com/donghaozhang/GenAI-tool-sub001/internal/billing_service/repository/bolt"
	redisstore "github.com/donghaozhang/GenAI-tool-sub001/internal/billing_service/repository/redis"
	"github.com/donghaozhang/GenAI-tool-sub001/internal/platform/config"
	"github.com/donghaozhang/GenAI-tool-sub001/internal/platform/messagebroker"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	s, err := OpenStore(ctx, &config.Config{StoreDriver: config.StoreDriverBolt, BoltPath: filepath.Join(t.TempDir(), "b.db")}, discard())
	require.NoError(t, err)
	assert.IsType(t, &bolt.Store{}, s)
	assert.NoError(t, s.Ping(ctx))
	require.NoError(t, s.Close())

	mr := miniredis.RunT(t)
	s, err = OpenStore(ctx, &config.Config{StoreDriver: config.StoreDriverRedis, RedisAddr: mr.Addr()}, discard())
	require.NoError(t, err)
	assert.IsType(t, &redisstore.Store{}, s)
	require.NoError(t, s.Close())

	_, err = OpenStore(ctx, &config.Config{StoreDriver: "mongo"}, discard())
	assert.Error(t, err)
}

func TestNewProcessor(t *testing.T) {
	p, err := NewProcessor(&config.Config{PaymentProcessor: config.PaymentProcessorStripe, StripeSecretKey: "sk_test"}, discard())
	require.NoError(t, err)
	assert.IsType(t, &paymentgateway.StripeAdapter{}, p)

	p, err = NewProcessor(&config.Config{PaymentProcessor: config.PaymentProcessorMock}, discard())
	require.NoError(t, err)
	assert.IsType(t, &paymentgateway.MockProcessor{}, p)

	_, err = NewProcessor(&config.Config{PaymentProcessor: "paypal"}, discard())
	assert.Error(t, err)
}

func TestNewPublisher_Disabled(t *testing.T) {
	pub, closeFn, err := NewPublisher(&config.Config{NATSEnabled: false}, "test", discard())
	require.NoError(t, err)
	assert.IsType(t, messagebroker.NoopPublisher{}, pub)
	closeFn()
}
