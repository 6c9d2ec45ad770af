// Package bootstrap builds the configured store, payment processor and event
// publisher. It is shared by the service binary and billingctl.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/donghaozhang/GenAI-tool-sub001/internal/billing_service/adapters/paymentgateway"
	"github.com/donghaozhang/GenAI-tool-sub001/internal/billing_service/domain"
	"github.com/donghaozhang/GenAI-tool-sub001/internal/billing_service/repository"
	"github.com/donghaozhang/GenAI-tool-sub001/internal/billing_service/repository/bolt"
	"github.com/donghaozhang/GenAI-tool-sub001/internal/billing_service/repository/postgres"
	redisstore "github.com/donghaozhang/GenAI-tool-sub001/internal/billing_service/repository/redis"
	"github.com/donghaozhang/GenAI-tool-sub001/internal/platform/config"
	"github.com/donghaozhang/GenAI-tool-sub001/internal/platform/database"
	"github.com/donghaozhang/GenAI-tool-sub001/internal/platform/messagebroker"
)

// OpenStore connects the store selected by cfg.StoreDriver.
func OpenStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (repository.Store, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		pool, err := database.NewDBPool(ctx, cfg.PostgresDSN, logger)
		if err != nil {
			return nil, err
		}
		return postgres.NewPgStore(pool, logger), nil
	case config.StoreDriverBolt:
		return bolt.Open(cfg.BoltPath, logger)
	case config.StoreDriverRedis:
		return redisstore.Connect(ctx, cfg.RedisAddr, logger)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func NewProcessor(cfg *config.Config, logger *slog.Logger) (domain.PaymentProcessor, error) {
	switch cfg.PaymentProcessor {
	case config.PaymentProcessorStripe:
		return paymentgateway.NewStripeAdapter(cfg.StripeSecretKey, cfg.StripeWebhookSecret, nil, logger), nil
	case config.PaymentProcessorMock:
		logger.Warn("Using the mock payment processor; payments are not verified")
		return paymentgateway.NewMockProcessor(cfg.StripeWebhookSecret, logger), nil
	default:
		return nil, fmt.Errorf("unknown payment processor %q", cfg.PaymentProcessor)
	}
}

// NewPublisher connects to NATS when enabled. The returned close func is
// always safe to call.
func NewPublisher(cfg *config.Config, appName string, logger *slog.Logger) (domain.EventPublisher, func(), error) {
	if !cfg.NATSEnabled {
		logger.Info("NATS disabled; billing events are not published")
		return messagebroker.NoopPublisher{}, func() {}, nil
	}
	nc, err := messagebroker.NewNatsClient(cfg.NATSUrl, appName, logger)
	if err != nil {
		return nil, func() {}, err
	}
	logger.Info("Connected to NATS", "url", cfg.NATSUrl)
	return nc, nc.Close, nil
}
