package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	gRPC "google.golang.org/grpc"

	grpcadapter "github.com/donghaozhang/GenAI-tool-sub001/internal/billing_service/adapters/grpc"
	httpadapter "github.com/donghaozhang/GenAI-tool-sub001/internal/billing_service/adapters/http"
	"github.com/donghaozhang/GenAI-tool-sub001/internal/billing_service/app"
	"github.com/donghaozhang/GenAI-tool-sub001/internal/billing_service/bootstrap"
	"github.com/donghaozhang/GenAI-tool-sub001/internal/platform/auth"
	"github.com/donghaozhang/GenAI-tool-sub001/internal/platform/config"
	"github.com/donghaozhang/GenAI-tool-sub001/internal/platform/logger"
)

const (
	serviceName         = "billing-service"
	shutdownTimeout     = 15 * time.Second
	healthCheckInterval = 10 * time.Second
)

func main() {
	mainCtx, mainCancel := context.WithCancel(context.Background())
	defer mainCancel()

	cfg, err := config.Load(serviceName)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	appLogger := logger.New(cfg.LogLevel).With("service", serviceName)

	if err := cfg.Validate(); err != nil {
		appLogger.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}
	appLogger.Info("Billing service starting...",
		"http_port", cfg.HTTPPort,
		"grpc_port", cfg.GRPCPort,
		"metrics_port", cfg.MetricsPort,
		"store_driver", cfg.StoreDriver,
		"payment_processor", cfg.PaymentProcessor,
		"log_level", cfg.LogLevel,
	)

	store, err := bootstrap.OpenStore(mainCtx, cfg, appLogger)
	if err != nil {
		appLogger.Error("Failed to open store", "driver", cfg.StoreDriver, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	processor, err := bootstrap.NewProcessor(cfg, appLogger)
	if err != nil {
		appLogger.Error("Failed to initialize payment processor", "error", err)
		os.Exit(1)
	}

	publisher, closePublisher, err := bootstrap.NewPublisher(cfg, serviceName, appLogger)
	if err != nil {
		appLogger.Error("Failed to connect to NATS", "url", cfg.NATSUrl, "error", err)
		os.Exit(1)
	}
	defer closePublisher()

	ledger := app.NewCreditLedger(store, publisher, appLogger)
	settlement := app.NewPaymentSettlement(processor, ledger, store, appLogger)

	g, groupCtx := errgroup.WithContext(mainCtx)

	// --- gRPC health server ---
	healthServer := grpcadapter.NewHealthServer(store, appLogger)
	grpcServer := healthServer.Server()
	grpcListenAddress := fmt.Sprintf(":%d", cfg.GRPCPort)
	grpcListener, err := net.Listen("tcp", grpcListenAddress)
	if err != nil {
		appLogger.Error("Failed to listen for gRPC", "address", grpcListenAddress, "error", err)
		os.Exit(1)
	}

	g.Go(func() error {
		healthServer.Watch(groupCtx, healthCheckInterval)
		return nil
	})

	g.Go(func() error {
		appLogger.Info("gRPC health server starting", "address", grpcListenAddress)
		if err := grpcServer.Serve(grpcListener); err != nil && !errors.Is(err, gRPC.ErrServerStopped) {
			appLogger.Error("gRPC server failed to serve", "error", err)
			return err
		}
		appLogger.Info("gRPC server shut down gracefully.")
		return nil
	})

	// --- HTTP API ---
	router := httpadapter.NewRouter(httpadapter.RouterConfig{
		Credits:           httpadapter.NewCreditsHandler(ledger, settlement, cfg.DefaultConsumeAmount, appLogger),
		Webhooks:          httpadapter.NewWebhookHandler(settlement, appLogger),
		Verifier:          auth.NewVerifier(cfg.JWTSecret),
		Store:             store,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		Logger:            appLogger,
	})
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g.Go(func() error {
		appLogger.Info("HTTP server starting", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("HTTP server ListenAndServe error", "error", err)
			return err
		}
		appLogger.Info("HTTP server shut down gracefully.")
		return nil
	})

	// --- Metrics ---
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler: metricsMux,
	}

	g.Go(func() error {
		appLogger.Info("Metrics HTTP server starting", "address", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("Metrics HTTP server ListenAndServe error", "error", err)
			return err
		}
		appLogger.Info("Metrics HTTP server shut down gracefully.")
		return nil
	})

	// --- Graceful shutdown ---
	stopSignal := make(chan os.Signal, 1)
	signal.Notify(stopSignal, syscall.SIGINT, syscall.SIGTERM)

	g.Go(func() error {
		select {
		case sig := <-stopSignal:
			appLogger.Info("Received termination signal", "signal", sig.String())
			mainCancel()
			return nil
		case <-groupCtx.Done():
			return nil
		}
	})

	g.Go(func() error {
		<-groupCtx.Done()
		appLogger.Info("Initiating graceful shutdown of servers...")

		shutdownCtx, cancelShutdownTimeout := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancelShutdownTimeout()

		var shutdownErrors error
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			appLogger.Error("Metrics HTTP server graceful shutdown failed", "error", err)
			shutdownErrors = errors.Join(shutdownErrors, fmt.Errorf("metrics http shutdown: %w", err))
		}
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			appLogger.Error("HTTP server graceful shutdown failed", "error", err)
			shutdownErrors = errors.Join(shutdownErrors, fmt.Errorf("http shutdown: %w", err))
		}
		grpcServer.GracefulStop()
		appLogger.Info("gRPC server has finished GracefulStop.")
		return shutdownErrors
	})

	appLogger.Info("Billing service is ready and running.")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		appLogger.Error("Service group encountered an error during run/shutdown", "error", err)
	}
	appLogger.Info("Billing service shut down successfully.")
}
