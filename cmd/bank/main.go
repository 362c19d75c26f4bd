package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/davidleathers/distributed-auction-network/internal/bank"
	"github.com/davidleathers/distributed-auction-network/internal/infrastructure/config"
	"github.com/davidleathers/distributed-auction-network/internal/infrastructure/telemetry"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	metricsAddr := flag.String("metrics-addr", ":7110", "metrics listen address (empty disables)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger, err := telemetry.SetupLogger(cfg.LogLevel)
	if err != nil {
		slog.Error("failed to setup logger", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	if err := run(ctx, cfg, *metricsAddr, logger); err != nil {
		logger.Error("bank failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, metricsAddr string, logger *slog.Logger) error {
	logger.Info("starting bank",
		"environment", cfg.Environment,
		"listen_addr", cfg.Bank.ListenAddr)

	ledger := bank.NewLedger()
	server := bank.NewServer(bank.ServerConfig{
		Addr:              cfg.Bank.ListenAddr,
		ReadTimeout:       cfg.Bank.ReadTimeout,
		RequestsPerSecond: cfg.Bank.RequestsPerSecond,
		BurstSize:         cfg.Bank.BurstSize,
	}, ledger, logger)

	if err := server.Start(ctx); err != nil {
		return err
	}

	var metricsServer *http.Server
	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:              metricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down gracefully")
	server.Stop()
	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		metricsServer.Shutdown(shutdownCtx)
	}
	return nil
}
