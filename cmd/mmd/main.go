package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"moneymarket/config"
	"moneymarket/contracts"
	"moneymarket/core"
	"moneymarket/core/pricing"
	nativecommon "moneymarket/native/common"
	"moneymarket/observability/logging"
	mmotel "moneymarket/observability/otel"
	"moneymarket/rpc"
	"moneymarket/settlement"
	"moneymarket/storage"
)

const genesisPathEnv = "MM_GENESIS"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	genesisFlag := flag.String("genesis", "", "Path to a genesis YAML file (overrides MM_GENESIS and config GenesisFile)")
	memoryFlag := flag.Bool("memory", false, "Keep the ledger in memory regardless of the configured database")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *memoryFlag {
		cfg.Database = config.DatabaseMemory
	}

	logger := logging.SetupWithFile("mmd", cfg.Env, logging.FileConfig{Path: cfg.LogFile})

	if err := run(cfg, resolveGenesisPath(*genesisFlag, cfg.GenesisFile), logger); err != nil {
		logger.Error("node stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func resolveGenesisPath(flagValue, configValue string) string {
	if trimmed := strings.TrimSpace(flagValue); trimmed != "" {
		return trimmed
	}
	if value, ok := os.LookupEnv(genesisPathEnv); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return strings.TrimSpace(configValue)
}

func run(cfg *config.Config, genesisPath string, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := mmotel.Init(ctx, mmotel.Config{
		ServiceName: "mmd",
		Environment: cfg.Env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     mmotel.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(shutdownCtx)
	}()

	db, err := openDatabase(cfg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	admins, err := cfg.AdminAddresses()
	if err != nil {
		return err
	}
	adminSet := nativecommon.NewAdminSet(admins...)
	pauses := nativecommon.NewPauseSet(cfg.PausedModules...)
	prices := pricing.NewStaticFeed(cfg.PriceMaxAge.Std())

	var (
		sink   settlement.Sink
		outbox rpc.Outbox
	)
	if dsn := strings.TrimSpace(cfg.SettlementDSN); dsn != "" {
		gdb, err := settlement.Open(dsn)
		if err != nil {
			return fmt.Errorf("open settlement database: %w", err)
		}
		ob, err := settlement.NewOutbox(gdb)
		if err != nil {
			return err
		}
		sink, outbox = ob, ob
	} else {
		logger.Warn("no settlement database configured; transfer instructions are kept in memory")
		sink = settlement.NewMemorySink()
	}

	ledger := core.NewLedger(db,
		core.WithSink(sink),
		core.WithInstantiateAuthorizer(adminSet),
		core.WithLogger(logger),
	)
	ledger.RegisterCode(contracts.PoolCode, contracts.NewPool(pauses))
	ledger.RegisterCode(contracts.RiskCode, contracts.NewRisk(prices, adminSet, pauses))

	if genesisPath != "" {
		if len(admins) == 0 {
			return errors.New("genesis requires at least one admin address")
		}
		genesis, err := config.LoadGenesis(genesisPath)
		if err != nil {
			return err
		}
		deployment, err := contracts.Bootstrap(ctx, ledger, admins[0], genesis, prices)
		if err != nil {
			return err
		}
		logger.Info("genesis applied", slog.String("risk", deployment.Risk.String()), slog.Int("markets", len(deployment.Pools)))
	}

	server := rpc.NewServer(ledger, prices, outbox, rpc.ServerConfig{
		JWTSecret:          cfg.RPC.JWTSecret,
		RateLimitPerSecond: cfg.RPC.RateLimitPerSecond,
		RateBurst:          cfg.RPC.RateBurst,
		MaxBodyBytes:       cfg.RPC.MaxBodyBytes,
		TrustForwardedFor:  cfg.RPC.TrustProxyHeaders,
		Admin:              adminSet,
		Logger:             logger,
	})
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(cfg.RPCAddress)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}

func openDatabase(cfg *config.Config) (storage.Database, error) {
	if cfg.Database == config.DatabaseMemory {
		return storage.NewMemDB(), nil
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, err
	}
	return storage.NewLevelDB(filepath.Join(cfg.DataDir, "ledger"))
}
