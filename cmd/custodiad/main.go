package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"custodia/config"
	"custodia/core/genesis"
	"custodia/core/state"
	"custodia/native/escrow"
	"custodia/observability"
	"custodia/observability/logging"
	"custodia/observability/otel"
	"custodia/rpc"
	"custodia/storage"
)

const genesisAppliedKey = "genesis:applied"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("CUSTODIA_ENV"))

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if env == "" {
		env = strings.TrimSpace(cfg.Environment)
	}

	logger := logging.Setup("custodiad", env, logging.Options{
		FilePath:   cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Telemetry.Enabled {
		shutdown, err := otel.Init(ctx, otel.Config{
			ServiceName: "custodiad",
			Environment: env,
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
			Metrics:     cfg.Telemetry.Metrics,
			Traces:      cfg.Telemetry.Traces,
		})
		if err != nil {
			logger.Error("Failed to initialise telemetry", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Warn("Telemetry shutdown failed", slog.Any("error", err))
			}
		}()
	}

	var db storage.Database
	if cfg.InMemoryState {
		db = storage.NewMemDB()
	} else {
		ldb, err := storage.NewLevelDB(cfg.DataDir)
		if err != nil {
			logger.Error("Failed to open database", slog.String("dir", cfg.DataDir), slog.Any("error", err))
			os.Exit(1)
		}
		db = ldb
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Warn("Database close failed", slog.Any("error", err))
		}
	}()

	manager := state.NewManager(db)

	if genesisPath := strings.TrimSpace(cfg.GenesisFile); genesisPath != "" {
		applied, err := db.Has([]byte(genesisAppliedKey))
		if err != nil {
			logger.Error("Failed to check genesis marker", slog.Any("error", err))
			os.Exit(1)
		}
		if !applied {
			if err := genesis.Load(genesisPath, manager); err != nil {
				logger.Error("Failed to apply genesis allocations", slog.Any("error", err))
				os.Exit(1)
			}
			if err := db.Put([]byte(genesisAppliedKey), []byte("1")); err != nil {
				logger.Error("Failed to record genesis marker", slog.Any("error", err))
				os.Exit(1)
			}
			logger.Info("Applied genesis allocations", slog.String("file", genesisPath))
		}
	}

	emitter := observability.NewLoggingEmitter(logger, nil)

	engine := escrow.NewEngine()
	engine.SetState(manager)
	engine.SetEmitter(emitter)

	factory, err := escrow.NewFactory(manager, cfg.Admin())
	if err != nil {
		logger.Error("Failed to initialise factory", slog.Any("error", err))
		os.Exit(1)
	}
	factory.SetEmitter(emitter)

	server := rpc.NewServer(engine, factory, rpc.Options{
		Logger:        logger,
		AuthSecret:    cfg.AuthSecret,
		RatePerSecond: cfg.RateLimitPerSecond,
		Burst:         cfg.RateLimitBurst,
		Tracing:       cfg.Telemetry.Enabled && cfg.Telemetry.Traces,
	})

	if err := server.Start(ctx, cfg.ListenAddress); err != nil {
		logger.Error("RPC server terminated", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("Shutdown complete")
}
