package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"txindex/internal/application"
	"txindex/internal/bootstrap"
	"txindex/internal/config"
	"txindex/internal/infrastructure/ethrpc"
	"txindex/internal/infrastructure/logging"
	"txindex/internal/interfaces/httpapi"
)

var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// The standalone indexer maps blocks straight into the record store without
// a broker and serves the query API from the same process.
func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}
	if err := run(cfg); err != nil {
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	closeLog := bootstrap.InitLogging(cfg, "logs/indexer.log")
	defer closeLog()

	if err := cfg.RequireRPC(); err != nil {
		slog.Error("config error", "err", err)
		return err
	}

	stopTracing := bootstrap.InitTracing("txindex-indexer", cfg)
	defer stopTracing()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	baseRepo, err := bootstrap.OpenStore(cfg)
	if err != nil {
		slog.Error("db error", "err", err)
		return err
	}
	defer bootstrap.CloseAll(baseRepo)
	repo := bootstrap.WithCache(baseRepo, cfg)

	rpcClient, err := ethrpc.NewClient(ctx, ethrpc.Config{URL: cfg.RPCURL, TraceCalls: cfg.TraceCalls})
	if err != nil {
		slog.Error("rpc error", "err", err)
		return err
	}
	defer rpcClient.Close()

	if len(cfg.ChainIDs) == 0 {
		if chainID, err := rpcClient.ChainID(ctx); err == nil {
			cfg.ChainIDs = []uint64{chainID}
		}
	}

	writer, err := application.NewDirectWriter(repo)
	if err != nil {
		slog.Error("writer error", "err", err)
		return err
	}

	metrics := httpapi.NewMetrics()
	httpServer, err := httpapi.NewServer(cfg, repo, rpcClient, metrics, httpapi.BuildInfo{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
	})
	if err != nil {
		slog.Error("http server error", "err", err)
		return err
	}

	mapper := application.NewMapper(logging.Component("mapper"))
	indexer, err := application.NewIndexer(rpcClient, writer, repo, repo, mapper, metrics, application.IndexerConfig{
		StartBlock:    cfg.StartBlock,
		Confirmations: cfg.Confirmations,
		PollInterval:  cfg.PollInterval,
		BatchSize:     cfg.BatchSize,
	})
	if err != nil {
		slog.Error("indexer error", "err", err)
		return err
	}

	go func() {
		slog.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(ctx, cfg.HTTPAddr); err != nil {
			slog.Error("http server error", "err", err)
			cancel()
		}
	}()

	slog.Info("indexer started",
		"rpc", cfg.RPCURL,
		"db_driver", cfg.DBDriver,
		"trace_calls", cfg.TraceCalls,
		"start", cfg.StartBlock,
		"confirmations", cfg.Confirmations,
		"batch", cfg.BatchSize,
	)
	if err := indexer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		slog.Error("indexer stopped", "err", err)
		return err
	}
	return nil
}
