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
	"txindex/internal/domain"
	"txindex/internal/infrastructure/ethrpc"
	"txindex/internal/infrastructure/kafka"
	"txindex/internal/infrastructure/logging"
	"txindex/internal/infrastructure/natsjs"
)

type publisher interface {
	application.RecordWriter
	Close() error
}

var (
	openStateStore = bootstrap.OpenStateStore
	newPublisher   = openPublisher
)

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

// run returns instead of exiting so every deferred close runs on failure.
func run(cfg config.Config) error {
	closeLog := bootstrap.InitLogging(cfg, "logs/mapper.log")
	defer closeLog()

	if err := cfg.RequireRPC(); err != nil {
		slog.Error("config error", "err", err)
		return err
	}

	stopTracing := bootstrap.InitTracing("txindex-mapper", cfg)
	defer stopTracing()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	stateRepo, err := openStateStore(cfg)
	if err != nil {
		slog.Error("state db error", "err", err)
		return err
	}
	defer bootstrap.CloseAll(stateRepo)

	rpcClient, err := ethrpc.NewClient(ctx, ethrpc.Config{URL: cfg.RPCURL, TraceCalls: cfg.TraceCalls})
	if err != nil {
		slog.Error("rpc error", "err", err)
		return err
	}
	defer rpcClient.Close()

	writer, err := newPublisher(cfg)
	if err != nil {
		slog.Error("publisher error", "publisher", cfg.Publisher, "err", err)
		return err
	}
	defer bootstrap.CloseAll(writer)

	mapper := application.NewMapper(logging.Component("mapper"))
	indexer, err := application.NewIndexer(rpcClient, writer, stateRepo, stateRepo, mapper, mapperObserver{}, application.IndexerConfig{
		StartBlock:    cfg.StartBlock,
		Confirmations: cfg.Confirmations,
		PollInterval:  cfg.PollInterval,
		BatchSize:     cfg.BatchSize,
	})
	if err != nil {
		slog.Error("indexer error", "err", err)
		return err
	}

	slog.Info("mapper started",
		"rpc", cfg.RPCURL,
		"publisher", cfg.Publisher,
		"trace_calls", cfg.TraceCalls,
		"start", cfg.StartBlock,
		"confirmations", cfg.Confirmations,
		"batch", cfg.BatchSize,
	)
	if err := indexer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		slog.Error("mapper stopped", "err", err)
		return err
	}
	return nil
}

func openPublisher(cfg config.Config) (publisher, error) {
	if cfg.Publisher == config.PublisherNATS {
		return natsjs.NewPublisher(natsjs.Config{
			URL:           cfg.NATSURL,
			Stream:        cfg.NATSStream,
			SubjectPrefix: cfg.NATSSubjectPrefix,
		})
	}
	return kafka.NewProducer(kafka.ProducerConfig{
		Brokers:     cfg.KafkaBrokers,
		TopicPrefix: cfg.KafkaTopicPrefix,
	})
}

type mapperObserver struct{}

func (mapperObserver) OnLatestBlock(block uint64) {}

func (mapperObserver) OnBlockMapped(batch domain.RecordBatch) {
	slog.Info("block mapped",
		"chain_id", batch.ChainID,
		"block", batch.BlockNumber,
		"records", len(batch.Records.Records),
	)
}
