package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"txindex/internal/application"
	"txindex/internal/bootstrap"
	"txindex/internal/config"
	"txindex/internal/infrastructure/telemetry"
	"txindex/internal/interfaces/httpapi"
	"txindex/internal/streaming"

	kafkainfra "txindex/internal/infrastructure/kafka"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

var errChainIDsRequired = errors.New("CHAIN_IDS is required")

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
	closeLog := bootstrap.InitLogging(cfg, "logs/computing.log")
	defer closeLog()

	if len(cfg.ChainIDs) == 0 {
		slog.Error("CHAIN_IDS is required for compute streaming")
		return errChainIDsRequired
	}

	stopTracing := bootstrap.InitTracing("txindex-compute", cfg)
	defer stopTracing()

	baseRepo, err := bootstrap.OpenStore(cfg)
	if err != nil {
		slog.Error("db error", "err", err)
		return err
	}
	defer bootstrap.CloseAll(baseRepo)
	repo := bootstrap.WithCache(baseRepo, cfg)

	metrics := httpapi.NewMetrics()
	var maxProcessed uint64
	for _, chainID := range cfg.ChainIDs {
		if last, ok, err := repo.LastProcessedBlock(context.Background(), chainID); err == nil && ok && last > maxProcessed {
			maxProcessed = last
		}
	}
	metrics.SetLastProcessed(maxProcessed)

	httpServer, err := httpapi.NewServer(cfg, repo, nil, metrics, httpapi.BuildInfo{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
	})
	if err != nil {
		slog.Error("http server error", "err", err)
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		slog.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(ctx, cfg.HTTPAddr); err != nil {
			slog.Error("http server error", "err", err)
			cancel()
		}
	}()

	var wg sync.WaitGroup
	readers := make([]*kafka.Reader, 0, len(cfg.ChainIDs))
	for _, chainID := range cfg.ChainIDs {
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.KafkaBrokers,
			GroupID:  cfg.KafkaGroupID,
			Topic:    kafkainfra.TopicForChain(cfg.KafkaTopicPrefix, chainID),
			MinBytes: 1,
			MaxBytes: 10e6,
		})
		readers = append(readers, reader)

		wg.Add(1)
		go func(chain uint64, r *kafka.Reader) {
			defer wg.Done()
			consumeStream(ctx, r, repo, metrics, chain, cfg)
		}(chainID, reader)
	}

	slog.Info("compute streaming started", "topics", len(cfg.ChainIDs), "group", cfg.KafkaGroupID)
	<-ctx.Done()
	for _, reader := range readers {
		_ = reader.Close()
	}
	wg.Wait()
	return nil
}

// consumeStream batches records messages and flushes them when the batch is
// full or the topic goes quiet. Reorgs flush the pending batch first so
// storage sees messages in topic order, and block the stream until applied.
func consumeStream(ctx context.Context, reader *kafka.Reader, repo application.ComputeRepository, metrics *httpapi.Metrics, chainID uint64, cfg config.Config) {
	tracer := otel.Tracer("txindex/compute")
	batch := application.NewBatch()
	logger := slog.Default().With("chain_id", chainID, "topic", reader.Config().Topic)

	flushInterval := 500 * time.Millisecond
	if cfg.PollInterval > 0 && cfg.PollInterval < flushInterval {
		flushInterval = cfg.PollInterval
	}
	flush := func(ctx context.Context, reason string) bool {
		if batch.Len() == 0 {
			return true
		}
		if err := batch.Flush(ctx, repo, reader); err != nil {
			logger.Error("batch flush error", "reason", reason, "err", err)
			metrics.IncConsumerError(httpapi.StageCommit)
			return false
		}
		return true
	}
	// offsets commit cumulatively, so pending records go first
	commitSkipped := func(ctx context.Context, message kafka.Message) {
		if flush(ctx, "skip") {
			_ = reader.CommitMessages(ctx, message)
		}
	}

	for {
		fetchCtx, cancel := context.WithTimeout(ctx, flushInterval)
		message, err := reader.FetchMessage(fetchCtx)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, context.DeadlineExceeded) {
				flush(ctx, "idle")
				continue
			}
			metrics.IncConsumerError(httpapi.StageFetch)
			logger.Error("kafka fetch error", "err", err)
			time.Sleep(100 * time.Millisecond)
			continue
		}
		metrics.ObserveConsumed(message.Topic, message.Offset, message.Time)

		decoded, err := streaming.Decode(message.Value)
		if err != nil {
			logger.Warn("message decode error", "offset", message.Offset, "err", err)
			metrics.IncConsumerError(httpapi.StageDecode)
			commitSkipped(ctx, message)
			continue
		}
		if decoded.ChainID != chainID {
			logger.Warn("unexpected chain id on topic", "message_chain_id", decoded.ChainID)
		}

		messageCtx := telemetry.ExtractKafkaHeaders(ctx, message.Headers)
		if !trace.SpanContextFromContext(messageCtx).IsValid() && decoded.TraceID != "" {
			if ctxWithTrace, ok := telemetry.ContextWithTraceID(messageCtx, decoded.TraceID); ok {
				messageCtx = ctxWithTrace
			}
		}
		messageCtx, span := tracer.Start(messageCtx, "compute.process_message", trace.WithSpanKind(trace.SpanKindConsumer))
		span.SetAttributes(
			attribute.String("message.type", string(decoded.Type)),
			attribute.Int64("chain.id", int64(decoded.ChainID)),
			attribute.Int64("block.number", int64(decoded.BlockNumber)),
			attribute.Int("tx.count", int(decoded.TxCount)),
		)

		if decoded.Type == streaming.MessageTypeReorg {
			err := application.ApplyReorg(messageCtx, repo, batch, reader, decoded, message, nil)
			if err != nil {
				// retries only stop once the consumer is shutting down
				logger.Error("reorg apply error", "from", decoded.FromBlock, "err", err)
				metrics.IncConsumerError(httpapi.StageApply)
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				span.End()
				return
			}
			if decoded.FromBlock == 0 {
				metrics.SetLastProcessed(0)
			} else {
				metrics.SetLastProcessed(decoded.FromBlock - 1)
			}
			span.End()
			continue
		}

		if err := batch.Add(decoded, message); err != nil {
			logger.Warn("skipping message", "offset", message.Offset, "err", err)
			metrics.IncConsumerError(httpapi.StageApply)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()
			commitSkipped(ctx, message)
			continue
		}
		if recordBatch, err := decoded.RecordBatch(); err == nil {
			metrics.ObserveBatch(recordBatch)
		}
		span.End()

		if uint64(batch.Len()) >= cfg.BatchSize {
			flush(ctx, "size")
		}
	}
}
