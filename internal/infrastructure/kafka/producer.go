package kafka

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"txindex/internal/domain"
	"txindex/internal/infrastructure/telemetry"
	"txindex/internal/streaming"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const defaultTopicPrefix = "txindex-records"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes one message per mapped block to a per-chain topic.
type Producer struct {
	writer messageWriter
	prefix string
}

type ProducerConfig struct {
	Brokers     []string
	TopicPrefix string
}

func NewProducer(cfg ProducerConfig) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireAll,
	}
	return newProducer(writer, cfg.TopicPrefix), nil
}

func newProducer(writer messageWriter, prefix string) *Producer {
	if strings.TrimSpace(prefix) == "" {
		prefix = defaultTopicPrefix
	}
	return &Producer{writer: writer, prefix: prefix}
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

func (p *Producer) PublishRecords(ctx context.Context, batch domain.RecordBatch) error {
	tracer := otel.Tracer("txindex/kafka")

	_, traceIDHex, ok := telemetry.NewTraceID()
	traceCtx := ctx
	if ok {
		traceCtx, _ = telemetry.ContextWithTraceID(ctx, traceIDHex)
	}
	traceCtx, span := tracer.Start(traceCtx, "mapper.publish_records", trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()
	span.SetAttributes(
		attribute.Int64("chain.id", int64(batch.ChainID)),
		attribute.Int64("block.number", int64(batch.BlockNumber)),
		attribute.String("block.hash", batch.BlockHash),
		attribute.Int("records", len(batch.Records.Records)),
	)

	msg := streaming.NewRecordsMessage(batch)
	msg.TraceID = traceIDHex
	payload, err := streaming.Encode(msg)
	if err != nil {
		recordError(span, err)
		return err
	}

	headers := make([]kafka.Header, 0, 2)
	telemetry.InjectKafkaHeaders(traceCtx, &headers)
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Topic:   p.topicForChain(batch.ChainID),
		Key:     partitionKey(batch.ChainID),
		Value:   payload,
		Headers: headers,
	})
	if err != nil {
		recordError(span, err)
		return fmt.Errorf("publish block %d: %w", batch.BlockNumber, err)
	}
	return nil
}

func (p *Producer) PublishReorg(ctx context.Context, chainID uint64, fromBlock uint64, reason string) error {
	payload, err := streaming.Encode(streaming.NewReorgMessage(chainID, fromBlock, reason))
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Topic: p.topicForChain(chainID),
		Key:   partitionKey(chainID),
		Value: payload,
	})
}

func (p *Producer) topicForChain(chainID uint64) string {
	return TopicForChain(p.prefix, chainID)
}

func TopicForChain(prefix string, chainID uint64) string {
	return fmt.Sprintf("%s-%d", prefix, chainID)
}

// partitionKey pins a chain to one partition so records and reorgs are
// consumed in publish order.
func partitionKey(chainID uint64) []byte {
	return []byte(fmt.Sprintf("chain:%d", chainID))
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
