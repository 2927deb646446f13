package natsjs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"txindex/internal/domain"
	"txindex/internal/infrastructure/telemetry"
	"txindex/internal/streaming"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Config struct {
	URL           string
	Stream        string
	SubjectPrefix string
	MaxAge        time.Duration
}

type jetStream interface {
	PublishMsg(m *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// Publisher writes record batches to a JetStream stream, one subject per chain.
// Records messages carry a Nats-Msg-Id so redelivered blocks are deduplicated
// inside the stream's duplicate window.
type Publisher struct {
	conn   *nats.Conn
	js     jetStream
	prefix string
}

func NewPublisher(cfg Config) (*Publisher, error) {
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}
	if strings.TrimSpace(cfg.Stream) == "" {
		return nil, errors.New("nats stream is required")
	}
	if strings.TrimSpace(cfg.SubjectPrefix) == "" {
		return nil, errors.New("nats subject prefix is required")
	}

	conn, err := nats.Connect(url, nats.RetryOnFailedConnect(true), nats.MaxReconnects(-1), nats.Name("txindex-mapper"))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream context: %w", err)
	}

	if _, err := js.StreamInfo(cfg.Stream); err != nil {
		if !errors.Is(err, nats.ErrStreamNotFound) {
			conn.Close()
			return nil, fmt.Errorf("stream info: %w", err)
		}
		maxAge := cfg.MaxAge
		if maxAge <= 0 {
			maxAge = 7 * 24 * time.Hour
		}
		_, err = js.AddStream(&nats.StreamConfig{
			Name:      cfg.Stream,
			Subjects:  []string{cfg.SubjectPrefix + ".>"},
			Retention: nats.LimitsPolicy,
			Storage:   nats.FileStorage,
			MaxAge:    maxAge,
			Replicas:  1,
		})
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("create stream: %w", err)
		}
	}

	return &Publisher{conn: conn, js: js, prefix: cfg.SubjectPrefix}, nil
}

func (p *Publisher) Close() error {
	if p.conn != nil {
		if err := p.conn.Drain(); err != nil {
			p.conn.Close()
			return err
		}
	}
	return nil
}

func (p *Publisher) PublishRecords(ctx context.Context, batch domain.RecordBatch) error {
	ctx, span := otel.Tracer("txindex/nats").Start(ctx, "mapper.publish_records", trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()
	span.SetAttributes(
		attribute.Int64("chain.id", int64(batch.ChainID)),
		attribute.Int64("block.number", int64(batch.BlockNumber)),
		attribute.Int("records", len(batch.Records.Records)),
	)

	payload, err := streaming.Encode(streaming.NewRecordsMessage(batch))
	if err != nil {
		recordError(span, err)
		return err
	}
	msgID := fmt.Sprintf("%d:%d:%s", batch.ChainID, batch.BlockNumber, batch.BlockHash)
	if err := p.publish(ctx, batch.ChainID, payload, nats.MsgId(msgID)); err != nil {
		recordError(span, err)
		return fmt.Errorf("publish block %d: %w", batch.BlockNumber, err)
	}
	return nil
}

func (p *Publisher) PublishReorg(ctx context.Context, chainID uint64, fromBlock uint64, reason string) error {
	payload, err := streaming.Encode(streaming.NewReorgMessage(chainID, fromBlock, reason))
	if err != nil {
		return err
	}
	return p.publish(ctx, chainID, payload)
}

func (p *Publisher) publish(ctx context.Context, chainID uint64, payload []byte, opts ...nats.PubOpt) error {
	msg := nats.NewMsg(SubjectForChain(p.prefix, chainID))
	msg.Data = payload
	telemetry.InjectNATSHeaders(ctx, msg)
	_, err := p.js.PublishMsg(msg, append(opts, nats.Context(ctx))...)
	return err
}

func SubjectForChain(prefix string, chainID uint64) string {
	return fmt.Sprintf("%s.%d", prefix, chainID)
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
