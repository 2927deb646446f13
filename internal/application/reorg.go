package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"txindex/internal/streaming"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
)

// NewReorgBackOff waits between reorg attempts without ever giving up; only
// the caller's context ends the retries.
func NewReorgBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// ApplyReorg flushes the pending batch, rewinds storage and commits the reorg
// message. The consumer does not see an uncommitted message again, so a reorg
// is retried with policy until it lands or ctx is done.
func ApplyReorg(ctx context.Context, repo ComputeRepository, pending *Batch, committer Committer, msg streaming.Message, kafkaMsg kafka.Message, policy backoff.BackOff) error {
	if repo == nil || committer == nil {
		return errors.New("compute repository and committer are required")
	}
	if msg.Type != streaming.MessageTypeReorg {
		return fmt.Errorf("cannot apply %q message as reorg", msg.Type)
	}
	if policy == nil {
		policy = NewReorgBackOff()
	}

	attempt := 0
	apply := func() error {
		attempt++
		if pending != nil {
			if err := pending.Flush(ctx, repo, committer); err != nil {
				return fmt.Errorf("flush before reorg: %w", err)
			}
		}
		if err := ApplyMessage(ctx, repo, msg); err != nil {
			return err
		}
		if err := committer.CommitMessages(ctx, kafkaMsg); err != nil {
			return fmt.Errorf("commit reorg: %w", err)
		}
		return nil
	}
	notify := func(err error, wait time.Duration) {
		slog.Warn("reorg not applied, retrying",
			"chain_id", msg.ChainID,
			"from", msg.FromBlock,
			"attempt", attempt,
			"wait", wait,
			"err", err,
		)
	}
	return backoff.RetryNotify(apply, backoff.WithContext(policy, ctx), notify)
}
