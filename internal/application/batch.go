package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"txindex/internal/domain"
	"txindex/internal/streaming"

	"github.com/segmentio/kafka-go"
)

// Batch buffers consumed records messages so they can be stored in bulk
// before their offsets are committed. Reorg messages are not batched.
type Batch struct {
	records     []domain.StoredRecord
	blocks      []domain.BlockRecord
	messages    []kafka.Message
	maxBlockNum map[uint64]uint64
	minOffset   map[int]int64
	maxOffset   map[int]int64
}

func NewBatch() *Batch {
	return &Batch{
		maxBlockNum: make(map[uint64]uint64),
		minOffset:   make(map[int]int64),
		maxOffset:   make(map[int]int64),
	}
}

func (b *Batch) Add(msg streaming.Message, kafkaMsg kafka.Message) error {
	if msg.Type != streaming.MessageTypeRecords {
		return fmt.Errorf("cannot batch %q message", msg.Type)
	}
	batch, err := msg.RecordBatch()
	if err != nil {
		return err
	}
	b.records = append(b.records, batch.StoredRecords()...)
	b.blocks = append(b.blocks, batch.BlockRecord())
	b.messages = append(b.messages, kafkaMsg)

	if msg.BlockNumber > b.maxBlockNum[msg.ChainID] {
		b.maxBlockNum[msg.ChainID] = msg.BlockNumber
	}

	partition := kafkaMsg.Partition
	offset := kafkaMsg.Offset
	if min, ok := b.minOffset[partition]; !ok || offset < min {
		b.minOffset[partition] = offset
	}
	if max, ok := b.maxOffset[partition]; !ok || offset > max {
		b.maxOffset[partition] = offset
	}
	return nil
}

func (b *Batch) Len() int {
	return len(b.messages)
}

type Committer interface {
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

func (b *Batch) Flush(ctx context.Context, repo ComputeRepository, committer Committer) error {
	if b.Len() == 0 {
		return nil
	}

	start := time.Now()

	if len(b.records) > 0 {
		if err := repo.StoreRecords(ctx, b.records); err != nil {
			return fmt.Errorf("failed to store records: %w", err)
		}
	}
	if err := repo.StoreBlocks(ctx, b.blocks); err != nil {
		return fmt.Errorf("failed to store blocks: %w", err)
	}

	for chainID, blockNum := range b.maxBlockNum {
		if err := repo.SetLastProcessedBlock(ctx, chainID, blockNum); err != nil {
			return fmt.Errorf("failed to update state for chain %d: %w", chainID, err)
		}
	}

	if err := committer.CommitMessages(ctx, b.messages...); err != nil {
		return fmt.Errorf("failed to commit kafka messages: %w", err)
	}

	attrs := []any{
		"count", b.Len(),
		"records", len(b.records),
		"blocks", len(b.blocks),
		"duration", time.Since(start),
	}
	for partition, min := range b.minOffset {
		attrs = append(attrs, slog.Group(fmt.Sprintf("partition_%d", partition), "from", min, "to", b.maxOffset[partition]))
	}
	slog.Info("flushed batch", attrs...)

	b.Reset()
	return nil
}

func (b *Batch) Reset() {
	b.records = b.records[:0]
	b.blocks = b.blocks[:0]
	b.messages = b.messages[:0]
	clear(b.maxBlockNum)
	clear(b.minOffset)
	clear(b.maxOffset)
}
