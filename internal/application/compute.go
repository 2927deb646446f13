package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"txindex/internal/domain"
	"txindex/internal/streaming"
)

type RecordRepository interface {
	StoreRecords(ctx context.Context, records []domain.StoredRecord) error
	DeleteRecordsFrom(ctx context.Context, chainID uint64, fromBlock uint64) error
}

type ComputeRepository interface {
	RecordRepository
	StoreBlocks(ctx context.Context, blocks []domain.BlockRecord) error
	DeleteBlocksFrom(ctx context.Context, chainID uint64, fromBlock uint64) error
	ClearLastProcessedBlock(ctx context.Context, chainID uint64) error
	SetLastProcessedBlock(ctx context.Context, chainID uint64, block uint64) error
}

// ApplyMessage stores a records message or rewinds storage for a reorg.
func ApplyMessage(ctx context.Context, repo ComputeRepository, msg streaming.Message) error {
	slog.Debug("consume message",
		"type", msg.Type,
		"chain_id", msg.ChainID,
		"block_number", msg.BlockNumber,
		"tx_count", msg.TxCount,
	)

	if repo == nil {
		return errors.New("compute repository is required")
	}

	switch msg.Type {
	case streaming.MessageTypeRecords:
		batch, err := msg.RecordBatch()
		if err != nil {
			return err
		}
		if err := repo.StoreRecords(ctx, batch.StoredRecords()); err != nil {
			return err
		}
		if err := repo.StoreBlocks(ctx, []domain.BlockRecord{batch.BlockRecord()}); err != nil {
			return err
		}
		return repo.SetLastProcessedBlock(ctx, msg.ChainID, msg.BlockNumber)
	case streaming.MessageTypeReorg:
		return applyReorg(ctx, repo, msg.ChainID, msg.FromBlock)
	default:
		return fmt.Errorf("unknown message type %q", msg.Type)
	}
}

func applyReorg(ctx context.Context, repo ComputeRepository, chainID, from uint64) error {
	if err := repo.DeleteRecordsFrom(ctx, chainID, from); err != nil {
		return err
	}
	if err := repo.DeleteBlocksFrom(ctx, chainID, from); err != nil {
		return err
	}
	if from == 0 {
		return repo.ClearLastProcessedBlock(ctx, chainID)
	}
	return repo.SetLastProcessedBlock(ctx, chainID, from-1)
}

// DirectWriter is a RecordWriter that stores records without a broker. Block
// hashes and progress are left to the indexer's own repositories.
type DirectWriter struct {
	repo RecordRepository
}

func NewDirectWriter(repo RecordRepository) (*DirectWriter, error) {
	if repo == nil {
		return nil, errors.New("record repository is required")
	}
	return &DirectWriter{repo: repo}, nil
}

func (w *DirectWriter) PublishRecords(ctx context.Context, batch domain.RecordBatch) error {
	if len(batch.Records.Records) == 0 {
		return nil
	}
	return w.repo.StoreRecords(ctx, batch.StoredRecords())
}

func (w *DirectWriter) PublishReorg(ctx context.Context, chainID uint64, fromBlock uint64, reason string) error {
	slog.Info("dropping records after reorg", "chain_id", chainID, "from", fromBlock, "reason", reason)
	return w.repo.DeleteRecordsFrom(ctx, chainID, fromBlock)
}
