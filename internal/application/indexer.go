package application

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"txindex/internal/domain"
)

// BlockSource reads canonical blocks from a node. The bool results report
// whether the node has the block yet.
type BlockSource interface {
	ChainID(ctx context.Context) (uint64, error)
	LatestBlockNumber(ctx context.Context) (uint64, error)
	BlockHash(ctx context.Context, blockNumber uint64) (string, bool, error)
	FetchBlock(ctx context.Context, blockNumber uint64) (*domain.Block, bool, error)
}

type BlockRepository interface {
	StoreBlocks(ctx context.Context, blocks []domain.BlockRecord) error
	GetBlockHash(ctx context.Context, chainID uint64, blockNumber uint64) (string, bool, error)
	DeleteBlocksFrom(ctx context.Context, chainID uint64, fromBlock uint64) error
}

type StateRepository interface {
	LastProcessedBlock(ctx context.Context, chainID uint64) (uint64, bool, error)
	SetLastProcessedBlock(ctx context.Context, chainID uint64, block uint64) error
	ClearLastProcessedBlock(ctx context.Context, chainID uint64) error
}

// RecordWriter receives every mapped block and every reorg, in chain order.
type RecordWriter interface {
	PublishRecords(ctx context.Context, batch domain.RecordBatch) error
	PublishReorg(ctx context.Context, chainID uint64, fromBlock uint64, reason string) error
}

type IndexerObserver interface {
	OnLatestBlock(block uint64)
	OnBlockMapped(batch domain.RecordBatch)
}

type IndexerConfig struct {
	StartBlock    uint64
	Confirmations uint64
	PollInterval  time.Duration
	BatchSize     uint64
}

type Indexer struct {
	source   BlockSource
	writer   RecordWriter
	blocks   BlockRepository
	state    StateRepository
	mapper   *Mapper
	observer IndexerObserver
	cfg      IndexerConfig
}

var (
	ErrBlockUnavailable = errors.New("block unavailable")
	errParentMismatch   = errors.New("parent hash mismatch")
)

func NewIndexer(source BlockSource, writer RecordWriter, blocks BlockRepository, state StateRepository, mapper *Mapper, observer IndexerObserver, cfg IndexerConfig) (*Indexer, error) {
	if source == nil || writer == nil || blocks == nil || state == nil || mapper == nil {
		return nil, errors.New("indexer dependencies must not be nil")
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	return &Indexer{source: source, writer: writer, blocks: blocks, state: state, mapper: mapper, observer: observer, cfg: cfg}, nil
}

func (i *Indexer) Run(ctx context.Context) error {
	chainID, err := i.source.ChainID(ctx)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := i.reconcileReorg(ctx, chainID); err != nil {
			if errors.Is(err, ErrBlockUnavailable) {
				if err := i.wait(ctx); err != nil {
					return err
				}
				continue
			}
			return err
		}

		current := i.cfg.StartBlock
		if last, ok, err := i.state.LastProcessedBlock(ctx, chainID); err != nil {
			return err
		} else if ok {
			current = last + 1
		}

		latest, err := i.source.LatestBlockNumber(ctx)
		if err != nil {
			return err
		}
		if i.observer != nil {
			i.observer.OnLatestBlock(latest)
		}
		if latest < i.cfg.Confirmations {
			latest = 0
		} else {
			latest -= i.cfg.Confirmations
		}

		if current > latest {
			if err := i.wait(ctx); err != nil {
				return err
			}
			continue
		}

		toBlock := current + i.cfg.BatchSize - 1
		if toBlock > latest {
			toBlock = latest
		}

		for number := current; number <= toBlock; number++ {
			err := i.processBlock(ctx, chainID, number)
			if err == nil {
				continue
			}
			if errors.Is(err, errParentMismatch) {
				// reconciled on the next pass
				slog.Warn("parent hash mismatch, checking for reorg", "chain_id", chainID, "block", number)
				break
			}
			if errors.Is(err, ErrBlockUnavailable) {
				if err := i.wait(ctx); err != nil {
					return err
				}
				break
			}
			return err
		}
	}
}

func (i *Indexer) processBlock(ctx context.Context, chainID, number uint64) error {
	block, ok, err := i.source.FetchBlock(ctx, number)
	if err != nil {
		return err
	}
	if !ok {
		return ErrBlockUnavailable
	}

	batch, err := i.mapper.MapBatch(chainID, block)
	if err != nil {
		return err
	}
	if number > 0 {
		stored, ok, err := i.blocks.GetBlockHash(ctx, chainID, number-1)
		if err != nil {
			return err
		}
		if ok && batch.ParentHash != "" && !strings.EqualFold(stored, batch.ParentHash) {
			return errParentMismatch
		}
	}

	if err := i.writer.PublishRecords(ctx, batch); err != nil {
		return err
	}
	if err := i.blocks.StoreBlocks(ctx, []domain.BlockRecord{batch.BlockRecord()}); err != nil {
		return err
	}
	if err := i.state.SetLastProcessedBlock(ctx, chainID, number); err != nil {
		return err
	}
	if i.observer != nil {
		i.observer.OnBlockMapped(batch)
	}
	return nil
}

func (i *Indexer) wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(i.cfg.PollInterval):
		return nil
	}
}

// reconcileReorg compares the last processed block with the node and, on a
// mismatch, walks back to the newest block both agree on. Everything above it
// is dropped and a reorg is published.
func (i *Indexer) reconcileReorg(ctx context.Context, chainID uint64) error {
	last, ok, err := i.state.LastProcessedBlock(ctx, chainID)
	if err != nil || !ok {
		return err
	}
	storedHash, ok, err := i.blocks.GetBlockHash(ctx, chainID, last)
	if err != nil || !ok {
		return err
	}
	currentHash, ok, err := i.source.BlockHash(ctx, last)
	if err != nil {
		return err
	}
	if !ok {
		return ErrBlockUnavailable
	}
	if strings.EqualFold(currentHash, storedHash) {
		return nil
	}

	var rewind *uint64
	for block := last; block > 0; {
		block--
		storedHash, ok, err := i.blocks.GetBlockHash(ctx, chainID, block)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		currentHash, ok, err := i.source.BlockHash(ctx, block)
		if err != nil {
			return err
		}
		if !ok {
			return ErrBlockUnavailable
		}
		if strings.EqualFold(currentHash, storedHash) {
			rewind = &block
			break
		}
	}

	if rewind == nil {
		slog.Warn("reorg below all stored blocks", "chain_id", chainID, "last", last)
		if err := i.blocks.DeleteBlocksFrom(ctx, chainID, 0); err != nil {
			return err
		}
		if err := i.writer.PublishReorg(ctx, chainID, 0, "reorg"); err != nil {
			return err
		}
		return i.state.ClearLastProcessedBlock(ctx, chainID)
	}

	from := *rewind + 1
	slog.Warn("reorg detected", "chain_id", chainID, "from", from, "last", last)
	if err := i.blocks.DeleteBlocksFrom(ctx, chainID, from); err != nil {
		return err
	}
	if err := i.writer.PublishReorg(ctx, chainID, from, "reorg"); err != nil {
		return err
	}
	return i.state.SetLastProcessedBlock(ctx, chainID, *rewind)
}
