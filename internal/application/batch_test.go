package application

import (
	"context"
	"testing"

	"txindex/internal/domain"
	"txindex/internal/streaming"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRepo struct {
	records   []domain.StoredRecord
	blocks    []domain.BlockRecord
	lastBlock map[uint64]uint64
	deletedAt map[uint64]uint64
	cleared   []uint64
}

func (m *mockRepo) StoreRecords(ctx context.Context, records []domain.StoredRecord) error {
	m.records = append(m.records, records...)
	return nil
}

func (m *mockRepo) StoreBlocks(ctx context.Context, blocks []domain.BlockRecord) error {
	m.blocks = append(m.blocks, blocks...)
	return nil
}

func (m *mockRepo) SetLastProcessedBlock(ctx context.Context, chainID uint64, block uint64) error {
	if m.lastBlock == nil {
		m.lastBlock = make(map[uint64]uint64)
	}
	m.lastBlock[chainID] = block
	return nil
}

func (m *mockRepo) DeleteRecordsFrom(ctx context.Context, chainID uint64, fromBlock uint64) error {
	if m.deletedAt == nil {
		m.deletedAt = make(map[uint64]uint64)
	}
	m.deletedAt[chainID] = fromBlock
	kept := m.records[:0]
	for _, rec := range m.records {
		if rec.ChainID != chainID || rec.BlockNumber < fromBlock {
			kept = append(kept, rec)
		}
	}
	m.records = kept
	return nil
}

func (m *mockRepo) DeleteBlocksFrom(ctx context.Context, chainID uint64, fromBlock uint64) error {
	kept := m.blocks[:0]
	for _, block := range m.blocks {
		if block.ChainID != chainID || block.BlockNumber < fromBlock {
			kept = append(kept, block)
		}
	}
	m.blocks = kept
	return nil
}

func (m *mockRepo) ClearLastProcessedBlock(ctx context.Context, chainID uint64) error {
	m.cleared = append(m.cleared, chainID)
	delete(m.lastBlock, chainID)
	return nil
}

type mockCommitter struct {
	committed []kafka.Message
}

func (m *mockCommitter) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	m.committed = append(m.committed, msgs...)
	return nil
}

func recordsMessage(chainID, block uint64, n int) streaming.Message {
	batch := domain.RecordBatch{ChainID: chainID, BlockNumber: block, BlockHash: "0xb"}
	for i := 0; i < n; i++ {
		batch.Records.Records = append(batch.Records.Records, domain.TxRecord{
			ID:   []byte{byte(block), byte(i)},
			Kind: domain.EthTransfer.String(),
			Raw:  &domain.Raw{GasLimit: 21000, Value: "0x0"},
		})
	}
	return streaming.NewRecordsMessage(batch)
}

func TestBatch_AddAndFlush(t *testing.T) {
	batch := NewBatch()
	repo := &mockRepo{}
	committer := &mockCommitter{}
	ctx := context.Background()

	require.NoError(t, batch.Add(recordsMessage(1, 100, 2), kafka.Message{Offset: 1}))
	require.NoError(t, batch.Add(recordsMessage(1, 101, 1), kafka.Message{Offset: 2}))
	assert.Equal(t, 2, batch.Len())

	require.NoError(t, batch.Flush(ctx, repo, committer))

	require.Len(t, repo.records, 3)
	assert.Equal(t, uint32(1), repo.records[1].TxIndex)
	assert.Equal(t, uint64(101), repo.records[2].BlockNumber)
	assert.Len(t, repo.blocks, 2)
	assert.Equal(t, uint64(101), repo.lastBlock[1])
	assert.Len(t, committer.committed, 2)
	assert.Zero(t, batch.Len())
}

func TestBatch_RejectsReorgAndBadPayload(t *testing.T) {
	batch := NewBatch()
	assert.Error(t, batch.Add(streaming.NewReorgMessage(1, 5, "reorg"), kafka.Message{}))

	msg := recordsMessage(1, 5, 1)
	msg.Records = []byte{0x0a, 0x05}
	assert.Error(t, batch.Add(msg, kafka.Message{}))
	assert.Zero(t, batch.Len())
}

func TestBatch_FlushEmpty(t *testing.T) {
	committer := &mockCommitter{}
	require.NoError(t, NewBatch().Flush(context.Background(), &mockRepo{}, committer))
	assert.Empty(t, committer.committed)
}
