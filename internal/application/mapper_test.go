package application

import (
	"bytes"
	"strconv"
	"testing"

	"txindex/internal/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hash(b byte) []byte {
	return bytes.Repeat([]byte{b}, 32)
}

func TestMapTransactions_NilBlock(t *testing.T) {
	_, err := NewMapper(nil).MapTransactions(nil)
	require.ErrorIs(t, err, ErrNilBlock)
}

func TestMapTransactions_EmptyBlock(t *testing.T) {
	out, err := NewMapper(nil).MapTransactions(&domain.Block{Number: 1})
	require.NoError(t, err)
	assert.Empty(t, out.Records)
}

func TestMapTransactions_PreservesCountAndOrder(t *testing.T) {
	block := &domain.Block{Number: 10}
	for i := 0; i < 5; i++ {
		block.TransactionTraces = append(block.TransactionTraces, domain.TransactionTrace{
			Index:    uint32(i),
			Hash:     hash(byte(i + 1)),
			From:     eoaAddress(),
			To:       eoaAddress(),
			GasLimit: 50000,
		})
	}
	// an empty hash is retained with a placeholder id
	block.TransactionTraces[2].Hash = nil

	out, err := NewMapper(nil).MapTransactions(block)
	require.NoError(t, err)
	require.Len(t, out.Records, 5)
	for i, rec := range out.Records {
		if i == 2 {
			assert.Equal(t, make([]byte, 32), rec.ID)
			continue
		}
		assert.Equal(t, hash(byte(i+1)), rec.ID, "record %d", i)
	}
}

func TestMapTransactions_EmptyHashAndFrom(t *testing.T) {
	diag := &recordingDiagnostics{}
	block := &domain.Block{TransactionTraces: []domain.TransactionTrace{{
		To:       eoaAddress(),
		GasLimit: 21000,
		Value:    &domain.BigInt{Bytes: []byte{1}},
		GasPrice: &domain.BigInt{Bytes: []byte{1}},

		MaxFeePerGas:         &domain.BigInt{},
		MaxPriorityFeePerGas: &domain.BigInt{},
	}}}

	out, err := NewMapper(diag).MapTransactions(block)
	require.NoError(t, err)
	require.Len(t, out.Records, 1)

	rec := out.Records[0]
	assert.Equal(t, make([]byte, 32), rec.ID)
	assert.Equal(t, make([]byte, 20), rec.Raw.From)
	assert.Equal(t, 2, diag.count("warn"))
}

func TestMapTransactions_Fallbacks(t *testing.T) {
	diag := &recordingDiagnostics{}
	block := &domain.Block{TransactionTraces: []domain.TransactionTrace{{
		Hash:     hash(0xab),
		From:     eoaAddress(),
		GasLimit: 0,
		Value:    &domain.BigInt{},
	}}}

	out, err := NewMapper(diag).MapTransactions(block)
	require.NoError(t, err)
	raw := out.Records[0].Raw

	assert.Equal(t, "contractCreation", out.Records[0].Kind)
	assert.Nil(t, raw.To)
	assert.Equal(t, "0x0", raw.Value)
	assert.Equal(t, "0x0", raw.GasPrice)
	assert.Equal(t, "0x0", raw.MaxFeePerGas)
	assert.Equal(t, "0x0", raw.MaxPriorityFeePerGas)
	assert.Equal(t, uint64(21000), raw.GasLimit)
	assert.Equal(t, "0x", raw.AccessList)
	assert.Nil(t, raw.Data)
	assert.Nil(t, out.Records[0].Decoded)

	assert.Equal(t, 1, diag.count("warn"))
	// gas price and both fee caps are absent, value is present but empty
	assert.Equal(t, 3, diag.count("debug"))
}

func TestMapTransactions_PassThrough(t *testing.T) {
	input := []byte{0xa9, 0x05, 0x9c, 0xbb}
	block := &domain.Block{TransactionTraces: []domain.TransactionTrace{{
		Hash:                 hash(0x11),
		From:                 eoaAddress(),
		To:                   precompileAddress(0x42),
		Input:                input,
		Value:                &domain.BigInt{Bytes: []byte{0x00, 0x0d, 0xe0}},
		GasLimit:             123456,
		GasPrice:             &domain.BigInt{Bytes: []byte{0x3b, 0x9a, 0xca, 0x00}},
		MaxFeePerGas:         &domain.BigInt{Bytes: []byte{0x77}},
		MaxPriorityFeePerGas: &domain.BigInt{Bytes: []byte{0x01}},
		Type:                 2,
		Calls:                []domain.Call{{Index: 1}},
	}}}

	out, err := NewMapper(nil).MapTransactions(block)
	require.NoError(t, err)
	rec := out.Records[0]

	assert.Equal(t, "contractCallWithData", rec.Kind)
	assert.Equal(t, hash(0x11), rec.ID)
	assert.Equal(t, eoaAddress(), rec.Raw.From)
	assert.Equal(t, precompileAddress(0x42), rec.Raw.To)
	assert.Equal(t, "0x000de0", rec.Raw.Value)
	assert.Equal(t, uint64(123456), rec.Raw.GasLimit)
	assert.Equal(t, "0x3b9aca00", rec.Raw.GasPrice)
	assert.Equal(t, "0x77", rec.Raw.MaxFeePerGas)
	assert.Equal(t, "0x01", rec.Raw.MaxPriorityFeePerGas)
	assert.Equal(t, input, rec.Raw.Data)
	assert.Equal(t, uint32(2), rec.Raw.TxType)
}

func TestMapTransactions_DoesNotAliasInput(t *testing.T) {
	trace := domain.TransactionTrace{Hash: hash(0x01), From: eoaAddress(), To: eoaAddress(), Input: []byte{0x01}}
	block := &domain.Block{TransactionTraces: []domain.TransactionTrace{trace}}

	out, err := NewMapper(nil).MapTransactions(block)
	require.NoError(t, err)
	block.TransactionTraces[0].Input[0] = 0xff
	block.TransactionTraces[0].Hash[0] = 0xff

	assert.Equal(t, []byte{0x01}, out.Records[0].Raw.Data)
	assert.Equal(t, hash(0x01), out.Records[0].ID)
}

func TestMapBatch(t *testing.T) {
	block := &domain.Block{
		Number:     77,
		Hash:       hash(0x07),
		ParentHash: hash(0x06),
		Timestamp:  1700000000,
		TransactionTraces: []domain.TransactionTrace{
			{Hash: hash(1), From: eoaAddress(), To: eoaAddress(), GasLimit: 21000},
		},
	}

	batch, err := NewMapper(nil).MapBatch(5, block)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), batch.ChainID)
	assert.Equal(t, uint64(77), batch.BlockNumber)
	assert.Equal(t, hexutil.Encode(hash(0x07)), batch.BlockHash)
	assert.Equal(t, hexutil.Encode(hash(0x06)), batch.ParentHash)
	assert.Len(t, batch.Records.Records, 1)
	assert.Equal(t, uint64(1), batch.BlockRecord().TxCount)

	_, err = NewMapper(nil).MapBatch(5, nil)
	assert.ErrorIs(t, err, ErrNilBlock)
}

func TestNormalizeQuantity(t *testing.T) {
	assert.Equal(t, "0x0", NormalizeQuantity(nil))
	assert.Equal(t, "0x0", NormalizeQuantity(&domain.BigInt{}))
	assert.Equal(t, "0x0", NormalizeQuantity(&domain.BigInt{Bytes: []byte{}}))
	assert.Equal(t, "0x00", NormalizeQuantity(&domain.BigInt{Bytes: []byte{0}}))
	assert.Equal(t, "0x0abc", NormalizeQuantity(&domain.BigInt{Bytes: []byte{0x0a, 0xbc}}))
}

func TestFormatGasLimit(t *testing.T) {
	assert.Equal(t, "21000", FormatGasLimit(0))
	for _, n := range []uint64{1, 20999, 21000, 30_000_000, ^uint64(0)} {
		assert.Equal(t, strconv.FormatUint(n, 10), FormatGasLimit(n))
	}
}

func TestEncodeAccessList(t *testing.T) {
	got, err := EncodeAccessList(nil)
	require.NoError(t, err)
	assert.Equal(t, "0x", got)

	addr := eoaAddress()
	key := hash(0x05)
	got, err = EncodeAccessList([]domain.AccessTuple{{Address: addr, StorageKeys: [][]byte{key}}})
	require.NoError(t, err)

	raw, err := hexutil.Decode(got)
	require.NoError(t, err)
	var decoded types.AccessList
	require.NoError(t, rlp.DecodeBytes(raw, &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, common.BytesToAddress(addr), decoded[0].Address)
	assert.Equal(t, []common.Hash{common.BytesToHash(key)}, decoded[0].StorageKeys)
}
