package ethrpc

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	sender   = common.HexToAddress("0x1111111111111111111111111111111111111111")
	contract = common.HexToAddress("0x2222222222222222222222222222222222222222")
	token    = common.HexToAddress("0x3333333333333333333333333333333333333333")
)

func TestConvertTransaction_DynamicFee(t *testing.T) {
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   big.NewInt(1),
		Nonce:     7,
		GasTipCap: big.NewInt(2),
		GasFeeCap: big.NewInt(100),
		Gas:       90000,
		To:        &contract,
		Value:     big.NewInt(0),
		Data:      []byte{0xa9, 0x05, 0x9c, 0xbb},
		AccessList: types.AccessList{{
			Address:     token,
			StorageKeys: []common.Hash{common.HexToHash("0x01")},
		}},
	})

	trace := convertTransaction(tx, 3, sender, big.NewInt(10), true, nil)

	assert.Equal(t, uint32(3), trace.Index)
	assert.Equal(t, tx.Hash().Bytes(), trace.Hash)
	assert.Equal(t, sender.Bytes(), trace.From)
	assert.Equal(t, contract.Bytes(), []byte(trace.To))
	assert.Equal(t, uint64(90000), trace.GasLimit)
	assert.Empty(t, trace.Value.Bytes)
	assert.Equal(t, big.NewInt(12).Bytes(), trace.GasPrice.Bytes)
	assert.Equal(t, big.NewInt(100).Bytes(), trace.MaxFeePerGas.Bytes)
	assert.Equal(t, big.NewInt(2).Bytes(), trace.MaxPriorityFeePerGas.Bytes)
	assert.Equal(t, uint32(2), trace.Type)
	require.Len(t, trace.AccessList, 1)
	assert.Equal(t, token.Bytes(), trace.AccessList[0].Address)

	require.Len(t, trace.Calls, 1)
	assert.Equal(t, "CALL", trace.Calls[0].CallType)
	assert.Equal(t, contract.Bytes(), trace.Calls[0].Address)
}

func TestConvertTransaction_LegacyToAccount(t *testing.T) {
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    1,
		GasPrice: big.NewInt(5_000_000_000),
		Gas:      21000,
		To:       &contract,
		Value:    big.NewInt(1e18),
	})

	trace := convertTransaction(tx, 0, sender, big.NewInt(1), false, nil)

	assert.Equal(t, big.NewInt(5_000_000_000).Bytes(), trace.GasPrice.Bytes)
	assert.Equal(t, big.NewInt(1e18).Bytes(), trace.Value.Bytes)
	assert.Nil(t, trace.MaxFeePerGas)
	assert.Nil(t, trace.MaxPriorityFeePerGas)
	assert.Nil(t, trace.AccessList)
	assert.Empty(t, trace.Calls)
}

func TestConvertTransaction_Creation(t *testing.T) {
	tx := types.NewTx(&types.LegacyTx{Gas: 500000, GasPrice: big.NewInt(1), Data: []byte{0x60, 0x80}})

	trace := convertTransaction(tx, 0, sender, nil, true, nil)

	assert.True(t, trace.To.IsEmpty())
	require.Len(t, trace.Calls, 1)
	assert.Equal(t, "CREATE", trace.Calls[0].CallType)
	assert.Nil(t, trace.Calls[0].Address)
}

func TestFlattenCalls(t *testing.T) {
	raw := `{
		"type": "CALL",
		"from": "0x1111111111111111111111111111111111111111",
		"to": "0x2222222222222222222222222222222222222222",
		"value": "0x10",
		"gas": "0x15f90",
		"input": "0xa9059cbb",
		"calls": [
			{
				"type": "STATICCALL",
				"from": "0x2222222222222222222222222222222222222222",
				"to": "0x3333333333333333333333333333333333333333",
				"gas": "0x100",
				"input": "0x70a08231",
				"calls": [
					{"type": "CALL", "from": "0x3333333333333333333333333333333333333333", "to": "0x0000000000000000000000000000000000000004", "gas": "0x10", "input": "0x"}
				]
			},
			{"type": "DELEGATECALL", "from": "0x2222222222222222222222222222222222222222", "to": "0x3333333333333333333333333333333333333333", "gas": "0x200", "input": "0x"}
		]
	}`
	var frame callFrame
	require.NoError(t, json.Unmarshal([]byte(raw), &frame))

	calls := flattenCalls(&frame)
	require.Len(t, calls, 4)

	assert.Equal(t, uint32(0), calls[0].Index)
	assert.Equal(t, uint32(0), calls[0].Depth)
	assert.Equal(t, uint64(90000), calls[0].GasLimit)
	assert.Equal(t, []byte{0x10}, calls[0].Value.Bytes)
	assert.Equal(t, []byte{0xa9, 0x05, 0x9c, 0xbb}, calls[0].Input)

	assert.Equal(t, "STATICCALL", calls[1].CallType)
	assert.Equal(t, uint32(0), calls[1].ParentIndex)
	assert.Equal(t, uint32(1), calls[1].Depth)
	assert.Nil(t, calls[1].Value)

	assert.Equal(t, uint32(1), calls[2].ParentIndex)
	assert.Equal(t, uint32(2), calls[2].Depth)

	assert.Equal(t, "DELEGATECALL", calls[3].CallType)
	assert.Equal(t, uint32(3), calls[3].Index)
	assert.Equal(t, uint32(0), calls[3].ParentIndex)
	assert.Equal(t, token.Bytes(), calls[3].Address)
}

func TestEffectiveGasPrice_CapBelowBaseFee(t *testing.T) {
	tx := types.NewTx(&types.DynamicFeeTx{GasTipCap: big.NewInt(1), GasFeeCap: big.NewInt(5)})
	assert.Equal(t, big.NewInt(5), effectiveGasPrice(tx, big.NewInt(10)))
}
