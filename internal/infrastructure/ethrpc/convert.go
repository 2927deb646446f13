package ethrpc

import (
	"math/big"

	"txindex/internal/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

// callFrame is one node of a callTracer result.
type callFrame struct {
	Type  string          `json:"type"`
	From  common.Address  `json:"from"`
	To    *common.Address `json:"to,omitempty"`
	Value *hexutil.Big    `json:"value,omitempty"`
	Gas   hexutil.Uint64  `json:"gas"`
	Input hexutil.Bytes   `json:"input"`
	Error string          `json:"error,omitempty"`
	Calls []callFrame     `json:"calls,omitempty"`
}

type txTraceResult struct {
	TxHash common.Hash `json:"txHash"`
	Result *callFrame  `json:"result"`
	Error  string      `json:"error,omitempty"`
}

func convertTransaction(tx *types.Transaction, index uint32, from common.Address, baseFee *big.Int, isContract bool, frame *callFrame) domain.TransactionTrace {
	trace := domain.TransactionTrace{
		Index:      index,
		Hash:       tx.Hash().Bytes(),
		From:       from.Bytes(),
		Input:      tx.Data(),
		Value:      bigInt(tx.Value()),
		GasLimit:   tx.Gas(),
		GasPrice:   bigInt(effectiveGasPrice(tx, baseFee)),
		AccessList: convertAccessList(tx.AccessList()),
		Type:       uint32(tx.Type()),
	}
	if to := tx.To(); to != nil {
		trace.To = domain.TargetAddress(to.Bytes())
	}
	if tx.Type() >= types.DynamicFeeTxType {
		trace.MaxFeePerGas = bigInt(tx.GasFeeCap())
		trace.MaxPriorityFeePerGas = bigInt(tx.GasTipCap())
	}

	if !isContract {
		return trace
	}
	if frame != nil {
		trace.Calls = flattenCalls(frame)
		return trace
	}
	root := domain.Call{
		CallType: "CALL",
		Caller:   from.Bytes(),
		Value:    trace.Value,
		Input:    trace.Input,
		GasLimit: trace.GasLimit,
	}
	if tx.To() == nil {
		root.CallType = "CREATE"
	} else {
		root.Address = tx.To().Bytes()
	}
	trace.Calls = []domain.Call{root}
	return trace
}

// flattenCalls lists frames depth first. The root gets index 0 and is its own
// parent.
func flattenCalls(root *callFrame) []domain.Call {
	var calls []domain.Call
	var walk func(frame *callFrame, parent, depth uint32)
	walk = func(frame *callFrame, parent, depth uint32) {
		index := uint32(len(calls))
		call := domain.Call{
			Index:       index,
			ParentIndex: parent,
			Depth:       depth,
			CallType:    frame.Type,
			Caller:      frame.From.Bytes(),
			Input:       []byte(frame.Input),
			GasLimit:    uint64(frame.Gas),
		}
		if frame.To != nil {
			call.Address = frame.To.Bytes()
		}
		if frame.Value != nil {
			call.Value = bigInt(frame.Value.ToInt())
		}
		calls = append(calls, call)
		for i := range frame.Calls {
			walk(&frame.Calls[i], index, depth+1)
		}
	}
	walk(root, 0, 0)
	return calls
}

func effectiveGasPrice(tx *types.Transaction, baseFee *big.Int) *big.Int {
	if baseFee == nil || tx.Type() < types.DynamicFeeTxType {
		return tx.GasPrice()
	}
	tip, err := tx.EffectiveGasTip(baseFee)
	if err != nil {
		return tx.GasFeeCap()
	}
	return tip.Add(tip, baseFee)
}

func convertAccessList(list types.AccessList) []domain.AccessTuple {
	if len(list) == 0 {
		return nil
	}
	out := make([]domain.AccessTuple, 0, len(list))
	for _, tuple := range list {
		keys := make([][]byte, 0, len(tuple.StorageKeys))
		for _, key := range tuple.StorageKeys {
			keys = append(keys, key.Bytes())
		}
		out = append(out, domain.AccessTuple{Address: tuple.Address.Bytes(), StorageKeys: keys})
	}
	return out
}

func bigInt(v *big.Int) *domain.BigInt {
	if v == nil {
		return nil
	}
	return &domain.BigInt{Bytes: v.Bytes()}
}
