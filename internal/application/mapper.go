package application

import (
	"bytes"
	"errors"
	"strconv"

	"txindex/internal/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"
)

const (
	zeroQuantity    = "0x0"
	emptyAccessList = "0x"
	minimumGasLimit = 21000
	placeholderSize = 32
)

var ErrNilBlock = errors.New("block is required")

// Mapper turns a block's transaction traces into normalized records.
// Malformed fields are replaced by fixed fallbacks and reported to diag.
type Mapper struct {
	diag Diagnostics
}

func NewMapper(diag Diagnostics) *Mapper {
	if diag == nil {
		diag = NopDiagnostics{}
	}
	return &Mapper{diag: diag}
}

// MapTransactions returns one record per trace, in source order.
func (m *Mapper) MapTransactions(block *domain.Block) (domain.TxRecords, error) {
	if block == nil {
		return domain.TxRecords{}, ErrNilBlock
	}
	records := make([]domain.TxRecord, 0, len(block.TransactionTraces))
	for i := range block.TransactionTraces {
		records = append(records, m.mapTransaction(&block.TransactionTraces[i]))
	}
	return domain.TxRecords{Records: records}, nil
}

// MapBatch maps a block and attaches its chain context.
func (m *Mapper) MapBatch(chainID uint64, block *domain.Block) (domain.RecordBatch, error) {
	records, err := m.MapTransactions(block)
	if err != nil {
		return domain.RecordBatch{}, err
	}
	return domain.RecordBatch{
		ChainID:     chainID,
		BlockNumber: block.Number,
		BlockHash:   encodeHash(block.Hash),
		ParentHash:  encodeHash(block.ParentHash),
		Timestamp:   block.Timestamp,
		Records:     records,
	}, nil
}

func (m *Mapper) mapTransaction(trace *domain.TransactionTrace) domain.TxRecord {
	label := txLabel(trace)

	id := cloneBytes(trace.Hash)
	if len(id) == 0 {
		m.diag.Warn("transaction has empty hash, using placeholder id", "index", trace.Index)
		id = make([]byte, placeholderSize)
	}

	from := cloneBytes(trace.From)
	if len(from) == 0 {
		m.diag.Warn("transaction has empty from address", "tx", label, "index", trace.Index)
		from = make([]byte, addressLength)
	}

	gasLimit := trace.GasLimit
	if gasLimit == 0 {
		m.diag.Warn("transaction has zero gas limit", "tx", label, "fallback", minimumGasLimit)
		gasLimit = NormalizeGasLimit(gasLimit)
	}

	accessList, err := EncodeAccessList(trace.AccessList)
	if err != nil {
		m.diag.Warn("access list encoding failed", "tx", label, "err", err)
		accessList = emptyAccessList
	}

	kind := Classify(trace, m.diag)

	return domain.TxRecord{
		ID:   id,
		Kind: kind.String(),
		Raw: &domain.Raw{
			From:                 from,
			To:                   cloneBytes(trace.To),
			Value:                m.quantity(label, "value", trace.Value),
			GasLimit:             gasLimit,
			GasPrice:             m.quantity(label, "gas_price", trace.GasPrice),
			MaxFeePerGas:         m.quantity(label, "max_fee_per_gas", trace.MaxFeePerGas),
			MaxPriorityFeePerGas: m.quantity(label, "max_priority_fee_per_gas", trace.MaxPriorityFeePerGas),
			AccessList:           accessList,
			Data:                 cloneBytes(trace.Input),
			TxType:               trace.Type,
		},
	}
}

func (m *Mapper) quantity(label, field string, value *domain.BigInt) string {
	if value == nil {
		m.diag.Debug("transaction field missing", "tx", label, "field", field)
	}
	return NormalizeQuantity(value)
}

// NormalizeQuantity renders an optional big number as "0x" + hex of its bytes.
// Absent or empty values become "0x0". Leading zero bytes are kept.
func NormalizeQuantity(value *domain.BigInt) string {
	if value == nil || len(value.Bytes) == 0 {
		return zeroQuantity
	}
	return hexutil.Encode(value.Bytes)
}

// NormalizeGasLimit substitutes the intrinsic transaction cost for a zero limit.
func NormalizeGasLimit(gasLimit uint64) uint64 {
	if gasLimit == 0 {
		return minimumGasLimit
	}
	return gasLimit
}

func FormatGasLimit(gasLimit uint64) string {
	return strconv.FormatUint(NormalizeGasLimit(gasLimit), 10)
}

// EncodeAccessList returns "0x" + hex of the RLP list of access tuples,
// or "0x" for an empty list.
func EncodeAccessList(tuples []domain.AccessTuple) (string, error) {
	if len(tuples) == 0 {
		return emptyAccessList, nil
	}
	list := make(types.AccessList, 0, len(tuples))
	for _, tuple := range tuples {
		keys := make([]common.Hash, 0, len(tuple.StorageKeys))
		for _, key := range tuple.StorageKeys {
			keys = append(keys, common.BytesToHash(key))
		}
		list = append(list, types.AccessTuple{
			Address:     common.BytesToAddress(tuple.Address),
			StorageKeys: keys,
		})
	}
	encoded, err := rlp.EncodeToBytes(list)
	if err != nil {
		return "", err
	}
	return hexutil.Encode(encoded), nil
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return bytes.Clone(b)
}

func encodeHash(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return hexutil.Encode(b)
}
