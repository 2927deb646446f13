package domain

import (
	"bytes"
	"errors"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Block is one decoded block as delivered by the block source.
type Block struct {
	Number            uint64
	Hash              []byte
	ParentHash        []byte
	Timestamp         uint64
	TransactionTraces []TransactionTrace
}

// TransactionTrace is a transaction together with the calls it executed.
// Byte fields may be empty depending on the transaction type.
type TransactionTrace struct {
	Index                uint32
	Hash                 []byte
	From                 []byte
	To                   TargetAddress
	Input                []byte
	Value                *BigInt
	GasLimit             uint64
	GasPrice             *BigInt
	MaxFeePerGas         *BigInt
	MaxPriorityFeePerGas *BigInt
	AccessList           []AccessTuple
	Type                 uint32
	Calls                []Call
}

// BigInt is a big-endian unsigned integer. A nil *BigInt means the field was absent.
type BigInt struct {
	Bytes []byte
}

// AccessTuple is one EIP-2930 access list entry.
type AccessTuple struct {
	Address     []byte
	StorageKeys [][]byte
}

// Call is a single frame of a transaction's execution.
type Call struct {
	Index       uint32
	ParentIndex uint32
	Depth       uint32
	CallType    string
	Caller      []byte
	Address     []byte
	Value       *BigInt
	Input       []byte
	GasLimit    uint64
}

var hexPrefix = []byte("0x")

var ErrInvalidUTF8Address = errors.New("address text is not valid utf-8")

// TargetAddress holds a transaction target either as raw address bytes or as
// "0x"-prefixed hex text. Decode resolves both forms to raw bytes.
type TargetAddress []byte

func (a TargetAddress) IsEmpty() bool {
	return len(a) == 0
}

// IsText reports whether the address is carried as hex text.
func (a TargetAddress) IsText() bool {
	return bytes.HasPrefix(a, hexPrefix)
}

// Decode returns the raw address bytes. Length is not validated.
func (a TargetAddress) Decode() ([]byte, error) {
	if !a.IsText() {
		return []byte(a), nil
	}
	if !utf8.Valid(a) {
		return nil, ErrInvalidUTF8Address
	}
	return hexutil.Decode(string(a))
}
