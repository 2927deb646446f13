package domain

import (
	"fmt"
	"strings"
)

// TransactionKind is the semantic classification of a transaction.
type TransactionKind int

const (
	ContractCreation TransactionKind = iota
	EthTransfer
	EthTransferToContract
	ContractCallWithData
	ContractCallNoData
	PrecompileCall
)

var kindNames = [...]string{
	ContractCreation:      "contractCreation",
	EthTransfer:           "ethTransfer",
	EthTransferToContract: "ethTransferToContract",
	ContractCallWithData:  "contractCallWithData",
	ContractCallNoData:    "contractCallNoData",
	PrecompileCall:        "precompileCall",
}

// AllKinds lists every kind in declaration order.
func AllKinds() []TransactionKind {
	return []TransactionKind{
		ContractCreation,
		EthTransfer,
		EthTransferToContract,
		ContractCallWithData,
		ContractCallNoData,
		PrecompileCall,
	}
}

func (k TransactionKind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("TransactionKind(%d)", int(k))
	}
	return kindNames[k]
}

// Decodable reports whether the kind carries a payload worth ABI decoding.
func (k TransactionKind) Decodable() bool {
	return k == ContractCreation || strings.HasPrefix(k.String(), "contractCall")
}

func ParseTransactionKind(raw string) (TransactionKind, error) {
	for i, name := range kindNames {
		if name == raw {
			return TransactionKind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown transaction kind %q", raw)
}
