package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransactionKind_ParseString(t *testing.T) {
	names := map[TransactionKind]string{
		ContractCreation:      "contractCreation",
		EthTransfer:           "ethTransfer",
		EthTransferToContract: "ethTransferToContract",
		ContractCallWithData:  "contractCallWithData",
		ContractCallNoData:    "contractCallNoData",
		PrecompileCall:        "precompileCall",
	}
	require.Len(t, AllKinds(), len(names))
	for _, kind := range AllKinds() {
		assert.Equal(t, names[kind], kind.String())
		parsed, err := ParseTransactionKind(kind.String())
		require.NoError(t, err)
		assert.Equal(t, kind, parsed)
	}

	_, err := ParseTransactionKind("ContractCreation")
	assert.Error(t, err)
	_, err = ParseTransactionKind("")
	assert.Error(t, err)
}

func TestTransactionKind_Decodable(t *testing.T) {
	decodable := map[TransactionKind]bool{
		ContractCreation:      true,
		ContractCallWithData:  true,
		ContractCallNoData:    true,
		EthTransfer:           false,
		EthTransferToContract: false,
		PrecompileCall:        false,
	}
	for kind, want := range decodable {
		assert.Equal(t, want, kind.Decodable(), kind.String())
	}
	assert.False(t, TransactionKind(42).Decodable())
}

func TestTransactionKind_OutOfRange(t *testing.T) {
	assert.Equal(t, "TransactionKind(42)", TransactionKind(42).String())
	assert.Equal(t, "TransactionKind(-1)", TransactionKind(-1).String())
}
