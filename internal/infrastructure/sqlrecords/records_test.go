package sqlrecords

import (
	"testing"

	"txindex/internal/application"
	"txindex/internal/domain"

	"github.com/stretchr/testify/assert"
)

func TestBuildRecordQuery_NoFilter(t *testing.T) {
	query, args := BuildRecordQuery(application.RecordQueryFilter{})
	assert.NotContains(t, query, "WHERE")
	assert.Equal(t, []any{application.DefaultQueryLimit}, args)
}

func TestBuildRecordQuery_AllFilters(t *testing.T) {
	chain := uint64(1)
	from, to := uint64(10), uint64(20)
	addr := []byte{0xaa}
	query, args := BuildRecordQuery(application.RecordQueryFilter{
		ChainID:   &chain,
		Kind:      "ethTransfer",
		Decodable: true,
		Address:   addr,
		TxID:      []byte{0x01},
		FromBlock: &from,
		ToBlock:   &to,
		Limit:     5000,
	})

	assert.Contains(t, query, "kind IN (?, ?, ?)")
	assert.Contains(t, query, "(from_addr = ? OR to_addr = ?)")
	assert.Equal(t, []any{
		uint64(1), "ethTransfer",
		"contractCreation", "contractCallWithData", "contractCallNoData",
		addr, addr, []byte{0x01}, uint64(10), uint64(20), application.MaxQueryLimit,
	}, args)
}

func TestRecordArgs_EmptyBytesAreNull(t *testing.T) {
	args := RecordArgs(domain.StoredRecord{ChainID: 1, Record: domain.TxRecord{Kind: "contractCreation"}})
	assert.Len(t, args, 15)
	assert.Nil(t, args[3])
	assert.Nil(t, args[6])
	assert.Nil(t, args[13])
}

func TestBuildKindCountQuery(t *testing.T) {
	query, args := BuildKindCountQuery(nil)
	assert.NotContains(t, query, "WHERE")
	assert.Empty(t, args)

	chain := uint64(5)
	query, args = BuildKindCountQuery(&chain)
	assert.Contains(t, query, "WHERE chain_id = ?")
	assert.Equal(t, []any{uint64(5)}, args)
}
