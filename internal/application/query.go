package application

import "txindex/internal/domain"

// RecordQueryFilter selects stored records. Address matches either side of
// the transaction.
type RecordQueryFilter struct {
	ChainID   *uint64
	Kind      string
	Address   []byte
	TxID      []byte
	Decodable bool
	FromBlock *uint64
	ToBlock   *uint64
	Limit     int
}

type BlockQueryFilter struct {
	ChainID   uint64
	FromBlock *uint64
	ToBlock   *uint64
	Limit     int
}

// KindCount is the number of stored records of one kind.
type KindCount struct {
	Kind  string
	Count uint64
}

const (
	DefaultQueryLimit = 100
	MaxQueryLimit     = 1000
)

func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultQueryLimit
	case limit > MaxQueryLimit:
		return MaxQueryLimit
	default:
		return limit
	}
}

// DecodableKinds lists the kind names a Decodable filter matches.
func DecodableKinds() []string {
	var kinds []string
	for _, kind := range domain.AllKinds() {
		if kind.Decodable() {
			kinds = append(kinds, kind.String())
		}
	}
	return kinds
}
