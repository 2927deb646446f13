package domain

// BlockRecord stores the canonical hash for a mapped block number.
type BlockRecord struct {
	ChainID     uint64 `json:"chain_id"`
	BlockNumber uint64 `json:"block_number"`
	BlockHash   string `json:"block_hash"`
	ParentHash  string `json:"parent_hash"`
	Timestamp   uint64 `json:"timestamp"`
	TxCount     uint64 `json:"tx_count"`
}
